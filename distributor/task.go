package distributor

import (
	"time"

	"github.com/google/uuid"
)

// Task is one unit of provisioning work: a target endpoint, the credential
// pair to use against it, and an optional device-type hint for the worker.
// Tasks are produced by external ingest services and consumed by the
// dispatch path.
type Task struct {
	ID         string    `json:"id"`
	TargetIP   string    `json:"target_ip"`
	TargetPort int       `json:"target_port"`
	Username   string    `json:"username"`
	Password   string    `json:"password"`
	DeviceType string    `json:"device_type,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// NewTask builds a task with a fresh ID and creation timestamp.
func NewTask(targetIP string, targetPort int, username, password, deviceType string) Task {
	return Task{
		ID:         uuid.NewString(),
		TargetIP:   targetIP,
		TargetPort: targetPort,
		Username:   username,
		Password:   password,
		DeviceType: deviceType,
		CreatedAt:  time.Now(),
	}
}

// loadPayload is the exact JSON body accepted by a worker's /load endpoint.
type loadPayload struct {
	TargetIP   string `json:"target_ip"`
	TargetPort int    `json:"target_port"`
	Username   string `json:"username"`
	Password   string `json:"password"`
	DeviceType string `json:"device_type"`
}

func (t Task) payload() loadPayload {
	return loadPayload{
		TargetIP:   t.TargetIP,
		TargetPort: t.TargetPort,
		Username:   t.Username,
		Password:   t.Password,
		DeviceType: t.DeviceType,
	}
}
