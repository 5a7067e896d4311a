package testutil

import (
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
)

// WorkerHealth is the health report a stub worker serves.
type WorkerHealth struct {
	ActiveConnections int64 `json:"active_connections"`
	TotalLoads        int64 `json:"total_loads"`
	SuccessfulLoads   int64 `json:"successful_loads"`
	FailedLoads       int64 `json:"failed_loads"`
}

// WorkerStub is an in-process worker node. It serves GET /health and
// POST /load over a real listener so distributor code exercises its full
// HTTP path. Responses are scripted through the setters; received load
// payloads are recorded for inspection.
type WorkerStub struct {
	srv *httptest.Server

	mu           sync.Mutex
	health       WorkerHealth
	healthStatus int
	loadStatus   int
	loads        []json.RawMessage
}

// NewWorkerStub starts a stub reporting the given health, answering 200 on
// both endpoints. Call Close when done.
func NewWorkerStub(health WorkerHealth) *WorkerStub {
	w := &WorkerStub{
		health:       health,
		healthStatus: http.StatusOK,
		loadStatus:   http.StatusOK,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", w.handleHealth)
	mux.HandleFunc("POST /load", w.handleLoad)
	w.srv = httptest.NewServer(mux)
	return w
}

// Close shuts the stub down.
func (w *WorkerStub) Close() {
	w.srv.Close()
}

// Addr returns the stub's host:port.
func (w *WorkerStub) Addr() string {
	return w.srv.Listener.Addr().String()
}

// Host returns the stub's listen host.
func (w *WorkerStub) Host() string {
	host, _, _ := net.SplitHostPort(w.Addr())
	return host
}

// Port returns the stub's listen port.
func (w *WorkerStub) Port() int {
	_, portStr, _ := net.SplitHostPort(w.Addr())
	port, _ := strconv.Atoi(portStr)
	return port
}

// SetHealth replaces the served health report.
func (w *WorkerStub) SetHealth(health WorkerHealth) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.health = health
}

// SetHealthStatus scripts the /health response code.
func (w *WorkerStub) SetHealthStatus(code int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.healthStatus = code
}

// SetLoadStatus scripts the /load response code.
func (w *WorkerStub) SetLoadStatus(code int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.loadStatus = code
}

// Loads returns the raw payloads received on /load, in arrival order.
func (w *WorkerStub) Loads() []json.RawMessage {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]json.RawMessage, len(w.loads))
	copy(out, w.loads)
	return out
}

// LoadCount returns the number of /load requests received.
func (w *WorkerStub) LoadCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.loads)
}

func (w *WorkerStub) handleHealth(rw http.ResponseWriter, _ *http.Request) {
	w.mu.Lock()
	status, health := w.healthStatus, w.health
	w.mu.Unlock()

	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(status)
	if status == http.StatusOK {
		_ = json.NewEncoder(rw).Encode(health)
	}
}

func (w *WorkerStub) handleLoad(rw http.ResponseWriter, r *http.Request) {
	var body json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		rw.WriteHeader(http.StatusBadRequest)
		return
	}

	w.mu.Lock()
	w.loads = append(w.loads, body)
	status := w.loadStatus
	w.mu.Unlock()

	rw.WriteHeader(status)
}
