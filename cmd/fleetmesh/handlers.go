package main

import (
	"encoding/json"
	"net/http"

	"github.com/fleetmesh/fleetmesh/distributor"
	"github.com/fleetmesh/fleetmesh/gossip"
	"github.com/fleetmesh/fleetmesh/types"
)

// registerHandlers wires the admin API onto mux. Endpoints for disabled
// subsystems answer 404.
func registerHandlers(mux *http.ServeMux, s *Server) {
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /stats", s.handleStats)

	if s.coord != nil {
		mux.HandleFunc("GET /members", s.handleMembers)
	}

	if s.dist != nil {
		mux.HandleFunc("GET /nodes", s.handleListNodes)
		mux.HandleFunc("POST /nodes", s.handleAddNode)
		mux.HandleFunc("DELETE /nodes/{name}", s.handleRemoveNode)
		mux.HandleFunc("POST /tasks", s.handleSubmitTask)
	}
}

// statsResponse aggregates subsystem statistics. Disabled subsystems are
// omitted from the JSON.
type statsResponse struct {
	Gossip      *gossip.Stats      `json:"gossip,omitempty"`
	Distributor *distributor.Stats `json:"distributor,omitempty"`
}

// taskRequest is the admin API body for submitting one task.
type taskRequest struct {
	TargetIP   string `json:"target_ip"`
	TargetPort int    `json:"target_port"`
	Username   string `json:"username"`
	Password   string `json:"password"`
	DeviceType string `json:"device_type,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"version": Version,
	})
}

func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	var resp statsResponse
	if s.coord != nil {
		stats := s.coord.Stats()
		resp.Gossip = &stats
	}
	if s.dist != nil {
		stats := s.dist.Stats()
		resp.Distributor = &stats
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleMembers(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.coord.Registry().Snapshot())
}

func (s *Server) handleListNodes(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.dist.Nodes())
}

func (s *Server) handleAddNode(w http.ResponseWriter, r *http.Request) {
	var cfg distributor.NodeConfig
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := s.dist.AddNode(cfg); err != nil {
		writeError(w, statusForError(err), err.Error())
		return
	}
	node, _ := s.dist.Node(cfg.Name)
	writeJSON(w, http.StatusCreated, node)
}

func (s *Server) handleRemoveNode(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if err := s.dist.RemoveNode(name); err != nil {
		writeError(w, statusForError(err), err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSubmitTask(w http.ResponseWriter, r *http.Request) {
	var req taskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.TargetIP == "" || req.TargetPort <= 0 || req.TargetPort > 65535 {
		writeError(w, http.StatusBadRequest, "target_ip and target_port are required")
		return
	}

	task := distributor.NewTask(req.TargetIP, req.TargetPort, req.Username, req.Password, req.DeviceType)
	node, err := s.dist.Distribute(r.Context(), task)
	if err != nil {
		// Queued tasks are accepted: the drain loop retries them.
		if types.IsRetryable(err) {
			writeJSON(w, http.StatusAccepted, map[string]string{
				"task_id": task.ID,
				"status":  "queued",
			})
			return
		}
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"task_id": task.ID,
		"status":  "dispatched",
		"node":    node,
	})
}

func statusForError(err error) int {
	switch types.CodeOf(err) {
	case types.ErrNodeExists:
		return http.StatusConflict
	case types.ErrNodeNotFound:
		return http.StatusNotFound
	case types.ErrInvalidConfig:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
