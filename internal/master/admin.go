package master

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
)

// AdminHandler serves the JSON introspection and control API consumed by
// planetctl: GET /status, GET /sessions, and POST /sessions/kick.
type AdminHandler struct {
	manager *Manager
}

// NewAdminHandler wraps manager behind an http.Handler.
func NewAdminHandler(manager *Manager) *AdminHandler {
	return &AdminHandler{manager: manager}
}

// Mux builds the admin HTTP route table.
func (h *AdminHandler) Mux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /status", h.handleStatus)
	mux.HandleFunc("GET /sessions", h.handleListSessions)
	mux.HandleFunc("POST /sessions/kick", h.handleKickSession)
	return mux
}

// statusResponse is the GET /status payload.
type statusResponse struct {
	ConnectedClients   int            `json:"connected_clients"`
	RegisteredSessions int            `json:"registered_sessions"`
	Workers            []workerStatus `json:"workers"`
}

type workerStatus struct {
	ID   int `json:"id"`
	Load int `json:"load"`
}

func (h *AdminHandler) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := statusResponse{
		ConnectedClients:   h.manager.registry.ClientCount(),
		RegisteredSessions: h.manager.registry.SessionCount(),
	}
	for _, wk := range h.manager.workers {
		resp.Workers = append(resp.Workers, workerStatus{ID: wk.id, Load: wk.Load()})
	}
	writeJSON(w, http.StatusOK, resp)
}

// sessionView is one entry in the GET /sessions response.
type sessionView struct {
	IP           string `json:"ip"`
	Port         uint16 `json:"port"`
	Hostname     string `json:"hostname"`
	Mapname      string `json:"mapname"`
	GameType     byte   `json:"game_type"`
	CurrentUsers byte   `json:"current_users"`
	MaxUsers     byte   `json:"max_users"`
}

func (h *AdminHandler) handleListSessions(w http.ResponseWriter, r *http.Request) {
	sessions := h.manager.registry.SnapshotSessions()
	views := make([]sessionView, len(sessions))
	for i, s := range sessions {
		views[i] = sessionView{
			IP:           s.Owner.PeerIP(),
			Port:         s.Port,
			Hostname:     s.Hostname,
			Mapname:      s.Mapname,
			GameType:     s.GameType,
			CurrentUsers: s.CurrentUsers,
			MaxUsers:     s.MaxUsers,
		}
	}
	writeJSON(w, http.StatusOK, views)
}

// kickRequest is the POST /sessions/kick payload: {"target": "ip:port"}.
type kickRequest struct {
	Target string `json:"target"`
}

func (h *AdminHandler) handleKickSession(w http.ResponseWriter, r *http.Request) {
	var req kickRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "malformed request body", http.StatusBadRequest)
		return
	}

	idx := strings.LastIndex(req.Target, ":")
	if idx < 0 {
		http.Error(w, "target must be ip:port", http.StatusBadRequest)
		return
	}
	ip := req.Target[:idx]
	port, err := strconv.ParseUint(req.Target[idx+1:], 10, 16)
	if err != nil {
		http.Error(w, "target port must be a valid uint16", http.StatusBadRequest)
		return
	}

	session, ok := h.manager.registry.FindSession(ip, uint16(port))
	if !ok {
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}

	session.Owner.ownerWorker.Disconnect(session.Owner)
	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
