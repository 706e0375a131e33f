package registry

import (
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Server handles registry-related HTTP requests.
type Server struct {
	store     *Store
	heartbeat time.Duration
}

// NewServer creates a new registry server. Nodes are asked to heartbeat
// every interval.
func NewServer(store *Store, heartbeat time.Duration) *Server {
	if heartbeat <= 0 {
		heartbeat = DefaultHeartbeat
	}
	return &Server{
		store:     store,
		heartbeat: heartbeat,
	}
}

// HandleHandshake handles node registration and heartbeat requests.
// POST /api/registry/handshake
func (s *Server) HandleHandshake(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var node Node
	if err := json.NewDecoder(r.Body).Decode(&node); err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}

	if node.NodeID == "" {
		http.Error(w, "node_id is required", http.StatusBadRequest)
		return
	}
	u, err := url.Parse(node.Addr)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		http.Error(w, "addr must be an http(s) URL", http.StatusBadRequest)
		return
	}
	node.Addr = strings.TrimRight(node.Addr, "/")

	s.store.RegisterOrUpdate(node)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(HandshakeResponse{
		Status:           "ok",
		HeartbeatSeconds: int(s.heartbeat / time.Second),
	})
}

// HandleListNodes returns the registered nodes.
// GET /api/registry/nodes
func (s *Server) HandleListNodes(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(s.store.ListNodes())
}
