package registry

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Node is an analysis node that announced itself to the coordinator.
type Node struct {
	NodeID       string `json:"node_id"`
	Addr         string `json:"addr"` // base URL, e.g. http://10.0.0.7:8088
	Hostname     string `json:"hostname"`
	Version      string `json:"version"`
	Workers      int    `json:"workers"`
	RegisteredAt int64  `json:"registered_at"`
	LastSeenAt   int64  `json:"last_seen_at"`
}

// HandshakeResponse tells a node how often to heartbeat.
type HandshakeResponse struct {
	Status           string `json:"status"`
	HeartbeatSeconds int    `json:"heartbeat_seconds"`
}

// Store keeps the nodes currently known to the coordinator.
type Store struct {
	mu    sync.RWMutex
	nodes map[string]*Node
	now   func() time.Time
}

// NewStore creates a new registry store.
func NewStore() *Store {
	return &Store{
		nodes: make(map[string]*Node),
		now:   time.Now,
	}
}

// RegisterOrUpdate adds a new node or refreshes an existing one.
func (s *Store) RegisterOrUpdate(node Node) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().Unix()
	if existing, ok := s.nodes[node.NodeID]; ok {
		node.RegisteredAt = existing.RegisteredAt
	} else if node.RegisteredAt == 0 {
		node.RegisteredAt = now
	}

	node.LastSeenAt = now
	s.nodes[node.NodeID] = &node
}

// GetNode retrieves a copy of a node by ID.
func (s *Store) GetNode(nodeID string) (Node, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n, ok := s.nodes[nodeID]
	if !ok {
		return Node{}, false
	}
	return *n, true
}

// ListNodes returns all registered nodes ordered by ID, so that shard
// placement is stable between calls.
func (s *Store) ListNodes() []Node {
	s.mu.RLock()
	list := make([]Node, 0, len(s.nodes))
	for _, n := range s.nodes {
		list = append(list, *n)
	}
	s.mu.RUnlock()

	sort.Slice(list, func(i, j int) bool { return list[i].NodeID < list[j].NodeID })
	return list
}

// PruneStaleNodes removes nodes that haven't been seen for timeout.
func (s *Store) PruneStaleNodes(timeout time.Duration) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := s.now().Add(-timeout).Unix()
	count := 0
	for id, n := range s.nodes {
		if n.LastSeenAt < cutoff {
			delete(s.nodes, id)
			count++
		}
	}
	return count
}

// StartCleanupLoop prunes stale nodes every interval until ctx is done.
func (s *Store) StartCleanupLoop(ctx context.Context, interval, timeout time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.PruneStaleNodes(timeout)
			case <-ctx.Done():
				return
			}
		}
	}()
}
