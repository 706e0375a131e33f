package registry

import (
	"bytes"
	"context"
	"log"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestStore_Cleanup(t *testing.T) {
	s := NewStore()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	start := time.Now()
	s.now = func() time.Time { return start.Add(-20 * time.Minute) }
	s.RegisterOrUpdate(Node{NodeID: "node-1", Addr: "http://a:1"})

	s.now = func() time.Time { return start }
	s.RegisterOrUpdate(Node{NodeID: "node-2", Addr: "http://b:1"})

	s.StartCleanupLoop(ctx, 10*time.Millisecond, 10*time.Minute)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if _, ok := s.GetNode("node-1"); !ok {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	if _, ok := s.GetNode("node-1"); ok {
		t.Error("node-1 should have been pruned")
	}
	if _, ok := s.GetNode("node-2"); !ok {
		t.Error("node-2 should still exist")
	}
}

func TestStore_KeepsRegisteredAt(t *testing.T) {
	s := NewStore()
	first := time.Unix(1000, 0)
	s.now = func() time.Time { return first }
	s.RegisterOrUpdate(Node{NodeID: "n", Addr: "http://a:1"})

	s.now = func() time.Time { return first.Add(time.Minute) }
	s.RegisterOrUpdate(Node{NodeID: "n", Addr: "http://a:2"})

	n, ok := s.GetNode("n")
	if !ok {
		t.Fatal("node missing")
	}
	if n.RegisteredAt != 1000 || n.LastSeenAt != 1060 {
		t.Errorf("got registered=%d lastSeen=%d", n.RegisteredAt, n.LastSeenAt)
	}
	if n.Addr != "http://a:2" {
		t.Errorf("addr not refreshed: %s", n.Addr)
	}
}

func TestServer_HandleHandshake(t *testing.T) {
	store := NewStore()
	server := NewServer(store, 5*time.Second)

	tests := []struct {
		name   string
		body   string
		status int
	}{
		{"ok", `{"node_id":"n-123", "addr":"http://10.0.0.7:8088/", "version":"0.1"}`, http.StatusOK},
		{"no id", `{"addr":"http://10.0.0.7:8088"}`, http.StatusBadRequest},
		{"bad addr", `{"node_id":"n-9", "addr":"10.0.0.7:8088"}`, http.StatusBadRequest},
		{"bad json", `{`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("POST", "/api/registry/handshake", strings.NewReader(tt.body))
			w := httptest.NewRecorder()
			server.HandleHandshake(w, req)
			if w.Code != tt.status {
				t.Errorf("Expected status %d, got %d", tt.status, w.Code)
			}
		})
	}

	n, ok := store.GetNode("n-123")
	if !ok {
		t.Fatal("Node should be registered")
	}
	if n.Addr != "http://10.0.0.7:8088" {
		t.Errorf("addr should be trimmed, got %s", n.Addr)
	}
}

func TestClientAnnounceAndDiscover(t *testing.T) {
	store := NewStore()
	srv := NewServer(store, 3*time.Second)
	mux := http.NewServeMux()
	mux.HandleFunc("/api/registry/handshake", srv.HandleHandshake)
	mux.HandleFunc("/api/registry/nodes", srv.HandleListNodes)
	ts := httptest.NewServer(mux)
	defer ts.Close()

	c := NewClient(ts.URL+"/", "")
	ctx := context.Background()

	for _, n := range []Node{
		{NodeID: "b", Addr: "http://b:8088"},
		{NodeID: "a", Addr: "http://a:8088"},
	} {
		resp, err := c.Announce(ctx, n)
		if err != nil {
			t.Fatalf("announce %s: %v", n.NodeID, err)
		}
		if resp.HeartbeatSeconds != 3 {
			t.Errorf("heartbeat = %d, want 3", resp.HeartbeatSeconds)
		}
	}

	addrs, err := c.Nodes(ctx)
	if err != nil {
		t.Fatalf("nodes: %v", err)
	}
	if len(addrs) != 2 || addrs[0] != "http://a:8088" || addrs[1] != "http://b:8088" {
		t.Errorf("unexpected nodes %v", addrs)
	}
}

func TestHeartbeatStopsOnCancel(t *testing.T) {
	store := NewStore()
	srv := NewServer(store, time.Second)
	ts := httptest.NewServer(http.HandlerFunc(srv.HandleHandshake))
	defer ts.Close()

	c := NewClient(ts.URL, "")
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		c.Heartbeat(ctx, Node{NodeID: "hb", Addr: "http://hb:1"})
		close(done)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if _, ok := store.GetNode("hb"); ok {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if _, ok := store.GetNode("hb"); !ok {
		t.Fatal("heartbeat never registered the node")
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("heartbeat did not stop after cancel")
	}
}

func TestEnsureNodeID(t *testing.T) {
	dir := t.TempDir()
	id := EnsureNodeID(dir)
	if id == "" {
		t.Fatal("empty id")
	}
	if again := EnsureNodeID(dir); again != id {
		t.Errorf("id not persisted: %s != %s", again, id)
	}
	if _, err := os.Stat(filepath.Join(dir, nodeIDFile)); err != nil {
		t.Errorf("id file missing: %v", err)
	}
	if EnsureNodeID("") == EnsureNodeID("") {
		t.Error("ephemeral ids should differ")
	}
}

func TestEnsureNodeIDLogsWriteFailure(t *testing.T) {
	dir := t.TempDir()
	// A directory in place of the ID file makes both read and write fail.
	if err := os.Mkdir(filepath.Join(dir, nodeIDFile), 0755); err != nil {
		t.Fatal(err)
	}

	var buf bytes.Buffer
	log.SetOutput(&buf)
	defer log.SetOutput(os.Stderr)

	id := EnsureNodeID(dir)
	if id == "" {
		t.Fatal("empty id")
	}
	if !strings.Contains(buf.String(), "Failed to persist node ID "+id) {
		t.Errorf("log = %q", buf.String())
	}
}
