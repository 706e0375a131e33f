package registry

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

// DefaultHeartbeat is the announce interval when the coordinator sends none.
const DefaultHeartbeat = 10 * time.Second

const nodeIDFile = ".tailstat.id"

// EnsureNodeID returns the node ID stored in dataDir, creating it on first
// use. Without a usable dataDir the ID is ephemeral.
func EnsureNodeID(dataDir string) string {
	if dataDir == "" {
		return uuid.NewString()
	}
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		id := uuid.NewString()
		log.Printf("Failed to create %s, node ID %s is ephemeral: %v", dataDir, id, err)
		return id
	}

	idFile := filepath.Join(dataDir, nodeIDFile)
	if data, err := os.ReadFile(idFile); err == nil {
		if id := strings.TrimSpace(string(data)); id != "" {
			return id
		}
	}

	id := uuid.NewString()
	if err := os.WriteFile(idFile, []byte(id), 0644); err != nil {
		log.Printf("Failed to persist node ID %s: %v", id, err)
	}
	return id
}

// Client talks to a coordinator's registry endpoints.
type Client struct {
	URL    string
	Token  string
	Client *http.Client
}

// NewClient returns a client for the coordinator at baseURL.
func NewClient(baseURL, token string) *Client {
	return &Client{
		URL:    strings.TrimRight(baseURL, "/"),
		Token:  token,
		Client: &http.Client{Timeout: 10 * time.Second},
	}
}

func (c *Client) do(req *http.Request) (*http.Response, error) {
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}
	resp, err := c.Client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		resp.Body.Close()
		return nil, fmt.Errorf("registry %s: %d %s", req.URL.Path, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return resp, nil
}

// Announce registers node with the coordinator, or refreshes it.
func (c *Client) Announce(ctx context.Context, node Node) (HandshakeResponse, error) {
	var out HandshakeResponse
	data, err := json.Marshal(node)
	if err != nil {
		return out, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.URL+"/api/registry/handshake", bytes.NewReader(data))
	if err != nil {
		return out, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.do(req)
	if err != nil {
		return out, err
	}
	defer resp.Body.Close()
	err = json.NewDecoder(resp.Body).Decode(&out)
	return out, err
}

// Heartbeat announces node until ctx is done, at the interval the
// coordinator asks for. Failures are logged and retried on the next tick.
func (c *Client) Heartbeat(ctx context.Context, node Node) {
	interval := DefaultHeartbeat
	for {
		resp, err := c.Announce(ctx, node)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Printf("[Registry] Handshake with %s failed: %v", c.URL, err)
		} else if resp.HeartbeatSeconds > 0 {
			interval = time.Duration(resp.HeartbeatSeconds) * time.Second
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(interval):
		}
	}
}

// Nodes lists the addresses of the nodes registered with the coordinator.
func (c *Client) Nodes(ctx context.Context) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.URL+"/api/registry/nodes", nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var nodes []Node
	if err := json.NewDecoder(resp.Body).Decode(&nodes); err != nil {
		return nil, fmt.Errorf("registry nodes: %w", err)
	}
	addrs := make([]string, 0, len(nodes))
	for _, n := range nodes {
		addrs = append(addrs, n.Addr)
	}
	return addrs, nil
}
