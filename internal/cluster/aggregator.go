package cluster

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/coffersTech/tailstat/internal/engine"
	"github.com/coffersTech/tailstat/internal/storage"
)

// Aggregator sends shards to remote tailstat nodes and collects their
// partials for local combination.
type Aggregator struct {
	DataNodes []string
	Client    *http.Client
	// Auth is sent as the Authorization header, e.g. "Bearer <token>".
	Auth string

	reader *storage.PartialReader
}

// NewAggregator creates a new Aggregator instance.
func NewAggregator(nodes []string, token string) (*Aggregator, error) {
	reader, err := storage.NewPartialReader()
	if err != nil {
		return nil, err
	}
	a := &Aggregator{
		Client: &http.Client{Timeout: 10 * time.Minute},
		reader: reader,
	}
	for _, n := range nodes {
		if n = strings.TrimRight(strings.TrimSpace(n), "/"); n != "" {
			a.DataNodes = append(a.DataNodes, n)
		}
	}
	if len(a.DataNodes) == 0 {
		return nil, fmt.Errorf("no data nodes")
	}
	if token != "" {
		a.Auth = "Bearer " + token
	}
	return a, nil
}

// AnalyzeShard is an engine.ShardFunc. The shard goes to node
// Index mod len(nodes); on failure the following nodes are tried in turn.
// Cancellation yields an empty partial marked Interrupted.
func (a *Aggregator) AnalyzeShard(ctx context.Context, shard engine.Shard, cfg engine.Config) (*engine.Partial, error) {
	var lastErr error
	for attempt := 0; attempt < len(a.DataNodes); attempt++ {
		node := a.DataNodes[(shard.Index+attempt)%len(a.DataNodes)]
		p, err := a.fetchPartial(ctx, node, shard, cfg)
		if err == nil {
			return p, nil
		}
		if ctx.Err() != nil {
			return interrupted(shard.Index, cfg)
		}
		log.Printf("[Aggregator] Error from node %s for shard %d: %v", node, shard.Index, err)
		lastErr = err
	}
	return nil, fmt.Errorf("all nodes failed: %w", lastErr)
}

func interrupted(shard int, cfg engine.Config) (*engine.Partial, error) {
	p, err := engine.NewPartial(shard, cfg)
	if err != nil {
		return nil, err
	}
	p.Interrupted = true
	return p, nil
}

func (a *Aggregator) fetchPartial(ctx context.Context, nodeURL string, shard engine.Shard, cfg engine.Config) (*engine.Partial, error) {
	body, err := shard.Open()
	if err != nil {
		return nil, err
	}
	defer body.Close()

	q := ConfigQuery(cfg)
	q.Set("shard", strconv.Itoa(shard.Index))
	endpoint := fmt.Sprintf("%s/api/partial?%s", nodeURL, q.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "text/plain")
	if a.Auth != "" {
		req.Header.Set("Authorization", a.Auth)
	}

	resp, err := a.Client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("node %s returned status %d: %s", nodeURL, resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	st, err := a.reader.Decode(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("node %s: %w", nodeURL, err)
	}
	if st.Shard != shard.Index {
		return nil, fmt.Errorf("node %s answered shard %d for shard %d", nodeURL, st.Shard, shard.Index)
	}
	return engine.RestorePartial(st, cfg)
}

// Stats performs scatter-gather stats aggregation. Unreachable nodes are
// logged and skipped.
func (a *Aggregator) Stats(ctx context.Context) (engine.SystemStats, error) {
	total := engine.SystemStats{ErrorsByReason: make(map[engine.ParseErrorReason]int64)}

	var mu sync.Mutex
	var wg sync.WaitGroup

	for _, node := range a.DataNodes {
		wg.Add(1)
		go func(nodeURL string) {
			defer wg.Done()
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, nodeURL+"/api/stats", nil)
			if err != nil {
				return
			}
			if a.Auth != "" {
				req.Header.Set("Authorization", a.Auth)
			}
			resp, err := a.Client.Do(req)
			if err != nil {
				log.Printf("[Aggregator] Error from node %s: %v", nodeURL, err)
				return
			}
			defer resp.Body.Close()

			if resp.StatusCode != http.StatusOK {
				log.Printf("[Aggregator] Node %s returned status %d", nodeURL, resp.StatusCode)
				return
			}
			var nodeStats engine.SystemStats
			if err := json.NewDecoder(resp.Body).Decode(&nodeStats); err != nil {
				log.Printf("[Aggregator] Bad stats from node %s: %v", nodeURL, err)
				return
			}

			mu.Lock()
			total.IngestionRate += nodeStats.IngestionRate
			total.LinesInFlight += nodeStats.LinesInFlight
			total.Runs += nodeStats.Runs
			total.TotalLines += nodeStats.TotalLines
			total.ValidRecords += nodeStats.ValidRecords
			total.ParseErrors += nodeStats.ParseErrors
			total.DiskUsage += nodeStats.DiskUsage
			for k, v := range nodeStats.ErrorsByReason {
				total.ErrorsByReason[k] += v
			}
			mu.Unlock()
		}(node)
	}
	wg.Wait()

	return total, nil
}

// ConfigQuery encodes the settings a node needs to build a compatible
// partial. Mode must already be resolved.
func ConfigQuery(cfg engine.Config) url.Values {
	q := url.Values{}
	q.Set("k", strconv.Itoa(cfg.K))
	q.Set("q", joinFloats(cfg.Quantiles))
	q.Set("mode", string(cfg.Mode))
	q.Set("error_bound", strconv.FormatFloat(cfg.ErrorBound, 'g', -1, 64))
	q.Set("resolution", strconv.FormatFloat(cfg.Resolution, 'g', -1, 64))
	q.Set("min_tokens", strconv.Itoa(cfg.MinTokens))
	if cfg.Format != "" {
		q.Set("format", cfg.Format)
	}
	if cfg.JSONField != "" {
		q.Set("json_field", cfg.JSONField)
	}
	if cfg.Filter != "" {
		q.Set("filter", cfg.Filter)
	}
	if len(cfg.Buckets) > 0 {
		q.Set("buckets", joinFloats(cfg.Buckets))
	}
	return q
}

func joinFloats(fs []float64) string {
	parts := make([]string, len(fs))
	for i, f := range fs {
		parts[i] = strconv.FormatFloat(f, 'g', -1, 64)
	}
	return strings.Join(parts, ",")
}
