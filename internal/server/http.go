package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coffersTech/tailstat/internal/engine"
	"github.com/coffersTech/tailstat/internal/registry"
	"github.com/coffersTech/tailstat/internal/storage"
	"github.com/google/uuid"
	"github.com/valyala/fastjson"
	"golang.org/x/crypto/bcrypt"
)

// SnapshotContentType is the media type of an encoded partial.
const SnapshotContentType = "application/vnd.tailstat.partial"

// AnalysisServer exposes the analysis core over HTTP.
type AnalysisServer struct {
	base       engine.Config
	batchLimit int64
	apiKeyHash []byte

	stats    *engine.StatsStore
	progress *engine.Progress
	writer   *storage.PartialWriter
	registry *registry.Server
	spoolDir string

	mu           sync.Mutex
	srv          *http.Server
	closed       bool
	parser       fastjson.ParserPool
	verified     sync.Map // token -> struct{}, after a successful bcrypt check
	requestCount int64
}

// Options configure an AnalysisServer.
type Options struct {
	// Config holds the defaults; requests override them with query parameters.
	Config engine.Config
	// BatchLimit resolves auto mode from the request's Content-Length.
	BatchLimit int64
	// APIKeyHash is a bcrypt hash. Empty disables authentication.
	APIKeyHash string
	Stats      *engine.StatsStore
	Progress   *engine.Progress
	// Registry, when set, lets nodes announce themselves to this server.
	Registry  *registry.Store
	Heartbeat time.Duration
	// SpoolDir, when set, keeps a copy of every partial served.
	SpoolDir string
}

func NewAnalysisServer(opts Options) (*AnalysisServer, error) {
	writer, err := storage.NewPartialWriter()
	if err != nil {
		return nil, err
	}
	progress := opts.Progress
	if progress == nil {
		progress = &engine.Progress{}
	}
	stats := opts.Stats
	if stats == nil {
		stats = engine.OpenStatsStore("", progress)
	}
	var reg *registry.Server
	if opts.Registry != nil {
		reg = registry.NewServer(opts.Registry, opts.Heartbeat)
	}
	return &AnalysisServer{
		registry:   reg,
		spoolDir:   opts.SpoolDir,
		base:       opts.Config,
		batchLimit: opts.BatchLimit,
		apiKeyHash: []byte(opts.APIKeyHash),
		stats:      stats,
		progress:   progress,
		writer:     writer,
	}, nil
}

// Handler returns the routes of the server.
func (s *AnalysisServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/health", s.handleHealth)
	mux.Handle("/api/analyze", s.AuthMiddleware(http.HandlerFunc(s.handleAnalyze)))
	mux.Handle("/api/partial", s.AuthMiddleware(http.HandlerFunc(s.handlePartial)))
	mux.Handle("/api/stats", s.AuthMiddleware(http.HandlerFunc(s.handleStats)))
	if s.registry != nil {
		mux.Handle("/api/registry/handshake", s.AuthMiddleware(http.HandlerFunc(s.registry.HandleHandshake)))
		mux.Handle("/api/registry/nodes", s.AuthMiddleware(http.HandlerFunc(s.registry.HandleListNodes)))
	}
	return s.requestID(mux)
}

// Start runs the HTTP server.
func (s *AnalysisServer) Start(addr string) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	srv := &http.Server{
		Addr:    addr,
		Handler: s.Handler(),
	}
	s.srv = srv
	s.mu.Unlock()

	log.Printf("Listening on %s", addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the server.
// A server shut down before Start never listens.
func (s *AnalysisServer) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	srv := s.srv
	s.mu.Unlock()

	if srv != nil {
		return srv.Shutdown(ctx)
	}
	return nil
}

// requestID tags every request with an X-Request-ID, reusing the caller's.
func (s *AnalysisServer) requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if !validRequestID(id) {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		atomic.AddInt64(&s.requestCount, 1)
		next.ServeHTTP(w, r)
	})
}

// validRequestID accepts short IDs that are safe to embed in file names.
func validRequestID(id string) bool {
	if id == "" || len(id) > 64 {
		return false
	}
	for _, c := range id {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '-', c == '_':
		default:
			return false
		}
	}
	return true
}

// AuthMiddleware checks the bearer token against the configured bcrypt hash.
func (s *AnalysisServer) AuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if len(s.apiKeyHash) == 0 {
			next.ServeHTTP(w, r)
			return
		}

		authHeader := r.Header.Get("Authorization")
		var token string
		if strings.HasPrefix(authHeader, "Bearer ") {
			token = strings.TrimPrefix(authHeader, "Bearer ")
		} else {
			token = r.URL.Query().Get("token")
		}

		if token == "" {
			w.Header().Set("WWW-Authenticate", `Bearer realm="tailstat"`)
			http.Error(w, "Unauthorized: Missing token", http.StatusUnauthorized)
			return
		}

		if _, ok := s.verified.Load(token); ok {
			next.ServeHTTP(w, r)
			return
		}
		if err := bcrypt.CompareHashAndPassword(s.apiKeyHash, []byte(token)); err != nil {
			log.Printf("[%s] Rejected token from %s", w.Header().Get("X-Request-ID"), r.RemoteAddr)
			w.Header().Set("WWW-Authenticate", `Bearer realm="tailstat"`)
			http.Error(w, "Unauthorized: Invalid token", http.StatusUnauthorized)
			return
		}
		s.verified.Store(token, struct{}{})
		next.ServeHTTP(w, r)
	})
}

func (s *AnalysisServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status":   "ok",
		"requests": atomic.LoadInt64(&s.requestCount),
	})
}

// handleAnalyze processes POST /api/analyze and returns the report as JSON.
func (s *AnalysisServer) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	p, cfg, ok := s.consume(w, r, 0)
	if !ok {
		return
	}
	defer p.Release()

	report, err := p.Report(cfg)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := s.stats.Record(report); err != nil {
		log.Printf("Stats persist error: %v", err)
	}

	log.Printf("[%s] Analyzed %d lines (%d valid, %d errors)", w.Header().Get("X-Request-ID"),
		report.TotalLines, report.ValidRecords, report.ParseErrors)

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(report); err != nil {
		log.Printf("JSON encode error: %v", err)
	}
}

// handlePartial processes POST /api/partial?shard=N and returns the encoded
// partial, for a coordinator to combine with other shards.
func (s *AnalysisServer) handlePartial(w http.ResponseWriter, r *http.Request) {
	shard := 0
	if v := r.URL.Query().Get("shard"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			http.Error(w, "Invalid shard", http.StatusBadRequest)
			return
		}
		shard = n
	}

	p, _, ok := s.consume(w, r, shard)
	if !ok {
		return
	}
	defer p.Release()

	log.Printf("[%s] Partial for shard %d: %d lines", w.Header().Get("X-Request-ID"), shard, p.Counts.TotalLines)

	if s.spoolDir != "" {
		prefix := w.Header().Get("X-Request-ID") + "_"
		if _, err := engine.FlushPartialAs(p, s.spoolDir, prefix, s.writer.WriteFile); err != nil {
			log.Printf("Spool error: %v", err)
		}
	}

	w.Header().Set("Content-Type", SnapshotContentType)
	if err := s.writer.Encode(w, p); err != nil {
		log.Printf("Partial encode error: %v", err)
	}
}

func (s *AnalysisServer) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(s.stats.Stats()); err != nil {
		log.Printf("JSON encode error: %v", err)
	}
}

// consume validates the request, then feeds its body into a new partial.
// It writes the error response itself and reports ok=false on failure.
func (s *AnalysisServer) consume(w http.ResponseWriter, r *http.Request, shard int) (*engine.Partial, engine.Config, bool) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return nil, engine.Config{}, false
	}
	defer r.Body.Close()

	cfg, err := ConfigFromQuery(s.base, r.URL.Query())
	if err != nil {
		writeError(w, err)
		return nil, cfg, false
	}
	size := r.ContentLength
	if size < 0 {
		size = 0
	}
	cfg.Mode = engine.ResolveMode(cfg.Mode, size, s.batchLimit)

	p, err := engine.NewPartial(shard, cfg)
	if err != nil {
		writeError(w, err)
		return nil, cfg, false
	}
	p.SetProgress(s.progress)

	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		err = s.observeJSON(r.Body, p)
	} else {
		err = s.observeLines(r, p)
	}
	if err != nil {
		p.Release()
		log.Printf("[%s] Failed to read body: %v", w.Header().Get("X-Request-ID"), err)
		http.Error(w, fmt.Sprintf("Invalid body: %v", err), http.StatusBadRequest)
		return nil, cfg, false
	}
	return p, cfg, true
}

func (s *AnalysisServer) observeLines(r *http.Request, p *engine.Partial) error {
	body := io.Reader(r.Body)
	switch r.Header.Get("Content-Encoding") {
	case "gzip":
		rc, err := storage.Decompress("body.gz", r.Body)
		if err != nil {
			return err
		}
		defer rc.Close()
		body = rc
	case "zstd":
		rc, err := storage.Decompress("body.zst", r.Body)
		if err != nil {
			return err
		}
		defer rc.Close()
		body = rc
	}
	return engine.Consume(r.Context(), p, body)
}

// observeJSON accepts {"lines": [...]} or a bare array of strings.
func (s *AnalysisServer) observeJSON(body io.Reader, p *engine.Partial) error {
	data, err := io.ReadAll(body)
	if err != nil {
		return err
	}

	jp := s.parser.Get()
	defer s.parser.Put(jp)

	v, err := jp.ParseBytes(data)
	if err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}
	if v.Type() == fastjson.TypeObject {
		v = v.Get("lines")
		if v == nil {
			return errors.New(`missing "lines"`)
		}
	}
	arr, err := v.Array()
	if err != nil {
		return err
	}
	for _, item := range arr {
		b, err := item.StringBytes()
		if err != nil {
			return fmt.Errorf("lines must be strings: %w", err)
		}
		p.Observe(string(b))
	}
	p.Flush()
	return nil
}

// ConfigFromQuery overrides base with the query parameters k, q, mode,
// error_bound, resolution, min_tokens, format, json_field, filter and
// buckets.
func ConfigFromQuery(base engine.Config, q url.Values) (engine.Config, error) {
	cfg := base
	cfg.Quantiles = append([]float64(nil), base.Quantiles...)

	if v := q.Get("k"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return cfg, &engine.ConfigError{Param: "k", Reason: err.Error()}
		}
		cfg.K = n
	}
	if v := q.Get("q"); v != "" {
		qs, err := ParseQuantiles(v)
		if err != nil {
			return cfg, err
		}
		cfg.Quantiles = qs
	}
	if v := q.Get("mode"); v != "" {
		cfg.Mode = engine.Mode(v)
	}
	if v := q.Get("error_bound"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return cfg, &engine.ConfigError{Param: "error_bound", Reason: err.Error()}
		}
		cfg.ErrorBound = f
	}
	if v := q.Get("resolution"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return cfg, &engine.ConfigError{Param: "resolution", Reason: err.Error()}
		}
		cfg.Resolution = f
	}
	if v := q.Get("min_tokens"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return cfg, &engine.ConfigError{Param: "min_tokens", Reason: err.Error()}
		}
		cfg.MinTokens = n
	}
	if v := q.Get("format"); v != "" {
		cfg.Format = v
	}
	if v := q.Get("json_field"); v != "" {
		cfg.JSONField = v
	}
	if _, ok := q["filter"]; ok {
		cfg.Filter = q.Get("filter")
	}
	if v := q.Get("buckets"); v != "" {
		var bounds []float64
		for _, part := range strings.Split(v, ",") {
			f, err := strconv.ParseFloat(strings.TrimSpace(part), 64)
			if err != nil {
				return cfg, &engine.ConfigError{Param: "buckets", Reason: err.Error()}
			}
			bounds = append(bounds, f)
		}
		cfg.Buckets = bounds
	}
	return cfg, nil
}

// ParseQuantiles reads a comma separated list such as "0.5,0.95,p99".
// pNN forms are percentages, as are bare integers from 2 to 100. Other
// bare values above 1 are rejected.
func ParseQuantiles(s string) ([]float64, error) {
	var out []float64
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		percent := false
		if strings.HasPrefix(part, "p") || strings.HasPrefix(part, "P") {
			part, percent = part[1:], true
		}
		f, err := strconv.ParseFloat(part, 64)
		if err != nil {
			return nil, &engine.ConfigError{Param: "quantiles", Reason: fmt.Sprintf("%q is not a number", part)}
		}
		if !percent && f > 1 {
			if f != math.Trunc(f) || f > 100 {
				return nil, &engine.ConfigError{Param: "quantiles", Reason: fmt.Sprintf("%s is outside [0,1]; write percentiles as p%s", part, part)}
			}
			percent = true
		}
		if percent {
			f /= 100
		}
		out = append(out, f)
	}
	if len(out) == 0 {
		return nil, &engine.ConfigError{Param: "quantiles", Reason: "at least one quantile is required"}
	}
	return out, nil
}

// writeError maps configuration errors to 400 and everything else to 500.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	body := map[string]string{"error": err.Error()}

	var cfgErr *engine.ConfigError
	switch {
	case errors.As(err, &cfgErr):
		status = http.StatusBadRequest
		body["param"] = cfgErr.Param
	case errors.Is(err, engine.ErrInvalidQuantile):
		status = http.StatusBadRequest
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
