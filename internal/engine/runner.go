package engine

import (
	"context"
	"fmt"
	"io"
	"log"
	"runtime"
	"time"

	"golang.org/x/sync/errgroup"
)

// Shard is one independently analyzed piece of input: a file, a byte range
// of a file or a remote node's share.
type Shard struct {
	Index int
	Name  string
	// Size in bytes, used to resolve auto mode. Zero when unknown.
	Size int64
	Open func() (io.ReadCloser, error)
}

// ShardFunc computes the partial of one shard. The default reads the shard
// locally; the cluster aggregator substitutes a remote call.
type ShardFunc func(ctx context.Context, shard Shard, cfg Config) (*Partial, error)

// Runner analyzes shards on a bounded worker pool and combines the results.
type Runner struct {
	// Workers bounds concurrently analyzed shards. Zero means GOMAXPROCS.
	Workers int
	// BatchLimit is the input size from which auto mode picks streaming.
	BatchLimit int64
	// Progress, when set, receives consumed line counts.
	Progress *Progress
	// Compute replaces local analysis of a shard.
	Compute ShardFunc

	// SpoolDir and Flush persist every finished partial when both are set.
	SpoolDir string
	Flush    FlushFunc
}

// ResolveConfig resolves auto mode from the total shard size and validates
// the result.
func (r *Runner) ResolveConfig(shards []Shard, cfg Config) (Config, error) {
	var total int64
	for _, s := range shards {
		total += s.Size
	}
	limit := r.BatchLimit
	if limit <= 0 {
		limit = DefaultBatchLimit
	}
	cfg.Mode = ResolveMode(cfg.Mode, total, limit)
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Partials analyzes every shard and returns the partials in shard order
// together with the resolved configuration. On cancellation the partials
// built so far are returned, marked Interrupted.
func (r *Runner) Partials(ctx context.Context, shards []Shard, cfg Config) ([]*Partial, Config, error) {
	cfg, err := r.ResolveConfig(shards, cfg)
	if err != nil {
		return nil, cfg, err
	}

	workers := r.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	compute := r.Compute
	if compute == nil {
		compute = r.analyzeLocal
	}

	partials := make([]*Partial, len(shards))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, s := range shards {
		i, s := i, s
		g.Go(func() error {
			start := time.Now()
			p, err := compute(gctx, s, cfg)
			if err != nil {
				return fmt.Errorf("shard %d (%s): %w", s.Index, s.Name, err)
			}
			partials[i] = p
			log.Printf("Shard %d (%s): %d lines in %v", s.Index, s.Name, p.Lines(), time.Since(start).Round(time.Millisecond))

			if r.SpoolDir != "" && r.Flush != nil {
				if _, err := FlushPartial(p, r.SpoolDir, r.Flush); err != nil {
					return fmt.Errorf("shard %d (%s): %w", s.Index, s.Name, err)
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		for _, p := range partials {
			if p != nil {
				p.Release()
			}
		}
		return nil, cfg, err
	}
	return partials, cfg, nil
}

// Run analyzes every shard and combines them into one report.
func (r *Runner) Run(ctx context.Context, shards []Shard, cfg Config) (*Report, error) {
	partials, cfg, err := r.Partials(ctx, shards, cfg)
	if err != nil {
		return nil, err
	}
	defer func() {
		for _, p := range partials {
			p.Release()
		}
	}()
	return Combine(partials, cfg)
}

func (r *Runner) analyzeLocal(ctx context.Context, s Shard, cfg Config) (*Partial, error) {
	p, err := newPartial(s.Index, cfg)
	if err != nil {
		return nil, err
	}
	if r.Progress != nil {
		p.SetProgress(r.Progress)
	}

	rc, err := s.Open()
	if err != nil {
		p.Release()
		return nil, err
	}
	defer rc.Close()

	if err := Consume(ctx, p, rc); err != nil {
		p.Release()
		return nil, err
	}
	return p, nil
}
