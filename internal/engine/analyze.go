package engine

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
)

// ctxCheckInterval is how many lines are consumed between cancellation checks.
const ctxCheckInterval = 4096

// Analyze runs a single pass over lines and builds the report.
func Analyze(lines []string, cfg Config) (*Report, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	p, err := newPartial(0, cfg)
	if err != nil {
		return nil, err
	}
	defer p.Release()

	for _, line := range lines {
		p.Observe(trimEOL(line))
	}
	return p.Report(cfg)
}

// AnalyzeReader analyzes newline separated input read from r.
func AnalyzeReader(ctx context.Context, r io.Reader, cfg Config) (*Report, error) {
	p, err := AnalyzePartial(ctx, 0, r, cfg)
	if err != nil {
		return nil, err
	}
	defer p.Release()
	return p.Report(cfg)
}

// AnalyzePartial consumes r as shard number shard. If ctx is cancelled the
// partial built so far is returned, marked Interrupted.
func AnalyzePartial(ctx context.Context, shard int, r io.Reader, cfg Config) (*Partial, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	p, err := newPartial(shard, cfg)
	if err != nil {
		return nil, err
	}
	if err := Consume(ctx, p, r); err != nil {
		p.Release()
		return nil, err
	}
	return p, nil
}

// Consume feeds every line of r into p. A trailing line without a newline
// is still observed; an empty final read is not a line.
func Consume(ctx context.Context, p *Partial, r io.Reader) error {
	defer p.Flush()

	br := bufio.NewReaderSize(r, 64<<10)
	for {
		if p.lineNo%ctxCheckInterval == 0 && ctx.Err() != nil {
			p.Interrupted = true
			return nil
		}
		line, err := br.ReadString('\n')
		if len(line) > 0 {
			p.Observe(trimEOL(line))
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			if ctx.Err() != nil {
				p.Interrupted = true
				return nil
			}
			return fmt.Errorf("read shard %d: %w", p.Shard, err)
		}
	}
}

// Combine merges partials pairwise and builds one report. Partials are
// folded in shard order so repeated runs produce identical reports.
func Combine(partials []*Partial, cfg Config) (*Report, error) {
	if err := cfg.validateReport(); err != nil {
		return nil, err
	}

	ordered := make([]*Partial, 0, len(partials))
	for _, p := range partials {
		if p != nil {
			ordered = append(ordered, p)
		}
	}
	if len(ordered) == 0 {
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
		empty, err := newPartial(0, cfg)
		if err != nil {
			return nil, err
		}
		defer empty.Release()
		return empty.Report(cfg)
	}
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Shard < ordered[j].Shard
	})

	acc := ordered[0]
	for _, p := range ordered[1:] {
		merged, err := acc.Merge(p)
		if err != nil {
			return nil, err
		}
		if acc != ordered[0] {
			acc.Release()
		}
		acc = merged
	}
	if acc != ordered[0] {
		defer acc.Release()
	}
	return acc.Report(cfg)
}

func trimEOL(line string) string {
	line = strings.TrimSuffix(line, "\n")
	return strings.TrimSuffix(line, "\r")
}
