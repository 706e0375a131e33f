package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"

	"pgregory.net/rapid"
)

func mustAnalyze(t *testing.T, lines []string, cfg Config) *Report {
	t.Helper()
	r, err := Analyze(lines, cfg)
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	return r
}

func TestAnalyzeScenario(t *testing.T) {
	cfg := DefaultConfig()
	cfg.K = 2
	cfg.Quantiles = []float64{0.5}

	r := mustAnalyze(t, []string{"GET /a 200 0.010", "GET /b 200 0.500", "GET /c 200 0.100"}, cfg)
	if r.ValidRecords != 3 || r.TotalLines != 3 || r.ParseErrors != 0 {
		t.Errorf("counts = %d/%d/%d", r.TotalLines, r.ValidRecords, r.ParseErrors)
	}
	if p50, ok := r.Percentile(0.5); !ok || p50 != 0.100 {
		t.Errorf("p50 = %v (%v), want 0.100", p50, ok)
	}
	if len(r.Top) != 2 || r.Top[0].Raw != "GET /b 200 0.500" || r.Top[1].Raw != "GET /c 200 0.100" {
		t.Errorf("top = %+v", r.Top)
	}
	if r.NoData {
		t.Error("NoData set on a populated report")
	}
}

func TestAnalyzeMalformedLine(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Quantiles = []float64{0, 1}

	r := mustAnalyze(t, []string{"GET /a 200 0.2", "malformed", "GET /b 200 0.4"}, cfg)
	if r.ParseErrors != 1 || r.ErrorsByReason[ReasonNotNumeric] != 1 {
		t.Errorf("errors = %d %v", r.ParseErrors, r.ErrorsByReason)
	}
	if r.ValidRecords != 2 || r.TotalLines != 3 {
		t.Errorf("valid = %d total = %d", r.ValidRecords, r.TotalLines)
	}
	if lo, _ := r.Percentile(0); lo != 0.2 {
		t.Errorf("p0 = %v", lo)
	}
	if hi, _ := r.Percentile(1); hi != 0.4 {
		t.Errorf("p100 = %v", hi)
	}
	if len(r.ErrorSamples) != 1 || r.ErrorSamples[0].LineNo != 2 {
		t.Errorf("samples = %+v", r.ErrorSamples)
	}
	for _, reason := range Reasons {
		if _, ok := r.ErrorsByReason[reason]; !ok {
			t.Errorf("reason %s missing from report", reason)
		}
	}
}

func TestAnalyzeNoData(t *testing.T) {
	for _, lines := range [][]string{nil, {"bad", "", "GET -1"}} {
		r := mustAnalyze(t, lines, DefaultConfig())
		if !r.NoData {
			t.Errorf("%q: NoData not set", lines)
		}
		if len(r.Percentiles) != 0 || len(r.Top) != 0 {
			t.Errorf("%q: statistics on empty input: %+v %+v", lines, r.Percentiles, r.Top)
		}
		if r.TotalLines != int64(len(lines)) {
			t.Errorf("total = %d", r.TotalLines)
		}
	}
}

func TestAnalyzeRejectsConfig(t *testing.T) {
	tests := []struct {
		name  string
		mod   func(*Config)
		param string
	}{
		{"k zero", func(c *Config) { c.K = 0 }, "k"},
		{"k negative", func(c *Config) { c.K = -3 }, "k"},
		{"no quantiles", func(c *Config) { c.Quantiles = nil }, "quantiles"},
		{"quantile above one", func(c *Config) { c.Quantiles = []float64{0.5, 1.5} }, "quantiles"},
		{"auto unresolved", func(c *Config) { c.Mode = ModeAuto }, "mode"},
		{"unknown mode", func(c *Config) { c.Mode = "fast" }, "mode"},
		{"bound", func(c *Config) { c.Mode = ModeStreaming; c.ErrorBound = 0 }, "error_bound"},
		{"resolution", func(c *Config) { c.Mode = ModeStreaming; c.Resolution = -1 }, "resolution"},
		{"min tokens", func(c *Config) { c.MinTokens = -1 }, "min_tokens"},
		{"format", func(c *Config) { c.Format = "xml" }, "format"},
		{"buckets", func(c *Config) { c.Buckets = []float64{1, 1} }, "buckets"},
		{"filter", func(c *Config) { c.Filter = "(latency>1" }, "filter"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mod(&cfg)
			_, err := Analyze([]string{"GET 1"}, cfg)
			var ce *ConfigError
			if !errors.As(err, &ce) {
				t.Fatalf("got %v, want *ConfigError", err)
			}
			if ce.Param != tt.param {
				t.Errorf("param = %s, want %s", ce.Param, tt.param)
			}
			if !errors.Is(err, ErrInvalidConfiguration) {
				t.Errorf("error does not match ErrInvalidConfiguration")
			}
		})
	}
}

func TestAnalyzeTrimsLineEndings(t *testing.T) {
	r, err := AnalyzeReader(context.Background(), strings.NewReader("GET /a 0.1\r\nGET /b 0.2\nGET /c 0.3"), DefaultConfig())
	if err != nil {
		t.Fatal(err)
	}
	if r.TotalLines != 3 || r.ValidRecords != 3 {
		t.Errorf("total=%d valid=%d", r.TotalLines, r.ValidRecords)
	}
	if r.Top[0].Raw != "GET /c 0.3" || r.Top[2].Raw != "GET /a 0.1" {
		t.Errorf("raw lines kept line endings: %+v", r.Top)
	}
}

func TestAnalyzeReaderCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	r, err := AnalyzeReader(ctx, strings.NewReader("GET 1\nGET 2\n"), DefaultConfig())
	if err != nil {
		t.Fatal(err)
	}
	if !r.Interrupted {
		t.Error("report not marked Interrupted")
	}
}

func TestAnalyzeFilterExcludes(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Filter = "f1:GET AND latency>=0.2"
	cfg.Quantiles = []float64{0, 1}

	r := mustAnalyze(t, []string{
		"GET /a 0.1",
		"GET /b 0.2",
		"POST /c 9",
		"GET /d 0.4",
		"oops",
	}, cfg)
	if r.ValidRecords != 4 || r.Excluded != 2 || r.ParseErrors != 1 {
		t.Errorf("valid=%d excluded=%d errors=%d", r.ValidRecords, r.Excluded, r.ParseErrors)
	}
	if lo, _ := r.Percentile(0); lo != 0.2 {
		t.Errorf("p0 = %v, want 0.2", lo)
	}
	if hi, _ := r.Percentile(1); hi != 0.4 {
		t.Errorf("p100 = %v, want 0.4", hi)
	}
	if r.Mean != 0.30000000000000004 && r.Mean != 0.3 {
		t.Errorf("mean = %v", r.Mean)
	}
}

func TestReportNormalizesQuantiles(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Quantiles = []float64{0.99, 0.5, 0.99, 0}
	r := mustAnalyze(t, []string{"a 1", "b 2"}, cfg)
	var qs []float64
	for _, p := range r.Percentiles {
		qs = append(qs, p.Quantile)
	}
	if fmt.Sprint(qs) != "[0 0.5 0.99]" {
		t.Errorf("quantiles = %v", qs)
	}
}

func TestReportKeepsTenErrorSamples(t *testing.T) {
	var lines []string
	for i := 0; i < 25; i++ {
		lines = append(lines, fmt.Sprintf("bad-%d", i))
	}
	r := mustAnalyze(t, lines, DefaultConfig())
	if len(r.ErrorSamples) != maxErrorSamples || r.ErrorSamples[0].Line != "bad-0" {
		t.Errorf("samples = %d, first %+v", len(r.ErrorSamples), r.ErrorSamples)
	}
	if r.ParseErrors != 25 {
		t.Errorf("errors = %d", r.ParseErrors)
	}
}

func TestAnalyzeIsIdempotent(t *testing.T) {
	lines := []string{"GET /a 0.3", "GET /b 0.1", "junk", "GET /c 0.3", "GET /d 7"}
	for _, mode := range []Mode{ModeBatch, ModeStreaming} {
		cfg := DefaultConfig()
		cfg.Mode = mode
		a, _ := json.Marshal(mustAnalyze(t, lines, cfg))
		b, _ := json.Marshal(mustAnalyze(t, lines, cfg))
		if string(a) != string(b) {
			t.Errorf("%s: reports differ:\n%s\n%s", mode, a, b)
		}
	}
}

func TestCombineEmpty(t *testing.T) {
	r, err := Combine(nil, DefaultConfig())
	if err != nil {
		t.Fatal(err)
	}
	if !r.NoData || r.TotalLines != 0 {
		t.Errorf("unexpected report %+v", r)
	}

	cfg := DefaultConfig()
	cfg.K = 0
	if _, err := Combine(nil, cfg); !errors.Is(err, ErrInvalidConfiguration) {
		t.Errorf("k=0: got %v", err)
	}
}

func TestCombineRejectsLargerK(t *testing.T) {
	cfg := DefaultConfig()
	cfg.K = 2
	var lines strings.Builder
	for i := 1; i <= 10; i++ {
		fmt.Fprintf(&lines, "GET /%d %d\n", i, i)
	}
	p, err := AnalyzePartial(context.Background(), 0, strings.NewReader(lines.String()), cfg)
	if err != nil {
		t.Fatal(err)
	}

	wider := cfg
	wider.K = 5
	_, err = Combine([]*Partial{p}, wider)
	var ce *ConfigError
	if !errors.As(err, &ce) || ce.Param != "k" {
		t.Fatalf("got %v, want a k configuration error", err)
	}

	narrower := cfg
	narrower.K = 1
	r, err := Combine([]*Partial{p}, narrower)
	if err != nil {
		t.Fatal(err)
	}
	if len(r.Top) != 1 || r.Top[0].Latency != 10 {
		t.Errorf("top = %+v", r.Top)
	}
}

func TestCombineSameShardIsCommutative(t *testing.T) {
	cfg := DefaultConfig()
	cfg.K = 1
	a, _ := AnalyzePartial(context.Background(), 0, strings.NewReader("A 1\n"), cfg)
	b, _ := AnalyzePartial(context.Background(), 0, strings.NewReader("B 1\n"), cfg)

	ab, err := a.Merge(b)
	if err != nil {
		t.Fatal(err)
	}
	ba, err := b.Merge(a)
	if err != nil {
		t.Fatal(err)
	}
	x, _ := ab.Top.Top()
	y, _ := ba.Top.Top()
	if x[0].Raw != "A 1" || y[0].Raw != "A 1" {
		t.Errorf("a+b kept %q, b+a kept %q", x[0].Raw, y[0].Raw)
	}

	r1, _ := Combine([]*Partial{a, b}, cfg)
	r2, _ := Combine([]*Partial{b, a}, cfg)
	if r1.Top[0].Raw != r2.Top[0].Raw {
		t.Errorf("combine order changed the top: %q vs %q", r1.Top[0].Raw, r2.Top[0].Raw)
	}
}

func TestCombineIncompatible(t *testing.T) {
	streaming := DefaultConfig()
	streaming.Mode = ModeStreaming

	a, _ := AnalyzePartial(context.Background(), 0, strings.NewReader("x 1\n"), DefaultConfig())
	b, _ := AnalyzePartial(context.Background(), 1, strings.NewReader("x 2\n"), streaming)
	if _, err := Combine([]*Partial{a, b}, DefaultConfig()); !errors.Is(err, ErrIncompatibleState) {
		t.Errorf("got %v, want ErrIncompatibleState", err)
	}
}

// splitLines cuts lines into contiguous shards at the given positions.
func splitLines(lines []string, cuts []int) [][]string {
	var out [][]string
	prev := 0
	for _, c := range cuts {
		out = append(out, lines[prev:c])
		prev = c
	}
	return append(out, lines[prev:])
}

func drawLines(t *rapid.T) []string {
	n := rapid.IntRange(0, 200).Draw(t, "n")
	lines := make([]string, n)
	for i := range lines {
		switch rapid.IntRange(0, 9).Draw(t, "kind") {
		case 0:
			lines[i] = "malformed"
		case 1:
			lines[i] = "GET /neg -1"
		default:
			ms := rapid.IntRange(0, 3000).Draw(t, "ms")
			lines[i] = fmt.Sprintf("GET /r/%d 200 %d.%03d", i, ms/1000, ms%1000)
		}
	}
	return lines
}

func TestCombineMatchesSinglePass(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		lines := drawLines(t)
		cfg := DefaultConfig()
		cfg.K = rapid.IntRange(1, 15).Draw(t, "k")
		cfg.Mode = rapid.SampledFrom([]Mode{ModeBatch, ModeStreaming}).Draw(t, "mode")
		cfg.Quantiles = []float64{0, 0.25, 0.5, 0.9, 0.99, 1}

		var cuts []int
		for i := 0; i < rapid.IntRange(0, 4).Draw(t, "cuts"); i++ {
			cuts = append(cuts, rapid.IntRange(0, len(lines)).Draw(t, "cut"))
		}
		for i := 1; i < len(cuts); i++ {
			if cuts[i] < cuts[i-1] {
				cuts[i] = cuts[i-1]
			}
		}
		shards := splitLines(lines, cuts)

		whole, err := Analyze(lines, cfg)
		if err != nil {
			t.Fatal(err)
		}

		partials := make([]*Partial, len(shards))
		for i, s := range shards {
			p, err := AnalyzePartial(context.Background(), i, strings.NewReader(strings.Join(s, "\n")), cfg)
			if err != nil {
				t.Fatal(err)
			}
			partials[i] = p
		}
		// Any presentation order gives the same report.
		partials = rapid.Permutation(partials).Draw(t, "order")
		combined, err := Combine(partials, cfg)
		if err != nil {
			t.Fatal(err)
		}

		if combined.TotalLines != whole.TotalLines || combined.ValidRecords != whole.ValidRecords ||
			combined.ParseErrors != whole.ParseErrors {
			t.Fatalf("counts differ: %+v vs %+v", combined, whole)
		}
		if combined.ValidRecords+combined.ParseErrors != combined.TotalLines {
			t.Fatalf("valid + errors != total")
		}
		if combined.NoData != whole.NoData {
			t.Fatalf("NoData differs")
		}
		if fmt.Sprint(combined.Percentiles) != fmt.Sprint(whole.Percentiles) {
			t.Fatalf("percentiles differ: %v vs %v", combined.Percentiles, whole.Percentiles)
		}
		if fmt.Sprint(combined.Histogram) != fmt.Sprint(whole.Histogram) {
			t.Fatalf("histograms differ")
		}
		if combined.Min != whole.Min || combined.Max != whole.Max {
			t.Fatalf("min/max differ")
		}

		// Same members in the same order; only positions differ by shard.
		if len(combined.Top) != len(whole.Top) {
			t.Fatalf("top sizes %d vs %d", len(combined.Top), len(whole.Top))
		}
		for i := range whole.Top {
			if combined.Top[i].Raw != whole.Top[i].Raw {
				t.Fatalf("top[%d]: %q vs %q", i, combined.Top[i].Raw, whole.Top[i].Raw)
			}
		}
		wantTop := whole.ValidRecords
		if int64(cfg.K) < wantTop {
			wantTop = int64(cfg.K)
		}
		if int64(len(combined.Top)) != wantTop {
			t.Fatalf("len(top) = %d, want %d", len(combined.Top), wantTop)
		}
	})
}
