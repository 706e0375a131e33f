package engine

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"
)

func TestExportRestoreRoundTrip(t *testing.T) {
	streaming := DefaultConfig()
	streaming.Mode = ModeStreaming
	custom := DefaultConfig()
	custom.Buckets = []float64{0.05, 0.5}

	for name, cfg := range map[string]Config{"batch": DefaultConfig(), "streaming": streaming, "buckets": custom} {
		t.Run(name, func(t *testing.T) {
			p, err := AnalyzePartial(context.Background(), 3, strings.NewReader("GET 0.1\nbad\nGET 0.7\nGET 0.02\n"), cfg)
			if err != nil {
				t.Fatal(err)
			}
			want, _ := p.Report(cfg)

			restored, err := RestorePartial(p.Export(), cfg)
			if err != nil {
				t.Fatal(err)
			}
			got, _ := restored.Report(cfg)
			if !reflect.DeepEqual(want, got) {
				t.Errorf("report changed:\n%+v\n%+v", want, got)
			}

			// A restored partial keeps counting lines where it stopped.
			restored.Observe("GET 9")
			if restored.Lines() != 5 {
				t.Errorf("lines = %d, want 5", restored.Lines())
			}
			top, _ := restored.Top.Top()
			if top[0].Line != 5 || top[0].Shard != 3 {
				t.Errorf("new record at %d:%d, want 3:5", top[0].Shard, top[0].Line)
			}
		})
	}
}

func TestRestoreRejectsInconsistentState(t *testing.T) {
	p, _ := AnalyzePartial(context.Background(), 0, strings.NewReader("GET 0.1\nGET 0.2\n"), DefaultConfig())
	good := p.Export()

	tests := []struct {
		name string
		mod  func(*PartialState)
	}{
		{"unknown mode", func(st *PartialState) { st.Mode = "auto" }},
		{"streaming without layout", func(st *PartialState) { st.Mode = ModeStreaming }},
		{"zero k", func(st *PartialState) { st.K = 0 }},
		{"missing buckets", func(st *PartialState) { st.Buckets = nil }},
		{"bucket counts", func(st *PartialState) { st.BucketCounts = st.BucketCounts[:2] }},
		{"count mismatch", func(st *PartialState) { st.Counts.ValidRecords = 5 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := good
			st.Counts = good.Counts.merge(newCounts())
			st.Buckets = append([]float64(nil), good.Buckets...)
			st.BucketCounts = append([]int64(nil), good.BucketCounts...)
			tt.mod(&st)
			if _, err := RestorePartial(st, DefaultConfig()); !errors.Is(err, ErrIncompatibleState) {
				t.Errorf("got %v, want ErrIncompatibleState", err)
			}
		})
	}
}

func TestPartialMergeKeepsInputs(t *testing.T) {
	cfg := DefaultConfig()
	a, _ := AnalyzePartial(context.Background(), 2, strings.NewReader("x 1\nx 2\n"), cfg)
	b, _ := AnalyzePartial(context.Background(), 1, strings.NewReader("y 3\nbad\n"), cfg)

	m, err := a.Merge(b)
	if err != nil {
		t.Fatal(err)
	}
	if m.Shard != 1 || m.Counts.TotalLines != 4 || m.Counts.ValidRecords != 3 {
		t.Errorf("merged shard=%d counts=%+v", m.Shard, m.Counts)
	}
	if a.Counts.TotalLines != 2 || a.Estimator.Count() != 2 || b.Estimator.Count() != 1 {
		t.Error("merge mutated an input")
	}
	if m.Counts.Min != 1 || m.Counts.Max != 3 {
		t.Errorf("min/max = %v/%v", m.Counts.Min, m.Counts.Max)
	}
}

func TestLatencyHistogram(t *testing.T) {
	h := NewLatencyHistogram([]float64{0.1, 1})
	for _, v := range []float64{0, 0.1, 0.5, 1, 3} {
		h.Observe(v)
	}
	got := h.Points()
	want := []HistogramPoint{{"0.1", 2}, {"1", 2}, {"+Inf", 1}}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("points = %+v, want %+v", got, want)
	}
	if h.Total() != 5 {
		t.Errorf("total = %d", h.Total())
	}

	other := NewLatencyHistogram(nil)
	if _, err := h.Merge(other); !errors.Is(err, ErrIncompatibleState) {
		t.Errorf("different bounds: got %v", err)
	}
}

func TestFilterNilMatchesAll(t *testing.T) {
	f, err := ParseFilter("   ")
	if err != nil || f != nil {
		t.Fatalf("blank filter = %v, %v", f, err)
	}
	if !f.Match(LogRecord{}) {
		t.Error("nil filter rejected a record")
	}

	f, err = ParseFilter("f2:/api* OR latency>5")
	if err != nil {
		t.Fatal(err)
	}
	cases := map[string]bool{
		"GET /api/users 0.1": true,
		"GET /web 7":         true,
		"GET /web 0.1":       false,
	}
	for line, want := range cases {
		rec, perr := TokenParser{}.Parse(line, 0, 1)
		if perr != nil {
			t.Fatal(perr)
		}
		if got := f.Match(rec); got != want {
			t.Errorf("%q: match=%v, want %v", line, got, want)
		}
	}
}
