package engine

import (
	"container/heap"
	"fmt"
	"sort"
)

// TopK keeps the k slowest records seen so far in O(k) memory.
// On equal latency the earlier observation is retained.
type TopK struct {
	k int
	h recordHeap
}

// NewTopK returns an empty tracker. k must be positive.
func NewTopK(k int) (*TopK, error) {
	if k <= 0 {
		return nil, configErrorf("k", "must be positive, got %d", k)
	}
	return &TopK{k: k, h: make(recordHeap, 0, k)}, nil
}

// RestoreTopK rebuilds a tracker from exported records.
func RestoreTopK(k int, records []LogRecord) (*TopK, error) {
	t, err := NewTopK(k)
	if err != nil {
		return nil, err
	}
	for _, r := range records {
		t.Observe(r)
	}
	return t, nil
}

func (t *TopK) K() int   { return t.k }
func (t *TopK) Len() int { return len(t.h) }

// Observe admits rec if there is room or if it beats the weakest member,
// which is then evicted.
func (t *TopK) Observe(rec LogRecord) {
	if len(t.h) < t.k {
		heap.Push(&t.h, rec)
		return
	}
	if outranks(rec, t.h[0]) {
		t.h[0] = rec
		heap.Fix(&t.h, 0)
	}
}

// Top returns the members, slowest first. The tracker is not modified.
func (t *TopK) Top() ([]LogRecord, error) {
	if len(t.h) == 0 {
		return nil, ErrEmptyInput
	}
	return t.records(), nil
}

func (t *TopK) records() []LogRecord {
	out := append([]LogRecord(nil), t.h...)
	sortRecords(out)
	return out
}

// Merge returns a new tracker holding the k best of both member sets.
func (t *TopK) Merge(other *TopK) (*TopK, error) {
	if t.k != other.k {
		return nil, fmt.Errorf("%w: top-k sizes differ (%d vs %d)", ErrIncompatibleState, t.k, other.k)
	}
	union := make([]LogRecord, 0, len(t.h)+len(other.h))
	union = append(union, t.h...)
	union = append(union, other.h...)
	sortRecords(union)
	if len(union) > t.k {
		union = union[:t.k]
	}
	merged := &TopK{k: t.k, h: recordHeap(union)}
	heap.Init(&merged.h)
	return merged, nil
}

// outranks reports whether a belongs before b in the slowest list.
func outranks(a, b LogRecord) bool {
	if a.Latency != b.Latency {
		return a.Latency > b.Latency
	}
	return a.before(b)
}

func sortRecords(recs []LogRecord) {
	sort.Slice(recs, func(i, j int) bool {
		return outranks(recs[i], recs[j])
	})
}

// recordHeap is a min-heap whose root is the weakest member.
type recordHeap []LogRecord

func (h recordHeap) Len() int           { return len(h) }
func (h recordHeap) Less(i, j int) bool { return outranks(h[j], h[i]) }
func (h recordHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }

func (h *recordHeap) Push(x interface{}) {
	*h = append(*h, x.(LogRecord))
}

func (h *recordHeap) Pop() interface{} {
	old := *h
	n := len(old)
	rec := old[n-1]
	*h = old[:n-1]
	return rec
}
