package engine

import (
	"context"
	"math"
	"sync/atomic"
	"time"
)

// Progress counts consumed lines across concurrently running shards.
type Progress struct {
	lines int64
	rate  uint64 // float64 bits, lines per second
}

func (pr *Progress) Add(n int64) {
	atomic.AddInt64(&pr.lines, n)
}

// Lines returns the number of lines published so far.
func (pr *Progress) Lines() int64 {
	return atomic.LoadInt64(&pr.lines)
}

// Rate returns the ingestion rate measured by the last tick.
func (pr *Progress) Rate() float64 {
	return math.Float64frombits(atomic.LoadUint64(&pr.rate))
}

// StartTicker recomputes the rate every interval and hands it to fn until
// ctx is done.
func (pr *Progress) StartTicker(ctx context.Context, interval time.Duration, fn func(lines int64, rate float64)) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		last := pr.Lines()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				lines := pr.Lines()
				rate := float64(lines-last) / interval.Seconds()
				last = lines
				atomic.StoreUint64(&pr.rate, math.Float64bits(rate))
				if fn != nil {
					fn(lines, rate)
				}
			}
		}
	}()
}
