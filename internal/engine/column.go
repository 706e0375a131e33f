package engine

import (
	"sort"
	"sync"
)

// Float64Column stores latency values in insertion order until sorted.
type Float64Column struct {
	Data   []float64
	sorted bool
}

// NewFloat64Column allocates a column with the given capacity.
func NewFloat64Column(capacity int) *Float64Column {
	return &Float64Column{
		Data:   make([]float64, 0, capacity),
		sorted: true,
	}
}

func (c *Float64Column) Append(v float64) {
	if c.sorted && len(c.Data) > 0 && v < c.Data[len(c.Data)-1] {
		c.sorted = false
	}
	c.Data = append(c.Data, v)
}

// AppendAll copies another column's values into c.
func (c *Float64Column) AppendAll(o *Float64Column) {
	if len(o.Data) == 0 {
		return
	}
	if !o.sorted || (len(c.Data) > 0 && o.Data[0] < c.Data[len(c.Data)-1]) {
		c.sorted = false
	}
	c.Data = append(c.Data, o.Data...)
}

// Sorted sorts the column in place if needed and returns its data.
func (c *Float64Column) Sorted() []float64 {
	if !c.sorted {
		sort.Float64s(c.Data)
		c.sorted = true
	}
	return c.Data
}

func (c *Float64Column) Reset() {
	c.Data = c.Data[:0]
	c.sorted = true
}

func (c *Float64Column) Size() int {
	return len(c.Data)
}

func (c *Float64Column) Bytes() int {
	return len(c.Data) * 8
}

// float64ColPool recycles columns of partials that were merged away.
var float64ColPool = sync.Pool{
	New: func() interface{} { return NewFloat64Column(4096) },
}

func getFloat64Column() *Float64Column {
	c := float64ColPool.Get().(*Float64Column)
	c.Reset()
	return c
}

// ReleaseColumn hands a column back for reuse. The caller must not touch
// it afterwards.
func ReleaseColumn(c *Float64Column) {
	if c == nil {
		return
	}
	c.Reset()
	float64ColPool.Put(c)
}
