package engine

import "fmt"

// ExactEstimator keeps every observation. Memory is O(n).
type ExactEstimator struct {
	col *Float64Column
}

func NewExactEstimator() *ExactEstimator {
	return &ExactEstimator{col: getFloat64Column()}
}

// NewExactEstimatorFrom restores an estimator from previously exported values.
func NewExactEstimatorFrom(values []float64) *ExactEstimator {
	e := NewExactEstimator()
	for _, v := range values {
		e.col.Append(v)
	}
	return e
}

func (e *ExactEstimator) Observe(v float64) {
	e.col.Append(v)
}

// Quantile returns the nearest-rank value: the ceil(q*n)-th smallest.
func (e *ExactEstimator) Quantile(q float64) (float64, error) {
	if err := checkQuantile(q); err != nil {
		return 0, err
	}
	n := int64(e.col.Size())
	if n == 0 {
		return 0, ErrEmptyInput
	}
	data := e.col.Sorted()
	return data[nearestRank(q, n)-1], nil
}

func (e *ExactEstimator) Count() int64 {
	return int64(e.col.Size())
}

func (e *ExactEstimator) Mode() Mode {
	return ModeBatch
}

// Merge concatenates both value sets into a new estimator.
func (e *ExactEstimator) Merge(other Estimator) (Estimator, error) {
	o, ok := other.(*ExactEstimator)
	if !ok {
		return nil, fmt.Errorf("%w: cannot merge %s into %s estimator", ErrIncompatibleState, other.Mode(), ModeBatch)
	}
	merged := NewExactEstimator()
	merged.col.AppendAll(e.col)
	merged.col.AppendAll(o.col)
	return merged, nil
}

// Values returns a copy of the observations in ascending order.
func (e *ExactEstimator) Values() []float64 {
	return append([]float64(nil), e.col.Sorted()...)
}

func (e *ExactEstimator) release() {
	ReleaseColumn(e.col)
	e.col = nil
}
