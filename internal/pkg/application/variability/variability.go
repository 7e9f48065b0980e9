// Package variability holds the pure computations behind the instability
// score: local outlier removal and the mean second derivative magnitude.
package variability

import (
	"container/heap"
	"context"
	"math"
)

const (
	DefaultOutlierThreshold float64 = 3.0
	// WindowRadius is the number of neighbours on each side of a point that
	// make up its local window.
	WindowRadius int = 5
)

// FilterOutliers removes points that deviate more than threshold from the mean
// of their local window (up to WindowRadius points on each side, inclusive of
// the point itself). Removal is done one point at a time, worst first, and the
// window means are recomputed after each removal so that a single spike does
// not drag its neighbours out with it. Order is preserved. Sequences shorter
// than 3 are returned unchanged.
func FilterOutliers(values []float64, threshold float64) ([]float64, int) {
	kept, removed, _ := FilterOutliersContext(context.Background(), values, threshold)
	return kept, removed
}

// FilterOutliersContext is FilterOutliers with cancellation checked between
// removals. A removal only changes the windows of the WindowRadius points on
// either side of it, so only those are re-evaluated.
func FilterOutliersContext(ctx context.Context, values []float64, threshold float64) ([]float64, int, error) {
	if len(values) < 3 {
		return values, 0, nil
	}

	s := newSequence(values, threshold)

	for s.alive >= 3 {
		if err := ctx.Err(); err != nil {
			return nil, s.removed, err
		}

		worst, ok := s.worst()
		if !ok {
			break
		}

		s.remove(worst)
	}

	return s.kept(), s.removed, nil
}

// sequence is a linked list over the input indices that keeps the points
// currently above the threshold in a max heap.
type sequence struct {
	values    []float64
	threshold float64

	prev, next []int
	removedAt  []bool
	version    []int

	alive   int
	removed int

	candidates candidates
}

func newSequence(values []float64, threshold float64) *sequence {
	n := len(values)

	s := &sequence{
		values:    values,
		threshold: threshold,
		prev:      make([]int, n),
		next:      make([]int, n),
		removedAt: make([]bool, n),
		version:   make([]int, n),
		alive:     n,
	}

	for i := range values {
		s.prev[i] = i - 1
		s.next[i] = i + 1
	}

	for i := range values {
		if d := s.deviation(i); d > threshold {
			s.candidates = append(s.candidates, candidate{index: i, deviation: d})
		}
	}
	heap.Init(&s.candidates)

	return s
}

// deviation sums the window left to right, the same order a slice walk would.
func (s *sequence) deviation(i int) float64 {
	n := len(s.values)

	from := i
	for k := 0; k < WindowRadius && s.prev[from] >= 0; k++ {
		from = s.prev[from]
	}

	sum, count := 0.0, 0
	for j := from; ; j = s.next[j] {
		sum += s.values[j]
		count++
		if j == i {
			break
		}
	}

	for j, k := i, 0; k < WindowRadius && s.next[j] < n; k++ {
		j = s.next[j]
		sum += s.values[j]
		count++
	}

	return math.Abs(s.values[i] - sum/float64(count))
}

func (s *sequence) worst() (int, bool) {
	for s.candidates.Len() > 0 {
		c := heap.Pop(&s.candidates).(candidate)
		if !s.removedAt[c.index] && c.version == s.version[c.index] {
			return c.index, true
		}
	}
	return -1, false
}

func (s *sequence) remove(i int) {
	n := len(s.values)
	p, nx := s.prev[i], s.next[i]

	if p >= 0 {
		s.next[p] = nx
	}
	if nx < n {
		s.prev[nx] = p
	}

	s.removedAt[i] = true
	s.alive--
	s.removed++

	for j, k := p, 0; k < WindowRadius && j >= 0; k++ {
		s.reconsider(j)
		j = s.prev[j]
	}

	for j, k := nx, 0; k < WindowRadius && j < n; k++ {
		s.reconsider(j)
		j = s.next[j]
	}
}

func (s *sequence) reconsider(i int) {
	s.version[i]++
	if d := s.deviation(i); d > s.threshold {
		heap.Push(&s.candidates, candidate{index: i, deviation: d, version: s.version[i]})
	}
}

func (s *sequence) kept() []float64 {
	kept := make([]float64, 0, s.alive)
	for i, v := range s.values {
		if !s.removedAt[i] {
			kept = append(kept, v)
		}
	}
	return kept
}

type candidate struct {
	index     int
	deviation float64
	version   int
}

// candidates orders by deviation, earliest point first on ties.
type candidates []candidate

func (c candidates) Len() int { return len(c) }

func (c candidates) Less(i, j int) bool {
	if c[i].deviation == c[j].deviation {
		return c[i].index < c[j].index
	}
	return c[i].deviation > c[j].deviation
}

func (c candidates) Swap(i, j int) { c[i], c[j] = c[j], c[i] }

func (c *candidates) Push(x any) { *c = append(*c, x.(candidate)) }

func (c *candidates) Pop() any {
	old := *c
	n := len(old)
	x := old[n-1]
	*c = old[:n-1]
	return x
}

// Score returns the mean absolute discrete second derivative of a
// chronological sequence. Sequences shorter than 3 score 0.
func Score(values []float64) float64 {
	if len(values) < 3 {
		return 0.0
	}

	sum := 0.0
	for i := 1; i < len(values)-1; i++ {
		sum += math.Abs(values[i+1] - 2*values[i] + values[i-1])
	}

	return sum / float64(len(values)-2)
}
