package variability

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"testing"
	"time"

	"github.com/matryer/is"
)

func TestThatShortSequencesAreLeftAlone(t *testing.T) {
	is := is.New(t)

	for _, seq := range [][]float64{nil, {}, {36.0}, {36.0, 60.0}} {
		filtered, outliers := FilterOutliers(seq, DefaultOutlierThreshold)
		is.Equal(len(seq), len(filtered))
		is.Equal(0, outliers)
		is.Equal(0.0, Score(seq))
	}
}

func TestThatASpikeIsRemoved(t *testing.T) {
	is := is.New(t)

	filtered, outliers := FilterOutliers([]float64{36.0, 36.1, 36.0, 60.0, 36.1, 36.0}, 3.0)

	is.Equal(1, outliers)
	is.Equal([]float64{36.0, 36.1, 36.0, 36.1, 36.0}, filtered)
}

func TestThatInputIsNotModified(t *testing.T) {
	is := is.New(t)

	input := []float64{36.0, 36.1, 36.0, 60.0, 36.1, 36.0}
	_, _ = FilterOutliers(input, 3.0)

	is.Equal([]float64{36.0, 36.1, 36.0, 60.0, 36.1, 36.0}, input)
}

func TestThatTwoSpikesAreRemoved(t *testing.T) {
	is := is.New(t)

	seq := []float64{36.0, 36.2, 36.1, 55.0, 36.0, 36.1, 36.2, 36.0, 12.0, 36.1, 36.0, 36.1}
	filtered, outliers := FilterOutliers(seq, 3.0)

	is.Equal(2, outliers)
	is.Equal(len(seq)-2, len(filtered))
	for _, v := range filtered {
		is.True(v > 35 && v < 37)
	}
}

func TestThatSmoothSequenceIsKept(t *testing.T) {
	is := is.New(t)

	seq := []float64{36.0, 36.2, 36.4, 36.6, 36.8, 37.0, 37.2, 37.4, 37.6, 37.8, 38.0}
	filtered, outliers := FilterOutliers(seq, 3.0)

	is.Equal(0, outliers)
	is.Equal(seq, filtered)
}

func TestThatFilterMatchesFullRecomputation(t *testing.T) {
	is := is.New(t)

	rnd := rand.New(rand.NewSource(42))

	for round := 0; round < 200; round++ {
		seq := make([]float64, 3+rnd.Intn(80))
		for i := range seq {
			seq[i] = 36.0 + rnd.Float64()
			if rnd.Intn(6) == 0 {
				seq[i] += (rnd.Float64() - 0.5) * 40
			}
		}

		wantKept, wantRemoved := filterByFullRecomputation(seq, 3.0)
		kept, removed := FilterOutliers(seq, 3.0)

		is.Equal(wantRemoved, removed)
		is.Equal(wantKept, kept)
	}
}

func TestThatADayOfSamplesIsFilteredQuickly(t *testing.T) {
	is := is.New(t)

	// five samples a second for a day, every twentieth one a glitch
	seq := make([]float64, 5*24*60*60)
	for i := range seq {
		seq[i] = 36.5 + 0.3*math.Sin(float64(i)/500)
		if i%20 == 10 {
			seq[i] = 60.0
		}
	}

	start := time.Now()
	kept, removed := FilterOutliers(seq, DefaultOutlierThreshold)

	is.True(time.Since(start) < 10*time.Second)
	is.Equal(len(seq)/20, removed)
	is.Equal(len(seq)-removed, len(kept))
	for _, v := range kept {
		is.True(v < 40)
	}
}

func TestThatFilteringStopsWhenCancelled(t *testing.T) {
	is := is.New(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, err := FilterOutliersContext(ctx, []float64{36.0, 36.1, 36.0, 60.0, 36.1, 36.0}, 3.0)
	is.True(errors.Is(err, context.Canceled))
}

// filterByFullRecomputation re-evaluates every window after every removal.
func filterByFullRecomputation(values []float64, threshold float64) ([]float64, int) {
	kept := append([]float64{}, values...)
	removed := 0

	for len(kept) >= 3 {
		worst := -1
		worstDeviation := threshold

		for i := range kept {
			from, to := i-WindowRadius, i+WindowRadius
			if from < 0 {
				from = 0
			}
			if to > len(kept)-1 {
				to = len(kept) - 1
			}

			sum := 0.0
			for _, v := range kept[from : to+1] {
				sum += v
			}

			if d := math.Abs(kept[i] - sum/float64(to-from+1)); d > worstDeviation {
				worst = i
				worstDeviation = d
			}
		}

		if worst < 0 {
			break
		}

		kept = append(kept[:worst], kept[worst+1:]...)
		removed++
	}

	return kept, removed
}

func TestScoreOfConstantSequence(t *testing.T) {
	is := is.New(t)
	is.Equal(0.0, Score([]float64{1, 1, 1, 1, 1}))
}

func TestScoreOfSingleSpike(t *testing.T) {
	is := is.New(t)
	is.Equal(198.0, Score([]float64{1, 100, 1}))
}

func TestScoreOfLinearSequence(t *testing.T) {
	is := is.New(t)
	is.True(Score([]float64{1, 2, 3, 4, 5}) < 1e-9)
}

func TestScoreIsMeanOfSecondDerivatives(t *testing.T) {
	is := is.New(t)

	// every interior point has |x[i+1] - 2x[i] + x[i-1]| = 2
	got := Score([]float64{0, 1, 0, 1, 0})
	is.True(math.Abs(got-2.0) < 1e-9)
}
