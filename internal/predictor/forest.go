package predictor

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"

	"ml-crypto-trader/internal/types"
)

// ErrInsufficientData is returned by Train when the labeled sample is
// too small to fit a model.
var ErrInsufficientData = errors.New("insufficient labeled data to train")

// minTrainingBars is the smallest labeled sample Train accepts.
const minTrainingBars = 50

// stump is a single one-feature decision rule: compare the feature
// against the threshold and emit the majority label of that side.
type stump struct {
	feature    int
	threshold  float64
	leftLabel  int // label when feature <= threshold
	rightLabel int
}

// Forest is a bagged ensemble of decision stumps over the indicator
// feature vector. Training is deterministic for a fixed seed.
type Forest struct {
	mu       sync.RWMutex
	stumps   []stump
	numTrees int
	seed     int64
}

func NewForest(numTrees int, seed int64) *Forest {
	if numTrees <= 0 {
		numTrees = 100
	}
	return &Forest{numTrees: numTrees, seed: seed}
}

// Train fits the ensemble on the labeled prefix of bars. Unlabeled bars
// and bars inside the indicator warm-up are ignored.
func (f *Forest) Train(ctx context.Context, bars []types.Bar) error {
	type sample struct {
		features [numFeatures]float64
		label    int
	}
	var samples []sample
	for _, bar := range bars {
		if !bar.Labeled || !usableBar(bar) {
			continue
		}
		samples = append(samples, sample{features: featureVector(bar), label: bar.Label})
	}
	if len(samples) < minTrainingBars {
		return fmt.Errorf("%w: %d labeled bars, need %d", ErrInsufficientData, len(samples), minTrainingBars)
	}

	rng := rand.New(rand.NewSource(f.seed))
	stumps := make([]stump, 0, f.numTrees)
	for i := 0; i < f.numTrees; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		// Bootstrap sample, then split on one random feature at a
		// threshold drawn from the sample's own values.
		boot := make([]sample, len(samples))
		for j := range boot {
			boot[j] = samples[rng.Intn(len(samples))]
		}
		feat := rng.Intn(numFeatures)
		threshold := boot[rng.Intn(len(boot))].features[feat]

		var left, right [3]int // counts indexed by label+1
		for _, s := range boot {
			if s.features[feat] <= threshold {
				left[s.label+1]++
			} else {
				right[s.label+1]++
			}
		}
		stumps = append(stumps, stump{
			feature:    feat,
			threshold:  threshold,
			leftLabel:  majorityLabel(left),
			rightLabel: majorityLabel(right),
		})
	}

	f.mu.Lock()
	f.stumps = stumps
	f.mu.Unlock()
	return nil
}

func majorityLabel(counts [3]int) int {
	best, bestCount := 0, -1
	// Iterate down, up, flat so ties between down and up resolve to
	// the stronger-evidence side seen first and never invent a signal.
	for _, label := range []int{0, 2, 1} {
		if counts[label] > bestCount {
			best, bestCount = label, counts[label]
		}
	}
	return best - 1
}

// Predict votes all stumps on the bar's features. Confidence is the
// winning vote share.
func (f *Forest) Predict(ctx context.Context, bar types.Bar) (types.Prediction, error) {
	f.mu.RLock()
	stumps := f.stumps
	f.mu.RUnlock()

	if len(stumps) == 0 {
		return types.Prediction{}, errors.New("forest is not trained")
	}
	if !usableBar(bar) {
		return types.Prediction{Signal: 0, Confidence: 0}, nil
	}

	fv := featureVector(bar)
	var votes [3]int
	for _, s := range stumps {
		label := s.rightLabel
		if fv[s.feature] <= s.threshold {
			label = s.leftLabel
		}
		votes[label+1]++
	}

	signal := majorityLabel(votes)
	return types.Prediction{
		Signal:     signal,
		Confidence: float64(votes[signal+1]) / float64(len(stumps)),
	}, nil
}
