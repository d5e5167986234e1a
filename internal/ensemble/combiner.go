package ensemble

import (
	"errors"
	"fmt"

	"ml-crypto-trader/internal/types"
)

// Combiner fuses per-source signals into one decision by weighted
// voting. Weights are normalized once at construction so scores stay
// comparable to source confidences.
type Combiner struct {
	weights       map[string]float64
	minConfidence float64
}

func NewCombiner(weights map[string]float64, minConfidence float64) (*Combiner, error) {
	if len(weights) == 0 {
		return nil, errors.New("at least one source weight is required")
	}
	var total float64
	for name, w := range weights {
		if w < 0 {
			return nil, fmt.Errorf("weight for %s must be non-negative, got %f", name, w)
		}
		total += w
	}
	if total == 0 {
		return nil, errors.New("source weights sum to zero")
	}

	normalized := make(map[string]float64, len(weights))
	for name, w := range weights {
		normalized[name] = w / total
	}
	return &Combiner{weights: normalized, minConfidence: minConfidence}, nil
}

// Combine fuses the given source signals. Sources absent from the map
// simply contribute nothing; a source the combiner has no weight for is
// ignored. The fused direction is the highest-scoring of LONG, SHORT
// and HOLD, ties resolved in that order. A winning score below the
// minimum confidence downgrades the decision to HOLD while keeping the
// sub-threshold score as its confidence.
func (c *Combiner) Combine(sources map[string]types.SourceSignal) types.Signal {
	var buyScore, sellScore, holdScore float64
	for name, src := range sources {
		weight, ok := c.weights[name]
		if !ok {
			continue
		}
		switch src.Direction {
		case types.Long:
			buyScore += weight * src.Confidence
		case types.Short:
			sellScore += weight * src.Confidence
		default:
			holdScore += weight * src.Confidence
		}
	}

	direction := types.Long
	score := buyScore
	if sellScore > score {
		direction = types.Short
		score = sellScore
	}
	if holdScore > score {
		direction = types.Hold
		score = holdScore
	}

	if direction != types.Hold && score < c.minConfidence {
		direction = types.Hold
	}

	out := types.Signal{
		Direction:  direction,
		Confidence: score,
		Sources:    make(map[string]types.SourceSignal, len(sources)),
	}
	for name, src := range sources {
		out.Sources[name] = src
	}
	return out
}
