package predictor

import (
	"context"

	"ml-crypto-trader/internal/types"
)

// Neutral always predicts hold. Used as a placeholder source when a
// real model is disabled.
type Neutral struct{}

func (Neutral) Train(ctx context.Context, bars []types.Bar) error { return nil }

func (Neutral) Predict(ctx context.Context, bar types.Bar) (types.Prediction, error) {
	return types.Prediction{Signal: 0, Confidence: 0.5}, nil
}
