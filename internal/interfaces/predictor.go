package interfaces

import (
	"context"

	"ml-crypto-trader/internal/types"
)

// Predictor is a predictive model over enriched bars. Train fits the model
// on a labeled slice; Predict scores a single bar. Implementations that
// cannot be fitted in-process (e.g. exported ONNX graphs) return
// ErrTrainingUnsupported from Train.
type Predictor interface {
	Train(ctx context.Context, bars []types.Bar) error
	Predict(ctx context.Context, bar types.Bar) (types.Prediction, error)
}
