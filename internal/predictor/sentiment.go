package predictor

import (
	"context"

	"ml-crypto-trader/internal/interfaces"
	"ml-crypto-trader/internal/types"
)

// sentimentBand is the dead zone around zero inside which sentiment
// votes hold instead of a direction.
const sentimentBand = 0.2

// SentimentAdapter turns a news sentiment reading into an ensemble
// source signal.
type SentimentAdapter struct {
	src interfaces.SentimentSource
}

func NewSentimentAdapter(src interfaces.SentimentSource) *SentimentAdapter {
	return &SentimentAdapter{src: src}
}

// Signal returns the ensemble vote derived from current sentiment,
// along with the raw reading for gating and journaling.
func (a *SentimentAdapter) Signal(ctx context.Context, symbol string) (types.SourceSignal, types.NewsSentiment, error) {
	reading, err := a.src.Score(ctx, symbol)
	if err != nil {
		return types.SourceSignal{}, types.NewsSentiment{}, err
	}

	direction := types.Hold
	if reading.Score >= sentimentBand {
		direction = types.Long
	} else if reading.Score <= -sentimentBand {
		direction = types.Short
	}
	return types.SourceSignal{Direction: direction, Confidence: reading.Confidence}, reading, nil
}
