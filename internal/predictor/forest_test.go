package predictor

import (
	"context"
	"errors"
	"testing"

	"ml-crypto-trader/internal/types"
)

func bullishBar(ts int64) types.Bar {
	return types.Bar{
		Ts: ts, Open: 109, High: 112, Low: 108, Close: 110, Vol: 1000,
		Ind: types.Indicators{
			SMA50: 100, SMA200: 100,
			EMA12: 111, EMA26: 109,
			RSI:  20,
			MACD: 2, MACDSignal: 1,
			BBUpper: 111, BBMiddle: 108, BBLower: 105,
			ATR: 1, VolumeSMA: 1,
		},
		Label: 1, Labeled: true,
	}
}

func bearishBar(ts int64) types.Bar {
	return types.Bar{
		Ts: ts, Open: 91, High: 92, Low: 88, Close: 90, Vol: 1000,
		Ind: types.Indicators{
			SMA50: 100, SMA200: 100,
			EMA12: 89, EMA26: 91,
			RSI:  80,
			MACD: -2, MACDSignal: -1,
			BBUpper: 95, BBMiddle: 92, BBLower: 89,
			ATR: 1, VolumeSMA: 1,
		},
		Label: -1, Labeled: true,
	}
}

func trainingBars(n int) []types.Bar {
	bars := make([]types.Bar, 0, n)
	for i := 0; i < n; i++ {
		if i%2 == 0 {
			bars = append(bars, bullishBar(int64(i)))
		} else {
			bars = append(bars, bearishBar(int64(i)))
		}
	}
	return bars
}

func TestForestLearnsSeparablePattern(t *testing.T) {
	ctx := context.Background()
	f := NewForest(100, 42)
	if err := f.Train(ctx, trainingBars(120)); err != nil {
		t.Fatalf("Train: %v", err)
	}

	up, err := f.Predict(ctx, bullishBar(1000))
	if err != nil {
		t.Fatalf("Predict: %v", err)
	}
	if up.Signal != 1 {
		t.Errorf("bullish bar signal = %d, want 1", up.Signal)
	}
	if up.Confidence <= 0.5 {
		t.Errorf("bullish confidence = %f, want > 0.5", up.Confidence)
	}

	down, err := f.Predict(ctx, bearishBar(1001))
	if err != nil {
		t.Fatalf("Predict: %v", err)
	}
	if down.Signal != -1 {
		t.Errorf("bearish bar signal = %d, want -1", down.Signal)
	}
}

func TestForestDeterministicForSeed(t *testing.T) {
	ctx := context.Background()
	bars := trainingBars(120)

	a := NewForest(50, 7)
	b := NewForest(50, 7)
	if err := a.Train(ctx, bars); err != nil {
		t.Fatalf("Train a: %v", err)
	}
	if err := b.Train(ctx, bars); err != nil {
		t.Fatalf("Train b: %v", err)
	}

	sample := bullishBar(5000)
	pa, err := a.Predict(ctx, sample)
	if err != nil {
		t.Fatalf("Predict a: %v", err)
	}
	pb, err := b.Predict(ctx, sample)
	if err != nil {
		t.Fatalf("Predict b: %v", err)
	}
	if pa != pb {
		t.Errorf("same seed diverged: %+v vs %+v", pa, pb)
	}
}

func TestForestInsufficientData(t *testing.T) {
	ctx := context.Background()
	f := NewForest(50, 1)

	err := f.Train(ctx, trainingBars(minTrainingBars-1))
	if !errors.Is(err, ErrInsufficientData) {
		t.Errorf("Train error = %v, want ErrInsufficientData", err)
	}

	// Unlabeled bars do not count toward the minimum.
	bars := trainingBars(200)
	for i := range bars {
		if i >= 30 {
			bars[i].Labeled = false
		}
	}
	err = f.Train(ctx, bars)
	if !errors.Is(err, ErrInsufficientData) {
		t.Errorf("Train with mostly unlabeled bars = %v, want ErrInsufficientData", err)
	}
}

func TestForestPredictUntrained(t *testing.T) {
	f := NewForest(50, 1)
	if _, err := f.Predict(context.Background(), bullishBar(0)); err == nil {
		t.Error("expected error predicting with an untrained forest")
	}
}
