package news

import (
	"context"
	"testing"
	"time"

	"ml-crypto-trader/internal/types"
)

func TestDisabledServiceReturnsNeutral(t *testing.T) {
	cfg := DefaultServiceConfig()
	cfg.Enabled = false
	s := NewService(cfg)

	sentiment, err := s.Score(context.Background(), "BTCUSDT")
	if err != nil {
		t.Fatalf("Score: %v", err)
	}
	if sentiment.Label != "NEUTRAL" || sentiment.Score != 0 {
		t.Errorf("disabled service returned %s (%f), want NEUTRAL (0)", sentiment.Label, sentiment.Score)
	}
}

func TestCacheHitAndExpiry(t *testing.T) {
	cache := newSentimentCache(50 * time.Millisecond)

	want := types.NewsSentiment{Symbol: "BTCUSDT", Score: 0.5, Label: "POSITIVE"}
	cache.set("BTCUSDT", want)

	got, ok := cache.get("BTCUSDT")
	if !ok {
		t.Fatal("cache miss immediately after set")
	}
	if got.Score != want.Score {
		t.Errorf("cached score = %f, want %f", got.Score, want.Score)
	}

	time.Sleep(80 * time.Millisecond)
	if _, ok := cache.get("BTCUSDT"); ok {
		t.Error("cache hit after TTL expiry")
	}

	cache.prune()
	cache.mu.RLock()
	defer cache.mu.RUnlock()
	if len(cache.data) != 0 {
		t.Errorf("prune left %d entries, want 0", len(cache.data))
	}
}

func TestCacheMissUnknownSymbol(t *testing.T) {
	cache := newSentimentCache(time.Minute)
	if _, ok := cache.get("ETHUSDT"); ok {
		t.Error("cache hit for symbol never stored")
	}
}
