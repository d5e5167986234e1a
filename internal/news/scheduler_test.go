package news

import (
	"context"
	"testing"
	"time"
)

func TestSchedulerPublishesRefreshedReadings(t *testing.T) {
	service := NewService(ServiceConfig{Enabled: false, CacheTTL: time.Minute})
	s := NewScheduler(service, []string{"BTCUSDT", "ETHUSDT"}, time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	got := map[string]bool{}
	for i := 0; i < 2; i++ {
		select {
		case reading := <-s.Updates():
			got[reading.Symbol] = true
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for sentiment updates")
		}
	}
	if !got["BTCUSDT"] || !got["ETHUSDT"] {
		t.Errorf("updates = %v, want readings for both symbols", got)
	}

	cancel()
	<-done
	if _, open := <-s.Updates(); open {
		t.Error("updates channel still open after shutdown")
	}
}
