package news

import (
	"context"
	"sync"
	"time"

	"ml-crypto-trader/internal/logger"
	"ml-crypto-trader/internal/types"
)

// ServiceConfig configures the sentiment service.
type ServiceConfig struct {
	Enabled        bool
	MaxArticles    int
	CacheTTL       time.Duration
	ScraperTimeout time.Duration
}

func DefaultServiceConfig() ServiceConfig {
	return ServiceConfig{
		Enabled:        true,
		MaxArticles:    20,
		CacheTTL:       time.Hour,
		ScraperTimeout: 30 * time.Second,
	}
}

// Service scrapes, scores and caches news sentiment per symbol. It
// implements the sentiment source consumed by the ensemble.
type Service struct {
	scraper  *Scraper
	analyzer *Analyzer
	cache    *sentimentCache
	cfg      ServiceConfig
}

type sentimentCache struct {
	mu   sync.RWMutex
	data map[string]cacheEntry
	ttl  time.Duration
}

type cacheEntry struct {
	sentiment types.NewsSentiment
	storedAt  time.Time
}

func newSentimentCache(ttl time.Duration) *sentimentCache {
	return &sentimentCache{data: make(map[string]cacheEntry), ttl: ttl}
}

func (c *sentimentCache) get(symbol string) (types.NewsSentiment, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, ok := c.data[symbol]
	if !ok || time.Since(entry.storedAt) > c.ttl {
		return types.NewsSentiment{}, false
	}
	return entry.sentiment, true
}

func (c *sentimentCache) set(symbol string, sentiment types.NewsSentiment) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[symbol] = cacheEntry{sentiment: sentiment, storedAt: time.Now()}
}

func (c *sentimentCache) prune() {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := time.Now()
	for symbol, entry := range c.data {
		if now.Sub(entry.storedAt) > c.ttl {
			delete(c.data, symbol)
		}
	}
}

func NewService(cfg ServiceConfig) *Service {
	return &Service{
		scraper:  NewScraper(cfg.ScraperTimeout),
		analyzer: NewAnalyzer(),
		cache:    newSentimentCache(cfg.CacheTTL),
		cfg:      cfg,
	}
}

// Score returns sentiment for symbol, cached when fresh. Fetch
// failures degrade to a neutral reading instead of an error so a dead
// news site never stalls trading.
func (s *Service) Score(ctx context.Context, symbol string) (types.NewsSentiment, error) {
	if !s.cfg.Enabled {
		return neutral(symbol), nil
	}

	if cached, ok := s.cache.get(symbol); ok {
		logger.Debug(ctx, "Using cached sentiment", "symbol", symbol, "score", cached.Score)
		return cached, nil
	}

	sentiment, err := s.Refresh(ctx, symbol)
	if err != nil {
		logger.ErrorWithErr(ctx, "Sentiment fetch failed, using neutral", err, "symbol", symbol)
		return neutral(symbol), nil
	}
	return sentiment, nil
}

// Refresh fetches fresh sentiment for symbol, bypassing the cache.
func (s *Service) Refresh(ctx context.Context, symbol string) (types.NewsSentiment, error) {
	if !s.cfg.Enabled {
		return neutral(symbol), nil
	}

	articles, err := s.scraper.Scrape(ctx, symbol, s.cfg.MaxArticles)
	if err != nil && len(articles) == 0 {
		return types.NewsSentiment{}, err
	}

	sentiment := s.analyzer.Aggregate(ctx, symbol, articles)
	s.cache.set(symbol, sentiment)
	return sentiment, nil
}

func neutral(symbol string) types.NewsSentiment {
	return types.NewsSentiment{
		Symbol:    symbol,
		Label:     "NEUTRAL",
		Timestamp: time.Now().Unix(),
	}
}
