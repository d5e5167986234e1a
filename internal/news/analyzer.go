package news

import (
	"context"
	"math"
	"strings"
	"time"

	"ml-crypto-trader/internal/logger"
	"ml-crypto-trader/internal/types"
)

// Word lists for headline scoring. Tuned for crypto market language;
// each hit counts once per occurrence.
var positiveWords = map[string]float64{
	"surge": 1, "surges": 1, "rally": 1, "rallies": 1, "soar": 1, "soars": 1,
	"gain": 0.7, "gains": 0.7, "bullish": 1, "breakout": 0.8, "record": 0.6,
	"high": 0.4, "adoption": 0.7, "approval": 0.8, "approved": 0.8,
	"upgrade": 0.6, "growth": 0.6, "profit": 0.6, "recover": 0.7,
	"recovery": 0.7, "rebound": 0.7, "rise": 0.5, "rises": 0.5,
	"jump": 0.6, "jumps": 0.6, "optimism": 0.7, "boost": 0.6,
	"institutional": 0.4, "inflow": 0.6, "inflows": 0.6, "milestone": 0.5,
}

var negativeWords = map[string]float64{
	"crash": 1, "crashes": 1, "plunge": 1, "plunges": 1, "dump": 0.8,
	"bearish": 1, "selloff": 0.9, "sell-off": 0.9, "drop": 0.5, "drops": 0.5,
	"fall": 0.5, "falls": 0.5, "decline": 0.5, "declines": 0.5,
	"hack": 1, "hacked": 1, "exploit": 0.9, "fraud": 1, "scam": 1,
	"ban": 0.8, "banned": 0.8, "lawsuit": 0.7, "sec": 0.3, "fine": 0.5,
	"fear": 0.6, "panic": 0.8, "liquidation": 0.7, "liquidations": 0.7,
	"outflow": 0.6, "outflows": 0.6, "bankruptcy": 1, "collapse": 1,
	"warning": 0.5, "risk": 0.3, "loss": 0.5, "losses": 0.5,
}

// Analyzer scores article text with a weighted keyword lexicon.
type Analyzer struct{}

func NewAnalyzer() *Analyzer {
	return &Analyzer{}
}

// ScoreText returns a sentiment polarity in [-1, 1] for one text.
func (a *Analyzer) ScoreText(text string) float64 {
	var pos, neg float64
	for _, raw := range strings.Fields(strings.ToLower(text)) {
		word := strings.Trim(raw, ".,!?;:'\"()[]")
		if w, ok := positiveWords[word]; ok {
			pos += w
		}
		if w, ok := negativeWords[word]; ok {
			neg += w
		}
	}
	if pos+neg == 0 {
		return 0
	}
	return (pos - neg) / (pos + neg)
}

// Aggregate scores a batch of articles into one sentiment reading.
// Score is the mean article polarity, confidence its magnitude damped
// by sample size so a single headline never looks certain.
func (a *Analyzer) Aggregate(ctx context.Context, symbol string, articles []types.NewsArticle) types.NewsSentiment {
	var sum float64
	scored := 0
	for _, article := range articles {
		text := article.Title
		if article.Content != "" {
			text += ". " + article.Content
		}
		if strings.TrimSpace(text) == "" {
			continue
		}
		sum += a.ScoreText(text)
		scored++
	}

	sentiment := types.NewsSentiment{
		Symbol:       symbol,
		Label:        "NEUTRAL",
		ArticleCount: scored,
		Timestamp:    time.Now().Unix(),
	}
	if scored > 0 {
		sentiment.Score = sum / float64(scored)
		sentiment.Confidence = math.Abs(sentiment.Score) * sampleWeight(scored)
	}
	switch {
	case sentiment.Score > 0.1:
		sentiment.Label = "POSITIVE"
	case sentiment.Score < -0.1:
		sentiment.Label = "NEGATIVE"
	}

	logger.Info(ctx, "Sentiment aggregated",
		"symbol", symbol, "score", sentiment.Score, "label", sentiment.Label, "articles", scored)
	return sentiment
}

// sampleWeight ramps from 0 toward 1 as the article count grows.
func sampleWeight(n int) float64 {
	if n >= 10 {
		return 1
	}
	return float64(n) / 10
}
