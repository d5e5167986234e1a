package news

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/gocolly/colly/v2"

	"ml-crypto-trader/internal/logger"
	"ml-crypto-trader/internal/types"
)

// Scraper collects crypto news headlines from configured sources.
type Scraper struct {
	sources []Source
	timeout time.Duration
	client  *http.Client
}

// Source is one scrapeable news site.
type Source struct {
	Name       string
	BaseURL    string
	SearchPath string // {asset} is replaced with the base asset name
	Selectors  Selectors
	RateLimit  time.Duration
}

// Selectors are the CSS selectors for pulling articles off a listing
// page.
type Selectors struct {
	Container   string
	Title       string
	URL         string
	Summary     string
	PublishedAt string
}

func NewScraper(timeout time.Duration) *Scraper {
	return &Scraper{
		sources: defaultSources(),
		timeout: timeout,
		client:  &http.Client{Timeout: timeout},
	}
}

func defaultSources() []Source {
	return []Source{
		{
			Name:       "CoinDesk",
			BaseURL:    "https://www.coindesk.com",
			SearchPath: "/search?s={asset}",
			Selectors: Selectors{
				Container:   "div.article-card",
				Title:       "h2 a, h3 a",
				URL:         "h2 a, h3 a",
				Summary:     "p",
				PublishedAt: "time",
			},
			RateLimit: 2 * time.Second,
		},
		{
			Name:       "Cointelegraph",
			BaseURL:    "https://cointelegraph.com",
			SearchPath: "/tags/{asset}",
			Selectors: Selectors{
				Container:   "article",
				Title:       "a span",
				URL:         "a",
				Summary:     "p",
				PublishedAt: "time",
			},
			RateLimit: 2 * time.Second,
		},
	}
}

// assetName maps a trading pair like BTCUSDT to the search term news
// sites index by.
func assetName(symbol string) string {
	base := strings.ToUpper(symbol)
	for _, quote := range []string{"USDT", "BUSD", "USDC", "USD"} {
		base = strings.TrimSuffix(base, quote)
	}
	names := map[string]string{
		"BTC":  "bitcoin",
		"ETH":  "ethereum",
		"BNB":  "binance",
		"SOL":  "solana",
		"XRP":  "ripple",
		"ADA":  "cardano",
		"DOGE": "dogecoin",
	}
	if name, ok := names[base]; ok {
		return name
	}
	return strings.ToLower(base)
}

// Scrape fetches up to maxArticles headlines for symbol across all
// sources. A failed source is skipped, not fatal.
func (s *Scraper) Scrape(ctx context.Context, symbol string, maxArticles int) ([]types.NewsArticle, error) {
	logger.Info(ctx, "Starting news scrape", "symbol", symbol, "sources", len(s.sources))

	perSource := maxArticles / len(s.sources)
	if perSource < 1 {
		perSource = 1
	}

	var all []types.NewsArticle
	for _, source := range s.sources {
		articles, err := s.scrapeSource(ctx, source, symbol, perSource)
		if err != nil {
			logger.ErrorWithErr(ctx, "Source scrape failed", err, "source", source.Name, "symbol", symbol)
			continue
		}
		all = append(all, articles...)

		select {
		case <-ctx.Done():
			return all, ctx.Err()
		case <-time.After(source.RateLimit):
		}
	}

	if len(all) == 0 {
		articles, err := s.scrapeGoogleNews(ctx, symbol, maxArticles)
		if err != nil {
			logger.ErrorWithErr(ctx, "Google News fallback failed", err, "symbol", symbol)
		}
		all = append(all, articles...)
	}

	logger.Info(ctx, "News scrape completed", "symbol", symbol, "articles", len(all))
	return all, nil
}

func (s *Scraper) scrapeSource(ctx context.Context, source Source, symbol string, maxArticles int) ([]types.NewsArticle, error) {
	var articles []types.NewsArticle

	c := colly.NewCollector(
		colly.AllowedDomains(hostOf(source.BaseURL)),
		colly.MaxDepth(1),
	)
	c.SetRequestTimeout(s.timeout)
	c.OnRequest(func(r *colly.Request) {
		r.Headers.Set("User-Agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36")
	})

	c.OnHTML(source.Selectors.Container, func(e *colly.HTMLElement) {
		if len(articles) >= maxArticles {
			return
		}
		title := strings.TrimSpace(e.ChildText(source.Selectors.Title))
		if title == "" {
			return
		}
		articleURL := e.ChildAttr(source.Selectors.URL, "href")
		if articleURL == "" {
			return
		}
		if !strings.HasPrefix(articleURL, "http") {
			articleURL = source.BaseURL + articleURL
		}

		articles = append(articles, types.NewsArticle{
			Source:      source.Name,
			Title:       title,
			URL:         articleURL,
			Content:     strings.TrimSpace(e.ChildText(source.Selectors.Summary)),
			PublishedAt: strings.TrimSpace(e.ChildText(source.Selectors.PublishedAt)),
		})
	})

	c.OnError(func(r *colly.Response, err error) {
		logger.ErrorWithErr(ctx, "Scrape error", err, "source", source.Name, "url", r.Request.URL.String())
	})

	searchURL := source.BaseURL + strings.ReplaceAll(source.SearchPath, "{asset}", assetName(symbol))
	if err := c.Visit(searchURL); err != nil {
		return nil, fmt.Errorf("visit %s: %w", searchURL, err)
	}
	c.Wait()

	return s.fillShortArticles(ctx, articles), nil
}

// fillShortArticles fetches the article body for entries whose listing
// summary was too thin to score.
func (s *Scraper) fillShortArticles(ctx context.Context, articles []types.NewsArticle) []types.NewsArticle {
	for i := range articles {
		if len(articles[i].Content) >= 100 {
			continue
		}
		if body := s.fetchBody(ctx, articles[i].URL); body != "" {
			articles[i].Content = body
		}
	}
	return articles
}

// fetchBody pulls paragraph text out of an article page.
func (s *Scraper) fetchBody(ctx context.Context, articleURL string) string {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, articleURL, nil)
	if err != nil {
		return ""
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36")

	resp, err := s.client.Do(req)
	if err != nil {
		logger.Debug(ctx, "Article body fetch failed", "url", articleURL, "error", err.Error())
		return ""
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return ""
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return ""
	}

	var paragraphs []string
	doc.Find("article p, div.article-body p, div.post-content p").Each(func(_ int, sel *goquery.Selection) {
		text := strings.TrimSpace(sel.Text())
		if len(text) > 20 {
			paragraphs = append(paragraphs, text)
		}
	})
	return strings.Join(paragraphs, "\n\n")
}

func (s *Scraper) scrapeGoogleNews(ctx context.Context, symbol string, maxArticles int) ([]types.NewsArticle, error) {
	var articles []types.NewsArticle

	c := colly.NewCollector(colly.AllowedDomains("news.google.com"))
	c.SetRequestTimeout(s.timeout)
	c.OnRequest(func(r *colly.Request) {
		r.Headers.Set("User-Agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36")
	})

	c.OnHTML("article", func(e *colly.HTMLElement) {
		if len(articles) >= maxArticles {
			return
		}
		title := e.ChildText("h3, h4")
		link := e.ChildAttr("a", "href")
		if title == "" || link == "" {
			return
		}
		if strings.HasPrefix(link, "./articles/") {
			link = "https://news.google.com" + link[1:]
		}
		articles = append(articles, types.NewsArticle{
			Source: "GoogleNews",
			Title:  title,
			URL:    link,
		})
	})

	query := url.QueryEscape(assetName(symbol) + " crypto")
	searchURL := fmt.Sprintf("https://news.google.com/search?q=%s&hl=en-US&gl=US&ceid=US:en", query)
	if err := c.Visit(searchURL); err != nil {
		return nil, fmt.Errorf("scrape google news: %w", err)
	}
	c.Wait()
	return articles, nil
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return u.Hostname()
}
