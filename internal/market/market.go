// Package market fetches economic headlines and the USD/BRL quote shown next
// to the dashboard, with caching and static fallbacks.
package market

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"finvue/internal/cache"
	"finvue/internal/core"
	"finvue/internal/log"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
)

var (
	ErrNoNews  = errors.New("feed has no headlines")
	ErrNoQuote = errors.New("quote not available")
)

const (
	DefaultNewsURL = "https://ok.surf/api/v1/news-feed"
	DefaultFXURL   = "https://economia.awesomeapi.com.br/last/USD-BRL"

	maxBodyBytes = 2 << 20
	newsKey      = "news"
	quoteKey     = "quote"
)

type Config struct {
	NewsURL  string
	RSSURL   string
	FXURL    string
	NewsTTL  time.Duration
	QuoteTTL time.Duration
	MaxItems int
	Timeout  time.Duration
}

func DefaultConfig() Config {
	return Config{
		NewsURL:  DefaultNewsURL,
		FXURL:    DefaultFXURL,
		NewsTTL:  5 * time.Minute,
		QuoteTTL: time.Minute,
		MaxItems: 8,
		Timeout:  10 * time.Second,
	}
}

// Quote is the latest exchange rate for a currency pair.
type Quote struct {
	Code      string          `json:"code"`
	Bid       decimal.Decimal `json:"bid"`
	PctChange decimal.Decimal `json:"pctChange"`
	CreatedAt string          `json:"createdAt"`
}

func (q Quote) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Code      string      `json:"code"`
		Bid       json.Number `json:"bid"`
		PctChange json.Number `json:"pctChange"`
		CreatedAt string      `json:"createdAt"`
	}{q.Code, core.JSONNumber(q.Bid), core.JSONNumber(q.PctChange), q.CreatedAt})
}

type Snapshot struct {
	News       News      `json:"news"`
	Quote      *Quote    `json:"quote"`
	QuoteError string    `json:"quoteError,omitempty"`
	FetchedAt  time.Time `json:"fetchedAt"`
}

type Client struct {
	http   *http.Client
	cfg    Config
	news   *cache.LRUCache[News]
	quotes *cache.LRUCache[Quote]
	logger *log.Logger
}

// New builds a client. Its caches are registered with manager when one is
// given.
func New(cfg Config, httpClient *http.Client, manager *cache.Manager, logger *log.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	if cfg.MaxItems <= 0 {
		cfg.MaxItems = 8
	}
	if logger == nil {
		logger = log.FromContext(context.Background())
	}
	c := &Client{
		http:   httpClient,
		cfg:    cfg,
		news:   cache.NewLRUCache[News](1, cfg.NewsTTL),
		quotes: cache.NewLRUCache[Quote](1, cfg.QuoteTTL),
		logger: logger.WithComponent(log.ComponentMarket),
	}
	if manager != nil {
		manager.Register("market_news", c.news)
		manager.Register("market_quote", c.quotes)
	}
	return c
}

func (c *Client) get(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json, application/rss+xml, text/xml")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("get %s: unexpected status %d", url, resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", url, err)
	}
	return body, nil
}

// News returns the current headlines. It never fails: when the JSON feed and
// the RSS feed are both down it serves stale headlines, then the static ones.
func (c *Client) News(ctx context.Context) News {
	if n, ok := c.news.Get(newsKey); ok {
		return n
	}

	items, err := c.fetchFeed(ctx)
	if err != nil && c.cfg.RSSURL != "" {
		c.logger.WarnContext(ctx, "News feed unavailable, trying RSS", log.FieldError, err)
		items, err = c.fetchRSS(ctx)
	}
	if err == nil {
		n := News{Items: items}
		c.news.Set(newsKey, n)
		return n
	}

	c.logger.WarnContext(ctx, "News unavailable, serving fallback headlines", log.FieldError, err)
	if n, ok := c.news.GetStale(newsKey); ok && !n.Fallback {
		return n
	}
	n := News{Items: FallbackNews(), Fallback: true}
	c.news.Set(newsKey, n)
	return n
}

func (c *Client) fetchFeed(ctx context.Context) ([]NewsItem, error) {
	if c.cfg.NewsURL == "" {
		return nil, ErrNoNews
	}
	body, err := c.get(ctx, c.cfg.NewsURL)
	if err != nil {
		return nil, err
	}
	return parseNewsFeed(body, c.cfg.MaxItems)
}

func (c *Client) fetchRSS(ctx context.Context) ([]NewsItem, error) {
	body, err := c.get(ctx, c.cfg.RSSURL)
	if err != nil {
		return nil, err
	}
	return parseRSS(body, c.cfg.MaxItems)
}

type fxQuote struct {
	Code       string          `json:"code"`
	Bid        decimal.Decimal `json:"bid"`
	PctChange  decimal.Decimal `json:"pctChange"`
	CreateDate string          `json:"create_date"`
}

// Quote returns the latest USD/BRL quote, or the last known one when the
// upstream is failing.
func (c *Client) Quote(ctx context.Context) (Quote, error) {
	if q, ok := c.quotes.Get(quoteKey); ok {
		return q, nil
	}

	q, err := c.fetchQuote(ctx)
	if err == nil {
		c.quotes.Set(quoteKey, q)
		return q, nil
	}
	if stale, ok := c.quotes.GetStale(quoteKey); ok {
		c.logger.WarnContext(ctx, "Quote unavailable, serving last known value", log.FieldError, err)
		return stale, nil
	}
	return Quote{}, err
}

func (c *Client) fetchQuote(ctx context.Context) (Quote, error) {
	body, err := c.get(ctx, c.cfg.FXURL)
	if err != nil {
		return Quote{}, err
	}
	var payload map[string]fxQuote
	if err := json.Unmarshal(body, &payload); err != nil {
		return Quote{}, fmt.Errorf("decode quote: %w", err)
	}
	for _, q := range payload {
		if q.Code == "" {
			continue
		}
		return Quote{Code: q.Code, Bid: q.Bid, PctChange: q.PctChange, CreatedAt: q.CreateDate}, nil
	}
	return Quote{}, ErrNoQuote
}

// Snapshot fetches headlines and the quote concurrently.
func (c *Client) Snapshot(ctx context.Context) Snapshot {
	var (
		snap     Snapshot
		quote    Quote
		quoteErr error
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		snap.News = c.News(gctx)
		return nil
	})
	g.Go(func() error {
		quote, quoteErr = c.Quote(gctx)
		return nil
	})
	_ = g.Wait()

	if quoteErr != nil {
		snap.QuoteError = quoteErr.Error()
	} else {
		snap.Quote = &quote
	}
	snap.FetchedAt = time.Now().UTC()
	return snap
}
