// Package advisor produces AI commentary on a Financial Record: one-line
// advice, a structured market outlook, chat answers and generated images.
// Every text operation degrades to a fixed fallback instead of failing.
package advisor

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"finvue/internal/core"
	"finvue/internal/log"
	"finvue/internal/storage"

	"github.com/dgraph-io/ristretto/v2"
)

type Sentiment string

const (
	Bullish Sentiment = "Bullish"
	Bearish Sentiment = "Bearish"
	Neutral Sentiment = "Neutral"
)

// Horizon is the forecast for one time horizon.
type Horizon struct {
	Outlook   string   `json:"outlook"`
	Risk      string   `json:"risk"`
	Portfolio []string `json:"portfolio"`
}

type Outlook struct {
	Sentiment   Sentiment `json:"sentiment"`
	Explanation string    `json:"explanation"`
	ShortTerm   Horizon   `json:"shortTerm"`
	MediumTerm  Horizon   `json:"mediumTerm"`
	LongTerm    Horizon   `json:"longTerm"`
	Drivers     []string  `json:"drivers"`
}

// Valid reports whether o has a known sentiment and an explanation.
func (o Outlook) Valid() bool {
	switch o.Sentiment {
	case Bullish, Bearish, Neutral:
		return strings.TrimSpace(o.Explanation) != ""
	}
	return false
}

// Reply is the result of a text operation.
type Reply struct {
	Text       string `json:"text"`
	Fallback   bool   `json:"fallback"`
	Cached     bool   `json:"cached,omitempty"`
	Superseded bool   `json:"superseded,omitempty"`
}

type Config struct {
	AdviceModel        string
	OutlookModel       string
	ChatModel          string
	ImageModel         string
	ChatThinkingBudget int32
	AdviceCacheTTL     time.Duration
	MaxHistory         int
	RequestTimeout     time.Duration
}

func DefaultConfig() Config {
	return Config{
		AdviceModel:        "gemini-3-flash-preview",
		OutlookModel:       "gemini-3-flash-preview",
		ChatModel:          "gemini-3-pro-preview",
		ImageModel:         "gemini-2.5-flash-image",
		ChatThinkingBudget: 32768,
		AdviceCacheTTL:     30 * time.Minute,
		MaxHistory:         40,
		RequestTimeout:     90 * time.Second,
	}
}

type Service struct {
	gen     Generator
	assets  storage.AssetStore
	cfg     Config
	cache   *ristretto.Cache[string, string]
	flights *flights
	logger  *log.Logger
}

func New(gen Generator, assets storage.AssetStore, cfg Config, logger *log.Logger) (*Service, error) {
	cache, err := ristretto.NewCache(&ristretto.Config[string, string]{
		NumCounters: 1e4,
		MaxCost:     1 << 20,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("create advice cache: %w", err)
	}
	if logger == nil {
		logger = log.FromContext(context.Background())
	}
	return &Service{
		gen:     gen,
		assets:  assets,
		cfg:     cfg,
		cache:   cache,
		flights: newFlights(),
		logger:  logger.WithComponent(log.ComponentAdvisor),
	}, nil
}

func (s *Service) Close() {
	s.cache.Close()
}

func (s *Service) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.cfg.RequestTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.cfg.RequestTimeout)
}

// Advice returns one motivational sentence about month. Answers are cached
// per user and figures, so repeated requests for an unchanged month do not
// reach the model.
func (s *Service) Advice(ctx context.Context, userID string, r core.Record, agg core.Aggregates, month int) Reply {
	if err := core.ValidateMonth(month); err != nil {
		return Reply{Text: AdviceErrorFallback, Fallback: true}
	}
	f := figuresFor(r, agg, month)
	key := f.key(userID)
	if text, ok := s.cache.Get(key); ok {
		return Reply{Text: text, Cached: true}
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	ctx, done := s.flights.start(ctx, userID, kindAdvice)
	text, err := s.gen.GenerateText(ctx, TextRequest{Model: s.cfg.AdviceModel, Prompt: advicePrompt(f)})
	superseded := done()

	switch {
	case err != nil && superseded:
		return Reply{Text: AdviceErrorFallback, Fallback: true, Superseded: true}
	case err != nil:
		s.logger.WarnContext(ctx, "Advice generation failed",
			log.FieldUserID, userID, log.FieldModel, s.cfg.AdviceModel, log.FieldError, err)
		return Reply{Text: AdviceErrorFallback, Fallback: true}
	}

	text = strings.TrimSpace(text)
	if text == "" {
		return Reply{Text: AdviceEmptyFallback, Fallback: true}
	}
	s.cache.SetWithTTL(key, text, int64(len(text)), s.cfg.AdviceCacheTTL)
	return Reply{Text: text}
}

// MarketOutlook asks for a schema-constrained outlook on headlines. It
// returns nil on any failure.
func (s *Service) MarketOutlook(ctx context.Context, userID string, headlines []string) *Outlook {
	clean := make([]string, 0, len(headlines))
	for _, h := range headlines {
		if h = strings.TrimSpace(h); h != "" {
			clean = append(clean, h)
		}
	}
	if len(clean) == 0 {
		return nil
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	ctx, done := s.flights.start(ctx, userID, kindOutlook)
	text, err := s.gen.GenerateText(ctx, TextRequest{
		Model:          s.cfg.OutlookModel,
		Prompt:         outlookPrompt(clean),
		ResponseSchema: outlookSchema(),
	})
	superseded := done()
	if err != nil {
		if !superseded {
			s.logger.WarnContext(ctx, "Market outlook generation failed",
				log.FieldUserID, userID, log.FieldModel, s.cfg.OutlookModel, log.FieldError, err)
		}
		return nil
	}

	var o Outlook
	if err := json.Unmarshal([]byte(text), &o); err != nil || !o.Valid() {
		s.logger.WarnContext(ctx, "Market outlook response rejected",
			log.FieldUserID, userID, log.FieldError, err)
		return nil
	}
	return &o
}

// Chat answers message with the user's full record as context.
func (s *Service) Chat(ctx context.Context, userID, message string, r core.Record, history []Message) Reply {
	message = strings.TrimSpace(message)
	if message == "" {
		return Reply{Text: ChatEmptyFallback, Fallback: true}
	}
	recordJSON, err := json.Marshal(r)
	if err != nil {
		return Reply{Text: ChatErrorFallback, Fallback: true}
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	ctx, done := s.flights.start(ctx, userID, kindChat)
	text, err := s.gen.GenerateText(ctx, TextRequest{
		Model:          s.cfg.ChatModel,
		System:         chatSystemInstruction(recordJSON),
		History:        normalizeHistory(history, s.cfg.MaxHistory),
		Prompt:         message,
		ThinkingBudget: s.cfg.ChatThinkingBudget,
	})
	superseded := done()

	switch {
	case err != nil && superseded:
		return Reply{Text: ChatErrorFallback, Fallback: true, Superseded: true}
	case err != nil:
		s.logger.WarnContext(ctx, "Chat generation failed",
			log.FieldUserID, userID, log.FieldModel, s.cfg.ChatModel, log.FieldError, err)
		return Reply{Text: ChatErrorFallback, Fallback: true}
	}
	if text = strings.TrimSpace(text); text == "" {
		return Reply{Text: ChatEmptyFallback, Fallback: true}
	}
	return Reply{Text: text}
}

// WealthVision renders an image for outlook and stores it as a Generated
// Asset.
func (s *Service) WealthVision(ctx context.Context, userID string, o Outlook) (storage.Asset, error) {
	prompt := visionPrompt(o)

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	ctx, done := s.flights.start(ctx, userID, kindVision)
	img, err := s.gen.GenerateImage(ctx, s.cfg.ImageModel, prompt)
	done()
	if err != nil {
		return storage.Asset{}, fmt.Errorf("generate wealth vision: %w", err)
	}

	mime := img.MIMEType
	if mime == "" {
		mime = "image/png"
	}
	asset, err := s.assets.AppendAsset(ctx, storage.Asset{
		UserID:   userID,
		Prompt:   prompt,
		ImageURL: "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(img.Data),
		Category: storage.DefaultAssetCategory,
	})
	if err != nil {
		return storage.Asset{}, fmt.Errorf("store wealth vision: %w", err)
	}
	s.logger.InfoContext(ctx, "Wealth vision generated",
		log.FieldUserID, userID, "asset_id", asset.ID)
	return asset, nil
}

// Assets lists the user's generated assets, newest first.
func (s *Service) Assets(ctx context.Context, userID string) ([]storage.Asset, error) {
	return s.assets.ListAssets(ctx, userID)
}

func normalizeHistory(history []Message, max int) []Message {
	out := make([]Message, 0, len(history))
	for _, m := range history {
		role := strings.ToLower(strings.TrimSpace(m.Role))
		if role == "assistant" {
			role = "model"
		}
		if (role != "user" && role != "model") || strings.TrimSpace(m.Text) == "" {
			continue
		}
		out = append(out, Message{Role: role, Text: m.Text})
	}
	if max > 0 && len(out) > max {
		out = out[len(out)-max:]
	}
	return out
}
