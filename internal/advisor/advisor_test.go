package advisor

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"finvue/internal/core"
	"finvue/internal/storage/memory"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeGenerator struct {
	mu       sync.Mutex
	requests []TextRequest
	text     func(ctx context.Context, req TextRequest) (string, error)
	image    func(ctx context.Context, model, prompt string) (Image, error)
}

func (f *fakeGenerator) GenerateText(ctx context.Context, req TextRequest) (string, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	fn := f.text
	f.mu.Unlock()
	return fn(ctx, req)
}

func (f *fakeGenerator) GenerateImage(ctx context.Context, model, prompt string) (Image, error) {
	return f.image(ctx, model, prompt)
}

func (f *fakeGenerator) calls() []TextRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]TextRequest(nil), f.requests...)
}

func reply(text string, err error) func(context.Context, TextRequest) (string, error) {
	return func(context.Context, TextRequest) (string, error) { return text, err }
}

func newTestService(t *testing.T, gen Generator) (*Service, *memory.Store) {
	t.Helper()
	store := memory.New()
	s, err := New(gen, store, DefaultConfig(), nil)
	require.NoError(t, err)
	t.Cleanup(s.Close)
	return s, store
}

func januaryRecord(t *testing.T) (core.Record, core.Aggregates) {
	t.Helper()
	r, _ := core.SetMonthValue(core.Record{}, core.IncomeFixed, 0, decimal.NewFromInt(5000))
	r, _ = core.SetMonthValue(r, core.IncomeInvestments, 0, decimal.NewFromInt(500))
	r, _ = core.SetMonthValue(r, core.ExpenseFixed, 0, decimal.NewFromInt(3000))
	agg, err := core.Aggregate(r, 0, core.FullYear)
	require.NoError(t, err)
	return r, agg
}

func TestAdviceUsesMonthFiguresAndCaches(t *testing.T) {
	gen := &fakeGenerator{text: reply("  Continue investindo!  ", nil)}
	s, _ := newTestService(t, gen)
	r, agg := januaryRecord(t)

	got := s.Advice(context.Background(), "u1", r, agg, 0)
	assert.Equal(t, Reply{Text: "Continue investindo!"}, got)

	calls := gen.calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "gemini-3-flash-preview", calls[0].Model)
	for _, want := range []string{"Janeiro", "Renda Bruta: R$5000", "Valor Investido: R$500", "Gastos Totais: R$3000", "Saldo Final: R$1500"} {
		assert.Contains(t, calls[0].Prompt, want)
	}

	s.cache.Wait()
	again := s.Advice(context.Background(), "u1", r, agg, 0)
	assert.True(t, again.Cached)
	assert.Equal(t, "Continue investindo!", again.Text)
	assert.Len(t, gen.calls(), 1)

	// Another user with the same figures is not served from u1's entry.
	s.Advice(context.Background(), "u2", r, agg, 0)
	assert.Len(t, gen.calls(), 2)
}

func TestAdviceFallbacks(t *testing.T) {
	r, agg := januaryRecord(t)
	cases := []struct {
		name string
		text string
		err  error
		want string
	}{
		{"empty response", "   ", nil, AdviceEmptyFallback},
		{"model error", "", errors.New("quota exceeded"), AdviceErrorFallback},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			gen := &fakeGenerator{text: reply(tc.text, tc.err)}
			s, _ := newTestService(t, gen)
			got := s.Advice(context.Background(), "u1", r, agg, 0)
			assert.Equal(t, tc.want, got.Text)
			assert.True(t, got.Fallback)
		})
	}

	s, _ := newTestService(t, &fakeGenerator{text: reply("x", nil)})
	assert.Equal(t, AdviceErrorFallback, s.Advice(context.Background(), "u1", r, agg, 12).Text)
}

func TestNewerRequestSupersedesInFlight(t *testing.T) {
	started := make(chan struct{})
	var n int
	var mu sync.Mutex
	gen := &fakeGenerator{text: func(ctx context.Context, req TextRequest) (string, error) {
		mu.Lock()
		n++
		first := n == 1
		mu.Unlock()
		if first {
			close(started)
			<-ctx.Done()
			return "", ctx.Err()
		}
		return "Resposta nova", nil
	}}
	s, _ := newTestService(t, gen)
	r, _ := januaryRecord(t)

	firstReply := make(chan Reply, 1)
	go func() { firstReply <- s.Chat(context.Background(), "u1", "primeira", r, nil) }()

	select {
	case <-started:
	case <-time.After(time.Second):
		t.Fatal("first chat did not reach the generator")
	}
	second := s.Chat(context.Background(), "u1", "segunda", r, nil)
	assert.Equal(t, "Resposta nova", second.Text)

	select {
	case got := <-firstReply:
		assert.True(t, got.Superseded)
		assert.True(t, got.Fallback)
		assert.Equal(t, ChatErrorFallback, got.Text)
	case <-time.After(time.Second):
		t.Fatal("superseded chat did not return")
	}
	assert.Zero(t, s.flights.inflight())
}

func TestRequestsOfDifferentUsersDoNotCancelEachOther(t *testing.T) {
	f := newFlights()
	ctxA, doneA := f.start(context.Background(), "a", kindAdvice)
	ctxB, doneB := f.start(context.Background(), "b", kindAdvice)
	_, doneChat := f.start(context.Background(), "a", kindChat)

	assert.NoError(t, ctxA.Err())
	assert.NoError(t, ctxB.Err())
	assert.False(t, doneA())
	assert.False(t, doneB())
	assert.False(t, doneChat())
	assert.Zero(t, f.inflight())
}

const outlookJSON = `{
  "sentiment": "Bullish",
  "explanation": "Juros em queda favorecem risco. Dólar estável.",
  "shortTerm": {"outlook": "Alta moderada", "risk": "medium", "portfolio": ["IVVB11"]},
  "mediumTerm": {"outlook": "Crescimento", "risk": "low", "portfolio": ["Tesouro IPCA+"]},
  "longTerm": {"outlook": "Positivo", "risk": "low", "portfolio": ["Ações globais"]},
  "drivers": ["Política monetária"]
}`

func TestMarketOutlook(t *testing.T) {
	gen := &fakeGenerator{text: reply(outlookJSON, nil)}
	s, _ := newTestService(t, gen)

	o := s.MarketOutlook(context.Background(), "u1", []string{"FED corta juros", " ", "PIB cresce"})
	require.NotNil(t, o)
	assert.Equal(t, Bullish, o.Sentiment)
	assert.Equal(t, []string{"IVVB11"}, o.ShortTerm.Portfolio)

	calls := gen.calls()
	require.Len(t, calls, 1)
	assert.Contains(t, calls[0].Prompt, "FED corta juros | PIB cresce")
	require.NotNil(t, calls[0].ResponseSchema)
	assert.Equal(t, []string{"sentiment", "explanation", "shortTerm", "mediumTerm", "longTerm", "drivers"},
		calls[0].ResponseSchema.PropertyOrdering)
}

func TestMarketOutlookFailuresReturnNil(t *testing.T) {
	cases := []struct {
		name string
		text string
		err  error
	}{
		{"model error", "", errors.New("unavailable")},
		{"invalid json", "not json", nil},
		{"unknown sentiment", `{"sentiment":"Sideways","explanation":"x"}`, nil},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s, _ := newTestService(t, &fakeGenerator{text: reply(tc.text, tc.err)})
			assert.Nil(t, s.MarketOutlook(context.Background(), "u1", []string{"headline"}))
		})
	}

	gen := &fakeGenerator{text: reply(outlookJSON, nil)}
	s, _ := newTestService(t, gen)
	assert.Nil(t, s.MarketOutlook(context.Background(), "u1", nil))
	assert.Empty(t, gen.calls())
}

func TestChatSendsRecordAndHistory(t *testing.T) {
	gen := &fakeGenerator{text: reply("Reduza o cartão.", nil)}
	s, _ := newTestService(t, gen)
	r, _ := januaryRecord(t)

	history := []Message{
		{Role: "user", Text: "Oi"},
		{Role: "assistant", Text: "Olá!"},
		{Role: "system", Text: "ignored"},
		{Role: "user", Text: ""},
	}
	got := s.Chat(context.Background(), "u1", "Como economizar?", r, history)
	assert.Equal(t, Reply{Text: "Reduza o cartão."}, got)

	calls := gen.calls()
	require.Len(t, calls, 1)
	req := calls[0]
	assert.Equal(t, "gemini-3-pro-preview", req.Model)
	assert.Equal(t, int32(32768), req.ThinkingBudget)
	assert.Contains(t, req.System, "Agente FinVue")
	assert.Contains(t, req.System, `"fixed":[5000,`)
	assert.Equal(t, []Message{{Role: "user", Text: "Oi"}, {Role: "model", Text: "Olá!"}}, req.History)
	assert.Equal(t, "Como economizar?", req.Prompt)
}

func TestChatFallbacks(t *testing.T) {
	s, _ := newTestService(t, &fakeGenerator{text: reply("", errors.New("boom"))})
	assert.Equal(t, ChatErrorFallback, s.Chat(context.Background(), "u1", "oi", core.Record{}, nil).Text)

	s, _ = newTestService(t, &fakeGenerator{text: reply("", nil)})
	assert.Equal(t, ChatEmptyFallback, s.Chat(context.Background(), "u1", "oi", core.Record{}, nil).Text)
	assert.Equal(t, ChatEmptyFallback, s.Chat(context.Background(), "u1", "  ", core.Record{}, nil).Text)
}

func TestNormalizeHistoryKeepsMostRecent(t *testing.T) {
	var h []Message
	for i := 0; i < 10; i++ {
		h = append(h, Message{Role: "user", Text: strings.Repeat("x", i+1)})
	}
	got := normalizeHistory(h, 3)
	require.Len(t, got, 3)
	assert.Equal(t, strings.Repeat("x", 10), got[2].Text)
}

func TestWealthVisionStoresAsset(t *testing.T) {
	gen := &fakeGenerator{image: func(_ context.Context, model, prompt string) (Image, error) {
		assert.Equal(t, "gemini-2.5-flash-image", model)
		assert.Contains(t, prompt, "Theme: Bearish")
		return Image{Data: []byte{0x89, 'P', 'N', 'G'}}, nil
	}}
	s, store := newTestService(t, gen)

	asset, err := s.WealthVision(context.Background(), "u1", Outlook{Sentiment: Bearish, Explanation: "Crise"})
	require.NoError(t, err)
	assert.Equal(t, "data:image/png;base64,iVBORw==", asset.ImageURL)
	assert.Equal(t, "wealth_vision", asset.Category)

	assets, err := store.ListAssets(context.Background(), "u1")
	require.NoError(t, err)
	require.Len(t, assets, 1)
	assert.Equal(t, asset.ID, assets[0].ID)
}

func TestWealthVisionWithoutImage(t *testing.T) {
	gen := &fakeGenerator{image: func(context.Context, string, string) (Image, error) { return Image{}, ErrNoImage }}
	s, store := newTestService(t, gen)

	_, err := s.WealthVision(context.Background(), "u1", Outlook{Sentiment: Neutral, Explanation: "x"})
	assert.ErrorIs(t, err, ErrNoImage)
	assets, _ := store.ListAssets(context.Background(), "u1")
	assert.Empty(t, assets)
}

func TestUnconfiguredServesFallbacks(t *testing.T) {
	s, _ := newTestService(t, Unconfigured{})
	r, agg := januaryRecord(t)

	assert.Equal(t, AdviceErrorFallback, s.Advice(context.Background(), "u1", r, agg, 0).Text)
	assert.Equal(t, ChatErrorFallback, s.Chat(context.Background(), "u1", "oi", r, nil).Text)
	assert.Nil(t, s.MarketOutlook(context.Background(), "u1", []string{"Selic sobe"}))

	_, err := s.WealthVision(context.Background(), "u1", Outlook{Sentiment: Neutral, Explanation: "x"})
	assert.ErrorIs(t, err, ErrNotConfigured)
}
