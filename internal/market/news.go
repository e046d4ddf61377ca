package market

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/beevik/etree"
)

type Relevance string

const (
	RelevanceHigh   Relevance = "high"
	RelevanceMedium Relevance = "medium"
	RelevanceLow    Relevance = "low"
)

const (
	defaultSummary = "Clique para ver o resumo completo desta movimentação de mercado."
	defaultSource  = "Global Finance"
	defaultTime    = "Agora"
)

var (
	highKeywords   = []string{"fed", "inflation", "gdp", "rates", "war", "juros"}
	mediumKeywords = []string{"earnings", "stock", "market", "ações"}
)

type NewsItem struct {
	ID        string    `json:"id"`
	Headline  string    `json:"headline"`
	Summary   string    `json:"summary"`
	Relevance Relevance `json:"relevance"`
	Source    string    `json:"source"`
	Time      string    `json:"time"`
	Link      string    `json:"link"`
}

// News is a list of headlines. Fallback is set when every upstream failed
// and the static headlines are served instead.
type News struct {
	Items    []NewsItem `json:"items"`
	Fallback bool       `json:"fallback"`
}

// Headlines returns the headline texts, the input for a market outlook.
func (n News) Headlines() []string {
	out := make([]string, 0, len(n.Items))
	for _, it := range n.Items {
		out = append(out, it.Headline)
	}
	return out
}

// Classify rates a headline by the keywords in its title and content.
func Classify(title, content string) Relevance {
	text := strings.ToLower(title + content)
	for _, k := range highKeywords {
		if strings.Contains(text, k) {
			return RelevanceHigh
		}
	}
	for _, k := range mediumKeywords {
		if strings.Contains(text, k) {
			return RelevanceMedium
		}
	}
	return RelevanceLow
}

func newItem(idx int, title, content, source, link string) NewsItem {
	item := NewsItem{
		ID:        strconv.Itoa(idx),
		Headline:  strings.TrimSpace(title),
		Summary:   strings.TrimSpace(content),
		Relevance: Classify(title, content),
		Source:    strings.TrimSpace(source),
		Time:      defaultTime,
		Link:      strings.TrimSpace(link),
	}
	if item.Summary == "" {
		item.Summary = defaultSummary
	}
	if item.Source == "" {
		item.Source = defaultSource
	}
	return item
}

type feedItem struct {
	Title   string `json:"title"`
	Content string `json:"content"`
	Source  string `json:"source"`
	Link    string `json:"link"`
}

// parseNewsFeed reads the ok.surf feed, preferring Business over World.
func parseNewsFeed(body []byte, limit int) ([]NewsItem, error) {
	var feed map[string][]feedItem
	if err := json.Unmarshal(body, &feed); err != nil {
		return nil, fmt.Errorf("decode news feed: %w", err)
	}
	raw := feed["Business"]
	if len(raw) == 0 {
		raw = feed["World"]
	}
	items := make([]NewsItem, 0, min(limit, len(raw)))
	for _, it := range raw {
		if len(items) == limit {
			break
		}
		if strings.TrimSpace(it.Title) == "" {
			continue
		}
		items = append(items, newItem(len(items), it.Title, it.Content, it.Source, it.Link))
	}
	if len(items) == 0 {
		return nil, ErrNoNews
	}
	return items, nil
}

// parseRSS reads the items of an RSS 2.0 channel.
func parseRSS(body []byte, limit int) ([]NewsItem, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(body); err != nil {
		return nil, fmt.Errorf("parse rss: %w", err)
	}

	channelTitle := ""
	if el := doc.FindElement("//channel/title"); el != nil {
		channelTitle = el.Text()
	}

	var items []NewsItem
	for _, el := range doc.FindElements("//channel/item") {
		if len(items) == limit {
			break
		}
		title := childText(el, "title")
		if strings.TrimSpace(title) == "" {
			continue
		}
		source := childText(el, "source")
		if source == "" {
			source = channelTitle
		}
		items = append(items, newItem(len(items), title, stripTags(childText(el, "description")), source, childText(el, "link")))
	}
	if len(items) == 0 {
		return nil, ErrNoNews
	}
	return items, nil
}

func childText(el *etree.Element, tag string) string {
	if c := el.SelectElement(tag); c != nil {
		return strings.TrimSpace(c.Text())
	}
	return ""
}

// stripTags drops inline HTML that feeds embed in descriptions.
func stripTags(s string) string {
	var b strings.Builder
	depth := 0
	for _, r := range s {
		switch {
		case r == '<':
			depth++
		case r == '>' && depth > 0:
			depth--
		case depth == 0:
			b.WriteRune(r)
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

// FallbackNews is served when no upstream answers.
func FallbackNews() []NewsItem {
	return []NewsItem{
		{
			ID:        "f1",
			Headline:  "FED sinaliza manutenção de taxas de juros frente à inflação resiliente",
			Summary:   "Membros do Federal Reserve indicam que a trajetória de queda da inflação estagnou, sugerindo juros altos por mais tempo.",
			Relevance: RelevanceHigh,
			Source:    "Financial Times (Simulado)",
			Time:      "5m atrás",
			Link:      "#",
		},
		{
			ID:        "f2",
			Headline:  "PIB da China cresce acima do esperado no primeiro trimestre",
			Summary:   "A segunda maior economia do mundo mostra sinais de recuperação industrial, impulsionando commodities globais.",
			Relevance: RelevanceMedium,
			Source:    "Bloomberg (Simulado)",
			Time:      "15m atrás",
			Link:      "#",
		},
		{
			ID:        "f3",
			Headline:  "BC do Brasil monitora volatilidade cambial e não descarta intervenções",
			Summary:   "O Banco Central reforça o compromisso com a meta de inflação em meio à pressão do dólar sobre o Real.",
			Relevance: RelevanceHigh,
			Source:    "Valor Econômico (Simulado)",
			Time:      "30m atrás",
			Link:      "#",
		},
		{
			ID:        "f4",
			Headline:  "Conflitos no Oriente Médio elevam preços do Petróleo Brent",
			Summary:   "Tensões geopolíticas continuam a pressionar os custos de energia, impactando cadeias de suprimentos globais.",
			Relevance: RelevanceMedium,
			Source:    "Reuters (Simulado)",
			Time:      "1h atrás",
			Link:      "#",
		},
	}
}
