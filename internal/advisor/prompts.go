package advisor

import (
	"fmt"
	"strings"

	"finvue/internal/core"

	"google.golang.org/genai"
)

// Fallback texts returned when the model is unavailable or silent.
const (
	AdviceEmptyFallback = "Mantenha o foco em seus objetivos financeiros!"
	AdviceErrorFallback = "Analise seus gastos fixos para garantir estabilidade no próximo mês."
	ChatEmptyFallback   = "Desculpe, não consegui processar sua dúvida agora."
	ChatErrorFallback   = "Houve um erro ao processar sua consulta."
)

type adviceFigures struct {
	Month    string
	Gross    string
	Invested string
	Expense  string
	Balance  string
}

func figuresFor(r core.Record, agg core.Aggregates, month int) adviceFigures {
	m := agg.Months[month]
	return adviceFigures{
		Month:    core.MonthName(month),
		Gross:    r.Income.Fixed[month].Add(r.Income.Extra[month]).String(),
		Invested: r.Income.Investments[month].String(),
		Expense:  m.Expense.String(),
		Balance:  m.Balance.String(),
	}
}

func (f adviceFigures) key(userID string) string {
	return strings.Join([]string{userID, f.Month, f.Gross, f.Invested, f.Expense, f.Balance}, "|")
}

func advicePrompt(f adviceFigures) string {
	return fmt.Sprintf(`Como um consultor financeiro inteligente, analise o contexto completo deste usuário para o mês de %s:
- Renda Bruta: R$%s
- Valor Investido: R$%s
- Gastos Totais: R$%s
- Saldo Final: R$%s
Responda com apenas UMA frase curta, impactante e motivadora em Português.`,
		f.Month, f.Gross, f.Invested, f.Expense, f.Balance)
}

func outlookPrompt(headlines []string) string {
	return fmt.Sprintf(`Você é um estrategista de investimentos e macroeconomia. Analise estas manchetes:
%s

Retorne os dados estruturados sobre o sentimento do mercado, explicação macro, e projeções de curto, médio e longo prazo incluindo sugestões de ativos.`,
		strings.Join(headlines, " | "))
}

func chatSystemInstruction(recordJSON []byte) string {
	return fmt.Sprintf(`Você é o Agente FinVue, um especialista em análise financeira pessoal e investimentos.
Você tem acesso aos dados reais do usuário: %s.
Responda de forma estratégica e objetiva.`, recordJSON)
}

func visionPrompt(o Outlook) string {
	return fmt.Sprintf(`A futuristic, high-tech, cinematic masterpiece visualization of financial success and growth.
Theme: %s. Concept: %s.
Style: Minimalist luxury, architectural financial hub, neon indigo and emerald accents, 4k, hyper-realistic.`,
		o.Sentiment, o.Explanation)
}

func horizonSchema() *genai.Schema {
	return &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"outlook":   {Type: genai.TypeString},
			"risk":      {Type: genai.TypeString},
			"portfolio": {Type: genai.TypeArray, Items: &genai.Schema{Type: genai.TypeString}},
		},
		Required: []string{"outlook", "risk", "portfolio"},
	}
}

// outlookSchema constrains the market outlook response.
func outlookSchema() *genai.Schema {
	return &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"sentiment": {
				Type:        genai.TypeString,
				Description: "Bullish, Bearish ou Neutral.",
				Enum:        []string{string(Bullish), string(Bearish), string(Neutral)},
			},
			"explanation": {Type: genai.TypeString, Description: "Resumo macro de 2 frases."},
			"shortTerm":   horizonSchema(),
			"mediumTerm":  horizonSchema(),
			"longTerm":    horizonSchema(),
			"drivers": {
				Type:        genai.TypeArray,
				Items:       &genai.Schema{Type: genai.TypeString},
				Description: "Principais fatores influenciadores.",
			},
		},
		Required:         []string{"sentiment", "explanation", "shortTerm", "mediumTerm", "longTerm", "drivers"},
		PropertyOrdering: []string{"sentiment", "explanation", "shortTerm", "mediumTerm", "longTerm", "drivers"},
	}
}
