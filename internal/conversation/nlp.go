package conversation

import (
	"context"
	"regexp"
	"strings"

	"github.com/atendeai/clinic-assistant/internal/knowledge"
	"github.com/atendeai/clinic-assistant/pkg/logging"
)

// NLPPipeline classifies messages and extracts entities. It prefers the LLM
// classifier and falls back to keyword heuristics, so a provider outage
// degrades accuracy instead of availability.
type NLPPipeline struct {
	llm    LLMClient
	kb     *knowledge.Base
	logger *logging.Logger
}

// NewNLPPipeline creates a pipeline. llm may be nil, in which case only the
// keyword path runs.
func NewNLPPipeline(llm LLMClient, kb *knowledge.Base, logger *logging.Logger) *NLPPipeline {
	if kb == nil {
		panic("conversation: NLPPipeline requires a knowledge base")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &NLPPipeline{llm: llm, kb: kb, logger: logger}
}

// Analyze classifies text and extracts entities. Emergencies detected by the
// knowledge base override the classifier: a missed emergency is the one
// failure mode this pipeline must not have.
func (p *NLPPipeline) Analyze(ctx context.Context, text string) Analysis {
	analysis := Analysis{
		Intent:       IntentUnknown,
		Confidence:   0,
		OriginalText: text,
	}

	if p.llm != nil {
		result, err := p.llm.AnalyzeIntent(ctx, text)
		if err == nil {
			analysis.Intent = result.Intent
			analysis.Confidence = result.Confidence
			analysis.Entities = result.Entities
		} else {
			p.logger.Warn("llm intent analysis unavailable, using keyword fallback", "error", err)
		}
	}

	if analysis.Intent == IntentUnknown || analysis.Confidence < 0.4 {
		intent, confidence := p.quickIntentDetection(text)
		if confidence > analysis.Confidence {
			analysis.Intent = intent
			analysis.Confidence = confidence
		}
	}

	p.fillFallbackEntities(&analysis, text)

	if _, ok := p.kb.MatchEmergency(text); ok {
		analysis.Intent = IntentEmergency
		if analysis.Confidence < 0.95 {
			analysis.Confidence = 0.95
		}
		if analysis.Entities.Symptoms == "" {
			analysis.Entities.Symptoms = strings.TrimSpace(text)
		}
	}

	return analysis
}

// intentKeywords drives the fallback classifier. Order matters: the first
// matching group wins, so emergency terms sit on top.
var intentKeywords = []struct {
	intent     Intent
	confidence float64
	terms      []string
}{
	{IntentEmergency, 0.9, []string{
		"emergencia", "urgente", "urgencia", "socorro", "samu",
		"dor no peito", "falta de ar", "desmaio", "desmaiei", "sangramento intenso",
		"convulsao", "nao consigo respirar",
	}},
	{IntentCancel, 0.8, []string{
		"cancelar", "desmarcar", "cancelamento", "nao vou poder ir", "nao poderei comparecer",
	}},
	{IntentReschedule, 0.8, []string{
		"remarcar", "reagendar", "mudar a consulta", "trocar o horario",
		"alterar a consulta", "adiar",
	}},
	{IntentSchedule, 0.75, []string{
		"agendar", "marcar", "consulta", "horario disponivel", "agenda",
		"quero ser atendido", "preciso de uma consulta",
	}},
	{IntentGeneralInfo, 0.6, []string{
		"convenio", "plano de saude", "endereco", "horario de funcionamento",
		"quanto custa", "valor", "preco", "telefone da clinica", "especialidade",
		"como funciona", "documentos",
	}},
}

func (p *NLPPipeline) quickIntentDetection(text string) (Intent, float64) {
	msg := normalizeText(text)
	for _, group := range intentKeywords {
		for _, term := range group.terms {
			if strings.Contains(msg, term) {
				return group.intent, group.confidence
			}
		}
	}
	return IntentUnknown, 0
}

var (
	phonePattern = regexp.MustCompile(`(?:\+?55\s?)?(?:\(?\d{2}\)?\s?)?9?\d{4}[-\s]?\d{4}`)
	cpfPattern   = regexp.MustCompile(`\d{3}\.?\d{3}\.?\d{3}-?\d{2}`)
	emailPattern = regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`)
)

// fillFallbackEntities backfills entities the classifier missed using regex
// and knowledge base lookups. Existing values are never overwritten.
func (p *NLPPipeline) fillFallbackEntities(analysis *Analysis, text string) {
	e := &analysis.Entities
	if e.Phone == "" {
		if m := phonePattern.FindString(text); m != "" && len(digitsOnly(m)) >= 10 {
			e.Phone = m
		}
	}
	if e.CPF == "" {
		if m := cpfPattern.FindString(text); m != "" {
			e.CPF = m
		}
	}
	if e.Email == "" {
		e.Email = emailPattern.FindString(text)
	}
	if e.Specialty == "" {
		if sp, ok := p.kb.SpecialtyByName(text); ok {
			e.Specialty = sp.Name
		}
	}
	if e.Period == "" {
		e.Period = detectPeriod(text)
	}
}

func detectPeriod(text string) string {
	msg := normalizeText(text)
	switch {
	case strings.Contains(msg, "de manha") || strings.Contains(msg, "pela manha"):
		return "manhã"
	case strings.Contains(msg, "a tarde") || strings.Contains(msg, "de tarde"):
		return "tarde"
	case strings.Contains(msg, "a noite") || strings.Contains(msg, "de noite"):
		return "noite"
	}
	return ""
}

// AnalyzeSentiment runs a keyword-based sentiment pass used for tone hints in
// generated replies.
func (p *NLPPipeline) AnalyzeSentiment(text string) Sentiment {
	msg := normalizeText(text)
	negative := []string{"pessimo", "horrivel", "reclamar", "reclamacao", "absurdo", "demora", "insatisfeito", "raiva", "ruim"}
	positive := []string{"obrigado", "obrigada", "otimo", "excelente", "perfeito", "maravilha", "agradeco", "parabens"}

	for _, term := range negative {
		if strings.Contains(msg, term) {
			return Sentiment{Label: "negative", Confidence: 0.8}
		}
	}
	for _, term := range positive {
		if strings.Contains(msg, term) {
			return Sentiment{Label: "positive", Confidence: 0.8}
		}
	}
	return Sentiment{Label: "neutral", Confidence: 0.5}
}

var textAccents = strings.NewReplacer(
	"á", "a", "à", "a", "ã", "a", "â", "a",
	"é", "e", "ê", "e",
	"í", "i",
	"ó", "o", "õ", "o", "ô", "o",
	"ú", "u", "ü", "u",
	"ç", "c",
)

func normalizeText(s string) string {
	return textAccents.Replace(strings.ToLower(s))
}

func digitsOnly(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
