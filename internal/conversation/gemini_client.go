package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/atendeai/clinic-assistant/pkg/logging"
)

const defaultLLMTimeout = 60 * time.Second

// GeminiClient implements LLMClient using Google's Gemini API.
type GeminiClient struct {
	client      *genai.Client
	modelID     string
	limiter     *RateLimiter
	timeout     time.Duration
	temperature float32
	maxTokens   int32
	logger      *logging.Logger
}

// GeminiOption configures the client.
type GeminiOption func(*GeminiClient)

// WithRateLimiter attaches a per-user call limiter checked before every
// provider call.
func WithRateLimiter(limiter *RateLimiter) GeminiOption {
	return func(c *GeminiClient) { c.limiter = limiter }
}

// WithTimeout bounds every provider call.
func WithTimeout(d time.Duration) GeminiOption {
	return func(c *GeminiClient) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithGenerationParams overrides temperature and max output tokens.
func WithGenerationParams(temperature float32, maxTokens int32) GeminiOption {
	return func(c *GeminiClient) {
		c.temperature = temperature
		c.maxTokens = maxTokens
	}
}

// NewGeminiClient creates a new Gemini LLM client.
func NewGeminiClient(ctx context.Context, apiKey, modelID string, logger *logging.Logger, opts ...GeminiOption) (*GeminiClient, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, errors.New("conversation: gemini api key is required")
	}
	if strings.TrimSpace(modelID) == "" {
		modelID = "gemini-2.5-flash"
	}
	if logger == nil {
		logger = logging.Default()
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("conversation: failed to create gemini client: %w", err)
	}

	c := &GeminiClient{
		client:      client,
		modelID:     modelID,
		timeout:     defaultLLMTimeout,
		temperature: 0.7,
		maxTokens:   1024,
		logger:      logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// safetySettings blocks harassment, hate speech, sexual and dangerous content
// at medium and above. Provider-flagged responses surface as generation
// failures, never as silent replies.
func safetySettings() []*genai.SafetySetting {
	categories := []genai.HarmCategory{
		genai.HarmCategoryHarassment,
		genai.HarmCategoryHateSpeech,
		genai.HarmCategorySexuallyExplicit,
		genai.HarmCategoryDangerousContent,
	}
	out := make([]*genai.SafetySetting, 0, len(categories))
	for _, cat := range categories {
		out = append(out, &genai.SafetySetting{Category: cat, Threshold: genai.HarmBlockMediumAndAbove})
	}
	return out
}

func (c *GeminiClient) model(systemPrompt string) *genai.GenerativeModel {
	model := c.client.GenerativeModel(c.modelID)
	model.SetTemperature(c.temperature)
	if c.maxTokens > 0 {
		model.SetMaxOutputTokens(c.maxTokens)
	}
	model.SafetySettings = safetySettings()
	if strings.TrimSpace(systemPrompt) != "" {
		model.SystemInstruction = genai.NewUserContent(genai.Text(systemPrompt))
	}
	return model
}

func (c *GeminiClient) chat(systemPrompt string, history []HistoryMessage) *genai.ChatSession {
	cs := c.model(systemPrompt).StartChat()
	for _, msg := range history {
		content := strings.TrimSpace(msg.Content)
		if content == "" || msg.Role == ChatRoleSystem {
			continue
		}
		role := "user"
		if msg.Role == ChatRoleAssistant {
			role = "model"
		}
		cs.History = append(cs.History, &genai.Content{
			Role:  role,
			Parts: []genai.Part{genai.Text(content)},
		})
	}
	return cs
}

func (c *GeminiClient) checkLimit(ctx context.Context, userID string) error {
	if c.limiter == nil || userID == "" {
		return nil
	}
	return c.limiter.Allow(ctx, userID)
}

// GenerateReply sends a completion request to Gemini and returns the text.
func (c *GeminiClient) GenerateReply(ctx context.Context, req GenerateRequest) (string, error) {
	if err := c.checkLimit(ctx, req.UserID); err != nil {
		return "", err
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	cs := c.chat(req.SystemPrompt, req.History)
	resp, err := cs.SendMessage(ctx, genai.Text(req.Message))
	if err != nil {
		return "", fmt.Errorf("conversation: gemini completion failed: %w", err)
	}
	return extractText(resp)
}

// GenerateStream streams a generation chunk by chunk. Partial chunks carry
// deltas; the final chunk carries the full accumulated text. Cancelling ctx
// abandons the underlying generation.
func (c *GeminiClient) GenerateStream(ctx context.Context, req GenerateRequest) (<-chan StreamChunk, error) {
	if err := c.checkLimit(ctx, req.UserID); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	cs := c.chat(req.SystemPrompt, req.History)
	iter := cs.SendMessageStream(ctx, genai.Text(req.Message))

	out := make(chan StreamChunk)
	go func() {
		defer close(out)
		defer cancel()

		var full strings.Builder
		for {
			resp, err := iter.Next()
			if err == iterator.Done {
				break
			}
			if err != nil {
				c.logger.Error("gemini stream failed", "error", err, "user_id", req.UserID)
				return
			}
			delta, err := extractText(resp)
			if err != nil {
				c.logger.Error("gemini stream chunk rejected", "error", err, "user_id", req.UserID)
				return
			}
			full.WriteString(delta)
			select {
			case out <- StreamChunk{Content: delta}:
			case <-ctx.Done():
				return
			}
		}
		select {
		case out <- StreamChunk{Content: full.String(), IsComplete: true}:
		case <-ctx.Done():
		}
	}()
	return out, nil
}

const intentPrompt = `Você é um classificador de mensagens de pacientes de uma clínica médica brasileira.
Classifique a mensagem em uma das intenções: schedule_appointment, reschedule_appointment, cancel_appointment, emergency, general_information, unknown.
Extraia também as entidades presentes.
Responda APENAS com JSON neste formato:
{"intent":"...","confidence":0.0,"entities":{"pessoa":{"nome":""},"contato":{"telefone":"","email":""},"documento":{"cpf":""},"especialidade":"","tempo":{"data":"","hora":"","periodo":""},"sintomas":"","consulta":{"id":""},"convenio":""}}
Campos sem valor devem ficar vazios.`

// AnalyzeIntent classifies a message and extracts entities via Gemini.
func (c *GeminiClient) AnalyzeIntent(ctx context.Context, text string) (IntentAnalysis, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	model := c.model(intentPrompt)
	model.SetTemperature(0)
	resp, err := model.GenerateContent(ctx, genai.Text(text))
	if err != nil {
		return IntentAnalysis{}, fmt.Errorf("conversation: gemini intent analysis failed: %w", err)
	}
	raw, err := extractText(resp)
	if err != nil {
		return IntentAnalysis{}, err
	}
	return parseIntentPayload(raw)
}

// HealthCheck verifies the provider answers a trivial generation.
func (c *GeminiClient) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	_, err := c.client.GenerativeModel(c.modelID).GenerateContent(ctx, genai.Text("ping"))
	if err != nil {
		return fmt.Errorf("conversation: gemini health check failed: %w", err)
	}
	return nil
}

// Close releases resources held by the Gemini client.
func (c *GeminiClient) Close() error {
	if c.client != nil {
		return c.client.Close()
	}
	return nil
}

func extractText(resp *genai.GenerateContentResponse) (string, error) {
	if len(resp.Candidates) == 0 {
		return "", errors.New("conversation: gemini returned no candidates")
	}
	candidate := resp.Candidates[0]
	if candidate.FinishReason == genai.FinishReasonSafety {
		return "", errors.New("conversation: gemini response blocked by safety filter")
	}
	if candidate.Content == nil || len(candidate.Content.Parts) == 0 {
		return "", errors.New("conversation: gemini returned empty content")
	}
	var b strings.Builder
	for _, part := range candidate.Content.Parts {
		if text, ok := part.(genai.Text); ok {
			b.WriteString(string(text))
		}
	}
	return strings.TrimSpace(b.String()), nil
}

// intentPayload mirrors the JSON shape the classifier prompt demands. The
// nested category names are the extraction schema; mapping onto canonical
// slot names happens in the context manager.
type intentPayload struct {
	Intent     string  `json:"intent"`
	Confidence float64 `json:"confidence"`
	Entities   struct {
		Pessoa struct {
			Nome string `json:"nome"`
		} `json:"pessoa"`
		Contato struct {
			Telefone string `json:"telefone"`
			Email    string `json:"email"`
		} `json:"contato"`
		Documento struct {
			CPF string `json:"cpf"`
		} `json:"documento"`
		Especialidade string `json:"especialidade"`
		Tempo         struct {
			Data    string `json:"data"`
			Hora    string `json:"hora"`
			Periodo string `json:"periodo"`
		} `json:"tempo"`
		Sintomas string `json:"sintomas"`
		Consulta struct {
			ID string `json:"id"`
		} `json:"consulta"`
		Convenio string `json:"convenio"`
	} `json:"entities"`
}

// parseIntentPayload decodes the classifier JSON, tolerating markdown code
// fences around it.
func parseIntentPayload(raw string) (IntentAnalysis, error) {
	raw = strings.TrimSpace(raw)
	raw = strings.TrimPrefix(raw, "```json")
	raw = strings.TrimPrefix(raw, "```")
	raw = strings.TrimSuffix(raw, "```")
	raw = strings.TrimSpace(raw)

	var payload intentPayload
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return IntentAnalysis{}, fmt.Errorf("conversation: unparseable intent payload: %w", err)
	}

	return IntentAnalysis{
		Intent:     ParseIntent(payload.Intent),
		Confidence: payload.Confidence,
		Entities: Entities{
			Name:          strings.TrimSpace(payload.Entities.Pessoa.Nome),
			Phone:         strings.TrimSpace(payload.Entities.Contato.Telefone),
			Email:         strings.TrimSpace(payload.Entities.Contato.Email),
			CPF:           strings.TrimSpace(payload.Entities.Documento.CPF),
			Specialty:     strings.TrimSpace(payload.Entities.Especialidade),
			Date:          strings.TrimSpace(payload.Entities.Tempo.Data),
			Time:          strings.TrimSpace(payload.Entities.Tempo.Hora),
			Period:        strings.TrimSpace(payload.Entities.Tempo.Periodo),
			Symptoms:      strings.TrimSpace(payload.Entities.Sintomas),
			AppointmentID: strings.TrimSpace(payload.Entities.Consulta.ID),
			InsurancePlan: strings.TrimSpace(payload.Entities.Convenio),
		},
	}, nil
}
