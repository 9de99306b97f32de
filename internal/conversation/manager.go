package conversation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/atendeai/clinic-assistant/internal/observability/metrics"
	"github.com/atendeai/clinic-assistant/pkg/logging"
)

// fallbackMessage is the catch-all reply: whatever breaks mid-pipeline, the
// patient gets a complete answer, never an error or an empty string.
const fallbackMessage = "Desculpe, tive um problema para processar sua mensagem. " +
	"Pode repetir, por favor? Se preferir, ligue para a recepção da clínica."

const rateLimitedMessage = "Você enviou muitas mensagens em pouco tempo. " +
	"Aguarde um instante e tente novamente, por favor."

// Manager orchestrates one conversation turn: context load, NLP, flow or
// generation, persistence. Turns for the same (user, session) are processed
// strictly one at a time.
type Manager struct {
	nlp           *NLPPipeline
	llm           LLMClient
	contexts      *ContextManager
	flows         *FlowHandler
	store         *Store
	retriever     Retriever
	metrics       *metrics.ConversationMetrics
	logger        *logging.Logger
	locks         *sessionLocks
	historyWindow int
}

// ManagerOption configures optional manager dependencies.
type ManagerOption func(*Manager)

// WithStore wires the Postgres transcript store.
func WithStore(store *Store) ManagerOption {
	return func(m *Manager) { m.store = store }
}

// WithRetriever wires the semantic snippet store used by reply generation.
func WithRetriever(r Retriever) ManagerOption {
	return func(m *Manager) { m.retriever = r }
}

// WithMetrics wires conversation metrics.
func WithMetrics(cm *metrics.ConversationMetrics) ManagerOption {
	return func(m *Manager) { m.metrics = cm }
}

// WithHistoryWindow bounds how many transcript turns feed the LLM.
func WithHistoryWindow(n int) ManagerOption {
	return func(m *Manager) {
		if n > 0 {
			m.historyWindow = n
		}
	}
}

// NewManager creates the conversation orchestrator.
func NewManager(nlp *NLPPipeline, llm LLMClient, contexts *ContextManager, flows *FlowHandler, logger *logging.Logger, opts ...ManagerOption) *Manager {
	if nlp == nil {
		panic("conversation: Manager requires an NLP pipeline")
	}
	if contexts == nil {
		panic("conversation: Manager requires a context manager")
	}
	if flows == nil {
		panic("conversation: Manager requires a flow handler")
	}
	if logger == nil {
		logger = logging.Default()
	}
	m := &Manager{
		nlp:           nlp,
		llm:           llm,
		contexts:      contexts,
		flows:         flows,
		logger:        logger,
		locks:         newSessionLocks(),
		historyWindow: 5,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func validateRequest(req MessageRequest) error {
	if strings.TrimSpace(req.UserID) == "" {
		return errors.New("conversation: userId is required")
	}
	if strings.TrimSpace(req.Message) == "" {
		return errors.New("conversation: message is required")
	}
	return nil
}

func sessionID(req MessageRequest) string {
	if req.SessionID != "" {
		return req.SessionID
	}
	return "default"
}

// ProcessMessage handles one inbound turn end to end. It returns an error
// only for invalid requests; pipeline failures degrade to the fallback reply.
func (m *Manager) ProcessMessage(ctx context.Context, req MessageRequest) (*Response, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}

	session := sessionID(req)
	release := m.locks.acquire(req.UserID + ":" + session)
	defer release()

	resp, err := m.processLocked(ctx, req, session)
	if err != nil {
		m.logger.Error("turn processing failed, returning fallback",
			"user_id", req.UserID, "session_id", session, "error", err)
		m.metrics.ObserveTurn(string(IntentUnknown), "fallback")
		return m.fallback(), nil
	}
	return resp, nil
}

func (m *Manager) fallback() *Response {
	return &Response{
		Message:       fallbackMessage,
		Intent:        IntentUnknown,
		RequiresInput: true,
		Confidence:    0.1,
	}
}

// turnState is the prepared input shared by the blocking and streaming
// paths: context loaded, message recorded, intent resolved, slots updated.
type turnState struct {
	cc       *ConversationContext
	analysis Analysis
	intent   Intent
}

func (m *Manager) prepareTurn(ctx context.Context, req MessageRequest, session string) (*turnState, error) {
	cc, err := m.contexts.Get(ctx, req.UserID, session)
	if err != nil {
		return nil, err
	}
	if cc == nil {
		cc, err = m.contexts.Create(ctx, req.UserID, session, IntentUnknown)
		if err != nil {
			return nil, err
		}
	}

	if cc.ConversationID == "" {
		convID, err := m.store.EnsureConversation(ctx, req.UserID, session)
		if err != nil {
			return nil, err
		}
		id := convID.String()
		cc, err = m.contexts.Update(ctx, cc, ContextUpdate{ConversationID: &id})
		if err != nil {
			return nil, err
		}
	}

	cc, err = m.contexts.AddMessage(ctx, cc, ChatRoleUser, req.Message)
	if err != nil {
		return nil, err
	}

	analysis := m.nlp.Analyze(ctx, req.Message)
	intent := m.resolveIntent(cc, analysis)
	m.logger.WithSession(req.UserID, session).Info("turn analyzed",
		"intent", intent, "confidence", analysis.Confidence, "state", cc.FlowState)

	if intent != cc.CurrentIntent {
		state := StateInitial
		cc, err = m.contexts.Update(ctx, cc, ContextUpdate{Intent: &intent, FlowState: &state})
		if err != nil {
			return nil, err
		}
	}

	cc, err = m.contexts.UpdateSlots(ctx, cc, analysis.Entities, analysis.Confidence)
	if err != nil {
		return nil, err
	}
	return &turnState{cc: cc, analysis: analysis, intent: intent}, nil
}

func (m *Manager) processLocked(ctx context.Context, req MessageRequest, session string) (*Response, error) {
	turn, err := m.prepareTurn(ctx, req, session)
	if err != nil {
		return nil, err
	}
	cc := turn.cc

	var resp *Response
	if isFlowIntent(turn.intent) {
		resp, cc, err = m.runFlow(ctx, cc, turn.analysis)
	} else {
		resp, err = m.generateReply(ctx, cc, turn.analysis)
	}
	if err != nil {
		if errors.Is(err, ErrRateLimited) {
			m.metrics.ObserveRateLimited()
			return &Response{
				Message:       rateLimitedMessage,
				Intent:        turn.intent,
				RequiresInput: true,
				Confidence:    turn.analysis.Confidence,
			}, nil
		}
		return nil, err
	}

	if err := m.finishTurn(ctx, cc, req.Message, resp, turn.analysis); err != nil {
		return nil, err
	}
	m.metrics.ObserveTurn(string(turn.intent), "ok")
	return resp, nil
}

// finishTurn records the assistant reply in the context and the durable
// transcript.
func (m *Manager) finishTurn(ctx context.Context, cc *ConversationContext, userMessage string, resp *Response, analysis Analysis) error {
	if _, err := m.contexts.AddMessage(ctx, cc, ChatRoleAssistant, resp.Message); err != nil {
		return err
	}
	m.persistTurn(ctx, cc, userMessage, resp, analysis)
	return nil
}

func isFlowIntent(intent Intent) bool {
	switch intent {
	case IntentSchedule, IntentReschedule, IntentCancel, IntentEmergency:
		return true
	}
	return false
}

// resolveIntent decides this turn's intent. An emergency always wins. A flow
// in progress is sticky only against unclassified or low-confidence turns, so
// a mid-flow answer like "João da Silva" (no keywords, classifies unknown)
// cannot derail it, while a confident "quero cancelar" switches the flow.
func (m *Manager) resolveIntent(cc *ConversationContext, analysis Analysis) Intent {
	if analysis.Intent == IntentEmergency {
		return IntentEmergency
	}
	inFlow := isFlowIntent(cc.CurrentIntent) &&
		cc.FlowState != StateCompleted && cc.FlowState != StateRestart
	if inFlow && (analysis.Intent == IntentUnknown || analysis.Confidence < 0.6) {
		return cc.CurrentIntent
	}
	return analysis.Intent
}

func (m *Manager) runFlow(ctx context.Context, cc *ConversationContext, analysis Analysis) (*Response, *ConversationContext, error) {
	result, cc, err := m.flows.Handle(ctx, cc, analysis)
	if err != nil {
		return nil, cc, err
	}

	nextState := result.NextStep
	upd := ContextUpdate{FlowState: &nextState}
	if nextState == StateRestart {
		reset := StateInitial
		unknown := IntentUnknown
		upd = ContextUpdate{FlowState: &reset, Intent: &unknown, OfferedSlots: []OfferedSlot{}, Candidates: []string{}}
	}
	cc, err = m.contexts.Update(ctx, cc, upd)
	if err != nil {
		return nil, cc, err
	}

	if booked, ok := result.Data["appointmentId"]; ok && result.Success && cc.CurrentIntent == IntentSchedule {
		m.metrics.ObserveBooking(cc.SlotValue(SlotSpecialty))
		m.logger.Info("appointment booked via conversation",
			"conversation_id", cc.ConversationID, "appointment_id", fmt.Sprint(booked))
	}

	completed := result.NextStep == StateCompleted
	resp := &Response{
		Message:       result.Message,
		Intent:        cc.CurrentIntent,
		IsCompleted:   completed,
		RequiresInput: !completed,
		Data:          result.Data,
		Confidence:    analysis.Confidence,
	}
	for _, missing := range m.contexts.MissingSlots(cc) {
		if q, ok := slotQuestions[missing]; ok {
			resp.NextSteps = append(resp.NextSteps, q)
		}
	}
	return resp, cc, nil
}

// generateReply answers informational and unclassified turns with the LLM,
// grounded on retrieved knowledge snippets.
func (m *Manager) generateReply(ctx context.Context, cc *ConversationContext, analysis Analysis) (*Response, error) {
	if m.llm == nil {
		return m.knowledgeOnlyReply(cc, analysis), nil
	}

	var snippets []string
	if m.retriever != nil {
		found, err := m.retriever.Query(ctx, "", analysis.OriginalText, 3)
		if err != nil {
			m.logger.Warn("snippet retrieval failed", "error", err)
		} else {
			snippets = found
		}
	}

	started := time.Now()
	reply, err := m.llm.GenerateReply(ctx, GenerateRequest{
		UserID:       cc.UserID,
		SystemPrompt: buildSystemPrompt(cc, analysis, snippets, m.contexts.Summary(cc)),
		History:      cc.RecentHistory(m.historyWindow),
		Message:      analysis.OriginalText,
	})
	m.metrics.ObserveLLMLatency("generate", time.Since(started).Seconds())
	if errors.Is(err, ErrRateLimited) {
		return nil, err
	}
	if err != nil || strings.TrimSpace(reply) == "" {
		m.logger.Warn("llm generation failed, using knowledge-only reply", "error", err)
		return m.knowledgeOnlyReply(cc, analysis), nil
	}

	// Informational turns are one-shot: answered and done.
	oneShot := analysis.Intent == IntentGeneralInfo
	return &Response{
		Message:       reply,
		Intent:        analysis.Intent,
		IsCompleted:   oneShot,
		RequiresInput: !oneShot,
		Confidence:    analysis.Confidence,
	}, nil
}

// knowledgeOnlyReply answers without the LLM: FAQ match first, otherwise a
// menu of what the assistant can do.
func (m *Manager) knowledgeOnlyReply(cc *ConversationContext, analysis Analysis) *Response {
	if faq, ok := m.flows.kb.AnswerFAQ(analysis.OriginalText); ok {
		return &Response{
			Message:     faq.Answer,
			Intent:      IntentGeneralInfo,
			IsCompleted: true,
			Confidence:  analysis.Confidence,
		}
	}
	return &Response{
		Message: "Posso ajudar você a agendar, remarcar ou cancelar uma consulta, " +
			"ou tirar dúvidas sobre a clínica. O que você precisa?",
		Intent:        analysis.Intent,
		RequiresInput: true,
		Confidence:    analysis.Confidence,
	}
}

func parseConversationID(raw string) (uuid.UUID, error) {
	return uuid.Parse(raw)
}

// persistTurn writes the transcript rows. Persistence problems are logged and
// swallowed: the patient already has their answer.
func (m *Manager) persistTurn(ctx context.Context, cc *ConversationContext, userMessage string, resp *Response, analysis Analysis) {
	if m.store == nil {
		return
	}
	convID, err := parseConversationID(cc.ConversationID)
	if err != nil {
		m.logger.Warn("transcript skipped, bad conversation id", "conversation_id", cc.ConversationID)
		return
	}
	if err := m.store.SaveMessage(ctx, StoredMessage{
		ConversationID: convID,
		Role:           ChatRoleUser,
		Content:        userMessage,
		Intent:         analysis.Intent,
		Confidence:     analysis.Confidence,
		Processed:      true,
	}); err != nil {
		m.logger.Warn("transcript write failed", "error", err)
	}
	if err := m.store.SaveMessage(ctx, StoredMessage{
		ConversationID: convID,
		Role:           ChatRoleAssistant,
		Content:        resp.Message,
		Intent:         resp.Intent,
		Confidence:     resp.Confidence,
		Processed:      true,
	}); err != nil {
		m.logger.Warn("transcript write failed", "error", err)
	}
	if resp.IsCompleted {
		if err := m.store.CloseConversation(ctx, convID); err != nil {
			m.logger.Warn("conversation close failed", "error", err)
		}
	}
}

// ProcessMessageStream is the streaming variant. Flow turns arrive as a
// single complete chunk; generated turns stream token deltas and finish with
// the accumulated text.
func (m *Manager) ProcessMessageStream(ctx context.Context, req MessageRequest) (<-chan StreamChunk, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}

	session := sessionID(req)
	out := make(chan StreamChunk, 1)
	go func() {
		defer close(out)
		release := m.locks.acquire(req.UserID + ":" + session)
		defer release()
		m.streamLocked(ctx, req, session, out)
	}()
	return out, nil
}

func (m *Manager) streamLocked(ctx context.Context, req MessageRequest, session string, out chan<- StreamChunk) {
	emit := func(message string) {
		select {
		case out <- StreamChunk{Content: message, IsComplete: true}:
		case <-ctx.Done():
		}
	}
	// Fallback chunks replace whatever was streamed before them.
	emitFallback := func(message string) {
		select {
		case out <- StreamChunk{Content: message, IsComplete: true, Fallback: true}:
		case <-ctx.Done():
		}
	}

	turn, err := m.prepareTurn(ctx, req, session)
	if err != nil {
		m.logger.Error("stream turn preparation failed", "user_id", req.UserID, "error", err)
		emitFallback(fallbackMessage)
		return
	}
	cc := turn.cc

	if isFlowIntent(turn.intent) {
		resp, cc, err := m.runFlow(ctx, cc, turn.analysis)
		if err != nil {
			m.logger.Error("stream flow failed", "user_id", req.UserID, "error", err)
			emitFallback(fallbackMessage)
			return
		}
		if err := m.finishTurn(ctx, cc, req.Message, resp, turn.analysis); err != nil {
			m.logger.Error("stream turn finish failed", "user_id", req.UserID, "error", err)
		}
		m.metrics.ObserveTurn(string(turn.intent), "ok")
		emit(resp.Message)
		return
	}

	if m.llm == nil {
		resp := m.knowledgeOnlyReply(cc, turn.analysis)
		if err := m.finishTurn(ctx, cc, req.Message, resp, turn.analysis); err != nil {
			m.logger.Error("stream turn finish failed", "user_id", req.UserID, "error", err)
		}
		emit(resp.Message)
		return
	}

	var snippets []string
	if m.retriever != nil {
		if found, err := m.retriever.Query(ctx, "", turn.analysis.OriginalText, 3); err == nil {
			snippets = found
		}
	}

	started := time.Now()
	chunks, err := m.llm.GenerateStream(ctx, GenerateRequest{
		UserID:       cc.UserID,
		SystemPrompt: buildSystemPrompt(cc, turn.analysis, snippets, m.contexts.Summary(cc)),
		History:      cc.RecentHistory(m.historyWindow),
		Message:      turn.analysis.OriginalText,
	})
	if errors.Is(err, ErrRateLimited) {
		m.metrics.ObserveRateLimited()
		emitFallback(rateLimitedMessage)
		return
	}
	if err != nil {
		emitFallback(m.knowledgeOnlyReply(cc, turn.analysis).Message)
		return
	}

	var full string
	for chunk := range chunks {
		if chunk.IsComplete {
			full = chunk.Content
		}
		select {
		case out <- chunk:
		case <-ctx.Done():
			return
		}
	}
	m.metrics.ObserveLLMLatency("generate_stream", time.Since(started).Seconds())

	if strings.TrimSpace(full) == "" {
		// The stream died mid-generation: the deltas already sent cannot be
		// completed, so the fallback replaces them.
		emitFallback(m.knowledgeOnlyReply(cc, turn.analysis).Message)
		return
	}
	oneShot := turn.analysis.Intent == IntentGeneralInfo
	resp := &Response{
		Message:       full,
		Intent:        turn.analysis.Intent,
		IsCompleted:   oneShot,
		RequiresInput: !oneShot,
		Confidence:    turn.analysis.Confidence,
	}
	if err := m.finishTurn(ctx, cc, req.Message, resp, turn.analysis); err != nil {
		m.logger.Error("stream turn finish failed", "user_id", req.UserID, "error", err)
	}
	m.metrics.ObserveTurn(string(turn.intent), "ok")
}
