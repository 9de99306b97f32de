package conversation

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/atendeai/clinic-assistant/pkg/logging"
)

const defaultContextTTL = 24 * time.Hour

// slotOverwriteThreshold: an unconfirmed slot is only replaced when the new
// extraction is at least as confident as the stored one.
const slotOverwriteThreshold = 0.0

// ContextManager owns ConversationContext persistence. Methods take a context
// value and return an updated copy; each mutating call writes the full object
// back to Redis, so callers re-fetch rather than caching across turns.
type ContextManager struct {
	redis  *redis.Client
	ttl    time.Duration
	tracer trace.Tracer
	logger *logging.Logger
}

// NewContextManager creates a Redis-backed context manager.
func NewContextManager(rdb *redis.Client, ttl time.Duration, logger *logging.Logger) *ContextManager {
	if rdb == nil {
		panic("conversation: redis client cannot be nil")
	}
	if ttl <= 0 {
		ttl = defaultContextTTL
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &ContextManager{
		redis:  rdb,
		ttl:    ttl,
		tracer: otel.Tracer("clinic.internal.conversation.context"),
		logger: logger,
	}
}

func contextKey(userID, sessionID string) string {
	return fmt.Sprintf("context:%s:%s", userID, sessionID)
}

// Create initializes a fresh context with empty slots and persists it.
func (m *ContextManager) Create(ctx context.Context, userID, sessionID string, intent Intent) (*ConversationContext, error) {
	if intent == "" {
		intent = IntentUnknown
	}
	now := time.Now().UTC()
	cc := &ConversationContext{
		UserID:        userID,
		SessionID:     sessionID,
		CurrentIntent: intent,
		FlowState:     StateInitial,
		Slots:         make(map[SlotName]Slot),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := m.save(ctx, cc); err != nil {
		return nil, err
	}
	return cc, nil
}

// Get fetches the persisted context, or nil when absent or expired.
func (m *ContextManager) Get(ctx context.Context, userID, sessionID string) (*ConversationContext, error) {
	ctx, span := m.tracer.Start(ctx, "conversation.get_context")
	defer span.End()

	data, err := m.redis.Get(ctx, contextKey(userID, sessionID)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		span.RecordError(err)
		return nil, fmt.Errorf("conversation: failed to load context: %w", err)
	}

	var cc ConversationContext
	if err := json.Unmarshal(data, &cc); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("conversation: failed to decode context: %w", err)
	}
	if cc.Slots == nil {
		cc.Slots = make(map[SlotName]Slot)
	}
	return &cc, nil
}

// AddMessage appends a turn to the history and persists the updated context.
func (m *ContextManager) AddMessage(ctx context.Context, cc *ConversationContext, role, content string) (*ConversationContext, error) {
	out := cc.clone()
	out.History = append(out.History, HistoryMessage{
		Role:      role,
		Content:   content,
		Timestamp: time.Now().UTC(),
	})
	if role == ChatRoleUser {
		out.Turn++
	}
	if err := m.save(ctx, out); err != nil {
		return nil, err
	}
	return out, nil
}

// ContextUpdate carries the partial fields Update may merge.
type ContextUpdate struct {
	Intent         *Intent
	FlowState      *FlowState
	ConversationID *string
	OfferedSlots   []OfferedSlot
	Candidates     []string
	ChosenDoctorID *string
}

// Update shallow-merges the partial fields and persists.
func (m *ContextManager) Update(ctx context.Context, cc *ConversationContext, upd ContextUpdate) (*ConversationContext, error) {
	out := cc.clone()
	if upd.Intent != nil {
		out.CurrentIntent = *upd.Intent
	}
	if upd.FlowState != nil {
		out.FlowState = *upd.FlowState
	}
	if upd.ConversationID != nil {
		out.ConversationID = *upd.ConversationID
	}
	if upd.OfferedSlots != nil {
		out.OfferedSlots = upd.OfferedSlots
	}
	if upd.Candidates != nil {
		out.Candidates = upd.Candidates
	}
	if upd.ChosenDoctorID != nil {
		out.ChosenDoctorID = *upd.ChosenDoctorID
	}
	if err := m.save(ctx, out); err != nil {
		return nil, err
	}
	return out, nil
}

// UpdateSlots maps extracted entities onto canonical slots and persists.
// Empty values are ignored; an existing slot is only replaced when the new
// confidence is at least the stored confidence, and confirmed slots are never
// downgraded by a lower-confidence extraction.
func (m *ContextManager) UpdateSlots(ctx context.Context, cc *ConversationContext, entities Entities, confidence float64) (*ConversationContext, error) {
	out := cc.clone()
	now := time.Now().UTC()
	for _, mapping := range entitySlots {
		value := mapping.Get(entities)
		if value == "" {
			continue
		}
		existing, ok := out.Slots[mapping.Slot]
		if ok {
			if existing.Confirmed && confidence < existing.Confidence {
				continue
			}
			if confidence+slotOverwriteThreshold < existing.Confidence {
				continue
			}
		}
		out.Slots[mapping.Slot] = Slot{
			Value:      value,
			Confidence: confidence,
			Confirmed:  existing.Confirmed && existing.Value == value,
			UpdatedAt:  now,
		}
	}
	if err := m.save(ctx, out); err != nil {
		return nil, err
	}
	return out, nil
}

// SetSlot stores a single slot value directly (used when the flow resolves a
// value itself, e.g. the chosen availability option) and persists.
func (m *ContextManager) SetSlot(ctx context.Context, cc *ConversationContext, name SlotName, value string, confirmed bool) (*ConversationContext, error) {
	out := cc.clone()
	out.Slots[name] = Slot{
		Value:      value,
		Confidence: 1.0,
		Confirmed:  confirmed,
		UpdatedAt:  time.Now().UTC(),
	}
	if err := m.save(ctx, out); err != nil {
		return nil, err
	}
	return out, nil
}

// ConfirmSlots marks every filled slot as confirmed and persists.
func (m *ContextManager) ConfirmSlots(ctx context.Context, cc *ConversationContext) (*ConversationContext, error) {
	out := cc.clone()
	for name, slot := range out.Slots {
		if slot.Value == "" {
			continue
		}
		slot.Confirmed = true
		out.Slots[name] = slot
	}
	if err := m.save(ctx, out); err != nil {
		return nil, err
	}
	return out, nil
}

// MissingSlots computes which required slots are still unfilled for the
// current intent. For an OR group the group's first member names the gap.
func (m *ContextManager) MissingSlots(cc *ConversationContext) []SlotName {
	groups, ok := requiredSlots[cc.CurrentIntent]
	if !ok {
		return nil
	}
	var missing []SlotName
	for _, group := range groups {
		satisfied := false
		for _, name := range group {
			if cc.SlotValue(name) != "" {
				satisfied = true
				break
			}
		}
		if !satisfied {
			missing = append(missing, group[0])
		}
	}
	return missing
}

// AllSlotsFilled reports whether every required slot group is satisfied.
func (m *ContextManager) AllSlotsFilled(cc *ConversationContext) bool {
	return len(m.MissingSlots(cc)) == 0
}

// Summary renders a human-readable digest of the context for prompt
// construction.
func (m *ContextManager) Summary(cc *ConversationContext) string {
	var b []byte
	b = append(b, fmt.Sprintf("Intenção atual: %s. Etapa: %s.", cc.CurrentIntent, cc.FlowState)...)
	for _, mapping := range entitySlots {
		slot, ok := cc.Slots[mapping.Slot]
		if !ok || slot.Value == "" {
			continue
		}
		status := ""
		if slot.Confirmed {
			status = " (confirmado)"
		}
		b = append(b, fmt.Sprintf(" %s: %s%s.", mapping.Slot, slot.Value, status)...)
	}
	if missing := m.MissingSlots(cc); len(missing) > 0 {
		b = append(b, " Faltam: "...)
		for i, name := range missing {
			if i > 0 {
				b = append(b, ", "...)
			}
			b = append(b, name...)
		}
		b = append(b, '.')
	}
	return string(b)
}

func (m *ContextManager) save(ctx context.Context, cc *ConversationContext) error {
	ctx, span := m.tracer.Start(ctx, "conversation.save_context")
	defer span.End()

	cc.UpdatedAt = time.Now().UTC()
	data, err := json.Marshal(cc)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("conversation: failed to marshal context: %w", err)
	}
	if err := m.redis.Set(ctx, contextKey(cc.UserID, cc.SessionID), data, m.ttl).Err(); err != nil {
		span.RecordError(err)
		return fmt.Errorf("conversation: failed to persist context: %w", err)
	}
	return nil
}

func (c *ConversationContext) clone() *ConversationContext {
	out := *c
	out.Slots = make(map[SlotName]Slot, len(c.Slots))
	for k, v := range c.Slots {
		out.Slots[k] = v
	}
	out.History = append([]HistoryMessage(nil), c.History...)
	out.OfferedSlots = append([]OfferedSlot(nil), c.OfferedSlots...)
	out.Candidates = append([]string(nil), c.Candidates...)
	return &out
}
