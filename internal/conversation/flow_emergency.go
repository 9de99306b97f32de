package conversation

import (
	"context"
	"strings"

	"github.com/atendeai/clinic-assistant/internal/knowledge"
)

// handleEmergency never books anything: it matches the reported symptoms
// against the emergency protocols and answers with the protocol's guidance.
// Immediate-urgency matches always direct the patient to SAMU.
func (h *FlowHandler) handleEmergency(ctx context.Context, cc *ConversationContext, analysis Analysis) (FlowResult, *ConversationContext, error) {
	reported := cc.SlotValue(SlotSymptoms)
	if reported == "" {
		reported = analysis.OriginalText
	}
	if strings.TrimSpace(reported) == "" {
		result, _ := h.askSlot([]SlotName{SlotSymptoms})
		return result, cc, nil
	}

	protocol, ok := h.kb.MatchEmergency(reported)
	if !ok {
		// Urgent but outside the known protocols: hand the session over to
		// the scheduling flow so the patient is seen quickly.
		schedule := IntentSchedule
		out, err := h.contexts.Update(ctx, cc, ContextUpdate{Intent: &schedule})
		if err != nil {
			return FlowResult{}, cc, err
		}
		prefix := "Entendi que você não está se sentindo bem. Vou priorizar seu atendimento. " +
			"Se os sintomas piorarem, ligue para o SAMU: 192. "
		result, asked := h.askSlot(h.contexts.MissingSlots(out))
		if !asked {
			return h.handleScheduling(ctx, out, analysis)
		}
		result.Message = prefix + result.Message
		result.Data = map[string]any{"urgent": true}
		return result, out, nil
	}

	var b strings.Builder
	b.WriteString(protocol.Response)
	for _, action := range protocol.Actions {
		b.WriteString("\n- ")
		b.WriteString(action)
	}
	if protocol.Urgency == knowledge.UrgencyImmediate && !strings.Contains(b.String(), "192") {
		b.WriteString("\n- Ligue para o SAMU: 192")
	}

	h.logger.Warn("emergency protocol triggered",
		"protocol", protocol.ID, "urgency", string(protocol.Urgency), "session_id", cc.SessionID)

	return FlowResult{
		Success:  true,
		Message:  b.String(),
		NextStep: StateCompleted,
		Data: map[string]any{
			"emergency": true,
			"protocol":  protocol.ID,
			"urgency":   string(protocol.Urgency),
		},
	}, cc, nil
}
