package conversation

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/atendeai/clinic-assistant/internal/scheduling"
)

// handleCancel cancels an appointment after an explicit confirmation, citing
// the cancellation policy before committing.
func (h *FlowHandler) handleCancel(ctx context.Context, cc *ConversationContext, analysis Analysis) (FlowResult, *ConversationContext, error) {
	switch cc.FlowState {
	case StateSelectAppointment:
		return h.selectAppointment(ctx, cc, h.cancelConfirm)
	case StateConfirmCancellation:
		return h.cancelCommit(ctx, cc)
	}

	if !h.identificationReady(cc) {
		result, _ := h.askSlot([]SlotName{SlotAppointmentID})
		result.NextStep = StateIdentifyAppointment
		return result, cc, nil
	}
	return h.identifyAppointment(ctx, cc, h.cancelConfirm)
}

// cancelConfirm shows the appointment and the cancellation policy, then waits
// for a yes.
func (h *FlowHandler) cancelConfirm(ctx context.Context, cc *ConversationContext, appt scheduling.Appointment) (FlowResult, *ConversationContext, error) {
	out, err := h.contexts.Update(ctx, cc, ContextUpdate{Candidates: []string{appt.ID.String()}})
	if err != nil {
		return FlowResult{}, cc, err
	}

	msg := fmt.Sprintf("Encontrei sua consulta de %s marcada para %s.",
		h.specialtyName(appt.SpecialtyID), formatSlotPT(appt.ScheduledAt))
	if policy, ok := h.kb.Policy("cancelamento"); ok {
		msg += " " + policy.Text
	}
	msg += " Confirma o cancelamento?"

	return FlowResult{
		Success:              true,
		Message:              msg,
		NextStep:             StateConfirmCancellation,
		RequiresConfirmation: true,
	}, out, nil
}

// cancelCommit performs the cancellation once confirmed.
func (h *FlowHandler) cancelCommit(ctx context.Context, cc *ConversationContext) (FlowResult, *ConversationContext, error) {
	msg := cc.LastUserMessage()
	if isNegative(msg) {
		return FlowResult{
			Success:  true,
			Message:  "Tudo bem, sua consulta continua marcada. Posso ajudar com mais alguma coisa?",
			NextStep: StateCompleted,
		}, cc, nil
	}
	if !isAffirmative(msg) {
		return FlowResult{
			Success:              false,
			Message:              "Só para confirmar: você quer mesmo cancelar a consulta? Responda sim ou não.",
			NextStep:             StateConfirmCancellation,
			RequiresConfirmation: true,
		}, cc, nil
	}
	if len(cc.Candidates) == 0 {
		return h.identifyAppointment(ctx, cc, h.cancelConfirm)
	}
	id, err := uuid.Parse(cc.Candidates[0])
	if err != nil {
		return h.restartResult(), cc, nil
	}
	if err := h.sched.Cancel(ctx, id); err != nil {
		h.logger.Error("cancellation failed", "appointment_id", id, "error", err)
		return h.restartResult(), cc, nil
	}
	return FlowResult{
		Success: true,
		Message: "Sua consulta foi cancelada. Quando quiser remarcar, é só me chamar. Melhoras, se for o caso!",
		NextStep: StateCompleted,
		Data:     map[string]any{"appointmentId": id.String(), "cancelled": true},
	}, cc, nil
}
