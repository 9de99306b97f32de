package conversation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/atendeai/clinic-assistant/internal/scheduling"
)

// handleReschedule moves an existing appointment: identify it, disambiguate
// when the patient has several, collect the new time, then move it.
func (h *FlowHandler) handleReschedule(ctx context.Context, cc *ConversationContext, analysis Analysis) (FlowResult, *ConversationContext, error) {
	switch cc.FlowState {
	case StateSelectAppointment:
		return h.selectAppointment(ctx, cc, h.rescheduleNext)
	case StateCollectNewTime:
		return h.rescheduleAt(ctx, cc)
	}

	if !h.identificationReady(cc) {
		result, _ := h.askSlot([]SlotName{SlotAppointmentID})
		result.NextStep = StateIdentifyAppointment
		return result, cc, nil
	}
	return h.identifyAppointment(ctx, cc, h.rescheduleNext)
}

// identificationReady reports whether the flow has enough to look the
// appointment up.
func (h *FlowHandler) identificationReady(cc *ConversationContext) bool {
	return cc.SlotValue(SlotAppointmentID) != "" ||
		cc.SlotValue(SlotPatientName) != "" ||
		cc.SlotValue(SlotPatientPhone) != ""
}

func (h *FlowHandler) identification(cc *ConversationContext) scheduling.Identification {
	ident := scheduling.Identification{
		PatientName:  cc.SlotValue(SlotPatientName),
		PatientPhone: cc.SlotValue(SlotPatientPhone),
	}
	if raw := cc.SlotValue(SlotAppointmentID); raw != "" {
		if id, err := uuid.Parse(raw); err == nil {
			ident.AppointmentID = id
		}
	}
	return ident
}

// identifyAppointment resolves the identification slots into exactly one
// appointment, asking for disambiguation when needed, then hands off to next.
func (h *FlowHandler) identifyAppointment(ctx context.Context, cc *ConversationContext, next func(context.Context, *ConversationContext, scheduling.Appointment) (FlowResult, *ConversationContext, error)) (FlowResult, *ConversationContext, error) {
	matches, err := h.sched.FindAppointments(ctx, h.identification(cc))
	if err != nil {
		h.logger.Error("appointment lookup failed", "error", err)
		return h.restartResult(), cc, nil
	}
	if len(matches) == 0 {
		return FlowResult{
			Success: false,
			Message: "Não encontrei nenhuma consulta futura com esses dados. " +
				"Pode confirmar o nome completo usado no agendamento ou o telefone com DDD?",
			NextStep: StateIdentifyAppointment,
		}, cc, nil
	}
	if len(matches) == 1 {
		return next(ctx, cc, matches[0])
	}

	ids := make([]string, len(matches))
	var b strings.Builder
	b.WriteString("Encontrei mais de uma consulta no seu nome:\n")
	for i, appt := range matches {
		ids[i] = appt.ID.String()
		fmt.Fprintf(&b, "%d. %s, %s\n", i+1, h.specialtyName(appt.SpecialtyID), formatSlotPT(appt.ScheduledAt))
	}
	b.WriteString("Qual delas? Responda com o número.")

	out, err := h.contexts.Update(ctx, cc, ContextUpdate{Candidates: ids})
	if err != nil {
		return FlowResult{}, cc, err
	}
	return FlowResult{
		Success:  true,
		Message:  b.String(),
		NextStep: StateSelectAppointment,
	}, out, nil
}

// selectAppointment resolves a numbered disambiguation reply against the
// stored candidates and hands the chosen appointment to next.
func (h *FlowHandler) selectAppointment(ctx context.Context, cc *ConversationContext, next func(context.Context, *ConversationContext, scheduling.Appointment) (FlowResult, *ConversationContext, error)) (FlowResult, *ConversationContext, error) {
	if len(cc.Candidates) == 0 {
		return h.identifyAppointment(ctx, cc, next)
	}
	choice, ok := parseOptionNumber(cc.LastUserMessage(), len(cc.Candidates))
	if !ok {
		return FlowResult{
			Success:  false,
			Message:  fmt.Sprintf("Não entendi. Responda com um número de 1 a %d, por favor.", len(cc.Candidates)),
			NextStep: StateSelectAppointment,
		}, cc, nil
	}
	id, err := uuid.Parse(cc.Candidates[choice-1])
	if err != nil {
		return h.restartResult(), cc, nil
	}
	matches, err := h.sched.FindAppointments(ctx, scheduling.Identification{AppointmentID: id})
	if err != nil || len(matches) == 0 {
		return h.restartResult(), cc, nil
	}
	return next(ctx, cc, matches[0])
}

// rescheduleNext runs once the target appointment is known: either move it
// right away or ask for the new time first.
func (h *FlowHandler) rescheduleNext(ctx context.Context, cc *ConversationContext, appt scheduling.Appointment) (FlowResult, *ConversationContext, error) {
	out, err := h.contexts.Update(ctx, cc, ContextUpdate{Candidates: []string{appt.ID.String()}})
	if err != nil {
		return FlowResult{}, cc, err
	}
	if h.hasNewTime(out) {
		return h.rescheduleAt(ctx, out)
	}
	return FlowResult{
		Success: true,
		Message: fmt.Sprintf("Sua consulta de %s está marcada para %s. Para quando você quer remarcar? "+
			"Me diga a data e o horário.", h.specialtyName(appt.SpecialtyID), formatSlotPT(appt.ScheduledAt)),
		NextStep: StateCollectNewTime,
	}, out, nil
}

// hasNewTime reports whether the date and time slots already resolve to a
// usable new start.
func (h *FlowHandler) hasNewTime(cc *ConversationContext) bool {
	if _, ok := parseDate(cc.SlotValue(SlotPreferredDate), h.now()); !ok {
		return false
	}
	_, _, ok := parseTimeOfDay(cc.SlotValue(SlotPreferredTime))
	return ok
}

// rescheduleAt parses the new time and moves the appointment.
func (h *FlowHandler) rescheduleAt(ctx context.Context, cc *ConversationContext) (FlowResult, *ConversationContext, error) {
	if len(cc.Candidates) == 0 {
		return h.identifyAppointment(ctx, cc, h.rescheduleNext)
	}
	id, err := uuid.Parse(cc.Candidates[0])
	if err != nil {
		return h.restartResult(), cc, nil
	}

	msg := cc.LastUserMessage()
	rawDate := cc.SlotValue(SlotPreferredDate)
	if rawDate == "" {
		rawDate = msg
	}
	day, ok := parseDate(rawDate, h.now())
	if !ok {
		return FlowResult{
			Success:  false,
			Message:  "Para qual data você quer remarcar? Pode ser algo como \"amanhã\", \"sexta\" ou \"15/10\".",
			NextStep: StateCollectNewTime,
		}, cc, nil
	}
	rawTime := cc.SlotValue(SlotPreferredTime)
	if rawTime == "" {
		rawTime = msg
	}
	hour, minute, ok := parseTimeOfDay(rawTime)
	if !ok {
		return FlowResult{
			Success:  false,
			Message:  fmt.Sprintf("E para qual horário no dia %s? Por exemplo, \"14h30\".", day.Format("02/01")),
			NextStep: StateCollectNewTime,
		}, cc, nil
	}

	newStart := time.Date(day.Year(), day.Month(), day.Day(), hour, minute, 0, 0, day.Location())
	appt, err := h.sched.Reschedule(ctx, id, newStart)
	if errors.Is(err, scheduling.ErrSlotTaken) {
		return FlowResult{
			Success: false,
			Message: fmt.Sprintf("O horário de %s já está ocupado. Pode me passar outra data e horário?",
				formatSlotPT(newStart)),
			NextStep: StateCollectNewTime,
		}, cc, nil
	}
	if err != nil {
		h.logger.Error("reschedule failed", "appointment_id", id, "error", err)
		return h.restartResult(), cc, nil
	}

	return FlowResult{
		Success: true,
		Message: fmt.Sprintf("Prontinho! Sua consulta de %s foi remarcada para %s com %s.",
			h.specialtyName(appt.SpecialtyID), formatSlotPT(appt.ScheduledAt), h.sched.DoctorName(ctx, appt.DoctorID)),
		NextStep: StateCompleted,
		Data: map[string]any{
			"appointmentId": appt.ID.String(),
			"scheduledAt":   appt.ScheduledAt,
		},
	}, cc, nil
}

func (h *FlowHandler) specialtyName(id string) string {
	if sp, ok := h.kb.Specialty(id); ok {
		return sp.Name
	}
	return "consulta"
}
