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

const maxOfferedSlots = 3

// handleScheduling runs the booking state machine: collect the required
// slots, offer real availability, confirm the patient's choice, then book.
func (h *FlowHandler) handleScheduling(ctx context.Context, cc *ConversationContext, analysis Analysis) (FlowResult, *ConversationContext, error) {
	switch cc.FlowState {
	case StateConfirmingDetails:
		return h.schedulingSelect(ctx, cc)
	case StateReadyToBook:
		return h.schedulingBook(ctx, cc)
	}

	if result, ok := h.askSlot(h.contexts.MissingSlots(cc)); ok {
		return result, cc, nil
	}
	return h.schedulingOffer(ctx, cc)
}

// schedulingOffer resolves the specialty, computes availability and presents
// up to three options.
func (h *FlowHandler) schedulingOffer(ctx context.Context, cc *ConversationContext) (FlowResult, *ConversationContext, error) {
	specialty, ok := h.kb.SpecialtyByName(cc.SlotValue(SlotSpecialty))
	if !ok {
		return FlowResult{
			Success: false,
			Message: fmt.Sprintf("Não encontrei a especialidade %q. Atendemos: %s. Qual delas você deseja?",
				cc.SlotValue(SlotSpecialty), strings.Join(h.kb.SpecialtyNames(), ", ")),
			NextStep: StateCollectSpecialty,
			Errors:   []string{"unknown specialty"},
		}, cc, nil
	}

	slots, err := h.sched.AvailableSlots(ctx, specialty.ID, h.availabilityDays)
	if err != nil {
		h.logger.Error("availability lookup failed", "specialty", specialty.ID, "error", err)
		return h.restartResult(), cc, nil
	}

	slots = h.filterByPreferences(cc, slots)
	if len(slots) == 0 {
		return FlowResult{
			Success: false,
			Message: fmt.Sprintf("No momento não temos horários disponíveis para %s com essas preferências. "+
				"Quer tentar outra data ou período?", specialty.Name),
			NextStep: StateNoAvailability,
		}, cc, nil
	}
	if len(slots) > maxOfferedSlots {
		slots = slots[:maxOfferedSlots]
	}

	offered := make([]OfferedSlot, len(slots))
	var b strings.Builder
	fmt.Fprintf(&b, "Encontrei estes horários para %s:\n", specialty.Name)
	for i, slot := range slots {
		offered[i] = OfferedSlot{DoctorID: slot.DoctorID.String(), DoctorName: slot.DoctorName, Start: slot.Start}
		fmt.Fprintf(&b, "%d. %s com %s\n", i+1, formatSlotPT(slot.Start), slot.DoctorName)
	}
	b.WriteString("Qual opção você prefere? Responda com o número.")

	out, err := h.contexts.Update(ctx, cc, ContextUpdate{OfferedSlots: offered})
	if err != nil {
		return FlowResult{}, cc, err
	}
	return FlowResult{
		Success:  true,
		Message:  b.String(),
		NextStep: StateConfirmingDetails,
	}, out, nil
}

// schedulingSelect resolves the patient's numbered choice and asks for final
// confirmation.
func (h *FlowHandler) schedulingSelect(ctx context.Context, cc *ConversationContext) (FlowResult, *ConversationContext, error) {
	if len(cc.OfferedSlots) == 0 {
		return h.schedulingOffer(ctx, cc)
	}
	choice, ok := parseOptionNumber(cc.LastUserMessage(), len(cc.OfferedSlots))
	if !ok {
		return FlowResult{
			Success:  false,
			Message:  fmt.Sprintf("Não entendi a escolha. Responda com um número de 1 a %d, por favor.", len(cc.OfferedSlots)),
			NextStep: StateConfirmingDetails,
		}, cc, nil
	}

	chosen := cc.OfferedSlots[choice-1]
	out, err := h.contexts.Update(ctx, cc, ContextUpdate{
		OfferedSlots:   []OfferedSlot{chosen},
		ChosenDoctorID: &chosen.DoctorID,
	})
	if err != nil {
		return FlowResult{}, cc, err
	}

	msg := fmt.Sprintf("Perfeito! Confirmando: consulta de %s para %s, %s com %s. Posso confirmar o agendamento?",
		cc.SlotValue(SlotSpecialty), cc.SlotValue(SlotPatientName), formatSlotPT(chosen.Start), chosen.DoctorName)
	return FlowResult{
		Success:              true,
		Message:              msg,
		NextStep:             StateReadyToBook,
		RequiresConfirmation: true,
	}, out, nil
}

// schedulingBook performs the booking once the patient confirms. The
// idempotency key ties the booking to this conversation turn, so a retried
// confirmation can never create a duplicate.
func (h *FlowHandler) schedulingBook(ctx context.Context, cc *ConversationContext) (FlowResult, *ConversationContext, error) {
	msg := cc.LastUserMessage()
	if isNegative(msg) {
		out, err := h.contexts.Update(ctx, cc, ContextUpdate{OfferedSlots: []OfferedSlot{}})
		if err != nil {
			return FlowResult{}, cc, err
		}
		return FlowResult{
			Success:  true,
			Message:  "Sem problemas. Para qual data ou período você prefere, então?",
			NextStep: StateCollectTimePrefs,
		}, out, nil
	}
	if !isAffirmative(msg) {
		return FlowResult{
			Success:              false,
			Message:              "Só para confirmar: posso agendar esse horário? Responda sim ou não.",
			NextStep:             StateReadyToBook,
			RequiresConfirmation: true,
		}, cc, nil
	}
	if len(cc.OfferedSlots) == 0 {
		return h.schedulingOffer(ctx, cc)
	}

	specialty, ok := h.kb.SpecialtyByName(cc.SlotValue(SlotSpecialty))
	if !ok {
		return h.restartResult(), cc, nil
	}

	chosen := cc.OfferedSlots[0]
	doctorID, err := uuid.Parse(chosen.DoctorID)
	if err != nil {
		// Booking must go to the doctor whose slot was offered, never a
		// silent substitute.
		h.logger.Error("offered slot carries a bad doctor id",
			"conversation_id", cc.ConversationID, "doctor_id", chosen.DoctorID)
		return h.restartResult(), cc, nil
	}
	confirmation, err := h.sched.Book(ctx, scheduling.BookingRequest{
		PatientName:    cc.SlotValue(SlotPatientName),
		PatientPhone:   cc.SlotValue(SlotPatientPhone),
		PatientCPF:     cc.SlotValue(SlotPatientCPF),
		PatientEmail:   cc.SlotValue(SlotPatientEmail),
		SpecialtyID:    specialty.ID,
		DoctorID:       doctorID,
		Start:          chosen.Start,
		Reason:         cc.SlotValue(SlotSymptoms),
		ConversationID: cc.ConversationID,
		IdempotencyKey: fmt.Sprintf("%s:%d", cc.ConversationID, cc.Turn),
	})
	if errors.Is(err, scheduling.ErrSlotTaken) {
		out, uerr := h.contexts.Update(ctx, cc, ContextUpdate{OfferedSlots: []OfferedSlot{}})
		if uerr != nil {
			return FlowResult{}, cc, uerr
		}
		result, out, oerr := h.schedulingOffer(ctx, out)
		if oerr != nil {
			return FlowResult{}, cc, oerr
		}
		result.Message = "Esse horário acabou de ser preenchido, sinto muito. " + result.Message
		return result, out, nil
	}
	if err != nil {
		h.logger.Error("booking failed", "conversation_id", cc.ConversationID, "error", err)
		return FlowResult{
			Success:  false,
			Message:  "Desculpe, não consegui concluir o agendamento agora. Podemos tentar novamente? Como posso ajudar?",
			NextStep: StateRestart,
			Errors:   []string{err.Error()},
		}, cc, nil
	}

	return FlowResult{
		Success: true,
		Message: fmt.Sprintf("Consulta agendada! %s, sua consulta de %s ficou marcada para %s com %s. "+
			"Chegue com 15 minutos de antecedência e traga um documento com foto e a carteirinha do convênio, se tiver. "+
			"Se precisar remarcar ou cancelar, é só me avisar com pelo menos 24 horas de antecedência.",
			confirmation.PatientName, specialty.Name, formatSlotPT(confirmation.Appointment.ScheduledAt), confirmation.DoctorName),
		NextStep: StateCompleted,
		Data: map[string]any{
			"appointmentId": confirmation.Appointment.ID.String(),
			"scheduledAt":   confirmation.Appointment.ScheduledAt,
			"doctorName":    confirmation.DoctorName,
		},
	}, cc, nil
}

// filterByPreferences narrows slots by the collected date and period slots.
// When a filter leaves nothing, it is dropped rather than reported as no
// availability.
func (h *FlowHandler) filterByPreferences(cc *ConversationContext, slots []scheduling.Slot) []scheduling.Slot {
	if rawDate := cc.SlotValue(SlotPreferredDate); rawDate != "" {
		if day, ok := parseDate(rawDate, h.now()); ok {
			filtered := make([]scheduling.Slot, 0, len(slots))
			for _, slot := range slots {
				if sameDay(slot.Start, day) {
					filtered = append(filtered, slot)
				}
			}
			if len(filtered) > 0 {
				slots = filtered
			}
		}
	}

	if period := normalizeText(cc.SlotValue(SlotTimePreference)); period != "" {
		filtered := make([]scheduling.Slot, 0, len(slots))
		for _, slot := range slots {
			hour := slot.Start.Hour()
			switch {
			case strings.Contains(period, "manha") && hour < 12:
				filtered = append(filtered, slot)
			case strings.Contains(period, "tarde") && hour >= 12 && hour < 18:
				filtered = append(filtered, slot)
			case strings.Contains(period, "noite") && hour >= 18:
				filtered = append(filtered, slot)
			}
		}
		if len(filtered) > 0 {
			slots = filtered
		}
	}
	return slots
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}
