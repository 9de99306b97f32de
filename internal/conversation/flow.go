package conversation

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/atendeai/clinic-assistant/internal/knowledge"
	"github.com/atendeai/clinic-assistant/internal/scheduling"
	"github.com/atendeai/clinic-assistant/pkg/logging"
)

// Scheduler is the scheduling surface the flows depend on. Satisfied by
// *scheduling.Service and by the stubs in tests.
type Scheduler interface {
	AvailableSlots(ctx context.Context, specialtyID string, days int) ([]scheduling.Slot, error)
	Book(ctx context.Context, req scheduling.BookingRequest) (*scheduling.BookingConfirmation, error)
	FindAppointments(ctx context.Context, ident scheduling.Identification) ([]scheduling.Appointment, error)
	Reschedule(ctx context.Context, id uuid.UUID, newStart time.Time) (*scheduling.Appointment, error)
	Cancel(ctx context.Context, id uuid.UUID) error
	DoctorName(ctx context.Context, id uuid.UUID) string
}

// FlowHandler runs the per-intent state machines. Every path returns a
// complete, displayable message: a flow never answers with an empty string.
type FlowHandler struct {
	sched            Scheduler
	kb               *knowledge.Base
	contexts         *ContextManager
	logger           *logging.Logger
	availabilityDays int
	now              func() time.Time
}

// NewFlowHandler creates the flow dispatcher.
func NewFlowHandler(sched Scheduler, kb *knowledge.Base, contexts *ContextManager, availabilityDays int, logger *logging.Logger) *FlowHandler {
	if sched == nil {
		panic("conversation: FlowHandler requires a scheduler")
	}
	if kb == nil {
		panic("conversation: FlowHandler requires a knowledge base")
	}
	if contexts == nil {
		panic("conversation: FlowHandler requires a context manager")
	}
	if logger == nil {
		logger = logging.Default()
	}
	if availabilityDays <= 0 {
		availabilityDays = 14
	}
	return &FlowHandler{
		sched:            sched,
		kb:               kb,
		contexts:         contexts,
		logger:           logger,
		availabilityDays: availabilityDays,
		now:              time.Now,
	}
}

// Handle advances the flow for cc.CurrentIntent one step. The returned
// context carries any state the flow stashed (offered slots, candidate
// appointments); the caller persists result.NextStep.
func (h *FlowHandler) Handle(ctx context.Context, cc *ConversationContext, analysis Analysis) (result FlowResult, out *ConversationContext, err error) {
	out = cc

	defer func() {
		if r := recover(); r != nil {
			h.logger.Error("flow handler panicked",
				"intent", cc.CurrentIntent, "state", cc.FlowState, "panic", fmt.Sprint(r))
			result = h.restartResult()
			err = nil
		}
	}()

	if !cc.FlowState.ValidFor(cc.CurrentIntent) && cc.FlowState != StateRestart {
		h.logger.Warn("flow state invalid for intent, restarting",
			"intent", cc.CurrentIntent, "state", cc.FlowState)
		return h.restartResult(), out, nil
	}

	switch cc.CurrentIntent {
	case IntentSchedule:
		return h.handleScheduling(ctx, cc, analysis)
	case IntentReschedule:
		return h.handleReschedule(ctx, cc, analysis)
	case IntentCancel:
		return h.handleCancel(ctx, cc, analysis)
	case IntentEmergency:
		return h.handleEmergency(ctx, cc, analysis)
	}
	return h.restartResult(), out, nil
}

func (h *FlowHandler) restartResult() FlowResult {
	return FlowResult{
		Success:  false,
		Message:  "Desculpe, tive um problema ao processar sua solicitação. Vamos recomeçar: como posso ajudar?",
		NextStep: StateRestart,
	}
}

// slotQuestions maps a missing slot onto the question that collects it.
var slotQuestions = map[SlotName]string{
	SlotPatientName:    "Para começar, qual é o seu nome completo?",
	SlotPatientPhone:   "Qual é o seu telefone para contato (com DDD)?",
	SlotPatientCPF:     "Qual é o seu CPF?",
	SlotPatientEmail:   "Qual é o seu e-mail?",
	SlotSpecialty:      "Para qual especialidade você deseja a consulta?",
	SlotPreferredDate:  "Para qual data você prefere a consulta?",
	SlotPreferredTime:  "Qual horário você prefere?",
	SlotTimePreference: "Você prefere ser atendido de manhã ou à tarde?",
	SlotSymptoms:       "Pode me descrever o que você está sentindo?",
	SlotAppointmentID:  "Você tem o número da consulta? Se não tiver, me informe o nome completo usado no agendamento.",
	SlotInsurancePlan:  "Qual é o seu convênio?",
}

// collectStates maps a missing slot onto the state that waits for it.
var collectStates = map[SlotName]FlowState{
	SlotPatientName:    StateCollectName,
	SlotPatientPhone:   StateCollectPhone,
	SlotSpecialty:      StateCollectSpecialty,
	SlotPreferredDate:  StateCollectTimePrefs,
	SlotTimePreference: StateCollectTimePrefs,
	SlotSymptoms:       StateCollectBasicInfo,
	SlotAppointmentID:  StateIdentifyAppointment,
}

// askSlot builds the collection result for the first missing slot.
func (h *FlowHandler) askSlot(missing []SlotName) (FlowResult, bool) {
	if len(missing) == 0 {
		return FlowResult{}, false
	}
	slot := missing[0]
	question, ok := slotQuestions[slot]
	if !ok {
		question = "Pode me dar mais detalhes, por favor?"
	}
	state, ok := collectStates[slot]
	if !ok {
		state = StateCollectBasicInfo
	}
	return FlowResult{
		Success:  true,
		Message:  question,
		NextStep: state,
	}, true
}

var (
	datePattern   = regexp.MustCompile(`\b(\d{1,2})/(\d{1,2})(?:/(\d{2,4}))?\b`)
	timePattern   = regexp.MustCompile(`\b(\d{1,2})(?::|h)(\d{2})?\b`)
	optionPattern = regexp.MustCompile(`\b([1-9])\b`)
)

var weekdayNames = map[string]time.Weekday{
	"domingo": time.Sunday,
	"segunda": time.Monday,
	"terca":   time.Tuesday,
	"quarta":  time.Wednesday,
	"quinta":  time.Thursday,
	"sexta":   time.Friday,
	"sabado":  time.Saturday,
}

// parseDate resolves a Brazilian date expression against a reference time.
// Accepts "hoje", "amanhã", weekday names (next occurrence) and dd/mm or
// dd/mm/yyyy.
func parseDate(raw string, ref time.Time) (time.Time, bool) {
	msg := normalizeText(raw)
	// Midnight in ref's own zone: Truncate works on absolute time and would
	// shift the calendar day for any clock west of UTC.
	day := time.Date(ref.Year(), ref.Month(), ref.Day(), 0, 0, 0, 0, ref.Location())

	switch {
	case strings.Contains(msg, "depois de amanha"):
		return day.AddDate(0, 0, 2), true
	case strings.Contains(msg, "amanha"):
		return day.AddDate(0, 0, 1), true
	case strings.Contains(msg, "hoje"):
		return day, true
	}

	for name, wd := range weekdayNames {
		if !strings.Contains(msg, name) {
			continue
		}
		delta := (int(wd) - int(ref.Weekday()) + 7) % 7
		if delta == 0 {
			delta = 7
		}
		return day.AddDate(0, 0, delta), true
	}

	if m := datePattern.FindStringSubmatch(raw); m != nil {
		dd, _ := strconv.Atoi(m[1])
		mm, _ := strconv.Atoi(m[2])
		year := ref.Year()
		if m[3] != "" {
			year, _ = strconv.Atoi(m[3])
			if year < 100 {
				year += 2000
			}
		}
		if mm < 1 || mm > 12 || dd < 1 || dd > 31 {
			return time.Time{}, false
		}
		parsed := time.Date(year, time.Month(mm), dd, 0, 0, 0, 0, ref.Location())
		if m[3] == "" && parsed.Before(day) {
			parsed = parsed.AddDate(1, 0, 0)
		}
		return parsed, true
	}
	return time.Time{}, false
}

// parseTimeOfDay resolves "15:30", "15h30", "15h" or "15 horas" into
// hour/minute.
func parseTimeOfDay(raw string) (hour, minute int, ok bool) {
	if m := timePattern.FindStringSubmatch(raw); m != nil {
		hour, _ = strconv.Atoi(m[1])
		if m[2] != "" {
			minute, _ = strconv.Atoi(m[2])
		}
		if hour > 23 || minute > 59 {
			return 0, 0, false
		}
		return hour, minute, true
	}
	msg := normalizeText(raw)
	if m := regexp.MustCompile(`\b(\d{1,2})\s*horas?\b`).FindStringSubmatch(msg); m != nil {
		hour, _ = strconv.Atoi(m[1])
		if hour <= 23 {
			return hour, 0, true
		}
	}
	return 0, 0, false
}

// parseOptionNumber extracts a 1-based option choice from a selection reply.
func parseOptionNumber(raw string, max int) (int, bool) {
	msg := normalizeText(raw)
	words := map[string]int{
		"primeira": 1, "primeiro": 1,
		"segunda": 2, "segundo": 2,
		"terceira": 3, "terceiro": 3,
	}
	for word, n := range words {
		if strings.Contains(msg, word) && n <= max {
			return n, true
		}
	}
	if m := optionPattern.FindStringSubmatch(raw); m != nil {
		n, _ := strconv.Atoi(m[1])
		if n >= 1 && n <= max {
			return n, true
		}
	}
	return 0, false
}

func isAffirmative(raw string) bool {
	msg := normalizeText(raw)
	for _, term := range []string{"sim", "confirmo", "confirmar", "pode ser", "isso mesmo", "claro", "ok", "perfeito", "correto"} {
		if strings.Contains(msg, term) {
			return true
		}
	}
	return false
}

func isNegative(raw string) bool {
	msg := normalizeText(raw)
	for _, term := range []string{"nao", "negativo", "errado", "cancela isso", "deixa pra la", "desisto"} {
		if strings.Contains(msg, term) {
			return true
		}
	}
	return false
}

var weekdayPT = map[time.Weekday]string{
	time.Sunday:    "domingo",
	time.Monday:    "segunda-feira",
	time.Tuesday:   "terça-feira",
	time.Wednesday: "quarta-feira",
	time.Thursday:  "quinta-feira",
	time.Friday:    "sexta-feira",
	time.Saturday:  "sábado",
}

// formatSlotPT renders a slot time as the patient reads it, e.g.
// "segunda-feira, 07/09 às 09:00".
func formatSlotPT(t time.Time) string {
	return fmt.Sprintf("%s, %s às %s", weekdayPT[t.Weekday()], t.Format("02/01"), t.Format("15:04"))
}
