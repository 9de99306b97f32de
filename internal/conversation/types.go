package conversation

import (
	"strings"
	"time"
)

// Intent is the classified purpose of a user message.
type Intent string

const (
	IntentSchedule    Intent = "schedule_appointment"
	IntentReschedule  Intent = "reschedule_appointment"
	IntentCancel      Intent = "cancel_appointment"
	IntentEmergency   Intent = "emergency"
	IntentGeneralInfo Intent = "general_information"
	IntentUnknown     Intent = "unknown"
)

// ParseIntent maps a raw classifier label onto the closed enum, defaulting to
// IntentUnknown so a drifting model label can never corrupt the flow state.
func ParseIntent(raw string) Intent {
	switch Intent(strings.TrimSpace(strings.ToLower(raw))) {
	case IntentSchedule, IntentReschedule, IntentCancel, IntentEmergency, IntentGeneralInfo:
		return Intent(strings.TrimSpace(strings.ToLower(raw)))
	}
	return IntentUnknown
}

// FlowState is a step inside an intent's multi-turn state machine. The string
// values are stable contract values: a restarted process resumes from
// whatever state was persisted.
type FlowState string

const (
	StateInitial             FlowState = "initial"
	StateCollectBasicInfo    FlowState = "collect_basic_info"
	StateCollectName         FlowState = "collect_name"
	StateCollectPhone        FlowState = "collect_phone"
	StateCollectSpecialty    FlowState = "collect_specialty"
	StateCollectTimePrefs    FlowState = "collect_time_preferences"
	StateCollectingDetails   FlowState = "collecting_appointment_details"
	StateNoAvailability      FlowState = "no_availability"
	StateConfirmingDetails   FlowState = "confirming_details"
	StateReadyToBook         FlowState = "ready_to_book"
	StateIdentifyAppointment FlowState = "identify_appointment"
	StateSelectAppointment   FlowState = "select_appointment"
	StateCollectNewTime      FlowState = "collect_new_time"
	StateConfirmCancellation FlowState = "confirm_cancellation"
	StateCompleted           FlowState = "completed"
	StateRestart             FlowState = "restart"
)

// flowStates is the per-intent transition table: the states each intent's
// machine may legally occupy. Anything outside the table is treated as
// recoverable corruption and restarts the flow.
var flowStates = map[Intent][]FlowState{
	IntentSchedule: {
		StateInitial, StateCollectBasicInfo, StateCollectName, StateCollectPhone,
		StateCollectSpecialty, StateCollectTimePrefs, StateCollectingDetails,
		StateNoAvailability, StateConfirmingDetails, StateReadyToBook, StateCompleted,
	},
	IntentReschedule: {
		StateInitial, StateIdentifyAppointment, StateSelectAppointment,
		StateCollectNewTime, StateNoAvailability, StateCompleted,
	},
	IntentCancel: {
		StateInitial, StateIdentifyAppointment, StateSelectAppointment,
		StateConfirmCancellation, StateCompleted,
	},
	IntentEmergency: {
		StateInitial, StateCollectBasicInfo, StateCompleted,
	},
}

// ValidFor reports whether the state belongs to the intent's machine.
func (s FlowState) ValidFor(intent Intent) bool {
	for _, valid := range flowStates[intent] {
		if s == valid {
			return true
		}
	}
	return false
}

// SlotName is a canonical slot identifier.
type SlotName string

const (
	SlotPatientName    SlotName = "patientName"
	SlotPatientPhone   SlotName = "patientPhone"
	SlotPatientCPF     SlotName = "patientCPF"
	SlotPatientEmail   SlotName = "patientEmail"
	SlotSpecialty      SlotName = "specialty"
	SlotPreferredDate  SlotName = "preferredDate"
	SlotPreferredTime  SlotName = "preferredTime"
	SlotTimePreference SlotName = "timePreference"
	SlotSymptoms       SlotName = "symptoms"
	SlotAppointmentID  SlotName = "existingAppointmentId"
	SlotInsurancePlan  SlotName = "insurancePlan"
)

// Slot is one collected piece of information. A slot is filled when Value is
// non-empty; confirmed slots are settled facts that a lower-confidence
// extraction must never overwrite.
type Slot struct {
	Value      string    `json:"value"`
	Confidence float64   `json:"confidence"`
	Confirmed  bool      `json:"confirmed"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// requiredSlots lists, per intent, the slot groups that must be satisfied
// before the flow can act. Each inner group is an OR: one filled member
// satisfies the group.
var requiredSlots = map[Intent][][]SlotName{
	IntentSchedule: {
		{SlotPatientName},
		{SlotPatientPhone},
		{SlotSpecialty},
		{SlotPreferredDate, SlotTimePreference},
	},
	IntentReschedule: {
		{SlotAppointmentID, SlotPatientName},
		{SlotPreferredDate, SlotPreferredTime},
	},
	IntentCancel: {
		{SlotAppointmentID, SlotPatientName},
	},
	IntentEmergency: {
		{SlotSymptoms},
	},
}

// HistoryMessage is one turn in the conversation transcript.
type HistoryMessage struct {
	Role      string    `json:"role"` // "user" or "assistant"
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// OfferedSlot is an availability option presented to the patient, kept on the
// context so the follow-up "option 2" message can be resolved next turn.
type OfferedSlot struct {
	DoctorID   string    `json:"doctor_id"`
	DoctorName string    `json:"doctor_name"`
	Start      time.Time `json:"start"`
}

// ConversationContext is the per-(user, session) dialogue state. It is owned
// by the ContextManager; other components receive a copy and hand back an
// updated one, and every mutation is persisted explicitly.
type ConversationContext struct {
	UserID         string              `json:"user_id"`
	SessionID      string              `json:"session_id"`
	ConversationID string              `json:"conversation_id,omitempty"`
	CurrentIntent  Intent              `json:"current_intent"`
	FlowState      FlowState           `json:"flow_state"`
	Slots          map[SlotName]Slot   `json:"slots"`
	History        []HistoryMessage    `json:"history"`
	OfferedSlots   []OfferedSlot       `json:"offered_slots,omitempty"`
	Candidates     []string            `json:"candidate_appointments,omitempty"`
	ChosenDoctorID string              `json:"chosen_doctor_id,omitempty"`
	Turn           int                 `json:"turn"`
	CreatedAt      time.Time           `json:"created_at"`
	UpdatedAt      time.Time           `json:"updated_at"`
}

// SlotValue returns the slot's value, or "" when unfilled.
func (c *ConversationContext) SlotValue(name SlotName) string {
	if c.Slots == nil {
		return ""
	}
	return c.Slots[name].Value
}

// LastUserMessage returns the most recent user turn, or "".
func (c *ConversationContext) LastUserMessage() string {
	for i := len(c.History) - 1; i >= 0; i-- {
		if c.History[i].Role == ChatRoleUser {
			return c.History[i].Content
		}
	}
	return ""
}

// RecentHistory returns up to n most recent turns.
func (c *ConversationContext) RecentHistory(n int) []HistoryMessage {
	if n <= 0 || len(c.History) <= n {
		return c.History
	}
	return c.History[len(c.History)-n:]
}

// Entities is the canonical entity schema produced by the NLP pipeline. Every
// field is optional; empty means not extracted.
type Entities struct {
	Name          string `json:"nome,omitempty"`
	Phone         string `json:"telefone,omitempty"`
	CPF           string `json:"cpf,omitempty"`
	Email         string `json:"email,omitempty"`
	Specialty     string `json:"especialidade,omitempty"`
	Date          string `json:"data,omitempty"`
	Time          string `json:"hora,omitempty"`
	Period        string `json:"periodo,omitempty"`
	Symptoms      string `json:"sintomas,omitempty"`
	AppointmentID string `json:"consulta_id,omitempty"`
	InsurancePlan string `json:"convenio,omitempty"`
}

// entitySlots is the fixed mapping from canonical entity fields to slot
// names, in a stable order.
var entitySlots = []struct {
	Slot SlotName
	Get  func(Entities) string
}{
	{SlotPatientName, func(e Entities) string { return e.Name }},
	{SlotPatientPhone, func(e Entities) string { return e.Phone }},
	{SlotPatientCPF, func(e Entities) string { return e.CPF }},
	{SlotPatientEmail, func(e Entities) string { return e.Email }},
	{SlotSpecialty, func(e Entities) string { return e.Specialty }},
	{SlotPreferredDate, func(e Entities) string { return e.Date }},
	{SlotPreferredTime, func(e Entities) string { return e.Time }},
	{SlotTimePreference, func(e Entities) string { return e.Period }},
	{SlotSymptoms, func(e Entities) string { return e.Symptoms }},
	{SlotAppointmentID, func(e Entities) string { return e.AppointmentID }},
	{SlotInsurancePlan, func(e Entities) string { return e.InsurancePlan }},
}

// Analysis is the NLP pipeline's output for one message.
type Analysis struct {
	Intent       Intent
	Entities     Entities
	Confidence   float64
	OriginalText string
}

// Sentiment is the outcome of sentiment analysis.
type Sentiment struct {
	Label      string  // "positive", "negative" or "neutral"
	Confidence float64
}

// FlowResult is the flow handler's return contract: always a complete,
// user-displayable message plus the next state for the caller to persist.
type FlowResult struct {
	Success              bool
	Message              string
	NextStep             FlowState
	RequiresConfirmation bool
	Data                 map[string]any
	Errors               []string
}

// MessageRequest is one inbound turn from a channel adapter.
type MessageRequest struct {
	UserID         string `json:"userId"`
	SessionID      string `json:"sessionId,omitempty"`
	ConversationID string `json:"conversationId,omitempty"`
	Message        string `json:"message"`
}

// Response is the payload returned to the channel adapter.
type Response struct {
	Message       string         `json:"message"`
	Intent        Intent         `json:"intent"`
	NextSteps     []string       `json:"nextSteps,omitempty"`
	IsCompleted   bool           `json:"isCompleted"`
	RequiresInput bool           `json:"requiresInput"`
	Data          map[string]any `json:"data,omitempty"`
	Confidence    float64        `json:"confidence"`
}
