package scheduling

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// AppointmentStatus is the lifecycle state of an appointment.
type AppointmentStatus string

const (
	StatusScheduled AppointmentStatus = "scheduled"
	StatusConfirmed AppointmentStatus = "confirmed"
	StatusCancelled AppointmentStatus = "cancelled"
	StatusCompleted AppointmentStatus = "completed"
)

// Patient is a clinic patient record.
type Patient struct {
	ID        uuid.UUID
	Name      string
	Phone     string
	CPF       string
	Email     string
	CreatedAt time.Time
}

// Doctor is a clinic doctor bound to one specialty.
type Doctor struct {
	ID          uuid.UUID
	Name        string
	SpecialtyID string
	CRM         string
}

// Appointment is the persisted booking produced by a completed scheduling flow.
type Appointment struct {
	ID              uuid.UUID
	PatientID       uuid.UUID
	DoctorID        uuid.UUID
	SpecialtyID     string
	ScheduledAt     time.Time
	EndTime         time.Time
	DurationMinutes int
	Reason          string
	Status          AppointmentStatus
	Type            string
	ConversationID  string
	IdempotencyKey  string
	CreatedAt       time.Time
}

// Slot is an open consultation window offered to the patient.
type Slot struct {
	DoctorID   uuid.UUID
	DoctorName string
	Start      time.Time
	End        time.Time
}

// NormalizePhone strips everything but digits so lookups survive formatting
// differences ("(11) 99988-7766" vs "11999887766").
func NormalizePhone(phone string) string {
	var b strings.Builder
	for _, r := range phone {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
