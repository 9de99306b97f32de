package scheduling

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/atendeai/clinic-assistant/internal/knowledge"
	"github.com/atendeai/clinic-assistant/pkg/logging"
)

// ErrSlotTaken is returned when the requested window conflicts with an
// existing appointment.
var ErrSlotTaken = errors.New("scheduling: slot already booked")

// ErrNoDoctor is returned when no doctor offers the requested specialty.
var ErrNoDoctor = errors.New("scheduling: no doctor for specialty")

// repository is the persistence surface the service needs; *Repository
// implements it, tests stub it.
type repository interface {
	FindPatientByPhone(ctx context.Context, phone string) (*Patient, error)
	FindPatientsByName(ctx context.Context, name string) ([]Patient, error)
	CreatePatient(ctx context.Context, p Patient) (*Patient, error)
	DoctorsBySpecialty(ctx context.Context, specialtyID string) ([]Doctor, error)
	DoctorByID(ctx context.Context, id uuid.UUID) (*Doctor, error)
	AppointmentsForDoctorBetween(ctx context.Context, doctorID uuid.UUID, from, to time.Time) ([]Appointment, error)
	FutureAppointmentsForPatient(ctx context.Context, patientID uuid.UUID) ([]Appointment, error)
	AppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error)
	CreateAppointment(ctx context.Context, a Appointment) (*Appointment, error)
	UpdateAppointmentSchedule(ctx context.Context, id uuid.UUID, scheduledAt, endTime time.Time) error
	CancelAppointment(ctx context.Context, id uuid.UUID) error
}

// Service implements availability computation and booking on top of the
// repository and the clinic knowledge base.
type Service struct {
	repo   repository
	kb     *knowledge.Base
	logger *logging.Logger
	now    func() time.Time
}

// NewService wires a scheduling service.
func NewService(repo repository, kb *knowledge.Base, logger *logging.Logger) *Service {
	if repo == nil {
		panic("scheduling: repository required")
	}
	if kb == nil {
		panic("scheduling: knowledge base required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Service{repo: repo, kb: kb, logger: logger, now: time.Now}
}

// BookingRequest carries everything needed to commit an appointment.
type BookingRequest struct {
	PatientName    string
	PatientPhone   string
	PatientCPF     string
	PatientEmail   string
	SpecialtyID    string
	DoctorID       uuid.UUID // optional; first available doctor when zero
	Start          time.Time
	Reason         string
	ConversationID string
	IdempotencyKey string
}

// BookingConfirmation is the booked appointment plus presentation fields.
type BookingConfirmation struct {
	Appointment Appointment
	DoctorName  string
	PatientName string
}

// AvailableSlots computes open consultation windows for a specialty over the
// next `days` days: every doctor's working-hours grid minus existing
// non-cancelled bookings, soonest first.
func (s *Service) AvailableSlots(ctx context.Context, specialtyID string, days int) ([]Slot, error) {
	if days <= 0 {
		days = 14
	}
	sp, ok := s.kb.Specialty(specialtyID)
	if !ok {
		return nil, fmt.Errorf("scheduling: unknown specialty %q", specialtyID)
	}
	doctors, err := s.repo.DoctorsBySpecialty(ctx, specialtyID)
	if err != nil {
		return nil, err
	}
	if len(doctors) == 0 {
		return nil, ErrNoDoctor
	}

	now := s.now()
	from := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	to := from.AddDate(0, 0, days)

	var all []Slot
	for _, doc := range doctors {
		booked, err := s.repo.AppointmentsForDoctorBetween(ctx, doc.ID, from, to)
		if err != nil {
			return nil, err
		}
		for day := from; day.Before(to); day = day.AddDate(0, 0, 1) {
			for _, hours := range sp.WorkingHours {
				if hours.Weekday != day.Weekday() {
					continue
				}
				all = append(all, slotsForDay(doc, day, hours, sp.DurationMinutes, booked, now)...)
			}
		}
	}
	sortSlots(all)
	return all, nil
}

// FindOrCreatePatient resolves a patient by normalized phone, falling back to
// an exact name match, and creates the record when neither exists.
func (s *Service) FindOrCreatePatient(ctx context.Context, name, phone, cpf, email string) (*Patient, error) {
	if p, err := s.repo.FindPatientByPhone(ctx, phone); err == nil {
		return p, nil
	} else if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	matches, err := s.repo.FindPatientsByName(ctx, name)
	if err != nil {
		return nil, err
	}
	for i := range matches {
		if NormalizePhone(matches[i].Phone) == NormalizePhone(phone) || matches[i].Phone == "" {
			return &matches[i], nil
		}
	}

	created, err := s.repo.CreatePatient(ctx, Patient{Name: name, Phone: phone, CPF: cpf, Email: email})
	if err != nil {
		return nil, err
	}
	s.logger.Info("patient created", "patient_id", created.ID)
	return created, nil
}

// Book commits an appointment. The slot is re-checked against the doctor's
// agenda right before the insert; the idempotency key makes retries safe.
func (s *Service) Book(ctx context.Context, req BookingRequest) (*BookingConfirmation, error) {
	sp, ok := s.kb.Specialty(req.SpecialtyID)
	if !ok {
		return nil, fmt.Errorf("scheduling: unknown specialty %q", req.SpecialtyID)
	}

	patient, err := s.FindOrCreatePatient(ctx, req.PatientName, req.PatientPhone, req.PatientCPF, req.PatientEmail)
	if err != nil {
		return nil, err
	}

	var doctor *Doctor
	if req.DoctorID != uuid.Nil {
		doctor, err = s.repo.DoctorByID(ctx, req.DoctorID)
		if err != nil {
			return nil, err
		}
	} else {
		doctors, err := s.repo.DoctorsBySpecialty(ctx, req.SpecialtyID)
		if err != nil {
			return nil, err
		}
		if len(doctors) == 0 {
			return nil, ErrNoDoctor
		}
		doctor = &doctors[0]
	}

	end := req.Start.Add(time.Duration(sp.DurationMinutes) * time.Minute)
	booked, err := s.repo.AppointmentsForDoctorBetween(ctx, doctor.ID, req.Start.Add(-time.Hour), end.Add(time.Hour))
	if err != nil {
		return nil, err
	}
	if overlapsAny(req.Start, end, booked) {
		return nil, ErrSlotTaken
	}

	appt, err := s.repo.CreateAppointment(ctx, Appointment{
		PatientID:       patient.ID,
		DoctorID:        doctor.ID,
		SpecialtyID:     req.SpecialtyID,
		ScheduledAt:     req.Start,
		EndTime:         end,
		DurationMinutes: sp.DurationMinutes,
		Reason:          req.Reason,
		Status:          StatusScheduled,
		Type:            "consultation",
		ConversationID:  req.ConversationID,
		IdempotencyKey:  req.IdempotencyKey,
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("appointment booked",
		"appointment_id", appt.ID,
		"doctor_id", doctor.ID,
		"specialty", req.SpecialtyID,
		"scheduled_at", appt.ScheduledAt,
	)
	return &BookingConfirmation{Appointment: *appt, DoctorName: doctor.Name, PatientName: patient.Name}, nil
}

// Identification is how a reschedule/cancel flow points at an appointment:
// either a known id, or patient name/phone to look up future bookings.
type Identification struct {
	AppointmentID uuid.UUID
	PatientName   string
	PatientPhone  string
}

// FindAppointments resolves the identification to candidate appointments,
// soonest first. Zero results means the caller should ask the patient to
// re-verify their details; more than one means disambiguation.
func (s *Service) FindAppointments(ctx context.Context, ident Identification) ([]Appointment, error) {
	if ident.AppointmentID != uuid.Nil {
		appt, err := s.repo.AppointmentByID(ctx, ident.AppointmentID)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return nil, nil
			}
			return nil, err
		}
		return []Appointment{*appt}, nil
	}

	var patient *Patient
	if ident.PatientPhone != "" {
		p, err := s.repo.FindPatientByPhone(ctx, ident.PatientPhone)
		if err != nil && !errors.Is(err, ErrNotFound) {
			return nil, err
		}
		patient = p
	}
	if patient == nil && ident.PatientName != "" {
		matches, err := s.repo.FindPatientsByName(ctx, ident.PatientName)
		if err != nil {
			return nil, err
		}
		if len(matches) > 0 {
			patient = &matches[0]
		}
	}
	if patient == nil {
		return nil, nil
	}
	return s.repo.FutureAppointmentsForPatient(ctx, patient.ID)
}

// Reschedule moves an appointment to a new start, re-checking the doctor's
// agenda for conflicts.
func (s *Service) Reschedule(ctx context.Context, id uuid.UUID, newStart time.Time) (*Appointment, error) {
	appt, err := s.repo.AppointmentByID(ctx, id)
	if err != nil {
		return nil, err
	}
	end := newStart.Add(time.Duration(appt.DurationMinutes) * time.Minute)

	booked, err := s.repo.AppointmentsForDoctorBetween(ctx, appt.DoctorID, newStart.Add(-time.Hour), end.Add(time.Hour))
	if err != nil {
		return nil, err
	}
	for _, b := range booked {
		if b.ID == appt.ID {
			continue
		}
		if newStart.Before(b.EndTime) && b.ScheduledAt.Before(end) {
			return nil, ErrSlotTaken
		}
	}

	if err := s.repo.UpdateAppointmentSchedule(ctx, id, newStart, end); err != nil {
		return nil, err
	}
	appt.ScheduledAt = newStart
	appt.EndTime = end
	appt.Status = StatusScheduled
	s.logger.Info("appointment rescheduled", "appointment_id", id, "scheduled_at", newStart)
	return appt, nil
}

// Cancel marks the appointment cancelled.
func (s *Service) Cancel(ctx context.Context, id uuid.UUID) error {
	if err := s.repo.CancelAppointment(ctx, id); err != nil {
		return err
	}
	s.logger.Info("appointment cancelled", "appointment_id", id)
	return nil
}

// DoctorName resolves a doctor's display name for confirmation messages.
func (s *Service) DoctorName(ctx context.Context, id uuid.UUID) string {
	doc, err := s.repo.DoctorByID(ctx, id)
	if err != nil {
		return "nosso especialista"
	}
	return doc.Name
}
