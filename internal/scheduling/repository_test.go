package scheduling

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	pgxmock "github.com/pashagolub/pgxmock/v4"
)

func newMockRepo(t *testing.T) (*Repository, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock: %v", err)
	}
	t.Cleanup(mock.Close)
	return NewRepository(mock), mock
}

func TestFindPatientByPhone(t *testing.T) {
	repo, mock := newMockRepo(t)
	id := uuid.New()
	now := time.Now()

	mock.ExpectQuery("SELECT id, name, phone, cpf, email, created_at").
		WithArgs("11999887766").
		WillReturnRows(pgxmock.NewRows([]string{"id", "name", "phone", "cpf", "email", "created_at"}).
			AddRow(id, "João Silva", "11999887766", "", "", now))

	p, err := repo.FindPatientByPhone(context.Background(), "(11) 99988-7766")
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if p.ID != id || p.Name != "João Silva" {
		t.Fatalf("unexpected patient %+v", p)
	}
}

func TestFindPatientByPhoneNotFound(t *testing.T) {
	repo, mock := newMockRepo(t)
	mock.ExpectQuery("SELECT id, name, phone, cpf, email, created_at").
		WithArgs("11900000000").
		WillReturnRows(pgxmock.NewRows([]string{"id", "name", "phone", "cpf", "email", "created_at"}))

	_, err := repo.FindPatientByPhone(context.Background(), "11900000000")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestCreatePatientNormalizesPhone(t *testing.T) {
	repo, mock := newMockRepo(t)
	now := time.Now()

	mock.ExpectQuery("INSERT INTO patients").
		WithArgs(pgxmock.AnyArg(), "João Silva", "11999887766", "", "", pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows([]string{"id", "name", "phone", "cpf", "email", "created_at"}).
			AddRow(uuid.New(), "João Silva", "11999887766", "", "", now))

	p, err := repo.CreatePatient(context.Background(), Patient{Name: "João Silva", Phone: "(11) 99988-7766"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if p.Phone != "11999887766" {
		t.Fatalf("expected normalized phone, got %q", p.Phone)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestCreateAppointmentIdempotencyUpsert(t *testing.T) {
	repo, mock := newMockRepo(t)
	id := uuid.New()
	patientID := uuid.New()
	doctorID := uuid.New()
	start := time.Date(2026, 9, 7, 9, 0, 0, 0, time.UTC)
	end := start.Add(30 * time.Minute)
	now := time.Now()

	rows := pgxmock.NewRows([]string{
		"id", "patient_id", "doctor_id", "specialty_id", "scheduled_at", "end_time",
		"duration_minutes", "reason", "status", "type", "conversation_id", "idempotency_key", "created_at",
	}).AddRow(id, patientID, doctorID, "cardiologia", start, end, 30, "", StatusScheduled, "consultation", "conv-1", "conv-1:3", now)

	mock.ExpectQuery("INSERT INTO appointments").
		WithArgs(pgxmock.AnyArg(), patientID, doctorID, "cardiologia", start, end, 30, "",
			StatusScheduled, "consultation", "conv-1", "conv-1:3", pgxmock.AnyArg()).
		WillReturnRows(rows)

	out, err := repo.CreateAppointment(context.Background(), Appointment{
		PatientID:       patientID,
		DoctorID:        doctorID,
		SpecialtyID:     "cardiologia",
		ScheduledAt:     start,
		EndTime:         end,
		DurationMinutes: 30,
		Type:            "consultation",
		ConversationID:  "conv-1",
		IdempotencyKey:  "conv-1:3",
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if out.ID != id || out.Status != StatusScheduled {
		t.Fatalf("unexpected appointment %+v", out)
	}
}

func TestCancelAppointment(t *testing.T) {
	repo, mock := newMockRepo(t)
	id := uuid.New()

	mock.ExpectExec("UPDATE appointments SET status = 'cancelled'").
		WithArgs(id).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	if err := repo.CancelAppointment(context.Background(), id); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	mock.ExpectExec("UPDATE appointments SET status = 'cancelled'").
		WithArgs(id).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	if err := repo.CancelAppointment(context.Background(), id); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestFutureAppointmentsForPatient(t *testing.T) {
	repo, mock := newMockRepo(t)
	patientID := uuid.New()
	start := time.Now().Add(48 * time.Hour)

	mock.ExpectQuery("SELECT id, patient_id, doctor_id, specialty_id").
		WithArgs(patientID).
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "patient_id", "doctor_id", "specialty_id", "scheduled_at", "end_time",
			"duration_minutes", "reason", "status", "type", "conversation_id", "idempotency_key", "created_at",
		}).AddRow(uuid.New(), patientID, uuid.New(), "cardiologia", start, start.Add(30*time.Minute), 30, "", StatusScheduled, "consultation", "", "", time.Now()))

	appts, err := repo.FutureAppointmentsForPatient(context.Background(), patientID)
	if err != nil {
		t.Fatalf("future appointments: %v", err)
	}
	if len(appts) != 1 || appts[0].SpecialtyID != "cardiologia" {
		t.Fatalf("unexpected appointments %+v", appts)
	}
}
