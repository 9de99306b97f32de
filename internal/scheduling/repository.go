package scheduling

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("scheduling: not found")

// PgxPool is the subset of pgxpool.Pool the repository needs; pgxmock
// satisfies it in tests.
type PgxPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Repository persists patients, doctors and appointments in PostgreSQL.
type Repository struct {
	pool PgxPool
}

// NewRepository creates a repository backed by a pgx pool.
func NewRepository(pool PgxPool) *Repository {
	if pool == nil {
		panic("scheduling: pgx pool required")
	}
	return &Repository{pool: pool}
}

// FindPatientByPhone returns the patient with the given normalized phone, or
// ErrNotFound.
func (r *Repository) FindPatientByPhone(ctx context.Context, phone string) (*Patient, error) {
	const query = `
		SELECT id, name, phone, cpf, email, created_at
		FROM patients
		WHERE phone = $1`
	var p Patient
	err := r.pool.QueryRow(ctx, query, NormalizePhone(phone)).
		Scan(&p.ID, &p.Name, &p.Phone, &p.CPF, &p.Email, &p.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scheduling: find patient by phone: %w", err)
	}
	return &p, nil
}

// FindPatientsByName returns patients whose name matches case-insensitively.
func (r *Repository) FindPatientsByName(ctx context.Context, name string) ([]Patient, error) {
	const query = `
		SELECT id, name, phone, cpf, email, created_at
		FROM patients
		WHERE lower(name) = lower($1)
		ORDER BY created_at`
	rows, err := r.pool.Query(ctx, query, name)
	if err != nil {
		return nil, fmt.Errorf("scheduling: find patients by name: %w", err)
	}
	defer rows.Close()

	var out []Patient
	for rows.Next() {
		var p Patient
		if err := rows.Scan(&p.ID, &p.Name, &p.Phone, &p.CPF, &p.Email, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("scheduling: scan patient: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// CreatePatient inserts a patient and returns the stored row.
func (r *Repository) CreatePatient(ctx context.Context, p Patient) (*Patient, error) {
	const query = `
		INSERT INTO patients (id, name, phone, cpf, email, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, name, phone, cpf, email, created_at`
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	now := time.Now().UTC()
	var out Patient
	err := r.pool.QueryRow(ctx, query, p.ID, p.Name, NormalizePhone(p.Phone), p.CPF, p.Email, now).
		Scan(&out.ID, &out.Name, &out.Phone, &out.CPF, &out.Email, &out.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("scheduling: create patient: %w", err)
	}
	return &out, nil
}

// DoctorsBySpecialty lists doctors offering the given specialty.
func (r *Repository) DoctorsBySpecialty(ctx context.Context, specialtyID string) ([]Doctor, error) {
	const query = `
		SELECT id, name, specialty_id, crm
		FROM doctors
		WHERE specialty_id = $1
		ORDER BY name`
	rows, err := r.pool.Query(ctx, query, specialtyID)
	if err != nil {
		return nil, fmt.Errorf("scheduling: doctors by specialty: %w", err)
	}
	defer rows.Close()

	var out []Doctor
	for rows.Next() {
		var d Doctor
		if err := rows.Scan(&d.ID, &d.Name, &d.SpecialtyID, &d.CRM); err != nil {
			return nil, fmt.Errorf("scheduling: scan doctor: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// DoctorByID returns one doctor, or ErrNotFound.
func (r *Repository) DoctorByID(ctx context.Context, id uuid.UUID) (*Doctor, error) {
	const query = `SELECT id, name, specialty_id, crm FROM doctors WHERE id = $1`
	var d Doctor
	err := r.pool.QueryRow(ctx, query, id).Scan(&d.ID, &d.Name, &d.SpecialtyID, &d.CRM)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scheduling: doctor by id: %w", err)
	}
	return &d, nil
}

// AppointmentsForDoctorBetween returns non-cancelled appointments inside the
// window, used by availability computation.
func (r *Repository) AppointmentsForDoctorBetween(ctx context.Context, doctorID uuid.UUID, from, to time.Time) ([]Appointment, error) {
	const query = `
		SELECT id, patient_id, doctor_id, specialty_id, scheduled_at, end_time,
		       duration_minutes, reason, status, type, conversation_id, idempotency_key, created_at
		FROM appointments
		WHERE doctor_id = $1
		  AND scheduled_at >= $2 AND scheduled_at < $3
		  AND status <> 'cancelled'
		ORDER BY scheduled_at`
	rows, err := r.pool.Query(ctx, query, doctorID, from, to)
	if err != nil {
		return nil, fmt.Errorf("scheduling: doctor appointments: %w", err)
	}
	defer rows.Close()
	return scanAppointments(rows)
}

// FutureAppointmentsForPatient returns upcoming scheduled/confirmed
// appointments, soonest first. Used to identify the target of a reschedule or
// cancellation.
func (r *Repository) FutureAppointmentsForPatient(ctx context.Context, patientID uuid.UUID) ([]Appointment, error) {
	const query = `
		SELECT id, patient_id, doctor_id, specialty_id, scheduled_at, end_time,
		       duration_minutes, reason, status, type, conversation_id, idempotency_key, created_at
		FROM appointments
		WHERE patient_id = $1
		  AND scheduled_at > now()
		  AND status IN ('scheduled', 'confirmed')
		ORDER BY scheduled_at`
	rows, err := r.pool.Query(ctx, query, patientID)
	if err != nil {
		return nil, fmt.Errorf("scheduling: future appointments: %w", err)
	}
	defer rows.Close()
	return scanAppointments(rows)
}

// AppointmentByID returns one appointment, or ErrNotFound.
func (r *Repository) AppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	const query = `
		SELECT id, patient_id, doctor_id, specialty_id, scheduled_at, end_time,
		       duration_minutes, reason, status, type, conversation_id, idempotency_key, created_at
		FROM appointments
		WHERE id = $1`
	rows, err := r.pool.Query(ctx, query, id)
	if err != nil {
		return nil, fmt.Errorf("scheduling: appointment by id: %w", err)
	}
	defer rows.Close()
	appts, err := scanAppointments(rows)
	if err != nil {
		return nil, err
	}
	if len(appts) == 0 {
		return nil, ErrNotFound
	}
	return &appts[0], nil
}

// CreateAppointment inserts an appointment. The insert upserts on the
// idempotency key, so retrying a booking after a transient failure returns
// the already-committed row instead of double-booking.
func (r *Repository) CreateAppointment(ctx context.Context, a Appointment) (*Appointment, error) {
	const query = `
		INSERT INTO appointments
			(id, patient_id, doctor_id, specialty_id, scheduled_at, end_time,
			 duration_minutes, reason, status, type, conversation_id, idempotency_key, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (idempotency_key) DO UPDATE SET idempotency_key = EXCLUDED.idempotency_key
		RETURNING id, patient_id, doctor_id, specialty_id, scheduled_at, end_time,
		          duration_minutes, reason, status, type, conversation_id, idempotency_key, created_at`
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	if a.Status == "" {
		a.Status = StatusScheduled
	}
	now := time.Now().UTC()
	var out Appointment
	err := r.pool.QueryRow(ctx, query,
		a.ID, a.PatientID, a.DoctorID, a.SpecialtyID, a.ScheduledAt, a.EndTime,
		a.DurationMinutes, a.Reason, a.Status, a.Type, a.ConversationID, a.IdempotencyKey, now,
	).Scan(&out.ID, &out.PatientID, &out.DoctorID, &out.SpecialtyID, &out.ScheduledAt, &out.EndTime,
		&out.DurationMinutes, &out.Reason, &out.Status, &out.Type, &out.ConversationID, &out.IdempotencyKey, &out.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("scheduling: create appointment: %w", err)
	}
	return &out, nil
}

// UpdateAppointmentSchedule moves an appointment to a new window.
func (r *Repository) UpdateAppointmentSchedule(ctx context.Context, id uuid.UUID, scheduledAt, endTime time.Time) error {
	const query = `
		UPDATE appointments
		SET scheduled_at = $2, end_time = $3, status = 'scheduled'
		WHERE id = $1 AND status <> 'cancelled'`
	tag, err := r.pool.Exec(ctx, query, id, scheduledAt, endTime)
	if err != nil {
		return fmt.Errorf("scheduling: update appointment: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// CancelAppointment marks an appointment cancelled.
func (r *Repository) CancelAppointment(ctx context.Context, id uuid.UUID) error {
	const query = `UPDATE appointments SET status = 'cancelled' WHERE id = $1`
	tag, err := r.pool.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("scheduling: cancel appointment: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func scanAppointments(rows pgx.Rows) ([]Appointment, error) {
	var out []Appointment
	for rows.Next() {
		var a Appointment
		if err := rows.Scan(&a.ID, &a.PatientID, &a.DoctorID, &a.SpecialtyID, &a.ScheduledAt, &a.EndTime,
			&a.DurationMinutes, &a.Reason, &a.Status, &a.Type, &a.ConversationID, &a.IdempotencyKey, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scheduling: scan appointment: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
