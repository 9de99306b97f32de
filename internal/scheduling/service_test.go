package scheduling

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/atendeai/clinic-assistant/internal/knowledge"
	"github.com/atendeai/clinic-assistant/pkg/logging"
)

type stubRepo struct {
	patientsByPhone map[string]*Patient
	patientsByName  map[string][]Patient
	doctors         map[string][]Doctor
	appointments    []Appointment
	createdPatients []Patient
	createdAppts    []Appointment
	updateErr       error
}

func newStubRepo() *stubRepo {
	return &stubRepo{
		patientsByPhone: map[string]*Patient{},
		patientsByName:  map[string][]Patient{},
		doctors:         map[string][]Doctor{},
	}
}

func (r *stubRepo) FindPatientByPhone(_ context.Context, phone string) (*Patient, error) {
	if p, ok := r.patientsByPhone[NormalizePhone(phone)]; ok {
		return p, nil
	}
	return nil, ErrNotFound
}

func (r *stubRepo) FindPatientsByName(_ context.Context, name string) ([]Patient, error) {
	return r.patientsByName[name], nil
}

func (r *stubRepo) CreatePatient(_ context.Context, p Patient) (*Patient, error) {
	p.ID = uuid.New()
	p.Phone = NormalizePhone(p.Phone)
	p.CreatedAt = time.Now().UTC()
	r.createdPatients = append(r.createdPatients, p)
	return &p, nil
}

func (r *stubRepo) DoctorsBySpecialty(_ context.Context, specialtyID string) ([]Doctor, error) {
	return r.doctors[specialtyID], nil
}

func (r *stubRepo) DoctorByID(_ context.Context, id uuid.UUID) (*Doctor, error) {
	for _, docs := range r.doctors {
		for i := range docs {
			if docs[i].ID == id {
				return &docs[i], nil
			}
		}
	}
	return nil, ErrNotFound
}

func (r *stubRepo) AppointmentsForDoctorBetween(_ context.Context, doctorID uuid.UUID, from, to time.Time) ([]Appointment, error) {
	var out []Appointment
	for _, a := range r.appointments {
		if a.DoctorID == doctorID && !a.ScheduledAt.Before(from) && a.ScheduledAt.Before(to) && a.Status != StatusCancelled {
			out = append(out, a)
		}
	}
	return out, nil
}

func (r *stubRepo) FutureAppointmentsForPatient(_ context.Context, patientID uuid.UUID) ([]Appointment, error) {
	var out []Appointment
	for _, a := range r.appointments {
		if a.PatientID == patientID && a.Status != StatusCancelled {
			out = append(out, a)
		}
	}
	return out, nil
}

func (r *stubRepo) AppointmentByID(_ context.Context, id uuid.UUID) (*Appointment, error) {
	for i := range r.appointments {
		if r.appointments[i].ID == id {
			return &r.appointments[i], nil
		}
	}
	return nil, ErrNotFound
}

func (r *stubRepo) CreateAppointment(_ context.Context, a Appointment) (*Appointment, error) {
	for _, existing := range r.createdAppts {
		if existing.IdempotencyKey == a.IdempotencyKey {
			return &existing, nil
		}
	}
	a.ID = uuid.New()
	a.CreatedAt = time.Now().UTC()
	r.createdAppts = append(r.createdAppts, a)
	r.appointments = append(r.appointments, a)
	return &a, nil
}

func (r *stubRepo) UpdateAppointmentSchedule(_ context.Context, id uuid.UUID, scheduledAt, endTime time.Time) error {
	if r.updateErr != nil {
		return r.updateErr
	}
	for i := range r.appointments {
		if r.appointments[i].ID == id {
			r.appointments[i].ScheduledAt = scheduledAt
			r.appointments[i].EndTime = endTime
			return nil
		}
	}
	return ErrNotFound
}

func (r *stubRepo) CancelAppointment(_ context.Context, id uuid.UUID) error {
	for i := range r.appointments {
		if r.appointments[i].ID == id {
			r.appointments[i].Status = StatusCancelled
			return nil
		}
	}
	return ErrNotFound
}

func newTestService(t *testing.T, repo *stubRepo) *Service {
	t.Helper()
	svc := NewService(repo, knowledge.New(knowledge.Default()), logging.Default())
	// Fixed clock: Monday 2026-09-07 07:00 UTC.
	svc.now = func() time.Time { return time.Date(2026, 9, 7, 7, 0, 0, 0, time.UTC) }
	return svc
}

func TestAvailableSlotsSoonestFirst(t *testing.T) {
	repo := newStubRepo()
	doc := Doctor{ID: uuid.New(), Name: "Dra. Helena Costa", SpecialtyID: "cardiologia"}
	repo.doctors["cardiologia"] = []Doctor{doc}
	svc := newTestService(t, repo)

	slots, err := svc.AvailableSlots(context.Background(), "cardiologia", 3)
	if err != nil {
		t.Fatalf("available slots: %v", err)
	}
	if len(slots) == 0 {
		t.Fatal("expected slots")
	}
	want := time.Date(2026, 9, 7, 8, 0, 0, 0, time.UTC)
	if !slots[0].Start.Equal(want) {
		t.Fatalf("expected first slot %s, got %s", want, slots[0].Start)
	}
	for i := 1; i < len(slots); i++ {
		if slots[i].Start.Before(slots[i-1].Start) {
			t.Fatal("slots not sorted soonest first")
		}
	}
}

func TestAvailableSlotsNoDoctor(t *testing.T) {
	svc := newTestService(t, newStubRepo())
	if _, err := svc.AvailableSlots(context.Background(), "cardiologia", 3); !errors.Is(err, ErrNoDoctor) {
		t.Fatalf("expected ErrNoDoctor, got %v", err)
	}
}

func TestFindOrCreatePatientDedupsByPhone(t *testing.T) {
	repo := newStubRepo()
	existing := &Patient{ID: uuid.New(), Name: "João Silva", Phone: "11999887766"}
	repo.patientsByPhone["11999887766"] = existing
	svc := newTestService(t, repo)

	p, err := svc.FindOrCreatePatient(context.Background(), "João Silva", "(11) 99988-7766", "", "")
	if err != nil {
		t.Fatalf("find or create: %v", err)
	}
	if p.ID != existing.ID {
		t.Fatal("expected existing patient reused")
	}
	if len(repo.createdPatients) != 0 {
		t.Fatal("expected no patient created")
	}
}

func TestFindOrCreatePatientCreatesWhenAbsent(t *testing.T) {
	repo := newStubRepo()
	svc := newTestService(t, repo)

	p, err := svc.FindOrCreatePatient(context.Background(), "Maria Souza", "11988776655", "", "")
	if err != nil {
		t.Fatalf("find or create: %v", err)
	}
	if len(repo.createdPatients) != 1 {
		t.Fatalf("expected 1 created patient, got %d", len(repo.createdPatients))
	}
	if p.Name != "Maria Souza" {
		t.Fatalf("unexpected patient %+v", p)
	}
}

func TestBookCommitsScheduledAppointment(t *testing.T) {
	repo := newStubRepo()
	doc := Doctor{ID: uuid.New(), Name: "Dra. Helena Costa", SpecialtyID: "cardiologia"}
	repo.doctors["cardiologia"] = []Doctor{doc}
	svc := newTestService(t, repo)

	start := time.Date(2026, 9, 7, 9, 0, 0, 0, time.UTC)
	conf, err := svc.Book(context.Background(), BookingRequest{
		PatientName:    "João Silva",
		PatientPhone:   "11999887766",
		SpecialtyID:    "cardiologia",
		Start:          start,
		ConversationID: "conv-1",
		IdempotencyKey: "conv-1:3",
	})
	if err != nil {
		t.Fatalf("book: %v", err)
	}
	if conf.Appointment.Status != StatusScheduled {
		t.Fatalf("expected scheduled, got %s", conf.Appointment.Status)
	}
	if !conf.Appointment.EndTime.Equal(start.Add(30 * time.Minute)) {
		t.Fatalf("expected 30min duration, got %s", conf.Appointment.EndTime)
	}
	if conf.DoctorName != "Dra. Helena Costa" {
		t.Fatalf("expected doctor name, got %q", conf.DoctorName)
	}
}

func TestBookIdempotentRetry(t *testing.T) {
	repo := newStubRepo()
	doc := Doctor{ID: uuid.New(), Name: "Dra. Helena Costa", SpecialtyID: "cardiologia"}
	repo.doctors["cardiologia"] = []Doctor{doc}
	svc := newTestService(t, repo)

	req := BookingRequest{
		PatientName:    "João Silva",
		PatientPhone:   "11999887766",
		SpecialtyID:    "cardiologia",
		Start:          time.Date(2026, 9, 7, 9, 0, 0, 0, time.UTC),
		IdempotencyKey: "conv-1:3",
	}
	first, err := svc.Book(context.Background(), req)
	if err != nil {
		t.Fatalf("first book: %v", err)
	}
	// A retried commit may race the conflict pre-check; the repository-level
	// idempotency upsert must return the same row either way.
	second, err := repo.CreateAppointment(context.Background(), first.Appointment)
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if second.ID != first.Appointment.ID {
		t.Fatal("expected retry to return the committed appointment")
	}
	if len(repo.createdAppts) != 1 {
		t.Fatalf("expected single committed appointment, got %d", len(repo.createdAppts))
	}
}

func TestBookConflict(t *testing.T) {
	repo := newStubRepo()
	doc := Doctor{ID: uuid.New(), Name: "Dra. Helena Costa", SpecialtyID: "cardiologia"}
	repo.doctors["cardiologia"] = []Doctor{doc}
	start := time.Date(2026, 9, 7, 9, 0, 0, 0, time.UTC)
	repo.appointments = append(repo.appointments, Appointment{
		ID: uuid.New(), DoctorID: doc.ID, ScheduledAt: start, EndTime: start.Add(30 * time.Minute), Status: StatusScheduled,
	})
	svc := newTestService(t, repo)

	_, err := svc.Book(context.Background(), BookingRequest{
		PatientName: "João Silva", PatientPhone: "11999887766",
		SpecialtyID: "cardiologia", Start: start, IdempotencyKey: "k",
	})
	if !errors.Is(err, ErrSlotTaken) {
		t.Fatalf("expected ErrSlotTaken, got %v", err)
	}
}

func TestFindAppointmentsByIdentity(t *testing.T) {
	repo := newStubRepo()
	patient := &Patient{ID: uuid.New(), Name: "João Silva", Phone: "11999887766"}
	repo.patientsByPhone[patient.Phone] = patient
	appt := Appointment{ID: uuid.New(), PatientID: patient.ID, Status: StatusScheduled, ScheduledAt: time.Now().Add(48 * time.Hour)}
	repo.appointments = append(repo.appointments, appt)
	svc := newTestService(t, repo)

	found, err := svc.FindAppointments(context.Background(), Identification{PatientPhone: "11999887766"})
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if len(found) != 1 || found[0].ID != appt.ID {
		t.Fatalf("expected the patient's appointment, got %+v", found)
	}

	found, err = svc.FindAppointments(context.Background(), Identification{AppointmentID: appt.ID})
	if err != nil || len(found) != 1 {
		t.Fatalf("expected lookup by id, got %v %v", found, err)
	}

	found, err = svc.FindAppointments(context.Background(), Identification{PatientPhone: "11900000000"})
	if err != nil {
		t.Fatalf("find unknown: %v", err)
	}
	if len(found) != 0 {
		t.Fatal("expected zero matches for unknown phone")
	}
}

func TestRescheduleConflict(t *testing.T) {
	repo := newStubRepo()
	doc := Doctor{ID: uuid.New(), Name: "Dra. Helena Costa", SpecialtyID: "cardiologia"}
	repo.doctors["cardiologia"] = []Doctor{doc}

	base := time.Date(2026, 9, 8, 9, 0, 0, 0, time.UTC)
	mine := Appointment{ID: uuid.New(), DoctorID: doc.ID, ScheduledAt: base, EndTime: base.Add(30 * time.Minute), DurationMinutes: 30, Status: StatusScheduled}
	other := Appointment{ID: uuid.New(), DoctorID: doc.ID, ScheduledAt: base.Add(time.Hour), EndTime: base.Add(90 * time.Minute), DurationMinutes: 30, Status: StatusScheduled}
	repo.appointments = append(repo.appointments, mine, other)
	svc := newTestService(t, repo)

	if _, err := svc.Reschedule(context.Background(), mine.ID, other.ScheduledAt); !errors.Is(err, ErrSlotTaken) {
		t.Fatalf("expected ErrSlotTaken, got %v", err)
	}

	moved, err := svc.Reschedule(context.Background(), mine.ID, base.Add(2*time.Hour))
	if err != nil {
		t.Fatalf("reschedule: %v", err)
	}
	if !moved.ScheduledAt.Equal(base.Add(2 * time.Hour)) {
		t.Fatalf("unexpected new time %s", moved.ScheduledAt)
	}
}

func TestCancel(t *testing.T) {
	repo := newStubRepo()
	appt := Appointment{ID: uuid.New(), Status: StatusScheduled}
	repo.appointments = append(repo.appointments, appt)
	svc := newTestService(t, repo)

	if err := svc.Cancel(context.Background(), appt.ID); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if repo.appointments[0].Status != StatusCancelled {
		t.Fatal("expected cancelled status")
	}
	if err := svc.Cancel(context.Background(), uuid.New()); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
