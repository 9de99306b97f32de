package conversation

import (
	"context"
	"strings"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/atendeai/clinic-assistant/pkg/logging"
)

func newTestContextManager(t *testing.T) *ContextManager {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return NewContextManager(client, time.Hour, logging.Default())
}

func TestContextManager_CreateAndGet(t *testing.T) {
	m := newTestContextManager(t)
	ctx := context.Background()

	created, err := m.Create(ctx, "user-1", "sess-1", IntentSchedule)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if created.FlowState != StateInitial {
		t.Fatalf("new context state = %s, want %s", created.FlowState, StateInitial)
	}

	got, err := m.Get(ctx, "user-1", "sess-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got == nil {
		t.Fatal("expected persisted context")
	}
	if got.CurrentIntent != IntentSchedule {
		t.Fatalf("intent = %s, want %s", got.CurrentIntent, IntentSchedule)
	}

	missing, err := m.Get(ctx, "user-1", "other-session")
	if err != nil {
		t.Fatalf("get missing: %v", err)
	}
	if missing != nil {
		t.Fatal("unknown session should resolve to nil context")
	}
}

func TestContextManager_AddMessageAdvancesTurnOnUserOnly(t *testing.T) {
	m := newTestContextManager(t)
	ctx := context.Background()

	cc, err := m.Create(ctx, "user-1", "sess-1", IntentSchedule)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	cc, err = m.AddMessage(ctx, cc, ChatRoleUser, "quero agendar")
	if err != nil {
		t.Fatalf("add user message: %v", err)
	}
	cc, err = m.AddMessage(ctx, cc, ChatRoleAssistant, "claro!")
	if err != nil {
		t.Fatalf("add assistant message: %v", err)
	}
	if cc.Turn != 1 {
		t.Fatalf("turn = %d, want 1 (assistant replies must not advance it)", cc.Turn)
	}
	if len(cc.History) != 2 {
		t.Fatalf("history length = %d, want 2", len(cc.History))
	}
}

func TestContextManager_UpdateSlotsIsIdempotent(t *testing.T) {
	m := newTestContextManager(t)
	ctx := context.Background()

	cc, err := m.Create(ctx, "user-1", "sess-1", IntentSchedule)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	entities := Entities{Name: "Maria Souza", Specialty: "cardiologia"}

	cc, err = m.UpdateSlots(ctx, cc, entities, 0.8)
	if err != nil {
		t.Fatalf("first update: %v", err)
	}
	first := cc.Slots

	cc, err = m.UpdateSlots(ctx, cc, entities, 0.8)
	if err != nil {
		t.Fatalf("second update: %v", err)
	}
	for name, slot := range cc.Slots {
		if slot.Value != first[name].Value || slot.Confidence != first[name].Confidence {
			t.Fatalf("slot %s changed on identical re-apply: %+v vs %+v", name, slot, first[name])
		}
	}
}

func TestContextManager_LowerConfidenceNeverOverwrites(t *testing.T) {
	m := newTestContextManager(t)
	ctx := context.Background()

	cc, err := m.Create(ctx, "user-1", "sess-1", IntentSchedule)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	cc, err = m.UpdateSlots(ctx, cc, Entities{Name: "Maria Souza"}, 0.9)
	if err != nil {
		t.Fatalf("high confidence update: %v", err)
	}
	cc, err = m.UpdateSlots(ctx, cc, Entities{Name: "Mario Sousa"}, 0.4)
	if err != nil {
		t.Fatalf("low confidence update: %v", err)
	}
	if got := cc.SlotValue(SlotPatientName); got != "Maria Souza" {
		t.Fatalf("name slot = %q, lower confidence must not overwrite", got)
	}

	cc, err = m.UpdateSlots(ctx, cc, Entities{Name: "Maria S. Souza"}, 0.95)
	if err != nil {
		t.Fatalf("higher confidence update: %v", err)
	}
	if got := cc.SlotValue(SlotPatientName); got != "Maria S. Souza" {
		t.Fatalf("name slot = %q, higher confidence should win", got)
	}
}

func TestContextManager_ConfirmedSlotSurvivesReExtraction(t *testing.T) {
	m := newTestContextManager(t)
	ctx := context.Background()

	cc, err := m.Create(ctx, "user-1", "sess-1", IntentSchedule)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	cc, err = m.SetSlot(ctx, cc, SlotPatientPhone, "11999887766", true)
	if err != nil {
		t.Fatalf("set slot: %v", err)
	}
	cc, err = m.UpdateSlots(ctx, cc, Entities{Phone: "11000000000"}, 0.5)
	if err != nil {
		t.Fatalf("update slots: %v", err)
	}
	if got := cc.SlotValue(SlotPatientPhone); got != "11999887766" {
		t.Fatalf("phone = %q, confirmed slot must survive lower-confidence extraction", got)
	}
}

func TestContextManager_MissingSlotsHonorsAlternativeGroups(t *testing.T) {
	m := newTestContextManager(t)
	ctx := context.Background()

	cc, err := m.Create(ctx, "user-1", "sess-1", IntentSchedule)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	cc, err = m.UpdateSlots(ctx, cc, Entities{
		Name:      "Maria Souza",
		Phone:     "11999887766",
		Specialty: "cardiologia",
	}, 0.9)
	if err != nil {
		t.Fatalf("update slots: %v", err)
	}

	missing := m.MissingSlots(cc)
	if len(missing) != 1 {
		t.Fatalf("missing = %v, want exactly the date/period group", missing)
	}
	if m.AllSlotsFilled(cc) {
		t.Fatal("slots should not be complete without a time preference")
	}

	// Either member of the group satisfies it.
	cc, err = m.UpdateSlots(ctx, cc, Entities{Period: "manhã"}, 0.9)
	if err != nil {
		t.Fatalf("update slots: %v", err)
	}
	if !m.AllSlotsFilled(cc) {
		t.Fatalf("slots should be complete, still missing %v", m.MissingSlots(cc))
	}
}

func TestContextManager_SummaryListsSlotsAndGaps(t *testing.T) {
	m := newTestContextManager(t)
	ctx := context.Background()

	cc, err := m.Create(ctx, "user-1", "sess-1", IntentSchedule)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	cc, err = m.UpdateSlots(ctx, cc, Entities{Name: "Maria Souza"}, 0.9)
	if err != nil {
		t.Fatalf("update slots: %v", err)
	}

	summary := m.Summary(cc)
	if !strings.Contains(summary, "Maria Souza") {
		t.Fatalf("summary %q should mention the filled slot", summary)
	}
	if !strings.Contains(summary, "Faltam") {
		t.Fatalf("summary %q should list what is still missing", summary)
	}
}
