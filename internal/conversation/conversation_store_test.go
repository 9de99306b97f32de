package conversation

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	pgxmock "github.com/pashagolub/pgxmock/v4"
)

func TestStore_EnsureConversation(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock: %v", err)
	}
	defer mock.Close()

	want := uuid.New()
	mock.ExpectQuery("INSERT INTO conversations").
		WithArgs(pgxmock.AnyArg(), "user-1", "sess-1").
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(want))

	store := NewStore(mock)
	got, err := store.EnsureConversation(context.Background(), "user-1", "sess-1")
	if err != nil {
		t.Fatalf("ensure: %v", err)
	}
	if got != want {
		t.Fatalf("id = %s, want %s", got, want)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestStore_SaveMessage(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock: %v", err)
	}
	defer mock.Close()

	convID := uuid.New()
	mock.ExpectExec("INSERT INTO conversation_messages").
		WithArgs(pgxmock.AnyArg(), convID, ChatRoleUser, "quero agendar", string(IntentSchedule), 0.9, true).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	store := NewStore(mock)
	err = store.SaveMessage(context.Background(), StoredMessage{
		ConversationID: convID,
		Role:           ChatRoleUser,
		Content:        "quero agendar",
		Intent:         IntentSchedule,
		Confidence:     0.9,
		Processed:      true,
	})
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestStore_HistoryReturnsChronologicalOrder(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock: %v", err)
	}
	defer mock.Close()

	convID := uuid.New()
	newer := time.Date(2026, 9, 7, 10, 5, 0, 0, time.UTC)
	older := time.Date(2026, 9, 7, 10, 0, 0, 0, time.UTC)

	rows := pgxmock.NewRows([]string{"id", "conversation_id", "role", "content", "intent", "confidence", "processed", "created_at"}).
		AddRow(uuid.New(), convID, ChatRoleAssistant, "claro!", "", 0.0, true, newer).
		AddRow(uuid.New(), convID, ChatRoleUser, "quero agendar", string(IntentSchedule), 0.9, true, older)
	mock.ExpectQuery("SELECT (.+) FROM conversation_messages").
		WithArgs(convID, 10).
		WillReturnRows(rows)

	store := NewStore(mock)
	got, err := store.History(context.Background(), convID, 10)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("rows = %d, want 2", len(got))
	}
	if got[0].Role != ChatRoleUser || got[1].Role != ChatRoleAssistant {
		t.Fatalf("history must come back oldest first, got %s then %s", got[0].Role, got[1].Role)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestStore_NilStoreIsNoOp(t *testing.T) {
	var store *Store

	if _, err := store.EnsureConversation(context.Background(), "u", "s"); err != nil {
		t.Fatalf("nil store ensure: %v", err)
	}
	if err := store.SaveMessage(context.Background(), StoredMessage{}); err != nil {
		t.Fatalf("nil store save: %v", err)
	}
	history, err := store.History(context.Background(), uuid.New(), 5)
	if err != nil || history != nil {
		t.Fatalf("nil store history = %v, %v", history, err)
	}
}
