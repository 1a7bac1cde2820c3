package qcmengine

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := OpenSQLiteStore(filepath.Join(t.TempDir(), "qcm_test.db"))
	if err != nil {
		t.Fatalf("OpenSQLiteStore: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	if err := store.CreateTables(); err != nil {
		t.Fatalf("CreateTables: %v", err)
	}
	return store
}

func storeSession(t *testing.T, store *SQLiteStore, id string, userID int64, status SessionStatus, created time.Time) *Session {
	t.Helper()
	sess := &Session{
		ID:         id,
		UserID:     userID,
		DocumentID: 1,
		Difficulty: DifficultyMedium,
		Total:      5,
		Status:     status,
		CreatedAt:  created,
		ExpiresAt:  created.Add(30 * time.Minute),
	}
	if err := store.CreateSession(context.Background(), sess); err != nil {
		t.Fatalf("CreateSession(%s): %v", id, err)
	}
	return sess
}

func TestStoreDocumentRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	doc := &Document{UserID: 7, Name: "notes.pdf", Path: "/data/notes.pdf", Pages: 42, CreatedAt: time.Now()}
	if err := store.CreateDocument(ctx, doc); err != nil {
		t.Fatalf("CreateDocument: %v", err)
	}
	if doc.ID == 0 {
		t.Fatal("document id not assigned")
	}

	got, err := store.GetDocument(ctx, doc.ID)
	if err != nil {
		t.Fatalf("GetDocument: %v", err)
	}
	if got.UserID != 7 || got.Name != "notes.pdf" || got.Pages != 42 {
		t.Errorf("document round trip mismatch: %+v", got)
	}

	if _, err := store.GetDocument(ctx, doc.ID+100); !errors.Is(err, ErrDocumentNotFound) {
		t.Errorf("expected ErrDocumentNotFound, got %v", err)
	}
}

func TestStoreSessionRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	sess := storeSession(t, store, "sess_roundtrip", 1, StatusGenerating, time.Now())

	got, err := store.GetSession(ctx, sess.ID)
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if got.UserID != 1 || got.Status != StatusGenerating || got.Total != 5 || got.Attempts != 0 {
		t.Errorf("session round trip mismatch: %+v", got)
	}

	if _, err := store.GetSession(ctx, "sess_missing"); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestStoreSessionUpdates(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	sess := storeSession(t, store, "sess_updates", 1, StatusGenerating, time.Now())

	if err := store.UpdateSessionStatus(ctx, sess.ID, StatusReady, "Question ready."); err != nil {
		t.Fatalf("UpdateSessionStatus: %v", err)
	}
	got, _ := store.GetSession(ctx, sess.ID)
	if got.Status != StatusReady || got.Detail != "Question ready." {
		t.Errorf("status update mismatch: %+v", got)
	}
	if got.CurrentSlot != 0 {
		t.Errorf("status update must not touch the slot pointer, got %d", got.CurrentSlot)
	}

	if err := store.UpdateSessionProgress(ctx, sess.ID, 2, StatusGenerating, "Generating…"); err != nil {
		t.Fatalf("UpdateSessionProgress: %v", err)
	}
	got, _ = store.GetSession(ctx, sess.ID)
	if got.CurrentSlot != 2 || got.Status != StatusGenerating {
		t.Errorf("progress update mismatch: %+v", got)
	}
}

func TestStoreAttemptCounter(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	sess := storeSession(t, store, "sess_attempts", 1, StatusGenerating, time.Now())

	for want := 1; want <= 3; want++ {
		n, err := store.IncrementSessionAttempts(ctx, sess.ID)
		if err != nil {
			t.Fatalf("IncrementSessionAttempts: %v", err)
		}
		if n != want {
			t.Errorf("attempt counter = %d, want %d", n, want)
		}
	}
	got, _ := store.GetSession(ctx, sess.ID)
	if got.Attempts != 3 {
		t.Errorf("persisted attempts = %d, want 3", got.Attempts)
	}
}

func TestStoreFindActiveSession(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	storeSession(t, store, "sess_done", 1, StatusDone, now.Add(-3*time.Hour))
	storeSession(t, store, "sess_err", 1, StatusError, now.Add(-2*time.Hour))
	storeSession(t, store, "sess_other_user", 2, StatusReady, now)
	old := storeSession(t, store, "sess_old", 1, StatusGenerating, now.Add(-10*time.Minute))
	newest := storeSession(t, store, "sess_new", 1, StatusReady, now.Add(-time.Minute))

	got, err := store.FindActiveSession(ctx, 1, now)
	if err != nil {
		t.Fatalf("FindActiveSession: %v", err)
	}
	if got.ID != newest.ID {
		t.Errorf("active session %q, want newest %q", got.ID, newest.ID)
	}

	// Past both sessions' expiry, nothing is active.
	_, err = store.FindActiveSession(ctx, 1, old.ExpiresAt.Add(time.Hour))
	if !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("expected ErrSessionNotFound after expiry, got %v", err)
	}
	_, err = store.FindActiveSession(ctx, 3, now)
	if !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("expected ErrSessionNotFound for unknown user, got %v", err)
	}
}

func TestStoreCloseSession(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	sess := storeSession(t, store, "sess_close", 1, StatusReady, time.Now())

	closeAt := time.Now()
	if err := store.CloseSession(ctx, sess.ID, closeAt); err != nil {
		t.Fatalf("CloseSession: %v", err)
	}
	got, _ := store.GetSession(ctx, sess.ID)
	if got.Status != StatusClosed {
		t.Errorf("status %q, want closed", got.Status)
	}
	if got.ExpiresAt.After(closeAt.Add(time.Second)) {
		t.Errorf("expiry not pulled forward: %v", got.ExpiresAt)
	}
}

func TestStoreQuestionSlotUniqueness(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	storeSession(t, store, "sess_q", 1, StatusGenerating, time.Now())

	q := &Question{
		SessionID:    "sess_q",
		Slot:         0,
		Text:         "Which clause governs termination?",
		Choices:      []string{"the first", "the second", "the third", "the fourth"},
		CorrectIndex: 2,
		Explanation:  "The third clause covers termination explicitly.",
		ChosenIndex:  -1,
	}
	if err := store.CreateQuestion(ctx, q); err != nil {
		t.Fatalf("CreateQuestion: %v", err)
	}

	dup := *q
	dup.Text = "A different text for the same slot"
	if err := store.CreateQuestion(ctx, &dup); !errors.Is(err, ErrQuestionExists) {
		t.Fatalf("expected ErrQuestionExists, got %v", err)
	}

	// The original row survived the losing insert.
	got, err := store.GetQuestion(ctx, "sess_q", 0)
	if err != nil {
		t.Fatalf("GetQuestion: %v", err)
	}
	if got.Text != q.Text || got.CorrectIndex != 2 || len(got.Choices) != 4 {
		t.Errorf("question round trip mismatch: %+v", got)
	}
	if got.Answered || got.ChosenIndex != -1 {
		t.Errorf("fresh question flags wrong: %+v", got)
	}

	if _, err := store.GetQuestion(ctx, "sess_q", 1); !errors.Is(err, ErrQuestionNotFound) {
		t.Errorf("expected ErrQuestionNotFound, got %v", err)
	}
}

func TestStoreListAndCountQuestions(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	storeSession(t, store, "sess_list", 1, StatusGenerating, time.Now())

	// Insert out of slot order; listing must come back ordered.
	for _, slot := range []int{2, 0, 1} {
		q := &Question{
			SessionID:    "sess_list",
			Slot:         slot,
			Text:         uniqueStem(slot),
			Choices:      []string{"a", "b", "c", "d"},
			CorrectIndex: 0,
			Explanation:  "because",
			ChosenIndex:  -1,
		}
		if err := store.CreateQuestion(ctx, q); err != nil {
			t.Fatalf("CreateQuestion slot %d: %v", slot, err)
		}
	}

	n, err := store.CountQuestions(ctx, "sess_list")
	if err != nil || n != 3 {
		t.Fatalf("CountQuestions = %d, %v; want 3", n, err)
	}

	questions, err := store.ListQuestions(ctx, "sess_list")
	if err != nil {
		t.Fatalf("ListQuestions: %v", err)
	}
	for i, q := range questions {
		if q.Slot != i {
			t.Errorf("questions out of slot order: %v", questions)
			break
		}
	}

	if n, _ := store.CountQuestions(ctx, "sess_none"); n != 0 {
		t.Errorf("count for unknown session = %d, want 0", n)
	}
}

func TestStoreMarkQuestionAnswered(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	storeSession(t, store, "sess_ans", 1, StatusReady, time.Now())

	q := &Question{
		SessionID:    "sess_ans",
		Slot:         0,
		Text:         uniqueStem(0),
		Choices:      []string{"a", "b", "c", "d"},
		CorrectIndex: 1,
		Explanation:  "because",
		ChosenIndex:  -1,
	}
	if err := store.CreateQuestion(ctx, q); err != nil {
		t.Fatalf("CreateQuestion: %v", err)
	}

	if err := store.MarkQuestionAnswered(ctx, "sess_ans", 0, 3); err != nil {
		t.Fatalf("MarkQuestionAnswered: %v", err)
	}
	got, _ := store.GetQuestion(ctx, "sess_ans", 0)
	if !got.Answered || got.ChosenIndex != 3 {
		t.Errorf("answer not recorded: %+v", got)
	}

	if err := store.MarkQuestionAnswered(ctx, "sess_ans", 0, 1); !errors.Is(err, ErrAlreadyAnswered) {
		t.Errorf("expected ErrAlreadyAnswered, got %v", err)
	}
	// The first answer stands.
	got, _ = store.GetQuestion(ctx, "sess_ans", 0)
	if got.ChosenIndex != 3 {
		t.Errorf("second answer overwrote the first: %+v", got)
	}
}
