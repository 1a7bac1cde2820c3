package qcmengine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// SessionManager owns the session lifecycle: creation, ownership and expiry
// checks, the current-question pointer, answers and advancement. Generation
// itself is delegated to the Coordinator.
type SessionManager struct {
	store Store
	coord *Coordinator
	cfg   Config
	now   func() time.Time
}

// NewSessionManager creates a manager with the given policy.
func NewSessionManager(store Store, coord *Coordinator, cfg Config) *SessionManager {
	return &SessionManager{
		store: store,
		coord: coord,
		cfg:   cfg,
		now:   time.Now,
	}
}

// Start creates a session over a document and kicks off generation of slot 0.
// If the user already has a live session, that one is returned instead; two
// quick start calls never produce two concurrent quizzes.
func (m *SessionManager) Start(ctx context.Context, userID int64, req StartRequest) (*StartResult, error) {
	doc, err := m.store.GetDocument(ctx, req.DocumentID)
	if err != nil {
		return nil, err
	}
	if doc.UserID != userID {
		return nil, ErrForbidden
	}

	if active, err := m.store.FindActiveSession(ctx, userID, m.now()); err == nil {
		return &StartResult{SessionID: active.ID, Status: active.Status}, nil
	} else if !errors.Is(err, ErrSessionNotFound) {
		return nil, err
	}

	total := req.Total
	if total <= 0 {
		total = m.cfg.Total
	}
	if total > 50 {
		total = 50
	}

	now := m.now()
	sess := &Session{
		ID:          newSessionID(),
		UserID:      userID,
		DocumentID:  doc.ID,
		Pages:       strings.TrimSpace(req.Pages),
		Difficulty:  ParseDifficulty(req.Difficulty),
		Total:       total,
		CurrentSlot: 0,
		Status:      StatusGenerating,
		Detail:      "Starting…",
		CreatedAt:   now,
		ExpiresAt:   now.Add(m.cfg.SessionTTL),
	}
	if err := m.store.CreateSession(ctx, sess); err != nil {
		return nil, err
	}

	m.coord.EnsureSlot(sess.ID, 0)
	return &StartResult{SessionID: sess.ID, Status: sess.Status}, nil
}

// Current reports the state of the active slot. When the question is not
// there yet, generation is (re-)triggered and the client is told to keep
// polling.
func (m *SessionManager) Current(ctx context.Context, userID int64, sessionID string) (*CurrentResult, error) {
	sess, err := m.load(ctx, userID, sessionID)
	if err != nil {
		return nil, err
	}

	if sess.Status.Terminal() {
		return &CurrentResult{
			Status: sess.Status,
			Detail: sess.Detail,
			Slot:   sess.CurrentSlot,
			Total:  sess.Total,
		}, nil
	}

	generated, err := m.store.CountQuestions(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	q, err := m.store.GetQuestion(ctx, sessionID, sess.CurrentSlot)
	if errors.Is(err, ErrQuestionNotFound) {
		m.coord.EnsureSlot(sessionID, sess.CurrentSlot)
		return &CurrentResult{
			Status:         StatusGenerating,
			Detail:         orDefault(sess.Detail, "Generating…"),
			Slot:           sess.CurrentSlot,
			Total:          sess.Total,
			GeneratedCount: generated,
		}, nil
	}
	if err != nil {
		return nil, err
	}

	if sess.Status != StatusReady {
		if err := m.store.UpdateSessionStatus(ctx, sessionID, StatusReady, "Question ready."); err != nil {
			return nil, err
		}
	}
	return &CurrentResult{
		Status:         StatusReady,
		Slot:           sess.CurrentSlot,
		Total:          sess.Total,
		GeneratedCount: generated,
		Question:       publicQuestion(q),
	}, nil
}

// Answer records the user's choice on the active question and returns
// correctness plus the explanation. It does not advance the slot pointer, but
// it does pre-fetch the next slot so generation latency hides behind review
// time.
func (m *SessionManager) Answer(ctx context.Context, userID int64, sessionID string, choiceIndex int) (*AnswerResult, error) {
	if choiceIndex < 0 || choiceIndex > 3 {
		return nil, ErrInvalidChoice
	}

	sess, err := m.load(ctx, userID, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.Status.Terminal() {
		return nil, ErrSessionFinished
	}

	q, err := m.store.GetQuestion(ctx, sessionID, sess.CurrentSlot)
	if errors.Is(err, ErrQuestionNotFound) {
		m.coord.EnsureSlot(sessionID, sess.CurrentSlot)
		return nil, ErrQuestionNotReady
	}
	if err != nil {
		return nil, err
	}
	if q.Answered {
		return nil, ErrAlreadyAnswered
	}

	if err := m.store.MarkQuestionAnswered(ctx, sessionID, sess.CurrentSlot, choiceIndex); err != nil {
		return nil, err
	}

	last := sess.CurrentSlot == sess.Total-1
	if !last {
		m.coord.EnsureSlot(sessionID, sess.CurrentSlot+1)
	}

	return &AnswerResult{
		Correct:      choiceIndex == q.CorrectIndex,
		CorrectIndex: q.CorrectIndex,
		Explanation:  q.Explanation,
		Slot:         sess.CurrentSlot,
		Total:        sess.Total,
		Last:         last,
	}, nil
}

// Advance moves the session to the next slot, or to done when the active slot
// was the last one. The new slot's availability is reported immediately.
func (m *SessionManager) Advance(ctx context.Context, userID int64, sessionID string) (*AdvanceResult, error) {
	sess, err := m.load(ctx, userID, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.Status.Terminal() {
		return nil, ErrSessionFinished
	}

	if sess.CurrentSlot >= sess.Total-1 {
		if err := m.store.UpdateSessionStatus(ctx, sessionID, StatusDone, "Finished."); err != nil {
			return nil, err
		}
		return &AdvanceResult{Status: StatusDone, Slot: sess.CurrentSlot, Total: sess.Total}, nil
	}

	next := sess.CurrentSlot + 1
	if err := m.store.UpdateSessionProgress(ctx, sessionID, next, StatusGenerating, "Generating…"); err != nil {
		return nil, err
	}

	generated, err := m.store.CountQuestions(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	q, err := m.store.GetQuestion(ctx, sessionID, next)
	if errors.Is(err, ErrQuestionNotFound) {
		m.coord.EnsureSlot(sessionID, next)
		return &AdvanceResult{
			Status:         StatusGenerating,
			Detail:         "Generating…",
			Slot:           next,
			Total:          sess.Total,
			GeneratedCount: generated,
		}, nil
	}
	if err != nil {
		return nil, err
	}

	if err := m.store.UpdateSessionStatus(ctx, sessionID, StatusReady, "Question ready."); err != nil {
		return nil, err
	}
	// Eagerly warm the slot after next as well.
	if next+1 < sess.Total {
		m.coord.EnsureSlot(sessionID, next+1)
	}
	return &AdvanceResult{
		Status:         StatusReady,
		Slot:           next,
		Total:          sess.Total,
		GeneratedCount: generated,
		Question:       publicQuestion(q),
	}, nil
}

// Close abandons the session: terminal closed state, expiry forced to now.
// Closing is idempotent and ignores how far the quiz got.
func (m *SessionManager) Close(ctx context.Context, userID int64, sessionID string) error {
	sess, err := m.store.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if sess.UserID != userID {
		return ErrForbidden
	}
	return m.store.CloseSession(ctx, sessionID, m.now())
}

// Result summarizes the session: score plus chosen-vs-correct per slot.
func (m *SessionManager) Result(ctx context.Context, userID int64, sessionID string) (*SessionResult, error) {
	sess, err := m.load(ctx, userID, sessionID)
	if err != nil {
		return nil, err
	}
	questions, err := m.store.ListQuestions(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	res := &SessionResult{Total: sess.Total, Details: make([]ResultItem, 0, len(questions))}
	for _, q := range questions {
		chosen := -1
		if q.Answered {
			chosen = q.ChosenIndex
			if q.ChosenIndex == q.CorrectIndex {
				res.Score++
			}
		}
		res.Details = append(res.Details, ResultItem{
			Slot:         q.Slot,
			CorrectIndex: q.CorrectIndex,
			ChosenIndex:  chosen,
		})
	}
	return res, nil
}

// load fetches a session and enforces ownership and expiry. Expiry is a pure
// time comparison done at access time; there is no background sweep.
func (m *SessionManager) load(ctx context.Context, userID int64, sessionID string) (*Session, error) {
	sess, err := m.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.UserID != userID {
		return nil, ErrForbidden
	}
	if sess.Expired(m.now()) {
		return nil, ErrSessionExpired
	}
	return sess, nil
}

func newSessionID() string {
	return fmt.Sprintf("sess_%s", strings.ReplaceAll(uuid.NewString(), "-", "")[:12])
}

func orDefault(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}
