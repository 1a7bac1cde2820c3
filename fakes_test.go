package qcmengine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"
)

// memStore is an in-memory Store for deterministic tests. It keeps a history
// of every detail written so tests can observe transient diagnostics.
type memStore struct {
	mu        sync.Mutex
	nextDocID int64
	docs      map[int64]*Document
	sessions  map[string]*Session
	questions map[string]map[int]*Question
	details   []string
}

func newMemStore() *memStore {
	return &memStore{
		docs:      make(map[int64]*Document),
		sessions:  make(map[string]*Session),
		questions: make(map[string]map[int]*Question),
	}
}

func (s *memStore) CreateDocument(_ context.Context, doc *Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextDocID++
	doc.ID = s.nextDocID
	cp := *doc
	s.docs[doc.ID] = &cp
	return nil
}

func (s *memStore) GetDocument(_ context.Context, id int64) (*Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.docs[id]
	if !ok {
		return nil, ErrDocumentNotFound
	}
	cp := *doc
	return &cp, nil
}

func (s *memStore) CreateSession(_ context.Context, sess *Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *sess
	s.sessions[sess.ID] = &cp
	return nil
}

func (s *memStore) GetSession(_ context.Context, id string) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	cp := *sess
	return &cp, nil
}

func (s *memStore) FindActiveSession(_ context.Context, userID int64, now time.Time) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var newest *Session
	for _, sess := range s.sessions {
		if sess.UserID != userID || sess.Status.Terminal() || now.After(sess.ExpiresAt) {
			continue
		}
		if newest == nil || sess.CreatedAt.After(newest.CreatedAt) {
			newest = sess
		}
	}
	if newest == nil {
		return nil, ErrSessionNotFound
	}
	cp := *newest
	return &cp, nil
}

func (s *memStore) UpdateSessionStatus(_ context.Context, id string, status SessionStatus, detail string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return ErrSessionNotFound
	}
	sess.Status = status
	sess.Detail = detail
	s.details = append(s.details, detail)
	return nil
}

func (s *memStore) detailLog() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.details...)
}

func (s *memStore) UpdateSessionProgress(_ context.Context, id string, currentSlot int, status SessionStatus, detail string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return ErrSessionNotFound
	}
	sess.CurrentSlot = currentSlot
	sess.Status = status
	sess.Detail = detail
	return nil
}

func (s *memStore) IncrementSessionAttempts(_ context.Context, id string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return 0, ErrSessionNotFound
	}
	sess.Attempts++
	return sess.Attempts, nil
}

func (s *memStore) CloseSession(_ context.Context, id string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return ErrSessionNotFound
	}
	sess.Status = StatusClosed
	sess.Detail = "Closed."
	sess.ExpiresAt = now
	return nil
}

func (s *memStore) CreateQuestion(_ context.Context, q *Question) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	slots, ok := s.questions[q.SessionID]
	if !ok {
		slots = make(map[int]*Question)
		s.questions[q.SessionID] = slots
	}
	if _, exists := slots[q.Slot]; exists {
		return ErrQuestionExists
	}
	cp := *q
	cp.Choices = append([]string(nil), q.Choices...)
	slots[q.Slot] = &cp
	return nil
}

func (s *memStore) GetQuestion(_ context.Context, sessionID string, slot int) (*Question, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	q, ok := s.questions[sessionID][slot]
	if !ok {
		return nil, ErrQuestionNotFound
	}
	cp := *q
	cp.Choices = append([]string(nil), q.Choices...)
	return &cp, nil
}

func (s *memStore) ListQuestions(_ context.Context, sessionID string) ([]Question, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	slots := make([]int, 0, len(s.questions[sessionID]))
	for slot := range s.questions[sessionID] {
		slots = append(slots, slot)
	}
	sort.Ints(slots)
	out := make([]Question, 0, len(slots))
	for _, slot := range slots {
		q := s.questions[sessionID][slot]
		cp := *q
		cp.Choices = append([]string(nil), q.Choices...)
		out = append(out, cp)
	}
	return out, nil
}

func (s *memStore) CountQuestions(_ context.Context, sessionID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.questions[sessionID]), nil
}

func (s *memStore) MarkQuestionAnswered(_ context.Context, sessionID string, slot, chosenIndex int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	q, ok := s.questions[sessionID][slot]
	if !ok {
		return ErrQuestionNotFound
	}
	if q.Answered {
		return ErrAlreadyAnswered
	}
	q.Answered = true
	q.ChosenIndex = chosenIndex
	return nil
}

// scriptedGenerator replays canned responses; the last entry repeats forever.
type scriptedGenerator struct {
	mu        sync.Mutex
	responses []genResponse
	calls     int
}

type genResponse struct {
	text string
	err  error
}

func (g *scriptedGenerator) Generate(_ context.Context, _ string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	if len(g.responses) == 0 {
		return "", errors.New("no scripted response")
	}
	r := g.responses[0]
	if len(g.responses) > 1 {
		g.responses = g.responses[1:]
	}
	return r.text, r.err
}

func (g *scriptedGenerator) callCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

// fakeExtractor returns canned text for any document.
type fakeExtractor struct {
	text string
	err  error
}

func (e *fakeExtractor) Extract(_ string, _ []int) (string, error) {
	return e.text, e.err
}

// fakeSleeper records backoff requests without sleeping.
type fakeSleeper struct {
	mu     sync.Mutex
	sleeps []time.Duration
}

func (s *fakeSleeper) Sleep(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sleeps = append(s.sleeps, d)
}

// validRaw renders a model response in the strict labeled layout with fields
// long enough to pass the default validation gates.
func validRaw(stem string) string {
	return strings.Join([]string{
		"Question: " + stem,
		"Choice A: the first plausible proposition",
		"Choice B: the second plausible proposition",
		"Choice C: the third plausible proposition",
		"Choice D: the fourth plausible proposition",
		"Correct: B",
		"Explanation: B follows directly from the excerpt while the other propositions contradict it.",
	}, "\n")
}

func uniqueStem(i int) string {
	return fmt.Sprintf("Which statement number %d correctly describes the principle at hand?", i)
}

const testCorpus = `The principle of adversarial proceedings requires that each party
be able to present its arguments and discuss those of the opponent. Contracts
lawfully formed take the place of law for those who made them and may only be
revoked by mutual consent. Company directors incur liability for management
faults committed in the exercise of their duties. Abuse of a dominant position
on a market is prohibited and exposes the undertaking to sanctions and
corrective measures. Civil procedure aims to guarantee a fair trial within a
reasonable time before an independent and impartial tribunal.`

// testEngine bundles the pipeline with fakes injected.
type testEngine struct {
	store   *memStore
	gen     *scriptedGenerator
	coord   *Coordinator
	manager *SessionManager
	cfg     Config
}

func newTestEngine(t *testing.T, gen *scriptedGenerator) *testEngine {
	t.Helper()
	cfg := DefaultConfig()
	cfg.CacheDir = t.TempDir()
	cfg.MinTextLen = 100
	cfg.MaxWorkers = 8

	store := newMemStore()
	resolver := NewSourceResolver(store, &fakeExtractor{text: testCorpus}, cfg)
	coord := NewCoordinator(store, resolver, NewPromptSampler(cfg.ChunkWords), gen, cfg)
	coord.sleeper = &fakeSleeper{}
	manager := NewSessionManager(store, coord, cfg)

	return &testEngine{store: store, gen: gen, coord: coord, manager: manager, cfg: cfg}
}

func (e *testEngine) addDocument(t *testing.T, userID int64) *Document {
	t.Helper()
	doc := &Document{UserID: userID, Name: "contract-law.pdf", Path: "/tmp/contract-law.pdf", Pages: 12, CreatedAt: time.Now()}
	if err := e.store.CreateDocument(context.Background(), doc); err != nil {
		t.Fatalf("CreateDocument: %v", err)
	}
	return doc
}

func (e *testEngine) startSession(t *testing.T, userID int64, doc *Document) string {
	t.Helper()
	res, err := e.manager.Start(context.Background(), userID, StartRequest{DocumentID: doc.ID})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	e.coord.Wait()
	return res.SessionID
}
