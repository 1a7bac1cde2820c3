package qcmengine

import "time"

// Difficulty controls the framing of generated questions.
type Difficulty string

const (
	DifficultyEasy   Difficulty = "easy"
	DifficultyMedium Difficulty = "medium"
	DifficultyHard   Difficulty = "hard"
)

// ParseDifficulty normalizes a client-supplied difficulty, defaulting to medium.
func ParseDifficulty(s string) Difficulty {
	switch Difficulty(s) {
	case DifficultyEasy, DifficultyMedium, DifficultyHard:
		return Difficulty(s)
	}
	return DifficultyMedium
}

// SessionStatus represents the visible state of a quiz session.
type SessionStatus string

const (
	StatusGenerating SessionStatus = "generating"
	StatusReady      SessionStatus = "ready"
	StatusDone       SessionStatus = "done"
	StatusClosed     SessionStatus = "closed"
	StatusError      SessionStatus = "error"
)

// Terminal reports whether no further generation or advancement may occur.
func (s SessionStatus) Terminal() bool {
	return s == StatusDone || s == StatusClosed || s == StatusError
}

// Session is a single quiz-taking attempt bound to one document, one user,
// one difficulty and a fixed question count.
type Session struct {
	ID          string        `json:"id"`
	UserID      int64         `json:"user_id"`
	DocumentID  int64         `json:"document_id"`
	Pages       string        `json:"pages"` // 1-based page selection, e.g. "12-24,30"; empty = whole document
	Difficulty  Difficulty    `json:"difficulty"`
	Total       int           `json:"total"`
	CurrentSlot int           `json:"current_slot"` // 0-based, monotonically non-decreasing
	Status      SessionStatus `json:"status"`
	Detail      string        `json:"detail"` // human-readable diagnostic, non-authoritative
	Attempts    int           `json:"attempts"`
	CreatedAt   time.Time     `json:"created_at"`
	ExpiresAt   time.Time     `json:"expires_at"`
}

// Expired reports whether the session is past its expiry time.
func (s *Session) Expired(now time.Time) bool {
	return now.After(s.ExpiresAt)
}

// Question is a validated multiple choice question at a fixed slot of a
// session. Exactly four choices; CorrectIndex is 0-based.
type Question struct {
	SessionID    string   `json:"session_id"`
	Slot         int      `json:"slot"`
	Text         string   `json:"text"`
	Choices      []string `json:"choices"`
	CorrectIndex int      `json:"correct_index"`
	Explanation  string   `json:"explanation"`
	Answered     bool     `json:"answered"`
	ChosenIndex  int      `json:"chosen_index"` // -1 while unanswered
}

// Document is an uploaded source file owned by a user.
type Document struct {
	ID        int64     `json:"id"`
	UserID    int64     `json:"user_id"`
	Name      string    `json:"name"`
	Path      string    `json:"path"`
	Pages     int       `json:"pages"` // page count; 0 if unknown
	CreatedAt time.Time `json:"created_at"`
}

// StartRequest asks for a new quiz session over a document.
type StartRequest struct {
	DocumentID int64  `json:"document_id"`
	Difficulty string `json:"difficulty,omitempty"`
	Pages      string `json:"pages,omitempty"`
	Total      int    `json:"total,omitempty"`
}

// StartResult is the outcome of a start request. When an active session
// already existed for the user, its id is returned instead of a new one.
type StartResult struct {
	SessionID string        `json:"session_id"`
	Status    SessionStatus `json:"status"`
}

// PublicQuestion is the client-visible view of a question: no correct index,
// no explanation until answered.
type PublicQuestion struct {
	Slot    int      `json:"slot"`
	Text    string   `json:"text"`
	Choices []string `json:"choices"`
}

// CurrentResult describes the state of the active slot for polling clients.
type CurrentResult struct {
	Status         SessionStatus   `json:"status"`
	Detail         string          `json:"detail,omitempty"`
	Slot           int             `json:"slot"`
	Total          int             `json:"total"`
	GeneratedCount int             `json:"generated_count"`
	Question       *PublicQuestion `json:"question,omitempty"`
}

// AnswerResult reports correctness for a submitted choice. Last is true when
// the answered question sat in the final slot of the session.
type AnswerResult struct {
	Correct      bool   `json:"is_correct"`
	CorrectIndex int    `json:"correct_index"`
	Explanation  string `json:"explanation"`
	Slot         int    `json:"slot"`
	Total        int    `json:"total"`
	Last         bool   `json:"last"`
}

// AdvanceResult reports the availability of the next slot after advancing.
type AdvanceResult struct {
	Status         SessionStatus   `json:"status"`
	Detail         string          `json:"detail,omitempty"`
	Slot           int             `json:"slot"`
	Total          int             `json:"total"`
	GeneratedCount int             `json:"generated_count"`
	Question       *PublicQuestion `json:"question,omitempty"`
}

// ResultItem is the per-question outcome in a session summary.
type ResultItem struct {
	Slot         int `json:"slot"`
	CorrectIndex int `json:"correct_index"`
	ChosenIndex  int `json:"chosen_index"` // -1 if never answered
}

// SessionResult summarizes a finished (or abandoned) session.
type SessionResult struct {
	Score   int          `json:"score"`
	Total   int          `json:"total"`
	Details []ResultItem `json:"details"`
}

func publicQuestion(q *Question) *PublicQuestion {
	return &PublicQuestion{Slot: q.Slot, Text: q.Text, Choices: q.Choices}
}
