package qcmengine

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Store is the durable shared resource behind sessions, questions and
// documents. All session mutations are targeted updates so concurrent
// coordinator and lifecycle operations do not overwrite each other's fields.
type Store interface {
	CreateDocument(ctx context.Context, doc *Document) error
	GetDocument(ctx context.Context, id int64) (*Document, error)

	CreateSession(ctx context.Context, s *Session) error
	GetSession(ctx context.Context, id string) (*Session, error)
	// FindActiveSession returns the newest non-terminal, non-expired session
	// for the user, or ErrSessionNotFound.
	FindActiveSession(ctx context.Context, userID int64, now time.Time) (*Session, error)
	UpdateSessionStatus(ctx context.Context, id string, status SessionStatus, detail string) error
	UpdateSessionProgress(ctx context.Context, id string, currentSlot int, status SessionStatus, detail string) error
	// IncrementSessionAttempts bumps the durable attempt counter and returns
	// the new value.
	IncrementSessionAttempts(ctx context.Context, id string) (int, error)
	// CloseSession marks the session closed and forces its expiry to now.
	CloseSession(ctx context.Context, id string, now time.Time) error

	// CreateQuestion inserts a question; ErrQuestionExists if the slot is
	// already taken.
	CreateQuestion(ctx context.Context, q *Question) error
	GetQuestion(ctx context.Context, sessionID string, slot int) (*Question, error)
	ListQuestions(ctx context.Context, sessionID string) ([]Question, error)
	CountQuestions(ctx context.Context, sessionID string) (int, error)
	MarkQuestionAnswered(ctx context.Context, sessionID string, slot, chosenIndex int) error
}

// SQLiteStore implements Store on a local sqlite database.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLiteStore opens (and pings) the database at dbPath.
func OpenSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// CreateTables creates the schema if it does not exist.
func (s *SQLiteStore) CreateTables() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS documents (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id INTEGER NOT NULL,
			name TEXT NOT NULL,
			path TEXT NOT NULL,
			pages INTEGER NOT NULL DEFAULT 0,
			created_at DATETIME NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS qcm_sessions (
			id TEXT PRIMARY KEY,
			user_id INTEGER NOT NULL,
			document_id INTEGER NOT NULL,
			pages TEXT NOT NULL DEFAULT '',
			difficulty TEXT NOT NULL,
			total INTEGER NOT NULL,
			current_slot INTEGER NOT NULL DEFAULT 0,
			status TEXT NOT NULL,
			detail TEXT NOT NULL DEFAULT '',
			attempts INTEGER NOT NULL DEFAULT 0,
			created_at DATETIME NOT NULL,
			expires_at DATETIME NOT NULL,
			FOREIGN KEY (document_id) REFERENCES documents(id)
		)`,
		`CREATE TABLE IF NOT EXISTS qcm_questions (
			session_id TEXT NOT NULL,
			slot INTEGER NOT NULL,
			text TEXT NOT NULL,
			choices TEXT NOT NULL,
			correct_index INTEGER NOT NULL,
			explanation TEXT NOT NULL,
			answered INTEGER NOT NULL DEFAULT 0,
			chosen_index INTEGER NOT NULL DEFAULT -1,
			PRIMARY KEY (session_id, slot),
			FOREIGN KEY (session_id) REFERENCES qcm_sessions(id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_user_status
			ON qcm_sessions(user_id, status)`,
	}
	for _, query := range queries {
		if _, err := s.db.Exec(query); err != nil {
			return fmt.Errorf("failed to execute %s: %w", query, err)
		}
	}
	return nil
}

// CreateDocument inserts a document record and fills in its id.
func (s *SQLiteStore) CreateDocument(ctx context.Context, doc *Document) error {
	res, err := s.db.ExecContext(ctx,
		"INSERT INTO documents (user_id, name, path, pages, created_at) VALUES (?, ?, ?, ?, ?)",
		doc.UserID, doc.Name, doc.Path, doc.Pages, doc.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create document: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read document id: %w", err)
	}
	doc.ID = id
	return nil
}

// GetDocument retrieves a document by id.
func (s *SQLiteStore) GetDocument(ctx context.Context, id int64) (*Document, error) {
	var doc Document
	err := s.db.QueryRowContext(ctx,
		"SELECT id, user_id, name, path, pages, created_at FROM documents WHERE id = ?", id,
	).Scan(&doc.ID, &doc.UserID, &doc.Name, &doc.Path, &doc.Pages, &doc.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrDocumentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get document: %w", err)
	}
	return &doc, nil
}

// CreateSession inserts a new session.
func (s *SQLiteStore) CreateSession(ctx context.Context, sess *Session) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO qcm_sessions
			(id, user_id, document_id, pages, difficulty, total, current_slot, status, detail, attempts, created_at, expires_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sess.ID, sess.UserID, sess.DocumentID, sess.Pages, sess.Difficulty, sess.Total,
		sess.CurrentSlot, sess.Status, sess.Detail, sess.Attempts, sess.CreatedAt, sess.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	return nil
}

const sessionColumns = "id, user_id, document_id, pages, difficulty, total, current_slot, status, detail, attempts, created_at, expires_at"

func scanSession(row *sql.Row) (*Session, error) {
	var sess Session
	err := row.Scan(&sess.ID, &sess.UserID, &sess.DocumentID, &sess.Pages, &sess.Difficulty,
		&sess.Total, &sess.CurrentSlot, &sess.Status, &sess.Detail, &sess.Attempts,
		&sess.CreatedAt, &sess.ExpiresAt)
	if err == sql.ErrNoRows {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan session: %w", err)
	}
	return &sess, nil
}

// GetSession retrieves a session by id.
func (s *SQLiteStore) GetSession(ctx context.Context, id string) (*Session, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+sessionColumns+" FROM qcm_sessions WHERE id = ?", id)
	return scanSession(row)
}

// FindActiveSession returns the newest non-terminal, non-expired session for
// the user.
func (s *SQLiteStore) FindActiveSession(ctx context.Context, userID int64, now time.Time) (*Session, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM qcm_sessions
		 WHERE user_id = ? AND status IN (?, ?) AND expires_at > ?
		 ORDER BY created_at DESC LIMIT 1`,
		userID, StatusGenerating, StatusReady, now)
	return scanSession(row)
}

// UpdateSessionStatus updates status and diagnostic message only.
func (s *SQLiteStore) UpdateSessionStatus(ctx context.Context, id string, status SessionStatus, detail string) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE qcm_sessions SET status = ?, detail = ? WHERE id = ?", status, detail, id)
	if err != nil {
		return fmt.Errorf("failed to update session status: %w", err)
	}
	return nil
}

// UpdateSessionProgress updates the slot pointer together with status.
func (s *SQLiteStore) UpdateSessionProgress(ctx context.Context, id string, currentSlot int, status SessionStatus, detail string) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE qcm_sessions SET current_slot = ?, status = ?, detail = ? WHERE id = ?",
		currentSlot, status, detail, id)
	if err != nil {
		return fmt.Errorf("failed to update session progress: %w", err)
	}
	return nil
}

// IncrementSessionAttempts bumps the durable attempt counter.
func (s *SQLiteStore) IncrementSessionAttempts(ctx context.Context, id string) (int, error) {
	if _, err := s.db.ExecContext(ctx,
		"UPDATE qcm_sessions SET attempts = attempts + 1 WHERE id = ?", id); err != nil {
		return 0, fmt.Errorf("failed to increment attempts: %w", err)
	}
	var attempts int
	err := s.db.QueryRowContext(ctx,
		"SELECT attempts FROM qcm_sessions WHERE id = ?", id).Scan(&attempts)
	if err == sql.ErrNoRows {
		return 0, ErrSessionNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read attempts: %w", err)
	}
	return attempts, nil
}

// CloseSession marks the session closed and expires it immediately.
func (s *SQLiteStore) CloseSession(ctx context.Context, id string, now time.Time) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE qcm_sessions SET status = ?, detail = ?, expires_at = ? WHERE id = ?",
		StatusClosed, "Closed.", now, id)
	if err != nil {
		return fmt.Errorf("failed to close session: %w", err)
	}
	return nil
}

// CreateQuestion inserts a question at its slot. The primary key on
// (session_id, slot) plus INSERT OR IGNORE makes concurrent inserts for the
// same slot resolve to exactly one row.
func (s *SQLiteStore) CreateQuestion(ctx context.Context, q *Question) error {
	choices, err := choicesToJSON(q.Choices)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO qcm_questions
			(session_id, slot, text, choices, correct_index, explanation, answered, chosen_index)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		q.SessionID, q.Slot, q.Text, choices, q.CorrectIndex, q.Explanation, q.Answered, q.ChosenIndex,
	)
	if err != nil {
		return fmt.Errorf("failed to create question: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read insert result: %w", err)
	}
	if n == 0 {
		return ErrQuestionExists
	}
	return nil
}

const questionColumns = "session_id, slot, text, choices, correct_index, explanation, answered, chosen_index"

func scanQuestion(scan func(dest ...any) error) (*Question, error) {
	var q Question
	var choices string
	err := scan(&q.SessionID, &q.Slot, &q.Text, &choices, &q.CorrectIndex,
		&q.Explanation, &q.Answered, &q.ChosenIndex)
	if err != nil {
		return nil, err
	}
	q.Choices, err = jsonToChoices(choices)
	if err != nil {
		return nil, err
	}
	return &q, nil
}

// GetQuestion retrieves the question at (session, slot).
func (s *SQLiteStore) GetQuestion(ctx context.Context, sessionID string, slot int) (*Question, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+questionColumns+" FROM qcm_questions WHERE session_id = ? AND slot = ?",
		sessionID, slot)
	q, err := scanQuestion(row.Scan)
	if err == sql.ErrNoRows {
		return nil, ErrQuestionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get question: %w", err)
	}
	return q, nil
}

// ListQuestions returns all questions of a session ordered by slot.
func (s *SQLiteStore) ListQuestions(ctx context.Context, sessionID string) ([]Question, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+questionColumns+" FROM qcm_questions WHERE session_id = ? ORDER BY slot",
		sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list questions: %w", err)
	}
	defer rows.Close()

	var questions []Question
	for rows.Next() {
		q, err := scanQuestion(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan question: %w", err)
		}
		questions = append(questions, *q)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating questions: %w", err)
	}
	return questions, nil
}

// CountQuestions returns how many questions exist for a session.
func (s *SQLiteStore) CountQuestions(ctx context.Context, sessionID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM qcm_questions WHERE session_id = ?", sessionID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count questions: %w", err)
	}
	return n, nil
}

// MarkQuestionAnswered records the user's choice; a question is only ever
// answered once.
func (s *SQLiteStore) MarkQuestionAnswered(ctx context.Context, sessionID string, slot, chosenIndex int) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE qcm_questions SET answered = 1, chosen_index = ? WHERE session_id = ? AND slot = ? AND answered = 0",
		chosenIndex, sessionID, slot)
	if err != nil {
		return fmt.Errorf("failed to mark question answered: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read update result: %w", err)
	}
	if n == 0 {
		return ErrAlreadyAnswered
	}
	return nil
}

func choicesToJSON(choices []string) (string, error) {
	data, err := json.Marshal(choices)
	if err != nil {
		return "", fmt.Errorf("failed to marshal choices: %w", err)
	}
	return string(data), nil
}

func jsonToChoices(data string) ([]string, error) {
	var choices []string
	if err := json.Unmarshal([]byte(data), &choices); err != nil {
		return nil, fmt.Errorf("failed to unmarshal choices: %w", err)
	}
	return choices, nil
}
