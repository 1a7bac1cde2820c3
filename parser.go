package qcmengine

import (
	"fmt"
	"strings"
)

// ParsedQuestion is a candidate question extracted from raw model output. It
// has not passed validation yet and must never be persisted as-is.
type ParsedQuestion struct {
	Text         string
	Choices      []string // exactly 4
	CorrectIndex int      // 0-based
	Explanation  string
}

var choiceLetters = []string{"A", "B", "C", "D"}

// ParseAnswer parses raw model output in the strict labeled layout
// (Question / Choice A..D / Correct / Explanation). A missing or malformed
// field is a rejection of this attempt, not a fatal error.
func ParseAnswer(raw string) (*ParsedQuestion, error) {
	lines := make([]string, 0, 8)
	for _, l := range strings.Split(raw, "\n") {
		if l = strings.TrimSpace(l); l != "" {
			lines = append(lines, l)
		}
	}

	pick := func(prefix string) string {
		for _, l := range lines {
			if len(l) >= len(prefix) && strings.EqualFold(l[:len(prefix)], prefix) {
				rest := l[len(prefix):]
				if _, v, ok := strings.Cut(rest, ":"); ok {
					return strings.TrimSpace(v)
				}
			}
		}
		return ""
	}

	q := pick("Question")
	choices := make([]string, 0, 4)
	for _, letter := range choiceLetters {
		choices = append(choices, pick("Choice "+letter))
	}
	correct := strings.ToUpper(pick("Correct"))
	if len(correct) > 1 {
		correct = correct[:1]
	}
	exp := pick("Explanation")

	if q == "" {
		return nil, fmt.Errorf("malformed output: missing question")
	}
	for i, c := range choices {
		if c == "" {
			return nil, fmt.Errorf("malformed output: missing choice %s", choiceLetters[i])
		}
	}
	idx := letterIndex(correct)
	if idx < 0 {
		return nil, fmt.Errorf("malformed output: correct marker %q not in A-D", correct)
	}
	if exp == "" {
		return nil, fmt.Errorf("malformed output: missing explanation")
	}

	return &ParsedQuestion{Text: q, Choices: choices, CorrectIndex: idx, Explanation: exp}, nil
}

func letterIndex(letter string) int {
	for i, l := range choiceLetters {
		if l == letter {
			return i
		}
	}
	return -1
}

// NormalizeQuestion case-folds and collapses whitespace so near-identical
// stems compare equal for duplicate detection.
func NormalizeQuestion(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// Validator applies the content-quality gates to parsed candidates.
type Validator struct {
	MinQuestionLen    int
	MinChoiceLen      int
	MinExplanationLen int
	DupGuard          bool
}

// NewValidator builds a validator from the configured policy.
func NewValidator(cfg Config) Validator {
	return Validator{
		MinQuestionLen:    cfg.MinQuestionLen,
		MinChoiceLen:      cfg.MinChoiceLen,
		MinExplanationLen: cfg.MinExplanationLen,
		DupGuard:          cfg.DupGuard,
	}
}

// Validate rejects candidates failing any quality gate. seen holds normalized
// stems of all previously persisted questions in the session; the caller adds
// the new stem after persisting. A returned error means "retry", never
// "abort the session".
func (v Validator) Validate(q *ParsedQuestion, seen map[string]struct{}) error {
	if len(strings.TrimSpace(q.Text)) < v.MinQuestionLen {
		return fmt.Errorf("question too short (min %d chars)", v.MinQuestionLen)
	}
	if len(q.Choices) != 4 {
		return fmt.Errorf("expected 4 choices, got %d", len(q.Choices))
	}
	for i, c := range q.Choices {
		if len(strings.TrimSpace(c)) < v.MinChoiceLen {
			return fmt.Errorf("choice %s too short (min %d chars)", choiceLetters[i], v.MinChoiceLen)
		}
	}
	if q.CorrectIndex < 0 || q.CorrectIndex > 3 {
		return fmt.Errorf("correct index %d out of range", q.CorrectIndex)
	}
	if len(strings.TrimSpace(q.Explanation)) < v.MinExplanationLen {
		return fmt.Errorf("explanation too short (min %d chars)", v.MinExplanationLen)
	}
	if v.DupGuard {
		if _, dup := seen[NormalizeQuestion(q.Text)]; dup {
			return fmt.Errorf("duplicate question")
		}
	}
	return nil
}
