package qcmengine

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// GenLogger appends a transcript of one session's generation runs to a log
// file: prompts, raw model output and accept/reject decisions. Best-effort;
// it must never make generation fail.
type GenLogger struct {
	file *os.File
	mu   sync.Mutex
}

// NewGenLogger opens (or creates) the transcript file for a session. Returns
// nil without error when dir is empty, which disables logging.
func NewGenLogger(dir, sessionID string) (*GenLogger, error) {
	if dir == "" {
		return nil, nil
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}
	filename := filepath.Join(dir, fmt.Sprintf("%s.log", sessionID))
	file, err := os.OpenFile(filename, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	return &GenLogger{file: file}, nil
}

// Logf writes a formatted, timestamped entry.
func (gl *GenLogger) Logf(format string, args ...interface{}) {
	if gl == nil {
		return
	}
	gl.mu.Lock()
	defer gl.mu.Unlock()

	timestamp := time.Now().Format("15:04:05.000")
	fmt.Fprintf(gl.file, "[%s] %s", timestamp, fmt.Sprintf(format, args...))
	gl.file.Sync()
}

// LogRequest logs the prompt sent for a slot attempt.
func (gl *GenLogger) LogRequest(slot, attempt int, prompt string) {
	gl.Logf("=== REQUEST slot %d attempt %d ===\n%s\n===\n\n", slot, attempt, prompt)
}

// LogResponse logs the raw model output for a slot attempt.
func (gl *GenLogger) LogResponse(slot, attempt int, raw string) {
	gl.Logf("=== RESPONSE slot %d attempt %d ===\n%s\n===\n\n", slot, attempt, raw)
}

// LogDecision logs the accept/reject outcome of one attempt.
func (gl *GenLogger) LogDecision(slot, attempt int, action, reason string) {
	gl.Logf("slot %d attempt %d: %s - %s\n", slot, attempt, action, reason)
}

// Close closes the transcript file.
func (gl *GenLogger) Close() error {
	if gl == nil {
		return nil
	}
	gl.mu.Lock()
	defer gl.mu.Unlock()
	if gl.file != nil {
		return gl.file.Close()
	}
	return nil
}
