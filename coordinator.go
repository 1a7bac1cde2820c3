package qcmengine

import (
	"context"
	"errors"
	"fmt"
	"log"
)

// Coordinator drives question generation for (session, slot) pairs. It
// guarantees at most one attempt in flight per pair, at most one persisted
// question per slot, bounded retries, and that the session's visible status
// never flips to a terminal state prematurely.
type Coordinator struct {
	store     Store
	resolver  *SourceResolver
	sampler   *PromptSampler
	generator TextGenerator
	validator Validator
	locks     *LockTable
	retry     RetryPolicy
	sleeper   Sleeper
	runner    *Runner
	logDir    string
}

// NewCoordinator wires the generation pipeline with the configured policy.
func NewCoordinator(store Store, resolver *SourceResolver, sampler *PromptSampler, generator TextGenerator, cfg Config) *Coordinator {
	return &Coordinator{
		store:     store,
		resolver:  resolver,
		sampler:   sampler,
		generator: generator,
		validator: NewValidator(cfg),
		locks:     NewLockTable(cfg.LockTTL),
		retry:     RetryPolicyFromConfig(cfg),
		sleeper:   realSleeper{},
		runner:    NewRunner(cfg.MaxWorkers),
		logDir:    cfg.LogDir,
	}
}

// EnsureSlot schedules generation for (session, slot) in the background and
// returns immediately. Redundant calls while an attempt is in flight, or for
// a slot that already has a question, degrade to no-ops.
func (c *Coordinator) EnsureSlot(sessionID string, slot int) {
	c.runner.Go(func() {
		c.generateSlot(context.Background(), sessionID, slot)
	})
}

// Wait blocks until all scheduled generation work has finished. Used by
// shutdown paths and tests.
func (c *Coordinator) Wait() {
	c.runner.Wait()
}

// generateSlot runs the bounded attempt loop for one (session, slot) under
// its lock. It returns true when a question for the slot exists afterwards.
func (c *Coordinator) generateSlot(ctx context.Context, sessionID string, slot int) bool {
	if !c.locks.TryAcquire(sessionID, slot) {
		return false // a concurrent attempt owns this slot
	}
	defer c.locks.Release(sessionID, slot)
	defer func() {
		if r := recover(); r != nil {
			log.Printf("generation panic for %s slot %d: %v", sessionID, slot, r)
			// The session may have gone terminal while the attempt was in
			// flight; terminal states are never reopened.
			sess, err := c.store.GetSession(ctx, sessionID)
			if err != nil || sess.Status.Terminal() {
				return
			}
			c.store.UpdateSessionStatus(ctx, sessionID,
				StatusGenerating, "Internal error during generation, retrying on next poll.")
		}
	}()

	sess, err := c.store.GetSession(ctx, sessionID)
	if err != nil || sess.Status.Terminal() {
		return false // session gone or ended while this trigger was queued
	}

	// Idempotent short-circuit: slot already generated.
	if _, err := c.store.GetQuestion(ctx, sessionID, slot); err == nil {
		if slot == sess.CurrentSlot && sess.Status == StatusGenerating {
			c.store.UpdateSessionStatus(ctx, sessionID, StatusReady, "Question ready.")
		}
		return true
	}

	c.store.UpdateSessionStatus(ctx, sessionID, StatusGenerating, "")

	words, err := c.resolver.Resolve(ctx, sess)
	if err != nil {
		c.failSession(ctx, sessionID, fmt.Sprintf("Source text unusable: %v", err))
		return false
	}

	genlog, err := NewGenLogger(c.logDir, sessionID)
	if err != nil {
		VerboseLog("transcript log unavailable for %s: %v", sessionID, err)
	}
	defer genlog.Close()

	seen, err := c.seenQuestions(ctx, sessionID)
	if err != nil {
		VerboseLog("seen-set rebuild failed for %s: %v", sessionID, err)
		seen = make(map[string]struct{})
	}

	var lastReason string

	for attempt := 1; attempt <= c.retry.MaxSlotAttempts; attempt++ {
		// A full retry run can outlast the lock TTL even when every attempt
		// is healthy; refreshing the hold keeps re-triggers out.
		c.locks.Touch(sessionID, slot)

		// Re-check terminal status each iteration: the session may have been
		// closed or errored concurrently.
		sess, err = c.store.GetSession(ctx, sessionID)
		if err != nil || sess.Status.Terminal() {
			return false
		}

		total, err := c.store.IncrementSessionAttempts(ctx, sessionID)
		if err != nil {
			return false
		}
		if total > c.retry.MaxSessionAttempts {
			c.failSession(ctx, sessionID,
				fmt.Sprintf("Generation failed: attempt budget exhausted (%s)", orUnknown(lastReason)))
			return false
		}

		window := c.sampler.Window(words)
		if window == "" {
			lastReason = "empty sample window"
			c.noteRetry(ctx, sessionID, sess.Total)
			c.sleeper.Sleep(c.retry.Backoff(attempt))
			continue
		}

		prompt := c.sampler.BuildPrompt(window, sess.Difficulty)
		genlog.LogRequest(slot, attempt, prompt)

		raw, err := c.generator.Generate(ctx, prompt)
		if err != nil {
			lastReason = err.Error()
			genlog.LogDecision(slot, attempt, "transport-error", lastReason)
			c.noteRetry(ctx, sessionID, sess.Total)
			c.sleeper.Sleep(c.retry.Backoff(attempt))
			continue
		}
		genlog.LogResponse(slot, attempt, raw)

		parsed, err := ParseAnswer(raw)
		if err == nil {
			err = c.validator.Validate(parsed, seen)
		}
		if err != nil {
			lastReason = err.Error()
			genlog.LogDecision(slot, attempt, "rejected", lastReason)
			c.noteRetry(ctx, sessionID, sess.Total)
			c.sleeper.Sleep(c.retry.Backoff(attempt))
			continue
		}

		// Re-fetch before persisting: discard the result if the session ended
		// while the model call was in flight.
		sess, err = c.store.GetSession(ctx, sessionID)
		if err != nil || sess.Status.Terminal() {
			genlog.LogDecision(slot, attempt, "discarded", "session ended during generation")
			return false
		}

		question := &Question{
			SessionID:    sessionID,
			Slot:         slot,
			Text:         parsed.Text,
			Choices:      parsed.Choices,
			CorrectIndex: parsed.CorrectIndex,
			Explanation:  parsed.Explanation,
			ChosenIndex:  -1,
		}
		if err := c.store.CreateQuestion(ctx, question); err != nil {
			if errors.Is(err, ErrQuestionExists) {
				genlog.LogDecision(slot, attempt, "discarded", "slot already filled")
				return true
			}
			lastReason = err.Error()
			genlog.LogDecision(slot, attempt, "store-error", lastReason)
			c.sleeper.Sleep(c.retry.Backoff(attempt))
			continue
		}

		seen[NormalizeQuestion(parsed.Text)] = struct{}{}
		genlog.LogDecision(slot, attempt, "accepted", fmt.Sprintf("slot %d persisted", slot))

		if slot == sess.CurrentSlot {
			c.store.UpdateSessionStatus(ctx, sessionID, StatusReady, "Question ready.")
		} else {
			c.store.UpdateSessionStatus(ctx, sessionID, sess.Status,
				fmt.Sprintf("Generated %d/%d.", c.countQuestions(ctx, sessionID), sess.Total))
		}
		return true
	}

	c.failSession(ctx, sessionID,
		fmt.Sprintf("Generation failed after %d attempts (%s)", c.retry.MaxSlotAttempts, orUnknown(lastReason)))
	return false
}

// seenQuestions rebuilds the normalized duplicate-detection set from the
// questions already persisted for the session.
func (c *Coordinator) seenQuestions(ctx context.Context, sessionID string) (map[string]struct{}, error) {
	existing, err := c.store.ListQuestions(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]struct{}, len(existing))
	for _, q := range existing {
		seen[NormalizeQuestion(q.Text)] = struct{}{}
	}
	return seen, nil
}

// noteRetry records a soft diagnostic without touching the status. The retry
// itself stays invisible to polling clients.
func (c *Coordinator) noteRetry(ctx context.Context, sessionID string, total int) {
	c.store.UpdateSessionStatus(ctx, sessionID, StatusGenerating,
		fmt.Sprintf("Retrying… (%d/%d)", c.countQuestions(ctx, sessionID), total))
}

// countQuestions is the diagnostic-only progress count. Counted fresh at every
// use because concurrent runs for other slots persist questions mid-run.
func (c *Coordinator) countQuestions(ctx context.Context, sessionID string) int {
	n, err := c.store.CountQuestions(ctx, sessionID)
	if err != nil {
		VerboseLog("question count for %s: %v", sessionID, err)
	}
	return n
}

// failSession moves the session to its terminal error state. Sessions never
// leave that state; the caller has to start a new one.
func (c *Coordinator) failSession(ctx context.Context, sessionID, detail string) {
	sess, err := c.store.GetSession(ctx, sessionID)
	if err != nil || sess.Status.Terminal() {
		return
	}
	if err := c.store.UpdateSessionStatus(ctx, sessionID, StatusError, detail); err != nil {
		log.Printf("failed to mark session %s as errored: %v", sessionID, err)
	}
}

func orUnknown(reason string) string {
	if reason == "" {
		return "unknown failure"
	}
	return reason
}
