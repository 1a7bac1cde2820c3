package qcmengine

import "time"

// Sleeper abstracts backoff delays so tests run without real time passing.
type Sleeper interface {
	Sleep(d time.Duration)
}

type realSleeper struct{}

func (realSleeper) Sleep(d time.Duration) { time.Sleep(d) }

// RetryPolicy bounds the generation retry loop. MaxSlotAttempts caps one
// slot's attempts within a single run; MaxSessionAttempts is the durable cap
// shared across all slots of a session.
type RetryPolicy struct {
	MaxSlotAttempts    int
	MaxSessionAttempts int
	Backoff            func(attempt int) time.Duration
}

// RetryPolicyFromConfig builds the policy with a flat backoff.
func RetryPolicyFromConfig(cfg Config) RetryPolicy {
	backoff := cfg.RetryBackoff
	return RetryPolicy{
		MaxSlotAttempts:    cfg.MaxSlotAttempts,
		MaxSessionAttempts: cfg.MaxSessionAttempts,
		Backoff: func(attempt int) time.Duration {
			return backoff
		},
	}
}
