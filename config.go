package qcmengine

import (
	"os"
	"strconv"
	"time"
)

// Config carries the generation and session policy knobs. Zero values are not
// usable; build one with DefaultConfig or ConfigFromEnv.
type Config struct {
	// Session policy
	Total      int
	SessionTTL time.Duration

	// Validation policy
	MinTextLen        int
	MinQuestionLen    int
	MinChoiceLen      int
	MinExplanationLen int
	DupGuard          bool

	// Sampling
	ChunkWords int // bounded to [MinChunkWords, MaxChunkWords]

	// Retry budgets
	MaxSlotAttempts    int // per (session, slot)
	MaxSessionAttempts int // shared across all slots of a session
	RetryBackoff       time.Duration

	// Concurrency
	LockTTL    time.Duration
	MaxWorkers int

	// Generation service
	Model       string
	Temperature float32
	MaxTokens   int
	GenTimeout  time.Duration

	// Paths; empty LogDir disables transcript logging
	CacheDir string
	LogDir   string
}

// Sampling window bounds; windows outside this range degrade question quality
// (single-word windows on tiny documents, token overflows on huge ones).
const (
	MinChunkWords = 200
	MaxChunkWords = 520
)

// DefaultConfig returns the converged production policy.
func DefaultConfig() Config {
	return Config{
		Total:              5,
		SessionTTL:         30 * time.Minute,
		MinTextLen:         700,
		MinQuestionLen:     25,
		MinChoiceLen:       8,
		MinExplanationLen:  25,
		DupGuard:           true,
		ChunkWords:         380,
		MaxSlotAttempts:    8,
		MaxSessionAttempts: 30,
		RetryBackoff:       350 * time.Millisecond,
		LockTTL:            2 * time.Minute,
		MaxWorkers:         16,
		Model:              "gpt-4o-mini",
		Temperature:        0.5,
		MaxTokens:          700,
		GenTimeout:         45 * time.Second,
		CacheDir:           "./storage/QcmCache",
		LogDir:             "",
	}
}

// ConfigFromEnv overlays environment variables on the default policy.
func ConfigFromEnv() Config {
	cfg := DefaultConfig()
	cfg.Total = envInt("QCM_COUNT", cfg.Total)
	cfg.SessionTTL = time.Duration(envInt("QCM_SESSION_TTL_MIN", int(cfg.SessionTTL/time.Minute))) * time.Minute
	cfg.MinTextLen = envInt("QCM_MIN_TEXT_LEN", cfg.MinTextLen)
	cfg.MinQuestionLen = envInt("QCM_MIN_QUESTION_LEN", cfg.MinQuestionLen)
	cfg.MinChoiceLen = envInt("QCM_MIN_CHOICE_LEN", cfg.MinChoiceLen)
	cfg.MinExplanationLen = envInt("QCM_MIN_EXPLANATION_LEN", cfg.MinExplanationLen)
	cfg.DupGuard = envStr("QCM_DUP_GUARD", "1") == "1"
	cfg.ChunkWords = envInt("QCM_CHUNK_WORDS", cfg.ChunkWords)
	cfg.MaxSlotAttempts = envInt("QCM_MAX_SLOT_TRIES", cfg.MaxSlotAttempts)
	cfg.MaxSessionAttempts = envInt("QCM_MAX_TRIES", cfg.MaxSessionAttempts)
	cfg.LockTTL = time.Duration(envInt("QCM_LOCK_TTL_SEC", int(cfg.LockTTL/time.Second))) * time.Second
	cfg.MaxWorkers = envInt("QCM_MAX_WORKERS", cfg.MaxWorkers)
	cfg.Model = envStr("OPENAI_MODEL_QCM", cfg.Model)
	if v, err := strconv.ParseFloat(os.Getenv("QCM_TEMPERATURE"), 32); err == nil {
		cfg.Temperature = float32(v)
	}
	cfg.MaxTokens = envInt("QCM_MAX_TOKENS", cfg.MaxTokens)
	cfg.GenTimeout = time.Duration(envInt("QCM_GEN_TIMEOUT_SEC", int(cfg.GenTimeout/time.Second))) * time.Second
	cfg.CacheDir = envStr("QCM_CACHE_DIR", cfg.CacheDir)
	cfg.LogDir = envStr("QCM_LOG_DIR", cfg.LogDir)
	return cfg
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	v, err := strconv.Atoi(os.Getenv(key))
	if err != nil {
		return fallback
	}
	return v
}
