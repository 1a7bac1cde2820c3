package qcmengine

import (
	"fmt"
	"math/rand"
	"strings"
)

// Question archetypes rotate the angle of attack so consecutive questions on
// the same material don't all read alike.
var questionArchetypes = []string{
	"definition check",
	"fine distinction between close notions",
	"exception to a general rule",
	"qualification of a concrete case",
	"order of steps in a procedure",
}

// PromptSampler picks random word windows from a corpus and frames them into
// generation prompts.
type PromptSampler struct {
	chunkWords int
}

// NewPromptSampler creates a sampler with the window size bounded to
// [MinChunkWords, MaxChunkWords].
func NewPromptSampler(chunkWords int) *PromptSampler {
	if chunkWords < MinChunkWords {
		chunkWords = MinChunkWords
	}
	if chunkWords > MaxChunkWords {
		chunkWords = MaxChunkWords
	}
	return &PromptSampler{chunkWords: chunkWords}
}

// Window returns a uniformly random contiguous word window, or the whole
// corpus when it is smaller than the window size. Empty corpus yields "";
// callers must treat that as a retryable condition.
func (s *PromptSampler) Window(words []string) string {
	if len(words) == 0 {
		return ""
	}
	size := s.chunkWords
	if size > len(words) {
		size = len(words)
	}
	start := rand.Intn(len(words) - size + 1)
	return strings.TrimSpace(strings.Join(words[start:start+size], " "))
}

// Archetype picks a random question archetype label.
func (s *PromptSampler) Archetype() string {
	return questionArchetypes[rand.Intn(len(questionArchetypes))]
}

// BuildPrompt assembles the full generation prompt for one question.
func (s *PromptSampler) BuildPrompt(window string, difficulty Difficulty) string {
	var sb strings.Builder
	sb.WriteString("You are an examiner. Write ONE single-answer multiple choice question from the excerpt below.\n\n")
	sb.WriteString(fmt.Sprintf("TYPE: %s\n", s.Archetype()))
	sb.WriteString(difficultyBlock(difficulty))
	sb.WriteString("\n\nConstraints:\n")
	sb.WriteString("- Exactly one correct choice (A/B/C/D)\n")
	sb.WriteString("- The three others are plausible but wrong\n")
	sb.WriteString("- Explanation: justify the correct choice and why the others fail\n")
	sb.WriteString("- No ambiguity\n")
	sb.WriteString("- Return nothing but the requested format\n")
	sb.WriteString("\nSTRICT format:\n")
	sb.WriteString("Question: ...\n")
	sb.WriteString("Choice A: ...\n")
	sb.WriteString("Choice B: ...\n")
	sb.WriteString("Choice C: ...\n")
	sb.WriteString("Choice D: ...\n")
	sb.WriteString("Correct: A|B|C|D\n")
	sb.WriteString("Explanation: ...\n")
	sb.WriteString("\nEXCERPT:\n")
	sb.WriteString(window)
	return sb.String()
}

func difficultyBlock(d Difficulty) string {
	switch d {
	case DifficultyEasy:
		return "Level: EASY (fundamental notions, direct phrasing)."
	case DifficultyHard:
		return "Level: HARD (fine distinctions, exceptions, traps)."
	default:
		return "Level: INTERMEDIATE (standard exam level)."
	}
}
