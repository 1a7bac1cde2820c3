package qcmengine

import "errors"

// Stable error values surfaced to API callers. Anything else escaping the
// package is an internal failure and should be treated as such.
var (
	ErrSessionNotFound  = errors.New("session not found")
	ErrSessionExpired   = errors.New("session expired")
	ErrSessionFinished  = errors.New("session already finished")
	ErrForbidden        = errors.New("forbidden")
	ErrDocumentNotFound = errors.New("document not found")
	ErrInvalidChoice    = errors.New("choice index must be between 0 and 3")
	ErrQuestionNotReady = errors.New("question not generated yet")
	ErrQuestionNotFound = errors.New("question not found")
	ErrAlreadyAnswered  = errors.New("question already answered")
	ErrQuestionExists   = errors.New("question already exists for this slot")
	ErrInsufficientText = errors.New("document text too short to generate questions")
)
