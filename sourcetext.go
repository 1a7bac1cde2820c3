package qcmengine

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// SourceResolver turns a session's document reference and page selection into
// the word corpus used for prompt sampling. Extraction is expensive, so the
// raw text is cached per session on disk; cache failures are swallowed.
type SourceResolver struct {
	store      Store
	extractor  TextExtractor
	cacheDir   string
	minTextLen int
}

// NewSourceResolver creates a resolver with the given cache directory.
func NewSourceResolver(store Store, extractor TextExtractor, cfg Config) *SourceResolver {
	return &SourceResolver{
		store:      store,
		extractor:  extractor,
		cacheDir:   cfg.CacheDir,
		minTextLen: cfg.MinTextLen,
	}
}

// Resolve returns the word corpus for the session. All errors it returns are
// terminal for the session: no amount of retrying fixes a missing, unreadable
// or near-empty document.
func (r *SourceResolver) Resolve(ctx context.Context, session *Session) ([]string, error) {
	if txt, ok := r.readCache(session.ID); ok {
		return strings.Fields(txt), nil
	}

	doc, err := r.store.GetDocument(ctx, session.DocumentID)
	if err != nil {
		return nil, fmt.Errorf("document %d unavailable: %w", session.DocumentID, err)
	}

	pages := ParsePages(session.Pages, doc.Pages)
	txt, err := r.extractor.Extract(doc.Path, pages)
	if err != nil {
		return nil, fmt.Errorf("extraction failed: %w", err)
	}
	if len(txt) < r.minTextLen {
		return nil, ErrInsufficientText
	}

	r.writeCache(session.ID, txt)
	return strings.Fields(txt), nil
}

// DropCache removes the cached text for a session, if any.
func (r *SourceResolver) DropCache(sessionID string) {
	os.Remove(r.cachePath(sessionID))
}

func (r *SourceResolver) cachePath(sessionID string) string {
	return filepath.Join(r.cacheDir, sessionID+".txt")
}

func (r *SourceResolver) readCache(sessionID string) (string, bool) {
	data, err := os.ReadFile(r.cachePath(sessionID))
	if err != nil {
		return "", false
	}
	txt := strings.TrimSpace(string(data))
	if txt == "" {
		return "", false
	}
	return txt, true
}

func (r *SourceResolver) writeCache(sessionID, txt string) {
	if err := os.MkdirAll(r.cacheDir, 0755); err != nil {
		VerboseLog("cache dir %s: %v", r.cacheDir, err)
		return
	}
	if err := os.WriteFile(r.cachePath(sessionID), []byte(txt), 0644); err != nil {
		VerboseLog("cache write %s: %v", sessionID, err)
	}
}
