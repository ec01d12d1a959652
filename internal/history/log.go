// Package history keeps the per-session list of resolved places in memory.
package history

import (
	"context"
	"strings"
	"sync"

	"mapsearch-api/internal/models"
)

const searchLimit = 20

// Log is an append-only history per session. With a limit of zero it grows without bound;
// a positive limit keeps only the newest entries.
type Log struct {
	limit int

	mu      sync.RWMutex
	entries map[string][]models.PlaceDetail
}

// NewLog creates an in-memory history log.
func NewLog(limit int) *Log {
	if limit < 0 {
		limit = 0
	}
	return &Log{
		limit:   limit,
		entries: make(map[string][]models.PlaceDetail),
	}
}

// Append adds place to the end of the session's history.
func (l *Log) Append(_ context.Context, sessionID string, place models.PlaceDetail) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	entries := append(l.entries[sessionID], place)
	if l.limit > 0 && len(entries) > l.limit {
		trimmed := make([]models.PlaceDetail, l.limit)
		copy(trimmed, entries[len(entries)-l.limit:])
		entries = trimmed
	}
	l.entries[sessionID] = entries
	return nil
}

// List returns the session's history, oldest first.
func (l *Log) List(_ context.Context, sessionID string) ([]models.PlaceDetail, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]models.PlaceDetail, len(l.entries[sessionID]))
	copy(out, l.entries[sessionID])
	return out, nil
}

// Search returns entries whose name or address contains query, newest first.
func (l *Log) Search(_ context.Context, sessionID, query string) ([]models.PlaceDetail, error) {
	needle := strings.ToLower(strings.TrimSpace(query))

	l.mu.RLock()
	defer l.mu.RUnlock()

	entries := l.entries[sessionID]
	out := []models.PlaceDetail{}
	for i := len(entries) - 1; i >= 0 && len(out) < searchLimit; i-- {
		p := entries[i]
		if strings.Contains(strings.ToLower(p.Name), needle) || strings.Contains(strings.ToLower(p.FullAddress), needle) {
			out = append(out, p)
		}
	}
	return out, nil
}

// Forget drops the session's history.
func (l *Log) Forget(_ context.Context, sessionID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.entries, sessionID)
	return nil
}
