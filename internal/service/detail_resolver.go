package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"mapsearch-api/internal/models"

	"github.com/rs/zerolog"
)

var (
	// ErrInvalidPlaceID is returned when a selection carries no suggestion id.
	ErrInvalidPlaceID = errors.New("service: place id cannot be empty")
	// ErrHistoryIndex is returned when a history position does not exist.
	ErrHistoryIndex = errors.New("service: history index out of range")
)

// PlaceRetriever interface for dependency injection
type PlaceRetriever interface {
	Retrieve(ctx context.Context, mapboxID string) (*models.PlaceDetail, error)
}

// HistoryStore keeps the resolved places of each session
type HistoryStore interface {
	Append(ctx context.Context, sessionID string, place models.PlaceDetail) error
	List(ctx context.Context, sessionID string) ([]models.PlaceDetail, error)
	Search(ctx context.Context, sessionID, query string) ([]models.PlaceDetail, error)
	Forget(ctx context.Context, sessionID string) error
}

// DetailResolver owns the active place of one session and records every selection in its history
type DetailResolver struct {
	sessionID string
	retriever PlaceRetriever
	history   HistoryStore
	now       func() time.Time
	log       zerolog.Logger

	// commit orders history appends with active place updates, so the active
	// place is always the entry most recently appended or recentered.
	commit sync.Mutex

	mu     sync.RWMutex
	active models.PlaceDetail
}

// NewDetailResolver creates a resolver whose active place starts at models.DefaultPlace
func NewDetailResolver(sessionID string, retriever PlaceRetriever, history HistoryStore, log zerolog.Logger) *DetailResolver {
	return &DetailResolver{
		sessionID: sessionID,
		retriever: retriever,
		history:   history,
		now:       time.Now,
		log:       log.With().Str("component", "detail_resolver").Str("session_id", sessionID).Logger(),
		active:    models.DefaultPlace,
	}
}

// Resolve retrieves the place behind a suggestion, makes it active and appends it to the history.
// On failure the active place and the history are left unchanged.
func (r *DetailResolver) Resolve(ctx context.Context, mapboxID string) (*models.PlaceDetail, error) {
	if strings.TrimSpace(mapboxID) == "" {
		return nil, ErrInvalidPlaceID
	}

	place, err := r.retriever.Retrieve(ctx, mapboxID)
	if err != nil {
		return nil, fmt.Errorf("service: failed to retrieve place: %w", err)
	}
	if place == nil {
		return nil, fmt.Errorf("service: retriever returned no place for %q", mapboxID)
	}

	resolved := *place
	if resolved.Zoom == 0 {
		resolved.Zoom = models.DefaultZoom
	}
	resolved.ResolvedAt = r.now().UTC()

	r.commit.Lock()
	defer r.commit.Unlock()

	if err := r.history.Append(ctx, r.sessionID, resolved); err != nil {
		return nil, fmt.Errorf("service: failed to record history: %w", err)
	}

	r.mu.Lock()
	r.active = resolved
	r.mu.Unlock()

	r.log.Info().Str("mapbox_id", mapboxID).Str("name", resolved.Name).Msg("place resolved")
	return &resolved, nil
}

// Active returns the place the map is currently centered on
func (r *DetailResolver) Active() models.PlaceDetail {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.active
}

// History returns every resolved place of the session, oldest first
func (r *DetailResolver) History(ctx context.Context) ([]models.PlaceDetail, error) {
	places, err := r.history.List(ctx, r.sessionID)
	if err != nil {
		return nil, fmt.Errorf("service: failed to list history: %w", err)
	}
	return places, nil
}

// SearchHistory finds earlier selections by name or address
func (r *DetailResolver) SearchHistory(ctx context.Context, query string) ([]models.PlaceDetail, error) {
	if strings.TrimSpace(query) == "" {
		return r.History(ctx)
	}

	places, err := r.history.Search(ctx, r.sessionID, query)
	if err != nil {
		return nil, fmt.Errorf("service: failed to search history: %w", err)
	}
	return places, nil
}

// Recenter makes an earlier history entry the active place again without appending to the history
func (r *DetailResolver) Recenter(ctx context.Context, index int) (*models.PlaceDetail, error) {
	r.commit.Lock()
	defer r.commit.Unlock()

	places, err := r.History(ctx)
	if err != nil {
		return nil, err
	}
	if index < 0 || index >= len(places) {
		return nil, fmt.Errorf("%w: %d", ErrHistoryIndex, index)
	}

	place := places[index]

	r.mu.Lock()
	r.active = place
	r.mu.Unlock()

	return &place, nil
}

// Forget drops the session's history from stores that do not outlive the session
func (r *DetailResolver) Forget(ctx context.Context) error {
	if err := r.history.Forget(ctx, r.sessionID); err != nil {
		return fmt.Errorf("service: failed to forget history: %w", err)
	}
	return nil
}
