// Package session holds the search state of each connected browser tab.
package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"mapsearch-api/internal/models"
	"mapsearch-api/internal/sequencer"
	"mapsearch-api/internal/service"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

var (
	ErrSessionNotFound  = errors.New("session: not found")
	ErrInvalidSessionID = errors.New("session: id must be a UUID")
)

// Session is one tab's search pipeline, active place and map style.
type Session struct {
	ID        string
	Sequencer *sequencer.Sequencer
	Resolver  *service.DetailResolver
	CreatedAt time.Time

	mu       sync.RWMutex
	style    models.MapStyle
	lastSeen time.Time
}

// Style returns the selected base map style.
func (s *Session) Style() models.MapStyle {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.style
}

// SetStyle switches the base map style.
func (s *Session) SetStyle(style models.MapStyle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.style = style
}

// View is the map state the renderer should display.
func (s *Session) View() models.MapView {
	return models.NewMapView(s.Resolver.Active(), s.Style())
}

// LastSeen returns when the session was last used.
func (s *Session) LastSeen() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastSeen
}

func (s *Session) touch(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastSeen = now
}

// Config controls session construction and expiry.
type Config struct {
	Sequencer sequencer.Config
	TTL       time.Duration
}

// Manager creates, looks up and expires sessions.
type Manager struct {
	cfg       Config
	suggester sequencer.Suggester
	retriever service.PlaceRetriever
	history   service.HistoryStore
	seqOpts   []sequencer.Option
	log       zerolog.Logger
	now       func() time.Time

	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewManager creates a session manager. seqOpts are passed to every sequencer it builds.
func NewManager(cfg Config, suggester sequencer.Suggester, retriever service.PlaceRetriever, history service.HistoryStore, log zerolog.Logger, seqOpts ...sequencer.Option) *Manager {
	return &Manager{
		cfg:       cfg,
		suggester: suggester,
		retriever: retriever,
		history:   history,
		seqOpts:   seqOpts,
		log:       log.With().Str("component", "session").Logger(),
		now:       time.Now,
		sessions:  make(map[string]*Session),
	}
}

// Create starts a new session. A non-empty id resumes that session, or recreates it
// on top of its persisted history when it is no longer in memory.
func (m *Manager) Create(id string) (*Session, error) {
	if id == "" {
		id = uuid.NewString()
	} else {
		parsed, err := uuid.Parse(id)
		if err != nil {
			return nil, ErrInvalidSessionID
		}
		id = parsed.String()
	}

	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.sessions[id]; ok {
		existing.touch(now)
		return existing, nil
	}

	seq := sequencer.New(m.cfg.Sequencer, m.suggester, m.log.With().Str("session_id", id).Logger(), m.seqOpts...)
	seq.Start()

	s := &Session{
		ID:        id,
		Sequencer: seq,
		Resolver:  service.NewDetailResolver(id, m.retriever, m.history, m.log),
		CreatedAt: now,
		style:     models.DefaultStyle,
		lastSeen:  now,
	}
	m.sessions[id] = s

	m.log.Info().Str("session_id", id).Msg("session created")
	return s, nil
}

// Get returns a live session and marks it as used.
func (m *Manager) Get(id string) (*Session, error) {
	m.mu.RLock()
	s, ok := m.sessions[id]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrSessionNotFound
	}
	s.touch(m.now())
	return s, nil
}

// Delete tears a session down.
func (m *Manager) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	s, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()

	if !ok {
		return ErrSessionNotFound
	}
	return m.teardown(ctx, s)
}

// Len returns the number of live sessions.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Sweep tears down sessions idle for longer than the configured TTL and returns how many were removed.
func (m *Manager) Sweep(ctx context.Context) int {
	if m.cfg.TTL <= 0 {
		return 0
	}
	cutoff := m.now().Add(-m.cfg.TTL)

	var expired []*Session
	m.mu.Lock()
	for id, s := range m.sessions {
		if s.LastSeen().Before(cutoff) {
			expired = append(expired, s)
			delete(m.sessions, id)
		}
	}
	m.mu.Unlock()

	for _, s := range expired {
		if err := m.teardown(ctx, s); err != nil {
			m.log.Warn().Err(err).Str("session_id", s.ID).Msg("session teardown failed")
		}
	}
	if len(expired) > 0 {
		m.log.Info().Int("expired", len(expired)).Msg("idle sessions swept")
	}
	return len(expired)
}

// Run sweeps idle sessions every interval until ctx is done.
func (m *Manager) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Sweep(ctx)
		}
	}
}

// Close tears down every session.
func (m *Manager) Close(ctx context.Context) {
	m.mu.Lock()
	sessions := m.sessions
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()

	for _, s := range sessions {
		if err := m.teardown(ctx, s); err != nil {
			m.log.Warn().Err(err).Str("session_id", s.ID).Msg("session teardown failed")
		}
	}
}

func (m *Manager) teardown(ctx context.Context, s *Session) error {
	s.Sequencer.Stop()
	if err := s.Resolver.Forget(ctx); err != nil {
		return err
	}
	m.log.Info().Str("session_id", s.ID).Msg("session closed")
	return nil
}
