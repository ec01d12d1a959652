// Package sequencer turns raw keystroke input into an ordered stream of suggestion lookups.
//
// Submitted text is trimmed, deduplicated against the previous value, filtered by
// a minimum length and debounced. Each value that survives the quiet period is a
// commit: it gets the next sequence number and exactly one lookup. A lookup result
// is applied only while its commit is still the latest one, so a slow response for
// an older query can never overwrite the suggestions of a newer query.
package sequencer

import (
	"context"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"mapsearch-api/internal/models"

	"github.com/rs/zerolog"
)

// Defaults used when a Config field is left zero.
const (
	DefaultMinQueryLength = 2
	DefaultDebounce       = 1200 * time.Millisecond
)

// Suggester performs one outbound suggestion lookup.
type Suggester interface {
	Suggest(ctx context.Context, query string) ([]models.Suggestion, error)
}

// Config holds the pipeline parameters.
type Config struct {
	MinQueryLength int
	Debounce       time.Duration
}

// Update is published to listeners whenever the result of the latest commit arrives.
type Update struct {
	Seq         uint64              `json:"seq"`
	Query       string              `json:"query"`
	Suggestions []models.Suggestion `json:"suggestions,omitempty"`
	Err         error               `json:"-"`
}

// Timer is a pending quiet-period timer.
type Timer interface {
	Stop() bool
}

// Clock schedules quiet-period timers.
type Clock interface {
	AfterFunc(d time.Duration, f func()) Timer
}

type realClock struct{}

func (realClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// Option customizes a Sequencer.
type Option func(*Sequencer)

// WithClock replaces the wall clock used for debouncing.
func WithClock(c Clock) Option {
	return func(s *Sequencer) {
		s.clock = c
	}
}

// Sequencer is safe for concurrent use.
type Sequencer struct {
	cfg       Config
	suggester Suggester
	clock     Clock
	log       zerolog.Logger

	input *Subject[string]

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	notify sync.Mutex // orders listener deliveries; acquired before mu

	mu          sync.Mutex
	started     bool
	stopped     bool
	unsubscribe func()
	hasPrev     bool
	prev        string
	pending     Timer
	generation  uint64
	seq         uint64
	committed   string
	applied     uint64
	suggestions []models.Suggestion
	lastErr     error
	listeners   map[uint64]func(Update)
	nextID      uint64
}

// New creates a sequencer. Call Start before submitting input.
func New(cfg Config, suggester Suggester, log zerolog.Logger, opts ...Option) *Sequencer {
	if cfg.MinQueryLength <= 0 {
		cfg.MinQueryLength = DefaultMinQueryLength
	}
	if cfg.Debounce <= 0 {
		cfg.Debounce = DefaultDebounce
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Sequencer{
		cfg:         cfg,
		suggester:   suggester,
		clock:       realClock{},
		log:         log.With().Str("component", "sequencer").Logger(),
		input:       NewSubject(""),
		ctx:         ctx,
		cancel:      cancel,
		done:        make(chan struct{}),
		suggestions: []models.Suggestion{},
		listeners:   make(map[uint64]func(Update)),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start connects the pipeline to the input source. Calling it again is a no-op.
func (s *Sequencer) Start() {
	s.mu.Lock()
	if s.started || s.stopped {
		s.mu.Unlock()
		return
	}
	s.started = true
	s.mu.Unlock()

	// Subscribe replays the current input synchronously, so s.mu must not be held here.
	unsubscribe := s.input.Subscribe(s.onInput)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		unsubscribe()
		return
	}
	s.unsubscribe = unsubscribe
}

// Submit records the latest raw input. It never issues a lookup by itself.
func (s *Sequencer) Submit(text string) {
	s.input.Next(text)
}

// Input returns the latest raw input.
func (s *Sequencer) Input() string {
	return s.input.Value()
}

// Suggestions returns the current suggestion list and the commit it belongs to.
func (s *Sequencer) Suggestions() ([]models.Suggestion, uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]models.Suggestion, len(s.suggestions))
	copy(out, s.suggestions)
	return out, s.applied
}

// LatestCommit returns the sequence number and text of the most recent commit.
func (s *Sequencer) LatestCommit() (uint64, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.seq, s.committed
}

// LastError returns the failure of the latest commit's lookup, if any.
func (s *Sequencer) LastError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// Subscribe registers fn for applied updates and returns an unsubscribe func.
// fn is called from lookup goroutines and must not block for long.
func (s *Sequencer) Subscribe(fn func(Update)) (unsubscribe func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextID
	s.nextID++
	s.listeners[id] = fn

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.listeners, id)
	}
}

// Stop cancels the pending timer, detaches from the input source and cancels
// in-flight lookups. No lookup is issued afterwards. Stop is idempotent.
func (s *Sequencer) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	if s.pending != nil {
		s.pending.Stop()
		s.pending = nil
	}
	unsubscribe := s.unsubscribe
	s.unsubscribe = nil
	s.listeners = make(map[uint64]func(Update))
	s.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
	s.input.Close()
	s.cancel()
	close(s.done)
}

// Done is closed once Stop has run.
func (s *Sequencer) Done() <-chan struct{} {
	return s.done
}

func (s *Sequencer) onInput(raw string) {
	text := strings.TrimSpace(raw)

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return
	}
	if s.hasPrev && text == s.prev {
		return
	}
	s.hasPrev = true
	s.prev = text

	if utf8.RuneCountInString(text) < s.cfg.MinQueryLength {
		return
	}

	if s.pending != nil {
		s.pending.Stop()
	}
	s.generation++
	generation := s.generation
	s.pending = s.clock.AfterFunc(s.cfg.Debounce, func() {
		s.commit(generation, text)
	})
}

func (s *Sequencer) commit(generation uint64, text string) {
	s.mu.Lock()
	if s.stopped || generation != s.generation {
		s.mu.Unlock()
		return
	}
	s.pending = nil
	s.seq++
	seq := s.seq
	s.committed = text
	s.mu.Unlock()

	s.log.Debug().Uint64("seq", seq).Str("query", text).Msg("query committed")
	go s.lookup(seq, text)
}

func (s *Sequencer) lookup(seq uint64, text string) {
	results, err := s.suggester.Suggest(s.ctx, text)

	s.notify.Lock()
	defer s.notify.Unlock()

	s.mu.Lock()
	if s.stopped || seq != s.seq {
		latest := s.seq
		s.mu.Unlock()
		s.log.Debug().Uint64("seq", seq).Uint64("latest", latest).Msg("discarding stale lookup result")
		return
	}

	update := Update{Seq: seq, Query: text}
	if err != nil {
		s.lastErr = err
		update.Err = err
	} else {
		if results == nil {
			results = []models.Suggestion{}
		}
		s.suggestions = results
		s.applied = seq
		s.lastErr = nil
		update.Suggestions = results
	}
	listeners := make([]func(Update), 0, len(s.listeners))
	for _, fn := range s.listeners {
		listeners = append(listeners, fn)
	}
	s.mu.Unlock()

	if err != nil {
		s.log.Warn().Err(err).Uint64("seq", seq).Str("query", text).Msg("suggestion lookup failed")
	} else {
		s.log.Debug().Uint64("seq", seq).Int("count", len(results)).Msg("suggestions applied")
	}
	for _, fn := range listeners {
		fn(update)
	}
}
