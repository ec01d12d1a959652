package sequencer

import "sync"

// Subject holds a single latest value and pushes every new value to its observers.
// A new observer receives the current value immediately, so it never misses the latest input.
type Subject[T any] struct {
	emit sync.Mutex // serializes deliveries so observers see values in Next order

	mu        sync.Mutex
	value     T
	observers map[uint64]func(T)
	nextID    uint64
	closed    bool
}

// NewSubject creates a subject seeded with initial.
func NewSubject[T any](initial T) *Subject[T] {
	return &Subject[T]{
		value:     initial,
		observers: make(map[uint64]func(T)),
	}
}

// Next stores v as the latest value and delivers it to all observers.
// It is a no-op after Close.
func (s *Subject[T]) Next(v T) {
	s.emit.Lock()
	defer s.emit.Unlock()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.value = v
	observers := s.snapshot()
	s.mu.Unlock()

	for _, fn := range observers {
		fn(v)
	}
}

// Value returns the latest value.
func (s *Subject[T]) Value() T {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.value
}

// Subscribe registers fn, replays the current value to it and returns an unsubscribe func.
// Observers must not call Next or Subscribe on the same subject.
func (s *Subject[T]) Subscribe(fn func(T)) (unsubscribe func()) {
	s.emit.Lock()
	defer s.emit.Unlock()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return func() {}
	}
	id := s.nextID
	s.nextID++
	s.observers[id] = fn
	current := s.value
	s.mu.Unlock()

	fn(current)

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.observers, id)
			s.mu.Unlock()
		})
	}
}

// Observers returns the number of registered observers.
func (s *Subject[T]) Observers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.observers)
}

// Close drops all observers. Later calls to Next are ignored.
func (s *Subject[T]) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.observers = make(map[uint64]func(T))
}

func (s *Subject[T]) snapshot() []func(T) {
	observers := make([]func(T), 0, len(s.observers))
	for _, fn := range s.observers {
		observers = append(observers, fn)
	}
	return observers
}
