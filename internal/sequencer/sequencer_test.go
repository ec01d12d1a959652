package sequencer

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"mapsearch-api/internal/models"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const debounce = 1200 * time.Millisecond

// fakeClock fires timers only when Advance moves past their deadline.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Duration
	timers []*fakeTimer
}

type fakeTimer struct {
	clock   *fakeClock
	at      time.Duration
	fn      func()
	done    bool
	stopped bool
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{clock: c, at: c.now + d, fn: f}
	c.timers = append(c.timers, t)
	return t
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	if t.done || t.stopped {
		return false
	}
	t.stopped = true
	return true
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now += d
	var due []*fakeTimer
	for _, t := range c.timers {
		if !t.done && !t.stopped && t.at <= c.now {
			t.done = true
			due = append(due, t)
		}
	}
	c.mu.Unlock()

	sort.Slice(due, func(i, j int) bool { return due[i].at < due[j].at })
	for _, t := range due {
		t.fn()
	}
}

// stubSuggester records lookups. Queries with a gate block until the gate is closed.
type stubSuggester struct {
	mu      sync.Mutex
	calls   []string
	results map[string][]models.Suggestion
	errs    map[string]error
	gates   map[string]chan struct{}
}

func newStubSuggester() *stubSuggester {
	return &stubSuggester{
		results: make(map[string][]models.Suggestion),
		errs:    make(map[string]error),
		gates:   make(map[string]chan struct{}),
	}
}

func (s *stubSuggester) Suggest(ctx context.Context, query string) ([]models.Suggestion, error) {
	s.mu.Lock()
	s.calls = append(s.calls, query)
	gate := s.gates[query]
	results, err := s.results[query], s.errs[query]
	s.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return results, err
}

func (s *stubSuggester) Calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}

func (s *stubSuggester) gate(query string) chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch := make(chan struct{})
	s.gates[query] = ch
	return ch
}

func suggestion(name string) models.Suggestion {
	return models.Suggestion{Name: name, MapboxID: "id-" + name}
}

func newTestSequencer(t *testing.T, minLen int) (*Sequencer, *stubSuggester, *fakeClock, chan Update) {
	t.Helper()
	stub := newStubSuggester()
	clock := &fakeClock{}
	seq := New(Config{MinQueryLength: minLen, Debounce: debounce}, stub, zerolog.Nop(), WithClock(clock))

	updates := make(chan Update, 16)
	seq.Subscribe(func(u Update) { updates <- u })
	seq.Start()
	t.Cleanup(seq.Stop)

	return seq, stub, clock, updates
}

func waitUpdate(t *testing.T, updates chan Update) Update {
	t.Helper()
	select {
	case u := <-updates:
		return u
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for update")
		return Update{}
	}
}

func TestSequencer_BelowMinimumLengthNeverCommits(t *testing.T) {
	seq, stub, clock, _ := newTestSequencer(t, 2)

	seq.Submit("a")
	clock.Advance(2 * debounce)

	commit, _ := seq.LatestCommit()
	assert.Zero(t, commit)
	assert.Empty(t, stub.Calls())
}

func TestSequencer_CommitAfterQuietPeriod(t *testing.T) {
	seq, stub, clock, updates := newTestSequencer(t, 2)
	stub.results["ab"] = []models.Suggestion{suggestion("Abu Dhabi"), suggestion("Aberdeen")}

	seq.Submit("a")
	seq.Submit("ab")

	clock.Advance(debounce - time.Millisecond)
	commit, _ := seq.LatestCommit()
	assert.Zero(t, commit, "must not commit before the quiet period elapses")

	clock.Advance(time.Millisecond)
	u := waitUpdate(t, updates)

	assert.Equal(t, uint64(1), u.Seq)
	assert.Equal(t, "ab", u.Query)
	assert.NoError(t, u.Err)
	assert.Equal(t, []string{"ab"}, stub.Calls())

	list, applied := seq.Suggestions()
	assert.Equal(t, uint64(1), applied)
	assert.Equal(t, stub.results["ab"], list)
}

func TestSequencer_TrimsAndSuppressesDuplicates(t *testing.T) {
	seq, stub, clock, updates := newTestSequencer(t, 2)

	seq.Submit("kuala")
	clock.Advance(debounce)
	waitUpdate(t, updates)

	seq.Submit("  kuala ")
	seq.Submit("kuala\t")
	clock.Advance(2 * debounce)

	commit, query := seq.LatestCommit()
	assert.Equal(t, uint64(1), commit)
	assert.Equal(t, "kuala", query)
	assert.Equal(t, []string{"kuala"}, stub.Calls())
}

func TestSequencer_RapidInputCommitsOnlyLatest(t *testing.T) {
	seq, stub, clock, updates := newTestSequencer(t, 2)
	stub.results["kuala lumpur"] = []models.Suggestion{suggestion("Kuala Lumpur")}

	seq.Submit("kuala")
	clock.Advance(500 * time.Millisecond)
	seq.Submit("kuala lumpur")
	clock.Advance(debounce)

	u := waitUpdate(t, updates)
	assert.Equal(t, "kuala lumpur", u.Query)
	assert.Equal(t, []string{"kuala lumpur"}, stub.Calls())

	commit, _ := seq.LatestCommit()
	assert.Equal(t, uint64(1), commit)
}

func TestSequencer_ShortValueDoesNotCancelPendingCommit(t *testing.T) {
	seq, stub, clock, updates := newTestSequencer(t, 4)

	seq.Submit("penang")
	clock.Advance(500 * time.Millisecond)
	seq.Submit("pen")
	clock.Advance(debounce)

	u := waitUpdate(t, updates)
	assert.Equal(t, "penang", u.Query)
	assert.Equal(t, []string{"penang"}, stub.Calls())
}

func TestSequencer_OutOfOrderResponsesKeepLatest(t *testing.T) {
	seq, stub, clock, updates := newTestSequencer(t, 2)
	stub.results["kuala"] = []models.Suggestion{suggestion("Kuala Terengganu")}
	stub.results["kuala lumpur"] = []models.Suggestion{suggestion("Kuala Lumpur")}
	releaseFirst := stub.gate("kuala")
	releaseSecond := stub.gate("kuala lumpur")

	seq.Submit("kuala")
	clock.Advance(debounce)
	seq.Submit("kuala lumpur")
	clock.Advance(debounce)

	require.Eventually(t, func() bool { return len(stub.Calls()) == 2 }, time.Second, 5*time.Millisecond)

	close(releaseSecond)
	u := waitUpdate(t, updates)
	assert.Equal(t, uint64(2), u.Seq)

	close(releaseFirst)
	assert.Never(t, func() bool { return len(updates) > 0 }, 100*time.Millisecond, 10*time.Millisecond)

	list, applied := seq.Suggestions()
	assert.Equal(t, uint64(2), applied)
	assert.Equal(t, []models.Suggestion{suggestion("Kuala Lumpur")}, list)
}

func TestSequencer_StaleResponseArrivingFirstIsDiscarded(t *testing.T) {
	seq, stub, clock, updates := newTestSequencer(t, 2)
	stub.results["kuala"] = []models.Suggestion{suggestion("Kuala Terengganu")}
	stub.results["kuala lumpur"] = []models.Suggestion{suggestion("Kuala Lumpur")}
	releaseFirst := stub.gate("kuala")

	seq.Submit("kuala")
	clock.Advance(debounce)
	require.Eventually(t, func() bool { return len(stub.Calls()) == 1 }, time.Second, 5*time.Millisecond)

	releaseSecond := stub.gate("kuala lumpur")
	seq.Submit("kuala lumpur")
	clock.Advance(debounce)
	require.Eventually(t, func() bool { return len(stub.Calls()) == 2 }, time.Second, 5*time.Millisecond)

	close(releaseFirst)
	assert.Never(t, func() bool { return len(updates) > 0 }, 100*time.Millisecond, 10*time.Millisecond)
	list, applied := seq.Suggestions()
	assert.Zero(t, applied)
	assert.Empty(t, list)

	close(releaseSecond)
	u := waitUpdate(t, updates)
	assert.Equal(t, "kuala lumpur", u.Query)
}

func TestSequencer_FailureKeepsStateAndRecovers(t *testing.T) {
	seq, stub, clock, updates := newTestSequencer(t, 2)
	stub.results["ipoh"] = []models.Suggestion{suggestion("Ipoh")}
	stub.errs["ipoh perak"] = assert.AnError
	stub.results["melaka"] = []models.Suggestion{suggestion("Melaka")}

	seq.Submit("ipoh")
	clock.Advance(debounce)
	waitUpdate(t, updates)

	seq.Submit("ipoh perak")
	clock.Advance(debounce)
	u := waitUpdate(t, updates)
	assert.ErrorIs(t, u.Err, assert.AnError)
	assert.ErrorIs(t, seq.LastError(), assert.AnError)

	list, applied := seq.Suggestions()
	assert.Equal(t, uint64(1), applied)
	assert.Equal(t, []models.Suggestion{suggestion("Ipoh")}, list)

	seq.Submit("melaka")
	clock.Advance(debounce)
	u = waitUpdate(t, updates)
	assert.NoError(t, u.Err)
	assert.NoError(t, seq.LastError())

	list, applied = seq.Suggestions()
	assert.Equal(t, uint64(3), applied)
	assert.Equal(t, []models.Suggestion{suggestion("Melaka")}, list)
}

func TestSequencer_StopBeforeQuietPeriodIssuesNothing(t *testing.T) {
	seq, stub, clock, _ := newTestSequencer(t, 2)

	seq.Submit("kuala")
	seq.Stop()
	clock.Advance(2 * debounce)

	seq.Submit("kuala lumpur")
	clock.Advance(2 * debounce)

	commit, _ := seq.LatestCommit()
	assert.Zero(t, commit)
	assert.Empty(t, stub.Calls())
}

func TestSequencer_StopDiscardsInFlightResult(t *testing.T) {
	seq, stub, clock, updates := newTestSequencer(t, 2)
	stub.gate("kuala")

	seq.Submit("kuala")
	clock.Advance(debounce)
	require.Eventually(t, func() bool { return len(stub.Calls()) == 1 }, time.Second, 5*time.Millisecond)

	seq.Stop()
	assert.Never(t, func() bool { return len(updates) > 0 }, 100*time.Millisecond, 10*time.Millisecond)
}

func TestSequencer_StopWithoutStartIsNoop(t *testing.T) {
	seq := New(Config{}, newStubSuggester(), zerolog.Nop())
	assert.NotPanics(t, func() {
		seq.Stop()
		seq.Stop()
	})
}

func TestSequencer_SubmitBeforeStartIsReplayed(t *testing.T) {
	stub := newStubSuggester()
	clock := &fakeClock{}
	seq := New(Config{MinQueryLength: 2, Debounce: debounce}, stub, zerolog.Nop(), WithClock(clock))
	t.Cleanup(seq.Stop)

	updates := make(chan Update, 1)
	seq.Subscribe(func(u Update) { updates <- u })

	seq.Submit("georgetown")
	seq.Start()
	clock.Advance(debounce)

	u := waitUpdate(t, updates)
	assert.Equal(t, "georgetown", u.Query)
}

func TestSequencer_MinimumLengthCountsRunes(t *testing.T) {
	seq, stub, clock, updates := newTestSequencer(t, 2)

	seq.Submit("東")
	clock.Advance(debounce)
	assert.Empty(t, stub.Calls())

	seq.Submit("東京")
	clock.Advance(debounce)
	u := waitUpdate(t, updates)
	assert.Equal(t, "東京", u.Query)
}

func TestSequencer_RealClock(t *testing.T) {
	stub := newStubSuggester()
	stub.results["shah alam"] = []models.Suggestion{suggestion("Shah Alam")}
	seq := New(Config{MinQueryLength: 2, Debounce: 20 * time.Millisecond}, stub, zerolog.Nop())
	seq.Start()
	t.Cleanup(seq.Stop)

	seq.Submit("shah")
	seq.Submit("shah alam")

	require.Eventually(t, func() bool {
		_, applied := seq.Suggestions()
		return applied == 1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"shah alam"}, stub.Calls())
}

func TestSequencer_ZeroConfigUsesDefaults(t *testing.T) {
	stub := newStubSuggester()
	clock := &fakeClock{}
	seq := New(Config{}, stub, zerolog.Nop(), WithClock(clock))
	seq.Start()
	t.Cleanup(seq.Stop)

	assert.Equal(t, DefaultMinQueryLength, seq.cfg.MinQueryLength)
	assert.Equal(t, DefaultDebounce, seq.cfg.Debounce)

	seq.Submit("ab")
	clock.Advance(DefaultDebounce - time.Millisecond)
	commit, _ := seq.LatestCommit()
	assert.Zero(t, commit, "no commit before the default quiet period")

	clock.Advance(time.Millisecond)
	commit, query := seq.LatestCommit()
	assert.Equal(t, uint64(1), commit)
	assert.Equal(t, "ab", query)
}

func TestSequencer_DoneClosedByStop(t *testing.T) {
	seq, _, _, _ := newTestSequencer(t, 2)

	select {
	case <-seq.Done():
		t.Fatal("done before stop")
	default:
	}

	seq.Stop()
	select {
	case <-seq.Done():
	case <-time.After(time.Second):
		t.Fatal("done not closed after stop")
	}
	assert.NotPanics(t, seq.Stop)
}
