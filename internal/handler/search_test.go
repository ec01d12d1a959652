package handler

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"mapsearch-api/internal/history"
	"mapsearch-api/internal/models"
	"mapsearch-api/internal/sequencer"
	"mapsearch-api/internal/session"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockSuggester is a mock implementation of the sequencer.Suggester interface
type MockSuggester struct {
	mock.Mock
}

func (m *MockSuggester) Suggest(ctx context.Context, query string) ([]models.Suggestion, error) {
	args := m.Called(ctx, query)
	suggestions, _ := args.Get(0).([]models.Suggestion)
	return suggestions, args.Error(1)
}

// MockRetriever is a mock implementation of the service.PlaceRetriever interface
type MockRetriever struct {
	mock.Mock
}

func (m *MockRetriever) Retrieve(ctx context.Context, mapboxID string) (*models.PlaceDetail, error) {
	args := m.Called(ctx, mapboxID)
	place, _ := args.Get(0).(*models.PlaceDetail)
	return place, args.Error(1)
}

func newTestRouter(t *testing.T, suggester sequencer.Suggester, retriever *MockRetriever) (*gin.Engine, *session.Manager) {
	t.Helper()
	return newTestRouterWith(t, suggester, retriever, time.Minute, 0)
}

func newTestRouterWith(t *testing.T, suggester sequencer.Suggester, retriever *MockRetriever, ttl, keepAlive time.Duration) (*gin.Engine, *session.Manager) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	manager := session.NewManager(session.Config{
		Sequencer: sequencer.Config{MinQueryLength: 2, Debounce: time.Millisecond},
		TTL:       ttl,
	}, suggester, retriever, history.NewLog(0), zerolog.Nop())
	t.Cleanup(func() { manager.Close(context.Background()) })

	return NewRouter(RouterConfig{Sessions: manager, KeepAlive: keepAlive, Log: zerolog.Nop()}), manager
}

// sseEvent is one decoded server-sent event.
type sseEvent struct {
	name string
	data string
}

// openEvents connects to the session's event stream on a live server.
func openEvents(t *testing.T, r http.Handler, sessionID string) (func() (sseEvent, bool), context.CancelFunc) {
	t.Helper()
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/sessions/"+sessionID+"/events", nil)
	require.NoError(t, err)
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/event-stream")

	scanner := bufio.NewScanner(resp.Body)
	next := func() (sseEvent, bool) {
		var evt sseEvent
		for scanner.Scan() {
			line := scanner.Text()
			switch {
			case strings.HasPrefix(line, "event:"):
				evt.name = strings.TrimPrefix(line, "event:")
			case strings.HasPrefix(line, "data:"):
				evt.data = strings.TrimPrefix(line, "data:")
			case line == "" && evt.name != "":
				return evt, true
			}
		}
		return evt, false
	}
	return next, cancel
}

func perform(r http.Handler, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) interface{} {
	t.Helper()
	var body interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

func TestSearchHandler_CreateSession(t *testing.T) {
	existing := uuid.NewString()

	tests := []struct {
		name           string
		body           string
		expectedStatus int
		expectedID     string
		expectedBody   interface{}
	}{
		{
			name:           "new session",
			expectedStatus: http.StatusCreated,
		},
		{
			name:           "resume by id",
			body:           `{"id":"` + existing + `"}`,
			expectedStatus: http.StatusCreated,
			expectedID:     existing,
		},
		{
			name:           "invalid id",
			body:           `{"id":"tab-1"}`,
			expectedStatus: http.StatusBadRequest,
			expectedBody:   map[string]interface{}{"error": "session id must be a UUID"},
		},
		{
			name:           "malformed body",
			body:           `{"id":`,
			expectedStatus: http.StatusBadRequest,
			expectedBody:   map[string]interface{}{"error": "invalid request body"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, _ := newTestRouter(t, new(MockSuggester), new(MockRetriever))

			w := perform(r, http.MethodPost, "/sessions", tt.body)

			assert.Equal(t, tt.expectedStatus, w.Code)
			if tt.expectedBody != nil {
				assert.Equal(t, tt.expectedBody, decodeBody(t, w))
				return
			}

			var resp sessionResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			if tt.expectedID != "" {
				assert.Equal(t, tt.expectedID, resp.ID)
			} else {
				_, err := uuid.Parse(resp.ID)
				assert.NoError(t, err)
			}
			assert.Equal(t, models.DefaultPlace.Name, resp.Place.Name)
			assert.Equal(t, models.DefaultStyle, resp.View.Style)
			assert.Equal(t, models.Styles, resp.Styles)
		})
	}
}

func TestSearchHandler_DeleteSession(t *testing.T) {
	r, manager := newTestRouter(t, new(MockSuggester), new(MockRetriever))
	s, err := manager.Create("")
	require.NoError(t, err)

	w := perform(r, http.MethodDelete, "/sessions/"+s.ID, "")
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Zero(t, manager.Len())

	w = perform(r, http.MethodDelete, "/sessions/"+s.ID, "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, map[string]interface{}{"error": "session not found"}, decodeBody(t, w))
}

func TestSearchHandler_SubmitInput(t *testing.T) {
	tests := []struct {
		name           string
		unknownSession bool
		body           string
		expectedStatus int
		expectedBody   interface{}
	}{
		{
			name:           "accepted",
			body:           `{"text":"k"}`,
			expectedStatus: http.StatusAccepted,
			expectedBody:   map[string]interface{}{"input": "k"},
		},
		{
			name:           "cleared input",
			body:           `{"text":""}`,
			expectedStatus: http.StatusAccepted,
			expectedBody:   map[string]interface{}{"input": ""},
		},
		{
			name:           "missing text",
			body:           `{}`,
			expectedStatus: http.StatusBadRequest,
			expectedBody:   map[string]interface{}{"error": "missing required field 'text'"},
		},
		{
			name:           "unknown session",
			unknownSession: true,
			body:           `{"text":"kuala"}`,
			expectedStatus: http.StatusNotFound,
			expectedBody:   map[string]interface{}{"error": "session not found"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, manager := newTestRouter(t, new(MockSuggester), new(MockRetriever))
			id := uuid.NewString()
			if !tt.unknownSession {
				s, err := manager.Create("")
				require.NoError(t, err)
				id = s.ID
			}

			w := perform(r, http.MethodPost, "/sessions/"+id+"/input", tt.body)

			assert.Equal(t, tt.expectedStatus, w.Code)
			assert.Equal(t, tt.expectedBody, decodeBody(t, w))
		})
	}
}

func TestSearchHandler_InputToSuggestions(t *testing.T) {
	suggester := new(MockSuggester)
	suggester.On("Suggest", mock.Anything, "kuala lumpur").Return([]models.Suggestion{
		{Name: "Kuala Lumpur", MapboxID: "dXJuOm1ieHBsYzo", PlaceFormatted: "Malaysia"},
	}, nil).Once()

	r, manager := newTestRouter(t, suggester, new(MockRetriever))
	s, err := manager.Create("")
	require.NoError(t, err)

	w := perform(r, http.MethodPost, "/sessions/"+s.ID+"/input", `{"text":"  kuala lumpur  "}`)
	require.Equal(t, http.StatusAccepted, w.Code)

	var resp suggestionsResponse
	require.Eventually(t, func() bool {
		w := perform(r, http.MethodGet, "/sessions/"+s.ID+"/suggestions", "")
		if w.Code != http.StatusOK {
			return false
		}
		resp = suggestionsResponse{}
		return json.Unmarshal(w.Body.Bytes(), &resp) == nil && resp.Seq == 1
	}, 2*time.Second, 10*time.Millisecond)

	assert.Equal(t, "kuala lumpur", resp.Query)
	require.Len(t, resp.Suggestions, 1)
	assert.Equal(t, "dXJuOm1ieHBsYzo", resp.Suggestions[0].MapboxID)
	assert.Empty(t, resp.Error)
	suggester.AssertExpectations(t)
}

func TestSearchHandler_SuggestionsAfterFailure(t *testing.T) {
	suggester := new(MockSuggester)
	suggester.On("Suggest", mock.Anything, "kuala").Return(nil, assert.AnError).Once()

	r, manager := newTestRouter(t, suggester, new(MockRetriever))
	s, err := manager.Create("")
	require.NoError(t, err)

	s.Sequencer.Submit("kuala")
	require.Eventually(t, func() bool { return s.Sequencer.LastError() != nil }, 2*time.Second, 10*time.Millisecond)

	w := perform(r, http.MethodGet, "/sessions/"+s.ID+"/suggestions", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, map[string]interface{}{
		"seq":         float64(0),
		"query":       "kuala",
		"suggestions": []interface{}{},
		"error":       "suggestion lookup failed",
	}, decodeBody(t, w))
}

func TestSearchHandler_Events(t *testing.T) {
	suggester := new(MockSuggester)
	suggester.On("Suggest", mock.Anything, "ipoh").Return([]models.Suggestion{
		{Name: "Ipoh", MapboxID: "ipoh-1", FullAddress: "Ipoh, Perak", Address: "Ipoh"},
	}, nil).Once()

	r, manager := newTestRouter(t, suggester, new(MockRetriever))
	s, err := manager.Create("")
	require.NoError(t, err)

	next, _ := openEvents(t, r, s.ID)
	decode := func() suggestionsResponse {
		t.Helper()
		evt, ok := next()
		require.True(t, ok, "event stream closed")
		require.Equal(t, "suggestions", evt.name)
		var got suggestionsResponse
		require.NoError(t, json.Unmarshal([]byte(evt.data), &got))
		return got
	}

	initial := decode()
	assert.Zero(t, initial.Seq)
	assert.Empty(t, initial.Suggestions)

	s.Sequencer.Submit("ipoh")

	update := decode()
	assert.Equal(t, uint64(1), update.Seq)
	assert.Equal(t, "ipoh", update.Query)
	require.Len(t, update.Suggestions, 1)
	assert.Equal(t, "Ipoh", update.Suggestions[0].Description())
}

func TestSearchHandler_EventsEndWhenSessionDeleted(t *testing.T) {
	r, manager := newTestRouter(t, new(MockSuggester), new(MockRetriever))
	s, err := manager.Create("")
	require.NoError(t, err)

	next, _ := openEvents(t, r, s.ID)
	evt, ok := next()
	require.True(t, ok)
	require.Equal(t, "suggestions", evt.name)

	require.NoError(t, manager.Delete(context.Background(), s.ID))

	done := make(chan sseEvent, 1)
	go func() {
		evt, _ := next()
		for {
			if _, more := next(); !more {
				break
			}
		}
		done <- evt
	}()

	select {
	case evt := <-done:
		assert.Equal(t, "closed", evt.name)
	case <-time.After(2 * time.Second):
		t.Fatal("event stream still open after the session was deleted")
	}
}

func TestSearchHandler_EventsKeepSessionAlive(t *testing.T) {
	const ttl = 200 * time.Millisecond
	r, manager := newTestRouterWith(t, new(MockSuggester), new(MockRetriever), ttl, 20*time.Millisecond)
	s, err := manager.Create("")
	require.NoError(t, err)

	next, _ := openEvents(t, r, s.ID)
	evt, ok := next()
	require.True(t, ok)
	require.Equal(t, "suggestions", evt.name)

	deadline := time.Now().Add(2 * ttl)
	for time.Now().Before(deadline) {
		evt, ok := next()
		require.True(t, ok)
		assert.Equal(t, "ping", evt.name)
	}

	assert.Zero(t, manager.Sweep(context.Background()), "a listening tab must not be swept")
	_, err = manager.Get(s.ID)
	assert.NoError(t, err)
}

func TestSearchHandler_EventsUnknownSession(t *testing.T) {
	r, _ := newTestRouter(t, new(MockSuggester), new(MockRetriever))

	w := perform(r, http.MethodGet, "/sessions/"+uuid.NewString()+"/events", "")

	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, map[string]interface{}{"error": "session not found"}, decodeBody(t, w))
}
