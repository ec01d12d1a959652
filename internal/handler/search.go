package handler

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"mapsearch-api/internal/models"
	"mapsearch-api/internal/sequencer"
	"mapsearch-api/internal/session"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// DefaultKeepAlive is how often an idle event stream is pinged and its session refreshed.
const DefaultKeepAlive = 15 * time.Second

// SessionStore interface for dependency injection
type SessionStore interface {
	Create(id string) (*session.Session, error)
	Get(id string) (*session.Session, error)
	Delete(ctx context.Context, id string) error
}

// SearchHandler handles session lifecycle, keystroke input and suggestion requests
type SearchHandler struct {
	sessions  SessionStore
	keepAlive time.Duration
	log       zerolog.Logger
}

// NewSearchHandler creates a new search handler. A non-positive keepAlive uses DefaultKeepAlive.
func NewSearchHandler(sessions SessionStore, keepAlive time.Duration, log zerolog.Logger) *SearchHandler {
	if keepAlive <= 0 {
		keepAlive = DefaultKeepAlive
	}
	return &SearchHandler{sessions: sessions, keepAlive: keepAlive, log: log}
}

type createSessionRequest struct {
	ID string `json:"id"`
}

type sessionResponse struct {
	ID     string             `json:"id"`
	Place  models.PlaceDetail `json:"place"`
	View   models.MapView     `json:"view"`
	Styles []models.MapStyle  `json:"styles"`
}

type inputRequest struct {
	Text *string `json:"text" binding:"required"`
}

type suggestionsResponse struct {
	Seq         uint64              `json:"seq"`
	Query       string              `json:"query"`
	Suggestions []models.Suggestion `json:"suggestions"`
	Error       string              `json:"error,omitempty"`
}

// CreateSession handles POST /sessions requests
//
//	@Summary	Start a search session, or resume one by id
//	@Tags		sessions
//	@Accept		json
//	@Produce	json
//	@Param		request	body		createSessionRequest	false	"Session id to resume"
//	@Success	201		{object}	sessionResponse
//	@Failure	400	{object}	map[string]string
//	@Router		/sessions [post]
func (h *SearchHandler) CreateSession(c *gin.Context) {
	var req createSessionRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}
	}

	s, err := h.sessions.Create(req.ID)
	if err != nil {
		if errors.Is(err, session.ErrInvalidSessionID) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "session id must be a UUID"})
			return
		}
		h.log.Error().Err(err).Msg("failed to create session")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
		return
	}

	c.JSON(http.StatusCreated, sessionResponse{
		ID:     s.ID,
		Place:  s.Resolver.Active(),
		View:   s.View(),
		Styles: models.Styles,
	})
}

// DeleteSession handles DELETE /sessions/:id requests
//
//	@Summary	End a search session
//	@Tags		sessions
//	@Produce	json
//	@Param		id	path	string	true	"Session id"
//	@Success	204
//	@Failure	404	{object}	map[string]string
//	@Router		/sessions/{id} [delete]
func (h *SearchHandler) DeleteSession(c *gin.Context) {
	err := h.sessions.Delete(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, session.ErrSessionNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
			return
		}
		h.log.Error().Err(err).Str("session_id", c.Param("id")).Msg("failed to delete session")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
		return
	}
	c.Status(http.StatusNoContent)
}

// SubmitInput handles POST /sessions/:id/input requests
//
//	@Summary	Submit the current text of the search box
//	@Tags		search
//	@Accept		json
//	@Produce	json
//	@Param		id		path	string			true	"Session id"
//	@Param		request	body	inputRequest	true	"Current search box text"
//	@Success	202		{object}	map[string]string
//	@Failure	400	{object}	map[string]string
//	@Failure	404	{object}	map[string]string
//	@Router		/sessions/{id}/input [post]
func (h *SearchHandler) SubmitInput(c *gin.Context) {
	s, ok := lookupSession(c, h.sessions)
	if !ok {
		return
	}

	var req inputRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing required field 'text'"})
		return
	}

	s.Sequencer.Submit(*req.Text)
	c.JSON(http.StatusAccepted, gin.H{"input": *req.Text})
}

// Suggestions handles GET /sessions/:id/suggestions requests
//
//	@Summary	Current suggestion list of the session
//	@Tags		search
//	@Produce	json
//	@Param		id	path	string	true	"Session id"
//	@Success	200	{object}	suggestionsResponse
//	@Failure	404	{object}	map[string]string
//	@Router		/sessions/{id}/suggestions [get]
func (h *SearchHandler) Suggestions(c *gin.Context) {
	s, ok := lookupSession(c, h.sessions)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, snapshot(s.Sequencer))
}

// Events handles GET /sessions/:id/events requests by streaming suggestion updates as server-sent events.
// The stream ends when the client goes away or the session is closed; each keepalive refreshes the session.
//
//	@Summary	Stream suggestion updates as server-sent events
//	@Tags		search
//	@Produce	text/event-stream
//	@Param		id	path		string	true	"Session id"
//	@Success	200	{object}	suggestionsResponse
//	@Failure	404	{object}	map[string]string
//	@Router		/sessions/{id}/events [get]
func (h *SearchHandler) Events(c *gin.Context) {
	s, ok := lookupSession(c, h.sessions)
	if !ok {
		return
	}

	updates := make(chan sequencer.Update, 8)
	unsubscribe := s.Sequencer.Subscribe(func(u sequencer.Update) {
		select {
		case updates <- u:
		default:
			h.log.Warn().Str("session_id", s.ID).Uint64("seq", u.Seq).Msg("event stream too slow, dropping update")
		}
	})
	defer unsubscribe()

	keepAlive := time.NewTicker(h.keepAlive)
	defer keepAlive.Stop()

	c.Header("Cache-Control", "no-cache")
	c.Header("X-Accel-Buffering", "no")
	c.SSEvent("suggestions", snapshot(s.Sequencer))
	c.Writer.Flush()

	ctx := c.Request.Context()
	c.Stream(func(w io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case <-s.Sequencer.Done():
			c.SSEvent("closed", gin.H{"reason": "session closed"})
			return false
		case u := <-updates:
			c.SSEvent("suggestions", fromUpdate(u, s.Sequencer))
			return true
		case <-keepAlive.C:
			if _, err := h.sessions.Get(s.ID); err != nil {
				c.SSEvent("closed", gin.H{"reason": "session closed"})
				return false
			}
			c.SSEvent("ping", gin.H{"time": time.Now().UTC()})
			return true
		}
	})
}

func snapshot(seq *sequencer.Sequencer) suggestionsResponse {
	list, applied := seq.Suggestions()
	resp := suggestionsResponse{Seq: applied, Suggestions: list}
	if commit, query := seq.LatestCommit(); commit > 0 {
		resp.Query = query
	}
	if err := seq.LastError(); err != nil {
		resp.Error = "suggestion lookup failed"
	}
	return resp
}

// fromUpdate converts a published update. A failed lookup leaves the list unchanged, so the current list is sent with the error.
func fromUpdate(u sequencer.Update, seq *sequencer.Sequencer) suggestionsResponse {
	resp := suggestionsResponse{Seq: u.Seq, Query: u.Query, Suggestions: u.Suggestions}
	if u.Err != nil {
		resp.Suggestions, _ = seq.Suggestions()
		resp.Error = "suggestion lookup failed"
	}
	if resp.Suggestions == nil {
		resp.Suggestions = []models.Suggestion{}
	}
	return resp
}

func lookupSession(c *gin.Context, sessions SessionStore) (*session.Session, bool) {
	s, err := sessions.Get(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return nil, false
	}
	return s, true
}
