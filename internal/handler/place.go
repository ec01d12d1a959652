package handler

import (
	"errors"
	"net/http"
	"strconv"

	"mapsearch-api/internal/mapbox"
	"mapsearch-api/internal/models"
	"mapsearch-api/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// PlaceHandler handles place selection, history and map view requests
type PlaceHandler struct {
	sessions SessionStore
	log      zerolog.Logger
}

// NewPlaceHandler creates a new place handler
func NewPlaceHandler(sessions SessionStore, log zerolog.Logger) *PlaceHandler {
	return &PlaceHandler{sessions: sessions, log: log}
}

type styleRequest struct {
	Style string `json:"style" binding:"required"`
}

// Select handles POST /sessions/:id/select/:mapboxId requests
//
//	@Summary	Resolve a suggestion into the active place
//	@Tags		places
//	@Produce	json
//	@Param		id			path		string	true	"Session id"
//	@Param		mapboxId	path		string	true	"Suggestion mapbox_id"
//	@Success	200			{object}	models.PlaceDetail
//	@Failure	400			{object}	map[string]string
//	@Failure	404			{object}	map[string]string
//	@Failure	502			{object}	map[string]string
//	@Router		/sessions/{id}/select/{mapboxId} [post]
func (h *PlaceHandler) Select(c *gin.Context) {
	s, ok := lookupSession(c, h.sessions)
	if !ok {
		return
	}

	place, err := s.Resolver.Resolve(c.Request.Context(), c.Param("mapboxId"))
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidPlaceID):
			c.JSON(http.StatusBadRequest, gin.H{"error": "missing suggestion id"})
		case errors.Is(err, mapbox.ErrNoFeature):
			c.JSON(http.StatusNotFound, gin.H{"error": "no place found for the selected suggestion"})
		default:
			h.log.Error().Err(err).Str("session_id", s.ID).Str("mapbox_id", c.Param("mapboxId")).Msg("place resolution failed")
			c.JSON(http.StatusBadGateway, gin.H{"error": "place lookup failed"})
		}
		return
	}

	c.JSON(http.StatusOK, place)
}

// Place handles GET /sessions/:id/place requests
//
//	@Summary	Active place of the session
//	@Tags		places
//	@Produce	json
//	@Param		id	path		string	true	"Session id"
//	@Success	200	{object}	models.PlaceDetail
//	@Failure	404	{object}	map[string]string
//	@Router		/sessions/{id}/place [get]
func (h *PlaceHandler) Place(c *gin.Context) {
	s, ok := lookupSession(c, h.sessions)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, s.Resolver.Active())
}

// History handles GET /sessions/:id/history requests, optionally filtered by ?q=
//
//	@Summary	Places resolved in this session, oldest first
//	@Tags		places
//	@Produce	json
//	@Param		id	path	string	true	"Session id"
//	@Param		q	query	string	false	"Name or address filter"
//	@Success	200	{array}		models.PlaceDetail
//	@Failure	404	{object}	map[string]string
//	@Router		/sessions/{id}/history [get]
func (h *PlaceHandler) History(c *gin.Context) {
	s, ok := lookupSession(c, h.sessions)
	if !ok {
		return
	}

	places, err := s.Resolver.SearchHistory(c.Request.Context(), c.Query("q"))
	if err != nil {
		h.log.Error().Err(err).Str("session_id", s.ID).Msg("history lookup failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
		return
	}
	if places == nil {
		places = []models.PlaceDetail{}
	}

	c.JSON(http.StatusOK, places)
}

// Recenter handles POST /sessions/:id/history/:index/recenter requests
//
//	@Summary	Make a history entry the active place again
//	@Tags		places
//	@Produce	json
//	@Param		id		path		string	true	"Session id"
//	@Param		index	path		int		true	"History position, oldest first"
//	@Success	200		{object}	models.PlaceDetail
//	@Failure	400		{object}	map[string]string
//	@Failure	404		{object}	map[string]string
//	@Router		/sessions/{id}/history/{index}/recenter [post]
func (h *PlaceHandler) Recenter(c *gin.Context) {
	s, ok := lookupSession(c, h.sessions)
	if !ok {
		return
	}

	index, err := strconv.Atoi(c.Param("index"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid history index"})
		return
	}

	place, err := s.Resolver.Recenter(c.Request.Context(), index)
	if err != nil {
		if errors.Is(err, service.ErrHistoryIndex) {
			c.JSON(http.StatusNotFound, gin.H{"error": "history entry not found"})
			return
		}
		h.log.Error().Err(err).Str("session_id", s.ID).Int("index", index).Msg("recenter failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
		return
	}

	c.JSON(http.StatusOK, place)
}

// View handles GET /sessions/:id/view requests
//
//	@Summary	Map center, zoom, style and marker for the renderer
//	@Tags		map
//	@Produce	json
//	@Param		id	path		string	true	"Session id"
//	@Success	200	{object}	models.MapView
//	@Failure	404	{object}	map[string]string
//	@Router		/sessions/{id}/view [get]
func (h *PlaceHandler) View(c *gin.Context) {
	s, ok := lookupSession(c, h.sessions)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, s.View())
}

// SetStyle handles PUT /sessions/:id/style requests
//
//	@Summary	Switch the base map style
//	@Tags		map
//	@Accept		json
//	@Produce	json
//	@Param		id		path		string			true	"Session id"
//	@Param		request	body		styleRequest	true	"Style name"
//	@Success	200		{object}	models.MapView
//	@Failure	400		{object}	map[string]string
//	@Failure	404		{object}	map[string]string
//	@Router		/sessions/{id}/style [put]
func (h *PlaceHandler) SetStyle(c *gin.Context) {
	s, ok := lookupSession(c, h.sessions)
	if !ok {
		return
	}

	var req styleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing required field 'style'"})
		return
	}

	style, err := models.ParseMapStyle(req.Style)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	s.SetStyle(style)
	c.JSON(http.StatusOK, s.View())
}
