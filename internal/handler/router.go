package handler

import (
	"net/http"
	"time"

	_ "mapsearch-api/docs"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
)

// RouterConfig carries what the HTTP layer needs from the application.
type RouterConfig struct {
	Sessions       SessionStore
	AllowedOrigins []string
	KeepAlive      time.Duration
	Log            zerolog.Logger
}

// NewRouter wires every route onto a gin engine.
func NewRouter(cfg RouterConfig) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), RequestLogger(cfg.Log), cors.New(corsConfig(cfg.AllowedOrigins)))

	r.GET("/health", Health)
	r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	search := NewSearchHandler(cfg.Sessions, cfg.KeepAlive, cfg.Log)
	place := NewPlaceHandler(cfg.Sessions, cfg.Log)

	r.POST("/sessions", search.CreateSession)

	sessions := r.Group("/sessions/:id")
	sessions.DELETE("", search.DeleteSession)
	sessions.POST("/input", search.SubmitInput)
	sessions.GET("/suggestions", search.Suggestions)
	sessions.GET("/events", search.Events)
	sessions.POST("/select/:mapboxId", place.Select)
	sessions.GET("/place", place.Place)
	sessions.GET("/history", place.History)
	sessions.POST("/history/:index/recenter", place.Recenter)
	sessions.GET("/view", place.View)
	sessions.PUT("/style", place.SetStyle)

	return r
}

// Health handles GET /health requests
//
//	@Summary	Liveness check
//	@Tags		health
//	@Produce	json
//	@Success	200	{object}	map[string]string
//	@Router		/health [get]
func Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
	})
}

// RequestLogger logs one line per request, at warn for 4xx and error for 5xx responses.
func RequestLogger(log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		evt := log.Info()
		switch {
		case status >= http.StatusInternalServerError:
			evt = log.Error()
		case status >= http.StatusBadRequest:
			evt = log.Warn()
		}
		evt.Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Str("route", c.FullPath()).
			Int("status", status).
			Dur("latency", time.Since(start)).
			Str("client_ip", c.ClientIP()).
			Msg("http_request")
	}
}

func corsConfig(origins []string) cors.Config {
	cfg := cors.Config{
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowHeaders: []string{"Origin", "Content-Type", "Accept"},
		MaxAge:       12 * time.Hour,
	}
	if len(origins) == 0 {
		cfg.AllowAllOrigins = true
	} else {
		cfg.AllowOrigins = origins
	}
	return cfg
}
