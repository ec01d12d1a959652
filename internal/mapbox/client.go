// Package mapbox is a client for the Mapbox Search Box suggest and retrieve endpoints.
package mapbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"mapsearch-api/internal/models"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"
)

const (
	suggestPath  = "/search/searchbox/v1/suggest"
	retrievePath = "/search/searchbox/v1/retrieve/"
)

// ErrNoFeature is returned when a retrieve response carries no usable feature.
var ErrNoFeature = errors.New("mapbox: response contains no usable feature")

// StatusError reports a non-2xx response from the upstream API.
type StatusError struct {
	Endpoint string
	Code     int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("mapbox: %s returned status %d", e.Endpoint, e.Code)
}

// Options configures a Client.
type Options struct {
	BaseURL      string
	AccessToken  string
	SessionToken string
	Limit        int
	Language     string
	Timeout      time.Duration
	RateLimit    rate.Limit
	Burst        int
	HTTPClient   *http.Client
}

// Client talks to the Mapbox Search Box API.
type Client struct {
	baseURL      string
	accessToken  string
	sessionToken string
	limit        int
	language     string

	http    *http.Client
	limiter *rate.Limiter
	group   singleflight.Group
	log     zerolog.Logger
}

// NewClient creates a Mapbox client.
func NewClient(opts Options, log zerolog.Logger) *Client {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 5 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	limit := opts.RateLimit
	if limit <= 0 {
		limit = rate.Inf
	}
	burst := opts.Burst
	if burst <= 0 {
		burst = 1
	}

	if opts.Limit <= 0 {
		opts.Limit = 5
	}
	if opts.Language == "" {
		opts.Language = "en"
	}

	return &Client{
		baseURL:      opts.BaseURL,
		accessToken:  opts.AccessToken,
		sessionToken: opts.SessionToken,
		limit:        opts.Limit,
		language:     opts.Language,
		http:         httpClient,
		limiter:      rate.NewLimiter(limit, burst),
		log:          log.With().Str("component", "mapbox").Logger(),
	}
}

// Suggest returns up to the configured number of suggestions for query.
// A response without a suggestions array yields an empty list.
func (c *Client) Suggest(ctx context.Context, query string) ([]models.Suggestion, error) {
	params := url.Values{}
	params.Set("q", query)
	params.Set("access_token", c.accessToken)
	params.Set("session_token", c.sessionToken)
	params.Set("limit", strconv.Itoa(c.limit))
	params.Set("language", c.language)

	var payload suggestResponse
	if err := c.get(ctx, "suggest", suggestPath, params, &payload); err != nil {
		return nil, err
	}

	suggestions := make([]models.Suggestion, 0, len(payload.Suggestions))
	for _, raw := range payload.Suggestions {
		if raw.MapboxID == "" {
			continue
		}
		suggestions = append(suggestions, models.Suggestion{
			Name:           raw.Name,
			MapboxID:       raw.MapboxID,
			Address:        raw.Address,
			FullAddress:    raw.FullAddress,
			PlaceFormatted: raw.PlaceFormatted,
		})
	}

	c.log.Debug().Str("query", query).Int("count", len(suggestions)).Msg("suggest completed")
	return suggestions, nil
}

// Retrieve resolves a suggestion id into a place. Concurrent calls for the same id share one request.
// The shared request is not tied to any one caller's cancellation; each caller stops waiting when its own ctx is done.
func (c *Client) Retrieve(ctx context.Context, mapboxID string) (*models.PlaceDetail, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("mapbox: retrieve: %w", err)
	}

	shared := context.WithoutCancel(ctx)
	ch := c.group.DoChan(mapboxID, func() (interface{}, error) {
		return c.retrieve(shared, mapboxID)
	})

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("mapbox: retrieve: %w", ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		place := *res.Val.(*models.PlaceDetail)
		return &place, nil
	}
}

func (c *Client) retrieve(ctx context.Context, mapboxID string) (*models.PlaceDetail, error) {
	params := url.Values{}
	params.Set("access_token", c.accessToken)
	params.Set("session_token", c.sessionToken)

	var payload retrieveResponse
	if err := c.get(ctx, "retrieve", retrievePath+url.PathEscape(mapboxID), params, &payload); err != nil {
		return nil, err
	}

	if len(payload.Features) == 0 {
		return nil, ErrNoFeature
	}
	feature := payload.Features[0]
	if len(feature.Geometry.Coordinates) < 2 {
		return nil, ErrNoFeature
	}

	place := &models.PlaceDetail{
		Name:        feature.Properties.Name,
		FullAddress: feature.Properties.FullAddress,
		Coordinates: models.Coordinate{
			Lon: feature.Geometry.Coordinates[0],
			Lat: feature.Geometry.Coordinates[1],
		},
		Zoom: models.DefaultZoom,
	}
	if !place.Coordinates.Valid() {
		return nil, fmt.Errorf("%w: coordinates out of range", ErrNoFeature)
	}

	c.log.Debug().Str("mapbox_id", mapboxID).Str("name", place.Name).Msg("retrieve completed")
	return place, nil
}

func (c *Client) get(ctx context.Context, endpoint, path string, params url.Values, out interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("mapbox: %s rate limit wait: %w", endpoint, err)
	}

	reqURL := fmt.Sprintf("%s%s?%s", c.baseURL, path, params.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return fmt.Errorf("mapbox: failed to build %s request: %w", endpoint, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		c.log.Error().Err(err).Str("endpoint", endpoint).Msg("mapbox request failed")
		return fmt.Errorf("mapbox: %s request failed: %w", endpoint, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.log.Error().Int("status", resp.StatusCode).Str("endpoint", endpoint).Msg("mapbox upstream error")
		return &StatusError{Endpoint: endpoint, Code: resp.StatusCode}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		c.log.Error().Err(err).Str("endpoint", endpoint).Msg("failed to decode mapbox payload")
		return fmt.Errorf("mapbox: failed to decode %s response: %w", endpoint, err)
	}
	return nil
}
