package repository

import (
	"context"
	"fmt"
	"strings"

	"mapsearch-api/internal/models"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const schema = `
	CREATE TABLE IF NOT EXISTS place_history (
		id BIGSERIAL PRIMARY KEY,
		session_id TEXT NOT NULL,
		name TEXT NOT NULL,
		full_address TEXT NOT NULL DEFAULT '',
		longitude DOUBLE PRECISION NOT NULL,
		latitude DOUBLE PRECISION NOT NULL,
		zoom DOUBLE PRECISION NOT NULL,
		resolved_at TIMESTAMPTZ NOT NULL DEFAULT now()
	);
	CREATE INDEX IF NOT EXISTS place_history_session_idx ON place_history (session_id, id);
`

// searchLimit caps the number of search hits, matching the in-memory log.
const searchLimit = 20

// Repository persists place history in PostgreSQL
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository creates a new PostgreSQL repository
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

// EnsureSchema creates the history table and its indexes if they do not exist
func (r *Repository) EnsureSchema(ctx context.Context) error {
	if _, err := r.db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("repository: failed to create schema: %w", err)
	}
	return nil
}

// Append stores a resolved place at the end of the session's history
func (r *Repository) Append(ctx context.Context, sessionID string, place models.PlaceDetail) error {
	sql := `
		INSERT INTO place_history (session_id, name, full_address, longitude, latitude, zoom, resolved_at)
		VALUES ($1, $2, $3, $4, $5, $6, COALESCE($7::timestamptz, now()))
	`

	var resolvedAt interface{}
	if !place.ResolvedAt.IsZero() {
		resolvedAt = place.ResolvedAt
	}

	_, err := r.db.Exec(ctx, sql,
		sessionID,
		place.Name,
		place.FullAddress,
		place.Coordinates.Lon,
		place.Coordinates.Lat,
		place.Zoom,
		resolvedAt,
	)
	if err != nil {
		return fmt.Errorf("repository: failed to append history: %w", err)
	}
	return nil
}

// List returns the session's history in insertion order
func (r *Repository) List(ctx context.Context, sessionID string) ([]models.PlaceDetail, error) {
	sql := `
		SELECT name, full_address, longitude, latitude, zoom, resolved_at
		FROM place_history
		WHERE session_id = $1
		ORDER BY id
	`

	rows, err := r.db.Query(ctx, sql, sessionID)
	if err != nil {
		return nil, fmt.Errorf("repository: failed to execute history query: %w", err)
	}
	return scanPlaces(rows)
}

// Search returns history entries whose name or address contains query, case-insensitively, newest first
func (r *Repository) Search(ctx context.Context, sessionID, query string) ([]models.PlaceDetail, error) {
	sql := `
		SELECT name, full_address, longitude, latitude, zoom, resolved_at
		FROM place_history
		WHERE session_id = $1
			AND (strpos(lower(name), lower($2)) > 0 OR strpos(lower(full_address), lower($2)) > 0)
		ORDER BY id DESC
		LIMIT $3
	`

	rows, err := r.db.Query(ctx, sql, sessionID, strings.TrimSpace(query), searchLimit)
	if err != nil {
		return nil, fmt.Errorf("repository: failed to execute search query: %w", err)
	}
	return scanPlaces(rows)
}

// Forget is a no-op: persisted history outlives the session so it can be resumed
func (r *Repository) Forget(context.Context, string) error {
	return nil
}

// CopyPlaces bulk-loads places into the session's history
func (r *Repository) CopyPlaces(ctx context.Context, sessionID string, places []models.PlaceDetail) (int64, error) {
	n, err := r.db.CopyFrom(
		ctx,
		pgx.Identifier{"place_history"},
		[]string{"session_id", "name", "full_address", "longitude", "latitude", "zoom"},
		pgx.CopyFromSlice(len(places), func(i int) ([]interface{}, error) {
			p := places[i]
			return []interface{}{sessionID, p.Name, p.FullAddress, p.Coordinates.Lon, p.Coordinates.Lat, p.Zoom}, nil
		}),
	)
	if err != nil {
		return 0, fmt.Errorf("repository: failed to copy places: %w", err)
	}
	return n, nil
}

// Count returns the number of history entries for the session
func (r *Repository) Count(ctx context.Context, sessionID string) (int, error) {
	var count int
	err := r.db.QueryRow(ctx, "SELECT COUNT(*) FROM place_history WHERE session_id = $1", sessionID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("repository: failed to count history: %w", err)
	}
	return count, nil
}

func scanPlaces(rows pgx.Rows) ([]models.PlaceDetail, error) {
	defer rows.Close()

	places := []models.PlaceDetail{}
	for rows.Next() {
		var p models.PlaceDetail
		err := rows.Scan(
			&p.Name,
			&p.FullAddress,
			&p.Coordinates.Lon,
			&p.Coordinates.Lat,
			&p.Zoom,
			&p.ResolvedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("repository: failed to scan place: %w", err)
		}
		places = append(places, p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("repository: error iterating rows: %w", err)
	}
	return places, nil
}
