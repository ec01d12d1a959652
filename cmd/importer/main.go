package main

import (
	"context"
	"encoding/csv"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"mapsearch-api/internal/config"
	"mapsearch-api/internal/logger"
	"mapsearch-api/internal/models"
	"mapsearch-api/internal/repository"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

var header = []string{"name", "full_address", "lon", "lat"}

func main() {
	file := flag.String("file", "", "Path to the CSV file to import")
	sessionID := flag.String("session", "", "Session id (UUID) that owns the imported places")
	flag.Parse()

	cfg, err := config.LoadConfig("configs")
	if err != nil {
		log.Fatal().Err(err).Msg("cannot load config")
	}
	logger := logger.New(cfg.LogLevel, cfg.IsDevelopment())

	if *file == "" {
		logger.Fatal().Msg("--file flag is required")
	}
	id, err := uuid.Parse(*sessionID)
	if err != nil {
		logger.Fatal().Str("session", *sessionID).Msg("--session must be a UUID")
	}
	if cfg.DBSource == "" {
		logger.Fatal().Msg("DB_SOURCE is not configured")
	}

	f, err := os.Open(*file)
	if err != nil {
		logger.Fatal().Err(err).Str("file", *file).Msg("cannot open file")
	}
	defer f.Close()

	places, err := parseCSV(f)
	if err != nil {
		logger.Fatal().Err(err).Str("file", *file).Msg("cannot parse CSV")
	}
	logger.Info().Int("records", len(places)).Str("file", *file).Msg("parsed places")

	ctx := context.Background()
	conn, err := pgxpool.New(ctx, cfg.DBSource)
	if err != nil {
		logger.Fatal().Err(err).Msg("cannot connect to db")
	}
	defer conn.Close()

	repo := repository.NewRepository(conn)
	if err := repo.EnsureSchema(ctx); err != nil {
		logger.Fatal().Err(err).Msg("cannot prepare history schema")
	}

	before, err := repo.Count(ctx, id.String())
	if err != nil {
		logger.Fatal().Err(err).Msg("cannot count existing history")
	}

	copied, err := repo.CopyPlaces(ctx, id.String(), places)
	if err != nil {
		logger.Fatal().Err(err).Msg("cannot import places")
	}

	if err := verifyImport(ctx, repo, id.String(), before+len(places)); err != nil {
		logger.Fatal().Err(err).Msg("import verification failed")
	}

	logger.Info().Int64("imported", copied).Str("session_id", id.String()).Msg("import complete")
}

// parseCSV reads name,full_address,lon,lat rows after a header line.
func parseCSV(r io.Reader) ([]models.PlaceDetail, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = len(header)
	reader.TrimLeadingSpace = true

	first, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}
	for i, col := range header {
		if !strings.EqualFold(strings.TrimSpace(first[i]), col) {
			return nil, fmt.Errorf("unexpected header %q, expected %s", strings.Join(first, ","), strings.Join(header, ","))
		}
	}

	places := []models.PlaceDetail{}
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read record: %w", err)
		}

		line, _ := reader.FieldPos(0)

		name := strings.TrimSpace(record[0])
		if name == "" {
			return nil, fmt.Errorf("line %d: name is empty", line)
		}

		lon, err := strconv.ParseFloat(record[2], 64)
		if err != nil {
			return nil, fmt.Errorf("line %d: invalid longitude: %s", line, record[2])
		}
		lat, err := strconv.ParseFloat(record[3], 64)
		if err != nil {
			return nil, fmt.Errorf("line %d: invalid latitude: %s", line, record[3])
		}

		coord := models.Coordinate{Lon: lon, Lat: lat}
		if !coord.Valid() {
			return nil, fmt.Errorf("line %d: coordinate [%v, %v] out of range", line, lon, lat)
		}

		places = append(places, models.PlaceDetail{
			Name:        name,
			FullAddress: strings.TrimSpace(record[1]),
			Coordinates: coord,
			Zoom:        models.DefaultZoom,
		})
	}

	return places, nil
}

func verifyImport(ctx context.Context, repo *repository.Repository, sessionID string, expectedCount int) error {
	count, err := repo.Count(ctx, sessionID)
	if err != nil {
		return err
	}
	if count != expectedCount {
		return fmt.Errorf("record count mismatch: expected %d, got %d", expectedCount, count)
	}
	return nil
}
