package service

import (
	"context"
	"fmt"
	"strings"

	"mapsearch-api/internal/models"
)

// SuggestService validates committed queries before they reach the suggest endpoint
type SuggestService struct {
	client SuggestClient
}

// SuggestClient interface for dependency injection
type SuggestClient interface {
	Suggest(ctx context.Context, query string) ([]models.Suggestion, error)
}

// NewSuggestService creates a new suggest service
func NewSuggestService(client SuggestClient) *SuggestService {
	return &SuggestService{client: client}
}

// Suggest returns candidate locations for a committed query
func (s *SuggestService) Suggest(ctx context.Context, query string) ([]models.Suggestion, error) {
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("service: query cannot be empty")
	}

	suggestions, err := s.client.Suggest(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("service: failed to fetch suggestions: %w", err)
	}

	if suggestions == nil {
		suggestions = []models.Suggestion{}
	}
	return suggestions, nil
}
