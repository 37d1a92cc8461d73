package storage

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jmoiron/sqlx"
)

// Dedup records are rows of the project table, written by the mining pipeline
// once it starts on a repository. The worker only reads them.
const projectExistsQuery = `
	SELECT EXISTS (
		SELECT 1
		FROM project
		WHERE git_url = $1
	)
`

// Storage answers dedup questions for the worker
type Storage struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// NewStorage creates a new Storage instance
func NewStorage(db *sqlx.DB, logger *slog.Logger) *Storage {
	return &Storage{
		db:     db,
		logger: logger,
	}
}

// ProjectExists reports whether a dedup record exists for gitURL
func (s *Storage) ProjectExists(ctx context.Context, gitURL string) (bool, error) {
	var exists bool
	if err := s.db.GetContext(ctx, &exists, projectExistsQuery, gitURL); err != nil {
		return false, fmt.Errorf("failed to check project existence: %w", err)
	}

	s.logger.Debug("Dedup record checked",
		slog.String("git_url", gitURL),
		slog.Bool("exists", exists),
	)

	return exists, nil
}
