package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/cuongbtq/refminer-intake/internal/api/model"
	"github.com/cuongbtq/refminer-intake/internal/worker/domain"
	"github.com/jmoiron/sqlx"
)

type Storage struct {
	db *sqlx.DB
}

func NewStorage(db *sqlx.DB) *Storage {
	return &Storage{
		db: db,
	}
}

// GetProjectByGitURL returns domain.ErrProjectNotFound when the repository
// has not been mined
func (s *Storage) GetProjectByGitURL(ctx context.Context, gitURL string) (*model.Project, error) {
	var project model.Project
	query := `
		SELECT id, git_url, dataset_name, processed_at
		FROM project
		WHERE git_url = $1
		ORDER BY id
		LIMIT 1
	`

	err := s.db.GetContext(ctx, &project, query, gitURL)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrProjectNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get project: %w", err)
	}

	return &project, nil
}

type ProjectFilter struct {
	Dataset  string
	PageSize int
	Cursor   *ProjectCursor
}

type ProjectCursor struct {
	ID int64
}

func (s *Storage) ListProjects(ctx context.Context, filter ProjectFilter) ([]model.Project, error) {
	query := `
		SELECT id, git_url, dataset_name, processed_at
		FROM project
		WHERE 1=1
	`
	args := []interface{}{}
	argIdx := 1

	if filter.Dataset != "" {
		query += fmt.Sprintf(" AND dataset_name = $%d", argIdx)
		args = append(args, filter.Dataset)
		argIdx++
	}

	if filter.Cursor != nil {
		query += fmt.Sprintf(" AND id < $%d", argIdx)
		args = append(args, filter.Cursor.ID)
		argIdx++
	}

	// Newest first; one extra row tells the caller whether another page exists
	query += " ORDER BY id DESC"
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, filter.PageSize+1)

	var projects []model.Project
	if err := s.db.SelectContext(ctx, &projects, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list projects: %w", err)
	}

	return projects, nil
}
