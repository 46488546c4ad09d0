package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// CreateProject inserts a new project with a generated SDK credential.
func (s *Store) CreateProject(ctx context.Context, key, name string) (*Project, error) {
	if err := validateKey("project.key", key); err != nil {
		return nil, err
	}
	if name == "" {
		return nil, &ValidationError{Field: "project.name", Issue: "name is required"}
	}

	p := &Project{Key: key, Name: name, SDKKey: "sdk-" + uuid.NewString()}

	query := `
		INSERT INTO projects (key, name, sdk_key)
		VALUES ($1, $2, $3)
		RETURNING id, created_at, updated_at
	`
	err := s.db.QueryRow(ctx, query, p.Key, p.Name, p.SDKKey).
		Scan(&p.ID, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to insert project: %w", translateError(err))
	}
	return p, nil
}

// GetProjectByID loads a project by its identifier.
func (s *Store) GetProjectByID(ctx context.Context, id uuid.UUID) (*Project, error) {
	return s.getProject(ctx, `SELECT id, key, name, sdk_key, created_at, updated_at FROM projects WHERE id = $1`, id)
}

// GetProjectByKey loads a project by its key.
func (s *Store) GetProjectByKey(ctx context.Context, key string) (*Project, error) {
	return s.getProject(ctx, `SELECT id, key, name, sdk_key, created_at, updated_at FROM projects WHERE key = $1`, key)
}

// GetProjectBySDKKey resolves the project owning an SDK credential. Used by
// the edge plane to authenticate /sdk requests.
func (s *Store) GetProjectBySDKKey(ctx context.Context, sdkKey string) (*Project, error) {
	return s.getProject(ctx, `SELECT id, key, name, sdk_key, created_at, updated_at FROM projects WHERE sdk_key = $1`, sdkKey)
}

func (s *Store) getProject(ctx context.Context, query string, arg any) (*Project, error) {
	var p Project
	err := s.db.QueryRow(ctx, query, arg).
		Scan(&p.ID, &p.Key, &p.Name, &p.SDKKey, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to load project: %w", err)
	}
	return &p, nil
}
