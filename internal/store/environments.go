package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// CreateEnvironment inserts an environment and materializes a disabled
// overlay for every existing flag of the project, in one transaction.
func (s *Store) CreateEnvironment(ctx context.Context, projectID uuid.UUID, key, name string, production bool, position int) (*Environment, error) {
	if err := validateKey("environment.key", key); err != nil {
		return nil, err
	}
	if name == "" {
		return nil, &ValidationError{Field: "environment.name", Issue: "name is required"}
	}

	env := &Environment{ProjectID: projectID, Key: key, Name: name, Production: production, Position: position}

	err := s.withTx(ctx, func(tx pgx.Tx) error {
		query := `
			INSERT INTO environments (project_id, key, name, production, position)
			VALUES ($1, $2, $3, $4, $5)
			RETURNING id, created_at, updated_at
		`
		err := tx.QueryRow(ctx, query, projectID, key, name, production, position).
			Scan(&env.ID, &env.CreatedAt, &env.UpdatedAt)
		if err != nil {
			return fmt.Errorf("failed to insert environment: %w", translateError(err))
		}

		// New flags start disabled in every environment; the same holds when
		// an environment arrives after the flags.
		_, err = tx.Exec(ctx, `
			INSERT INTO flag_environments (flag_id, environment_id, enabled, percentage)
			SELECT id, $1, false, 0 FROM flags WHERE project_id = $2
		`, env.ID, projectID)
		if err != nil {
			return fmt.Errorf("failed to materialize flag overlays: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return env, nil
}

// ListEnvironments returns the project's environments in position order.
func (s *Store) ListEnvironments(ctx context.Context, projectID uuid.UUID) ([]Environment, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, project_id, key, name, production, position, created_at, updated_at
		FROM environments
		WHERE project_id = $1
		ORDER BY position, key
	`, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to list environments: %w", err)
	}
	defer rows.Close()

	var envs []Environment
	for rows.Next() {
		var e Environment
		if err := rows.Scan(&e.ID, &e.ProjectID, &e.Key, &e.Name, &e.Production, &e.Position, &e.CreatedAt, &e.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan environment row: %w", err)
		}
		envs = append(envs, e)
	}
	return envs, rows.Err()
}

// GetEnvironment loads one environment by key.
func (s *Store) GetEnvironment(ctx context.Context, projectID uuid.UUID, key string) (*Environment, error) {
	var e Environment
	err := s.db.QueryRow(ctx, `
		SELECT id, project_id, key, name, production, position, created_at, updated_at
		FROM environments
		WHERE project_id = $1 AND key = $2
	`, projectID, key).Scan(&e.ID, &e.ProjectID, &e.Key, &e.Name, &e.Production, &e.Position, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to load environment: %w", err)
	}
	return &e, nil
}

// DeleteEnvironment removes an environment and its overlays.
func (s *Store) DeleteEnvironment(ctx context.Context, projectID uuid.UUID, key string) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM environments WHERE project_id = $1 AND key = $2`, projectID, key)
	if err != nil {
		return fmt.Errorf("failed to delete environment: %w", translateError(err))
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
