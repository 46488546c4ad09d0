package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// DueTransition is a pending transition joined with the keys the worker
// needs for invalidation and events.
type DueTransition struct {
	ID                uuid.UUID
	FlagEnvironmentID uuid.UUID
	Kind              TransitionKind
	FireAt            time.Time
	Attempts          int
	ProjectKey        string
	FlagKey           string
	EnvironmentKey    string
}

// DueTransitions returns transitions whose fire time has passed, oldest
// first.
func (s *Store) DueTransitions(ctx context.Context, now time.Time, limit int) ([]DueTransition, error) {
	rows, err := s.db.Query(ctx, `
		SELECT st.id, st.flag_environment_id, st.kind, st.fire_at, st.attempts,
		       p.key, f.key, e.key
		FROM scheduled_transitions st
		JOIN flag_environments fe ON fe.id = st.flag_environment_id
		JOIN flags f ON f.id = fe.flag_id
		JOIN projects p ON p.id = f.project_id
		JOIN environments e ON e.id = fe.environment_id
		WHERE st.fire_at <= $1
		ORDER BY st.fire_at
		LIMIT $2
	`, now, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query due transitions: %w", err)
	}
	defer rows.Close()

	var due []DueTransition
	for rows.Next() {
		var t DueTransition
		if err := rows.Scan(&t.ID, &t.FlagEnvironmentID, &t.Kind, &t.FireAt, &t.Attempts,
			&t.ProjectKey, &t.FlagKey, &t.EnvironmentKey); err != nil {
			return nil, fmt.Errorf("failed to scan due transition: %w", err)
		}
		due = append(due, t)
	}
	return due, rows.Err()
}

// ApplyTransition fires one scheduled transition: re-reads the transition
// under lock, applies enabled := (kind == enable) to the overlay, clears the
// schedule field, deletes the handle and enqueues propagation — one
// transaction. A handle that no longer exists (manual toggle cancelled it,
// or a concurrent worker already fired) is a no-op, which is what makes
// firing idempotent.
func (s *Store) ApplyTransition(ctx context.Context, t DueTransition) error {
	return s.withTx(ctx, func(tx pgx.Tx) error {
		var kind TransitionKind
		err := tx.QueryRow(ctx, `
			SELECT kind FROM scheduled_transitions WHERE id = $1 FOR UPDATE
		`, t.ID).Scan(&kind)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return nil // cancelled or already fired
			}
			return fmt.Errorf("failed to lock transition: %w", err)
		}

		enabled := kind == TransitionEnable
		column := "enable_at"
		if kind == TransitionDisable {
			column = "disable_at"
		}

		// Last-writer-wins on firing time: the overlay is updated even if it
		// was manually changed since scheduling, as long as the handle still
		// exists.
		_, err = tx.Exec(ctx, fmt.Sprintf(`
			UPDATE flag_environments
			SET enabled = $2, %s = NULL, updated_at = now()
			WHERE id = $1
		`, column), t.FlagEnvironmentID, enabled)
		if err != nil {
			return fmt.Errorf("failed to apply transition: %w", err)
		}

		if _, err := tx.Exec(ctx, `DELETE FROM scheduled_transitions WHERE id = $1`, t.ID); err != nil {
			return fmt.Errorf("failed to consume transition handle: %w", err)
		}

		row := OutboxRow{
			ProjectKey:     t.ProjectKey,
			EnvironmentKey: t.EnvironmentKey,
			FlagKey:        t.FlagKey,
			Action:         ActionToggled,
			Enabled:        enabled,
			CacheKeys:      flagCacheKeys(t.ProjectKey, t.FlagKey, t.EnvironmentKey),
		}
		return enqueueOutbox(ctx, tx, row)
	})
}

// RecordTransitionFailure bumps the attempt counter; once maxAttempts is
// reached the handle is abandoned (deleted) and terminal=true is returned so
// the scheduler can log it. Terminal failure never reaches the decision path.
func (s *Store) RecordTransitionFailure(ctx context.Context, id uuid.UUID, maxAttempts int) (terminal bool, err error) {
	var attempts int
	err = s.db.QueryRow(ctx, `
		UPDATE scheduled_transitions SET attempts = attempts + 1 WHERE id = $1
		RETURNING attempts
	`, id).Scan(&attempts)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("failed to record transition failure: %w", err)
	}

	if attempts < maxAttempts {
		return false, nil
	}
	if _, err := s.db.Exec(ctx, `DELETE FROM scheduled_transitions WHERE id = $1`, id); err != nil {
		return true, fmt.Errorf("failed to abandon transition: %w", err)
	}
	return true, nil
}
