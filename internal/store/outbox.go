package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/dmfontes/skuld/internal/cache"
)

// enqueueOutbox inserts one propagation row inside the caller's transaction.
// The row commits or rolls back with the domain mutation; there is no path
// where the mutation lands without its invalidation token.
func enqueueOutbox(ctx context.Context, tx pgx.Tx, row OutboxRow) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO outbox (project_key, environment_key, flag_key, action, enabled, cache_keys)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, row.ProjectKey, row.EnvironmentKey, row.FlagKey, row.Action, row.Enabled, row.CacheKeys)
	if err != nil {
		return fmt.Errorf("failed to enqueue outbox row: %w", err)
	}
	return nil
}

// flagCacheKeys returns the snapshot key and the project-env bootstrap key
// affected by a write to (project, flag, env).
func flagCacheKeys(projectKey, flagKey, envKey string) []string {
	return []string{
		cache.SnapshotKey(projectKey, flagKey, envKey),
		cache.BootstrapKey(projectKey, envKey),
	}
}

// UnprocessedOutbox returns up to limit pending rows in id order. Id order is
// what gives the change bus its per-project FIFO property.
func (s *Store) UnprocessedOutbox(ctx context.Context, limit int) ([]OutboxRow, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, project_key, environment_key, flag_key, action, enabled, cache_keys, created_at
		FROM outbox
		WHERE processed_at IS NULL
		ORDER BY id
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query outbox: %w", err)
	}
	defer rows.Close()

	var out []OutboxRow
	for rows.Next() {
		var r OutboxRow
		if err := rows.Scan(&r.ID, &r.ProjectKey, &r.EnvironmentKey, &r.FlagKey, &r.Action, &r.Enabled, &r.CacheKeys, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan outbox row: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// MarkOutboxProcessed stamps the given rows as drained. Marking happens after
// the invalidation and publish succeed, so delivery is at-least-once and
// subscribers must tolerate duplicates.
func (s *Store) MarkOutboxProcessed(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := s.db.Exec(ctx, `UPDATE outbox SET processed_at = now() WHERE id = ANY($1)`, ids)
	if err != nil {
		return fmt.Errorf("failed to mark outbox rows processed: %w", err)
	}
	return nil
}

// OutboxDepth reports the number of pending rows, exported as a gauge.
func (s *Store) OutboxDepth(ctx context.Context) (int64, error) {
	var depth int64
	err := s.db.QueryRow(ctx, `SELECT count(*) FROM outbox WHERE processed_at IS NULL`).Scan(&depth)
	if err != nil {
		return 0, fmt.Errorf("failed to count outbox depth: %w", err)
	}
	return depth, nil
}
