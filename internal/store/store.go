// Package store is the data access layer for the Skuld configuration fabric.
// It persists projects, environments, flags, segments and their rules in
// PostgreSQL via pgx, and guarantees that every flag, overlay, variant and
// rule mutation commits the domain rows together with its outbox rows (cache
// invalidations + change-bus event, one row per affected environment) in one
// transaction; a segment upsert does the same for every flag environment
// whose rules reference the segment. Project and environment writes and
// segment deletion enqueue no outbox row. Partial persistence is impossible.
package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dmfontes/skuld/internal/validation"
)

// Sentinel errors surfaced to callers. Handlers translate these to the HTTP
// error model; the decision path degrades them to reason codes instead.
var (
	// ErrNotFound: the referenced project, environment, flag, segment or
	// variant does not exist.
	ErrNotFound = errors.New("store: not found")

	// ErrConflict: unique-key violation, deleting a referenced segment, or
	// deleting a permanent flag.
	ErrConflict = errors.New("store: conflict")
)

// ValidationError reports a field-format violation.
type ValidationError struct {
	Field string
	Issue string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("store: validation failed on %s: %s", e.Field, e.Issue)
}

// keyPattern is the format for all "key" identifiers.
var keyPattern = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

// validateKey enforces the key format shared by projects, environments,
// flags, variants and segments.
func validateKey(field, key string) error {
	if key == "" {
		return &ValidationError{Field: field, Issue: "key is required"}
	}
	if len(key) > 255 {
		return &ValidationError{Field: field, Issue: "key must be at most 255 characters"}
	}
	if !keyPattern.MatchString(key) {
		return &ValidationError{Field: field, Issue: "key must match ^[a-z][a-z0-9_]*$"}
	}
	return nil
}

// Store is the PostgreSQL-backed configuration store.
type Store struct {
	db     *pgxpool.Pool
	logger *slog.Logger
}

// New creates a Store. Panics on a nil pool: a store without a database is a
// programmer error.
func New(db *pgxpool.Pool, logger *slog.Logger) *Store {
	validation.AssertNotNil(db, "database pool")
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{db: db, logger: logger}
}

// withTx runs fn inside a transaction, rolling back on error or panic.
func (s *Store) withTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		// Rollback after commit is a no-op; this covers every other exit.
		_ = tx.Rollback(ctx)
	}()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// translateError maps low-level pgx errors onto the store's sentinel set.
func translateError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505": // unique_violation
			return fmt.Errorf("%w: %s", ErrConflict, pgErr.ConstraintName)
		case "23503": // foreign_key_violation
			return fmt.Errorf("%w: %s", ErrConflict, pgErr.ConstraintName)
		case "23514": // check_violation
			return &ValidationError{Field: pgErr.ConstraintName, Issue: "constraint violated"}
		}
	}
	return err
}
