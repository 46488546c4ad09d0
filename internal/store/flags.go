package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/dmfontes/skuld/internal/engine"
)

// VariantParams describes one variant on flag creation or replacement.
type VariantParams struct {
	Key     string
	Name    string
	Payload []byte
	Weight  int
}

// CreateFlagParams carries the fields accepted on flag creation.
type CreateFlagParams struct {
	Key         string
	Name        string
	Description string
	Type        engine.FlagType
	Tags        []string
	Permanent   bool
	OwnerEmail  string
	Variants    []VariantParams
}

// envRef pairs an environment id with its key, for overlay materialization
// and outbox cache keys.
type envRef struct {
	ID  uuid.UUID
	Key string
}

func listEnvRefs(ctx context.Context, tx pgx.Tx, projectID uuid.UUID) ([]envRef, error) {
	rows, err := tx.Query(ctx, `SELECT id, key FROM environments WHERE project_id = $1 ORDER BY position, key`, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to list environments: %w", err)
	}
	defer rows.Close()

	var envs []envRef
	for rows.Next() {
		var e envRef
		if err := rows.Scan(&e.ID, &e.Key); err != nil {
			return nil, fmt.Errorf("failed to scan environment: %w", err)
		}
		envs = append(envs, e)
	}
	return envs, rows.Err()
}

func projectKeyOf(ctx context.Context, tx pgx.Tx, projectID uuid.UUID) (string, error) {
	var key string
	if err := tx.QueryRow(ctx, `SELECT key FROM projects WHERE id = $1`, projectID).Scan(&key); err != nil {
		if err == pgx.ErrNoRows {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("failed to load project key: %w", err)
	}
	return key, nil
}

// CreateFlag inserts a flag, its variants and one disabled overlay per
// existing environment, and enqueues the propagation rows, all in one
// transaction. Flags are born disabled everywhere.
func (s *Store) CreateFlag(ctx context.Context, projectID uuid.UUID, p CreateFlagParams) (*Flag, error) {
	if err := validateKey("flag.key", p.Key); err != nil {
		return nil, err
	}
	if p.Name == "" {
		return nil, &ValidationError{Field: "flag.name", Issue: "name is required"}
	}
	if !engine.ValidFlagType(p.Type) {
		return nil, &ValidationError{Field: "flag.type", Issue: fmt.Sprintf("unknown flag type %q", p.Type)}
	}
	for _, v := range p.Variants {
		if err := validateKey("variant.key", v.Key); err != nil {
			return nil, err
		}
		if v.Weight < 0 {
			return nil, &ValidationError{Field: "variant.weight", Issue: "weight must be non-negative"}
		}
	}

	flag := &Flag{
		ProjectID:   projectID,
		Key:         p.Key,
		Name:        p.Name,
		Description: p.Description,
		Type:        p.Type,
		Tags:        p.Tags,
		Permanent:   p.Permanent,
		OwnerEmail:  p.OwnerEmail,
	}
	if flag.Tags == nil {
		flag.Tags = []string{}
	}

	err := s.withTx(ctx, func(tx pgx.Tx) error {
		projectKey, err := projectKeyOf(ctx, tx, projectID)
		if err != nil {
			return err
		}

		query := `
			INSERT INTO flags (project_id, key, name, description, flag_type, tags, permanent, owner_email)
			VALUES ($1, $2, $3, $4, $5, $6, $7, NULLIF($8, ''))
			RETURNING id, created_at, updated_at
		`
		err = tx.QueryRow(ctx, query,
			projectID, flag.Key, flag.Name, flag.Description, flag.Type, flag.Tags, flag.Permanent, flag.OwnerEmail,
		).Scan(&flag.ID, &flag.CreatedAt, &flag.UpdatedAt)
		if err != nil {
			return fmt.Errorf("failed to insert flag: %w", translateError(err))
		}

		for i, v := range p.Variants {
			variant := FlagVariant{FlagID: flag.ID, Key: v.Key, Name: v.Name, Payload: v.Payload, Weight: v.Weight, Position: i}
			err := tx.QueryRow(ctx, `
				INSERT INTO flag_variants (flag_id, key, name, payload, weight, position)
				VALUES ($1, $2, $3, $4, $5, $6)
				RETURNING id
			`, variant.FlagID, variant.Key, variant.Name, variant.Payload, variant.Weight, variant.Position).Scan(&variant.ID)
			if err != nil {
				return fmt.Errorf("failed to insert variant %q: %w", v.Key, translateError(err))
			}
			flag.Variants = append(flag.Variants, variant)
		}

		envs, err := listEnvRefs(ctx, tx, projectID)
		if err != nil {
			return err
		}
		for _, env := range envs {
			_, err := tx.Exec(ctx, `
				INSERT INTO flag_environments (flag_id, environment_id, enabled, percentage)
				VALUES ($1, $2, false, 0)
			`, flag.ID, env.ID)
			if err != nil {
				return fmt.Errorf("failed to materialize overlay for %q: %w", env.Key, err)
			}

			row := OutboxRow{
				ProjectKey:     projectKey,
				EnvironmentKey: env.Key,
				FlagKey:        flag.Key,
				Action:         ActionCreated,
				Enabled:        false,
				CacheKeys:      flagCacheKeys(projectKey, flag.Key, env.Key),
			}
			if err := enqueueOutbox(ctx, tx, row); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return flag, nil
}

// GetFlag loads the full flag aggregate: variants, overlays and rules.
func (s *Store) GetFlag(ctx context.Context, projectID uuid.UUID, key string) (*Flag, error) {
	var f Flag
	err := s.db.QueryRow(ctx, `
		SELECT id, project_id, key, name, description, flag_type, tags, archived, permanent, COALESCE(owner_email, ''), created_at, updated_at
		FROM flags
		WHERE project_id = $1 AND key = $2
	`, projectID, key).Scan(
		&f.ID, &f.ProjectID, &f.Key, &f.Name, &f.Description, &f.Type, &f.Tags,
		&f.Archived, &f.Permanent, &f.OwnerEmail, &f.CreatedAt, &f.UpdatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to load flag: %w", err)
	}

	if err := s.loadVariants(ctx, &f); err != nil {
		return nil, err
	}
	if err := s.loadOverlays(ctx, &f); err != nil {
		return nil, err
	}
	return &f, nil
}

func (s *Store) loadVariants(ctx context.Context, f *Flag) error {
	rows, err := s.db.Query(ctx, `
		SELECT id, flag_id, key, name, payload, weight, position
		FROM flag_variants
		WHERE flag_id = $1
		ORDER BY position
	`, f.ID)
	if err != nil {
		return fmt.Errorf("failed to load variants: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var v FlagVariant
		if err := rows.Scan(&v.ID, &v.FlagID, &v.Key, &v.Name, &v.Payload, &v.Weight, &v.Position); err != nil {
			return fmt.Errorf("failed to scan variant row: %w", err)
		}
		f.Variants = append(f.Variants, v)
	}
	return rows.Err()
}

func (s *Store) loadOverlays(ctx context.Context, f *Flag) error {
	rows, err := s.db.Query(ctx, `
		SELECT fe.id, fe.flag_id, fe.environment_id, e.key, fe.enabled, fe.percentage,
		       fe.default_variant_id, fe.enable_at, fe.disable_at, fe.metadata, fe.updated_at
		FROM flag_environments fe
		JOIN environments e ON e.id = fe.environment_id
		WHERE fe.flag_id = $1
		ORDER BY e.position, e.key
	`, f.ID)
	if err != nil {
		return fmt.Errorf("failed to load overlays: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var o FlagEnvironment
		if err := rows.Scan(&o.ID, &o.FlagID, &o.EnvironmentID, &o.EnvironmentKey, &o.Enabled, &o.Percentage,
			&o.DefaultVariantID, &o.EnableAt, &o.DisableAt, &o.Metadata, &o.UpdatedAt); err != nil {
			return fmt.Errorf("failed to scan overlay row: %w", err)
		}
		f.Environments = append(f.Environments, o)
	}
	if err := rows.Err(); err != nil {
		return err
	}

	for i := range f.Environments {
		if err := s.loadRules(ctx, &f.Environments[i]); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) loadRules(ctx context.Context, o *FlagEnvironment) error {
	rows, err := s.db.Query(ctx, `
		SELECT id, flag_environment_id, rule_type, position, segment_id,
		       attribute_name, operator, attribute_value, user_ids,
		       serve_enabled, serve_variant_id, serve_percentage
		FROM flag_rules
		WHERE flag_environment_id = $1
		ORDER BY position
	`, o.ID)
	if err != nil {
		return fmt.Errorf("failed to load rules: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var r FlagRule
		if err := rows.Scan(&r.ID, &r.FlagEnvironmentID, &r.Type, &r.Position, &r.SegmentID,
			&r.AttributeName, &r.Operator, &r.AttributeValue, &r.UserIDs,
			&r.ServeEnabled, &r.ServeVariantID, &r.ServePercentage); err != nil {
			return fmt.Errorf("failed to scan rule row: %w", err)
		}
		o.Rules = append(o.Rules, r)
	}
	return rows.Err()
}

// ListFlags retrieves a paginated flag list and the total count.
func (s *Store) ListFlags(ctx context.Context, projectID uuid.UUID, limit, offset int, includeArchived bool) ([]*Flag, int64, error) {
	var total int64
	err := s.db.QueryRow(ctx, `
		SELECT count(*) FROM flags WHERE project_id = $1 AND (archived = false OR $2)
	`, projectID, includeArchived).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to count flags: %w", err)
	}
	if total == 0 {
		return []*Flag{}, 0, nil
	}

	rows, err := s.db.Query(ctx, `
		SELECT id, project_id, key, name, description, flag_type, tags, archived, permanent, COALESCE(owner_email, ''), created_at, updated_at
		FROM flags
		WHERE project_id = $1 AND (archived = false OR $2)
		ORDER BY key
		LIMIT $3 OFFSET $4
	`, projectID, includeArchived, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list flags: %w", err)
	}
	defer rows.Close()

	flags := make([]*Flag, 0, limit)
	for rows.Next() {
		var f Flag
		if err := rows.Scan(&f.ID, &f.ProjectID, &f.Key, &f.Name, &f.Description, &f.Type, &f.Tags,
			&f.Archived, &f.Permanent, &f.OwnerEmail, &f.CreatedAt, &f.UpdatedAt); err != nil {
			return nil, 0, fmt.Errorf("failed to scan flag row: %w", err)
		}
		flags = append(flags, &f)
	}
	return flags, total, rows.Err()
}

// ListActiveFlagKeys returns the keys of every non-archived flag, used to
// build bootstrap snapshot lists.
func (s *Store) ListActiveFlagKeys(ctx context.Context, projectKey string) ([]string, error) {
	rows, err := s.db.Query(ctx, `
		SELECT f.key
		FROM flags f
		JOIN projects p ON p.id = f.project_id
		WHERE p.key = $1 AND f.archived = false
		ORDER BY f.key
	`, projectKey)
	if err != nil {
		return nil, fmt.Errorf("failed to list active flags: %w", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, fmt.Errorf("failed to scan flag key: %w", err)
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// UpdateFlagParams carries the PATCH-able flag metadata. Nil pointers mean
// "leave unchanged".
type UpdateFlagParams struct {
	Name        *string
	Description *string
	Tags        *[]string
	OwnerEmail  *string
	Permanent   *bool
}

// UpdateFlag applies a partial metadata update and enqueues propagation.
func (s *Store) UpdateFlag(ctx context.Context, projectID uuid.UUID, key string, p UpdateFlagParams) (*Flag, error) {
	if p.Name != nil && *p.Name == "" {
		return nil, &ValidationError{Field: "flag.name", Issue: "name cannot be empty"}
	}

	err := s.withTx(ctx, func(tx pgx.Tx) error {
		projectKey, err := projectKeyOf(ctx, tx, projectID)
		if err != nil {
			return err
		}

		tag, err := tx.Exec(ctx, `
			UPDATE flags SET
				name        = COALESCE($3, name),
				description = COALESCE($4, description),
				tags        = COALESCE($5, tags),
				owner_email = COALESCE($6, owner_email),
				permanent   = COALESCE($7, permanent),
				updated_at  = now()
			WHERE project_id = $1 AND key = $2
		`, projectID, key, p.Name, p.Description, p.Tags, p.OwnerEmail, p.Permanent)
		if err != nil {
			return fmt.Errorf("failed to update flag: %w", translateError(err))
		}
		if tag.RowsAffected() == 0 {
			return ErrNotFound
		}

		envs, err := listEnvRefs(ctx, tx, projectID)
		if err != nil {
			return err
		}
		for _, env := range envs {
			row := OutboxRow{
				ProjectKey:     projectKey,
				EnvironmentKey: env.Key,
				FlagKey:        key,
				Action:         ActionUpdated,
				CacheKeys:      flagCacheKeys(projectKey, key, env.Key),
			}
			if err := enqueueOutbox(ctx, tx, row); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.GetFlag(ctx, projectID, key)
}

// Toggle flips the overlay's enabled bit. Manual toggles clear both
// enable_at and disable_at and cancel any scheduled transition handles for
// the overlay, all in one transaction.
func (s *Store) Toggle(ctx context.Context, projectID uuid.UUID, flagKey, envKey string, enabled bool) error {
	return s.withTx(ctx, func(tx pgx.Tx) error {
		projectKey, err := projectKeyOf(ctx, tx, projectID)
		if err != nil {
			return err
		}

		overlayID, err := resolveOverlay(ctx, tx, projectID, flagKey, envKey)
		if err != nil {
			return err
		}

		_, err = tx.Exec(ctx, `
			UPDATE flag_environments
			SET enabled = $2, enable_at = NULL, disable_at = NULL, updated_at = now()
			WHERE id = $1
		`, overlayID, enabled)
		if err != nil {
			return fmt.Errorf("failed to toggle overlay: %w", err)
		}

		if _, err := tx.Exec(ctx, `DELETE FROM scheduled_transitions WHERE flag_environment_id = $1`, overlayID); err != nil {
			return fmt.Errorf("failed to cancel scheduled transitions: %w", err)
		}

		row := OutboxRow{
			ProjectKey:     projectKey,
			EnvironmentKey: envKey,
			FlagKey:        flagKey,
			Action:         ActionToggled,
			Enabled:        enabled,
			CacheKeys:      flagCacheKeys(projectKey, flagKey, envKey),
		}
		return enqueueOutbox(ctx, tx, row)
	})
}

// Schedule records a wall-clock enable/disable transition. The returned
// handle supersedes any previous handle for the same (overlay, kind).
func (s *Store) Schedule(ctx context.Context, projectID uuid.UUID, flagKey, envKey string, kind TransitionKind, at time.Time) (uuid.UUID, error) {
	if kind != TransitionEnable && kind != TransitionDisable {
		return uuid.Nil, &ValidationError{Field: "schedule.kind", Issue: fmt.Sprintf("unknown transition kind %q", kind)}
	}

	var handle uuid.UUID
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		projectKey, err := projectKeyOf(ctx, tx, projectID)
		if err != nil {
			return err
		}

		overlayID, err := resolveOverlay(ctx, tx, projectID, flagKey, envKey)
		if err != nil {
			return err
		}

		column := "enable_at"
		if kind == TransitionDisable {
			column = "disable_at"
		}
		_, err = tx.Exec(ctx, fmt.Sprintf(`
			UPDATE flag_environments SET %s = $2, updated_at = now() WHERE id = $1
		`, column), overlayID, at)
		if err != nil {
			return fmt.Errorf("failed to set schedule field: %w", err)
		}

		// Replace rather than update: the fresh row id is the new handle.
		if _, err := tx.Exec(ctx, `
			DELETE FROM scheduled_transitions WHERE flag_environment_id = $1 AND kind = $2
		`, overlayID, kind); err != nil {
			return fmt.Errorf("failed to supersede previous schedule: %w", err)
		}
		err = tx.QueryRow(ctx, `
			INSERT INTO scheduled_transitions (flag_environment_id, kind, fire_at)
			VALUES ($1, $2, $3)
			RETURNING id
		`, overlayID, kind, at).Scan(&handle)
		if err != nil {
			return fmt.Errorf("failed to insert scheduled transition: %w", err)
		}

		row := OutboxRow{
			ProjectKey:     projectKey,
			EnvironmentKey: envKey,
			FlagKey:        flagKey,
			Action:         ActionScheduled,
			CacheKeys:      flagCacheKeys(projectKey, flagKey, envKey),
		}
		return enqueueOutbox(ctx, tx, row)
	})
	if err != nil {
		return uuid.Nil, err
	}
	return handle, nil
}

// Archive marks the flag archived and forces enabled=false across every
// overlay in a single transaction. Archival is the terminal state for
// permanent flags.
func (s *Store) Archive(ctx context.Context, projectID uuid.UUID, flagKey string) error {
	return s.withTx(ctx, func(tx pgx.Tx) error {
		projectKey, err := projectKeyOf(ctx, tx, projectID)
		if err != nil {
			return err
		}

		var flagID uuid.UUID
		err = tx.QueryRow(ctx, `
			UPDATE flags SET archived = true, updated_at = now()
			WHERE project_id = $1 AND key = $2
			RETURNING id
		`, projectID, flagKey).Scan(&flagID)
		if err != nil {
			if err == pgx.ErrNoRows {
				return ErrNotFound
			}
			return fmt.Errorf("failed to archive flag: %w", err)
		}

		_, err = tx.Exec(ctx, `
			UPDATE flag_environments
			SET enabled = false, enable_at = NULL, disable_at = NULL, updated_at = now()
			WHERE flag_id = $1
		`, flagID)
		if err != nil {
			return fmt.Errorf("failed to disable overlays: %w", err)
		}

		_, err = tx.Exec(ctx, `
			DELETE FROM scheduled_transitions
			WHERE flag_environment_id IN (SELECT id FROM flag_environments WHERE flag_id = $1)
		`, flagID)
		if err != nil {
			return fmt.Errorf("failed to cancel scheduled transitions: %w", err)
		}

		envs, err := listEnvRefs(ctx, tx, projectID)
		if err != nil {
			return err
		}
		for _, env := range envs {
			row := OutboxRow{
				ProjectKey:     projectKey,
				EnvironmentKey: env.Key,
				FlagKey:        flagKey,
				Action:         ActionArchived,
				Enabled:        false,
				CacheKeys:      flagCacheKeys(projectKey, flagKey, env.Key),
			}
			if err := enqueueOutbox(ctx, tx, row); err != nil {
				return err
			}
		}
		return nil
	})
}

// DeleteFlag destroys a flag. A permanent flag is not destructible; archival
// is its only terminal state.
func (s *Store) DeleteFlag(ctx context.Context, projectID uuid.UUID, flagKey string) error {
	return s.withTx(ctx, func(tx pgx.Tx) error {
		projectKey, err := projectKeyOf(ctx, tx, projectID)
		if err != nil {
			return err
		}

		var permanent bool
		err = tx.QueryRow(ctx, `
			SELECT permanent FROM flags WHERE project_id = $1 AND key = $2
		`, projectID, flagKey).Scan(&permanent)
		if err != nil {
			if err == pgx.ErrNoRows {
				return ErrNotFound
			}
			return fmt.Errorf("failed to load flag: %w", err)
		}
		if permanent {
			return fmt.Errorf("%w: flag %q is permanent", ErrConflict, flagKey)
		}

		envs, err := listEnvRefs(ctx, tx, projectID)
		if err != nil {
			return err
		}

		if _, err := tx.Exec(ctx, `DELETE FROM flags WHERE project_id = $1 AND key = $2`, projectID, flagKey); err != nil {
			return fmt.Errorf("failed to delete flag: %w", translateError(err))
		}

		for _, env := range envs {
			row := OutboxRow{
				ProjectKey:     projectKey,
				EnvironmentKey: env.Key,
				FlagKey:        flagKey,
				Action:         ActionDeleted,
				CacheKeys:      flagCacheKeys(projectKey, flagKey, env.Key),
			}
			if err := enqueueOutbox(ctx, tx, row); err != nil {
				return err
			}
		}
		return nil
	})
}

// resolveOverlay maps (project, flag key, env key) onto the overlay id.
func resolveOverlay(ctx context.Context, tx pgx.Tx, projectID uuid.UUID, flagKey, envKey string) (uuid.UUID, error) {
	var id uuid.UUID
	err := tx.QueryRow(ctx, `
		SELECT fe.id
		FROM flag_environments fe
		JOIN flags f ON f.id = fe.flag_id
		JOIN environments e ON e.id = fe.environment_id
		WHERE f.project_id = $1 AND f.key = $2 AND e.key = $3
	`, projectID, flagKey, envKey).Scan(&id)
	if err != nil {
		if err == pgx.ErrNoRows {
			return uuid.Nil, ErrNotFound
		}
		return uuid.Nil, fmt.Errorf("failed to resolve overlay: %w", err)
	}
	return id, nil
}
