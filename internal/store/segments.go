package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/dmfontes/skuld/internal/engine"
)

// SegmentRuleParams describes one predicate on segment upsert.
type SegmentRuleParams struct {
	AttributeName string
	Operator      string
	Value         string
}

// UpsertSegmentParams carries the full desired segment state.
type UpsertSegmentParams struct {
	Key       string
	Name      string
	MatchType engine.MatchType
	Rules     []SegmentRuleParams
}

// UpsertSegment creates or replaces a segment and its ordered rules. Because
// snapshots embed segments resolved at build time, the change fans out: every
// flag whose rules reference this segment gets its snapshot keys invalidated.
func (s *Store) UpsertSegment(ctx context.Context, projectID uuid.UUID, p UpsertSegmentParams) (*Segment, error) {
	if err := validateKey("segment.key", p.Key); err != nil {
		return nil, err
	}
	if p.Name == "" {
		return nil, &ValidationError{Field: "segment.name", Issue: "name is required"}
	}
	if p.MatchType != engine.MatchAll && p.MatchType != engine.MatchAny {
		return nil, &ValidationError{Field: "segment.match_type", Issue: fmt.Sprintf("unknown match type %q", p.MatchType)}
	}
	for _, r := range p.Rules {
		if r.AttributeName == "" {
			return nil, &ValidationError{Field: "segment_rule.attribute_name", Issue: "attribute name is required"}
		}
		if !engine.ValidOperator(engine.Operator(r.Operator)) {
			return nil, &ValidationError{Field: "segment_rule.operator", Issue: fmt.Sprintf("unknown operator %q", r.Operator)}
		}
	}

	seg := &Segment{ProjectID: projectID, Key: p.Key, Name: p.Name, MatchType: p.MatchType}

	err := s.withTx(ctx, func(tx pgx.Tx) error {
		projectKey, err := projectKeyOf(ctx, tx, projectID)
		if err != nil {
			return err
		}

		err = tx.QueryRow(ctx, `
			INSERT INTO segments (project_id, key, name, match_type)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (project_id, key)
			DO UPDATE SET name = EXCLUDED.name, match_type = EXCLUDED.match_type, updated_at = now()
			RETURNING id, created_at, updated_at
		`, projectID, p.Key, p.Name, p.MatchType).Scan(&seg.ID, &seg.CreatedAt, &seg.UpdatedAt)
		if err != nil {
			return fmt.Errorf("failed to upsert segment: %w", translateError(err))
		}

		if _, err := tx.Exec(ctx, `DELETE FROM segment_rules WHERE segment_id = $1`, seg.ID); err != nil {
			return fmt.Errorf("failed to clear segment rules: %w", err)
		}
		for i, r := range p.Rules {
			rule := SegmentRule{SegmentID: seg.ID, AttributeName: r.AttributeName, Operator: r.Operator, Value: r.Value, Position: i}
			err := tx.QueryRow(ctx, `
				INSERT INTO segment_rules (segment_id, attribute_name, operator, value, position)
				VALUES ($1, $2, $3, $4, $5)
				RETURNING id
			`, rule.SegmentID, rule.AttributeName, rule.Operator, rule.Value, rule.Position).Scan(&rule.ID)
			if err != nil {
				return fmt.Errorf("failed to insert segment rule %d: %w", i, err)
			}
			seg.Rules = append(seg.Rules, rule)
		}

		return s.fanOutSegmentChange(ctx, tx, projectKey, seg.ID)
	})
	if err != nil {
		return nil, err
	}
	return seg, nil
}

// fanOutSegmentChange enqueues an outbox row per (flag, env) whose rules
// reference the segment.
func (s *Store) fanOutSegmentChange(ctx context.Context, tx pgx.Tx, projectKey string, segmentID uuid.UUID) error {
	rows, err := tx.Query(ctx, `
		SELECT DISTINCT f.key, e.key, fe.enabled
		FROM flag_rules fr
		JOIN flag_environments fe ON fe.id = fr.flag_environment_id
		JOIN flags f ON f.id = fe.flag_id
		JOIN environments e ON e.id = fe.environment_id
		WHERE fr.segment_id = $1
	`, segmentID)
	if err != nil {
		return fmt.Errorf("failed to find referencing flags: %w", err)
	}
	defer rows.Close()

	type ref struct {
		flagKey string
		envKey  string
		enabled bool
	}
	var refs []ref
	for rows.Next() {
		var r ref
		if err := rows.Scan(&r.flagKey, &r.envKey, &r.enabled); err != nil {
			return fmt.Errorf("failed to scan referencing flag: %w", err)
		}
		refs = append(refs, r)
	}
	if err := rows.Err(); err != nil {
		return err
	}

	for _, r := range refs {
		row := OutboxRow{
			ProjectKey:     projectKey,
			EnvironmentKey: r.envKey,
			FlagKey:        r.flagKey,
			Action:         ActionUpdated,
			Enabled:        r.enabled,
			CacheKeys:      flagCacheKeys(projectKey, r.flagKey, r.envKey),
		}
		if err := enqueueOutbox(ctx, tx, row); err != nil {
			return err
		}
	}
	return nil
}

// GetSegment loads one segment with its rules in position order.
func (s *Store) GetSegment(ctx context.Context, projectID uuid.UUID, key string) (*Segment, error) {
	var seg Segment
	err := s.db.QueryRow(ctx, `
		SELECT id, project_id, key, name, match_type, created_at, updated_at
		FROM segments
		WHERE project_id = $1 AND key = $2
	`, projectID, key).Scan(&seg.ID, &seg.ProjectID, &seg.Key, &seg.Name, &seg.MatchType, &seg.CreatedAt, &seg.UpdatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to load segment: %w", err)
	}

	rows, err := s.db.Query(ctx, `
		SELECT id, segment_id, attribute_name, operator, value, position
		FROM segment_rules
		WHERE segment_id = $1
		ORDER BY position
	`, seg.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load segment rules: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var r SegmentRule
		if err := rows.Scan(&r.ID, &r.SegmentID, &r.AttributeName, &r.Operator, &r.Value, &r.Position); err != nil {
			return nil, fmt.Errorf("failed to scan segment rule: %w", err)
		}
		seg.Rules = append(seg.Rules, r)
	}
	return &seg, rows.Err()
}

// ListSegments returns the project's segments ordered by key.
func (s *Store) ListSegments(ctx context.Context, projectID uuid.UUID) ([]Segment, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, project_id, key, name, match_type, created_at, updated_at
		FROM segments
		WHERE project_id = $1
		ORDER BY key
	`, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to list segments: %w", err)
	}
	defer rows.Close()

	var segs []Segment
	for rows.Next() {
		var seg Segment
		if err := rows.Scan(&seg.ID, &seg.ProjectID, &seg.Key, &seg.Name, &seg.MatchType, &seg.CreatedAt, &seg.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan segment row: %w", err)
		}
		segs = append(segs, seg)
	}
	return segs, rows.Err()
}

// DeleteSegment removes a segment. Deletion is rejected with a conflict
// while any flag rule references the segment.
func (s *Store) DeleteSegment(ctx context.Context, projectID uuid.UUID, key string) error {
	return s.withTx(ctx, func(tx pgx.Tx) error {
		segmentID, err := resolveSegment(ctx, tx, projectID, key)
		if err != nil {
			return err
		}

		var refs int64
		if err := tx.QueryRow(ctx, `SELECT count(*) FROM flag_rules WHERE segment_id = $1`, segmentID).Scan(&refs); err != nil {
			return fmt.Errorf("failed to count segment references: %w", err)
		}
		if refs > 0 {
			return fmt.Errorf("%w: segment %q is referenced by %d flag rules", ErrConflict, key, refs)
		}

		if _, err := tx.Exec(ctx, `DELETE FROM segments WHERE id = $1`, segmentID); err != nil {
			// The RESTRICT reference backs up the count check under races.
			return fmt.Errorf("failed to delete segment: %w", translateError(err))
		}
		return nil
	})
}
