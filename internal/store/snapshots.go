package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/dmfontes/skuld/internal/engine"
)

// BuildSnapshot loads everything needed to evaluate one flag in one
// environment and projects it into a self-contained snapshot: flag type,
// overlay state, variants, and rules with referenced segments resolved and
// embedded. Missing flag or overlay surfaces as ErrNotFound; the decision
// path degrades that to a flag_not_found decision.
func (s *Store) BuildSnapshot(ctx context.Context, projectKey, flagKey, envKey string) (*engine.FlagSnapshot, error) {
	var (
		flagID    uuid.UUID
		overlayID uuid.UUID
		snap      engine.FlagSnapshot
		defaultID *uuid.UUID
	)

	err := s.db.QueryRow(ctx, `
		SELECT f.id, fe.id, f.key, f.flag_type, fe.enabled, fe.percentage, fe.default_variant_id
		FROM flags f
		JOIN projects p ON p.id = f.project_id
		JOIN flag_environments fe ON fe.flag_id = f.id
		JOIN environments e ON e.id = fe.environment_id
		WHERE p.key = $1 AND f.key = $2 AND e.key = $3 AND f.archived = false
	`, projectKey, flagKey, envKey).Scan(&flagID, &overlayID, &snap.Key, &snap.Type, &snap.Enabled, &snap.Percentage, &defaultID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to load flag overlay: %w", err)
	}

	if err := s.snapshotVariants(ctx, flagID, defaultID, &snap); err != nil {
		return nil, err
	}
	if err := s.snapshotRules(ctx, overlayID, &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

func (s *Store) snapshotVariants(ctx context.Context, flagID uuid.UUID, defaultID *uuid.UUID, snap *engine.FlagSnapshot) error {
	rows, err := s.db.Query(ctx, `
		SELECT id, key, weight, payload
		FROM flag_variants
		WHERE flag_id = $1
		ORDER BY position
	`, flagID)
	if err != nil {
		return fmt.Errorf("failed to load variants: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			id      uuid.UUID
			variant engine.Variant
		)
		if err := rows.Scan(&id, &variant.Key, &variant.Weight, &variant.Payload); err != nil {
			return fmt.Errorf("failed to scan variant: %w", err)
		}
		if defaultID != nil && id == *defaultID {
			snap.DefaultVariant = variant.Key
		}
		snap.Variants = append(snap.Variants, variant)
	}
	return rows.Err()
}

func (s *Store) snapshotRules(ctx context.Context, overlayID uuid.UUID, snap *engine.FlagSnapshot) error {
	rows, err := s.db.Query(ctx, `
		SELECT fr.id, fr.rule_type, fr.segment_id,
		       fr.attribute_name, fr.operator, fr.attribute_value, fr.user_ids,
		       fr.serve_enabled, fv.key, fr.serve_percentage
		FROM flag_rules fr
		LEFT JOIN flag_variants fv ON fv.id = fr.serve_variant_id
		WHERE fr.flag_environment_id = $1
		ORDER BY fr.position
	`, overlayID)
	if err != nil {
		return fmt.Errorf("failed to load rules: %w", err)
	}
	defer rows.Close()

	type rawRule struct {
		rule      engine.Rule
		segmentID *uuid.UUID
	}
	var raws []rawRule

	for rows.Next() {
		var (
			raw             rawRule
			attrName        *string
			operator        *string
			attrValue       *string
			serveVariantKey *string
		)
		var id uuid.UUID
		if err := rows.Scan(&id, &raw.rule.Type, &raw.segmentID,
			&attrName, &operator, &attrValue, &raw.rule.UserIDs,
			&raw.rule.ServeEnabled, &serveVariantKey, &raw.rule.ServePercentage); err != nil {
			return fmt.Errorf("failed to scan rule: %w", err)
		}
		raw.rule.ID = id.String()
		if serveVariantKey != nil {
			raw.rule.ServeVariant = *serveVariantKey
		}
		if raw.rule.Type == engine.RuleTypeAttribute && attrName != nil && operator != nil {
			value := ""
			if attrValue != nil {
				value = *attrValue
			}
			raw.rule.Condition = &engine.Condition{
				Attribute: *attrName,
				Operator:  engine.Operator(*operator),
				Value:     value,
			}
		}
		raws = append(raws, raw)
	}
	if err := rows.Err(); err != nil {
		return err
	}

	// Resolve referenced segments once each and embed them.
	segments := map[uuid.UUID]*engine.Segment{}
	for i := range raws {
		if raws[i].segmentID == nil {
			snap.Rules = append(snap.Rules, raws[i].rule)
			continue
		}
		seg, ok := segments[*raws[i].segmentID]
		if !ok {
			var err error
			seg, err = s.snapshotSegment(ctx, *raws[i].segmentID)
			if err != nil {
				return err
			}
			segments[*raws[i].segmentID] = seg
		}
		raws[i].rule.Segment = seg
		snap.Rules = append(snap.Rules, raws[i].rule)
	}
	return nil
}

func (s *Store) snapshotSegment(ctx context.Context, segmentID uuid.UUID) (*engine.Segment, error) {
	var seg engine.Segment
	err := s.db.QueryRow(ctx, `
		SELECT key, match_type FROM segments WHERE id = $1
	`, segmentID).Scan(&seg.Key, &seg.MatchType)
	if err != nil {
		return nil, fmt.Errorf("failed to load segment: %w", translateError(err))
	}

	rows, err := s.db.Query(ctx, `
		SELECT attribute_name, operator, value
		FROM segment_rules
		WHERE segment_id = $1
		ORDER BY position
	`, segmentID)
	if err != nil {
		return nil, fmt.Errorf("failed to load segment rules: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var cond engine.Condition
		if err := rows.Scan(&cond.Attribute, &cond.Operator, &cond.Value); err != nil {
			return nil, fmt.Errorf("failed to scan segment rule: %w", err)
		}
		seg.Conditions = append(seg.Conditions, cond)
	}
	return &seg, rows.Err()
}

// BuildEnvironmentSnapshots projects every non-archived flag of a project
// into snapshots for one environment, for the SDK bootstrap list.
func (s *Store) BuildEnvironmentSnapshots(ctx context.Context, projectKey, envKey string) ([]engine.FlagSnapshot, error) {
	keys, err := s.ListActiveFlagKeys(ctx, projectKey)
	if err != nil {
		return nil, err
	}

	snaps := make([]engine.FlagSnapshot, 0, len(keys))
	for _, flagKey := range keys {
		snap, err := s.BuildSnapshot(ctx, projectKey, flagKey, envKey)
		if err != nil {
			// A flag without an overlay in this environment is skipped, not
			// an error for the rest of the list.
			if errors.Is(err, ErrNotFound) {
				continue
			}
			return nil, err
		}
		snaps = append(snaps, *snap)
	}
	return snaps, nil
}
