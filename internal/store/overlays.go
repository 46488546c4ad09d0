package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/dmfontes/skuld/internal/engine"
)

// OverlayParams carries the PATCH-able overlay fields. Nil means "leave
// unchanged"; an empty DefaultVariantKey clears the default variant.
type OverlayParams struct {
	Percentage        *int
	DefaultVariantKey *string
	Metadata          []byte
}

// UpdateOverlay applies a partial update to one flag-environment overlay.
func (s *Store) UpdateOverlay(ctx context.Context, projectID uuid.UUID, flagKey, envKey string, p OverlayParams) error {
	if p.Percentage != nil && (*p.Percentage < 0 || *p.Percentage > 100) {
		return &ValidationError{Field: "overlay.percentage", Issue: "percentage must be in [0,100]"}
	}

	return s.withTx(ctx, func(tx pgx.Tx) error {
		projectKey, err := projectKeyOf(ctx, tx, projectID)
		if err != nil {
			return err
		}

		overlayID, err := resolveOverlay(ctx, tx, projectID, flagKey, envKey)
		if err != nil {
			return err
		}

		if p.Percentage != nil {
			if _, err := tx.Exec(ctx, `
				UPDATE flag_environments SET percentage = $2, updated_at = now() WHERE id = $1
			`, overlayID, *p.Percentage); err != nil {
				return fmt.Errorf("failed to update percentage: %w", translateError(err))
			}
		}

		if p.DefaultVariantKey != nil {
			if err := setDefaultVariant(ctx, tx, projectID, flagKey, overlayID, *p.DefaultVariantKey); err != nil {
				return err
			}
		}

		if p.Metadata != nil {
			if _, err := tx.Exec(ctx, `
				UPDATE flag_environments SET metadata = $2, updated_at = now() WHERE id = $1
			`, overlayID, p.Metadata); err != nil {
				return fmt.Errorf("failed to update metadata: %w", err)
			}
		}

		row := OutboxRow{
			ProjectKey:     projectKey,
			EnvironmentKey: envKey,
			FlagKey:        flagKey,
			Action:         ActionUpdated,
			CacheKeys:      flagCacheKeys(projectKey, flagKey, envKey),
		}
		return enqueueOutbox(ctx, tx, row)
	})
}

// setDefaultVariant enforces that a default variant is only set on variant
// flags and only to one of the flag's own variants.
func setDefaultVariant(ctx context.Context, tx pgx.Tx, projectID uuid.UUID, flagKey string, overlayID uuid.UUID, variantKey string) error {
	if variantKey == "" {
		_, err := tx.Exec(ctx, `
			UPDATE flag_environments SET default_variant_id = NULL, updated_at = now() WHERE id = $1
		`, overlayID)
		if err != nil {
			return fmt.Errorf("failed to clear default variant: %w", err)
		}
		return nil
	}

	var flagID uuid.UUID
	var flagType engine.FlagType
	err := tx.QueryRow(ctx, `
		SELECT id, flag_type FROM flags WHERE project_id = $1 AND key = $2
	`, projectID, flagKey).Scan(&flagID, &flagType)
	if err != nil {
		if err == pgx.ErrNoRows {
			return ErrNotFound
		}
		return fmt.Errorf("failed to load flag: %w", err)
	}
	if flagType != engine.FlagTypeVariant {
		return &ValidationError{Field: "overlay.default_variant", Issue: "default variant requires a variant flag"}
	}

	variantID, err := resolveVariant(ctx, tx, flagID, variantKey)
	if err != nil {
		return err
	}

	_, err = tx.Exec(ctx, `
		UPDATE flag_environments SET default_variant_id = $2, updated_at = now() WHERE id = $1
	`, overlayID, variantID)
	if err != nil {
		return fmt.Errorf("failed to set default variant: %w", err)
	}
	return nil
}

// resolveVariant maps a variant key onto its id, scoped to the flag. A
// variant is a valid target only for its own flag's rules and default.
func resolveVariant(ctx context.Context, tx pgx.Tx, flagID uuid.UUID, variantKey string) (uuid.UUID, error) {
	var id uuid.UUID
	err := tx.QueryRow(ctx, `
		SELECT id FROM flag_variants WHERE flag_id = $1 AND key = $2
	`, flagID, variantKey).Scan(&id)
	if err != nil {
		if err == pgx.ErrNoRows {
			return uuid.Nil, fmt.Errorf("%w: variant %q", ErrNotFound, variantKey)
		}
		return uuid.Nil, fmt.Errorf("failed to resolve variant: %w", err)
	}
	return id, nil
}

// ReplaceVariants swaps a flag's variant set. Overlay defaults and rule
// serve targets referencing a removed variant are cleared by the schema's
// SET NULL references; the whole swap is one transaction.
func (s *Store) ReplaceVariants(ctx context.Context, projectID uuid.UUID, flagKey string, variants []VariantParams) error {
	for _, v := range variants {
		if err := validateKey("variant.key", v.Key); err != nil {
			return err
		}
		if v.Weight < 0 {
			return &ValidationError{Field: "variant.weight", Issue: "weight must be non-negative"}
		}
	}

	return s.withTx(ctx, func(tx pgx.Tx) error {
		projectKey, err := projectKeyOf(ctx, tx, projectID)
		if err != nil {
			return err
		}

		var flagID uuid.UUID
		err = tx.QueryRow(ctx, `SELECT id FROM flags WHERE project_id = $1 AND key = $2`, projectID, flagKey).Scan(&flagID)
		if err != nil {
			if err == pgx.ErrNoRows {
				return ErrNotFound
			}
			return fmt.Errorf("failed to load flag: %w", err)
		}

		if _, err := tx.Exec(ctx, `DELETE FROM flag_variants WHERE flag_id = $1`, flagID); err != nil {
			return fmt.Errorf("failed to clear variants: %w", err)
		}
		for i, v := range variants {
			_, err := tx.Exec(ctx, `
				INSERT INTO flag_variants (flag_id, key, name, payload, weight, position)
				VALUES ($1, $2, $3, $4, $5, $6)
			`, flagID, v.Key, v.Name, v.Payload, v.Weight, i)
			if err != nil {
				return fmt.Errorf("failed to insert variant %q: %w", v.Key, translateError(err))
			}
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
				Action:         ActionUpdated,
				CacheKeys:      flagCacheKeys(projectKey, flagKey, env.Key),
			}
			if err := enqueueOutbox(ctx, tx, row); err != nil {
				return err
			}
		}
		return nil
	})
}

// RuleParams describes one targeting rule on replacement. References are by
// key; resolution is project- and flag-scoped.
type RuleParams struct {
	Type            engine.RuleType
	SegmentKey      string
	AttributeName   string
	Operator        string
	AttributeValue  string
	UserIDs         []string
	ServeEnabled    bool
	ServeVariantKey string
	ServePercentage *int
}

func (p *RuleParams) validate() error {
	switch p.Type {
	case engine.RuleTypeSegment:
		if p.SegmentKey == "" {
			return &ValidationError{Field: "rule.segment", Issue: "segment rule requires a segment key"}
		}
	case engine.RuleTypeAttribute:
		if p.AttributeName == "" {
			return &ValidationError{Field: "rule.attribute_name", Issue: "attribute rule requires an attribute name"}
		}
		if !engine.ValidOperator(engine.Operator(p.Operator)) {
			return &ValidationError{Field: "rule.operator", Issue: fmt.Sprintf("unknown operator %q", p.Operator)}
		}
	case engine.RuleTypeUserID:
		if len(p.UserIDs) == 0 {
			return &ValidationError{Field: "rule.user_ids", Issue: "user_id rule requires at least one id"}
		}
	default:
		return &ValidationError{Field: "rule.type", Issue: fmt.Sprintf("unknown rule type %q", p.Type)}
	}

	if p.ServePercentage != nil && (*p.ServePercentage < 0 || *p.ServePercentage > 100) {
		return &ValidationError{Field: "rule.serve_percentage", Issue: "serve percentage must be in [0,100]"}
	}
	return nil
}

// ReplaceRules swaps the ordered rule list of one overlay in a single
// transaction.
func (s *Store) ReplaceRules(ctx context.Context, projectID uuid.UUID, flagKey, envKey string, rules []RuleParams) error {
	for i := range rules {
		if err := rules[i].validate(); err != nil {
			return err
		}
	}

	return s.withTx(ctx, func(tx pgx.Tx) error {
		projectKey, err := projectKeyOf(ctx, tx, projectID)
		if err != nil {
			return err
		}

		var flagID uuid.UUID
		err = tx.QueryRow(ctx, `SELECT id FROM flags WHERE project_id = $1 AND key = $2`, projectID, flagKey).Scan(&flagID)
		if err != nil {
			if err == pgx.ErrNoRows {
				return ErrNotFound
			}
			return fmt.Errorf("failed to load flag: %w", err)
		}

		overlayID, err := resolveOverlay(ctx, tx, projectID, flagKey, envKey)
		if err != nil {
			return err
		}

		if _, err := tx.Exec(ctx, `DELETE FROM flag_rules WHERE flag_environment_id = $1`, overlayID); err != nil {
			return fmt.Errorf("failed to clear rules: %w", err)
		}

		for i, r := range rules {
			var segmentID, serveVariantID *uuid.UUID

			if r.Type == engine.RuleTypeSegment {
				id, err := resolveSegment(ctx, tx, projectID, r.SegmentKey)
				if err != nil {
					return err
				}
				segmentID = &id
			}
			if r.ServeVariantKey != "" {
				id, err := resolveVariant(ctx, tx, flagID, r.ServeVariantKey)
				if err != nil {
					return err
				}
				serveVariantID = &id
			}

			var attrName, op, attrValue *string
			if r.Type == engine.RuleTypeAttribute {
				attrName, op, attrValue = &r.AttributeName, &r.Operator, &r.AttributeValue
			}

			_, err := tx.Exec(ctx, `
				INSERT INTO flag_rules (
					flag_environment_id, rule_type, position, segment_id,
					attribute_name, operator, attribute_value, user_ids,
					serve_enabled, serve_variant_id, serve_percentage
				)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
			`, overlayID, r.Type, i, segmentID,
				attrName, op, attrValue, r.UserIDs,
				r.ServeEnabled, serveVariantID, r.ServePercentage)
			if err != nil {
				return fmt.Errorf("failed to insert rule %d: %w", i, translateError(err))
			}
		}

		row := OutboxRow{
			ProjectKey:     projectKey,
			EnvironmentKey: envKey,
			FlagKey:        flagKey,
			Action:         ActionUpdated,
			CacheKeys:      flagCacheKeys(projectKey, flagKey, envKey),
		}
		return enqueueOutbox(ctx, tx, row)
	})
}

// resolveSegment maps a segment key onto its id, project-scoped.
func resolveSegment(ctx context.Context, tx pgx.Tx, projectID uuid.UUID, segmentKey string) (uuid.UUID, error) {
	var id uuid.UUID
	err := tx.QueryRow(ctx, `
		SELECT id FROM segments WHERE project_id = $1 AND key = $2
	`, projectID, segmentKey).Scan(&id)
	if err != nil {
		if err == pgx.ErrNoRows {
			return uuid.Nil, fmt.Errorf("%w: segment %q", ErrNotFound, segmentKey)
		}
		return uuid.Nil, fmt.Errorf("failed to resolve segment: %w", err)
	}
	return id, nil
}
