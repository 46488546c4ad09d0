package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// EvaluationRecord is one appended decision log row.
type EvaluationRecord struct {
	ProjectID      uuid.UUID
	FlagKey        string
	EnvironmentKey string
	SubjectID      string
	Context        []byte
	Enabled        bool
	VariantKey     string
	MatchedRule    string
	Reason         string
	EvaluatedAt    time.Time
}

// InsertEvaluations bulk-appends decision log rows via COPY. Callers batch;
// this is the fire-and-forget tail of the decision path and must stay cheap.
func (s *Store) InsertEvaluations(ctx context.Context, records []EvaluationRecord) error {
	if len(records) == 0 {
		return nil
	}

	rows := make([][]any, 0, len(records))
	for _, r := range records {
		ctxJSON := r.Context
		if len(ctxJSON) == 0 {
			ctxJSON = []byte("{}")
		}
		rows = append(rows, []any{
			r.ProjectID, r.FlagKey, r.EnvironmentKey, nullable(r.SubjectID), ctxJSON,
			r.Enabled, nullable(r.VariantKey), nullable(r.MatchedRule), r.Reason, r.EvaluatedAt,
		})
	}

	_, err := s.db.CopyFrom(ctx,
		pgx.Identifier{"evaluation_logs"},
		[]string{"project_id", "flag_key", "environment_key", "subject_id", "context", "enabled", "variant_key", "matched_rule", "reason", "evaluated_at"},
		pgx.CopyFromRows(rows),
	)
	if err != nil {
		return fmt.Errorf("failed to append evaluation logs: %w", err)
	}
	return nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// PruneEvaluations deletes log rows older than the retention horizon.
func (s *Store) PruneEvaluations(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.db.Exec(ctx, `DELETE FROM evaluation_logs WHERE evaluated_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("failed to prune evaluation logs: %w", err)
	}
	return tag.RowsAffected(), nil
}
