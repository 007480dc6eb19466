package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// PutCandidateFiles replaces the ranked candidate list for a Build: any list
// an earlier RETRIEVE attempt persisted is deleted first, so a retried
// RETRIEVE leaves only its own list.
func (s *Store) PutCandidateFiles(ctx context.Context, buildID string, candidates []CandidateFile) error {
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM candidate_files WHERE build_id = $1`, buildID); err != nil {
			return fmt.Errorf("clear candidate files: %w", err)
		}
		const q = `
			INSERT INTO candidate_files
				(id, build_id, file_path, score, sem_score, dep_score, arch_score, hist_score, reason, rank_order)
			VALUES
				(:id, :build_id, :file_path, :score, :sem_score, :dep_score, :arch_score, :hist_score, :reason, :rank_order)`
		for i := range candidates {
			c := candidates[i]
			c.BuildID = buildID
			if c.ID == "" {
				c.ID = uuid.New().String()
			}
			c.RankOrder = i
			if _, err := tx.NamedExecContext(ctx, q, c); err != nil {
				return fmt.Errorf("insert candidate file %s: %w", c.FilePath, err)
			}
		}
		return nil
	})
}

// ListCandidateFiles returns a Build's candidates in rank order.
func (s *Store) ListCandidateFiles(ctx context.Context, buildID string) ([]CandidateFile, error) {
	var out []CandidateFile
	const q = `SELECT * FROM candidate_files WHERE build_id = $1 ORDER BY rank_order`
	if err := s.db.SelectContext(ctx, &out, q, buildID); err != nil {
		return nil, fmt.Errorf("list candidate files: %w", err)
	}
	return out, nil
}
