package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"groupmilestones/internal/model"
)

type ProgressRepository struct {
	db     *pgxpool.Pool
	logger *zap.Logger
}

func NewProgressRepository(db *pgxpool.Pool, logger *zap.Logger) *ProgressRepository {
	return &ProgressRepository{db: db, logger: logger}
}

// Upsert writes one member's progress. Concurrent writers for the same key
// resolve to the last statement applied; last_updated is always the server clock.
func (r *ProgressRepository) Upsert(ctx context.Context, u model.ProgressUpdate) error {
	defer observe("upsert", "milestone_progress", time.Now())

	query := `
        INSERT INTO milestone_progress (milestone_id, member_id, current_progress, percent_complete, last_updated)
        VALUES ($1, $2, $3, $4, NOW())
        ON CONFLICT (milestone_id, member_id) DO UPDATE SET
            current_progress = EXCLUDED.current_progress,
            percent_complete = EXCLUDED.percent_complete,
            last_updated = NOW()
    `
	progress := u.CurrentProgress
	if len(progress) == 0 {
		progress = []byte("{}")
	}

	if _, err := r.db.Exec(ctx, query, u.MilestoneID, u.MemberID, progress, u.PercentComplete); err != nil {
		r.logger.Error("Failed to upsert milestone progress",
			zap.Int64("milestone_id", u.MilestoneID),
			zap.Int64("member_id", u.MemberID),
			zap.Error(err),
		)
		return fmt.Errorf("failed to upsert progress: %w", err)
	}
	return nil
}

// ListByMilestone returns every stored record of the milestone, also those of
// members who have since left the group.
func (r *ProgressRepository) ListByMilestone(ctx context.Context, milestoneID int64) ([]model.MemberProgress, error) {
	defer observe("select", "milestone_progress", time.Now())

	query := `
        SELECT mp.milestone_id, mp.member_id, COALESCE(mem.member_name, ''),
               mp.current_progress, mp.percent_complete, mp.last_updated
        FROM milestone_progress mp
        LEFT JOIN members mem ON mp.member_id = mem.member_id
        WHERE mp.milestone_id = $1
        ORDER BY mem.member_name NULLS LAST, mp.member_id
    `
	rows, err := r.db.Query(ctx, query, milestoneID)
	if err != nil {
		return nil, fmt.Errorf("failed to list progress: %w", err)
	}
	return collectProgress(rows)
}

// ListByMilestones batches ListByMilestone for a listing page.
func (r *ProgressRepository) ListByMilestones(ctx context.Context, milestoneIDs []int64) (map[int64][]model.MemberProgress, error) {
	out := make(map[int64][]model.MemberProgress, len(milestoneIDs))
	if len(milestoneIDs) == 0 {
		return out, nil
	}
	defer observe("select", "milestone_progress", time.Now())

	query := `
        SELECT mp.milestone_id, mp.member_id, COALESCE(mem.member_name, ''),
               mp.current_progress, mp.percent_complete, mp.last_updated
        FROM milestone_progress mp
        LEFT JOIN members mem ON mp.member_id = mem.member_id
        WHERE mp.milestone_id = ANY($1)
        ORDER BY mp.milestone_id, mem.member_name NULLS LAST, mp.member_id
    `
	rows, err := r.db.Query(ctx, query, milestoneIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to list progress: %w", err)
	}
	records, err := collectProgress(rows)
	if err != nil {
		return nil, err
	}
	for _, p := range records {
		out[p.MilestoneID] = append(out[p.MilestoneID], p)
	}
	return out, nil
}

func collectProgress(rows pgx.Rows) ([]model.MemberProgress, error) {
	defer rows.Close()

	var out []model.MemberProgress
	for rows.Next() {
		var p model.MemberProgress
		if err := rows.Scan(
			&p.MilestoneID,
			&p.MemberID,
			&p.MemberName,
			&p.CurrentProgress,
			&p.PercentComplete,
			&p.LastUpdated,
		); err != nil {
			return nil, fmt.Errorf("failed to scan progress: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate progress: %w", err)
	}
	return out, nil
}
