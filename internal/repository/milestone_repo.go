package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	mqcontracts "groupmilestones/contracts/mq"
	"groupmilestones/internal/model"
	"groupmilestones/pkg/metrics"
	"groupmilestones/pkg/outbox"
	"groupmilestones/pkg/trace"
)

const milestoneColumns = `
        milestone_id, group_id, title, description, milestone_type,
        target_data, completion_criteria, start_date, end_date,
        completed, completed_at, created_at
`

type MilestoneRepository struct {
	db         *pgxpool.Pool
	outboxRepo *outbox.Repository
	logger     *zap.Logger
}

func NewMilestoneRepository(db *pgxpool.Pool, outboxRepo *outbox.Repository, logger *zap.Logger) *MilestoneRepository {
	return &MilestoneRepository{db: db, outboxRepo: outboxRepo, logger: logger}
}

// List returns a group's milestones, open ones first, newest first within each half.
func (r *MilestoneRepository) List(ctx context.Context, groupID int64, filter model.ListFilter) ([]model.Milestone, error) {
	defer observe("select", "group_milestones", time.Now())

	query := `SELECT ` + milestoneColumns + `
        FROM group_milestones
        WHERE group_id = $1
          AND ($2::text IS NULL OR milestone_type = $2)
          AND ($3 OR NOT completed)
        ORDER BY completed, created_at DESC
    `
	var typeFilter *string
	if filter.Type != nil {
		s := string(*filter.Type)
		typeFilter = &s
	}

	rows, err := r.db.Query(ctx, query, groupID, typeFilter, filter.IncludeCompleted)
	if err != nil {
		return nil, fmt.Errorf("failed to list milestones: %w", err)
	}
	return collectMilestones(rows)
}

// ListIncomplete returns every milestone of the group still open to automatic evaluation.
func (r *MilestoneRepository) ListIncomplete(ctx context.Context, groupID int64) ([]model.Milestone, error) {
	defer observe("select", "group_milestones", time.Now())

	query := `SELECT ` + milestoneColumns + `
        FROM group_milestones
        WHERE group_id = $1 AND NOT completed
        ORDER BY milestone_id
    `
	rows, err := r.db.Query(ctx, query, groupID)
	if err != nil {
		return nil, fmt.Errorf("failed to list incomplete milestones: %w", err)
	}
	return collectMilestones(rows)
}

func (r *MilestoneRepository) FindByID(ctx context.Context, groupID, milestoneID int64) (*model.Milestone, error) {
	defer observe("select", "group_milestones", time.Now())

	query := `SELECT ` + milestoneColumns + `
        FROM group_milestones
        WHERE milestone_id = $1 AND group_id = $2
    `
	m, err := scanMilestone(r.db.QueryRow(ctx, query, milestoneID, groupID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("milestone %d: %w", milestoneID, model.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return m, nil
}

// Insert stores m and fills in its generated fields.
func (r *MilestoneRepository) Insert(ctx context.Context, m *model.Milestone) error {
	defer observe("insert", "group_milestones", time.Now())

	query := `
        INSERT INTO group_milestones (
            group_id, title, description, milestone_type,
            target_data, completion_criteria, start_date, end_date
        ) VALUES ($1, $2, $3, $4, $5, $6, COALESCE($7, NOW()), $8)
        RETURNING milestone_id, start_date, completed, completed_at, created_at
    `
	var startDate *time.Time
	if !m.StartDate.IsZero() {
		startDate = &m.StartDate
	}

	err := r.db.QueryRow(ctx, query,
		m.GroupID,
		m.Title,
		m.Description,
		string(m.Type),
		m.TargetData,
		m.CompletionCriteria,
		startDate,
		m.EndDate,
	).Scan(&m.ID, &m.StartDate, &m.Completed, &m.CompletedAt, &m.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert milestone: %w", err)
	}

	r.logger.Info("Milestone created",
		zap.Int64("milestone_id", m.ID),
		zap.Int64("group_id", m.GroupID),
		zap.String("milestone_type", string(m.Type)),
	)
	return nil
}

// MarkCompleted flips an open milestone to completed and queues the
// milestone.completed event in the same transaction. It reports false when
// the milestone was already completed, so concurrent evaluators emit once.
func (r *MilestoneRepository) MarkCompleted(ctx context.Context, groupID, milestoneID int64) (bool, error) {
	defer observe("update", "group_milestones", time.Now())

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var completedAt time.Time
	err = tx.QueryRow(ctx, `
        UPDATE group_milestones
        SET completed = TRUE, completed_at = NOW()
        WHERE milestone_id = $1 AND group_id = $2 AND NOT completed
        RETURNING completed_at
    `, milestoneID, groupID).Scan(&completedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to mark milestone completed: %w", err)
	}

	if err := r.queueCompleted(ctx, tx, groupID, milestoneID, completedAt, mqcontracts.CompletionSourceAuto); err != nil {
		return false, err
	}

	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("failed to commit transaction: %w", err)
	}

	r.logger.Info("Milestone completed",
		zap.Int64("milestone_id", milestoneID),
		zap.Int64("group_id", groupID),
	)
	return true, nil
}

// SetStatus is the manual override. Completing stamps completed_at and
// queues an event; reopening clears completed_at.
func (r *MilestoneRepository) SetStatus(ctx context.Context, groupID, milestoneID int64, completed bool) error {
	defer observe("update", "group_milestones", time.Now())

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var completedAt *time.Time
	err = tx.QueryRow(ctx, `
        UPDATE group_milestones
        SET completed = $3,
            completed_at = CASE WHEN $3 THEN NOW() ELSE NULL END
        WHERE milestone_id = $1 AND group_id = $2
        RETURNING completed_at
    `, milestoneID, groupID, completed).Scan(&completedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("milestone %d: %w", milestoneID, model.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to update milestone status: %w", err)
	}

	if completed && completedAt != nil {
		if err := r.queueCompleted(ctx, tx, groupID, milestoneID, *completedAt, mqcontracts.CompletionSourceOverride); err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	r.logger.Info("Milestone status overridden",
		zap.Int64("milestone_id", milestoneID),
		zap.Int64("group_id", groupID),
		zap.Bool("completed", completed),
	)
	return nil
}

// Delete removes the milestone together with all of its progress rows.
func (r *MilestoneRepository) Delete(ctx context.Context, groupID, milestoneID int64) error {
	defer observe("delete", "group_milestones", time.Now())

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	result, err := tx.Exec(ctx, `
        DELETE FROM milestone_progress
        WHERE milestone_id = (
            SELECT milestone_id FROM group_milestones WHERE milestone_id = $1 AND group_id = $2
        )
    `, milestoneID, groupID)
	if err != nil {
		return fmt.Errorf("failed to delete milestone progress: %w", err)
	}
	progressRows := result.RowsAffected()

	result, err = tx.Exec(ctx, `
        DELETE FROM group_milestones
        WHERE milestone_id = $1 AND group_id = $2
    `, milestoneID, groupID)
	if err != nil {
		return fmt.Errorf("failed to delete milestone: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("milestone %d: %w", milestoneID, model.ErrNotFound)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	r.logger.Info("Milestone deleted",
		zap.Int64("milestone_id", milestoneID),
		zap.Int64("group_id", groupID),
		zap.Int64("progress_rows", progressRows),
	)
	return nil
}

func (r *MilestoneRepository) queueCompleted(ctx context.Context, tx pgx.Tx, groupID, milestoneID int64, completedAt time.Time, source string) error {
	payload := mqcontracts.MilestoneCompletedPayload{
		MilestoneID: milestoneID,
		GroupID:     groupID,
		CompletedAt: completedAt,
		Source:      source,
		TraceID:     trace.FromContext(ctx),
	}
	if err := outbox.InsertEventInTx(ctx, tx, r.outboxRepo, "milestone", &milestoneID, mqcontracts.RoutingKeyMilestoneCompleted, payload); err != nil {
		r.logger.Error("Failed to insert milestone.completed to outbox",
			zap.Int64("milestone_id", milestoneID),
			zap.Error(err),
		)
		return err
	}
	return nil
}

func scanMilestone(row pgx.Row) (*model.Milestone, error) {
	var (
		m   model.Milestone
		typ string
	)
	err := row.Scan(
		&m.ID,
		&m.GroupID,
		&m.Title,
		&m.Description,
		&typ,
		&m.TargetData,
		&m.CompletionCriteria,
		&m.StartDate,
		&m.EndDate,
		&m.Completed,
		&m.CompletedAt,
		&m.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	m.Type = model.MilestoneType(typ)
	return &m, nil
}

func collectMilestones(rows pgx.Rows) ([]model.Milestone, error) {
	defer rows.Close()

	var out []model.Milestone
	for rows.Next() {
		m, err := scanMilestone(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan milestone: %w", err)
		}
		out = append(out, *m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate milestones: %w", err)
	}
	return out, nil
}

func observe(operation, table string, start time.Time) {
	metrics.RecordDBQueryDuration(operation, table, time.Since(start))
}
