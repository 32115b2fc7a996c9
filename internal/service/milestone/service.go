// Package milestone tracks per-member progress on group milestones and closes
// a milestone once every current member has reached it.
package milestone

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	mqcontracts "groupmilestones/contracts/mq"
	"groupmilestones/internal/model"
	"groupmilestones/internal/progress"
	"groupmilestones/internal/snapshot"
	"groupmilestones/pkg/logger"
	"groupmilestones/pkg/metrics"
)

const (
	sourceAuto   = "auto"
	sourceManual = "manual"
)

type MilestoneStore interface {
	List(ctx context.Context, groupID int64, filter model.ListFilter) ([]model.Milestone, error)
	ListIncomplete(ctx context.Context, groupID int64) ([]model.Milestone, error)
	FindByID(ctx context.Context, groupID, milestoneID int64) (*model.Milestone, error)
	Insert(ctx context.Context, m *model.Milestone) error
	MarkCompleted(ctx context.Context, groupID, milestoneID int64) (bool, error)
	SetStatus(ctx context.Context, groupID, milestoneID int64, completed bool) error
	Delete(ctx context.Context, groupID, milestoneID int64) error
}

type ProgressStore interface {
	Upsert(ctx context.Context, u model.ProgressUpdate) error
	ListByMilestone(ctx context.Context, milestoneID int64) ([]model.MemberProgress, error)
	ListByMilestones(ctx context.Context, milestoneIDs []int64) (map[int64][]model.MemberProgress, error)
}

//go:generate mockgen -destination=mock_member_directory_test.go -package=milestone groupmilestones/internal/service/milestone MemberDirectory

// MemberDirectory is the group roster owned by the ingest side.
type MemberDirectory interface {
	ListCurrentMembers(ctx context.Context, groupID int64) ([]int64, error)
	ResolveMemberID(ctx context.Context, groupID int64, name string) (int64, error)
}

type Service struct {
	milestones MilestoneStore
	progress   ProgressStore
	members    MemberDirectory
	calc       *progress.Calculator
	logger     *zap.Logger
}

func NewService(milestones MilestoneStore, progressStore ProgressStore, members MemberDirectory, calc *progress.Calculator, logger *zap.Logger) *Service {
	return &Service{
		milestones: milestones,
		progress:   progressStore,
		members:    members,
		calc:       calc,
		logger:     logger,
	}
}

// CreateInput is what a caller may set on a new milestone.
type CreateInput struct {
	Title              string
	Description        string
	Type               model.MilestoneType
	TargetData         json.RawMessage
	CompletionCriteria json.RawMessage
	StartDate          *time.Time
	EndDate            *time.Time
}

// ApplyReport summarises one snapshot pass.
type ApplyReport struct {
	Evaluated int     `json:"evaluated"`
	Completed []int64 `json:"completed"`
}

// List returns the group's milestones with their member progress attached.
func (s *Service) List(ctx context.Context, groupID int64, filter model.ListFilter) ([]model.MilestoneWithProgress, error) {
	milestones, err := s.milestones.List(ctx, groupID, filter)
	if err != nil {
		return nil, err
	}

	ids := make([]int64, 0, len(milestones))
	for _, m := range milestones {
		ids = append(ids, m.ID)
	}
	byMilestone, err := s.progress.ListByMilestones(ctx, ids)
	if err != nil {
		return nil, err
	}

	out := make([]model.MilestoneWithProgress, 0, len(milestones))
	for _, m := range milestones {
		out = append(out, withProgress(m, byMilestone[m.ID]))
	}
	return out, nil
}

func (s *Service) Get(ctx context.Context, groupID, milestoneID int64) (*model.MilestoneWithProgress, error) {
	m, err := s.milestones.FindByID(ctx, groupID, milestoneID)
	if err != nil {
		return nil, err
	}
	records, err := s.progress.ListByMilestone(ctx, m.ID)
	if err != nil {
		return nil, err
	}
	mp := withProgress(*m, records)
	return &mp, nil
}

// Create validates the input and stores a new open milestone.
func (s *Service) Create(ctx context.Context, groupID int64, in CreateInput) (*model.Milestone, error) {
	m, err := buildMilestone(groupID, in)
	if err != nil {
		return nil, err
	}
	if err := s.milestones.Insert(ctx, m); err != nil {
		return nil, err
	}
	return m, nil
}

// SetStatus forces the completion flag regardless of member progress.
func (s *Service) SetStatus(ctx context.Context, groupID, milestoneID int64, completed bool) error {
	if err := s.milestones.SetStatus(ctx, groupID, milestoneID, completed); err != nil {
		return err
	}
	if completed {
		metrics.IncrementMilestoneCompleted(mqcontracts.CompletionSourceOverride)
	}
	return nil
}

// RecordMemberProgress stores a manually entered value for one member and
// re-checks completion.
func (s *Service) RecordMemberProgress(ctx context.Context, groupID, milestoneID int64, memberName string, detail json.RawMessage, percent float64) error {
	m, err := s.milestones.FindByID(ctx, groupID, milestoneID)
	if err != nil {
		return err
	}
	memberID, err := s.members.ResolveMemberID(ctx, groupID, memberName)
	if err != nil {
		return err
	}

	detail, err = normalizeObject(detail, "current_progress")
	if err != nil {
		return err
	}

	err = s.progress.Upsert(ctx, model.ProgressUpdate{
		MilestoneID:     m.ID,
		MemberID:        memberID,
		CurrentProgress: detail,
		PercentComplete: progress.Clamp(percent),
	})
	if err != nil {
		return err
	}
	metrics.IncrementProgressUpsert(sourceManual)

	_, err = s.evaluateCompletion(ctx, m)
	return err
}

// ApplySnapshot recomputes the member's progress on every open milestone of
// the group. A failure on one milestone does not stop the others; all
// failures are returned together.
func (s *Service) ApplySnapshot(ctx context.Context, groupID int64, memberName string, raw snapshot.Raw) (ApplyReport, error) {
	log := logger.WithTrace(ctx, s.logger).With(
		zap.Int64("group_id", groupID),
		zap.String("member_name", memberName),
	)
	report := ApplyReport{Completed: []int64{}}

	memberID, err := s.members.ResolveMemberID(ctx, groupID, memberName)
	if err != nil {
		return report, err
	}

	snap, facetErrs := snapshot.Parse(raw)
	for _, fe := range facetErrs {
		metrics.IncrementFacetParseFailure(string(fe.Facet))
		log.Warn("Snapshot facet dropped", zap.String("facet", string(fe.Facet)), zap.Error(fe.Err))
	}

	open, err := s.milestones.ListIncomplete(ctx, groupID)
	if err != nil {
		return report, err
	}

	var errs error
	for i := range open {
		m := &open[i]
		completed, err := s.applyOne(ctx, log, m, memberID, snap)
		if err != nil {
			log.Error("Failed to apply snapshot to milestone",
				zap.Int64("milestone_id", m.ID),
				zap.Error(err),
			)
			errs = multierr.Append(errs, fmt.Errorf("milestone %d: %w", m.ID, err))
			continue
		}
		report.Evaluated++
		if completed {
			report.Completed = append(report.Completed, m.ID)
		}
	}

	log.Info("Snapshot applied",
		zap.Int("open_milestones", len(open)),
		zap.Int("evaluated", report.Evaluated),
		zap.Int("completed", len(report.Completed)),
	)
	return report, errs
}

func (s *Service) applyOne(ctx context.Context, log *zap.Logger, m *model.Milestone, memberID int64, snap snapshot.Snapshot) (bool, error) {
	res, err := s.calc.Calculate(m.Type, m.TargetData, snap)
	if err != nil {
		// bad target data scores 0 and the pass goes on
		metrics.IncrementCalculationFailure(string(m.Type))
		log.Warn("Progress calculation failed",
			zap.Int64("milestone_id", m.ID),
			zap.String("milestone_type", string(m.Type)),
			zap.Error(err),
		)
	}

	detail, err := res.JSON()
	if err != nil {
		return false, err
	}

	err = s.progress.Upsert(ctx, model.ProgressUpdate{
		MilestoneID:     m.ID,
		MemberID:        memberID,
		CurrentProgress: detail,
		PercentComplete: res.Percent,
	})
	if err != nil {
		return false, err
	}
	metrics.IncrementProgressUpsert(sourceAuto)

	return s.evaluateCompletion(ctx, m)
}

// evaluateCompletion re-reads roster and progress and closes the milestone
// when the unanimity rule holds. It reports whether this call closed it.
func (s *Service) evaluateCompletion(ctx context.Context, m *model.Milestone) (bool, error) {
	members, err := s.members.ListCurrentMembers(ctx, m.GroupID)
	if err != nil {
		return false, err
	}
	records, err := s.progress.ListByMilestone(ctx, m.ID)
	if err != nil {
		return false, err
	}

	v := Decide(members, records)
	if !v.Complete {
		return false, nil
	}

	changed, err := s.milestones.MarkCompleted(ctx, m.GroupID, m.ID)
	if err != nil {
		return false, err
	}
	if changed {
		metrics.IncrementMilestoneCompleted(sourceAuto)
		logger.WithTrace(ctx, s.logger).Info("Milestone auto-completed",
			zap.Int64("milestone_id", m.ID),
			zap.Int64("group_id", m.GroupID),
			zap.Int("members", v.TotalMembers),
		)
	}
	return changed, nil
}

// Delete removes the milestone and its progress.
func (s *Service) Delete(ctx context.Context, groupID, milestoneID int64) error {
	return s.milestones.Delete(ctx, groupID, milestoneID)
}

func withProgress(m model.Milestone, records []model.MemberProgress) model.MilestoneWithProgress {
	if records == nil {
		records = []model.MemberProgress{}
	}
	return model.MilestoneWithProgress{
		Milestone:      m,
		GroupProgress:  GroupProgress(records),
		MemberProgress: records,
	}
}

func buildMilestone(groupID int64, in CreateInput) (*model.Milestone, error) {
	title := strings.TrimSpace(in.Title)
	if title == "" {
		return nil, fmt.Errorf("%w: title is required", model.ErrValidation)
	}
	typ := model.MilestoneType(strings.TrimSpace(string(in.Type)))
	if typ == "" {
		return nil, fmt.Errorf("%w: milestone_type is required", model.ErrValidation)
	}

	target, err := normalizeObject(in.TargetData, "target_data")
	if err != nil {
		return nil, err
	}
	if _, err := progress.ParseTarget(typ, target); err != nil {
		return nil, err
	}

	var criteria json.RawMessage
	if c := bytes.TrimSpace(in.CompletionCriteria); len(c) > 0 && !bytes.Equal(c, []byte("null")) {
		if !json.Valid(c) {
			return nil, fmt.Errorf("%w: completion_criteria is not valid JSON", model.ErrValidation)
		}
		criteria = c
	}

	m := &model.Milestone{
		GroupID:            groupID,
		Title:              title,
		Description:        in.Description,
		Type:               typ,
		TargetData:         target,
		CompletionCriteria: criteria,
		EndDate:            in.EndDate,
	}
	if in.StartDate != nil {
		m.StartDate = *in.StartDate
	}
	if in.EndDate != nil && in.StartDate != nil && in.EndDate.Before(*in.StartDate) {
		return nil, fmt.Errorf("%w: end_date is before start_date", model.ErrValidation)
	}
	return m, nil
}

var errNotObject = errors.New("must be a JSON object")

// normalizeObject maps empty and null to {} and rejects anything but an object.
func normalizeObject(raw json.RawMessage, field string) (json.RawMessage, error) {
	data := bytes.TrimSpace(raw)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return json.RawMessage("{}"), nil
	}
	if data[0] != '{' || !json.Valid(data) {
		return nil, fmt.Errorf("%w: %s %v", model.ErrValidation, field, errNotObject)
	}
	return json.RawMessage(data), nil
}
