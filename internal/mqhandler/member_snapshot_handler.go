package mqhandler

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	mqcontracts "groupmilestones/contracts/mq"
	"groupmilestones/internal/model"
	"groupmilestones/internal/service/milestone"
	"groupmilestones/internal/snapshot"
	"groupmilestones/pkg/logger"
	"groupmilestones/pkg/metrics"
	"groupmilestones/pkg/mq"
	"groupmilestones/pkg/util"
)

const handlerName = "member_snapshot"

type snapshotApplier interface {
	ApplySnapshot(ctx context.Context, groupID int64, memberName string, raw snapshot.Raw) (milestone.ApplyReport, error)
}

type deduper interface {
	AcquireOnce(ctx context.Context, handler, key string) bool
	Release(ctx context.Context, handler, key string)
}

type retryCounter interface {
	IncrementAndGet(ctx context.Context, key string) (int64, error)
	Reset(ctx context.Context, key string) error
}

// MemberSnapshotHandler applies member.snapshot events. Redeliveries of the
// same snapshot id are skipped via Redis; retryable failures are requeued until maxRetries.
type MemberSnapshotHandler struct {
	service      snapshotApplier
	deduper      deduper
	retryCounter retryCounter
	maxRetries   int64
	logger       *zap.Logger
}

func NewMemberSnapshotHandler(
	service snapshotApplier,
	deduper deduper,
	retryCounter retryCounter,
	maxRetries int64,
	logger *zap.Logger,
) *MemberSnapshotHandler {
	return &MemberSnapshotHandler{
		service:      service,
		deduper:      deduper,
		retryCounter: retryCounter,
		maxRetries:   maxRetries,
		logger:       logger,
	}
}

// Handle matches mq.MessageHandler.
func (h *MemberSnapshotHandler) Handle(ctx context.Context, raw json.RawMessage) error {
	log := logger.WithTrace(ctx, h.logger)

	var p mqcontracts.MemberSnapshotPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		metrics.IncrementSnapshotProcessed("invalid")
		log.Error("Failed to unmarshal member snapshot payload (non-retryable, sending to DLQ)",
			zap.Error(err),
		)
		return mq.Permanent(fmt.Errorf("json_unmarshal_error: %w", err))
	}
	if p.GroupID <= 0 || p.MemberName == "" {
		metrics.IncrementSnapshotProcessed("invalid")
		return mq.Permanent(fmt.Errorf("%w: group_id and member_name are required", model.ErrValidation))
	}

	key, dedup := snapshotKey(p, raw)
	log = log.With(
		zap.Int64("group_id", p.GroupID),
		zap.String("member_name", p.MemberName),
		zap.String("snapshot_key", key),
	)

	if dedup && !h.deduper.AcquireOnce(ctx, handlerName, key) {
		metrics.IncrementSnapshotProcessed("duplicate")
		return nil
	}

	report, err := h.service.ApplySnapshot(ctx, p.GroupID, p.MemberName, snapshot.Raw{
		Skills:        p.Skills,
		Stats:         p.Stats,
		CollectionLog: p.CollectionLog,
		Quests:        p.Quests,
		DiaryVars:     p.DiaryVars,
	})
	retryKey := util.FormatRetryKey(handlerName, key)
	if err == nil {
		if err := h.retryCounter.Reset(ctx, retryKey); err != nil {
			log.Warn("Failed to reset retry counter", zap.Error(err))
		}
		metrics.IncrementSnapshotProcessed("ok")
		log.Info("Member snapshot processed",
			zap.Int("evaluated", report.Evaluated),
			zap.Int64s("completed", report.Completed),
		)
		return nil
	}

	retryable, errType := classify(err)
	log = log.With(zap.String("error_type", errType), zap.Bool("retryable", retryable), zap.Error(err))
	if !retryable {
		metrics.IncrementSnapshotProcessed("failed")
		log.Error("Member snapshot failed (non-retryable, sending to DLQ)")
		return mq.Permanent(err)
	}

	count, cerr := h.retryCounter.IncrementAndGet(ctx, retryKey)
	if cerr != nil {
		// Redis 不可用时按第一次重试处理
		log.Warn("Failed to increment retry counter", zap.Error(cerr))
		count = 1
	}
	if !util.ShouldRetry(count, h.maxRetries, retryable) {
		metrics.IncrementSnapshotProcessed("failed")
		log.Error("Member snapshot exceeded max retries, sending to DLQ", zap.Int64("retry_count", count))
		return mq.Permanent(fmt.Errorf("max retries exceeded (%d): %w", count, err))
	}

	// 允许重投后的消息再次通过去重
	if dedup {
		h.deduper.Release(ctx, handlerName, key)
	}
	metrics.IncrementSnapshotProcessed("retry")
	log.Warn("Member snapshot failed, will retry", zap.Int64("retry_count", count))
	return err
}

// classify treats an aggregated failure as retryable when any part is.
func classify(err error) (bool, string) {
	if errors.Is(err, model.ErrNotFound) {
		return false, "not_found"
	}
	if errors.Is(err, model.ErrValidation) {
		return false, "validation"
	}

	retryable, errType := false, "unknown_error"
	for _, e := range multierr.Errors(err) {
		ok, t := util.IsRetryableError(e)
		if ok {
			return true, t
		}
		errType = t
	}
	return retryable, errType
}

// snapshotKey identifies a delivery for retry counting. Only a producer
// snapshot id marks a redelivery; two syncs with equal content are separate
// passes, since the set of open milestones may differ between them.
func snapshotKey(p mqcontracts.MemberSnapshotPayload, raw json.RawMessage) (string, bool) {
	if p.SnapshotID != "" {
		return fmt.Sprintf("%d:%s", p.GroupID, p.SnapshotID), true
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:]), false
}
