package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	mqcontracts "groupmilestones/contracts/mq"
	"groupmilestones/internal/model"
	"groupmilestones/internal/service/milestone"
	"groupmilestones/internal/snapshot"
	"groupmilestones/pkg/logger"
	"groupmilestones/pkg/rbac"
)

// Keys set by the auth middleware.
const (
	ContextGroupID = "group_id"
	ContextRole    = "role"
)

type milestoneService interface {
	List(ctx context.Context, groupID int64, filter model.ListFilter) ([]model.MilestoneWithProgress, error)
	Get(ctx context.Context, groupID, milestoneID int64) (*model.MilestoneWithProgress, error)
	Create(ctx context.Context, groupID int64, in milestone.CreateInput) (*model.Milestone, error)
	SetStatus(ctx context.Context, groupID, milestoneID int64, completed bool) error
	RecordMemberProgress(ctx context.Context, groupID, milestoneID int64, memberName string, detail json.RawMessage, percent float64) error
	ApplySnapshot(ctx context.Context, groupID int64, memberName string, raw snapshot.Raw) (milestone.ApplyReport, error)
	Delete(ctx context.Context, groupID, milestoneID int64) error
}

type MilestoneHandler struct {
	service milestoneService
	logger  *zap.Logger
}

func NewMilestoneHandler(service milestoneService, logger *zap.Logger) *MilestoneHandler {
	return &MilestoneHandler{service: service, logger: logger}
}

type createMilestoneRequest struct {
	Title              string              `json:"title"`
	Description        string              `json:"description"`
	MilestoneType      model.MilestoneType `json:"milestone_type"`
	TargetData         json.RawMessage     `json:"target_data"`
	CompletionCriteria json.RawMessage     `json:"completion_criteria"`
	StartDate          *time.Time          `json:"start_date"`
	EndDate            *time.Time          `json:"end_date"`
}

type setStatusRequest struct {
	Completed *bool `json:"completed" binding:"required"`
}

type recordProgressRequest struct {
	CurrentProgress json.RawMessage `json:"current_progress"`
	PercentComplete *float64        `json:"percent_complete" binding:"required"`
}

// List handles GET /api/milestones?milestone_type=&include_completed=
func (h *MilestoneHandler) List(c *gin.Context) {
	groupID, ok := groupIDFrom(c)
	if !ok {
		return
	}

	filter := model.ListFilter{IncludeCompleted: true}
	if t := c.Query("milestone_type"); t != "" {
		mt := model.MilestoneType(t)
		filter.Type = &mt
	}
	if v := c.Query("include_completed"); v != "" {
		include, err := strconv.ParseBool(v)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid include_completed parameter"})
			return
		}
		filter.IncludeCompleted = include
	}

	milestones, err := h.service.List(c.Request.Context(), groupID, filter)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"milestones": milestones})
}

// Get handles GET /api/milestones/:id
func (h *MilestoneHandler) Get(c *gin.Context) {
	groupID, milestoneID, ok := scopedID(c)
	if !ok {
		return
	}

	m, err := h.service.Get(c.Request.Context(), groupID, milestoneID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, m)
}

// Create handles POST /api/milestones
func (h *MilestoneHandler) Create(c *gin.Context) {
	groupID, ok := groupIDFrom(c)
	if !ok {
		return
	}

	var req createMilestoneRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	m, err := h.service.Create(c.Request.Context(), groupID, milestone.CreateInput{
		Title:              req.Title,
		Description:        req.Description,
		Type:               req.MilestoneType,
		TargetData:         req.TargetData,
		CompletionCriteria: req.CompletionCriteria,
		StartDate:          req.StartDate,
		EndDate:            req.EndDate,
	})
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, m)
}

// SetStatus handles PATCH /api/milestones/:id/status, the manual override.
func (h *MilestoneHandler) SetStatus(c *gin.Context) {
	groupID, milestoneID, ok := scopedID(c)
	if !ok {
		return
	}

	var req setStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	if err := h.service.SetStatus(c.Request.Context(), groupID, milestoneID, *req.Completed); err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"milestone_id": milestoneID,
		"completed":    *req.Completed,
	})
}

// RecordProgress handles PATCH /api/milestones/:id/members/:member_name/progress
func (h *MilestoneHandler) RecordProgress(c *gin.Context) {
	groupID, milestoneID, ok := scopedID(c)
	if !ok {
		return
	}
	memberName := c.Param("member_name")

	var req recordProgressRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	err := h.service.RecordMemberProgress(c.Request.Context(), groupID, milestoneID, memberName, req.CurrentProgress, *req.PercentComplete)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"milestone_id": milestoneID,
		"member_name":  memberName,
	})
}

// ApplySnapshot handles POST /api/snapshots, the synchronous twin of the
// member.snapshot consumer.
func (h *MilestoneHandler) ApplySnapshot(c *gin.Context) {
	groupID, ok := groupIDFrom(c)
	if !ok {
		return
	}

	var req mqcontracts.MemberSnapshotPayload
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	if req.GroupID != 0 {
		if err := rbac.ValidateGroupIDInPayload(groupID, req.GroupID); err != nil {
			c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
			return
		}
	}
	if req.MemberName == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "member_name is required"})
		return
	}

	report, err := h.service.ApplySnapshot(c.Request.Context(), groupID, req.MemberName, snapshot.Raw{
		Skills:        req.Skills,
		Stats:         req.Stats,
		CollectionLog: req.CollectionLog,
		Quests:        req.Quests,
		DiaryVars:     req.DiaryVars,
	})
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

// Delete handles DELETE /api/milestones/:id
func (h *MilestoneHandler) Delete(c *gin.Context) {
	groupID, milestoneID, ok := scopedID(c)
	if !ok {
		return
	}

	if err := h.service.Delete(c.Request.Context(), groupID, milestoneID); err != nil {
		h.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *MilestoneHandler) writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, model.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, model.ErrValidation):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		logger.WithTrace(c.Request.Context(), h.logger).Error("Request failed",
			zap.String("path", c.FullPath()),
			zap.Error(err),
		)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

// groupIDFrom 统一的 groupID 读取工具
func groupIDFrom(c *gin.Context) (int64, bool) {
	v, ok := c.Get(ContextGroupID)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "not authenticated"})
		return 0, false
	}
	return v.(int64), true
}

func scopedID(c *gin.Context) (int64, int64, bool) {
	groupID, ok := groupIDFrom(c)
	if !ok {
		return 0, 0, false
	}
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid milestone id"})
		return 0, 0, false
	}
	return groupID, id, true
}
