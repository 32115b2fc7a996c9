package mq

import "time"

const (
	RoutingKeyMemberSnapshot     = "member.snapshot"
	RoutingKeyMilestoneCompleted = "milestone.completed"
)

// CompletionSource tells consumers whether the engine or a person closed the milestone.
const (
	CompletionSourceAuto     = "auto"
	CompletionSourceOverride = "override"
)

type MilestoneCompletedPayload struct {
	MilestoneID int64     `json:"milestone_id"`
	GroupID     int64     `json:"group_id"`
	CompletedAt time.Time `json:"completed_at"`
	Source      string    `json:"source"` // auto / override
	TraceID     string    `json:"trace_id,omitempty"`
}
