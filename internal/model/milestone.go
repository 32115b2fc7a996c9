package model

import (
	"encoding/json"
	"time"
)

// MilestoneType is the closed set of automatically evaluated milestone kinds.
// Any other stored value is a custom milestone: every snapshot pass rewrites
// each member's record on it to 0 with an empty detail, so manual progress
// edits hold only until that member's next sync. Status overrides stick.
type MilestoneType string

const (
	TypeSkillTotal       MilestoneType = "skill_total"
	TypeBossKC           MilestoneType = "boss_kc"
	TypeCollectionLog    MilestoneType = "collection_log"
	TypeQuestCompletion  MilestoneType = "quest_completion"
	TypeAchievementDiary MilestoneType = "achievement_diary"
)

// KnownTypes lists every type the progress calculator evaluates.
var KnownTypes = []MilestoneType{
	TypeSkillTotal,
	TypeBossKC,
	TypeCollectionLog,
	TypeQuestCompletion,
	TypeAchievementDiary,
}

// IsAuto reports whether snapshots can advance a milestone of this type.
func (t MilestoneType) IsAuto() bool {
	for _, k := range KnownTypes {
		if t == k {
			return true
		}
	}
	return false
}

// FullPercent is the only value that counts a member as done.
const FullPercent = 100.0

type Milestone struct {
	ID                 int64           `json:"milestone_id"`
	GroupID            int64           `json:"group_id"`
	Title              string          `json:"title"`
	Description        string          `json:"description"`
	Type               MilestoneType   `json:"milestone_type"`
	TargetData         json.RawMessage `json:"target_data"`
	CompletionCriteria json.RawMessage `json:"completion_criteria,omitempty"`
	StartDate          time.Time       `json:"start_date"`
	EndDate            *time.Time      `json:"end_date,omitempty"`
	Completed          bool            `json:"completed"`
	CompletedAt        *time.Time      `json:"completed_at,omitempty"`
	CreatedAt          time.Time       `json:"created_at"`
}

// MemberProgress is one member's stored progress on one milestone.
type MemberProgress struct {
	MilestoneID     int64           `json:"-"`
	MemberID        int64           `json:"-"`
	MemberName      string          `json:"member_name"`
	CurrentProgress json.RawMessage `json:"current_progress"`
	PercentComplete float64         `json:"percent_complete"`
	LastUpdated     time.Time       `json:"last_updated"`
}

// ProgressUpdate is the value half of an upsert; LastUpdated is always set by the store.
type ProgressUpdate struct {
	MilestoneID     int64
	MemberID        int64
	CurrentProgress json.RawMessage
	PercentComplete float64
}

type MilestoneWithProgress struct {
	Milestone      Milestone        `json:"milestone"`
	GroupProgress  float64          `json:"group_progress"`
	MemberProgress []MemberProgress `json:"member_progress"`
}

type ListFilter struct {
	Type             *MilestoneType
	IncludeCompleted bool
}
