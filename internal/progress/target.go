package progress

import (
	"bytes"
	"encoding/json"
	"fmt"

	"groupmilestones/internal/model"
)

type SkillTotalTarget struct {
	TotalLevel *int64 `json:"totalLevel,omitempty"`
}

type BossKCTarget struct {
	BossName  string `json:"bossName"`
	KillCount *int64 `json:"killCount,omitempty"`
}

type CollectionLogTarget struct {
	CollectionName string `json:"collectionName"`
}

type QuestCompletionTarget struct {
	QuestList []string `json:"questList"`
}

type AchievementDiaryTarget struct {
	DiaryName string `json:"diaryName"`
	Tier      string `json:"tier"`
}

// ParseTarget decodes target data into the struct for the milestone type.
// Types without automatic calculation return (nil, nil).
func ParseTarget(t model.MilestoneType, raw json.RawMessage) (any, error) {
	var target any
	switch t {
	case model.TypeSkillTotal:
		target = &SkillTotalTarget{}
	case model.TypeBossKC:
		target = &BossKCTarget{}
	case model.TypeCollectionLog:
		target = &CollectionLogTarget{}
	case model.TypeQuestCompletion:
		target = &QuestCompletionTarget{}
	case model.TypeAchievementDiary:
		target = &AchievementDiaryTarget{}
	default:
		return nil, nil
	}

	data := bytes.TrimSpace(raw)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		data = []byte("{}")
	}
	if data[0] != '{' {
		return nil, fmt.Errorf("%w: target data for %s must be an object", model.ErrValidation, t)
	}
	if err := json.Unmarshal(data, target); err != nil {
		return nil, fmt.Errorf("%w: target data for %s: %v", model.ErrValidation, t, err)
	}
	return target, nil
}
