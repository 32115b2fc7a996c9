// Package progress computes a member's percent complete for a milestone from
// a parsed snapshot.
package progress

import (
	"encoding/json"
	"math"
	"strings"

	"groupmilestones/internal/model"
	"groupmilestones/internal/snapshot"
)

// Config carries the fallbacks applied when target data leaves a field unset.
type Config struct {
	DefaultTotalLevel   int64  `yaml:"default_total_level"`
	DefaultKillCount    int64  `yaml:"default_kill_count"`
	FinishedQuestStatus string `yaml:"finished_quest_status"`
}

func DefaultConfig() Config {
	return Config{
		DefaultTotalLevel:   500,
		DefaultKillCount:    50,
		FinishedQuestStatus: "FINISHED",
	}
}

type SkillTotalDetail struct {
	CurrentTotal int64 `json:"currentTotal"`
	TargetTotal  int64 `json:"targetTotal"`
}

type BossKCDetail struct {
	CurrentKC int64  `json:"currentKc"`
	TargetKC  int64  `json:"targetKc"`
	BossName  string `json:"bossName"`
}

type CollectionLogDetail struct {
	ObtainedCount  int64  `json:"obtainedCount"`
	TotalCount     int64  `json:"totalCount"`
	CollectionName string `json:"collectionName"`
}

type QuestCompletionDetail struct {
	CompletedCount int `json:"completedCount"`
	TotalQuests    int `json:"totalQuests"`
}

type AchievementDiaryDetail struct {
	Completed bool   `json:"completed"`
	DiaryName string `json:"diaryName"`
	Tier      string `json:"tier"`
}

// EmptyDetail marshals to {} and is reported whenever nothing could be computed.
type EmptyDetail struct{}

type Result struct {
	Detail  any
	Percent float64
}

// JSON returns the detail as stored in current_progress.
func (r Result) JSON() (json.RawMessage, error) {
	if r.Detail == nil {
		return json.RawMessage("{}"), nil
	}
	return json.Marshal(r.Detail)
}

func empty() Result {
	return Result{Detail: EmptyDetail{}}
}

type Calculator struct {
	cfg Config
}

func NewCalculator(cfg Config) *Calculator {
	return &Calculator{cfg: cfg}
}

// Calculate never fails hard: on bad target data it still returns a 0%
// result alongside an error wrapping model.ErrValidation.
func (c *Calculator) Calculate(t model.MilestoneType, targetData json.RawMessage, snap snapshot.Snapshot) (Result, error) {
	target, err := ParseTarget(t, targetData)
	if err != nil {
		return empty(), err
	}

	var res Result
	switch tg := target.(type) {
	case *SkillTotalTarget:
		res = c.skillTotal(tg, snap.Skills)
	case *BossKCTarget:
		res = c.bossKC(tg, snap.Stats)
	case *CollectionLogTarget:
		res = collectionLog(tg, snap.CollectionLog)
	case *QuestCompletionTarget:
		res = c.questCompletion(tg, snap.Quests)
	case *AchievementDiaryTarget:
		res = achievementDiary(tg, snap.DiaryVars)
	default:
		res = empty()
	}
	res.Percent = Clamp(res.Percent)
	return res, nil
}

func (c *Calculator) skillTotal(tg *SkillTotalTarget, skills map[string]snapshot.Skill) Result {
	if skills == nil {
		return empty()
	}
	target := positiveOr(tg.TotalLevel, c.cfg.DefaultTotalLevel)

	var total int64
	for _, s := range skills {
		total += s.Level
	}
	return Result{
		Detail:  SkillTotalDetail{CurrentTotal: total, TargetTotal: target},
		Percent: ratio(total, target),
	}
}

func (c *Calculator) bossKC(tg *BossKCTarget, stats map[string]int64) Result {
	if stats == nil || tg.BossName == "" {
		return empty()
	}
	target := positiveOr(tg.KillCount, c.cfg.DefaultKillCount)
	current := stats[BossStatKey(tg.BossName)]
	return Result{
		Detail:  BossKCDetail{CurrentKC: current, TargetKC: target, BossName: tg.BossName},
		Percent: ratio(current, target),
	}
}

func collectionLog(tg *CollectionLogTarget, log map[string]snapshot.CollectionEntry) Result {
	if log == nil || tg.CollectionName == "" {
		return empty()
	}
	entry, ok := log[tg.CollectionName]
	if !ok {
		return empty()
	}
	total := entry.Total
	if total <= 0 {
		total = 1
	}
	return Result{
		Detail: CollectionLogDetail{
			ObtainedCount:  entry.Obtained,
			TotalCount:     total,
			CollectionName: tg.CollectionName,
		},
		Percent: ratio(entry.Obtained, total),
	}
}

func (c *Calculator) questCompletion(tg *QuestCompletionTarget, quests map[string]string) Result {
	if quests == nil || len(tg.QuestList) == 0 {
		return empty()
	}
	done := 0
	for _, name := range tg.QuestList {
		if status, ok := quests[name]; ok && status == c.cfg.FinishedQuestStatus {
			done++
		}
	}
	return Result{
		Detail:  QuestCompletionDetail{CompletedCount: done, TotalQuests: len(tg.QuestList)},
		Percent: ratio(int64(done), int64(len(tg.QuestList))),
	}
}

func achievementDiary(tg *AchievementDiaryTarget, vars map[string]bool) Result {
	if vars == nil || tg.DiaryName == "" || tg.Tier == "" {
		return empty()
	}
	done := vars[DiaryKey(tg.DiaryName, tg.Tier)]
	res := Result{Detail: AchievementDiaryDetail{Completed: done, DiaryName: tg.DiaryName, Tier: tg.Tier}}
	if done {
		res.Percent = model.FullPercent
	}
	return res
}

// BossStatKey maps "Corporeal Beast" to "corporeal_beast_kc".
func BossStatKey(bossName string) string {
	return strings.ReplaceAll(strings.ToLower(bossName), " ", "_") + "_kc"
}

// DiaryKey maps ("Varrock", "Hard") to "varrock_hard".
func DiaryKey(diaryName, tier string) string {
	return strings.ToLower(diaryName) + "_" + strings.ToLower(tier)
}

// Clamp forces p into [0, 100]. NaN becomes 0.
func Clamp(p float64) float64 {
	switch {
	case math.IsNaN(p), p < 0:
		return 0
	case p > model.FullPercent:
		return model.FullPercent
	default:
		return p
	}
}

func ratio(current, target int64) float64 {
	if target <= 0 {
		return 0
	}
	return float64(current) / float64(target) * model.FullPercent
}

func positiveOr(v *int64, def int64) int64 {
	if v != nil && *v > 0 {
		return *v
	}
	return def
}
