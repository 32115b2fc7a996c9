package milestone

import "groupmilestones/internal/model"

// Verdict is the outcome of one completion check.
type Verdict struct {
	TotalMembers     int
	CompletedMembers int
	Complete         bool
}

// Decide applies the unanimity rule: every current member must hold a record
// at exactly 100. Records of former members are ignored and a member without
// a record counts as not done. An empty roster never completes.
func Decide(members []int64, records []model.MemberProgress) Verdict {
	done := make(map[int64]bool, len(records))
	for _, r := range records {
		if r.PercentComplete == model.FullPercent {
			done[r.MemberID] = true
		}
	}

	v := Verdict{TotalMembers: len(members)}
	seen := make(map[int64]bool, len(members))
	for _, id := range members {
		if seen[id] {
			v.TotalMembers--
			continue
		}
		seen[id] = true
		if done[id] {
			v.CompletedMembers++
		}
	}
	v.Complete = v.TotalMembers > 0 && v.CompletedMembers == v.TotalMembers
	return v
}

// GroupProgress averages over members that have a record; absent members are
// left out instead of counting as 0.
func GroupProgress(records []model.MemberProgress) float64 {
	if len(records) == 0 {
		return 0
	}
	var sum float64
	for _, r := range records {
		sum += r.PercentComplete
	}
	return sum / float64(len(records))
}
