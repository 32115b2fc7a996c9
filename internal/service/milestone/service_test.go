package milestone

import (
	"context"
	"encoding/json"
	"errors"
	"reflect"
	"sort"
	"testing"

	"go.uber.org/mock/gomock"
	"go.uber.org/zap"

	"groupmilestones/internal/model"
	"groupmilestones/internal/progress"
	"groupmilestones/internal/snapshot"
)

const testGroup int64 = 7

type fakeMilestones struct {
	rows        map[int64]*model.Milestone
	nextID      int64
	transitions int
	overrides   []bool
}

func newFakeMilestones(ms ...model.Milestone) *fakeMilestones {
	f := &fakeMilestones{rows: map[int64]*model.Milestone{}, nextID: 100}
	for i := range ms {
		m := ms[i]
		f.rows[m.ID] = &m
	}
	return f
}

func (f *fakeMilestones) sorted() []model.Milestone {
	var out []model.Milestone
	for _, m := range f.rows {
		out = append(out, *m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (f *fakeMilestones) List(_ context.Context, groupID int64, filter model.ListFilter) ([]model.Milestone, error) {
	var out []model.Milestone
	for _, m := range f.sorted() {
		if m.GroupID != groupID {
			continue
		}
		if filter.Type != nil && m.Type != *filter.Type {
			continue
		}
		if !filter.IncludeCompleted && m.Completed {
			continue
		}
		out = append(out, m)
	}
	return out, nil
}

func (f *fakeMilestones) ListIncomplete(ctx context.Context, groupID int64) ([]model.Milestone, error) {
	return f.List(ctx, groupID, model.ListFilter{})
}

func (f *fakeMilestones) FindByID(_ context.Context, groupID, id int64) (*model.Milestone, error) {
	m, ok := f.rows[id]
	if !ok || m.GroupID != groupID {
		return nil, model.ErrNotFound
	}
	cp := *m
	return &cp, nil
}

func (f *fakeMilestones) Insert(_ context.Context, m *model.Milestone) error {
	f.nextID++
	m.ID = f.nextID
	cp := *m
	f.rows[m.ID] = &cp
	return nil
}

func (f *fakeMilestones) MarkCompleted(_ context.Context, groupID, id int64) (bool, error) {
	m, ok := f.rows[id]
	if !ok || m.GroupID != groupID || m.Completed {
		return false, nil
	}
	m.Completed = true
	f.transitions++
	return true, nil
}

func (f *fakeMilestones) SetStatus(_ context.Context, groupID, id int64, completed bool) error {
	m, ok := f.rows[id]
	if !ok || m.GroupID != groupID {
		return model.ErrNotFound
	}
	m.Completed = completed
	f.overrides = append(f.overrides, completed)
	return nil
}

func (f *fakeMilestones) Delete(_ context.Context, groupID, id int64) error {
	m, ok := f.rows[id]
	if !ok || m.GroupID != groupID {
		return model.ErrNotFound
	}
	delete(f.rows, id)
	return nil
}

type progressKey struct{ milestone, member int64 }

type fakeProgress struct {
	rows    map[progressKey]model.MemberProgress
	failFor map[int64]error
	upserts int
}

func newFakeProgress() *fakeProgress {
	return &fakeProgress{rows: map[progressKey]model.MemberProgress{}, failFor: map[int64]error{}}
}

func (f *fakeProgress) seed(milestoneID, memberID int64, percent float64) {
	f.rows[progressKey{milestoneID, memberID}] = model.MemberProgress{
		MilestoneID:     milestoneID,
		MemberID:        memberID,
		CurrentProgress: json.RawMessage("{}"),
		PercentComplete: percent,
	}
}

func (f *fakeProgress) Upsert(_ context.Context, u model.ProgressUpdate) error {
	if err := f.failFor[u.MilestoneID]; err != nil {
		return err
	}
	f.upserts++
	f.rows[progressKey{u.MilestoneID, u.MemberID}] = model.MemberProgress{
		MilestoneID:     u.MilestoneID,
		MemberID:        u.MemberID,
		CurrentProgress: u.CurrentProgress,
		PercentComplete: u.PercentComplete,
	}
	return nil
}

func (f *fakeProgress) ListByMilestone(_ context.Context, milestoneID int64) ([]model.MemberProgress, error) {
	var out []model.MemberProgress
	for k, p := range f.rows {
		if k.milestone == milestoneID {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].MemberID < out[j].MemberID })
	return out, nil
}

func (f *fakeProgress) ListByMilestones(ctx context.Context, ids []int64) (map[int64][]model.MemberProgress, error) {
	out := map[int64][]model.MemberProgress{}
	for _, id := range ids {
		records, _ := f.ListByMilestone(ctx, id)
		if records != nil {
			out[id] = records
		}
	}
	return out, nil
}

func bossMilestone(id int64) model.Milestone {
	return model.Milestone{
		ID:         id,
		GroupID:    testGroup,
		Title:      "Zulrah 50",
		Type:       model.TypeBossKC,
		TargetData: json.RawMessage(`{"bossName":"Zulrah","killCount":50}`),
	}
}

func roster(t *testing.T, members []int64, names map[string]int64) *MockMemberDirectory {
	dir := NewMockMemberDirectory(gomock.NewController(t))
	dir.EXPECT().
		ListCurrentMembers(gomock.Any(), testGroup).
		Return(members, nil).
		AnyTimes()
	for name, id := range names {
		dir.EXPECT().
			ResolveMemberID(gomock.Any(), testGroup, name).
			Return(id, nil).
			AnyTimes()
	}
	return dir
}

func newTestService(ms *fakeMilestones, ps *fakeProgress, dir MemberDirectory) *Service {
	return NewService(ms, ps, dir, progress.NewCalculator(progress.DefaultConfig()), zap.NewNop())
}

func zulrahSnapshot(kc int) snapshot.Raw {
	stats, _ := json.Marshal(map[string]int{"zulrah_kc": kc})
	s, _ := json.Marshal(string(stats))
	return snapshot.Raw{Stats: s}
}

func TestDecide(t *testing.T) {
	rec := func(member int64, pct float64) model.MemberProgress {
		return model.MemberProgress{MemberID: member, PercentComplete: pct}
	}
	tests := []struct {
		name    string
		members []int64
		records []model.MemberProgress
		want    Verdict
	}{
		{"all at 100", []int64{1, 2}, []model.MemberProgress{rec(1, 100), rec(2, 100)}, Verdict{2, 2, true}},
		{"one at 99", []int64{1, 2}, []model.MemberProgress{rec(1, 100), rec(2, 99)}, Verdict{2, 1, false}},
		{"one without record", []int64{1, 2, 3}, []model.MemberProgress{rec(1, 100), rec(2, 100)}, Verdict{3, 2, false}},
		{"former member ignored", []int64{1}, []model.MemberProgress{rec(1, 100), rec(9, 20)}, Verdict{1, 1, true}},
		{"empty roster", nil, []model.MemberProgress{rec(1, 100)}, Verdict{0, 0, false}},
		{"no records", []int64{1}, nil, Verdict{1, 0, false}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Decide(tt.members, tt.records); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Decide() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestApplySnapshotCompletesWhenEveryoneIsDone(t *testing.T) {
	ms := newFakeMilestones(bossMilestone(1))
	ps := newFakeProgress()
	ps.seed(1, 20, 100)
	svc := newTestService(ms, ps, roster(t, []int64{10, 20}, map[string]int64{"alice": 10}))

	report, err := svc.ApplySnapshot(context.Background(), testGroup, "alice", zulrahSnapshot(75))
	if err != nil {
		t.Fatalf("ApplySnapshot() error = %v", err)
	}
	if !reflect.DeepEqual(report, ApplyReport{Evaluated: 1, Completed: []int64{1}}) {
		t.Errorf("report = %+v", report)
	}

	got := ps.rows[progressKey{1, 10}]
	if got.PercentComplete != 100 {
		t.Errorf("percent = %v, want clamped 100", got.PercentComplete)
	}
	if string(got.CurrentProgress) != `{"currentKc":75,"targetKc":50,"bossName":"Zulrah"}` {
		t.Errorf("detail = %s", got.CurrentProgress)
	}
	if !ms.rows[1].Completed {
		t.Error("milestone should be completed")
	}
}

func TestApplySnapshotRequiresUnanimity(t *testing.T) {
	ms := newFakeMilestones(bossMilestone(1))
	ps := newFakeProgress()
	ps.seed(1, 20, 99)
	svc := newTestService(ms, ps, roster(t, []int64{10, 20}, map[string]int64{"alice": 10}))

	if _, err := svc.ApplySnapshot(context.Background(), testGroup, "alice", zulrahSnapshot(50)); err != nil {
		t.Fatalf("ApplySnapshot() error = %v", err)
	}
	if ms.rows[1].Completed {
		t.Error("milestone completed while a member is at 99")
	}
}

func TestApplySnapshotIsIdempotent(t *testing.T) {
	ms := newFakeMilestones(bossMilestone(1), bossMilestone(2))
	ms.rows[2].TargetData = json.RawMessage(`{"bossName":"Zulrah","killCount":100}`)
	ps := newFakeProgress()
	svc := newTestService(ms, ps, roster(t, []int64{10}, map[string]int64{"alice": 10}))

	ctx := context.Background()
	if _, err := svc.ApplySnapshot(ctx, testGroup, "alice", zulrahSnapshot(50)); err != nil {
		t.Fatal(err)
	}
	first := ps.rows[progressKey{2, 10}]

	report, err := svc.ApplySnapshot(ctx, testGroup, "alice", zulrahSnapshot(50))
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(ps.rows[progressKey{2, 10}], first) {
		t.Errorf("second pass changed progress: %+v vs %+v", ps.rows[progressKey{2, 10}], first)
	}
	if ms.transitions != 1 {
		t.Errorf("transitions = %d, want 1", ms.transitions)
	}
	// completed milestone 1 is no longer evaluated
	if report.Evaluated != 1 || len(report.Completed) != 0 {
		t.Errorf("second report = %+v", report)
	}
}

func TestCompletionIsMonotonic(t *testing.T) {
	ms := newFakeMilestones(bossMilestone(1))
	ps := newFakeProgress()
	svc := newTestService(ms, ps, roster(t, []int64{10}, map[string]int64{"alice": 10}))
	ctx := context.Background()

	if err := svc.RecordMemberProgress(ctx, testGroup, 1, "alice", nil, 100); err != nil {
		t.Fatal(err)
	}
	if !ms.rows[1].Completed {
		t.Fatal("milestone should be completed")
	}

	if err := svc.RecordMemberProgress(ctx, testGroup, 1, "alice", json.RawMessage(`{"note":"reset"}`), 10); err != nil {
		t.Fatal(err)
	}
	if !ms.rows[1].Completed {
		t.Error("a later lower value must not reopen the milestone")
	}
	if ms.transitions != 1 {
		t.Errorf("transitions = %d, want 1", ms.transitions)
	}
}

func TestRecordMemberProgressClampsAndValidates(t *testing.T) {
	ms := newFakeMilestones(bossMilestone(1))
	ps := newFakeProgress()
	svc := newTestService(ms, ps, roster(t, []int64{10, 20}, map[string]int64{"alice": 10}))
	ctx := context.Background()

	if err := svc.RecordMemberProgress(ctx, testGroup, 1, "alice", nil, 180); err != nil {
		t.Fatal(err)
	}
	if got := ps.rows[progressKey{1, 10}].PercentComplete; got != 100 {
		t.Errorf("percent = %v, want 100", got)
	}

	err := svc.RecordMemberProgress(ctx, testGroup, 1, "alice", json.RawMessage(`[1]`), 10)
	if !errors.Is(err, model.ErrValidation) {
		t.Errorf("array detail: err = %v, want ErrValidation", err)
	}

	err = svc.RecordMemberProgress(ctx, testGroup+1, 1, "alice", nil, 10)
	if !errors.Is(err, model.ErrNotFound) {
		t.Errorf("foreign group: err = %v, want ErrNotFound", err)
	}
}

func TestApplySnapshotUnknownMember(t *testing.T) {
	ms := newFakeMilestones(bossMilestone(1))
	ps := newFakeProgress()
	dir := NewMockMemberDirectory(gomock.NewController(t))
	dir.EXPECT().
		ResolveMemberID(gomock.Any(), testGroup, "mallory").
		Return(int64(0), model.ErrNotFound)
	svc := newTestService(ms, ps, dir)

	_, err := svc.ApplySnapshot(context.Background(), testGroup, "mallory", zulrahSnapshot(50))
	if !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
	if ps.upserts != 0 {
		t.Errorf("upserts = %d, want 0", ps.upserts)
	}
}

func TestApplySnapshotContinuesPastFailure(t *testing.T) {
	custom := model.Milestone{ID: 3, GroupID: testGroup, Title: "Custom", Type: "custom", TargetData: json.RawMessage(`{}`)}
	bad := bossMilestone(4)
	bad.TargetData = json.RawMessage(`{"bossName":"Zulrah","killCount":"lots"}`)
	ms := newFakeMilestones(bossMilestone(1), bossMilestone(2), custom, bad)
	ps := newFakeProgress()
	storeDown := errors.New("connection reset")
	ps.failFor[1] = storeDown
	svc := newTestService(ms, ps, roster(t, []int64{10, 20}, map[string]int64{"alice": 10}))

	report, err := svc.ApplySnapshot(context.Background(), testGroup, "alice", zulrahSnapshot(25))
	if !errors.Is(err, storeDown) {
		t.Fatalf("err = %v, want it to wrap the store failure", err)
	}
	if report.Evaluated != 3 {
		t.Errorf("evaluated = %d, want 3", report.Evaluated)
	}
	if got := ps.rows[progressKey{2, 10}].PercentComplete; got != 50 {
		t.Errorf("milestone 2 percent = %v, want 50", got)
	}
	if got := ps.rows[progressKey{3, 10}]; got.PercentComplete != 0 || string(got.CurrentProgress) != "{}" {
		t.Errorf("custom milestone progress = %+v, want 0 with {}", got)
	}
	if got := ps.rows[progressKey{4, 10}]; got.PercentComplete != 0 || string(got.CurrentProgress) != "{}" {
		t.Errorf("bad target progress = %+v, want 0 with {}", got)
	}
}

func TestListAveragesPresentRecordsOnly(t *testing.T) {
	ms := newFakeMilestones(bossMilestone(1), bossMilestone(2))
	ps := newFakeProgress()
	ps.seed(1, 10, 50)
	ps.seed(1, 20, 100)
	svc := newTestService(ms, ps, roster(t, []int64{10, 20, 30}, nil))

	got, err := svc.List(context.Background(), testGroup, model.ListFilter{IncludeCompleted: true})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	if got[0].GroupProgress != 75 {
		t.Errorf("group progress = %v, want 75", got[0].GroupProgress)
	}
	if len(got[0].MemberProgress) != 2 {
		t.Errorf("member progress = %d entries, want 2", len(got[0].MemberProgress))
	}
	if got[1].GroupProgress != 0 || got[1].MemberProgress == nil {
		t.Errorf("milestone without records = %+v, want 0 and an empty list", got[1])
	}
}

func TestCreateValidation(t *testing.T) {
	tests := []struct {
		name    string
		in      CreateInput
		wantErr error
	}{
		{"valid boss", CreateInput{Title: "Zulrah", Type: model.TypeBossKC, TargetData: json.RawMessage(`{"bossName":"Zulrah"}`)}, nil},
		{"custom type with null target", CreateInput{Title: "Party", Type: "custom", TargetData: json.RawMessage(`null`)}, nil},
		{"missing title", CreateInput{Title: "  ", Type: model.TypeBossKC}, model.ErrValidation},
		{"missing type", CreateInput{Title: "x"}, model.ErrValidation},
		{"target not object", CreateInput{Title: "x", Type: model.TypeSkillTotal, TargetData: json.RawMessage(`500`)}, model.ErrValidation},
		{"target wrong field type", CreateInput{Title: "x", Type: model.TypeSkillTotal, TargetData: json.RawMessage(`{"totalLevel":"max"}`)}, model.ErrValidation},
		{"bad criteria", CreateInput{Title: "x", Type: "custom", CompletionCriteria: json.RawMessage(`{`)}, model.ErrValidation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ms := newFakeMilestones()
			svc := newTestService(ms, newFakeProgress(), NewMockMemberDirectory(gomock.NewController(t)))
			m, err := svc.Create(context.Background(), testGroup, tt.in)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("err = %v, want %v", err, tt.wantErr)
			}
			if tt.wantErr != nil {
				return
			}
			if m.ID == 0 || m.GroupID != testGroup || m.Completed {
				t.Errorf("created = %+v", m)
			}
			if len(m.TargetData) == 0 {
				t.Error("target data should default to {}")
			}
		})
	}
}

func TestSetStatusAndDelete(t *testing.T) {
	ms := newFakeMilestones(bossMilestone(1))
	svc := newTestService(ms, newFakeProgress(), NewMockMemberDirectory(gomock.NewController(t)))
	ctx := context.Background()

	if err := svc.SetStatus(ctx, testGroup, 1, true); err != nil {
		t.Fatal(err)
	}
	if err := svc.SetStatus(ctx, testGroup, 1, false); err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(ms.overrides, []bool{true, false}) {
		t.Errorf("overrides = %v", ms.overrides)
	}
	if err := svc.SetStatus(ctx, testGroup+1, 1, true); !errors.Is(err, model.ErrNotFound) {
		t.Errorf("foreign group: err = %v", err)
	}

	if err := svc.Delete(ctx, testGroup, 1); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.Get(ctx, testGroup, 1); !errors.Is(err, model.ErrNotFound) {
		t.Errorf("get after delete: err = %v", err)
	}
}

func TestSnapshotOverwritesManualCustomProgress(t *testing.T) {
	custom := model.Milestone{ID: 3, GroupID: testGroup, Title: "Party hat", Type: "custom", TargetData: json.RawMessage(`{}`)}
	ms := newFakeMilestones(custom)
	ps := newFakeProgress()
	svc := newTestService(ms, ps, roster(t, []int64{10, 20}, map[string]int64{"alice": 10}))
	ctx := context.Background()

	if err := svc.RecordMemberProgress(ctx, testGroup, 3, "alice", json.RawMessage(`{"note":"halfway"}`), 80); err != nil {
		t.Fatal(err)
	}
	if got := ps.rows[progressKey{3, 10}].PercentComplete; got != 80 {
		t.Fatalf("manual percent = %v, want 80", got)
	}

	if _, err := svc.ApplySnapshot(ctx, testGroup, "alice", zulrahSnapshot(50)); err != nil {
		t.Fatal(err)
	}
	if got := ps.rows[progressKey{3, 10}]; got.PercentComplete != 0 || string(got.CurrentProgress) != "{}" {
		t.Errorf("custom progress after sync = %+v, want 0 with {}", got)
	}
}
