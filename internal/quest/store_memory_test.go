package quest_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/FA25SE050-RogueLearn/RogueLearn.User-sub002/internal/quest"
)

func newAttemptStore(t *testing.T) (*quest.MemoryStore, *quest.Attempt) {
	t.Helper()
	store := quest.NewMemoryStore()
	store.PutQuest(quest.Quest{ID: "q1", Title: "Algorithms", IsActive: true, SubjectID: "sub-1"})

	a := &quest.Attempt{UserID: "u1", QuestID: "q1", AssignedDifficulty: quest.DifficultyStandard}
	if err := store.CreateAttempt(context.Background(), a); err != nil {
		t.Fatalf("CreateAttempt() error = %v", err)
	}
	return store, a
}

func TestMemoryStore_CreateAttempt(t *testing.T) {
	store, a := newAttemptStore(t)
	ctx := context.Background()

	if a.ID == "" {
		t.Error("CreateAttempt() did not assign an ID")
	}
	if a.Status != quest.AttemptNotStarted {
		t.Errorf("Status = %q, want NotStarted", a.Status)
	}

	err := store.CreateAttempt(ctx, &quest.Attempt{UserID: "u1", QuestID: "q1"})
	if !quest.IsConflict(err) {
		t.Errorf("duplicate CreateAttempt() error = %v, want conflict", err)
	}

	got, err := store.GetAttempt(ctx, "u1", "q1")
	if err != nil {
		t.Fatalf("GetAttempt() error = %v", err)
	}
	if got.ID != a.ID {
		t.Errorf("GetAttempt().ID = %q, want %q", got.ID, a.ID)
	}

	if _, err := store.GetAttempt(ctx, "u1", "missing"); !quest.IsNotFound(err) {
		t.Errorf("GetAttempt(missing) error = %v, want not found", err)
	}
}

func TestMemoryStore_AwardExperience(t *testing.T) {
	store, a := newAttemptStore(t)
	ctx := context.Background()

	tests := []struct {
		name       string
		track      quest.Difficulty
		points     int
		trackCap   int
		wantBefore int
		wantAfter  int
		wantErr    bool
	}{
		{"first award", quest.DifficultyStandard, 5, 15, 0, 5, false},
		{"capped", quest.DifficultyStandard, 20, 15, 5, 15, false},
		{"already at cap", quest.DifficultyStandard, 5, 15, 15, 15, false},
		{"lower cap never lowers", quest.DifficultyStandard, 5, 10, 15, 15, false},
		{"other track", quest.DifficultyChallenging, 5, 30, 0, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before, after, err := store.AwardExperience(ctx, a.ID, tt.track, tt.points, tt.trackCap)
			if (err != nil) != tt.wantErr {
				t.Fatalf("AwardExperience() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				if !quest.IsConflict(err) {
					t.Errorf("AwardExperience() error = %v, want conflict", err)
				}
				return
			}
			if before != tt.wantBefore || after != tt.wantAfter {
				t.Errorf("AwardExperience() = %d, %d, want %d, %d", before, after, tt.wantBefore, tt.wantAfter)
			}
		})
	}
}

func TestMemoryStore_MigrateAttempt(t *testing.T) {
	store, a := newAttemptStore(t)
	ctx := context.Background()

	if _, _, err := store.AwardExperience(ctx, a.ID, quest.DifficultyStandard, 5, 15); err != nil {
		t.Fatalf("AwardExperience() error = %v", err)
	}
	now := time.Now()
	p := &quest.StepProgress{AttemptID: a.ID, StepID: "s1", Status: quest.StepCompleted, CompletedActivityIDs: []string{"a1"}, CompletedAt: &now}
	if err := store.SaveStepProgress(ctx, p, quest.DifficultyStandard); err != nil {
		t.Fatalf("SaveStepProgress() error = %v", err)
	}
	if err := store.UpdateAttemptProgress(ctx, a.ID, quest.DifficultyStandard, quest.ProgressUpdate{
		CompletionPercentage: 100,
		Status:               quest.AttemptCompleted,
		CompletedAt:          &now,
	}); err != nil {
		t.Fatalf("UpdateAttemptProgress() error = %v", err)
	}

	if err := store.MigrateAttempt(ctx, a.ID, quest.DifficultyChallenging, "moved up"); err != nil {
		t.Fatalf("MigrateAttempt() error = %v", err)
	}

	got, _ := store.GetAttempt(ctx, "u1", "q1")
	if got.AssignedDifficulty != quest.DifficultyChallenging {
		t.Errorf("AssignedDifficulty = %v, want Challenging", got.AssignedDifficulty)
	}
	if got.Status != quest.AttemptInProgress {
		t.Errorf("Status = %q, want InProgress", got.Status)
	}
	if got.CompletionPercentage != 0 {
		t.Errorf("CompletionPercentage = %v, want 0", got.CompletionPercentage)
	}
	if got.CompletedAt != nil {
		t.Error("CompletedAt should be cleared")
	}
	if got.TotalExperienceEarned != 5 {
		t.Errorf("TotalExperienceEarned = %d, want 5", got.TotalExperienceEarned)
	}
	if got.Notes != "moved up" {
		t.Errorf("Notes = %q, want moved up", got.Notes)
	}

	progress, _ := store.ListStepProgress(ctx, a.ID)
	if len(progress) != 0 {
		t.Errorf("len(progress) = %d, want 0 after migration", len(progress))
	}

	// Writes made against the old track are rejected.
	err := store.SaveStepProgress(ctx, &quest.StepProgress{AttemptID: a.ID, StepID: "s1"}, quest.DifficultyStandard)
	if !quest.IsConflict(err) {
		t.Errorf("SaveStepProgress(old track) error = %v, want conflict", err)
	}
	err = store.UpdateAttemptProgress(ctx, a.ID, quest.DifficultyStandard, quest.ProgressUpdate{Status: quest.AttemptInProgress})
	if !quest.IsConflict(err) {
		t.Errorf("UpdateAttemptProgress(old track) error = %v, want conflict", err)
	}
}

func TestMemoryStore_UpdateAttemptPreview(t *testing.T) {
	store, a := newAttemptStore(t)
	ctx := context.Background()

	if err := store.UpdateAttemptPreview(ctx, a.ID, quest.DifficultySupportive, "refreshed"); err != nil {
		t.Fatalf("UpdateAttemptPreview() error = %v", err)
	}
	got, _ := store.GetAttempt(ctx, "u1", "q1")
	if got.AssignedDifficulty != quest.DifficultySupportive || got.Notes != "refreshed" {
		t.Errorf("attempt = %v / %q, want Supportive / refreshed", got.AssignedDifficulty, got.Notes)
	}

	if err := store.UpdateAttemptProgress(ctx, a.ID, quest.DifficultySupportive, quest.ProgressUpdate{Status: quest.AttemptInProgress}); err != nil {
		t.Fatalf("UpdateAttemptProgress() error = %v", err)
	}
	if err := store.UpdateAttemptPreview(ctx, a.ID, quest.DifficultyChallenging, "late"); !quest.IsConflict(err) {
		t.Errorf("UpdateAttemptPreview(started) error = %v, want conflict", err)
	}
}

func TestMemoryStore_CompleteActivity(t *testing.T) {
	store, a := newAttemptStore(t)
	ctx := context.Background()

	p := &quest.StepProgress{AttemptID: a.ID, StepID: "s1", Status: quest.StepInProgress, CompletedActivityIDs: []string{"a1"}}
	before, after, err := store.CompleteActivity(ctx, p, quest.DifficultyStandard, 4, 10)
	if err != nil {
		t.Fatalf("CompleteActivity() error = %v", err)
	}
	if before != 0 || after != 4 {
		t.Errorf("CompleteActivity() = %d, %d, want 0, 4", before, after)
	}
	if p.ID == "" {
		t.Error("CompleteActivity() did not assign a progress ID")
	}

	p.CompletedActivityIDs = append(p.CompletedActivityIDs, "a2")
	before, after, err = store.CompleteActivity(ctx, p, quest.DifficultyStandard, 20, 10)
	if err != nil {
		t.Fatalf("CompleteActivity() error = %v", err)
	}
	if before != 4 || after != 10 {
		t.Errorf("CompleteActivity(capped) = %d, %d, want 4, 10", before, after)
	}

	got, err := store.GetStepProgress(ctx, a.ID, "s1")
	if err != nil {
		t.Fatalf("GetStepProgress() error = %v", err)
	}
	if len(got.CompletedActivityIDs) != 2 {
		t.Errorf("CompletedActivityIDs = %v, want 2 entries", got.CompletedActivityIDs)
	}

	// A write for another track changes neither the progress nor the total.
	other := &quest.StepProgress{AttemptID: a.ID, StepID: "s9", Status: quest.StepCompleted}
	if _, _, err := store.CompleteActivity(ctx, other, quest.DifficultyChallenging, 5, 20); !quest.IsConflict(err) {
		t.Errorf("CompleteActivity(other track) error = %v, want conflict", err)
	}
	if _, err := store.GetStepProgress(ctx, a.ID, "s9"); !quest.IsNotFound(err) {
		t.Errorf("GetStepProgress(s9) error = %v, want not found", err)
	}
	reloaded, _ := store.GetAttempt(ctx, "u1", "q1")
	if reloaded.TotalExperienceEarned != 10 {
		t.Errorf("TotalExperienceEarned = %d, want 10", reloaded.TotalExperienceEarned)
	}

	missing := &quest.StepProgress{AttemptID: "nope", StepID: "s1"}
	if _, _, err := store.CompleteActivity(ctx, missing, quest.DifficultyStandard, 5, 10); !quest.IsNotFound(err) {
		t.Errorf("CompleteActivity(missing) error = %v, want not found", err)
	}
}

func TestMemoryStore_StepProgressCopies(t *testing.T) {
	store, a := newAttemptStore(t)
	ctx := context.Background()

	p := &quest.StepProgress{AttemptID: a.ID, StepID: "s1", Status: quest.StepInProgress, CompletedActivityIDs: []string{"a1"}}
	if err := store.SaveStepProgress(ctx, p, quest.DifficultyStandard); err != nil {
		t.Fatalf("SaveStepProgress() error = %v", err)
	}
	p.CompletedActivityIDs[0] = "mutated"

	got, err := store.GetStepProgress(ctx, a.ID, "s1")
	if err != nil {
		t.Fatalf("GetStepProgress() error = %v", err)
	}
	if got.CompletedActivityIDs[0] != "a1" {
		t.Errorf("stored activity = %q, want a1", got.CompletedActivityIDs[0])
	}
	if _, err := store.GetStepProgress(ctx, a.ID, "s2"); !quest.IsNotFound(err) {
		t.Errorf("GetStepProgress(s2) error = %v, want not found", err)
	}
}

func TestMemoryStore_Catalog(t *testing.T) {
	store := quest.NewMemoryStore()
	ctx := context.Background()
	store.ApplySeed(&quest.Seed{
		Subjects: []quest.Subject{{ID: "sub-1", Name: "Programming"}, {ID: "sub-2", Name: "Data Structures"}},
		Skills:   []quest.Skill{{ID: "sk-1", Name: "Recursion"}},
		SubjectSkills: []quest.SubjectSkill{
			{SubjectID: "sub-1", SkillID: "sk-1", RelevanceWeight: 0.8},
		},
		Routes: map[string][]string{"r1": {"sub-2", "sub-1", "missing"}},
		Quests: []quest.Quest{
			{ID: "q-b", SubjectID: "sub-1", IsActive: true},
			{ID: "q-a", SubjectID: "sub-1", IsActive: true},
			{ID: "q-0", SubjectID: "sub-1", IsActive: false},
		},
		Steps: []quest.Step{
			{ID: "s2", QuestID: "q-a", StepNumber: 2},
			{ID: "s1", QuestID: "q-a", StepNumber: 1},
		},
	})

	subjects, _ := store.ListRouteSubjects(ctx, "r1")
	if len(subjects) != 2 || subjects[0].ID != "sub-2" {
		t.Errorf("ListRouteSubjects() = %v, want [sub-2 sub-1]", subjects)
	}

	q, err := store.GetActiveQuestForSubject(ctx, "sub-1")
	if err != nil {
		t.Fatalf("GetActiveQuestForSubject() error = %v", err)
	}
	if q.ID != "q-a" {
		t.Errorf("active quest = %q, want q-a", q.ID)
	}
	if _, err := store.GetActiveQuestForSubject(ctx, "sub-2"); !quest.IsNotFound(err) {
		t.Errorf("GetActiveQuestForSubject(sub-2) error = %v, want not found", err)
	}

	steps, _ := store.ListSteps(ctx, "q-a")
	if len(steps) != 2 || steps[0].ID != "s1" {
		t.Errorf("ListSteps() = %v, want [s1 s2]", steps)
	}

	mappings, _ := store.ListSubjectSkills(ctx, "sub-1")
	if len(mappings) != 1 || mappings[0].SkillName != "Recursion" {
		t.Errorf("ListSubjectSkills() = %v, want Recursion mapping", mappings)
	}

	report, err := store.LatestAnalysis(ctx, "nobody")
	if err != nil || report != nil {
		t.Errorf("LatestAnalysis(nobody) = %v, %v, want nil, nil", report, err)
	}
}

func TestMemoryLocker(t *testing.T) {
	locker := quest.NewMemoryLocker()
	key := quest.AttemptLockKey("u1", "q1")

	unlock, err := locker.Lock(context.Background(), key)
	if err != nil {
		t.Fatalf("Lock() error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := locker.Lock(ctx, key); err == nil {
		t.Fatal("second Lock() should block until the context expires")
	}

	other, err := locker.Lock(context.Background(), quest.AttemptLockKey("u1", "q2"))
	if err != nil {
		t.Fatalf("Lock(other key) error = %v", err)
	}
	other()

	unlock()
	unlock()

	again, err := locker.Lock(context.Background(), key)
	if err != nil {
		t.Fatalf("Lock() after unlock error = %v", err)
	}
	again()
}

func TestMemoryLocker_ReleasesIdleKeys(t *testing.T) {
	locker := quest.NewMemoryLocker()

	for i := range 100 {
		unlock, err := locker.Lock(context.Background(), quest.AttemptLockKey("u1", fmt.Sprintf("q%d", i)))
		if err != nil {
			t.Fatalf("Lock() error = %v", err)
		}
		unlock()
	}
	if got := locker.Len(); got != 0 {
		t.Fatalf("Len() after unlocking every key = %d, want 0", got)
	}

	key := quest.AttemptLockKey("u1", "q1")
	unlock, err := locker.Lock(context.Background(), key)
	if err != nil {
		t.Fatalf("Lock() error = %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := locker.Lock(ctx, key); err == nil {
		t.Fatal("second Lock() should time out")
	}
	if got := locker.Len(); got != 1 {
		t.Errorf("Len() with one holder = %d, want 1", got)
	}
	unlock()

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		inside  int
		maxSeen int
	)
	for range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release, err := locker.Lock(context.Background(), key)
			if err != nil {
				t.Errorf("Lock() error = %v", err)
				return
			}
			mu.Lock()
			inside++
			maxSeen = max(maxSeen, inside)
			mu.Unlock()
			time.Sleep(time.Millisecond)
			mu.Lock()
			inside--
			mu.Unlock()
			release()
		}()
	}
	wg.Wait()

	if maxSeen != 1 {
		t.Errorf("max concurrent holders = %d, want 1", maxSeen)
	}
	if got := locker.Len(); got != 0 {
		t.Errorf("Len() after contention = %d, want 0", got)
	}
}
