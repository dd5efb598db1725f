package quest_test

import (
	"encoding/json"
	"testing"

	"github.com/FA25SE050-RogueLearn/RogueLearn.User-sub002/internal/quest"
)

func TestParseDifficulty(t *testing.T) {
	tests := []struct {
		label  string
		want   quest.Difficulty
		wantOK bool
	}{
		{"Supportive", quest.DifficultySupportive, true},
		{"standard", quest.DifficultyStandard, true},
		{" CHALLENGING ", quest.DifficultyChallenging, true},
		{"Adaptive", quest.DifficultyAdaptive, true},
		{"Expert", quest.DifficultyStandard, false},
		{"", quest.DifficultyStandard, false},
	}

	for _, tt := range tests {
		t.Run(tt.label, func(t *testing.T) {
			got, ok := quest.ParseDifficulty(tt.label)
			if got != tt.want || ok != tt.wantOK {
				t.Errorf("ParseDifficulty(%q) = %v, %v, want %v, %v", tt.label, got, ok, tt.want, tt.wantOK)
			}
		})
	}
}

func TestDifficulty_Level(t *testing.T) {
	tests := []struct {
		d    quest.Difficulty
		want int
	}{
		{quest.DifficultySupportive, 1},
		{quest.DifficultyStandard, 2},
		{quest.DifficultyChallenging, 3},
		{quest.DifficultyAdaptive, 2},
	}
	for _, tt := range tests {
		if got := tt.d.Level(); got != tt.want {
			t.Errorf("%v.Level() = %d, want %d", tt.d, got, tt.want)
		}
	}
}

func TestDifficulty_Shift(t *testing.T) {
	tests := []struct {
		d          quest.Difficulty
		wantHarder quest.Difficulty
		wantEasier quest.Difficulty
	}{
		{quest.DifficultySupportive, quest.DifficultyStandard, quest.DifficultySupportive},
		{quest.DifficultyStandard, quest.DifficultyChallenging, quest.DifficultySupportive},
		{quest.DifficultyChallenging, quest.DifficultyChallenging, quest.DifficultyStandard},
		{quest.DifficultyAdaptive, quest.DifficultyAdaptive, quest.DifficultyAdaptive},
	}
	for _, tt := range tests {
		if got := tt.d.Harder(); got != tt.wantHarder {
			t.Errorf("%v.Harder() = %v, want %v", tt.d, got, tt.wantHarder)
		}
		if got := tt.d.Easier(); got != tt.wantEasier {
			t.Errorf("%v.Easier() = %v, want %v", tt.d, got, tt.wantEasier)
		}
	}
}

func TestDifficulty_JSON(t *testing.T) {
	b, err := json.Marshal(quest.Step{ID: "s1", DifficultyVariant: quest.DifficultyChallenging})
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}

	var got struct {
		DifficultyVariant string `json:"difficulty_variant"`
	}
	if err := json.Unmarshal(b, &got); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if got.DifficultyVariant != "Challenging" {
		t.Errorf("difficulty_variant = %q, want Challenging", got.DifficultyVariant)
	}

	var st quest.Step
	if err := json.Unmarshal([]byte(`{"difficulty_variant":"mystery"}`), &st); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if st.DifficultyVariant != quest.DifficultyStandard {
		t.Errorf("unknown variant = %v, want Standard", st.DifficultyVariant)
	}
}

func TestParseGradeStatus(t *testing.T) {
	tests := []struct {
		in     string
		want   quest.GradeStatus
		wantOK bool
	}{
		{"Passed", quest.GradePassed, true},
		{"not passed", quest.GradeNotPassed, true},
		{"NOT_PASSED", quest.GradeNotPassed, true},
		{"Studying", quest.GradeStudying, true},
		{"dropped", "", false},
	}
	for _, tt := range tests {
		got, ok := quest.ParseGradeStatus(tt.in)
		if got != tt.want || ok != tt.wantOK {
			t.Errorf("ParseGradeStatus(%q) = %q, %v, want %q, %v", tt.in, got, ok, tt.want, tt.wantOK)
		}
	}
}

func TestGradeRecord_NumericGrade(t *testing.T) {
	tests := []struct {
		grade  string
		want   float64
		wantOK bool
	}{
		{"8.5", 8.5, true},
		{"7,25", 7.25, true},
		{" 9 ", 9, true},
		{"", 0, false},
		{"A+", 0, false},
	}
	for _, tt := range tests {
		got, ok := quest.GradeRecord{Grade: tt.grade}.NumericGrade()
		if got != tt.want || ok != tt.wantOK {
			t.Errorf("NumericGrade(%q) = %v, %v, want %v, %v", tt.grade, got, ok, tt.want, tt.wantOK)
		}
	}
}

func TestStepProgress_ActivitySet(t *testing.T) {
	var p quest.StepProgress

	if !p.AddActivity("a1") {
		t.Error("AddActivity(a1) = false, want true")
	}
	if p.AddActivity("a1") {
		t.Error("second AddActivity(a1) = true, want false")
	}
	p.AddActivity("a2")
	if len(p.CompletedActivityIDs) != 2 {
		t.Fatalf("len(CompletedActivityIDs) = %d, want 2", len(p.CompletedActivityIDs))
	}
	if !p.RemoveActivity("a1") {
		t.Error("RemoveActivity(a1) = false, want true")
	}
	if p.RemoveActivity("a1") {
		t.Error("second RemoveActivity(a1) = true, want false")
	}
	if p.HasActivity("a1") || !p.HasActivity("a2") {
		t.Errorf("CompletedActivityIDs = %v, want [a2]", p.CompletedActivityIDs)
	}
}

func TestErrorKinds(t *testing.T) {
	if !quest.IsNotFound(quest.ErrQuestNotStarted) {
		t.Error("ErrQuestNotStarted should be a not-found error")
	}
	if !quest.IsInvalidState(quest.ErrProfileIncomplete) {
		t.Error("ErrProfileIncomplete should be an invalid-state error")
	}
	if !quest.IsConflict(quest.ErrTrackChanged) {
		t.Error("ErrTrackChanged should be a conflict error")
	}
	if quest.IsNotFound(quest.ErrTrackChanged) {
		t.Error("ErrTrackChanged should not be a not-found error")
	}

	err := quest.NotFoundf("quest.GetStep", "step %s not found", "s1")
	if !quest.IsNotFound(err) {
		t.Errorf("NotFoundf() = %v, want not-found kind", err)
	}
	if err.Error() != "quest.GetStep: step s1 not found" {
		t.Errorf("Error() = %q", err.Error())
	}
}
