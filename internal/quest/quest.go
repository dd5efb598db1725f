// Package quest holds the quest domain model shared by the progression engine:
// reference data (subjects, skills, quests, steps), per-user state (attempts,
// step progress) and the storage contracts the engine depends on.
package quest

import (
	"strconv"
	"strings"
	"time"
)

// Difficulty is the closed set of difficulty tracks a quest step can belong to.
type Difficulty uint8

const (
	DifficultyStandard Difficulty = iota
	DifficultySupportive
	DifficultyChallenging
	DifficultyAdaptive
)

// ParseDifficulty maps a stored label to a Difficulty, ignoring case and
// surrounding whitespace. Unrecognized labels fall back to Standard with ok=false.
func ParseDifficulty(label string) (d Difficulty, ok bool) {
	switch strings.ToLower(strings.TrimSpace(label)) {
	case "supportive":
		return DifficultySupportive, true
	case "standard":
		return DifficultyStandard, true
	case "challenging":
		return DifficultyChallenging, true
	case "adaptive":
		return DifficultyAdaptive, true
	default:
		return DifficultyStandard, false
	}
}

func (d Difficulty) String() string {
	switch d {
	case DifficultySupportive:
		return "Supportive"
	case DifficultyChallenging:
		return "Challenging"
	case DifficultyAdaptive:
		return "Adaptive"
	default:
		return "Standard"
	}
}

func (d Difficulty) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *Difficulty) UnmarshalText(text []byte) error {
	*d, _ = ParseDifficulty(string(text))
	return nil
}

// Level orders difficulties for migration decisions. Adaptive sits outside the
// ordered scale and shares Standard's level.
func (d Difficulty) Level() int {
	switch d {
	case DifficultySupportive:
		return 1
	case DifficultyChallenging:
		return 3
	case DifficultyStandard, DifficultyAdaptive:
		return 2
	default:
		return 2
	}
}

// Harder returns the next difficulty up the ordered scale, clamped at Challenging.
// Adaptive is returned unchanged.
func (d Difficulty) Harder() Difficulty {
	switch d {
	case DifficultySupportive:
		return DifficultyStandard
	case DifficultyStandard, DifficultyChallenging:
		return DifficultyChallenging
	default:
		return d
	}
}

// Easier returns the next difficulty down the ordered scale, clamped at Supportive.
// Adaptive is returned unchanged.
func (d Difficulty) Easier() Difficulty {
	switch d {
	case DifficultyChallenging:
		return DifficultyStandard
	case DifficultyStandard, DifficultySupportive:
		return DifficultySupportive
	default:
		return d
	}
}

// AttemptStatus is the lifecycle state of a UserQuestAttempt.
type AttemptStatus string

const (
	AttemptNotStarted AttemptStatus = "NotStarted"
	AttemptInProgress AttemptStatus = "InProgress"
	AttemptCompleted  AttemptStatus = "Completed"
	AttemptAbandoned  AttemptStatus = "Abandoned"
)

// StepStatus is the lifecycle state of a UserQuestStepProgress row.
type StepStatus string

const (
	StepNotStarted StepStatus = "NotStarted"
	StepInProgress StepStatus = "InProgress"
	StepCompleted  StepStatus = "Completed"
)

// GradeStatus is the enrollment status reported by the grade source.
type GradeStatus string

const (
	GradePassed    GradeStatus = "Passed"
	GradeNotPassed GradeStatus = "NotPassed"
	GradeStudying  GradeStatus = "Studying"
)

// ParseGradeStatus accepts the labels used by the enrollment source.
func ParseGradeStatus(s string) (GradeStatus, bool) {
	switch strings.ToLower(strings.NewReplacer(" ", "", "_", "", "-", "").Replace(s)) {
	case "passed":
		return GradePassed, true
	case "notpassed", "failed":
		return GradeNotPassed, true
	case "studying", "currentlystudying":
		return GradeStudying, true
	default:
		return "", false
	}
}

// Subject is curriculum reference data.
type Subject struct {
	ID                     string   `json:"id" yaml:"id"`
	Code                   string   `json:"code" yaml:"code"`
	Name                   string   `json:"name" yaml:"name"`
	Credits                int      `json:"credits" yaml:"credits"`
	PrerequisiteSubjectIDs []string `json:"prerequisite_subject_ids,omitempty" yaml:"prerequisites"`
}

// Skill is a unit of competency tracked per user.
type Skill struct {
	ID     string `json:"id" yaml:"id"`
	Name   string `json:"name" yaml:"name"`
	Tier   int    `json:"tier" yaml:"tier"`
	Domain string `json:"domain" yaml:"domain"`
}

// SubjectSkill maps a subject to a skill with a relevance weight.
type SubjectSkill struct {
	SubjectID       string  `json:"subject_id" yaml:"subject_id"`
	SkillID         string  `json:"skill_id" yaml:"skill_id"`
	SkillName       string  `json:"skill_name,omitempty" yaml:"-"`
	RelevanceWeight float64 `json:"relevance_weight" yaml:"relevance_weight"`
}

// SkillDependency is a directed edge: SkillID requires PrerequisiteSkillID.
type SkillDependency struct {
	SkillID             string `json:"skill_id" yaml:"skill_id"`
	PrerequisiteSkillID string `json:"prerequisite_skill_id" yaml:"prerequisite_skill_id"`
}

// UserSkill is the user's tracked mastery of a skill.
type UserSkill struct {
	UserID  string `json:"user_id" yaml:"-"`
	SkillID string `json:"skill_id" yaml:"skill_id"`
	Level   int    `json:"level" yaml:"level"`
	XP      int    `json:"xp" yaml:"xp"`
}

// Quest is the master quest attached to a subject.
type Quest struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Type        string `json:"type,omitempty"`
	IsActive    bool   `json:"is_active"`
	SubjectID   string `json:"subject_id,omitempty"`
}

// Step is one unit of quest content on a single difficulty track. Content is
// authored externally and may be a JSON string, raw bytes or a decoded tree.
type Step struct {
	ID                string     `json:"id"`
	QuestID           string     `json:"quest_id"`
	StepNumber        int        `json:"step_number"`
	Title             string     `json:"title"`
	DifficultyVariant Difficulty `json:"difficulty_variant"`
	ExperiencePoints  int        `json:"experience_points"`
	Content           any        `json:"content,omitempty"`
}

// Attempt is a user's instance of a quest (UserQuestAttempt).
type Attempt struct {
	ID                    string        `json:"id"`
	UserID                string        `json:"user_id"`
	QuestID               string        `json:"quest_id"`
	Status                AttemptStatus `json:"status"`
	AssignedDifficulty    Difficulty    `json:"assigned_difficulty"`
	TotalExperienceEarned int           `json:"total_experience_earned"`
	CompletionPercentage  float64       `json:"completion_percentage"`
	CurrentStepID         string        `json:"current_step_id,omitempty"`
	Notes                 string        `json:"notes,omitempty"`
	StartedAt             time.Time     `json:"started_at"`
	CompletedAt           *time.Time    `json:"completed_at,omitempty"`
	CreatedAt             time.Time     `json:"created_at"`
	UpdatedAt             time.Time     `json:"updated_at"`
}

// Started reports whether the user has interacted with the attempt.
func (a *Attempt) Started() bool {
	return a.Status != AttemptNotStarted
}

// StepProgress is the per-(attempt, step) completion record.
type StepProgress struct {
	ID                   string     `json:"id"`
	AttemptID            string     `json:"attempt_id"`
	StepID               string     `json:"step_id"`
	Status               StepStatus `json:"status"`
	CompletedActivityIDs []string   `json:"completed_activity_ids"`
	StartedAt            *time.Time `json:"started_at,omitempty"`
	CompletedAt          *time.Time `json:"completed_at,omitempty"`
	UpdatedAt            time.Time  `json:"updated_at"`
}

// HasActivity reports whether activityID is in the completed set.
func (p *StepProgress) HasActivity(activityID string) bool {
	for _, id := range p.CompletedActivityIDs {
		if id == activityID {
			return true
		}
	}
	return false
}

// AddActivity adds activityID to the completed set. It reports false if it
// was already present.
func (p *StepProgress) AddActivity(activityID string) bool {
	if p.HasActivity(activityID) {
		return false
	}
	p.CompletedActivityIDs = append(p.CompletedActivityIDs, activityID)
	return true
}

// RemoveActivity removes activityID from the completed set. It reports false
// if it was not present.
func (p *StepProgress) RemoveActivity(activityID string) bool {
	for i, id := range p.CompletedActivityIDs {
		if id == activityID {
			p.CompletedActivityIDs = append(p.CompletedActivityIDs[:i], p.CompletedActivityIDs[i+1:]...)
			return true
		}
	}
	return false
}

// Profile is the user's academic selection.
type Profile struct {
	UserID  string `json:"user_id" yaml:"-"`
	RouteID string `json:"route_id" yaml:"route"`
	ClassID string `json:"class_id" yaml:"class"`
}

// GradeRecord is a user's enrollment outcome for a subject.
type GradeRecord struct {
	UserID    string      `json:"user_id" yaml:"-"`
	SubjectID string      `json:"subject_id" yaml:"subject_id"`
	Status    GradeStatus `json:"status" yaml:"status"`
	Grade     string      `json:"grade,omitempty" yaml:"grade"`
}

// NumericGrade parses Grade as a decimal score. Both "8.5" and "8,5" are accepted.
func (g GradeRecord) NumericGrade() (float64, bool) {
	s := strings.ReplaceAll(strings.TrimSpace(g.Grade), ",", ".")
	if s == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// AnalysisReport is an externally produced summary of a user's skill
// strengths and weaknesses, matched by name.
type AnalysisReport struct {
	UserID     string    `json:"user_id" yaml:"-"`
	Weaknesses []string  `json:"weaknesses" yaml:"weaknesses"`
	Strengths  []string  `json:"strengths" yaml:"strengths"`
	CreatedAt  time.Time `json:"created_at" yaml:"-"`
}
