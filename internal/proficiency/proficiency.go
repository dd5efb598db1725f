// Package proficiency estimates how ready a user is for a subject from the
// prerequisites of the skills the subject teaches.
package proficiency

import (
	"context"
	"fmt"

	"github.com/FA25SE050-RogueLearn/RogueLearn.User-sub002/internal/quest"
)

// MasteryLevel is the tracked skill level at which a prerequisite counts as met.
const MasteryLevel = 2

// SkillGraph is the slice of the catalog the calculator reads.
type SkillGraph interface {
	ListSubjectSkills(ctx context.Context, subjectID string) ([]quest.SubjectSkill, error)
	ListSkillDependencies(ctx context.Context, skillIDs []string) ([]quest.SkillDependency, error)
}

// Assessment is the prerequisite breakdown behind a proficiency score.
type Assessment struct {
	SubjectID     string
	MappedSkills  int
	Prerequisites int
	Met           int
	Unknown       int
	Unmet         int
	Score         float64

	// HasSignal is false when the subject maps to no skills.
	HasSignal bool
}

// Calculator scores subject readiness.
type Calculator struct {
	graph SkillGraph
}

func NewCalculator(graph SkillGraph) *Calculator {
	return &Calculator{graph: graph}
}

// Calculate returns the readiness score in [0, 1] for subjectID. ok is false
// when the subject has no mapped skills and therefore no signal.
func (c *Calculator) Calculate(ctx context.Context, subjectID string, userSkills []quest.UserSkill) (score float64, ok bool, err error) {
	a, err := c.Assess(ctx, subjectID, userSkills)
	if err != nil {
		return 0, false, err
	}
	return a.Score, a.HasSignal, nil
}

// Assess computes the score together with its breakdown. Prerequisites with
// no tracked level are treated as unknown and count in the user's favor.
func (c *Calculator) Assess(ctx context.Context, subjectID string, userSkills []quest.UserSkill) (*Assessment, error) {
	mappings, err := c.graph.ListSubjectSkills(ctx, subjectID)
	if err != nil {
		return nil, fmt.Errorf("list subject skills: %w", err)
	}
	a := &Assessment{SubjectID: subjectID, MappedSkills: len(mappings)}
	if len(mappings) == 0 {
		return a, nil
	}
	a.HasSignal = true

	skillIDs := make([]string, 0, len(mappings))
	for _, m := range mappings {
		skillIDs = append(skillIDs, m.SkillID)
	}
	deps, err := c.graph.ListSkillDependencies(ctx, skillIDs)
	if err != nil {
		return nil, fmt.Errorf("list skill dependencies: %w", err)
	}

	levels := make(map[string]int, len(userSkills))
	for _, us := range userSkills {
		levels[us.SkillID] = us.Level
	}

	seen := make(map[string]bool)
	for _, d := range deps {
		if seen[d.PrerequisiteSkillID] {
			continue
		}
		seen[d.PrerequisiteSkillID] = true

		level, tracked := levels[d.PrerequisiteSkillID]
		switch {
		case !tracked:
			a.Unknown++
		case level >= MasteryLevel:
			a.Met++
		default:
			a.Unmet++
		}
	}
	a.Prerequisites = len(seen)

	if a.Prerequisites == a.Unknown {
		a.Score = 1
		return a, nil
	}
	a.Score = float64(a.Met+a.Unknown) / float64(a.Prerequisites)
	return a, nil
}
