// Package difficulty decides which difficulty track a user gets for a subject.
package difficulty

import (
	"fmt"
	"strings"

	"golang.org/x/text/cases"

	"github.com/FA25SE050-RogueLearn/RogueLearn.User-sub002/internal/quest"
)

// Markers written into the rationale when an analysis report shifted the track.
const (
	WeaknessMarker = "aligned with identified weaknesses"
	StrengthMarker = "aligned with identified strengths"
)

// Thresholds are the grade and proficiency boundaries of the base policy.
// Grades use the institution's numeric scale.
type Thresholds struct {
	HighGrade      float64
	MidGrade       float64
	LowProficiency float64
}

// DefaultThresholds match a 10-point grading scale.
func DefaultThresholds() Thresholds {
	return Thresholds{HighGrade: 8.0, MidGrade: 5.0, LowProficiency: 0.5}
}

// Input is everything the resolver looks at for one subject.
type Input struct {
	Subject        quest.Subject
	Grade          *quest.GradeRecord
	Proficiency    float64
	HasProficiency bool
	Analysis       *quest.AnalysisReport
	SkillNames     []string
}

// Decision is the resolved track and the human-readable reason for it.
type Decision struct {
	Difficulty quest.Difficulty
	Rationale  string
	AIAdjusted bool
}

// Resolver applies the grade-driven base policy and the analysis overlay.
type Resolver struct {
	thresholds Thresholds
}

func NewResolver(t Thresholds) *Resolver {
	return &Resolver{thresholds: t}
}

// Resolve picks a difficulty for in.
func (r *Resolver) Resolve(in Input) Decision {
	d := r.base(in)
	if d.Difficulty == quest.DifficultyAdaptive || in.Analysis == nil {
		return d
	}

	if skill, report, ok := matchSkill(in.SkillNames, in.Analysis.Weaknesses); ok {
		return overlay(d, d.Difficulty.Easier(), WeaknessMarker, skill, report)
	}
	if skill, report, ok := matchSkill(in.SkillNames, in.Analysis.Strengths); ok {
		return overlay(d, d.Difficulty.Harder(), StrengthMarker, skill, report)
	}
	return d
}

func overlay(d Decision, shifted quest.Difficulty, marker, skill, entry string) Decision {
	if shifted == d.Difficulty {
		d.Rationale += fmt.Sprintf(" Kept %s, %s (%s ~ %s).", shifted, marker, skill, entry)
	} else {
		d.Rationale += fmt.Sprintf(" Adjusted %s to %s, %s (%s ~ %s).", d.Difficulty, shifted, marker, skill, entry)
	}
	d.Difficulty = shifted
	d.AIAdjusted = true
	return d
}

func (r *Resolver) base(in Input) Decision {
	name := subjectLabel(in.Subject)

	if in.Grade == nil {
		if in.HasProficiency && in.Proficiency < r.thresholds.LowProficiency {
			return Decision{
				Difficulty: quest.DifficultySupportive,
				Rationale:  fmt.Sprintf("No grade history for %s; prerequisite proficiency %.2f is below %.2f.", name, in.Proficiency, r.thresholds.LowProficiency),
			}
		}
		return Decision{
			Difficulty: quest.DifficultyStandard,
			Rationale:  fmt.Sprintf("No grade history for %s; starting on the standard track.", name),
		}
	}

	switch in.Grade.Status {
	case quest.GradeStudying:
		return Decision{
			Difficulty: quest.DifficultyAdaptive,
			Rationale:  fmt.Sprintf("Currently studying %s; content adapts as the course progresses.", name),
		}
	case quest.GradeNotPassed:
		return Decision{
			Difficulty: quest.DifficultySupportive,
			Rationale:  fmt.Sprintf("%s not passed yet; remediation-focused track.", name),
		}
	case quest.GradePassed:
		grade, ok := in.Grade.NumericGrade()
		switch {
		case !ok:
			return Decision{
				Difficulty: quest.DifficultyStandard,
				Rationale:  fmt.Sprintf("Passed %s with unreadable grade %q; standard track.", name, in.Grade.Grade),
			}
		case grade >= r.thresholds.HighGrade:
			return Decision{
				Difficulty: quest.DifficultyChallenging,
				Rationale:  fmt.Sprintf("Passed %s with grade %.2f (>= %.2f); challenging track.", name, grade, r.thresholds.HighGrade),
			}
		case grade >= r.thresholds.MidGrade:
			return Decision{
				Difficulty: quest.DifficultyStandard,
				Rationale:  fmt.Sprintf("Passed %s with grade %.2f; standard track.", name, grade),
			}
		default:
			return Decision{
				Difficulty: quest.DifficultySupportive,
				Rationale:  fmt.Sprintf("Passed %s with grade %.2f (< %.2f); supportive track.", name, grade, r.thresholds.MidGrade),
			}
		}
	default:
		return Decision{
			Difficulty: quest.DifficultyStandard,
			Rationale:  fmt.Sprintf("Unrecognized enrollment status %q for %s; standard track.", in.Grade.Status, name),
		}
	}
}

// IsAIAdjusted reports whether a rationale records an analysis-driven shift.
func IsAIAdjusted(rationale string) bool {
	return strings.Contains(rationale, "aligned with identified")
}

// matchSkill finds the first subject skill that contains, or is contained in,
// one of the report entries after case folding.
func matchSkill(skillNames, reported []string) (skill, entry string, ok bool) {
	caser := cases.Fold()
	for _, s := range skillNames {
		fs := strings.TrimSpace(caser.String(s))
		if fs == "" {
			continue
		}
		for _, e := range reported {
			fe := strings.TrimSpace(caser.String(e))
			if fe == "" {
				continue
			}
			if strings.Contains(fs, fe) || strings.Contains(fe, fs) {
				return s, e, true
			}
		}
	}
	return "", "", false
}

func subjectLabel(s quest.Subject) string {
	switch {
	case s.Code != "":
		return s.Code
	case s.Name != "":
		return s.Name
	default:
		return s.ID
	}
}
