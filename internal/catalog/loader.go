// Package catalog loads curriculum reference data and user fixtures from YAML
// files into a quest.Seed.
package catalog

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/FA25SE050-RogueLearn/RogueLearn.User-sub002/internal/content"
	"github.com/FA25SE050-RogueLearn/RogueLearn.User-sub002/internal/quest"
)

// Loader loads catalog YAML from a file or a directory tree.
type Loader struct {
	root     string
	seed     *quest.Seed
	warnings []string
	mu       sync.RWMutex
}

// NewLoader creates a loader and loads everything under root.
func NewLoader(root string) (*Loader, error) {
	l := &Loader{
		root: root,
		seed: &quest.Seed{},
	}

	if err := l.loadAll(); err != nil {
		return nil, fmt.Errorf("loading catalog: %w", err)
	}

	slog.Info("catalog loaded",
		"root", root,
		"subjects", len(l.seed.Subjects),
		"quests", len(l.seed.Quests),
		"steps", len(l.seed.Steps),
		"users", len(l.seed.Profiles),
		"warnings", len(l.warnings),
	)
	return l, nil
}

// Seed returns the loaded data.
func (l *Loader) Seed() *quest.Seed {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.seed
}

// Warnings returns the problems found in authored data that did not stop loading.
func (l *Loader) Warnings() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]string{}, l.warnings...)
}

func (l *Loader) loadAll() error {
	if _, err := os.Stat(l.root); err != nil {
		return err
	}
	return filepath.Walk(l.root, func(path string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() {
			return nil
		}
		if strings.HasSuffix(path, ".yaml") || strings.HasSuffix(path, ".yml") {
			return l.loadFile(path)
		}
		return nil
	})
}

func (l *Loader) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		slog.Warn("skipping invalid catalog YAML", "path", path, "error", err)
		l.warn("%s: invalid YAML: %v", path, err)
		return nil
	}

	seed := l.convert(path, &doc)

	l.mu.Lock()
	l.seed.Merge(seed)
	l.mu.Unlock()

	return nil
}

func (l *Loader) convert(path string, doc *document) *quest.Seed {
	seed := &quest.Seed{Routes: doc.Routes, Classes: doc.Classes}

	for _, s := range doc.Subjects {
		if s.ID == "" {
			l.warn("%s: subject without id skipped", path)
			continue
		}
		seed.Subjects = append(seed.Subjects, quest.Subject{
			ID:                     s.ID,
			Code:                   s.Code,
			Name:                   s.Name,
			Credits:                s.Credits,
			PrerequisiteSubjectIDs: s.Prerequisites,
		})
		for _, m := range s.Skills {
			weight := 1.0
			if m.RelevanceWeight != nil {
				weight = *m.RelevanceWeight
			}
			seed.SubjectSkills = append(seed.SubjectSkills, quest.SubjectSkill{
				SubjectID:       s.ID,
				SkillID:         m.SkillID,
				RelevanceWeight: weight,
			})
		}
	}

	for _, s := range doc.Skills {
		if s.ID == "" {
			l.warn("%s: skill without id skipped", path)
			continue
		}
		seed.Skills = append(seed.Skills, quest.Skill{ID: s.ID, Name: s.Name, Tier: s.Tier, Domain: s.Domain})
		for _, pre := range s.Requires {
			seed.SkillDependencies = append(seed.SkillDependencies, quest.SkillDependency{SkillID: s.ID, PrerequisiteSkillID: pre})
		}
	}

	for _, q := range doc.Quests {
		if q.ID == "" {
			l.warn("%s: quest without id skipped", path)
			continue
		}
		active := true
		if q.Active != nil {
			active = *q.Active
		}
		seed.Quests = append(seed.Quests, quest.Quest{
			ID:          q.ID,
			Title:       q.Title,
			Description: q.Description,
			Type:        q.Type,
			IsActive:    active,
			SubjectID:   q.SubjectID,
		})
		for i, st := range q.Steps {
			seed.Steps = append(seed.Steps, l.convertStep(path, q.ID, i, st))
		}
	}

	for _, u := range doc.Users {
		if u.ID == "" {
			l.warn("%s: user without id skipped", path)
			continue
		}
		seed.Profiles = append(seed.Profiles, quest.Profile{UserID: u.ID, RouteID: u.Route, ClassID: u.Class})
		for _, g := range u.Grades {
			status, ok := quest.ParseGradeStatus(g.Status)
			if !ok {
				l.warn("%s: user %s subject %s: unknown grade status %q", path, u.ID, g.SubjectID, g.Status)
				continue
			}
			seed.Grades = append(seed.Grades, quest.GradeRecord{UserID: u.ID, SubjectID: g.SubjectID, Status: status, Grade: g.Grade})
		}
		for _, s := range u.Skills {
			seed.UserSkills = append(seed.UserSkills, quest.UserSkill{UserID: u.ID, SkillID: s.SkillID, Level: s.Level, XP: s.XP})
		}
		if u.Analysis != nil {
			seed.Analyses = append(seed.Analyses, quest.AnalysisReport{
				UserID:     u.ID,
				Weaknesses: u.Analysis.Weaknesses,
				Strengths:  u.Analysis.Strengths,
			})
		}
	}
	return seed
}

func (l *Loader) convertStep(path, questID string, index int, st stepDoc) quest.Step {
	id := st.ID
	if id == "" {
		id = fmt.Sprintf("%s-step-%d", questID, index+1)
	}
	number := st.Number
	if number == 0 {
		number = index + 1
	}

	d, ok := quest.ParseDifficulty(st.Difficulty)
	if !ok && st.Difficulty != "" {
		l.warn("%s: step %s: unknown difficulty %q, using %s", path, id, st.Difficulty, d)
	}

	step := quest.Step{
		ID:                id,
		QuestID:           questID,
		StepNumber:        number,
		Title:             st.Title,
		DifficultyVariant: d,
		ExperiencePoints:  st.XP,
	}

	// YAML trees are re-encoded as JSON so numbers decode the same way as
	// content read from the database.
	switch c := st.Content.(type) {
	case nil:
	case string:
		step.Content = c
	default:
		raw, err := json.Marshal(c)
		if err != nil {
			l.warn("%s: step %s: content cannot be encoded: %v", path, id, err)
			break
		}
		step.Content = json.RawMessage(raw)
	}

	if err := content.Validate(step.Content); err != nil {
		l.warn("%s: step %s: %v", path, id, err)
	}
	return step
}

func (l *Loader) warn(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	slog.Warn("catalog lint", "problem", msg)
	l.mu.Lock()
	l.warnings = append(l.warnings, msg)
	l.mu.Unlock()
}
