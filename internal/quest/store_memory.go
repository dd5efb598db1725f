package quest

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-memory implementation of Catalog, AttemptStore and the
// user-facing sources. It backs tests and local runs seeded from a catalog.
type MemoryStore struct {
	mu sync.RWMutex

	subjects      map[string]Subject
	skills        map[string]Skill
	subjectSkills map[string][]SubjectSkill
	dependencies  []SkillDependency
	routes        map[string][]string
	classes       map[string][]string
	quests        map[string]Quest
	steps         map[string]Step
	userSkills    map[string]map[string]UserSkill
	profiles      map[string]Profile
	grades        map[string]map[string]GradeRecord
	analyses      map[string]AnalysisReport

	attempts map[string]*Attempt
	progress map[string]map[string]*StepProgress // attempt id -> step id

	now func() time.Time
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		subjects:      make(map[string]Subject),
		skills:        make(map[string]Skill),
		subjectSkills: make(map[string][]SubjectSkill),
		routes:        make(map[string][]string),
		classes:       make(map[string][]string),
		quests:        make(map[string]Quest),
		steps:         make(map[string]Step),
		userSkills:    make(map[string]map[string]UserSkill),
		profiles:      make(map[string]Profile),
		grades:        make(map[string]map[string]GradeRecord),
		analyses:      make(map[string]AnalysisReport),
		attempts:      make(map[string]*Attempt),
		progress:      make(map[string]map[string]*StepProgress),
		now:           time.Now,
	}
}

func (s *MemoryStore) PutSubject(sub Subject) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subjects[sub.ID] = sub
}

func (s *MemoryStore) PutSkill(sk Skill) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.skills[sk.ID] = sk
}

func (s *MemoryStore) PutSubjectSkill(m SubjectSkill) {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.subjectSkills[m.SubjectID]
	for i := range list {
		if list[i].SkillID == m.SkillID {
			list[i] = m
			return
		}
	}
	s.subjectSkills[m.SubjectID] = append(list, m)
}

func (s *MemoryStore) PutSkillDependency(d SkillDependency) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !slices.Contains(s.dependencies, d) {
		s.dependencies = append(s.dependencies, d)
	}
}

func (s *MemoryStore) PutRoute(routeID string, subjectIDs ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.routes[routeID] = append([]string{}, subjectIDs...)
}

func (s *MemoryStore) PutClass(classID string, subjectIDs ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.classes[classID] = append([]string{}, subjectIDs...)
}

func (s *MemoryStore) PutQuest(q Quest) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.quests[q.ID] = q
}

func (s *MemoryStore) PutStep(st Step) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.steps[st.ID] = st
}

func (s *MemoryStore) PutUserSkill(us UserSkill) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.userSkills[us.UserID] == nil {
		s.userSkills[us.UserID] = make(map[string]UserSkill)
	}
	s.userSkills[us.UserID][us.SkillID] = us
}

func (s *MemoryStore) PutProfile(p Profile) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.profiles[p.UserID] = p
}

func (s *MemoryStore) PutGrade(g GradeRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.grades[g.UserID] == nil {
		s.grades[g.UserID] = make(map[string]GradeRecord)
	}
	s.grades[g.UserID][g.SubjectID] = g
}

func (s *MemoryStore) PutAnalysis(r AnalysisReport) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.analyses[r.UserID] = r
}

// Catalog

func (s *MemoryStore) GetSubject(_ context.Context, id string) (*Subject, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sub, ok := s.subjects[id]
	if !ok {
		return nil, NotFoundf("quest.GetSubject", "subject %s not found", id)
	}
	return &sub, nil
}

func (s *MemoryStore) ListRouteSubjects(_ context.Context, routeID string) ([]Subject, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.subjectsByID(s.routes[routeID]), nil
}

func (s *MemoryStore) ListClassSubjects(_ context.Context, classID string) ([]Subject, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.subjectsByID(s.classes[classID]), nil
}

func (s *MemoryStore) subjectsByID(ids []string) []Subject {
	out := make([]Subject, 0, len(ids))
	for _, id := range ids {
		if sub, ok := s.subjects[id]; ok {
			out = append(out, sub)
		}
	}
	return out
}

func (s *MemoryStore) GetQuest(_ context.Context, id string) (*Quest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	q, ok := s.quests[id]
	if !ok {
		return nil, NotFoundf("quest.GetQuest", "quest %s not found", id)
	}
	return &q, nil
}

func (s *MemoryStore) GetActiveQuestForSubject(_ context.Context, subjectID string) (*Quest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.quests))
	for id, q := range s.quests {
		if q.IsActive && q.SubjectID == subjectID {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return nil, NotFoundf("quest.GetActiveQuestForSubject", "no active quest for subject %s", subjectID)
	}
	sort.Strings(ids)
	q := s.quests[ids[0]]
	return &q, nil
}

func (s *MemoryStore) GetStep(_ context.Context, id string) (*Step, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.steps[id]
	if !ok {
		return nil, NotFoundf("quest.GetStep", "step %s not found", id)
	}
	return &st, nil
}

func (s *MemoryStore) ListSteps(_ context.Context, questID string) ([]Step, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Step
	for _, st := range s.steps {
		if st.QuestID == questID {
			out = append(out, st)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].StepNumber != out[j].StepNumber {
			return out[i].StepNumber < out[j].StepNumber
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *MemoryStore) ListSubjectSkills(_ context.Context, subjectID string) ([]SubjectSkill, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	list := s.subjectSkills[subjectID]
	out := make([]SubjectSkill, 0, len(list))
	for _, m := range list {
		if sk, ok := s.skills[m.SkillID]; ok {
			m.SkillName = sk.Name
		}
		out = append(out, m)
	}
	return out, nil
}

func (s *MemoryStore) ListSkillDependencies(_ context.Context, skillIDs []string) ([]SkillDependency, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []SkillDependency
	for _, d := range s.dependencies {
		if slices.Contains(skillIDs, d.SkillID) {
			out = append(out, d)
		}
	}
	return out, nil
}

func (s *MemoryStore) ListUserSkills(_ context.Context, userID string) ([]UserSkill, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]UserSkill, 0, len(s.userSkills[userID]))
	for _, us := range s.userSkills[userID] {
		out = append(out, us)
	}
	return out, nil
}

// Sources

func (s *MemoryStore) GetProfile(_ context.Context, userID string) (*Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.profiles[userID]
	if !ok {
		return nil, NotFoundf("quest.GetProfile", "profile for user %s not found", userID)
	}
	return &p, nil
}

func (s *MemoryStore) ListGrades(_ context.Context, userID string) ([]GradeRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]GradeRecord, 0, len(s.grades[userID]))
	for _, g := range s.grades[userID] {
		out = append(out, g)
	}
	return out, nil
}

func (s *MemoryStore) LatestAnalysis(_ context.Context, userID string) (*AnalysisReport, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.analyses[userID]
	if !ok {
		return nil, nil
	}
	return &r, nil
}

// Attempts

func (s *MemoryStore) GetAttempt(_ context.Context, userID, questID string) (*Attempt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, a := range s.attempts {
		if a.UserID == userID && a.QuestID == questID {
			cp := *a
			return &cp, nil
		}
	}
	return nil, NotFoundf("quest.GetAttempt", "attempt for user %s quest %s not found", userID, questID)
}

func (s *MemoryStore) ListAttempts(_ context.Context, userID string) ([]Attempt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Attempt
	for _, a := range s.attempts {
		if a.UserID == userID {
			out = append(out, *a)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].QuestID < out[j].QuestID
	})
	return out, nil
}

func (s *MemoryStore) CreateAttempt(_ context.Context, a *Attempt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.attempts {
		if existing.UserID == a.UserID && existing.QuestID == a.QuestID {
			return &Error{Op: "quest.CreateAttempt", Kind: ErrConcurrentModification, Msg: "attempt already exists"}
		}
	}
	now := s.now()
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.Status == "" {
		a.Status = AttemptNotStarted
	}
	if a.StartedAt.IsZero() {
		a.StartedAt = now
	}
	a.CreatedAt = now
	a.UpdatedAt = now
	cp := *a
	s.attempts[a.ID] = &cp
	return nil
}

func (s *MemoryStore) UpdateAttemptPreview(_ context.Context, attemptID string, d Difficulty, notes string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.attempts[attemptID]
	if !ok {
		return NotFoundf("quest.UpdateAttemptPreview", "attempt %s not found", attemptID)
	}
	if a.Status != AttemptNotStarted {
		return &Error{Op: "quest.UpdateAttemptPreview", Kind: ErrConcurrentModification, Msg: "attempt already started"}
	}
	a.AssignedDifficulty = d
	a.Notes = notes
	a.UpdatedAt = s.now()
	return nil
}

func (s *MemoryStore) MigrateAttempt(_ context.Context, attemptID string, d Difficulty, notes string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.attempts[attemptID]
	if !ok {
		return NotFoundf("quest.MigrateAttempt", "attempt %s not found", attemptID)
	}
	delete(s.progress, attemptID)
	a.AssignedDifficulty = d
	a.Notes = notes
	a.Status = AttemptInProgress
	a.CompletionPercentage = 0
	a.CompletedAt = nil
	a.UpdatedAt = s.now()
	return nil
}

func (s *MemoryStore) AwardExperience(_ context.Context, attemptID string, track Difficulty, points, trackCap int) (int, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, err := s.onTrackLocked("quest.AwardExperience", attemptID, track)
	if err != nil {
		return 0, 0, err
	}
	before, after := s.awardLocked(a, points, trackCap)
	return before, after, nil
}

func (s *MemoryStore) CompleteActivity(_ context.Context, p *StepProgress, track Difficulty, points, trackCap int) (int, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, err := s.onTrackLocked("quest.CompleteActivity", p.AttemptID, track)
	if err != nil {
		return 0, 0, err
	}
	s.saveProgressLocked(p)
	before, after := s.awardLocked(a, points, trackCap)
	return before, after, nil
}

func (s *MemoryStore) onTrackLocked(op, attemptID string, track Difficulty) (*Attempt, error) {
	a, ok := s.attempts[attemptID]
	if !ok {
		return nil, NotFoundf(op, "attempt %s not found", attemptID)
	}
	if a.AssignedDifficulty != track {
		return nil, ErrTrackChanged
	}
	return a, nil
}

func (s *MemoryStore) awardLocked(a *Attempt, points, trackCap int) (int, int) {
	before := a.TotalExperienceEarned
	after := min(before+points, trackCap)
	if after <= before {
		return before, before
	}
	a.TotalExperienceEarned = after
	a.UpdatedAt = s.now()
	return before, after
}

func (s *MemoryStore) UpdateAttemptProgress(_ context.Context, attemptID string, track Difficulty, u ProgressUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.attempts[attemptID]
	if !ok {
		return NotFoundf("quest.UpdateAttemptProgress", "attempt %s not found", attemptID)
	}
	if a.AssignedDifficulty != track {
		return ErrTrackChanged
	}
	a.CompletionPercentage = u.CompletionPercentage
	a.Status = u.Status
	if u.CurrentStepID != "" {
		a.CurrentStepID = u.CurrentStepID
	}
	if !u.StartedAt.IsZero() {
		a.StartedAt = u.StartedAt
	}
	a.CompletedAt = u.CompletedAt
	a.UpdatedAt = s.now()
	return nil
}

func (s *MemoryStore) GetStepProgress(_ context.Context, attemptID, stepID string) (*StepProgress, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.progress[attemptID][stepID]
	if !ok {
		return nil, NotFoundf("quest.GetStepProgress", "progress for step %s not found", stepID)
	}
	return copyProgress(p), nil
}

func (s *MemoryStore) ListStepProgress(_ context.Context, attemptID string) ([]StepProgress, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]StepProgress, 0, len(s.progress[attemptID]))
	for _, p := range s.progress[attemptID] {
		out = append(out, *copyProgress(p))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StepID < out[j].StepID })
	return out, nil
}

func (s *MemoryStore) SaveStepProgress(_ context.Context, p *StepProgress, track Difficulty) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.onTrackLocked("quest.SaveStepProgress", p.AttemptID, track); err != nil {
		return err
	}
	s.saveProgressLocked(p)
	return nil
}

func (s *MemoryStore) saveProgressLocked(p *StepProgress) {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	p.UpdatedAt = s.now()
	if s.progress[p.AttemptID] == nil {
		s.progress[p.AttemptID] = make(map[string]*StepProgress)
	}
	s.progress[p.AttemptID][p.StepID] = copyProgress(p)
}

func copyProgress(p *StepProgress) *StepProgress {
	cp := *p
	cp.CompletedActivityIDs = append([]string{}, p.CompletedActivityIDs...)
	return &cp
}
