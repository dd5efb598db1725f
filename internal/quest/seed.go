package quest

// Seed is a bulk set of reference data and user fixtures applied to a store.
type Seed struct {
	Subjects          []Subject
	Skills            []Skill
	SubjectSkills     []SubjectSkill
	SkillDependencies []SkillDependency
	Routes            map[string][]string
	Classes           map[string][]string
	Quests            []Quest
	Steps             []Step
	Profiles          []Profile
	Grades            []GradeRecord
	UserSkills        []UserSkill
	Analyses          []AnalysisReport
}

// Merge appends other into s. Route and class lists are replaced per id.
func (s *Seed) Merge(other *Seed) {
	if other == nil {
		return
	}
	s.Subjects = append(s.Subjects, other.Subjects...)
	s.Skills = append(s.Skills, other.Skills...)
	s.SubjectSkills = append(s.SubjectSkills, other.SubjectSkills...)
	s.SkillDependencies = append(s.SkillDependencies, other.SkillDependencies...)
	s.Quests = append(s.Quests, other.Quests...)
	s.Steps = append(s.Steps, other.Steps...)
	s.Profiles = append(s.Profiles, other.Profiles...)
	s.Grades = append(s.Grades, other.Grades...)
	s.UserSkills = append(s.UserSkills, other.UserSkills...)
	s.Analyses = append(s.Analyses, other.Analyses...)
	for id, subjects := range other.Routes {
		if s.Routes == nil {
			s.Routes = make(map[string][]string)
		}
		s.Routes[id] = subjects
	}
	for id, subjects := range other.Classes {
		if s.Classes == nil {
			s.Classes = make(map[string][]string)
		}
		s.Classes[id] = subjects
	}
}

// ApplySeed loads seed into the memory store, replacing entries with equal ids.
func (s *MemoryStore) ApplySeed(seed *Seed) {
	if seed == nil {
		return
	}
	for _, v := range seed.Subjects {
		s.PutSubject(v)
	}
	for _, v := range seed.Skills {
		s.PutSkill(v)
	}
	for _, v := range seed.SubjectSkills {
		s.PutSubjectSkill(v)
	}
	for _, v := range seed.SkillDependencies {
		s.PutSkillDependency(v)
	}
	for id, subjects := range seed.Routes {
		s.PutRoute(id, subjects...)
	}
	for id, subjects := range seed.Classes {
		s.PutClass(id, subjects...)
	}
	for _, v := range seed.Quests {
		s.PutQuest(v)
	}
	for _, v := range seed.Steps {
		s.PutStep(v)
	}
	for _, v := range seed.Profiles {
		s.PutProfile(v)
	}
	for _, v := range seed.Grades {
		s.PutGrade(v)
	}
	for _, v := range seed.UserSkills {
		s.PutUserSkill(v)
	}
	for _, v := range seed.Analyses {
		s.PutAnalysis(v)
	}
}
