package catalog

// document is one catalog YAML file. Every section is optional so reference
// data and user fixtures can live in separate files.
type document struct {
	Subjects []subjectDoc        `yaml:"subjects"`
	Skills   []skillDoc          `yaml:"skills"`
	Routes   map[string][]string `yaml:"routes"`
	Classes  map[string][]string `yaml:"classes"`
	Quests   []questDoc          `yaml:"quests"`
	Users    []userDoc           `yaml:"users"`
}

type subjectDoc struct {
	ID            string            `yaml:"id"`
	Code          string            `yaml:"code"`
	Name          string            `yaml:"name"`
	Credits       int               `yaml:"credits"`
	Prerequisites []string          `yaml:"prerequisites"`
	Skills        []subjectSkillDoc `yaml:"skills"`
}

type subjectSkillDoc struct {
	SkillID         string   `yaml:"skill_id"`
	RelevanceWeight *float64 `yaml:"relevance_weight"`
}

type skillDoc struct {
	ID       string   `yaml:"id"`
	Name     string   `yaml:"name"`
	Tier     int      `yaml:"tier"`
	Domain   string   `yaml:"domain"`
	Requires []string `yaml:"requires"`
}

type questDoc struct {
	ID          string    `yaml:"id"`
	Title       string    `yaml:"title"`
	Description string    `yaml:"description"`
	Type        string    `yaml:"type"`
	Active      *bool     `yaml:"active"`
	SubjectID   string    `yaml:"subject_id"`
	Steps       []stepDoc `yaml:"steps"`
}

type stepDoc struct {
	ID         string `yaml:"id"`
	Number     int    `yaml:"number"`
	Title      string `yaml:"title"`
	Difficulty string `yaml:"difficulty"`
	XP         int    `yaml:"xp"`
	Content    any    `yaml:"content"`
}

type userDoc struct {
	ID       string         `yaml:"id"`
	Route    string         `yaml:"route"`
	Class    string         `yaml:"class"`
	Grades   []gradeDoc     `yaml:"grades"`
	Skills   []userSkillDoc `yaml:"skills"`
	Analysis *analysisDoc   `yaml:"analysis"`
}

type gradeDoc struct {
	SubjectID string `yaml:"subject_id"`
	Status    string `yaml:"status"`
	Grade     string `yaml:"grade"`
}

type userSkillDoc struct {
	SkillID string `yaml:"skill_id"`
	Level   int    `yaml:"level"`
	XP      int    `yaml:"xp"`
}

type analysisDoc struct {
	Weaknesses []string `yaml:"weaknesses"`
	Strengths  []string `yaml:"strengths"`
}
