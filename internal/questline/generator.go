// Package questline builds a user's quest line: which quests they receive and
// on which difficulty track, including moving existing attempts between tracks.
package questline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/FA25SE050-RogueLearn/RogueLearn.User-sub002/internal/difficulty"
	"github.com/FA25SE050-RogueLearn/RogueLearn.User-sub002/internal/proficiency"
	"github.com/FA25SE050-RogueLearn/RogueLearn.User-sub002/internal/quest"
)

const defaultConcurrency = 4

// Action is what the generator did for one subject.
type Action string

const (
	ActionCreated        Action = "created"
	ActionMigrated       Action = "migrated"
	ActionPreviewed      Action = "previewed"
	ActionUnchanged      Action = "unchanged"
	ActionSkippedLocked  Action = "skipped_locked"
	ActionSkippedNoQuest Action = "skipped_no_quest"
	ActionFailed         Action = "failed"
)

// SubjectOutcome records the decision taken for one candidate subject.
type SubjectOutcome struct {
	SubjectID  string           `json:"subject_id"`
	QuestID    string           `json:"quest_id,omitempty"`
	Action     Action           `json:"action"`
	Difficulty quest.Difficulty `json:"difficulty"`
	Previous   quest.Difficulty `json:"previous_difficulty"`
	Rationale  string           `json:"rationale,omitempty"`
	AIAdjusted bool             `json:"ai_adjusted"`
	Error      string           `json:"error,omitempty"`
}

// Result accumulates the counters of one Generate call.
type Result struct {
	UserID         string           `json:"user_id"`
	Generated      int              `json:"generated"`
	Updated        int              `json:"updated"`
	Migrated       int              `json:"migrated"`
	Unchanged      int              `json:"unchanged"`
	SkippedLocked  int              `json:"skipped_locked"`
	SkippedNoQuest int              `json:"skipped_no_quest"`
	AIAdjusted     int              `json:"ai_adjusted"`
	Failed         int              `json:"failed"`
	Subjects       []SubjectOutcome `json:"subjects"`
}

func (r *Result) record(o SubjectOutcome) {
	r.Subjects = append(r.Subjects, o)
	switch o.Action {
	case ActionCreated:
		r.Generated++
	case ActionMigrated:
		r.Updated++
		r.Migrated++
	case ActionPreviewed:
		r.Updated++
	case ActionUnchanged:
		r.Unchanged++
	case ActionSkippedLocked:
		r.SkippedLocked++
	case ActionSkippedNoQuest:
		r.SkippedNoQuest++
	case ActionFailed:
		r.Failed++
	}
	switch o.Action {
	case ActionCreated, ActionMigrated, ActionPreviewed:
		if o.AIAdjusted {
			r.AIAdjusted++
		}
	}
}

// Config holds the generator's dependencies. Analyses is optional.
type Config struct {
	Catalog     quest.Catalog
	Attempts    quest.AttemptStore
	Profiles    quest.ProfileSource
	Grades      quest.GradeSource
	Analyses    quest.AnalysisSource
	Locker      quest.Locker
	Resolver    *difficulty.Resolver
	Concurrency int // users processed in parallel by GenerateMany (default 4)
	Logger      *slog.Logger
	Now         func() time.Time
}

// Generator creates and reconciles quest attempts.
type Generator struct {
	catalog     quest.Catalog
	attempts    quest.AttemptStore
	profiles    quest.ProfileSource
	grades      quest.GradeSource
	analyses    quest.AnalysisSource
	locker      quest.Locker
	resolver    *difficulty.Resolver
	calculator  *proficiency.Calculator
	concurrency int
	log         *slog.Logger
	now         func() time.Time
}

// NewGenerator creates a generator. Catalog, Attempts, Profiles and Grades are required.
func NewGenerator(cfg Config) (*Generator, error) {
	switch {
	case cfg.Catalog == nil:
		return nil, fmt.Errorf("catalog is nil")
	case cfg.Attempts == nil:
		return nil, fmt.Errorf("attempt store is nil")
	case cfg.Profiles == nil:
		return nil, fmt.Errorf("profile source is nil")
	case cfg.Grades == nil:
		return nil, fmt.Errorf("grade source is nil")
	}

	locker := cfg.Locker
	if locker == nil {
		locker = quest.NewMemoryLocker()
	}
	resolver := cfg.Resolver
	if resolver == nil {
		resolver = difficulty.NewResolver(difficulty.DefaultThresholds())
	}
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = defaultConcurrency
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	return &Generator{
		catalog:     cfg.Catalog,
		attempts:    cfg.Attempts,
		profiles:    cfg.Profiles,
		grades:      cfg.Grades,
		analyses:    cfg.Analyses,
		locker:      locker,
		resolver:    resolver,
		calculator:  proficiency.NewCalculator(cfg.Catalog),
		concurrency: concurrency,
		log:         logger.With("component", "questline"),
		now:         now,
	}, nil
}

// userContext is the per-user data shared by every subject in a run.
type userContext struct {
	userID     string
	grades     map[string]quest.GradeRecord
	userSkills []quest.UserSkill
	analysis   *quest.AnalysisReport
}

// Generate builds or refreshes the quest line for userID. Failures for a
// single subject are recorded in the result and do not stop the run.
func (g *Generator) Generate(ctx context.Context, userID string) (*Result, error) {
	profile, err := g.profiles.GetProfile(ctx, userID)
	if quest.IsNotFound(err) {
		return nil, quest.ErrProfileIncomplete
	}
	if err != nil {
		return nil, fmt.Errorf("get profile: %w", err)
	}
	if profile.RouteID == "" || profile.ClassID == "" {
		return nil, quest.ErrProfileIncomplete
	}

	subjects, err := g.candidates(ctx, profile)
	if err != nil {
		return nil, err
	}

	uc, err := g.loadUserContext(ctx, userID)
	if err != nil {
		return nil, err
	}

	res := &Result{UserID: userID, Subjects: make([]SubjectOutcome, 0, len(subjects))}
	for _, subject := range subjects {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		o := g.processSubject(ctx, uc, subject)
		res.record(o)
	}

	g.log.Info("quest line generated",
		"user_id", userID,
		"subjects", len(subjects),
		"generated", res.Generated,
		"updated", res.Updated,
		"migrated", res.Migrated,
		"skipped_locked", res.SkippedLocked,
		"skipped_no_quest", res.SkippedNoQuest,
		"ai_adjusted", res.AIAdjusted,
		"failed", res.Failed,
	)
	return res, nil
}

// candidates returns route subjects followed by class subjects, de-duplicated by id.
func (g *Generator) candidates(ctx context.Context, p *quest.Profile) ([]quest.Subject, error) {
	route, err := g.catalog.ListRouteSubjects(ctx, p.RouteID)
	if err != nil {
		return nil, fmt.Errorf("list route subjects: %w", err)
	}
	class, err := g.catalog.ListClassSubjects(ctx, p.ClassID)
	if err != nil {
		return nil, fmt.Errorf("list class subjects: %w", err)
	}

	seen := make(map[string]bool, len(route)+len(class))
	out := make([]quest.Subject, 0, len(route)+len(class))
	for _, s := range append(route, class...) {
		if seen[s.ID] {
			continue
		}
		seen[s.ID] = true
		out = append(out, s)
	}
	return out, nil
}

func (g *Generator) loadUserContext(ctx context.Context, userID string) (*userContext, error) {
	records, err := g.grades.ListGrades(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list grades: %w", err)
	}
	grades := make(map[string]quest.GradeRecord, len(records))
	for _, r := range records {
		grades[r.SubjectID] = r
	}

	skills, err := g.catalog.ListUserSkills(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list user skills: %w", err)
	}

	uc := &userContext{userID: userID, grades: grades, userSkills: skills}
	if g.analyses != nil {
		report, err := g.analyses.LatestAnalysis(ctx, userID)
		if err != nil {
			g.log.Warn("academic analysis unavailable", "user_id", userID, "error", err)
		} else {
			uc.analysis = report
		}
	}
	return uc, nil
}

// eligible reports whether the user may receive a quest for s: any grade
// record for the subject, no prerequisites, or every prerequisite passed.
func eligible(s quest.Subject, grades map[string]quest.GradeRecord) bool {
	if _, ok := grades[s.ID]; ok {
		return true
	}
	for _, pre := range s.PrerequisiteSubjectIDs {
		if g, ok := grades[pre]; !ok || g.Status != quest.GradePassed {
			return false
		}
	}
	return true
}

func (g *Generator) processSubject(ctx context.Context, uc *userContext, subject quest.Subject) SubjectOutcome {
	o := SubjectOutcome{SubjectID: subject.ID}

	if !eligible(subject, uc.grades) {
		o.Action = ActionSkippedLocked
		return o
	}

	q, err := g.catalog.GetActiveQuestForSubject(ctx, subject.ID)
	if quest.IsNotFound(err) {
		o.Action = ActionSkippedNoQuest
		return o
	}
	if err != nil {
		return g.fail(uc.userID, o, fmt.Errorf("get active quest: %w", err))
	}
	o.QuestID = q.ID

	decision, err := g.decide(ctx, uc, subject)
	if err != nil {
		return g.fail(uc.userID, o, err)
	}
	o.Difficulty = decision.Difficulty
	o.Rationale = decision.Rationale
	o.AIAdjusted = decision.AIAdjusted

	unlock, err := g.locker.Lock(ctx, quest.AttemptLockKey(uc.userID, q.ID))
	if err != nil {
		return g.fail(uc.userID, o, fmt.Errorf("lock attempt: %w", err))
	}
	defer unlock()

	o, err = g.reconcile(ctx, uc.userID, q.ID, decision, o)
	if err != nil {
		return g.fail(uc.userID, o, err)
	}
	return o
}

func (g *Generator) decide(ctx context.Context, uc *userContext, subject quest.Subject) (difficulty.Decision, error) {
	score, hasScore, err := g.calculator.Calculate(ctx, subject.ID, uc.userSkills)
	if err != nil {
		return difficulty.Decision{}, fmt.Errorf("calculate proficiency: %w", err)
	}

	mappings, err := g.catalog.ListSubjectSkills(ctx, subject.ID)
	if err != nil {
		return difficulty.Decision{}, fmt.Errorf("list subject skills: %w", err)
	}
	names := make([]string, 0, len(mappings))
	for _, m := range mappings {
		if m.SkillName != "" {
			names = append(names, m.SkillName)
		}
	}

	in := difficulty.Input{
		Subject:        subject,
		Proficiency:    score,
		HasProficiency: hasScore,
		Analysis:       uc.analysis,
		SkillNames:     names,
	}
	if rec, ok := uc.grades[subject.ID]; ok {
		in.Grade = &rec
	}
	return g.resolver.Resolve(in), nil
}

// reconcile applies the decision to the (user, quest) attempt. The caller
// holds the attempt lock.
func (g *Generator) reconcile(ctx context.Context, userID, questID string, d difficulty.Decision, o SubjectOutcome) (SubjectOutcome, error) {
	attempt, err := g.attempts.GetAttempt(ctx, userID, questID)
	if quest.IsNotFound(err) {
		a := &quest.Attempt{
			UserID:             userID,
			QuestID:            questID,
			Status:             quest.AttemptNotStarted,
			AssignedDifficulty: d.Difficulty,
			Notes:              d.Rationale,
		}
		if err := g.attempts.CreateAttempt(ctx, a); err != nil {
			return o, fmt.Errorf("create attempt: %w", err)
		}
		o.Action = ActionCreated
		o.Previous = d.Difficulty
		return o, nil
	}
	if err != nil {
		return o, fmt.Errorf("get attempt: %w", err)
	}
	o.Previous = attempt.AssignedDifficulty

	switch {
	case attempt.AssignedDifficulty.Level() != d.Difficulty.Level():
		notes := fmt.Sprintf("Difficulty migrated from %s to %s on %s: %s",
			attempt.AssignedDifficulty, d.Difficulty, g.now().Format("2006-01-02"), d.Rationale)
		if err := g.attempts.MigrateAttempt(ctx, attempt.ID, d.Difficulty, notes); err != nil {
			return o, fmt.Errorf("migrate attempt: %w", err)
		}
		g.log.Info("attempt migrated",
			"user_id", userID,
			"quest_id", questID,
			"from", attempt.AssignedDifficulty.String(),
			"to", d.Difficulty.String(),
			"xp_kept", attempt.TotalExperienceEarned,
		)
		o.Action = ActionMigrated

	case attempt.Status == quest.AttemptNotStarted:
		if attempt.AssignedDifficulty == d.Difficulty && attempt.Notes == d.Rationale {
			o.Action = ActionUnchanged
			return o, nil
		}
		err := g.attempts.UpdateAttemptPreview(ctx, attempt.ID, d.Difficulty, d.Rationale)
		if quest.IsConflict(err) {
			// Started between our read and write; the track stays as it is.
			o.Action = ActionUnchanged
			return o, nil
		}
		if err != nil {
			return o, fmt.Errorf("update attempt preview: %w", err)
		}
		o.Action = ActionPreviewed

	default:
		o.Action = ActionUnchanged
	}
	return o, nil
}

func (g *Generator) fail(userID string, o SubjectOutcome, err error) SubjectOutcome {
	g.log.Warn("quest line subject failed",
		"user_id", userID,
		"subject_id", o.SubjectID,
		"quest_id", o.QuestID,
		"error", err,
	)
	o.Action = ActionFailed
	o.Error = err.Error()
	return o
}

// UserResult pairs a user with the outcome of their generation run.
type UserResult struct {
	UserID string
	Result *Result
	Err    error
}

// GenerateMany runs Generate for each user with bounded parallelism. A failure
// for one user is reported in its UserResult; only context cancellation is
// returned as an error.
func (g *Generator) GenerateMany(ctx context.Context, userIDs []string) ([]UserResult, error) {
	out := make([]UserResult, len(userIDs))

	eg, egctx := errgroup.WithContext(ctx)
	eg.SetLimit(g.concurrency)
	for i, userID := range userIDs {
		eg.Go(func() error {
			if err := egctx.Err(); err != nil {
				out[i] = UserResult{UserID: userID, Err: err}
				return err
			}
			res, err := g.Generate(egctx, userID)
			out[i] = UserResult{UserID: userID, Result: res, Err: err}
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return out, err
	}
	return out, nil
}
