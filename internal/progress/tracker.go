// Package progress records activity completions against quest steps and keeps
// the attempt's XP ledger and completion percentage in step with them.
package progress

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"time"

	"github.com/FA25SE050-RogueLearn/RogueLearn.User-sub002/internal/content"
	"github.com/FA25SE050-RogueLearn/RogueLearn.User-sub002/internal/quest"
	"github.com/FA25SE050-RogueLearn/RogueLearn.User-sub002/internal/reward"
)

// Request identifies the activity being updated and its new status.
type Request struct {
	UserID     string
	QuestID    string
	StepID     string
	ActivityID string
	Status     quest.StepStatus
}

// Outcome describes the state after RecordActivity.
type Outcome struct {
	AttemptID            string              `json:"attempt_id"`
	Difficulty           quest.Difficulty    `json:"difficulty"`
	StepStatus           quest.StepStatus    `json:"step_status"`
	Changed              bool                `json:"changed"`
	ExperienceAwarded    int                 `json:"experience_awarded"`
	TotalExperience      int                 `json:"total_experience"`
	ExperienceCap        int                 `json:"experience_cap"`
	CompletionPercentage float64             `json:"completion_percentage"`
	AttemptStatus        quest.AttemptStatus `json:"attempt_status"`
	RewardSkillID        string              `json:"reward_skill_id,omitempty"`

	// PercentageStale is set when the derived attempt fields could not be saved.
	PercentageStale bool `json:"percentage_stale"`
}

// Config holds the tracker's dependencies. Rewards defaults to a no-op sink.
type Config struct {
	Catalog  quest.Catalog
	Attempts quest.AttemptStore
	Rewards  reward.Dispatcher
	Locker   quest.Locker
	Logger   *slog.Logger
	Now      func() time.Time
}

// Tracker records activity progress.
type Tracker struct {
	catalog  quest.Catalog
	attempts quest.AttemptStore
	rewards  reward.Dispatcher
	locker   quest.Locker
	log      *slog.Logger
	now      func() time.Time
}

// NewTracker creates a tracker. Catalog and Attempts are required.
func NewTracker(cfg Config) (*Tracker, error) {
	if cfg.Catalog == nil {
		return nil, fmt.Errorf("catalog is nil")
	}
	if cfg.Attempts == nil {
		return nil, fmt.Errorf("attempt store is nil")
	}
	rewards := cfg.Rewards
	if rewards == nil {
		rewards = reward.NopDispatcher{}
	}
	locker := cfg.Locker
	if locker == nil {
		locker = quest.NewMemoryLocker()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Tracker{
		catalog:  cfg.Catalog,
		attempts: cfg.Attempts,
		rewards:  rewards,
		locker:   locker,
		log:      logger.With("component", "progress"),
		now:      now,
	}, nil
}

// RecordActivity marks an activity completed, or reverts a completed one. The
// attempt must already exist. All track-dependent math uses the difficulty the
// attempt had when the call started; if the attempt migrates meanwhile the
// step write fails with quest.ErrTrackChanged.
func (t *Tracker) RecordActivity(ctx context.Context, req Request) (*Outcome, error) {
	step, err := t.catalog.GetStep(ctx, req.StepID)
	if err != nil {
		return nil, fmt.Errorf("get step: %w", err)
	}
	if step.QuestID != req.QuestID {
		return nil, quest.NotFoundf("progress.RecordActivity", "step %s does not belong to quest %s", req.StepID, req.QuestID)
	}

	unlock, err := t.locker.Lock(ctx, quest.AttemptLockKey(req.UserID, req.QuestID))
	if err != nil {
		return nil, fmt.Errorf("lock attempt: %w", err)
	}
	defer unlock()

	attempt, err := t.attempts.GetAttempt(ctx, req.UserID, req.QuestID)
	if quest.IsNotFound(err) {
		return nil, quest.ErrQuestNotStarted
	}
	if err != nil {
		return nil, fmt.Errorf("get attempt: %w", err)
	}
	track := attempt.AssignedDifficulty

	if step.DifficultyVariant != track {
		return nil, &quest.Error{
			Op:   "progress.RecordActivity",
			Kind: quest.ErrInvalidState,
			Msg:  fmt.Sprintf("step %s is on the %s track, attempt is on %s", step.ID, step.DifficultyVariant, track),
		}
	}

	steps, err := t.catalog.ListSteps(ctx, req.QuestID)
	if err != nil {
		return nil, fmt.Errorf("list steps: %w", err)
	}
	trackSteps := onTrack(steps, track)

	out := &Outcome{
		AttemptID:            attempt.ID,
		Difficulty:           track,
		TotalExperience:      attempt.TotalExperienceEarned,
		ExperienceCap:        experienceCap(trackSteps),
		CompletionPercentage: attempt.CompletionPercentage,
		AttemptStatus:        attempt.Status,
	}

	p, isNew, err := t.stepProgress(ctx, attempt.ID, step.ID)
	if err != nil {
		return nil, err
	}

	now := t.now()
	var activity content.Activity
	switch {
	case req.Status == quest.StepCompleted && !p.HasActivity(req.ActivityID):
		p.AddActivity(req.ActivityID)
		out.Changed = true

		var found bool
		activity, found = content.FindActivity(step.Content, req.ActivityID)
		if !found {
			t.log.Warn("activity not present in step content",
				"step_id", step.ID,
				"activity_id", req.ActivityID,
			)
		}

		total := content.CountActivities(step.Content)
		if activity.IsQuiz() || (total > 0 && len(p.CompletedActivityIDs) >= total) {
			p.Status = quest.StepCompleted
			p.CompletedAt = &now
		} else {
			p.Status = quest.StepInProgress
		}

	case req.Status != quest.StepCompleted && p.HasActivity(req.ActivityID):
		// XP already granted for the activity is kept.
		p.RemoveActivity(req.ActivityID)
		p.Status = quest.StepInProgress
		p.CompletedAt = nil
		out.Changed = true

	case isNew:
		p.Status = quest.StepInProgress
		out.Changed = true
	}
	out.StepStatus = p.Status

	if !out.Changed {
		return out, nil
	}

	if activity.ExperiencePoints > 0 {
		// The activity id and its XP commit together.
		before, after, err := t.attempts.CompleteActivity(ctx, p, track, activity.ExperiencePoints, out.ExperienceCap)
		if err != nil {
			return nil, fmt.Errorf("complete activity: %w", err)
		}
		out.TotalExperience = after
		if after > before {
			out.ExperienceAwarded = after - before
			t.dispatchReward(ctx, step, activity, req, out)
		}
	} else if err := t.attempts.SaveStepProgress(ctx, p, track); err != nil {
		return nil, fmt.Errorf("save step progress: %w", err)
	}

	if err := t.refreshAttempt(ctx, attempt, step.ID, trackSteps, out); err != nil {
		t.log.Warn("completion percentage not updated",
			"attempt_id", attempt.ID,
			"error", err,
		)
		out.PercentageStale = true
	}

	t.log.Info("activity recorded",
		"user_id", req.UserID,
		"quest_id", req.QuestID,
		"step_id", step.ID,
		"activity_id", req.ActivityID,
		"status", string(req.Status),
		"xp_awarded", out.ExperienceAwarded,
		"completion", out.CompletionPercentage,
	)
	return out, nil
}

func (t *Tracker) stepProgress(ctx context.Context, attemptID, stepID string) (*quest.StepProgress, bool, error) {
	p, err := t.attempts.GetStepProgress(ctx, attemptID, stepID)
	if err == nil {
		return p, false, nil
	}
	if !quest.IsNotFound(err) {
		return nil, false, fmt.Errorf("get step progress: %w", err)
	}
	now := t.now()
	return &quest.StepProgress{
		AttemptID: attemptID,
		StepID:    stepID,
		Status:    quest.StepNotStarted,
		StartedAt: &now,
	}, true, nil
}

// dispatchReward sends the XP actually granted for activity to its skill.
// Dispatch failures are logged and never fail the interaction.
func (t *Tracker) dispatchReward(ctx context.Context, step *quest.Step, activity content.Activity, req Request, out *Outcome) {
	skillID := activity.SkillID
	if skillID == "" {
		skillID = t.primarySkill(ctx, req.QuestID)
	}
	if skillID == "" {
		return
	}
	out.RewardSkillID = skillID

	title := activity.Title
	if title == "" {
		title = req.ActivityID
	}
	event := reward.Event{
		UserID:     req.UserID,
		SkillID:    skillID,
		Points:     out.ExperienceAwarded,
		SourceType: reward.SourceActivityComplete,
		SourceID:   req.ActivityID,
		Reason:     fmt.Sprintf("Completed %q in step %q", title, step.Title),
	}
	if err := t.rewards.Dispatch(ctx, event); err != nil {
		t.log.Warn("reward dispatch failed",
			"user_id", req.UserID,
			"skill_id", skillID,
			"points", event.Points,
			"error", err,
		)
	}
}

// primarySkill returns the quest subject's most relevant skill, or "".
func (t *Tracker) primarySkill(ctx context.Context, questID string) string {
	q, err := t.catalog.GetQuest(ctx, questID)
	if err != nil || q.SubjectID == "" {
		return ""
	}
	mappings, err := t.catalog.ListSubjectSkills(ctx, q.SubjectID)
	if err != nil || len(mappings) == 0 {
		return ""
	}
	sort.SliceStable(mappings, func(i, j int) bool {
		if mappings[i].RelevanceWeight != mappings[j].RelevanceWeight {
			return mappings[i].RelevanceWeight > mappings[j].RelevanceWeight
		}
		return mappings[i].SkillID < mappings[j].SkillID
	})
	return mappings[0].SkillID
}

// refreshAttempt recomputes the completion percentage over the track's steps
// and saves the derived attempt fields.
func (t *Tracker) refreshAttempt(ctx context.Context, attempt *quest.Attempt, stepID string, trackSteps []quest.Step, out *Outcome) error {
	rows, err := t.attempts.ListStepProgress(ctx, attempt.ID)
	if err != nil {
		return fmt.Errorf("list step progress: %w", err)
	}
	byStep := make(map[string]quest.StepProgress, len(rows))
	for _, r := range rows {
		byStep[r.StepID] = r
	}

	u := quest.ProgressUpdate{
		CompletionPercentage: attempt.CompletionPercentage,
		Status:               attempt.Status,
		CurrentStepID:        stepID,
		CompletedAt:          attempt.CompletedAt,
	}
	if pct, ok := Percentage(trackSteps, byStep); ok {
		u.CompletionPercentage = pct
	}

	now := t.now()
	switch {
	case u.CompletionPercentage >= 100 && attempt.Status != quest.AttemptCompleted:
		u.Status = quest.AttemptCompleted
		u.CompletedAt = &now
	case u.CompletionPercentage < 100 && attempt.Status == quest.AttemptCompleted:
		u.Status = quest.AttemptInProgress
		u.CompletedAt = nil
	case attempt.Status == quest.AttemptNotStarted:
		u.Status = quest.AttemptInProgress
		u.StartedAt = now
	}

	if err := t.attempts.UpdateAttemptProgress(ctx, attempt.ID, attempt.AssignedDifficulty, u); err != nil {
		return fmt.Errorf("update attempt progress: %w", err)
	}
	out.CompletionPercentage = u.CompletionPercentage
	out.AttemptStatus = u.Status
	return nil
}

// Percentage returns round(100 * done / total, 2) over steps, where a
// Completed step counts all its activities and any other step counts its
// recorded ones. ok is false when the steps contain no activities.
func Percentage(steps []quest.Step, progress map[string]quest.StepProgress) (pct float64, ok bool) {
	var total, done int
	for _, st := range steps {
		n := content.CountActivities(st.Content)
		total += n
		p, found := progress[st.ID]
		if !found {
			continue
		}
		if p.Status == quest.StepCompleted {
			done += n
		} else {
			done += min(len(p.CompletedActivityIDs), n)
		}
	}
	if total == 0 {
		return 0, false
	}
	return math.Round(10000*float64(done)/float64(total)) / 100, true
}

func onTrack(steps []quest.Step, track quest.Difficulty) []quest.Step {
	out := make([]quest.Step, 0, len(steps))
	for _, st := range steps {
		if st.DifficultyVariant == track {
			out = append(out, st)
		}
	}
	return out
}

func experienceCap(steps []quest.Step) int {
	var sum int
	for _, st := range steps {
		sum += st.ExperiencePoints
	}
	return sum
}
