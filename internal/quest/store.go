package quest

import (
	"context"
	"sync"
	"time"
)

// Catalog provides read access to curriculum reference data and to the
// user skill levels written by the reward consumer.
type Catalog interface {
	GetSubject(ctx context.Context, id string) (*Subject, error)
	ListRouteSubjects(ctx context.Context, routeID string) ([]Subject, error)
	ListClassSubjects(ctx context.Context, classID string) ([]Subject, error)
	GetQuest(ctx context.Context, id string) (*Quest, error)
	GetActiveQuestForSubject(ctx context.Context, subjectID string) (*Quest, error)
	GetStep(ctx context.Context, id string) (*Step, error)
	ListSteps(ctx context.Context, questID string) ([]Step, error)
	ListSubjectSkills(ctx context.Context, subjectID string) ([]SubjectSkill, error)
	ListSkillDependencies(ctx context.Context, skillIDs []string) ([]SkillDependency, error)
	ListUserSkills(ctx context.Context, userID string) ([]UserSkill, error)
}

// AttemptStore persists attempts and step progress. Writes that depend on the
// attempt's difficulty take the track the caller observed and fail with
// ErrTrackChanged if the attempt has since moved to another track.
type AttemptStore interface {
	GetAttempt(ctx context.Context, userID, questID string) (*Attempt, error)
	ListAttempts(ctx context.Context, userID string) ([]Attempt, error)
	CreateAttempt(ctx context.Context, a *Attempt) error

	// UpdateAttemptPreview replaces the predicted difficulty and notes of an
	// attempt that has not been started yet.
	UpdateAttemptPreview(ctx context.Context, attemptID string, d Difficulty, notes string) error

	// MigrateAttempt moves an attempt to another difficulty track. All step
	// progress is deleted and the attempt is reset to InProgress at 0% in the
	// same transaction. TotalExperienceEarned is left untouched.
	MigrateAttempt(ctx context.Context, attemptID string, d Difficulty, notes string) error

	// AwardExperience raises TotalExperienceEarned to min(total+points, trackCap).
	// A total already at or above trackCap is left as is. It returns the totals
	// before and after the call.
	AwardExperience(ctx context.Context, attemptID string, track Difficulty, points, trackCap int) (before, after int, err error)

	UpdateAttemptProgress(ctx context.Context, attemptID string, track Difficulty, u ProgressUpdate) error

	GetStepProgress(ctx context.Context, attemptID, stepID string) (*StepProgress, error)
	ListStepProgress(ctx context.Context, attemptID string) ([]StepProgress, error)
	SaveStepProgress(ctx context.Context, p *StepProgress, track Difficulty) error

	// CompleteActivity saves p and applies the AwardExperience rule as one
	// unit: either both writes happen or neither does.
	CompleteActivity(ctx context.Context, p *StepProgress, track Difficulty, points, trackCap int) (before, after int, err error)
}

// ProgressUpdate holds the derived attempt fields recomputed after an activity.
type ProgressUpdate struct {
	CompletionPercentage float64
	Status               AttemptStatus
	CurrentStepID        string
	StartedAt            time.Time
	CompletedAt          *time.Time
}

// GradeSource reads enrollment outcomes.
type GradeSource interface {
	ListGrades(ctx context.Context, userID string) ([]GradeRecord, error)
}

// ProfileSource reads the user's selected route and class.
type ProfileSource interface {
	GetProfile(ctx context.Context, userID string) (*Profile, error)
}

// AnalysisSource reads the latest academic analysis for a user. A nil report
// with a nil error means no analysis exists.
type AnalysisSource interface {
	LatestAnalysis(ctx context.Context, userID string) (*AnalysisReport, error)
}

// Locker serializes work on a single attempt across callers.
type Locker interface {
	Lock(ctx context.Context, key string) (unlock func(), err error)
}

// AttemptLockKey is the lock key for the (user, quest) pair.
func AttemptLockKey(userID, questID string) string {
	return "quest-attempt:" + userID + ":" + questID
}

// MemoryLocker is an in-process Locker. A key's slot lives only while some
// caller holds or waits on it.
type MemoryLocker struct {
	mu    sync.Mutex
	slots map[string]*lockSlot
}

type lockSlot struct {
	ch   chan struct{}
	refs int
}

func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{slots: make(map[string]*lockSlot)}
}

func (l *MemoryLocker) Lock(ctx context.Context, key string) (func(), error) {
	l.mu.Lock()
	slot, ok := l.slots[key]
	if !ok {
		slot = &lockSlot{ch: make(chan struct{}, 1)}
		l.slots[key] = slot
	}
	slot.refs++
	l.mu.Unlock()

	select {
	case slot.ch <- struct{}{}:
	case <-ctx.Done():
		l.release(key, slot)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-slot.ch
			l.release(key, slot)
		})
	}, nil
}

func (l *MemoryLocker) release(key string, slot *lockSlot) {
	l.mu.Lock()
	defer l.mu.Unlock()
	slot.refs--
	if slot.refs == 0 {
		delete(l.slots, key)
	}
}

// Len reports how many keys are currently held or awaited.
func (l *MemoryLocker) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.slots)
}
