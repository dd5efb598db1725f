// Package reward delivers skill-reward events produced by activity completions.
package reward

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	// SourceActivityComplete marks rewards earned by completing a quest activity.
	SourceActivityComplete = "ActivityComplete"

	dbTimeout = 5 * time.Second
)

// Event asks the skill service to grant Points of XP in SkillID to UserID.
type Event struct {
	ID         string
	UserID     string
	SkillID    string
	Points     int
	SourceType string
	SourceID   string
	Reason     string
	CreatedAt  time.Time
}

func (e Event) validate() error {
	switch {
	case e.UserID == "":
		return fmt.Errorf("user_id is required")
	case e.SkillID == "":
		return fmt.Errorf("skill_id is required")
	case e.Points <= 0:
		return fmt.Errorf("points must be positive, got %d", e.Points)
	case e.SourceType == "":
		return fmt.Errorf("source_type is required")
	}
	return nil
}

// Dispatcher hands reward events to their consumer.
type Dispatcher interface {
	Dispatch(ctx context.Context, event Event) error
}

// NopDispatcher drops all events.
type NopDispatcher struct{}

func (NopDispatcher) Dispatch(context.Context, Event) error {
	return nil
}

// MemoryDispatcher records events in memory for tests and local runs.
type MemoryDispatcher struct {
	mu     sync.Mutex
	events []Event
}

func NewMemoryDispatcher() *MemoryDispatcher {
	return &MemoryDispatcher{
		events: []Event{},
	}
}

func (d *MemoryDispatcher) Dispatch(_ context.Context, event Event) error {
	if err := event.validate(); err != nil {
		return err
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}

	d.mu.Lock()
	d.events = append(d.events, event)
	d.mu.Unlock()

	return nil
}

func (d *MemoryDispatcher) Events() []Event {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Event{}, d.events...)
}

// PostgresDispatcher writes events to the skill_reward_events outbox table,
// which the skill service drains.
type PostgresDispatcher struct {
	pool *pgxpool.Pool
}

func NewPostgresDispatcher(pool *pgxpool.Pool) *PostgresDispatcher {
	return &PostgresDispatcher{pool: pool}
}

func (d *PostgresDispatcher) Dispatch(ctx context.Context, event Event) error {
	if d == nil || d.pool == nil {
		return fmt.Errorf("reward dispatcher pool is nil")
	}
	if err := event.validate(); err != nil {
		return err
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	createdAt := event.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	if _, err := d.pool.Exec(ctx,
		`INSERT INTO skill_reward_events (id, user_id, skill_id, points, source_type, source_id, reason, created_at)
		 VALUES ($1::uuid, $2, $3, $4, $5, $6, $7, $8)`,
		event.ID,
		event.UserID,
		event.SkillID,
		event.Points,
		event.SourceType,
		event.SourceID,
		event.Reason,
		createdAt,
	); err != nil {
		return fmt.Errorf("insert reward event: %w", err)
	}

	slog.Debug("reward event queued",
		"user_id", event.UserID,
		"skill_id", event.SkillID,
		"points", event.Points,
		"source_id", event.SourceID,
	)
	return nil
}
