package quest

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/FA25SE050-RogueLearn/RogueLearn.User-sub002/internal/platform/database"
)

const dbTimeout = 5 * time.Second

//go:embed schema.sql
var schemaSQL string

// PostgresStore is a PostgreSQL-backed Catalog, AttemptStore and user source.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a PostgreSQL-backed quest store.
func NewPostgresStore(pool *pgxpool.Pool) (*PostgresStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is nil")
	}
	return &PostgresStore{pool: pool}, nil
}

// EnsureSchema creates the tables the store reads and writes if they do not exist.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// ApplySeed upserts seed into the database in a single transaction.
func (s *PostgresStore) ApplySeed(ctx context.Context, seed *Seed) error {
	if seed == nil {
		return nil
	}
	return database.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		for _, v := range seed.Subjects {
			prereqs := v.PrerequisiteSubjectIDs
			if prereqs == nil {
				prereqs = []string{}
			}
			if _, err := tx.Exec(ctx,
				`INSERT INTO subjects (id, code, name, credits, prerequisite_subject_ids)
				 VALUES ($1, $2, $3, $4, $5)
				 ON CONFLICT (id) DO UPDATE SET code = EXCLUDED.code, name = EXCLUDED.name,
				   credits = EXCLUDED.credits, prerequisite_subject_ids = EXCLUDED.prerequisite_subject_ids`,
				v.ID, v.Code, v.Name, v.Credits, prereqs,
			); err != nil {
				return fmt.Errorf("seed subject %s: %w", v.ID, err)
			}
		}
		for _, v := range seed.Skills {
			if _, err := tx.Exec(ctx,
				`INSERT INTO skills (id, name, tier, domain) VALUES ($1, $2, $3, $4)
				 ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, tier = EXCLUDED.tier, domain = EXCLUDED.domain`,
				v.ID, v.Name, v.Tier, v.Domain,
			); err != nil {
				return fmt.Errorf("seed skill %s: %w", v.ID, err)
			}
		}
		for _, v := range seed.SubjectSkills {
			if _, err := tx.Exec(ctx,
				`INSERT INTO subject_skill_mappings (subject_id, skill_id, relevance_weight) VALUES ($1, $2, $3)
				 ON CONFLICT (subject_id, skill_id) DO UPDATE SET relevance_weight = EXCLUDED.relevance_weight`,
				v.SubjectID, v.SkillID, v.RelevanceWeight,
			); err != nil {
				return fmt.Errorf("seed subject skill %s/%s: %w", v.SubjectID, v.SkillID, err)
			}
		}
		for _, v := range seed.SkillDependencies {
			if _, err := tx.Exec(ctx,
				`INSERT INTO skill_dependencies (skill_id, prerequisite_skill_id) VALUES ($1, $2)
				 ON CONFLICT DO NOTHING`,
				v.SkillID, v.PrerequisiteSkillID,
			); err != nil {
				return fmt.Errorf("seed skill dependency %s: %w", v.SkillID, err)
			}
		}
		if err := seedMembership(ctx, tx, "route_subjects", "route_id", seed.Routes); err != nil {
			return err
		}
		if err := seedMembership(ctx, tx, "class_subjects", "class_id", seed.Classes); err != nil {
			return err
		}
		for _, v := range seed.Quests {
			if _, err := tx.Exec(ctx,
				`INSERT INTO quests (id, title, description, quest_type, is_active, subject_id)
				 VALUES ($1, $2, $3, $4, $5, $6)
				 ON CONFLICT (id) DO UPDATE SET title = EXCLUDED.title, description = EXCLUDED.description,
				   quest_type = EXCLUDED.quest_type, is_active = EXCLUDED.is_active, subject_id = EXCLUDED.subject_id`,
				v.ID, v.Title, v.Description, v.Type, v.IsActive, nullIfEmpty(v.SubjectID),
			); err != nil {
				return fmt.Errorf("seed quest %s: %w", v.ID, err)
			}
		}
		for _, v := range seed.Steps {
			if _, err := tx.Exec(ctx,
				`INSERT INTO quest_steps (id, quest_id, step_number, title, difficulty_variant, experience_points, content)
				 VALUES ($1, $2, $3, $4, $5, $6, $7)
				 ON CONFLICT (id) DO UPDATE SET quest_id = EXCLUDED.quest_id, step_number = EXCLUDED.step_number,
				   title = EXCLUDED.title, difficulty_variant = EXCLUDED.difficulty_variant,
				   experience_points = EXCLUDED.experience_points, content = EXCLUDED.content`,
				v.ID, v.QuestID, v.StepNumber, v.Title, v.DifficultyVariant.String(), v.ExperiencePoints, contentJSON(v.Content),
			); err != nil {
				return fmt.Errorf("seed step %s: %w", v.ID, err)
			}
		}
		for _, v := range seed.Profiles {
			if _, err := tx.Exec(ctx,
				`INSERT INTO user_profiles (user_id, route_id, class_id) VALUES ($1, $2, $3)
				 ON CONFLICT (user_id) DO UPDATE SET route_id = EXCLUDED.route_id, class_id = EXCLUDED.class_id`,
				v.UserID, v.RouteID, v.ClassID,
			); err != nil {
				return fmt.Errorf("seed profile %s: %w", v.UserID, err)
			}
		}
		for _, v := range seed.Grades {
			if _, err := tx.Exec(ctx,
				`INSERT INTO student_enrollments (user_id, subject_id, status, grade) VALUES ($1, $2, $3, $4)
				 ON CONFLICT (user_id, subject_id) DO UPDATE SET status = EXCLUDED.status, grade = EXCLUDED.grade`,
				v.UserID, v.SubjectID, string(v.Status), v.Grade,
			); err != nil {
				return fmt.Errorf("seed grade %s/%s: %w", v.UserID, v.SubjectID, err)
			}
		}
		for _, v := range seed.UserSkills {
			if _, err := tx.Exec(ctx,
				`INSERT INTO user_skills (user_id, skill_id, level, experience_points) VALUES ($1, $2, $3, $4)
				 ON CONFLICT (user_id, skill_id) DO UPDATE SET level = EXCLUDED.level, experience_points = EXCLUDED.experience_points`,
				v.UserID, v.SkillID, v.Level, v.XP,
			); err != nil {
				return fmt.Errorf("seed user skill %s/%s: %w", v.UserID, v.SkillID, err)
			}
		}
		for _, v := range seed.Analyses {
			createdAt := v.CreatedAt
			if createdAt.IsZero() {
				createdAt = time.Now()
			}
			if _, err := tx.Exec(ctx,
				`INSERT INTO academic_analyses (user_id, weaknesses, strengths, created_at) VALUES ($1, $2, $3, $4)`,
				v.UserID, nonNil(v.Weaknesses), nonNil(v.Strengths), createdAt,
			); err != nil {
				return fmt.Errorf("seed analysis %s: %w", v.UserID, err)
			}
		}
		return nil
	})
}

func seedMembership(ctx context.Context, tx pgx.Tx, table, column string, groups map[string][]string) error {
	for id, subjects := range groups {
		if _, err := tx.Exec(ctx, `DELETE FROM `+table+` WHERE `+column+` = $1`, id); err != nil {
			return fmt.Errorf("clear %s %s: %w", table, id, err)
		}
		for i, subjectID := range subjects {
			if _, err := tx.Exec(ctx,
				`INSERT INTO `+table+` (`+column+`, subject_id, position) VALUES ($1, $2, $3)
				 ON CONFLICT DO NOTHING`,
				id, subjectID, i,
			); err != nil {
				return fmt.Errorf("seed %s %s: %w", table, id, err)
			}
		}
	}
	return nil
}

func (s *PostgresStore) GetSubject(ctx context.Context, id string) (*Subject, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	var sub Subject
	err := s.pool.QueryRow(ctx,
		`SELECT id, code, name, credits, prerequisite_subject_ids FROM subjects WHERE id = $1`,
		id,
	).Scan(&sub.ID, &sub.Code, &sub.Name, &sub.Credits, &sub.PrerequisiteSubjectIDs)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, NotFoundf("quest.GetSubject", "subject %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get subject: %w", err)
	}
	return &sub, nil
}

func (s *PostgresStore) ListRouteSubjects(ctx context.Context, routeID string) ([]Subject, error) {
	return s.listMemberSubjects(ctx, "route_subjects", "route_id", routeID)
}

func (s *PostgresStore) ListClassSubjects(ctx context.Context, classID string) ([]Subject, error) {
	return s.listMemberSubjects(ctx, "class_subjects", "class_id", classID)
}

func (s *PostgresStore) listMemberSubjects(ctx context.Context, table, column, id string) ([]Subject, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	rows, err := s.pool.Query(ctx,
		`SELECT s.id, s.code, s.name, s.credits, s.prerequisite_subject_ids
		 FROM `+table+` m
		 JOIN subjects s ON s.id = m.subject_id
		 WHERE m.`+column+` = $1
		 ORDER BY m.position, s.id`,
		id,
	)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", table, err)
	}
	defer rows.Close()

	var out []Subject
	for rows.Next() {
		var sub Subject
		if err := rows.Scan(&sub.ID, &sub.Code, &sub.Name, &sub.Credits, &sub.PrerequisiteSubjectIDs); err != nil {
			return nil, fmt.Errorf("scan subject: %w", err)
		}
		out = append(out, sub)
	}
	return out, rows.Err()
}

const questColumns = `id, title, description, quest_type, is_active, COALESCE(subject_id, '')`

func scanQuest(row pgx.Row) (*Quest, error) {
	var q Quest
	if err := row.Scan(&q.ID, &q.Title, &q.Description, &q.Type, &q.IsActive, &q.SubjectID); err != nil {
		return nil, err
	}
	return &q, nil
}

func (s *PostgresStore) GetQuest(ctx context.Context, id string) (*Quest, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	q, err := scanQuest(s.pool.QueryRow(ctx, `SELECT `+questColumns+` FROM quests WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, NotFoundf("quest.GetQuest", "quest %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get quest: %w", err)
	}
	return q, nil
}

func (s *PostgresStore) GetActiveQuestForSubject(ctx context.Context, subjectID string) (*Quest, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	q, err := scanQuest(s.pool.QueryRow(ctx,
		`SELECT `+questColumns+` FROM quests
		 WHERE subject_id = $1 AND is_active
		 ORDER BY id
		 LIMIT 1`,
		subjectID,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, NotFoundf("quest.GetActiveQuestForSubject", "no active quest for subject %s", subjectID)
	}
	if err != nil {
		return nil, fmt.Errorf("get active quest: %w", err)
	}
	return q, nil
}

const stepColumns = `id, quest_id, step_number, title, difficulty_variant, experience_points, content`

func scanStep(row pgx.Row) (*Step, error) {
	var st Step
	var variant string
	var content []byte
	if err := row.Scan(&st.ID, &st.QuestID, &st.StepNumber, &st.Title, &variant, &st.ExperiencePoints, &content); err != nil {
		return nil, err
	}
	st.DifficultyVariant, _ = ParseDifficulty(variant)
	if content != nil {
		st.Content = json.RawMessage(content)
	}
	return &st, nil
}

func (s *PostgresStore) GetStep(ctx context.Context, id string) (*Step, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	st, err := scanStep(s.pool.QueryRow(ctx, `SELECT `+stepColumns+` FROM quest_steps WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, NotFoundf("quest.GetStep", "step %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get step: %w", err)
	}
	return st, nil
}

func (s *PostgresStore) ListSteps(ctx context.Context, questID string) ([]Step, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	rows, err := s.pool.Query(ctx,
		`SELECT `+stepColumns+` FROM quest_steps WHERE quest_id = $1 ORDER BY step_number, id`,
		questID,
	)
	if err != nil {
		return nil, fmt.Errorf("query steps: %w", err)
	}
	defer rows.Close()

	var out []Step
	for rows.Next() {
		st, err := scanStep(rows)
		if err != nil {
			return nil, fmt.Errorf("scan step: %w", err)
		}
		out = append(out, *st)
	}
	return out, rows.Err()
}

func (s *PostgresStore) ListSubjectSkills(ctx context.Context, subjectID string) ([]SubjectSkill, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	rows, err := s.pool.Query(ctx,
		`SELECT m.subject_id, m.skill_id, COALESCE(k.name, ''), m.relevance_weight
		 FROM subject_skill_mappings m
		 LEFT JOIN skills k ON k.id = m.skill_id
		 WHERE m.subject_id = $1
		 ORDER BY m.relevance_weight DESC, m.skill_id`,
		subjectID,
	)
	if err != nil {
		return nil, fmt.Errorf("query subject skills: %w", err)
	}
	defer rows.Close()

	var out []SubjectSkill
	for rows.Next() {
		var m SubjectSkill
		if err := rows.Scan(&m.SubjectID, &m.SkillID, &m.SkillName, &m.RelevanceWeight); err != nil {
			return nil, fmt.Errorf("scan subject skill: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *PostgresStore) ListSkillDependencies(ctx context.Context, skillIDs []string) ([]SkillDependency, error) {
	if len(skillIDs) == 0 {
		return nil, nil
	}
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	rows, err := s.pool.Query(ctx,
		`SELECT skill_id, prerequisite_skill_id FROM skill_dependencies
		 WHERE skill_id = ANY($1)
		 ORDER BY skill_id, prerequisite_skill_id`,
		skillIDs,
	)
	if err != nil {
		return nil, fmt.Errorf("query skill dependencies: %w", err)
	}
	defer rows.Close()

	var out []SkillDependency
	for rows.Next() {
		var d SkillDependency
		if err := rows.Scan(&d.SkillID, &d.PrerequisiteSkillID); err != nil {
			return nil, fmt.Errorf("scan skill dependency: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (s *PostgresStore) ListUserSkills(ctx context.Context, userID string) ([]UserSkill, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	rows, err := s.pool.Query(ctx,
		`SELECT user_id, skill_id, level, experience_points FROM user_skills WHERE user_id = $1 ORDER BY skill_id`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("query user skills: %w", err)
	}
	defer rows.Close()

	var out []UserSkill
	for rows.Next() {
		var us UserSkill
		if err := rows.Scan(&us.UserID, &us.SkillID, &us.Level, &us.XP); err != nil {
			return nil, fmt.Errorf("scan user skill: %w", err)
		}
		out = append(out, us)
	}
	return out, rows.Err()
}

func (s *PostgresStore) GetProfile(ctx context.Context, userID string) (*Profile, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	p := Profile{UserID: userID}
	err := s.pool.QueryRow(ctx,
		`SELECT route_id, class_id FROM user_profiles WHERE user_id = $1`,
		userID,
	).Scan(&p.RouteID, &p.ClassID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, NotFoundf("quest.GetProfile", "profile for user %s not found", userID)
	}
	if err != nil {
		return nil, fmt.Errorf("get profile: %w", err)
	}
	return &p, nil
}

func (s *PostgresStore) ListGrades(ctx context.Context, userID string) ([]GradeRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	rows, err := s.pool.Query(ctx,
		`SELECT subject_id, status, grade FROM student_enrollments WHERE user_id = $1 ORDER BY subject_id`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("query grades: %w", err)
	}
	defer rows.Close()

	var out []GradeRecord
	for rows.Next() {
		g := GradeRecord{UserID: userID}
		var status string
		if err := rows.Scan(&g.SubjectID, &status, &g.Grade); err != nil {
			return nil, fmt.Errorf("scan grade: %w", err)
		}
		g.Status, _ = ParseGradeStatus(status)
		out = append(out, g)
	}
	return out, rows.Err()
}

func (s *PostgresStore) LatestAnalysis(ctx context.Context, userID string) (*AnalysisReport, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	r := AnalysisReport{UserID: userID}
	err := s.pool.QueryRow(ctx,
		`SELECT weaknesses, strengths, created_at FROM academic_analyses
		 WHERE user_id = $1
		 ORDER BY created_at DESC
		 LIMIT 1`,
		userID,
	).Scan(&r.Weaknesses, &r.Strengths, &r.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get latest analysis: %w", err)
	}
	return &r, nil
}

const attemptColumns = `id::text, user_id, quest_id, status, assigned_difficulty, total_experience_earned,
	completion_percentage::float8, COALESCE(current_step_id, ''), notes, started_at, completed_at, created_at, updated_at`

func scanAttempt(row pgx.Row) (*Attempt, error) {
	var a Attempt
	var status, difficulty string
	if err := row.Scan(
		&a.ID,
		&a.UserID,
		&a.QuestID,
		&status,
		&difficulty,
		&a.TotalExperienceEarned,
		&a.CompletionPercentage,
		&a.CurrentStepID,
		&a.Notes,
		&a.StartedAt,
		&a.CompletedAt,
		&a.CreatedAt,
		&a.UpdatedAt,
	); err != nil {
		return nil, err
	}
	a.Status = AttemptStatus(status)
	a.AssignedDifficulty, _ = ParseDifficulty(difficulty)
	return &a, nil
}

func (s *PostgresStore) GetAttempt(ctx context.Context, userID, questID string) (*Attempt, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	a, err := scanAttempt(s.pool.QueryRow(ctx,
		`SELECT `+attemptColumns+` FROM user_quest_attempts WHERE user_id = $1 AND quest_id = $2`,
		userID, questID,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, NotFoundf("quest.GetAttempt", "attempt for user %s quest %s not found", userID, questID)
	}
	if err != nil {
		return nil, fmt.Errorf("get attempt: %w", err)
	}
	return a, nil
}

func (s *PostgresStore) ListAttempts(ctx context.Context, userID string) ([]Attempt, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	rows, err := s.pool.Query(ctx,
		`SELECT `+attemptColumns+` FROM user_quest_attempts WHERE user_id = $1 ORDER BY created_at, quest_id`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("query attempts: %w", err)
	}
	defer rows.Close()

	var out []Attempt
	for rows.Next() {
		a, err := scanAttempt(rows)
		if err != nil {
			return nil, fmt.Errorf("scan attempt: %w", err)
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

func (s *PostgresStore) CreateAttempt(ctx context.Context, a *Attempt) error {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.Status == "" {
		a.Status = AttemptNotStarted
	}
	if a.StartedAt.IsZero() {
		a.StartedAt = time.Now()
	}

	err := s.pool.QueryRow(ctx,
		`INSERT INTO user_quest_attempts
		   (id, user_id, quest_id, status, assigned_difficulty, total_experience_earned,
		    completion_percentage, current_step_id, notes, started_at, completed_at)
		 VALUES ($1::uuid, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		 ON CONFLICT (user_id, quest_id) DO NOTHING
		 RETURNING created_at, updated_at`,
		a.ID,
		a.UserID,
		a.QuestID,
		string(a.Status),
		a.AssignedDifficulty.String(),
		a.TotalExperienceEarned,
		a.CompletionPercentage,
		nullIfEmpty(a.CurrentStepID),
		a.Notes,
		a.StartedAt,
		a.CompletedAt,
	).Scan(&a.CreatedAt, &a.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return &Error{Op: "quest.CreateAttempt", Kind: ErrConcurrentModification, Msg: "attempt already exists"}
	}
	if err != nil {
		return fmt.Errorf("create attempt: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateAttemptPreview(ctx context.Context, attemptID string, d Difficulty, notes string) error {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	tag, err := s.pool.Exec(ctx,
		`UPDATE user_quest_attempts
		 SET assigned_difficulty = $2, notes = $3, updated_at = NOW()
		 WHERE id = $1::uuid AND status = $4`,
		attemptID, d.String(), notes, string(AttemptNotStarted),
	)
	if err != nil {
		return fmt.Errorf("update attempt preview: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}
	if _, err := s.attemptTrack(ctx, "quest.UpdateAttemptPreview", attemptID); err != nil {
		return err
	}
	return &Error{Op: "quest.UpdateAttemptPreview", Kind: ErrConcurrentModification, Msg: "attempt already started"}
}

func (s *PostgresStore) MigrateAttempt(ctx context.Context, attemptID string, d Difficulty, notes string) error {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	return database.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		var id string
		err := tx.QueryRow(ctx,
			`SELECT id::text FROM user_quest_attempts WHERE id = $1::uuid FOR UPDATE`,
			attemptID,
		).Scan(&id)
		if errors.Is(err, pgx.ErrNoRows) {
			return NotFoundf("quest.MigrateAttempt", "attempt %s not found", attemptID)
		}
		if err != nil {
			return fmt.Errorf("lock attempt: %w", err)
		}

		if _, err := tx.Exec(ctx,
			`DELETE FROM user_quest_step_progress WHERE attempt_id = $1::uuid`,
			attemptID,
		); err != nil {
			return fmt.Errorf("delete step progress: %w", err)
		}

		if _, err := tx.Exec(ctx,
			`UPDATE user_quest_attempts
			 SET assigned_difficulty = $2, notes = $3, status = $4,
			     completion_percentage = 0, completed_at = NULL, updated_at = NOW()
			 WHERE id = $1::uuid`,
			attemptID, d.String(), notes, string(AttemptInProgress),
		); err != nil {
			return fmt.Errorf("migrate attempt: %w", err)
		}
		return nil
	})
}

func (s *PostgresStore) AwardExperience(ctx context.Context, attemptID string, track Difficulty, points, trackCap int) (int, int, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	if points > 0 {
		var before, after int
		err := s.pool.QueryRow(ctx,
			`UPDATE user_quest_attempts a
			 SET total_experience_earned = LEAST(o.total + $3, $4), updated_at = NOW()
			 FROM (
			   SELECT id, total_experience_earned AS total
			   FROM user_quest_attempts
			   WHERE id = $1::uuid
			   FOR UPDATE
			 ) o
			 WHERE a.id = o.id AND a.assigned_difficulty = $2 AND o.total < $4
			 RETURNING o.total, a.total_experience_earned`,
			attemptID, track.String(), points, trackCap,
		).Scan(&before, &after)
		if err == nil {
			return before, after, nil
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return 0, 0, fmt.Errorf("award experience: %w", err)
		}
	}

	// Nothing was written: the attempt is missing, on another track, or already at the cap.
	var difficulty string
	var total int
	err := s.pool.QueryRow(ctx,
		`SELECT assigned_difficulty, total_experience_earned FROM user_quest_attempts WHERE id = $1::uuid`,
		attemptID,
	).Scan(&difficulty, &total)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, 0, NotFoundf("quest.AwardExperience", "attempt %s not found", attemptID)
	}
	if err != nil {
		return 0, 0, fmt.Errorf("read attempt experience: %w", err)
	}
	if d, _ := ParseDifficulty(difficulty); d != track {
		return 0, 0, ErrTrackChanged
	}
	return total, total, nil
}

func (s *PostgresStore) UpdateAttemptProgress(ctx context.Context, attemptID string, track Difficulty, u ProgressUpdate) error {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	var startedAt any
	if !u.StartedAt.IsZero() {
		startedAt = u.StartedAt
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE user_quest_attempts
		 SET completion_percentage = $3,
		     status = $4,
		     current_step_id = COALESCE($5, current_step_id),
		     started_at = COALESCE($6, started_at),
		     completed_at = $7,
		     updated_at = NOW()
		 WHERE id = $1::uuid AND assigned_difficulty = $2`,
		attemptID,
		track.String(),
		u.CompletionPercentage,
		string(u.Status),
		nullIfEmpty(u.CurrentStepID),
		startedAt,
		u.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("update attempt progress: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}
	return s.trackMismatch(ctx, "quest.UpdateAttemptProgress", attemptID, track)
}

const progressColumns = `id::text, attempt_id::text, step_id, status, completed_activity_ids, started_at, completed_at, updated_at`

func scanProgress(row pgx.Row) (*StepProgress, error) {
	var p StepProgress
	var status string
	if err := row.Scan(&p.ID, &p.AttemptID, &p.StepID, &status, &p.CompletedActivityIDs, &p.StartedAt, &p.CompletedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	p.Status = StepStatus(status)
	return &p, nil
}

func (s *PostgresStore) GetStepProgress(ctx context.Context, attemptID, stepID string) (*StepProgress, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	p, err := scanProgress(s.pool.QueryRow(ctx,
		`SELECT `+progressColumns+` FROM user_quest_step_progress WHERE attempt_id = $1::uuid AND step_id = $2`,
		attemptID, stepID,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, NotFoundf("quest.GetStepProgress", "progress for step %s not found", stepID)
	}
	if err != nil {
		return nil, fmt.Errorf("get step progress: %w", err)
	}
	return p, nil
}

func (s *PostgresStore) ListStepProgress(ctx context.Context, attemptID string) ([]StepProgress, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	rows, err := s.pool.Query(ctx,
		`SELECT `+progressColumns+` FROM user_quest_step_progress WHERE attempt_id = $1::uuid ORDER BY step_id`,
		attemptID,
	)
	if err != nil {
		return nil, fmt.Errorf("query step progress: %w", err)
	}
	defer rows.Close()

	var out []StepProgress
	for rows.Next() {
		p, err := scanProgress(rows)
		if err != nil {
			return nil, fmt.Errorf("scan step progress: %w", err)
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

// upsertProgressSQL writes a step progress row only while the attempt is on
// the given track. The attempt row is share-locked so a concurrent migration
// either finishes first and rejects the write, or waits for it.
const upsertProgressSQL = `INSERT INTO user_quest_step_progress
   (id, attempt_id, step_id, status, completed_activity_ids, started_at, completed_at, updated_at)
 SELECT $1::uuid, a.id, $3, $4, $5, $6, $7, NOW()
 FROM user_quest_attempts a
 WHERE a.id = $2::uuid AND a.assigned_difficulty = $8
 FOR SHARE
 ON CONFLICT (attempt_id, step_id) DO UPDATE SET
   status = EXCLUDED.status,
   completed_activity_ids = EXCLUDED.completed_activity_ids,
   started_at = EXCLUDED.started_at,
   completed_at = EXCLUDED.completed_at,
   updated_at = EXCLUDED.updated_at
 RETURNING id::text, updated_at`

// rowQuerier is satisfied by both *pgxpool.Pool and pgx.Tx.
type rowQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// upsertProgress runs upsertProgressSQL on q. It reports false when the
// attempt is missing or off track.
func upsertProgress(ctx context.Context, q rowQuerier, p *StepProgress, track Difficulty) (bool, error) {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	var id string
	err := q.QueryRow(ctx, upsertProgressSQL,
		p.ID,
		p.AttemptID,
		p.StepID,
		string(p.Status),
		nonNil(p.CompletedActivityIDs),
		p.StartedAt,
		p.CompletedAt,
		track.String(),
	).Scan(&id, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	p.ID = id
	return true, nil
}

func (s *PostgresStore) SaveStepProgress(ctx context.Context, p *StepProgress, track Difficulty) error {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	ok, err := upsertProgress(ctx, s.pool, p, track)
	if err != nil {
		return fmt.Errorf("save step progress: %w", err)
	}
	if !ok {
		return s.trackMismatch(ctx, "quest.SaveStepProgress", p.AttemptID, track)
	}
	return nil
}

// CompleteActivity locks the attempt row, upserts p and raises the XP total
// to min(total+points, trackCap) in one transaction.
func (s *PostgresStore) CompleteActivity(ctx context.Context, p *StepProgress, track Difficulty, points, trackCap int) (int, int, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	var before, after int
	err := database.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		var difficulty string
		err := tx.QueryRow(ctx,
			`SELECT assigned_difficulty, total_experience_earned
			 FROM user_quest_attempts WHERE id = $1::uuid FOR UPDATE`,
			p.AttemptID,
		).Scan(&difficulty, &before)
		if errors.Is(err, pgx.ErrNoRows) {
			return NotFoundf("quest.CompleteActivity", "attempt %s not found", p.AttemptID)
		}
		if err != nil {
			return fmt.Errorf("lock attempt: %w", err)
		}
		if d, _ := ParseDifficulty(difficulty); d != track {
			return ErrTrackChanged
		}

		ok, err := upsertProgress(ctx, tx, p, track)
		if err != nil {
			return fmt.Errorf("save step progress: %w", err)
		}
		if !ok {
			return ErrTrackChanged
		}

		after = before
		if points <= 0 || before >= trackCap {
			return nil
		}
		after = min(before+points, trackCap)
		if _, err := tx.Exec(ctx,
			`UPDATE user_quest_attempts
			 SET total_experience_earned = $2, updated_at = NOW()
			 WHERE id = $1::uuid`,
			p.AttemptID, after,
		); err != nil {
			return fmt.Errorf("award experience: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, 0, err
	}
	return before, after, nil
}

func (s *PostgresStore) attemptTrack(ctx context.Context, op, attemptID string) (Difficulty, error) {
	var difficulty string
	err := s.pool.QueryRow(ctx,
		`SELECT assigned_difficulty FROM user_quest_attempts WHERE id = $1::uuid`,
		attemptID,
	).Scan(&difficulty)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, NotFoundf(op, "attempt %s not found", attemptID)
	}
	if err != nil {
		return 0, fmt.Errorf("read attempt difficulty: %w", err)
	}
	d, _ := ParseDifficulty(difficulty)
	return d, nil
}

// trackMismatch explains why a track-conditional write touched no rows.
func (s *PostgresStore) trackMismatch(ctx context.Context, op, attemptID string, track Difficulty) error {
	d, err := s.attemptTrack(ctx, op, attemptID)
	if err != nil {
		return err
	}
	if d != track {
		return ErrTrackChanged
	}
	return fmt.Errorf("%s: attempt %s was not updated", op, attemptID)
}

// contentJSON converts authored step content to a JSONB value. Strings and
// bytes that already hold JSON are stored as is; anything else is encoded.
func contentJSON(content any) any {
	var raw []byte
	switch v := content.(type) {
	case nil:
		return nil
	case json.RawMessage:
		raw = v
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return nil
		}
		return b
	}
	if json.Valid(raw) {
		return raw
	}
	b, _ := json.Marshal(string(raw))
	return b
}

func nullIfEmpty(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nonNil(v []string) []string {
	if v == nil {
		return []string{}
	}
	return v
}
