package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/quyetvm183/Encybara/internal/models"
)

// PostgresRepository implements Repository using PostgreSQL
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// PostgresConfig holds PostgreSQL connection configuration
type PostgresConfig struct {
	DSN          string
	MaxOpenConns int32
	MaxIdleConns int32
	MaxLifetime  time.Duration
}

// NewPostgresRepository creates a new PostgreSQL repository
func NewPostgresRepository(ctx context.Context, cfg PostgresConfig) (*PostgresRepository, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to parse DSN: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		poolConfig.MaxConns = cfg.MaxOpenConns
	} else {
		poolConfig.MaxConns = 25
	}

	if cfg.MaxIdleConns > 0 {
		poolConfig.MinConns = cfg.MaxIdleConns
	} else {
		poolConfig.MinConns = 5
	}

	if cfg.MaxLifetime > 0 {
		poolConfig.MaxConnLifetime = cfg.MaxLifetime
	} else {
		poolConfig.MaxConnLifetime = 30 * time.Minute
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &PostgresRepository{pool: pool}, nil
}

// Ping checks database connectivity
func (r *PostgresRepository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

// Close closes the database connection pool
func (r *PostgresRepository) Close() error {
	r.pool.Close()
	return nil
}

const courseColumns = `id, name, skill_axis, difficulty_level, recommended_level, status`

// FindPublicByAxisAndRange returns public courses of one axis inside a difficulty band
func (r *PostgresRepository) FindPublicByAxisAndRange(ctx context.Context, axis models.SkillAxis, lower, upper float64) ([]models.CourseCandidate, error) {
	query := `
		SELECT ` + courseColumns + `
		FROM courses
		WHERE status = 'PUBLIC'
		  AND skill_axis = $1
		  AND difficulty_level BETWEEN $2 AND $3
		ORDER BY difficulty_level ASC, id ASC
	`

	rows, err := r.pool.Query(ctx, query, string(axis), lower, upper)
	if err != nil {
		return nil, fmt.Errorf("failed to find courses: %w", err)
	}
	defer rows.Close()

	return scanCourses(rows)
}

// FindAll returns the whole catalog in insertion order
func (r *PostgresRepository) FindAll(ctx context.Context) ([]models.CourseCandidate, error) {
	query := `SELECT ` + courseColumns + ` FROM courses ORDER BY created_at ASC, id ASC`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list courses: %w", err)
	}
	defer rows.Close()

	return scanCourses(rows)
}

func scanCourses(rows pgx.Rows) ([]models.CourseCandidate, error) {
	var courses []models.CourseCandidate

	for rows.Next() {
		var c models.CourseCandidate
		var axis, status string

		if err := rows.Scan(&c.ID, &c.Name, &axis, &c.DifficultyLevel, &c.RecommendedLevel, &status); err != nil {
			return nil, fmt.Errorf("failed to scan course: %w", err)
		}

		c.Axis = models.SkillAxis(axis)
		c.Status = models.PublicationStatus(status)
		courses = append(courses, c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating courses: %w", err)
	}

	return courses, nil
}

// UpsertCourses inserts or replaces catalog rows in one transaction
func (r *PostgresRepository) UpsertCourses(ctx context.Context, courses []models.CourseCandidate) error {
	if len(courses) == 0 {
		return nil
	}

	query := `
		INSERT INTO courses (id, name, skill_axis, difficulty_level, recommended_level, status)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE
		SET name = EXCLUDED.name,
		    skill_axis = EXCLUDED.skill_axis,
		    difficulty_level = EXCLUDED.difficulty_level,
		    recommended_level = EXCLUDED.recommended_level,
		    status = EXCLUDED.status
	`

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, c := range courses {
		if _, err := tx.Exec(ctx, query, c.ID, c.Name, string(c.Axis), c.DifficultyLevel, c.RecommendedLevel, string(c.Status)); err != nil {
			return fmt.Errorf("failed to upsert course %s: %w", c.ID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit courses: %w", err)
	}

	return nil
}

const enrollmentColumns = `id, user_id, course_id, enroll_date, active, completion_level, total_points, skill_score_at_completion, profile_id`

// FindActive returns the learner's opted-in enrollment for a course
func (r *PostgresRepository) FindActive(ctx context.Context, userID, courseID string) (*models.Enrollment, error) {
	return r.findEnrollment(ctx, userID, courseID, true)
}

// FindInactive returns the learner's recommendation row for a course
func (r *PostgresRepository) FindInactive(ctx context.Context, userID, courseID string) (*models.Enrollment, error) {
	return r.findEnrollment(ctx, userID, courseID, false)
}

func (r *PostgresRepository) findEnrollment(ctx context.Context, userID, courseID string, active bool) (*models.Enrollment, error) {
	query := `
		SELECT ` + enrollmentColumns + `
		FROM enrollments
		WHERE user_id = $1 AND course_id = $2 AND active = $3
	`

	e, err := scanEnrollment(r.pool.QueryRow(ctx, query, userID, courseID, active))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil // Not found
		}
		return nil, fmt.Errorf("failed to get enrollment: %w", err)
	}

	return e, nil
}

// Upsert inserts an enrollment or refreshes the recommendation fields of an existing row
func (r *PostgresRepository) Upsert(ctx context.Context, e *models.Enrollment) error {
	query := `
		INSERT INTO enrollments (` + enrollmentColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE
		SET enroll_date = EXCLUDED.enroll_date, profile_id = EXCLUDED.profile_id
	`

	_, err := r.pool.Exec(ctx, query,
		e.ID,
		e.UserID,
		e.CourseID,
		e.EnrollDate,
		e.Active,
		e.CompletionLevel,
		e.TotalPoints,
		e.SkillScoreAtCompletion,
		nullString(e.ProfileID),
	)

	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: user %s course %s", ErrDuplicateEnrollment, e.UserID, e.CourseID)
		}
		return fmt.Errorf("failed to upsert enrollment: %w", err)
	}

	return nil
}

// DeleteAllInactive removes every recommendation row of a learner
func (r *PostgresRepository) DeleteAllInactive(ctx context.Context, userID string) (int64, error) {
	result, err := r.pool.Exec(ctx, `DELETE FROM enrollments WHERE user_id = $1 AND active = FALSE`, userID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete recommendations: %w", err)
	}

	return result.RowsAffected(), nil
}

// ListByUser returns all enrollments of a learner, newest first
func (r *PostgresRepository) ListByUser(ctx context.Context, userID string) ([]*models.Enrollment, error) {
	query := `
		SELECT ` + enrollmentColumns + `
		FROM enrollments
		WHERE user_id = $1
		ORDER BY enroll_date DESC, course_id ASC
	`

	rows, err := r.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list enrollments: %w", err)
	}
	defer rows.Close()

	var enrollments []*models.Enrollment

	for rows.Next() {
		e, err := scanEnrollment(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan enrollment: %w", err)
		}
		enrollments = append(enrollments, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating enrollments: %w", err)
	}

	return enrollments, nil
}

func scanEnrollment(row pgx.Row) (*models.Enrollment, error) {
	var e models.Enrollment
	var profileID sql.NullString

	err := row.Scan(
		&e.ID,
		&e.UserID,
		&e.CourseID,
		&e.EnrollDate,
		&e.Active,
		&e.CompletionLevel,
		&e.TotalPoints,
		&e.SkillScoreAtCompletion,
		&profileID,
	)
	if err != nil {
		return nil, err
	}

	e.ProfileID = profileID.String
	return &e, nil
}

// AverageCompletionRate averages completion of active enrollments on one axis
func (r *PostgresRepository) AverageCompletionRate(ctx context.Context, userID string, axis models.SkillAxis, since time.Time) (*float64, error) {
	query := `
		SELECT AVG(e.completion_level)
		FROM enrollments e
		JOIN courses c ON c.id = e.course_id
		WHERE e.user_id = $1
		  AND c.skill_axis = $2
		  AND e.active = TRUE
		  AND e.enroll_date >= $3
	`

	var avg *float64
	if err := r.pool.QueryRow(ctx, query, userID, string(axis), since).Scan(&avg); err != nil {
		return nil, fmt.Errorf("failed to compute completion rate: %w", err)
	}

	return avg, nil
}

const profileColumns = `id, user_id,
	listening_score, speaking_score, reading_score, writing_score,
	previous_listening_score, previous_speaking_score, previous_reading_score, previous_writing_score,
	last_updated, recommendations_refreshed_at`

// FindByUser returns the learner's skill profile
func (r *PostgresRepository) FindByUser(ctx context.Context, userID string) (*models.SkillProfile, error) {
	query := `SELECT ` + profileColumns + ` FROM skill_profiles WHERE user_id = $1`

	var p models.SkillProfile
	var refreshedAt sql.NullTime

	err := r.pool.QueryRow(ctx, query, userID).Scan(
		&p.ID,
		&p.UserID,
		&p.Current.Listening,
		&p.Current.Speaking,
		&p.Current.Reading,
		&p.Current.Writing,
		&p.Previous.Listening,
		&p.Previous.Speaking,
		&p.Previous.Reading,
		&p.Previous.Writing,
		&p.LastUpdated,
		&refreshedAt,
	)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil // Not found
		}
		return nil, fmt.Errorf("failed to get profile: %w", err)
	}

	if refreshedAt.Valid {
		p.RecommendationsRefreshedAt = &refreshedAt.Time
	}

	return &p, nil
}

// ListUserIDs returns every learner that has a profile
func (r *PostgresRepository) ListUserIDs(ctx context.Context) ([]string, error) {
	rows, err := r.pool.Query(ctx, `SELECT user_id FROM skill_profiles ORDER BY user_id ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list learners: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan learner: %w", err)
		}
		ids = append(ids, id)
	}

	return ids, rows.Err()
}

// MarkRefreshed records when recommendations were last rebuilt
func (r *PostgresRepository) MarkRefreshed(ctx context.Context, userID string, at time.Time) error {
	_, err := r.pool.Exec(ctx, `UPDATE skill_profiles SET recommendations_refreshed_at = $2 WHERE user_id = $1`, userID, at)
	if err != nil {
		return fmt.Errorf("failed to mark profile refreshed: %w", err)
	}

	return nil
}

// SaveProfile inserts or replaces a learner profile
func (r *PostgresRepository) SaveProfile(ctx context.Context, p *models.SkillProfile) error {
	query := `
		INSERT INTO skill_profiles (id, user_id,
			listening_score, speaking_score, reading_score, writing_score,
			previous_listening_score, previous_speaking_score, previous_reading_score, previous_writing_score,
			last_updated)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (user_id) DO UPDATE
		SET listening_score = EXCLUDED.listening_score,
		    speaking_score = EXCLUDED.speaking_score,
		    reading_score = EXCLUDED.reading_score,
		    writing_score = EXCLUDED.writing_score,
		    previous_listening_score = EXCLUDED.previous_listening_score,
		    previous_speaking_score = EXCLUDED.previous_speaking_score,
		    previous_reading_score = EXCLUDED.previous_reading_score,
		    previous_writing_score = EXCLUDED.previous_writing_score,
		    last_updated = EXCLUDED.last_updated
	`

	_, err := r.pool.Exec(ctx, query,
		p.ID,
		p.UserID,
		p.Current.Listening,
		p.Current.Speaking,
		p.Current.Reading,
		p.Current.Writing,
		p.Previous.Listening,
		p.Previous.Speaking,
		p.Previous.Reading,
		p.Previous.Writing,
		p.LastUpdated,
	)
	if err != nil {
		return fmt.Errorf("failed to save profile: %w", err)
	}

	return nil
}

// Helper functions for nullable values

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
