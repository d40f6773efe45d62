package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/quyetvm183/Encybara/internal/models"
)

// SQLiteRepository implements Repository on a single SQLite file.
// Intended for local runs and demos; production uses PostgresRepository.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository opens path (or ":memory:") and applies the schema
func NewSQLiteRepository(ctx context.Context, path string) (*SQLiteRepository, error) {
	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000&_foreign_keys=on", path)
	if path == ":memory:" {
		dsn = "file::memory:?_foreign_keys=on"
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}

	// SQLite serializes writers; one connection also keeps :memory: databases intact
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping sqlite: %w", err)
	}

	if err := applySQLiteSchema(ctx, db); err != nil {
		db.Close()
		return nil, err
	}

	return &SQLiteRepository{db: db}, nil
}

func applySQLiteSchema(ctx context.Context, db *sql.DB) error {
	sub, err := fs.Sub(sqliteMigrations, "migrations/sqlite")
	if err != nil {
		return fmt.Errorf("failed to open sqlite migrations: %w", err)
	}

	names, err := listMigrations(sub)
	if err != nil {
		return err
	}

	for _, name := range names {
		content, err := fs.ReadFile(sub, name)
		if err != nil {
			return fmt.Errorf("failed to read migration %s: %w", name, err)
		}
		if _, err := db.ExecContext(ctx, string(content)); err != nil {
			return fmt.Errorf("failed to execute migration %s: %w", name, err)
		}
		slog.Debug("sqlite schema applied", "migration", name)
	}

	return nil
}

// Ping checks database connectivity
func (r *SQLiteRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the database
func (r *SQLiteRepository) Close() error {
	return r.db.Close()
}

// FindPublicByAxisAndRange returns public courses of one axis inside a difficulty band
func (r *SQLiteRepository) FindPublicByAxisAndRange(ctx context.Context, axis models.SkillAxis, lower, upper float64) ([]models.CourseCandidate, error) {
	query := `
		SELECT ` + courseColumns + `
		FROM courses
		WHERE status = 'PUBLIC'
		  AND skill_axis = ?
		  AND difficulty_level BETWEEN ? AND ?
		ORDER BY difficulty_level ASC, id ASC
	`

	rows, err := r.db.QueryContext(ctx, query, string(axis), lower, upper)
	if err != nil {
		return nil, fmt.Errorf("failed to find courses: %w", err)
	}
	defer rows.Close()

	return scanSQLCourses(rows)
}

// FindAll returns the whole catalog in insertion order
func (r *SQLiteRepository) FindAll(ctx context.Context) ([]models.CourseCandidate, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+courseColumns+` FROM courses ORDER BY rowid ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list courses: %w", err)
	}
	defer rows.Close()

	return scanSQLCourses(rows)
}

func scanSQLCourses(rows *sql.Rows) ([]models.CourseCandidate, error) {
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
func (r *SQLiteRepository) UpsertCourses(ctx context.Context, courses []models.CourseCandidate) error {
	if len(courses) == 0 {
		return nil
	}

	query := `
		INSERT INTO courses (id, name, skill_axis, difficulty_level, recommended_level, status)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE
		SET name = excluded.name,
		    skill_axis = excluded.skill_axis,
		    difficulty_level = excluded.difficulty_level,
		    recommended_level = excluded.recommended_level,
		    status = excluded.status
	`

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, c := range courses {
		if _, err := tx.ExecContext(ctx, query, c.ID, c.Name, string(c.Axis), c.DifficultyLevel, c.RecommendedLevel, string(c.Status)); err != nil {
			return fmt.Errorf("failed to upsert course %s: %w", c.ID, err)
		}
	}

	return tx.Commit()
}

// FindActive returns the learner's opted-in enrollment for a course
func (r *SQLiteRepository) FindActive(ctx context.Context, userID, courseID string) (*models.Enrollment, error) {
	return r.findEnrollment(ctx, userID, courseID, true)
}

// FindInactive returns the learner's recommendation row for a course
func (r *SQLiteRepository) FindInactive(ctx context.Context, userID, courseID string) (*models.Enrollment, error) {
	return r.findEnrollment(ctx, userID, courseID, false)
}

func (r *SQLiteRepository) findEnrollment(ctx context.Context, userID, courseID string, active bool) (*models.Enrollment, error) {
	query := `SELECT ` + enrollmentColumns + ` FROM enrollments WHERE user_id = ? AND course_id = ? AND active = ?`

	e, err := scanSQLEnrollment(r.db.QueryRowContext(ctx, query, userID, courseID, active))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // Not found
		}
		return nil, fmt.Errorf("failed to get enrollment: %w", err)
	}

	return e, nil
}

// Upsert inserts an enrollment or refreshes the recommendation fields of an existing row
func (r *SQLiteRepository) Upsert(ctx context.Context, e *models.Enrollment) error {
	query := `
		INSERT INTO enrollments (` + enrollmentColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE
		SET enroll_date = excluded.enroll_date, profile_id = excluded.profile_id
	`

	var skillScore sql.NullFloat64
	if e.SkillScoreAtCompletion != nil {
		skillScore = sql.NullFloat64{Float64: *e.SkillScoreAtCompletion, Valid: true}
	}

	_, err := r.db.ExecContext(ctx, query,
		e.ID,
		e.UserID,
		e.CourseID,
		e.EnrollDate.UTC(),
		e.Active,
		e.CompletionLevel,
		e.TotalPoints,
		skillScore,
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
func (r *SQLiteRepository) DeleteAllInactive(ctx context.Context, userID string) (int64, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM enrollments WHERE user_id = ? AND active = 0`, userID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete recommendations: %w", err)
	}

	return result.RowsAffected()
}

// ListByUser returns all enrollments of a learner, newest first
func (r *SQLiteRepository) ListByUser(ctx context.Context, userID string) ([]*models.Enrollment, error) {
	query := `
		SELECT ` + enrollmentColumns + `
		FROM enrollments
		WHERE user_id = ?
		ORDER BY enroll_date DESC, course_id ASC
	`

	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list enrollments: %w", err)
	}
	defer rows.Close()

	var enrollments []*models.Enrollment
	for rows.Next() {
		e, err := scanSQLEnrollment(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan enrollment: %w", err)
		}
		enrollments = append(enrollments, e)
	}

	return enrollments, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLEnrollment(row rowScanner) (*models.Enrollment, error) {
	var e models.Enrollment
	var skillScore sql.NullFloat64
	var profileID sql.NullString

	err := row.Scan(
		&e.ID,
		&e.UserID,
		&e.CourseID,
		&e.EnrollDate,
		&e.Active,
		&e.CompletionLevel,
		&e.TotalPoints,
		&skillScore,
		&profileID,
	)
	if err != nil {
		return nil, err
	}

	if skillScore.Valid {
		v := skillScore.Float64
		e.SkillScoreAtCompletion = &v
	}
	e.ProfileID = profileID.String

	return &e, nil
}

// AverageCompletionRate averages completion of active enrollments on one axis
func (r *SQLiteRepository) AverageCompletionRate(ctx context.Context, userID string, axis models.SkillAxis, since time.Time) (*float64, error) {
	query := `
		SELECT AVG(e.completion_level)
		FROM enrollments e
		JOIN courses c ON c.id = e.course_id
		WHERE e.user_id = ?
		  AND c.skill_axis = ?
		  AND e.active = 1
		  AND e.enroll_date >= ?
	`

	var avg sql.NullFloat64
	if err := r.db.QueryRowContext(ctx, query, userID, string(axis), since.UTC()).Scan(&avg); err != nil {
		return nil, fmt.Errorf("failed to compute completion rate: %w", err)
	}

	if !avg.Valid {
		return nil, nil
	}
	return &avg.Float64, nil
}

// FindByUser returns the learner's skill profile
func (r *SQLiteRepository) FindByUser(ctx context.Context, userID string) (*models.SkillProfile, error) {
	query := `SELECT ` + profileColumns + ` FROM skill_profiles WHERE user_id = ?`

	var p models.SkillProfile
	var refreshedAt sql.NullTime

	err := r.db.QueryRowContext(ctx, query, userID).Scan(
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
		if errors.Is(err, sql.ErrNoRows) {
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
func (r *SQLiteRepository) ListUserIDs(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT user_id FROM skill_profiles ORDER BY user_id ASC`)
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
func (r *SQLiteRepository) MarkRefreshed(ctx context.Context, userID string, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `UPDATE skill_profiles SET recommendations_refreshed_at = ? WHERE user_id = ?`, at.UTC(), userID)
	if err != nil {
		return fmt.Errorf("failed to mark profile refreshed: %w", err)
	}

	return nil
}

// SaveProfile inserts or replaces a learner profile
func (r *SQLiteRepository) SaveProfile(ctx context.Context, p *models.SkillProfile) error {
	query := `
		INSERT INTO skill_profiles (id, user_id,
			listening_score, speaking_score, reading_score, writing_score,
			previous_listening_score, previous_speaking_score, previous_reading_score, previous_writing_score,
			last_updated)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (user_id) DO UPDATE
		SET listening_score = excluded.listening_score,
		    speaking_score = excluded.speaking_score,
		    reading_score = excluded.reading_score,
		    writing_score = excluded.writing_score,
		    previous_listening_score = excluded.previous_listening_score,
		    previous_speaking_score = excluded.previous_speaking_score,
		    previous_reading_score = excluded.previous_reading_score,
		    previous_writing_score = excluded.previous_writing_score,
		    last_updated = excluded.last_updated
	`

	_, err := r.db.ExecContext(ctx, query,
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
		p.LastUpdated.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to save profile: %w", err)
	}

	return nil
}
