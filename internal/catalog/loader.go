package catalog

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/quyetvm183/Encybara/internal/models"
	"github.com/quyetvm183/Encybara/internal/storage"
)

// Loader reads course catalog and learner seed files
type Loader struct {
	mu       sync.RWMutex
	courses  map[string]models.CourseCandidate
	order    []string
	learners map[string]*models.SkillProfile
	validate *validator.Validate
}

// NewLoader creates a new seed loader
func NewLoader() *Loader {
	return &Loader{
		courses:  make(map[string]models.CourseCandidate),
		learners: make(map[string]*models.SkillProfile),
		validate: validator.New(),
	}
}

// LoadFromDir loads every YAML file in dir and its immediate subdirectories.
// Invalid files are logged and skipped.
func (l *Loader) LoadFromDir(dir string) error {
	slog.Info("loading catalog seed files", "dir", dir)

	if _, err := os.Stat(dir); err != nil {
		return fmt.Errorf("failed to open seed directory: %w", err)
	}

	patterns := []string{"*.yaml", "*.yml"}
	var files []string

	for _, pattern := range patterns {
		matches, err := filepath.Glob(filepath.Join(dir, pattern))
		if err != nil {
			continue
		}
		files = append(files, matches...)

		subMatches, err := filepath.Glob(filepath.Join(dir, "*", pattern))
		if err != nil {
			continue
		}
		files = append(files, subMatches...)
	}
	sort.Strings(files)

	loaded := 0
	for _, file := range files {
		if err := l.LoadFromFile(file); err != nil {
			slog.Warn("failed to load seed file", "file", file, "error", err)
			continue
		}
		loaded++
	}

	slog.Info("catalog seed files loaded", "count", loaded, "total_files", len(files))
	return nil
}

// LoadFromFile loads one seed file. A file is rejected as a whole when any
// entry fails validation.
func (l *Loader) LoadFromFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read file: %w", err)
	}

	var sf seedFile
	if err := yaml.Unmarshal(data, &sf); err != nil {
		return fmt.Errorf("failed to parse YAML: %w", err)
	}

	if len(sf.Courses) == 0 && len(sf.Learners) == 0 {
		return fmt.Errorf("no courses or learners defined")
	}

	courses := make([]models.CourseCandidate, 0, len(sf.Courses))
	for i, c := range sf.Courses {
		if err := l.validate.Struct(c); err != nil {
			return fmt.Errorf("course %d (%s): %w", i, c.ID, err)
		}
		courses = append(courses, c.toModel())
	}

	learners := make([]*models.SkillProfile, 0, len(sf.Learners))
	for i, ls := range sf.Learners {
		if err := l.validate.Struct(ls); err != nil {
			return fmt.Errorf("learner %d (%s): %w", i, ls.UserID, err)
		}
		learners = append(learners, ls.toModel())
	}

	l.mu.Lock()
	for _, c := range courses {
		if _, exists := l.courses[c.ID]; !exists {
			l.order = append(l.order, c.ID)
		}
		l.courses[c.ID] = c
	}
	for _, p := range learners {
		l.learners[p.UserID] = p
	}
	l.mu.Unlock()

	slog.Info("seed file loaded", "file", filepath.Base(path), "courses", len(courses), "learners", len(learners))
	return nil
}

// Courses returns loaded courses in first-seen order
func (l *Loader) Courses() []models.CourseCandidate {
	l.mu.RLock()
	defer l.mu.RUnlock()

	result := make([]models.CourseCandidate, 0, len(l.order))
	for _, id := range l.order {
		result = append(result, l.courses[id])
	}
	return result
}

// Learners returns loaded learner profiles ordered by user id
func (l *Loader) Learners() []*models.SkillProfile {
	l.mu.RLock()
	defer l.mu.RUnlock()

	result := make([]*models.SkillProfile, 0, len(l.learners))
	for _, p := range l.learners {
		result = append(result, p)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].UserID < result[j].UserID })
	return result
}

// Apply writes everything loaded into the stores
func (l *Loader) Apply(ctx context.Context, courses storage.CatalogWriter, profiles storage.ProfileWriter) (int, int, error) {
	loadedCourses := l.Courses()
	if err := courses.UpsertCourses(ctx, loadedCourses); err != nil {
		return 0, 0, err
	}

	learners := l.Learners()
	for _, p := range learners {
		if err := profiles.SaveProfile(ctx, p); err != nil {
			return len(loadedCourses), 0, fmt.Errorf("failed to seed learner %s: %w", p.UserID, err)
		}
	}

	return len(loadedCourses), len(learners), nil
}

// --- YAML file structs ---

type seedFile struct {
	Courses  []courseEntry  `yaml:"courses"`
	Learners []learnerEntry `yaml:"learners"`
}

type courseEntry struct {
	ID               string  `yaml:"id" validate:"required"`
	Name             string  `yaml:"name" validate:"required"`
	Axis             string  `yaml:"skill_axis" validate:"required,oneof=LISTENING SPEAKING READING WRITING ALLSKILLS"`
	DifficultyLevel  float64 `yaml:"difficulty_level" validate:"gte=1,lte=7"`
	RecommendedLevel float64 `yaml:"recommended_level" validate:"gte=1,lte=7"`
	Status           string  `yaml:"status" validate:"omitempty,oneof=PENDING PUBLIC PRIVATE"`
}

func (c courseEntry) toModel() models.CourseCandidate {
	status := models.PublicationStatus(c.Status)
	if status == "" {
		status = models.CoursePublic
	}

	return models.CourseCandidate{
		ID:               c.ID,
		Name:             c.Name,
		Axis:             models.SkillAxis(c.Axis),
		DifficultyLevel:  c.DifficultyLevel,
		RecommendedLevel: c.RecommendedLevel,
		Status:           status,
	}
}

type scoresEntry struct {
	Listening float64 `yaml:"listening" validate:"gte=1,lte=7"`
	Speaking  float64 `yaml:"speaking" validate:"gte=1,lte=7"`
	Reading   float64 `yaml:"reading" validate:"gte=1,lte=7"`
	Writing   float64 `yaml:"writing" validate:"gte=1,lte=7"`
}

type learnerEntry struct {
	ProfileID string      `yaml:"profile_id"`
	UserID    string      `yaml:"user_id" validate:"required"`
	Current   scoresEntry `yaml:"current"`
	Previous  scoresEntry `yaml:"previous"`
}

func (e learnerEntry) toModel() *models.SkillProfile {
	id := e.ProfileID
	if id == "" {
		id = uuid.NewString()
	}

	return &models.SkillProfile{
		ID:          id,
		UserID:      e.UserID,
		Current:     models.SkillScores(e.Current),
		Previous:    models.SkillScores(e.Previous),
		LastUpdated: time.Now().UTC(),
	}
}
