package recommend

import "errors"

var (
	// ErrInvalidProfile means a profile score lies outside [0, 7]
	ErrInvalidProfile = errors.New("invalid skill profile")

	// ErrNoSuitableCandidates means no catalog course matched; callers fall back to the cascade
	ErrNoSuitableCandidates = errors.New("no suitable course candidates")

	// ErrNoCoursesAvailable means the catalog is empty. Needs operator action.
	ErrNoCoursesAvailable = errors.New("no courses available in catalog")
)
