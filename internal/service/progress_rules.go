package service

import (
	"net/url"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/noah-isme/curriculum-progress-api/internal/models"
	appErrors "github.com/noah-isme/curriculum-progress-api/pkg/errors"
)

// allowedTransitions lists every status change the ledger may commit. Self-loops are listed
// where a count update may leave the status unchanged.
var allowedTransitions = map[models.ProgressStatus][]models.ProgressStatus{
	models.ProgressStatusLocked:          {models.ProgressStatusNotStarted},
	models.ProgressStatusNotStarted:      {models.ProgressStatusInProgress, models.ProgressStatusPendingApproval},
	models.ProgressStatusInProgress:      {models.ProgressStatusInProgress, models.ProgressStatusPendingApproval},
	models.ProgressStatusPendingApproval: {models.ProgressStatusCompleted, models.ProgressStatusRejected, models.ProgressStatusInProgress, models.ProgressStatusPendingApproval},
	models.ProgressStatusRejected:        {models.ProgressStatusPendingApproval, models.ProgressStatusInProgress},
	models.ProgressStatusCompleted:       {},
}

// CanTransition reports whether from -> to is part of the state machine.
func CanTransition(from, to models.ProgressStatus) bool {
	for _, candidate := range allowedTransitions[from] {
		if candidate == to {
			return true
		}
	}
	return false
}

// ValidateTransition returns ErrInvalidStatusTransition for moves outside the state machine.
func ValidateTransition(from, to models.ProgressStatus) error {
	if CanTransition(from, to) {
		return nil
	}
	return appErrors.Clone(appErrors.ErrInvalidStatusTransition, "cannot move progress from "+string(from)+" to "+string(to))
}

// ValidateCounts bound-checks counts against the course thresholds. Out-of-range values are
// rejected, never clamped.
func ValidateCounts(course *models.Course, sessions, projects int) error {
	if sessions < 0 || projects < 0 {
		return appErrors.ErrNegativeCount
	}
	if sessions > course.RequiredSessions {
		return appErrors.ErrSessionsExceedRequired
	}
	if projects > course.RequiredProjects {
		return appErrors.ErrProjectsExceedRequired
	}
	return nil
}

// ThresholdsMet reports whether counts satisfy the course completion condition.
func ThresholdsMet(course *models.Course, sessions, projects int) bool {
	return sessions == course.RequiredSessions && projects == course.RequiredProjects
}

// NextStatus derives the status that follows a count mutation. Locked and completed records
// do not accept count mutations.
func NextStatus(current models.ProgressStatus, sessions, projects int, course *models.Course) (models.ProgressStatus, error) {
	switch current {
	case models.ProgressStatusLocked:
		return current, appErrors.Clone(appErrors.ErrInvalidStatusTransition, "course is locked")
	case models.ProgressStatusCompleted:
		return current, appErrors.Clone(appErrors.ErrInvalidStatusTransition, "course is already completed")
	}
	next := models.ProgressStatusInProgress
	if ThresholdsMet(course, sessions, projects) {
		next = models.ProgressStatusPendingApproval
	}
	if err := ValidateTransition(current, next); err != nil {
		return current, err
	}
	return next, nil
}

const projectURLTag = "httpurl"

// newProgressValidator returns a validator with the project link rule registered.
func newProgressValidator(validate *validator.Validate) *validator.Validate {
	if validate == nil {
		validate = validator.New()
	}
	_ = validate.RegisterValidation(projectURLTag, func(fl validator.FieldLevel) bool {
		return isHTTPURL(fl.Field().String())
	})
	return validate
}

func isHTTPURL(raw string) bool {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return false
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return false
	}
	scheme := strings.ToLower(parsed.Scheme)
	return (scheme == "http" || scheme == "https") && parsed.Host != ""
}

// validateProjectLinks checks every link and returns the trimmed list.
func validateProjectLinks(validate *validator.Validate, links []string) ([]string, error) {
	out := make([]string, 0, len(links))
	for _, link := range links {
		link = strings.TrimSpace(link)
		if err := validate.Var(link, "required,"+projectURLTag); err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInvalidProjectURL.Code, appErrors.ErrInvalidProjectURL.Status, "invalid project link: "+link)
		}
		out = append(out, link)
	}
	return out, nil
}

// diffLinks returns links present only in after (added) and only in before (removed), in order.
func diffLinks(before, after []string) (added, removed []string) {
	beforeSet := make(map[string]int, len(before))
	for _, link := range before {
		beforeSet[link]++
	}
	afterSet := make(map[string]int, len(after))
	for _, link := range after {
		afterSet[link]++
	}
	for _, link := range after {
		if beforeSet[link] > 0 {
			beforeSet[link]--
			continue
		}
		added = append(added, link)
	}
	for _, link := range before {
		if afterSet[link] > 0 {
			afterSet[link]--
			continue
		}
		removed = append(removed, link)
	}
	return added, removed
}
