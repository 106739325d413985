package scheduler

import (
	"errors"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"taskmaster/internal/domain"
)

// cronParser accepts standard five-field expressions, an optional leading
// seconds field, and descriptors like @hourly / @every 5m.
var cronParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// ParseCron parses a cron expression with the engine's field rules.
func ParseCron(expr string) (cron.Schedule, error) {
	if strings.TrimSpace(expr) == "" {
		return nil, &domain.InvalidExpressionError{Expression: expr, Err: errors.New("empty expression")}
	}
	s, err := cronParser.Parse(expr)
	if err != nil {
		return nil, &domain.InvalidExpressionError{Expression: expr, Err: err}
	}
	return s, nil
}

// ValidateCron reports whether expr is a usable cron expression.
func ValidateCron(expr string) error {
	_, err := ParseCron(expr)
	return err
}

// NextRun returns the first occurrence of expr strictly after the given
// instant. Reference and result are UTC, independent of the host timezone.
func NextRun(expr string, after time.Time) (time.Time, error) {
	s, err := ParseCron(expr)
	if err != nil {
		return time.Time{}, err
	}
	return s.Next(after.UTC()), nil
}
