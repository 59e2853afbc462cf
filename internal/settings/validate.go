package settings

import (
	"fmt"
	"time"
)

// FieldError names a single invalid field and the reason it failed
// validation.
type FieldError struct {
	Field  string
	Reason string
}

func (e FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

// ValidationError wraps one or more FieldErrors.
type ValidationError struct {
	Errors []FieldError
}

func (e *ValidationError) Error() string {
	if len(e.Errors) == 0 {
		return "validation failed"
	}
	msg := e.Errors[0].Error()
	for _, fe := range e.Errors[1:] {
		msg += "; " + fe.Error()
	}
	return msg
}

// Validate checks every constraint config.py's pydantic field
// validators enforced, returning one FieldError per violation.
func Validate(cfg Config) []FieldError {
	var errs []FieldError

	if cfg.QuietHours[0] == "" || cfg.QuietHours[1] == "" {
		errs = append(errs, FieldError{Field: "quiet_hours", Reason: "must define start and end"})
	} else {
		if _, err := parseHHMM(cfg.QuietHours[0]); err != nil {
			errs = append(errs, FieldError{Field: "quiet_hours[0]", Reason: err.Error()})
		}
		if _, err := parseHHMM(cfg.QuietHours[1]); err != nil {
			errs = append(errs, FieldError{Field: "quiet_hours[1]", Reason: err.Error()})
		}
	}

	if !validTheme(cfg.Appearance.Theme) {
		errs = append(errs, FieldError{Field: "appearance.theme", Reason: fmt.Sprintf("%q is not recognised", cfg.Appearance.Theme)})
	}

	if cfg.Timezone != "" {
		if _, err := time.LoadLocation(cfg.Timezone); err != nil {
			errs = append(errs, FieldError{Field: "timezone", Reason: fmt.Sprintf("%q is not a recognised timezone", cfg.Timezone)})
		}
	}

	if cfg.Schedule.DigestDaily != "" {
		if _, err := parseHHMM(cfg.Schedule.DigestDaily); err != nil {
			errs = append(errs, FieldError{Field: "schedule.digest_daily", Reason: err.Error()})
		}
	}

	return errs
}

func validTheme(theme string) bool {
	for _, t := range ThemeSlugs {
		if t == theme {
			return true
		}
	}
	return false
}

func parseHHMM(s string) (int, error) {
	var hour, minute int
	if _, err := fmt.Sscanf(s, "%d:%d", &hour, &minute); err != nil {
		return 0, fmt.Errorf("invalid time %q, expected HH:MM", s)
	}
	if hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return 0, fmt.Errorf("time %q out of range", s)
	}
	return hour*60 + minute, nil
}
