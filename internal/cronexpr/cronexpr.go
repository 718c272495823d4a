// Package cronexpr validates standard 5-field cron expressions
// (minute hour day-of-month month day-of-week) and computes the next
// firing instant. Validation happens at save time so no scheduled job is
// ever persisted with an expression the scheduler cannot install; the
// error messages name the offending field.
package cronexpr

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// fieldSpec describes the allowed numeric range of one cron field.
type fieldSpec struct {
	name string
	min  int
	max  int
}

// Field order and ranges of the POSIX 5-field form.
var fields = [5]fieldSpec{
	{"minute", 0, 59},
	{"hour", 0, 23},
	{"day-of-month", 1, 31},
	{"month", 1, 12},
	{"day-of-week", 0, 6},
}

// parser parses the standard 5-field form, no seconds, no descriptors.
var parser = cron.NewParser(
	cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow,
)

// Validate checks that expr is a well-formed 5-field cron expression.
// Each field accepts "*", a number, a range "a-b", a list "a,b,c", and a
// step "*/n" or "a-b/n". The returned error names the first invalid field.
func Validate(expr string) error {
	parts := strings.Fields(strings.TrimSpace(expr))
	if len(parts) != 5 {
		return fmt.Errorf("cron expression must have exactly 5 fields (minute hour day-of-month month day-of-week), got %d", len(parts))
	}

	for i, part := range parts {
		if err := validateField(part, fields[i]); err != nil {
			return err
		}
	}

	// Field-level checks above catch range and syntax mistakes with a
	// precise message; the library parse is the final authority on the
	// combinations it will actually schedule.
	if _, err := parser.Parse(expr); err != nil {
		return fmt.Errorf("invalid cron expression %q: %v", expr, err)
	}
	return nil
}

// Next returns the first firing instant strictly after from, in UTC.
// expr must have passed Validate.
func Next(expr string, from time.Time) (time.Time, error) {
	sched, err := parser.Parse(expr)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid cron expression %q: %v", expr, err)
	}
	return sched.Next(from.UTC()).UTC(), nil
}

// validateField checks a single field against its spec. Lists are split
// first, then each element may carry a step suffix over a "*" or "a-b" base.
func validateField(field string, spec fieldSpec) error {
	if field == "" {
		return fmt.Errorf("%s field is empty", spec.name)
	}

	for _, elem := range strings.Split(field, ",") {
		base := elem
		if slash := strings.IndexByte(elem, '/'); slash >= 0 {
			base = elem[:slash]
			step := elem[slash+1:]
			n, err := strconv.Atoi(step)
			if err != nil || n <= 0 {
				return fmt.Errorf("%s field: step %q must be a positive number", spec.name, step)
			}
			if base != "*" && !strings.Contains(base, "-") {
				return fmt.Errorf("%s field: step requires a \"*\" or range base, got %q", spec.name, elem)
			}
		}

		switch {
		case base == "*":
			// always valid
		case strings.Contains(base, "-"):
			bounds := strings.SplitN(base, "-", 2)
			lo, err := parseBound(bounds[0], spec)
			if err != nil {
				return err
			}
			hi, err := parseBound(bounds[1], spec)
			if err != nil {
				return err
			}
			if lo > hi {
				return fmt.Errorf("%s field: range %q is inverted", spec.name, base)
			}
		default:
			if _, err := parseBound(base, spec); err != nil {
				return err
			}
		}
	}
	return nil
}

// parseBound parses one numeric value and enforces the field range.
func parseBound(s string, spec fieldSpec) (int, error) {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("%s field: %q is not a number", spec.name, s)
	}
	if n < spec.min || n > spec.max {
		return 0, fmt.Errorf("%s field: %d is out of range %d-%d", spec.name, n, spec.min, spec.max)
	}
	return n, nil
}
