package cronexpr

import (
	"strings"
	"testing"
	"time"
)

func TestValidateAccepts(t *testing.T) {
	exprs := []string{
		"* * * * *",
		"*/1 * * * *",
		"0 0 * * *",
		"15 14 1 * *",
		"0 22 * * 1-5",
		"23 0-20/2 * * *",
		"5,10,15 * * * *",
		"0 4 8-14 * *",
		"59 23 31 12 6",
	}
	for _, expr := range exprs {
		if err := Validate(expr); err != nil {
			t.Errorf("Validate(%q) = %v, want nil", expr, err)
		}
	}
}

func TestValidateRejects(t *testing.T) {
	cases := []struct {
		expr  string
		field string
	}{
		{"", ""},
		{"* * * *", ""},            // four fields
		{"* * * * * *", ""},        // six fields
		{"60 * * * *", "minute"},        // out of range
		{"* 24 * * *", "hour"},          // out of range
		{"* * 0 * *", "day-of-month"},   // day-of-month starts at 1
		{"* * 32 * *", "day-of-month"},  // out of range
		{"* * * 13 *", "month"},         // out of range
		{"* * * * 7", "day-of-week"},    // day-of-week is 0-6
		{"a * * * *", "minute"},
		{"*/0 * * * *", "minute"},
		{"5-1 * * * *", "minute"}, // inverted range
	}
	for _, tc := range cases {
		err := Validate(tc.expr)
		if err == nil {
			t.Errorf("Validate(%q) = nil, want error", tc.expr)
			continue
		}
		if tc.field != "" && !strings.Contains(err.Error(), tc.field) {
			t.Errorf("Validate(%q) error %q does not name field %q", tc.expr, err, tc.field)
		}
	}
}

func TestNext(t *testing.T) {
	from := time.Date(2024, 3, 10, 12, 30, 45, 0, time.UTC)

	next, err := Next("*/15 * * * *", from)
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	want := time.Date(2024, 3, 10, 12, 45, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Errorf("Next = %v, want %v", next, want)
	}

	if _, err := Next("not a cron", from); err == nil {
		t.Error("Next with invalid expression: want error, got nil")
	}
}

func TestNextDaily(t *testing.T) {
	from := time.Date(2024, 3, 10, 23, 59, 0, 0, time.UTC)
	next, err := Next("0 6 * * *", from)
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	want := time.Date(2024, 3, 11, 6, 0, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Errorf("Next = %v, want %v", next, want)
	}
}
