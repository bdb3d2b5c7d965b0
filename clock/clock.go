// Package clock supplies wall-clock time and user-local calendar days.
//
// Streak logic never looks at wall-clock time: callers convert "now" into a
// YYYY-MM-DD day in the user's timezone here and pass the string down.
package clock

import (
	"errors"
	"fmt"
	"sync"
	"time"
	_ "time/tzdata"
)

// DayLayout is the canonical local-day format.
const DayLayout = "2006-01-02"

// ErrBadDay is returned for strings that are not valid YYYY-MM-DD days.
var ErrBadDay = errors.New("invalid day")

// Clock is the source of current time.
type Clock interface {
	Now() time.Time
}

// System reads the real clock.
type System struct{}

func (System) Now() time.Time { return time.Now() }

// Mock is a settable clock for tests and replays.
type Mock struct {
	mu  sync.Mutex
	now time.Time
}

// NewMock returns a Mock frozen at t.
func NewMock(t time.Time) *Mock { return &Mock{now: t} }

func (m *Mock) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// Advance moves the mock forward by d.
func (m *Mock) Advance(d time.Duration) {
	m.mu.Lock()
	m.now = m.now.Add(d)
	m.mu.Unlock()
}

// Set pins the mock to t.
func (m *Mock) Set(t time.Time) {
	m.mu.Lock()
	m.now = t
	m.mu.Unlock()
}

// LocalDay converts an instant into the calendar day in timezone tz.
// An empty tz means UTC.
func LocalDay(now time.Time, tz string) (string, error) {
	loc := time.UTC
	if tz != "" {
		l, err := time.LoadLocation(tz)
		if err != nil {
			return "", fmt.Errorf("load timezone %q: %w", tz, err)
		}
		loc = l
	}
	return now.In(loc).Format(DayLayout), nil
}

// Today is LocalDay on c.Now().
func Today(c Clock, tz string) (string, error) {
	return LocalDay(c.Now(), tz)
}

// ParseDay validates a YYYY-MM-DD string and returns it as a UTC midnight.
func ParseDay(day string) (time.Time, error) {
	if len(day) != len(DayLayout) {
		return time.Time{}, fmt.Errorf("%w: %q", ErrBadDay, day)
	}
	t, err := time.ParseInLocation(DayLayout, day, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q", ErrBadDay, day)
	}
	return t, nil
}

// DaysBetween returns to - from in whole calendar days.
func DaysBetween(from, to string) (int, error) {
	a, err := ParseDay(from)
	if err != nil {
		return 0, err
	}
	b, err := ParseDay(to)
	if err != nil {
		return 0, err
	}
	return int(b.Sub(a).Hours() / 24), nil
}

// AddDays shifts a day string by n days.
func AddDays(day string, n int) (string, error) {
	t, err := ParseDay(day)
	if err != nil {
		return "", err
	}
	return t.AddDate(0, 0, n).Format(DayLayout), nil
}

// ISOWeek formats the ISO-8601 week of day as "2024-W02".
func ISOWeek(day string) (string, error) {
	t, err := ParseDay(day)
	if err != nil {
		return "", err
	}
	y, w := t.ISOWeek()
	return fmt.Sprintf("%04d-W%02d", y, w), nil
}

// InRange reports whether day lies in [start, end]; empty bounds are open.
func InRange(day, start, end string) bool {
	// YYYY-MM-DD compares lexically in calendar order.
	if start != "" && day < start {
		return false
	}
	if end != "" && day > end {
		return false
	}
	return true
}
