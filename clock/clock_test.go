package clock

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalDayFollowsTimezone(t *testing.T) {
	// 2024-01-07 23:30 in New York is already 2024-01-08 in UTC.
	now := time.Date(2024, 1, 8, 4, 30, 0, 0, time.UTC)

	utc, err := LocalDay(now, "")
	require.NoError(t, err)
	assert.Equal(t, "2024-01-08", utc)

	ny, err := LocalDay(now, "America/New_York")
	require.NoError(t, err)
	assert.Equal(t, "2024-01-07", ny)

	_, err = LocalDay(now, "Mars/Olympus")
	assert.Error(t, err)
}

func TestParseDayRejectsGarbage(t *testing.T) {
	for _, in := range []string{"", "2024-1-08", "2024-13-01", "2024-02-30", "yesterday", "2024-01-08T00:00"} {
		_, err := ParseDay(in)
		assert.Truef(t, errors.Is(err, ErrBadDay), "input %q", in)
	}
}

func TestDaysBetween(t *testing.T) {
	tests := []struct {
		from, to string
		want     int
	}{
		{"2024-01-06", "2024-01-06", 0},
		{"2024-01-06", "2024-01-07", 1},
		{"2024-01-06", "2024-01-08", 2},
		{"2024-02-28", "2024-03-01", 2},
		{"2023-12-31", "2024-01-01", 1},
		{"2024-01-08", "2024-01-06", -2},
		// DST change in most zones; days are zone-free.
		{"2024-03-09", "2024-03-11", 2},
	}
	for _, tt := range tests {
		got, err := DaysBetween(tt.from, tt.to)
		require.NoError(t, err)
		assert.Equalf(t, tt.want, got, "%s -> %s", tt.from, tt.to)
	}
}

func TestISOWeek(t *testing.T) {
	w, err := ISOWeek("2024-01-08")
	require.NoError(t, err)
	assert.Equal(t, "2024-W02", w)

	w, err = ISOWeek("2021-01-01")
	require.NoError(t, err)
	assert.Equal(t, "2020-W53", w)
}

func TestInRange(t *testing.T) {
	assert.True(t, InRange("2024-01-08", "", ""))
	assert.True(t, InRange("2024-01-08", "2024-01-08", "2024-01-08"))
	assert.False(t, InRange("2024-01-07", "2024-01-08", ""))
	assert.False(t, InRange("2024-01-09", "", "2024-01-08"))
}

func TestMockAdvance(t *testing.T) {
	m := NewMock(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	m.Advance(31 * time.Second)
	assert.Equal(t, 31, m.Now().Second())

	day, err := AddDays("2024-01-31", 1)
	require.NoError(t, err)
	assert.Equal(t, "2024-02-01", day)
}
