package timeutil

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStartOfWeek(t *testing.T) {
	tests := []struct {
		name string
		in   time.Time
		want time.Time
	}{
		{"monday stays", Date(2025, time.February, 3), Date(2025, time.February, 3)},
		{"saturday", Date(2025, time.February, 8), Date(2025, time.February, 3)},
		{"sunday belongs to previous week", Date(2025, time.February, 9), Date(2025, time.February, 3)},
		{"across month", Date(2025, time.March, 1), Date(2025, time.February, 24)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, StartOfWeek(tt.in))
		})
	}
}

func TestDaysBetween(t *testing.T) {
	assert.Equal(t, 87, DaysBetween(Date(2025, time.February, 3), Date(2025, time.May, 1)))
	assert.Equal(t, -3, DaysBetween(Date(2025, time.February, 3), Date(2025, time.January, 31)))
	assert.Equal(t, 0, DaysBetween(Date(2025, time.February, 3), Date(2025, time.February, 3).Add(23*time.Hour)))
}

func TestFloorDiv(t *testing.T) {
	assert.Equal(t, 12, FloorDiv(87, 7))
	assert.Equal(t, -1, FloorDiv(-3, 7))
	assert.Equal(t, -1, FloorDiv(-7, 7))
	assert.Equal(t, 0, FloorDiv(0, 7))
}

func TestParseDate(t *testing.T) {
	sp := LoadLocation("America/Sao_Paulo")

	d, err := ParseDate("2025-05-01", sp)
	require.NoError(t, err)
	assert.Equal(t, Date(2025, time.May, 1), d)

	// 01:30 UTC is still the previous evening in Sao Paulo.
	d, err = ParseDate("2025-05-02T01:30:00Z", sp)
	require.NoError(t, err)
	assert.Equal(t, Date(2025, time.May, 1), d)

	// Zone-less timestamps keep their local date, even at midnight.
	for _, value := range []string{"2025-05-01T00:00:00", "2025-05-01 00:00:00", "2025-05-01T23:59:59", "2025-05-01 08:30:00"} {
		d, err = ParseDate(value, sp)
		require.NoError(t, err, value)
		assert.Equal(t, Date(2025, time.May, 1), d, value)
	}

	d, err = ParseDate("2025-02-10T00:00:00", nil)
	require.NoError(t, err)
	assert.Equal(t, Date(2025, time.February, 10), d)

	_, err = ParseDate("", sp)
	assert.ErrorIs(t, err, ErrEmptyDate)

	_, err = ParseDate("01/05/2025", sp)
	assert.Error(t, err)
}
