package calendar

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestTargetDate(t *testing.T) {
	// 2024-10-01 and 2024-10-03 are KR holidays.
	cal, err := New(time.UTC, []string{"2024-10-01", "2024-10-03", "2024-10-09"})
	require.NoError(t, err)

	tests := []struct {
		name  string
		start time.Time
		n     int
		want  time.Time
	}{
		{"plain weekdays", date(2024, 9, 23), 3, date(2024, 9, 26)},
		{"crosses weekend", date(2024, 9, 26), 2, date(2024, 9, 30)},
		{"skips holidays", date(2024, 9, 30), 2, date(2024, 10, 4)},
		{"weekend start rolls back", date(2024, 9, 29), 1, date(2024, 9, 30)},
		{"zero days", date(2024, 10, 3), 0, date(2024, 10, 2)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, cal.TargetDate(tt.start, tt.n))
		})
	}
}

func TestPreviousBusinessDay(t *testing.T) {
	cal, err := New(time.UTC, []string{"2024-10-03"})
	require.NoError(t, err)

	assert.Equal(t, date(2024, 10, 4), cal.PreviousBusinessDay(date(2024, 10, 7)))
	assert.Equal(t, date(2024, 10, 2), cal.PreviousBusinessDay(date(2024, 10, 4)))
}

func TestBadHoliday(t *testing.T) {
	_, err := New(time.UTC, []string{"10/03/2024"})
	assert.Error(t, err)
}
