package scheduler

import (
	"context"
	"errors"
	"kis_trader/pkg/calendar"
	"kis_trader/pkg/logger"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	logger.InitNop()
	os.Exit(m.Run())
}

func TestNextRun(t *testing.T) {
	cal, err := calendar.New(time.UTC, []string{"2024-10-03"})
	require.NoError(t, err)
	s := New(cal)
	job := Job{Name: "buy_1", Hour: 9, Minute: 5}

	tests := []struct {
		name string
		now  time.Time
		want time.Time
	}{
		{"later today", time.Date(2024, 10, 2, 8, 0, 0, 0, time.UTC), time.Date(2024, 10, 2, 9, 5, 0, 0, time.UTC)},
		{"exactly now goes to next day, skipping holiday", time.Date(2024, 10, 2, 9, 5, 0, 0, time.UTC), time.Date(2024, 10, 4, 9, 5, 0, 0, time.UTC)},
		{"friday evening goes to monday", time.Date(2024, 10, 4, 18, 0, 0, 0, time.UTC), time.Date(2024, 10, 7, 9, 5, 0, 0, time.UTC)},
		{"saturday", time.Date(2024, 10, 5, 8, 0, 0, 0, time.UTC), time.Date(2024, 10, 7, 9, 5, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, s.NextRun(tt.now, job))
		})
	}
}

func TestNextRunUsesCalendarZone(t *testing.T) {
	kst := time.FixedZone("KST", 9*60*60)
	cal, err := calendar.New(kst, nil)
	require.NoError(t, err)
	s := New(cal)

	// 2024-10-01 23:30 UTC is 08:30 on the 2nd in Seoul.
	got := s.NextRun(time.Date(2024, 10, 1, 23, 30, 0, 0, time.UTC), Job{Hour: 9, Minute: 5})
	assert.Equal(t, time.Date(2024, 10, 2, 9, 5, 0, 0, kst), got)
}

func TestAt(t *testing.T) {
	job, err := At("purge", "18:00", func(context.Context) error { return nil })
	require.NoError(t, err)
	assert.Equal(t, 18, job.Hour)
	assert.Zero(t, job.Minute)

	_, err = At("bad", "25:99", nil)
	assert.Error(t, err)
}

func TestRunSurvivesFailures(t *testing.T) {
	cal, err := calendar.New(time.UTC, nil)
	require.NoError(t, err)

	var panics, fails, oks atomic.Int32
	s := New(cal,
		Job{Name: "panics", Run: func(context.Context) error { panics.Add(1); panic("boom") }},
		Job{Name: "fails", Run: func(context.Context) error { fails.Add(1); return errors.New("nope") }},
		Job{Name: "ok", Run: func(context.Context) error { oks.Add(1); return nil }},
	)
	s.now = func() time.Time { return time.Date(2024, 10, 2, 8, 0, 0, 0, time.UTC) }
	fire := make(chan time.Time)
	close(fire)
	s.after = func(time.Duration) <-chan time.Time { return fire }

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	require.Eventually(t, func() bool {
		return panics.Load() >= 3 && fails.Load() >= 3 && oks.Load() >= 3
	}, time.Second, time.Millisecond)
	cancel()
	require.NoError(t, <-done)
}
