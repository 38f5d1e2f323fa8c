package candidates

import (
	"context"
	"kis_trader/internal/models"
	"kis_trader/internal/modules/config"
	notify "kis_trader/internal/modules/notify/service"
	"kis_trader/pkg/calendar"
	"kis_trader/pkg/exception"
	"kis_trader/pkg/logger"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	logger.InitNop()
	os.Exit(m.Run())
}

type fakeBroker struct {
	upper  []models.UpperLimitStock
	quotes map[string]models.Quote
}

func (b *fakeBroker) UpperLimitStocks(context.Context) ([]models.UpperLimitStock, error) {
	return b.upper, nil
}

func (b *fakeBroker) CurrentPrice(_ context.Context, t string) (models.Quote, error) {
	q, ok := b.quotes[t]
	if !ok {
		return models.Quote{}, exception.ErrNotFound
	}
	return q, nil
}

type memStocks struct {
	byDay      map[string][]models.UpperLimitStock
	cands      []models.Candidate
	purgedFrom time.Time
}

func (m *memStocks) SaveUpperLimit(_ context.Context, d time.Time, s []models.UpperLimitStock) error {
	m.byDay[d.Format(time.DateOnly)] = s
	return nil
}

func (m *memStocks) UpperLimitOn(_ context.Context, d time.Time) ([]models.UpperLimitStock, error) {
	return m.byDay[d.Format(time.DateOnly)], nil
}

func (m *memStocks) PurgeUpperLimitBefore(_ context.Context, d time.Time) (int64, error) {
	m.purgedFrom = d
	return 2, nil
}

func (m *memStocks) ReplaceCandidates(_ context.Context, c []models.Candidate) error {
	m.cands = c
	return nil
}

func (m *memStocks) PopCandidate(context.Context) (models.Candidate, bool, error) {
	return models.Candidate{}, false, nil
}

type nopSink struct{}

func (nopSink) Send(context.Context, notify.Level, string, notify.Fields) {}

func newSelector(t *testing.T, b *fakeBroker, st *memStocks, now time.Time) *Selector {
	t.Helper()
	cfg := config.Default()
	cal, err := calendar.New(time.UTC, []string{"2024-10-09"})
	require.NoError(t, err)
	s := NewSelector(&cfg, b, st, nopSink{}, cal)
	s.now = func() time.Time { return now }
	s.sleep = func(context.Context, time.Duration) error { return nil }
	return s
}

func TestFetchUpperLimitStampsToday(t *testing.T) {
	st := &memStocks{byDay: map[string][]models.UpperLimitStock{}}
	b := &fakeBroker{upper: []models.UpperLimitStock{{Ticker: "005930", ClosingPrice: 1300}}}
	s := newSelector(t, b, st, time.Date(2024, 10, 8, 15, 40, 0, 0, time.UTC))

	n, err := s.FetchUpperLimit(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	got := st.byDay["2024-10-08"]
	require.Len(t, got, 1)
	assert.Equal(t, time.Date(2024, 10, 8, 0, 0, 0, 0, time.UTC), got[0].Date)
}

func TestSelectUsesPreviousBusinessDay(t *testing.T) {
	// 2024-10-09 is a holiday, so on the 10th the list comes from the 8th.
	st := &memStocks{byDay: map[string][]models.UpperLimitStock{
		"2024-10-08": {
			{Ticker: "A", Name: "kept", ClosingPrice: 1000},
			{Ticker: "B", Name: "too low", ClosingPrice: 1000},
			{Ticker: "C", Name: "halted", ClosingPrice: 1000},
			{Ticker: "D", Name: "no quote", ClosingPrice: 1000},
			{Ticker: "E", Name: "at ratio", ClosingPrice: 1000},
		},
	}}
	b := &fakeBroker{quotes: map[string]models.Quote{
		"A": {Price: 921},
		"B": {Price: 800},
		"C": {Price: 1100, Halted: true},
		"E": {Price: 920},
	}}
	s := newSelector(t, b, st, time.Date(2024, 10, 10, 8, 50, 0, 0, time.UTC))

	picked, err := s.Select(context.Background())
	require.NoError(t, err)
	require.Len(t, picked, 1)
	assert.Equal(t, "A", picked[0].Ticker)
	assert.Equal(t, picked, st.cands)
}

func TestSelectNothingKeepsQueue(t *testing.T) {
	prev := []models.Candidate{{Ticker: "Z"}}
	st := &memStocks{byDay: map[string][]models.UpperLimitStock{}, cands: prev}
	s := newSelector(t, &fakeBroker{}, st, time.Date(2024, 10, 10, 8, 50, 0, 0, time.UTC))

	picked, err := s.Select(context.Background())
	require.NoError(t, err)
	assert.Empty(t, picked)
	assert.Equal(t, prev, st.cands)
}

func TestPurgeOld(t *testing.T) {
	st := &memStocks{byDay: map[string][]models.UpperLimitStock{}}
	s := newSelector(t, &fakeBroker{}, st, time.Date(2024, 10, 10, 18, 0, 0, 0, time.UTC))

	n, err := s.PurgeOld(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.Equal(t, time.Date(2024, 8, 11, 0, 0, 0, 0, time.UTC), st.purgedFrom)
}
