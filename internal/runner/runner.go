package runner

import (
	"context"
	"kis_trader/internal/models"
	"kis_trader/internal/modules/config"
	health "kis_trader/internal/modules/health/service"
	ws "kis_trader/internal/modules/kis_websocket/service"
	storage "kis_trader/internal/modules/storage/service"
	"kis_trader/internal/runner/candidates"
	"kis_trader/internal/runner/scheduler"
	"kis_trader/internal/runner/sessions"
	"kis_trader/pkg/calendar"
	"kis_trader/pkg/logger"
	"kis_trader/pkg/metrics"
	"time"
)

// Feed is the monitor side of the real-time feed.
type Feed interface {
	Watch(ctx context.Context, sess models.Session, eval ws.Evaluator) (*ws.Monitor, bool, error)
	Unwatch(ctx context.Context, ticker string) error
	Watching() []string
	Subscribed() []string
}

// Runner keeps one monitor per funded session and drives the daily batch jobs.
type Runner struct {
	daysLater    int
	syncInterval time.Duration

	cal      *calendar.Calendar
	sessions storage.SessionStore
	feed     Feed
	eval     ws.Evaluator
	state    *health.State
	now      func() time.Time
}

func New(
	cfg *config.Config,
	cal *calendar.Calendar,
	sessions storage.SessionStore,
	feed Feed,
	eval ws.Evaluator,
	state *health.State,
) *Runner {
	return &Runner{
		daysLater:    cfg.Trading.DaysLater,
		syncInterval: cfg.Trading.SyncInterval,
		cal:          cal,
		sessions:     sessions,
		feed:         feed,
		eval:         eval,
		state:        state,
		now:          time.Now,
	}
}

// Sync reconciles monitors with the session store: every funded session is watched,
// monitors whose session is gone are stopped.
func (r *Runner) Sync(ctx context.Context) error {
	list, err := r.sessions.List(ctx)
	if err != nil {
		return err
	}

	want := make(map[string]struct{}, len(list))
	for _, s := range list {
		if !s.Funded() {
			continue
		}
		s.TargetDate = r.cal.TargetDate(s.StartDate, r.daysLater)
		want[s.Ticker] = struct{}{}

		_, started, err := r.feed.Watch(ctx, s, r.eval)
		if err != nil {
			logger.Error("[SYNC] watch %d %s: %v", s.ID, s.Ticker, err)
			continue
		}
		if started {
			logger.Info("[SYNC] monitoring %d %s qty=%d avg=%d target=%s",
				s.ID, s.Ticker, s.Quantity, s.AvgPrice, s.TargetDate.Format(time.DateOnly))
		}
	}

	// a restored subscription can outlive its monitor, so both sets are swept
	stale := make(map[string]struct{})
	for _, ticker := range append(r.feed.Watching(), r.feed.Subscribed()...) {
		if _, ok := want[ticker]; !ok {
			stale[ticker] = struct{}{}
		}
	}
	for ticker := range stale {
		if err := r.feed.Unwatch(ctx, ticker); err != nil {
			logger.Warn("[SYNC] unwatch %s: %v", ticker, err)
		}
	}

	watching := len(r.feed.Watching())
	metrics.OpenSessions.Set(float64(len(list)))
	if r.state != nil {
		r.state.SetSync(r.now(), len(list), watching)
	}
	return nil
}

// SyncLoop runs Sync immediately and then every sync interval until ctx is done.
func (r *Runner) SyncLoop(ctx context.Context) {
	if err := r.Sync(ctx); err != nil {
		logger.Error("[SYNC] %v", err)
	}
	if r.syncInterval <= 0 {
		return
	}

	t := time.NewTicker(r.syncInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if err := r.Sync(ctx); err != nil {
				logger.Error("[SYNC] %v", err)
			}
		}
	}
}

// Jobs is the daily schedule: fetch, select, two buy cycles (each followed by a sync) and purge.
func (r *Runner) Jobs(cfg *config.Config, sel *candidates.Selector, mgr *sessions.Manager) ([]scheduler.Job, error) {
	buy := func(ctx context.Context) error {
		if err := mgr.RunBuyCycle(ctx); err != nil {
			return err
		}
		return r.Sync(ctx)
	}

	specs := []struct {
		name  string
		clock string
		run   func(ctx context.Context) error
	}{
		{"fetch_stocks", cfg.Sched.FetchStocks, func(ctx context.Context) error {
			_, err := sel.FetchUpperLimit(ctx)
			return err
		}},
		{"select_stocks", cfg.Sched.SelectStocks, func(ctx context.Context) error {
			_, err := sel.Select(ctx)
			return err
		}},
		{"buy_1", cfg.Sched.Buy1, buy},
		{"buy_2", cfg.Sched.Buy2, buy},
		{"purge", cfg.Sched.Purge, func(ctx context.Context) error {
			_, err := sel.PurgeOld(ctx)
			return err
		}},
	}

	jobs := make([]scheduler.Job, 0, len(specs))
	for _, s := range specs {
		if s.clock == "" {
			continue
		}
		job, err := scheduler.At(s.name, s.clock, s.run)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}
