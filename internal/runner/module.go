package runner

import (
	"context"
	"kis_trader/internal/modules/config"
	health "kis_trader/internal/modules/health/service"
	kis "kis_trader/internal/modules/kis_client/service"
	ws "kis_trader/internal/modules/kis_websocket/service"
	notify "kis_trader/internal/modules/notify/service"
	storage "kis_trader/internal/modules/storage/service"
	"kis_trader/internal/runner/candidates"
	"kis_trader/internal/runner/execution"
	"kis_trader/internal/runner/exit"
	"kis_trader/internal/runner/scheduler"
	"kis_trader/internal/runner/sessions"
	"kis_trader/pkg/calendar"
	"kis_trader/pkg/logger"
	"sync"

	"go.uber.org/fx"
)

func NewCalendar(cfg *config.Config) (*calendar.Calendar, error) {
	return calendar.New(cfg.Location(), cfg.Trading.Holidays)
}

func Module() fx.Option {
	return fx.Module("runner",
		fx.Provide(
			NewCalendar,
			func(cfg *config.Config, broker *kis.Client) *execution.Loop {
				return execution.NewLoop(cfg, broker)
			},
			func(
				cfg *config.Config,
				feed *ws.Client,
				loop *execution.Loop,
				store storage.SessionStore,
				alerts notify.Sink,
			) (*exit.Coordinator, error) {
				return exit.NewCoordinator(cfg, feed, loop, store, alerts)
			},
			func(
				cfg *config.Config,
				broker *kis.Client,
				loop *execution.Loop,
				store storage.SessionStore,
				stocks storage.StockStore,
				alerts notify.Sink,
				cal *calendar.Calendar,
			) *sessions.Manager {
				return sessions.NewManager(cfg, broker, loop, store, stocks, alerts, cal)
			},
			func(
				cfg *config.Config,
				broker *kis.Client,
				stocks storage.StockStore,
				alerts notify.Sink,
				cal *calendar.Calendar,
			) *candidates.Selector {
				return candidates.NewSelector(cfg, broker, stocks, alerts, cal)
			},
			func(
				cfg *config.Config,
				cal *calendar.Calendar,
				store storage.SessionStore,
				feed *ws.Client,
				coord *exit.Coordinator,
				state *health.State,
			) *Runner {
				return New(cfg, cal, store, feed, coord, state)
			},
		),
		fx.Invoke(func(
			lc fx.Lifecycle,
			cfg *config.Config,
			cal *calendar.Calendar,
			r *Runner,
			sel *candidates.Selector,
			mgr *sessions.Manager,
			state *health.State,
		) error {
			jobs, err := r.Jobs(cfg, sel, mgr)
			if err != nil {
				return err
			}
			sched := scheduler.New(cal, jobs...)

			ctx, cancel := context.WithCancel(context.Background())
			var wg sync.WaitGroup
			lc.Append(fx.Hook{
				OnStart: func(context.Context) error {
					wg.Add(2)
					go func() {
						defer wg.Done()
						r.SyncLoop(ctx)
					}()
					go func() {
						defer wg.Done()
						if err := sched.Run(ctx); err != nil {
							logger.Error("[RUNNER] scheduler: %v", err)
						}
					}()
					state.SetReady(true)
					logger.Info("[RUNNER] started with %d jobs", len(jobs))
					return nil
				},
				OnStop: func(stopCtx context.Context) error {
					state.SetReady(false)
					cancel()
					done := make(chan struct{})
					go func() {
						wg.Wait()
						close(done)
					}()
					select {
					case <-done:
					case <-stopCtx.Done():
					}
					return nil
				},
			})
			return nil
		}),
	)
}
