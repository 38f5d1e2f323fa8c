package kis_websocket

import (
	"context"
	"kis_trader/internal/modules/config"
	health "kis_trader/internal/modules/health/service"
	kis "kis_trader/internal/modules/kis_client/service"
	"kis_trader/internal/modules/kis_websocket/service"
	notify "kis_trader/internal/modules/notify/service"

	"go.uber.org/fx"
)

// Module runs the KIS real-time feed receiver for the app's lifetime.
func Module() fx.Option {
	return fx.Module("kis_websocket",
		fx.Provide(
			func(cfg *config.Config, rest *kis.Client, alerts notify.Sink, state *health.State) *service.Client {
				return service.NewClient(cfg, rest, alerts, state)
			},
		),
		fx.Invoke(func(lc fx.Lifecycle, c *service.Client) {
			ctx, cancel := context.WithCancel(context.Background())
			done := make(chan struct{})
			lc.Append(fx.Hook{
				OnStart: func(context.Context) error {
					go func() {
						defer close(done)
						c.Run(ctx)
					}()
					return nil
				},
				OnStop: func(stopCtx context.Context) error {
					cancel()
					select {
					case <-done:
					case <-stopCtx.Done():
					}
					return nil
				},
			})
		}),
	)
}
