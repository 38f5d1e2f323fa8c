package notify

import (
	"context"
	"kis_trader/internal/modules/config"
	"kis_trader/internal/modules/notify/service"
	storage "kis_trader/internal/modules/storage/service"
	"kis_trader/pkg/logger"

	"go.uber.org/fx"
)

// Module provides the alert sink: zap always, Telegram when a token is configured.
func Module() fx.Option {
	return fx.Module("notify",
		fx.Provide(
			func(cfg *config.Config, sessions storage.SessionStore) (service.Sink, *service.Telegram) {
				sinks := service.Multi{service.NewLog()}
				if cfg.Telegram.Token == "" {
					return sinks, nil
				}
				tg, err := service.NewTelegram(cfg.Telegram.Token, cfg.Telegram.ChatID, cfg.Env, sessions)
				if err != nil {
					logger.Error("[NOTIFY] telegram disabled: %v", err)
					return sinks, nil
				}
				return append(sinks, tg), tg
			},
		),
		fx.Invoke(func(lc fx.Lifecycle, tg *service.Telegram) {
			ctx, cancel := context.WithCancel(context.Background())
			lc.Append(fx.Hook{
				OnStart: func(context.Context) error {
					tg.Start(ctx)
					return nil
				},
				OnStop: func(context.Context) error {
					cancel()
					tg.Stop()
					return nil
				},
			})
		}),
	)
}
