package kis_client

import (
	"kis_trader/internal/modules/kis_client/service"

	"go.uber.org/fx"
)

// Module provides the KIS REST client.
func Module() fx.Option {
	return fx.Module("kis_client",
		fx.Provide(
			service.NewClient,
		),
	)
}
