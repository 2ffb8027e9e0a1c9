package notification

import (
	"github.com/fastingvibe/api/internal/config"

	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("notification",
	fx.Provide(func(cfg config.Config, log *zap.Logger) Dispatcher {
		return NewDispatcher(cfg.PushRelayURL, log)
	}),
)
