package auth

import (
	"github.com/fastingvibe/api/internal/clock"
	"github.com/fastingvibe/api/internal/config"

	"go.uber.org/fx"
)

var Module = fx.Module("auth",
	fx.Provide(func(cfg config.Config, clk clock.Clock) (*Verifier, error) {
		return NewVerifier(cfg.AuthTokenSecret, clk)
	}),
)
