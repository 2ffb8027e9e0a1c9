package entitlement

import (
	"github.com/fastingvibe/api/internal/entitlement/repository"
	"github.com/fastingvibe/api/internal/entitlement/service"

	"go.uber.org/fx"
)

var Module = fx.Module("entitlement.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
)
