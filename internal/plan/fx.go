package plan

import (
	"github.com/fastingvibe/api/internal/plan/repository"
	"github.com/fastingvibe/api/internal/plan/service"

	"go.uber.org/fx"
)

var Module = fx.Module("plan.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
)
