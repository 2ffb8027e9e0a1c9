package main

import (
	"github.com/fastingvibe/api/internal/clock"
	"github.com/fastingvibe/api/internal/config"
	"github.com/fastingvibe/api/internal/migration"
	"github.com/fastingvibe/api/internal/observability"
	"github.com/fastingvibe/api/internal/server"
	"github.com/fastingvibe/api/pkg/db"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		config.Module,
		observability.Module,
		fx.Provide(registerSnowflake),
		db.Module,
		clock.Module,
		migration.Module,
		server.Module,
	)
	app.Run()
}

func registerSnowflake() (*snowflake.Node, error) {
	return snowflake.NewNode(1)
}
