package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/tokenwallet/internal/clock"
	"github.com/smallbiznis/tokenwallet/internal/config"
	"github.com/smallbiznis/tokenwallet/internal/migration"
	"github.com/smallbiznis/tokenwallet/internal/observability"
	"github.com/smallbiznis/tokenwallet/internal/seed"
	"github.com/smallbiznis/tokenwallet/internal/server"
	"github.com/smallbiznis/tokenwallet/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		// Core Infrastructure
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		migration.Module,

		// HTTP surface with metering, wallet, settlement and the intent sweeper
		server.Module,
		seed.Module,
	)
	app.Run()
}

func RegisterSnowflake(cfg config.Config) (*snowflake.Node, error) {
	return snowflake.NewNode(cfg.NodeID)
}
