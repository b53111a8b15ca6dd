//go:build wireinject

package main

import (
	"github.com/google/wire"
	"github.com/spf13/cobra"

	"github.com/go-i2p/kovri/internal/cmd"
	"github.com/go-i2p/kovri/internal/cmd/router"
	"github.com/go-i2p/kovri/internal/config"
)

func wireCmd() (*cobra.Command, func(), error) {
	panic(wire.Build(
		newCmd,
		config.ProviderSet,
	))
}

func wireRouter() (*router.Router, func(), error) {
	panic(wire.Build(
		cmd.ProviderSet,
	))
}
