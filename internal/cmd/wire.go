// Package cmd defines the Cobra subcommands (router, keygen) and
// their Wire provider sets. It bridges configuration, dependency
// injection, and the transport/router layers.
package cmd

import (
	"github.com/google/wire"

	"github.com/go-i2p/kovri/internal/cmd/router"
	"github.com/go-i2p/kovri/internal/transport/ctlstub"
)

// ProviderSet is the Wire provider set for the CLI layer.
var ProviderSet = wire.NewSet(
	router.NewRouter,
	ctlstub.NewHandler,
)
