package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/go-i2p/kovri/internal/cmd/router"
	"github.com/go-i2p/kovri/internal/config"
)

// RouterInjector builds a fully wired Router plus its cleanup.
type RouterInjector func() (*router.Router, func(), error)

// NewRouterCommand constructs the "router" subcommand: run the full
// router (netDb, tunnels, garlic, control endpoints).
func NewRouterCommand(conf *config.Config, newRouter RouterInjector) (*cobra.Command, error) {
	cmd := &cobra.Command{
		Use:     "router",
		Short:   "Run the I2P router: netDb, tunnels, garlic routing, and control endpoints",
		Example: "kovri router --data-dir=/var/lib/kovri --floodfill",
		RunE: func(cmd *cobra.Command, _ []string) error {
			r, cleanup, err := newRouter()
			if err != nil {
				return fmt.Errorf("failed to initialize router: %w", err)
			}
			defer cleanup()

			return r.Run(cmd.Context(), router.ConfigFrom(conf))
		},
	}

	if err := conf.BindFlags(cmd.Flags(), config.RouterOptions); err != nil {
		return nil, err
	}
	if err := conf.BindFlags(cmd.Flags(), config.TunnelOptions); err != nil {
		return nil, err
	}

	return cmd, nil
}
