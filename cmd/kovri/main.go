// Package main is the entry point for the kovri binary. It supports
// two subcommands:
//
//   - router: runs the full router (netDb, tunnels, garlic routing,
//     control endpoints)
//   - keygen: generates a router identity and writes the private key
//     bundle
//
// Dependencies are assembled via Google Wire; see wire.go.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/go-i2p/kovri/internal/cmd"
	"github.com/go-i2p/kovri/internal/config"
)

// version is injected at build time via -ldflags
// (e.g. -ldflags "-X main.version=v1.2.3").
var version = "devel"

func main() {
	// Cancel on SIGINT (Ctrl+C) or SIGTERM (container runtime).
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		// Cobra is configured with SilenceErrors: true, so we
		// print the error here for consistent formatting.
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run wires all dependencies and executes the root Cobra command.
func run(ctx context.Context) error {
	rootCmd, cleanup, err := wireCmd()
	if err != nil {
		return fmt.Errorf("failed to initialize application: %w", err)
	}
	defer cleanup()

	return rootCmd.ExecuteContext(ctx)
}

// newCmd is a Wire provider that constructs the root Cobra command
// and registers the router and keygen subcommands.
func newCmd(conf *config.Config) (*cobra.Command, error) {
	c := &cobra.Command{
		Use:           "kovri",
		Short:         "Kovri: an I2P router — anonymous, end-to-end encrypted onion routing.",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	routerCmd, err := cmd.NewRouterCommand(conf, wireRouter)
	if err != nil {
		return nil, err
	}

	keygenCmd, err := cmd.NewKeygenCommand(conf)
	if err != nil {
		return nil, err
	}

	c.AddCommand(routerCmd, keygenCmd)

	return c, nil
}
