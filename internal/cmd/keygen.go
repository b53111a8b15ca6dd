package cmd

import (
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/go-i2p/kovri/internal/config"
	"github.com/go-i2p/kovri/internal/identity"
)

// NewKeygenCommand constructs the "keygen" subcommand: mint a fresh
// router identity (EdDSA-Ed25519 signing, ElGamal crypto) and persist
// the private key bundle.
func NewKeygenCommand(conf *config.Config) (*cobra.Command, error) {
	var seed string

	cmd := &cobra.Command{
		Use:     "keygen",
		Short:   "Generate a router identity and write the private key bundle",
		Example: "kovri keygen --data-dir=/var/lib/kovri",
		RunE: func(cmd *cobra.Command, _ []string) error {
			var keys *identity.PrivateKeys
			var err error
			if seed != "" {
				keys, err = identity.GenerateFromSeed(seed)
			} else {
				keys, err = identity.Generate()
			}
			if err != nil {
				return fmt.Errorf("failed to generate identity: %w", err)
			}

			dataDir := conf.DataDir()
			if err := os.MkdirAll(dataDir, 0700); err != nil {
				return fmt.Errorf("failed to create data directory: %w", err)
			}
			path := filepath.Join(dataDir, "router.keys")
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("refusing to overwrite existing %s", path)
			}
			if err := os.WriteFile(path, keys.Bytes(), 0600); err != nil {
				return fmt.Errorf("failed to write key bundle: %w", err)
			}

			hash := keys.Identity.IdentHash()
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\nident: %s\n",
				path, base64.RawURLEncoding.EncodeToString(hash[:]))
			return nil
		},
	}

	cmd.Flags().StringVar(&seed, "seed", "", "Derive the identity deterministically from this seed")

	if err := conf.BindFlags(cmd.Flags(), config.RouterOptions[:1]); err != nil {
		return nil, err
	}

	return cmd, nil
}
