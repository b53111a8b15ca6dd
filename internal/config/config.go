package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config wraps a viper instance and provides typed accessors for every
// configuration key. Create one via New().
type Config struct {
	v *viper.Viper
}

// New initialises a Config by loading values from environment
// variables, the config file, and compiled defaults (in that priority
// order; CLI flags, bound later via BindFlags, take highest priority).
func New() (*Config, error) {
	v := viper.New()

	// Register compiled defaults for all known options.
	for _, o := range RouterOptions {
		v.SetDefault(o.Key, o.Default)
	}
	for _, o := range TunnelOptions {
		v.SetDefault(o.Key, o.Default)
	}

	// Attempt to load a config file from the current directory or
	// the system-wide location.
	v.SetConfigName("kovri")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/kovri/")

	if err := v.ReadInConfig(); err != nil {
		var notFoundErr viper.ConfigFileNotFoundError
		if !(errors.As(err, &notFoundErr) || errors.Is(err, os.ErrNotExist)) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// Environment variables are prefixed with KOVRI_ and use
	// underscores in place of dots (e.g. KOVRI_ROUTER_DATA_DIR).
	v.SetEnvPrefix("KOVRI")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	return &Config{v: v}, nil
}

// BindFlags registers CLI flags for the given option slice and binds
// them to the underlying viper keys so that flag values override file
// and environment sources.
func (c *Config) BindFlags(fs *pflag.FlagSet, options []Option) error {
	for _, o := range options {
		switch v := o.Default.(type) {
		case string:
			fs.String(o.Flag, v, o.Description)
		case int:
			fs.Int(o.Flag, v, o.Description)
		case bool:
			fs.Bool(o.Flag, v, o.Description)
		case []string:
			fs.StringSlice(o.Flag, v, o.Description)
		case time.Duration:
			fs.Duration(o.Flag, v, o.Description)
		default:
			return fmt.Errorf("unsupported flag type for key: %s", o.Key)
		}

		if err := c.v.BindPFlag(o.Key, fs.Lookup(o.Flag)); err != nil {
			return fmt.Errorf("failed to bind flag %s: %w", o.Flag, err)
		}
	}

	return nil
}

// ---------------------------------------------------------------------------
// Router accessors
// ---------------------------------------------------------------------------

// DataDir returns the router's data directory.
func (c *Config) DataDir() string {
	return c.v.GetString(keyRouterDataDir)
}

// Host returns the advertised transport host.
func (c *Config) Host() string {
	return c.v.GetString(keyRouterHost)
}

// Port returns the advertised transport port.
func (c *Config) Port() int {
	return c.v.GetInt(keyRouterPort)
}

// Floodfill reports whether the router advertises the F capability.
func (c *Config) Floodfill() bool {
	return c.v.GetBool(keyRouterFloodfill)
}

// Bandwidth returns the configured bandwidth tier letter (L/O/P/X).
func (c *Config) Bandwidth() string {
	return c.v.GetString(keyRouterBandwidth)
}

// BandwidthKBps maps the configured tier letter to a representative
// share bandwidth for capability derivation.
func (c *Config) BandwidthKBps() int {
	switch c.Bandwidth() {
	case "O":
		return 128
	case "P":
		return 256
	case "X":
		return 2048
	default:
		return 32
	}
}

// V6 reports whether v6 addresses are enabled in the own RouterInfo.
func (c *Config) V6() bool {
	return c.v.GetBool(keyRouterV6)
}

// ReseedFrom returns the reseed source path or URL, empty if unset.
func (c *Config) ReseedFrom() string {
	return c.v.GetString(keyRouterReseedFrom)
}

// ReseedSkipSSLCheck reports whether reseed fetches skip TLS
// verification.
func (c *Config) ReseedSkipSSLCheck() bool {
	return c.v.GetBool(keyRouterReseedSkipSSLCheck)
}

// SignerCertsDir returns the reseed signer certificate directory.
func (c *Config) SignerCertsDir() string {
	return c.v.GetString(keyRouterSignerCertsDir)
}

// ControlAddress returns the health/metrics HTTP listen address.
func (c *Config) ControlAddress() string {
	return c.v.GetString(keyRouterControlAddress)
}

// LogFormat returns "text" or "json".
func (c *Config) LogFormat() string {
	return c.v.GetString(keyRouterLogFormat)
}

// LogLevel returns the configured slog level name.
func (c *Config) LogLevel() string {
	return c.v.GetString(keyRouterLogLevel)
}

// NetID returns the I2P network id.
func (c *Config) NetID() int {
	return c.v.GetInt(keyRouterNetID)
}

// ---------------------------------------------------------------------------
// Tunnel accessors
// ---------------------------------------------------------------------------

// TunnelInboundHops returns the exploratory inbound tunnel length.
func (c *Config) TunnelInboundHops() int {
	return c.v.GetInt(keyTunnelInboundHops)
}

// TunnelOutboundHops returns the exploratory outbound tunnel length.
func (c *Config) TunnelOutboundHops() int {
	return c.v.GetInt(keyTunnelOutboundHops)
}

// TunnelInboundCount returns the exploratory inbound tunnel target.
func (c *Config) TunnelInboundCount() int {
	return c.v.GetInt(keyTunnelInboundCount)
}

// TunnelOutboundCount returns the exploratory outbound tunnel target.
func (c *Config) TunnelOutboundCount() int {
	return c.v.GetInt(keyTunnelOutboundCount)
}
