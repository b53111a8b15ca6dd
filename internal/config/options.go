package config

import (
	"strings"
)

// Option describes a single configuration entry: its viper key, the
// corresponding CLI flag name, the compiled default, and a
// human-readable description shown in --help output.
type Option struct {
	Key         string
	Flag        string
	Default     any
	Description string
}

// RouterOptions defines the configuration entries available in router
// mode. Each entry is registered as a viper default and a CLI flag.
// Five of the rows are the options the core observes per the
// protocol (floodfill, bandwidth, v6, reseed-from,
// reseed-skip-ssl-check); the rest are ambient.
var RouterOptions = []Option{
	{Key: keyRouterDataDir, Flag: toFlag(keyRouterDataDir), Default: "kovri-data", Description: "Router data directory (keys, netDb, profiles)"},
	{Key: keyRouterHost, Flag: toFlag(keyRouterHost), Default: "127.0.0.1", Description: "Router advertised host"},
	{Key: keyRouterPort, Flag: toFlag(keyRouterPort), Default: 12345, Description: "Router advertised port"},
	{Key: keyRouterFloodfill, Flag: toFlag(keyRouterFloodfill), Default: false, Description: "Advertise the floodfill capability"},
	{Key: keyRouterBandwidth, Flag: toFlag(keyRouterBandwidth), Default: "L", Description: "Bandwidth capability tier (L/O/P/X)"},
	{Key: keyRouterV6, Flag: toFlag(keyRouterV6), Default: false, Description: "Enable v6 addresses in the router's own RouterInfo"},
	{Key: keyRouterReseedFrom, Flag: toFlag(keyRouterReseedFrom), Default: "", Description: "Reseed source (SU3 file path or https URL)"},
	{Key: keyRouterReseedSkipSSLCheck, Flag: toFlag(keyRouterReseedSkipSSLCheck), Default: false, Description: "Skip TLS verification during reseed"},
	{Key: keyRouterSignerCertsDir, Flag: toFlag(keyRouterSignerCertsDir), Default: "certificates/reseed", Description: "Directory of reseed signer certificates"},
	{Key: keyRouterControlAddress, Flag: toFlag(keyRouterControlAddress), Default: ":7657", Description: "Health and metrics listen address"},
	{Key: keyRouterLogFormat, Flag: toFlag(keyRouterLogFormat), Default: "text", Description: "Log format (text or json)"},
	{Key: keyRouterLogLevel, Flag: toFlag(keyRouterLogLevel), Default: "info", Description: "Log level (debug, info, warn, error)"},
	{Key: keyRouterNetID, Flag: toFlag(keyRouterNetID), Default: 2, Description: "I2P network id"},
}

// TunnelOptions defines the exploratory tunnel pool shape.
var TunnelOptions = []Option{
	{Key: keyTunnelInboundHops, Flag: toFlag(keyTunnelInboundHops), Default: 2, Description: "Exploratory inbound tunnel length"},
	{Key: keyTunnelOutboundHops, Flag: toFlag(keyTunnelOutboundHops), Default: 2, Description: "Exploratory outbound tunnel length"},
	{Key: keyTunnelInboundCount, Flag: toFlag(keyTunnelInboundCount), Default: 3, Description: "Exploratory inbound tunnel target count"},
	{Key: keyTunnelOutboundCount, Flag: toFlag(keyTunnelOutboundCount), Default: 3, Description: "Exploratory outbound tunnel target count"},
}

// toFlag converts a viper key like "router.reseed.skip_ssl_check"
// into a CLI flag like "reseed-skip-ssl-check" by lower-casing,
// replacing dots and underscores with hyphens, and stripping the
// "router-" or "tunnel-" prefix.
func toFlag(key string) string {
	flag := strings.ToLower(key)
	flag = strings.ReplaceAll(flag, ".", "-")
	flag = strings.ReplaceAll(flag, "_", "-")
	flag = strings.TrimPrefix(flag, "router-")
	flag = strings.TrimPrefix(flag, "tunnel-")
	return flag
}
