// Package config provides unified configuration loading from files,
// environment variables, and CLI flags using viper and pflag.
//
// Resolution order (highest wins):
//  1. CLI flags
//  2. Environment variables (prefix KOVRI_)
//  3. Config file (kovri.yaml in . or /etc/kovri/)
//  4. Compiled defaults
package config

// Viper keys for router-mode configuration.
const (
	keyRouterDataDir            = "router.data_dir"
	keyRouterHost               = "router.host"
	keyRouterPort               = "router.port"
	keyRouterFloodfill          = "router.floodfill"
	keyRouterBandwidth          = "router.bandwidth"
	keyRouterV6                 = "router.v6"
	keyRouterReseedFrom         = "router.reseed.from"
	keyRouterReseedSkipSSLCheck = "router.reseed.skip_ssl_check"
	keyRouterSignerCertsDir     = "router.reseed.signer_certs_dir"
	keyRouterControlAddress     = "router.control_address"
	keyRouterLogFormat          = "router.log_format"
	keyRouterLogLevel           = "router.log_level"
	keyRouterNetID              = "router.net_id"
)

// Viper keys for the router's exploratory tunnel pool.
const (
	keyTunnelInboundHops   = "tunnel.inbound_hops"
	keyTunnelOutboundHops  = "tunnel.outbound_hops"
	keyTunnelInboundCount  = "tunnel.inbound_count"
	keyTunnelOutboundCount = "tunnel.outbound_count"
)
