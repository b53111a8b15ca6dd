// Package metrics declares the router's Prometheus instruments. They
// register on the default registry and are scraped through the
// /metrics endpoint the control handler mounts.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// TunnelsBuilt counts successfully established tunnels.
	TunnelsBuilt = promauto.NewCounter(prometheus.CounterOpts{
		Name: "kovri_tunnels_built_total",
		Help: "Tunnels that completed their build and reached the established state.",
	})

	// TunnelBuildFailures counts rejected or timed-out builds.
	TunnelBuildFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "kovri_tunnel_build_failures_total",
		Help: "Tunnel builds that were rejected by a hop or timed out.",
	})

	// TunnelTestsPassed counts completed out→in liveness echoes.
	TunnelTestsPassed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "kovri_tunnel_tests_passed_total",
		Help: "Tunnel test DeliveryStatus echoes that returned in time.",
	})

	// TransitTunnels gauges the current participating-tunnel count.
	TransitTunnels = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "kovri_transit_tunnels",
		Help: "Tunnels this router currently participates in as a hop.",
	})

	// KnownRouters gauges the netDb RouterInfo count.
	KnownRouters = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "kovri_netdb_known_routers",
		Help: "RouterInfos currently held in the netDb.",
	})

	// KnownLeaseSets gauges the netDb LeaseSet count.
	KnownLeaseSets = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "kovri_netdb_known_leasesets",
		Help: "LeaseSets currently held in the netDb.",
	})

	// LookupDuration observes how long netDb lookups take to resolve,
	// successfully or not.
	LookupDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "kovri_netdb_lookup_duration_seconds",
		Help:    "Time from create_request to completion callback.",
		Buckets: prometheus.ExponentialBuckets(0.25, 2, 10),
	})

	// GarlicTagsActive gauges live outgoing session tags across all
	// garlic sessions.
	GarlicTagsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "kovri_garlic_tags_active",
		Help: "Confirmed, unexpired outgoing session tags.",
	})
)
