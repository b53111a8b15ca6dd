package config

import (
	"testing"

	"github.com/spf13/pflag"
)

func TestDefaults(t *testing.T) {
	c, err := New()
	if err != nil {
		t.Fatal(err)
	}

	if c.DataDir() == "" {
		t.Fatal("data dir default missing")
	}
	if c.Floodfill() {
		t.Fatal("floodfill must default off")
	}
	if c.Bandwidth() != "L" {
		t.Fatalf("bandwidth default %q, want L", c.Bandwidth())
	}
	if c.ReseedSkipSSLCheck() {
		t.Fatal("reseed TLS verification must default on")
	}
	if c.TunnelInboundHops() <= 0 || c.TunnelOutboundHops() <= 0 {
		t.Fatal("exploratory hop defaults must be positive")
	}
	if c.TunnelInboundCount() <= 0 || c.TunnelOutboundCount() <= 0 {
		t.Fatal("exploratory tunnel count defaults must be positive")
	}
}

func TestBandwidthTierMapping(t *testing.T) {
	c, err := New()
	if err != nil {
		t.Fatal(err)
	}
	cases := map[string]int{"L": 32, "O": 128, "P": 256, "X": 2048}
	for tier, want := range cases {
		c.v.Set(keyRouterBandwidth, tier)
		if got := c.BandwidthKBps(); got != want {
			t.Fatalf("tier %s → %d KB/s, want %d", tier, got, want)
		}
	}
}

func TestBindFlagsOverridesDefaults(t *testing.T) {
	c, err := New()
	if err != nil {
		t.Fatal(err)
	}
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	if err := c.BindFlags(fs, RouterOptions); err != nil {
		t.Fatal(err)
	}
	if err := fs.Parse([]string{"--floodfill=true", "--data-dir=/tmp/kovri-test"}); err != nil {
		t.Fatal(err)
	}
	if !c.Floodfill() {
		t.Fatal("flag did not override floodfill default")
	}
	if c.DataDir() != "/tmp/kovri-test" {
		t.Fatalf("data dir %q, want /tmp/kovri-test", c.DataDir())
	}
}
