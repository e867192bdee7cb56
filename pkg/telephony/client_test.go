package telephony

import (
	"testing"

	"github.com/qns-project/qns-core/pkg"
)

func TestParseAccessNetwork(t *testing.T) {
	cases := map[string]pkg.AccessNetworkKind{
		"EUTRAN":  pkg.AccessNetworkEUTRAN,
		"eutran":  pkg.AccessNetworkEUTRAN,
		"IWLAN":   pkg.AccessNetworkIWLAN,
		"NGRAN":   pkg.AccessNetworkNGRAN,
		"UTRAN":   pkg.AccessNetworkUTRAN,
		"GERAN":   pkg.AccessNetworkGERAN,
		"bogus":   pkg.AccessNetworkUnknown,
		"":        pkg.AccessNetworkUnknown,
	}
	for in, want := range cases {
		if got := parseAccessNetwork(in); got != want {
			t.Errorf("parseAccessNetwork(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestParseRoamingType(t *testing.T) {
	cases := map[string]pkg.RoamingType{
		"DOMESTIC":      pkg.RoamingDomestic,
		"INTERNATIONAL": pkg.RoamingInternational,
		"":              pkg.RoamingNone,
		"bogus":         pkg.RoamingNone,
	}
	for in, want := range cases {
		if got := parseRoamingType(in); got != want {
			t.Errorf("parseRoamingType(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestDefaultClientUsesLoopback(t *testing.T) {
	c := DefaultClient(nil)
	if c.host != "127.0.0.1" {
		t.Fatalf("expected loopback host, got %q", c.host)
	}
	if c.port != 9400 {
		t.Fatalf("expected default port 9400, got %d", c.port)
	}
}
