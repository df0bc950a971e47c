package netproto_test

import (
	"testing"

	"github.com/hengestone/chirp/netproto"
)

func TestParse(t *testing.T) {
	cases := map[string]netproto.NetworkProtocol{
		"tcp":      netproto.NetworkTCP,
		" tcp ":    netproto.NetworkTCP,
		"TCP4":     netproto.NetworkTCP4,
		"tcp6":     netproto.NetworkTCP6,
		"udp":      netproto.NetworkUDP,
		"udp4":     netproto.NetworkUDP4,
		"udp6":     netproto.NetworkUDP6,
		"unix":     netproto.NetworkUnix,
		"unixgram": netproto.NetworkUnixGram,
		"ip":       netproto.NetworkIP,
		"ip4":      netproto.NetworkIP4,
		"ip6":      netproto.NetworkIP6,
		"invalid":  netproto.NetworkEmpty,
		"":         netproto.NetworkEmpty,
	}
	for in, want := range cases {
		if got := netproto.Parse(in); got != want {
			t.Errorf("Parse(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestString(t *testing.T) {
	cases := map[netproto.NetworkProtocol]string{
		netproto.NetworkTCP:      "tcp",
		netproto.NetworkTCP4:     "tcp4",
		netproto.NetworkTCP6:     "tcp6",
		netproto.NetworkUDP:      "udp",
		netproto.NetworkUDP4:     "udp4",
		netproto.NetworkUDP6:     "udp6",
		netproto.NetworkUnix:     "unix",
		netproto.NetworkUnixGram: "unixgram",
		netproto.NetworkIP:       "ip",
		netproto.NetworkIP4:      "ip4",
		netproto.NetworkIP6:      "ip6",
		netproto.NetworkEmpty:    "",
		netproto.NetworkProtocol(255): "",
	}
	for in, want := range cases {
		if got := in.String(); got != want {
			t.Errorf("%v.String() = %q, want %q", in, got, want)
		}
	}
}

func TestIsTCP(t *testing.T) {
	if !netproto.NetworkTCP4.IsTCP() {
		t.Fatal("tcp4 should be a TCP family")
	}
	if netproto.NetworkUDP.IsTCP() {
		t.Fatal("udp should not be a TCP family")
	}
}
