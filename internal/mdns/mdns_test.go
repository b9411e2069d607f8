package mdns

import (
	"net"
	"testing"

	"github.com/grandcat/zeroconf"
)

func TestFromEntry(t *testing.T) {
	e := zeroconf.NewServiceEntry(`rtl_tcp\ on\ shack`, RTLTCPService, "local.")
	e.HostName = "shack.local."
	e.Port = 1234
	e.AddrIPv6 = []net.IP{net.ParseIP("fe80::1")}
	e.AddrIPv4 = []net.IP{net.ParseIP("192.168.1.20")}
	e.Text = []string{"tuner=R820T", "serial=00000001"}

	h := fromEntry(e)
	if h.Instance != "rtl_tcp on shack" {
		t.Fatalf("instance not cleaned: %q", h.Instance)
	}
	if h.Addr() != "192.168.1.20:1234" {
		t.Fatalf("expected IPv4 address, got %q", h.Addr())
	}
	if v, ok := h.Property("serial"); !ok || v != "00000001" {
		t.Fatalf("serial property %q %v", v, ok)
	}
	if _, ok := h.Property("gain"); ok {
		t.Fatal("unexpected property")
	}
	e.Text[0] = "changed"
	if h.TXT[0] != "tuner=R820T" {
		t.Fatal("TXT records alias the entry")
	}
}

func TestAddrFallbacks(t *testing.T) {
	h := Host{Hostname: "shack.local.", Port: 1234}
	if h.Addr() != "shack.local:1234" {
		t.Fatalf("hostname fallback %q", h.Addr())
	}
	h = Host{Addresses: []net.IP{net.ParseIP("fe80::1")}, Port: 1234}
	if h.Addr() != "[fe80::1]:1234" {
		t.Fatalf("IPv6 fallback %q", h.Addr())
	}
}
