package mdns

import (
	"context"
	"fmt"
	"net"
	"sort"
	"strconv"
	"strings"

	"github.com/grandcat/zeroconf"
)

// RTLTCPService is the service type advertised by networked rtl_tcp servers.
const RTLTCPService = "_rtl_tcp._tcp"

// Host represents a discovered rtl_tcp server.
type Host struct {
	Instance  string // Advertised name: "rtl_tcp on shack"
	Hostname  string // DNS hostname: "shack.local."
	Addresses []net.IP
	Port      int
	TXT       []string
}

// Addr returns a dialable host:port, preferring IPv4.
func (h Host) Addr() string {
	host := strings.TrimSuffix(h.Hostname, ".")
	for _, ip := range h.Addresses {
		if ip.To4() != nil {
			host = ip.String()
			break
		}
	}
	if host == "" && len(h.Addresses) > 0 {
		host = h.Addresses[0].String()
	}
	return net.JoinHostPort(host, strconv.Itoa(h.Port))
}

// Property returns the value of a key=value TXT record.
func (h Host) Property(key string) (string, bool) {
	for _, t := range h.TXT {
		k, v, ok := strings.Cut(t, "=")
		if ok && k == key {
			return v, true
		}
	}
	return "", false
}

// Browse performs a blocking mDNS browse for service in the local domain
// until ctx is done. It returns cleaned and deduplicated host entries sorted
// by instance name.
func Browse(ctx context.Context, service string) ([]Host, error) {
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return nil, fmt.Errorf("resolver error: %w", err)
	}

	entries := make(chan *zeroconf.ServiceEntry)
	resultMap := make(map[string]Host)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			select {
			case e, ok := <-entries:
				if !ok {
					return
				}
				if e == nil {
					continue
				}
				h := fromEntry(e)
				resultMap[fmt.Sprintf("%s|%d", h.Hostname, h.Port)] = h
			case <-ctx.Done():
				return
			}
		}
	}()

	if err := resolver.Browse(ctx, service, "local.", entries); err != nil {
		return nil, fmt.Errorf("browse error: %w", err)
	}

	<-done

	out := make([]Host, 0, len(resultMap))
	for _, h := range resultMap {
		out = append(out, h)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Instance < out[j].Instance })
	return out, nil
}

// DiscoverRTLTCP browses for rtl_tcp servers until ctx is done.
func DiscoverRTLTCP(ctx context.Context) ([]Host, error) {
	return Browse(ctx, RTLTCPService)
}

// Advertise announces a local rtl_tcp server. Shut the returned server down
// to withdraw the record.
func Advertise(instance string, port int, txt []string) (*zeroconf.Server, error) {
	srv, err := zeroconf.Register(instance, RTLTCPService, "local.", port, txt, nil)
	if err != nil {
		return nil, fmt.Errorf("register %s: %w", RTLTCPService, err)
	}
	return srv, nil
}

func fromEntry(e *zeroconf.ServiceEntry) Host {
	addrs := make([]net.IP, 0, len(e.AddrIPv4)+len(e.AddrIPv6))
	addrs = append(addrs, e.AddrIPv4...)
	addrs = append(addrs, e.AddrIPv6...)
	return Host{
		Instance:  cleanInstance(e.Instance),
		Hostname:  e.HostName,
		Addresses: addrs,
		Port:      e.Port,
		TXT:       append([]string{}, e.Text...),
	}
}

// cleanInstance removes Zeroconf escape sequences: "\ " => " "
func cleanInstance(s string) string {
	return strings.ReplaceAll(s, `\ `, " ")
}
