// Package discovery locates simulated payload endpoints on the local network
// via mDNS, so operators do not have to type host and port by hand.
package discovery

import (
	"context"
	"fmt"
	"net"
	"sort"
	"strings"

	"github.com/grandcat/zeroconf"
)

// ServiceName is the mDNS service type advertised by simulated payloads.
const ServiceName = "_rttgcs._tcp"

// Endpoint is one discovered payload service.
type Endpoint struct {
	Instance  string
	Hostname  string
	Addresses []net.IP
	Port      int
}

// Addr returns a dialable host:port for the endpoint, preferring an IPv4
// address over the advertised hostname.
func (e Endpoint) Addr() string {
	for _, ip := range e.Addresses {
		if ip.To4() != nil {
			return fmt.Sprintf("%s:%d", ip, e.Port)
		}
	}

	return fmt.Sprintf("%s:%d", strings.TrimSuffix(e.Hostname, "."), e.Port)
}

// Browse performs a blocking mDNS browse until ctx expires and returns
// deduplicated endpoints sorted by instance name.
func Browse(ctx context.Context) ([]Endpoint, error) {
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return nil, fmt.Errorf("mdns resolver: %w", err)
	}

	entries := make(chan *zeroconf.ServiceEntry)
	found := make(map[string]Endpoint)

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

				addrs := make([]net.IP, 0, len(e.AddrIPv4)+len(e.AddrIPv6))
				addrs = append(addrs, e.AddrIPv4...)
				addrs = append(addrs, e.AddrIPv6...)

				key := fmt.Sprintf("%s|%d", e.HostName, e.Port)
				found[key] = Endpoint{
					Instance:  cleanInstance(e.Instance),
					Hostname:  e.HostName,
					Addresses: addrs,
					Port:      e.Port,
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	if err := resolver.Browse(ctx, ServiceName, "local.", entries); err != nil {
		return nil, fmt.Errorf("mdns browse: %w", err)
	}

	<-done

	out := make([]Endpoint, 0, len(found))
	for _, ep := range found {
		out = append(out, ep)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Instance < out[j].Instance })

	return out, nil
}

// cleanInstance removes zeroconf escape sequences: "\ " => " "
func cleanInstance(s string) string {
	return strings.ReplaceAll(s, `\ `, " ")
}
