// Package discovery advertises relay servers on the local network over mDNS
// and finds them again from the client side.
package discovery

import (
	"context"
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/charmbracelet/log"
	"github.com/hashicorp/mdns"
)

const ServiceType = "_pageboard._tcp"

// Server is a relay found on the network.
type Server struct {
	Name string
	Addr string
}

// WebsocketURL is the sync endpoint of s.
func (s Server) WebsocketURL() string {
	return "ws://" + s.Addr + "/ws"
}

// Advertise announces a relay listening on port until the returned server is
// shut down.
func Advertise(port int) (*mdns.Server, error) {
	host, err := os.Hostname()
	if err != nil {
		return nil, fmt.Errorf("could not get hostname: %w", err)
	}

	service, err := mdns.NewMDNSService(host, ServiceType, "", "", port, nil, []string{"pageboard"})
	if err != nil {
		return nil, fmt.Errorf("failed to create mDNS service: %w", err)
	}

	server, err := mdns.NewServer(&mdns.Config{Zone: service})
	if err != nil {
		return nil, fmt.Errorf("failed to start mDNS server: %w", err)
	}

	log.Info("Advertising relay", "service", ServiceType, "host", host, "port", port)
	return server, nil
}

// Browse collects relays that answer within timeout.
func Browse(ctx context.Context, timeout time.Duration) ([]Server, error) {
	entries := make(chan *mdns.ServiceEntry, 16)
	found := make(chan []Server, 1)

	go func() {
		seen := make(map[string]struct{})
		var servers []Server
		for e := range entries {
			server, ok := serverOf(e)
			if !ok {
				continue
			}
			if _, dup := seen[server.Addr]; dup {
				continue
			}
			seen[server.Addr] = struct{}{}
			servers = append(servers, server)
		}
		found <- servers
	}()

	params := mdns.DefaultParams(ServiceType)
	params.Entries = entries
	params.Timeout = timeout
	params.DisableIPv6 = true

	err := mdns.QueryContext(ctx, params)
	close(entries)
	servers := <-found
	if err != nil {
		return servers, fmt.Errorf("mDNS query: %w", err)
	}
	return servers, nil
}

func serverOf(e *mdns.ServiceEntry) (Server, bool) {
	if e == nil || e.Port == 0 {
		return Server{}, false
	}

	var ip net.IP
	switch {
	case e.AddrV4 != nil:
		ip = e.AddrV4
	case e.AddrV6 != nil:
		ip = e.AddrV6
	default:
		return Server{}, false
	}

	return Server{
		Name: e.Name,
		Addr: net.JoinHostPort(ip.String(), strconv.Itoa(e.Port)),
	}, true
}
