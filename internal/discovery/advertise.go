// ABOUTME: mDNS advertisement of an analysis stream server
// ABOUTME: Used by the development stream server so clients can discover it
package discovery

import (
	"fmt"
	"log"
	"net"

	"github.com/hashicorp/mdns"
)

// Advertiser publishes a _nowplaying._tcp service until Shutdown
type Advertiser struct {
	server *mdns.Server
}

// Advertise announces name on port with the given stream path
func Advertise(name string, port int, path string) (*Advertiser, error) {
	ips, err := localIPs()
	if err != nil {
		return nil, fmt.Errorf("failed to get local IPs: %w", err)
	}

	service, err := mdns.NewMDNSService(name, ServiceType, "", "", port, ips, []string{"path=" + path})
	if err != nil {
		return nil, fmt.Errorf("failed to create service: %w", err)
	}

	server, err := mdns.NewServer(&mdns.Config{Zone: service})
	if err != nil {
		return nil, fmt.Errorf("failed to create mdns server: %w", err)
	}

	log.Printf("Advertising mDNS service: %s on port %d (type: %s)", name, port, ServiceType)
	return &Advertiser{server: server}, nil
}

// Shutdown stops answering queries
func (a *Advertiser) Shutdown() error {
	return a.server.Shutdown()
}

// localIPs returns the non-loopback IPv4 addresses of interfaces that are up
func localIPs() ([]net.IP, error) {
	var ips []net.IP

	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, err
	}

	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}

		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}

		for _, addr := range addrs {
			if ipnet, ok := addr.(*net.IPNet); ok && !ipnet.IP.IsLoopback() && ipnet.IP.To4() != nil {
				ips = append(ips, ipnet.IP)
			}
		}
	}

	return ips, nil
}
