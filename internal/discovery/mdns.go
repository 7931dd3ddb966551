// ABOUTME: mDNS discovery of the analysis stream server
// ABOUTME: Browses _nowplaying._tcp when no server address is configured
package discovery

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/mdns"
)

// ServiceType is the mDNS service the analysis backend advertises
const ServiceType = "_nowplaying._tcp"

// ErrNotFound is returned when no server answered before the timeout
var ErrNotFound = errors.New("no analysis server found")

// query is swapped out in tests
var query = mdns.Query

// Config holds discovery configuration
type Config struct {
	Service string
	Timeout time.Duration // per query round
}

// ServerInfo describes a discovered server
type ServerInfo struct {
	Name string
	Host string
	Port int
	Path string
}

// URL returns the WebSocket URL of the server
func (s *ServerInfo) URL() string {
	path := s.Path
	if path == "" {
		path = "/"
	}
	return "ws://" + net.JoinHostPort(s.Host, strconv.Itoa(s.Port)) + path
}

// Manager browses for analysis servers
type Manager struct {
	config  Config
	ctx     context.Context
	cancel  context.CancelFunc
	servers chan *ServerInfo
	query   func(*mdns.QueryParam) error
}

// NewManager creates a discovery manager
func NewManager(config Config) *Manager {
	if config.Service == "" {
		config.Service = ServiceType
	}
	if config.Timeout <= 0 {
		config.Timeout = 3 * time.Second
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		config:  config,
		ctx:     ctx,
		cancel:  cancel,
		servers: make(chan *ServerInfo, 10),
		query:   query,
	}
}

// Browse starts continuous discovery; results arrive on Servers()
func (m *Manager) Browse() {
	go m.browseLoop()
}

func (m *Manager) browseLoop() {
	for {
		select {
		case <-m.ctx.Done():
			return
		default:
		}

		if err := m.queryOnce(m.ctx, m.servers); err != nil {
			log.Printf("mDNS query failed: %v", err)
			select {
			case <-time.After(m.config.Timeout):
			case <-m.ctx.Done():
				return
			}
		}
	}
}

// queryOnce runs a single query round, forwarding entries to out
func (m *Manager) queryOnce(ctx context.Context, out chan<- *ServerInfo) error {
	entries := make(chan *mdns.ServiceEntry, 10)
	forwarded := make(chan struct{})

	go func() {
		defer close(forwarded)
		for entry := range entries {
			server, ok := toServerInfo(entry)
			if !ok {
				continue
			}
			log.Printf("Discovered server: %s at %s", server.Name, server.URL())
			select {
			case out <- server:
			case <-ctx.Done():
			}
		}
	}()

	params := mdns.DefaultParams(m.config.Service)
	params.Timeout = m.config.Timeout
	params.Entries = entries
	params.DisableIPv6 = true

	err := m.query(params)
	close(entries)
	<-forwarded
	return err
}

// Discover returns the first server found within the timeout
func (m *Manager) Discover(ctx context.Context) (*ServerInfo, error) {
	ctx, cancel := context.WithTimeout(ctx, m.config.Timeout)
	defer cancel()

	found := make(chan *ServerInfo, 10)
	errCh := make(chan error, 1)
	go func() { errCh <- m.queryOnce(ctx, found) }()

	select {
	case server := <-found:
		return server, nil
	case err := <-errCh:
		// The round may finish right after delivering its entries
		select {
		case server := <-found:
			return server, nil
		default:
		}
		if err != nil {
			return nil, fmt.Errorf("mdns query failed: %w", err)
		}
		return nil, ErrNotFound
	case <-ctx.Done():
		return nil, ErrNotFound
	}
}

// Servers returns the channel of discovered servers
func (m *Manager) Servers() <-chan *ServerInfo {
	return m.servers
}

// Stop stops browsing
func (m *Manager) Stop() {
	m.cancel()
}

func toServerInfo(entry *mdns.ServiceEntry) (*ServerInfo, bool) {
	if entry == nil || entry.Port == 0 {
		return nil, false
	}

	var host string
	switch {
	case entry.AddrV4 != nil:
		host = entry.AddrV4.String()
	case entry.AddrV6 != nil:
		host = entry.AddrV6.String()
	case entry.Host != "":
		host = strings.TrimSuffix(entry.Host, ".")
	default:
		return nil, false
	}

	server := &ServerInfo{
		Name: entry.Name,
		Host: host,
		Port: entry.Port,
	}
	for _, field := range entry.InfoFields {
		if v, ok := strings.CutPrefix(field, "path="); ok {
			server.Path = v
		}
	}
	return server, true
}
