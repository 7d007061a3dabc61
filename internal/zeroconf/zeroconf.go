// Package zeroconf advertises the acquisition API as an mDNS/DNS-SD service
// so clients on the LAN can find probes without knowing their address.
package zeroconf

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/grandcat/zeroconf"

	"github.com/ubertone/peacock-go/internal/identity"
)

// ServiceType is the DNS-SD type under which the API is published.
const ServiceType = "_peacock._tcp"

// Service manages mDNS service registration.
type Service struct {
	name string // instance name, e.g. the hostname
	port int
	txt  []string
}

// New creates a service advertising the API on port for the host and probe
// described by info.
func New(name string, port int, info identity.Info) *Service {
	return &Service{name: name, port: port, txt: TXT(info)}
}

// TXT returns the records published alongside the service.
func TXT(info identity.Info) []string {
	p := info.Probe
	return []string{
		"version=" + info.Version,
		"model=" + p.Model.String(),
		fmt.Sprintf("serial=%d", p.Serial),
		fmt.Sprintf("firmware=%d/%d", p.FirmwareC, p.FirmwareVHDL),
		"path=/api",
	}
}

// Start registers the mDNS service and blocks until ctx is cancelled, at which
// point it shuts down the server cleanly.
func (s *Service) Start(ctx context.Context) error {
	server, err := zeroconf.Register(
		s.name,      // instance name
		ServiceType, // service type
		"local.",    // domain
		s.port,      // port
		s.txt,       // TXT records
		nil,         // ifaces, nil means all interfaces
	)
	if err != nil {
		return fmt.Errorf("zeroconf: register: %w", err)
	}
	slog.Info("zeroconf: registered mDNS service",
		"name", s.name,
		"type", ServiceType,
		"port", s.port,
		"txt", s.txt,
	)

	<-ctx.Done()

	server.Shutdown()
	slog.Info("zeroconf: mDNS service unregistered")
	return nil
}
