// Package discovery announces the engine's RPC endpoint over
// mDNS/DNS-SD, so an operator UI on the same network can find a
// running engine without being told its host and port.
package discovery

import (
	"context"
	"fmt"

	"github.com/brutella/dnssd"
	"github.com/charmbracelet/log"
)

// ServiceType is the DNS-SD service type the engine's RPC port is
// advertised under.
const ServiceType = "_dpdce-rpc._udp"

// Announcer advertises the engine's RPC service and can be stopped to
// withdraw the announcement.
type Announcer struct {
	responder dnssd.Responder
	cancel    context.CancelFunc
}

// Announce registers name (falling back to the host name if empty) as
// a DNS-SD responder on port, and starts responding in the background.
// Logging goes through logger rather than a package-level global.
func Announce(ctx context.Context, logger *log.Logger, name string, port int) (*Announcer, error) {
	cfg := dnssd.Config{
		Name: name,
		Type: ServiceType,
		Port: port,
	}

	service, err := dnssd.NewService(cfg)
	if err != nil {
		return nil, fmt.Errorf("discovery: build service: %w", err)
	}

	responder, err := dnssd.NewResponder()
	if err != nil {
		return nil, fmt.Errorf("discovery: new responder: %w", err)
	}

	if _, err := responder.Add(service); err != nil {
		return nil, fmt.Errorf("discovery: add service: %w", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	go func() {
		if err := responder.Respond(runCtx); err != nil && runCtx.Err() == nil {
			logger.Error("dns-sd responder stopped", "err", err)
		}
	}()

	logger.Info("announcing dpdce rpc over dns-sd", "name", name, "port", port)
	return &Announcer{responder: responder, cancel: cancel}, nil
}

// Stop withdraws the announcement.
func (a *Announcer) Stop() {
	if a.cancel != nil {
		a.cancel()
	}
}
