// Package announce makes the device discoverable over mDNS during the
// awake window. The service disappears again when the device sleeps.
package announce

import (
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/enbility/zeroconf/v3"

	"github.com/pulsar-metering/pulsar-go/pkg/settings"
)

const (
	// ServiceType is the advertised mDNS service type.
	ServiceType = "_pulsar._tcp"

	// Domain is the mDNS domain.
	Domain = "local."

	// DefaultPort is advertised when no port is configured. The device
	// has no inbound listener while sleeping; the announcement exists
	// for humans finding the device on their network.
	DefaultPort = 80
)

// Config configures the responder.
type Config struct {
	// Interface restricts advertising to one network interface. Empty
	// means all interfaces.
	Interface string

	// TTL is the DNS record TTL. Default 120 seconds.
	TTL time.Duration

	// Port is the advertised port.
	Port int
}

// DefaultConfig returns the default responder configuration.
func DefaultConfig() Config {
	return Config{
		TTL:  120 * time.Second,
		Port: DefaultPort,
	}
}

// Responder advertises the device for the duration of one awake window.
type Responder struct {
	config Config

	mu     sync.Mutex
	server *zeroconf.Server
}

// NewResponder creates a responder.
func NewResponder(config Config) *Responder {
	if config.TTL == 0 {
		config.TTL = DefaultConfig().TTL
	}
	if config.Port == 0 {
		config.Port = DefaultConfig().Port
	}
	return &Responder{config: config}
}

// Start registers the service and returns a stop function shutting it
// down. A second Start replaces the previous registration.
func (r *Responder) Start(instance string, sett *settings.Settings) (func(), error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.server != nil {
		r.server.Shutdown()
		r.server = nil
	}

	var opts []zeroconf.ServerOption
	if r.config.TTL > 0 {
		opts = append(opts, zeroconf.TTL(uint32(r.config.TTL.Seconds())))
	}

	server, err := zeroconf.Register(
		instance,
		ServiceType,
		Domain,
		r.config.Port,
		txtRecords(sett),
		r.interfaces(),
		opts...,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to register mdns service: %w", err)
	}

	r.server = server
	return r.stop, nil
}

func (r *Responder) stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.server != nil {
		r.server.Shutdown()
		r.server = nil
	}
}

// interfaces returns the interfaces to advertise on, nil meaning all.
func (r *Responder) interfaces() []net.Interface {
	if r.config.Interface == "" {
		return nil
	}
	iface, err := net.InterfaceByName(r.config.Interface)
	if err != nil {
		return nil
	}
	return []net.Interface{*iface}
}

// txtRecords describes the device for browsers on the local network.
func txtRecords(sett *settings.Settings) []string {
	txt := []string{
		"vendor=pulsar",
		fmt.Sprintf("period=%d", sett.WakePeriodMin),
		fmt.Sprintf("cname0=%s", sett.CounterName0),
		fmt.Sprintf("cname1=%s", sett.CounterName1),
	}
	if sett.Serial0 != "" {
		txt = append(txt, "serial0="+sett.Serial0)
	}
	if sett.Serial1 != "" {
		txt = append(txt, "serial1="+sett.Serial1)
	}
	if sett.Place != "" {
		txt = append(txt, "place="+sett.Place)
	}
	return txt
}
