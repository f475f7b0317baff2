package pushcfg

import (
	"log/slog"

	"github.com/pulsar-metering/pulsar-go/pkg/settings"
)

// Channel opens the push-update session for a cycle: connect, publish
// the data document, announce discovery, subscribe for commands.
type Channel struct {
	// DeviceID identifies this device in discovery configs.
	DeviceID string

	// Logger may be nil.
	Logger *slog.Logger
}

// Open starts a session. The returned stop function releases it. A
// discovery publish failure is logged but does not fail the session;
// the data publish and the subscription are mandatory.
func (c *Channel) Open(sett *settings.Settings, updater *Updater, data map[string]any) (stop func(), err error) {
	s, err := Connect(sett, updater, c.Logger)
	if err != nil {
		return nil, err
	}
	if err := s.PublishData(data); err != nil {
		s.Close()
		return nil, err
	}
	if err := s.PublishDiscovery(sett, c.DeviceID); err != nil && c.Logger != nil {
		c.Logger.Warn("discovery publish failed", "error", err)
	}
	if err := s.Subscribe(data); err != nil {
		s.Close()
		return nil, err
	}
	return s.Close, nil
}
