// Package ntptime keeps the device clock honest. The hardware clock
// drifts and loses time over deep sleep, so scheduled wakes re-sync on
// a long interval and manual wakes always sync.
package ntptime

import (
	"context"
	"log/slog"
	"time"

	"github.com/beevik/ntp"

	"github.com/pulsar-metering/pulsar-go/pkg/meter"
	"github.com/pulsar-metering/pulsar-go/pkg/settings"
)

// DefaultSyncInterval is how old the last successful sync may be before
// a scheduled wake refreshes the clock.
const DefaultSyncInterval = 7 * 24 * time.Hour

// DefaultTimeout bounds one server query.
const DefaultTimeout = 5 * time.Second

// NeedSync reports whether the clock should be refreshed this cycle.
// Manual wakes always sync; scheduled wakes sync when there was never a
// successful sync or the last one is older than the interval.
func NeedSync(sett *settings.Settings, now time.Time, reason meter.WakeReason, interval time.Duration) bool {
	if interval <= 0 {
		interval = DefaultSyncInterval
	}
	if reason == meter.WakeManual {
		return true
	}
	return sett.LastNTPSync.IsZero() || now.Sub(sett.LastNTPSync) >= interval
}

// Client queries an NTP server.
type Client struct {
	// Timeout bounds the query. Zero means DefaultTimeout.
	Timeout time.Duration

	// Logger may be nil.
	Logger *slog.Logger
}

// Sync queries the server and returns the corrected current time. The
// context is not plumbed into the query; the client's own timeout
// bounds it.
func (c *Client) Sync(_ context.Context, server string) (time.Time, error) {
	timeout := c.Timeout
	if timeout == 0 {
		timeout = DefaultTimeout
	}

	resp, err := ntp.QueryWithOptions(server, ntp.QueryOptions{Timeout: timeout})
	if err != nil {
		return time.Time{}, err
	}
	if err := resp.Validate(); err != nil {
		return time.Time{}, err
	}

	if c.Logger != nil {
		c.Logger.Info("clock synchronized", "server", server, "offset", resp.ClockOffset)
	}
	return time.Now().Add(resp.ClockOffset), nil
}
