package cycle

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/pulsar-metering/pulsar-go/pkg/meter"
	"github.com/pulsar-metering/pulsar-go/pkg/ntptime"
	"github.com/pulsar-metering/pulsar-go/pkg/pushcfg"
	"github.com/pulsar-metering/pulsar-go/pkg/reading"
	"github.com/pulsar-metering/pulsar-go/pkg/remotecfg"
	"github.com/pulsar-metering/pulsar-go/pkg/settings"
	"github.com/pulsar-metering/pulsar-go/pkg/version"
)

// ConfigFetcher pulls a configuration document from the cloud.
type ConfigFetcher interface {
	Fetch(ctx context.Context, baseURL, deviceKey string) (remotecfg.Document, error)
}

// ReadingsSender transmits the cycle's data document.
type ReadingsSender interface {
	// PostReadings sends to the cloud and returns the acknowledgement
	// body, which may embed a configuration document.
	PostReadings(ctx context.Context, host, key, email string, data map[string]any) ([]byte, error)

	// PostGeneric sends to a user-configured endpoint.
	PostGeneric(ctx context.Context, url string, data map[string]any) error
}

// PushChannel opens the message channel for the awake window. The
// updater is invoked from the channel's receive loop while the cycle
// waits.
type PushChannel interface {
	Open(sett *settings.Settings, updater *pushcfg.Updater, data map[string]any) (stop func(), err error)
}

// Announcer makes the device discoverable on the local network for the
// awake window.
type Announcer interface {
	Start(instance string, sett *settings.Settings) (stop func(), err error)
}

// TimeSyncer fetches the current time from the configured server.
type TimeSyncer interface {
	Sync(ctx context.Context, server string) (time.Time, error)
}

// Restarter deliberately restarts the owning process. Restart does not
// return.
type Restarter interface {
	Restart()
}

// Config tunes the runner.
type Config struct {
	// DeviceID names the device in announcements and discovery.
	DeviceID string

	// WakeWindow is how long the device listens for push updates after
	// transmitting.
	WakeWindow time.Duration

	// NTPSyncInterval is how old the last successful time sync may be
	// before a scheduled wake re-syncs. Manual wakes always sync.
	NTPSyncInterval time.Duration
}

// DefaultConfig returns the default runner configuration.
func DefaultConfig() Config {
	return Config{
		DeviceID:        "pulsar",
		WakeWindow:      2 * time.Second,
		NTPSyncInterval: 7 * 24 * time.Hour,
	}
}

// Runner executes wake cycles. Optional collaborators may be nil; the
// corresponding step is skipped.
type Runner struct {
	Config     Config
	Store      *settings.Store
	Peripheral meter.Peripheral
	Fetcher    ConfigFetcher
	Sender     ReadingsSender
	Push       PushChannel
	Announcer  Announcer
	TimeSync   TimeSyncer
	Restart    Restarter
	Clock      func() time.Time
	Logger     *slog.Logger
}

func (r *Runner) now() time.Time {
	if r.Clock != nil {
		return r.Clock()
	}
	return time.Now()
}

func (r *Runner) log() *slog.Logger {
	if r.Logger != nil {
		return r.Logger
	}
	return slog.New(slog.DiscardHandler)
}

// Run executes exactly one wake cycle and puts the peripheral to sleep.
// It returns without error on a completed cycle even when individual
// network steps failed; configuration and transmission are best effort.
// A cycle ending in a configuration restart does not return at all.
func (r *Runner) Run(ctx context.Context) error {
	sett, err := r.Store.Load()
	if err != nil {
		return err
	}
	if sett == nil {
		sett = settings.Defaults()
	}

	snap, err := r.Peripheral.ReadSnapshot()
	if err != nil {
		// Without a snapshot there is nothing to report. Sleep and try
		// again next period.
		r.log().Error("peripheral snapshot failed", "error", err)
		return errors.Join(err, r.Peripheral.Sleep())
	}
	r.log().Info("wake cycle started",
		"reason", snap.Reason,
		"impulses0", snap.Impulses0,
		"impulses1", snap.Impulses1,
		"restart_state", sett.RestartState)

	// The session context is scoped to this cycle and never survives a
	// sleep boundary.
	sctx := &meter.SessionContext{}

	// The guard state is read exactly once, here. Every later step sees
	// only this copy; setting the flag again happens solely on the
	// restart path.
	restartPending := sett.RestartState == settings.RestartStatePending

	r.syncTime(ctx, sett, snap)

	if ShouldSkipTransmit(sett, snap) {
		r.log().Info("transmission skipped, no consumption",
			"wakeups_without_send", sett.WakeupsWithoutSend)
		return r.finish(sett, restartPending)
	}

	data := reading.BuildDocument(sett, snap, reading.Compute(sett, snap))

	stopAnnounce := r.announce(sett)
	transmitted, configChanged := r.transmit(ctx, sett, snap, sctx, data, restartPending)
	if stopAnnounce != nil {
		stopAnnounce()
	}

	if transmitted {
		MarkTransmitted(sett, snap)
	}
	if configChanged {
		// All network sessions are released by now.
		r.restartForConfig(sett)
		return nil
	}

	// A manual wake also asks the server for configuration outright.
	// While the guard is set the cycle applies no document at all.
	if snap.Reason == meter.WakeManual {
		if restartPending {
			r.log().Info("configuration fetch skipped, restart pending")
		} else if r.pullConfig(ctx, sett, snap, sctx) {
			r.restartForConfig(sett)
			return nil
		}
	}

	return r.finish(sett, restartPending)
}

// pullConfig fetches, authenticates and merges a configuration
// document, preferring the cloud host and falling back to the generic
// HTTP endpoint when no cloud host is configured. Returns whether the
// merge changed anything. Every failure along the way just means "no
// document this cycle".
func (r *Runner) pullConfig(ctx context.Context, sett *settings.Settings,
	snap meter.Snapshot, sctx *meter.SessionContext) bool {

	if r.Fetcher == nil {
		return false
	}
	base := ""
	switch {
	case sett.CloudOn && sett.CloudHost != "":
		base = sett.CloudHost
	case sett.HTTPOn && sett.HTTPURL != "":
		base = sett.HTTPURL
	}
	if base == "" {
		return false
	}

	doc, err := r.Fetcher.Fetch(ctx, base, sett.CloudKey)
	if err != nil {
		return false
	}
	if err := remotecfg.Authenticate(doc, sett.CloudKey); err != nil {
		r.log().Warn("configuration document rejected", "error", err)
		return false
	}
	if latest, ok := firmwareUpdate(doc); ok {
		r.log().Info("newer firmware available", "latest", latest.String(), "running", version.Firmware)
	}

	return remotecfg.Apply(doc, sett, snap, sctx, r.Peripheral, r.Logger).Changed()
}

// firmwareUpdate reports a newer firmware release advertised by an
// authenticated configuration document.
func firmwareUpdate(doc remotecfg.Document) (version.Version, bool) {
	s, ok := doc.String("version")
	if !ok {
		return version.Version{}, false
	}
	latest, err := version.Parse(s)
	if err != nil {
		return version.Version{}, false
	}
	current, err := version.Parse(version.Firmware)
	if err != nil {
		return version.Version{}, false
	}
	return latest, current.Newer(latest)
}

// transmit sends the data document over every enabled transport and
// holds the push channel open for the awake window. It returns whether
// any transport accepted the document and whether a configuration
// change arrived (embedded in the cloud acknowledgement, or pushed on
// the message channel). While the restart guard is set, acknowledgement
// documents are ignored and a pushed change never requests a restart,
// so the guard is never set in the cycle that read it.
func (r *Runner) transmit(ctx context.Context, sett *settings.Settings,
	snap meter.Snapshot, sctx *meter.SessionContext,
	data map[string]any, restartPending bool) (transmitted, configChanged bool) {

	if r.Sender != nil && sett.CloudOn && sett.CloudHost != "" {
		ack, err := r.Sender.PostReadings(ctx, sett.CloudHost, sett.CloudKey, sett.CloudEmail, data)
		if err == nil {
			transmitted = true
			switch {
			case restartPending:
				r.log().Info("acknowledgement config check skipped, restart pending")
			case len(ack) > 0:
				res, aerr := remotecfg.ApplyFromResponse(ack, sett.CloudKey, sett, snap, sctx, r.Peripheral, r.Logger)
				if aerr == nil && res.Changed() {
					configChanged = true
				}
			}
		}
	}

	if r.Sender != nil && sett.HTTPOn && sett.HTTPURL != "" {
		if err := r.Sender.PostGeneric(ctx, sett.HTTPURL, data); err == nil {
			transmitted = true
		}
	}

	if r.Push != nil && sett.MQTTOn {
		updater := pushcfg.NewUpdater(sett, snap, sctx, r.Peripheral, data, r.Logger)
		stop, err := r.Push.Open(sett, updater, data)
		if err != nil {
			r.log().Warn("push channel unavailable", "error", err)
		} else {
			transmitted = true
			// Stay awake briefly so retained commands and fresh pushes
			// can arrive before the channel closes.
			select {
			case <-time.After(r.Config.WakeWindow):
			case <-ctx.Done():
			}
			stop()
			if updater.Applied() > 0 && !restartPending {
				configChanged = true
			}
		}
	}

	return transmitted, configChanged
}

// restartForConfig persists settings with the guard flag set and
// restarts the process. Callers release network sessions first. Does
// not return when a restarter is wired.
func (r *Runner) restartForConfig(sett *settings.Settings) {
	sett.RestartState = settings.RestartStatePending
	if err := r.Store.Save(sett); err != nil {
		r.log().Error("persisting settings before restart failed", "error", err)
	}
	r.log().Info("configuration changed, restarting")
	if r.Restart != nil {
		r.Restart.Restart()
	}
}

// finish is the cycle's terminal step: clear the guard if it was set
// when the cycle began, persist, program the next wake and sleep.
func (r *Runner) finish(sett *settings.Settings, restartPending bool) error {
	if restartPending {
		sett.RestartState = settings.RestartStateNormal
	}
	if err := r.Store.Save(sett); err != nil {
		r.log().Error("persisting settings failed", "error", err)
	}
	if err := r.Peripheral.SetWakePeriod(sett.TunedPeriodMin); err != nil {
		r.log().Error("programming wake period failed", "error", err)
	}
	return r.Peripheral.Sleep()
}

func (r *Runner) announce(sett *settings.Settings) func() {
	if r.Announcer == nil || !sett.MDNSOn {
		return nil
	}
	stop, err := r.Announcer.Start(r.Config.DeviceID, sett)
	if err != nil {
		r.log().Warn("mdns announcement failed", "error", err)
		return nil
	}
	return stop
}

// syncTime refreshes the clock when due. A failed sync only bumps a
// counter.
func (r *Runner) syncTime(ctx context.Context, sett *settings.Settings, snap meter.Snapshot) {
	if r.TimeSync == nil || sett.NTPServer == "" {
		return
	}
	if !ntptime.NeedSync(sett, r.now(), snap.Reason, r.Config.NTPSyncInterval) {
		return
	}
	t, err := r.TimeSync.Sync(ctx, sett.NTPServer)
	if err != nil {
		if sett.NTPErrorCount < 65535 {
			sett.NTPErrorCount++
		}
		r.log().Warn("time sync failed", "server", sett.NTPServer, "error", err)
		return
	}
	sett.LastNTPSync = t
	sett.NTPErrorCount = 0
}
