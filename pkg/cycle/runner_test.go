package cycle

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pulsar-metering/pulsar-go/pkg/meter"
	"github.com/pulsar-metering/pulsar-go/pkg/meter/metertest"
	"github.com/pulsar-metering/pulsar-go/pkg/pushcfg"
	"github.com/pulsar-metering/pulsar-go/pkg/remotecfg"
	"github.com/pulsar-metering/pulsar-go/pkg/settings"
)

type fakeFetcher struct {
	doc   remotecfg.Document
	err   error
	calls int
	bases []string
}

func (f *fakeFetcher) Fetch(_ context.Context, base, _ string) (remotecfg.Document, error) {
	f.calls++
	f.bases = append(f.bases, base)
	return f.doc, f.err
}

type fakeSender struct {
	ack      []byte
	postErr  error
	posts    int
	generics int
	lastData map[string]any
}

func (f *fakeSender) PostReadings(_ context.Context, _, _, _ string, data map[string]any) ([]byte, error) {
	f.posts++
	f.lastData = data
	if f.postErr != nil {
		return nil, f.postErr
	}
	return f.ack, nil
}

func (f *fakeSender) PostGeneric(_ context.Context, _ string, data map[string]any) error {
	f.generics++
	return nil
}

type fakePush struct {
	// updates is applied through the updater as soon as the channel
	// opens, simulating retained commands.
	updates map[string]string
	opens   int
	stopped int
}

func (f *fakePush) Open(_ *settings.Settings, u *pushcfg.Updater, _ map[string]any) (func(), error) {
	f.opens++
	for field, payload := range f.updates {
		u.Update(field, payload)
	}
	return func() { f.stopped++ }, nil
}

type fakeRestarter struct{ calls int }

func (f *fakeRestarter) Restart() { f.calls++ }

type fakeSyncer struct {
	t   time.Time
	err error
}

func (f *fakeSyncer) Sync(context.Context, string) (time.Time, error) { return f.t, f.err }

func docJSON(t *testing.T, raw string) remotecfg.Document {
	t.Helper()
	var doc remotecfg.Document
	require.NoError(t, json.Unmarshal([]byte(raw), &doc))
	return doc
}

func testStore(t *testing.T, sett *settings.Settings) *settings.Store {
	t.Helper()
	store := settings.NewStore(filepath.Join(t.TempDir(), "settings.json"))
	require.NoError(t, store.Save(sett))
	return store
}

func fastRunnerConfig() Config {
	c := DefaultConfig()
	c.WakeWindow = 0
	return c
}

func TestConfigRestartGuardAcrossCycles(t *testing.T) {
	sett := settings.Defaults()
	sett.CloudKey = "dev-key"
	store := testStore(t, sett)
	periph := &metertest.FakePeripheral{Snap: meter.Snapshot{Reason: meter.WakeManual}}
	doc := docJSON(t, `{"key":"dev-key","wakeup_per_min":60}`)

	// Cycle 1: the pulled document changes the period, so the cycle
	// persists with the guard set and restarts instead of finishing.
	restarter := &fakeRestarter{}
	fetcher := &fakeFetcher{doc: doc}
	r := &Runner{Config: fastRunnerConfig(), Store: store, Peripheral: periph,
		Fetcher: fetcher, Restart: restarter}
	require.NoError(t, r.Run(context.Background()))

	assert.Equal(t, 1, fetcher.calls)
	assert.Equal(t, 1, restarter.calls)
	assert.Zero(t, periph.SleepCalls, "restart path must not reach sleep")

	loaded, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, settings.RestartStatePending, loaded.RestartState)
	assert.Equal(t, uint16(60), loaded.WakePeriodMin)

	// Cycle 2: the guard is observed, every pull attempt is skipped,
	// and the flag is cleared before this cycle's own persist.
	fetcher2 := &fakeFetcher{doc: doc}
	r2 := &Runner{Config: fastRunnerConfig(), Store: store, Peripheral: periph,
		Fetcher: fetcher2, Restart: restarter}
	require.NoError(t, r2.Run(context.Background()))

	assert.Zero(t, fetcher2.calls, "fetch must be skipped while restart is pending")
	assert.Equal(t, 1, restarter.calls)
	assert.Equal(t, 1, periph.SleepCalls)

	loaded, err = store.Load()
	require.NoError(t, err)
	assert.Equal(t, settings.RestartStateNormal, loaded.RestartState)

	// Cycle 3: back to normal, the fetch happens again.
	fetcher3 := &fakeFetcher{err: errors.New("no document")}
	r3 := &Runner{Config: fastRunnerConfig(), Store: store, Peripheral: periph,
		Fetcher: fetcher3, Restart: restarter}
	require.NoError(t, r3.Run(context.Background()))

	assert.Equal(t, 1, fetcher3.calls)
	assert.Equal(t, 1, restarter.calls)
	loaded, err = store.Load()
	require.NoError(t, err)
	assert.Equal(t, settings.RestartStateNormal, loaded.RestartState)
}

func TestUnchangedDocumentDoesNotRestart(t *testing.T) {
	sett := settings.Defaults()
	sett.CloudKey = "dev-key"
	store := testStore(t, sett)
	periph := &metertest.FakePeripheral{Snap: meter.Snapshot{Reason: meter.WakeManual}}
	restarter := &fakeRestarter{}

	// Authenticated but empty document: nothing to apply.
	fetcher := &fakeFetcher{doc: docJSON(t, `{"key":"dev-key"}`)}
	r := &Runner{Config: fastRunnerConfig(), Store: store, Peripheral: periph,
		Fetcher: fetcher, Restart: restarter}
	require.NoError(t, r.Run(context.Background()))

	assert.Equal(t, 1, fetcher.calls)
	assert.Zero(t, restarter.calls)
	assert.Equal(t, 1, periph.SleepCalls)
}

func TestKeyMismatchAppliesNothing(t *testing.T) {
	sett := settings.Defaults()
	sett.CloudKey = "dev-key"
	store := testStore(t, sett)
	periph := &metertest.FakePeripheral{Snap: meter.Snapshot{Reason: meter.WakeManual}}
	restarter := &fakeRestarter{}

	fetcher := &fakeFetcher{doc: docJSON(t, `{"key":"other","wakeup_per_min":60}`)}
	r := &Runner{Config: fastRunnerConfig(), Store: store, Peripheral: periph,
		Fetcher: fetcher, Restart: restarter}
	require.NoError(t, r.Run(context.Background()))

	assert.Zero(t, restarter.calls)
	loaded, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, uint16(1440), loaded.WakePeriodMin)
}

func TestTransmitResetsHeartbeatCounter(t *testing.T) {
	sett := settings.Defaults()
	sett.CloudKey = "dev-key"
	sett.WakeupsWithoutSend = 9
	store := testStore(t, sett)
	periph := &metertest.FakePeripheral{
		Snap: meter.Snapshot{Reason: meter.WakeScheduled, Impulses0: 120, Impulses1: 40},
	}
	sender := &fakeSender{}

	r := &Runner{Config: fastRunnerConfig(), Store: store, Peripheral: periph, Sender: sender}
	require.NoError(t, r.Run(context.Background()))

	assert.Equal(t, 1, sender.posts)
	require.NotNil(t, sender.lastData)
	assert.Contains(t, sender.lastData, "ch0")

	loaded, err := store.Load()
	require.NoError(t, err)
	assert.Zero(t, loaded.WakeupsWithoutSend)
	assert.Equal(t, uint32(120), loaded.Impulses0Previous)
	assert.Equal(t, uint32(40), loaded.Impulses1Previous)
}

func TestFailedTransmitKeepsHeartbeatCounter(t *testing.T) {
	sett := settings.Defaults()
	sett.CloudKey = "dev-key"
	sett.WakeupsWithoutSend = 9
	store := testStore(t, sett)
	periph := &metertest.FakePeripheral{Snap: meter.Snapshot{Reason: meter.WakeScheduled, Impulses0: 5}}
	sender := &fakeSender{postErr: errors.New("connect refused")}

	r := &Runner{Config: fastRunnerConfig(), Store: store, Peripheral: periph, Sender: sender}
	require.NoError(t, r.Run(context.Background()))

	loaded, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, uint16(9), loaded.WakeupsWithoutSend)
	assert.Zero(t, loaded.Impulses0Previous, "failed send must not advance the baseline")
	assert.Equal(t, 1, periph.SleepCalls, "the cycle still reaches its terminal outcome")
}

func TestSkippedWakeTransmitsNothing(t *testing.T) {
	sett := settings.Defaults()
	sett.WakeOnConsumptionOnly = true
	sett.SetWakePeriod(10)
	store := testStore(t, sett)
	periph := &metertest.FakePeripheral{Snap: meter.Snapshot{Reason: meter.WakeScheduled}}
	sender := &fakeSender{}

	r := &Runner{Config: fastRunnerConfig(), Store: store, Peripheral: periph, Sender: sender}
	require.NoError(t, r.Run(context.Background()))

	assert.Zero(t, sender.posts)
	assert.Zero(t, sender.generics)
	loaded, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, uint16(1), loaded.WakeupsWithoutSend)
	assert.Equal(t, 1, periph.SleepCalls)
}

func TestManualWakeTransmitsDespiteZeroDelta(t *testing.T) {
	sett := settings.Defaults()
	sett.WakeOnConsumptionOnly = true
	sett.SetWakePeriod(10)
	sett.WakeupsWithoutSend = 500
	sett.CloudKey = "dev-key"
	store := testStore(t, sett)
	periph := &metertest.FakePeripheral{Snap: meter.Snapshot{Reason: meter.WakeManual}}
	sender := &fakeSender{}

	r := &Runner{Config: fastRunnerConfig(), Store: store, Peripheral: periph, Sender: sender}
	require.NoError(t, r.Run(context.Background()))

	assert.Equal(t, 1, sender.posts)
	loaded, err := store.Load()
	require.NoError(t, err)
	assert.Zero(t, loaded.WakeupsWithoutSend)
}

func TestEmbeddedConfigInAckRestarts(t *testing.T) {
	sett := settings.Defaults()
	sett.CloudKey = "dev-key"
	store := testStore(t, sett)
	periph := &metertest.FakePeripheral{Snap: meter.Snapshot{Reason: meter.WakeScheduled, Impulses0: 3}}
	sender := &fakeSender{ack: []byte(`{"key":"dev-key","wakeup_per_min":30}`)}
	restarter := &fakeRestarter{}

	r := &Runner{Config: fastRunnerConfig(), Store: store, Peripheral: periph,
		Sender: sender, Restart: restarter}
	require.NoError(t, r.Run(context.Background()))

	assert.Equal(t, 1, restarter.calls)
	loaded, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, settings.RestartStatePending, loaded.RestartState)
	assert.Equal(t, uint16(30), loaded.WakePeriodMin)
	// The transmission succeeded before the restart, so the baseline
	// advance is part of the persisted state.
	assert.Equal(t, uint32(3), loaded.Impulses0Previous)
}

func TestPlainAckDoesNotRestart(t *testing.T) {
	sett := settings.Defaults()
	sett.CloudKey = "dev-key"
	store := testStore(t, sett)
	periph := &metertest.FakePeripheral{Snap: meter.Snapshot{Reason: meter.WakeScheduled}}
	sender := &fakeSender{ack: []byte(`{"status":"accepted"}`)}
	restarter := &fakeRestarter{}

	r := &Runner{Config: fastRunnerConfig(), Store: store, Peripheral: periph,
		Sender: sender, Restart: restarter}
	require.NoError(t, r.Run(context.Background()))

	assert.Zero(t, restarter.calls)
	assert.Equal(t, 1, periph.SleepCalls)
}

func TestPushUpdateRestartsAfterWindow(t *testing.T) {
	sett := settings.Defaults()
	sett.MQTTOn = true
	sett.MQTTHost = "broker.local"
	sett.MQTTTopic = "pulsar/dev1"
	sett.CloudOn = false
	store := testStore(t, sett)
	periph := &metertest.FakePeripheral{Snap: meter.Snapshot{Reason: meter.WakeScheduled}}
	push := &fakePush{updates: map[string]string{"f0": "25"}}
	restarter := &fakeRestarter{}

	r := &Runner{Config: fastRunnerConfig(), Store: store, Peripheral: periph,
		Push: push, Restart: restarter}
	require.NoError(t, r.Run(context.Background()))

	assert.Equal(t, 1, push.opens)
	assert.Equal(t, 1, push.stopped, "session must be released before the restart")
	assert.Equal(t, 1, restarter.calls)

	loaded, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, settings.RestartStatePending, loaded.RestartState)
	assert.Equal(t, uint16(25), loaded.Factor0)
}

func TestHTTPSenderGatedByFlag(t *testing.T) {
	sett := settings.Defaults()
	sett.CloudOn = false
	sett.HTTPOn = true
	sett.HTTPURL = "http://intake.example.com/hook"
	store := testStore(t, sett)
	periph := &metertest.FakePeripheral{Snap: meter.Snapshot{Reason: meter.WakeScheduled}}
	sender := &fakeSender{}

	r := &Runner{Config: fastRunnerConfig(), Store: store, Peripheral: periph, Sender: sender}
	require.NoError(t, r.Run(context.Background()))

	assert.Zero(t, sender.posts)
	assert.Equal(t, 1, sender.generics)
}

func TestTimeSyncWhenStale(t *testing.T) {
	synced := time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC)

	sett := settings.Defaults()
	sett.NTPErrorCount = 3
	store := testStore(t, sett)
	periph := &metertest.FakePeripheral{Snap: meter.Snapshot{Reason: meter.WakeScheduled}}

	r := &Runner{Config: fastRunnerConfig(), Store: store, Peripheral: periph,
		TimeSync: &fakeSyncer{t: synced}}
	require.NoError(t, r.Run(context.Background()))

	loaded, err := store.Load()
	require.NoError(t, err)
	assert.True(t, loaded.LastNTPSync.Equal(synced))
	assert.Zero(t, loaded.NTPErrorCount)
}

func TestTimeSyncSkippedWhenFresh(t *testing.T) {
	now := time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC)

	sett := settings.Defaults()
	sett.LastNTPSync = now.Add(-time.Hour)
	store := testStore(t, sett)
	periph := &metertest.FakePeripheral{Snap: meter.Snapshot{Reason: meter.WakeScheduled}}

	r := &Runner{Config: fastRunnerConfig(), Store: store, Peripheral: periph,
		TimeSync: &fakeSyncer{err: errors.New("must not be called")},
		Clock:    func() time.Time { return now }}
	require.NoError(t, r.Run(context.Background()))

	loaded, err := store.Load()
	require.NoError(t, err)
	assert.Zero(t, loaded.NTPErrorCount)
}

func TestSnapshotFailureSleepsAnyway(t *testing.T) {
	sett := settings.Defaults()
	store := testStore(t, sett)
	periph := &metertest.FakePeripheral{ReadErr: errors.New("i2c timeout")}

	r := &Runner{Config: fastRunnerConfig(), Store: store, Peripheral: periph}
	assert.Error(t, r.Run(context.Background()))
	assert.Equal(t, 1, periph.SleepCalls)
}

func TestPendingCycleIgnoresEmbeddedConfig(t *testing.T) {
	sett := settings.Defaults()
	sett.CloudKey = "dev-key"
	sett.SetWakePeriod(30)
	sett.RestartState = settings.RestartStatePending
	store := testStore(t, sett)
	periph := &metertest.FakePeripheral{Snap: meter.Snapshot{Reason: meter.WakeScheduled, Impulses0: 2}}

	// A server that echoes the current configuration in every
	// acknowledgement must not keep the device in a restart loop.
	sender := &fakeSender{ack: []byte(`{"key":"dev-key","wakeup_per_min":30}`)}
	restarter := &fakeRestarter{}

	r := &Runner{Config: fastRunnerConfig(), Store: store, Peripheral: periph,
		Sender: sender, Restart: restarter}
	require.NoError(t, r.Run(context.Background()))

	assert.Equal(t, 1, sender.posts)
	assert.Zero(t, restarter.calls, "acknowledgement config must be ignored while pending")
	assert.Equal(t, 1, periph.SleepCalls)

	loaded, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, settings.RestartStateNormal, loaded.RestartState)
}

func TestPendingCycleSuppressesPushRestart(t *testing.T) {
	sett := settings.Defaults()
	sett.MQTTOn = true
	sett.MQTTHost = "broker.local"
	sett.MQTTTopic = "pulsar/dev1"
	sett.CloudOn = false
	sett.RestartState = settings.RestartStatePending
	store := testStore(t, sett)
	periph := &metertest.FakePeripheral{Snap: meter.Snapshot{Reason: meter.WakeScheduled}}
	push := &fakePush{updates: map[string]string{"f0": "25"}}
	restarter := &fakeRestarter{}

	r := &Runner{Config: fastRunnerConfig(), Store: store, Peripheral: periph,
		Push: push, Restart: restarter}
	require.NoError(t, r.Run(context.Background()))

	assert.Zero(t, restarter.calls)
	loaded, err := store.Load()
	require.NoError(t, err)
	// The pushed value is persisted by the cycle's final save; only the
	// restart is suppressed.
	assert.Equal(t, uint16(25), loaded.Factor0)
	assert.Equal(t, settings.RestartStateNormal, loaded.RestartState)
}

func TestScheduledWakeDoesNotFetch(t *testing.T) {
	sett := settings.Defaults()
	sett.CloudKey = "dev-key"
	store := testStore(t, sett)
	periph := &metertest.FakePeripheral{Snap: meter.Snapshot{Reason: meter.WakeScheduled, Impulses0: 1}}
	sender := &fakeSender{}
	fetcher := &fakeFetcher{doc: docJSON(t, `{"key":"dev-key","wakeup_per_min":60}`)}

	r := &Runner{Config: fastRunnerConfig(), Store: store, Peripheral: periph,
		Sender: sender, Fetcher: fetcher}
	require.NoError(t, r.Run(context.Background()))

	assert.Equal(t, 1, sender.posts)
	assert.Zero(t, fetcher.calls, "only a manual wake asks for configuration")
	assert.Equal(t, 1, periph.SleepCalls)
}

func TestManualFetchRunsAfterTransmit(t *testing.T) {
	sett := settings.Defaults()
	sett.CloudKey = "dev-key"
	store := testStore(t, sett)
	periph := &metertest.FakePeripheral{Snap: meter.Snapshot{Reason: meter.WakeManual, Impulses0: 7}}
	sender := &fakeSender{}
	fetcher := &fakeFetcher{doc: docJSON(t, `{"key":"dev-key","wakeup_per_min":60}`)}
	restarter := &fakeRestarter{}

	r := &Runner{Config: fastRunnerConfig(), Store: store, Peripheral: periph,
		Sender: sender, Fetcher: fetcher, Restart: restarter}
	require.NoError(t, r.Run(context.Background()))

	// The cycle's data goes out before the pulled change restarts the
	// device, so the wake that prompted the fetch is not lost.
	assert.Equal(t, 1, sender.posts)
	assert.Equal(t, 1, fetcher.calls)
	assert.Equal(t, 1, restarter.calls)

	loaded, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, settings.RestartStatePending, loaded.RestartState)
	assert.Equal(t, uint16(60), loaded.WakePeriodMin)
	assert.Equal(t, uint32(7), loaded.Impulses0Previous)
}

func TestFetchFallsBackToHTTPEndpoint(t *testing.T) {
	sett := settings.Defaults()
	sett.CloudOn = false
	sett.CloudKey = "dev-key"
	sett.HTTPOn = true
	sett.HTTPURL = "http://intake.example.com"
	store := testStore(t, sett)
	periph := &metertest.FakePeripheral{Snap: meter.Snapshot{Reason: meter.WakeManual}}
	fetcher := &fakeFetcher{doc: docJSON(t, `{"key":"dev-key","wakeup_per_min":60}`)}
	restarter := &fakeRestarter{}

	r := &Runner{Config: fastRunnerConfig(), Store: store, Peripheral: periph,
		Fetcher: fetcher, Restart: restarter}
	require.NoError(t, r.Run(context.Background()))

	require.Equal(t, 1, fetcher.calls)
	assert.Equal(t, []string{"http://intake.example.com"}, fetcher.bases)
	assert.Equal(t, 1, restarter.calls)
}

func TestFirmwareUpdateAdvisory(t *testing.T) {
	cases := []struct {
		name    string
		doc     remotecfg.Document
		want    bool
		version string
	}{
		{"newer minor", remotecfg.Document{"version": "1.1"}, true, "1.1"},
		{"newer major", remotecfg.Document{"version": "2.0"}, true, "2.0"},
		{"same", remotecfg.Document{"version": "1.0"}, false, ""},
		{"older", remotecfg.Document{"version": "0.9"}, false, ""},
		{"absent", remotecfg.Document{}, false, ""},
		{"garbage", remotecfg.Document{"version": "latest"}, false, ""},
		{"wrong type", remotecfg.Document{"version": 2.0}, false, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			latest, ok := firmwareUpdate(tc.doc)
			assert.Equal(t, tc.want, ok)
			if tc.want {
				assert.Equal(t, tc.version, latest.String())
			}
		})
	}
}

func TestAdvertisedVersionDoesNotRestart(t *testing.T) {
	sett := settings.Defaults()
	sett.CloudKey = "dev-key"
	store := testStore(t, sett)
	periph := &metertest.FakePeripheral{Snap: meter.Snapshot{Reason: meter.WakeManual}}
	fetcher := &fakeFetcher{doc: docJSON(t, `{"key":"dev-key","version":"9.9"}`)}
	restarter := &fakeRestarter{}

	r := &Runner{Config: fastRunnerConfig(), Store: store, Peripheral: periph,
		Fetcher: fetcher, Restart: restarter}
	require.NoError(t, r.Run(context.Background()))

	assert.Zero(t, restarter.calls, "a release notice is advisory, not a settings change")
	assert.Equal(t, 1, periph.SleepCalls)
}

func TestFreshDeviceUsesDefaults(t *testing.T) {
	store := settings.NewStore(filepath.Join(t.TempDir(), "settings.json"))
	periph := &metertest.FakePeripheral{Snap: meter.Snapshot{Reason: meter.WakeScheduled}}

	r := &Runner{Config: fastRunnerConfig(), Store: store, Peripheral: periph}
	require.NoError(t, r.Run(context.Background()))

	loaded, err := store.Load()
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, uint16(1440), loaded.WakePeriodMin)
	assert.Equal(t, []uint16{1440}, periph.WakePeriods)
}
