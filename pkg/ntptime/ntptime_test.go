package ntptime

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/pulsar-metering/pulsar-go/pkg/meter"
	"github.com/pulsar-metering/pulsar-go/pkg/settings"
)

func TestNeedSync(t *testing.T) {
	now := time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name     string
		lastSync time.Time
		reason   meter.WakeReason
		want     bool
	}{
		{"never synced", time.Time{}, meter.WakeScheduled, true},
		{"fresh", now.Add(-time.Hour), meter.WakeScheduled, false},
		{"stale", now.Add(-8 * 24 * time.Hour), meter.WakeScheduled, true},
		{"exactly at interval", now.Add(-DefaultSyncInterval), meter.WakeScheduled, true},
		{"manual always syncs", now.Add(-time.Minute), meter.WakeManual, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sett := settings.Defaults()
			sett.LastNTPSync = tt.lastSync
			assert.Equal(t, tt.want, NeedSync(sett, now, tt.reason, 0))
		})
	}
}

func TestNeedSyncCustomInterval(t *testing.T) {
	now := time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC)
	sett := settings.Defaults()
	sett.LastNTPSync = now.Add(-2 * time.Hour)

	assert.True(t, NeedSync(sett, now, meter.WakeScheduled, time.Hour))
	assert.False(t, NeedSync(sett, now, meter.WakeScheduled, 3*time.Hour))
}
