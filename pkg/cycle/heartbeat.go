package cycle

import (
	"math"

	"github.com/pulsar-metering/pulsar-go/pkg/meter"
	"github.com/pulsar-metering/pulsar-go/pkg/settings"
)

// heartbeatWindowMin is the liveness window: however little is consumed,
// the device reports at least once per this many minutes.
const heartbeatWindowMin = 1440

// HeartbeatThreshold returns how many scheduled wakes fit in the
// liveness window for the given period, rounded up, never below one.
func HeartbeatThreshold(periodMin uint16) uint16 {
	if periodMin == 0 {
		return 1
	}
	t := (heartbeatWindowMin + uint32(periodMin) - 1) / uint32(periodMin)
	if t < 1 {
		t = 1
	}
	if t > math.MaxUint16 {
		t = math.MaxUint16
	}
	return uint16(t)
}

// ShouldSkipTransmit decides whether this wake transmits at all, and
// applies the skip's side effects when it does not.
//
// A manual wake never skips. A scheduled wake skips only when the
// feature is enabled, both channels consumed nothing, and skipping
// still keeps the no-transmission counter below the heartbeat
// threshold. On skip the counter increments (saturating) and the delta
// baselines advance to the current reading.
func ShouldSkipTransmit(sett *settings.Settings, snap meter.Snapshot) bool {
	if !sett.WakeOnConsumptionOnly || snap.Reason != meter.WakeScheduled {
		return false
	}
	if snap.Impulses0 != sett.Impulses0Previous || snap.Impulses1 != sett.Impulses1Previous {
		return false
	}
	if uint32(sett.WakeupsWithoutSend)+1 >= uint32(HeartbeatThreshold(sett.WakePeriodMin)) {
		return false
	}
	if sett.WakeupsWithoutSend < math.MaxUint16 {
		sett.WakeupsWithoutSend++
	}
	sett.Impulses0Previous = snap.Impulses0
	sett.Impulses1Previous = snap.Impulses1
	return true
}

// MarkTransmitted records a completed transmission: the heartbeat
// counter resets and the delta baselines advance. Called only on
// success; a failed transmission keeps the counter so the heartbeat
// budget is not consumed by errors.
func MarkTransmitted(sett *settings.Settings, snap meter.Snapshot) {
	sett.WakeupsWithoutSend = 0
	sett.Impulses0Previous = snap.Impulses0
	sett.Impulses1Previous = snap.Impulses1
}
