package pushcfg

import (
	"log/slog"
	"strconv"
	"strings"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/pulsar-metering/pulsar-go/pkg/meter"
	"github.com/pulsar-metering/pulsar-go/pkg/reading"
	"github.com/pulsar-metering/pulsar-go/pkg/settings"
)

// setSuffix marks a command topic.
const setSuffix = "/set"

// ParseSetTopic extracts the field name from a command topic. The field
// is the path segment immediately before the trailing "set".
func ParseSetTopic(topic string) (field string, ok bool) {
	if !strings.HasSuffix(topic, setSuffix) {
		return "", false
	}
	trimmed := strings.TrimSuffix(topic, setSuffix)
	idx := strings.LastIndexByte(trimmed, '/')
	if idx < 0 || idx == len(trimmed)-1 {
		return "", false
	}
	return trimmed[idx+1:], true
}

// Updater applies push updates to the cycle's settings and data document.
// It is scoped to one communication session. Updates arrive on the
// message channel's receive goroutine while the cycle waits, so the
// updater serializes access internally.
type Updater struct {
	mu      sync.Mutex
	applied int

	sett   *settings.Settings
	snap   meter.Snapshot
	sctx   *meter.SessionContext
	periph meter.Peripheral
	data   map[string]any
	logger *slog.Logger
}

// NewUpdater creates an updater for this cycle. data is the outgoing data
// document; applied updates are echoed into it before republish. logger
// may be nil.
func NewUpdater(sett *settings.Settings, snap meter.Snapshot, sctx *meter.SessionContext,
	periph meter.Peripheral, data map[string]any, logger *slog.Logger) *Updater {
	return &Updater{
		sett:   sett,
		snap:   snap,
		sctx:   sctx,
		periph: periph,
		data:   data,
		logger: logger,
	}
}

// Applied reports how many updates changed a setting so far. Safe to
// call after the session closed to decide whether a restart is due.
func (u *Updater) Applied() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.applied
}

// Update applies one pushed field. The payload is the new value as text.
// Returns true if a setting changed and the data document should be
// republished.
func (u *Updater) Update(field, payload string) bool {
	u.mu.Lock()
	defer u.mu.Unlock()

	applied := false

	switch field {
	case "period_min":
		applied = u.updatePeriod(payload)
	case "f0":
		applied = u.updateFactor(payload, &u.sett.Factor0, "f0")
	case "f1":
		applied = u.updateFactor(payload, &u.sett.Factor1, "f1")
	case "ch0":
		applied = u.updateChannel(payload, &u.sett.Channel0Start, &u.sett.Impulses0Start,
			u.snap.Impulses0, "ch0")
	case "ch1":
		applied = u.updateChannel(payload, &u.sett.Channel1Start, &u.sett.Impulses1Start,
			u.snap.Impulses1, "ch1")
	case "cname0":
		applied = u.updateName(payload, &u.sett.CounterName0, "cname0", "data_type0")
	case "cname1":
		applied = u.updateName(payload, &u.sett.CounterName1, "cname1", "data_type1")
	case "ctype0":
		applied = u.updateKind(payload, 0)
	case "ctype1":
		applied = u.updateKind(payload, 1)
	default:
		return false
	}

	if applied {
		u.applied++
		if u.logger != nil {
			u.logger.Info("push update applied", "field", field, "payload", payload)
		}
	}
	return applied
}

func (u *Updater) updatePeriod(payload string) bool {
	v, err := strconv.ParseUint(payload, 10, 16)
	if err != nil || v < settings.MinWakePeriodMin || v > settings.MaxWakePeriodMin {
		return false
	}
	if u.sett.WakePeriodMin == uint16(v) {
		return false
	}
	u.sett.SetWakePeriod(uint16(v))
	u.data["period_min"] = uint16(v)
	return true
}

func (u *Updater) updateFactor(payload string, target *uint16, echo string) bool {
	v, err := strconv.ParseUint(payload, 10, 16)
	if err != nil || v < settings.MinFactor || v > settings.MaxFactor {
		return false
	}
	if *target == uint16(v) {
		return false
	}
	*target = uint16(v)
	u.data[echo] = uint16(v)
	u.sett.ClearSetupStamp()
	return true
}

// updateChannel sets a channel start reading and records the impulse
// baseline at the moment of change, so the face value stays continuous.
// The echo is quantized to three decimal places.
func (u *Updater) updateChannel(payload string, start *float64, impulsesStart *uint32,
	impulsesNow uint32, echo string) bool {
	v, err := strconv.ParseFloat(payload, 64)
	if err != nil || v < settings.MinChannelValue || v > settings.MaxChannelValue {
		return false
	}
	*start = v
	*impulsesStart = impulsesNow
	rounded, _ := reading.Quantize3(decimal.NewFromFloat(v)).Float64()
	u.data[echo] = rounded
	u.sett.ClearSetupStamp()
	return true
}

func (u *Updater) updateName(payload string, target *meter.CounterName, echo, echoType string) bool {
	v, err := strconv.ParseUint(payload, 10, 8)
	if err != nil || !meter.CounterName(v).Valid() {
		return false
	}
	name := meter.CounterName(v)
	if *target == name {
		return false
	}
	*target = name
	u.data[echo] = uint8(name)
	u.data[echoType] = uint8(meter.DataTypeForName(name))
	u.sett.ClearSetupStamp()
	return true
}

// updateKind changes one counter's input kind through the session
// context, which supplies the other member of the atomic pair.
func (u *Updater) updateKind(payload string, channel int) bool {
	v, err := strconv.ParseUint(payload, 10, 8)
	if err != nil {
		return false
	}
	kind := meter.CounterKind(v)

	u.sctx.Init(u.snap)
	cur0, cur1, _ := u.sctx.Intended()

	var k0, k1 *meter.CounterKind
	echo := "ctype0"
	if channel == 0 {
		if cur0 == kind {
			return false
		}
		k0 = &kind
	} else {
		if cur1 == kind {
			return false
		}
		k1 = &kind
		echo = "ctype1"
	}

	if err := u.sctx.Submit(u.periph, u.snap, k0, k1); err != nil {
		if u.logger != nil {
			u.logger.Warn("counter kind push rejected", "channel", channel, "error", err)
		}
		return false
	}
	u.data[echo] = uint8(kind)
	u.sett.ClearSetupStamp()
	return true
}
