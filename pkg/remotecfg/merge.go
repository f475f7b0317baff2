package remotecfg

import (
	"log/slog"
	"math"
	"net"

	"github.com/pulsar-metering/pulsar-go/pkg/meter"
	"github.com/pulsar-metering/pulsar-go/pkg/settings"
)

// Result is the set of fields actually changed by one merge.
type Result struct {
	// Fields lists the wire names of applied fields, in merge order.
	Fields []string
}

// Changed reports whether the merge applied anything.
func (r Result) Changed() bool {
	return len(r.Fields) > 0
}

// fieldRule is one entry of the declarative merge table: a wire name, an
// optional dependency gate, and an apply step that extracts, validates
// and sets the value. apply returns true only if the field was applied.
type fieldRule struct {
	name  string
	gate  func(*settings.Settings) bool
	apply func(Document, *settings.Settings) bool
}

func numberField(name string, min, max float64, set func(*settings.Settings, float64)) fieldRule {
	return fieldRule{name: name, apply: func(doc Document, sett *settings.Settings) bool {
		v, ok := doc.Float(name)
		if !ok || v < min || v > max {
			return false
		}
		set(sett, v)
		return true
	}}
}

func intField(name string, min, max int64, set func(*settings.Settings, int64)) fieldRule {
	return fieldRule{name: name, apply: func(doc Document, sett *settings.Settings) bool {
		v, ok := doc.Int(name)
		if !ok || v < min || v > max {
			return false
		}
		set(sett, v)
		return true
	}}
}

func stringField(name string, maxLen int, set func(*settings.Settings, string)) fieldRule {
	return fieldRule{name: name, apply: func(doc Document, sett *settings.Settings) bool {
		v, ok := doc.String(name)
		if !ok || len(v) > maxLen {
			// Oversized values are rejected, never truncated.
			return false
		}
		set(sett, v)
		return true
	}}
}

func boolField(name string, set func(*settings.Settings, bool)) fieldRule {
	return fieldRule{name: name, apply: func(doc Document, sett *settings.Settings) bool {
		v, ok := doc.Bool(name)
		if !ok {
			return false
		}
		set(sett, v)
		return true
	}}
}

// ipField accepts only dotted-quad IPv4 strings.
func ipField(name string, set func(*settings.Settings, string)) fieldRule {
	return fieldRule{name: name, apply: func(doc Document, sett *settings.Settings) bool {
		v, ok := doc.String(name)
		if !ok {
			return false
		}
		ip := net.ParseIP(v)
		if ip == nil || ip.To4() == nil {
			return false
		}
		set(sett, v)
		return true
	}}
}

func gated(rule fieldRule, gate func(*settings.Settings) bool) fieldRule {
	rule.gate = gate
	return rule
}

// Gate predicates. Evaluated against the settings as already mutated by
// earlier table entries, so an enable flag and its sub-fields can arrive
// in the same document.
func mqttEnabled(s *settings.Settings) bool { return s.MQTTOn }
func httpEnabled(s *settings.Settings) bool { return s.HTTPOn }
func dhcpOff(s *settings.Settings) bool     { return s.DHCPOff }

// mergeTable drives the generic present/validate/set/mark loop. Order
// matters: enable flags come before the fields they gate. The impulse
// baselines and the counter kind pair need cross-field handling and live
// outside the table.
var mergeTable = []fieldRule{
	numberField("channel0", settings.MinChannelValue, settings.MaxChannelValue,
		func(s *settings.Settings, v float64) { s.Channel0Start = v }),
	numberField("channel1", settings.MinChannelValue, settings.MaxChannelValue,
		func(s *settings.Settings, v float64) { s.Channel1Start = v }),

	stringField("serial0", settings.MaxSerialLen,
		func(s *settings.Settings, v string) { s.Serial0 = v }),
	stringField("serial1", settings.MaxSerialLen,
		func(s *settings.Settings, v string) { s.Serial1 = v }),

	intField("cname0", 0, int64(meter.CounterNameMax),
		func(s *settings.Settings, v int64) { s.CounterName0 = meter.CounterName(v) }),
	intField("cname1", 0, int64(meter.CounterNameMax),
		func(s *settings.Settings, v int64) { s.CounterName1 = meter.CounterName(v) }),

	intField("factor0", settings.MinFactor, settings.MaxFactor,
		func(s *settings.Settings, v int64) { s.Factor0 = uint16(v) }),
	intField("factor1", settings.MinFactor, settings.MaxFactor,
		func(s *settings.Settings, v int64) { s.Factor1 = uint16(v) }),

	intField("wakeup_per_min", settings.MinWakePeriodMin, settings.MaxWakePeriodMin,
		func(s *settings.Settings, v int64) { s.SetWakePeriod(uint16(v)) }),

	boolField("wake_on_consumption_only",
		func(s *settings.Settings, v bool) { s.WakeOnConsumptionOnly = v }),

	stringField("ssid", settings.MaxSSIDLen,
		func(s *settings.Settings, v string) { s.WiFiSSID = v }),
	stringField("password", settings.MaxWiFiPasswordLen,
		func(s *settings.Settings, v string) { s.WiFiPassword = v }),

	boolField("mqtt_on",
		func(s *settings.Settings, v bool) { s.MQTTOn = v }),
	gated(stringField("mqtt_host", settings.MaxHostLen,
		func(s *settings.Settings, v string) { s.MQTTHost = v }), mqttEnabled),
	gated(intField("mqtt_port", 1, 65535,
		func(s *settings.Settings, v int64) { s.MQTTPort = uint16(v) }), mqttEnabled),
	gated(stringField("mqtt_login", settings.MaxMQTTLoginLen,
		func(s *settings.Settings, v string) { s.MQTTLogin = v }), mqttEnabled),
	gated(stringField("mqtt_password", settings.MaxMQTTPasswordLen,
		func(s *settings.Settings, v string) { s.MQTTPassword = v }), mqttEnabled),
	gated(stringField("mqtt_topic", settings.MaxMQTTTopicLen,
		func(s *settings.Settings, v string) { s.MQTTTopic = v }), mqttEnabled),

	boolField("http_on",
		func(s *settings.Settings, v bool) { s.HTTPOn = v }),
	gated(stringField("http_url", settings.MaxURLLen,
		func(s *settings.Settings, v string) { s.HTTPURL = v }), httpEnabled),

	stringField("ntp_server", settings.MaxHostLen,
		func(s *settings.Settings, v string) { s.NTPServer = v }),

	stringField("cloud_host", settings.MaxHostLen,
		func(s *settings.Settings, v string) { s.CloudHost = v }),
	stringField("cloud_key", settings.MaxKeyLen,
		func(s *settings.Settings, v string) { s.CloudKey = v }),
	stringField("cloud_email", settings.MaxEmailLen,
		func(s *settings.Settings, v string) { s.CloudEmail = v }),
	boolField("cloud_on",
		func(s *settings.Settings, v bool) { s.CloudOn = v }),

	stringField("company", settings.MaxCompanyLen,
		func(s *settings.Settings, v string) { s.Company = v }),
	stringField("place", settings.MaxPlaceLen,
		func(s *settings.Settings, v string) { s.Place = v }),

	boolField("mqtt_auto_discovery",
		func(s *settings.Settings, v bool) { s.MQTTAutoDiscovery = v }),
	stringField("mqtt_discovery_topic", settings.MaxMQTTTopicLen,
		func(s *settings.Settings, v string) { s.MQTTDiscoveryTopic = v }),

	boolField("dhcp_off",
		func(s *settings.Settings, v bool) { s.DHCPOff = v }),
	gated(ipField("static_ip",
		func(s *settings.Settings, v string) { s.StaticIP = v }), dhcpOff),
	gated(ipField("gateway",
		func(s *settings.Settings, v string) { s.Gateway = v }), dhcpOff),
	gated(ipField("mask",
		func(s *settings.Settings, v string) { s.Netmask = v }), dhcpOff),

	boolField("mdns_on",
		func(s *settings.Settings, v bool) { s.MDNSOn = v }),
}

// Apply merges an authenticated document into the settings under
// per-field policy. Settings are mutated in place; the peripheral is
// invoked for the counter kind pair only. No network or persistence
// activity happens here - the caller owns checkpoints and restarts.
//
// Unknown fields are ignored; absent fields leave the corresponding
// setting untouched; out-of-bounds, mistyped, oversized or gated-out
// fields are silently skipped without affecting the rest of the document.
func Apply(doc Document, sett *settings.Settings, snap meter.Snapshot,
	sctx *meter.SessionContext, periph meter.Peripheral, logger *slog.Logger) Result {

	res := Result{}
	for _, rule := range mergeTable {
		if rule.gate != nil && !rule.gate(sett) {
			continue
		}
		if rule.apply(doc, sett) {
			res.Fields = append(res.Fields, rule.name)
		}
	}

	applyImpulses(doc, sett, &res)
	applyCounterKinds(doc, snap, sctx, periph, logger, &res)

	if logger != nil {
		logger.Info("merge complete", "changed", res.Changed(), "fields", res.Fields)
	}
	return res
}

// applyImpulses handles impulses0/impulses1: each unconditionally replaces
// both the start impulse count and the delta baseline, so the next cycle's
// computed reading and consumption both key off the new count.
func applyImpulses(doc Document, sett *settings.Settings, res *Result) {
	if v, ok := doc.Int("impulses0"); ok && v >= 0 && v <= math.MaxUint32 {
		sett.Impulses0Start = uint32(v)
		sett.Impulses0Previous = uint32(v)
		res.Fields = append(res.Fields, "impulses0")
	}
	if v, ok := doc.Int("impulses1"); ok && v >= 0 && v <= math.MaxUint32 {
		sett.Impulses1Start = uint32(v)
		sett.Impulses1Previous = uint32(v)
		res.Fields = append(res.Fields, "impulses1")
	}
}

// applyCounterKinds handles the ctype0/ctype1 atomic pair. An absent
// member is taken from the session context's intended value, never from
// the raw snapshot. Rejection by validation or by the peripheral skips
// the whole pair and nothing else.
func applyCounterKinds(doc Document, snap meter.Snapshot, sctx *meter.SessionContext,
	periph meter.Peripheral, logger *slog.Logger, res *Result) {

	want0, mistyped0 := kindFromDoc(doc, "ctype0")
	want1, mistyped1 := kindFromDoc(doc, "ctype1")
	if want0 == nil && want1 == nil {
		return
	}
	if mistyped0 || mistyped1 {
		if logger != nil {
			logger.Warn("counter kind pair mistyped, skipping")
		}
		return
	}

	if err := sctx.Submit(periph, snap, want0, want1); err != nil {
		if logger != nil {
			logger.Warn("counter kind pair not applied", "error", err)
		}
		return
	}

	if want0 != nil {
		res.Fields = append(res.Fields, "ctype0")
	}
	if want1 != nil {
		res.Fields = append(res.Fields, "ctype1")
	}
}

// kindFromDoc extracts an optional counter kind. mistyped is true when
// the field is present but not a whole number; range checking is left to
// SessionContext.Submit.
func kindFromDoc(doc Document, name string) (kind *meter.CounterKind, mistyped bool) {
	if !doc.Has(name) {
		return nil, false
	}
	v, ok := doc.Int(name)
	if !ok || v < 0 || v > math.MaxUint8 {
		return nil, true
	}
	k := meter.CounterKind(v)
	return &k, false
}
