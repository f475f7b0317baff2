package settings

import (
	"time"

	"github.com/pulsar-metering/pulsar-go/pkg/meter"
)

// Fixed-size storage bounds for string settings. A remote value longer
// than its bound is rejected outright, never truncated.
const (
	MaxSerialLen       = 16
	MaxHostLen         = 64
	MaxURLLen          = 128
	MaxKeyLen          = 34
	MaxEmailLen        = 64
	MaxSSIDLen         = 32
	MaxWiFiPasswordLen = 64
	MaxMQTTLoginLen    = 32
	MaxMQTTPasswordLen = 64
	MaxMQTTTopicLen    = 64
	MaxCompanyLen      = 64
	MaxPlaceLen        = 64
)

// Numeric bounds for remotely configurable values, inclusive.
const (
	MinChannelValue = 0.0
	MaxChannelValue = 999999.0

	MinFactor = 1
	MaxFactor = 10000

	MinWakePeriodMin = 1
	MaxWakePeriodMin = 1440
)

// RestartState is the reboot-loop guard, a persisted two-state machine.
//
// RestartStateNormal -> RestartStatePending happens the instant a merge
// reports "changed", in the same step that immediately precedes a restart.
// RestartStatePending -> RestartStateNormal happens unconditionally,
// exactly once, at the end of the very next cycle, before that cycle's own
// settings are persisted. While pending, pull-style configuration fetches
// are skipped for the whole cycle.
type RestartState uint8

const (
	// RestartStateNormal - no configuration restart in flight.
	RestartStateNormal RestartState = iota

	// RestartStatePending - a configuration change was applied and the
	// device restarted; the current cycle must not fetch configuration.
	RestartStatePending
)

// String returns the state name.
func (s RestartState) String() string {
	switch s {
	case RestartStateNormal:
		return "NORMAL"
	case RestartStatePending:
		return "PENDING_RESTART"
	default:
		return "UNKNOWN"
	}
}

// Settings is the persistent device configuration and cross-cycle state.
type Settings struct {
	// WakePeriodMin is the configured wake interval in minutes [1, 1440].
	WakePeriodMin uint16 `json:"wakeup_per_min"`

	// TunedPeriodMin is the drift-corrected period actually handed to the
	// peripheral. Reset to WakePeriodMin whenever the period changes.
	TunedPeriodMin uint16 `json:"period_min_tuned"`

	// Channel start readings: the meter face value at the moment the
	// matching impulse baseline was recorded.
	Channel0Start float64 `json:"channel0_start"`
	Channel1Start float64 `json:"channel1_start"`

	// Impulse counts at the moment the start readings were set.
	Impulses0Start uint32 `json:"impulses0_start"`
	Impulses1Start uint32 `json:"impulses1_start"`

	// Impulse counts at the last transmitted (or skipped) cycle, used for
	// per-cycle consumption deltas.
	Impulses0Previous uint32 `json:"impulses0_previous"`
	Impulses1Previous uint32 `json:"impulses1_previous"`

	// Meter serial numbers.
	Serial0 string `json:"serial0,omitempty"`
	Serial1 string `json:"serial1,omitempty"`

	// What each channel meters.
	CounterName0 meter.CounterName `json:"counter0_name"`
	CounterName1 meter.CounterName `json:"counter1_name"`

	// Liters (or channel units) per 1000 impulses, [1, 10000].
	Factor0 uint16 `json:"factor0"`
	Factor1 uint16 `json:"factor1"`

	// WiFi credentials.
	WiFiSSID     string `json:"wifi_ssid,omitempty"`
	WiFiPassword string `json:"wifi_password,omitempty"`

	// MQTT settings. The sub-fields apply only while MQTTOn is true.
	MQTTOn             bool   `json:"mqtt_on"`
	MQTTHost           string `json:"mqtt_host,omitempty"`
	MQTTPort           uint16 `json:"mqtt_port,omitempty"`
	MQTTLogin          string `json:"mqtt_login,omitempty"`
	MQTTPassword       string `json:"mqtt_password,omitempty"`
	MQTTTopic          string `json:"mqtt_topic,omitempty"`
	MQTTAutoDiscovery  bool   `json:"mqtt_auto_discovery"`
	MQTTDiscoveryTopic string `json:"mqtt_discovery_topic,omitempty"`

	// Generic HTTP sender. HTTPURL applies only while HTTPOn is true.
	HTTPOn  bool   `json:"http_on"`
	HTTPURL string `json:"http_url,omitempty"`

	// Cloud (remote service) settings. CloudKey doubles as the device key
	// authenticating remote configuration documents.
	CloudOn    bool   `json:"cloud_on"`
	CloudHost  string `json:"cloud_host,omitempty"`
	CloudKey   string `json:"cloud_key,omitempty"`
	CloudEmail string `json:"cloud_email,omitempty"`

	// Time sync.
	NTPServer     string    `json:"ntp_server,omitempty"`
	LastNTPSync   time.Time `json:"last_ntp_sync,omitempty"`
	NTPErrorCount uint16    `json:"ntp_error_count,omitempty"`

	// Owner metadata.
	Company string `json:"company,omitempty"`
	Place   string `json:"place,omitempty"`

	// Static network configuration. The address triplet applies only
	// while DHCPOff is true. Addresses are dotted-quad strings.
	DHCPOff  bool   `json:"dhcp_off"`
	StaticIP string `json:"static_ip,omitempty"`
	Gateway  string `json:"gateway,omitempty"`
	Netmask  string `json:"mask,omitempty"`

	// MDNSOn enables the mDNS responder during the awake window.
	MDNSOn bool `json:"mdns_on"`

	// WakeOnConsumptionOnly enables the wake-skip heartbeat logic.
	WakeOnConsumptionOnly bool `json:"wake_on_consumption_only"`

	// WakeupsWithoutSend counts consecutive scheduled wakes that skipped
	// transmission. Saturating; reset to zero only after a transmission
	// completes successfully.
	WakeupsWithoutSend uint16 `json:"wakeups_without_send"`

	// RestartState is the reboot-loop guard.
	RestartState RestartState `json:"restart_state"`

	// SetupCount counts completed portal setup sessions.
	SetupCount uint16 `json:"setup_count,omitempty"`

	// SetupCompletedAt is when portal setup last finished. Cleared when a
	// remote update supersedes the portal-entered values.
	SetupCompletedAt time.Time `json:"setup_completed_at,omitempty"`
}

// Defaults returns a Settings record for a factory-fresh device.
func Defaults() *Settings {
	return &Settings{
		WakePeriodMin:  1440,
		TunedPeriodMin: 1440,
		Factor0:        10,
		Factor1:        10,
		CounterName0:   meter.NameWaterCold,
		CounterName1:   meter.NameWaterHot,
		MQTTPort:       1883,
		NTPServer:      "pool.ntp.org",
		CloudOn:        true,
		CloudHost:      "https://cloud.pulsar-metering.io",
	}
}

// ResetTunedPeriod discards the drift correction after a period change.
func (s *Settings) ResetTunedPeriod() {
	s.TunedPeriodMin = s.WakePeriodMin
}

// SetWakePeriod updates the wake period and discards the stale drift
// correction in one step.
func (s *Settings) SetWakePeriod(minutes uint16) {
	s.WakePeriodMin = minutes
	s.ResetTunedPeriod()
}

// ClearSetupStamp marks portal-entered values as superseded by a remote
// update.
func (s *Settings) ClearSetupStamp() {
	s.SetupCompletedAt = time.Time{}
}
