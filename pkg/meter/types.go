package meter

import "errors"

// Peripheral errors.
var (
	ErrInvalidKind    = errors.New("invalid counter kind")
	ErrPairRejected   = errors.New("counter kind pair rejected by peripheral")
	ErrNotInitialized = errors.New("session context not initialized")
)

// CounterKind identifies the physical input type of a counter channel.
type CounterKind uint8

const (
	// KindNamur is a NAMUR-compliant reed/inductive counter input.
	KindNamur CounterKind = iota

	// KindElectronic is an open-collector electronic counter input.
	KindElectronic

	// KindNone disables the channel.
	KindNone
)

// Valid reports whether k is a member of the permitted enumeration.
func (k CounterKind) Valid() bool {
	switch k {
	case KindNamur, KindElectronic, KindNone:
		return true
	default:
		return false
	}
}

// String returns the kind name.
func (k CounterKind) String() string {
	switch k {
	case KindNamur:
		return "NAMUR"
	case KindElectronic:
		return "ELECTRONIC"
	case KindNone:
		return "NONE"
	default:
		return "UNKNOWN"
	}
}

// CounterName identifies what a channel is metering. The value is part of
// the wire contract with the cloud (field cname0/cname1).
type CounterName uint8

const (
	NameWaterCold CounterName = iota
	NameWaterHot
	NameElectricity
	NameGas
	NameHeat
	NamePotableWater
	NameOther

	// CounterNameMax is the highest valid CounterName value.
	CounterNameMax = NameOther
)

// Valid reports whether n is within the declared range.
func (n CounterName) Valid() bool {
	return n <= CounterNameMax
}

// String returns the counter name.
func (n CounterName) String() string {
	switch n {
	case NameWaterCold:
		return "WATER_COLD"
	case NameWaterHot:
		return "WATER_HOT"
	case NameElectricity:
		return "ELECTRICITY"
	case NameGas:
		return "GAS"
	case NameHeat:
		return "HEAT"
	case NamePotableWater:
		return "POTABLE_WATER"
	case NameOther:
		return "OTHER"
	default:
		return "UNKNOWN"
	}
}

// DataType is the measurement class derived from a CounterName, published
// alongside readings so consumers can pick units without knowing the name
// table.
type DataType uint8

const (
	DataTypeWater DataType = iota
	DataTypeElectricity
	DataTypeGas
	DataTypeHeat
)

// DataTypeForName maps a counter name to its measurement class.
func DataTypeForName(n CounterName) DataType {
	switch n {
	case NameElectricity:
		return DataTypeElectricity
	case NameGas:
		return DataTypeGas
	case NameHeat:
		return DataTypeHeat
	default:
		return DataTypeWater
	}
}

// WakeReason says why the device woke up.
type WakeReason uint8

const (
	// WakeScheduled is a timer-driven wake at the configured period.
	WakeScheduled WakeReason = iota

	// WakeManual is a user-triggered wake (button press).
	WakeManual

	// WakeSetup requests the captive-portal configuration mode.
	WakeSetup
)

// String returns the wake reason name.
func (r WakeReason) String() string {
	switch r {
	case WakeScheduled:
		return "SCHEDULED"
	case WakeManual:
		return "MANUAL"
	case WakeSetup:
		return "SETUP"
	default:
		return "UNKNOWN"
	}
}

// Snapshot is the peripheral data read once at the start of a wake cycle.
// It is immutable for the cycle's duration and must not be re-read after a
// counter kind change has been requested; the peripheral's reported kinds
// lag behind such a request.
type Snapshot struct {
	// Impulses0 and Impulses1 are the raw impulse counters.
	Impulses0 uint32
	Impulses1 uint32

	// Kind0 and Kind1 are the counter kinds effective when the snapshot
	// was taken.
	Kind0 CounterKind
	Kind1 CounterKind

	// Reason is why the device woke.
	Reason WakeReason

	// VoltageMV is the supply voltage in millivolts.
	VoltageMV uint16
}

// Peripheral is the control contract with the counter module.
//
// SetCounterKinds applies both kinds as one atomic call: the peripheral
// accepts or rejects the whole pair, partial application cannot occur.
type Peripheral interface {
	// ReadSnapshot reads the peripheral state for this cycle.
	ReadSnapshot() (Snapshot, error)

	// SetCounterKinds atomically configures both counter inputs.
	SetCounterKinds(k0, k1 CounterKind) error

	// SetWakePeriod sets the wake interval in minutes for the next sleep.
	SetWakePeriod(minutes uint16) error

	// Sleep tells the peripheral to cut power until the next wake.
	Sleep() error
}
