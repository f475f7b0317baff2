package reading

import (
	"github.com/shopspring/decimal"

	"github.com/pulsar-metering/pulsar-go/pkg/meter"
	"github.com/pulsar-metering/pulsar-go/pkg/settings"
	"github.com/pulsar-metering/pulsar-go/pkg/version"
)

// factorDivisor converts the impulse weight (factor is liters per
// impulse) into channel units (cubic meters).
const factorDivisor = 1000

// CycleData holds the values computed once per wake cycle from the
// peripheral snapshot and the persisted settings.
type CycleData struct {
	// Delta0 and Delta1 are impulses accumulated since the previous
	// transmitted (or skipped) cycle.
	Delta0 uint32
	Delta1 uint32

	// Channel0 and Channel1 are the current meter face values.
	Channel0 decimal.Decimal
	Channel1 decimal.Decimal
}

// Compute derives the cycle data. A peripheral impulse counter that went
// backwards (counter module replaced or reset) yields a zero delta rather
// than a huge bogus one.
func Compute(sett *settings.Settings, snap meter.Snapshot) CycleData {
	return CycleData{
		Delta0:   delta(snap.Impulses0, sett.Impulses0Previous),
		Delta1:   delta(snap.Impulses1, sett.Impulses1Previous),
		Channel0: channelValue(sett.Channel0Start, snap.Impulses0, sett.Impulses0Start, sett.Factor0),
		Channel1: channelValue(sett.Channel1Start, snap.Impulses1, sett.Impulses1Start, sett.Factor1),
	}
}

func delta(current, previous uint32) uint32 {
	if current < previous {
		return 0
	}
	return current - previous
}

// channelValue is start + impulses_since_start * factor / 1000, quantized
// to three decimals.
func channelValue(start float64, impulses, impulsesStart uint32, factor uint16) decimal.Decimal {
	since := delta(impulses, impulsesStart)
	consumed := decimal.NewFromInt(int64(since)).
		Mul(decimal.NewFromInt(int64(factor))).
		Div(decimal.NewFromInt(factorDivisor))
	return Quantize3(decimal.NewFromFloat(start).Add(consumed))
}

// Quantize3 rounds a value to three decimal places, the precision of the
// wire contract and the push-update acknowledgement echo.
func Quantize3(value decimal.Decimal) decimal.Decimal {
	return value.Round(3)
}

// BuildDocument assembles the data-submission document sent to the cloud
// and published over MQTT. The push-update handler echoes changed fields
// back into this document before republishing.
func BuildDocument(sett *settings.Settings, snap meter.Snapshot, data CycleData) map[string]any {
	ch0, _ := data.Channel0.Float64()
	ch1, _ := data.Channel1.Float64()
	return map[string]any{
		"key":        sett.CloudKey,
		"email":      sett.CloudEmail,
		"ch0":        ch0,
		"ch1":        ch1,
		"delta0":     data.Delta0,
		"delta1":     data.Delta1,
		"imp0":       snap.Impulses0,
		"imp1":       snap.Impulses1,
		"f0":         sett.Factor0,
		"f1":         sett.Factor1,
		"serial0":    sett.Serial0,
		"serial1":    sett.Serial1,
		"cname0":     uint8(sett.CounterName0),
		"cname1":     uint8(sett.CounterName1),
		"data_type0": uint8(meter.DataTypeForName(sett.CounterName0)),
		"data_type1": uint8(meter.DataTypeForName(sett.CounterName1)),
		"period_min": sett.WakePeriodMin,
		"version":    version.Firmware,
		"voltage":    float64(snap.VoltageMV) / 1000,
		"company":    sett.Company,
		"place":      sett.Place,
	}
}
