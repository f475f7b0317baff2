package pushcfg

import (
	"encoding/json"
	"fmt"

	"github.com/pulsar-metering/pulsar-go/pkg/meter"
	"github.com/pulsar-metering/pulsar-go/pkg/settings"
)

// discoveryEntity is one Home Assistant discovery config document.
type discoveryEntity struct {
	Name        string `json:"name"`
	UniqueID    string `json:"unique_id"`
	StateTopic  string `json:"state_topic"`
	Unit        string `json:"unit_of_measurement,omitempty"`
	DeviceClass string `json:"device_class,omitempty"`
	StateClass  string `json:"state_class,omitempty"`
}

func unitFor(t meter.DataType) (unit, class string) {
	switch t {
	case meter.DataTypeElectricity:
		return "kWh", "energy"
	case meter.DataTypeGas:
		return "m³", "gas"
	case meter.DataTypeHeat:
		return "Gcal", ""
	default:
		return "m³", "water"
	}
}

// PublishDiscovery announces the device's sensors under the configured
// Home Assistant discovery prefix. Published retained so the broker
// keeps the configs through the device's sleep.
func (s *Session) PublishDiscovery(sett *settings.Settings, deviceID string) error {
	if !sett.MQTTAutoDiscovery || sett.MQTTDiscoveryTopic == "" {
		return nil
	}

	entities := []struct {
		field string
		ent   discoveryEntity
	}{
		{"ch0", channelEntity(s.topic, deviceID, 0, sett.CounterName0)},
		{"ch1", channelEntity(s.topic, deviceID, 1, sett.CounterName1)},
		{"voltage", discoveryEntity{
			Name:        "Battery voltage",
			UniqueID:    deviceID + "_voltage",
			StateTopic:  s.topic + "/voltage",
			Unit:        "V",
			DeviceClass: "voltage",
		}},
	}

	for _, e := range entities {
		payload, err := json.Marshal(e.ent)
		if err != nil {
			return fmt.Errorf("encoding discovery config %s: %w", e.field, err)
		}
		topic := fmt.Sprintf("%s/sensor/%s_%s/config", sett.MQTTDiscoveryTopic, deviceID, e.field)
		token := s.client.Publish(topic, 1, true, payload)
		if !token.WaitTimeout(publishTimeout) || token.Error() != nil {
			return fmt.Errorf("publishing discovery config %s: %w", e.field, token.Error())
		}
	}
	return nil
}

func channelEntity(baseTopic, deviceID string, channel int, name meter.CounterName) discoveryEntity {
	unit, class := unitFor(meter.DataTypeForName(name))
	return discoveryEntity{
		Name:        fmt.Sprintf("Channel %d (%s)", channel, name),
		UniqueID:    fmt.Sprintf("%s_ch%d", deviceID, channel),
		StateTopic:  fmt.Sprintf("%s/ch%d", baseTopic, channel),
		Unit:        unit,
		DeviceClass: class,
		StateClass:  "total_increasing",
	}
}
