package main

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/pulsar-metering/pulsar-go/pkg/meter"
)

// simulatedPeripheral stands in for the counter module. Its state file
// survives the process restarts that real hardware survives by staying
// powered while the controller sleeps.
type simulatedPeripheral struct {
	config SimulateConfig
	path   string
	reason meter.WakeReason
	logger *slog.Logger

	state peripheralState
}

type peripheralState struct {
	Impulses0  uint32            `json:"impulses0"`
	Impulses1  uint32            `json:"impulses1"`
	Kind0      meter.CounterKind `json:"kind0"`
	Kind1      meter.CounterKind `json:"kind1"`
	WakePeriod uint16            `json:"wake_period"`
}

func newSimulatedPeripheral(config SimulateConfig, dataDir string, reason meter.WakeReason, logger *slog.Logger) (*simulatedPeripheral, error) {
	p := &simulatedPeripheral{
		config: config,
		path:   filepath.Join(dataDir, "peripheral.json"),
		reason: reason,
		logger: logger,
		state:  peripheralState{WakePeriod: 1440},
	}

	data, err := os.ReadFile(p.path)
	if os.IsNotExist(err) {
		return p, nil
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(data, &p.state); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *simulatedPeripheral) save() error {
	if err := os.MkdirAll(filepath.Dir(p.path), 0755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(p.state, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(p.path, data, 0600)
}

// ReadSnapshot accumulates the configured per-wake consumption and
// reports the result.
func (p *simulatedPeripheral) ReadSnapshot() (meter.Snapshot, error) {
	p.state.Impulses0 += p.config.ImpulsesPerWake0
	p.state.Impulses1 += p.config.ImpulsesPerWake1
	if err := p.save(); err != nil {
		return meter.Snapshot{}, err
	}
	return meter.Snapshot{
		Impulses0: p.state.Impulses0,
		Impulses1: p.state.Impulses1,
		Kind0:     p.state.Kind0,
		Kind1:     p.state.Kind1,
		Reason:    p.reason,
		VoltageMV: p.config.VoltageMV,
	}, nil
}

func (p *simulatedPeripheral) SetCounterKinds(k0, k1 meter.CounterKind) error {
	p.state.Kind0 = k0
	p.state.Kind1 = k1
	return p.save()
}

func (p *simulatedPeripheral) SetWakePeriod(minutes uint16) error {
	p.state.WakePeriod = minutes
	return p.save()
}

// Sleep blocks for the scaled wake period. On real hardware the process
// dies here and a fresh one starts at the next wake; the simulator just
// returns after the pause so main can run the next cycle.
func (p *simulatedPeripheral) Sleep() error {
	d := time.Duration(p.state.WakePeriod) * time.Minute / time.Duration(p.config.TimeScale)
	p.logger.Info("sleeping", "period_min", p.state.WakePeriod, "scaled", d)
	time.Sleep(d)
	return nil
}

var _ meter.Peripheral = (*simulatedPeripheral)(nil)
