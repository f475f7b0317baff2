// Package metertest provides a scriptable in-memory Peripheral for tests.
package metertest

import (
	"sync"

	"github.com/pulsar-metering/pulsar-go/pkg/meter"
)

// FakePeripheral implements meter.Peripheral in memory.
//
// The zero value is usable. Configure Snap for ReadSnapshot, set RejectKinds
// to make the next SetCounterKinds call fail, and inspect the recorded
// calls afterwards.
type FakePeripheral struct {
	mu sync.Mutex

	// Snap is returned by ReadSnapshot.
	Snap meter.Snapshot

	// ReadErr, if set, is returned by ReadSnapshot.
	ReadErr error

	// RejectKinds makes SetCounterKinds fail with meter.ErrPairRejected.
	RejectKinds bool

	// KindCalls records every SetCounterKinds pair, accepted or not.
	KindCalls [][2]meter.CounterKind

	// WakePeriods records every SetWakePeriod value.
	WakePeriods []uint16

	// SleepCalls counts Sleep invocations.
	SleepCalls int
}

var _ meter.Peripheral = (*FakePeripheral)(nil)

// ReadSnapshot returns the configured snapshot.
func (f *FakePeripheral) ReadSnapshot() (meter.Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ReadErr != nil {
		return meter.Snapshot{}, f.ReadErr
	}
	return f.Snap, nil
}

// SetCounterKinds records the pair and applies it to the snapshot kinds
// unless RejectKinds is set.
func (f *FakePeripheral) SetCounterKinds(k0, k1 meter.CounterKind) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.KindCalls = append(f.KindCalls, [2]meter.CounterKind{k0, k1})
	if f.RejectKinds {
		return meter.ErrPairRejected
	}
	f.Snap.Kind0 = k0
	f.Snap.Kind1 = k1
	return nil
}

// SetWakePeriod records the requested period.
func (f *FakePeripheral) SetWakePeriod(minutes uint16) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.WakePeriods = append(f.WakePeriods, minutes)
	return nil
}

// Sleep counts the call.
func (f *FakePeripheral) Sleep() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.SleepCalls++
	return nil
}
