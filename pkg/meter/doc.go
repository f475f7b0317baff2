// Package meter models the attached pulse-counter peripheral.
//
// The peripheral is a separate low-power module queried over a local bus
// once per wake cycle. It owns the raw impulse counters and the physical
// counter input kinds. This package defines:
//
//   - CounterKind and CounterName enumerations
//   - Snapshot, the read-once per-cycle view of peripheral data
//   - Peripheral, the control contract the sync engine depends on
//   - SessionContext, the cycle-scoped intended-kind tracker
//
// # Session Context
//
// The peripheral's reported counter kind lags behind a just-requested
// change within the same cycle, and two independent update paths (a
// push-style single-field update and a full-document merge) may each want
// to change one counter while leaving the other untouched. SessionContext
// holds the currently intended kind per counter, lazily initialized from
// the cycle's Snapshot on first use. Every kind change goes through
// SessionContext.Submit, which builds the atomic pair from the context
// (never from the possibly-stale Snapshot) and updates the context only
// after the peripheral accepts the pair.
//
// A SessionContext lives for exactly one wake cycle. It is never
// persisted and never carried across a sleep boundary.
package meter
