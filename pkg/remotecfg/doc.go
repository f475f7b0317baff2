// Package remotecfg implements remote configuration synchronization: the
// bounded response validator, the /cfg fetcher, document authentication,
// and the per-field settings merge engine.
//
// # Trust Model
//
// A configuration document is attacker-controlled until Authenticate has
// confirmed the embedded device key. Responses are size-bounded before any
// body read so a hostile or broken server cannot exhaust the device's
// memory. Every rejection here is non-fatal to the wake cycle: the device
// always proceeds to measure and, if due, transmit.
//
// # Merge Policy
//
// Each recognized field applies independently: present, correctly typed,
// within its declared bounds, and past its dependency gate - or silently
// skipped without affecting the rest of the document. String values that
// exceed their fixed-size storage are rejected, not truncated. The counter
// kind pair is the one cross-field special case: both target values travel
// to the peripheral as a single atomic call, with any absent member taken
// from the cycle's meter.SessionContext.
//
// A document is applied at most once per wake cycle, whether it arrived
// from a dedicated fetch or embedded in a data-submission response.
package remotecfg
