// Package settings holds the persistent device configuration and
// cross-cycle state.
//
// The Settings record is owned exclusively by the current wake cycle and
// persisted at well-defined checkpoints: immediately before any triggered
// restart, and at cycle end. There is no concurrent access between cycles
// because the device sleeps in between.
//
// The restart guard (RestartState) is part of Settings so the "set once,
// clear once" invariant of the reboot-loop guard survives a restart.
package settings
