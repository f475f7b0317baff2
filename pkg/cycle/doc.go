// Package cycle orchestrates one wake-to-sleep cycle: read the
// peripheral, synchronize configuration, decide whether to transmit,
// send readings, and persist state before sleep.
//
// The whole pipeline is a single thread of control. Configuration
// synchronization is best effort and never blocks the measuring duty;
// an accepted configuration change persists settings and restarts the
// process, which is the only way a change reaches the next cycle.
package cycle
