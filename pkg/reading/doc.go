// Package reading computes the per-cycle meter values transmitted to the
// cloud: consumption deltas against the persisted impulse baselines and
// the channel face values derived from the start readings and impulse
// weights. Channel values are fixed-point with three decimal places.
package reading
