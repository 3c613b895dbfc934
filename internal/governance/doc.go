// Package governance holds the runtime admission controls that sit in front of
// the upstream model provider: a sliding-window rate limiter and the timeout
// bound applied to each provider call.
//
// Both primitives are plain values injected into the governor. Neither keeps
// package-level state, so several independent governors can live in one
// process (tests rely on this).
package governance
