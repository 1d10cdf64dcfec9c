// Package omnicache implements a time-indexed sample cache for iterative
// simulations (cloth, particles, fluids, and similar step-driven solvers).
//
// A host simulator advances time step by step and, for each step, hands the
// cache a bundle of opaque per-sample data through a small set of
// host-supplied callbacks (Counter, Writer, Reader, MetaGenerator). The
// cache stores samples keyed by time, tracks per-sample and per-block
// validity/freshness, supports sparse sub-step insertion between whole time
// steps, permits partial invalidation of trailing samples, and serializes
// its index (not the sample payload) to a flat buffer the host can persist
// alongside its own document.
//
// The cache does not interpret block contents, does not interpolate between
// samples (the hooks exist; the implementation is stubbed), does not
// persist raw sample data, does not schedule work across goroutines, and
// does not bound total memory. Values of Cache are not safe for concurrent
// use; callers needing concurrent access must synchronize externally.
package omnicache
