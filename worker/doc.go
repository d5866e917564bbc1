// Package worker defines the contract between the scheduler and the
// analysis units it drives.
//
// A Worker receives a Request (the pass, its scope and a read-only store
// snapshot) and returns a PassOutput. What sits behind the interface is
// opaque to the core: an in-process function, a fixture replay, a
// subprocess speaking JSON on stdin/stdout, or a remote process reached
// through a Redis queue. Registry selects the implementation for a
// (protocol, pass) pair.
//
// Errors returned by workers are classified (see ErrorClass) so the
// scheduler can decide whether a failed fan-out task is worth retrying.
// Output that violates the canonical schema is reported as a SchemaError
// by Validate and is never merged.
package worker
