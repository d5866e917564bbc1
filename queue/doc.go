// Package queue carries audit work between the scheduler and remote
// workers over Redis.
//
// The scheduler pushes a WorkItem describing one worker invocation onto the
// worker's list and waits on a per-job pub/sub channel. Remote processes
// (see worker.Serve) pop items, run the analysis and publish a Result.
//
// # Redis Key Schema
//
//   - audit:<name>:queue   list of work items (LPUSH/BRPOP)
//   - audit:<name>:meta    hash of worker metadata
//   - audit:<name>:health  heartbeat string with a 30s TTL
//   - audit:<name>:workers active worker counter
//   - audit:workers        set of registered worker names
//   - results:<jobID>      pub/sub channel for the job's result
//
// RedisClient is safe for concurrent use by multiple goroutines.
package queue
