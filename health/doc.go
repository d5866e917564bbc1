// Package health verifies that the environment an audit depends on is in
// place before a run starts.
//
// The primitives check one thing each: a binary on PATH, a minimum tool
// version, TCP reachability, a file, a Redis server or an etcd cluster.
// Plan turns an audit configuration into the list of checks it implies
// (worker commands, fixture files, static-analysis inputs, the slither
// binary, the queue and state backends and the known-findings cluster),
// and Run executes them.
//
//	results := health.Run(ctx, health.Plan(cfg))
//	for _, r := range results {
//	    fmt.Printf("%-10s %-30s %s\n", r.Status.State, r.Name, r.Status.Message)
//	}
//	if health.Combine(health.Statuses(results)...).IsUnhealthy() {
//	    os.Exit(1)
//	}
//
// A degraded status means the dependency exists but could not be fully
// verified, for instance a tool whose version output did not parse.
package health
