package health

import (
	"context"
	"path/filepath"
	"strings"
	"sync"

	"github.com/zero-day-ai/auditcore/config"
	"github.com/zero-day-ai/auditcore/staticanalysis"
)

// Check is a named health check.
type Check struct {
	Name string
	Run  func(ctx context.Context) Status
}

// Result pairs a check name with its outcome.
type Result struct {
	Name   string `json:"name"`
	Status Status `json:"status"`
}

// Plan lists the checks implied by cfg, in a stable order.
func Plan(cfg *config.Config) []Check {
	var checks []Check
	add := func(name string, run func(ctx context.Context) Status) {
		checks = append(checks, Check{Name: name, Run: run})
	}

	checks = append(checks, Check{Name: "config", Run: func(context.Context) Status {
		if err := cfg.Validate(); err != nil {
			return unhealthy(map[string]any{"error": err.Error()}, "configuration is invalid")
		}
		return healthy("%d worker(s) declared", len(cfg.Workers))
	}})

	queue := false
	for i := range cfg.Workers {
		wc := cfg.Workers[i]
		switch wc.Transport() {
		case "command":
			bin := wc.Command[0]
			if wd := cfg.Resolve(wc.WorkDir); wd != "" && strings.ContainsRune(bin, filepath.Separator) && !filepath.IsAbs(bin) {
				bin = filepath.Join(wd, bin)
			}
			add("worker "+wc.Name, func(context.Context) Status { return BinaryCheck(bin) })
		case "output":
			path := cfg.Resolve(wc.Output)
			add("worker "+wc.Name, func(context.Context) Status { return FileCheck(path) })
		case "queue":
			queue = true
		}
	}

	if sa := cfg.StaticAnalysis; sa != nil {
		for _, in := range sa.Inputs {
			path := cfg.Resolve(in)
			add("static input "+in, func(context.Context) Status { return FileCheck(path) })
		}
		if sl := sa.Slither; sl != nil && sl.Enabled {
			bin := sl.Binary
			if bin == "" {
				bin = staticanalysis.DefaultSlitherBinary
			}
			add("slither", func(ctx context.Context) Status { return BinaryVersionCheck(ctx, bin, "", "--version") })
		}
	}

	if queue {
		url := cfg.Queue.GetRedisURL()
		add("queue", func(ctx context.Context) Status { return RedisCheck(ctx, url) })
	}

	if st := cfg.State; st != nil && st.RedisURL != "" {
		url := st.RedisURL
		add("state", func(ctx context.Context) Status { return RedisCheck(ctx, url) })
	} else {
		dir := cfg.Resolve(cfg.State.GetDir())
		add("state", func(context.Context) Status { return DirCheck(dir) })
	}

	if ki := cfg.KnownIndex; ki != nil {
		if ki.File != "" {
			path := cfg.Resolve(ki.File)
			add("known findings file", func(context.Context) Status { return FileCheck(path) })
		}
		if e := ki.Etcd; e != nil {
			endpoints, timeout := e.Endpoints, e.GetDialTimeout()
			add("known findings etcd", func(ctx context.Context) Status { return EtcdCheck(ctx, endpoints, timeout) })
		}
	}
	return checks
}

// Run executes checks concurrently and returns results in check order.
func Run(ctx context.Context, checks []Check) []Result {
	results := make([]Result, len(checks))
	var wg sync.WaitGroup
	for i, c := range checks {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = Result{Name: c.Name, Status: c.Run(ctx)}
		}()
	}
	wg.Wait()
	return results
}

// Statuses extracts the statuses of results.
func Statuses(results []Result) []Status {
	out := make([]Status, len(results))
	for i, r := range results {
		out[i] = r.Status
	}
	return out
}
