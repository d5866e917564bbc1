package health

import (
	"context"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	clientv3 "go.etcd.io/etcd/client/v3"

	"github.com/zero-day-ai/auditcore/exec"
)

// State is the outcome of a check.
type State string

const (
	StateHealthy   State = "healthy"
	StateDegraded  State = "degraded"
	StateUnhealthy State = "unhealthy"
)

// DefaultCheckTimeout bounds checks that talk to a process or the network
// when the caller's context has no deadline.
const DefaultCheckTimeout = 5 * time.Second

// Status is the result of one check.
type Status struct {
	State   State          `json:"state"`
	Message string         `json:"message,omitempty"`
	Details map[string]any `json:"details,omitempty"`
}

func (s Status) IsHealthy() bool   { return s.State == StateHealthy }
func (s Status) IsDegraded() bool  { return s.State == StateDegraded }
func (s Status) IsUnhealthy() bool { return s.State == StateUnhealthy }

func healthy(format string, args ...any) Status {
	return Status{State: StateHealthy, Message: fmt.Sprintf(format, args...)}
}

func degraded(details map[string]any, format string, args ...any) Status {
	return Status{State: StateDegraded, Message: fmt.Sprintf(format, args...), Details: details}
}

func unhealthy(details map[string]any, format string, args ...any) Status {
	return Status{State: StateUnhealthy, Message: fmt.Sprintf(format, args...), Details: details}
}

// BinaryCheck verifies that name resolves to an executable. Names
// containing a path separator are checked as files.
func BinaryCheck(name string) Status {
	if name == "" {
		return unhealthy(nil, "binary name cannot be empty")
	}
	path, err := exec.BinaryPath(name)
	if err != nil {
		return unhealthy(map[string]any{"binary": name, "error": err.Error()},
			"binary %q not found", name)
	}
	return healthy("binary %q found at %s", name, path)
}

// BinaryVersionCheck runs name with versionFlag and compares the first
// dotted version in its output against minVersion.
func BinaryVersionCheck(ctx context.Context, name, minVersion, versionFlag string) Status {
	if st := BinaryCheck(name); !st.IsHealthy() {
		return st
	}
	if versionFlag == "" {
		versionFlag = "--version"
	}

	res, err := exec.Run(ctx, exec.Config{
		Command: name,
		Args:    []string{versionFlag},
		Timeout: DefaultCheckTimeout,
	})
	if err != nil {
		return unhealthy(map[string]any{"binary": name, "error": err.Error()},
			"failed to get version for %q", name)
	}

	output := string(res.Stdout) + string(res.Stderr)
	version := parseVersion(output)
	if version == "" {
		return degraded(map[string]any{"binary": name, "output": strings.TrimSpace(output)},
			"could not parse version from %q output", name)
	}
	if minVersion != "" && compareVersions(version, minVersion) < 0 {
		return unhealthy(map[string]any{"binary": name, "version": version, "min_version": minVersion},
			"%s %s is older than %s", name, version, minVersion)
	}
	return healthy("%s version %s", name, version)
}

// NetworkCheck dials address ("host:port") over TCP.
func NetworkCheck(ctx context.Context, address string) Status {
	host, port, err := net.SplitHostPort(address)
	if err != nil || host == "" {
		return unhealthy(map[string]any{"address": address}, "invalid address %q", address)
	}
	if n, err := strconv.Atoi(port); err != nil || n <= 0 || n > 65535 {
		return unhealthy(map[string]any{"address": address}, "invalid port in %q", address)
	}

	ctx, cancel := withDefaultTimeout(ctx)
	defer cancel()

	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		return unhealthy(map[string]any{"address": address, "error": err.Error()},
			"failed to connect to %s", address)
	}
	conn.Close()
	return healthy("connected to %s", address)
}

// FileCheck verifies that path exists.
func FileCheck(path string) Status {
	if path == "" {
		return unhealthy(nil, "path cannot be empty")
	}
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return unhealthy(map[string]any{"path": path}, "%s does not exist", path)
	}
	if err != nil {
		return unhealthy(map[string]any{"path": path, "error": err.Error()}, "failed to stat %s", path)
	}
	if info.IsDir() {
		return healthy("directory %s exists", path)
	}
	return healthy("file %s exists", path)
}

// DirCheck verifies that path is a writable directory, creating it when
// missing.
func DirCheck(path string) Status {
	if err := os.MkdirAll(path, 0o755); err != nil {
		return unhealthy(map[string]any{"path": path, "error": err.Error()}, "cannot create %s", path)
	}
	tmp, err := os.CreateTemp(path, ".health-*")
	if err != nil {
		return unhealthy(map[string]any{"path": path, "error": err.Error()}, "%s is not writable", path)
	}
	name := tmp.Name()
	tmp.Close()
	os.Remove(name)
	return healthy("directory %s is writable", path)
}

// RedisCheck pings the Redis server at url.
func RedisCheck(ctx context.Context, url string) Status {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return unhealthy(map[string]any{"url": url, "error": err.Error()}, "invalid Redis URL")
	}
	client := redis.NewClient(opts)
	defer client.Close()

	ctx, cancel := withDefaultTimeout(ctx)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return unhealthy(map[string]any{"addr": opts.Addr, "error": err.Error()},
			"redis at %s is unreachable", opts.Addr)
	}
	return healthy("redis at %s answered", opts.Addr)
}

// EtcdCheck asks every endpoint for its status. Some endpoints failing
// while others answer is degraded.
func EtcdCheck(ctx context.Context, endpoints []string, dialTimeout time.Duration) Status {
	if len(endpoints) == 0 {
		return unhealthy(nil, "no etcd endpoints configured")
	}
	if dialTimeout <= 0 {
		dialTimeout = DefaultCheckTimeout
	}
	client, err := clientv3.New(clientv3.Config{Endpoints: endpoints, DialTimeout: dialTimeout})
	if err != nil {
		return unhealthy(map[string]any{"endpoints": endpoints, "error": err.Error()}, "failed to create etcd client")
	}
	defer client.Close()

	ctx, cancel := withDefaultTimeout(ctx)
	defer cancel()

	var failed []string
	for _, ep := range endpoints {
		if _, err := client.Status(ctx, ep); err != nil {
			failed = append(failed, ep)
		}
	}
	switch {
	case len(failed) == len(endpoints):
		return unhealthy(map[string]any{"endpoints": endpoints}, "no etcd endpoint answered")
	case len(failed) > 0:
		return degraded(map[string]any{"failed": failed}, "%d of %d etcd endpoints answered",
			len(endpoints)-len(failed), len(endpoints))
	}
	return healthy("%d etcd endpoint(s) answered", len(endpoints))
}

// Combine folds statuses into one: unhealthy if any is unhealthy, else
// degraded if any is degraded, else healthy.
func Combine(statuses ...Status) Status {
	if len(statuses) == 0 {
		return healthy("no checks provided")
	}

	var bad, weak []string
	for _, st := range statuses {
		msg := st.Message
		if msg == "" {
			msg = "unnamed check"
		}
		switch st.State {
		case StateUnhealthy:
			bad = append(bad, msg)
		case StateDegraded:
			weak = append(weak, msg)
		}
	}

	if len(bad) > 0 {
		return unhealthy(map[string]any{
			"total":         len(statuses),
			"unhealthy":     len(bad),
			"degraded":      len(weak),
			"failed_checks": bad,
		}, "%d check(s) failed", len(bad))
	}
	if len(weak) > 0 {
		return degraded(map[string]any{
			"total":           len(statuses),
			"degraded":        len(weak),
			"degraded_checks": weak,
		}, "%d check(s) degraded", len(weak))
	}
	return healthy("all %d check(s) passed", len(statuses))
}

func withDefaultTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, DefaultCheckTimeout)
}

// parseVersion returns the first token of output that looks like a dotted
// version, without a leading "v".
func parseVersion(output string) string {
	for _, field := range strings.Fields(output) {
		field = strings.TrimLeft(field, "vV")
		if v := leadingVersion(field); v != "" {
			return v
		}
	}
	return ""
}

// leadingVersion extracts up to three numeric components from the start
// of s. At least two components are required.
func leadingVersion(s string) string {
	var parts []string
	for _, p := range strings.SplitN(s, ".", 3) {
		end := 0
		for end < len(p) && p[end] >= '0' && p[end] <= '9' {
			end++
		}
		if end == 0 {
			break
		}
		parts = append(parts, p[:end])
		if end < len(p) {
			break
		}
	}
	if len(parts) < 2 {
		return ""
	}
	return strings.Join(parts, ".")
}

// compareVersions compares dotted numeric versions component-wise, treating
// missing components as zero.
func compareVersions(a, b string) int {
	as, bs := strings.Split(a, "."), strings.Split(b, ".")
	for i := 0; i < len(as) || i < len(bs); i++ {
		var x, y int
		if i < len(as) {
			x, _ = strconv.Atoi(as[i])
		}
		if i < len(bs) {
			y, _ = strconv.Atoi(bs[i])
		}
		if x != y {
			if x < y {
				return -1
			}
			return 1
		}
	}
	return 0
}
