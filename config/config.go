// Package config loads audit.yaml. The file selects the protocol, tunes
// deduplication and scheduling, defines workers and points at state,
// queue, known-findings and static-analysis inputs.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// File names searched for in a directory, in order.
var fileNames = []string{"audit.yaml", "audit.yml"}

// Config represents an audit.yaml file.
type Config struct {
	// Protocol tag used to pick protocol-specific workers (e.g. "lending").
	// Empty selects the generic workers.
	Protocol string `yaml:"protocol,omitempty"`

	// Mode is the default run mode: quick, full or pass:N.
	Mode string `yaml:"mode,omitempty"`

	Dedup          *DedupConfig          `yaml:"dedup,omitempty"`
	Scheduler      *SchedulerConfig      `yaml:"scheduler,omitempty"`
	Workers        []WorkerConfig        `yaml:"workers,omitempty"`
	State          *StateConfig          `yaml:"state,omitempty"`
	Queue          *QueueConfig          `yaml:"queue,omitempty"`
	KnownIndex     *KnownIndexConfig     `yaml:"known_index,omitempty"`
	StaticAnalysis *StaticAnalysisConfig `yaml:"static_analysis,omitempty"`
	Logging        *LoggingConfig        `yaml:"logging,omitempty"`

	// dir is the directory the file was loaded from. Relative paths in the
	// file resolve against it.
	dir string
}

// DedupConfig tunes deduplication.
type DedupConfig struct {
	// Threshold is the evidence-location similarity a pair must exceed.
	// Default: 0.6
	Threshold float64 `yaml:"threshold,omitempty"`

	// AmbiguityFloor is the lower bound of the ambiguity band. Setting it
	// to the threshold disables ambiguity reporting.
	// Default: 0.5, or the threshold when that is lower
	AmbiguityFloor *float64 `yaml:"ambiguity_floor,omitempty"`

	// TieBreak is "insertion-order" (default) or "lexicographic-id".
	TieBreak string `yaml:"tie_break,omitempty"`
}

// GetThreshold returns the threshold or its default.
func (d *DedupConfig) GetThreshold() float64 {
	if d == nil || d.Threshold <= 0 {
		return 0.6
	}
	return d.Threshold
}

// GetAmbiguityFloor returns the ambiguity floor or its default.
func (d *DedupConfig) GetAmbiguityFloor() float64 {
	if d == nil || d.AmbiguityFloor == nil {
		return min(0.5, d.GetThreshold())
	}
	return *d.AmbiguityFloor
}

// GetTieBreak returns the tie-break rule or its default.
func (d *DedupConfig) GetTieBreak() string {
	if d == nil || d.TieBreak == "" {
		return "insertion-order"
	}
	return d.TieBreak
}

// SchedulerConfig bounds worker execution.
type SchedulerConfig struct {
	// TaskTimeout bounds each pass-7 task attempt, e.g. "5m".
	// Default: 5m
	TaskTimeout string `yaml:"task_timeout,omitempty"`

	// PassTimeout bounds each sequential pass. Default: no limit.
	PassTimeout string `yaml:"pass_timeout,omitempty"`

	// MaxRetries is the number of extra attempts after a transient or
	// timeout failure. Default: 1
	MaxRetries *int `yaml:"max_retries,omitempty"`
}

// GetTaskTimeout parses the task timeout, returning the default if unset or invalid.
func (s *SchedulerConfig) GetTaskTimeout() time.Duration {
	if s == nil {
		return 5 * time.Minute
	}
	return parseDuration(s.TaskTimeout, 5*time.Minute)
}

// GetPassTimeout parses the pass timeout. Zero means no limit.
func (s *SchedulerConfig) GetPassTimeout() time.Duration {
	if s == nil {
		return 0
	}
	return parseDuration(s.PassTimeout, 0)
}

// GetMaxRetries returns the retry budget or its default.
func (s *SchedulerConfig) GetMaxRetries() int {
	if s == nil || s.MaxRetries == nil || *s.MaxRetries < 0 {
		return 1
	}
	return *s.MaxRetries
}

// WorkerConfig defines one worker. Workers of the same pass and protocol
// get indices in the order they are listed.
type WorkerConfig struct {
	Name     string `yaml:"name"`
	Pass     int    `yaml:"pass"`
	Protocol string `yaml:"protocol,omitempty"`

	// Exactly one of Command, Queue and Output selects the transport.

	// Command runs a subprocess: argv[0] plus arguments.
	Command []string `yaml:"command,omitempty"`

	// Queue dispatches to remote workers listening on audit:<queue>:queue.
	Queue string `yaml:"queue,omitempty"`

	// Output replays a recorded PassOutput JSON file.
	Output string `yaml:"output,omitempty"`

	WorkDir string            `yaml:"work_dir,omitempty"`
	Env     map[string]string `yaml:"env,omitempty"`

	// Timeout bounds a subprocess run, e.g. "2m".
	Timeout string `yaml:"timeout,omitempty"`
}

// Transport names the configured worker transport.
func (w *WorkerConfig) Transport() string {
	switch {
	case len(w.Command) > 0:
		return "command"
	case w.Queue != "":
		return "queue"
	case w.Output != "":
		return "output"
	default:
		return ""
	}
}

// GetTimeout parses the worker timeout. Zero means the scheduler's limits apply.
func (w *WorkerConfig) GetTimeout() time.Duration {
	return parseDuration(w.Timeout, 0)
}

// EnvList renders Env as sorted KEY=value pairs appended to the current
// environment, or nil when no variables are set.
func (w *WorkerConfig) EnvList() []string {
	if len(w.Env) == 0 {
		return nil
	}
	env := os.Environ()
	keys := make([]string, 0, len(w.Env))
	for k := range w.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		env = append(env, k+"="+w.Env[k])
	}
	return env
}

// StateConfig selects where run state is persisted.
type StateConfig struct {
	// Dir holds state.json. Default: .audit
	Dir string `yaml:"dir,omitempty"`

	// RedisURL stores state in Redis instead of a file.
	RedisURL string `yaml:"redis_url,omitempty"`

	// Key is the Redis key. Default: audit:state
	Key string `yaml:"key,omitempty"`
}

// GetDir returns the state directory or its default.
func (s *StateConfig) GetDir() string {
	if s == nil || s.Dir == "" {
		return ".audit"
	}
	return s.Dir
}

// GetKey returns the Redis state key or its default.
func (s *StateConfig) GetKey() string {
	if s == nil || s.Key == "" {
		return "audit:state"
	}
	return s.Key
}

// QueueConfig configures the Redis work queue for remote workers.
type QueueConfig struct {
	RedisURL string `yaml:"redis_url,omitempty"`

	// BlockTimeout bounds each BRPOP round trip. Default: 1s
	BlockTimeout string `yaml:"block_timeout,omitempty"`
}

// GetRedisURL returns the queue URL or its default.
func (q *QueueConfig) GetRedisURL() string {
	if q == nil || q.RedisURL == "" {
		return "redis://localhost:6379"
	}
	return q.RedisURL
}

// GetBlockTimeout parses the block timeout, returning the default if unset or invalid.
func (q *QueueConfig) GetBlockTimeout() time.Duration {
	if q == nil {
		return time.Second
	}
	return parseDuration(q.BlockTimeout, time.Second)
}

// KnownIndexConfig points at previously known findings.
type KnownIndexConfig struct {
	// File is a YAML known-findings file.
	File string `yaml:"file,omitempty"`

	// Etcd looks findings up in an etcd cluster.
	Etcd *EtcdConfig `yaml:"etcd,omitempty"`
}

// EtcdConfig configures the etcd known-findings index.
type EtcdConfig struct {
	Endpoints   []string `yaml:"endpoints"`
	Namespace   string   `yaml:"namespace,omitempty"`
	DialTimeout string   `yaml:"dial_timeout,omitempty"`
	Username    string   `yaml:"username,omitempty"`
	Password    string   `yaml:"password,omitempty"`

	// TLS enables mutual TLS. Paths are relative to the config file.
	TLS *TLSConfig `yaml:"tls,omitempty"`

	// Publish stores the primary findings of every successful run so later
	// audits report them as known.
	Publish bool `yaml:"publish,omitempty"`
}

// TLSConfig names PEM files for a client TLS connection.
type TLSConfig struct {
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
	CAFile   string `yaml:"ca_file"`
}

// GetDialTimeout parses the dial timeout. Default: 5s
func (e *EtcdConfig) GetDialTimeout() time.Duration {
	return parseDuration(e.DialTimeout, 5*time.Second)
}

// StaticAnalysisConfig lists tool output to ingest.
type StaticAnalysisConfig struct {
	// Inputs are Slither JSON files produced ahead of the run.
	Inputs []string `yaml:"inputs,omitempty"`

	// Slither runs slither against the target when enabled.
	Slither *SlitherConfig `yaml:"slither,omitempty"`
}

// SlitherConfig configures a slither run.
type SlitherConfig struct {
	Enabled   bool     `yaml:"enabled"`
	Binary    string   `yaml:"binary,omitempty"`
	Detectors []string `yaml:"detectors,omitempty"`
	Args      []string `yaml:"args,omitempty"`
	Timeout   string   `yaml:"timeout,omitempty"`
}

// GetTimeout parses the slither timeout. Default: 10m
func (s *SlitherConfig) GetTimeout() time.Duration {
	return parseDuration(s.Timeout, 10*time.Minute)
}

// LoggingConfig configures the structured logger.
type LoggingConfig struct {
	// Level is debug, info, warn or error. Default: info
	Level string `yaml:"level,omitempty"`

	// Format is json or text. Default: json
	Format string `yaml:"format,omitempty"`
}

// GetLevel returns the log level or its default.
func (l *LoggingConfig) GetLevel() string {
	if l == nil || l.Level == "" {
		return "info"
	}
	return strings.ToLower(l.Level)
}

// GetFormat returns the log format or its default.
func (l *LoggingConfig) GetFormat() string {
	if l == nil || l.Format == "" {
		return "json"
	}
	return strings.ToLower(l.Format)
}

// Default returns an empty configuration; every getter yields its default.
func Default() *Config {
	return &Config{}
}

// Dir returns the directory the configuration was loaded from, or "" for
// a default configuration.
func (c *Config) Dir() string {
	return c.dir
}

// Resolve makes a path from the file relative to the file's directory.
// Absolute paths and empty strings are returned unchanged.
func (c *Config) Resolve(path string) string {
	if path == "" || filepath.IsAbs(path) || c.dir == "" {
		return path
	}
	return filepath.Join(c.dir, path)
}

// Validate checks the configuration. All problems are reported together.
func (c *Config) Validate() error {
	var errs []error
	if c.Dedup != nil {
		if c.Dedup.Threshold < 0 || c.Dedup.Threshold > 1 {
			errs = append(errs, fmt.Errorf("dedup.threshold must be in (0,1], got %v", c.Dedup.Threshold))
		}
		if floor := c.Dedup.GetAmbiguityFloor(); floor < 0 || floor > c.Dedup.GetThreshold() {
			errs = append(errs, fmt.Errorf("dedup.ambiguity_floor %v must be in [0, %v]", floor, c.Dedup.GetThreshold()))
		}
		switch c.Dedup.GetTieBreak() {
		case "insertion-order", "lexicographic-id":
		default:
			errs = append(errs, fmt.Errorf("dedup.tie_break %q is not insertion-order or lexicographic-id", c.Dedup.TieBreak))
		}
	}
	if c.Scheduler != nil {
		if v := c.Scheduler.TaskTimeout; v != "" {
			if _, err := time.ParseDuration(v); err != nil {
				errs = append(errs, fmt.Errorf("scheduler.task_timeout: %w", err))
			}
		}
		if v := c.Scheduler.PassTimeout; v != "" {
			if _, err := time.ParseDuration(v); err != nil {
				errs = append(errs, fmt.Errorf("scheduler.pass_timeout: %w", err))
			}
		}
	}
	seen := make(map[string]struct{}, len(c.Workers))
	for i := range c.Workers {
		w := &c.Workers[i]
		if w.Name == "" {
			errs = append(errs, fmt.Errorf("workers[%d]: name is required", i))
		}
		if _, dup := seen[w.Name]; dup && w.Name != "" {
			errs = append(errs, fmt.Errorf("workers[%d]: duplicate name %q", i, w.Name))
		}
		seen[w.Name] = struct{}{}
		if w.Pass < 0 {
			errs = append(errs, fmt.Errorf("workers[%d]: pass must not be negative", i))
		}
		n := 0
		for _, set := range []bool{len(w.Command) > 0, w.Queue != "", w.Output != ""} {
			if set {
				n++
			}
		}
		if n != 1 {
			errs = append(errs, fmt.Errorf("workers[%d] %s: exactly one of command, queue or output is required", i, w.Name))
		}
		if w.Timeout != "" {
			if _, err := time.ParseDuration(w.Timeout); err != nil {
				errs = append(errs, fmt.Errorf("workers[%d] %s: timeout: %w", i, w.Name, err))
			}
		}
	}
	if c.KnownIndex != nil && c.KnownIndex.Etcd != nil && len(c.KnownIndex.Etcd.Endpoints) == 0 {
		errs = append(errs, errors.New("known_index.etcd.endpoints cannot be empty"))
	}
	return errors.Join(errs...)
}

// Load reads and parses an audit.yaml file from the given path.
// If the path is a directory, it looks for audit.yaml or audit.yml in that directory.
func Load(path string) (*Config, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat path: %w", err)
	}

	configPath := path
	if info.IsDir() {
		configPath = ""
		for _, name := range fileNames {
			candidate := filepath.Join(path, name)
			if _, err := os.Stat(candidate); err == nil {
				configPath = candidate
				break
			}
		}
		if configPath == "" {
			return nil, fmt.Errorf("no audit.yaml or audit.yml found in %s", path)
		}
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", configPath, err)
	}
	if abs, err := filepath.Abs(filepath.Dir(configPath)); err == nil {
		cfg.dir = abs
	}
	return &cfg, nil
}

// LoadFromDir searches for audit.yaml starting from the given directory
// and walking up to parent directories until found or root is reached.
// A file that exists but does not parse stops the search.
func LoadFromDir(dir string) (*Config, error) {
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to get absolute path: %w", err)
	}

	for {
		if hasConfig(absDir) {
			return Load(absDir)
		}
		parent := filepath.Dir(absDir)
		if parent == absDir {
			return nil, fmt.Errorf("%w in %s or parent directories", ErrNotFound, dir)
		}
		absDir = parent
	}
}

// ErrNotFound is returned by LoadFromDir when no file exists.
var ErrNotFound = errors.New("no audit.yaml found")

// LoadOrDefault behaves like LoadFromDir but returns Default when no file exists.
func LoadOrDefault(dir string) (*Config, error) {
	cfg, err := LoadFromDir(dir)
	if errors.Is(err, ErrNotFound) {
		return Default(), nil
	}
	return cfg, err
}

func hasConfig(dir string) bool {
	for _, name := range fileNames {
		if _, err := os.Stat(filepath.Join(dir, name)); err == nil {
			return true
		}
	}
	return false
}

func parseDuration(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return def
	}
	return d
}
