package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/zero-day-ai/auditcore/finding"
)

// State is everything a later run needs to continue from this one.
type State struct {
	RunID    string             `json:"run_id"`
	Target   string             `json:"target,omitempty"`
	SavedAt  time.Time          `json:"saved_at"`
	Snapshot *Snapshot          `json:"snapshot"`
	Evidence []finding.Evidence `json:"evidence,omitempty"`
}

// Persister saves and restores run state.
type Persister interface {
	// Save replaces the stored state.
	Save(ctx context.Context, state *State) error

	// Load returns the stored state, or ErrNoState if nothing was saved.
	Load(ctx context.Context) (*State, error)

	// Archive keeps a copy of state under its run id. The current state is
	// left in place.
	Archive(ctx context.Context, state *State) error
}

func archiveID(state *State) (string, error) {
	if state == nil || state.RunID == "" {
		return "", errors.New("archive state: run id is required")
	}
	return state.RunID, nil
}

// FilePersister keeps state in a JSON file.
type FilePersister struct {
	Path string
}

// NewFilePersister returns a persister writing <dir>/state.json.
func NewFilePersister(dir string) *FilePersister {
	return &FilePersister{Path: filepath.Join(dir, "state.json")}
}

// Save writes the state atomically through a temporary file and rename.
func (p *FilePersister) Save(_ context.Context, state *State) error {
	return writeState(p.Path, state)
}

// ArchivePath is where Archive writes the state of runID:
// state-<runID>.json next to the current state file.
func (p *FilePersister) ArchivePath(runID string) string {
	return filepath.Join(filepath.Dir(p.Path), "state-"+runID+".json")
}

// Archive implements Persister.
func (p *FilePersister) Archive(_ context.Context, state *State) error {
	id, err := archiveID(state)
	if err != nil {
		return err
	}
	return writeState(p.ArchivePath(id), state)
}

func writeState(path string, state *State) error {
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".state-*.json")
	if err != nil {
		return fmt.Errorf("create temp state file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write state: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close state file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace state file: %w", err)
	}
	return nil
}

// Load reads the state file.
func (p *FilePersister) Load(_ context.Context) (*State, error) {
	data, err := os.ReadFile(p.Path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNoState
		}
		return nil, fmt.Errorf("read state: %w", err)
	}
	return decodeState(data)
}

// RedisPersister keeps state under a single Redis key.
type RedisPersister struct {
	client *redis.Client
	key    string
}

// NewRedisPersister returns a persister storing state at key. An empty key
// defaults to "audit:state".
func NewRedisPersister(client *redis.Client, key string) *RedisPersister {
	if key == "" {
		key = "audit:state"
	}
	return &RedisPersister{client: client, key: key}
}

// Save stores the state as JSON.
func (p *RedisPersister) Save(ctx context.Context, state *State) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}
	if err := p.client.Set(ctx, p.key, data, 0).Err(); err != nil {
		return fmt.Errorf("save state to %s: %w", p.key, err)
	}
	return nil
}

// ArchiveKey is where Archive stores the state of runID: <key>:<runID>.
func (p *RedisPersister) ArchiveKey(runID string) string {
	return p.key + ":" + runID
}

// Archive implements Persister.
func (p *RedisPersister) Archive(ctx context.Context, state *State) error {
	id, err := archiveID(state)
	if err != nil {
		return err
	}
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}
	key := p.ArchiveKey(id)
	if err := p.client.Set(ctx, key, data, 0).Err(); err != nil {
		return fmt.Errorf("archive state to %s: %w", key, err)
	}
	return nil
}

// Load fetches the state.
func (p *RedisPersister) Load(ctx context.Context) (*State, error) {
	data, err := p.client.Get(ctx, p.key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNoState
		}
		return nil, fmt.Errorf("load state from %s: %w", p.key, err)
	}
	return decodeState(data)
}

func decodeState(data []byte) (*State, error) {
	var state State
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("decode state: %w", err)
	}
	if state.Snapshot == nil {
		state.Snapshot = newSnapshot(nil, nil, nil, nil, 0)
	}
	return &state, nil
}
