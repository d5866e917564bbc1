package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
)

// StaticWorker replays a fixed PassOutput. It backs fixture-driven runs and
// tests.
type StaticWorker struct {
	name   string
	output PassOutput
}

// NewStatic returns a worker that always produces out.
func NewStatic(name string, out PassOutput) *StaticWorker {
	return &StaticWorker{name: name, output: out.Clone()}
}

// LoadStatic reads a PassOutput JSON fixture from path.
func LoadStatic(name, path string) (*StaticWorker, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read fixture: %w", err)
	}
	out, err := DecodeOutput(name, data)
	if err != nil {
		return nil, err
	}
	return &StaticWorker{name: name, output: out}, nil
}

func (w *StaticWorker) Name() string { return w.name }

// Invoke returns a copy of the fixture output.
func (w *StaticWorker) Invoke(ctx context.Context, _ Request) (PassOutput, error) {
	if err := ctx.Err(); err != nil {
		return PassOutput{}, NewWorkerError(w.name, "", err)
	}
	return w.output.Clone(), nil
}

// DecodeOutput parses a PassOutput document strictly. Unknown fields and
// trailing data are schema violations.
func DecodeOutput(worker string, data []byte) (PassOutput, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	var out PassOutput
	if err := dec.Decode(&out); err != nil {
		return PassOutput{}, &SchemaError{Worker: worker, Violations: []string{fmt.Sprintf("decode output: %v", err)}}
	}
	if dec.More() {
		return PassOutput{}, &SchemaError{Worker: worker, Violations: []string{"trailing data after output document"}}
	}
	return out, nil
}
