package auditcore

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAuditError(t *testing.T) {
	base := errors.New("boom")

	tests := []struct {
		name string
		err  *AuditError
		want string
	}{
		{
			name: "with cause",
			err:  newError("Auditor.Run", KindState, base),
			want: "audit: Auditor.Run (state): boom",
		},
		{
			name: "without cause",
			err:  &AuditError{Op: "Auditor.Query", Kind: KindQuery},
			want: "audit: Auditor.Query: query",
		},
		{
			name: "with context",
			err:  newError("auditcore.New", KindConfiguration, base).WithContext(map[string]any{"path": "audit.yaml"}),
			want: "audit: auditcore.New (configuration): boom [context: map[path:audit.yaml]]",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.err.Error())
		})
	}
}

func TestAuditError_Is(t *testing.T) {
	err := newError("Auditor.Run", KindIngestion, ErrNoTarget)

	assert.ErrorIs(t, err, ErrNoTarget)
	assert.ErrorIs(t, err, &AuditError{Kind: KindIngestion})
	assert.ErrorIs(t, err, &AuditError{Kind: KindIngestion, Op: "Auditor.Run"})
	assert.NotErrorIs(t, err, &AuditError{Kind: KindIngestion, Op: "Auditor.Query"})
	assert.NotErrorIs(t, err, &AuditError{Kind: KindState})
	assert.Equal(t, ErrNoTarget, errors.Unwrap(err))
}

func TestAuditError_WithContextCopies(t *testing.T) {
	orig := newError("op", KindState, nil).WithContext(map[string]any{"a": 1})
	derived := orig.WithContext(map[string]any{"b": 2})

	assert.Len(t, orig.Context, 1)
	assert.Equal(t, map[string]any{"a": 1, "b": 2}, derived.Context)
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

func TestCloseWithLog(t *testing.T) {
	called := false
	CloseWithLog(closerFunc(func() error {
		called = true
		return errors.New("already closed")
	}), discardLogger(), "thing")
	assert.True(t, called)

	CloseWithLog(nil, nil, "nothing")
}
