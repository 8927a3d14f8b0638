package errors_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgerrors "github.com/agentstation/syncledger/pkg/errors"
)

func TestNew(t *testing.T) {
	err := pkgerrors.New("test error")
	assert.NotNil(t, err)
	assert.Equal(t, "test error", err.Error())
}

func TestNotFoundError(t *testing.T) {
	t.Run("basic error", func(t *testing.T) {
		err := &pkgerrors.NotFoundError{
			Resource: "conflict",
			ID:       "c-1",
		}
		assert.Equal(t, "conflict with ID c-1 not found", err.Error())
		assert.True(t, errors.Is(err, pkgerrors.ErrNotFound))
	})

	t.Run("wrapped error", func(t *testing.T) {
		base := pkgerrors.NewNotFoundError("sync_run", "r-1")
		wrapped := fmt.Errorf("loading run: %w", base)
		assert.True(t, pkgerrors.IsNotFound(wrapped))
	})
}

func TestValidationError(t *testing.T) {
	t.Run("with field", func(t *testing.T) {
		err := pkgerrors.NewValidationError("email", "", "cannot be empty")
		assert.Equal(t, "validation failed for field email: cannot be empty", err.Error())
		assert.True(t, pkgerrors.IsValidationError(err))
	})

	t.Run("without field", func(t *testing.T) {
		err := &pkgerrors.ValidationError{Message: "bad batch"}
		assert.Equal(t, "validation failed: bad batch", err.Error())
	})

	t.Run("wrap nil", func(t *testing.T) {
		assert.NoError(t, pkgerrors.WrapValidation("field", nil))
	})
}

func TestTransitionError(t *testing.T) {
	tests := []struct {
		name     string
		err      *pkgerrors.TransitionError
		sentinel error
		contains string
	}{
		{
			name:     "conflict",
			err:      pkgerrors.NewTransitionError("conflict", "c-1", "RESOLVED", "IGNORED"),
			sentinel: pkgerrors.ErrAlreadyResolved,
			contains: "already resolved",
		},
		{
			name:     "sync run",
			err:      pkgerrors.NewTransitionError("sync_run", "r-1", "completed", "failed"),
			sentinel: pkgerrors.ErrAlreadyTerminal,
			contains: "already finished",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, tt.err, tt.sentinel)
			assert.Contains(t, tt.err.Error(), tt.contains)
		})
	}

	t.Run("unknown resource matches nothing", func(t *testing.T) {
		err := pkgerrors.NewTransitionError("widget", "w", "a", "b")
		assert.False(t, errors.Is(err, pkgerrors.ErrAlreadyResolved))
		assert.False(t, errors.Is(err, pkgerrors.ErrAlreadyTerminal))
	})
}

func TestStoreError(t *testing.T) {
	base := errors.New("connection refused")
	err := pkgerrors.WrapStore("insert", "conflicts", base)
	require.Error(t, err)

	assert.ErrorIs(t, err, base)
	assert.ErrorIs(t, err, pkgerrors.ErrStoreUnavailable)
	assert.Contains(t, err.Error(), "conflicts")

	assert.NoError(t, pkgerrors.WrapStore("insert", "conflicts", nil))
}

func TestResourceError(t *testing.T) {
	base := errors.New("boom")
	err := pkgerrors.WrapResource("build", "snapshot", "u-1", base)

	var resErr *pkgerrors.ResourceError
	require.True(t, errors.As(err, &resErr))
	assert.Equal(t, "snapshot", resErr.Resource)
	assert.Equal(t, "failed to build snapshot u-1: boom", err.Error())
	assert.ErrorIs(t, err, base)
}

func TestConfigAndParseErrors(t *testing.T) {
	cfgErr := pkgerrors.NewConfigError("rules", "unknown action", nil)
	assert.Equal(t, "configuration error in rules: unknown action", cfgErr.Error())

	parseErr := pkgerrors.WrapParse("yaml", "rules.yaml", errors.New("line 3"))
	assert.Equal(t, "parse error in yaml file rules.yaml: line 3", parseErr.Error())
}
