package errors

import (
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_DerivesCategoryAndSeverity(t *testing.T) {
	err := New(ErrCodeFileUnparsable, "truncated header", nil)

	assert.Equal(t, CategoryFile, err.Category)
	assert.Equal(t, SeverityError, err.Severity)
	assert.False(t, err.Retryable)
}

func TestNew_FatalCodes(t *testing.T) {
	err := Corruption("duplicate path with divergent fingerprints", nil)

	assert.Equal(t, CategoryCatalog, err.Category)
	assert.Equal(t, SeverityFatal, err.Severity)
	assert.True(t, IsFatal(err))
}

func TestNew_RetryableCodes(t *testing.T) {
	err := New(ErrCodeExtractTimeout, "extraction exceeded deadline", nil)

	assert.True(t, err.Retryable)
	assert.True(t, IsRetryable(err))
	assert.Equal(t, SeverityWarning, err.Severity)
}

func TestWrap_NilReturnsNil(t *testing.T) {
	assert.Nil(t, Wrap(ErrCodeFileUnreadable, nil))
}

func TestErrorChain_UnwrapAndIs(t *testing.T) {
	cause := fmt.Errorf("read: permission denied")
	err := Unreadable("/data/exp1/ocean.nc", cause)

	// Unwrap reaches the cause
	require.ErrorIs(t, err, cause)

	// Is matches by code, not message
	assert.True(t, stderrors.Is(err, New(ErrCodeFileUnreadable, "other message", nil)))
	assert.False(t, stderrors.Is(err, New(ErrCodeFileUnparsable, "other message", nil)))
}

func TestWithDetail(t *testing.T) {
	err := Unparsable("out.nc", nil).WithDetail("reason", "bad magic")

	assert.Equal(t, "out.nc", err.Details["path"])
	assert.Equal(t, "bad magic", err.Details["reason"])
}

func TestMetadataConflict_IsWarning(t *testing.T) {
	err := New(ErrCodeMetadataConflict, "units mismatch for temp", nil)

	assert.Equal(t, SeverityWarning, err.Severity)
	assert.False(t, IsFatal(err))
}

func TestGetCode_NonCatalogError(t *testing.T) {
	assert.Equal(t, "", GetCode(fmt.Errorf("plain")))
	assert.Equal(t, ErrCodeStaleWriter, GetCode(New(ErrCodeStaleWriter, "lost race", nil)))
}
