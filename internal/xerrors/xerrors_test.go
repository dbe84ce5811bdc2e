package xerrors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorMessageIncludesCauseWhenPresent(t *testing.T) {
	cause := errors.New("dial tcp: connection refused")
	err := New(KindNetwork, "fetch failed", cause)
	assert.Equal(t, "NetworkError: fetch failed: dial tcp: connection refused", err.Error())
}

func TestErrorMessageOmitsCauseWhenNil(t *testing.T) {
	err := New(KindConfig, "missing output dir", nil)
	assert.Equal(t, "ConfigError: missing output dir", err.Error())
}

func TestIsMatchesThroughWrapping(t *testing.T) {
	base := New(KindRateLimited, "circuit open", nil)
	wrapped := fmt.Errorf("fetch: %w", base)
	assert.True(t, Is(wrapped, KindRateLimited))
	assert.False(t, Is(wrapped, KindNetwork))
}

func TestIsFalseForUntaggedError(t *testing.T) {
	assert.False(t, Is(errors.New("plain error"), KindUnknown))
}

func TestKindOfExtractsOrDefaultsToUnknown(t *testing.T) {
	assert.Equal(t, KindParse, KindOf(New(KindParse, "bad json", nil)))
	assert.Equal(t, KindUnknown, KindOf(errors.New("plain error")))
}

func TestUnwrapExposesCause(t *testing.T) {
	cause := errors.New("root cause")
	err := New(KindIO, "write failed", cause)
	assert.Equal(t, cause, errors.Unwrap(err))
}
