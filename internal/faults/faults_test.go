package faults

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorsIsMatchesByKind(t *testing.T) {
	err := New(KindInvalidTransaction, "value is negative: %d", -5)

	assert.True(t, errors.Is(err, ErrInvalidTransaction))
	assert.False(t, errors.Is(err, ErrUnsupportedMeasure))
	assert.Equal(t, "invalid_transaction: value is negative: -5", err.Error())
}

func TestWrapKeepsCause(t *testing.T) {
	err := Wrap(KindExecutionTimeout, context.DeadlineExceeded, "no receipt")

	assert.True(t, errors.Is(err, ErrExecutionTimeout))
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestKindOf(t *testing.T) {
	wrapped := fmt.Errorf("apply: %w", New(KindUnsupportedMeasure, "measure %q", "teleport"))

	assert.Equal(t, KindUnsupportedMeasure, KindOf(wrapped))
	assert.Equal(t, Kind(""), KindOf(errors.New("plain")))
	assert.Equal(t, Kind(""), KindOf(nil))
}
