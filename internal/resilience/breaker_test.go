package resilience

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBreaker_OpensAfterConsecutiveFailures(t *testing.T) {
	opened := 0
	b := NewBreaker(3, func(int) { opened++ })
	fail := errors.New("down")

	b.Record(fail, nil)
	b.Record(fail, nil)
	b.Record(nil, nil)
	b.Record(fail, nil)
	b.Record(fail, nil)
	assert.NoError(t, b.Allow())

	b.Record(fail, nil)
	assert.True(t, b.Open())
	assert.ErrorIs(t, b.Allow(), ErrBreakerOpen)
	b.Record(fail, nil)
	assert.Equal(t, 1, opened)

	b.Reset()
	assert.NoError(t, b.Allow())
}

func TestBreaker_IgnoresUncountedErrors(t *testing.T) {
	b := NewBreaker(1, nil)
	b.Record(errors.New("content"), func(error) bool { return false })
	assert.False(t, b.Open())
}

func TestBreaker_ZeroThresholdNeverOpens(t *testing.T) {
	b := NewBreaker(0, nil)
	for i := 0; i < 100; i++ {
		b.Record(errors.New("x"), nil)
	}
	assert.False(t, b.Open())
}
