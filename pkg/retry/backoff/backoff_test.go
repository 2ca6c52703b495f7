package backoff

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestConstant(t *testing.T) {
	s := Constant(100 * time.Millisecond)

	for i := uint(1); i < 10; i++ {
		assert.Equal(t, 100*time.Millisecond, s(i))
	}
}

func TestExponential(t *testing.T) {
	s := Exponential(2*time.Second, 3.0)

	for _, tc := range []struct {
		attempts uint
		expected time.Duration
	}{
		{0, 2 * time.Second},
		{1, 2 * time.Second},
		{2, 6 * time.Second},
		{3, 18 * time.Second},
		{4, 54 * time.Second},
	} {
		assert.Equal(t, tc.expected, s(tc.attempts), "attempts=%d", tc.attempts)
	}
}

func TestExponential_Saturates(t *testing.T) {
	s := BinaryExponential(250 * time.Millisecond)

	assert.Equal(t, time.Duration(math.MaxInt64), s(100))
	assert.Equal(t, time.Duration(math.MaxInt64), s(math.MaxUint32))
}

func TestBinaryExponential(t *testing.T) {
	s := BinaryExponential(250 * time.Millisecond)

	assert.Equal(t, 250*time.Millisecond, s(1))
	assert.Equal(t, 500*time.Millisecond, s(2))
	assert.Equal(t, time.Second, s(3))
	assert.Equal(t, 2*time.Second, s(4))
}
