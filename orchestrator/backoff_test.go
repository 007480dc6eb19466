package orchestrator

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestComputeDelay_DoublesUntilCap(t *testing.T) {
	base := 1 * time.Second
	cap := 30 * time.Second

	assert.Equal(t, 1*time.Second, computeDelay(1, base, cap))
	assert.Equal(t, 2*time.Second, computeDelay(2, base, cap))
	assert.Equal(t, 4*time.Second, computeDelay(3, base, cap))
	assert.Equal(t, 8*time.Second, computeDelay(4, base, cap))
	assert.Equal(t, 16*time.Second, computeDelay(5, base, cap))
}

func TestComputeDelay_ClampsAtCap(t *testing.T) {
	base := 1 * time.Second
	cap := 10 * time.Second

	assert.Equal(t, cap, computeDelay(10, base, cap))
	assert.Equal(t, cap, computeDelay(100, base, cap))
}

func TestComputeDelay_TreatsNonPositiveAttemptAsFirst(t *testing.T) {
	base := 2 * time.Second
	cap := 60 * time.Second

	assert.Equal(t, computeDelay(1, base, cap), computeDelay(0, base, cap))
	assert.Equal(t, computeDelay(1, base, cap), computeDelay(-5, base, cap))
}
