package orchestrator_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/uhaseeb85/jenkins-genie/orchestrator"
)

func TestRetryable_IsRetryableAndUnwraps(t *testing.T) {
	cause := errors.New("build tool exited 1")
	err := orchestrator.Retryable(cause)

	assert.True(t, orchestrator.IsRetryable(err))
	assert.ErrorIs(t, err, cause)
}

func TestFatal_IsNotRetryable(t *testing.T) {
	cause := errors.New("cannot parse repo url")
	err := orchestrator.Fatal(cause)

	assert.False(t, orchestrator.IsRetryable(err))
	assert.ErrorIs(t, err, cause)
}

func TestIsRetryable_PlainErrorIsNotRetryable(t *testing.T) {
	assert.False(t, orchestrator.IsRetryable(errors.New("unclassified")))
	assert.False(t, orchestrator.IsRetryable(nil))
}
