package llm

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ideapanel/ideapanel/pkg/apierr"
)

// classify's status-code branches have no unit test here (the worker tests
// use a fake client that never reaches classify); anthropic.Error's exact
// construction is an SDK-internal detail this package does not replicate in
// a unit test.

func TestClassifyTreatsNonAPIErrorsAsConnection(t *testing.T) {
	got := classify(errors.New("dial tcp: connection refused"))
	assert.Equal(t, apierr.KindLLMConnection, got.Kind)
}

func TestRetryableKinds(t *testing.T) {
	assert.True(t, retryable(apierr.New(apierr.KindLLMRateLimit, "")))
	assert.True(t, retryable(apierr.New(apierr.KindLLMTimeout, "")))
	assert.True(t, retryable(apierr.New(apierr.KindLLMConnection, "")))
	assert.False(t, retryable(apierr.New(apierr.KindLLMAuth, "")))
	assert.False(t, retryable(apierr.New(apierr.KindLLMService, "")))
	assert.False(t, retryable(apierr.New(apierr.KindSchemaValidation, "")))
}

func TestRetryConfigFixedStepBackoff(t *testing.T) {
	bo := &retryConfig{initial: 1, multiplier: 2}
	// attempt 1 runs with no delay; NextBackOff is only asked after a failure.
	// before attempt 2: initial * multiplier^1 = 2.
	assert.Equal(t, 2, int(bo.NextBackOff()))
	// before attempt 3: initial * multiplier^2 = 4.
	assert.Equal(t, 4, int(bo.NextBackOff()))
	// before attempt 4: initial * multiplier^3 = 8.
	assert.Equal(t, 8, int(bo.NextBackOff()))
	// before attempt 5: initial * multiplier^4 = 16.
	assert.Equal(t, 16, int(bo.NextBackOff()))
}
