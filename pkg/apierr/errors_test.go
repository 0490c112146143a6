package apierr

import (
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHTTPStatusMapping(t *testing.T) {
	cases := map[Kind]int{
		KindValidation:         http.StatusUnprocessableEntity,
		KindParentNotFound:     http.StatusNotFound,
		KindParentNotDone:      http.StatusConflict,
		KindMissingEditInput:   http.StatusBadRequest,
		KindUnsupportedVersion: http.StatusBadRequest,
		KindSchemaValidation:   http.StatusInternalServerError,
		KindLLMRateLimit:       http.StatusServiceUnavailable,
		KindLLMTimeout:         http.StatusServiceUnavailable,
		KindLLMConnection:      http.StatusServiceUnavailable,
		KindLLMService:         http.StatusInternalServerError,
		KindInternal:           http.StatusInternalServerError,
	}
	for kind, want := range cases {
		assert.Equal(t, want, HTTPStatus(kind), "kind %s", kind)
	}
}

func TestKindOfUnwrapsError(t *testing.T) {
	base := New(KindLLMTimeout, "timed out")
	wrapped := errors.New("context: " + base.Error())
	assert.Equal(t, KindInternal, KindOf(wrapped))
	assert.Equal(t, KindLLMTimeout, KindOf(base))

	byErrorsAs := Wrap(KindSchemaValidation, base, "invalid shape")
	assert.Equal(t, KindSchemaValidation, KindOf(byErrorsAs))
	assert.ErrorIs(t, byErrorsAs, base)
}

func TestWithRunIDAndRequestIDDoNotMutateOriginal(t *testing.T) {
	base := New(KindValidation, "bad input")
	withRun := base.WithRunID("run-1")
	assert.Empty(t, base.RunID)
	assert.Equal(t, "run-1", withRun.RunID)

	withBoth := withRun.WithRequestID("req-1")
	assert.Equal(t, "run-1", withBoth.RunID)
	assert.Equal(t, "req-1", withBoth.RequestID)
}
