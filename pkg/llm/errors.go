package llm

import (
	"errors"
	"net/http"

	"github.com/anthropics/anthropic-sdk-go"

	"github.com/ideapanel/ideapanel/pkg/apierr"
)

// classify maps an error returned by the Anthropic SDK into this codebase's
// error taxonomy (spec §4.2). The Go SDK surfaces every non-2xx response as
// a single *anthropic.Error (unlike the per-status exception hierarchies in
// other language SDKs), so classification unwraps it with errors.As and
// switches on its StatusCode. A transport-level failure (errors.As returns
// false) is treated as LLM_CONNECTION.
func classify(err error) *apierr.Error {
	if err == nil {
		return nil
	}

	var apiErr *anthropic.Error
	if !errors.As(err, &apiErr) {
		return apierr.Wrap(apierr.KindLLMConnection, err, "connection error calling LLM provider")
	}

	switch apiErr.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return apierr.Wrap(apierr.KindLLMAuth, err, "LLM provider rejected credentials")
	case http.StatusTooManyRequests:
		return apierr.Wrap(apierr.KindLLMRateLimit, err, "LLM provider rate limit exceeded")
	case http.StatusRequestTimeout, http.StatusGatewayTimeout:
		return apierr.Wrap(apierr.KindLLMTimeout, err, "LLM provider request timed out")
	case 529: // overloaded
		return apierr.Wrap(apierr.KindLLMConnection, err, "LLM provider overloaded")
	default:
		if apiErr.StatusCode >= 500 {
			return apierr.Wrap(apierr.KindLLMConnection, err, "LLM provider server error")
		}
		return apierr.Wrap(apierr.KindLLMService, err, "LLM provider request failed")
	}
}

// retryable reports whether an apierr.Error of this Kind should consume a
// retry attempt rather than fail the call immediately (spec §4.2: rate
// limit, timeout, and connection errors are retryable; auth and schema
// validation are not. classify already maps 5xx and 529 responses to
// LLMConnection, so they are retried; an LLMService error is never retried).
func retryable(e *apierr.Error) bool {
	switch e.Kind {
	case apierr.KindLLMRateLimit, apierr.KindLLMTimeout, apierr.KindLLMConnection:
		return true
	default:
		return false
	}
}
