package gemini

import (
	"context"
	"errors"
	"net/http"

	"google.golang.org/genai"

	"github.com/mirageproxy/mirage/internal/engine"
)

// classify maps an upstream error to the typed failure the scheduler
// branches on. Only authentication-class responses become
// session_invalid; everything transient stays upstream_error so one
// flaky request cannot quarantine a healthy account.
func classify(ctx context.Context, err error) *engine.Failure {
	if ctx.Err() != nil || errors.Is(err, context.DeadlineExceeded) {
		return engine.NewFailure(engine.FailureTimeout, "Gemini call exceeded deadline", err)
	}

	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case http.StatusUnauthorized, http.StatusForbidden:
			return engine.NewFailure(engine.FailureSessionInvalid, "Gemini rejected the account credentials", err)
		case http.StatusBadRequest, http.StatusUnprocessableEntity:
			return engine.NewFailure(engine.FailureInvalidInput, "Gemini rejected the request", err)
		default:
			return engine.NewFailure(engine.FailureUpstream, "Gemini API error", err)
		}
	}

	return engine.NewFailure(engine.FailureUpstream, "Gemini call failed", err)
}
