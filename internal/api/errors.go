package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/mirageproxy/mirage/internal/engine"
	"github.com/mirageproxy/mirage/internal/pool"
	"github.com/mirageproxy/mirage/internal/task"
)

// errorBody is the OpenAI-style error envelope returned by every
// endpoint.
type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    string `json:"code"`
}

// mapError translates scheduler errors to an HTTP status and envelope.
// Internal error text never leaks for unclassified errors.
func mapError(err error) (int, errorBody) {
	var failure *engine.Failure
	switch {
	case errors.Is(err, pool.ErrCapacityExceeded):
		return http.StatusTooManyRequests, newErrorBody(
			"Too many concurrent requests", "server_error", "capacity_exceeded")

	case errors.Is(err, pool.ErrNoAccountAvailable):
		return http.StatusServiceUnavailable, newErrorBody(
			"No available account. All accounts are busy, disabled or in cooldown.",
			"service_error", "no_account_available")

	case errors.Is(err, task.ErrTaskNotFound):
		return http.StatusNotFound, newErrorBody(
			"Task not found", "invalid_request_error", "task_not_found")

	case errors.Is(err, task.ErrQueueFull):
		return http.StatusTooManyRequests, newErrorBody(
			"Task queue is full, try again later", "server_error", "queue_full")

	case errors.As(err, &failure):
		switch failure.Kind {
		case engine.FailureInvalidInput:
			return http.StatusBadRequest, newErrorBody(
				failure.Message, "invalid_request_error", string(failure.Kind))
		case engine.FailureTimeout:
			return http.StatusGatewayTimeout, newErrorBody(
				"Generation timed out", "server_error", string(failure.Kind))
		case engine.FailureSessionInvalid:
			return http.StatusBadGateway, newErrorBody(
				"Upstream rejected the account session", "server_error", string(failure.Kind))
		default:
			return http.StatusBadGateway, newErrorBody(
				"Upstream generation error", "server_error", string(failure.Kind))
		}

	default:
		return http.StatusInternalServerError, newErrorBody(
			"An unexpected error occurred", "server_error", "internal_error")
	}
}

func newErrorBody(message, errType, code string) errorBody {
	return errorBody{Error: errorDetail{Message: message, Type: errType, Code: code}}
}

// respondError writes the envelope for err.
func respondError(w http.ResponseWriter, err error) {
	status, body := mapError(err)
	respondJSON(w, status, body)
}

// respondInvalid writes a 400 with the given message and code.
func respondInvalid(w http.ResponseWriter, message, code string) {
	respondJSON(w, http.StatusBadRequest, newErrorBody(message, "invalid_request_error", code))
}

func respondJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Error("failed to write response", "error", err)
	}
}
