package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"codegen-agent/internal/domain"
)

// statusFor maps an error's code to an HTTP status.
func statusFor(err error) int {
	if errors.Is(err, context.Canceled) {
		return 499
	}
	switch domain.ErrorCodeOf(err) {
	case domain.CodeInvalidInput, domain.CodeInvalidSessionID, domain.CodeMissingArgument:
		return http.StatusBadRequest
	case domain.CodeGatewayAuth, domain.CodeAuthInvalid:
		return http.StatusUnauthorized
	case domain.CodeSessionNotFound, domain.CodeToolNotFound:
		return http.StatusNotFound
	case domain.CodeRateLimit:
		return http.StatusTooManyRequests
	case domain.CodeModelTimeout, domain.CodeTimeout:
		return http.StatusGatewayTimeout
	case domain.CodeProviderError, domain.CodeProviderNotFound, domain.CodeContextOverflow:
		return http.StatusBadGateway
	case domain.CodeProviderUnavailable, domain.CodeStoreUnavailable, domain.CodeStoreTimeout:
		return http.StatusServiceUnavailable
	case domain.CodeMaxIterations:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

type errorBody struct {
	Error string           `json:"error"`
	Code  domain.ErrorCode `json:"code"`
}

func writeError(w http.ResponseWriter, err error) {
	code := domain.ErrorCodeOf(err)
	status := statusFor(err)
	msg := err.Error()
	switch status {
	case http.StatusUnauthorized:
		msg = "unauthorized"
	case http.StatusInternalServerError:
		msg = "internal error"
	}
	writeJSON(w, status, errorBody{Error: msg, Code: code})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
