package server

import (
	"encoding/json"
	"errors"
	"net/http"

	nativecommon "dscengine/native/common"
	"dscengine/native/dsc"
)

var (
	errNotFound   = errors.New("not found")
	errBadRequest = errors.New("bad request")
	errForbidden  = errors.New("forbidden")
)

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// classify maps an error onto an HTTP status and a stable code.
func classify(err error) (int, string) {
	switch {
	case errors.Is(err, errNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, errBadRequest):
		return http.StatusBadRequest, "bad_request"
	case errors.Is(err, errForbidden):
		return http.StatusForbidden, "forbidden"
	case errors.Is(err, errUnauthenticated):
		return http.StatusUnauthorized, "unauthenticated"
	case errors.Is(err, nativecommon.ErrModulePaused):
		return http.StatusServiceUnavailable, "module_paused"
	case errors.Is(err, nativecommon.ErrReentrantCall):
		return http.StatusConflict, "reentrant_call"
	}
	code := dsc.Code(err)
	switch code {
	case "zero_amount", "token_not_allowed", "arithmetic_overflow":
		return http.StatusBadRequest, code
	case "breaks_health_factor", "health_factor_ok", "health_factor_not_improved",
		"arithmetic_underflow", "transfer_failed", "mint_failed":
		return http.StatusUnprocessableEntity, code
	case "stale_price", "invalid_price", "not_configured":
		return http.StatusServiceUnavailable, code
	default:
		return http.StatusInternalServerError, code
	}
}

func writeError(w http.ResponseWriter, err error) {
	status, code := classify(err)
	message := err.Error()
	if status == http.StatusInternalServerError {
		message = http.StatusText(status)
	}
	writeStatus(w, status, code, message)
}

func writeStatus(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorBody{Error: errorDetail{Code: code, Message: message}})
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
