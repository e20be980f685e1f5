// Provides helper functions for writing error responses.

package handlers

import (
	"encoding/json"
	stderrors "errors"
	"log/slog"
	"net/http"

	"github.com/maruel/linkreview/internal/errors"
	"github.com/maruel/linkreview/internal/records"
	"github.com/maruel/linkreview/internal/store"
)

// errorResponse is the JSON body of every error.
type errorResponse struct {
	Error struct {
		Code    errors.ErrorCode `json:"code"`
		Message string           `json:"message"`
	} `json:"error"`
	Details map[string]any `json:"details,omitempty"`
}

// fromStore translates a store error into an API error.
func fromStore(err error) error {
	if err == nil {
		return nil
	}
	var conflict *store.ConflictError
	switch {
	case stderrors.As(err, &conflict):
		return errors.Conflict("Data has been modified by another user. Please reload.", conflict.Current)
	case stderrors.Is(err, records.ErrUnencodable):
		return errors.BadRequest(err.Error())
	case stderrors.Is(err, store.ErrInvalidIndex):
		return errors.InvalidIndex(err.Error())
	case stderrors.Is(err, store.ErrNotInitialized):
		return errors.NotInitialized()
	case stderrors.Is(err, store.ErrUsernameRequired):
		return errors.Unauthorized("X-Username header is required")
	default:
		return errors.InternalWithError("store failure", err)
	}
}

// WriteError writes err as a JSON response. Use this in raw http.HandlerFunc
// handlers that don't use server.Wrap.
func WriteError(w http.ResponseWriter, err error) {
	statusCode := http.StatusInternalServerError
	var resp errorResponse
	resp.Error.Code = errors.ErrInternal
	resp.Error.Message = "internal error"

	var ewsErr errors.ErrorWithStatus
	if stderrors.As(err, &ewsErr) {
		statusCode = ewsErr.StatusCode()
		resp.Error.Code = ewsErr.Code()
		resp.Error.Message = ewsErr.Error()
		resp.Details = ewsErr.Details()
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.Error("Failed to encode error response", "error", err)
	}
}
