// Provides middleware for standardizing HTTP handlers.

package server

import (
	"bytes"
	"context"
	"encoding"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"reflect"
	"strconv"

	apierrors "github.com/maruel/linkreview/internal/errors"
	"github.com/maruel/linkreview/internal/server/handlers"
)

// Wrap wraps a handler function to work as an http.Handler.
// The function must have signature: func(context.Context, *In) (*Out, error)
// where In can be unmarshalled from JSON and Out is a struct.
// Fields tagged with `query:"name"` or `header:"Name"` are populated from the
// request. JSON numbers in untyped fields decode as json.Number.
// *In must implement handlers.Validatable.
//
// Example:
//
//	type StatsRequest struct {
//	    Status string `query:"status"`
//	}
//
//	func (h *Handler) Stats(ctx context.Context, req *StatsRequest) (*Response, error)
func Wrap[In any, PtrIn interface {
	*In
	handlers.Validatable
}, Out any](fn func(context.Context, PtrIn) (*Out, error), maxBody int64) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		input := new(In)
		if !readAndDecodeBody(ctx, w, r, input, maxBody) {
			return
		}
		populateQueryParams(r, input)
		populateHeaderParams(r, input)

		if err := PtrIn(input).Validate(); err != nil {
			handleValidationError(ctx, w, err)
			return
		}
		output, err := fn(ctx, PtrIn(input))
		writeJSONResponse(ctx, w, output, err)
	})
}

// readAndDecodeBody reads the request body with size limit and decodes JSON into input.
// Returns false if an error occurred and was written to the response.
func readAndDecodeBody[In any](ctx context.Context, w http.ResponseWriter, r *http.Request, input *In, maxBody int64) bool {
	if maxBody > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, maxBody)
	}
	body, err := io.ReadAll(r.Body)
	if err2 := r.Body.Close(); err == nil {
		err = err2
	}
	if err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			handlers.WriteError(w, apierrors.PayloadTooLarge(maxBytesErr.Limit))
			return false
		}
		slog.ErrorContext(ctx, "Failed to read request body", "err", err)
		handlers.WriteError(w, apierrors.BadRequest("Failed to read request body"))
		return false
	}
	if len(bytes.TrimSpace(body)) > 0 {
		d := json.NewDecoder(bytes.NewReader(body))
		d.DisallowUnknownFields()
		d.UseNumber()
		if err := d.Decode(input); err != nil {
			slog.InfoContext(ctx, "Failed to decode request body", "err", err)
			handlers.WriteError(w, apierrors.NewAPIError(http.StatusBadRequest, apierrors.ErrInvalidFormat, "Invalid request body").Wrap(err))
			return false
		}
	}
	return true
}

// writeJSONResponse writes a JSON response or error response.
func writeJSONResponse[Out any](ctx context.Context, w http.ResponseWriter, output *Out, err error) {
	if err != nil {
		statusCode := http.StatusInternalServerError
		errorCode := apierrors.ErrInternal
		var ewsErr apierrors.ErrorWithStatus
		if errors.As(err, &ewsErr) {
			statusCode = ewsErr.StatusCode()
			errorCode = ewsErr.Code()
		}
		if statusCode >= http.StatusInternalServerError {
			slog.ErrorContext(ctx, "Handler error", "err", err, "statusCode", statusCode, "code", errorCode)
		} else {
			slog.InfoContext(ctx, "Request rejected", "err", err, "statusCode", statusCode, "code", errorCode)
		}
		handlers.WriteError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(output); err != nil {
		slog.ErrorContext(ctx, "Failed to encode response", "err", err)
	}
}

// handleValidationError handles a validation error from a request's Validate method.
func handleValidationError(ctx context.Context, w http.ResponseWriter, err error) {
	var ewsErr apierrors.ErrorWithStatus
	if !errors.As(err, &ewsErr) {
		err = apierrors.BadRequest(err.Error())
	}
	slog.InfoContext(ctx, "Validation error", "err", err)
	handlers.WriteError(w, err)
}

// structFields calls fn for each field of the struct pointed to by input that
// carries tag.
func structFields(input any, tag string, fn func(v reflect.Value, name string)) {
	val := reflect.ValueOf(input)
	if val.Kind() != reflect.Pointer {
		return
	}
	elem := val.Elem()
	if elem.Kind() != reflect.Struct {
		return
	}
	typ := elem.Type()
	for i := range typ.NumField() {
		if name := typ.Field(i).Tag.Get(tag); name != "" {
			fn(elem.Field(i), name)
		}
	}
}

// setField assigns a textual parameter to a string, int, bool or
// encoding.TextUnmarshaler field. Unparsable values are ignored.
func setField(v reflect.Value, s string) {
	switch v.Kind() {
	case reflect.String:
		v.SetString(s)
	case reflect.Int, reflect.Int64:
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			v.SetInt(n)
		}
	case reflect.Bool:
		if b, err := strconv.ParseBool(s); err == nil {
			v.SetBool(b)
		}
	default:
		if v.CanAddr() {
			if u, ok := v.Addr().Interface().(encoding.TextUnmarshaler); ok {
				_ = u.UnmarshalText([]byte(s))
			}
		}
	}
}

// populateQueryParams populates struct fields tagged with `query:"paramName"`.
func populateQueryParams(r *http.Request, input any) {
	query := r.URL.Query()
	structFields(input, "query", func(v reflect.Value, name string) {
		if s := query.Get(name); s != "" {
			setField(v, s)
		}
	})
}

// populateHeaderParams populates struct fields tagged with `header:"Name"`.
func populateHeaderParams(r *http.Request, input any) {
	structFields(input, "header", func(v reflect.Value, name string) {
		if s := r.Header.Get(name); s != "" {
			setField(v, s)
		}
	})
}
