// Package httputil provides HTTP response helpers and the compile service client.
package httputil

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/R3E-Network/compile_service/internal/errors"
)

// ErrorResponse is the JSON body of every error reply.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// WriteJSON writes a JSON response.
func WriteJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// WriteText writes a plain text response.
func WriteText(w http.ResponseWriter, status int, text string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	_, _ = io.WriteString(w, text)
}

// WriteError renders a service error as {"error": ..., "code": ...}.
func WriteError(w http.ResponseWriter, err *errors.ServiceError) {
	if err == nil {
		err = errors.Internal("internal server error")
	}
	status := err.HTTPStatus
	if status == errors.StatusClientClosedRequest {
		// nobody is listening; the status only matters to the access log
		status = http.StatusRequestTimeout
	}
	WriteJSON(w, status, ErrorResponse{Error: err.Message, Code: string(err.Code)})
}

// DecodeJSON decodes a single JSON object from the request body, capped at
// maxBytes. Unknown fields and trailing data are rejected.
func DecodeJSON(w http.ResponseWriter, r *http.Request, maxBytes int64, v interface{}) *errors.ServiceError {
	if r.Body == nil || r.Body == http.NoBody {
		return errors.InvalidRequest("request body is required")
	}
	if ct := r.Header.Get("Content-Type"); ct != "" && !strings.HasPrefix(strings.ToLower(ct), "application/json") {
		return errors.InvalidRequest(fmt.Sprintf("unsupported content type %q", ct))
	}

	body := r.Body
	if maxBytes > 0 {
		body = http.MaxBytesReader(w, r.Body, maxBytes)
	}

	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return decodeError(err, maxBytes)
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		var maxErr *http.MaxBytesError
		if stderrors.As(err, &maxErr) {
			return errors.PayloadTooLarge(maxBytes).WithCause(err)
		}
		return errors.InvalidRequest("request body must contain a single JSON object")
	}
	return nil
}

func decodeError(err error, maxBytes int64) *errors.ServiceError {
	var maxErr *http.MaxBytesError
	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError

	switch {
	case stderrors.As(err, &maxErr):
		return errors.PayloadTooLarge(maxBytes).WithCause(err)
	case stderrors.Is(err, io.EOF):
		return errors.InvalidRequest("request body is required")
	case stderrors.Is(err, io.ErrUnexpectedEOF):
		return errors.InvalidRequest("malformed JSON: unexpected end of input")
	case stderrors.As(err, &syntaxErr):
		return errors.InvalidRequest(fmt.Sprintf("malformed JSON at offset %d", syntaxErr.Offset)).WithCause(err)
	case stderrors.As(err, &typeErr):
		return errors.InvalidRequest(fmt.Sprintf("field %q must be a %s", typeErr.Field, typeErr.Type)).WithCause(err)
	case strings.HasPrefix(err.Error(), "json: unknown field "):
		return errors.InvalidRequest(strings.TrimPrefix(err.Error(), "json: ")).WithCause(err)
	}
	return errors.InvalidRequest("malformed JSON").WithCause(err)
}
