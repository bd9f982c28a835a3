package odata

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/render"

	"github.com/tendant/content-odata/pkg/contentrepo"
)

// Error codes reported in the "code" member of an error response.
const (
	CodeNotSpecified                = "NotSpecified"
	CodeNotFound                    = "NotFound"
	CodeContentAlreadyExists        = "ContentAlreadyExists"
	CodeInvalidContent              = "InvalidContent"
	CodeInvalidOperation            = "InvalidOperation"
	CodeMethodNotAllowed            = "MethodNotAllowed"
	CodeUnauthorized                = "Unauthorized"
	CodeInvalidTopParameter         = "InvalidTopParameter"
	CodeNegativeTopParameter        = "NegativeTopParameter"
	CodeInvalidSkipParameter        = "InvalidSkipParameter"
	CodeNegativeSkipParameter       = "NegativeSkipParameter"
	CodeInvalidInlineCountParameter = "InvalidInlineCountParameter"
	CodeInvalidFormatParameter      = "InvalidFormatParameter"
	CodeInvalidOrderByParameter     = "InvalidOrderByParameter"
	CodeInvalidFilterParameter      = "InvalidFilterParameter"
	CodeInvalidSelectParameter      = "InvalidSelectParameter"
	CodeInvalidExpandParameter      = "InvalidExpandParameter"
	CodeInvalidMetadataParameter    = "InvalidMetadataParameter"
	CodeInvalidRequest              = "InvalidRequest"
	CodeRequestTooLarge             = "RequestTooLarge"
)

// Error is an error with an OData error code and HTTP status.
type Error struct {
	Status        int
	Code          string
	ExceptionType string
	Message       string
	Inner         any
	Err           error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return e.Code + ": " + e.Message
}

func (e *Error) Unwrap() error { return e.Err }

func newError(status int, code, format string, args ...any) *Error {
	return &Error{Status: status, Code: code, ExceptionType: "ODataException", Message: fmt.Sprintf(format, args...)}
}

// badRequest builds a 400 error for an invalid query option.
func badRequest(code, format string, args ...any) *Error {
	return newError(http.StatusBadRequest, code, format, args...)
}

// errorFrom maps service errors to OData errors.
func errorFrom(err error) *Error {
	var oe *Error
	if errors.As(err, &oe) {
		return oe
	}
	var mbe *http.MaxBytesError
	if errors.As(err, &mbe) {
		return tooLarge(mbe.Limit)
	}
	e := &Error{Status: http.StatusInternalServerError, Code: CodeNotSpecified, ExceptionType: "Exception", Message: err.Error(), Err: err}

	var verr *contentrepo.ValidationError
	switch {
	case errors.As(err, &verr):
		e.Status, e.Code, e.ExceptionType = http.StatusBadRequest, CodeInvalidContent, "InvalidContentException"
		e.Inner = map[string]any{"fields": verr.Results}
	case errors.Is(err, contentrepo.ErrContentNotFound),
		errors.Is(err, contentrepo.ErrBinaryNotFound),
		errors.Is(err, contentrepo.ErrBlobNotFound):
		e.Status, e.Code, e.ExceptionType = http.StatusNotFound, CodeNotFound, "ContentNotFoundException"
	case errors.Is(err, contentrepo.ErrContentAlreadyExists):
		e.Status, e.Code, e.ExceptionType = http.StatusConflict, CodeContentAlreadyExists, "ContentAlreadyExistsException"
	case errors.Is(err, contentrepo.ErrInvalidName),
		errors.Is(err, contentrepo.ErrFieldNotFound),
		errors.Is(err, contentrepo.ErrInvalidValue),
		errors.Is(err, contentrepo.ErrContentTypeNotFound),
		errors.Is(err, contentrepo.ErrTypeNotAllowed):
		e.Status, e.Code, e.ExceptionType = http.StatusBadRequest, CodeInvalidContent, "InvalidContentException"
	case errors.Is(err, contentrepo.ErrInvalidOperation):
		e.Status, e.Code, e.ExceptionType = http.StatusBadRequest, CodeInvalidOperation, "InvalidOperationException"
	}
	return e
}

type errorMessage struct {
	Lang  string `json:"lang"`
	Value string `json:"value"`
}

type errorBody struct {
	Code          string       `json:"code"`
	ExceptionType string       `json:"exceptiontype"`
	Message       errorMessage `json:"message"`
	InnerError    any          `json:"innererror,omitempty"`
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	e := errorFrom(err)
	if e.Status >= http.StatusInternalServerError {
		slog.Error("OData request failed", "method", r.Method, "path", r.URL.Path, "err", err)
	} else {
		slog.Debug("OData request rejected", "method", r.Method, "path", r.URL.Path, "code", e.Code, "err", err)
	}
	body := map[string]errorBody{"error": {
		Code:          e.Code,
		ExceptionType: e.ExceptionType,
		Message:       errorMessage{Lang: "en-us", Value: e.Message},
		InnerError:    e.Inner,
	}}
	render.Status(r, e.Status)
	render.JSON(w, r, body)
}
