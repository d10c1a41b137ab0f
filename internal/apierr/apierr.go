// Package apierr defines the error kinds surfaced by the event API and their
// HTTP mapping.
package apierr

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.opentelemetry.io/otel/trace"
)

// Kind is the machine-distinguishable category of a request failure.
type Kind string

const (
	KindNotFound         Kind = "not_found"
	KindValidation       Kind = "validation"
	KindAuthentication   Kind = "authentication"
	KindStoreUnavailable Kind = "store_unavailable"
	KindStoreCorrupt     Kind = "store_corrupt"
	KindStorePersist     Kind = "store_persist"
	KindInternal         Kind = "internal"
)

// Error carries a Kind, a human-readable message and an optional cause.
type Error struct {
	Kind    Kind   `json:"kind"`
	Message string `json:"message"`
	Err     error  `json:"-"`
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err != nil {
		return string(e.Kind) + ": " + e.Message + ": " + e.Err.Error()
	}
	return string(e.Kind) + ": " + e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same Kind, so errors.Is(err, ErrNotFound) works
// for every not-found error regardless of message.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind && t.Message == ""
}

// Sentinels for errors.Is checks.
var (
	ErrNotFound         = &Error{Kind: KindNotFound}
	ErrValidation       = &Error{Kind: KindValidation}
	ErrAuthentication   = &Error{Kind: KindAuthentication}
	ErrStoreUnavailable = &Error{Kind: KindStoreUnavailable}
	ErrStoreCorrupt     = &Error{Kind: KindStoreCorrupt}
	ErrStorePersist     = &Error{Kind: KindStorePersist}
)

func New(kind Kind, msg string, cause error) *Error {
	return &Error{Kind: kind, Message: msg, Err: cause}
}

func NotFound(msg string) *Error { return New(KindNotFound, msg, nil) }

func Validation(msg string) *Error { return New(KindValidation, msg, nil) }

func Authentication(msg string) *Error { return New(KindAuthentication, msg, nil) }

func StoreUnavailable(msg string, cause error) *Error {
	return New(KindStoreUnavailable, msg, cause)
}

func StoreCorrupt(msg string, cause error) *Error { return New(KindStoreCorrupt, msg, cause) }

func StorePersist(msg string, cause error) *Error { return New(KindStorePersist, msg, cause) }

// KindOf returns the Kind of err, or KindInternal for foreign errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// HTTPStatus maps a Kind to its response status.
func HTTPStatus(k Kind) int {
	switch k {
	case KindNotFound:
		return http.StatusNotFound
	case KindValidation:
		return http.StatusBadRequest
	case KindAuthentication:
		return http.StatusUnauthorized
	case KindStoreUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// WriteHTTP writes the error envelope {error:{kind,message}, trace_id}.
// Causes are not exposed to clients.
func WriteHTTP(w http.ResponseWriter, r *http.Request, err error) {
	var e *Error
	if !errors.As(err, &e) {
		e = &Error{Kind: KindInternal, Message: "internal error"}
	}
	if e.Kind == KindAuthentication {
		w.Header().Set("WWW-Authenticate", `Bearer realm="agendacomic"`)
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(HTTPStatus(e.Kind))

	traceID := ""
	if r != nil {
		sc := trace.SpanFromContext(r.Context()).SpanContext()
		if sc.HasTraceID() {
			traceID = sc.TraceID().String()
		}
	}
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error":    &Error{Kind: e.Kind, Message: e.Message},
		"trace_id": traceID,
	})
}
