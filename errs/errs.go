// Package errs provides structured error types and helpers for the bridge.
package errs

import (
	"strconv"
	"strings"
)

// Code identifies a failure category within the adapter.
type Code string

const (
	// CodeConfig indicates missing or invalid configuration; construction must fail fast.
	CodeConfig Code = "config"
	// CodeUnsupportedInstrument indicates the caller referenced an instrument the venue cannot trade.
	CodeUnsupportedInstrument Code = "unsupported_instrument"
	// CodeUnsupportedCombination indicates a history request shape the venue cannot service.
	CodeUnsupportedCombination Code = "unsupported_combination"
	// CodeInvalidSymbol indicates a malformed or unparseable symbol.
	CodeInvalidSymbol Code = "invalid_symbol"
	// CodeNetwork indicates an HTTP or websocket transport failure.
	CodeNetwork Code = "network"
	// CodeVenueRejection indicates an explicit rejection in a venue response payload.
	CodeVenueRejection Code = "venue_rejection"
	// CodeDataIntegrity indicates an event referencing unknown local state.
	CodeDataIntegrity Code = "data_integrity"
	// CodeTimeout indicates a bounded wait on an asynchronous confirmation expired.
	CodeTimeout Code = "timeout"
	// CodeAuth indicates authentication or authorization errors.
	CodeAuth Code = "auth"
	// CodeInvalid indicates invalid input provided by the caller.
	CodeInvalid Code = "invalid_request"
)

// E captures structured error information produced across the bridge.
type E struct {
	Venue   string
	Code    Code
	HTTP    int
	RawCode string
	RawMsg  string
	Message string

	cause error
}

// Option configures an error envelope.
type Option func(*E)

// New constructs an error envelope for the venue and error code.
func New(venue string, code Code, opts ...Option) *E {
	e := &E{
		Venue:   strings.TrimSpace(venue),
		Code:    code,
		HTTP:    0,
		RawCode: "",
		RawMsg:  "",
		Message: "",
		cause:   nil,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

// WithMessage attaches a human-readable message to the error.
func WithMessage(message string) Option {
	trimmed := strings.TrimSpace(message)
	return func(e *E) {
		e.Message = trimmed
	}
}

// WithHTTP records the associated HTTP status code.
func WithHTTP(status int) Option {
	return func(e *E) {
		e.HTTP = status
	}
}

// WithRawCode captures the raw venue error code.
func WithRawCode(code string) Option {
	trimmed := strings.TrimSpace(code)
	return func(e *E) {
		e.RawCode = trimmed
	}
}

// WithRawMessage captures the raw venue error message.
func WithRawMessage(msg string) Option {
	return func(e *E) {
		e.RawMsg = msg
	}
}

// WithCause sets the underlying cause error.
func WithCause(err error) Option {
	return func(e *E) {
		e.cause = err
	}
}

func (e *E) Error() string {
	if e == nil {
		return "<nil>"
	}
	var parts []string

	venue := strings.TrimSpace(e.Venue)
	if venue == "" {
		venue = "unknown"
	}
	parts = append(parts, "venue="+venue)

	code := strings.TrimSpace(string(e.Code))
	if code == "" {
		code = "unknown"
	}
	parts = append(parts, "code="+code)

	if e.HTTP > 0 {
		parts = append(parts, "http="+strconv.Itoa(e.HTTP))
	}
	if e.Message != "" {
		parts = append(parts, "message="+strconv.Quote(e.Message))
	}
	if e.RawCode != "" {
		parts = append(parts, "raw_code="+strconv.Quote(e.RawCode))
	}
	if e.RawMsg != "" {
		parts = append(parts, "raw_msg="+strconv.Quote(e.RawMsg))
	}
	if e.cause != nil {
		parts = append(parts, "cause="+strconv.Quote(e.cause.Error()))
	}

	return strings.Join(parts, " ")
}

func (e *E) Unwrap() error { return e.cause }

// CodeOf extracts the failure category from err, or an empty Code.
func CodeOf(err error) Code {
	if e, ok := err.(*E); ok && e != nil {
		return e.Code
	}
	return ""
}

// Config returns a standardized configuration error.
func Config(msg string) *E {
	return New("", CodeConfig, WithMessage(strings.TrimSpace(msg)))
}
