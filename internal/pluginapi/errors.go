package pluginapi

import (
	"errors"
	"fmt"
)

// ErrorKind classifies plugin failures uniformly across every provider,
// per the error taxonomy in spec §4.A / §7.
type ErrorKind string

const (
	KindAuth         ErrorKind = "auth_error"
	KindNetwork      ErrorKind = "network_error"
	KindNotSupported ErrorKind = "not_supported"
	KindPlugin       ErrorKind = "plugin_error"
)

// Error is the uniform error type every Plugin method returns on
// failure. It always carries the provider id and optionally wraps a
// cause, so callers can apply the retry policy from spec §7 without
// type-switching on provider-specific error types.
type Error struct {
	Kind     ErrorKind
	Provider string
	Message  string
	Cause    error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s[%s]: %s: %v", e.Kind, e.Provider, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s[%s]: %s", e.Kind, e.Provider, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// Is allows errors.Is(err, pluginapi.NotSupported(provider)) style checks
// to compare on Kind+Provider, ignoring Message/Cause.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Provider != "" && t.Provider != e.Provider {
		return false
	}
	return t.Kind == e.Kind
}

func AuthError(provider, message string, cause error) *Error {
	return &Error{Kind: KindAuth, Provider: provider, Message: message, Cause: cause}
}

func NetworkError(provider, message string, cause error) *Error {
	return &Error{Kind: KindNetwork, Provider: provider, Message: message, Cause: cause}
}

func NotSupported(provider, feature string) *Error {
	return &Error{Kind: KindNotSupported, Provider: provider, Message: "feature not supported: " + feature}
}

func PluginError(provider, message string, cause error) *Error {
	return &Error{Kind: KindPlugin, Provider: provider, Message: message, Cause: cause}
}

// KindOf extracts the ErrorKind from err if it is (or wraps) a *Error,
// defaulting to KindPlugin for anything else — an unclassified failure
// is treated the same as "other" per the spec's retry table.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindPlugin
}
