package toystory

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/NguyenMinh4869/toystory/session"
)

var (
	// ErrInvalidCredentials is returned by Login when the account service rejects the email/password pair.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrValidation is matched by every *ValidationError.
	ErrValidation = errors.New("validation failed")
	// ErrNetwork is returned when the account service cannot be reached or answers with a server error.
	ErrNetwork = errors.New("account service unreachable")
	// ErrLoginInProgress is returned when Login is called while another login is outstanding.
	ErrLoginInProgress = errors.New("login already in progress")
	// ErrProfileFetch marks a failed current-user fetch. It only reaches callers when Login.RequireProfile is set.
	ErrProfileFetch = errors.New("profile fetch failed")
	// ErrStorageUnavailable marks a failed session storage operation. It is the same value as
	// session.ErrUnavailable. The engine logs, counts and audits it and never returns it.
	ErrStorageUnavailable = session.ErrUnavailable
	// ErrEngineNotReady is returned by operations on a nil or unbuilt engine.
	ErrEngineNotReady = errors.New("engine not initialized")
	// ErrEngineClosed is returned by Login after Close.
	ErrEngineClosed = errors.New("engine closed")
)

// AuthFailureKind classifies why a login failed.
type AuthFailureKind uint8

const (
	// FailureNetwork covers transport errors, timeouts and server errors.
	FailureNetwork AuthFailureKind = iota
	// FailureInvalidCredentials covers a rejected email/password pair.
	FailureInvalidCredentials
	// FailureValidation covers field-level input rejection.
	FailureValidation
	// FailureProfile covers a failed profile fetch when profiles are required.
	FailureProfile
	// FailureBusy covers a login rejected because another one is in flight.
	FailureBusy
)

func (k AuthFailureKind) String() string {
	switch k {
	case FailureInvalidCredentials:
		return "invalid_credentials"
	case FailureValidation:
		return "validation"
	case FailureProfile:
		return "profile"
	case FailureBusy:
		return "busy"
	default:
		return "network"
	}
}

func (k AuthFailureKind) sentinel() error {
	switch k {
	case FailureInvalidCredentials:
		return ErrInvalidCredentials
	case FailureValidation:
		return ErrValidation
	case FailureProfile:
		return ErrProfileFetch
	case FailureBusy:
		return ErrLoginInProgress
	default:
		return ErrNetwork
	}
}

// AuthFailure is the error type returned by [Engine.Login]. errors.Is matches
// the sentinel of its Kind as well as the wrapped cause.
type AuthFailure struct {
	Kind    AuthFailureKind
	Message string
	Err     error
}

func (e *AuthFailure) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if msg == "" {
		msg = e.Kind.sentinel().Error()
	}
	return "login failed (" + e.Kind.String() + "): " + msg
}

func (e *AuthFailure) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind.sentinel()}
	}
	return []error{e.Kind.sentinel(), e.Err}
}

// IsAuthFailure reports whether err is (or wraps) an *AuthFailure and returns it.
func IsAuthFailure(err error) (*AuthFailure, bool) {
	var af *AuthFailure
	if errors.As(err, &af) {
		return af, true
	}
	return nil, false
}

// ValidationError carries per-field messages from the account service.
type ValidationError struct {
	Message string
	Fields  map[string][]string
}

func (e *ValidationError) Error() string {
	if len(e.Fields) == 0 {
		if e.Message != "" {
			return e.Message
		}
		return ErrValidation.Error()
	}

	names := make([]string, 0, len(e.Fields))
	for name := range e.Fields {
		names = append(names, name)
	}
	sort.Strings(names)

	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, fmt.Sprintf("%s: %s", name, strings.Join(e.Fields[name], "; ")))
	}
	return ErrValidation.Error() + ": " + strings.Join(parts, ", ")
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// classifyLoginError maps an account-service error onto an *AuthFailure.
// Unknown errors are treated as network failures.
func classifyLoginError(err error) *AuthFailure {
	if af, ok := IsAuthFailure(err); ok {
		return af
	}

	var verr *ValidationError
	switch {
	case errors.As(err, &verr):
		return &AuthFailure{Kind: FailureValidation, Message: verr.Message, Err: verr}
	case errors.Is(err, ErrInvalidCredentials):
		return &AuthFailure{Kind: FailureInvalidCredentials, Err: err}
	default:
		return &AuthFailure{Kind: FailureNetwork, Err: err}
	}
}
