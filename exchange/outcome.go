package exchange

import (
	"errors"
	"fmt"
)

// Kind classifies the result of a credential exchange.
type Kind int

const (
	OutcomeSuccess Kind = iota
	OutcomeInvalidCredentials
	OutcomeTransportError
)

func (k Kind) String() string {
	switch k {
	case OutcomeSuccess:
		return "success"
	case OutcomeInvalidCredentials:
		return "invalidCredentials"
	case OutcomeTransportError:
		return "transportError"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Method identifies how a credential was presented.
type Method string

const (
	MethodPassword           Method = "password"
	MethodOAuthCode          Method = "oauth-code"
	MethodOAuthImplicitToken Method = "oauth-implicit-token"
)

// Messages shown to the user. Invalid credentials use a single message so
// the response does not reveal which half of the pair was wrong.
const (
	MessageInvalidCredentials = "Incorrect email or password"
	MessageTimeout            = "Request timed out. Please try again."
	MessageGeneric            = "Login failed. Please try again."
	DetailTimeout             = "timeout"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrTimeout            = errors.New("request timed out")
	ErrAlreadyRegistered  = errors.New("email already registered")
	ErrUnauthorized       = errors.New("unauthorized")
)

// ServerError is a non-2xx answer from the identity service.
type ServerError struct {
	Status int
	Detail string
	Body   string
}

func (e *ServerError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("identity service returned %d: %s", e.Status, e.Detail)
	}
	return fmt.Sprintf("identity service returned %d", e.Status)
}

// NetworkError is a failure to obtain any response.
type NetworkError struct {
	Err error
}

func (e *NetworkError) Error() string {
	return "identity service unreachable: " + e.Err.Error()
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// Outcome is the tri-state result of an exchange. Exchanges never return a
// Go error; everything a caller needs is carried here.
type Outcome struct {
	Kind   Kind
	Token  string
	Detail string
	// Status and Body are kept for diagnostics. Status is zero when no
	// response was received. Body is truncated.
	Status int
	Body   string

	err error
}

// OK reports whether the exchange produced a token.
func (o Outcome) OK() bool {
	return o.Kind == OutcomeSuccess
}

// Timeout reports whether the exchange was abandoned by its deadline.
func (o Outcome) Timeout() bool {
	return errors.Is(o.err, ErrTimeout)
}

// Err converts the outcome into an error, or nil on success.
func (o Outcome) Err() error {
	switch o.Kind {
	case OutcomeSuccess:
		return nil
	case OutcomeInvalidCredentials:
		return ErrInvalidCredentials
	}
	if o.err != nil {
		return o.err
	}
	return &ServerError{Status: o.Status, Detail: o.Detail, Body: o.Body}
}

// Message returns the text to show the user.
func (o Outcome) Message() string {
	switch {
	case o.Kind == OutcomeSuccess:
		return ""
	case o.Kind == OutcomeInvalidCredentials:
		return MessageInvalidCredentials
	case o.Timeout():
		return MessageTimeout
	case o.Detail != "":
		return o.Detail
	default:
		return MessageGeneric
	}
}
