package controller

import (
	"fmt"

	"github.com/pkg/errors"
)

// Kind classifies why a fetch failed.
type Kind int

const (
	// KindTransport covers network failures and timeouts.
	KindTransport Kind = iota + 1
	// KindProtocol covers non-2xx responses.
	KindProtocol
	// KindShape covers bodies that do not decode into the expected records.
	KindShape
)

func (k Kind) String() string {
	switch k {
	case KindTransport:
		return "transport"
	case KindProtocol:
		return "protocol"
	case KindShape:
		return "shape"
	}
	return "unknown"
}

// FetchError is returned by every Client read that fails.
type FetchError struct {
	Kind       Kind
	Method     string
	URL        string
	StatusCode int // set for KindProtocol
	Err        error
}

func (e *FetchError) Error() string {
	if e.Kind == KindProtocol {
		return fmt.Sprintf("%s %s: %s error: status %d: %v", e.Method, e.URL, e.Kind, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s %s: %s error: %v", e.Method, e.URL, e.Kind, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// Cause lets github.com/pkg/errors.Cause walk through a FetchError.
func (e *FetchError) Cause() error { return e.Err }

func kindOf(err error) Kind {
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return 0
}

// IsTransport reports whether err is a transport-level fetch failure.
func IsTransport(err error) bool { return kindOf(err) == KindTransport }

// IsProtocol reports whether err is a non-2xx response.
func IsProtocol(err error) bool { return kindOf(err) == KindProtocol }

// IsShape reports whether err is a malformed response body.
func IsShape(err error) bool { return kindOf(err) == KindShape }

// ErrEmptyBody is the shape error for a response whose body is JSON null.
var ErrEmptyBody = errors.New("response body is null")
