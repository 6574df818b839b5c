package vod

import (
	"context"
	"encoding/json"
	"encoding/xml"
	"errors"
	"net"
	"strings"

	"golang.org/x/oauth2"
	"google.golang.org/api/googleapi"

	"github.com/onnwee/chatgrep/chat"
)

// ErrorClass groups the errors that end a source's scan for reporting.
type ErrorClass int

const (
	// ErrorClassTransport covers connection, DNS and timeout failures.
	ErrorClassTransport ErrorClass = iota
	// ErrorClassStatus covers non-2xx responses.
	ErrorClassStatus
	// ErrorClassParse covers responses that could not be decoded.
	ErrorClassParse
	// ErrorClassCanceled covers context cancellation and deadlines.
	ErrorClassCanceled
	// ErrorClassUnknown is everything else.
	ErrorClassUnknown
)

// String returns the metrics label of the class.
func (ec ErrorClass) String() string {
	switch ec {
	case ErrorClassTransport:
		return "transport"
	case ErrorClassStatus:
		return "status"
	case ErrorClassParse:
		return "parse"
	case ErrorClassCanceled:
		return "canceled"
	default:
		return "unknown"
	}
}

// ClassifyFetchError classifies an error returned while fetching a source.
// Typed errors are checked first; messages are matched only as a fallback
// for errors that lost their type along the way.
func ClassifyFetchError(err error) ErrorClass {
	if err == nil {
		return ErrorClassUnknown
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return ErrorClassCanceled
	}

	var statusErr *chat.StatusError
	var apiErr *googleapi.Error
	var tokenErr *oauth2.RetrieveError
	if errors.As(err, &statusErr) || errors.As(err, &apiErr) || errors.As(err, &tokenErr) {
		return ErrorClassStatus
	}

	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	var xmlErr *xml.SyntaxError
	if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) || errors.As(err, &xmlErr) {
		return ErrorClassParse
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return ErrorClassTransport
	}

	lower := strings.ToLower(err.Error())
	for _, pattern := range []string{"decode", "parse", "unexpected end of json", "missing"} {
		if strings.Contains(lower, pattern) {
			return ErrorClassParse
		}
	}
	for _, pattern := range []string{"connection reset", "connection refused", "timeout", "no such host", "eof", "broken pipe"} {
		if strings.Contains(lower, pattern) {
			return ErrorClassTransport
		}
	}
	return ErrorClassUnknown
}
