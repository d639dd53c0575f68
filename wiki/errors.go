package wiki

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Error codes for programmatic error handling
type ErrorCode string

const (
	CodeInvalidParameter     ErrorCode = "INVALID_PARAMETER"
	CodeTransport            ErrorCode = "TRANSPORT"
	CodeServer               ErrorCode = "SERVER_ERROR"
	CodeMalformedResponse    ErrorCode = "MALFORMED_RESPONSE"
	CodeModificationConflict ErrorCode = "MODIFICATION_CONFLICT"
	CodeAuthentication       ErrorCode = "AUTHENTICATION"
)

// InvalidParameterError reports caller misuse. It is always returned before
// any request is sent.
type InvalidParameterError struct {
	Param  string
	Value  any
	Reason string
}

func (e *InvalidParameterError) Error() string {
	if e.Value != nil {
		return fmt.Sprintf("invalid parameter %q (%v): %s", e.Param, e.Value, e.Reason)
	}
	return fmt.Sprintf("invalid parameter %q: %s", e.Param, e.Reason)
}

// ErrorCode returns the structured error code
func (e *InvalidParameterError) ErrorCode() ErrorCode { return CodeInvalidParameter }

// TransportError is a network, HTTP status or body decoding failure.
type TransportError struct {
	Action     string
	URL        string
	StatusCode int // 0 when no response was received
	Body       string
	Err        error
}

func (e *TransportError) Error() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "transport error calling %s", e.Action)
	if e.StatusCode != 0 {
		fmt.Fprintf(&sb, " (status %d)", e.StatusCode)
	}
	if e.Err != nil {
		fmt.Fprintf(&sb, ": %v", e.Err)
	} else if e.Body != "" {
		fmt.Fprintf(&sb, ": %s", truncate(e.Body, 200))
	}
	return sb.String()
}

func (e *TransportError) Unwrap() error { return e.Err }

// ErrorCode returns the structured error code
func (e *TransportError) ErrorCode() ErrorCode { return CodeTransport }

// ServerError is an API response carrying an "error" member. Payload holds
// that member verbatim.
type ServerError struct {
	Action  string
	Code    string
	Info    string
	Payload Object
}

func (e *ServerError) Error() string {
	payload, _ := json.Marshal(e.Payload)
	return fmt.Sprintf("API error [%s] calling %s: %s: %s", e.Code, e.Action, e.Info, payload)
}

// ErrorCode returns the structured error code
func (e *ServerError) ErrorCode() ErrorCode { return CodeServer }

// MalformedResponseError means a response lacked a structural field the
// protocol requires, such as "pages" in a query result.
type MalformedResponseError struct {
	Action string
	Field  string
	Reason string
}

func (e *MalformedResponseError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("malformed %s response: field %q: %s", e.Action, e.Field, e.Reason)
	}
	return fmt.Sprintf("malformed %s response: missing %q", e.Action, e.Field)
}

// ErrorCode returns the structured error code
func (e *MalformedResponseError) ErrorCode() ErrorCode { return CodeMalformedResponse }

// ModificationConflictError is the last element of a QueryPages sequence when
// pages changed between two responses. Those pages were never yielded and
// should be requested again.
type ModificationConflictError struct {
	Pages []PageKey
}

func (e *ModificationConflictError) Error() string {
	keys := make([]string, len(e.Pages))
	for i, p := range e.Pages {
		keys[i] = p.String()
	}
	return fmt.Sprintf("pages modified during iteration: %s", strings.Join(keys, ", "))
}

// ErrorCode returns the structured error code
func (e *ModificationConflictError) ErrorCode() ErrorCode { return CodeModificationConflict }

// PageIDs returns the numeric ids of the changed pages.
func (e *ModificationConflictError) PageIDs() []int64 {
	ids := make([]int64, 0, len(e.Pages))
	for _, p := range e.Pages {
		if p.Title == "" {
			ids = append(ids, p.ID)
		}
	}
	return ids
}

// AuthenticationError is a login attempt the server did not accept.
type AuthenticationError struct {
	User    string
	Result  string
	Reason  string
	Payload Object
}

func (e *AuthenticationError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("login failed for %s: %s - %s", e.User, e.Result, e.Reason)
	}
	return fmt.Sprintf("login failed for %s: %s", e.User, e.Result)
}

// ErrorCode returns the structured error code
func (e *AuthenticationError) ErrorCode() ErrorCode { return CodeAuthentication }

// truncate shortens a string to maxLen, adding "..." if truncated
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
