package ecs

import (
	"errors"
	"fmt"
	"strings"

	smithy "github.com/aws/smithy-go"
)

// =============================================================================
// Error Types
// =============================================================================

var (
	ErrNotFound     = errors.New("not found")
	ErrAccessDenied = errors.New("access denied")
	ErrThrottled    = errors.New("request throttled")
	ErrRemote       = errors.New("ecs api error")
)

// RemoteError wraps a failed ECS API call. Kind is one of the sentinel errors
// above and can be matched with errors.Is.
type RemoteError struct {
	Op      string // ECS operation, e.g. "DescribeServices"
	Code    string // AWS error code if any
	Message string
	Kind    error
	Err     error
}

func (e *RemoteError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Op, e.Message, e.Code)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Message)
}

func (e *RemoteError) Unwrap() []error {
	return []error{e.Kind, e.Err}
}

// NewRemoteError classifies err by its AWS error code.
func NewRemoteError(op string, err error) *RemoteError {
	e := &RemoteError{Op: op, Message: err.Error(), Kind: ErrRemote, Err: err}

	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		return e
	}
	e.Code = apiErr.ErrorCode()
	e.Message = apiErr.ErrorMessage()

	switch e.Code {
	case "ServiceNotFoundException", "ClusterNotFoundException", "ServiceNotActiveException":
		e.Kind = ErrNotFound
	case "ClientException":
		// DescribeTaskDefinition reports unknown definitions as a client error.
		if strings.Contains(e.Message, "Unable to describe task definition") {
			e.Kind = ErrNotFound
		}
	case "AccessDeniedException", "UnrecognizedClientException", "InvalidClientTokenId",
		"ExpiredTokenException", "InvalidSignatureException":
		e.Kind = ErrAccessDenied
	case "ThrottlingException", "TooManyRequestsException", "RequestLimitExceeded":
		e.Kind = ErrThrottled
	}
	return e
}

func notFound(op, message string) *RemoteError {
	return &RemoteError{Op: op, Message: message, Kind: ErrNotFound, Err: ErrNotFound}
}
