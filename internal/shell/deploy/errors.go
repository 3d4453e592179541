package deploy

import "errors"

// ErrInvalidRequest is returned for requests that cannot be executed.
var ErrInvalidRequest = errors.New("invalid deployment request")

// PlacementError reports that a rollout did not converge: ECS raised
// placement warnings or the service did not settle before the deadline.
type PlacementError struct {
	Message string
	Timeout bool
}

func (e *PlacementError) Error() string {
	if e.Timeout {
		return e.Message + " due to timeout. Please check the service events in the ECS console"
	}
	return e.Message
}

// IsPlacementError reports whether err is or wraps a *PlacementError.
func IsPlacementError(err error) bool {
	var pe *PlacementError
	return errors.As(err, &pe)
}
