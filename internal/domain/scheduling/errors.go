// internal/domain/scheduling/errors.go
package scheduling

import "fmt"

var ErrMatchNotFound = fmt.Errorf("no open scheduling request matches the message")
var ErrLowConfidence = fmt.Errorf("classification confidence below policy threshold")
var ErrAvailabilityConstraint = fmt.Errorf("proposed time violates availability constraints")
var ErrConcurrencyConflict = fmt.Errorf("scheduling request changed since it was read")
var ErrRequestNotFound = fmt.Errorf("scheduling request not found")
var ErrDuplicateMessage = fmt.Errorf("message already processed")
var ErrInvalidTransition = fmt.Errorf("status transition not allowed")

// ExternalServiceError wraps a failure of the calendar, mail transport or oracle.
type ExternalServiceError struct {
	Service string
	Err     error
}

func (e *ExternalServiceError) Error() string {
	return fmt.Sprintf("%s unavailable: %v", e.Service, e.Err)
}

func (e *ExternalServiceError) Unwrap() error { return e.Err }

// DataIntegrityError marks a request that lacks data required to act on it.
type DataIntegrityError struct {
	RequestID string
	Reason    string
}

func (e *DataIntegrityError) Error() string {
	return fmt.Sprintf("request %s: data integrity: %s", e.RequestID, e.Reason)
}
