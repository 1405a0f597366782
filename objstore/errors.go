package objstore

import "fmt"

// ConditionFailedError is returned when a put or patch's precondition
// was not satisfied. The object's state is left unchanged.
type ConditionFailedError struct {
	Condition Condition
}

func (e *ConditionFailedError) Error() string {
	return fmt.Sprintf("objstore: condition failed: %s", e.Condition)
}

// NotFoundError is returned by patch on an absent path. get never
// returns this error (it reports absence via a nil response instead),
// and put's only "does not exist" interaction is the IfAbsent
// condition.
type NotFoundError struct {
	Path Path
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("objstore: not found: %s", e.Path)
}

// OtherError wraps a transport, authentication, decoding, or unexpected
// status failure. Message is advisory; callers must not parse it.
type OtherError struct {
	Message string
	Err     error
}

func (e *OtherError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("objstore: %s: %v", e.Message, e.Err)
	}
	return fmt.Sprintf("objstore: %s", e.Message)
}

func (e *OtherError) Unwrap() error {
	return e.Err
}

// NewOtherError builds an OtherError wrapping cause (which may be nil).
func NewOtherError(message string, cause error) error {
	return &OtherError{Message: message, Err: cause}
}
