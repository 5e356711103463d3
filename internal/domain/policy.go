package domain

import "fmt"

// FailurePolicy decides what happens to an event the broker did not accept.
type FailurePolicy string

const (
	// PolicyFail reports the failure to the caller.
	PolicyFail FailurePolicy = "fail"
	// PolicyBuffer writes the event to the WAL and replays it once the broker is back.
	PolicyBuffer FailurePolicy = "buffer"
	// PolicyDrop logs the loss and reports success.
	PolicyDrop FailurePolicy = "drop"
)

// Validate reports an error for an unknown policy.
func (p FailurePolicy) Validate() error {
	switch p {
	case PolicyFail, PolicyBuffer, PolicyDrop:
		return nil
	default:
		return fmt.Errorf("unknown failure policy %q", string(p))
	}
}
