package replication

import (
	"fmt"
	"time"
)

const timeoutErrorTemplateConstant = "timed out after %s updating branch %s of %s"

// TimeoutError reports a fetch or pull that exceeded the repository fetch timeout.
type TimeoutError struct {
	Repository string
	Branch     string
	Timeout    time.Duration
	Cause      error
}

// Error describes the timeout.
func (timeoutError TimeoutError) Error() string {
	return fmt.Sprintf(timeoutErrorTemplateConstant, timeoutError.Timeout, timeoutError.Branch, timeoutError.Repository)
}

// Unwrap exposes the underlying VCS failure.
func (timeoutError TimeoutError) Unwrap() error {
	return timeoutError.Cause
}
