package credits

import "fmt"

// InsufficientCreditsError is returned by ConsumeCredits when the atomic
// re-check inside the transaction finds the balance short. It is never
// retried by the service; the caller surfaces it as a rejection.
type InsufficientCreditsError struct {
	Required  int
	Available int
}

func (e *InsufficientCreditsError) Error() string {
	return fmt.Sprintf("Insufficient credits. Required: %d, Available: %d", e.Required, e.Available)
}
