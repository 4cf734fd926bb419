package normalizer

import (
	"fmt"

	"github.com/joshsymonds/remediator/internal/models"
)

// InvalidInputError reports a raw event that cannot become a valid Finding.
// It always unwraps to models.ErrInvalidFinding so callers can test with errors.Is.
type InvalidInputError struct {
	Err    error
	Source string
	Reason string
}

// Error implements the error interface.
func (e *InvalidInputError) Error() string {
	if e.Source == "" {
		return fmt.Sprintf("invalid input: %s", e.Reason)
	}
	return fmt.Sprintf("invalid input from %s: %s", e.Source, e.Reason)
}

// Unwrap returns the underlying error.
func (e *InvalidInputError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return models.ErrInvalidFinding
}

func invalidInput(source, reason string, err error) *InvalidInputError {
	return &InvalidInputError{Source: source, Reason: reason, Err: err}
}
