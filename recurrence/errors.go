/*
errors.go - Error types for the recurrence engine

PURPOSE:
  Expansion and evaluation only fail on precondition violations: missing
  fields, malformed time strings, unknown pattern/range variants, or a
  generated count that disagrees with a declared recurrence count. All of
  them surface as one kind, InvalidInput. There is no partial result and
  no retry path.

  Store errors live here as well so the API layer can map every failure
  with errors.Is.

USAGE:
  occ, err := expander.Expand(inst, recurrence.Bounds{})
  if recurrence.IsInvalidInput(err) {
      // caller bug or bad data; fail fast
  }

SEE ALSO:
  - validate.go: Builds InvalidInputError from criterio field errors
  - api/handlers.go: HTTP status mapping
*/
package recurrence

import (
	"errors"
	"fmt"
	"strings"

	"github.com/hay-kot/criterio"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrInvalidInput is the single failure kind of Expand and IsComplete.
	ErrInvalidInput = errors.New("invalid input")

	// ErrTaskNotFound is returned when a referenced task doesn't exist.
	ErrTaskNotFound = errors.New("task not found")

	// ErrInstanceNotFound is returned when an instance index is out of range.
	ErrInstanceNotFound = errors.New("instance not found")

	// ErrDuplicateCompletion is returned when the exact same completion
	// timestamp is logged twice for one instance.
	ErrDuplicateCompletion = errors.New("duplicate completion")
)

// =============================================================================
// STRUCTURED ERRORS
// =============================================================================

// InvalidInputError carries the message and, when validation produced them,
// the individual field failures.
type InvalidInputError struct {
	Message string
	Fields  criterio.FieldErrors
}

func (e *InvalidInputError) Error() string {
	if len(e.Fields) == 0 {
		return "invalid input: " + e.Message
	}
	parts := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		parts[i] = f.Field + ": " + f.Err.Error()
	}
	return fmt.Sprintf("invalid input: %s (%s)", e.Message, strings.Join(parts, "; "))
}

func (e *InvalidInputError) Unwrap() error {
	return ErrInvalidInput
}

func invalidf(format string, args ...any) error {
	return &InvalidInputError{Message: fmt.Sprintf(format, args...)}
}

// invalidFields wraps a criterio result. A nil err stays nil.
func invalidFields(message string, err error) error {
	if err == nil {
		return nil
	}
	var fields criterio.FieldErrors
	if errors.As(err, &fields) {
		return &InvalidInputError{Message: message, Fields: fields}
	}
	return &InvalidInputError{Message: message + ": " + err.Error()}
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

func IsInvalidInput(err error) bool {
	return errors.Is(err, ErrInvalidInput)
}

// IsNotFound returns true if the error indicates a missing task or instance.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrTaskNotFound) || errors.Is(err, ErrInstanceNotFound)
}
