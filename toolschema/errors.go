package toolschema

import (
	"errors"
	"strings"
)

// ErrValidation is matched by every *ValidationError via errors.Is.
var ErrValidation = errors.New("schema validation failed")

// ValidationError reports why an instance does not satisfy a schema.
// Problems holds one human-readable line per failing location.
type ValidationError struct {
	Problems []string
	Cause    error
}

func (e *ValidationError) Error() string {
	if len(e.Problems) == 0 {
		return ErrValidation.Error()
	}
	return "invalid input: " + strings.Join(e.Problems, "; ")
}

func (e *ValidationError) Unwrap() error { return e.Cause }

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// newValidationError flattens the validator's nested report into one line per
// leaf. The first line of the report only names the schema and is dropped.
func newValidationError(err error) *ValidationError {
	lines := strings.Split(err.Error(), "\n")
	var problems []string
	for i, line := range lines {
		line = strings.TrimSpace(line)
		if i == 0 && len(lines) > 1 {
			continue
		}
		line = strings.TrimPrefix(line, "- ")
		if line != "" {
			problems = append(problems, line)
		}
	}
	return &ValidationError{Problems: problems, Cause: err}
}
