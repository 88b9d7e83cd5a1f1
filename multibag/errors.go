package multibag

import (
	"fmt"

	"github.com/pkg/errors"
)

// MultibagError indicates a violation of the multibag profile, such as
// a syntax error in one of the multibag tag files.
type MultibagError struct {
	Message string
}

func (e *MultibagError) Error() string {
	return e.Message
}

// NewMultibagError creates a MultibagError with a formatted message.
func NewMultibagError(format string, args ...interface{}) *MultibagError {
	return &MultibagError{Message: fmt.Sprintf(format, args...)}
}

// MissingMultibagFileError means a multibag tag file is absent. It is
// recoverable: read paths that can legitimately run before the file is
// first written catch it and substitute an empty result.
type MissingMultibagFileError struct {
	File string
}

func (e *MissingMultibagFileError) Error() string {
	return "missing multibag tag file: " + e.File
}

// IsMissingFile reports whether err is a MissingMultibagFileError.
func IsMissingFile(err error) bool {
	_, ok := errors.Cause(err).(*MissingMultibagFileError)
	return ok
}
