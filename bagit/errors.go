package bagit

import (
	"fmt"

	"github.com/pkg/errors"
)

// ErrReadOnly is returned by Save on bags opened from a serialized
// (zip/tar) source.
var ErrReadOnly = errors.New("bagit: bag is read-only")

// BagError indicates a malformed or unusable bag container.
type BagError struct {
	Message string
}

func (e *BagError) Error() string {
	return e.Message
}

// NewBagError creates a BagError with a formatted message.
func NewBagError(format string, args ...interface{}) *BagError {
	return &BagError{Message: fmt.Sprintf(format, args...)}
}

// BagValidationError collects the problems found while validating a bag
// against the base BagIt requirements.
type BagValidationError struct {
	Message  string
	Problems []string
}

func (e *BagValidationError) Error() string {
	return e.Message
}

// IsBagError returns true if err is a BagError or BagValidationError.
func IsBagError(err error) bool {
	switch errors.Cause(err).(type) {
	case *BagError, *BagValidationError:
		return true
	}
	return false
}
