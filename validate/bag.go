package validate

import (
	"github.com/pkg/errors"

	"github.com/ndlib/multibag/bagit"
)

// BagValidator checks a bag against the base BagIt requirements:
// required tag files, payload completeness, and checksum agreement.
type BagValidator struct {
	bag    bagit.Bag
	target string
}

// NewBagValidator opens the bag at bagpath (a directory or a serialized
// bag) for validation.
func NewBagValidator(bagpath string) (*BagValidator, error) {
	bag, err := bagit.Open(bagpath)
	if err != nil {
		return nil, err
	}
	return &BagValidator{bag: bag, target: bagpath}, nil
}

func (v *BagValidator) Validate(want int, results *ValidationResults) *ValidationResults {
	out := results
	if out == nil {
		out = NewResults(v.target, want, "")
	}
	if want&ERROR == 0 {
		return out
	}

	t := out.issue("2-Bag", "Bag must be compliant BagIt bag")
	err := bagit.Validate(v.bag)
	if err == nil {
		out.err(t, true)
		return out
	}
	var comments []string
	var verr *bagit.BagValidationError
	if errors.As(err, &verr) {
		comments = append([]string{verr.Message}, verr.Problems...)
	} else {
		comments = []string{err.Error()}
	}
	out.err(t, false, comments...)
	return out
}
