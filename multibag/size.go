package multibag

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/ndlib/multibag/bagit"
)

var sizePrefixes = []string{"", "k", "M", "G", "T"}

// FormatBytes converts a byte count to the human-readable form recorded
// in Bag-Size tags, e.g. "34.57 kB". The count is divided by 1000 to
// pick a unit prefix (capped at T), the mantissa is rounded to three
// significant digits, and trailing zeros are trimmed. Downstream
// validators re-derive this value, so the output must match
// byte-for-byte across implementations.
func FormatBytes(nbytes int64) string {
	v := float64(nbytes)
	pref := 0
	for v >= 1000.0 && pref < len(sizePrefixes)-1 {
		v /= 1000.0
		pref++
	}
	ordr := 0
	for v >= 10.0 {
		v /= 10.0
		ordr++
	}
	v = math.Round(v*1000) / 1000 * math.Pow10(ordr)
	s := strconv.FormatFloat(v, 'f', 3, 64)
	if strings.Contains(s, ".") {
		s = strings.TrimRight(s, "0")
		s = strings.TrimSuffix(s, ".")
	}
	return s + " " + sizePrefixes[pref] + "B"
}

// BagSize computes the value for the Bag-Size tag: the total size of
// every file in the bag plus an allowance for the size of the Bag-Size
// line itself.
func BagSize(b bagit.Bag) (string, error) {
	steps, err := b.Walk("")
	if err != nil {
		return "", err
	}
	var size int64
	for _, step := range steps {
		for _, f := range step.Files {
			p := f
			if step.Dir != "" {
				p = step.Dir + "/" + f
			}
			sz, err := b.Sizeof(p)
			if err != nil {
				return "", err
			}
			size += sz
		}
	}
	size += int64(len(fmt.Sprintf("Bag-Size: %d", size)))
	return FormatBytes(size), nil
}

// UpdateBagSize recomputes the Bag-Size tag from the files currently in
// the bag. The change is not persisted until Save.
func UpdateBagSize(b bagit.Bag) error {
	size, err := BagSize(b)
	if err != nil {
		return err
	}
	b.Info().Set("Bag-Size", size)
	return nil
}
