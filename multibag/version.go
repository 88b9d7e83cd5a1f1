package multibag

import (
	"strconv"
	"strings"
)

// Version is a dot-delimited profile version with a total order.
// Non-numeric fields compare as -1, sorting malformed components below
// every numeric one; this matches how profile versions have always been
// compared and must be preserved for compatibility.
type Version []int

// ParseVersion converts a version string such as "0.4" to a Version.
func ParseVersion(s string) Version {
	fields := strings.Split(s, ".")
	out := make(Version, len(fields))
	for i, f := range fields {
		n, err := strconv.Atoi(f)
		if err != nil {
			n = -1
		}
		out[i] = n
	}
	return out
}

// Compare returns -1, 0, or +1 as v sorts before, equal to, or after
// other. Fields are compared left to right; a version that is a prefix
// of a longer one sorts first.
func (v Version) Compare(other Version) int {
	for i := 0; i < len(v) && i < len(other); i++ {
		switch {
		case v[i] < other[i]:
			return -1
		case v[i] > other[i]:
			return 1
		}
	}
	switch {
	case len(v) < len(other):
		return -1
	case len(v) > len(other):
		return 1
	}
	return 0
}

// Less reports whether version string a sorts before version string b.
func Less(a, b string) bool {
	return ParseVersion(a).Compare(ParseVersion(b)) < 0
}

func (v Version) String() string {
	fields := make([]string, len(v))
	for i, n := range v {
		fields[i] = strconv.Itoa(n)
	}
	return strings.Join(fields, ".")
}
