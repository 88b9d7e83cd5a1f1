package bagit

import (
	"bufio"
	"io"
	"strings"

	"github.com/pkg/errors"
)

// A TagEntry is one name/value pair from a tag file such as bag-info.txt.
type TagEntry struct {
	Name  string
	Value string
}

// TagFile holds the contents of a BagIt tag file, preserving both the
// order of the entries and repeated occurrences of a tag name.
type TagFile struct {
	entries []TagEntry
}

// NewTagFile returns an empty TagFile.
func NewTagFile() *TagFile {
	return &TagFile{}
}

// ParseTags reads tag data in bag-info.txt format. Lines beginning with
// whitespace continue the previous tag's value.
func ParseTags(r io.Reader) (*TagFile, error) {
	t := NewTagFile()
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		line = strings.TrimPrefix(line, "\ufeff")
		if line == "" {
			continue
		}
		if line[0] == ' ' || line[0] == '\t' {
			// continuation of the previous value
			if len(t.entries) == 0 {
				return nil, NewBagError("tag file begins with a continuation line")
			}
			last := &t.entries[len(t.entries)-1]
			last.Value += " " + strings.TrimSpace(line)
			continue
		}
		i := strings.Index(line, ":")
		if i < 0 {
			return nil, NewBagError("malformed tag line: %s", line)
		}
		t.entries = append(t.entries, TagEntry{
			Name:  strings.TrimSpace(line[:i]),
			Value: strings.TrimSpace(line[i+1:]),
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(err, "reading tag file")
	}
	return t, nil
}

// Write serializes the tags in order, one "Name: value" line per entry.
// Long values are not wrapped.
func (t *TagFile) Write(w io.Writer) error {
	for _, e := range t.entries {
		if _, err := io.WriteString(w, e.Name+": "+e.Value+"\n"); err != nil {
			return errors.Wrap(err, "writing tag file")
		}
	}
	return nil
}

// Entries returns the ordered tag entries. The slice is shared; callers
// must not modify it.
func (t *TagFile) Entries() []TagEntry {
	return t.entries
}

// Has returns true if the named tag appears at least once.
func (t *TagFile) Has(name string) bool {
	for _, e := range t.entries {
		if e.Name == name {
			return true
		}
	}
	return false
}

// Get returns the last value recorded for the named tag, or "" if the
// tag is absent.
func (t *TagFile) Get(name string) string {
	var out string
	for _, e := range t.entries {
		if e.Name == name {
			out = e.Value
		}
	}
	return out
}

// Values returns every value recorded for the named tag, in order.
func (t *TagFile) Values(name string) []string {
	var out []string
	for _, e := range t.entries {
		if e.Name == name {
			out = append(out, e.Value)
		}
	}
	return out
}

// Set replaces every occurrence of the named tag with a single entry
// holding the given value. The entry keeps the position of the first
// occurrence; if the tag was absent it is appended.
func (t *TagFile) Set(name, value string) {
	for i := range t.entries {
		if t.entries[i].Name == name {
			t.entries[i].Value = value
			t.removeAfter(name, i)
			return
		}
	}
	t.entries = append(t.entries, TagEntry{Name: name, Value: value})
}

// SetDefault sets the tag to value only if the tag is currently absent.
func (t *TagFile) SetDefault(name, value string) {
	if !t.Has(name) {
		t.Set(name, value)
	}
}

// Add appends a new occurrence of the named tag.
func (t *TagFile) Add(name, value string) {
	t.entries = append(t.entries, TagEntry{Name: name, Value: value})
}

// Remove deletes every occurrence of the named tag.
func (t *TagFile) Remove(name string) {
	out := t.entries[:0]
	for _, e := range t.entries {
		if e.Name != name {
			out = append(out, e)
		}
	}
	t.entries = out
}

// removeAfter drops occurrences of name at indexes greater than keep.
func (t *TagFile) removeAfter(name string, keep int) {
	out := t.entries[:keep+1]
	for _, e := range t.entries[keep+1:] {
		if e.Name != name {
			out = append(out, e)
		}
	}
	t.entries = out
}
