// Package amend turns an ordinary bag into the head bag of a
// single-bag multibag aggregation. The converted bag gets the multibag
// tag directory, a member list naming only itself, a file lookup
// covering its payload, and the Multibag-* tags.
package amend

import (
	"bufio"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"

	"github.com/ndlib/multibag/bagit"
	"github.com/ndlib/multibag/multibag"
)

// SingleMultibagMaker collects the operations for converting the bag
// rooted at a directory into a single-bag aggregation's head bag.
type SingleMultibagMaker struct {
	bagdir string
	tagdir string
}

// NewSingleMultibagMaker prepares to convert the bag at bagdir. An
// empty tagdir uses the default multibag tag directory name.
func NewSingleMultibagMaker(bagdir, tagdir string) (*SingleMultibagMaker, error) {
	if fi, err := os.Stat(bagdir); err != nil || !fi.IsDir() {
		return nil, errors.Errorf("directory not found: %s", bagdir)
	}
	if tagdir == "" {
		tagdir = multibag.DefaultTagDir
	}
	return &SingleMultibagMaker{bagdir: bagdir, tagdir: tagdir}, nil
}

// UpdateInfo sets the head bag tags in bag-info.txt: the profile
// version, tag directory, head version, and reference, with a note
// about the profile appended to the sender description. Bag-Size is
// recomputed to cover the new tag files. An empty version defaults to
// "1"; an empty profver defaults to the current profile version.
func (m *SingleMultibagMaker) UpdateInfo(version, profver string) error {
	if version == "" {
		version = "1"
	}
	if profver == "" {
		profver = multibag.CurrentVersion
	}
	bag, err := bagit.OpenDir(m.bagdir)
	if err != nil {
		return err
	}
	info := bag.Info()

	info.Set("Multibag-Version", profver)
	info.Set("Multibag-Tag-Directory", m.tagdir)
	info.Set("Multibag-Head-Version", version)
	info.Set("Multibag-Reference", multibag.CurrentReference)
	info.Add("Internal-Sender-Description", multibag.AboutMultibag)
	info.Remove("Bag-Count")
	info.Remove("Bag-Size")
	if err := bag.Save(); err != nil {
		return err
	}

	if err := multibag.UpdateBagSize(bag); err != nil {
		return err
	}
	return bag.Save()
}

func (m *SingleMultibagMaker) ensureTagDir() error {
	mbdir := filepath.Join(m.bagdir, m.tagdir)
	if _, err := os.Stat(mbdir); os.IsNotExist(err) {
		return os.Mkdir(mbdir, 0755)
	}
	return nil
}

// WriteMemberBags writes a member list naming only this bag. The PID,
// if given, should resolve to the bag (usually a serialized copy).
func (m *SingleMultibagMaker) WriteMemberBags(pid string) error {
	if err := m.ensureTagDir(); err != nil {
		return err
	}
	f, err := os.Create(filepath.Join(m.bagdir, m.tagdir, "member-bags.tsv"))
	if err != nil {
		return err
	}
	line := filepath.Base(m.bagdir)
	if pid != "" {
		line += "\t" + pid
	}
	if _, err := f.WriteString(line + "\n"); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// WriteFileLookup adds the files under the include paths to the file
// lookup, assigning them all to this bag. Include entries may be files
// or directories (searched recursively); a nil include covers the
// payload. Paths in exclude are skipped, subtrees and all. Existing
// lookup entries are kept unless trunc is set.
func (m *SingleMultibagMaker) WriteFileLookup(include, exclude []string, trunc bool) error {
	if include == nil {
		include = []string{"data"}
	}
	excluded := make(map[string]bool)
	for _, e := range exclude {
		excluded[e] = true
	}

	if err := m.ensureTagDir(); err != nil {
		return err
	}
	order, lu, err := m.loadFileLookup()
	if err != nil {
		return err
	}
	if trunc {
		order = nil
		lu = make(map[string][]string)
	}
	record := func(p string) {
		if _, ok := lu[p]; !ok {
			order = append(order, p)
		}
		lu[p] = []string{filepath.Base(m.bagdir)}
	}

	for _, incl := range include {
		if excluded[incl] {
			continue
		}
		root := filepath.Join(m.bagdir, filepath.FromSlash(incl))
		fi, err := os.Stat(root)
		if err != nil {
			// not in the bag; skip it
			continue
		}
		if !fi.IsDir() {
			record(incl)
			continue
		}
		err = filepath.Walk(root, func(ospath string, fi os.FileInfo, err error) error {
			if err != nil {
				return err
			}
			rel, err := filepath.Rel(m.bagdir, ospath)
			if err != nil {
				return err
			}
			p := filepath.ToSlash(rel)
			if excluded[p] {
				if fi.IsDir() {
					return filepath.SkipDir
				}
				return nil
			}
			if !fi.IsDir() {
				record(p)
			}
			return nil
		})
		if err != nil {
			return err
		}
	}
	return m.writeFileLookup(order, lu)
}

// loadFileLookup reads any existing file-lookup.tsv, keeping the extra
// fields after each path so they survive a rewrite.
func (m *SingleMultibagMaker) loadFileLookup() ([]string, map[string][]string, error) {
	lu := make(map[string][]string)
	var order []string
	f, err := os.Open(filepath.Join(m.bagdir, m.tagdir, "file-lookup.tsv"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, lu, nil
		}
		return nil, nil, err
	}
	defer f.Close()
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		fields := strings.Split(line, "\t")
		for i := range fields {
			fields[i] = strings.TrimSpace(fields[i])
		}
		if len(fields) < 2 {
			continue
		}
		if _, ok := lu[fields[0]]; !ok {
			order = append(order, fields[0])
		}
		lu[fields[0]] = fields[1:]
	}
	return order, lu, scanner.Err()
}

func (m *SingleMultibagMaker) writeFileLookup(order []string, lu map[string][]string) error {
	f, err := os.Create(filepath.Join(m.bagdir, m.tagdir, "file-lookup.tsv"))
	if err != nil {
		return err
	}
	for _, p := range order {
		line := p + "\t" + strings.Join(lu[p], "\t") + "\n"
		if _, err := f.WriteString(line); err != nil {
			f.Close()
			return err
		}
	}
	return f.Close()
}

// Convert turns the bag into a single-bag aggregation: it writes the
// member list and a fresh payload file lookup, then updates the tags.
func (m *SingleMultibagMaker) Convert(version, pid string) error {
	if err := m.WriteMemberBags(pid); err != nil {
		return err
	}
	if err := m.WriteFileLookup(nil, nil, true); err != nil {
		return err
	}
	// recalculates Bag-Size to account for the new tag files
	return m.UpdateInfo(version, "")
}
