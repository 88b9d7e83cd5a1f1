package multibag

import (
	"bytes"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/renameio"
	"github.com/ndlib/multibag/bagit"
	"github.com/pkg/errors"
)

// WritableHeadBag extends HeadBag with update operations. It is only
// available for bags stored as local directories. Updates accumulate in
// memory; each Save* method persists one tag file in full.
type WritableHeadBag struct {
	HeadBag
	dir *bagit.DirBag
}

// NewWritableHeadBag wraps an already-opened directory bag.
func NewWritableHeadBag(b *bagit.DirBag) *WritableHeadBag {
	return &WritableHeadBag{HeadBag: HeadBag{Bag: b}, dir: b}
}

// OpenWritableHeadBag opens the bag rooted at the given directory for
// reading and updating its multibag metadata.
func OpenWritableHeadBag(bagdir string) (*WritableHeadBag, error) {
	b, err := bagit.OpenDir(bagdir)
	if err != nil {
		return nil, err
	}
	return NewWritableHeadBag(b), nil
}

// MemberBags returns the member list, treating a missing member-bags
// file as an empty list: the bag may not have been initialized yet.
func (h *WritableHeadBag) MemberBags() ([]MemberInfo, error) {
	members, err := h.HeadBag.MemberBags()
	if IsMissingFile(err) {
		h.members = nil
		h.membersLoaded = true
		return nil, nil
	}
	return members, err
}

// LookupFile is HeadBag.LookupFile with a missing lookup file treated
// as an empty lookup.
func (h *WritableHeadBag) LookupFile(p string) (string, error) {
	out, err := h.HeadBag.LookupFile(p)
	if IsMissingFile(err) {
		h.filelu = make(map[string]string)
		h.fileluLoaded = true
		return "", nil
	}
	return out, err
}

// AddMemberBag appends a member bag. With override set, any existing
// entry with the same name is first removed along with its file-lookup
// and deletion entries.
func (h *WritableHeadBag) AddMemberBag(mi MemberInfo, override bool) error {
	if mi.Name == "" {
		return NewMultibagError("member bag name cannot be empty")
	}
	if _, err := h.MemberBags(); err != nil {
		return err
	}
	if override {
		if err := h.RemoveMemberBag(mi.Name); err != nil {
			return err
		}
	}
	h.members = append(h.members, mi)
	return nil
}

// SetMemberBags replaces the member list wholesale.
func (h *WritableHeadBag) SetMemberBags(members []MemberInfo) error {
	for _, m := range members {
		if m.Name == "" {
			return NewMultibagError("member bag name cannot be empty")
		}
	}
	h.members = append([]MemberInfo(nil), members...)
	h.membersLoaded = true
	return nil
}

// AddFileLookup records that the file at the given path lives in the
// named member bag, replacing any previous mapping for that path.
func (h *WritableHeadBag) AddFileLookup(filepath, bagname string) error {
	if filepath == "" || bagname == "" {
		return NewMultibagError("file lookup entries cannot be empty: (%q, %q)",
			filepath, bagname)
	}
	if _, err := h.LookupFile(filepath); err != nil {
		return err
	}
	if _, ok := h.filelu[filepath]; !ok {
		h.fileluOrder = append(h.fileluOrder, filepath)
	}
	h.filelu[filepath] = bagname
	return nil
}

// RemoveFileLookup drops the mapping for a path. It is not an error if
// the path is not registered.
func (h *WritableHeadBag) RemoveFileLookup(filepath string) error {
	if filepath == "" {
		return NewMultibagError("empty filepath argument")
	}
	if _, err := h.LookupFile(filepath); err != nil {
		return err
	}
	if _, ok := h.filelu[filepath]; !ok {
		return nil
	}
	delete(h.filelu, filepath)
	for i, p := range h.fileluOrder {
		if p == filepath {
			h.fileluOrder = append(h.fileluOrder[:i], h.fileluOrder[i+1:]...)
			break
		}
	}
	return nil
}

// RemoveMemberBag removes a bag from the member list together with
// every file-lookup entry pointing at it; those paths are also cleared
// from the deletion list. The three Save methods must still be called
// to persist the removal.
func (h *WritableHeadBag) RemoveMemberBag(bagname string) error {
	if _, err := h.MemberBags(); err != nil {
		return err
	}
	kept := h.members[:0]
	for _, m := range h.members {
		if m.Name != bagname {
			kept = append(kept, m)
		}
	}
	h.members = kept

	files, err := h.FilesInMember(bagname)
	if err != nil {
		return err
	}
	for _, f := range files {
		if err := h.UnsetDeleted(f); err != nil {
			return err
		}
		if err := h.RemoveFileLookup(f); err != nil {
			return err
		}
	}
	return nil
}

// SetDeleted marks a path as removed from the aggregation.
func (h *WritableHeadBag) SetDeleted(filepath string) error {
	if _, err := h.DeletedPaths(); err != nil {
		return err
	}
	h.deleted[filepath] = true
	return nil
}

// UnsetDeleted clears the deletion mark from a path.
func (h *WritableHeadBag) UnsetDeleted(filepath string) error {
	if _, err := h.DeletedPaths(); err != nil {
		return err
	}
	delete(h.deleted, filepath)
	return nil
}

// UpdateForMember registers a bag's files in the file lookup and,
// unless makeMember is false, appends the bag to the member list. The
// walk covers the include paths (default: data), skipping anything
// under an exclude entry. memberName overrides the bag's own name.
func (h *WritableHeadBag) UpdateForMember(member bagit.Bag, include, exclude []string,
	makeMember bool, memberName string) error {

	if memberName == "" {
		memberName = member.Name()
	}
	if makeMember {
		if err := h.AddMemberBag(MemberInfo{Name: memberName}, true); err != nil {
			return err
		}
	}
	if len(include) == 0 {
		include = []string{"data"}
	}
	excluded := make(map[string]bool, len(exclude))
	for _, e := range exclude {
		excluded[e] = true
	}

	for _, incl := range include {
		if excluded[incl] {
			continue
		}
		switch {
		case member.IsFile(incl):
			if err := h.AddFileLookup(incl, memberName); err != nil {
				return err
			}
		case member.IsDir(incl):
			steps, err := member.Walk(incl)
			if err != nil {
				return err
			}
			for _, step := range steps {
				if step.Dir != "" && underAny(step.Dir, excluded) {
					continue
				}
				for _, f := range step.Files {
					p := path.Join(step.Dir, f)
					if excluded[p] {
						continue
					}
					if err := h.AddFileLookup(p, memberName); err != nil {
						return err
					}
				}
			}
		}
		// paths absent from the bag are silently skipped
	}
	return nil
}

// underAny reports whether dir or one of its ancestors is excluded.
func underAny(dir string, excluded map[string]bool) bool {
	for d := dir; d != "." && d != ""; d = path.Dir(d) {
		if excluded[d] {
			return true
		}
	}
	return false
}

// ensureTagDir creates the multibag tag directory if needed.
func (h *WritableHeadBag) ensureTagDir() error {
	mbdir := filepath.Join(h.dir.Path(), filepath.FromSlash(h.TagDir()))
	return errors.Wrap(os.MkdirAll(mbdir, 0755), "creating multibag tag directory")
}

func (h *WritableHeadBag) writeTagFile(filename string, contents []byte) error {
	if err := h.ensureTagDir(); err != nil {
		return err
	}
	target := filepath.Join(h.dir.Path(), filepath.FromSlash(h.TagDir()), filename)
	return errors.Wrapf(renameio.WriteFile(target, contents, 0644),
		"writing %s", filename)
}

// SaveMemberBags persists the in-memory member list to member-bags.tsv,
// overwriting the file. A never-loaded list is left untouched.
func (h *WritableHeadBag) SaveMemberBags() error {
	if !h.membersLoaded {
		return nil
	}
	var buf bytes.Buffer
	for _, m := range h.members {
		buf.WriteString(m.Format())
	}
	return h.writeTagFile("member-bags.tsv", buf.Bytes())
}

// SaveFileLookup persists the in-memory file lookup to file-lookup.tsv.
func (h *WritableHeadBag) SaveFileLookup() error {
	if !h.fileluLoaded {
		return nil
	}
	var buf bytes.Buffer
	for _, p := range h.fileluOrder {
		buf.WriteString(p)
		buf.WriteString("\t")
		buf.WriteString(h.filelu[p])
		buf.WriteString("\n")
	}
	return h.writeTagFile("file-lookup.tsv", buf.Bytes())
}

// SaveDeleted persists the deletion list to deleted.txt, one path per
// line in sorted order.
func (h *WritableHeadBag) SaveDeleted() error {
	if !h.deletedLoaded {
		return nil
	}
	paths := make([]string, 0, len(h.deleted))
	for p := range h.deleted {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	var buf bytes.Buffer
	for _, p := range paths {
		buf.WriteString(p)
		buf.WriteString("\n")
	}
	return h.writeTagFile("deleted.txt", buf.Bytes())
}

// ClearFileLookup removes the file-lookup tag file from disk and drops
// the in-memory cache.
func (h *WritableHeadBag) ClearFileLookup() error {
	target := filepath.Join(h.dir.Path(), filepath.FromSlash(h.TagDir()),
		"file-lookup.tsv")
	if err := os.Remove(target); err != nil && !os.IsNotExist(err) {
		return errors.Wrap(err, "clearing file lookup")
	}
	h.filelu = nil
	h.fileluOrder = nil
	h.fileluLoaded = false
	return nil
}

// SetTagDir changes the multibag tag directory. With migrate set, an
// existing tag directory is renamed to the new name; it is an error if
// the destination already exists. The tag change is not persisted until
// Save.
func (h *WritableHeadBag) SetTagDir(dirname string, migrate bool) error {
	dirname = strings.Trim(path.Clean(dirname), "/")
	if dirname == h.TagDir() {
		return nil
	}
	if migrate {
		oldpath := filepath.Join(h.dir.Path(), filepath.FromSlash(h.TagDir()))
		newpath := filepath.Join(h.dir.Path(), filepath.FromSlash(dirname))
		if _, err := os.Stat(newpath); err == nil {
			return NewMultibagError(
				"unable to migrate (tag dir not updated): %s already exists", dirname)
		}
		if _, err := os.Stat(oldpath); err == nil {
			if err := os.MkdirAll(filepath.Dir(newpath), 0755); err != nil {
				return errors.Wrap(err, "migrating tag directory")
			}
			if err := os.Rename(oldpath, newpath); err != nil {
				return errors.Wrap(err, "migrating tag directory")
			}
		}
	}
	h.Info().Set("Multibag-Tag-Directory", dirname)
	return nil
}

// UpdateInfo stamps the full block of multibag tags on the bag: the
// profile version, reference URL, tag directory, and head version, plus
// the standard profile sentence in Internal-Sender-Description. Stale
// Bag-Count and Bag-Size tags are dropped, and Bag-Size is recomputed.
// The bag is saved twice: once to commit the removals (so the new size
// reflects the final tag file) and once with the fresh Bag-Size.
func (h *WritableHeadBag) UpdateInfo(version, profver string) error {
	if profver == "" {
		profver = CurrentVersion
	}
	info := h.Info()
	if version != "" {
		info.Set("Multibag-Head-Version", version)
	}
	info.Set("Multibag-Version", profver)
	info.SetDefault("Multibag-Tag-Directory", DefaultTagDir)
	info.SetDefault("Multibag-Head-Version", "1")
	info.Set("Multibag-Reference", CurrentReference)

	stampAboutSentence(info)

	info.Remove("Bag-Count")
	info.Remove("Bag-Size")
	if err := h.dir.Save(); err != nil {
		return err
	}
	size, err := BagSize(h.dir)
	if err != nil {
		return err
	}
	info.Set("Bag-Size", size)
	return h.dir.Save()
}

// stampAboutSentence appends the standard profile sentence to
// Internal-Sender-Description unless some value already carries it.
func stampAboutSentence(info *bagit.TagFile) {
	values := info.Values("Internal-Sender-Description")
	for _, v := range values {
		if strings.Contains(v, aboutMorsel) {
			return
		}
	}
	if len(values) == 0 {
		info.Set("Internal-Sender-Description", AboutMultibag)
		return
	}
	info.Add("Internal-Sender-Description", AboutMultibag)
}
