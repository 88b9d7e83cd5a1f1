package multibag

import (
	"bufio"
	"strings"

	"github.com/ndlib/multibag/bagit"
	"github.com/pkg/errors"
)

// HeadBag gives read access to the multibag metadata carried by a head
// bag: the member list, file lookup, and deletion list, plus the
// Multibag-* tags. The three tag files are parsed lazily on first use
// and cached; Reload discards the caches.
type HeadBag struct {
	bagit.Bag

	members       []MemberInfo
	membersLoaded bool
	filelu        map[string]string
	fileluOrder   []string
	fileluLoaded  bool
	deleted       map[string]bool
	deletedLoaded bool
}

// NewHeadBag wraps an already-opened bag.
func NewHeadBag(b bagit.Bag) *HeadBag {
	return &HeadBag{Bag: b}
}

// OpenHeadBag opens the bag at the given location (directory or
// serialized archive) and wraps it as a HeadBag.
func OpenHeadBag(location string) (*HeadBag, error) {
	b, err := bagit.Open(location)
	if err != nil {
		return nil, err
	}
	return NewHeadBag(b), nil
}

// IsHeadBag reports whether the bag at the given location declares
// itself a head bag.
func IsHeadBag(location string) bool {
	b, err := bagit.Open(location)
	if err != nil {
		return false
	}
	return b.IsHeadMultibag()
}

// Reload discards the cached member list, file lookup, and deletion
// list so the next read re-parses the tag files.
func (h *HeadBag) Reload() {
	h.membersLoaded = false
	h.members = nil
	h.fileluLoaded = false
	h.filelu = nil
	h.fileluOrder = nil
	h.deletedLoaded = false
	h.deleted = nil
}

// HeadVersion returns the required Multibag-Head-Version tag. Its
// absence is an error: only head bags carry the tag.
func (h *HeadBag) HeadVersion() (string, error) {
	v := h.Info().Get("Multibag-Head-Version")
	if v == "" {
		return "", NewMultibagError("missing required 'Multibag-Head-Version' info tag")
	}
	return v, nil
}

// ProfileVersion returns the Multibag-Version tag, defaulting to the
// current supported profile version when the bag does not declare one.
func (h *HeadBag) ProfileVersion() string {
	v := h.Info().Get("Multibag-Version")
	if v == "" {
		return CurrentVersion
	}
	return v
}

// TagDir returns the bag-relative multibag tag directory.
func (h *HeadBag) TagDir() string {
	d := h.Info().Get("Multibag-Tag-Directory")
	if d == "" {
		return DefaultTagDir
	}
	return d
}

// memberBagsFile returns the name of the member list file for the bag's
// profile version.
func (h *HeadBag) memberBagsFile() string {
	if Less(h.ProfileVersion(), "0.3") {
		return "group-members.txt"
	}
	return "member-bags.tsv"
}

func (h *HeadBag) fileLookupFile() string {
	if Less(h.ProfileVersion(), "0.3") {
		return "group-directory.txt"
	}
	return "file-lookup.tsv"
}

// eachLine streams the non-blank lines of a tag file in the multibag
// tag directory. A missing file yields MissingMultibagFileError.
func (h *HeadBag) eachLine(filename string, fn func(line string) error) error {
	p := h.TagDir() + "/" + filename
	if !h.IsFile(p) {
		return &MissingMultibagFileError{File: filename}
	}
	f, err := h.OpenText(p)
	if err != nil {
		return err
	}
	defer f.Close()
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}
		if err := fn(line); err != nil {
			return err
		}
	}
	return errors.Wrapf(scanner.Err(), "reading %s", p)
}

func (h *HeadBag) loadMemberBags() error {
	profver := h.ProfileVersion()
	var members []MemberInfo
	err := h.eachLine(h.memberBagsFile(), func(line string) error {
		m, err := ParseMemberLine(line, profver)
		if err != nil {
			return err
		}
		members = append(members, m)
		return nil
	})
	if err != nil {
		return err
	}
	h.members = members
	h.membersLoaded = true
	return nil
}

// MemberBags returns the ordered list of bags making up the
// aggregation. The result is cached; use Reload to force a re-read.
func (h *HeadBag) MemberBags() ([]MemberInfo, error) {
	if !h.membersLoaded {
		if err := h.loadMemberBags(); err != nil {
			return nil, err
		}
	}
	return h.members, nil
}

// MemberBagNames returns the ordered member bag names.
func (h *HeadBag) MemberBagNames() ([]string, error) {
	members, err := h.MemberBags()
	if err != nil {
		return nil, err
	}
	names := make([]string, len(members))
	for i, m := range members {
		names[i] = m.Name
	}
	return names, nil
}

func (h *HeadBag) loadFileLookup() error {
	profver := h.ProfileVersion()
	filelu := make(map[string]string)
	var order []string
	err := h.eachLine(h.fileLookupFile(), func(line string) error {
		p, bagname, err := parseFileLookupLine(line, profver)
		if err != nil {
			return err
		}
		if _, ok := filelu[p]; !ok {
			order = append(order, p)
		}
		filelu[p] = bagname
		return nil
	})
	if err != nil {
		return err
	}
	h.filelu = filelu
	h.fileluOrder = order
	h.fileluLoaded = true
	return nil
}

// LookupFile returns the name of the member bag holding the given file,
// or "" if the path is not in the lookup.
func (h *HeadBag) LookupFile(p string) (string, error) {
	if !h.fileluLoaded {
		if err := h.loadFileLookup(); err != nil {
			return "", err
		}
	}
	return h.filelu[p], nil
}

// A LookupEntry is one row of the file lookup: a file path and the name
// of the member bag holding that file.
type LookupEntry struct {
	Path string
	Bag  string
}

// FileLookup returns the full file lookup in file order.
func (h *HeadBag) FileLookup() ([]LookupEntry, error) {
	if !h.fileluLoaded {
		if err := h.loadFileLookup(); err != nil {
			return nil, err
		}
	}
	out := make([]LookupEntry, 0, len(h.fileluOrder))
	for _, p := range h.fileluOrder {
		out = append(out, LookupEntry{Path: p, Bag: h.filelu[p]})
	}
	return out, nil
}

// FilesInMember returns the paths registered to the named member bag, in
// lookup order. A missing lookup file yields an empty list.
func (h *HeadBag) FilesInMember(bagname string) ([]string, error) {
	if !h.fileluLoaded {
		if err := h.loadFileLookup(); err != nil {
			if IsMissingFile(err) {
				return nil, nil
			}
			return nil, err
		}
	}
	var out []string
	for _, p := range h.fileluOrder {
		if h.filelu[p] == bagname {
			out = append(out, p)
		}
	}
	return out, nil
}

func (h *HeadBag) loadDeleted() error {
	deleted := make(map[string]bool)
	err := h.eachLine("deleted.txt", func(line string) error {
		deleted[strings.TrimSpace(line)] = true
		return nil
	})
	if err != nil && !IsMissingFile(err) {
		return err
	}
	h.deleted = deleted
	h.deletedLoaded = true
	return nil
}

// DeletedPaths returns the set of paths marked as removed from the
// aggregation. An absent deleted.txt is an empty set, not an error.
func (h *HeadBag) DeletedPaths() (map[string]bool, error) {
	if !h.deletedLoaded {
		if err := h.loadDeleted(); err != nil {
			return nil, err
		}
	}
	return h.deleted, nil
}
