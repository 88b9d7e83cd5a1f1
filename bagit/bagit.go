// Package bagit provides read and update access to BagIt bags stored as
// local directories or as serialized archives (zip and tar variants).
// A bag opened from a directory is writable; a bag opened from an archive
// is a read-only snapshot. The package preserves tag order and repeated
// tags in bag-info.txt, which the multibag profile depends on.
//
// The BagIt spec can be found at https://tools.ietf.org/html/draft-kunze-bagit-11.
package bagit

import (
	"io"
	"os"
	"path"
	"regexp"
	"strings"
	"time"
)

// FileTimes holds the timestamps known for one file inside a bag. A zero
// time means the timestamp is unknown (archive formats do not record all
// three).
type FileTimes struct {
	Created  time.Time
	Modified time.Time
	Accessed time.Time
}

// A TreeStep is one directory visited during a Walk: the directory's
// bag-root-relative path ("" for the root itself) plus the names of its
// subdirectories and files in lexical order.
type TreeStep struct {
	Dir     string
	Subdirs []string
	Files   []string
}

// Bag is the read interface over a bag's file tree and tag state. Paths
// are relative to the bag root and delimited with forward slashes on
// every platform.
type Bag interface {
	// Name is the bag's name: the base name of its root directory.
	Name() string
	// Path is the location the bag was opened from.
	Path() string
	// Info holds the parsed bag-info.txt tags. Mutations are only
	// persisted by Save.
	Info() *TagFile

	Exists(p string) bool
	IsDir(p string) bool
	IsFile(p string) bool
	Sizeof(p string) (int64, error)
	TimesFor(p string) (FileTimes, error)

	// OpenText opens a file inside the bag for reading.
	OpenText(p string) (io.ReadCloser, error)
	// Walk visits the tree rooted at start ("" for the whole bag) in
	// lexical order.
	Walk(start string) ([]TreeStep, error)
	// Replicate copies the file at p into destdir/p, creating parent
	// directories as needed. Directories are recreated empty.
	Replicate(p string, destdir string) error

	// PayloadEntries maps payload paths (under data/) to their
	// per-algorithm checksums as read from the manifest-<alg>.txt files.
	PayloadEntries() (map[string]map[string]string, error)
	// TagfileEntries is PayloadEntries for the tagmanifest files.
	TagfileEntries() (map[string]map[string]string, error)
	// ManifestFiles lists the payload manifest file names present at the
	// bag root, e.g. "manifest-sha256.txt".
	ManifestFiles() []string
	// TagManifestFiles lists the tagmanifest file names present.
	TagManifestFiles() []string

	// IsHeadMultibag reports whether the bag declares itself the head of
	// a multibag aggregation (Multibag-Head-Version is set).
	IsHeadMultibag() bool

	// Save persists the in-memory tags back to bag-info.txt and
	// refreshes its tagmanifest entries. Archive-backed bags return
	// ErrReadOnly.
	Save() error
}

var specialFiles = []*regexp.Regexp{
	regexp.MustCompile(`^bagit.txt$`),
	regexp.MustCompile(`^bag-info.txt$`),
	regexp.MustCompile(`^fetch.txt$`),
	regexp.MustCompile(`^(tag)?manifest-(\w+).txt$`),
}

// IsSpecialFile reports whether name is one of the reserved BagIt file
// names (bagit.txt, bag-info.txt, fetch.txt, or a manifest file).
func IsSpecialFile(name string) bool {
	for _, re := range specialFiles {
		if re.MatchString(name) {
			return true
		}
	}
	return false
}

// SerializedExtensions lists the archive extensions recognized by Open,
// in the order they are tried when resolving a bag name to a file.
var SerializedExtensions = []string{".zip", ".tar", ".tar.gz", ".tar.bz2", ".tgz"}

// Open opens the bag at the given location, which may be a bag root
// directory or a serialized bag archive. Directory bags come back
// writable as a *DirBag; archives come back as a read-only *ArchiveBag.
func Open(location string) (Bag, error) {
	fi, err := os.Stat(location)
	if err != nil {
		return nil, NewBagError("cannot open bag: %s", err)
	}
	if fi.IsDir() {
		return OpenDir(location)
	}
	for _, ext := range SerializedExtensions {
		if strings.HasSuffix(location, ext) {
			return OpenArchive(location)
		}
	}
	return nil, NewBagError("not a directory nor a recognized serialization: %s", location)
}

// canonPath normalizes a slash-delimited bag path and rejects anything
// that would escape the bag root. The empty string maps to the root.
func canonPath(p string) (string, bool) {
	cp := path.Clean(p)
	if cp == "." || cp == "/" {
		return "", true
	}
	if path.IsAbs(cp) || cp == ".." || strings.HasPrefix(cp, "../") {
		return "", false
	}
	return cp, true
}

// Nonstandard lists the paths in the bag that are not reserved BagIt
// files: every payload and tag file plus any empty directory (so the
// directory can be recreated faithfully in an output bag).
func Nonstandard(b Bag) ([]string, error) {
	steps, err := b.Walk("")
	if err != nil {
		return nil, err
	}
	var out []string
	for _, step := range steps {
		if len(step.Subdirs) == 0 && len(step.Files) == 0 {
			out = append(out, step.Dir)
		}
		for _, f := range step.Files {
			if !IsSpecialFile(f) {
				out = append(out, path.Join(step.Dir, f))
			}
		}
	}
	return out, nil
}
