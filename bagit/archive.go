package bagit

import (
	"archive/tar"
	"archive/zip"
	"bytes"
	"compress/bzip2"
	"compress/gzip"
	"io"
	"io/ioutil"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// ArchiveBag is a read-only bag backed by a serialized archive (zip,
// tar, tar.gz, tar.bz2, tgz). Tar-based archives are indexed into memory
// when opened, since tar offers no random access; zip entries are read
// lazily from the open archive.
type ArchiveBag struct {
	location string
	name     string
	info     *TagFile
	files    map[string]*archiveEntry
	dirs     map[string]bool
	zr       *zip.ReadCloser // non-nil for zip-backed bags
}

type archiveEntry struct {
	size    int64
	modTime time.Time
	open    func() (io.ReadCloser, error)
}

// OpenArchive opens a serialized bag. The bag root is resolved by
// scanning the archive's top-level directories for the first one that
// directly contains a bagit.txt file.
func OpenArchive(location string) (*ArchiveBag, error) {
	b := &ArchiveBag{
		location: location,
		files:    make(map[string]*archiveEntry),
		dirs:     make(map[string]bool),
	}
	var err error
	if strings.HasSuffix(location, ".zip") {
		err = b.indexZip()
	} else {
		err = b.indexTar()
	}
	if err != nil {
		b.Close()
		return nil, err
	}
	f, err := b.OpenText("bag-info.txt")
	if err != nil {
		b.info = NewTagFile()
		return b, nil
	}
	defer f.Close()
	b.info, err = ParseTags(f)
	if err != nil {
		b.Close()
		return nil, err
	}
	return b, nil
}

// Close releases the archive handle held by a zip-backed bag. It is a
// no-op for tar-backed bags.
func (b *ArchiveBag) Close() error {
	if b.zr != nil {
		return b.zr.Close()
	}
	return nil
}

// resolveRoot picks the bag root from the archive member names: the
// first top-level directory, in sorted order, holding a bagit.txt.
func resolveRoot(names []string) (string, error) {
	tops := make(map[string]bool)
	present := make(map[string]bool)
	for _, n := range names {
		n = strings.TrimPrefix(n, "./")
		present[n] = true
		if i := strings.Index(n, "/"); i > 0 {
			tops[n[:i]] = true
		}
	}
	var sorted []string
	for t := range tops {
		sorted = append(sorted, t)
	}
	sort.Strings(sorted)
	for _, t := range sorted {
		if present[t+"/bagit.txt"] {
			return t, nil
		}
	}
	return "", NewBagError("file does not appear to contain a serialized bag: %v",
		sorted)
}

func (b *ArchiveBag) indexZip() error {
	zr, err := zip.OpenReader(b.location)
	if err != nil {
		return NewBagError("cannot open zip file %s: %s", b.location, err)
	}
	b.zr = zr
	var names []string
	for _, zf := range zr.File {
		names = append(names, zf.Name)
	}
	root, err := resolveRoot(names)
	if err != nil {
		return err
	}
	b.name = root
	prefix := root + "/"
	for _, zf := range zr.File {
		name := strings.TrimPrefix(zf.Name, "./")
		if !strings.HasPrefix(name, prefix) {
			continue
		}
		rel := name[len(prefix):]
		if rel == "" {
			continue
		}
		if strings.HasSuffix(rel, "/") || zf.FileInfo().IsDir() {
			b.addDir(strings.TrimSuffix(rel, "/"))
			continue
		}
		zf := zf
		b.addParents(rel)
		b.files[rel] = &archiveEntry{
			size:    int64(zf.UncompressedSize64),
			modTime: zf.Modified,
			open:    func() (io.ReadCloser, error) { return zf.Open() },
		}
	}
	b.dirs[""] = true
	return nil
}

func (b *ArchiveBag) indexTar() error {
	f, err := os.Open(b.location)
	if err != nil {
		return NewBagError("cannot open tar file %s: %s", b.location, err)
	}
	defer f.Close()

	var r io.Reader = f
	switch {
	case strings.HasSuffix(b.location, ".tar.gz"),
		strings.HasSuffix(b.location, ".tgz"):
		gz, err := gzip.NewReader(f)
		if err != nil {
			return NewBagError("cannot open tar file %s: %s", b.location, err)
		}
		defer gz.Close()
		r = gz
	case strings.HasSuffix(b.location, ".tar.bz2"):
		r = bzip2.NewReader(f)
	}

	type member struct {
		hdr  *tar.Header
		data []byte
	}
	var members []member
	var names []string
	tr := tar.NewReader(r)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return NewBagError("cannot read tar file %s: %s", b.location, err)
		}
		m := member{hdr: hdr}
		if hdr.Typeflag == tar.TypeReg {
			m.data, err = ioutil.ReadAll(tr)
			if err != nil {
				return errors.Wrapf(err, "reading tar member %s", hdr.Name)
			}
		}
		members = append(members, m)
		names = append(names, strings.TrimSuffix(hdr.Name, "/"))
	}

	root, err := resolveRoot(names)
	if err != nil {
		return err
	}
	b.name = root
	prefix := root + "/"
	for _, m := range members {
		name := strings.TrimPrefix(strings.TrimSuffix(m.hdr.Name, "/"), "./")
		if !strings.HasPrefix(name, prefix) {
			continue
		}
		rel := name[len(prefix):]
		if rel == "" {
			continue
		}
		if m.hdr.Typeflag == tar.TypeDir {
			b.addDir(rel)
			continue
		}
		if m.hdr.Typeflag != tar.TypeReg {
			continue
		}
		data := m.data
		b.addParents(rel)
		b.files[rel] = &archiveEntry{
			size:    m.hdr.Size,
			modTime: m.hdr.ModTime,
			open: func() (io.ReadCloser, error) {
				return ioutil.NopCloser(bytes.NewReader(data)), nil
			},
		}
	}
	b.dirs[""] = true
	return nil
}

func (b *ArchiveBag) addDir(rel string) {
	if rel == "" {
		return
	}
	b.dirs[rel] = true
	b.addParents(rel)
}

func (b *ArchiveBag) addParents(rel string) {
	for d := path.Dir(rel); d != "." && d != "/"; d = path.Dir(d) {
		b.dirs[d] = true
	}
}

// Name returns the name of the bag's root directory inside the archive.
func (b *ArchiveBag) Name() string { return b.name }

// Path returns the location of the archive file.
func (b *ArchiveBag) Path() string { return b.location }

func (b *ArchiveBag) Info() *TagFile { return b.info }

func (b *ArchiveBag) lookup(p string) (*archiveEntry, bool, bool) {
	cp, ok := canonPath(p)
	if !ok {
		return nil, false, false
	}
	if b.dirs[cp] || cp == "" {
		return nil, true, true
	}
	e, ok := b.files[cp]
	return e, ok, false
}

func (b *ArchiveBag) Exists(p string) bool {
	_, ok, _ := b.lookup(p)
	return ok
}

func (b *ArchiveBag) IsDir(p string) bool {
	_, ok, isdir := b.lookup(p)
	return ok && isdir
}

func (b *ArchiveBag) IsFile(p string) bool {
	e, ok, _ := b.lookup(p)
	return ok && e != nil
}

func (b *ArchiveBag) Sizeof(p string) (int64, error) {
	e, ok, _ := b.lookup(p)
	if !ok || e == nil {
		return 0, NewBagError("no such file in bag: %s", p)
	}
	return e.size, nil
}

// TimesFor reports the modification time recorded in the archive.
// Creation and access times are unknown for archive members.
func (b *ArchiveBag) TimesFor(p string) (FileTimes, error) {
	e, ok, isdir := b.lookup(p)
	if !ok {
		return FileTimes{}, NewBagError("no such file in bag: %s", p)
	}
	if isdir || e == nil {
		return FileTimes{}, nil
	}
	return FileTimes{Modified: e.modTime}, nil
}

func (b *ArchiveBag) OpenText(p string) (io.ReadCloser, error) {
	e, ok, _ := b.lookup(p)
	if !ok || e == nil {
		return nil, NewBagError("no such file in bag: %s", p)
	}
	return e.open()
}

// Walk visits the archive's directory tree in lexical order.
func (b *ArchiveBag) Walk(start string) ([]TreeStep, error) {
	cp, ok := canonPath(start)
	if !ok {
		return nil, NewBagError("path escapes bag root: %s", start)
	}
	if cp != "" && !b.dirs[cp] {
		return nil, NewBagError("no such directory in bag: %s", start)
	}

	children := make(map[string][]string)
	leaves := make(map[string][]string)
	for d := range b.dirs {
		if d == "" {
			continue
		}
		parent := path.Dir(d)
		if parent == "." {
			parent = ""
		}
		children[parent] = append(children[parent], path.Base(d))
	}
	for f := range b.files {
		parent := path.Dir(f)
		if parent == "." {
			parent = ""
		}
		leaves[parent] = append(leaves[parent], path.Base(f))
	}

	var out []TreeStep
	var visit func(dir string)
	visit = func(dir string) {
		subs := children[dir]
		files := leaves[dir]
		sort.Strings(subs)
		sort.Strings(files)
		out = append(out, TreeStep{Dir: dir, Subdirs: subs, Files: files})
		for _, s := range subs {
			visit(path.Join(dir, s))
		}
	}
	visit(cp)
	return out, nil
}

// Replicate extracts the file or empty directory at p into destdir.
func (b *ArchiveBag) Replicate(p string, destdir string) error {
	e, ok, isdir := b.lookup(p)
	if !ok {
		return NewBagError("replicate: file/dir does not exist in this bag: %s", p)
	}
	destpath := filepath.Join(destdir, filepath.FromSlash(p))
	if isdir {
		return errors.Wrapf(os.MkdirAll(destpath, 0755), "replicating directory %s", p)
	}
	if err := os.MkdirAll(filepath.Dir(destpath), 0755); err != nil {
		return errors.Wrapf(err, "replicating %s", p)
	}
	in, err := e.open()
	if err != nil {
		return errors.Wrapf(err, "replicating %s", p)
	}
	defer in.Close()
	out, err := os.Create(destpath)
	if err != nil {
		return errors.Wrapf(err, "replicating %s", p)
	}
	_, err = io.Copy(out, in)
	if err2 := out.Close(); err == nil {
		err = err2
	}
	return errors.Wrapf(err, "replicating %s", p)
}

func (b *ArchiveBag) PayloadEntries() (map[string]map[string]string, error) {
	return readManifests(b, b.ManifestFiles())
}

func (b *ArchiveBag) TagfileEntries() (map[string]map[string]string, error) {
	return readManifests(b, b.TagManifestFiles())
}

func (b *ArchiveBag) ManifestFiles() []string {
	return listManifests(b, "manifest-")
}

func (b *ArchiveBag) TagManifestFiles() []string {
	return listManifests(b, "tagmanifest-")
}

func (b *ArchiveBag) IsHeadMultibag() bool {
	return b.info.Has("Multibag-Head-Version")
}

/// Save always fails: archive-backed bags are read-only.
func (b *ArchiveBag) Save() error {
	return ErrReadOnly
}
