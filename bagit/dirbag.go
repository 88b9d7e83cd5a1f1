package bagit

import (
	"bytes"
	"io"
	"io/ioutil"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/google/renameio"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// DirBag is a bag rooted at a local directory. It is the only writable
// bag implementation.
type DirBag struct {
	root string
	name string
	info *TagFile

	// UseHardLinks asks Replicate to hard-link files into the
	// destination instead of copying bytes. Replication falls back to a
	// copy when linking fails (cross-device, unsupported platform).
	UseHardLinks bool
}

// OpenDir opens the bag rooted at the given directory.
func OpenDir(root string) (*DirBag, error) {
	root = strings.TrimRight(root, string(os.PathSeparator))
	fi, err := os.Stat(root)
	if err != nil || !fi.IsDir() {
		return nil, NewBagError("bag root is not a directory: %s", root)
	}
	b := &DirBag{
		root: root,
		name: filepath.Base(root),
	}
	b.info, err = b.loadInfo()
	if err != nil {
		return nil, err
	}
	return b, nil
}

func (b *DirBag) loadInfo() (*TagFile, error) {
	f, err := os.Open(filepath.Join(b.root, "bag-info.txt"))
	if err != nil {
		if os.IsNotExist(err) {
			return NewTagFile(), nil
		}
		return nil, errors.Wrap(err, "opening bag-info.txt")
	}
	defer f.Close()
	return ParseTags(f)
}

// Name returns the base name of the bag's root directory.
func (b *DirBag) Name() string { return b.name }

// Path returns the bag's root directory.
func (b *DirBag) Path() string { return b.root }

// Info returns the bag's parsed bag-info.txt tags.
func (b *DirBag) Info() *TagFile { return b.info }

// ospath resolves a bag-relative slash path to an OS path, or "" when
// the path would escape the bag root.
func (b *DirBag) ospath(p string) string {
	cp, ok := canonPath(p)
	if !ok {
		return ""
	}
	return filepath.Join(b.root, filepath.FromSlash(cp))
}

func (b *DirBag) Exists(p string) bool {
	op := b.ospath(p)
	if op == "" {
		return false
	}
	_, err := os.Stat(op)
	return err == nil
}

func (b *DirBag) IsDir(p string) bool {
	op := b.ospath(p)
	if op == "" {
		return false
	}
	fi, err := os.Stat(op)
	return err == nil && fi.IsDir()
}

func (b *DirBag) IsFile(p string) bool {
	op := b.ospath(p)
	if op == "" {
		return false
	}
	fi, err := os.Stat(op)
	return err == nil && fi.Mode().IsRegular()
}

func (b *DirBag) Sizeof(p string) (int64, error) {
	op := b.ospath(p)
	if op == "" {
		return 0, NewBagError("path escapes bag root: %s", p)
	}
	fi, err := os.Stat(op)
	if err != nil {
		return 0, errors.Wrapf(err, "sizeof %s", p)
	}
	return fi.Size(), nil
}

func (b *DirBag) TimesFor(p string) (FileTimes, error) {
	op := b.ospath(p)
	if op == "" {
		return FileTimes{}, NewBagError("path escapes bag root: %s", p)
	}
	fi, err := os.Stat(op)
	if err != nil {
		return FileTimes{}, errors.Wrapf(err, "timesfor %s", p)
	}
	return FileTimes{Modified: fi.ModTime()}, nil
}

func (b *DirBag) OpenText(p string) (io.ReadCloser, error) {
	op := b.ospath(p)
	if op == "" {
		return nil, NewBagError("path escapes bag root: %s", p)
	}
	f, err := os.Open(op)
	if err != nil {
		return nil, errors.Wrapf(err, "opening %s", p)
	}
	return f, nil
}

// Walk visits the tree below start in lexical order. Unreadable
// directories abort the walk.
func (b *DirBag) Walk(start string) ([]TreeStep, error) {
	op := b.ospath(start)
	if op == "" {
		return nil, NewBagError("path escapes bag root: %s", start)
	}
	cp, _ := canonPath(start)
	var out []TreeStep
	var visit func(dir string) error
	visit = func(dir string) error {
		infos, err := ioutil.ReadDir(filepath.Join(b.root, filepath.FromSlash(dir)))
		if err != nil {
			capture(err)
			return errors.Wrapf(err, "walking %s", dir)
		}
		step := TreeStep{Dir: dir}
		for _, fi := range infos {
			if fi.IsDir() {
				step.Subdirs = append(step.Subdirs, fi.Name())
			} else {
				step.Files = append(step.Files, fi.Name())
			}
		}
		out = append(out, step)
		for _, sub := range step.Subdirs {
			if err := visit(path.Join(dir, sub)); err != nil {
				return err
			}
		}
		return nil
	}
	if err := visit(cp); err != nil {
		return nil, err
	}
	return out, nil
}

// Replicate copies the file or empty directory at p into destdir,
// preserving its bag-relative path. Hard links are used when enabled and
// possible.
func (b *DirBag) Replicate(p string, destdir string) error {
	if !b.Exists(p) {
		return NewBagError("replicate: file/dir does not exist in this bag: %s", p)
	}
	destpath := filepath.Join(destdir, filepath.FromSlash(p))
	if b.IsDir(p) {
		return errors.Wrapf(os.MkdirAll(destpath, 0755), "replicating directory %s", p)
	}
	if err := os.MkdirAll(filepath.Dir(destpath), 0755); err != nil {
		return errors.Wrapf(err, "replicating %s", p)
	}
	source := b.ospath(p)
	if b.UseHardLinks {
		if err := os.Link(source, destpath); err == nil {
			return nil
		} else if !os.IsExist(err) {
			log.WithFields(log.Fields{"path": p, "error": err}).
				Warn("Cannot hard link, copying instead")
		}
	}
	return copyFile(source, destpath)
}

func copyFile(src, dest string) error {
	in, err := os.Open(src)
	if err != nil {
		return errors.Wrap(err, "replicate")
	}
	defer in.Close()
	out, err := os.Create(dest)
	if err != nil {
		return errors.Wrap(err, "replicate")
	}
	_, err = io.Copy(out, in)
	if err2 := out.Close(); err == nil {
		err = err2
	}
	return errors.Wrap(err, "replicate")
}

// PayloadEntries returns path → algorithm → checksum for every entry in
// the payload manifests.
func (b *DirBag) PayloadEntries() (map[string]map[string]string, error) {
	return readManifests(b, b.ManifestFiles())
}

// TagfileEntries returns path → algorithm → checksum for every entry in
// the tagmanifests.
func (b *DirBag) TagfileEntries() (map[string]map[string]string, error) {
	return readManifests(b, b.TagManifestFiles())
}

func (b *DirBag) ManifestFiles() []string {
	return listManifests(b, "manifest-")
}

func (b *DirBag) TagManifestFiles() []string {
	return listManifests(b, "tagmanifest-")
}

func (b *DirBag) IsHeadMultibag() bool {
	return b.info.Has("Multibag-Head-Version")
}

// Save writes the in-memory tags back to bag-info.txt and refreshes the
// file's entries in any tagmanifests. The write is atomic.
func (b *DirBag) Save() error {
	var buf bytes.Buffer
	if err := b.info.Write(&buf); err != nil {
		return err
	}
	target := filepath.Join(b.root, "bag-info.txt")
	if err := renameio.WriteFile(target, buf.Bytes(), 0644); err != nil {
		return errors.Wrap(err, "saving bag-info.txt")
	}
	return b.refreshTagmanifests("bag-info.txt")
}

// refreshTagmanifests recomputes the checksums for one tag file in every
// tagmanifest present at the bag root.
func (b *DirBag) refreshTagmanifests(tagfile string) error {
	for _, mf := range b.TagManifestFiles() {
		alg := manifestAlgorithm(mf)
		sum, err := hashFileHex(b.ospath(tagfile), alg)
		if err != nil {
			// algorithm we can't compute; leave the entry alone
			log.WithFields(log.Fields{"algorithm": alg, "file": mf}).
				Warn("Cannot refresh tagmanifest entry")
			continue
		}
		entries, order, err := readManifestFile(b, mf)
		if err != nil {
			return err
		}
		if _, ok := entries[tagfile]; !ok {
			order = append(order, tagfile)
		}
		entries[tagfile] = sum
		if err := writeManifestFile(b.root, mf, entries, order); err != nil {
			return err
		}
	}
	return nil
}
