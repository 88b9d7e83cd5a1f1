// Package restore recombines the member bags of a multibag aggregation
// into a single complete bag. Members are replayed newest first and a
// file is copied only if the destination does not already have it, so
// each path comes from the most recent member that carries it. Files
// recorded as deleted from the aggregation are left out.
package restore

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/ndlib/multibag/bagit"
	"github.com/ndlib/multibag/multibag"
)

// A Fetcher retrieves a remote member bag into destdir and returns the
// path of the local copy. The bagname is as given in member-bags.tsv.
type Fetcher func(bagname, destdir string) (string, error)

// A Restorer manages the restoration of a complete bag from its
// multibag members. Restore rebuilds the whole bag in one call; the
// other methods give finer control.
type Restorer struct {
	head     *multibag.HeadBag
	destdir  string
	cachedir string
	fetcher  Fetcher
	inplace  bool
}

// NewRestorer creates a restorer for the head bag at headbag. An empty
// destdir restores the head bag in place. cachedir is where member bags
// are looked for (and cached to when fetcher is set); it defaults to
// the head bag's parent directory, or to a cache inside the destination
// bag when a fetcher is given.
func NewRestorer(headbag, destdir, cachedir string, fetcher Fetcher) (*Restorer, error) {
	if _, err := os.Stat(headbag); err != nil {
		return nil, errors.Wrap(err, "missing head bag")
	}
	if !multibag.IsHeadBag(headbag) {
		return nil, multibag.NewMultibagError("not a head bag: %s", headbag)
	}
	head, err := multibag.OpenHeadBag(headbag)
	if err != nil {
		return nil, err
	}

	headpath, err := filepath.Abs(head.Path())
	if err != nil {
		return nil, err
	}
	inplace := false
	if destdir == "" {
		destdir = headpath
		inplace = true
	}
	destdir, err = filepath.Abs(destdir)
	if err != nil {
		return nil, err
	}
	if fi, err := os.Stat(filepath.Dir(destdir)); err != nil || !fi.IsDir() {
		return nil, errors.New("parent of destination bag directory does not exist as a directory")
	}
	if destdir == headpath {
		inplace = true
	}

	if cachedir == "" {
		if fetcher != nil {
			cachedir = filepath.Join(destdir, head.TagDir(), "_membercache")
		} else {
			cachedir = filepath.Dir(headpath)
		}
	}
	return &Restorer{
		head:     head,
		destdir:  destdir,
		cachedir: cachedir,
		fetcher:  fetcher,
		inplace:  inplace,
	}, nil
}

// DestDir returns the destination bag directory.
func (r *Restorer) DestDir() string { return r.destdir }

// Head returns the head bag being restored from.
func (r *Restorer) Head() *multibag.HeadBag { return r.head }

// CacheDir returns the directory searched for member bags.
func (r *Restorer) CacheDir() string { return r.cachedir }

func (r *Restorer) createDestBag() error {
	if _, err := os.Stat(r.destdir); os.IsNotExist(err) {
		if err := os.Mkdir(r.destdir, 0755); err != nil {
			return err
		}
	}
	if strings.HasPrefix(r.cachedir, r.destdir) {
		if _, err := os.Stat(r.cachedir); os.IsNotExist(err) {
			return os.MkdirAll(r.cachedir, 0755)
		}
	}
	return nil
}

// FindMemberBag looks for the member bag in the cache directory and
// returns its path, or "" if no usable form is found. The bag may be
// present as a directory or in a serialized form.
func (r *Restorer) FindMemberBag(bagname string) string {
	bagdir := filepath.Join(r.cachedir, bagname)
	if fi, err := os.Stat(bagdir); err == nil && fi.IsDir() {
		return bagdir
	}
	for _, ext := range bagit.SerializedExtensions {
		if fi, err := os.Stat(bagdir + ext); err == nil && !fi.IsDir() {
			return bagdir + ext
		}
	}
	return ""
}

// GetMemberBag returns the path to a readable copy of the named member
// bag, fetching it into the cache if necessary.
func (r *Restorer) GetMemberBag(bagname string) (string, error) {
	if p := r.FindMemberBag(bagname); p != "" {
		return p, nil
	}
	if r.fetcher == nil {
		return "", errors.Errorf("member bag not found: %s", bagname)
	}
	if err := r.createDestBag(); err != nil {
		return "", err
	}
	return r.fetcher(bagname, r.cachedir)
}

// RestoreMember copies files from the named member bag into the
// destination bag. Only files the destination does not already have are
// copied, unless overwrite is set. Paths in skip (and everything under
// a skipped directory) are left out.
func (r *Restorer) RestoreMember(bagname string, skip map[string]bool, overwrite bool) error {
	src, err := r.GetMemberBag(bagname)
	if err != nil {
		return err
	}
	log.WithFields(log.Fields{"member": bagname, "from": src}).Info("restoring member bag")
	return r.restoreFrom(src, skip, overwrite)
}

func skipped(p string, skip map[string]bool) bool {
	if skip[p] {
		return true
	}
	for s := range skip {
		if strings.HasPrefix(p, s+"/") {
			return true
		}
	}
	return false
}

func (r *Restorer) restoreFrom(srcpath string, skip map[string]bool, overwrite bool) error {
	if abs, err := filepath.Abs(srcpath); err == nil && abs == r.destdir {
		return nil
	}
	if err := r.createDestBag(); err != nil {
		return err
	}

	src, err := bagit.Open(srcpath)
	if err != nil {
		return err
	}
	steps, err := src.Walk("")
	if err != nil {
		return err
	}

	var updated []string
	for _, step := range steps {
		if step.Dir != "" && skipped(step.Dir, skip) {
			continue
		}
		destroot := filepath.Join(r.destdir, filepath.FromSlash(step.Dir))
		var rootMtime time.Time
		if fi, err := os.Stat(destroot); err == nil {
			rootMtime = fi.ModTime()
		}

		for _, f := range step.Files {
			p := joinBagPath(step.Dir, f)
			if skip[p] {
				continue
			}
			destf := filepath.Join(r.destdir, filepath.FromSlash(p))
			if overwrite {
				if _, err := os.Stat(destf); err == nil {
					if err := os.Remove(destf); err != nil {
						return err
					}
				}
			}
			if _, err := os.Stat(destf); err == nil {
				continue
			}
			if err := src.Replicate(p, r.destdir); err != nil {
				return errors.Wrapf(err, "restoring %s", p)
			}
			updated = append(updated, p)
			copyMtime(src, p, destf)
		}

		for _, d := range step.Subdirs {
			p := joinBagPath(step.Dir, d)
			if skip[p] {
				continue
			}
			destf := filepath.Join(r.destdir, filepath.FromSlash(p))
			if _, err := os.Stat(destf); os.IsNotExist(err) {
				if err := os.MkdirAll(destf, 0755); err != nil {
					return err
				}
				copyMtime(src, p, destf)
			}
		}

		// adding entries touched the directory; put its mtime back
		if !rootMtime.IsZero() {
			os.Chtimes(destroot, time.Now(), rootMtime)
		}
	}

	if len(updated) > 0 {
		return r.updateManifests(src, updated)
	}
	return nil
}

// copyMtime carries a source file's modification time over to the
// restored copy. Best effort: archives may not record times.
func copyMtime(src bagit.Bag, p, dest string) {
	times, err := src.TimesFor(p)
	if err != nil || times.Modified.IsZero() {
		return
	}
	os.Chtimes(dest, time.Now(), times.Modified)
}

func joinBagPath(dir, name string) string {
	if dir == "" {
		return name
	}
	return dir + "/" + name
}

// updateManifests folds the checksums of newly restored files into the
// destination bag's manifests. For each algorithm the manifest is
// rewritten in full: the restored entries first, then the destination's
// existing entries for paths not just restored.
func (r *Restorer) updateManifests(src bagit.Bag, updated []string) error {
	dest, err := bagit.OpenDir(r.destdir)
	if err != nil {
		return err
	}
	srcEntries, err := allEntries(src)
	if err != nil {
		return err
	}
	destEntries, err := allEntries(dest)
	if err != nil {
		return err
	}

	byAlg := make(map[string]map[string]string)
	order := make(map[string][]string)
	var algs []string
	for _, p := range updated {
		for alg, hash := range srcEntries[p] {
			if byAlg[alg] == nil {
				byAlg[alg] = make(map[string]string)
				algs = append(algs, alg)
			}
			if _, ok := byAlg[alg][p]; !ok {
				order[alg] = append(order[alg], p)
			}
			byAlg[alg][p] = hash
		}
	}
	sort.Strings(algs)

	destPaths := make([]string, 0, len(destEntries))
	for p := range destEntries {
		destPaths = append(destPaths, p)
	}
	sort.Strings(destPaths)
	for _, p := range destPaths {
		for _, alg := range algs {
			if _, ok := byAlg[alg][p]; !ok {
				if hash, ok := destEntries[p][alg]; ok {
					byAlg[alg][p] = hash
					order[alg] = append(order[alg], p)
				}
			}
		}
	}

	for _, alg := range algs {
		if err := writeManifest(r.destdir, "manifest-"+alg+".txt", byAlg[alg], order[alg], true); err != nil {
			return err
		}
		if err := writeManifest(r.destdir, "tagmanifest-"+alg+".txt", byAlg[alg], order[alg], false); err != nil {
			return err
		}
	}
	return nil
}

func writeManifest(destdir, filename string, hashes map[string]string, order []string, payload bool) error {
	var lines []string
	for _, p := range order {
		if strings.HasPrefix(p, "data/") == payload {
			lines = append(lines, hashes[p]+" "+p+"\n")
		}
	}
	if len(lines) == 0 {
		return nil
	}
	f, err := os.Create(filepath.Join(destdir, filename))
	if err != nil {
		return err
	}
	for _, l := range lines {
		if _, err := f.WriteString(l); err != nil {
			f.Close()
			return err
		}
	}
	return f.Close()
}

// allEntries merges a bag's payload and tagfile manifest entries.
func allEntries(b bagit.Bag) (map[string]map[string]string, error) {
	out, err := b.PayloadEntries()
	if err != nil {
		return nil, err
	}
	tags, err := b.TagfileEntries()
	if err != nil {
		return nil, err
	}
	for p, hashes := range tags {
		out[p] = hashes
	}
	return out, nil
}

// RestoreFetch rebuilds the destination bag's fetch.txt from the fetch
// files of the given members, visited in member order. Entries are
// keyed by destination path, so a later member's entry for a path wins.
func (r *Restorer) RestoreFetch(members []multibag.MemberInfo) error {
	if err := r.createDestBag(); err != nil {
		return err
	}
	if members == nil {
		var err error
		members, err = r.head.MemberBags()
		if err != nil {
			return err
		}
	}

	fetch := make(map[string]string)
	var order []string
	for _, member := range members {
		src, err := r.GetMemberBag(member.Name)
		if err != nil {
			return err
		}
		bag, err := bagit.Open(src)
		if err != nil {
			return err
		}
		if !bag.IsFile("fetch.txt") {
			continue
		}
		lines, err := readLines(bag, "fetch.txt")
		if err != nil {
			return err
		}
		for _, line := range lines {
			fields := strings.Fields(line)
			if len(fields) < 2 {
				continue
			}
			p := fields[len(fields)-1]
			if _, ok := fetch[p]; !ok {
				order = append(order, p)
			}
			fetch[p] = line
		}
	}
	if len(fetch) == 0 {
		return nil
	}

	f, err := os.Create(filepath.Join(r.destdir, "fetch.txt"))
	if err != nil {
		return err
	}
	for _, p := range order {
		if _, err := f.WriteString(fetch[p] + "\n"); err != nil {
			f.Close()
			return err
		}
	}
	return f.Close()
}

func readLines(b bagit.Bag, p string) ([]string, error) {
	f, err := b.OpenText(p)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	data, err := ioutil.ReadAll(f)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, line := range strings.Split(string(data), "\n") {
		if strings.TrimSpace(line) != "" {
			out = append(out, line)
		}
	}
	return out, nil
}

// Restore recombines all of the member bags named by the head bag into
// the destination bag. Afterwards the multibag tag directory and tags
// are removed and the Payload-Oxum and Bag-Size tags recomputed, so the
// result is an ordinary complete bag.
func (r *Restorer) Restore() error {
	skip, err := r.head.DeletedPaths()
	if err != nil {
		return err
	}
	members, err := r.head.MemberBags()
	if err != nil {
		return err
	}
	reversed := make([]multibag.MemberInfo, len(members))
	for i, m := range members {
		reversed[len(members)-1-i] = m
	}

	if err := r.createDestBag(); err != nil {
		return err
	}

	// the source bag's original tags become the restored bag's
	agginfo := r.head.TagDir() + "/aggregation-info.txt"
	if r.head.IsFile(agginfo) {
		src, err := r.head.OpenText(agginfo)
		if err != nil {
			return err
		}
		data, err := ioutil.ReadAll(src)
		src.Close()
		if err != nil {
			return err
		}
		if err := ioutil.WriteFile(filepath.Join(r.destdir, "bag-info.txt"), data, 0644); err != nil {
			return err
		}
	}

	if !r.inplace {
		if err := r.restoreFrom(r.head.Path(), skip, false); err != nil {
			return err
		}
	}
	if len(reversed) > 0 && reversed[0].Name == r.head.Name() {
		reversed = reversed[1:]
	}

	for _, member := range reversed {
		if err := r.RestoreMember(member.Name, skip, false); err != nil {
			return err
		}
	}
	if len(reversed) > 0 {
		if err := r.RestoreFetch(reversed); err != nil {
			return err
		}
	}

	restored, err := bagit.OpenDir(r.destdir)
	if err != nil {
		return err
	}
	if err := os.RemoveAll(filepath.Join(r.destdir, r.head.TagDir())); err != nil {
		return err
	}
	for _, tag := range []string{
		"Multibag-Version", "Multibag-Reference", "Multibag-Tag-Directory",
		"Multibag-Head-Version", "Multibag-Head-Deprecates",
	} {
		restored.Info().Remove(tag)
	}
	if err := restored.Save(); err != nil {
		return err
	}

	if err := bagit.UpdateOxum(restored); err != nil {
		return err
	}
	if err := restored.Save(); err != nil {
		return err
	}
	if err := multibag.UpdateBagSize(restored); err != nil {
		return err
	}
	return restored.Save()
}

// RestoreBag restores the aggregation headed by the bag at headbag into
// destdir in one call. See NewRestorer for the parameters.
func RestoreBag(headbag, destdir, cachedir string, fetcher Fetcher) error {
	r, err := NewRestorer(headbag, destdir, cachedir, fetcher)
	if err != nil {
		return err
	}
	return r.Restore()
}
