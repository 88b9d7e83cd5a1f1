// Package split breaks a single source bag into a set of multibag
// member bags. A Splitter examines the source bag and produces a Plan:
// an ordered list of output manifests, each naming the files bound for
// one member bag. Applying the plan writes the member bags out, with
// the last one serving as the aggregation's head bag.
package split

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/ndlib/multibag/bagit"
	"github.com/ndlib/multibag/multibag"
)

// ProfileVersion is the multibag profile version declared in the bags
// this package writes.
const ProfileVersion = "0.3"

// MemberSenderDesc is the Internal-Sender-Description given to each
// member bag in place of the source bag's own description.
const MemberSenderDesc = "This bag is part of a Multibag aggregation. " +
	"(See Multibag-Reference for a description of the Multibag profile.)  " +
	"The aggregation was formed by splitting the source bag (whose ID is " +
	"set as the Bag-Group-Identifier) into multibag member bags."

// A Manifest prescribes the contents of one output member bag: the
// bag's name, the source-bag paths to copy into it, and their total
// size. The last manifest in a plan is the head bag.
type Manifest struct {
	Name      string
	Contents  []string
	TotalSize int64
	IsHead    bool
}

func (m *Manifest) contains(p string) bool {
	for _, f := range m.Contents {
		if f == p {
			return true
		}
	}
	return false
}

// A Deprecation names an earlier head bag version superseded by the
// aggregation being written. Name may be empty when only the version is
// known.
type Deprecation struct {
	Version string
	Name    string
}

// A Plan describes how to distribute the files of a source bag across a
// set of output member bags. Splitters produce plans; Apply executes
// one.
type Plan struct {
	// Progenitor is the source bag being split.
	Progenitor bagit.Bag
	// HeadVersion is the version string recorded in the head bag's
	// Multibag-Head-Version tag.
	HeadVersion string
	// Deprecates lists head bag versions this aggregation supersedes.
	Deprecates []Deprecation
	// InfoNoPass names bag-info tags that should not be carried over
	// from the source bag into the member bags.
	InfoNoPass []string

	manifests []*Manifest
}

// NewPlan creates an empty plan for splitting the given source bag.
func NewPlan(source bagit.Bag) *Plan {
	return &Plan{Progenitor: source, HeadVersion: "1"}
}

// Manifests returns the plan's output manifests in order, with IsHead
// set on the final one.
func (p *Plan) Manifests() []*Manifest {
	for i, m := range p.manifests {
		m.IsHead = i == len(p.manifests)-1
	}
	return p.manifests
}

// AddManifest appends a manifest to the plan.
func (p *Plan) AddManifest(m *Manifest) {
	p.manifests = append(p.manifests, m)
}

// Required lists the source-bag paths a complete plan must distribute:
// every non-reserved file plus any empty directory.
func (p *Plan) Required() ([]string, error) {
	return bagit.Nonstandard(p.Progenitor)
}

// Missing lists the required paths not yet assigned to any manifest.
func (p *Plan) Missing() ([]string, error) {
	req, err := p.Required()
	if err != nil {
		return nil, err
	}
	var out []string
	for _, f := range req {
		if p.FindDestination(f) == nil {
			out = append(out, f)
		}
	}
	return out, nil
}

// IsComplete reports whether every required path has a destination.
func (p *Plan) IsComplete() (bool, error) {
	missing, err := p.Missing()
	if err != nil {
		return false, err
	}
	return len(missing) == 0, nil
}

// FindDestination returns the manifest that will hold the given path,
// or nil if the plan does not place it. When a path appears in more
// than one manifest the last takes precedence.
func (p *Plan) FindDestination(path string) *Manifest {
	for i := len(p.manifests) - 1; i >= 0; i-- {
		if p.manifests[i].contains(path) {
			return p.manifests[i]
		}
	}
	return nil
}

// CompletePlan sweeps any files still missing from the plan into one
// additional manifest, which becomes the head bag. Calling it on a
// complete plan changes nothing.
func (p *Plan) CompletePlan() error {
	missing, err := p.Missing()
	if err != nil {
		return err
	}
	if len(missing) == 0 {
		return nil
	}
	m := &Manifest{
		Name:     fmt.Sprintf("%s_%d.mbag", p.Progenitor.Name(), len(p.manifests)),
		Contents: missing,
	}
	for _, f := range missing {
		if p.Progenitor.IsFile(f) {
			if sz, err := p.Progenitor.Sizeof(f); err == nil {
				m.TotalSize += sz
			}
		}
	}
	p.AddManifest(m)
	return nil
}

// A Namer generates a sequence of output bag names. Next reports false
// when the sequence is exhausted.
type Namer interface {
	Next() (string, bool)
}

// SequentialNamer names output bags "<base>_<n>.mbag" with n counting
// up from 1. The sequence never runs out.
type SequentialNamer struct {
	base string
	n    int
}

func NewSequentialNamer(base string) *SequentialNamer {
	return &SequentialNamer{base: base}
}

func (s *SequentialNamer) Next() (string, bool) {
	s.n++
	return fmt.Sprintf("%s_%d.mbag", s.base, s.n), true
}

// NameOutputBags assigns names from the namer to the plan's manifests
// in order, or starting from the head bag when reverse is set. An
// exhausted namer is an error.
func (p *Plan) NameOutputBags(namer Namer, reverse bool) error {
	for i := range p.manifests {
		m := p.manifests[i]
		if reverse {
			m = p.manifests[len(p.manifests)-1-i]
		}
		name, ok := namer.Next()
		if !ok {
			return errors.New("naming sequence exhausted before all output bags were named")
		}
		m.Name = name
	}
	return nil
}

// destmap records which member bag each distributed file landed in,
// preserving first-assignment order.
type destmap struct {
	order []string
	dest  map[string]string
}

func newDestmap() *destmap {
	return &destmap{dest: make(map[string]string)}
}

func (d *destmap) set(path, bagname string) {
	if _, ok := d.dest[path]; !ok {
		d.order = append(d.order, path)
	}
	d.dest[path] = bagname
}

// Apply executes the plan, writing one bag directory under outdir for
// each manifest, and returns the paths of the bags written. The final
// bag is made the head bag: it receives the multibag tag directory
// listing every member and the destination of every distributed file.
//
// When the source bag is itself a head bag (a re-split), its member
// list and file lookup seed the new head bag's, so members from earlier
// versions of the aggregation remain reachable.
func (p *Plan) Apply(outdir string) ([]string, error) {
	if len(p.manifests) == 0 {
		return nil, errors.New("no manifests set for output bags")
	}

	filedest := newDestmap()
	var memberbags []string
	if p.Progenitor.IsHeadMultibag() {
		hb := multibag.NewHeadBag(p.Progenitor)
		if names, err := hb.MemberBagNames(); err == nil {
			memberbags = append(memberbags, names...)
		}
		if lookup, err := hb.FileLookup(); err == nil {
			for _, ent := range lookup {
				filedest.set(ent.Path, ent.Bag)
			}
		}
	}

	payload, err := p.Progenitor.PayloadEntries()
	if err != nil {
		return nil, err
	}
	tagfiles, err := p.Progenitor.TagfileEntries()
	if err != nil {
		return nil, err
	}

	var out []string
	for _, m := range p.Manifests() {
		bagdir, err := p.writeBag(outdir, m, payload, tagfiles, filedest, &memberbags)
		if err != nil {
			return out, err
		}
		out = append(out, bagdir)
	}
	return out, nil
}

func (p *Plan) writeBag(outdir string, m *Manifest,
	payload, tagfiles map[string]map[string]string,
	filedest *destmap, memberbags *[]string) (string, error) {

	bagname := m.Name
	*memberbags = appendMember(*memberbags, bagname)

	bagdir := filepath.Join(outdir, bagname)
	if err := os.Mkdir(bagdir, 0755); err != nil {
		return "", errors.Wrap(err, "creating output bag")
	}
	if err := os.Mkdir(filepath.Join(bagdir, "data"), 0755); err != nil {
		return "", err
	}

	// empty payload manifests, filled in as files are replicated
	for _, mf := range p.Progenitor.ManifestFiles() {
		f, err := os.Create(filepath.Join(bagdir, mf))
		if err != nil {
			return "", err
		}
		f.Close()
	}

	if err := p.Progenitor.Replicate("bagit.txt", bagdir); err != nil {
		return "", errors.Wrap(err, "replicating bagit.txt")
	}

	var payloadSize int64
	payloadCount := 0
	for _, file := range m.Contents {
		if !p.Progenitor.Exists(file) {
			log.WithFields(log.Fields{
				"bag":  bagname,
				"file": file,
			}).Warn("plan calls for nonexistent file")
			continue
		}
		if p.Progenitor.IsDir(file) {
			if err := os.MkdirAll(filepath.Join(bagdir, filepath.FromSlash(file)), 0755); err != nil {
				return "", err
			}
			continue
		}
		if err := p.Progenitor.Replicate(file, bagdir); err != nil {
			return "", errors.Wrapf(err, "replicating %s", file)
		}
		ospath := filepath.Join(bagdir, filepath.FromSlash(file))
		fi, err := os.Stat(ospath)
		if err != nil {
			return "", errors.Errorf("failed to replicate file in output bag %s: %s", bagname, file)
		}

		var hd map[string]map[string]string
		mantype := "tagmanifest"
		if strings.HasPrefix(file, "data/") {
			payloadCount++
			payloadSize += fi.Size()
			hd = payload
			mantype = "manifest"
		} else {
			hd = tagfiles
		}
		for _, alg := range sortedAlgs(hd[file]) {
			if err := recordHash(bagdir, mantype, alg, hd[file][alg], file); err != nil {
				return "", err
			}
		}
		filedest.set(file, bagname)
	}

	info := p.memberInfo(m, bagname, payloadSize, payloadCount)
	if err := writeTagFile(filepath.Join(bagdir, "bag-info.txt"), info); err != nil {
		return "", err
	}

	if m.IsHead {
		if err := p.writeHeadFiles(bagdir, filedest, *memberbags); err != nil {
			return "", err
		}
	}
	return bagdir, nil
}

// memberInfo builds the bag-info for one output bag from the source
// bag's tags. Identifier tags are remapped to name the member bag while
// the source values survive under Multibag-Source-* shadows.
func (p *Plan) memberInfo(m *Manifest, bagname string, payloadSize int64, payloadCount int) *bagit.TagFile {
	nopass := make(map[string]bool)
	for _, name := range p.InfoNoPass {
		nopass[name] = true
	}

	info := bagit.NewTagFile()
	info.Add("Multibag-Version", ProfileVersion)

	for _, name := range tagNames(p.Progenitor.Info()) {
		if nopass[name] || strings.HasPrefix(name, "Multibag-") {
			continue
		}
		vals := p.Progenitor.Info().Values(name)
		switch name {
		case "Internal-Sender-Identifier":
			info.Add(name, bagname)
			name = "Multibag-Source-" + name
		case "Internal-Sender-Description":
			info.Add(name, MemberSenderDesc)
			name = "Multibag-Source-" + name
		case "External-Identifier":
			for _, v := range vals {
				info.Add("Multibag-Source-"+name, v)
			}
			info.Add(name, vals[0]+"/mbag:"+bagname)
			name = "Bag-Group-Identifier"
			vals = []string{vals[0] + "/mbag:" + bagname}
		case "Bag-Size":
			// the recorded size no longer applies to the member bag
			name = "Multibag-Source-" + name
		case "Payload-Oxum":
			vals = []string{fmt.Sprintf("%d.%d", payloadSize, payloadCount)}
		}
		for _, v := range vals {
			info.Add(name, v)
		}
	}

	info.Add("Multibag-Tag-Directory", multibag.DefaultTagDir)
	if m.IsHead {
		info.Add("Multibag-Head-Version", p.HeadVersion)
		for _, d := range p.Deprecates {
			v := d.Version
			if d.Name != "" {
				v += ", " + d.Name
			}
			info.Add("Multibag-Head-Deprecates", v)
		}
	}
	return info
}

// writeHeadFiles writes the multibag tag directory of the head bag:
// the member list, the file lookup, and a verbatim copy of the source
// bag's bag-info as aggregation-info.txt.
func (p *Plan) writeHeadFiles(bagdir string, filedest *destmap, memberbags []string) error {
	mbagdir := filepath.Join(bagdir, multibag.DefaultTagDir)
	if err := os.Mkdir(mbagdir, 0755); err != nil {
		return err
	}

	f, err := os.Create(filepath.Join(mbagdir, "member-bags.tsv"))
	if err != nil {
		return err
	}
	for _, bag := range memberbags {
		fmt.Fprintf(f, "%s\n", bag)
	}
	if err := f.Close(); err != nil {
		return err
	}

	f, err = os.Create(filepath.Join(mbagdir, "file-lookup.tsv"))
	if err != nil {
		return err
	}
	for _, path := range filedest.order {
		fmt.Fprintf(f, "%s\t%s\n", path, filedest.dest[path])
	}
	if err := f.Close(); err != nil {
		return err
	}

	if p.Progenitor.IsFile("bag-info.txt") {
		src, err := p.Progenitor.OpenText("bag-info.txt")
		if err != nil {
			return err
		}
		defer src.Close()
		f, err = os.Create(filepath.Join(mbagdir, "aggregation-info.txt"))
		if err != nil {
			return err
		}
		if _, err := io.Copy(f, src); err != nil {
			f.Close()
			return err
		}
		return f.Close()
	}
	return nil
}

// recordHash appends one entry to the named manifest file of an output
// bag, creating the file if needed.
func recordHash(bagdir, mantype, alg, hash, path string) error {
	manpath := filepath.Join(bagdir, fmt.Sprintf("%s-%s.txt", mantype, alg))
	f, err := os.OpenFile(manpath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(f, "%s %s\n", hash, path)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	return err
}

func writeTagFile(ospath string, tags *bagit.TagFile) error {
	f, err := os.Create(ospath)
	if err != nil {
		return err
	}
	if err := tags.Write(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// tagNames returns the distinct tag names of a tag file in order of
// first appearance.
func tagNames(t *bagit.TagFile) []string {
	seen := make(map[string]bool)
	var names []string
	for _, e := range t.Entries() {
		if !seen[e.Name] {
			seen[e.Name] = true
			names = append(names, e.Name)
		}
	}
	return names
}

func sortedAlgs(hashes map[string]string) []string {
	algs := make([]string, 0, len(hashes))
	for alg := range hashes {
		algs = append(algs, alg)
	}
	sort.Strings(algs)
	return algs
}

// appendMember adds a bag name to the member list, moving it to the end
// if it is already present.
func appendMember(members []string, bagname string) []string {
	out := members[:0]
	for _, m := range members {
		if m != bagname {
			out = append(out, m)
		}
	}
	return append(out, bagname)
}
