package split

import (
	"path/filepath"
	"sort"
	"strings"

	"github.com/ndlib/multibag/bagit"
)

// A Splitter captures one strategy for distributing a source bag's
// files into a set of output member bags. Plan produces the plan
// without writing anything; Split plans and then applies.
type Splitter interface {
	// Plan opens the bag at bagpath and produces a complete, named
	// plan for splitting it. Output bags are named from namebasis
	// ("<basis>_<n>.mbag"); an empty namebasis uses the bag's own name.
	Plan(bagpath, namebasis string) (*Plan, error)
	// Split plans and writes the member bags under outdir, returning
	// their paths.
	Split(bagpath, outdir, namebasis string) ([]string, error)
}

// fileInfo is one candidate file for distribution. Paths carry a
// leading slash so reserved root files can be distinguished from
// files of the same name deeper in the tree.
type fileInfo struct {
	path string
	size int64
}

// WellPackedSplitter distributes files so as to minimize the number of
// output bags, keeping each at or under MaxSize. A single file larger
// than MaxSize gets an output bag to itself.
type WellPackedSplitter struct {
	// MaxSize is the hard per-bag size limit.
	MaxSize int64
	// TargetSize is the preferred bag size: a bag is closed once it
	// first exceeds this. Zero means use MaxSize.
	TargetSize int64
	// ForHead lists bag paths reserved for the head bag.
	ForHead []string
}

// NewWellPackedSplitter returns a WellPackedSplitter with the given
// limits. A zero targetsize defaults to maxsize.
func NewWellPackedSplitter(maxsize, targetsize int64, forhead []string) *WellPackedSplitter {
	if targetsize == 0 {
		targetsize = maxsize
	}
	return &WellPackedSplitter{MaxSize: maxsize, TargetSize: targetsize, ForHead: forhead}
}

func (s *WellPackedSplitter) Plan(bagpath, namebasis string) (*Plan, error) {
	return planWith(bagpath, namebasis, s.createPlan)
}

func (s *WellPackedSplitter) Split(bagpath, outdir, namebasis string) ([]string, error) {
	plan, err := s.Plan(bagpath, namebasis)
	if err != nil {
		return nil, err
	}
	return plan.Apply(outdir)
}

func (s *WellPackedSplitter) createPlan(bag bagit.Bag) (*Plan, error) {
	finfos, err := sortedFiles(bag, s.ForHead)
	if err != nil {
		return nil, err
	}
	plan := NewPlan(bag)
	s.pack(finfos, plan)
	if err := plan.CompletePlan(); err != nil {
		return nil, err
	}
	return plan, nil
}

// pack fills manifests from the size-sorted candidate list. The cursor
// walks the list looking for the largest file that still fits; when
// nothing fits, the open manifest is closed and the scan restarts.
func (s *WellPackedSplitter) pack(finfos []fileInfo, plan *Plan) {
	manf := &Manifest{}
	i := 0
	for len(finfos) > 0 {
		if i >= len(finfos) {
			// nothing left fits in this bag
			plan.AddManifest(manf)
			manf = &Manifest{}
			i = 0
		}
		newsz := manf.TotalSize + finfos[i].size
		if newsz > s.MaxSize {
			if manf.TotalSize == 0 {
				// the file alone exceeds the limit; give it its own bag
				finfos = takeFile(finfos, i, manf)
				i = 0
				plan.AddManifest(manf)
				manf = &Manifest{}
			} else {
				i++
			}
		} else {
			finfos = takeFile(finfos, i, manf)
			if newsz > s.TargetSize {
				i = 0
				plan.AddManifest(manf)
				manf = &Manifest{}
			}
		}
	}
	if len(manf.Contents) > 0 {
		plan.AddManifest(manf)
	}
}

// NeighborlySplitter packs like WellPackedSplitter but additionally
// tries to keep files that are near each other in the directory tree
// in the same output bag.
type NeighborlySplitter struct {
	WellPackedSplitter
}

// NewNeighborlySplitter returns a NeighborlySplitter with the given
// limits. A zero targetsize defaults to maxsize.
func NewNeighborlySplitter(maxsize, targetsize int64, forhead []string) *NeighborlySplitter {
	return &NeighborlySplitter{*NewWellPackedSplitter(maxsize, targetsize, forhead)}
}

func (s *NeighborlySplitter) Plan(bagpath, namebasis string) (*Plan, error) {
	return planWith(bagpath, namebasis, s.createPlan)
}

func (s *NeighborlySplitter) Split(bagpath, outdir, namebasis string) ([]string, error) {
	plan, err := s.Plan(bagpath, namebasis)
	if err != nil {
		return nil, err
	}
	return plan.Apply(outdir)
}

func (s *NeighborlySplitter) createPlan(bag bagit.Bag) (*Plan, error) {
	finfos, err := sortedFiles(bag, s.ForHead)
	if err != nil {
		return nil, err
	}
	plan := NewPlan(bag)
	s.pack(finfos, plan)
	if err := plan.CompletePlan(); err != nil {
		return nil, err
	}
	return plan, nil
}

// pack fills each manifest directory by directory, starting from the
// directory of the largest remaining file and visiting the other
// directories in cyclic lexical order from there.
func (s *NeighborlySplitter) pack(finfos []fileInfo, plan *Plan) {
	for len(finfos) > 0 {
		manf := &Manifest{}
		i := 0
		for _, dp := range dirpathsFor(finfos, 0) {
			i = s.selectFromDir(&finfos, i, manf, dp)
			if i < 0 {
				// the manifest is full
				break
			}
			if i >= len(finfos) {
				// nothing more from this directory fits; move on
				i = 0
			}
		}
		plan.AddManifest(manf)
	}
}

// selectFromDir scans finfos from index i, moving files that live
// directly in dirpath into the manifest while they fit. It returns the
// index the scan stopped at, or -1 once the manifest is full.
func (s *NeighborlySplitter) selectFromDir(finfos *[]fileInfo, i int, manf *Manifest, dirpath string) int {
	for i < len(*finfos) {
		if dirOf((*finfos)[i].path) != dirpath {
			i++
			continue
		}
		newsz := manf.TotalSize + (*finfos)[i].size
		if newsz > s.MaxSize {
			if manf.TotalSize == 0 {
				// the file alone exceeds the limit; give it its own bag
				*finfos = takeFile(*finfos, i, manf)
				return -1
			}
			i++
		} else {
			*finfos = takeFile(*finfos, i, manf)
			if newsz > s.TargetSize {
				return -1
			}
		}
	}
	return i
}

// dirOf returns the directory of a leading-slash bag path, with a
// trailing slash kept so "/data/a" and "/data2/a" stay distinct.
func dirOf(p string) string {
	idx := strings.LastIndex(p, "/")
	return p[:idx+1]
}

// dirpathsFor lists the distinct directories of the remaining files in
// cyclic lexical order, rotated so the directory of the file at ref
// comes first.
func dirpathsFor(finfos []fileInfo, ref int) []string {
	refdir := dirOf(finfos[ref].path)
	seen := make(map[string]bool)
	var dirs []string
	for _, f := range finfos {
		d := dirOf(f.path)
		if !seen[d] {
			seen[d] = true
			dirs = append(dirs, d)
		}
	}
	sort.Strings(dirs)
	for i, d := range dirs {
		if d == refdir {
			return append(dirs[i:], dirs[:i]...)
		}
	}
	return dirs
}

// takeFile moves finfos[i] into the manifest, stripping the leading
// slash from the recorded path.
func takeFile(finfos []fileInfo, i int, manf *Manifest) []fileInfo {
	fi := finfos[i]
	manf.Contents = append(manf.Contents, fi.path[1:])
	manf.TotalSize += fi.size
	return append(finfos[:i], finfos[i+1:]...)
}

// sortedFiles lists the distributable files of the bag, biggest first,
// ties broken by path. Reserved BagIt files at the bag root and any
// path in forhead are left out.
func sortedFiles(bag bagit.Bag, forhead []string) ([]fileInfo, error) {
	reserved := make(map[string]bool)
	for _, f := range forhead {
		if !strings.HasPrefix(f, "/") {
			f = "/" + f
		}
		reserved[f] = true
	}

	steps, err := bag.Walk("")
	if err != nil {
		return nil, err
	}
	var finfos []fileInfo
	for _, step := range steps {
		for _, f := range step.Files {
			p := "/" + f
			if step.Dir != "" {
				p = "/" + step.Dir + "/" + f
			}
			if isSpecialPath(p) || reserved[p] {
				continue
			}
			sz, err := bag.Sizeof(p[1:])
			if err != nil {
				return nil, err
			}
			finfos = append(finfos, fileInfo{path: p, size: sz})
		}
	}
	sort.Slice(finfos, func(a, b int) bool {
		if finfos[a].size != finfos[b].size {
			return finfos[a].size > finfos[b].size
		}
		return finfos[a].path < finfos[b].path
	})
	return finfos, nil
}

// isSpecialPath reports whether a leading-slash bag path names a
// reserved BagIt file at the bag root.
func isSpecialPath(p string) bool {
	return strings.Count(p, "/") == 1 && bagit.IsSpecialFile(p[1:])
}

// planWith opens the source bag, runs the splitter-specific planner,
// and names the output bags.
func planWith(bagpath, namebasis string, create func(bagit.Bag) (*Plan, error)) (*Plan, error) {
	bag, err := bagit.Open(bagpath)
	if err != nil {
		return nil, err
	}
	if namebasis == "" {
		namebasis = filepath.Base(bagpath)
		if ext := filepath.Ext(namebasis); ext != "" {
			namebasis = strings.TrimSuffix(namebasis, ext)
		}
	}
	plan, err := create(bag)
	if err != nil {
		return nil, err
	}
	if err := plan.NameOutputBags(NewSequentialNamer(namebasis), false); err != nil {
		return nil, err
	}
	return plan, nil
}
