package validate

import (
	"fmt"
	"io/ioutil"
	"net/url"
	"strings"

	"github.com/ndlib/multibag/bagit"
	"github.com/ndlib/multibag/multibag"
)

var recognizedVersions = map[string]bool{
	"0.2": true,
	"0.3": true,
	"0.4": true,
}

// HeadBagValidator checks that a bag complies with the multibag
// requirements for serving as a head bag. The checks are gated on the
// profile version the bag declares, so legacy 0.2 bags are tested
// against the 0.2 tag file names and formats.
type HeadBagValidator struct {
	// ExpectedVersion, when set, requires Multibag-Version to match it
	// exactly. When empty, any recognized profile version is accepted.
	ExpectedVersion string

	bag    bagit.Bag
	head   *multibag.HeadBag
	target string
}

// NewHeadBagValidator opens the bag at bagpath (a directory or a
// serialized bag) for validation as a head bag.
func NewHeadBagValidator(bagpath string) (*HeadBagValidator, error) {
	bag, err := bagit.Open(bagpath)
	if err != nil {
		return nil, err
	}
	return &HeadBagValidator{
		bag:    bag,
		head:   multibag.NewHeadBag(bag),
		target: bagpath,
	}, nil
}

func (v *HeadBagValidator) results(want int, results *ValidationResults) *ValidationResults {
	if results != nil {
		return results
	}
	return NewResults(v.target, want, v.head.ProfileVersion())
}

// Validate runs every head bag check.
func (v *HeadBagValidator) Validate(want int, results *ValidationResults) *ValidationResults {
	out := v.results(want, results)
	v.ValidateVersion(want, out)
	v.ValidateReference(want, out)
	v.ValidateTagDirectory(want, out)
	v.ValidateHeadVersion(want, out)
	v.ValidateHeadDeprecates(want, out)
	v.ValidateBaginfoRecs(want, out)
	v.ValidateMemberBags(want, out)
	v.ValidateFileLookup(want, out)
	v.ValidateAggregationInfo(want, out)
	return out
}

// ValidateVersion checks the Multibag-Version tag.
func (v *HeadBagValidator) ValidateVersion(want int, results *ValidationResults) *ValidationResults {
	out := v.results(want, results)
	vals := v.bag.Info().Values("Multibag-Version")

	t := out.issue("3-Version",
		"bag-info.txt field must have required element: Multibag-Version")
	passed := len(vals) > 0 && vals[len(vals)-1] != ""
	out.err(t, passed)
	if !passed {
		return out
	}

	t = out.issue("3-Version",
		"bag-info.txt field, Multibag-Version, should only appear once")
	out.warn(t, len(vals) == 1)

	ver := vals[len(vals)-1]
	if v.ExpectedVersion != "" {
		t = out.issue("3-Version-val",
			fmt.Sprintf("Multibag-Version must be set to '%s'", v.ExpectedVersion))
		out.err(t, ver == v.ExpectedVersion)
	} else {
		t = out.issue("3-Version-val",
			"Multibag-Version must be set to a recognized profile version")
		out.err(t, recognizedVersions[ver], ver)
	}
	return out
}

// ValidateReference checks the Multibag-Reference tag.
func (v *HeadBagValidator) ValidateReference(want int, results *ValidationResults) *ValidationResults {
	out := v.results(want, results)
	vals := v.bag.Info().Values("Multibag-Reference")

	t := out.issue("3-Reference",
		"bag-info.txt should include field: Multibag-Reference")
	passed := len(vals) > 0
	out.rec(t, passed)
	if !passed {
		return out
	}

	ref := vals[len(vals)-1]
	t = out.issue("3-Reference-val",
		"Multibag-Reference value must be an absolute URL (not an empty value)")
	out.err(t, ref != "")

	t = out.issue("3-Reference-val",
		"Multibag-Reference value must be an absolute URL")
	u, err := url.Parse(ref)
	out.err(t, err == nil && u.Scheme != "" && u.Host != "")
	return out
}

// ValidateTagDirectory checks the Multibag-Tag-Directory tag and that
// the directory it names exists.
func (v *HeadBagValidator) ValidateTagDirectory(want int, results *ValidationResults) *ValidationResults {
	out := v.results(want, results)
	info := v.bag.Info()

	if !info.Has("Multibag-Tag-Directory") {
		t := out.issue("2-Tag-Directory",
			"Default Multibag-Tag-Directory, multibag, must exist as a directory")
		out.err(t, v.bag.IsDir(multibag.DefaultTagDir))
		return out
	}

	vals := info.Values("Multibag-Tag-Directory")
	t := out.issue("2-Tag-Directory",
		"bag-info.txt: Value for Multibag-Tag-Directory should not be empty")
	passed := len(vals) > 0 && vals[len(vals)-1] != ""
	out.err(t, passed)
	if !passed {
		return out
	}

	t = out.issue("2-Tag-Directory",
		"bag-info.txt: Multibag-Tag-Directory element should appear no more than once")
	out.err(t, len(vals) == 1)

	t = out.issue("2-Tag-Directory",
		"Multibag-Tag-Directory must exist as directory")
	out.err(t, v.bag.IsDir(vals[len(vals)-1]))
	return out
}

// ValidateHeadVersion checks the required Multibag-Head-Version tag.
func (v *HeadBagValidator) ValidateHeadVersion(want int, results *ValidationResults) *ValidationResults {
	out := v.results(want, results)
	info := v.bag.Info()

	if !info.Has("Multibag-Head-Version") {
		t := out.issue("3-Head-Version",
			"Head bag: bag-info.txt must have Multibag-Head-Version element")
		out.err(t, false)
		return out
	}

	vals := info.Values("Multibag-Head-Version")
	t := out.issue("3-Head-Version_nonempty",
		"bag-info.txt: Value for Multibag-Head-Version should not be empty")
	out.warn(t, len(vals) > 0 && vals[len(vals)-1] != "")
	if len(vals) == 0 {
		return out
	}

	t = out.issue("3-Head-Version_single",
		"bag-info.txt: Multibag-Head-Version element should only appear once")
	out.warn(t, len(vals) == 1)
	return out
}

// ValidateHeadDeprecates checks the format of any Multibag-Head-
// Deprecates tags and that the bag does not deprecate itself.
func (v *HeadBagValidator) ValidateHeadDeprecates(want int, results *ValidationResults) *ValidationResults {
	out := v.results(want, results)
	info := v.bag.Info()
	if !info.Has("Multibag-Head-Deprecates") {
		return out
	}

	headver := ""
	if hv := info.Values("Multibag-Head-Version"); len(hv) > 0 {
		headver = hv[len(hv)-1]
	}

	values := info.Values("Multibag-Head-Deprecates")
	t := out.issue("3-Head-Deprecates_notempty",
		"bag-info.txt: Value for Multibag-Head-Deprecates should not be empty")
	passed := len(values) > 0 && values[0] != ""
	out.warn(t, passed)
	if !passed {
		return out
	}

	empty := true
	selfdeprecating := false
	var badfmt []string
	for _, val := range values {
		if val != "" {
			empty = false
		}
		parts := strings.Split(val, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		if len(parts) > 2 {
			badfmt = append(badfmt, val)
		}
		if parts[0] == headver || (len(parts) > 1 && parts[1] == v.bag.Name()) {
			selfdeprecating = true
		}
	}

	t = out.issue("3-Head-Deprecates_format",
		"bag-info.txt: Multibag-Head-Deprecates value must match format: VERSION[, BAGNAME]")
	out.err(t, len(badfmt) == 0, badfmt...)

	t = out.issue("3-Head-Deprecates_notempty",
		"bag-info.txt: Value for Multibag-Head-Deprecates should not be empty")
	out.warn(t, !empty)

	t = out.issue("3-Head-Deprecates_notselfdep",
		"bag-info.txt: Multibag-Head-Deprecates should not deprecate itself")
	out.warn(t, !selfdeprecating)
	return out
}

// ValidateBaginfoRecs checks for the recommended identity tags.
func (v *HeadBagValidator) ValidateBaginfoRecs(want int, results *ValidationResults) *ValidationResults {
	out := v.results(want, results)
	info := v.bag.Info()

	for _, el := range []string{"Internal-Sender-Identifier",
		"Internal-Sender-Description", "Bag-Group-Identifier"} {

		vals := info.Values(el)
		t := out.issue("3-2",
			fmt.Sprintf("Recommend adding value for %s into bag-info.txt file", el))
		passed := len(vals) > 0 && vals[len(vals)-1] != ""
		out.rec(t, passed)
		if !passed {
			continue
		}
		t = out.issue("3-2",
			fmt.Sprintf("bag-info.txt: %s element should not have empty values", el))
		allset := true
		for _, val := range vals {
			if val == "" {
				allset = false
			}
		}
		out.err(t, allset)
	}
	return out
}

func (v *HeadBagValidator) tagDir() string {
	vals := v.bag.Info().Values("Multibag-Tag-Directory")
	if len(vals) == 0 || vals[len(vals)-1] == "" {
		return multibag.DefaultTagDir
	}
	return vals[len(vals)-1]
}

// memberBagsName returns the member list file name for the bag's
// declared profile version.
func (v *HeadBagValidator) memberBagsName() string {
	if multibag.Less(v.head.ProfileVersion(), "0.3") {
		return "group-members.txt"
	}
	return "member-bags.tsv"
}

func (v *HeadBagValidator) fileLookupName() string {
	if multibag.Less(v.head.ProfileVersion(), "0.3") {
		return "group-directory.txt"
	}
	return "file-lookup.tsv"
}

// splitMemberLine breaks a member or lookup line into fields per the
// profile version: tab-delimited from 0.3 on, whitespace-delimited
// before.
func (v *HeadBagValidator) splitMemberLine(line string) []string {
	if multibag.Less(v.head.ProfileVersion(), "0.3") {
		return strings.Fields(line)
	}
	fields := strings.Split(strings.TrimRight(line, "\r\n"), "\t")
	for i := range fields {
		fields[i] = strings.TrimSpace(fields[i])
	}
	return fields
}

func (v *HeadBagValidator) readTagLines(filename string) ([]string, error) {
	f, err := v.bag.OpenText(v.tagDir() + "/" + filename)
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

// ValidateMemberBags checks the member list file: its presence, the
// format of its lines, and that the head bag lists itself last.
func (v *HeadBagValidator) ValidateMemberBags(want int, results *ValidationResults) *ValidationResults {
	out := v.results(want, results)
	mdir := v.tagDir()

	t := out.issue("2-Tag-Directory", "Multibag-Tag-Directory must exist as directory")
	out.err(t, v.bag.IsDir(mdir))
	if !v.bag.IsDir(mdir) {
		return out
	}

	mbemf := v.memberBagsName()
	t = out.issue("3.0-1",
		fmt.Sprintf("Multibag tag directory must contain a %s file", mbemf))
	present := v.bag.IsFile(mdir + "/" + mbemf)
	out.err(t, present)
	if !present {
		return out
	}

	lines, err := v.readTagLines(mbemf)
	if err != nil {
		t = out.issue("3.0-1",
			fmt.Sprintf("Multibag tag directory must contain a readable %s file", mbemf))
		out.err(t, false, err.Error())
		return out
	}

	var badfmt, badurl, replicated []int
	found := make(map[string]bool)
	foundme := false
	last := ""
	for i, line := range lines {
		fields := v.splitMemberLine(line)
		name := ""
		if len(fields) > 0 {
			name = fields[0]
		}
		if name == "" {
			badfmt = append(badfmt, i+1)
			continue
		}
		last = name
		if name == v.bag.Name() {
			foundme = true
		}
		if found[name] {
			replicated = append(replicated, i+1)
		}
		found[name] = true
		if len(fields) > 1 && fields[1] != "" {
			u, err := url.Parse(fields[1])
			if err != nil || u.Scheme == "" || u.Host == "" {
				badurl = append(badurl, i+1)
			}
		}
	}

	t = out.issue("3.1-1",
		"member-bags.tsv lines must match format, BAGNAME[\tURL][\t...]")
	out.err(t, len(badfmt) == 0, lineComment(badfmt))

	t = out.issue("3.1-2", "member-bags.tsv: URL field must be an absolute URL")
	out.err(t, len(badurl) == 0, lineComment(badurl))

	t = out.issue("3.1-3", "member-bags.tsv must list current bag name")
	out.err(t, foundme)

	t = out.issue("3.1-4", "member-bags.tsv: Head bag must be listed last")
	out.err(t, last == v.bag.Name())

	t = out.issue("3.1-5", "member-bags.tsv: a bag name should only be listed once")
	out.warn(t, len(replicated) == 0, lineComment(replicated))
	return out
}

// ValidateFileLookup checks the file lookup: its presence, line format,
// that entries naming this bag point at real files, and that the lookup
// covers the payload.
func (v *HeadBagValidator) ValidateFileLookup(want int, results *ValidationResults) *ValidationResults {
	out := v.results(want, results)
	mdir := v.tagDir()
	if !v.bag.IsDir(mdir) {
		return out
	}

	luf := v.fileLookupName()
	t := out.issue("3.0-2",
		fmt.Sprintf("Multibag tag directory must contain a %s file", luf))
	present := v.bag.IsFile(mdir + "/" + luf)
	out.err(t, present)
	if !present {
		return out
	}

	lines, err := v.readTagLines(luf)
	if err != nil {
		t = out.issue("3.0-2",
			fmt.Sprintf("Multibag tag directory must contain a readable %s file", luf))
		out.err(t, false, err.Error())
		return out
	}

	var badfmt, missing, replicated []int
	listed := make(map[string]bool)
	for i, line := range lines {
		fields := v.splitMemberLine(line)
		if len(fields) < 2 || fields[0] == "" || fields[1] == "" {
			badfmt = append(badfmt, i+1)
			continue
		}
		path, bagname := fields[0], fields[1]
		if listed[path] {
			replicated = append(replicated, i+1)
		}
		listed[path] = true
		if bagname == v.bag.Name() && !v.bag.Exists(path) {
			missing = append(missing, i+1)
		}
	}

	t = out.issue("3.2-1",
		"file-lookup.tsv lines must match format, FILEPATH\tBAGNAME")
	out.err(t, len(badfmt) == 0, lineComment(badfmt))

	t = out.issue("3.2-2",
		"file-lookup.tsv: file paths assigned to this bag must exist in the bag")
	out.err(t, len(missing) == 0, lineComment(missing))

	t = out.issue("3.2-3",
		"file-lookup.tsv: a file path should only be listed once")
	out.warn(t, len(replicated) == 0, lineComment(replicated))

	var uncovered []string
	if steps, err := v.bag.Walk("data"); err == nil {
		for _, step := range steps {
			for _, f := range step.Files {
				p := step.Dir + "/" + f
				if !listed[p] {
					uncovered = append(uncovered, p)
				}
			}
		}
	}
	t = out.issue("3.2-4",
		"file-lookup.tsv should list every payload file in the aggregation")
	comm := ""
	if len(uncovered) > 3 {
		comm = strings.Join(append(uncovered[:3], "..."), ", ")
	} else {
		comm = strings.Join(uncovered, ", ")
	}
	out.rec(t, len(uncovered) == 0, comm)
	return out
}

// ValidateAggregationInfo checks that bags declaring profile version
// 0.4 or later carry a copy of the source bag's metadata.
func (v *HeadBagValidator) ValidateAggregationInfo(want int, results *ValidationResults) *ValidationResults {
	out := v.results(want, results)
	if multibag.Less(v.head.ProfileVersion(), "0.4") {
		return out
	}
	mdir := v.tagDir()
	t := out.issue("3.3-1",
		"Multibag tag directory should contain an aggregation-info.txt file")
	out.rec(t, v.bag.IsFile(mdir+"/aggregation-info.txt"))
	return out
}

// ValidateHeadBag opens and validates the bag at bagpath as a head bag,
// returning the full results.
func ValidateHeadBag(bagpath string, want int) (*ValidationResults, error) {
	v, err := NewHeadBagValidator(bagpath)
	if err != nil {
		return nil, err
	}
	return v.Validate(want, nil), nil
}
