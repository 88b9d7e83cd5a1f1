package split

import (
	"crypto/sha256"
	"encoding/hex"
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ndlib/multibag/bagit"
)

const (
	srcAContent     = "AAAA\n"
	srcBContent     = "BBBBBBB\n"
	srcAboutContent = "hello\n"
	srcBagitContent = "BagIt-Version: 0.97\nTag-File-Character-Encoding: UTF-8\n"
)

func sumOf(s string) string {
	h := sha256.Sum256([]byte(s))
	return hex.EncodeToString(h[:])
}

func writeSplitFile(t *testing.T, p, contents string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0755))
	require.NoError(t, ioutil.WriteFile(p, []byte(contents), 0644))
}

// makeSourceBag creates a small valid bag: two payload files, one extra
// tag file, and sha256 manifests.
func makeSourceBag(t *testing.T) string {
	t.Helper()
	root := filepath.Join(t.TempDir(), "srcbag")
	writeSplitFile(t, filepath.Join(root, "bagit.txt"), srcBagitContent)
	writeSplitFile(t, filepath.Join(root, "bag-info.txt"),
		"Source-Organization: Example Org\n"+
			"Internal-Sender-Identifier: srcbag\n"+
			"Internal-Sender-Description: My favorite bag\n"+
			"External-Identifier: ark:/88434/mds2\n"+
			"Bag-Size: 300 kB\n"+
			"Payload-Oxum: 13.2\n")
	writeSplitFile(t, filepath.Join(root, "data", "a.txt"), srcAContent)
	writeSplitFile(t, filepath.Join(root, "data", "b.txt"), srcBContent)
	writeSplitFile(t, filepath.Join(root, "about.txt"), srcAboutContent)
	writeSplitFile(t, filepath.Join(root, "manifest-sha256.txt"),
		sumOf(srcAContent)+" data/a.txt\n"+sumOf(srcBContent)+" data/b.txt\n")
	writeSplitFile(t, filepath.Join(root, "tagmanifest-sha256.txt"),
		sumOf(srcAboutContent)+" about.txt\n")
	return root
}

// splitSourceBag splits the fixture with a 10-byte limit, yielding
// three member bags of one file each: data/b.txt, about.txt, and
// data/a.txt in the head.
func splitSourceBag(t *testing.T) []string {
	t.Helper()
	outdir := t.TempDir()
	paths, err := NewWellPackedSplitter(10, 0, nil).Split(makeSourceBag(t), outdir, "")
	require.NoError(t, err)
	require.Len(t, paths, 3)
	return paths
}

func TestApplyWritesMemberBags(t *testing.T) {
	paths := splitSourceBag(t)
	assert.Equal(t, "srcbag_1.mbag", filepath.Base(paths[0]))
	assert.Equal(t, "srcbag_2.mbag", filepath.Base(paths[1]))
	assert.Equal(t, "srcbag_3.mbag", filepath.Base(paths[2]))

	// first member: the biggest payload file
	got, err := ioutil.ReadFile(filepath.Join(paths[0], "data", "b.txt"))
	require.NoError(t, err)
	assert.Equal(t, srcBContent, string(got))

	got, err = ioutil.ReadFile(filepath.Join(paths[0], "bagit.txt"))
	require.NoError(t, err)
	assert.Equal(t, srcBagitContent, string(got))

	got, err = ioutil.ReadFile(filepath.Join(paths[0], "manifest-sha256.txt"))
	require.NoError(t, err)
	assert.Equal(t, sumOf(srcBContent)+" data/b.txt\n", string(got))

	// second member: the tag file, leaving an empty payload manifest
	got, err = ioutil.ReadFile(filepath.Join(paths[1], "tagmanifest-sha256.txt"))
	require.NoError(t, err)
	assert.Equal(t, sumOf(srcAboutContent)+" about.txt\n", string(got))
	got, err = ioutil.ReadFile(filepath.Join(paths[1], "manifest-sha256.txt"))
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestApplyMemberInfo(t *testing.T) {
	paths := splitSourceBag(t)
	bag, err := bagit.Open(paths[0])
	require.NoError(t, err)
	info := bag.Info()

	assert.Equal(t, ProfileVersion, info.Get("Multibag-Version"))
	assert.Equal(t, "multibag", info.Get("Multibag-Tag-Directory"))
	assert.Equal(t, "Example Org", info.Get("Source-Organization"))

	// identifier tags name the member; the source values survive under
	// Multibag-Source-* shadows
	assert.Equal(t, "srcbag_1.mbag", info.Get("Internal-Sender-Identifier"))
	assert.Equal(t, "srcbag", info.Get("Multibag-Source-Internal-Sender-Identifier"))
	assert.Equal(t, MemberSenderDesc, info.Get("Internal-Sender-Description"))
	assert.Equal(t, "My favorite bag",
		info.Get("Multibag-Source-Internal-Sender-Description"))
	assert.Equal(t, "ark:/88434/mds2/mbag:srcbag_1.mbag",
		info.Get("External-Identifier"))
	assert.Equal(t, "ark:/88434/mds2/mbag:srcbag_1.mbag",
		info.Get("Bag-Group-Identifier"))
	assert.Equal(t, "ark:/88434/mds2", info.Get("Multibag-Source-External-Identifier"))

	// the stale size tag does not carry over; the oxum is recomputed
	assert.False(t, info.Has("Bag-Size"))
	assert.Equal(t, "300 kB", info.Get("Multibag-Source-Bag-Size"))
	assert.Equal(t, "8.1", info.Get("Payload-Oxum"))

	assert.False(t, info.Has("Multibag-Head-Version"))

	// the tag-only member has an empty payload
	bag2, err := bagit.Open(paths[1])
	require.NoError(t, err)
	assert.Equal(t, "0.0", bag2.Info().Get("Payload-Oxum"))
}

func TestApplyHeadBag(t *testing.T) {
	paths := splitSourceBag(t)
	head := paths[2]

	bag, err := bagit.Open(head)
	require.NoError(t, err)
	assert.True(t, bag.IsHeadMultibag())
	assert.Equal(t, "1", bag.Info().Get("Multibag-Head-Version"))

	got, err := ioutil.ReadFile(filepath.Join(head, "multibag", "member-bags.tsv"))
	require.NoError(t, err)
	assert.Equal(t, "srcbag_1.mbag\nsrcbag_2.mbag\nsrcbag_3.mbag\n", string(got))

	got, err = ioutil.ReadFile(filepath.Join(head, "multibag", "file-lookup.tsv"))
	require.NoError(t, err)
	assert.Equal(t,
		"data/b.txt\tsrcbag_1.mbag\n"+
			"about.txt\tsrcbag_2.mbag\n"+
			"data/a.txt\tsrcbag_3.mbag\n",
		string(got))
}

func TestApplyAggregationInfo(t *testing.T) {
	srcdir := makeSourceBag(t)
	outdir := t.TempDir()
	paths, err := NewWellPackedSplitter(10, 0, nil).Split(srcdir, outdir, "")
	require.NoError(t, err)

	want, err := ioutil.ReadFile(filepath.Join(srcdir, "bag-info.txt"))
	require.NoError(t, err)
	got, err := ioutil.ReadFile(
		filepath.Join(paths[2], "multibag", "aggregation-info.txt"))
	require.NoError(t, err)
	assert.Equal(t, string(want), string(got))
}

func TestApplyDeprecations(t *testing.T) {
	srcdir := makeSourceBag(t)
	plan, err := NewWellPackedSplitter(10, 0, nil).Plan(srcdir, "")
	require.NoError(t, err)
	plan.HeadVersion = "3"
	plan.Deprecates = []Deprecation{
		{Version: "2", Name: "srcbag_old"},
		{Version: "1"},
	}

	paths, err := plan.Apply(t.TempDir())
	require.NoError(t, err)
	head, err := bagit.Open(paths[len(paths)-1])
	require.NoError(t, err)

	assert.Equal(t, "3", head.Info().Get("Multibag-Head-Version"))
	assert.Equal(t, []string{"2, srcbag_old", "1"},
		head.Info().Values("Multibag-Head-Deprecates"))
}

func TestResplitSeedsHeadFiles(t *testing.T) {
	paths := splitSourceBag(t)
	oldhead := paths[2]

	outdir := t.TempDir()
	newpaths, err := NewWellPackedSplitter(10000, 0, nil).Split(oldhead, outdir, "")
	require.NoError(t, err)
	require.Len(t, newpaths, 1)
	newhead := newpaths[0]
	assert.Equal(t, "srcbag_3_1.mbag", filepath.Base(newhead))

	// the old member list survives, with the new bag appended
	got, err := ioutil.ReadFile(filepath.Join(newhead, "multibag", "member-bags.tsv"))
	require.NoError(t, err)
	assert.Equal(t,
		"srcbag_1.mbag\nsrcbag_2.mbag\nsrcbag_3.mbag\nsrcbag_3_1.mbag\n",
		string(got))

	// files in older members stay reachable; the re-split file moves
	head, err := bagit.Open(newhead)
	require.NoError(t, err)
	assert.True(t, head.IsHeadMultibag())

	lookup, err := ioutil.ReadFile(filepath.Join(newhead, "multibag", "file-lookup.tsv"))
	require.NoError(t, err)
	assert.Contains(t, string(lookup), "data/b.txt\tsrcbag_1.mbag\n")
	assert.Contains(t, string(lookup), "about.txt\tsrcbag_2.mbag\n")
	assert.Contains(t, string(lookup), "data/a.txt\tsrcbag_3_1.mbag\n")
	assert.NotContains(t, string(lookup), "data/a.txt\tsrcbag_3.mbag")
}
