package amend

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ndlib/multibag/bagit"
	"github.com/ndlib/multibag/multibag"
)

func writeAmendFile(t *testing.T, p, contents string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0755))
	require.NoError(t, ioutil.WriteFile(p, []byte(contents), 0644))
}

func makePlainBag(t *testing.T) string {
	t.Helper()
	root := filepath.Join(t.TempDir(), "samplembag")
	writeAmendFile(t, filepath.Join(root, "bagit.txt"),
		"BagIt-Version: 0.97\nTag-File-Character-Encoding: UTF-8\n")
	writeAmendFile(t, filepath.Join(root, "bag-info.txt"),
		"Internal-Sender-Identifier: samplembag\n"+
			"Internal-Sender-Description: A test bag\n"+
			"Bag-Count: 1 of 1\n"+
			"Bag-Size: 33 kB\n")
	writeAmendFile(t, filepath.Join(root, "about.txt"), "about this bag\n")
	writeAmendFile(t, filepath.Join(root, "data", "a.txt"), "AAAA\n")
	writeAmendFile(t, filepath.Join(root, "data", "sub", "b.txt"), "BBBB\n")
	return root
}

func TestNewSingleMultibagMaker(t *testing.T) {
	root := makePlainBag(t)
	mkr, err := NewSingleMultibagMaker(root, "")
	require.NoError(t, err)
	assert.Equal(t, multibag.DefaultTagDir, mkr.tagdir)

	_, err = NewSingleMultibagMaker(filepath.Join(t.TempDir(), "nope"), "")
	assert.Error(t, err)
}

func TestWriteMemberBags(t *testing.T) {
	root := makePlainBag(t)
	mkr, err := NewSingleMultibagMaker(root, "")
	require.NoError(t, err)

	require.NoError(t, mkr.WriteMemberBags(""))
	got, err := ioutil.ReadFile(filepath.Join(root, "multibag", "member-bags.tsv"))
	require.NoError(t, err)
	assert.Equal(t, "samplembag\n", string(got))

	require.NoError(t, mkr.WriteMemberBags("doi:10.18434/example"))
	got, err = ioutil.ReadFile(filepath.Join(root, "multibag", "member-bags.tsv"))
	require.NoError(t, err)
	assert.Equal(t, "samplembag\tdoi:10.18434/example\n", string(got))
}

func TestWriteFileLookup(t *testing.T) {
	root := makePlainBag(t)
	mkr, err := NewSingleMultibagMaker(root, "")
	require.NoError(t, err)

	require.NoError(t, mkr.WriteFileLookup(nil, nil, false))
	got, err := ioutil.ReadFile(filepath.Join(root, "multibag", "file-lookup.tsv"))
	require.NoError(t, err)
	assert.Equal(t,
		"data/a.txt\tsamplembag\n"+
			"data/sub/b.txt\tsamplembag\n",
		string(got))
}

func TestWriteFileLookupIncludeExclude(t *testing.T) {
	root := makePlainBag(t)
	mkr, err := NewSingleMultibagMaker(root, "")
	require.NoError(t, err)

	err = mkr.WriteFileLookup([]string{"data", "about.txt", "missing.txt"},
		[]string{"data/sub"}, false)
	require.NoError(t, err)
	got, err := ioutil.ReadFile(filepath.Join(root, "multibag", "file-lookup.tsv"))
	require.NoError(t, err)
	assert.Equal(t,
		"data/a.txt\tsamplembag\n"+
			"about.txt\tsamplembag\n",
		string(got))
}

func TestWriteFileLookupKeepsExisting(t *testing.T) {
	root := makePlainBag(t)
	writeAmendFile(t, filepath.Join(root, "multibag", "file-lookup.tsv"),
		"data/old.txt\totherbag\textra-field\n")

	mkr, err := NewSingleMultibagMaker(root, "")
	require.NoError(t, err)
	require.NoError(t, mkr.WriteFileLookup(nil, nil, false))

	got, err := ioutil.ReadFile(filepath.Join(root, "multibag", "file-lookup.tsv"))
	require.NoError(t, err)
	assert.Equal(t,
		"data/old.txt\totherbag\textra-field\n"+
			"data/a.txt\tsamplembag\n"+
			"data/sub/b.txt\tsamplembag\n",
		string(got))

	// truncating drops the foreign entry
	require.NoError(t, mkr.WriteFileLookup(nil, nil, true))
	got, err = ioutil.ReadFile(filepath.Join(root, "multibag", "file-lookup.tsv"))
	require.NoError(t, err)
	assert.NotContains(t, string(got), "data/old.txt")
}

func TestUpdateInfo(t *testing.T) {
	root := makePlainBag(t)
	mkr, err := NewSingleMultibagMaker(root, "")
	require.NoError(t, err)
	require.NoError(t, mkr.UpdateInfo("", ""))

	bag, err := bagit.OpenDir(root)
	require.NoError(t, err)
	info := bag.Info()
	assert.Equal(t, multibag.CurrentVersion, info.Get("Multibag-Version"))
	assert.Equal(t, "multibag", info.Get("Multibag-Tag-Directory"))
	assert.Equal(t, "1", info.Get("Multibag-Head-Version"))
	assert.Equal(t, multibag.CurrentReference, info.Get("Multibag-Reference"))
	assert.False(t, info.Has("Bag-Count"))

	// the size is recomputed, not the stale carried-over value
	assert.NotEqual(t, "33 kB", info.Get("Bag-Size"))
	assert.NotEmpty(t, info.Get("Bag-Size"))

	descs := info.Values("Internal-Sender-Description")
	require.Len(t, descs, 2)
	assert.Equal(t, "A test bag", descs[0])
	assert.Contains(t, descs[1], "complies with the Multibag BagIt profile")
}

func TestConvert(t *testing.T) {
	root := makePlainBag(t)
	mkr, err := NewSingleMultibagMaker(root, "")
	require.NoError(t, err)
	require.NoError(t, mkr.Convert("3", "ark:/88434/mds2"))

	head, err := multibag.OpenHeadBag(root)
	require.NoError(t, err)

	v, err := head.HeadVersion()
	require.NoError(t, err)
	assert.Equal(t, "3", v)

	members, err := head.MemberBags()
	require.NoError(t, err)
	require.Len(t, members, 1)
	assert.Equal(t, "samplembag", members[0].Name)
	assert.Equal(t, "ark:/88434/mds2", members[0].URI)

	bagname, err := head.LookupFile("data/a.txt")
	require.NoError(t, err)
	assert.Equal(t, "samplembag", bagname)
	bagname, err = head.LookupFile("data/sub/b.txt")
	require.NoError(t, err)
	assert.Equal(t, "samplembag", bagname)

	assert.True(t, multibag.IsHeadBag(root))
}

func TestConvertCustomTagDir(t *testing.T) {
	root := makePlainBag(t)
	mkr, err := NewSingleMultibagMaker(root, "mbag-tags")
	require.NoError(t, err)
	require.NoError(t, mkr.Convert("", ""))

	assert.True(t, fileExists(filepath.Join(root, "mbag-tags", "member-bags.tsv")))
	assert.False(t, fileExists(filepath.Join(root, "multibag")))

	head, err := multibag.OpenHeadBag(root)
	require.NoError(t, err)
	assert.Equal(t, "mbag-tags", head.TagDir())
	names, err := head.MemberBagNames()
	require.NoError(t, err)
	assert.Equal(t, []string{"samplembag"}, names)
}

func fileExists(p string) bool {
	_, err := os.Stat(p)
	return err == nil
}
