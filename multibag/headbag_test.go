package multibag

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFixtureFile(t *testing.T, p, contents string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0755))
	require.NoError(t, ioutil.WriteFile(p, []byte(contents), 0644))
}

// makeHeadBag creates a minimal head bag directory: two payload files
// split across this bag and a (fictional) sibling, with the standard
// multibag tag files under multibag/.
func makeHeadBag(t *testing.T) string {
	t.Helper()
	root := filepath.Join(t.TempDir(), "mybag_2.mbag")
	writeFixtureFile(t, filepath.Join(root, "bagit.txt"),
		"BagIt-Version: 0.97\nTag-File-Character-Encoding: UTF-8\n")
	writeFixtureFile(t, filepath.Join(root, "bag-info.txt"),
		"Multibag-Version: 0.4\n"+
			"Multibag-Tag-Directory: multibag\n"+
			"Multibag-Head-Version: 2\n"+
			"Multibag-Head-Deprecates: 1\n")
	writeFixtureFile(t, filepath.Join(root, "data", "b.txt"), "bbb\n")
	writeFixtureFile(t, filepath.Join(root, "multibag", "member-bags.tsv"),
		"mybag_1.mbag\thttps://example.org/mybag_1.zip\n"+
			"mybag_2.mbag\n")
	writeFixtureFile(t, filepath.Join(root, "multibag", "file-lookup.tsv"),
		"data/a.txt\tmybag_1.mbag\n"+
			"data/b.txt\tmybag_2.mbag\n")
	writeFixtureFile(t, filepath.Join(root, "multibag", "deleted.txt"),
		"data/gone.txt\n")
	return root
}

func TestOpenHeadBag(t *testing.T) {
	head, err := OpenHeadBag(makeHeadBag(t))
	require.NoError(t, err)

	v, err := head.HeadVersion()
	require.NoError(t, err)
	assert.Equal(t, "2", v)
	assert.Equal(t, "0.4", head.ProfileVersion())
	assert.Equal(t, "multibag", head.TagDir())
}

func TestIsHeadBag(t *testing.T) {
	root := makeHeadBag(t)
	assert.True(t, IsHeadBag(root))

	member := filepath.Join(t.TempDir(), "mybag_1.mbag")
	writeFixtureFile(t, filepath.Join(member, "bagit.txt"),
		"BagIt-Version: 0.97\n")
	writeFixtureFile(t, filepath.Join(member, "bag-info.txt"),
		"Multibag-Version: 0.4\n")
	assert.False(t, IsHeadBag(member))
	assert.False(t, IsHeadBag(filepath.Join(t.TempDir(), "nope")))
}

func TestMemberBags(t *testing.T) {
	head, err := OpenHeadBag(makeHeadBag(t))
	require.NoError(t, err)

	members, err := head.MemberBags()
	require.NoError(t, err)
	require.Len(t, members, 2)
	assert.Equal(t, "mybag_1.mbag", members[0].Name)
	assert.Equal(t, "https://example.org/mybag_1.zip", members[0].URI)
	assert.Equal(t, "mybag_2.mbag", members[1].Name)

	names, err := head.MemberBagNames()
	require.NoError(t, err)
	assert.Equal(t, []string{"mybag_1.mbag", "mybag_2.mbag"}, names)
}

func TestFileLookup(t *testing.T) {
	head, err := OpenHeadBag(makeHeadBag(t))
	require.NoError(t, err)

	bag, err := head.LookupFile("data/a.txt")
	require.NoError(t, err)
	assert.Equal(t, "mybag_1.mbag", bag)

	bag, err = head.LookupFile("data/unknown.txt")
	require.NoError(t, err)
	assert.Equal(t, "", bag)

	entries, err := head.FileLookup()
	require.NoError(t, err)
	assert.Equal(t, []LookupEntry{
		{Path: "data/a.txt", Bag: "mybag_1.mbag"},
		{Path: "data/b.txt", Bag: "mybag_2.mbag"},
	}, entries)

	files, err := head.FilesInMember("mybag_2.mbag")
	require.NoError(t, err)
	assert.Equal(t, []string{"data/b.txt"}, files)
}

func TestDeletedPaths(t *testing.T) {
	head, err := OpenHeadBag(makeHeadBag(t))
	require.NoError(t, err)

	deleted, err := head.DeletedPaths()
	require.NoError(t, err)
	assert.True(t, deleted["data/gone.txt"])
	assert.Len(t, deleted, 1)
}

func TestMissingTagFiles(t *testing.T) {
	root := makeHeadBag(t)
	require.NoError(t, os.Remove(filepath.Join(root, "multibag", "member-bags.tsv")))
	require.NoError(t, os.Remove(filepath.Join(root, "multibag", "deleted.txt")))

	head, err := OpenHeadBag(root)
	require.NoError(t, err)

	_, err = head.MemberBags()
	require.Error(t, err)
	assert.True(t, IsMissingFile(err))

	// an absent deleted.txt is an empty set, not an error
	deleted, err := head.DeletedPaths()
	require.NoError(t, err)
	assert.Empty(t, deleted)
}

func TestHeadVersionRequired(t *testing.T) {
	root := makeHeadBag(t)
	writeFixtureFile(t, filepath.Join(root, "bag-info.txt"),
		"Multibag-Version: 0.4\n")

	head, err := OpenHeadBag(root)
	require.NoError(t, err)
	_, err = head.HeadVersion()
	assert.Error(t, err)
}

func TestReload(t *testing.T) {
	root := makeHeadBag(t)
	head, err := OpenHeadBag(root)
	require.NoError(t, err)

	names, err := head.MemberBagNames()
	require.NoError(t, err)
	require.Len(t, names, 2)

	writeFixtureFile(t, filepath.Join(root, "multibag", "member-bags.tsv"),
		"mybag_2.mbag\n")
	// cached until Reload
	names, err = head.MemberBagNames()
	require.NoError(t, err)
	assert.Len(t, names, 2)

	head.Reload()
	names, err = head.MemberBagNames()
	require.NoError(t, err)
	assert.Equal(t, []string{"mybag_2.mbag"}, names)
}

func TestLegacyProfileFileNames(t *testing.T) {
	root := filepath.Join(t.TempDir(), "legacy_2")
	writeFixtureFile(t, filepath.Join(root, "bagit.txt"),
		"BagIt-Version: 0.97\n")
	writeFixtureFile(t, filepath.Join(root, "bag-info.txt"),
		"Multibag-Version: 0.2\n"+
			"Multibag-Head-Version: 2\n")
	writeFixtureFile(t, filepath.Join(root, "multibag", "group-members.txt"),
		"legacy_1 https://example.org/legacy_1.zip\nlegacy_2\n")
	writeFixtureFile(t, filepath.Join(root, "multibag", "group-directory.txt"),
		"data/a.txt legacy_1\n")

	head, err := OpenHeadBag(root)
	require.NoError(t, err)

	names, err := head.MemberBagNames()
	require.NoError(t, err)
	assert.Equal(t, []string{"legacy_1", "legacy_2"}, names)

	bag, err := head.LookupFile("data/a.txt")
	require.NoError(t, err)
	assert.Equal(t, "legacy_1", bag)
}
