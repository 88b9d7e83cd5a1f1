package validate

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func makeMemberBag(t *testing.T, name, info string) string {
	t.Helper()
	root := filepath.Join(t.TempDir(), name)
	writeValFile(t, filepath.Join(root, "bagit.txt"), "BagIt-Version: 0.97\n")
	writeValFile(t, filepath.Join(root, "bag-info.txt"), info)
	writeValFile(t, filepath.Join(root, "data", "a.txt"), "AAAA\n")
	return root
}

func TestValidMemberBag(t *testing.T) {
	root := makeMemberBag(t, "member_1.mbag", "Multibag-Version: 0.3\n")
	results, err := ValidateMemberBag(root, ALL)
	require.NoError(t, err)
	assert.True(t, results.OK(), "unexpected failures: %v", failedLabels(results, ALL))
}

func TestMemberMissingVersionIsRecommendation(t *testing.T) {
	root := makeMemberBag(t, "member_1.mbag", "Source-Organization: Example Org\n")
	results, err := ValidateMemberBag(root, ALL)
	require.NoError(t, err)
	assert.Empty(t, failedLabels(results, PROB))
	assert.Contains(t, failedLabels(results, REC), "3-Version-for-member")
}

func TestMemberBagNameWhitespace(t *testing.T) {
	root := makeMemberBag(t, "member_1.mbag ", "Multibag-Version: 0.3\n")
	results, err := ValidateMemberBag(root, ALL)
	require.NoError(t, err)
	assert.Contains(t, failedLabels(results, ERROR), "2.1b-name-wsp")
}

func TestMemberBagNameUncheckedBefore03(t *testing.T) {
	root := makeMemberBag(t, "member 1 ", "Multibag-Version: 0.2\n")
	results, err := ValidateMemberBag(root, ALL)
	require.NoError(t, err)
	assert.Empty(t, failedLabels(results, ERROR))
}

func TestNonHeadWithHeadTags(t *testing.T) {
	root := makeMemberBag(t, "member_1.mbag",
		"Multibag-Version: 0.3\n"+
			"Multibag-Head-Deprecates: 1\n"+
			"Multibag-Tag-Directory: multibag\n")

	results, err := ValidateMemberBag(root, ALL)
	require.NoError(t, err)
	labels := failedLabels(results, WARN)
	assert.Contains(t, labels, "2-Head-Deprecates")
	assert.Contains(t, labels, "2-Tag-Directory")
}

func TestNonHeadWithTagDirectory(t *testing.T) {
	root := makeMemberBag(t, "member_1.mbag", "Multibag-Version: 0.3\n")
	require.NoError(t, os.Mkdir(filepath.Join(root, "multibag"), 0755))

	results, err := ValidateMemberBag(root, ALL)
	require.NoError(t, err)
	assert.Contains(t, failedLabels(results, WARN), "2-Tag-Directory")
}

func TestHeadBagSkipsNonHeadChecks(t *testing.T) {
	root := makeMemberBag(t, "member_2.mbag",
		"Multibag-Version: 0.3\n"+
			"Multibag-Tag-Directory: multibag\n"+
			"Multibag-Head-Version: 2\n")
	require.NoError(t, os.Mkdir(filepath.Join(root, "multibag"), 0755))

	results, err := ValidateMemberBag(root, ALL)
	require.NoError(t, err)
	assert.True(t, results.OK(), "unexpected failures: %v", failedLabels(results, ALL))
}
