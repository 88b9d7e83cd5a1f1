package multibag

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMemberLine(t *testing.T) {
	m, err := ParseMemberLine("mybag_1.mbag\n", "0.4")
	require.NoError(t, err)
	assert.Equal(t, MemberInfo{Name: "mybag_1.mbag"}, m)

	m, err = ParseMemberLine("mybag_1.mbag\thttps://example.org/mybag_1.zip\n", "0.4")
	require.NoError(t, err)
	assert.Equal(t, "mybag_1.mbag", m.Name)
	assert.Equal(t, "https://example.org/mybag_1.zip", m.URI)

	m, err = ParseMemberLine(
		"mybag_1.mbag\thttps://example.org/b.zip\tsha256\tabc\t# staging copy\n", "0.4")
	require.NoError(t, err)
	assert.Equal(t, []string{"sha256", "abc"}, m.Info)
	assert.Equal(t, "staging copy", m.Comment)

	_, err = ParseMemberLine("   \n", "0.4")
	assert.Error(t, err)
}

func TestParseMemberLineLegacy(t *testing.T) {
	// profile 0.2 used space-delimited group-members.txt
	m, err := ParseMemberLine("mybag_1  https://example.org/mybag_1.zip\n", "0.2")
	require.NoError(t, err)
	assert.Equal(t, "mybag_1", m.Name)
	assert.Equal(t, "https://example.org/mybag_1.zip", m.URI)
}

func TestMemberInfoFormat(t *testing.T) {
	assert.Equal(t, "b_1.mbag\n", MemberInfo{Name: "b_1.mbag"}.Format())
	assert.Equal(t, "b_1.mbag\thttps://example.org/b.zip\n",
		MemberInfo{Name: "b_1.mbag", URI: "https://example.org/b.zip"}.Format())
	assert.Equal(t, "b_1.mbag\thttps://example.org/b.zip\tx\t# a comment\n",
		MemberInfo{
			Name: "b_1.mbag", URI: "https://example.org/b.zip",
			Info: []string{"x"}, Comment: "a comment",
		}.Format())

	// parse and format are inverses
	line := "b_1.mbag\thttps://example.org/b.zip\t# note\n"
	m, err := ParseMemberLine(line, "0.4")
	require.NoError(t, err)
	assert.Equal(t, line, m.Format())
}

func TestParseFileLookupLine(t *testing.T) {
	p, bag, err := parseFileLookupLine("data/a.txt\tmybag_1.mbag\n", "0.4")
	require.NoError(t, err)
	assert.Equal(t, "data/a.txt", p)
	assert.Equal(t, "mybag_1.mbag", bag)

	p, bag, err = parseFileLookupLine("data/a.txt mybag_1\n", "0.2")
	require.NoError(t, err)
	assert.Equal(t, "data/a.txt", p)
	assert.Equal(t, "mybag_1", bag)

	_, _, err = parseFileLookupLine("data/a.txt\n", "0.4")
	assert.Error(t, err)
}
