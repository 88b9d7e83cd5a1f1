package validate

import (
	"crypto/sha256"
	"encoding/hex"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func makeBagItBag(t *testing.T, payload string) string {
	t.Helper()
	root := filepath.Join(t.TempDir(), "plainbag")
	h := sha256.Sum256([]byte(payload))
	writeValFile(t, filepath.Join(root, "bagit.txt"),
		"BagIt-Version: 0.97\nTag-File-Character-Encoding: UTF-8\n")
	writeValFile(t, filepath.Join(root, "bag-info.txt"),
		"Payload-Oxum: 5.1\n")
	writeValFile(t, filepath.Join(root, "data", "a.txt"), payload)
	writeValFile(t, filepath.Join(root, "manifest-sha256.txt"),
		hex.EncodeToString(h[:])+" data/a.txt\n")
	return root
}

func TestBagValidatorPasses(t *testing.T) {
	v, err := NewBagValidator(makeBagItBag(t, "AAAA\n"))
	require.NoError(t, err)
	results := v.Validate(ALL, nil)
	assert.True(t, results.OK())
	assert.Equal(t, 1, results.CountPassed(ERROR))
}

func TestBagValidatorCorruptBag(t *testing.T) {
	root := makeBagItBag(t, "AAAA\n")
	writeValFile(t, filepath.Join(root, "data", "a.txt"), "tampered\n")

	v, err := NewBagValidator(root)
	require.NoError(t, err)
	results := v.Validate(ALL, nil)
	assert.False(t, results.OK())

	failed := results.Failed(ERROR)
	require.Len(t, failed, 1)
	assert.Equal(t, "2-Bag", failed[0].Label)
	assert.NotEmpty(t, failed[0].Comments)
}

func TestBagValidatorSkippedWithoutErrors(t *testing.T) {
	v, err := NewBagValidator(makeBagItBag(t, "AAAA\n"))
	require.NoError(t, err)
	results := v.Validate(REC, nil)
	assert.Zero(t, results.CountApplied(ALL))
	assert.True(t, results.OK())
}
