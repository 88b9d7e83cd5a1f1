package bagit

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPayloadOxum(t *testing.T) {
	bag, err := Open(makeTestBag(t))
	require.NoError(t, err)

	nbytes, nfiles, err := PayloadOxum(bag)
	require.NoError(t, err)
	assert.Equal(t, int64(len(file1Content)+len(file2Content)), nbytes)
	assert.Equal(t, 2, nfiles)
}

func TestUpdateOxum(t *testing.T) {
	bag, err := OpenDir(makeTestBag(t))
	require.NoError(t, err)

	bag.Info().Set("Payload-Oxum", "0.0")
	require.NoError(t, UpdateOxum(bag))
	assert.Equal(t, "51.2", bag.Info().Get("Payload-Oxum"))
}

func TestValidateGoodBag(t *testing.T) {
	bag, err := Open(makeTestBag(t))
	require.NoError(t, err)
	assert.NoError(t, Validate(bag))
}

func TestValidateCorruptPayload(t *testing.T) {
	root := makeTestBag(t)
	require.NoError(t, ioutil.WriteFile(
		filepath.Join(root, "data", "file1.txt"), []byte("tampered\n"), 0644))

	bag, err := Open(root)
	require.NoError(t, err)
	err = Validate(bag)
	require.Error(t, err)

	verr, ok := err.(*BagValidationError)
	require.True(t, ok)
	found := false
	for _, p := range verr.Problems {
		if p == "data/file1.txt sha256 checksum mismatch" {
			found = true
		}
	}
	assert.True(t, found, "expected a checksum mismatch for the tampered file: %v", verr.Problems)
}

func TestValidateMissingFile(t *testing.T) {
	root := makeTestBag(t)
	require.NoError(t, os.Remove(filepath.Join(root, "data", "sub", "file2.txt")))

	bag, err := Open(root)
	require.NoError(t, err)
	err = Validate(bag)
	require.Error(t, err)
	assert.Contains(t, err.Error(),
		"data/sub/file2.txt is listed in a manifest but missing from the bag")
}

func TestValidateUnlistedPayload(t *testing.T) {
	root := makeTestBag(t)
	writeTestFile(t, filepath.Join(root, "data", "extra.txt"), "not in any manifest\n")

	bag, err := Open(root)
	require.NoError(t, err)
	err = Validate(bag)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "data/extra.txt is not listed in any manifest")
}

func TestValidateOxumDisagreement(t *testing.T) {
	root := makeTestBag(t)
	bag, err := OpenDir(root)
	require.NoError(t, err)
	bag.Info().Set("Payload-Oxum", "1.1")
	require.NoError(t, bag.Save())

	reopened, err := Open(root)
	require.NoError(t, err)
	err = Validate(reopened)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Payload-Oxum is 1.1, but the payload is 51.2")
}

func TestValidateMissingBagitFile(t *testing.T) {
	root := makeTestBag(t)
	require.NoError(t, os.Remove(filepath.Join(root, "bagit.txt")))
	// drop its tagmanifest entry so only the missing file is reported
	writeTestFile(t, filepath.Join(root, "tagmanifest-sha256.txt"), "")

	bag, err := Open(root)
	require.NoError(t, err)
	err = Validate(bag)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bag is missing bagit.txt")
}
