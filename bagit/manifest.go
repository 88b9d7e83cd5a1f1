package bagit

import (
	"bufio"
	"bytes"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/google/renameio"
	"github.com/ndlib/multibag/util"
	"github.com/pkg/errors"
)

var manifestLineRe = regexp.MustCompile(`^(\S+)\s+(.*)$`)

// parseManifest reads manifest lines of the form "HASH PATH" from r into
// entries, keyed by path. New paths are appended to order.
func parseManifest(r io.Reader, entries map[string]string, order *[]string) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r\n")
		if strings.TrimSpace(line) == "" {
			continue
		}
		m := manifestLineRe.FindStringSubmatch(line)
		if m == nil {
			return NewBagError("malformed manifest line: %s", line)
		}
		p, ok := canonPath(strings.TrimSpace(m[2]))
		if !ok || p == "" {
			return NewBagError("dangerous path in manifest: %s", m[2])
		}
		if _, seen := entries[p]; !seen {
			*order = append(*order, p)
		}
		entries[p] = m[1]
	}
	return errors.Wrap(scanner.Err(), "reading manifest")
}

// manifestAlgorithm extracts the checksum algorithm name from a manifest
// file name like "manifest-sha256.txt".
func manifestAlgorithm(filename string) string {
	name := strings.TrimSuffix(filename, ".txt")
	i := strings.Index(name, "-")
	if i < 0 {
		return ""
	}
	return name[i+1:]
}

// listManifests finds the manifest files at the bag root whose name
// starts with the given prefix ("manifest-" or "tagmanifest-").
func listManifests(b Bag, prefix string) []string {
	steps, err := b.Walk("")
	if err != nil || len(steps) == 0 {
		return nil
	}
	var out []string
	for _, f := range steps[0].Files {
		if strings.HasPrefix(f, prefix) && strings.HasSuffix(f, ".txt") {
			if prefix == "manifest-" && strings.HasPrefix(f, "tagmanifest-") {
				continue
			}
			out = append(out, f)
		}
	}
	return out
}

// readManifests merges the named manifest files into a path → algorithm
// → checksum map.
func readManifests(b Bag, files []string) (map[string]map[string]string, error) {
	out := make(map[string]map[string]string)
	for _, mf := range files {
		alg := manifestAlgorithm(mf)
		entries := make(map[string]string)
		var order []string
		f, err := b.OpenText(mf)
		if err != nil {
			return nil, err
		}
		err = parseManifest(f, entries, &order)
		f.Close()
		if err != nil {
			return nil, errors.Wrapf(err, "in %s", mf)
		}
		for p, sum := range entries {
			if out[p] == nil {
				out[p] = make(map[string]string)
			}
			out[p][alg] = sum
		}
	}
	return out, nil
}

// readManifestFile reads one manifest at the root of b, preserving line
// order.
func readManifestFile(b Bag, filename string) (map[string]string, []string, error) {
	entries := make(map[string]string)
	var order []string
	if !b.IsFile(filename) {
		return entries, order, nil
	}
	f, err := b.OpenText(filename)
	if err != nil {
		return nil, nil, err
	}
	defer f.Close()
	if err := parseManifest(f, entries, &order); err != nil {
		return nil, nil, errors.Wrapf(err, "in %s", filename)
	}
	return entries, order, nil
}

// writeManifestFile atomically rewrites one manifest file under root.
// Lines take the form "HASH PATH".
func writeManifestFile(root, filename string, entries map[string]string, order []string) error {
	var buf bytes.Buffer
	for _, p := range order {
		sum, ok := entries[p]
		if !ok {
			continue
		}
		buf.WriteString(sum)
		buf.WriteString(" ")
		buf.WriteString(p)
		buf.WriteString("\n")
	}
	target := filepath.Join(root, filename)
	return errors.Wrapf(renameio.WriteFile(target, buf.Bytes(), 0644),
		"writing %s", filename)
}

// hashFileHex computes the named checksum of a local file, returning it
// hex encoded.
func hashFileHex(ospath, alg string) (string, error) {
	if !util.Supported(alg) {
		return "", NewBagError("unsupported checksum algorithm: %s", alg)
	}
	hw := util.NewHashWriter(alg)
	f, err := os.Open(ospath)
	if err != nil {
		return "", errors.Wrap(err, "hashing")
	}
	defer f.Close()
	if _, err := io.Copy(hw, f); err != nil {
		return "", errors.Wrap(err, "hashing")
	}
	return hw.SumHex(alg), nil
}
