package bagit

import (
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/ndlib/multibag/util"
	"github.com/pkg/errors"
)

// nhashers bounds how many files are checksummed concurrently during
// Validate.
const nhashers = 8

// PayloadOxum computes the byte count and file count of the bag's
// payload, the two numbers recorded in the Payload-Oxum tag.
func PayloadOxum(b Bag) (nbytes int64, nfiles int, err error) {
	if !b.IsDir("data") {
		return 0, 0, nil
	}
	steps, err := b.Walk("data")
	if err != nil {
		return 0, 0, err
	}
	for _, step := range steps {
		for _, f := range step.Files {
			sz, err := b.Sizeof(step.Dir + "/" + f)
			if err != nil {
				return 0, 0, err
			}
			nbytes += sz
			nfiles++
		}
	}
	return nbytes, nfiles, nil
}

// UpdateOxum recomputes the Payload-Oxum tag from the payload currently
// on disk. The change is not persisted until Save.
func UpdateOxum(b Bag) error {
	nbytes, nfiles, err := PayloadOxum(b)
	if err != nil {
		return err
	}
	b.Info().Set("Payload-Oxum", fmt.Sprintf("%d.%d", nbytes, nfiles))
	return nil
}

// Validate checks the bag against the base BagIt requirements: required
// files, Payload-Oxum agreement, manifest entries resolving to real
// files, and checksum verification. Checksums are computed in parallel.
// A nil return means the bag validated.
func Validate(b Bag) error {
	var problems []string

	if !b.IsFile("bagit.txt") {
		problems = append(problems, "bag is missing bagit.txt")
	}
	if !b.IsDir("data") {
		problems = append(problems, "bag is missing the data/ payload directory")
	}

	if oxum := b.Info().Get("Payload-Oxum"); oxum != "" {
		nbytes, nfiles, err := PayloadOxum(b)
		if err != nil {
			return err
		}
		want := fmt.Sprintf("%d.%d", nbytes, nfiles)
		if oxum != want {
			problems = append(problems,
				"Payload-Oxum is "+oxum+", but the payload is "+want)
		}
	}

	payload, err := b.PayloadEntries()
	if err != nil {
		return err
	}
	tagfiles, err := b.TagfileEntries()
	if err != nil {
		return err
	}

	// every payload file must be covered by each payload manifest
	if len(b.ManifestFiles()) > 0 && b.IsDir("data") {
		steps, err := b.Walk("data")
		if err != nil {
			return err
		}
		for _, step := range steps {
			for _, f := range step.Files {
				p := step.Dir + "/" + f
				if _, ok := payload[p]; !ok {
					problems = append(problems, p+" is not listed in any manifest")
				}
			}
		}
	}

	problems = append(problems, verifyChecksums(b, payload)...)
	problems = append(problems, verifyChecksums(b, tagfiles)...)

	if len(problems) > 0 {
		sort.Strings(problems)
		return &BagValidationError{
			Message: fmt.Sprintf("bag %s is invalid: %s",
				b.Name(), strings.Join(problems, "; ")),
			Problems: problems,
		}
	}
	return nil
}

// verifyChecksums hashes each file named in entries and compares the
// result against every recorded algorithm. Files are hashed by a bounded
// pool of goroutines.
func verifyChecksums(b Bag, entries map[string]map[string]string) []string {
	var (
		mu       sync.Mutex
		problems []string
		wg       sync.WaitGroup
		gate     = util.NewGate(nhashers)
	)
	addProblem := func(s string) {
		mu.Lock()
		problems = append(problems, s)
		mu.Unlock()
	}
	for p, algs := range entries {
		if !b.IsFile(p) {
			addProblem(p + " is listed in a manifest but missing from the bag")
			continue
		}
		wg.Add(1)
		go func(p string, algs map[string]string) {
			gate.Enter()
			defer gate.Leave()
			defer wg.Done()
			sums, err := hashBagFile(b, p, algs)
			if err != nil {
				addProblem(p + ": " + err.Error())
				return
			}
			for alg, want := range algs {
				got, ok := sums[alg]
				if !ok {
					addProblem(p + ": unsupported checksum algorithm " +
						strconv.Quote(alg))
					continue
				}
				if !strings.EqualFold(got, want) {
					addProblem(p + " " + alg + " checksum mismatch")
				}
			}
		}(p, algs)
	}
	wg.Wait()
	return problems
}

// hashBagFile reads the file once, feeding every requested algorithm.
func hashBagFile(b Bag, p string, algs map[string]string) (map[string]string, error) {
	names := make([]string, 0, len(algs))
	for alg := range algs {
		names = append(names, alg)
	}
	hw := util.NewHashWriter(names...)
	f, err := b.OpenText(p)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	if _, err := io.Copy(hw, f); err != nil {
		return nil, errors.Wrap(err, "hashing")
	}
	return hw.SumsHex(), nil
}
