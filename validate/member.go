package validate

import (
	"fmt"
	"strings"

	"github.com/ndlib/multibag/bagit"
	"github.com/ndlib/multibag/multibag"
)

// MemberBagValidator checks that a bag complies with the multibag
// requirements for serving as a member of an aggregation.
type MemberBagValidator struct {
	bag    bagit.Bag
	target string
}

// NewMemberBagValidator opens the bag at bagpath (a directory or a
// serialized bag) for validation as a member bag.
func NewMemberBagValidator(bagpath string) (*MemberBagValidator, error) {
	bag, err := bagit.Open(bagpath)
	if err != nil {
		return nil, err
	}
	return &MemberBagValidator{bag: bag, target: bagpath}, nil
}

func (v *MemberBagValidator) version() string {
	vals := v.bag.Info().Values("Multibag-Version")
	if len(vals) == 0 {
		return ""
	}
	return vals[len(vals)-1]
}

func (v *MemberBagValidator) results(want int, results *ValidationResults) *ValidationResults {
	if results != nil {
		return results
	}
	ver := v.version()
	if ver == "" {
		ver = multibag.CurrentVersion
	}
	return NewResults(v.target, want, ver)
}

// Validate runs every member bag check.
func (v *MemberBagValidator) Validate(want int, results *ValidationResults) *ValidationResults {
	out := v.results(want, results)

	version := v.version()
	t := out.issue("3-Version-for-member",
		"A member multibag should include header: Multibag-Version")
	out.rec(t, version != "")
	if version == "" {
		return out
	}

	v.ValidateBagName(want, out, version)
	v.ValidateAsNonHead(want, out)
	return out
}

// ValidateBagName checks the restrictions on bag names introduced with
// profile version 0.3.
func (v *MemberBagValidator) ValidateBagName(want int, results *ValidationResults, version string) *ValidationResults {
	out := v.results(want, results)
	if version == "0.2" {
		// 0.2 had no restrictions on names
		return out
	}

	name := v.bag.Name()
	t := out.issue("2.1a-name-TAB",
		"A name must not contain embedded TAB characters")
	out.err(t, !strings.Contains(name, "\t"))

	t = out.issue("2.1b-name-wsp",
		"A name must not begin nor end with any whitespace characters")
	out.err(t, strings.TrimSpace(name) == name)
	return out
}

// ValidateAsNonHead warns about head-bag-only tags and files appearing
// on a bag that does not declare itself a head bag.
func (v *MemberBagValidator) ValidateAsNonHead(want int, results *ValidationResults) *ValidationResults {
	out := v.results(want, results)
	if v.bag.IsHeadMultibag() {
		// these tests don't apply
		return out
	}
	info := v.bag.Info()

	t := out.issue("2-Head-Deprecates",
		"bag-info.txt: Multibag-Head-Deprecates element should only be set for Head Bags")
	out.warn(t, !info.Has("Multibag-Head-Deprecates"))

	t = out.issue("2-Tag-Directory",
		"bag-info.txt: Multibag-Tag-Directory element should only be set for Head Bags")
	out.warn(t, !info.Has("Multibag-Tag-Directory"))

	mdirs := info.Values("Multibag-Tag-Directory")
	if len(mdirs) == 0 {
		mdirs = []string{multibag.DefaultTagDir}
	}
	for _, d := range mdirs {
		t = out.issue("2-Tag-Directory",
			fmt.Sprintf("bag-info.txt: Multibag tag directory (%s) should exist only in Head Bags", d))
		out.warn(t, !v.bag.Exists(d))
	}
	return out
}

// ValidateMemberBag opens and validates the bag at bagpath as a member
// bag, returning the full results.
func ValidateMemberBag(bagpath string, want int) (*ValidationResults, error) {
	v, err := NewMemberBagValidator(bagpath)
	if err != nil {
		return nil, err
	}
	return v.Validate(want, nil), nil
}
