// Package validate checks bags for compliance with the multibag
// profile. Each check produces a ValidationIssue labeled by the profile
// requirement it tests; issues are collected into ValidationResults,
// which distinguishes errors (violations of requirements), warnings,
// and unmet recommendations.
package validate

import (
	"fmt"
	"strings"

	"github.com/ndlib/multibag/multibag"
)

// Issue type codes. These combine bitwise: PROB selects both errors and
// warnings, ALL selects everything.
const (
	ERROR = 1
	WARN  = 2
	REC   = 4
	ALL   = ERROR | WARN | REC
	PROB  = ERROR | WARN
)

var typeLabels = map[int]string{
	ERROR: "error",
	WARN:  "warning",
	REC:   "recommendation",
}

// A ValidationIssue captures the outcome of one validation check: the
// profile requirement that was tested, whether the target passed, and
// any context-specific comments (line numbers, offending values).
type ValidationIssue struct {
	// Label identifies the requirement within the profile, e.g. "3.1-4".
	Label string
	// Type is one of ERROR, WARN, or REC.
	Type int
	// ProfileVersion is the profile version the requirement comes from.
	ProfileVersion string
	// Spec is the prose statement of the requirement.
	Spec string
	// Passed records whether the check passed.
	Passed bool
	// Comments give context-specific detail about a failure.
	Comments []string
}

// Failed reports whether the check failed.
func (i *ValidationIssue) Failed() bool { return !i.Passed }

// Summary is a one-line description of the tested requirement and its
// status.
func (i *ValidationIssue) Summary() string {
	status := "PASSED"
	if !i.Passed {
		status = strings.ToUpper(typeLabels[i.Type])
	}
	out := fmt.Sprintf("%s: multibag %s %s", status, i.ProfileVersion, i.Label)
	if i.Spec != "" {
		out += ": " + i.Spec
	}
	return out
}

// Description is the summary followed by the attached comments, one per
// line.
func (i *ValidationIssue) Description() string {
	out := i.Summary()
	if len(i.Comments) > 0 {
		out += "\n   " + strings.Join(i.Comments, "\n   ")
	}
	return out
}

func (i *ValidationIssue) String() string {
	out := i.Summary()
	if len(i.Comments) > 0 && i.Comments[0] != "" {
		out += fmt.Sprintf(" (%s)", i.Comments[0])
	}
	return out
}

// ValidationResults collects the issues raised while validating one
// target bag.
type ValidationResults struct {
	// Target names the bag or bags the results apply to.
	Target string
	// Want selects the issue types that determine OK.
	Want int
	// DefVersion is the profile version stamped on new issues.
	DefVersion string

	errors []*ValidationIssue
	warns  []*ValidationIssue
	recs   []*ValidationIssue
}

// NewResults creates an empty result set for a target. want controls
// which issue types OK considers; version is the default profile
// version for issues added to the set.
func NewResults(target string, want int, version string) *ValidationResults {
	if version == "" {
		version = multibag.CurrentVersion
	}
	return &ValidationResults{Target: target, Want: want, DefVersion: version}
}

// Applied returns the checks of the requested types that were run.
func (r *ValidationResults) Applied(issuetype int) []*ValidationIssue {
	var out []*ValidationIssue
	if issuetype&ERROR != 0 {
		out = append(out, r.errors...)
	}
	if issuetype&WARN != 0 {
		out = append(out, r.warns...)
	}
	if issuetype&REC != 0 {
		out = append(out, r.recs...)
	}
	return out
}

// Failed returns the applied checks of the requested types that failed.
func (r *ValidationResults) Failed(issuetype int) []*ValidationIssue {
	var out []*ValidationIssue
	for _, i := range r.Applied(issuetype) {
		if i.Failed() {
			out = append(out, i)
		}
	}
	return out
}

// Passed returns the applied checks of the requested types that passed.
func (r *ValidationResults) Passed(issuetype int) []*ValidationIssue {
	var out []*ValidationIssue
	for _, i := range r.Applied(issuetype) {
		if i.Passed {
			out = append(out, i)
		}
	}
	return out
}

func (r *ValidationResults) CountApplied(issuetype int) int { return len(r.Applied(issuetype)) }
func (r *ValidationResults) CountFailed(issuetype int) int  { return len(r.Failed(issuetype)) }
func (r *ValidationResults) CountPassed(issuetype int) int  { return len(r.Passed(issuetype)) }

// OK reports whether none of the checks selected by Want failed.
func (r *ValidationResults) OK() bool {
	return r.CountFailed(r.Want) == 0
}

// issue starts a new ValidationIssue for this result set's profile
// version. The issue is not recorded until passed to err, warn, or rec.
func (r *ValidationResults) issue(label, spec string) *ValidationIssue {
	return &ValidationIssue{
		Label:          label,
		Type:           ERROR,
		ProfileVersion: r.DefVersion,
		Spec:           spec,
		Passed:         true,
	}
}

func (r *ValidationResults) add(issue *ValidationIssue, issuetype int, passed bool, comments ...string) {
	issue.Type = issuetype
	issue.Passed = passed
	for _, c := range comments {
		if c != "" {
			issue.Comments = append(issue.Comments, c)
		}
	}
	switch issuetype {
	case ERROR:
		r.errors = append(r.errors, issue)
	case WARN:
		r.warns = append(r.warns, issue)
	case REC:
		r.recs = append(r.recs, issue)
	}
}

func (r *ValidationResults) err(issue *ValidationIssue, passed bool, comments ...string) {
	r.add(issue, ERROR, passed, comments...)
}

func (r *ValidationResults) warn(issue *ValidationIssue, passed bool, comments ...string) {
	r.add(issue, WARN, passed, comments...)
}

func (r *ValidationResults) rec(issue *ValidationIssue, passed bool, comments ...string) {
	r.add(issue, REC, passed, comments...)
}

// MultibagValidationError reports that a bag failed validation. It
// carries the full results so callers can inspect every failure.
type MultibagValidationError struct {
	Results *ValidationResults
	Message string
	Details []string
}

// NewValidationError builds the error from a result set with failures.
func NewValidationError(results *ValidationResults) *MultibagValidationError {
	out := &MultibagValidationError{Results: results}
	failed := results.Failed(ALL)
	switch len(failed) {
	case 0:
		out.Message = "Unknown Multibag validation failure"
	case 1:
		out.Message = failed[0].Summary()
		out.Details = append(out.Details, failed[0].Comments...)
	default:
		out.Message = fmt.Sprintf("%d validation errors detected", len(failed))
		for _, f := range failed {
			out.Details = append(out.Details, f.Description())
		}
	}
	return out
}

func (e *MultibagValidationError) Error() string {
	if e.Results == nil || e.Results.CountFailed(ALL) < 2 {
		return e.Message
	}
	out := e.Message
	if e.Results.CountFailed(ALL) > 3 {
		out += ", including"
	}
	out += ":"
	failed := e.Results.Failed(ALL)
	if len(failed) > 3 {
		failed = failed[:3]
	}
	for _, f := range failed {
		out += "\n\n * " + f.Description()
	}
	return out
}

// A Validator applies a set of profile checks to a target bag.
type Validator interface {
	// Validate runs the checks selected by want, adding to results when
	// non-nil.
	Validate(want int, results *ValidationResults) *ValidationResults
}

// IsValid reports whether all of the validator's checks of the wanted
// types pass.
func IsValid(v Validator, want int) bool {
	return v.Validate(want, nil).OK()
}

// EnsureValid runs the validator and returns a MultibagValidationError
// if any wanted check failed.
func EnsureValid(v Validator, want int) error {
	results := v.Validate(want, nil)
	if !results.OK() {
		return NewValidationError(results)
	}
	return nil
}

// lineComment formats failing line numbers for an issue comment,
// capping the list at three numbers plus an ellipsis.
func lineComment(lines []int) string {
	if len(lines) == 0 {
		return ""
	}
	s := ""
	if len(lines) > 1 {
		s = "s"
	}
	nums := make([]string, 0, 4)
	for i, n := range lines {
		if i == 3 && len(lines) > 4 {
			nums = append(nums, "...")
			break
		}
		nums = append(nums, fmt.Sprintf("%d", n))
	}
	return fmt.Sprintf("line%s %s", s, strings.Join(nums, ", "))
}
