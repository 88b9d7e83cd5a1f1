package validate

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIssueSummary(t *testing.T) {
	i := &ValidationIssue{
		Label:          "3.1-4",
		Type:           ERROR,
		ProfileVersion: "0.4",
		Spec:           "Head bag must be listed last",
		Passed:         true,
	}
	assert.Equal(t, "PASSED: multibag 0.4 3.1-4: Head bag must be listed last",
		i.Summary())

	i.Passed = false
	assert.Equal(t, "ERROR: multibag 0.4 3.1-4: Head bag must be listed last",
		i.Summary())

	i.Type = WARN
	assert.True(t, strings.HasPrefix(i.Summary(), "WARNING: "))
	i.Type = REC
	assert.True(t, strings.HasPrefix(i.Summary(), "RECOMMENDATION: "))
}

func TestIssueDescriptionAndString(t *testing.T) {
	i := &ValidationIssue{
		Label:          "3.1-2",
		Type:           ERROR,
		ProfileVersion: "0.4",
		Spec:           "URL field must be an absolute URL",
		Comments:       []string{"line 2", "line 5"},
	}
	assert.Equal(t, i.Summary()+"\n   line 2\n   line 5", i.Description())
	assert.Equal(t, i.Summary()+" (line 2)", i.String())

	i.Comments = nil
	assert.Equal(t, i.Summary(), i.Description())
	assert.Equal(t, i.Summary(), i.String())
}

func TestResultsCounts(t *testing.T) {
	r := NewResults("mybag", PROB, "")
	assert.Equal(t, "0.4", r.DefVersion)

	r.err(r.issue("a", "spec a"), true)
	r.err(r.issue("b", "spec b"), false, "went wrong")
	r.warn(r.issue("c", "spec c"), false)
	r.rec(r.issue("d", "spec d"), false)

	assert.Equal(t, 2, r.CountApplied(ERROR))
	assert.Equal(t, 1, r.CountFailed(ERROR))
	assert.Equal(t, 1, r.CountPassed(ERROR))
	assert.Equal(t, 2, r.CountFailed(PROB))
	assert.Equal(t, 3, r.CountFailed(ALL))
	assert.False(t, r.OK())

	// the recommendation alone does not sink a PROB result set
	r2 := NewResults("mybag", PROB, "")
	r2.rec(r2.issue("d", "spec d"), false)
	assert.True(t, r2.OK())
	r2.Want = ALL
	assert.False(t, r2.OK())
}

func TestAddFiltersEmptyComments(t *testing.T) {
	r := NewResults("mybag", ALL, "")
	r.err(r.issue("a", "spec"), false, "", "real comment", "")
	failed := r.Failed(ERROR)
	require.Len(t, failed, 1)
	assert.Equal(t, []string{"real comment"}, failed[0].Comments)
}

func TestValidationErrorSingleFailure(t *testing.T) {
	r := NewResults("mybag", ALL, "0.4")
	r.err(r.issue("3.0-1", "tag directory must contain a member-bags.tsv file"), false)

	err := NewValidationError(r)
	assert.Equal(t,
		"ERROR: multibag 0.4 3.0-1: tag directory must contain a member-bags.tsv file",
		err.Error())
}

func TestValidationErrorMultipleFailures(t *testing.T) {
	r := NewResults("mybag", ALL, "0.4")
	r.err(r.issue("a", "spec a"), false)
	r.err(r.issue("b", "spec b"), false)

	err := NewValidationError(r)
	assert.Equal(t, "2 validation errors detected", err.Message)
	assert.True(t, strings.HasPrefix(err.Error(), "2 validation errors detected:"))
	assert.Equal(t, 2, strings.Count(err.Error(), "\n\n * "))
	assert.NotContains(t, err.Error(), "including")
}

func TestValidationErrorManyFailures(t *testing.T) {
	r := NewResults("mybag", ALL, "0.4")
	for _, label := range []string{"a", "b", "c", "d", "e"} {
		r.err(r.issue(label, "spec "+label), false)
	}

	err := NewValidationError(r)
	assert.Equal(t, "5 validation errors detected", err.Message)
	assert.True(t, strings.HasPrefix(err.Error(), "5 validation errors detected, including:"))
	// only the first three failures are spelled out
	assert.Equal(t, 3, strings.Count(err.Error(), "\n\n * "))
}

func TestLineComment(t *testing.T) {
	assert.Equal(t, "", lineComment(nil))
	assert.Equal(t, "line 7", lineComment([]int{7}))
	assert.Equal(t, "lines 1, 2", lineComment([]int{1, 2}))
	assert.Equal(t, "lines 1, 2, 3, 4", lineComment([]int{1, 2, 3, 4}))
	assert.Equal(t, "lines 1, 2, 3, ...", lineComment([]int{1, 2, 3, 4, 5}))
}
