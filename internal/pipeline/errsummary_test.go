package pipeline

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func errs(stage string, msgs ...string) []StageError {
	out := make([]StageError, len(msgs))
	for i, m := range msgs {
		out[i] = StageError{Stage: stage, Substage: fmt.Sprintf("file%d.go", i), Error: ErrorDetail{Message: m}}
	}
	return out
}

func TestGroupErrors(t *testing.T) {
	in := []StageError{
		{Stage: "S", Substage: "a.go", Error: ErrorDetail{Message: "Timeout"}},
		{Stage: "S", Substage: "b.go", Error: ErrorDetail{Message: "rate limited"}},
		{Stage: "S", Substage: "c.go", Error: ErrorDetail{Message: "  timeout "}},
		{Stage: "S", Substage: "a.go", Error: ErrorDetail{Message: "timeout"}},
	}
	groups := GroupErrors(in)

	require.Len(t, groups, 2)
	assert.Equal(t, "Timeout", groups[0].Message)
	assert.Equal(t, 3, groups[0].Count)
	assert.Equal(t, []Location{{"S", "a.go"}, {"S", "c.go"}}, groups[0].Locations)
	assert.Equal(t, "rate limited", groups[1].Message)
	assert.Equal(t, 1, groups[1].Count)
}

func TestGroupErrors_Empty(t *testing.T) {
	assert.Empty(t, GroupErrors(nil))
}

func TestStageMessage(t *testing.T) {
	tests := []struct {
		name string
		in   []StageError
		want string
	}{
		{"none", nil, ""},
		{"one", errs("S", "timeout"), "Error: timeout"},
		{"two distinct", errs("S", "A", "B"), "Error: A | B"},
		{"duplicates collapse", errs("S", "A", "A", "B", "a"), "Error: A | B"},
		{"three", errs("S", "A", "B", "C"), "Error: A | B | C"},
		{"five distinct", errs("S", "A", "B", "C", "D", "E"), "Error: A | B | C (+2 more)"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, StageMessage(tt.in))
		})
	}
}

func TestStageMessage_TwoDistinctHasNoSuffix(t *testing.T) {
	got := StageMessage(errs("S", "A", "B", "A", "B"))
	assert.Contains(t, got, "A")
	assert.Contains(t, got, "B")
	assert.NotContains(t, got, "more")
}

func TestFailureSummaryMarkdown(t *testing.T) {
	in := []StageError{
		{Stage: "FileAnalysisStage", Substage: "a.go", Error: ErrorDetail{Message: "timeout"}},
		{Stage: "FileAnalysisStage", Substage: "b.go", Error: ErrorDetail{Message: "timeout"}},
		{Stage: "PRLevelReviewStage", Substage: "StageExecution", Error: ErrorDetail{Message: "bad response"}},
	}
	got := FailureSummaryMarkdown("Review failed", in)

	assert.True(t, strings.HasPrefix(got, "## Pipeline failed\n"))
	assert.Contains(t, got, "Review failed")
	assert.Contains(t, got, "- **timeout** (x2)")
	assert.Contains(t, got, "`FileAnalysisStage/a.go`, `FileAnalysisStage/b.go`")
	assert.Contains(t, got, "- **bad response**\n")
	assert.NotContains(t, got, "more errors")
}

func TestFailureSummaryMarkdown_Truncation(t *testing.T) {
	var in []StageError
	for i := 0; i < 7; i++ {
		in = append(in, StageError{Stage: "S", Substage: fmt.Sprintf("f%d.go", i), Error: ErrorDetail{Message: "same"}})
	}
	in = append(in, errs("T", "B", "C", "D", "E")...)

	got := FailureSummaryMarkdown("", in)

	assert.Contains(t, got, "`S/f4.go` +2 more")
	assert.NotContains(t, got, "S/f5.go")
	assert.Contains(t, got, "**B**")
	assert.Contains(t, got, "**C**")
	assert.NotContains(t, got, "**D**")
	assert.Contains(t, got, "(+2 more errors)")
}

func TestFailureSummaryMarkdown_NoErrors(t *testing.T) {
	assert.Equal(t, "## Pipeline failed\n\nboom\n", FailureSummaryMarkdown("boom", nil))
}

func TestFailureReason(t *testing.T) {
	tests := []struct {
		name   string
		status string
		in     []StageError
		want   string
	}{
		{"generic status dropped", "Pipeline failed", errs("S", "timeout", "timeout"), "timeout (x2)"},
		{"specific status kept", "config invalid", nil, "config invalid"},
		{"two groups", "", errs("S", "A", "B", "A"), "A (x2); B"},
		{"truncated", "", errs("S", "A", "B", "C", "D"), "A; B; +2 more errors"},
		{"nothing", "", nil, "Pipeline failed"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, FailureReason(tt.status, tt.in))
		})
	}
}
