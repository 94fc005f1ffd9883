package pipeline

import (
	"fmt"
	"strings"
)

// Caps applied by the renderers below.
const (
	maxStageMessages    = 3
	maxSummaryGroups    = 3
	maxSummaryLocations = 5
	maxReasonGroups     = 2
)

// Location is where an error was recorded.
type Location struct {
	Stage    string
	Substage string
}

func (l Location) String() string {
	if l.Substage == "" {
		return l.Stage
	}
	return l.Stage + "/" + l.Substage
}

// ErrorGroup collects errors sharing one normalized message.
type ErrorGroup struct {
	Message   string // first occurrence, trimmed
	Count     int
	Locations []Location // unique, first-occurrence order
}

// GroupErrors groups errs by normalized message (whitespace collapsed,
// case folded). Groups keep first-occurrence order.
func GroupErrors(errs []StageError) []ErrorGroup {
	var groups []ErrorGroup
	index := make(map[string]int)
	for _, e := range errs {
		key := normalizeMessage(e.Error.Message)
		i, ok := index[key]
		if !ok {
			i = len(groups)
			index[key] = i
			groups = append(groups, ErrorGroup{Message: displayMessage(e.Error.Message)})
		}
		g := &groups[i]
		g.Count++
		loc := Location{Stage: e.Stage, Substage: e.Substage}
		if !containsLocation(g.Locations, loc) {
			g.Locations = append(g.Locations, loc)
		}
	}
	return groups
}

// StageMessage renders the stage-log message for errs:
// "Error: A | B | C (+N more)". It returns "" when errs is empty.
func StageMessage(errs []StageError) string {
	groups := GroupErrors(errs)
	if len(groups) == 0 {
		return ""
	}
	shown := groups
	if len(shown) > maxStageMessages {
		shown = shown[:maxStageMessages]
	}
	msgs := make([]string, len(shown))
	for i, g := range shown {
		msgs[i] = g.Message
	}
	out := "Error: " + strings.Join(msgs, " | ")
	if extra := len(groups) - len(shown); extra > 0 {
		out += fmt.Sprintf(" (+%d more)", extra)
	}
	return out
}

// FailureSummaryMarkdown renders the check-run summary for a failed run.
func FailureSummaryMarkdown(statusMessage string, errs []StageError) string {
	var b strings.Builder
	b.WriteString("## Pipeline failed\n")
	if msg := strings.TrimSpace(statusMessage); msg != "" {
		fmt.Fprintf(&b, "\n%s\n", msg)
	}

	groups := GroupErrors(errs)
	if len(groups) == 0 {
		return b.String()
	}

	b.WriteString("\n### Errors\n\n")
	shown := groups
	if len(shown) > maxSummaryGroups {
		shown = shown[:maxSummaryGroups]
	}
	for _, g := range shown {
		fmt.Fprintf(&b, "- **%s**", g.Message)
		if g.Count > 1 {
			fmt.Fprintf(&b, " (x%d)", g.Count)
		}
		b.WriteString("\n")

		locs := g.Locations
		if len(locs) > maxSummaryLocations {
			locs = locs[:maxSummaryLocations]
		}
		names := make([]string, len(locs))
		for i, l := range locs {
			names[i] = "`" + l.String() + "`"
		}
		line := strings.Join(names, ", ")
		if extra := len(g.Locations) - len(locs); extra > 0 {
			line += fmt.Sprintf(" +%d more", extra)
		}
		fmt.Fprintf(&b, "  - at %s\n", line)
	}
	if extra := len(groups) - len(shown); extra > 0 {
		fmt.Fprintf(&b, "\n(+%d more errors)\n", extra)
	}
	return b.String()
}

// FailureReason renders a one-line reason for a failed run: the status
// message unless it is generic, then up to two grouped messages with their
// occurrence counts.
func FailureReason(statusMessage string, errs []StageError) string {
	var parts []string
	if msg := strings.TrimSpace(statusMessage); msg != "" && !isGenericMessage(msg) {
		parts = append(parts, msg)
	}

	groups := GroupErrors(errs)
	shown := groups
	if len(shown) > maxReasonGroups {
		shown = shown[:maxReasonGroups]
	}
	for _, g := range shown {
		if g.Count > 1 {
			parts = append(parts, fmt.Sprintf("%s (x%d)", g.Message, g.Count))
		} else {
			parts = append(parts, g.Message)
		}
	}
	if extra := len(groups) - len(shown); extra > 0 {
		parts = append(parts, fmt.Sprintf("+%d more errors", extra))
	}

	if len(parts) == 0 {
		return "Pipeline failed"
	}
	return strings.Join(parts, "; ")
}

var genericMessages = map[string]bool{
	"error":             true,
	"failed":            true,
	"pipeline failed":   true,
	"pipeline error":    true,
	"processing":        true,
	"in progress":       true,
	"starting...":       true,
	"pipeline started":  true,
	"pipeline finished": true,
}

func isGenericMessage(msg string) bool {
	return genericMessages[normalizeMessage(msg)]
}

func normalizeMessage(msg string) string {
	return strings.ToLower(strings.Join(strings.Fields(msg), " "))
}

func displayMessage(msg string) string {
	msg = strings.Join(strings.Fields(msg), " ")
	if msg == "" {
		return "unknown error"
	}
	return msg
}

func containsLocation(locs []Location, l Location) bool {
	for _, x := range locs {
		if x == l {
			return true
		}
	}
	return false
}
