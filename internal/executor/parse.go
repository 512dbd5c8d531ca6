package executor

import (
	"regexp"
	"strings"

	"github.com/stewardworks/steward/internal/task"
)

var (
	pathPattern     = regexp.MustCompile(`/[a-zA-Z0-9_/.-]+`)
	urlPattern      = regexp.MustCompile(`https?://[^\s]+`)
	keyValuePattern = regexp.MustCompile(`(?m)^([A-Z][A-Z0-9_]{2,})=(\S+)$`)
)

// minPathLen filters regex noise like "/a" or "/." out of extraction.
const minPathLen = 5

// extractPaths mines absolute paths out of free-form tool output.
// Duplicates are kept in order: the context is an audit trail, and
// recency matters for alternative-path search.
func extractPaths(text string) []string {
	var out []string
	for _, m := range pathPattern.FindAllString(text, -1) {
		m = strings.TrimRight(m, ".")
		if len(m) > minPathLen {
			out = append(out, m)
		}
	}
	return out
}

// extractURLs mines http(s) URLs, trimming punctuation that sentence
// context glues onto them.
func extractURLs(text string) []string {
	var out []string
	for _, m := range urlPattern.FindAllString(text, -1) {
		m = strings.TrimRight(m, `.,;:)'"`)
		if m != "" {
			out = append(out, m)
		}
	}
	return out
}

// extractKeyValues mines NAME=value lines. Deliberately conservative:
// only upper-snake names at line start qualify, so ordinary prose
// never pollutes the key/value store.
func extractKeyValues(text string) map[string]string {
	matches := keyValuePattern.FindAllStringSubmatch(text, -1)
	if len(matches) == 0 {
		return nil
	}
	out := make(map[string]string, len(matches))
	for _, m := range matches {
		out[m[1]] = m[2]
	}
	return out
}

// Markers for the status-flag heuristic. The heuristic informs
// Meta.Status only; Success always comes from the adapter protocol.
var (
	failureMarkers = []string{
		"error", "failed", "failure", "fatal", "traceback",
		"exception", "denied", "cannot ", "unable to", "no such file",
	}
	successMarkers = []string{
		"success", "succeeded", "completed", "created", "done",
		"saved", "wrote", "finished",
	}
)

// statusFlag reads explicit markers out of output. Failure markers
// dominate success markers, markers dominate the exit code, and with
// neither the flag is unknown.
func statusFlag(output string, exitCode *int) string {
	lower := strings.ToLower(output)
	for _, m := range failureMarkers {
		if strings.Contains(lower, m) {
			return task.FlagFailed
		}
	}
	for _, m := range successMarkers {
		if strings.Contains(lower, m) {
			return task.FlagSuccess
		}
	}
	if exitCode != nil {
		if *exitCode == 0 {
			return task.FlagSuccess
		}
		return task.FlagFailed
	}
	return task.FlagUnknown
}

// Failure kind signatures, checked in order. "not found" deliberately
// lands in missing-resource so path recovery gets a chance before the
// step tail reaches the classifier.
var (
	missingSignatures = []string{
		"no such file", "not found", "does not exist",
	}
	permissionSignatures = []string{
		"permission denied", "access denied", "operation not permitted",
	}
)

// classifyFailure buckets an error string into the retry policy's
// three kinds.
func classifyFailure(errText string) string {
	lower := strings.ToLower(errText)
	for _, s := range missingSignatures {
		if strings.Contains(lower, s) {
			return task.FailMissingResource
		}
	}
	for _, s := range permissionSignatures {
		if strings.Contains(lower, s) {
			return task.FailPermissionDenied
		}
	}
	return task.FailTransient
}
