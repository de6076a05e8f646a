package agentloop

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// TruncationMode specifies which part of an oversized output is kept.
type TruncationMode string

const (
	TruncateHeadTail TruncationMode = "head_tail"
	TruncateTail     TruncationMode = "tail"
)

// TruncateOutput shortens output to roughly maxChars characters, marking the
// cut. Characters are runes, so the result stays valid UTF-8. A maxChars of
// zero or less disables truncation.
func TruncateOutput(output string, maxChars int, mode TruncationMode) string {
	if maxChars <= 0 || utf8.RuneCountInString(output) <= maxChars {
		return output
	}
	runes := []rune(output)
	removed := len(runes) - maxChars

	if mode == TruncateTail {
		return fmt.Sprintf("[output truncated: first %d characters removed]\n", removed) +
			string(runes[len(runes)-maxChars:])
	}
	half := maxChars / 2
	return string(runes[:half]) +
		fmt.Sprintf("\n[output truncated: %d characters removed from the middle; call the tool with narrower input to see more]\n", removed) +
		string(runes[len(runes)-(maxChars-half):])
}

// TruncateLines keeps the first and last lines of output so that at most
// maxLines remain. A maxLines of zero or less disables truncation.
func TruncateLines(output string, maxLines int) string {
	if maxLines <= 0 {
		return output
	}
	lines := strings.Split(output, "\n")
	if len(lines) <= maxLines {
		return output
	}
	head := maxLines / 2
	tail := maxLines - head
	omitted := len(lines) - head - tail
	return strings.Join(lines[:head], "\n") +
		fmt.Sprintf("\n[... %d lines omitted ...]\n", omitted) +
		strings.Join(lines[len(lines)-tail:], "\n")
}

// truncateResult applies the character limit then the line limit.
func truncateResult(content string, maxChars, maxLines int) string {
	return TruncateLines(TruncateOutput(content, maxChars, TruncateHeadTail), maxLines)
}
