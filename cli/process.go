package cli

import (
	"regexp"
	"strings"
)

// Post-processing applied to command output, in order: ANSI strip, line feed
// normalisation, prompt strip, command echo strip.

var (
	ansiCSIRE   = regexp.MustCompile(`\x1B\[[0-?]*[ -/]*[@-~]`)
	lineFeedsRE = regexp.MustCompile(`\r\r\n|\r\n|\n\r`)
)

// stripANSI removes ANSI CSI escape sequences.
func stripANSI(s string) string {
	return ansiCSIRE.ReplaceAllString(s, "")
}

// normaliseLineFeeds converts "\r\r\n", "\r\n" and "\n\r" to "\n".
func normaliseLineFeeds(s string) string {
	return lineFeedsRE.ReplaceAllString(s, "\n")
}

// collapseBlankLines folds doubled blank lines left behind by pagers that
// emit an extra CR per line (Fujitsu).
func collapseBlankLines(s string) string {
	return strings.ReplaceAll(s, "\n\n", "\n")
}

// stripPrompt drops the trailing prompt line when it contains basePrompt.
func stripPrompt(s, basePrompt string) string {
	lines := strings.Split(s, "\n")
	if strings.Contains(lines[len(lines)-1], basePrompt) {
		return strings.Join(lines[:len(lines)-1], "\n")
	}
	return s
}

// stripCommand removes the echoed command from the head of the output. Long
// commands line-wrap with backspaces on some platforms; in that case every
// backspace is removed and the whole first line dropped.
func stripCommand(cmd, output string) string {
	const backspace = "\x08"
	if strings.Contains(output, backspace) {
		output = strings.ReplaceAll(output, backspace, "")
		lines := strings.Split(output, "\n")
		return strings.Join(lines[1:], "\n")
	}
	if len(output) < len(cmd) {
		return ""
	}
	return output[len(cmd):]
}
