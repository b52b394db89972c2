package cli

import (
	"context"
	"regexp"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// resolvePrompt runs PromptResolver's one-shot discovery: drain any banner up
// to the first delimiter character, send a bare newline, capture the raw
// prompt, derive basePrompt via the profile's trim strategy, and build
// basePattern from the (truncated, escaped) basePrompt and the profile's
// pattern template.
//
// basePrompt is truncated to 12 runes before escaping: many devices truncate
// or colour-wrap long hostnames, and matching a short prefix tolerates that
// without over-matching.
func resolvePrompt(ctx context.Context, reader *promptReader, transport Transport, host string, profile *PlatformProfile, timeout time.Duration) (string, *regexp.Regexp, error) {
	delimiterRE, err := regexp.Compile(delimiterPattern(profile.DelimiterChars + profile.LeftDelimiterChars))
	if err != nil {
		return "", nil, wrapError(host, KindConnection, err, "invalid delimiter pattern")
	}

	// Flush banners/MOTD.
	if _, err := reader.readUntilPattern(ctx, host, []*regexp.Regexp{delimiterRE}, timeout); err != nil {
		return "", nil, errors.WithMessage(err, "flushing initial buffer")
	}

	if _, err := transport.Write([]byte("\n")); err != nil {
		return "", nil, wrapError(host, KindConnection, err, "failed to send discovery newline")
	}

	raw, err := reader.readUntilPattern(ctx, host, []*regexp.Regexp{delimiterRE}, timeout)
	if err != nil {
		return "", nil, errors.WithMessage(err, "finding prompt")
	}
	raw = strings.TrimSpace(lastLine(strings.TrimRight(raw, "\r\n")))

	basePrompt := profile.trimPrompt(raw)
	if basePrompt == "" {
		return "", nil, newError(host, KindConnection, "unable to find base_prompt", nil)
	}

	escaped := regexp.QuoteMeta(truncateRunes(basePrompt, 12))
	patternSrc := profile.buildPattern(escaped)
	basePattern, err := regexp.Compile(patternSrc)
	if err != nil {
		return "", nil, wrapError(host, KindConnection, err, "invalid base pattern")
	}

	return basePrompt, basePattern, nil
}

func lastLine(s string) string {
	if idx := strings.LastIndexAny(s, "\n"); idx >= 0 {
		return s[idx+1:]
	}
	return s
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
