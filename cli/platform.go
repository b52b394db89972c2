package cli

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// PromptTrimStrategy selects how a PlatformProfile derives basePrompt from
// the raw prompt line captured by prompt discovery.
type PromptTrimStrategy int

const (
	// TrimStripLast drops the trailing delimiter character only.
	TrimStripLast PromptTrimStrategy = iota
	// TrimStripParenTrailing splits on ")" and drops the leading "(" (Aruba AOS-8).
	TrimStripParenTrailing
	// TrimSplitAtCommercialAt drops the trailing delimiter, then keeps the
	// portion after "@" if present (JunOS).
	TrimSplitAtCommercialAt
	// TrimStripAngleBracket drops the first and last rune: "<...>" or "[...]" (Comware).
	TrimStripAngleBracket
	// TrimStripParenAndSuffix drops the leading "(" and the trailing 3 runes,
	// e.g. ") #" or ") >" (Fujitsu, Ubiquiti).
	TrimStripParenAndSuffix
)

// PromptStep is one (pattern, response) pair used to drive an interactive
// sub-prompt during a mode transition (a password prompt, a [Y/N] confirmation).
type PromptStep struct {
	Pattern  string
	Response string
	// UsePassword substitutes the session's password for Response when the
	// step fires.
	UsePassword bool
}

// ModeDescriptor is an immutable description of one named terminal mode.
type ModeDescriptor struct {
	Name           string
	EnterCmd       string
	ExitCmd        string
	CheckSubstring string
	// Parent names the mode that must be active before this one can be
	// entered; empty means no other mode has to be entered first.
	Parent string
	// EnterSteps drives any interactive prompts produced by EnterCmd.
	EnterSteps []PromptStep
	// ExitSteps drives any interactive prompts produced by ExitCmd.
	ExitSteps []PromptStep
}

// PlatformProfile is an immutable, data-only description of a vendor CLI.
type PlatformProfile struct {
	Name string

	DelimiterChars     string // ordered legal trailing prompt delimiters
	LeftDelimiterChars string // ordered legal leading prompt delimiters, empty if none

	PromptPatternTemplate string
	PromptTrim            PromptTrimStrategy

	DisablePagingCmd string

	Modes []ModeDescriptor

	// PrepMode names a mode entered immediately after login, before prompt
	// resolution (JunOS drops into its shell and needs "cli" first).
	PrepMode string
	// ConfigMode names the mode SendConfigSet enters; empty means commands
	// run in the current mode.
	ConfigMode string
	// ExitConfigModeDefault controls whether SendConfigSet leaves ConfigMode
	// when the caller passes no preference (Comware stays in system view).
	ExitConfigModeDefault bool

	CommitCmd                string
	CommitCommentCmdTemplate string

	// DetectMultipleContext makes connect issue "show mode" and record
	// whether the firewall runs multiple contexts (Cisco ASA).
	DetectMultipleContext bool

	// AnsiStrip indicates the platform's output may contain ANSI CSI
	// sequences that should be removed before returning command output.
	AnsiStrip bool
	// CollapseBlankLines additionally folds "\n\n" to "\n" after line-feed
	// normalisation (Fujitsu).
	CollapseBlankLines bool
}

// ModeIndex returns the index of the named mode in p.Modes, or -1.
func (p *PlatformProfile) ModeIndex(name string) int {
	for i := range p.Modes {
		if p.Modes[i].Name == name {
			return i
		}
	}
	return -1
}

// delimiterPattern returns the escaped, pipe-joined alternation of s's runes,
// in order, for substitution into a prompt pattern template.
func delimiterPattern(s string) string {
	parts := make([]string, 0, len(s))
	for _, r := range s {
		if r == ' ' {
			continue
		}
		parts = append(parts, regexp.QuoteMeta(string(r)))
	}
	return strings.Join(parts, "|")
}

// buildPattern substitutes {prompt}, {delimiters}, {delimiterLeft} and
// {delimiterRight} holes in the profile's template.
func (p *PlatformProfile) buildPattern(escapedPrompt string) string {
	out := p.PromptPatternTemplate
	out = strings.ReplaceAll(out, "{prompt}", escapedPrompt)
	out = strings.ReplaceAll(out, "{delimiters}", delimiterPattern(p.DelimiterChars))
	out = strings.ReplaceAll(out, "{delimiterLeft}", delimiterPattern(p.LeftDelimiterChars))
	out = strings.ReplaceAll(out, "{delimiterRight}", delimiterPattern(p.DelimiterChars))
	return out
}

// trimPrompt derives basePrompt from a raw, trimmed prompt line per the
// profile's PromptTrimStrategy.
func (p *PlatformProfile) trimPrompt(raw string) string {
	switch p.PromptTrim {
	case TrimStripParenTrailing:
		seg := strings.SplitN(raw, ")", 2)[0]
		return strings.TrimPrefix(seg, "(")
	case TrimSplitAtCommercialAt:
		trimmed := strings.TrimSuffix(raw, lastRune(raw))
		if idx := strings.Index(trimmed, "@"); idx >= 0 {
			return trimmed[idx+1:]
		}
		return trimmed
	case TrimStripAngleBracket:
		if len(raw) < 2 {
			return ""
		}
		r := []rune(raw)
		return string(r[1 : len(r)-1])
	case TrimStripParenAndSuffix:
		r := []rune(strings.TrimPrefix(raw, "("))
		if len(r) < 3 {
			return ""
		}
		return string(r[:len(r)-3])
	default: // TrimStripLast
		return strings.TrimSuffix(raw, lastRune(raw))
	}
}

func lastRune(s string) string {
	if s == "" {
		return ""
	}
	r := []rune(s)
	return string(r[len(r)-1])
}

var registry = buildRegistry()

func buildRegistry() map[string]*PlatformProfile {
	genericIOSModes := []ModeDescriptor{
		{Name: "enable", EnterCmd: "enable", ExitCmd: "disable", CheckSubstring: "#"},
		{Name: "configure", EnterCmd: "configure terminal", ExitCmd: "end", CheckSubstring: "(config", Parent: "enable"},
	}

	iosXRModes := []ModeDescriptor{
		{Name: "enable", EnterCmd: "enable", ExitCmd: "disable", CheckSubstring: "#"},
		{
			Name: "configure", EnterCmd: "configure terminal", ExitCmd: "end", CheckSubstring: "(config", Parent: "enable",
			ExitSteps: []PromptStep{{Pattern: "Uncommitted changes found", Response: "no"}},
		},
	}

	arubaModes := []ModeDescriptor{
		{Name: "enable", EnterCmd: "enable", ExitCmd: "disable", CheckSubstring: "#"},
		{Name: "configure", EnterCmd: "configure terminal", ExitCmd: "end", CheckSubstring: "] (config", Parent: "enable"},
	}

	comwareModes := []ModeDescriptor{
		{Name: "system_view", EnterCmd: "system-view", ExitCmd: "return", CheckSubstring: "]"},
	}

	junosModes := []ModeDescriptor{
		{Name: "cli", EnterCmd: "cli", ExitCmd: "", CheckSubstring: ">"},
		{Name: "configure", EnterCmd: "configure", ExitCmd: "exit configuration-mode", CheckSubstring: "#", Parent: "cli"},
	}

	comwareLimitedModes := []ModeDescriptor{
		{Name: "system_view", EnterCmd: "system-view", ExitCmd: "return", CheckSubstring: "]"},
		{
			Name: "cmdline", EnterCmd: "cmdline-mode on",
			EnterSteps: []PromptStep{
				{Pattern: `\[Y/N\]`, Response: "Y"},
				{Pattern: `(?i)password:`, UsePassword: true},
			},
		},
	}

	genericIOSLike := PlatformProfile{
		DelimiterChars:        "> #",
		PromptPatternTemplate: `{prompt}.*?(\(.*?\))?[{delimiters}]`,
		PromptTrim:            TrimStripLast,
		DisablePagingCmd:      "terminal length 0",
		Modes:                 genericIOSModes,
		ConfigMode:            "configure",
		ExitConfigModeDefault: true,
	}

	reg := map[string]*PlatformProfile{}

	add := func(key string, p PlatformProfile) {
		p.Name = key
		reg[key] = &p
	}

	add("arista_eos", genericIOSLike)
	add("cisco_ios", genericIOSLike)
	add("cisco_ios_xe", genericIOSLike)
	add("cisco_nxos", genericIOSLike)

	ciscoXR := genericIOSLike
	ciscoXR.Modes = iosXRModes
	add("cisco_ios_xr", ciscoXR)

	asa := genericIOSLike
	asa.DisablePagingCmd = "terminal pager 0"
	asa.DetectMultipleContext = true
	add("cisco_asa", asa)

	arubaAOS8 := PlatformProfile{
		DelimiterChars:        "> #",
		PromptPatternTemplate: `\({prompt}.*?\) [*^]?\[.*?\] (\(.*?\))?\s?[{delimiters}]`,
		PromptTrim:            TrimStripParenTrailing,
		DisablePagingCmd:      "no paging",
		Modes:                 arubaModes,
		ConfigMode:            "configure",
		ExitConfigModeDefault: true,
	}
	add("aruba_aos_8", arubaAOS8)

	arubaAOS6 := genericIOSLike
	arubaAOS6.DisablePagingCmd = "no paging"
	add("aruba_aos_6", arubaAOS6)

	fujitsu := PlatformProfile{
		DelimiterChars:        "> #",
		PromptPatternTemplate: `\({prompt}.*?\) (\(.*?\))?[{delimiters}]`,
		PromptTrim:            TrimStripParenAndSuffix,
		DisablePagingCmd:      "no pager",
		Modes:                 genericIOSModes,
		ConfigMode:            "configure",
		ExitConfigModeDefault: true,
		CollapseBlankLines:    true,
	}
	add("fujitsu_switch", fujitsu)

	ubiquiti := fujitsu
	ubiquiti.DisablePagingCmd = ""
	ubiquiti.CollapseBlankLines = false
	add("ubiquity_edge", ubiquiti)

	comware := PlatformProfile{
		DelimiterChars:        "> ]",
		LeftDelimiterChars:    "< [",
		PromptPatternTemplate: `[{delimiterLeft}]{prompt}[-\w]*[{delimiterRight}]`,
		PromptTrim:            TrimStripAngleBracket,
		DisablePagingCmd:      "screen-length disable",
		Modes:                 comwareModes,
		ConfigMode:            "system_view",
	}
	add("hp_comware", comware)

	comwareLimited := comware
	comwareLimited.DisablePagingCmd = ""
	comwareLimited.Modes = comwareLimitedModes
	add("hp_comware_limited", comwareLimited)

	junos := PlatformProfile{
		DelimiterChars:           "% > #",
		PromptPatternTemplate:    `\w+(@[-\w]*)?[{delimiters}]`,
		PromptTrim:               TrimSplitAtCommercialAt,
		DisablePagingCmd:         "set cli screen-length 0",
		Modes:                    junosModes,
		PrepMode:                 "cli",
		ConfigMode:               "configure",
		ExitConfigModeDefault:    true,
		CommitCmd:                "commit",
		CommitCommentCmdTemplate: `commit comment "%s"`,
	}
	add("juniper_junos", junos)

	mikrotik := PlatformProfile{
		DelimiterChars:        "> #",
		PromptPatternTemplate: `{prompt}.*?(\(.*?\))?[{delimiters}]`,
		PromptTrim:            TrimStripLast,
	}
	add("mikrotik_routeros", mikrotik)

	add("terminal", PlatformProfile{
		DelimiterChars:        "$ #",
		PromptPatternTemplate: `[{delimiters}]`,
		PromptTrim:            TrimStripLast,
	})

	return reg
}

func platformKeys() []string {
	keys := make([]string, 0, len(registry))
	for k := range registry {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// lookupProfile returns the registered profile for deviceType, or a usage
// error naming all supported keys.
func lookupProfile(deviceType string) (*PlatformProfile, error) {
	if p, ok := registry[deviceType]; ok {
		return p, nil
	}
	return nil, newError("", KindUsage, fmt.Sprintf(
		"unsupported device_type %q: currently supported platforms are: %s",
		deviceType, strings.Join(platformKeys(), ", ")), nil)
}
