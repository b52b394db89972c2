package cli

import (
	"regexp"
	"testing"

	assert "github.com/stretchr/testify/require"
)

func TestRegistryClosedSet(t *testing.T) {
	expected := []string{
		"arista_eos", "aruba_aos_6", "aruba_aos_8", "cisco_asa", "cisco_ios",
		"cisco_ios_xe", "cisco_ios_xr", "cisco_nxos", "fujitsu_switch",
		"hp_comware", "hp_comware_limited", "juniper_junos",
		"mikrotik_routeros", "terminal", "ubiquity_edge",
	}
	assert.Equal(t, expected, Platforms())
}

func TestLookupUnknownPlatform(t *testing.T) {
	_, err := lookupProfile("cisco_ios99")
	assert.Error(t, err)
	assert.True(t, IsUsage(err))
	// The error names every supported key.
	for _, key := range Platforms() {
		assert.Contains(t, err.Error(), key)
	}
}

func TestCiscoIOSXEAlias(t *testing.T) {
	xe, err := lookupProfile("cisco_ios_xe")
	assert.NoError(t, err)
	ios, err := lookupProfile("cisco_ios")
	assert.NoError(t, err)

	assert.Equal(t, ios.PromptPatternTemplate, xe.PromptPatternTemplate)
	assert.Equal(t, ios.DisablePagingCmd, xe.DisablePagingCmd)
	assert.Equal(t, ios.Modes, xe.Modes)
}

func TestTrimStrategies(t *testing.T) {
	tests := []struct {
		name     string
		strategy PromptTrimStrategy
		raw      string
		want     string
	}{
		{"cisco", TrimStripLast, "Router#", "Router"},
		{"aruba8", TrimStripParenTrailing, "(wlc-1) [mynode] #", "wlc-1"},
		{"junos", TrimSplitAtCommercialAt, "admin@junos%", "junos"},
		{"junos no at", TrimSplitAtCommercialAt, "junos%", "junos"},
		{"comware angle", TrimStripAngleBracket, "<HP>", "HP"},
		{"comware square", TrimStripAngleBracket, "[HP]", "HP"},
		{"fujitsu", TrimStripParenAndSuffix, "(switch-a) #", "switch-a"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := PlatformProfile{PromptTrim: tt.strategy}
			assert.Equal(t, tt.want, p.trimPrompt(tt.raw))
		})
	}
}

func TestBuildPatternLongHostname(t *testing.T) {
	profile, err := lookupProfile("cisco_ios")
	assert.NoError(t, err)

	// Hostnames are truncated to 12 runes before escaping so that devices
	// which wrap or colour long prompts still match.
	escaped := regexp.QuoteMeta(truncateRunes("VeryLongHostnameXY", 12))
	pattern, cerr := regexp.Compile(profile.buildPattern(escaped))
	assert.NoError(t, cerr)

	assert.True(t, pattern.MatchString("VeryLongHostnameXY#"))
	assert.True(t, pattern.MatchString("VeryLongHostnameXY(config)#"))
	assert.True(t, pattern.MatchString("VeryLongHostnameXY>"))
	assert.False(t, pattern.MatchString("OtherHost#"))
}

func TestBuildPatternComware(t *testing.T) {
	profile, err := lookupProfile("hp_comware")
	assert.NoError(t, err)

	pattern, cerr := regexp.Compile(profile.buildPattern(regexp.QuoteMeta("HP")))
	assert.NoError(t, cerr)

	assert.True(t, pattern.MatchString("<HP>"))
	assert.True(t, pattern.MatchString("[HP]"))
	assert.True(t, pattern.MatchString("[HP-vlan10]"))
	assert.False(t, pattern.MatchString("HP>"))
}

func TestBuildPatternArubaAOS8(t *testing.T) {
	profile, err := lookupProfile("aruba_aos_8")
	assert.NoError(t, err)

	pattern, cerr := regexp.Compile(profile.buildPattern(regexp.QuoteMeta("wlc-1")))
	assert.NoError(t, cerr)

	assert.True(t, pattern.MatchString("(wlc-1) [mynode] #"))
	assert.True(t, pattern.MatchString("(wlc-1) *[mynode] (config) #"))
}

func TestDelimiterPattern(t *testing.T) {
	assert.Equal(t, `>|#`, delimiterPattern("> #"))
	assert.Equal(t, `\$|#`, delimiterPattern("$ #"))
	assert.Equal(t, `<|\[`, delimiterPattern("< ["))
}

func TestModeParentWiring(t *testing.T) {
	for _, key := range Platforms() {
		profile, err := lookupProfile(key)
		assert.NoError(t, err)
		for _, md := range profile.Modes {
			if md.Parent != "" {
				assert.GreaterOrEqual(t, profile.ModeIndex(md.Parent), 0,
					"profile %s mode %s has unknown parent %s", key, md.Name, md.Parent)
			}
		}
		if profile.ConfigMode != "" {
			assert.GreaterOrEqual(t, profile.ModeIndex(profile.ConfigMode), 0,
				"profile %s names unknown config mode", key)
		}
		if profile.PrepMode != "" {
			assert.GreaterOrEqual(t, profile.ModeIndex(profile.PrepMode), 0,
				"profile %s names unknown prep mode", key)
		}
	}
}
