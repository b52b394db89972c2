package cli

import (
	"context"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	assert "github.com/stretchr/testify/require"
)

// fakeDevice is a scripted Transport. On Connect it emits its banner and
// prompt; each written line is answered with the command echo, the scripted
// response and the current prompt, with Transitions switching the prompt the
// way mode changes do on a real device.
type fakeDevice struct {
	mu          sync.Mutex
	prompt      string
	banner      string
	responses   map[string]string
	transitions map[string]string
	silent      map[string]bool
	out         chan []byte
	closed      bool
}

func newFakeDevice(prompt string) *fakeDevice {
	return &fakeDevice{
		prompt:      prompt,
		responses:   map[string]string{},
		transitions: map[string]string{},
		silent:      map[string]bool{},
		out:         make(chan []byte, 64),
	}
}

func (d *fakeDevice) Connect(ctx context.Context) error {
	d.push(d.banner + d.prompt)
	return nil
}

func (d *fakeDevice) Write(p []byte) (int, error) {
	cmd := strings.TrimRight(string(p), "\n")
	d.mu.Lock()
	if d.silent[cmd] {
		d.mu.Unlock()
		return len(p), nil
	}
	if next, ok := d.transitions[cmd]; ok {
		d.prompt = next
	}
	reply := cmd + "\r\n" + d.responses[cmd] + d.prompt
	d.mu.Unlock()
	d.push(reply)
	return len(p), nil
}

func (d *fakeDevice) Read(p []byte) (int, error) {
	b, ok := <-d.out
	if !ok {
		return 0, io.EOF
	}
	return copy(p, b), nil
}

func (d *fakeDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.closed {
		d.closed = true
		close(d.out)
	}
	return nil
}

func (d *fakeDevice) push(s string) {
	if s == "" {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}
	d.out <- []byte(s)
}

func newFakeSession(t *testing.T, deviceType string, dev *fakeDevice) *sessionImpl {
	t.Helper()
	profile, err := lookupProfile(deviceType)
	assert.NoError(t, err)

	cfg := SessionConfig{
		Host:     "device.example.net",
		Username: "admin",
		Password: "secret",
		Protocol: ProtocolSSH,
		Port:     22,
		Timeout:  2 * time.Second,
	}
	s := &sessionImpl{
		id:        newSessionID(),
		cfg:       &cfg,
		profile:   profile,
		modes:     newModeStack(profile),
		metadata:  map[string]string{},
		trace:     ContextTrace(context.Background()),
		transport: dev,
	}
	assert.NoError(t, s.connect(context.Background()))
	return s
}

func TestSendCommandCiscoHappyPath(t *testing.T) {
	dev := newFakeDevice("Router>")
	dev.banner = "Authorized access only\r\n"
	dev.responses["show version"] = "Cisco IOS Software, Version 15.2\r\n"

	s := newFakeSession(t, "cisco_ios", dev)
	defer s.Close()

	assert.Equal(t, "Router", s.BasePrompt())

	out, err := s.SendCommand(context.Background(), "show version")
	assert.NoError(t, err)
	assert.Equal(t, "Cisco IOS Software, Version 15.2", out)
	assert.NotContains(t, out, "Router>")
}

func TestSendCommandKeepsEverythingOnRequest(t *testing.T) {
	dev := newFakeDevice("Router>")
	dev.responses["show clock"] = "10:14:22.330 UTC\r\n"

	s := newFakeSession(t, "cisco_ios", dev)
	defer s.Close()

	out, err := s.SendCommand(context.Background(), "show clock", KeepCommand(), KeepPrompt())
	assert.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "show clock\n"))
	assert.True(t, strings.HasSuffix(out, "Router>"))
}

func TestSendCommandExpectPattern(t *testing.T) {
	dev := newFakeDevice("Router#")

	s := newFakeSession(t, "cisco_ios", dev)
	defer s.Close()

	// The device answers the reload with a confirmation instead of a prompt.
	dev.responses["reload"] = "Proceed with reload? [confirm]"
	dev.mu.Lock()
	dev.prompt = ""
	dev.mu.Unlock()

	out, err := s.SendCommand(context.Background(), "reload", ExpectPattern(`\[confirm\]`), KeepPrompt())
	assert.NoError(t, err)
	assert.Contains(t, out, "[confirm]")
}

func TestSendConfigSetCisco(t *testing.T) {
	dev := newFakeDevice("Router>")
	dev.transitions["enable"] = "Router#"
	dev.transitions["configure terminal"] = "Router(config)#"
	dev.transitions["end"] = "Router#"
	dev.responses["hostname Edge"] = ""

	s := newFakeSession(t, "cisco_ios", dev)
	defer s.Close()

	out, err := s.SendConfigSet(context.Background(), []string{"hostname Edge"})
	assert.NoError(t, err)
	assert.Contains(t, out, "hostname Edge")

	// Config mode was left, enable retained.
	assert.Equal(t, s.profile.ModeIndex("enable"), s.modes.current())
}

func TestSendConfigSetJunosCommit(t *testing.T) {
	dev := newFakeDevice("admin@junos% ")
	dev.transitions["cli"] = "admin@junos> "
	dev.transitions["configure"] = "admin@junos# "
	dev.transitions["exit configuration-mode"] = "admin@junos> "
	dev.responses["commit"] = "commit complete\r\n"

	s := newFakeSession(t, "juniper_junos", dev)
	defer s.Close()

	assert.Equal(t, "junos", s.BasePrompt())

	out, err := s.SendConfigSet(context.Background(), []string{"set system host-name x"})
	assert.NoError(t, err)
	assert.Contains(t, out, "commit complete")

	// Back in cli mode after exiting configure.
	assert.Equal(t, s.profile.ModeIndex("cli"), s.modes.current())
}

func TestSendConfigSetJunosCommitComment(t *testing.T) {
	dev := newFakeDevice("admin@junos% ")
	dev.transitions["cli"] = "admin@junos> "
	dev.transitions["configure"] = "admin@junos# "
	dev.transitions["exit configuration-mode"] = "admin@junos> "
	dev.responses[`commit comment "maintenance"`] = "commit complete\r\n"

	s := newFakeSession(t, "juniper_junos", dev)
	defer s.Close()

	out, err := s.SendConfigSet(context.Background(), []string{"set system host-name x"},
		WithCommit("maintenance"))
	assert.NoError(t, err)
	assert.Contains(t, out, "commit complete")
}

func TestSendConfigSetJunosCommitError(t *testing.T) {
	dev := newFakeDevice("admin@junos% ")
	dev.transitions["cli"] = "admin@junos> "
	dev.transitions["configure"] = "admin@junos# "
	dev.responses["commit"] = "error: configuration check-out failed\r\n"

	s := newFakeSession(t, "juniper_junos", dev)
	defer s.Close()

	_, err := s.SendConfigSet(context.Background(), []string{"set bogus"})
	assert.Error(t, err)
	assert.True(t, IsCommit(err))

	// Commit errors are not fatal; the session keeps working.
	_, err = s.SendCommand(context.Background(), "show system uptime")
	assert.NoError(t, err)
}

func TestSendConfigSetComwareStaysInSystemView(t *testing.T) {
	dev := newFakeDevice("<HP>")
	dev.transitions["system-view"] = "[HP]"
	dev.transitions["return"] = "<HP>"

	s := newFakeSession(t, "hp_comware", dev)
	defer s.Close()

	assert.Equal(t, "HP", s.BasePrompt())

	_, err := s.SendConfigSet(context.Background(), []string{"vlan 10"})
	assert.NoError(t, err)

	// Comware keeps the session in system view unless told otherwise.
	assert.Equal(t, s.profile.ModeIndex("system_view"), s.modes.current())

	_, err = s.SendConfigSet(context.Background(), []string{"vlan 20"}, WithExitSystemView(true))
	assert.NoError(t, err)
	assert.Equal(t, -1, s.modes.current())
}

func TestSendConfigSetNilCommands(t *testing.T) {
	dev := newFakeDevice("Router>")

	s := newFakeSession(t, "cisco_ios", dev)
	defer s.Close()

	out, err := s.SendConfigSet(context.Background(), nil)
	assert.NoError(t, err)
	assert.Empty(t, out)
}

func TestTimeoutPoisonsSession(t *testing.T) {
	dev := newFakeDevice("Router>")
	dev.silent["show tech-support"] = true

	s := newFakeSession(t, "cisco_ios", dev)
	defer s.Close()
	s.cfg.Timeout = 100 * time.Millisecond

	_, err := s.SendCommand(context.Background(), "show tech-support")
	assert.Error(t, err)
	assert.True(t, IsTimeout(err))

	// Any further command fails with the stored error; only Close works.
	_, err = s.SendCommand(context.Background(), "show version")
	assert.Error(t, err)
	assert.True(t, IsTimeout(err))

	assert.NoError(t, s.Close())
	assert.NoError(t, s.Close())
}

func TestReadForOverridesTimeout(t *testing.T) {
	dev := newFakeDevice("Router>")
	dev.silent["ping 10.0.0.1"] = true

	s := newFakeSession(t, "cisco_ios", dev)
	defer s.Close()
	s.cfg.Timeout = time.Hour

	begin := time.Now()
	_, err := s.SendCommand(context.Background(), "ping 10.0.0.1", ReadFor(50*time.Millisecond))
	assert.True(t, IsTimeout(err))
	assert.Less(t, time.Since(begin), 5*time.Second)
}

func TestModeStackInvariants(t *testing.T) {
	dev := newFakeDevice("Router>")
	dev.transitions["enable"] = "Router#"
	dev.transitions["disable"] = "Router>"
	dev.transitions["configure terminal"] = "Router(config)#"
	dev.transitions["end"] = "Router#"

	s := newFakeSession(t, "cisco_ios", dev)
	defer s.Close()

	ctx := context.Background()
	enable := s.profile.ModeIndex("enable")
	configure := s.profile.ModeIndex("configure")

	assert.NoError(t, s.EnterMode(ctx, "enable"))
	in, err := s.checkMode(ctx, enable, true)
	assert.NoError(t, err)
	assert.True(t, in)

	// Idempotent re-entry.
	assert.NoError(t, s.EnterMode(ctx, "enable"))
	assert.Equal(t, enable, s.modes.current())

	// Entering configure from exec enters enable on the way.
	assert.NoError(t, s.ExitMode(ctx, "enable"))
	assert.Equal(t, -1, s.modes.current())
	assert.NoError(t, s.EnterMode(ctx, "configure"))
	assert.Equal(t, configure, s.modes.current())

	in, err = s.checkMode(ctx, configure, true)
	assert.NoError(t, err)
	assert.True(t, in)

	assert.NoError(t, s.ExitMode(ctx, "configure"))
	in, err = s.checkMode(ctx, configure, true)
	assert.NoError(t, err)
	assert.False(t, in)
	assert.Equal(t, enable, s.modes.current())

	assert.ErrorContains(t, s.EnterMode(ctx, "no-such-mode"), "unknown mode")
}

func TestModeEnterFailureIsConnectionError(t *testing.T) {
	dev := newFakeDevice("Router>")
	// "enable" produces no prompt change, so the post-enter check fails.

	s := newFakeSession(t, "cisco_ios", dev)
	defer s.Close()

	err := s.EnterMode(context.Background(), "enable")
	assert.Error(t, err)
	assert.True(t, IsConnection(err))
	assert.Contains(t, err.Error(), "failed to enter mode enable")
}

func TestInteractiveEnterSteps(t *testing.T) {
	dev := newFakeDevice("<HP>")
	// Interactive sub-prompts take priority over the base prompt, so the
	// fake can keep appending its prompt to every reply.
	dev.responses["cmdline-mode on"] = "This will affect the configuration, continue? [Y/N] "
	dev.responses["Y"] = "Please input password: "
	dev.responses["secret"] = "cmdline mode enabled\r\n"

	s := newFakeSession(t, "hp_comware_limited", dev)
	defer s.Close()

	err := s.EnterMode(context.Background(), "cmdline")
	assert.NoError(t, err)
	assert.Equal(t, s.profile.ModeIndex("cmdline"), s.modes.current())
}

func TestMetadataCiscoASAMultipleMode(t *testing.T) {
	dev := newFakeDevice("asa>")
	dev.responses["show mode"] = "Security context mode: multiple\r\n"

	s := newFakeSession(t, "cisco_asa", dev)
	defer s.Close()

	assert.Equal(t, "true", s.Metadata()["multiple_mode"])
}

func TestSessionIDIsStable(t *testing.T) {
	dev := newFakeDevice("Router>")
	s := newFakeSession(t, "cisco_ios", dev)
	defer s.Close()

	assert.NotEmpty(t, s.ID())
	assert.Equal(t, s.ID(), s.ID())
}

type fixedParser struct{}

func (fixedParser) Parse(deviceType, command, output string) (interface{}, bool, error) {
	if command != "show version" {
		return nil, false, nil
	}
	return []map[string]string{{"version": strings.TrimSpace(output)}}, true, nil
}

func TestSendCommandParsed(t *testing.T) {
	dev := newFakeDevice("Router>")
	dev.responses["show version"] = "15.2\r\n"
	dev.responses["show clock"] = "10:14:22\r\n"

	s := newFakeSession(t, "cisco_ios", dev)
	defer s.Close()
	s.cfg.Parser = fixedParser{}

	parsed, err := s.SendCommandParsed(context.Background(), "show version")
	assert.NoError(t, err)
	records, ok := parsed.([]map[string]string)
	assert.True(t, ok)
	assert.Equal(t, "15.2", records[0]["version"])

	// No template: raw text comes back.
	raw, err := s.SendCommandParsed(context.Background(), "show clock")
	assert.NoError(t, err)
	assert.Equal(t, "10:14:22", raw)
}
