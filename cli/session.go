package cli

import (
	"context"
	"fmt"
	"io"
	"net"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// Session is an interactive command session with a network device. A Session
// is not safe for concurrent use; run one Session per device and drive each
// from its own goroutine.
type Session interface {
	// SendCommand writes a single command line and returns its output, read
	// up to the next prompt and post-processed per the SendOption values.
	SendCommand(ctx context.Context, cmd string, opts ...SendOption) (string, error)
	// SendCommandParsed runs SendCommand and hands the output to the
	// configured Parser. Raw text is returned when no parser is installed or
	// no template exists for the command.
	SendCommandParsed(ctx context.Context, cmd string, opts ...SendOption) (interface{}, error)
	// SendConfigSet enters the platform's configuration mode, applies the
	// commands in order, commits where the platform requires it, and returns
	// the concatenated output.
	SendConfigSet(ctx context.Context, commands []string, opts ...ConfigOption) (string, error)
	// EnterMode and ExitMode drive the platform's terminal mode stack
	// directly.
	EnterMode(ctx context.Context, name string) error
	ExitMode(ctx context.Context, name string) error
	// BasePrompt returns the prompt anchor discovered at connect time.
	BasePrompt() string
	// ID returns a correlation id unique to this session, usable to line up
	// trace events across a fleet of concurrent sessions.
	ID() string
	// Metadata returns platform facts recorded during connect, such as
	// "multiple_mode" on Cisco ASA.
	Metadata() map[string]string
	io.Closer
}

// SendOption implements options for configuring SendCommand behaviour.
type SendOption func(*sendConfig)

// ExpectPattern adds a pattern the response may end with, ahead of the
// device prompt. Used for commands that raise an interactive sub-prompt.
func ExpectPattern(pattern string) SendOption {
	return func(c *sendConfig) { c.pattern = pattern }
}

// MatchCaseInsensitive makes the ExpectPattern match regardless of case.
func MatchCaseInsensitive() SendOption {
	return func(c *sendConfig) { c.caseInsensitive = true }
}

// KeepCommand retains the echoed command at the head of the output.
func KeepCommand() SendOption {
	return func(c *sendConfig) { c.stripCommand = false }
}

// KeepPrompt retains the trailing prompt line in the output.
func KeepPrompt() SendOption {
	return func(c *sendConfig) { c.stripPrompt = false }
}

// ReadFor overrides the session read timeout for this command only, for
// commands known to run long.
func ReadFor(d time.Duration) SendOption {
	return func(c *sendConfig) { c.readFor = d }
}

type sendConfig struct {
	pattern         string
	caseInsensitive bool
	stripCommand    bool
	stripPrompt     bool
	readFor         time.Duration
}

func newSendConfig(opts []SendOption) sendConfig {
	c := sendConfig{stripCommand: true, stripPrompt: true}
	for _, opt := range opts {
		opt(&c)
	}
	return c
}

// ConfigOption implements options for configuring SendConfigSet behaviour.
// Options that do not apply to the session's platform are ignored.
type ConfigOption func(*configConfig)

// WithCommit attaches a comment to the commit issued after the commands.
func WithCommit(comment string) ConfigOption {
	return func(c *configConfig) {
		c.commit = true
		c.commitComment = comment
	}
}

// WithoutCommit suppresses the commit on platforms that would otherwise
// commit automatically.
func WithoutCommit() ConfigOption {
	return func(c *configConfig) { c.commit = false }
}

// WithExitConfigMode controls whether the configuration mode is left after
// the commands have been applied.
func WithExitConfigMode(exit bool) ConfigOption {
	return func(c *configConfig) { c.exitMode = &exit }
}

// WithExitSystemView is the Comware spelling of WithExitConfigMode.
func WithExitSystemView(exit bool) ConfigOption {
	return WithExitConfigMode(exit)
}

type configConfig struct {
	commit        bool
	commitComment string
	exitMode      *bool
}

type sessionImpl struct {
	id      string
	cfg     *SessionConfig
	profile *PlatformProfile

	transport Transport
	reader    *promptReader
	modes     *modeStack
	trace     *Trace

	basePrompt  string
	basePattern *regexp.Regexp

	metadata map[string]string

	// fatalErr latches the first unrecoverable failure; every operation but
	// Close then returns it.
	fatalErr error
	closed   bool
}

// connect opens the transport and prepares the session: preparatory mode,
// prompt resolution, paging suppression and any platform fact gathering. Any
// failure tears the transport down again.
func (s *sessionImpl) connect(ctx context.Context) (err error) {
	if err = s.transport.Connect(ctx); err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = s.transport.Close()
		}
	}()

	s.reader = newPromptReader(s.transport)

	// Some platforms land in a shell and need a mode change before the
	// working prompt exists (JunOS: "cli"). The login prompt is consumed
	// first so the reader stays in step with the command stream.
	if s.profile.PrepMode != "" {
		idx := s.profile.ModeIndex(s.profile.PrepMode)
		if idx >= 0 {
			delimRE, derr := regexp.Compile(delimiterPattern(s.profile.DelimiterChars + s.profile.LeftDelimiterChars))
			if derr != nil {
				return wrapError(s.cfg.Host, KindConnection, derr, "invalid delimiter pattern")
			}
			if _, rerr := s.reader.readUntilPattern(ctx, s.cfg.Host, []*regexp.Regexp{delimRE}, s.cfg.Timeout); rerr != nil {
				return rerr
			}
			if werr := s.writeLine(s.profile.Modes[idx].EnterCmd); werr != nil {
				return werr
			}
			s.modes.push(idx)
		}
	}

	s.basePrompt, s.basePattern, err = resolvePrompt(ctx, s.reader, s.transport, s.cfg.Host, s.profile, s.cfg.Timeout)
	if err != nil {
		return err
	}

	if s.profile.DisablePagingCmd != "" {
		if _, err = s.exchange(ctx, s.profile.DisablePagingCmd, sendConfig{}); err != nil {
			return err
		}
	}

	if s.profile.DetectMultipleContext {
		var out string
		if out, err = s.exchange(ctx, "show mode", sendConfig{}); err != nil {
			return err
		}
		s.metadata["multiple_mode"] = strconv.FormatBool(strings.Contains(out, "multiple"))
	}

	return nil
}

func (s *sessionImpl) SendCommand(ctx context.Context, cmd string, opts ...SendOption) (string, error) {
	if err := s.usable(); err != nil {
		return "", err
	}
	c := newSendConfig(opts)

	begin := time.Now()
	s.trace.CommandStart(s.cfg.Host, cmd)
	out, err := s.exchange(ctx, cmd, c)
	s.trace.CommandDone(s.cfg.Host, cmd, err, time.Since(begin))
	if err != nil {
		return "", err
	}

	if s.profile.AnsiStrip {
		out = stripANSI(out)
	}
	out = normaliseLineFeeds(out)
	if s.profile.CollapseBlankLines {
		out = collapseBlankLines(out)
	}
	if c.stripPrompt {
		out = stripPrompt(out, s.basePrompt)
	}
	if c.stripCommand {
		out = stripCommand(normalizeCmd(cmd), out)
	}
	return out, nil
}

func (s *sessionImpl) SendCommandParsed(ctx context.Context, cmd string, opts ...SendOption) (interface{}, error) {
	out, err := s.SendCommand(ctx, cmd, opts...)
	if err != nil || s.cfg.Parser == nil {
		return out, err
	}
	result, ok, perr := s.cfg.Parser.Parse(s.profile.Name, cmd, out)
	if perr != nil {
		return nil, wrapError(s.cfg.Host, KindUsage, perr, "structured parsing failed")
	}
	if !ok {
		return out, nil
	}
	return result, nil
}

func (s *sessionImpl) SendConfigSet(ctx context.Context, commands []string, opts ...ConfigOption) (string, error) {
	if commands == nil {
		return "", nil
	}
	if err := s.usable(); err != nil {
		return "", err
	}

	cc := configConfig{commit: s.profile.CommitCmd != ""}
	for _, opt := range opts {
		opt(&cc)
	}

	configModeIdx := -1
	if s.profile.ConfigMode != "" {
		configModeIdx = s.profile.ModeIndex(s.profile.ConfigMode)
		if err := s.enterMode(ctx, configModeIdx); err != nil {
			return "", err
		}
	}

	var sb strings.Builder
	for _, cmd := range commands {
		out, err := s.SendCommand(ctx, cmd, KeepCommand(), KeepPrompt())
		if err != nil {
			return normaliseLineFeeds(sb.String()), err
		}
		sb.WriteString(out)
	}

	if cc.commit && s.profile.CommitCmd != "" {
		out, err := s.commit(ctx, cc.commitComment)
		sb.WriteString(out)
		if err != nil {
			return normaliseLineFeeds(sb.String()), err
		}
	}

	exit := s.profile.ExitConfigModeDefault
	if cc.exitMode != nil {
		exit = *cc.exitMode
	}
	if exit && configModeIdx >= 0 {
		if err := s.exitMode(ctx, configModeIdx); err != nil {
			return normaliseLineFeeds(sb.String()), err
		}
	}

	return normaliseLineFeeds(sb.String()), nil
}

// commit issues the platform's commit command and inspects the response for
// a rejection.
func (s *sessionImpl) commit(ctx context.Context, comment string) (string, error) {
	cmd := s.profile.CommitCmd
	if comment != "" && s.profile.CommitCommentCmdTemplate != "" {
		cmd = fmt.Sprintf(s.profile.CommitCommentCmdTemplate, comment)
	}
	out, err := s.SendCommand(ctx, cmd, KeepCommand(), KeepPrompt())
	if err != nil {
		return out, err
	}
	lowered := strings.ToLower(out)
	if strings.Contains(lowered, "error:") || strings.Contains(lowered, "failed") {
		return out, newError(s.cfg.Host, KindCommit, "commit rejected by device", nil)
	}
	return out, nil
}

func (s *sessionImpl) BasePrompt() string { return s.basePrompt }

func (s *sessionImpl) ID() string { return s.id }

func (s *sessionImpl) Metadata() map[string]string { return s.metadata }

// Close closes the transport. Closing an already closed or dead session is a
// no-op; any transport error is reported to the trace and swallowed.
func (s *sessionImpl) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	err := s.transport.Close()
	s.trace.Disconnect(s.cfg.Host, err)
	return nil
}

// exchange writes one normalised command line and reads the response up to
// the base prompt (or the caller's extra pattern). Read failures poison the
// session.
func (s *sessionImpl) exchange(ctx context.Context, cmd string, c sendConfig) (string, error) {
	timeout := s.cfg.Timeout
	if c.readFor > 0 {
		timeout = c.readFor
	}

	if err := s.writeLine(cmd); err != nil {
		return "", err
	}

	var out string
	var err error
	if c.pattern != "" {
		pattern := c.pattern
		if c.caseInsensitive {
			pattern = "(?i)" + pattern
		}
		re, cerr := regexp.Compile(pattern)
		if cerr != nil {
			return "", newError(s.cfg.Host, KindUsage, "invalid expect pattern", cerr)
		}
		out, err = s.reader.readUntilPromptOrPattern(ctx, s.cfg.Host, s.basePattern, []*regexp.Regexp{re}, timeout)
	} else {
		out, err = s.reader.readUntilPrompt(ctx, s.cfg.Host, s.basePattern, timeout)
	}
	if err != nil {
		s.poison(err)
		return "", err
	}
	return out, nil
}

// writeLine writes line followed by exactly one newline.
func (s *sessionImpl) writeLine(line string) error {
	if _, err := s.transport.Write([]byte(normalizeCmd(line))); err != nil {
		werr := wrapError(s.cfg.Host, KindConnection, err, "failed to send command")
		s.fatalErr = werr
		return werr
	}
	return nil
}

// usable guards every operation against a closed or poisoned session.
func (s *sessionImpl) usable() error {
	if s.closed {
		return newError(s.cfg.Host, KindConnection, "session is closed", nil)
	}
	return s.fatalErr
}

// poison latches unrecoverable failures. Timeouts leave the read buffer in
// an unknown state and transport failures cannot heal, so every later
// operation short-circuits with the stored error. A read cut short by the
// caller cancelling its context also closes the transport.
func (s *sessionImpl) poison(err error) {
	if errors.Is(err, context.Canceled) {
		_ = s.transport.Close()
	}
	switch kindOf(err) {
	case KindTimeout, KindConnection:
		if s.fatalErr == nil {
			s.fatalErr = err
		}
	}
}

// dialThrough opens a tcp connection to addr through this session's SSH
// client, for sessions used as a tunnel.
func (s *sessionImpl) dialThrough(addr string) (net.Conn, error) {
	t, ok := s.transport.(*sshTransport)
	if !ok || t.client == nil {
		return nil, errors.New("tunnel session has no live ssh connection")
	}
	return t.client.Dial("tcp", addr)
}

// normalizeCmd strips trailing newlines and appends exactly one.
func normalizeCmd(cmd string) string {
	return strings.TrimRight(cmd, "\n") + "\n"
}

func newSessionID() string {
	return uuid.New().String()
}
