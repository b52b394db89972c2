package cli

import (
	"context"
	"regexp"
	"strings"
)

// modeStack tracks the terminal modes currently active on a session, bottom
// up, in the order they were entered. A mode entered through its Parent sits
// directly above it; the top of the stack is the mode the device is in right
// now.
type modeStack struct {
	profile *PlatformProfile
	stack   []int
}

func newModeStack(p *PlatformProfile) *modeStack {
	return &modeStack{profile: p}
}

// current returns the index of the active mode, or -1 when the session sits
// at the device's login terminal.
func (m *modeStack) current() int {
	if len(m.stack) == 0 {
		return -1
	}
	return m.stack[len(m.stack)-1]
}

func (m *modeStack) push(idx int) {
	m.stack = append(m.stack, idx)
}

func (m *modeStack) pop() {
	if len(m.stack) > 0 {
		m.stack = m.stack[:len(m.stack)-1]
	}
}

// EnterMode transitions the session into the named terminal mode, entering
// any parent modes first. Entry is idempotent.
func (s *sessionImpl) EnterMode(ctx context.Context, name string) error {
	if err := s.usable(); err != nil {
		return err
	}
	idx := s.profile.ModeIndex(name)
	if idx < 0 {
		return newError(s.cfg.Host, KindUsage, "unknown mode "+name, nil)
	}
	return s.enterMode(ctx, idx)
}

// ExitMode leaves the named terminal mode. Exiting a mode the session is not
// in is a no-op.
func (s *sessionImpl) ExitMode(ctx context.Context, name string) error {
	if err := s.usable(); err != nil {
		return err
	}
	idx := s.profile.ModeIndex(name)
	if idx < 0 {
		return newError(s.cfg.Host, KindUsage, "unknown mode "+name, nil)
	}
	return s.exitMode(ctx, idx)
}

// checkMode reports whether the device is in the given mode. Without force,
// a stack hit answers immediately; otherwise a bare newline is sent and the
// captured prompt inspected for the mode's check substring. A mode without a
// check substring is answered from the stack alone, with nothing sent.
func (s *sessionImpl) checkMode(ctx context.Context, idx int, force bool) (bool, error) {
	if !force && s.modes.current() == idx {
		return true, nil
	}
	md := &s.profile.Modes[idx]
	if md.CheckSubstring == "" {
		return s.modes.current() == idx, nil
	}
	out, err := s.probe(ctx)
	if err != nil {
		return false, err
	}
	return strings.Contains(out, md.CheckSubstring), nil
}

func (s *sessionImpl) enterMode(ctx context.Context, idx int) error {
	md := &s.profile.Modes[idx]

	in, err := s.checkMode(ctx, idx, false)
	if err != nil {
		return err
	}
	if in {
		if s.modes.current() != idx {
			s.modes.push(idx)
		}
		return nil
	}

	if md.Parent != "" {
		pidx := s.profile.ModeIndex(md.Parent)
		if pidx >= 0 && s.modes.current() != pidx {
			if err = s.enterMode(ctx, pidx); err != nil {
				return err
			}
		}
	}

	_, err = s.driveSteps(ctx, md.EnterCmd, md.EnterSteps)
	if err == nil && md.CheckSubstring != "" {
		var ok bool
		ok, err = s.checkMode(ctx, idx, true)
		if err == nil && !ok {
			err = newError(s.cfg.Host, KindConnection, "failed to enter mode "+md.Name, nil)
		}
	}
	s.trace.ModeEnter(s.cfg.Host, md.Name, err)
	if err != nil {
		return err
	}
	s.modes.push(idx)
	return nil
}

func (s *sessionImpl) exitMode(ctx context.Context, idx int) error {
	md := &s.profile.Modes[idx]

	in, err := s.checkMode(ctx, idx, false)
	if err != nil {
		return err
	}
	if !in {
		return nil
	}
	if md.ExitCmd == "" {
		if s.modes.current() == idx {
			s.modes.pop()
		}
		return nil
	}

	_, err = s.driveSteps(ctx, md.ExitCmd, md.ExitSteps)
	if err == nil && md.CheckSubstring != "" {
		var still bool
		still, err = s.checkMode(ctx, idx, true)
		if err == nil && still {
			err = newError(s.cfg.Host, KindConnection, "failed to exit mode "+md.Name, nil)
		}
	}
	s.trace.ModeExit(s.cfg.Host, md.Name, err)
	if err != nil {
		return err
	}
	if s.modes.current() == idx {
		s.modes.pop()
	}
	return nil
}

// driveSteps writes cmd and drives any interactive sub-prompts it produces,
// answering each (pattern, response) step in order until the base prompt
// returns. One code path serves every vendor's confirmation and password
// dialogues.
func (s *sessionImpl) driveSteps(ctx context.Context, cmd string, steps []PromptStep) (string, error) {
	pending := make([]*regexp.Regexp, len(steps))
	for i, step := range steps {
		re, err := regexp.Compile(step.Pattern)
		if err != nil {
			return "", newError(s.cfg.Host, KindUsage, "invalid step pattern "+step.Pattern, err)
		}
		pending[i] = re
	}

	if err := s.writeLine(cmd); err != nil {
		return "", err
	}

	var out strings.Builder
	for {
		chunk, err := s.reader.readUntilPromptOrPattern(ctx, s.cfg.Host, s.basePattern, pending, s.cfg.Timeout)
		if err != nil {
			s.poison(err)
			return out.String(), err
		}
		out.WriteString(chunk)

		fired := -1
		for i, re := range pending {
			if re.MatchString(chunk) {
				fired = i
				break
			}
		}
		if fired >= 0 {
			step := steps[fired]
			response := step.Response
			if step.UsePassword {
				response = s.cfg.Password
			}
			steps = steps[fired+1:]
			pending = pending[fired+1:]
			if err = s.writeLine(response); err != nil {
				return out.String(), err
			}
			continue
		}
		return out.String(), nil
	}
}

// probe sends a bare newline and captures the resulting prompt.
func (s *sessionImpl) probe(ctx context.Context) (string, error) {
	if err := s.writeLine(""); err != nil {
		return "", err
	}
	out, err := s.reader.readUntilPrompt(ctx, s.cfg.Host, s.basePattern, s.cfg.Timeout)
	if err != nil {
		s.poison(err)
	}
	return out, err
}
