package cli

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/imdario/mergo"
)

// Create opens a Session to a device of the given type. deviceType selects
// the platform profile (see Platforms); the connection itself is configured
// through SessionOption values. The returned Session is connected, has its
// prompt resolved and paging suppressed, and is ready for SendCommand.
func Create(ctx context.Context, deviceType string, opts ...SessionOption) (Session, error) {
	profile, err := lookupProfile(deviceType)
	if err != nil {
		return nil, err
	}

	// Use supplied options, but apply defaults to unspecified values.
	cfg := SessionConfig{}
	for _, opt := range opts {
		opt(&cfg)
	}
	_ = mergo.Merge(&cfg, DefaultConfig)

	if cfg.Host == "" {
		return nil, newError("", KindUsage, "host must be set", nil)
	}
	switch cfg.Protocol {
	case ProtocolSSH, ProtocolTelnet:
	default:
		return nil, newError(cfg.Host, KindUsage,
			fmt.Sprintf("unknown protocol %q, only telnet and ssh supported", cfg.Protocol), nil)
	}
	if cfg.Port == 0 {
		if cfg.Protocol == ProtocolTelnet {
			cfg.Port = 23
		} else {
			cfg.Port = 22
		}
	}

	if cfg.Pattern != "" {
		p := *profile
		p.PromptPatternTemplate = cfg.Pattern
		profile = &p
	}

	s := &sessionImpl{
		id:       newSessionID(),
		cfg:      &cfg,
		profile:  profile,
		modes:    newModeStack(profile),
		metadata: map[string]string{},
		trace:    ContextTrace(ctx),
	}

	switch cfg.Protocol {
	case ProtocolTelnet:
		hint, herr := regexp.Compile(delimiterPattern(profile.DelimiterChars))
		if herr != nil {
			return nil, newError(cfg.Host, KindUsage, "invalid delimiter set", herr)
		}
		s.transport = newTelnetTransport(&cfg, hint)
	default:
		s.transport = newSSHTransport(&cfg)
	}

	s.trace.ConnectStart(cfg.Host)
	begin := time.Now()
	err = s.connect(ctx)
	s.trace.ConnectDone(cfg.Host, err, time.Since(begin))
	if err != nil {
		return nil, err
	}
	return s, nil
}

// Platforms returns the closed set of supported device type keys, sorted.
func Platforms() []string {
	return platformKeys()
}
