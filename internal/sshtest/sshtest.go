// Package sshtest provides an in-process SSH server that impersonates a
// network device CLI for tests: it presents a banner and prompt, echoes
// commands, and answers them from a script.
package sshtest

import (
	"bufio"
	"crypto/ed25519"
	"crypto/rand"
	"fmt"
	"net"
	"strings"
	"sync"

	assert "github.com/stretchr/testify/require"
	"golang.org/x/crypto/ssh"
)

const (
	// TestUserName and TestPassword are the credentials the server accepts.
	TestUserName = "TestUser"
	TestPassword = "TestPassword"
)

// Server is a test SSH server hosting a device shell.
type Server struct {
	listener net.Listener
}

// Handler handles i/o to/from an SSH channel.
type Handler interface {
	Handle(t assert.TestingT, ch ssh.Channel)
}

// HandlerFactory delivers a Handler per connection.
type HandlerFactory func(t assert.TestingT) Handler

// NewServer delivers a new test SSH server with password authentication and
// a custom channel handler.
func NewServer(t assert.TestingT, factory HandlerFactory, opts ...ServerOption) *Server {
	options := &serverOptions{requestTypes: []string{"pty-req", "shell"}}
	for _, opt := range opts {
		opt(options)
	}

	listener, err := net.Listen("tcp", "localhost:0")
	assert.NoError(t, err, "Listen failed")

	ts := &Server{listener: listener}
	go ts.serve(t, newServerConfig(t), factory, options.requestTypes)
	return ts
}

// ServerOption implements options for configuring test server behaviour.
type ServerOption func(*serverOptions)

type serverOptions struct {
	requestTypes []string
}

// RequestTypes defines the channel request types that will be accepted.
// Defaults to {"pty-req", "shell"}.
func RequestTypes(types []string) ServerOption {
	return func(c *serverOptions) {
		c.requestTypes = types
	}
}

// Port delivers the tcp port number on which the server is listening.
func (ts *Server) Port() int {
	return ts.listener.Addr().(*net.TCPAddr).Port
}

// Close closes any resources used by the server.
func (ts *Server) Close() {
	_ = ts.listener.Close()
}

// serve accepts connections until the listener closes, handshaking and
// servicing each one on its own goroutine so a lingering session never
// blocks the next test connection.
func (ts *Server) serve(t assert.TestingT, config *ssh.ServerConfig, factory HandlerFactory, allowed []string) {
	for {
		tcpConn, err := ts.listener.Accept()
		if err != nil {
			return
		}
		go serveConn(t, tcpConn, config, factory, allowed)
	}
}

func serveConn(t assert.TestingT, tcpConn net.Conn, config *ssh.ServerConfig, factory HandlerFactory, allowed []string) {
	_, channels, globalRequests, err := ssh.NewServerConn(tcpConn, config)
	if err != nil {
		// Handshake failures are legitimate test outcomes (bad password).
		return
	}
	go ssh.DiscardRequests(globalRequests)

	for newChannel := range channels {
		ch, channelRequests, aerr := newChannel.Accept()
		if aerr != nil {
			t.Errorf("accepting channel: %v", aerr)
			continue
		}
		go replyToRequests(channelRequests, allowed)
		go func(ch ssh.Channel) {
			defer ch.Close()
			factory(t).Handle(t, ch)
		}(ch)
	}
}

// replyToRequests accepts channel requests of the allowed types (pty-req,
// shell, ...) and rejects the rest.
func replyToRequests(in <-chan *ssh.Request, allowed []string) {
	for req := range in {
		_ = req.Reply(requestAllowed(req.Type, allowed), nil)
	}
}

func requestAllowed(reqType string, allowed []string) bool {
	for _, ty := range allowed {
		if ty == reqType {
			return true
		}
	}
	return false
}

func newServerConfig(t assert.TestingT) *ssh.ServerConfig {
	config := &ssh.ServerConfig{
		PasswordCallback: func(meta ssh.ConnMetadata, pass []byte) (*ssh.Permissions, error) {
			if meta.User() != TestUserName || string(pass) != TestPassword {
				return nil, fmt.Errorf("unknown credentials for %q", meta.User())
			}
			return nil, nil
		},
	}

	if signer := hostKey(t); signer != nil {
		config.AddHostKey(signer)
	}
	return config
}

// hostKey generates a throwaway ed25519 host key for one server instance.
func hostKey(t assert.TestingT) ssh.Signer {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err == nil {
		var signer ssh.Signer
		if signer, err = ssh.NewSignerFromSigner(priv); err == nil {
			return signer
		}
	}
	t.Errorf("generating host key: %v", err)
	return nil
}

// VendorShell impersonates a device CLI over an SSH channel. It emits Banner
// and Prompt on start, then for each received line echoes the command,
// writes the scripted response, and emits the (possibly transitioned)
// prompt. Commands with no script entry produce only echo and prompt.
type VendorShell struct {
	// Banner is written before the first prompt, MOTD style.
	Banner string
	// Prompt is the current prompt, e.g. "Router>". Mutated by Transitions.
	Prompt string
	// Responses maps a command line to the output it produces. Line endings
	// in responses should be "\r\n" to mimic a terminal.
	Responses map[string]string
	// Transitions maps a command line to the prompt in effect afterwards,
	// e.g. "configure terminal" -> "Router(config)#".
	Transitions map[string]string
	// Silent lists commands that produce no output at all, not even a
	// prompt, to provoke client timeouts.
	Silent []string

	mu sync.Mutex
	// Lines records every command line received, for assertions.
	Lines []string
}

// ReceivedLines returns a copy of the command lines received so far.
func (v *VendorShell) ReceivedLines() []string {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make([]string, len(v.Lines))
	copy(out, v.Lines)
	return out
}

func (v *VendorShell) Handle(t assert.TestingT, ch ssh.Channel) {
	reader := bufio.NewReader(ch)
	writer := bufio.NewWriter(ch)

	if v.Banner != "" {
		_, _ = writer.WriteString(v.Banner)
	}
	_, _ = writer.WriteString(v.Prompt)
	_ = writer.Flush()

	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			return
		}
		cmd := strings.TrimRight(line, "\r\n")

		v.mu.Lock()
		v.Lines = append(v.Lines, cmd)
		v.mu.Unlock()

		if v.isSilent(cmd) {
			continue
		}

		if next, ok := v.Transitions[cmd]; ok {
			v.Prompt = next
		}

		_, _ = writer.WriteString(cmd + "\r\n")
		if response, ok := v.Responses[cmd]; ok {
			_, _ = writer.WriteString(response)
		}
		_, _ = writer.WriteString(v.Prompt)
		_ = writer.Flush()
	}
}

func (v *VendorShell) isSilent(cmd string) bool {
	for _, s := range v.Silent {
		if s == cmd {
			return true
		}
	}
	return false
}
