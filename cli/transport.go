package cli

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/pkg/errors"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
	"golang.org/x/crypto/ssh/knownhosts"
)

// Transport is a duplex byte channel to a device. Read blocks until any bytes
// are available; callers bound it with a timeout. A Transport is created
// disconnected and becomes usable after Connect returns nil.
type Transport interface {
	Connect(ctx context.Context) error
	io.Reader
	io.Writer
	io.Closer
}

// sshTransport drives an interactive shell over an SSH channel.
type sshTransport struct {
	cfg  *SessionConfig
	addr string

	client      *ssh.Client
	session     *ssh.Session
	reader      io.Reader
	writeCloser io.WriteCloser
}

func newSSHTransport(cfg *SessionConfig) *sshTransport {
	return &sshTransport{cfg: cfg, addr: net.JoinHostPort(cfg.Host, fmt.Sprintf("%d", cfg.Port))}
}

func (t *sshTransport) Connect(ctx context.Context) error {
	sshCfg, err := t.clientConfig()
	if err != nil {
		return newError(t.cfg.Host, KindUsage, err.Error(), err)
	}

	t.client, err = t.dial(ctx, sshCfg)
	if err != nil {
		if strings.Contains(err.Error(), "unable to authenticate") ||
			strings.Contains(err.Error(), "no supported methods remain") {
			return wrapError(t.cfg.Host, KindAuthentication, err, "ssh authentication failed")
		}
		return wrapError(t.cfg.Host, KindConnection, err, "ssh dial failed")
	}

	t.session, err = t.client.NewSession()
	if err != nil {
		_ = t.Close()
		return wrapError(t.cfg.Host, KindConnection, err, "new ssh session failed")
	}

	if t.cfg.AgentForwarding {
		if err = t.forwardAgent(); err != nil {
			_ = t.Close()
			return wrapError(t.cfg.Host, KindConnection, err, "agent forwarding failed")
		}
	}

	if t.reader, err = t.session.StdoutPipe(); err != nil {
		_ = t.Close()
		return wrapError(t.cfg.Host, KindConnection, err, "stdout pipe failed")
	}
	if t.writeCloser, err = t.session.StdinPipe(); err != nil {
		_ = t.Close()
		return wrapError(t.cfg.Host, KindConnection, err, "stdin pipe failed")
	}

	terminalMode := ssh.TerminalModes{
		ssh.ECHO: 0,
	}
	if err = t.session.RequestPty("dumb", 80, 200, terminalMode); err != nil {
		_ = t.Close()
		return wrapError(t.cfg.Host, KindConnection, err, "request pty failed")
	}

	if err = t.session.Shell(); err != nil {
		_ = t.Close()
		return wrapError(t.cfg.Host, KindConnection, err, "login shell failed")
	}

	return nil
}

// clientConfig assembles the ssh.ClientConfig from the session options:
// password and public key auth methods, host key policy, version banner and
// algorithm preferences.
func (t *sshTransport) clientConfig() (*ssh.ClientConfig, error) {
	auth := []ssh.AuthMethod{}

	if len(t.cfg.ClientKeys) > 0 {
		signers, err := loadClientKeys(t.cfg.ClientKeys, t.cfg.Passphrase)
		if err != nil {
			return nil, err
		}
		auth = append(auth, ssh.PublicKeys(signers...))
	}

	if path := t.agentSocket(); path != "" {
		conn, err := net.Dial("unix", path)
		if err != nil {
			return nil, errors.Wrap(err, "cannot reach ssh-agent")
		}
		auth = append(auth, ssh.PublicKeysCallback(agent.NewClient(conn).Signers))
	}

	if t.cfg.Password != "" {
		auth = append(auth, ssh.Password(t.cfg.Password))
	}

	hostKeyCallback := ssh.InsecureIgnoreHostKey() //nolint: gosec
	if t.cfg.KnownHosts != "" {
		cb, err := knownhosts.New(t.cfg.KnownHosts)
		if err != nil {
			return nil, errors.Wrap(err, "invalid known_hosts file")
		}
		hostKeyCallback = cb
	}

	return &ssh.ClientConfig{
		Config: ssh.Config{
			KeyExchanges: t.cfg.KexAlgs,
			Ciphers:      t.cfg.EncryptionAlgs,
			MACs:         t.cfg.MACAlgs,
		},
		User:              t.cfg.Username,
		Auth:              auth,
		HostKeyCallback:   hostKeyCallback,
		HostKeyAlgorithms: t.cfg.SignatureAlgs,
		ClientVersion:     t.cfg.ClientVersion,
		Timeout:           t.cfg.Timeout,
	}, nil
}

// agentSocket returns the ssh-agent socket to use, if any. An explicit
// AgentPath wins; otherwise agent forwarding implies SSH_AUTH_SOCK.
func (t *sshTransport) agentSocket() string {
	if t.cfg.AgentPath != "" {
		return t.cfg.AgentPath
	}
	if t.cfg.AgentForwarding {
		return os.Getenv("SSH_AUTH_SOCK")
	}
	return ""
}

func (t *sshTransport) forwardAgent() error {
	path := t.agentSocket()
	if path == "" {
		return errors.New("no ssh-agent socket available")
	}
	conn, err := net.Dial("unix", path)
	if err != nil {
		return err
	}
	if err = agent.ForwardToAgent(t.client, agent.NewClient(conn)); err != nil {
		return err
	}
	return agent.RequestAgentForwarding(t.session)
}

// dial opens the tcp connection and runs the SSH handshake, either directly
// or through an existing tunnel session's client.
func (t *sshTransport) dial(ctx context.Context, sshCfg *ssh.ClientConfig) (*ssh.Client, error) {
	var conn net.Conn
	var err error

	if t.cfg.Tunnel != nil {
		upstream, ok := t.cfg.Tunnel.(*sessionImpl)
		if !ok {
			return nil, errors.New("tunnel session is of unknown type")
		}
		conn, err = upstream.dialThrough(t.addr)
	} else {
		dialer := net.Dialer{Timeout: t.cfg.Timeout}
		if t.cfg.LocalAddr != "" {
			dialer.LocalAddr, err = net.ResolveTCPAddr("tcp", t.cfg.LocalAddr)
			if err != nil {
				return nil, errors.Wrap(err, "invalid local address")
			}
		}
		conn, err = dialer.DialContext(ctx, tcpNetwork(t.cfg.Family), t.addr)
	}
	if err != nil {
		return nil, err
	}

	c, chans, reqs, err := ssh.NewClientConn(conn, t.addr, sshCfg)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	return ssh.NewClient(c, chans, reqs), nil
}

func (t *sshTransport) Read(p []byte) (int, error) {
	return t.reader.Read(p)
}

func (t *sshTransport) Write(p []byte) (int, error) {
	return t.writeCloser.Write(p)
}

// Close closes the stdin pipe, the SSH session and the client, in that order.
func (t *sshTransport) Close() error {
	if t.writeCloser != nil {
		_ = t.writeCloser.Close()
	}
	if t.session != nil {
		_ = t.session.Close()
	}
	if t.client != nil {
		_ = t.client.Close()
	}
	return nil
}

func loadClientKeys(paths []string, passphrase string) ([]ssh.Signer, error) {
	signers := make([]ssh.Signer, 0, len(paths))
	for _, path := range paths {
		pem, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.Wrapf(err, "cannot read client key %s", path)
		}
		var signer ssh.Signer
		if passphrase != "" {
			signer, err = ssh.ParsePrivateKeyWithPassphrase(pem, []byte(passphrase))
		} else {
			signer, err = ssh.ParsePrivateKey(pem)
		}
		if err != nil {
			return nil, errors.Wrapf(err, "cannot parse client key %s", path)
		}
		signers = append(signers, signer)
	}
	return signers, nil
}

func tcpNetwork(f Family) string {
	switch f {
	case FamilyIPv4:
		return "tcp4"
	case FamilyIPv6:
		return "tcp6"
	default:
		return "tcp"
	}
}

// Telnet IAC (Interpret As Command) constants.
const (
	telnetIAC  = 255
	telnetWILL = 251
	telnetWONT = 252
	telnetDO   = 253
	telnetDONT = 254
	telnetSB   = 250
	telnetSE   = 240
)

var (
	telnetUsernameRE = regexp.MustCompile(`(?i)username`)
	telnetPasswordRE = regexp.MustCompile(`(?i)password`)
)

// telnetTransport drives the raw tcp socket of a telnet server. Connect runs
// the login dialogue itself; afterwards Read/Write act on the logged-in
// terminal. Telnet option negotiation is refused and stripped from the stream
// so callers only ever see terminal bytes.
type telnetTransport struct {
	cfg  *SessionConfig
	addr string
	// promptHint terminates the post-login read; built from the platform's
	// delimiter characters since basePattern is not known until resolution.
	promptHint *regexp.Regexp

	conn net.Conn
	// pending holds a partial IAC sequence split across reads.
	pending []byte
}

func newTelnetTransport(cfg *SessionConfig, promptHint *regexp.Regexp) *telnetTransport {
	return &telnetTransport{
		cfg:        cfg,
		addr:       net.JoinHostPort(cfg.Host, fmt.Sprintf("%d", cfg.Port)),
		promptHint: promptHint,
	}
}

func (t *telnetTransport) Connect(ctx context.Context) error {
	dialer := net.Dialer{Timeout: t.cfg.Timeout}
	conn, err := dialer.DialContext(ctx, tcpNetwork(t.cfg.Family), t.addr)
	if err != nil {
		return wrapError(t.cfg.Host, KindConnection, err, "telnet dial failed")
	}
	t.conn = conn

	if err = t.login(ctx); err != nil {
		_ = t.conn.Close()
		return err
	}
	return nil
}

// login runs the telnet login dialogue: wait for the username prompt, send
// the username, wait for the password prompt, send the password, then read up
// to the first device prompt and reject the session if the transcript
// reports an invalid login. A trailing newline is sent so prompt resolution
// finds a fresh prompt to anchor on.
func (t *telnetTransport) login(ctx context.Context) error {
	transcript, err := t.readUntil(ctx, telnetUsernameRE)
	if err != nil {
		return err
	}
	if _, err = t.Write([]byte(t.cfg.Username + "\n")); err != nil {
		return wrapError(t.cfg.Host, KindConnection, err, "failed to send username")
	}

	chunk, err := t.readUntil(ctx, telnetPasswordRE)
	transcript += chunk
	if err != nil {
		return err
	}
	if _, err = t.Write([]byte(t.cfg.Password + "\n")); err != nil {
		return wrapError(t.cfg.Host, KindConnection, err, "failed to send password")
	}

	chunk, err = t.readUntil(ctx, t.promptHint)
	transcript += chunk
	if strings.Contains(transcript, "Login invalid") {
		return newError(t.cfg.Host, KindAuthentication, "authentication failed", nil)
	}
	if err != nil {
		return err
	}

	_, err = t.Write([]byte("\n"))
	if err != nil {
		return wrapError(t.cfg.Host, KindConnection, err, "failed to send post-login newline")
	}
	// Clear the login deadline; post-login reads are bounded by the prompt
	// reader's own timeout.
	return t.conn.SetReadDeadline(time.Time{})
}

// readUntil accumulates decoded terminal bytes until pattern matches, bounded
// by the session timeout over the whole read.
func (t *telnetTransport) readUntil(ctx context.Context, pattern *regexp.Regexp) (string, error) {
	deadline := time.Now().Add(t.cfg.Timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	var sb strings.Builder
	buf := make([]byte, 4096)
	for {
		if pattern.MatchString(sb.String()) {
			return sb.String(), nil
		}
		if err := t.conn.SetReadDeadline(deadline); err != nil {
			return sb.String(), wrapError(t.cfg.Host, KindConnection, err, "cannot set read deadline")
		}
		n, err := t.Read(buf)
		if n > 0 {
			sb.Write(buf[:n])
		}
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				return sb.String(), newError(t.cfg.Host, KindTimeout, "timed out during telnet login", err)
			}
			return sb.String(), wrapError(t.cfg.Host, KindConnection, err, "telnet read failed")
		}
	}
}

// Read reads from the socket and strips telnet negotiation, refusing every
// option the server proposes.
func (t *telnetTransport) Read(p []byte) (int, error) {
	raw := make([]byte, len(p))
	n, err := t.conn.Read(raw)
	if n > 0 {
		data := t.stripIAC(raw[:n])
		n = copy(p, data)
	}
	return n, err
}

// stripIAC removes IAC sequences from data, replying WONT/DONT to any
// negotiation so the server settles on a bare NVT. Sequences split across
// reads are carried over in t.pending.
func (t *telnetTransport) stripIAC(data []byte) []byte {
	buf := append(t.pending, data...) //nolint: gocritic
	t.pending = nil

	out := make([]byte, 0, len(buf))
	for i := 0; i < len(buf); {
		if buf[i] != telnetIAC {
			out = append(out, buf[i])
			i++
			continue
		}
		if i+1 >= len(buf) {
			t.pending = buf[i:]
			break
		}
		switch cmd := buf[i+1]; cmd {
		case telnetIAC:
			out = append(out, telnetIAC)
			i += 2
		case telnetWILL, telnetWONT, telnetDO, telnetDONT:
			if i+2 >= len(buf) {
				t.pending = buf[i:]
				return out
			}
			opt := buf[i+2]
			if cmd == telnetWILL {
				_, _ = t.conn.Write([]byte{telnetIAC, telnetDONT, opt})
			} else if cmd == telnetDO {
				_, _ = t.conn.Write([]byte{telnetIAC, telnetWONT, opt})
			}
			i += 3
		case telnetSB:
			end := -1
			for j := i + 2; j+1 < len(buf); j++ {
				if buf[j] == telnetIAC && buf[j+1] == telnetSE {
					end = j + 2
					break
				}
			}
			if end < 0 {
				t.pending = buf[i:]
				return out
			}
			i = end
		default:
			i += 2
		}
	}
	return out
}

func (t *telnetTransport) Write(p []byte) (int, error) {
	return t.conn.Write(p)
}

// Close closes the live socket.
func (t *telnetTransport) Close() error {
	if t.conn != nil {
		return t.conn.Close()
	}
	return nil
}
