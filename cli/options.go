package cli

import (
	"time"
)

// Protocol selects the transport used to reach the device.
type Protocol string

const (
	ProtocolSSH    Protocol = "ssh"
	ProtocolTelnet Protocol = "telnet"
)

// Family restricts the address family used when dialling.
type Family int

const (
	FamilyUnspec Family = iota
	FamilyIPv4
	FamilyIPv6
)

// SessionConfig defines properties controlling session behaviour. Callers
// populate it through SessionOption values passed to Create; unset fields are
// defaulted from DefaultConfig.
type SessionConfig struct {
	Host     string
	Username string
	Password string
	// Port defaults to 22 for ssh and 23 for telnet.
	Port     int
	Protocol Protocol
	// Timeout bounds every read over its entire duration, not per chunk.
	Timeout time.Duration

	// KnownHosts is the path of a known_hosts file; empty disables host key
	// verification.
	KnownHosts string
	// LocalAddr binds the source address of the tcp connection.
	LocalAddr string
	// ClientKeys are paths of private key files offered for public key
	// authentication.
	ClientKeys []string
	// Passphrase decrypts encrypted client keys.
	Passphrase string
	// Tunnel is an existing live Session this connection is dialled through.
	Tunnel Session
	// AgentForwarding requests agent forwarding on the session channel.
	AgentForwarding bool
	// AgentPath is the UNIX socket of an ssh-agent. When empty, SSH_AUTH_SOCK
	// is used only if AgentForwarding is set; otherwise no agent is used.
	AgentPath string
	// ClientVersion is the version banner advertised to the server.
	ClientVersion string
	Family        Family

	// Algorithm preference lists for the SSH handshake.
	KexAlgs        []string
	EncryptionAlgs []string
	MACAlgs        []string
	// CompressionAlgs is accepted for interface parity; the underlying SSH
	// implementation negotiates no compression, so the list is not applied.
	CompressionAlgs []string
	// SignatureAlgs maps onto the host key algorithm preference list, the
	// nearest equivalent this SSH implementation offers.
	SignatureAlgs []string

	// Pattern overrides the platform's prompt pattern template.
	Pattern string

	// Parser converts raw command output into structured records for
	// SendCommandParsed. Nil leaves output as text.
	Parser Parser
}

// DefaultConfig supplies the values used for any SessionConfig field the
// caller leaves unset.
var DefaultConfig = SessionConfig{
	Protocol:      ProtocolSSH,
	Timeout:       15 * time.Second,
	ClientVersion: "SSH-2.0-netcli",
}

// SessionOption implements options for configuring session behaviour.
type SessionOption func(*SessionConfig)

// WithHost defines the hostname or ip address to connect to. Required.
func WithHost(host string) SessionOption {
	return func(c *SessionConfig) { c.Host = host }
}

// WithCredentials defines the username and password used to log in.
func WithCredentials(username, password string) SessionOption {
	return func(c *SessionConfig) {
		c.Username = username
		c.Password = password
	}
}

// WithPort overrides the default port (22 for ssh, 23 for telnet).
func WithPort(port int) SessionOption {
	return func(c *SessionConfig) { c.Port = port }
}

// WithProtocol selects ssh or telnet. Defaults to ssh.
func WithProtocol(p Protocol) SessionOption {
	return func(c *SessionConfig) { c.Protocol = p }
}

// WithTimeout defines the overall deadline applied to each read from the
// device. Defaults to 15 seconds.
func WithTimeout(timeout time.Duration) SessionOption {
	return func(c *SessionConfig) { c.Timeout = timeout }
}

// WithKnownHosts defines the known_hosts file used to verify the server's
// host key. An empty path disables verification.
func WithKnownHosts(path string) SessionOption {
	return func(c *SessionConfig) { c.KnownHosts = path }
}

// WithLocalAddr binds the source address of the tcp connection.
func WithLocalAddr(addr string) SessionOption {
	return func(c *SessionConfig) { c.LocalAddr = addr }
}

// WithClientKeys defines private key files offered for public key
// authentication, with an optional passphrase for encrypted keys.
func WithClientKeys(passphrase string, paths ...string) SessionOption {
	return func(c *SessionConfig) {
		c.ClientKeys = paths
		c.Passphrase = passphrase
	}
}

// WithTunnel dials the device through the SSH connection of an existing live
// Session rather than directly.
func WithTunnel(s Session) SessionOption {
	return func(c *SessionConfig) { c.Tunnel = s }
}

// WithAgent enables public key authentication via an ssh-agent. path names
// the agent's UNIX socket. forwarding additionally requests agent forwarding
// on the channel; with forwarding set, an empty path falls back to
// SSH_AUTH_SOCK. An empty path without forwarding uses no agent.
func WithAgent(path string, forwarding bool) SessionOption {
	return func(c *SessionConfig) {
		c.AgentPath = path
		c.AgentForwarding = forwarding
	}
}

// WithClientVersion overrides the version banner advertised to the server.
func WithClientVersion(version string) SessionOption {
	return func(c *SessionConfig) { c.ClientVersion = version }
}

// WithFamily restricts the address family used when dialling.
func WithFamily(f Family) SessionOption {
	return func(c *SessionConfig) { c.Family = f }
}

// WithKexAlgorithms defines the key exchange algorithm preference list.
func WithKexAlgorithms(algs ...string) SessionOption {
	return func(c *SessionConfig) { c.KexAlgs = algs }
}

// WithEncryptionAlgorithms defines the cipher preference list.
func WithEncryptionAlgorithms(algs ...string) SessionOption {
	return func(c *SessionConfig) { c.EncryptionAlgs = algs }
}

// WithMACAlgorithms defines the MAC preference list.
func WithMACAlgorithms(algs ...string) SessionOption {
	return func(c *SessionConfig) { c.MACAlgs = algs }
}

// WithCompressionAlgorithms records a compression preference list. The
// underlying SSH implementation only negotiates "none", so the list is
// accepted but has no effect on the handshake.
func WithCompressionAlgorithms(algs ...string) SessionOption {
	return func(c *SessionConfig) { c.CompressionAlgs = algs }
}

// WithSignatureAlgorithms defines the public key signature preference list.
// It is applied as the host key algorithm list, the nearest equivalent knob
// this SSH implementation exposes.
func WithSignatureAlgorithms(algs ...string) SessionOption {
	return func(c *SessionConfig) { c.SignatureAlgs = algs }
}

// WithPrompt overrides the platform's prompt pattern template. The value is a
// regular expression template with {prompt} and {delimiters} holes.
func WithPrompt(pattern string) SessionOption {
	return func(c *SessionConfig) { c.Pattern = pattern }
}

// WithParser installs the structured output parser used by
// SendCommandParsed.
func WithParser(p Parser) SessionOption {
	return func(c *SessionConfig) { c.Parser = p }
}
