package probe

import (
	"context"
	"fmt"
	"net"
	"os"
	"time"

	"golang.org/x/crypto/ssh"
)

// Prober checks that an agent's service endpoint answers.
type Prober interface {
	Probe(ctx context.Context, target string) error
	Name() string
}

// TCP succeeds once a connection to the target is established.
type TCP struct {
	Timeout time.Duration
}

func (p TCP) Name() string { return "tcp" }

func (p TCP) Probe(ctx context.Context, target string) error {
	d := net.Dialer{Timeout: p.Timeout}
	conn, err := d.DialContext(ctx, "tcp", target)
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", target, err)
	}
	return conn.Close()
}

// SSH authenticates with a private key and runs a no-op command.
type SSH struct {
	User    string
	Signer  ssh.Signer
	Timeout time.Duration
	Command string
}

// NewSSH reads the private key at keyPath.
func NewSSH(user, keyPath string, timeout time.Duration) (*SSH, error) {
	pem, err := os.ReadFile(keyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read SSH key: %w", err)
	}
	signer, err := ssh.ParsePrivateKey(pem)
	if err != nil {
		return nil, fmt.Errorf("failed to parse SSH key: %w", err)
	}
	return &SSH{User: user, Signer: signer, Timeout: timeout, Command: "true"}, nil
}

func (p *SSH) Name() string { return "ssh" }

func (p *SSH) Probe(ctx context.Context, target string) error {
	if p.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.Timeout)
		defer cancel()
	}

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", target)
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", target, err)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	}

	config := &ssh.ClientConfig{
		User:            p.User,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(p.Signer)},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(), // agents are recreated with fresh host keys
		Timeout:         p.Timeout,
	}

	sshConn, chans, reqs, err := ssh.NewClientConn(conn, target, config)
	if err != nil {
		return fmt.Errorf("failed to authenticate to %s: %w", target, err)
	}
	client := ssh.NewClient(sshConn, chans, reqs)
	defer client.Close()

	session, err := client.NewSession()
	if err != nil {
		return fmt.Errorf("failed to open session on %s: %w", target, err)
	}
	defer session.Close()

	command := p.Command
	if command == "" {
		command = "true"
	}
	if err := session.Run(command); err != nil {
		return fmt.Errorf("failed to run %q on %s: %w", command, target, err)
	}
	return nil
}
