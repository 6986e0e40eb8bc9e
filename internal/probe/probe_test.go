package probe

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"encoding/binary"
	"encoding/pem"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ssh"
)

func TestTCP_Reachable(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			c.Close()
		}
	}()

	p := TCP{Timeout: time.Second}
	assert.NoError(t, p.Probe(context.Background(), ln.Addr().String()))
	assert.Equal(t, "tcp", p.Name())
}

func TestTCP_Unreachable(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	ln.Close()

	err = TCP{Timeout: time.Second}.Probe(context.Background(), addr)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), addr)
}

func newSigner(t *testing.T) (ssh.Signer, []byte) {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	der, err := x509.MarshalECPrivateKey(key)
	require.NoError(t, err)
	signer, err := ssh.NewSignerFromKey(key)
	require.NoError(t, err)
	return signer, pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: der})
}

// serveSSH accepts sessions from authorized and answers every exec with exitStatus.
func serveSSH(t *testing.T, authorized ssh.PublicKey, exitStatus uint32) string {
	t.Helper()

	hostSigner, _ := newSigner(t)
	config := &ssh.ServerConfig{
		PublicKeyCallback: func(_ ssh.ConnMetadata, key ssh.PublicKey) (*ssh.Permissions, error) {
			if bytes.Equal(key.Marshal(), authorized.Marshal()) {
				return nil, nil
			}
			return nil, assert.AnError
		},
	}
	config.AddHostKey(hostSigner)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	go func() {
		for {
			nc, err := ln.Accept()
			if err != nil {
				return
			}
			go handleConn(nc, config, exitStatus)
		}
	}()
	return ln.Addr().String()
}

func handleConn(nc net.Conn, config *ssh.ServerConfig, exitStatus uint32) {
	defer nc.Close()
	_, chans, reqs, err := ssh.NewServerConn(nc, config)
	if err != nil {
		return
	}
	go ssh.DiscardRequests(reqs)

	for newCh := range chans {
		if newCh.ChannelType() != "session" {
			newCh.Reject(ssh.UnknownChannelType, "unsupported")
			continue
		}
		ch, requests, err := newCh.Accept()
		if err != nil {
			return
		}
		go func() {
			defer ch.Close()
			for req := range requests {
				if req.Type != "exec" {
					req.Reply(false, nil)
					continue
				}
				req.Reply(true, nil)
				status := make([]byte, 4)
				binary.BigEndian.PutUint32(status, exitStatus)
				ch.SendRequest("exit-status", false, status)
				return
			}
		}()
	}
}

func TestSSH_Authenticated(t *testing.T) {
	signer, keyPEM := newSigner(t)
	addr := serveSSH(t, signer.PublicKey(), 0)

	keyPath := filepath.Join(t.TempDir(), "id_ecdsa")
	require.NoError(t, os.WriteFile(keyPath, keyPEM, 0600))

	p, err := NewSSH("jenkins", keyPath, 2*time.Second)
	require.NoError(t, err)
	assert.Equal(t, "ssh", p.Name())
	assert.NoError(t, p.Probe(context.Background(), addr))
}

func TestSSH_CommandFails(t *testing.T) {
	signer, _ := newSigner(t)
	addr := serveSSH(t, signer.PublicKey(), 1)

	p := &SSH{User: "jenkins", Signer: signer, Timeout: 2 * time.Second}
	assert.Error(t, p.Probe(context.Background(), addr))
}

func TestSSH_WrongKey(t *testing.T) {
	authorized, _ := newSigner(t)
	other, _ := newSigner(t)
	addr := serveSSH(t, authorized.PublicKey(), 0)

	p := &SSH{User: "jenkins", Signer: other, Timeout: 2 * time.Second}
	err := p.Probe(context.Background(), addr)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to authenticate")
}

func TestNewSSH_MissingKey(t *testing.T) {
	_, err := NewSSH("jenkins", filepath.Join(t.TempDir(), "absent"), time.Second)
	assert.Error(t, err)
}
