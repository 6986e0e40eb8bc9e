package controlplane

import (
	"fmt"
	"strings"

	"github.com/EternisAI/silo-fleet/internal/cert"
)

// CertificateError means TLS was required but the bundle is unusable.
// No connection is attempted when it is returned.
type CertificateError struct {
	Result cert.Result
	Err    error
}

func (e *CertificateError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("certificate bundle unusable: %v", e.Err)
	}
	fatal := e.Result.Fatal()
	parts := make([]string, len(fatal))
	for i, p := range fatal {
		parts[i] = p.String()
	}
	return "certificate bundle unusable: " + strings.Join(parts, "; ")
}

func (e *CertificateError) Unwrap() error { return e.Err }

// ConnectionError means the daemon could not be reached or refused the handshake.
type ConnectionError struct {
	Address string
	Op      string
	Err     error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("failed to %s %s: %v", e.Op, e.Address, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }
