package cert

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"
	"log/slog"
	"math/big"
	"net"
	"os"
	"path/filepath"
	"time"
)

// Authority is a self-signed CA used to issue development bundles.
type Authority struct {
	Cert *x509.Certificate
	Key  *ecdsa.PrivateKey
}

// NewAuthority creates a CA valid until notAfter.
func NewAuthority(notAfter time.Time) (*Authority, error) {
	caKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate CA key: %w", err)
	}

	serialNumber, err := newSerial()
	if err != nil {
		return nil, err
	}

	caTemplate := &x509.Certificate{
		SerialNumber: serialNumber,
		Subject: pkix.Name{
			Organization: []string{"Silo Fleet CA"},
			CommonName:   "Silo Fleet Root CA",
		},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              notAfter,
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth},
		BasicConstraintsValid: true,
		IsCA:                  true,
		MaxPathLenZero:        true,
	}

	caCertBytes, err := x509.CreateCertificate(rand.Reader, caTemplate, caTemplate, &caKey.PublicKey, caKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create CA certificate: %w", err)
	}

	caCert, err := x509.ParseCertificate(caCertBytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse CA certificate: %w", err)
	}

	return &Authority{Cert: caCert, Key: caKey}, nil
}

// IssueClient signs a client-auth leaf for commonName.
func (a *Authority) IssueClient(commonName string, notAfter time.Time) (*x509.Certificate, *ecdsa.PrivateKey, error) {
	return a.issue(&x509.Certificate{
		Subject: pkix.Name{
			Organization: []string{"Silo Fleet"},
			CommonName:   commonName,
		},
		NotAfter:    notAfter,
		ExtKeyUsage: []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth},
	})
}

// IssueServer signs a server-auth leaf for the daemon's names and addresses.
func (a *Authority) IssueServer(domainNames []string, ipAddresses []net.IP, notAfter time.Time) (*x509.Certificate, *ecdsa.PrivateKey, error) {
	commonName := "localhost"
	if len(domainNames) > 0 {
		commonName = domainNames[0]
	}
	return a.issue(&x509.Certificate{
		Subject: pkix.Name{
			Organization: []string{"Silo Fleet"},
			CommonName:   commonName,
		},
		NotAfter:    notAfter,
		ExtKeyUsage: []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		DNSNames:    domainNames,
		IPAddresses: ipAddresses,
	})
}

func (a *Authority) issue(template *x509.Certificate) (*x509.Certificate, *ecdsa.PrivateKey, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to generate leaf key: %w", err)
	}

	serialNumber, err := newSerial()
	if err != nil {
		return nil, nil, err
	}

	template.SerialNumber = serialNumber
	template.NotBefore = time.Now().Add(-time.Hour)
	template.KeyUsage = x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment
	template.BasicConstraintsValid = true

	certBytes, err := x509.CreateCertificate(rand.Reader, template, a.Cert, &key.PublicKey, a.Key)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create certificate for %s: %w", template.Subject.CommonName, err)
	}

	leaf, err := x509.ParseCertificate(certBytes)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to parse certificate: %w", err)
	}
	return leaf, key, nil
}

// DevBundleOptions controls GenerateDevBundle.
type DevBundleOptions struct {
	Dir        string
	CAFile     string
	CertFile   string
	KeyFile    string
	CommonName string
	// NotAfter of the client leaf; zero means one year from now.
	NotAfter time.Time
	// ServerNames and ServerIPs, when set, also produce server-cert.pem and
	// server-key.pem for the daemon side.
	ServerNames []string
	ServerIPs   []net.IP
}

// DevBundle lists the files written by GenerateDevBundle.
type DevBundle struct {
	CAPath         string
	CertPath       string
	KeyPath        string
	ServerCertPath string
	ServerKeyPath  string
}

// GenerateDevBundle writes a CA, a client leaf and its key into opts.Dir.
// Keys are written owner-only. It is meant for development daemons and tests;
// production bundles come from the operator's PKI.
func GenerateDevBundle(opts DevBundleOptions) (DevBundle, error) {
	if opts.CAFile == "" {
		opts.CAFile = "ca.pem"
	}
	if opts.CertFile == "" {
		opts.CertFile = "cert.pem"
	}
	if opts.KeyFile == "" {
		opts.KeyFile = "key.pem"
	}
	if opts.CommonName == "" {
		opts.CommonName = "silo-fleet"
	}
	if opts.NotAfter.IsZero() {
		opts.NotAfter = time.Now().Add(365 * 24 * time.Hour)
	}

	if err := os.MkdirAll(opts.Dir, 0755); err != nil {
		return DevBundle{}, fmt.Errorf("failed to create directory %s: %w", opts.Dir, err)
	}

	caNotAfter := opts.NotAfter.Add(365 * 24 * time.Hour)
	ca, err := NewAuthority(caNotAfter)
	if err != nil {
		return DevBundle{}, err
	}

	leaf, leafKey, err := ca.IssueClient(opts.CommonName, opts.NotAfter)
	if err != nil {
		return DevBundle{}, err
	}

	b := DevBundle{
		CAPath:   filepath.Join(opts.Dir, opts.CAFile),
		CertPath: filepath.Join(opts.Dir, opts.CertFile),
		KeyPath:  filepath.Join(opts.Dir, opts.KeyFile),
	}

	if err := writeCertToFile(ca.Cert, b.CAPath); err != nil {
		return DevBundle{}, fmt.Errorf("failed to write CA certificate: %w", err)
	}
	if err := writeCertToFile(leaf, b.CertPath); err != nil {
		return DevBundle{}, fmt.Errorf("failed to write client certificate: %w", err)
	}
	if err := writeKeyToFile(leafKey, b.KeyPath); err != nil {
		return DevBundle{}, fmt.Errorf("failed to write client key: %w", err)
	}

	if len(opts.ServerNames) > 0 || len(opts.ServerIPs) > 0 {
		srv, srvKey, err := ca.IssueServer(opts.ServerNames, opts.ServerIPs, caNotAfter)
		if err != nil {
			return DevBundle{}, err
		}
		b.ServerCertPath = filepath.Join(opts.Dir, "server-cert.pem")
		b.ServerKeyPath = filepath.Join(opts.Dir, "server-key.pem")
		if err := writeCertToFile(srv, b.ServerCertPath); err != nil {
			return DevBundle{}, fmt.Errorf("failed to write server certificate: %w", err)
		}
		if err := writeKeyToFile(srvKey, b.ServerKeyPath); err != nil {
			return DevBundle{}, fmt.Errorf("failed to write server key: %w", err)
		}
	}

	slog.Info("Generated development certificate bundle",
		"dir", opts.Dir,
		"common_name", opts.CommonName,
		"not_after", opts.NotAfter)

	return b, nil
}

func newSerial() (*big.Int, error) {
	serialNumber, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, fmt.Errorf("failed to generate serial number: %w", err)
	}
	return serialNumber, nil
}

func writeCertToFile(cert *x509.Certificate, path string) error {
	certFile, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return fmt.Errorf("failed to create certificate file: %w", err)
	}
	defer certFile.Close()

	if err := pem.Encode(certFile, &pem.Block{
		Type:  "CERTIFICATE",
		Bytes: cert.Raw,
	}); err != nil {
		return fmt.Errorf("failed to encode certificate: %w", err)
	}

	return nil
}

func writeKeyToFile(key *ecdsa.PrivateKey, path string) error {
	keyFile, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("failed to create key file: %w", err)
	}
	defer keyFile.Close()

	// O_CREATE keeps the mode of a file that already exists.
	if err := keyFile.Chmod(0600); err != nil {
		return fmt.Errorf("failed to restrict key file: %w", err)
	}

	keyBytes, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return fmt.Errorf("failed to marshal key: %w", err)
	}

	if err := pem.Encode(keyFile, &pem.Block{
		Type:  "PRIVATE KEY",
		Bytes: keyBytes,
	}); err != nil {
		return fmt.Errorf("failed to encode key: %w", err)
	}

	return nil
}
