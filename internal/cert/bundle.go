package cert

import (
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"
)

// Artifact is one file of a certificate bundle.
type Artifact struct {
	Path    string
	Present bool
	Mode    fs.FileMode
}

// Bundle describes the CA certificate, client leaf and private key on disk.
type Bundle struct {
	CA   Artifact
	Leaf Artifact
	Key  Artifact
	// NotAfter of the leaf; zero when the leaf is absent or unreadable.
	NotAfter time.Time
	// LeafErr records why the leaf could not be parsed.
	LeafErr error
}

// Inspect stats the three files and parses the leaf's expiry. It never writes.
func Inspect(caPath, leafPath, keyPath string) Bundle {
	b := Bundle{
		CA:   stat(caPath),
		Leaf: stat(leafPath),
		Key:  stat(keyPath),
	}
	if b.Leaf.Present {
		b.NotAfter, b.LeafErr = readNotAfter(leafPath)
	}
	return b
}

func stat(path string) Artifact {
	a := Artifact{Path: path}
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return a
	}
	a.Present = true
	a.Mode = info.Mode()
	return a
}

func readNotAfter(path string) (time.Time, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to read certificate: %w", err)
	}

	block, _ := pem.Decode(data)
	if block == nil || block.Type != "CERTIFICATE" {
		return time.Time{}, errors.New("failed to decode certificate PEM")
	}

	leaf, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse certificate: %w", err)
	}
	return leaf.NotAfter, nil
}
