package cert

import (
	"fmt"
	"math"
	"time"
)

type ProblemKind string

const (
	MissingCertificate     ProblemKind = "MissingCertificate"
	UnreadableCertificate  ProblemKind = "UnreadableCertificate"
	InsecureKeyPermissions ProblemKind = "InsecureKeyPermissions"
	ExpiringSoon           ProblemKind = "ExpiringSoon"
	Expired                ProblemKind = "Expired"
)

type Severity string

const (
	SeverityWarning Severity = "warning"
	SeverityFatal   Severity = "fatal"
)

// DefaultWarnDays is the expiry horizon below which ExpiringSoon is reported.
const DefaultWarnDays = 30

// groupOrWorldReadable are the permission bits a private key must not carry.
const groupOrWorldReadable = 0o044

type Problem struct {
	Kind     ProblemKind `json:"kind" yaml:"kind"`
	Severity Severity    `json:"severity" yaml:"severity"`
	Path     string      `json:"path" yaml:"path"`
	Detail   string      `json:"detail" yaml:"detail"`
}

func (p Problem) String() string {
	return fmt.Sprintf("%s (%s): %s", p.Kind, p.Path, p.Detail)
}

// Result is the outcome of validating a bundle.
type Result struct {
	Usable bool
	// DaysUntilExpiry is the number of whole days left on the leaf; negative once expired.
	DaysUntilExpiry int
	Problems        []Problem
}

// Warnings returns the problems that do not make the bundle unusable.
func (r Result) Warnings() []Problem {
	var out []Problem
	for _, p := range r.Problems {
		if p.Severity == SeverityWarning {
			out = append(out, p)
		}
	}
	return out
}

// Fatal returns the problems that make the bundle unusable.
func (r Result) Fatal() []Problem {
	var out []Problem
	for _, p := range r.Problems {
		if p.Severity == SeverityFatal {
			out = append(out, p)
		}
	}
	return out
}

// Validator checks a bundle for presence, key permissions and leaf expiry.
type Validator struct {
	WarnDays int
	Now      func() time.Time
}

func NewValidator(warnDays int) *Validator {
	return &Validator{WarnDays: warnDays, Now: time.Now}
}

// Validate applies the checks in order: presence, key permissions, expiry.
// Missing files, an unreadable leaf or an expired leaf make the bundle unusable;
// loose key permissions and near expiry are warnings.
func (v *Validator) Validate(b Bundle) Result {
	res := Result{Usable: true}

	for _, a := range []Artifact{b.CA, b.Leaf, b.Key} {
		if !a.Present {
			res.fatal(MissingCertificate, a.Path, "file does not exist")
		}
	}

	if b.Key.Present && b.Key.Mode.Perm()&groupOrWorldReadable != 0 {
		res.warn(InsecureKeyPermissions, b.Key.Path,
			fmt.Sprintf("mode %04o is readable by group or others, expected 0600", b.Key.Mode.Perm()))
	}

	if !b.Leaf.Present {
		return res
	}
	if b.LeafErr != nil {
		res.fatal(UnreadableCertificate, b.Leaf.Path, b.LeafErr.Error())
		return res
	}

	now := time.Now
	if v.Now != nil {
		now = v.Now
	}
	remaining := b.NotAfter.Sub(now())
	res.DaysUntilExpiry = int(math.Floor(remaining.Hours() / 24))

	switch {
	case remaining <= 0:
		res.fatal(Expired, b.Leaf.Path, fmt.Sprintf("expired on %s", b.NotAfter.UTC().Format(time.RFC3339)))
	case res.DaysUntilExpiry < v.WarnDays:
		res.warn(ExpiringSoon, b.Leaf.Path, fmt.Sprintf("expires in %d days on %s", res.DaysUntilExpiry, b.NotAfter.UTC().Format(time.RFC3339)))
	}

	return res
}

func (r *Result) fatal(kind ProblemKind, path, detail string) {
	r.Usable = false
	r.Problems = append(r.Problems, Problem{Kind: kind, Severity: SeverityFatal, Path: path, Detail: detail})
}

func (r *Result) warn(kind ProblemKind, path, detail string) {
	r.Problems = append(r.Problems, Problem{Kind: kind, Severity: SeverityWarning, Path: path, Detail: detail})
}
