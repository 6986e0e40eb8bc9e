package main

import (
	"encoding/json"
	"fmt"
	"net"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/EternisAI/silo-fleet/internal/cert"
	"github.com/EternisAI/silo-fleet/internal/controlplane"
)

func newCertsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "certs",
		Short: "Inspect or create the client certificate bundle",
	}
	cmd.AddCommand(newCertsCheckCmd(a), newCertsInitCmd(a))
	return cmd
}

type certReport struct {
	CAPath          string         `json:"ca_path" yaml:"ca_path"`
	CertPath        string         `json:"cert_path" yaml:"cert_path"`
	KeyPath         string         `json:"key_path" yaml:"key_path"`
	Usable          bool           `json:"usable" yaml:"usable"`
	DaysUntilExpiry int            `json:"days_until_expiry" yaml:"days_until_expiry"`
	Problems        []cert.Problem `json:"problems" yaml:"problems"`
}

func newCertsCheckCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Validate the bundle without contacting the daemon",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			t := a.cfg.TLS
			if !t.Enabled {
				fmt.Fprintln(cmd.OutOrStdout(), "TLS is disabled; no certificate bundle is required")
				return nil
			}

			res := cert.NewValidator(t.ExpiryWarnDays).Validate(cert.Inspect(t.CAPath(), t.CertPath(), t.KeyPath()))
			report := certReport{
				CAPath:          t.CAPath(),
				CertPath:        t.CertPath(),
				KeyPath:         t.KeyPath(),
				Usable:          res.Usable,
				DaysUntilExpiry: res.DaysUntilExpiry,
				Problems:        res.Problems,
			}
			if report.Problems == nil {
				report.Problems = []cert.Problem{}
			}

			if err := renderCertReport(cmd, report, a.output); err != nil {
				return err
			}
			if !res.Usable {
				return &controlplane.CertificateError{Result: res}
			}
			return nil
		},
	}
}

func renderCertReport(cmd *cobra.Command, r certReport, format string) error {
	out := cmd.OutOrStdout()
	switch strings.ToLower(format) {
	case "json":
		b, err := json.MarshalIndent(r, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to format JSON: %w", err)
		}
		fmt.Fprintln(out, string(b))
		return nil
	case "yaml":
		b, err := yaml.Marshal(r)
		if err != nil {
			return fmt.Errorf("failed to format YAML: %w", err)
		}
		_, err = out.Write(b)
		return err
	}

	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintf(w, "CA:\t%s\n", r.CAPath)
	fmt.Fprintf(w, "Certificate:\t%s\n", r.CertPath)
	fmt.Fprintf(w, "Key:\t%s\n", r.KeyPath)
	fmt.Fprintf(w, "Usable:\t%t\n", r.Usable)
	if r.Usable {
		fmt.Fprintf(w, "Days until expiry:\t%d\n", r.DaysUntilExpiry)
	}
	w.Flush()

	if len(r.Problems) == 0 {
		return nil
	}
	fmt.Fprintln(out)
	w = tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "SEVERITY\tKIND\tPATH\tDETAIL")
	for _, p := range r.Problems {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", p.Severity, p.Kind, p.Path, p.Detail)
	}
	return w.Flush()
}

func newCertsInitCmd(a *app) *cobra.Command {
	var (
		serverNames []string
		serverIPs   []string
		days        int
		force       bool
		commonName  string
	)

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a development CA, client certificate and key into CERT_DIR",
		Long: `Write a self-signed development CA plus a client certificate and key into
CERT_DIR. With --server-name or --server-ip a matching daemon certificate is
written as well. Production bundles should come from your own PKI.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			t := a.cfg.TLS
			if !force {
				for _, p := range []string{t.CAPath(), t.CertPath(), t.KeyPath()} {
					if _, err := os.Stat(p); err == nil {
						return fmt.Errorf("%s already exists (use --force to overwrite)", p)
					}
				}
			}

			ips := make([]net.IP, 0, len(serverIPs))
			for _, s := range serverIPs {
				ip := net.ParseIP(s)
				if ip == nil {
					return fmt.Errorf("invalid --server-ip %q", s)
				}
				ips = append(ips, ip)
			}

			bundle, err := cert.GenerateDevBundle(cert.DevBundleOptions{
				Dir:         t.CertDir,
				CAFile:      t.CAFile,
				CertFile:    t.CertFile,
				KeyFile:     t.KeyFile,
				CommonName:  commonName,
				NotAfter:    time.Now().Add(time.Duration(days) * 24 * time.Hour),
				ServerNames: serverNames,
				ServerIPs:   ips,
			})
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Wrote %s\n", bundle.CAPath)
			fmt.Fprintf(out, "Wrote %s\n", bundle.CertPath)
			fmt.Fprintf(out, "Wrote %s\n", bundle.KeyPath)
			if bundle.ServerCertPath != "" {
				fmt.Fprintf(out, "Wrote %s\n", bundle.ServerCertPath)
				fmt.Fprintf(out, "Wrote %s\n", bundle.ServerKeyPath)
			}
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&serverNames, "server-name", nil, "DNS name for a daemon server certificate (repeatable)")
	cmd.Flags().StringSliceVar(&serverIPs, "server-ip", nil, "IP address for a daemon server certificate (repeatable)")
	cmd.Flags().IntVar(&days, "days", 365, "client certificate validity in days")
	cmd.Flags().StringVar(&commonName, "common-name", "silo-fleet", "client certificate common name")
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing bundle")
	return cmd
}
