package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/spf13/cobra"

	"github.com/EternisAI/silo-fleet/internal/config"
	"github.com/EternisAI/silo-fleet/internal/controlplane"
	"github.com/EternisAI/silo-fleet/internal/fleet"
	"github.com/EternisAI/silo-fleet/internal/probe"
)

const (
	exitOK           = 0
	exitNotConverged = 1
	exitFailure      = 2
)

const skipConfig = "skip-config"

// app carries flag values and the collaborators commands share.
type app struct {
	configFile     string
	envName        string
	sets           []string
	logLevel       string
	output         string
	connectRetries int

	// environ is the process environment; nil means os.Environ.
	environ    []string
	factory    *controlplane.Factory
	newBackOff func() backoff.BackOff
	logOutput  io.Writer

	cfg config.EffectiveConfig
}

func newApp() *app {
	return &app{
		factory:    controlplane.NewFactory(),
		newBackOff: func() backoff.BackOff { return backoff.NewExponentialBackOff() },
		logOutput:  os.Stderr,
	}
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:   "silo-fleet",
		Short: "Reconcile a fleet of build-agent containers on a remote container daemon",
		Long: `silo-fleet keeps N build-agent containers running on a remote container
daemon reached over mutual TLS. It resolves one network identity per agent
from the configured topology, replaces agents with fresh containers, waits for
their health checks and reports per-agent results.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			initLogger(a.logLevel, a.logOutput)
			if cmd.Annotations[skipConfig] == "true" {
				return nil
			}
			return a.loadConfig()
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&a.configFile, "config", "", fmt.Sprintf("key/value config file (default %s when present)", config.DefaultFile))
	flags.StringVar(&a.envName, "env", "", "environment name selecting <ENV>_<KEY> overrides")
	flags.StringArrayVar(&a.sets, "set", nil, "override a setting, KEY=VALUE (repeatable)")
	flags.StringVar(&a.logLevel, "log-level", "", "log level: ERROR, WARNING, INFO, DEBUG")
	flags.StringVarP(&a.output, "output", "o", "table", "output format: table, json, yaml")
	flags.IntVar(&a.connectRetries, "connect-retries", 0, "retry the daemon connection with exponential backoff")

	root.AddCommand(
		newStartCmd(a),
		newStopCmd(a),
		newStatusCmd(a),
		newRestartCmd(a),
		newBuildCmd(a),
		newCertsCmd(a),
		newServeCmd(a),
		newTokenCmd(a),
		newVersionCmd(),
	)
	return root
}

func (a *app) loadConfig() error {
	switch strings.ToLower(a.output) {
	case "table", "json", "yaml":
	default:
		return fmt.Errorf("unsupported output format %q (valid: table, json, yaml)", a.output)
	}

	overrides, err := config.ParseOverrides(a.sets)
	if err != nil {
		return err
	}
	if a.logLevel != "" {
		overrides[config.KeyLogLevel] = a.logLevel
	}

	cfg, err := config.Load(config.LoadOptions{
		File:      a.configFile,
		EnvName:   a.envName,
		Overrides: overrides,
		Environ:   a.environ,
	})
	if err != nil {
		return err
	}
	a.cfg = cfg

	initLogger(cfg.Log.Level, a.logOutput)
	slog.Debug("Configuration resolved",
		"env", cfg.Env,
		"daemon", cfg.DaemonAddress(),
		"tls", cfg.TLS.Enabled,
		"topology", cfg.Topology.Kind,
		"size", cfg.Fleet.Size)
	return nil
}

// connect builds the daemon client, retrying connection failures when
// --connect-retries is set. Certificate and configuration problems are final.
func (a *app) connect(ctx context.Context) (*controlplane.Client, error) {
	if a.connectRetries <= 0 {
		return a.factory.Build(ctx, a.cfg)
	}

	b := backoff.WithContext(backoff.WithMaxRetries(a.newBackOff(), uint64(a.connectRetries)), ctx)
	return backoff.RetryNotifyWithData(func() (*controlplane.Client, error) {
		client, err := a.factory.Build(ctx, a.cfg)
		var connErr *controlplane.ConnectionError
		if err != nil && !errors.As(err, &connErr) {
			return nil, backoff.Permanent(err)
		}
		return client, err
	}, b, func(err error, next time.Duration) {
		slog.Warn("Daemon connection failed, retrying", "error", err, "retry_in", next)
	})
}

func (a *app) prober() (probe.Prober, error) {
	if a.cfg.SSH.KeyPath == "" {
		return probe.TCP{Timeout: a.cfg.Health.ReachabilityTimeout}, nil
	}
	p, err := probe.NewSSH(a.cfg.SSH.User, a.cfg.SSH.KeyPath, a.cfg.Health.ReachabilityTimeout)
	if err != nil {
		return nil, err
	}
	return p, nil
}

// clientWarnings lists connection caveats that belong in every report.
func clientWarnings(client *controlplane.Client) []string {
	var out []string
	if client.Insecure {
		out = append(out, "TLS disabled: the daemon connection is unauthenticated")
	}
	for _, w := range client.Warnings {
		out = append(out, "certificate: "+w.String())
	}
	return out
}

// exitCode maps an error to the process exit status.
func exitCode(err error) int {
	if err == nil {
		return exitOK
	}
	var fleetErr *fleet.FleetError
	if errors.As(err, &fleetErr) {
		return exitNotConverged
	}
	return exitFailure
}
