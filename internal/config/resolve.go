package config

import (
	"fmt"
	"net/netip"
	"strings"
	"time"

	"github.com/EternisAI/silo-fleet/internal/topology"
	"github.com/docker/go-units"
	"github.com/spf13/viper"
)

const (
	MinFleetSize = 1
	MaxFleetSize = 100

	maxHostOctet = 254
	maxPort      = 65535
)

var restartPolicies = map[string]bool{
	"no":             true,
	"always":         true,
	"unless-stopped": true,
	"on-failure":     true,
}

// Sources are the inputs of one resolution, listed lowest precedence first.
type Sources struct {
	Defaults Values
	// File holds the key/value file entries, nil when no file was read.
	File    Values
	EnvName string
	// Environ is the process environment. Known keys override the file and
	// <ENV>_<KEY> entries feed the environment-scoped layer.
	Environ Values
	// Overrides are explicit caller settings such as command-line flags.
	Overrides Values
}

type rawConfig struct {
	DaemonHost          string        `mapstructure:"daemon_host"`
	DaemonPort          int           `mapstructure:"daemon_port"`
	TLSEnabled          bool          `mapstructure:"tls_enabled"`
	CertDir             string        `mapstructure:"cert_dir"`
	CACertFile          string        `mapstructure:"ca_cert_file"`
	ClientCertFile      string        `mapstructure:"client_cert_file"`
	ClientKeyFile       string        `mapstructure:"client_key_file"`
	CertExpiryWarnDays  int           `mapstructure:"cert_expiry_warn_days"`
	TLSServerName       string        `mapstructure:"daemon_tls_server_name"`
	Topology            string        `mapstructure:"topology"`
	NetworkName         string        `mapstructure:"network_name"`
	Subnet              string        `mapstructure:"subnet"`
	Gateway             string        `mapstructure:"gateway"`
	ParentInterface     string        `mapstructure:"parent_interface"`
	IPRangeStart        int           `mapstructure:"ip_range_start"`
	PortBase            int           `mapstructure:"port_base"`
	ServicePort         int           `mapstructure:"service_port"`
	AgentCount          int           `mapstructure:"agent_count"`
	AgentPrefix         string        `mapstructure:"agent_prefix"`
	AgentImage          string        `mapstructure:"agent_image"`
	AgentMemory         string        `mapstructure:"agent_memory"`
	AgentCPUShares      int64         `mapstructure:"agent_cpu_shares"`
	RestartPolicy       string        `mapstructure:"restart_policy"`
	SSHKeyPath          string        `mapstructure:"ssh_key_path"`
	SSHUser             string        `mapstructure:"ssh_user"`
	StartDelay          time.Duration `mapstructure:"start_delay"`
	HealthAttempts      int           `mapstructure:"health_attempts"`
	HealthInterval      time.Duration `mapstructure:"health_interval"`
	DaemonTimeout       time.Duration `mapstructure:"daemon_timeout"`
	ReachabilityTimeout time.Duration `mapstructure:"reachability_timeout"`
	LaunchAttempts      int           `mapstructure:"launch_attempts"`
	Concurrency         int           `mapstructure:"concurrency"`
	RequireReachable    bool          `mapstructure:"require_reachable"`
	BuildContext        string        `mapstructure:"build_context"`
	LogLevel            string        `mapstructure:"log_level"`
	APIPort             int           `mapstructure:"api_port"`
	APIAdminKey         string        `mapstructure:"api_admin_key"`
	APIJWTSecret        string        `mapstructure:"api_jwt_secret"`
}

// Resolve layers src into one EffectiveConfig: defaults, then the file, then
// <ENV>_<KEY> entries, then known process environment keys, then overrides.
// It performs no I/O. Every invalid setting is reported in one *ConfigurationError.
func Resolve(src Sources) (EffectiveConfig, error) {
	v := viper.New()
	for k, val := range src.Defaults {
		v.SetDefault(k, val)
	}

	if src.File != nil {
		if err := v.MergeConfigMap(toMap(src.File.Plain())); err != nil {
			return EffectiveConfig{}, fmt.Errorf("failed to merge config file: %w", err)
		}
	}

	if src.EnvName != "" {
		scoped := src.File.Scoped(src.EnvName)
		for k, val := range src.Environ.Scoped(src.EnvName) {
			scoped[k] = val
		}
		if err := v.MergeConfigMap(toMap(scoped)); err != nil {
			return EffectiveConfig{}, fmt.Errorf("failed to merge %s settings: %w", src.EnvName, err)
		}
	}

	for k, val := range src.Environ.Plain() {
		v.Set(k, val)
	}
	for k, val := range src.Overrides {
		v.Set(k, val)
	}

	var raw rawConfig
	if err := v.Unmarshal(&raw); err != nil {
		cfgErr := &ConfigurationError{}
		cfgErr.add("*", fmt.Errorf("%w: %v", ErrInvalidValue, err))
		return EffectiveConfig{}, cfgErr
	}

	return build(raw, src.EnvName)
}

func build(raw rawConfig, envName string) (EffectiveConfig, error) {
	cfgErr := &ConfigurationError{}

	cfg := EffectiveConfig{
		Env: envName,
		Daemon: DaemonConfig{
			Host:    strings.TrimSpace(raw.DaemonHost),
			Port:    raw.DaemonPort,
			Timeout: raw.DaemonTimeout,
		},
		TLS: TLSConfig{
			Enabled:        raw.TLSEnabled,
			CertDir:        raw.CertDir,
			CAFile:         raw.CACertFile,
			CertFile:       raw.ClientCertFile,
			KeyFile:        raw.ClientKeyFile,
			ExpiryWarnDays: raw.CertExpiryWarnDays,
			ServerName:     strings.TrimSpace(raw.TLSServerName),
		},
		Fleet: FleetConfig{
			Size:           raw.AgentCount,
			Prefix:         raw.AgentPrefix,
			Image:          raw.AgentImage,
			CPUShares:      raw.AgentCPUShares,
			RestartPolicy:  strings.ToLower(raw.RestartPolicy),
			LaunchAttempts: raw.LaunchAttempts,
			Concurrency:    raw.Concurrency,
			BuildContext:   raw.BuildContext,
		},
		Health: HealthConfig{
			StartDelay:          raw.StartDelay,
			Attempts:            raw.HealthAttempts,
			Interval:            raw.HealthInterval,
			ReachabilityTimeout: raw.ReachabilityTimeout,
			RequireReachable:    raw.RequireReachable,
		},
		SSH: SSHConfig{
			KeyPath: raw.SSHKeyPath,
			User:    raw.SSHUser,
		},
		Log: LogConfig{Level: raw.LogLevel},
		API: APIConfig{
			Port:      raw.APIPort,
			AdminKey:  raw.APIAdminKey,
			JWTSecret: raw.APIJWTSecret,
		},
	}

	if cfg.Daemon.Host == "" {
		cfgErr.addf(KeyDaemonHost, "must not be empty")
	}
	checkPort(cfgErr, KeyDaemonPort, cfg.Daemon.Port)
	checkPositive(cfgErr, KeyDaemonTimeout, int64(cfg.Daemon.Timeout))

	if cfg.TLS.Enabled {
		if cfg.TLS.CertDir == "" {
			cfgErr.addf(KeyCertDir, "must not be empty when TLS is enabled")
		}
		if cfg.TLS.ExpiryWarnDays < 0 {
			cfgErr.addf(KeyCertExpiryWarnDays, "must not be negative, got %d", cfg.TLS.ExpiryWarnDays)
		}
	}

	if raw.AgentCount < MinFleetSize || raw.AgentCount > MaxFleetSize {
		cfgErr.addf(KeyAgentCount, "must be between %d and %d, got %d", MinFleetSize, MaxFleetSize, raw.AgentCount)
	}
	if cfg.Fleet.Prefix == "" {
		cfgErr.addf(KeyAgentPrefix, "must not be empty")
	}
	if cfg.Fleet.Image == "" {
		cfgErr.addf(KeyAgentImage, "must not be empty")
	}
	if mem, err := units.RAMInBytes(raw.AgentMemory); err != nil {
		cfgErr.addf(KeyAgentMemory, "%v", err)
	} else {
		cfg.Fleet.MemoryBytes = mem
	}
	if cfg.Fleet.CPUShares < 0 {
		cfgErr.addf(KeyAgentCPUShares, "must not be negative, got %d", cfg.Fleet.CPUShares)
	}
	if !restartPolicies[cfg.Fleet.RestartPolicy] {
		cfgErr.addf(KeyRestartPolicy, "unknown policy %q", raw.RestartPolicy)
	}
	checkPositive(cfgErr, KeyLaunchAttempts, int64(cfg.Fleet.LaunchAttempts))
	checkPositive(cfgErr, KeyConcurrency, int64(cfg.Fleet.Concurrency))

	checkPositive(cfgErr, KeyHealthAttempts, int64(cfg.Health.Attempts))
	checkPositive(cfgErr, KeyHealthInterval, int64(cfg.Health.Interval))
	checkPositive(cfgErr, KeyReachabilityTimeout, int64(cfg.Health.ReachabilityTimeout))
	if cfg.Health.StartDelay < 0 {
		cfgErr.addf(KeyStartDelay, "must not be negative")
	}

	cfg.Topology = resolveTopology(cfgErr, raw)

	if err := cfgErr.orNil(); err != nil {
		return EffectiveConfig{}, err
	}
	return cfg, nil
}

func resolveTopology(cfgErr *ConfigurationError, raw rawConfig) topology.Config {
	tc := topology.Config{
		NetworkName:     raw.NetworkName,
		ParentInterface: raw.ParentInterface,
		RangeStart:      raw.IPRangeStart,
		PortBase:        raw.PortBase,
		ServicePort:     raw.ServicePort,
		FleetSize:       raw.AgentCount,
	}

	kind, err := topology.ParseKind(raw.Topology)
	if err != nil {
		cfgErr.add(KeyTopology, fmt.Errorf("%w: %q", ErrUnsupportedTopology, raw.Topology))
		return tc
	}
	tc.Kind = kind

	checkPort(cfgErr, KeyServicePort, tc.ServicePort)

	if kind == topology.KindHost {
		return tc
	}

	if tc.NetworkName == "" {
		cfgErr.addf(KeyNetworkName, "must not be empty for %s topology", kind)
	}

	subnet, err := netip.ParsePrefix(strings.TrimSpace(raw.Subnet))
	if err != nil || !subnet.Addr().Is4() {
		cfgErr.addf(KeySubnet, "%q is not an IPv4 CIDR", raw.Subnet)
		return tc
	}
	tc.Subnet = subnet

	if gw := strings.TrimSpace(raw.Gateway); gw != "" {
		addr, err := netip.ParseAddr(gw)
		switch {
		case err != nil || !addr.Is4():
			cfgErr.addf(KeyGateway, "%q is not an IPv4 address", raw.Gateway)
		case !subnet.Contains(addr):
			cfgErr.addf(KeyGateway, "%s is outside subnet %s", addr, subnet)
		default:
			tc.Gateway = addr
		}
	}

	if kind != topology.KindOverlay && tc.RangeStart < 1 {
		cfgErr.addf(KeyIPRangeStart, "must be at least 1, got %d", tc.RangeStart)
	}
	if last := topology.LastOffset(tc); last > maxHostOctet {
		cfgErr.addf(KeyIPRangeStart, "fleet of %d overflows the last octet (reaches %d)", tc.FleetSize, last)
	}

	if kind == topology.KindBridge {
		if tc.PortBase < 1 {
			cfgErr.addf(KeyPortBase, "must be at least 1, got %d", tc.PortBase)
		}
		if last := topology.LastHostPort(tc); last > maxPort {
			cfgErr.addf(KeyPortBase, "fleet of %d overflows the port range (reaches %d)", tc.FleetSize, last)
		}
	}
	return tc
}

func checkPort(cfgErr *ConfigurationError, key string, port int) {
	if port < 1 || port > maxPort {
		cfgErr.addf(key, "port %d outside 1..%d", port, maxPort)
	}
}

func checkPositive(cfgErr *ConfigurationError, key string, n int64) {
	if n <= 0 {
		cfgErr.addf(key, "must be positive")
	}
}

func toMap(v Values) map[string]any {
	m := make(map[string]any, len(v))
	for k, val := range v {
		m[k] = val
	}
	return m
}
