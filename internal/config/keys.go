package config

import (
	"sort"
	"strings"
)

const (
	KeyDaemonHost          = "DAEMON_HOST"
	KeyDaemonPort          = "DAEMON_PORT"
	KeyTLSEnabled          = "TLS_ENABLED"
	KeyCertDir             = "CERT_DIR"
	KeyCACertFile          = "CA_CERT_FILE"
	KeyClientCertFile      = "CLIENT_CERT_FILE"
	KeyClientKeyFile       = "CLIENT_KEY_FILE"
	KeyCertExpiryWarnDays  = "CERT_EXPIRY_WARN_DAYS"
	KeyTLSServerName       = "DAEMON_TLS_SERVER_NAME"
	KeyTopology            = "TOPOLOGY"
	KeyNetworkName         = "NETWORK_NAME"
	KeySubnet              = "SUBNET"
	KeyGateway             = "GATEWAY"
	KeyParentInterface     = "PARENT_INTERFACE"
	KeyIPRangeStart        = "IP_RANGE_START"
	KeyPortBase            = "PORT_BASE"
	KeyServicePort         = "SERVICE_PORT"
	KeyAgentCount          = "AGENT_COUNT"
	KeyAgentPrefix         = "AGENT_PREFIX"
	KeyAgentImage          = "AGENT_IMAGE"
	KeyAgentMemory         = "AGENT_MEMORY"
	KeyAgentCPUShares      = "AGENT_CPU_SHARES"
	KeyRestartPolicy       = "RESTART_POLICY"
	KeySSHKeyPath          = "SSH_KEY_PATH"
	KeySSHUser             = "SSH_USER"
	KeyStartDelay          = "START_DELAY"
	KeyHealthAttempts      = "HEALTH_ATTEMPTS"
	KeyHealthInterval      = "HEALTH_INTERVAL"
	KeyDaemonTimeout       = "DAEMON_TIMEOUT"
	KeyReachabilityTimeout = "REACHABILITY_TIMEOUT"
	KeyLaunchAttempts      = "LAUNCH_ATTEMPTS"
	KeyConcurrency         = "CONCURRENCY"
	KeyRequireReachable    = "REQUIRE_REACHABLE"
	KeyBuildContext        = "BUILD_CONTEXT"
	KeyLogLevel            = "LOG_LEVEL"
	KeyAPIPort             = "API_PORT"
	KeyAPIAdminKey         = "API_ADMIN_KEY"
	KeyAPIJWTSecret        = "API_JWT_SECRET"
)

// Values is a flat set of configuration entries keyed by upper-case name.
type Values map[string]string

// Defaults returns the built-in settings, the lowest layer of every resolution.
func Defaults() Values {
	return Values{
		KeyDaemonHost:          "localhost",
		KeyDaemonPort:          "2376",
		KeyTLSEnabled:          "true",
		KeyCertDir:             "./certs",
		KeyCACertFile:          "ca.pem",
		KeyClientCertFile:      "cert.pem",
		KeyClientKeyFile:       "key.pem",
		KeyCertExpiryWarnDays:  "30",
		KeyTLSServerName:       "",
		KeyTopology:            "bridge",
		KeyNetworkName:         "build-agents",
		KeySubnet:              "172.20.0.0/16",
		KeyGateway:             "172.20.0.1",
		KeyParentInterface:     "eth0",
		KeyIPRangeStart:        "10",
		KeyPortBase:            "2200",
		KeyServicePort:         "22",
		KeyAgentCount:          "3",
		KeyAgentPrefix:         "build-agent-",
		KeyAgentImage:          "build-agent:latest",
		KeyAgentMemory:         "2g",
		KeyAgentCPUShares:      "1024",
		KeyRestartPolicy:       "unless-stopped",
		KeySSHKeyPath:          "",
		KeySSHUser:             "jenkins",
		KeyStartDelay:          "2s",
		KeyHealthAttempts:      "10",
		KeyHealthInterval:      "3s",
		KeyDaemonTimeout:       "30s",
		KeyReachabilityTimeout: "5s",
		KeyLaunchAttempts:      "2",
		KeyConcurrency:         "4",
		KeyRequireReachable:    "false",
		KeyBuildContext:        "./agent",
		KeyLogLevel:            "INFO",
		KeyAPIPort:             "8080",
		KeyAPIAdminKey:         "",
		KeyAPIJWTSecret:        "",
	}
}

// Known reports whether key is a recognised configuration key.
func Known(key string) bool {
	_, ok := Defaults()[strings.ToUpper(key)]
	return ok
}

// KnownKeys returns every recognised key in sorted order.
func KnownKeys() []string {
	d := Defaults()
	keys := make([]string, 0, len(d))
	for k := range d {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Scoped returns the entries named <ENV>_<KEY> for known keys, with the prefix stripped.
func (v Values) Scoped(envName string) Values {
	if envName == "" {
		return nil
	}
	prefix := strings.ToUpper(envName) + "_"
	out := Values{}
	for k, val := range v {
		upper := strings.ToUpper(k)
		if !strings.HasPrefix(upper, prefix) {
			continue
		}
		if key := strings.TrimPrefix(upper, prefix); Known(key) {
			out[key] = val
		}
	}
	return out
}

// Plain returns only the entries whose names are known keys.
func (v Values) Plain() Values {
	out := Values{}
	for k, val := range v {
		if upper := strings.ToUpper(k); Known(upper) {
			out[upper] = val
		}
	}
	return out
}

// ParseEnviron converts KEY=VALUE pairs, as returned by os.Environ, into Values.
func ParseEnviron(environ []string) Values {
	out := make(Values, len(environ))
	for _, kv := range environ {
		if k, val, ok := strings.Cut(kv, "="); ok && k != "" {
			out[k] = val
		}
	}
	return out
}
