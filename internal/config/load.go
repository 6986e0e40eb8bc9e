package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// DefaultFile is read when no config file is named explicitly and it exists.
const DefaultFile = "silo-fleet.env"

// LoadOptions names the impure inputs of a resolution.
type LoadOptions struct {
	// File is an explicit key/value file; it must exist when set.
	File      string
	EnvName   string
	Overrides Values
	// Environ defaults to os.Environ when nil.
	Environ []string
}

// Load reads .env and the key/value file, snapshots the process environment,
// and resolves the effective configuration.
func Load(opts LoadOptions) (EffectiveConfig, error) {
	_ = godotenv.Load()

	path, explicit := opts.File, opts.File != ""
	if !explicit {
		path = DefaultFile
	}

	file, err := ReadFile(path)
	switch {
	case err == nil:
		slog.Debug("Config file loaded", "path", path, "keys", len(file))
	case errors.Is(err, fs.ErrNotExist) && !explicit:
		slog.Debug("No config file, using defaults and environment", "path", path)
		file = nil
	default:
		cfgErr := &ConfigurationError{}
		cfgErr.add("config file", fmt.Errorf("%w: %v", ErrInvalidValue, err))
		return EffectiveConfig{}, cfgErr
	}

	environ := opts.Environ
	if environ == nil {
		environ = os.Environ()
	}

	return Resolve(Sources{
		Defaults:  Defaults(),
		File:      file,
		EnvName:   opts.EnvName,
		Environ:   ParseEnviron(environ),
		Overrides: opts.Overrides,
	})
}

// ReadFile parses a dotenv-style KEY=value file into Values.
func ReadFile(path string) (Values, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, err
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("env")
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	out := Values{}
	for _, k := range v.AllKeys() {
		out[strings.ToUpper(k)] = v.GetString(k)
	}
	return out, nil
}

// ParseOverrides turns KEY=VALUE arguments into Values, rejecting unknown keys.
func ParseOverrides(pairs []string) (Values, error) {
	out := Values{}
	cfgErr := &ConfigurationError{}
	for _, pair := range pairs {
		k, val, ok := strings.Cut(pair, "=")
		k = strings.ToUpper(strings.TrimSpace(k))
		if !ok || k == "" {
			cfgErr.addf(pair, "expected KEY=VALUE")
			continue
		}
		if !Known(k) {
			cfgErr.addf(k, "unknown key")
			continue
		}
		out[k] = val
	}
	return out, cfgErr.orNil()
}
