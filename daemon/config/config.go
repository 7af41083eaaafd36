// Package config provides the converge daemon configuration: built-in
// defaults, command line flags, and an optional JSON configuration file
// merged with conflict detection.
package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"

	"dario.cat/mergo"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
)

// Built-in defaults. The dev user and token exist so a fresh data dir
// is usable without a bootstrap step; supplying a bootstrap token
// disables that seeding.
const (
	DefaultAddr     = "127.0.0.1:8080"
	DefaultDataDir  = "./converge-data"
	DefaultDevUser  = "dev"
	DefaultDevToken = "dev"
	DefaultLogLevel = "info"
)

// Config defines the configuration of the converge daemon. Field names
// double as the keys of the JSON configuration file and match the
// corresponding flag names.
type Config struct {
	Addr           string `json:"addr,omitempty"`
	AddrFile       string `json:"addr-file,omitempty"`
	DataDir        string `json:"data-dir,omitempty"`
	BootstrapToken string `json:"bootstrap-token,omitempty"`
	DevUser        string `json:"dev-user,omitempty"`
	DevToken       string `json:"dev-token,omitempty"`
	LogLevel       string `json:"log-level,omitempty"`
	Metrics        bool   `json:"metrics,omitempty"`
}

// New returns a Config populated with the built-in defaults.
func New() *Config {
	return &Config{
		Addr:     DefaultAddr,
		DataDir:  DefaultDataDir,
		DevUser:  DefaultDevUser,
		DevToken: DefaultDevToken,
		LogLevel: DefaultLogLevel,
	}
}

// InstallFlags adds flags for every configurable field, using the
// current field values as defaults.
func (conf *Config) InstallFlags(flags *pflag.FlagSet) {
	flags.StringVar(&conf.Addr, "addr", conf.Addr, "Address to listen on")
	flags.StringVar(&conf.AddrFile, "addr-file", conf.AddrFile, "Write the bound listen address to this file")
	flags.StringVar(&conf.DataDir, "data-dir", conf.DataDir, "Root directory of persisted converge state")
	flags.StringVar(&conf.BootstrapToken, "bootstrap-token", conf.BootstrapToken, "Static admin bearer token; disables dev user seeding")
	flags.StringVar(&conf.DevUser, "dev-user", conf.DevUser, "Handle of the seeded development user")
	flags.StringVar(&conf.DevToken, "dev-token", conf.DevToken, "Bearer token of the seeded development user")
	flags.StringVar(&conf.LogLevel, "log-level", conf.LogLevel, `Set the logging level ("debug"|"info"|"warn"|"error"|"fatal")`)
	flags.BoolVar(&conf.Metrics, "metrics", conf.Metrics, "Expose Prometheus metrics on /metrics")
}

// MergeConfigurations reads the configuration file and merges it into
// conf. A key that is set both as a flag and in the file is an error
// rather than a silent override, so the file only ever fills in
// settings the command line left alone.
func MergeConfigurations(conf *Config, flags *pflag.FlagSet, configFile string) (*Config, error) {
	fileConfig, err := getConflictFreeConfiguration(configFile, flags)
	if err != nil {
		return nil, err
	}
	merged := *conf
	if err := mergo.Merge(&merged, fileConfig, mergo.WithOverride); err != nil {
		return nil, err
	}
	if err := Validate(&merged); err != nil {
		return nil, errors.Wrap(err, "merged configuration validation from file and command line flags failed")
	}
	return &merged, nil
}

// Validate checks a fully merged configuration.
func Validate(conf *Config) error {
	if conf.LogLevel != "" {
		if _, err := logrus.ParseLevel(conf.LogLevel); err != nil {
			return errors.Errorf("invalid logging level: %s", conf.LogLevel)
		}
	}
	if conf.Addr == "" {
		return errors.New("listen address cannot be empty")
	}
	if conf.DataDir == "" {
		return errors.New("data dir cannot be empty")
	}
	return nil
}

func getConflictFreeConfiguration(configFile string, flags *pflag.FlagSet) (*Config, error) {
	b, err := os.ReadFile(configFile)
	if err != nil {
		return nil, err
	}
	// Strip a UTF-8 byte order mark left by some editors.
	b = bytes.TrimPrefix(b, []byte("\xef\xbb\xbf"))

	var overrides map[string]interface{}
	if err := json.Unmarshal(b, &overrides); err != nil {
		return nil, err
	}
	if flags != nil {
		if err := findConfigurationConflicts(overrides, flags); err != nil {
			return nil, err
		}
	}

	var conf Config
	if err := json.Unmarshal(b, &conf); err != nil {
		return nil, err
	}
	return &conf, nil
}

// findConfigurationConflicts rejects file keys that do not name a
// configuration option and keys that were also set on the command
// line.
func findConfigurationConflicts(config map[string]interface{}, flags *pflag.FlagSet) error {
	var unknownKeys []string
	for key := range config {
		if flags.Lookup(key) == nil {
			unknownKeys = append(unknownKeys, key)
		}
	}
	if len(unknownKeys) > 0 {
		sort.Strings(unknownKeys)
		return errors.Errorf("the following directives don't match any configuration option: %s", strings.Join(unknownKeys, ", "))
	}

	var conflicts []string
	flags.Visit(func(f *pflag.Flag) {
		if value, ok := config[f.Name]; ok {
			conflicts = append(conflicts, fmt.Sprintf("%s: (from flag: %v, from file: %v)", f.Name, f.Value.String(), value))
		}
	})
	if len(conflicts) > 0 {
		sort.Strings(conflicts)
		return errors.Errorf("the following directives are specified both as a flag and in the configuration file: %s", strings.Join(conflicts, ", "))
	}
	return nil
}
