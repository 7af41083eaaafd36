package main

import (
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
	"gotest.tools/v3/assert"
	is "gotest.tools/v3/assert/cmp"
	"gotest.tools/v3/fs"

	"github.com/convergeio/converge/daemon/config"
)

func defaultOptions(t *testing.T, configFile string) daemonOptions {
	t.Helper()
	opts := daemonOptions{
		daemonConfig: config.New(),
	}
	opts.flags = &pflag.FlagSet{}
	opts.flags.StringVar(&opts.configFile, "config-file", defaultConfigFile, "")
	opts.daemonConfig.InstallFlags(opts.flags)
	opts.configFile = configFile
	assert.NilError(t, opts.flags.Parse([]string{}))
	return opts
}

func TestLoadDaemonCliConfigWithoutOverriding(t *testing.T) {
	opts := defaultOptions(t, "")
	opts.daemonConfig.LogLevel = "warn"

	loadedConfig, err := loadDaemonCliConfig(opts)
	assert.NilError(t, err)
	assert.Assert(t, loadedConfig != nil)
	assert.Check(t, is.Equal("warn", loadedConfig.LogLevel))
	assert.Check(t, is.Equal(config.DefaultAddr, loadedConfig.Addr))
}

func TestLoadDaemonCliConfigFromFile(t *testing.T) {
	tempFile := fs.NewFile(t, "config", fs.WithContent(`{"addr": "127.0.0.1:0", "metrics": true}`))
	defer tempFile.Remove()

	opts := defaultOptions(t, tempFile.Path())
	loadedConfig, err := loadDaemonCliConfig(opts)
	assert.NilError(t, err)
	assert.Assert(t, loadedConfig != nil)
	assert.Check(t, is.Equal("127.0.0.1:0", loadedConfig.Addr))
	assert.Check(t, loadedConfig.Metrics)
}

func TestLoadDaemonCliConfigWithConflicts(t *testing.T) {
	tempFile := fs.NewFile(t, "config", fs.WithContent(`{"log-level": "warn"}`))
	defer tempFile.Remove()
	configFile := tempFile.Path()

	opts := defaultOptions(t, configFile)
	flags := opts.flags

	assert.Check(t, flags.Set("config-file", configFile))
	assert.Check(t, flags.Set("log-level", "debug"))

	_, err := loadDaemonCliConfig(opts)
	assert.Check(t, is.ErrorContains(err, "as a flag and in the configuration file: log-level"))
}

func TestLoadDaemonCliConfigWithUnknownKey(t *testing.T) {
	tempFile := fs.NewFile(t, "config", fs.WithContent(`{"not-a-setting": true}`))
	defer tempFile.Remove()

	opts := defaultOptions(t, tempFile.Path())
	_, err := loadDaemonCliConfig(opts)
	assert.Check(t, is.ErrorContains(err, "don't match any configuration option: not-a-setting"))
}

func TestLoadDaemonCliConfigMissingFile(t *testing.T) {
	t.Run("missing default file is ignored", func(t *testing.T) {
		opts := defaultOptions(t, "/nonexistent/daemon.json")
		loadedConfig, err := loadDaemonCliConfig(opts)
		assert.NilError(t, err)
		assert.Check(t, is.Equal(config.DefaultAddr, loadedConfig.Addr))
	})

	t.Run("missing explicit file is an error", func(t *testing.T) {
		opts := defaultOptions(t, "/nonexistent/daemon.json")
		assert.Check(t, opts.flags.Set("config-file", "/nonexistent/daemon.json"))
		_, err := loadDaemonCliConfig(opts)
		assert.Check(t, is.ErrorContains(err, "unable to configure the daemon with file"))
	})
}

func TestLoadDaemonCliConfigWithLogLevel(t *testing.T) {
	tempFile := fs.NewFile(t, "config", fs.WithContent(`{"log-level": "warn"}`))
	defer tempFile.Remove()

	opts := defaultOptions(t, tempFile.Path())
	loadedConfig, err := loadDaemonCliConfig(opts)
	assert.NilError(t, err)
	assert.Assert(t, loadedConfig != nil)
	assert.Check(t, is.Equal("warn", loadedConfig.LogLevel))
}

func TestConfigureDaemonLogs(t *testing.T) {
	defer logrus.SetLevel(logrus.InfoLevel)

	conf := config.New()
	conf.LogLevel = "foobar"
	err := configureDaemonLogs(conf)
	assert.Check(t, is.ErrorContains(err, "invalid logging level: foobar"))

	conf.LogLevel = "warn"
	assert.NilError(t, configureDaemonLogs(conf))
	assert.Check(t, is.Equal(logrus.WarnLevel, logrus.GetLevel()))
}

func TestParseAddr(t *testing.T) {
	for _, tc := range []struct {
		addr  string
		proto string
		rest  string
	}{
		{addr: "127.0.0.1:8080", proto: "tcp", rest: "127.0.0.1:8080"},
		{addr: "tcp://0.0.0.0:9000", proto: "tcp", rest: "0.0.0.0:9000"},
		{addr: "unix:///run/converge.sock", proto: "unix", rest: "/run/converge.sock"},
	} {
		proto, rest := parseAddr(tc.addr)
		assert.Check(t, is.Equal(tc.proto, proto), tc.addr)
		assert.Check(t, is.Equal(tc.rest, rest), tc.addr)
	}
}
