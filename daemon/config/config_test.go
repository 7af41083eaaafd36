package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/pflag"
	"gotest.tools/v3/assert"
	is "gotest.tools/v3/assert/cmp"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	assert.NilError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestMergeConfigurationNotFound(t *testing.T) {
	_, err := MergeConfigurations(New(), nil, "/tmp/foo-bar-baz-converge")
	assert.Check(t, os.IsNotExist(err), "got: %[1]T: %[1]v", err)
}

func TestMergeBrokenConfiguration(t *testing.T) {
	configFile := writeConfig(t, `{"metrics": tru`)
	_, err := MergeConfigurations(New(), nil, configFile)
	assert.ErrorContains(t, err, `invalid character ' ' in literal true`)
}

// The UTF-8 byte order mark is ignored when reading the configuration
// file.
func TestMergeConfigurationWithBOM(t *testing.T) {
	configFile := writeConfig(t, "\xef\xbb\xbf{\"log-level\": \"debug\"}")
	conf, err := MergeConfigurations(New(), nil, configFile)
	assert.NilError(t, err)
	assert.Check(t, is.Equal(conf.LogLevel, "debug"))
}

func TestMergeFileFillsUnsetFlags(t *testing.T) {
	conf := New()
	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	conf.InstallFlags(flags)

	configFile := writeConfig(t, `{"addr": "0.0.0.0:9999", "metrics": true}`)
	merged, err := MergeConfigurations(conf, flags, configFile)
	assert.NilError(t, err)
	assert.Check(t, is.Equal(merged.Addr, "0.0.0.0:9999"))
	assert.Check(t, merged.Metrics)
	// Untouched settings keep their defaults.
	assert.Check(t, is.Equal(merged.DevUser, DefaultDevUser))
	assert.Check(t, is.Equal(merged.DataDir, DefaultDataDir))
}

func TestMergeConflictingOption(t *testing.T) {
	conf := New()
	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	conf.InstallFlags(flags)
	assert.NilError(t, flags.Set("addr", "127.0.0.1:7000"))

	configFile := writeConfig(t, `{"addr": "0.0.0.0:9999"}`)
	_, err := MergeConfigurations(conf, flags, configFile)
	assert.ErrorContains(t, err, "the following directives are specified both as a flag and in the configuration file")
	assert.ErrorContains(t, err, "addr: (from flag: 127.0.0.1:7000, from file: 0.0.0.0:9999)")
}

func TestFindConfigurationConflictsWithUnknownKeys(t *testing.T) {
	config := map[string]interface{}{"data-root": "/tmp/x"}
	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	New().InstallFlags(flags)

	err := findConfigurationConflicts(config, flags)
	assert.ErrorContains(t, err, "the following directives don't match any configuration option: data-root")
}

func TestValidateConfiguration(t *testing.T) {
	conf := New()
	assert.NilError(t, Validate(conf))

	conf.LogLevel = "everything"
	assert.Check(t, is.Error(Validate(conf), "invalid logging level: everything"))

	conf = New()
	conf.Addr = ""
	assert.Check(t, is.Error(Validate(conf), "listen address cannot be empty"))

	conf = New()
	conf.DataDir = ""
	assert.Check(t, is.Error(Validate(conf), "data dir cannot be empty"))
}

func TestMergeValidatesResult(t *testing.T) {
	configFile := writeConfig(t, `{"log-level": "noisy"}`)
	_, err := MergeConfigurations(New(), nil, configFile)
	assert.ErrorContains(t, err, "invalid logging level: noisy")
}
