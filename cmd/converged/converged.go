package main

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/convergeio/converge/daemon/config"
	"github.com/convergeio/converge/version"
)

// defaultConfigFile is only read when it exists; a missing default is
// not an error, unlike a file named with an explicit --config-file.
const defaultConfigFile = "/etc/converge/daemon.json"

type daemonOptions struct {
	version      bool
	configFile   string
	daemonConfig *config.Config
	flags        *pflag.FlagSet
}

func newDaemonCommand() *cobra.Command {
	opts := daemonOptions{
		daemonConfig: config.New(),
	}

	cmd := &cobra.Command{
		Use:           "converged [OPTIONS]",
		Short:         "The central authority for converge repositories.",
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.flags = cmd.Flags()
			return runDaemon(opts)
		},
	}

	flags := cmd.Flags()
	flags.BoolVarP(&opts.version, "version", "v", false, "Print version information and quit")
	flags.StringVar(&opts.configFile, "config-file", defaultConfigFile, "Daemon configuration file")
	opts.daemonConfig.InstallFlags(flags)

	return cmd
}

func runDaemon(opts daemonOptions) error {
	if opts.version {
		showVersion()
		return nil
	}
	return NewDaemonCli().start(opts)
}

func showVersion() {
	fmt.Printf("converged version %s, build %s\n", version.Version, version.GitCommit)
}

func main() {
	logrus.SetOutput(os.Stderr)

	cmd := newDaemonCommand()
	cmd.SetOut(os.Stdout)
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}
