package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/containerd/log"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"

	apiserver "github.com/convergeio/converge/api/server"
	"github.com/convergeio/converge/api/server/middleware"
	"github.com/convergeio/converge/api/server/router"
	gcrouter "github.com/convergeio/converge/api/server/router/gc"
	objectrouter "github.com/convergeio/converge/api/server/router/object"
	publicationrouter "github.com/convergeio/converge/api/server/router/publication"
	releaserouter "github.com/convergeio/converge/api/server/router/release"
	reporouter "github.com/convergeio/converge/api/server/router/repo"
	systemrouter "github.com/convergeio/converge/api/server/router/system"
	userrouter "github.com/convergeio/converge/api/server/router/user"
	"github.com/convergeio/converge/daemon"
	"github.com/convergeio/converge/daemon/config"
	"github.com/convergeio/converge/daemon/listeners"
	"github.com/convergeio/converge/pkg/signal"
	"github.com/convergeio/converge/version"
)

// shutdownTimeout bounds how long in-flight requests may keep running
// after a termination signal.
const shutdownTimeout = 15 * time.Second

// DaemonCli represents the daemon CLI.
type DaemonCli struct {
	*config.Config
	configFile *string
	flags      *pflag.FlagSet
}

// NewDaemonCli returns a daemon CLI.
func NewDaemonCli() *DaemonCli {
	return &DaemonCli{}
}

func (cli *DaemonCli) start(opts daemonOptions) error {
	cfg, err := loadDaemonCliConfig(opts)
	if err != nil {
		return err
	}
	cli.Config = cfg
	cli.flags = opts.flags
	cli.configFile = &opts.configFile

	if err := configureDaemonLogs(cfg); err != nil {
		return err
	}

	ctx := context.Background()

	d, err := daemon.NewDaemon(ctx, cfg)
	if err != nil {
		return errors.Wrap(err, "failed to start daemon")
	}

	srv := &apiserver.Server{}
	srv.UseMiddleware(middleware.AuthMiddleware(d.Identity()))
	if logrus.IsLevelEnabled(logrus.DebugLevel) {
		srv.UseMiddleware(middleware.DebugRequestMiddleware)
	}
	srv.UseMiddleware(middleware.RequestIDMiddleware)

	httpSrv := &http.Server{
		Handler:           srv.CreateMux(buildRouters(d, cfg)...),
		ReadHeaderTimeout: 5 * time.Minute,
	}

	proto, addr := parseAddr(cfg.Addr)
	l, err := listeners.Init(proto, addr)
	if err != nil {
		return errors.Wrapf(err, "failed to listen on %s", cfg.Addr)
	}

	// The bound address can differ from the configured one (port 0);
	// print it and record it for scripts that need to find the server.
	boundAddr := l.Addr().String()
	fmt.Fprintf(os.Stderr, "converge-server listening on %s\n", boundAddr)
	if cfg.AddrFile != "" {
		if err := os.WriteFile(cfg.AddrFile, []byte(boundAddr), 0o644); err != nil {
			return errors.Wrapf(err, "write addr file %s", cfg.AddrFile)
		}
	}

	signal.Trap(func() {
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := httpSrv.Shutdown(sctx); err != nil {
			log.G(ctx).WithError(err).Error("error during API server shutdown")
		}
	})

	log.G(ctx).WithFields(log.Fields{
		"addr":      boundAddr,
		"data-dir":  cfg.DataDir,
		"daemon-id": d.ID(),
		"version":   version.Version,
		"commit":    version.GitCommit,
	}).Info("daemon ready")

	if err := httpSrv.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "serve API")
	}
	return nil
}

func buildRouters(d *daemon.Daemon, cfg *config.Config) []router.Router {
	return []router.Router{
		systemrouter.NewRouter(d, cfg.Metrics),
		userrouter.NewRouter(d),
		reporouter.NewRouter(d),
		objectrouter.NewRouter(d),
		publicationrouter.NewRouter(d),
		releaserouter.NewRouter(d),
		gcrouter.NewRouter(d),
	}
}

// parseAddr splits a listen address into protocol and address. A bare
// host:port listens on TCP; tcp:// and unix:// prefixes select the
// protocol explicitly.
func parseAddr(addr string) (string, string) {
	if proto, rest, ok := strings.Cut(addr, "://"); ok {
		return proto, rest
	}
	return "tcp", addr
}

func loadDaemonCliConfig(opts daemonOptions) (*config.Config, error) {
	conf := opts.daemonConfig
	flags := opts.flags

	if opts.configFile != "" {
		if _, err := os.Stat(opts.configFile); err == nil {
			c, err := config.MergeConfigurations(conf, flags, opts.configFile)
			if err != nil {
				return nil, errors.Wrapf(err, "unable to configure the daemon with file %s", opts.configFile)
			}
			conf = c
		} else if flags.Changed("config-file") || !os.IsNotExist(err) {
			return nil, errors.Wrapf(err, "unable to configure the daemon with file %s", opts.configFile)
		}
	}

	if err := config.Validate(conf); err != nil {
		return nil, err
	}
	return conf, nil
}

func configureDaemonLogs(conf *config.Config) error {
	level, err := logrus.ParseLevel(conf.LogLevel)
	if err != nil {
		return errors.Errorf("invalid logging level: %s", conf.LogLevel)
	}
	logrus.SetLevel(level)
	logrus.SetFormatter(&logrus.TextFormatter{
		TimestampFormat: log.RFC3339NanoFixed,
		FullTimestamp:   true,
	})
	return nil
}
