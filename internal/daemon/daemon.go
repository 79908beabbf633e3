// Package daemon wires configuration, the shared connection, the command
// executor, and the VFS operation surface together into one mountable unit
// (adapted from the lineage's internal/adapter, which wired an S3 backend,
// cache, and write buffer the same way).
package daemon

import (
	"context"
	"fmt"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/objectfs/ftpfs/internal/circuit"
	"github.com/objectfs/ftpfs/internal/command"
	"github.com/objectfs/ftpfs/internal/config"
	"github.com/objectfs/ftpfs/internal/connection"
	"github.com/objectfs/ftpfs/internal/ftpconn"
	"github.com/objectfs/ftpfs/internal/fuse"
	"github.com/objectfs/ftpfs/internal/metrics"
	"github.com/objectfs/ftpfs/pkg/retry"
	"github.com/objectfs/ftpfs/pkg/utils"
)

// Daemon owns every long-lived component for one FTP mount: the shared
// connection, the command executor, the metrics exporter, and the mounted
// filesystem.
type Daemon struct {
	cfg *config.Configuration

	logger  *utils.StructuredLogger
	metrics *metrics.Collector

	shared   *connection.SharedConn
	executor *command.Executor
	fs       *fuse.FS
	mount    *fuse.MountManager
}

// New dials the control connection, builds the command executor and VFS
// layer, and returns a Daemon ready to Run.
func New(ctx context.Context, cfg *config.Configuration) (*Daemon, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("daemon: invalid configuration: %w", err)
	}
	if err := utils.ValidatePath(cfg.Global.MountPoint, true); err != nil {
		return nil, fmt.Errorf("daemon: mount_point: %w", err)
	}

	logger, err := newLogger(cfg)
	if err != nil {
		return nil, fmt.Errorf("daemon: logger setup: %w", err)
	}

	mcollector, err := metrics.NewCollector(&metrics.Config{
		Enabled:   cfg.Monitoring.MetricsEnabled,
		Port:      cfg.Monitoring.MetricsPort,
		Path:      "/metrics",
		Namespace: "ftpfs",
	})
	if err != nil {
		return nil, fmt.Errorf("daemon: metrics setup: %w", err)
	}

	dialOpts := dialOptions(cfg)
	client, err := ftpconn.Dial(dialOpts)
	if err != nil {
		return nil, fmt.Errorf("daemon: control connection: %w", err)
	}

	breakerCfg := circuit.Config{
		MaxRequests: 1,
		Timeout:     cfg.Network.CircuitBreaker.Timeout,
	}
	shared := connection.New(client, breakerCfg)

	retryCfg := retry.Config{
		MaxAttempts:  cfg.Network.Retry.MaxAttempts,
		InitialDelay: cfg.Network.Retry.InitialDelay,
		MaxDelay:     cfg.Network.Retry.MaxDelay,
		Multiplier:   2.0,
		Jitter:       true,
	}
	executor := command.New(shared, retryCfg, logger.WithComponent("command"))

	dialWrite := func() (ftpconn.Conn, error) { return ftpconn.Dial(dialOpts) }

	fs := fuse.New(fuse.Deps{
		Conn:      shared,
		Executor:  executor,
		DialWrite: dialWrite,
		Metrics:   mcollector,
		Logger:    logger.WithComponent("fuse"),
	})

	return &Daemon{
		cfg:      cfg,
		logger:   logger,
		metrics:  mcollector,
		shared:   shared,
		executor: executor,
		fs:       fs,
		mount:    fuse.NewMountManager(fs),
	}, nil
}

// Run mounts the filesystem, starts the metrics exporter, and blocks until
// ctx is canceled, then unmounts cleanly.
func (d *Daemon) Run(ctx context.Context) error {
	d.logger.Info("starting daemon", map[string]interface{}{
		"mount_point": d.cfg.Global.MountPoint,
		"host":        d.cfg.FTP.Host,
	})

	if err := d.metrics.Start(ctx); err != nil {
		return fmt.Errorf("daemon: metrics: %w", err)
	}

	allowOther := false
	if err := d.mount.Mount(d.cfg.Global.MountPoint, allowOther); err != nil {
		return fmt.Errorf("daemon: mount: %w", err)
	}
	d.logger.Info("mounted", map[string]interface{}{"mount_point": d.cfg.Global.MountPoint})

	<-ctx.Done()
	return d.Stop()
}

// Stop unmounts the filesystem, stops the metrics exporter, and closes the
// shared connection. Safe to call once. All three teardown steps run even
// if an earlier one fails, so a blocked unmount never hides a dead control
// connection that also needs closing; their errors are joined, not
// truncated to the first.
func (d *Daemon) Stop() error {
	d.logger.Info("stopping daemon", nil)

	var result *multierror.Error
	if err := d.mount.Unmount(); err != nil {
		result = multierror.Append(result, fmt.Errorf("unmount: %w", err))
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := d.metrics.Stop(stopCtx); err != nil {
		result = multierror.Append(result, fmt.Errorf("metrics stop: %w", err))
	}

	if err := d.shared.Close(); err != nil {
		result = multierror.Append(result, fmt.Errorf("connection close: %w", err))
	}

	_ = d.logger.Close()
	return result.ErrorOrNil()
}

func dialOptions(cfg *config.Configuration) ftpconn.Options {
	opts := ftpconn.Options{
		Host:           cfg.FTP.Host,
		User:           cfg.FTP.User,
		Password:       cfg.FTP.Password,
		ConnectTimeout: cfg.Mode.ConnectTimeout,
		DisableEPSV:    cfg.Mode.DisableEPSV,
		UTF8:           cfg.FTP.UTF8,
	}
	if cfg.TLS.Mode != "" && cfg.TLS.Mode != "none" {
		opts.TLS = &ftpconn.TLSOptions{
			Mode:       cfg.TLS.Mode,
			VerifyHost: cfg.TLS.VerifyHost,
		}
	}
	return opts
}

func newLogger(cfg *config.Configuration) (*utils.StructuredLogger, error) {
	level, err := utils.ParseLogLevel(cfg.Global.LogLevel)
	if err != nil {
		return nil, err
	}

	format := utils.FormatText
	if cfg.Monitoring.LogFormat == "json" {
		format = utils.FormatJSON
	}

	return utils.NewStructuredLogger(&utils.StructuredLoggerConfig{
		Level:         level,
		Format:        format,
		IncludeCaller: true,
	})
}
