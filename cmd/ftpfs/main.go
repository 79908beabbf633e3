// Command ftpfs mounts a remote FTP server as a local FUSE filesystem.
//
// Usage:
//
//	ftpfs -config ftpfs.yaml -mount /mnt/remote -host ftp.example.com:21 -user anonymous
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/objectfs/ftpfs/internal/config"
	"github.com/objectfs/ftpfs/internal/daemon"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "ftpfs:", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configPath = flag.String("config", "", "path to a YAML configuration file")
		mountPoint = flag.String("mount", "", "local directory to mount at")
		host       = flag.String("host", "", "FTP server host:port")
		user       = flag.String("user", "anonymous", "FTP username")
		password   = flag.String("password", "", "FTP password")
		logLevel   = flag.String("log-level", "", "TRACE, DEBUG, INFO, WARN, ERROR, or FATAL")
	)
	flag.Parse()

	cfg := config.NewDefault()
	if *configPath != "" {
		if err := cfg.LoadFromFile(*configPath); err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
	}
	if err := cfg.LoadFromEnv(); err != nil {
		return fmt.Errorf("loading env overrides: %w", err)
	}

	if *mountPoint != "" {
		cfg.Global.MountPoint = *mountPoint
	}
	if *host != "" {
		cfg.FTP.Host = *host
	}
	if *user != "" {
		cfg.FTP.User = *user
	}
	if *password != "" {
		cfg.FTP.Password = *password
	}
	if *logLevel != "" {
		cfg.Global.LogLevel = *logLevel
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	d, err := daemon.New(ctx, cfg)
	if err != nil {
		return fmt.Errorf("initializing daemon: %w", err)
	}

	return d.Run(ctx)
}
