package daemon

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/objectfs/ftpfs/internal/config"
)

func TestNewRejectsMountPointWithTraversal(t *testing.T) {
	cfg := config.NewDefault()
	cfg.Global.MountPoint = "/mnt/../etc"
	cfg.FTP.Host = "ftp.example.com:21"

	_, err := New(context.Background(), cfg)
	assert.Error(t, err)
}

func TestDialOptionsMapsFTPAndTLSFields(t *testing.T) {
	cfg := config.NewDefault()
	cfg.FTP.Host = "ftp.example.com:21"
	cfg.FTP.User = "anonymous"
	cfg.FTP.Password = "guest"
	cfg.Mode.DisableEPSV = true
	cfg.TLS.Mode = "control"
	cfg.TLS.VerifyHost = true

	opts := dialOptions(cfg)
	assert.Equal(t, "ftp.example.com:21", opts.Host)
	assert.Equal(t, "anonymous", opts.User)
	assert.Equal(t, "guest", opts.Password)
	assert.True(t, opts.DisableEPSV)
	require.NotNil(t, opts.TLS)
	assert.Equal(t, "control", opts.TLS.Mode)
	assert.True(t, opts.TLS.VerifyHost)
}

func TestDialOptionsOmitsTLSWhenModeNone(t *testing.T) {
	cfg := config.NewDefault()
	cfg.TLS.Mode = "none"

	opts := dialOptions(cfg)
	assert.Nil(t, opts.TLS)
}

func TestNewLoggerRejectsInvalidLevel(t *testing.T) {
	cfg := config.NewDefault()
	cfg.Global.LogLevel = "NOT-A-LEVEL"

	_, err := newLogger(cfg)
	assert.Error(t, err)
}

func TestNewLoggerUsesJSONFormatWhenConfigured(t *testing.T) {
	cfg := config.NewDefault()
	cfg.Global.LogLevel = "INFO"
	cfg.Monitoring.LogFormat = "json"

	logger, err := newLogger(cfg)
	require.NoError(t, err)
	require.NotNil(t, logger)
}
