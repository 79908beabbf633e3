package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v2"
)

// Configuration is the complete daemon configuration.
type Configuration struct {
	Global     GlobalConfig     `yaml:"global"`
	FTP        FTPConfig        `yaml:"ftp"`
	Proxy      ProxyConfig      `yaml:"proxy"`
	TLS        TLSConfig        `yaml:"tls"`
	Mode       ModeConfig       `yaml:"mode"`
	Charset    CharsetConfig    `yaml:"charset"`
	Network    NetworkConfig    `yaml:"network"`
	Monitoring MonitoringConfig `yaml:"monitoring"`
}

// GlobalConfig holds daemon-wide settings.
type GlobalConfig struct {
	MountPoint string `yaml:"mount_point"`
	LogLevel   string `yaml:"log_level"`
	LogFile    string `yaml:"log_file"`
	HealthPort int    `yaml:"health_port"`
}

// FTPConfig addresses and authenticates the remote FTP server. CustomList is
// read from YAML but nothing consumes it: directory listings always use the
// FTP client's own List.
type FTPConfig struct {
	Host          string `yaml:"host"`
	User          string `yaml:"user"`
	Password      string `yaml:"password"`
	SafeNobody    bool   `yaml:"safe_nobody"`
	UTF8          bool   `yaml:"utf8"`
	CustomList    string `yaml:"custom_list"`
	TransferBlock int    `yaml:"transfer_block_size"`
}

// ProxyConfig configures an optional upstream proxy for the control channel.
type ProxyConfig struct {
	URL        string `yaml:"url"`
	Type       string `yaml:"type"`   // http, socks
	Tunnel     bool   `yaml:"tunnel"`
	AuthScheme string `yaml:"auth_scheme"` // any, ntlm, digest, basic
}

// TLSConfig controls FTPS negotiation.
type TLSConfig struct {
	Mode         string `yaml:"mode"` // none, try, control, all
	ClientCert   string `yaml:"client_cert"`
	ClientKey    string `yaml:"client_key"`
	KeyPassword  string `yaml:"key_password"`
	CAFile       string `yaml:"ca_file"`
	CAPath       string `yaml:"ca_path"`
	CipherList   string `yaml:"cipher_list"`
	VerifyPeer   bool   `yaml:"verify_peer"`
	VerifyHost   bool   `yaml:"verify_host"`
}

// ModeConfig shapes the low-level FTP session behavior.
type ModeConfig struct {
	DisableEPSV    bool          `yaml:"disable_epsv"`
	DisableEPRT    bool          `yaml:"disable_eprt"`
	SkipPASVIP     bool          `yaml:"skip_pasv_ip"`
	FTPPort        string        `yaml:"ftp_port"`
	FileMethod     string        `yaml:"file_method"` // multicwd, singlecwd
	TCPNoDelay     bool          `yaml:"tcp_nodelay"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	Interface      string        `yaml:"interface"`
	KerberosLevel  string        `yaml:"kerberos_level"`
	IPVersion      string        `yaml:"ip_version"` // any, v4, v6
	SSLVersion     string        `yaml:"ssl_version"`
	SSLEngine      string        `yaml:"ssl_engine"`
}

// CharsetConfig is carried through to an external charset converter; this
// daemon performs no transcoding itself.
type CharsetConfig struct {
	Codepage  string `yaml:"codepage"`
	IOCharset string `yaml:"io_charset"`
}

// NetworkConfig drives the command executor's resilience policy.
type NetworkConfig struct {
	Retry          RetryConfig          `yaml:"retry"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
	Timeouts       TimeoutConfig        `yaml:"timeouts"`
}

// RetryConfig maps onto pkg/retry.Config.
type RetryConfig struct {
	MaxAttempts  int           `yaml:"max_attempts"`
	InitialDelay time.Duration `yaml:"initial_delay"`
	MaxDelay     time.Duration `yaml:"max_delay"`
}

// CircuitBreakerConfig maps onto internal/circuit.Config.
type CircuitBreakerConfig struct {
	Enabled          bool          `yaml:"enabled"`
	FailureThreshold int           `yaml:"failure_threshold"`
	Timeout          time.Duration `yaml:"timeout"`
}

// TimeoutConfig bounds control and data channel I/O.
type TimeoutConfig struct {
	Connect time.Duration `yaml:"connect"`
	Read    time.Duration `yaml:"read"`
	Write   time.Duration `yaml:"write"`
}

// MonitoringConfig controls the Prometheus exporter and log format.
type MonitoringConfig struct {
	MetricsEnabled bool   `yaml:"metrics_enabled"`
	MetricsPort    int    `yaml:"metrics_port"`
	LogFormat      string `yaml:"log_format"` // text, json
}

// NewDefault returns a configuration with sensible defaults for mounting a
// single FTP server.
func NewDefault() *Configuration {
	return &Configuration{
		Global: GlobalConfig{
			LogLevel:   "INFO",
			HealthPort: 8081,
		},
		FTP: FTPConfig{
			SafeNobody:    true,
			UTF8:          true,
			TransferBlock: 4096,
		},
		TLS: TLSConfig{
			Mode:       "none",
			VerifyPeer: true,
			VerifyHost: true,
		},
		Mode: ModeConfig{
			FileMethod:     "multicwd",
			TCPNoDelay:     true,
			ConnectTimeout: 10 * time.Second,
			IPVersion:      "any",
		},
		Network: NetworkConfig{
			Retry: RetryConfig{
				MaxAttempts:  3,
				InitialDelay: 200 * time.Millisecond,
				MaxDelay:     5 * time.Second,
			},
			CircuitBreaker: CircuitBreakerConfig{
				Enabled:          true,
				FailureThreshold: 5,
				Timeout:          30 * time.Second,
			},
			Timeouts: TimeoutConfig{
				Connect: 10 * time.Second,
				Read:    30 * time.Second,
				Write:   300 * time.Second,
			},
		},
		Monitoring: MonitoringConfig{
			MetricsEnabled: true,
			MetricsPort:    9090,
			LogFormat:      "text",
		},
	}
}

// LoadFromFile loads and merges YAML configuration from filename.
func (c *Configuration) LoadFromFile(filename string) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}
	return nil
}

// LoadFromEnv overlays environment variables onto c.
func (c *Configuration) LoadFromEnv() error {
	if val := os.Getenv("FTPFS_MOUNT_POINT"); val != "" {
		c.Global.MountPoint = val
	}
	if val := os.Getenv("FTPFS_LOG_LEVEL"); val != "" {
		c.Global.LogLevel = val
	}
	if val := os.Getenv("FTPFS_LOG_FILE"); val != "" {
		c.Global.LogFile = val
	}
	if val := os.Getenv("FTPFS_HEALTH_PORT"); val != "" {
		if port, err := strconv.Atoi(val); err == nil {
			c.Global.HealthPort = port
		}
	}

	if val := os.Getenv("FTPFS_HOST"); val != "" {
		c.FTP.Host = val
	}
	if val := os.Getenv("FTPFS_USER"); val != "" {
		c.FTP.User = val
	}
	if val := os.Getenv("FTPFS_PASSWORD"); val != "" {
		c.FTP.Password = val
	}
	if val := os.Getenv("FTPFS_SAFE_NOBODY"); val != "" {
		c.FTP.SafeNobody = strings.EqualFold(val, "true")
	}
	if val := os.Getenv("FTPFS_UTF8"); val != "" {
		c.FTP.UTF8 = strings.EqualFold(val, "true")
	}

	if val := os.Getenv("FTPFS_TLS_MODE"); val != "" {
		c.TLS.Mode = val
	}

	if val := os.Getenv("FTPFS_METRICS_PORT"); val != "" {
		if port, err := strconv.Atoi(val); err == nil {
			c.Monitoring.MetricsPort = port
		}
	}

	return nil
}

// SaveToFile marshals c as YAML to filename, creating parent directories.
func (c *Configuration) SaveToFile(filename string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(filename), 0750); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(filename, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// Validate rejects configurations the daemon cannot act on.
func (c *Configuration) Validate() error {
	if c.Global.MountPoint == "" {
		return fmt.Errorf("global.mount_point is required")
	}
	if c.FTP.Host == "" {
		return fmt.Errorf("ftp.host is required")
	}

	validLogLevels := []string{"TRACE", "DEBUG", "INFO", "WARN", "ERROR", "FATAL"}
	if !contains(validLogLevels, strings.ToUpper(c.Global.LogLevel)) {
		return fmt.Errorf("invalid log_level: %s (must be one of: %s)",
			c.Global.LogLevel, strings.Join(validLogLevels, ", "))
	}

	validFileMethods := []string{"multicwd", "singlecwd"}
	if !contains(validFileMethods, c.Mode.FileMethod) {
		return fmt.Errorf("invalid mode.file_method: %s (must be one of: %s)",
			c.Mode.FileMethod, strings.Join(validFileMethods, ", "))
	}

	validIPVersions := []string{"any", "v4", "v6"}
	if !contains(validIPVersions, c.Mode.IPVersion) {
		return fmt.Errorf("invalid mode.ip_version: %s (must be one of: %s)",
			c.Mode.IPVersion, strings.Join(validIPVersions, ", "))
	}

	validTLSModes := []string{"none", "try", "control", "all"}
	if !contains(validTLSModes, c.TLS.Mode) {
		return fmt.Errorf("invalid tls.mode: %s (must be one of: %s)",
			c.TLS.Mode, strings.Join(validTLSModes, ", "))
	}

	if c.Mode.DisableEPSV && c.Mode.DisableEPRT && c.Mode.FTPPort == "" {
		return fmt.Errorf("mode.disable_epsv and mode.disable_eprt both set without an explicit mode.ftp_port range")
	}

	if c.Network.Retry.MaxAttempts <= 0 {
		return fmt.Errorf("network.retry.max_attempts must be greater than 0")
	}

	if c.Monitoring.MetricsEnabled && c.Monitoring.MetricsPort == c.Global.HealthPort {
		return fmt.Errorf("monitoring.metrics_port and global.health_port cannot be the same")
	}

	return nil
}

func contains(list []string, val string) bool {
	for _, v := range list {
		if v == val {
			return true
		}
	}
	return false
}
