package vfskit

import (
	"time"

	"github.com/gobeaver/beaver-kit/config"
	"github.com/sirupsen/logrus"
)

type Config struct {
	// Handle cache
	CacheCapacity int `env:"VFSKIT_CACHE_CAPACITY,default:256"`

	// Protocol client connection handling
	RetryAttempts  int    `env:"VFSKIT_RETRY_ATTEMPTS,default:3"`
	RetryDelayMS   int    `env:"VFSKIT_RETRY_DELAY_MS,default:200"`
	ConnectTimeout int    `env:"VFSKIT_CONNECT_TIMEOUT,default:30"` // seconds
	TempDir        string `env:"VFSKIT_TEMP_DIR"`

	LogLevel string `env:"VFSKIT_LOG_LEVEL,default:info"`

	// SFTP
	SFTPKnownHosts string `env:"VFSKIT_SFTP_KNOWN_HOSTS"`
	SFTPInsecure   bool   `env:"VFSKIT_SFTP_INSECURE,default:false"`
	SFTPPrivateKey string `env:"VFSKIT_SFTP_PRIVATE_KEY"` // Path to private key file

	// FTP
	FTPTLS bool `env:"VFSKIT_FTP_TLS,default:false"`

	// HTTP
	HTTPUserAgent string `env:"VFSKIT_HTTP_USER_AGENT,default:vfskit"`

	// S3
	S3Region          string `env:"VFSKIT_S3_REGION,default:us-east-1"`
	S3Endpoint        string `env:"VFSKIT_S3_ENDPOINT"`
	S3AccessKeyID     string `env:"VFSKIT_S3_ACCESS_KEY_ID"`
	S3SecretAccessKey string `env:"VFSKIT_S3_SECRET_ACCESS_KEY"`
	S3ForcePathStyle  bool   `env:"VFSKIT_S3_FORCE_PATH_STYLE,default:false"`
}

// DefaultConfig returns the configuration used when none is given.
func DefaultConfig() *Config {
	return &Config{
		CacheCapacity:  256,
		RetryAttempts:  3,
		RetryDelayMS:   200,
		ConnectTimeout: 30,
		LogLevel:       "info",
		HTTPUserAgent:  "vfskit",
		S3Region:       "us-east-1",
	}
}

// GetConfig returns config loaded from environment
func GetConfig() (*Config, error) {
	cfg := &Config{}
	if err := config.Load(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Builder loads configuration with a custom environment prefix.
type Builder struct {
	prefix string
}

// WithPrefix creates a new Builder with the specified prefix
func WithPrefix(prefix string) *Builder {
	return &Builder{prefix: prefix}
}

// Config loads the configuration using the builder's prefix.
func (b *Builder) Config() (*Config, error) {
	cfg := &Config{}
	if err := config.Load(cfg, config.LoadOptions{Prefix: b.prefix}); err != nil {
		return nil, err
	}
	return cfg, nil
}

// New creates a Context from the configuration loaded with the builder's prefix.
func (b *Builder) New(opts ...Option) (*Context, error) {
	cfg, err := b.Config()
	if err != nil {
		return nil, err
	}
	return New(append([]Option{WithConfig(cfg)}, opts...)...)
}

// RetryDelay returns the base delay between reconnect attempts.
func (c *Config) RetryDelay() time.Duration {
	return time.Duration(c.RetryDelayMS) * time.Millisecond
}

// Timeout returns the connect timeout.
func (c *Config) Timeout() time.Duration {
	return time.Duration(c.ConnectTimeout) * time.Second
}

func validateConfig(cfg *Config) error {
	if cfg.CacheCapacity <= 0 {
		return NewPathError("config", "VFSKIT_CACHE_CAPACITY", ErrCodeConfiguration, "cache capacity must be positive")
	}
	if cfg.LogLevel != "" {
		if _, err := logrus.ParseLevel(cfg.LogLevel); err != nil {
			return &PathError{Op: "config", Path: "VFSKIT_LOG_LEVEL", Code: ErrCodeConfiguration, Err: err}
		}
	}
	return nil
}
