package config

import (
	"fmt"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"github.com/vertextoedge/book-downloader/internal/domain"
	"github.com/vertextoedge/book-downloader/internal/domain/vo"
	"go.uber.org/zap"
)

// Config represents the entire application configuration
type Config struct {
	Transfer      TransferConfig      `mapstructure:"transfer"`
	Engine        EngineConfig        `mapstructure:"engine"`
	HTTP          HTTPConfig          `mapstructure:"http"`
	Notifications NotificationsConfig `mapstructure:"notifications"`
	Maintenance   MaintenanceConfig   `mapstructure:"maintenance"`
	Logging       LoggingConfig       `mapstructure:"logging"`
	Database      DatabaseConfig      `mapstructure:"database"`
}

// TransferConfig contains download lifecycle settings
type TransferConfig struct {
	DocumentsDir       string `mapstructure:"documents_dir"`
	TempDir            string `mapstructure:"temp_dir"`
	SizeThreshold      string `mapstructure:"size_threshold"` // bytes, or a size such as "100 MB"
	FlushInterval      string `mapstructure:"flush_interval"`
	ProgressInterval   string `mapstructure:"progress_interval"`
	AutoResumeAttempts int    `mapstructure:"auto_resume_attempts"`
	AutoResumeDelay    string `mapstructure:"auto_resume_delay"`
	ShutdownTimeout    string `mapstructure:"shutdown_timeout"`
}

// EngineConfig contains HTTP transfer engine settings
type EngineConfig struct {
	RetryMax              int    `mapstructure:"retry_max"`
	RetryWaitMin          string `mapstructure:"retry_wait_min"`
	RetryWaitMax          string `mapstructure:"retry_wait_max"`
	ResponseHeaderTimeout string `mapstructure:"response_header_timeout"`
	BufferSizeKB          int    `mapstructure:"buffer_size_kb"`
}

// HTTPConfig contains HTTP server configuration
type HTTPConfig struct {
	BindAddr     string `mapstructure:"bind_addr"`
	ReadTimeout  string `mapstructure:"read_timeout"`
	WriteTimeout string `mapstructure:"write_timeout"`
	IdleTimeout  string `mapstructure:"idle_timeout"`

	// Control routes require basic auth when both are set
	AdminUsername string `mapstructure:"admin_username"`
	AdminPassword string `mapstructure:"admin_password"`
}

// NotificationsConfig contains notification settings
type NotificationsConfig struct {
	WebhookURL string `mapstructure:"webhook_url"`

	// DownloadFinished is only the startup value; use LivePreferences
	DownloadFinished bool `mapstructure:"download_finished"`
}

// MaintenanceConfig contains background maintenance settings
type MaintenanceConfig struct {
	ReconcileInterval string `mapstructure:"reconcile_interval"`
	CleanupInterval   string `mapstructure:"cleanup_interval"`
	TempFileMaxAge    string `mapstructure:"temp_file_max_age"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// DatabaseConfig contains database settings
type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// Load loads configuration from the specified file path
func Load(configPath string) (*Config, error) {
	viper.SetConfigFile(configPath)
	viper.SetConfigType("yaml")

	// Set defaults
	viper.SetDefault("transfer.documents_dir", "/var/lib/book-downloader/books")
	viper.SetDefault("transfer.temp_dir", "")
	viper.SetDefault("transfer.size_threshold", "100MB")
	viper.SetDefault("transfer.flush_interval", "1s")
	viper.SetDefault("transfer.progress_interval", "250ms")
	viper.SetDefault("transfer.auto_resume_attempts", 0)
	viper.SetDefault("transfer.auto_resume_delay", "30s")
	viper.SetDefault("transfer.shutdown_timeout", "10s")
	viper.SetDefault("engine.retry_max", 3)
	viper.SetDefault("engine.retry_wait_min", "1s")
	viper.SetDefault("engine.retry_wait_max", "30s")
	viper.SetDefault("engine.response_header_timeout", "1m")
	viper.SetDefault("engine.buffer_size_kb", 256)
	viper.SetDefault("http.bind_addr", "0.0.0.0:8080")
	viper.SetDefault("http.read_timeout", "30s")
	viper.SetDefault("http.write_timeout", "30s")
	viper.SetDefault("http.idle_timeout", "60s")
	viper.SetDefault("notifications.webhook_url", "")
	viper.SetDefault("notifications.download_finished", true)
	viper.SetDefault("maintenance.reconcile_interval", "1m")
	viper.SetDefault("maintenance.cleanup_interval", "1h")
	viper.SetDefault("maintenance.temp_file_max_age", "24h")
	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")
	viper.SetDefault("database.path", "/var/lib/book-downloader/books.db")

	// Read config file
	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Validate configuration
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	// Validate transfer config
	if c.Transfer.DocumentsDir == "" {
		return fmt.Errorf("transfer.documents_dir is required")
	}
	if _, err := vo.ParseFileSize(c.Transfer.SizeThreshold); err != nil {
		return fmt.Errorf("invalid transfer.size_threshold: %w", err)
	}
	if c.Transfer.AutoResumeAttempts < 0 || c.Transfer.AutoResumeAttempts > 10 {
		return fmt.Errorf("transfer.auto_resume_attempts must be between 0 and 10")
	}

	// Validate engine config
	if c.Engine.RetryMax < 0 || c.Engine.RetryMax > 10 {
		return fmt.Errorf("engine.retry_max must be between 0 and 10")
	}
	if c.Engine.BufferSizeKB <= 0 {
		return fmt.Errorf("engine.buffer_size_kb must be positive")
	}

	if (c.HTTP.AdminUsername == "") != (c.HTTP.AdminPassword == "") {
		return fmt.Errorf("http.admin_username and http.admin_password must be set together")
	}

	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}

	// Validate durations
	durations := map[string]string{
		"transfer.flush_interval":        c.Transfer.FlushInterval,
		"transfer.progress_interval":     c.Transfer.ProgressInterval,
		"transfer.auto_resume_delay":     c.Transfer.AutoResumeDelay,
		"transfer.shutdown_timeout":      c.Transfer.ShutdownTimeout,
		"engine.retry_wait_min":          c.Engine.RetryWaitMin,
		"engine.retry_wait_max":          c.Engine.RetryWaitMax,
		"engine.response_header_timeout": c.Engine.ResponseHeaderTimeout,
		"maintenance.reconcile_interval": c.Maintenance.ReconcileInterval,
		"maintenance.cleanup_interval":   c.Maintenance.CleanupInterval,
		"maintenance.temp_file_max_age":  c.Maintenance.TempFileMaxAge,
	}
	for key, value := range durations {
		if _, err := time.ParseDuration(value); err != nil {
			return fmt.Errorf("invalid %s: %w", key, err)
		}
	}
	if c.Transfer.GetFlushInterval() <= 0 {
		return fmt.Errorf("transfer.flush_interval must be positive")
	}

	// Validate logging config
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
		// Valid levels
	default:
		return fmt.Errorf("invalid logging.level: %s", c.Logging.Level)
	}

	switch c.Logging.Format {
	case "json", "text":
		// Valid formats
	default:
		return fmt.Errorf("invalid logging.format: %s", c.Logging.Format)
	}

	return nil
}

// parseDuration returns def when value is empty or invalid
func parseDuration(value string, def time.Duration) time.Duration {
	d, err := time.ParseDuration(value)
	if err != nil || d == 0 {
		return def
	}
	return d
}

// GetSizeThreshold returns the size threshold in bytes
func (c *TransferConfig) GetSizeThreshold() int64 {
	size, err := vo.ParseFileSize(c.SizeThreshold)
	if err != nil {
		return domain.DefaultSizeThreshold
	}
	return size.Bytes()
}

// GetFlushInterval returns the progress flush interval as time.Duration
func (c *TransferConfig) GetFlushInterval() time.Duration {
	return parseDuration(c.FlushInterval, time.Second)
}

// GetProgressInterval returns the engine progress report interval
func (c *TransferConfig) GetProgressInterval() time.Duration {
	return parseDuration(c.ProgressInterval, 250*time.Millisecond)
}

// GetAutoResumeDelay returns the delay before an automatic resume
func (c *TransferConfig) GetAutoResumeDelay() time.Duration {
	return parseDuration(c.AutoResumeDelay, 30*time.Second)
}

// GetShutdownTimeout returns how long shutdown waits for resume tokens
func (c *TransferConfig) GetShutdownTimeout() time.Duration {
	return parseDuration(c.ShutdownTimeout, 10*time.Second)
}

// GetRetryWaitMin returns the minimum retry backoff
func (c *EngineConfig) GetRetryWaitMin() time.Duration {
	return parseDuration(c.RetryWaitMin, time.Second)
}

// GetRetryWaitMax returns the maximum retry backoff
func (c *EngineConfig) GetRetryWaitMax() time.Duration {
	return parseDuration(c.RetryWaitMax, 30*time.Second)
}

// GetResponseHeaderTimeout returns the response header timeout
func (c *EngineConfig) GetResponseHeaderTimeout() time.Duration {
	return parseDuration(c.ResponseHeaderTimeout, time.Minute)
}

// GetReadTimeout returns the read timeout as time.Duration
func (c *HTTPConfig) GetReadTimeout() time.Duration {
	return parseDuration(c.ReadTimeout, 30*time.Second)
}

// GetWriteTimeout returns the write timeout as time.Duration
func (c *HTTPConfig) GetWriteTimeout() time.Duration {
	return parseDuration(c.WriteTimeout, 30*time.Second)
}

// GetIdleTimeout returns the idle timeout as time.Duration
func (c *HTTPConfig) GetIdleTimeout() time.Duration {
	return parseDuration(c.IdleTimeout, 60*time.Second)
}

// GetReconcileInterval returns the task reconcile interval
func (c *MaintenanceConfig) GetReconcileInterval() time.Duration {
	return parseDuration(c.ReconcileInterval, time.Minute)
}

// GetCleanupInterval returns the temp file cleanup interval
func (c *MaintenanceConfig) GetCleanupInterval() time.Duration {
	return parseDuration(c.CleanupInterval, time.Hour)
}

// GetTempFileMaxAge returns the age after which temp files are removed
func (c *MaintenanceConfig) GetTempFileMaxAge() time.Duration {
	return parseDuration(c.TempFileMaxAge, 24*time.Hour)
}

// LivePreferences reads user preferences from viper at call time,
// so edits to the config file apply without a restart
type LivePreferences struct {
	v *viper.Viper
}

// NewLivePreferences creates LivePreferences over v
func NewLivePreferences(v *viper.Viper) *LivePreferences {
	return &LivePreferences{v: v}
}

// DownloadFinishedNotifications reports whether completion notifications are on
func (p *LivePreferences) DownloadFinishedNotifications() bool {
	return p.v.GetBool("notifications.download_finished")
}

// Watch reloads the config file whenever it changes on disk. setLevel
// receives logging.level after each change; nil keeps the level fixed.
func Watch(logger *zap.Logger, setLevel func(level string) error) {
	viper.OnConfigChange(func(e fsnotify.Event) {
		applyChange(viper.GetViper(), e, logger, setLevel)
	})
	viper.WatchConfig()
}

func applyChange(v *viper.Viper, e fsnotify.Event, logger *zap.Logger, setLevel func(string) error) {
	level := v.GetString("logging.level")
	logger.Info("config file changed",
		zap.String("file", e.Name),
		zap.String("op", e.Op.String()),
		zap.String("log_level", level),
		zap.Bool("download_finished_notifications", v.GetBool("notifications.download_finished")))

	if setLevel == nil {
		return
	}
	if err := setLevel(level); err != nil {
		logger.Warn("ignoring log level change", zap.String("level", level), zap.Error(err))
	}
}
