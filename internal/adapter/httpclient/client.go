package httpclient

import (
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"
)

// Config contains retrying HTTP client settings
type Config struct {
	RetryMax     int
	RetryWaitMin time.Duration
	RetryWaitMax time.Duration

	// ResponseHeaderTimeout bounds the wait for response headers only.
	// Bodies of large books can legitimately stream for hours.
	ResponseHeaderTimeout time.Duration
}

// DefaultConfig returns default client configuration
func DefaultConfig() *Config {
	return &Config{
		RetryMax:              3,
		RetryWaitMin:          time.Second,
		RetryWaitMax:          30 * time.Second,
		ResponseHeaderTimeout: time.Minute,
	}
}

// New creates a retrying HTTP client that logs through zap
func New(cfg *Config, logger *zap.Logger) *retryablehttp.Client {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	client := retryablehttp.NewClient()
	client.RetryMax = cfg.RetryMax
	if cfg.RetryWaitMin > 0 {
		client.RetryWaitMin = cfg.RetryWaitMin
	}
	if cfg.RetryWaitMax > 0 {
		client.RetryWaitMax = cfg.RetryWaitMax
	}
	client.CheckRetry = RetryPolicy
	// Callers inspect the final status and headers once retries run out
	client.ErrorHandler = retryablehttp.PassthroughErrorHandler
	client.Logger = NewLeveledLogger(logger)

	if tr, ok := client.HTTPClient.Transport.(*http.Transport); ok {
		// Books are already compressed archives
		tr.DisableCompression = true
		if cfg.ResponseHeaderTimeout > 0 {
			tr.ResponseHeaderTimeout = cfg.ResponseHeaderTimeout
		}
	}

	return client
}

// LeveledLogger adapts zap to retryablehttp.LeveledLogger
type LeveledLogger struct {
	logger *zap.SugaredLogger
}

var _ retryablehttp.LeveledLogger = (*LeveledLogger)(nil)

// NewLeveledLogger wraps logger; nil means no logging
func NewLeveledLogger(logger *zap.Logger) *LeveledLogger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LeveledLogger{logger: logger.Named("http").Sugar()}
}

func (l *LeveledLogger) Error(msg string, keysAndValues ...interface{}) {
	l.logger.Errorw(msg, keysAndValues...)
}

func (l *LeveledLogger) Warn(msg string, keysAndValues ...interface{}) {
	l.logger.Warnw(msg, keysAndValues...)
}

// Info is demoted to debug; retryablehttp logs every attempt
func (l *LeveledLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debugw(msg, keysAndValues...)
}

func (l *LeveledLogger) Debug(msg string, keysAndValues ...interface{}) {
	l.logger.Debugw(msg, keysAndValues...)
}
