package maintenance

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/vertextoedge/book-downloader/internal/domain"
	"github.com/vertextoedge/book-downloader/internal/port"
	"go.uber.org/zap"
)

// Config contains maintenance service configuration
type Config struct {
	// ReconcileInterval is how often to look for tasks without a live transfer
	ReconcileInterval time.Duration

	// CleanupInterval is how often to run cleanup tasks
	CleanupInterval time.Duration

	// TempFileMaxAge is the maximum age of temp files before cleanup
	TempFileMaxAge time.Duration
}

// DefaultConfig returns default maintenance configuration
func DefaultConfig() *Config {
	return &Config{
		ReconcileInterval: time.Minute,
		CleanupInterval:   time.Hour,
		TempFileMaxAge:    24 * time.Hour,
	}
}

// Controller restarts downloads whose transfer is gone
type Controller interface {
	// Recover restarts bookID if its task expects a transfer and none is live
	Recover(ctx context.Context, bookID string) error
}

// Service handles periodic maintenance tasks
type Service struct {
	config     *Config
	tasks      port.DownloadTaskRepository
	controller Controller
	fs         port.FileSystem
	logger     *zap.Logger

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New creates a new maintenance Service
func New(cfg *Config, tasks port.DownloadTaskRepository, controller Controller, fs port.FileSystem, logger *zap.Logger) *Service {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.ReconcileInterval == 0 {
		cfg.ReconcileInterval = time.Minute
	}
	if cfg.CleanupInterval == 0 {
		cfg.CleanupInterval = time.Hour
	}
	if cfg.TempFileMaxAge == 0 {
		cfg.TempFileMaxAge = 24 * time.Hour
	}

	return &Service{
		config:     cfg,
		tasks:      tasks,
		controller: controller,
		fs:         fs,
		logger:     logger,
	}
}

// Start starts the maintenance service and blocks until ctx is done or Stop
// is called. Stuck tasks are reconciled once right away.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("maintenance service already running")
	}
	s.running = true
	ctx, s.cancel = context.WithCancel(ctx)
	s.mu.Unlock()

	s.logger.Info("maintenance service started",
		zap.Duration("reconcile_interval", s.config.ReconcileInterval),
		zap.Duration("cleanup_interval", s.config.CleanupInterval))

	s.wg.Add(1)
	go s.maintenanceLoop(ctx)

	<-ctx.Done()
	s.wg.Wait()
	s.logger.Info("maintenance service stopped")
	return nil
}

// Stop stops the maintenance service
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
	}
	s.running = false
}

func (s *Service) maintenanceLoop(ctx context.Context) {
	defer s.wg.Done()

	s.reconcile(ctx)

	reconcileTicker := time.NewTicker(s.config.ReconcileInterval)
	defer reconcileTicker.Stop()

	cleanupTicker := time.NewTicker(s.config.CleanupInterval)
	defer cleanupTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-reconcileTicker.C:
			s.reconcile(ctx)
		case <-cleanupTicker.C:
			s.cleanupTempFiles()
		}
	}
}

// reconcile hands every queued or downloading task to the controller.
// Tasks that already have a live transfer are skipped there.
func (s *Service) reconcile(ctx context.Context) {
	tasks, err := s.tasks.ListTasks()
	if err != nil {
		s.logger.Error("failed to list download tasks", zap.Error(err))
		return
	}

	recovered := 0
	for _, task := range tasks {
		if !task.NeedsTransfer() {
			continue
		}
		if err := s.controller.Recover(ctx, task.BookID); err != nil {
			if errors.Is(err, domain.ErrManagerStopped) || ctx.Err() != nil {
				return
			}
			s.logger.Warn("failed to recover download",
				zap.String("book_id", task.BookID),
				zap.Error(err))
			continue
		}
		recovered++
	}

	if recovered > 0 {
		s.logger.Debug("reconciled download tasks", zap.Int("count", recovered))
	}
}

// cleanupTempFiles removes abandoned partial transfers
func (s *Service) cleanupTempFiles() {
	fileCount, err := s.fs.CleanOldTempFiles(s.config.TempFileMaxAge)
	if err != nil {
		s.logger.Error("failed to cleanup old temp files", zap.Error(err))
	} else if fileCount > 0 {
		s.logger.Info("cleaned up old temp files from filesystem", zap.Int("count", fileCount))
	}
}
