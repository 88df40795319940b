// Package audit records mutating operations asynchronously.
package audit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/upb/model-control-plane/models"
	"github.com/upb/model-control-plane/repositories"
	"github.com/upb/model-control-plane/services"
	"github.com/upb/model-control-plane/services/registry"
	"go.uber.org/zap"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
	insertTimeout    = 5 * time.Second
)

// Recorder accepts audit entries
type Recorder interface {
	LogEvent(log *models.AuditLog) error
}

// Service writes audit entries to the repository on a pool of workers
type Service struct {
	auditRepo   repositories.AuditRepository
	logger      *zap.Logger
	entries     chan *models.AuditLog
	workerCount int
	bufferSize  int
	wg          sync.WaitGroup
	started     bool
	stopped     bool
	mu          sync.Mutex
}

// Config holds configuration for the Service
type Config struct {
	BufferSize  int // Size of the entry buffer channel
	WorkerCount int // Number of concurrent writers
}

// DefaultConfig returns the default configuration
func DefaultConfig() Config {
	return Config{
		BufferSize:  1024,
		WorkerCount: 2,
	}
}

// NewService creates a new audit Service
func NewService(auditRepo repositories.AuditRepository, logger *zap.Logger, cfg Config) *Service {
	if cfg.WorkerCount <= 0 {
		cfg.WorkerCount = 1
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 1
	}
	return &Service{
		auditRepo:   auditRepo,
		logger:      logger,
		entries:     make(chan *models.AuditLog, cfg.BufferSize),
		workerCount: cfg.WorkerCount,
		bufferSize:  cfg.BufferSize,
	}
}

// Start starts the background workers
func (s *Service) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return fmt.Errorf("audit service already started")
	}

	for i := 0; i < s.workerCount; i++ {
		s.wg.Add(1)
		go s.worker(i)
	}

	s.started = true
	s.logger.Info("started audit service",
		zap.Int("worker_count", s.workerCount),
		zap.Int("buffer_size", s.bufferSize))
	return nil
}

// Stop drains pending entries, giving up after timeout
func (s *Service) Stop(timeout time.Duration) error {
	s.mu.Lock()
	if !s.started || s.stopped {
		s.mu.Unlock()
		return fmt.Errorf("audit service not running")
	}
	s.stopped = true
	close(s.entries)
	s.mu.Unlock()

	s.logger.Info("stopping audit service", zap.Int("pending_entries", len(s.entries)))

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("audit service stopped gracefully")
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("audit service stop timeout after %v", timeout)
	}
}

// LogEvent queues log without blocking. A full buffer drops the entry.
func (s *Service) LogEvent(log *models.AuditLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started || s.stopped {
		return fmt.Errorf("audit service not running")
	}

	select {
	case s.entries <- log:
		return nil
	default:
		s.logger.Warn("audit buffer full, dropping entry",
			zap.String("action", string(log.Action)),
			zap.String("actor", log.Actor))
		return fmt.Errorf("audit buffer full")
	}
}

func (s *Service) worker(id int) {
	defer s.wg.Done()

	for log := range s.entries {
		if err := s.insert(log); err != nil {
			s.logger.Error("failed to write audit entry",
				zap.Int("worker_id", id),
				zap.String("action", string(log.Action)),
				zap.String("actor", log.Actor),
				zap.Error(err))
		}
	}
}

func (s *Service) insert(log *models.AuditLog) error {
	ctx, cancel := context.WithTimeout(context.Background(), insertTimeout)
	defer cancel()
	return s.auditRepo.Insert(ctx, log)
}

// List returns entries newest first, optionally only those recorded for actor
func (s *Service) List(ctx context.Context, actor string, limit, offset int) ([]*models.AuditLog, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	if offset < 0 {
		offset = 0
	}

	var (
		logs []*models.AuditLog
		err  error
	)
	if actor != "" {
		logs, err = s.auditRepo.ListByActor(ctx, actor, limit, offset)
	} else {
		logs, err = s.auditRepo.List(ctx, limit, offset)
	}
	if err != nil {
		return nil, services.WrapDatabase("failed to list audit logs", err)
	}
	return logs, nil
}

// GetStats returns statistics about the audit service
func (s *Service) GetStats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	return Stats{
		BufferSize:     s.bufferSize,
		PendingEntries: len(s.entries),
		WorkerCount:    s.workerCount,
		Started:        s.started && !s.stopped,
	}
}

// Stats represents audit service statistics
type Stats struct {
	BufferSize     int
	PendingEntries int
	WorkerCount    int
	Started        bool
}

// LoadCompleted records the outcome of a background model load. It is registered as a
// registry.CompletionFunc.
func (s *Service) LoadCompleted(task registry.LoadTask, loaded bool, err error) {
	action := models.AuditActionModelLoaded
	if err != nil {
		action = models.AuditActionModelLoadFailed
	}

	log := models.NewAuditLog(task.Requester, action, "model", task.Key.String()).
		WithRequest(task.RequestID, "").
		WithDetails(map[string]interface{}{
			"task_id":        task.ID,
			"already_loaded": err == nil && !loaded,
			"queued_for_ms":  time.Since(task.SubmittedAt).Milliseconds(),
		})
	if err != nil {
		log.WithError(err.Error())
	}

	if logErr := s.LogEvent(log); logErr != nil {
		s.logger.Debug("load outcome not audited", zap.String("task_id", task.ID), zap.Error(logErr))
	}
}
