package registry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/upb/model-control-plane/models"
	"github.com/upb/model-control-plane/services"
	"go.uber.org/zap"
)

// Loader is the part of the registry the scheduler drives
type Loader interface {
	Load(ctx context.Context, key models.ModelKey, params models.LoadParams) (bool, error)
}

// LoadTask is one queued background load
type LoadTask struct {
	ID          string
	Key         models.ModelKey
	Params      models.LoadParams
	Requester   models.Principal
	RequestID   string
	SubmittedAt time.Time
}

// CompletionFunc observes the outcome of a task. loaded is false when the key was already present.
type CompletionFunc func(task LoadTask, loaded bool, err error)

// SchedulerConfig holds configuration for the Scheduler
type SchedulerConfig struct {
	Workers   int           // Number of concurrent loads
	QueueSize int           // Pending tasks accepted before Submit fails
	Timeout   time.Duration // Upper bound for one load
}

// Scheduler runs model loads on a bounded worker pool. Submit only reports acceptance;
// the outcome becomes visible through the registry.
type Scheduler struct {
	loader     Loader
	logger     *zap.Logger
	tasks      chan LoadTask
	workers    int
	queueSize  int
	timeout    time.Duration
	onComplete []CompletionFunc
	wg         sync.WaitGroup
	ctx        context.Context
	cancel     context.CancelFunc
	started    bool
	stopped    bool
	mu         sync.Mutex
}

// NewScheduler creates a new Scheduler instance
func NewScheduler(loader Loader, cfg SchedulerConfig, logger *zap.Logger) *Scheduler {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1
	}
	ctx, cancel := context.WithCancel(context.Background())

	return &Scheduler{
		loader:    loader,
		logger:    logger,
		tasks:     make(chan LoadTask, cfg.QueueSize),
		workers:   cfg.Workers,
		queueSize: cfg.QueueSize,
		timeout:   cfg.Timeout,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// OnComplete registers fn to run after every task. Register before Start.
func (s *Scheduler) OnComplete(fn CompletionFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onComplete = append(s.onComplete, fn)
}

// Start starts the background workers
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return fmt.Errorf("load scheduler already started")
	}

	for i := 0; i < s.workers; i++ {
		s.wg.Add(1)
		go s.worker(i)
	}

	s.started = true
	s.logger.Info("started load scheduler",
		zap.Int("worker_count", s.workers),
		zap.Int("queue_size", s.queueSize))

	return nil
}

// Stop stops accepting tasks and waits for queued ones to finish.
// Loads still running when timeout expires are cancelled.
func (s *Scheduler) Stop(timeout time.Duration) error {
	s.mu.Lock()
	if !s.started || s.stopped {
		s.mu.Unlock()
		return fmt.Errorf("load scheduler not running")
	}
	s.stopped = true
	close(s.tasks)
	s.mu.Unlock()

	s.logger.Info("stopping load scheduler", zap.Int("pending_tasks", len(s.tasks)))

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.cancel()
		s.logger.Info("load scheduler stopped gracefully")
		return nil
	case <-time.After(timeout):
		s.cancel()
		return fmt.Errorf("load scheduler stop timeout after %v", timeout)
	}
}

// Submit queues a load and returns its task id without waiting for it
func (s *Scheduler) Submit(task LoadTask) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started || s.stopped {
		return "", services.ErrInternal.WithMessage("load scheduler not running")
	}

	task.ID = uuid.NewString()
	task.SubmittedAt = time.Now().UTC()

	select {
	case s.tasks <- task:
		s.logger.Info("model load queued",
			zap.String("task_id", task.ID),
			zap.String("model", task.Key.String()),
			zap.String("requested_by", task.Requester.Username),
			zap.String("request_id", task.RequestID))
		return task.ID, nil
	default:
		s.logger.Warn("load queue full, rejecting task",
			zap.String("model", task.Key.String()),
			zap.Int("queue_size", s.queueSize))
		return "", services.ErrLoadQueueFull.WithDetail("model", task.Key.String())
	}
}

func (s *Scheduler) worker(id int) {
	defer s.wg.Done()

	s.logger.Debug("load worker started", zap.Int("worker_id", id))

	for task := range s.tasks {
		s.run(id, task)
	}

	s.logger.Debug("load worker stopped", zap.Int("worker_id", id))
}

func (s *Scheduler) run(workerID int, task LoadTask) {
	ctx := s.ctx
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	started := time.Now()
	loaded, err := s.loader.Load(ctx, task.Key, task.Params)
	if err != nil {
		s.logger.Error("background model load failed",
			zap.Int("worker_id", workerID),
			zap.String("task_id", task.ID),
			zap.String("model", task.Key.String()),
			zap.String("request_id", task.RequestID),
			zap.Error(err))
	} else {
		s.logger.Info("background model load finished",
			zap.String("task_id", task.ID),
			zap.String("model", task.Key.String()),
			zap.Bool("loaded", loaded),
			zap.Duration("duration", time.Since(started)))
	}

	s.mu.Lock()
	hooks := s.onComplete
	s.mu.Unlock()
	for _, fn := range hooks {
		fn(task, loaded, err)
	}
}

// GetStats returns statistics about the scheduler
func (s *Scheduler) GetStats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	return Stats{
		QueueSize:    s.queueSize,
		PendingTasks: len(s.tasks),
		WorkerCount:  s.workers,
		Started:      s.started && !s.stopped,
	}
}

// Stats represents scheduler statistics
type Stats struct {
	QueueSize    int  `json:"queue_size"`
	PendingTasks int  `json:"pending_tasks"`
	WorkerCount  int  `json:"worker_count"`
	Started      bool `json:"started"`
}
