package tasks

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/lysyi3m/news-import/app/database"
	"github.com/lysyi3m/news-import/app/source"
)

var _ TaskSchedulerInterface = (*Scheduler)(nil)

var ErrSourceNotFound = errors.New("source not found")

type Scheduler struct {
	sourceRepo  database.SourceRepository
	configCache *source.ConfigCache
	runner      ImportRunner
	user        string
	interval    time.Duration
	workerCount int
	ctx         context.Context
	cancel      context.CancelFunc
	wg          sync.WaitGroup
	taskQueue   chan TaskInterface

	mu     sync.Mutex
	queued map[string]bool // sources with an import queued or running
}

func NewScheduler(configCache *source.ConfigCache, sourceRepo database.SourceRepository, runner ImportRunner,
	user string, interval time.Duration, workerCount int) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())

	return &Scheduler{
		sourceRepo:  sourceRepo,
		configCache: configCache,
		runner:      runner,
		user:        user,
		interval:    interval,
		workerCount: workerCount,
		ctx:         ctx,
		cancel:      cancel,
		taskQueue:   make(chan TaskInterface, 300),
		queued:      make(map[string]bool),
	}
}

func (s *Scheduler) Start() {
	for i := 0; i < s.workerCount; i++ {
		s.wg.Add(1)
		go s.worker(i)
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		s.syncSources()
		s.enqueueTasks()

		for {
			select {
			case <-s.ctx.Done():
				return
			case <-ticker.C:
				s.enqueueTasks()
			}
		}
	}()
}

// Stop cancels running tasks and waits for the workers. The queue is left
// open so that pending retries cannot send on a closed channel.
func (s *Scheduler) Stop() {
	s.cancel()
	s.wg.Wait()
}

func (s *Scheduler) EnqueueTask(task TaskInterface) error {
	select {
	case s.taskQueue <- task:
		return nil
	case <-s.ctx.Done():
		return s.ctx.Err()
	default:
		return fmt.Errorf("task queue is full")
	}
}

// TriggerImport queues an import of name regardless of its schedule.
func (s *Scheduler) TriggerImport(name string) error {
	sourceConfig, err := s.configCache.GetConfig(name)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrSourceNotFound, name)
	}

	task := NewImportSourceTask(name, sourceConfig, s.runner, s.sourceRepo, s.user)
	task.Force = true

	return s.enqueueImport(task)
}

// SourceChanged is called by the source watcher. A nil config means the
// file was removed.
func (s *Scheduler) SourceChanged(name string, sourceConfig *source.Config) {
	if sourceConfig == nil {
		slog.Info("Source configuration removed", "source", name)
		return
	}

	syncTask := NewSyncSourceConfigTask(name, sourceConfig, s.sourceRepo)
	if err := s.EnqueueTask(syncTask); err != nil {
		slog.Warn("Failed to enqueue SyncSourceConfigTask", "source", name, "error", err)
	}
}

// RunOnce syncs and imports every enabled source in turn, outside the
// worker pool.
func (s *Scheduler) RunOnce(ctx context.Context) error {
	var errs []error

	for _, sourceConfig := range s.configCache.GetEnabledConfigs() {
		syncTask := NewSyncSourceConfigTask(sourceConfig.Name, sourceConfig, s.sourceRepo)
		syncTask.Start()
		if err := syncTask.Execute(ctx); err != nil {
			errs = append(errs, err)
			continue
		}

		importTask := NewImportSourceTask(sourceConfig.Name, sourceConfig, s.runner, s.sourceRepo, s.user)
		importTask.Start()
		if err := importTask.Execute(ctx); err != nil {
			slog.Error("Import failed", "source", sourceConfig.Name, "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", sourceConfig.Name, err))
		}

		if ctx.Err() != nil {
			break
		}
	}

	return errors.Join(errs...)
}

func (s *Scheduler) enqueueImport(task *ImportSourceTask) error {
	s.mu.Lock()
	if s.queued[task.SourceName] {
		s.mu.Unlock()
		slog.Debug("Import already queued", "source", task.SourceName)
		return nil
	}
	s.queued[task.SourceName] = true
	s.mu.Unlock()

	if err := s.EnqueueTask(task); err != nil {
		s.release(task.SourceName)
		return err
	}
	return nil
}

func (s *Scheduler) release(name string) {
	s.mu.Lock()
	delete(s.queued, name)
	s.mu.Unlock()
}

// syncSources registers every configured source before the first
// scheduling pass looks them up.
func (s *Scheduler) syncSources() {
	sourceConfigs := s.configCache.GetConfigs()
	if len(sourceConfigs) == 0 {
		slog.Debug("No source configurations found")
		return
	}

	slog.Debug("Processing source configurations", "count", len(sourceConfigs))

	for _, sourceConfig := range sourceConfigs {
		syncTask := NewSyncSourceConfigTask(sourceConfig.Name, sourceConfig, s.sourceRepo)
		syncTask.Start()
		if err := syncTask.Execute(s.ctx); err != nil {
			slog.Warn("Failed to sync source configuration", "source", sourceConfig.Name, "error", err)
		}
	}
}

func (s *Scheduler) enqueueTasks() {
	sourceConfigs := s.configCache.GetEnabledConfigs()
	if len(sourceConfigs) == 0 {
		slog.Debug("No enabled source configurations found")
		return
	}

	slog.Debug("Processing enabled source configurations for task scheduling", "count", len(sourceConfigs))

	for _, sourceConfig := range sourceConfigs {
		src, err := s.sourceRepo.GetSource(sourceConfig.Name)
		if err != nil {
			slog.Warn("Failed to get source from database, skipping", "source", sourceConfig.Name, "error", err)
			continue
		}
		if src == nil {
			slog.Warn("Source not found in database, skipping", "source", sourceConfig.Name)
			continue
		}

		now := time.Now().UTC()
		if src.NextRunAt != nil && src.NextRunAt.After(now) {
			slog.Debug("Source not due for import yet", "source", sourceConfig.Name, "next_run_at", src.NextRunAt)
			continue
		}

		importTask := NewImportSourceTask(sourceConfig.Name, sourceConfig, s.runner, s.sourceRepo, s.user)
		if err := s.enqueueImport(importTask); err != nil {
			slog.Warn("Failed to enqueue ImportSourceTask", "source", sourceConfig.Name, "error", err)
		}
	}
}

func (s *Scheduler) worker(id int) {
	defer s.wg.Done()

	for {
		select {
		case task := <-s.taskQueue:
			s.executeTask(id, task)

		case <-s.ctx.Done():
			return
		}
	}
}

func (s *Scheduler) executeTask(workerID int, task TaskInterface) {
	task.Start()

	taskCtx, cancel := context.WithTimeout(s.ctx, 30*time.Minute)
	defer cancel()

	err := task.Execute(taskCtx)
	if err == nil {
		s.done(task)
		return
	}

	slog.Error("Worker task execution failed", "worker_id", workerID, "type", string(task.GetType()), "id", task.GetID(), "retry_count", task.GetRetryCount(), "error", err)

	if !task.CanRetry() {
		slog.Error("Task failed after maximum retries", "type", string(task.GetType()), "id", task.GetID(), "retry_count", task.GetRetryCount(), "max_retries", task.GetMaxRetries(), "last_error", err)
		s.done(task)
		return
	}

	task.IncrementRetryCount()
	retryDelay := min(time.Duration(1<<uint(task.GetRetryCount()-1))*time.Second, 30*time.Second)

	slog.Warn("Task retry scheduled", "type", string(task.GetType()), "source", task.GetSourceName(), "retry_count", task.GetRetryCount(), "max_retries", task.GetMaxRetries(), "delay", retryDelay.String())

	go func() {
		select {
		case <-time.After(retryDelay):
		case <-s.ctx.Done():
			slog.Debug("Scheduler stopped, skipping task retry", "type", string(task.GetType()), "id", task.GetID())
			return
		}
		if retryErr := s.EnqueueTask(task); retryErr != nil {
			slog.Error("Failed to re-enqueue task for retry", "type", string(task.GetType()), "id", task.GetID(), "retry_count", task.GetRetryCount(), "error", retryErr)
			s.done(task)
		}
	}()
}

func (s *Scheduler) done(task TaskInterface) {
	if task.GetType() == TaskTypeImportSource {
		s.release(task.GetSourceName())
	}
}
