package watcher

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"transcribeflow/internal/logging"
	"transcribeflow/internal/store"
)

// Runner executes the pipeline for one job.
type Runner interface {
	Execute(ctx context.Context, jobID string) error
}

type Config struct {
	InboxDir     string
	SettleDelay  time.Duration
	PollInterval time.Duration
	Workers      int
}

// Watcher observes the inbox tree, ingests new audio files, and dispatches
// pending jobs to a bounded worker pool. Requeued jobs are picked up by the
// store poll loop.
type Watcher struct {
	cfg      Config
	ingestor *Ingestor
	runner   Runner
	store    store.Store
	logger   *slog.Logger

	mu      sync.Mutex
	claimed map[string]struct{}
	jobs    chan string
}

func New(cfg Config, ingestor *Ingestor, runner Runner, st store.Store, logger *slog.Logger) *Watcher {
	if cfg.Workers <= 0 {
		cfg.Workers = runtime.NumCPU()
	}
	if cfg.SettleDelay <= 0 {
		cfg.SettleDelay = 500 * time.Millisecond
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Second
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Watcher{
		cfg:      cfg,
		ingestor: ingestor,
		runner:   runner,
		store:    st,
		logger:   logger,
		claimed:  make(map[string]struct{}),
		jobs:     make(chan string, cfg.Workers),
	}
}

// Run blocks until the context is canceled.
func (w *Watcher) Run(ctx context.Context) error {
	notifier, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer func() { _ = notifier.Close() }()

	if err := w.watchTree(notifier, w.cfg.InboxDir); err != nil {
		return err
	}

	var wg sync.WaitGroup
	for i := 0; i < w.cfg.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.worker(ctx)
		}()
	}

	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()

	w.logger.Info("watching inbox", logging.String("path", w.cfg.InboxDir), logging.Int("workers", w.cfg.Workers))
	w.drainPending(ctx)

	for {
		select {
		case <-ctx.Done():
			wg.Wait()
			return ctx.Err()
		case event, ok := <-notifier.Events:
			if !ok {
				wg.Wait()
				return nil
			}
			w.handleEvent(ctx, notifier, event)
		case err, ok := <-notifier.Errors:
			if !ok {
				wg.Wait()
				return nil
			}
			w.logger.Warn("inbox watch error", logging.Error(err))
		case <-ticker.C:
			w.drainPending(ctx)
		}
	}
}

func (w *Watcher) watchTree(notifier *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if entry.IsDir() {
			return notifier.Add(path)
		}
		return nil
	})
}

func (w *Watcher) handleEvent(ctx context.Context, notifier *fsnotify.Watcher, event fsnotify.Event) {
	if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
		return
	}
	info, err := os.Stat(event.Name)
	if err != nil {
		return
	}
	if info.IsDir() {
		if err := w.watchTree(notifier, event.Name); err != nil {
			w.logger.Warn("watch new folder", logging.String("path", event.Name), logging.Error(err))
		}
		return
	}
	if !SupportedExtension(event.Name) {
		return
	}
	go w.settleAndIngest(ctx, event.Name)
}

// settleAndIngest waits for the file size to stop changing before creating a
// job, tolerating writers that do not rename into place.
func (w *Watcher) settleAndIngest(ctx context.Context, path string) {
	var lastSize int64 = -1
	for attempt := 0; attempt < 20; attempt++ {
		select {
		case <-ctx.Done():
			return
		case <-time.After(w.cfg.SettleDelay):
		}
		info, err := os.Stat(path)
		if err != nil {
			return
		}
		if info.Size() == lastSize && info.Size() > 0 {
			break
		}
		lastSize = info.Size()
	}

	job, err := w.ingestor.IngestFile(ctx, path)
	if err != nil {
		w.logger.Error("ingest failed", logging.String("path", path), logging.Error(err))
		return
	}
	if job == nil {
		return
	}
	if w.runner == nil {
		w.logger.Warn("no pipeline runner bound, job stays pending", logging.String(logging.FieldJobID, job.ID))
		return
	}
	w.dispatch(ctx, job.ID)
}

// drainPending enqueues pending jobs from the store, which covers both jobs
// created while the daemon was down and jobs requeued by the arbiter.
func (w *Watcher) drainPending(ctx context.Context) {
	if w.runner == nil {
		return
	}
	pending, err := w.store.ListJobs(ctx, store.StatusPending)
	if err != nil {
		w.logger.Warn("list pending jobs", logging.Error(err))
		return
	}
	for _, job := range pending {
		w.dispatch(ctx, job.ID)
	}
}

func (w *Watcher) dispatch(ctx context.Context, jobID string) {
	if !w.claim(jobID) {
		return
	}
	select {
	case w.jobs <- jobID:
	case <-ctx.Done():
		w.release(jobID)
	}
}

func (w *Watcher) worker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case jobID := <-w.jobs:
			if err := w.runner.Execute(ctx, jobID); err != nil {
				w.logger.Warn("pipeline run failed",
					logging.String(logging.FieldJobID, jobID),
					logging.Error(err))
			}
			w.release(jobID)
		}
	}
}

func (w *Watcher) claim(jobID string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.claimed[jobID]; ok {
		return false
	}
	w.claimed[jobID] = struct{}{}
	return true
}

func (w *Watcher) release(jobID string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.claimed, jobID)
}
