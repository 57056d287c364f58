// Package daemon wires the configured components into a running service:
// store, telemetry, pipeline stages, arbiter, and the inbox watcher. A lock
// file enforces a single instance per data directory.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"

	"transcribeflow/internal/accuracy"
	"transcribeflow/internal/arbiter"
	"transcribeflow/internal/artifacts"
	"transcribeflow/internal/asr"
	"transcribeflow/internal/chunker"
	"transcribeflow/internal/config"
	"transcribeflow/internal/events"
	"transcribeflow/internal/logging"
	"transcribeflow/internal/pipeline"
	"transcribeflow/internal/postedit"
	"transcribeflow/internal/profile"
	"transcribeflow/internal/publisher"
	"transcribeflow/internal/services"
	"transcribeflow/internal/stage"
	"transcribeflow/internal/store"
	"transcribeflow/internal/telemetry"
	"transcribeflow/internal/watcher"
)

type Daemon struct {
	cfg    *config.Config
	logger *slog.Logger

	store    store.Store
	pipeline *pipeline.Pipeline
	watcher  *watcher.Watcher
	handlers map[string]stage.Handler

	lockPath string
	lock     *flock.Flock
	running  atomic.Bool
}

// New builds the full component graph from the configuration. The store is
// opened here; Close releases it.
func New(cfg *config.Config, logger *slog.Logger) (*Daemon, error) {
	if cfg == nil {
		return nil, errors.New("daemon requires a config")
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	st, err := store.Open(cfg)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	sink := telemetry.NewFileSink(telemetry.Options{
		Dir:            cfg.Paths.LogDir,
		MetricWebhooks: cfg.Telemetry.MetricWebhookURLs,
		AlertWebhooks:  cfg.Telemetry.AlertWebhookURLs,
		RequestTimeout: time.Duration(cfg.Telemetry.RequestTimeout) * time.Second,
		Logger:         logging.NewComponentLogger(logger, "telemetry"),
	})
	recorder := events.NewRecorder(st, logger, sink)
	profiles := profile.NewProvider(cfg.Paths.ProfilesDir, cfg.Watcher.DefaultProfile)
	templates := artifacts.NewTemplateRegistry(cfg.Paths.TemplatesDir)
	retry := services.NewRetryExecutor(services.RetryConfig{
		MaxAttempts: cfg.ASR.RetryMaxAttempts,
		BaseDelay:   time.Duration(cfg.ASR.RetryBaseDelaySec) * time.Second,
		Factor:      cfg.ASR.RetryFactor,
	})

	engines := map[string]asr.EngineClient{
		"remote": asr.NewRemoteClient(asr.RemoteConfig{
			APIKey:         cfg.ASR.APIKey,
			BaseURL:        cfg.ASR.BaseURL,
			Model:          cfg.ASR.Model,
			TimeoutSeconds: cfg.ASR.TimeoutSeconds,
		}),
		"local": asr.NewLocalClient(asr.LocalConfig{
			Binary: cfg.ASR.LocalBinary,
			Model:  cfg.ASR.LocalModel,
		}),
	}
	split := chunker.New(chunker.Policy{
		TriggerBytes:  int64(cfg.ASR.ChunkTriggerMB) * 1024 * 1024,
		ChunkDuration: time.Duration(cfg.ASR.ChunkDurationSec) * time.Second,
	})
	asrStage := asr.NewStage(st, profiles, engines, split, retry, recorder, filepath.Join(cfg.Paths.DataDir, "chunks"))

	chat := postedit.NewClient(postedit.Config{
		APIKey:         cfg.PostEdit.APIKey,
		BaseURL:        cfg.PostEdit.BaseURL,
		Model:          cfg.PostEdit.Model,
		TimeoutSeconds: cfg.PostEdit.TimeoutSeconds,
	})
	postStage := postedit.NewStage(st, profiles, chat, retry, recorder)
	builder := artifacts.NewBuilder(st, profiles, templates, recorder, cfg.Paths.OutputDir)

	var guard *accuracy.Guard
	if cfg.Accuracy.Enabled {
		guard = accuracy.NewGuard(st, recorder, cfg.Accuracy.Threshold).
			WithReferenceDir(cfg.Paths.ProfilesDir)
	}

	var pub publisher.Publisher = publisher.Nop{}
	if cfg.Paths.CSVLogPath != "" {
		pub = publisher.NewCSVSheet(cfg.Paths.CSVLogPath)
	}
	arb := arbiter.New(st, recorder, pub, cfg.Paths.RejectedDir)

	pipe, err := pipeline.New(pipeline.Options{
		Store:      st,
		Recorder:   recorder,
		Logger:     logger,
		Arbiter:    arb,
		Publisher:  pub,
		Guard:      guard,
		ASR:        asrStage,
		PostEdit:   postStage,
		Artifacts:  builder,
		AllowRetry: cfg.Watcher.AllowRetry,
	})
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	ingestor := watcher.NewIngestor(st, profiles, recorder, pub, cfg.ASR.Engine, int64(cfg.Watcher.MaxAudioSizeMB)*1024*1024)
	inboxWatcher := watcher.New(watcher.Config{
		InboxDir:     cfg.Paths.InboxDir,
		SettleDelay:  time.Duration(cfg.Watcher.SettleDelayMS) * time.Millisecond,
		PollInterval: time.Duration(cfg.Workflow.QueuePollInterval) * time.Second,
		Workers:      cfg.Watcher.Workers,
	}, ingestor, pipe, st, logger)

	lockPath := filepath.Join(cfg.Paths.DataDir, "transcribeflow.lock")
	return &Daemon{
		cfg:      cfg,
		logger:   logger,
		store:    st,
		pipeline: pipe,
		watcher:  inboxWatcher,
		handlers: map[string]stage.Handler{
			"asr":       asrStage,
			"post_edit": postStage,
			"artifacts": builder,
		},
		lockPath: lockPath,
		lock:     flock.New(lockPath),
	}, nil
}

// Run acquires the instance lock and watches the inbox until the context is
// canceled.
func (d *Daemon) Run(ctx context.Context) error {
	if !d.running.CompareAndSwap(false, true) {
		return errors.New("daemon already running")
	}
	defer d.running.Store(false)

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock %s: %w", d.lockPath, err)
	}
	if !ok {
		return fmt.Errorf("another instance holds %s", d.lockPath)
	}
	defer func() { _ = d.lock.Unlock() }()

	d.logger.Info("daemon started",
		logging.String("inbox", d.cfg.Paths.InboxDir),
		logging.String("store", d.cfg.Store.Backend))
	err = d.watcher.Run(ctx)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// RunJob executes the pipeline once for a single job.
func (d *Daemon) RunJob(ctx context.Context, jobID string) error {
	return d.pipeline.Execute(ctx, jobID)
}

// Store exposes the opened job store for command surfaces.
func (d *Daemon) Store() store.Store { return d.store }

// Health reports per-stage readiness.
func (d *Daemon) Health(ctx context.Context) map[string]stage.Health {
	result := make(map[string]stage.Health, len(d.handlers))
	for name, handler := range d.handlers {
		result[name] = handler.HealthCheck(ctx)
	}
	return result
}

// Close releases the store.
func (d *Daemon) Close() error {
	return d.store.Close()
}
