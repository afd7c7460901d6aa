// Package app builds the long-lived services of a run and wires them together.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"cloud.google.com/go/storage"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/JakeFAU/warc-langfilter/internal/api"
	"github.com/JakeFAU/warc-langfilter/internal/clock/system"
	"github.com/JakeFAU/warc-langfilter/internal/config"
	"github.com/JakeFAU/warc-langfilter/internal/corpus"
	"github.com/JakeFAU/warc-langfilter/internal/delivery"
	"github.com/JakeFAU/warc-langfilter/internal/dispatcher"
	"github.com/JakeFAU/warc-langfilter/internal/extract"
	"github.com/JakeFAU/warc-langfilter/internal/fetcher"
	"github.com/JakeFAU/warc-langfilter/internal/hash/sha256"
	idgen "github.com/JakeFAU/warc-langfilter/internal/id/uuid"
	"github.com/JakeFAU/warc-langfilter/internal/langid"
	"github.com/JakeFAU/warc-langfilter/internal/logging"
	"github.com/JakeFAU/warc-langfilter/internal/metrics"
	"github.com/JakeFAU/warc-langfilter/internal/output"
	"github.com/JakeFAU/warc-langfilter/internal/pipeline"
	"github.com/JakeFAU/warc-langfilter/internal/progress"
	progresssinks "github.com/JakeFAU/warc-langfilter/internal/progress/sinks"
	gcppublisher "github.com/JakeFAU/warc-langfilter/internal/publisher/pubsub"
	"github.com/JakeFAU/warc-langfilter/internal/shardlist"
	gcsstorage "github.com/JakeFAU/warc-langfilter/internal/storage/gcs"
	localstorage "github.com/JakeFAU/warc-langfilter/internal/storage/local"
	pgstore "github.com/JakeFAU/warc-langfilter/internal/storage/postgres"
	"github.com/JakeFAU/warc-langfilter/internal/telemetry"
	"github.com/JakeFAU/warc-langfilter/internal/textenc"
	"github.com/JakeFAU/warc-langfilter/internal/warc"
	"github.com/JakeFAU/warc-langfilter/internal/worker"
)

// Option customizes Build.
type Option func(*options)

type options struct {
	logger     *zap.Logger
	httpClient *http.Client
	registerer prometheus.Registerer
	out        io.Writer
}

// WithLogger uses logger instead of building one from config.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithHTTPClient overrides the client used to fetch shards.
func WithHTTPClient(client *http.Client) Option {
	return func(o *options) { o.httpClient = client }
}

// WithRegisterer registers progress collectors somewhere other than the default registry.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(o *options) { o.registerer = reg }
}

// WithOutput sets where per-shard outcome lines are printed. Defaults to stdout.
func WithOutput(w io.Writer) Option {
	return func(o *options) { o.out = w }
}

// App contains the dependencies of one run.
type App struct {
	cfg            config.Config
	logger         *zap.Logger
	runID          uuid.UUID
	shards         []string
	outputPath     func(corpus.Batch) string
	dispatch       *dispatcher.Dispatcher
	apiServer      *api.Server
	progressHub    *progress.Hub
	runStore       *pgstore.RunStore
	gcsClient      *storage.Client
	publisher      *gcppublisher.Publisher
	tracerShutdown telemetry.ShutdownFunc
}

// Build creates the application's dependencies. On error, anything already
// opened is closed.
func Build(ctx context.Context, cfg config.Config, opts ...Option) (_ *App, err error) {
	o := options{out: os.Stdout, registerer: prometheus.DefaultRegisterer}
	for _, opt := range opts {
		opt(&o)
	}
	logger := o.logger
	if logger == nil {
		logger, err = logging.New(cfg.Logging)
		if err != nil {
			return nil, fmt.Errorf("logger init failed: %w", err)
		}
		zap.ReplaceGlobals(logger)
	}
	metrics.Init()

	app := &App{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			_ = app.Close(context.WithoutCancel(ctx))
		}
	}()

	app.tracerShutdown, err = telemetry.InitTracerProvider(ctx, telemetry.Config{
		Enabled:     cfg.Telemetry.Enabled,
		ServiceName: cfg.Telemetry.ServiceName,
	})
	if err != nil {
		return nil, fmt.Errorf("tracer init failed: %w", err)
	}

	app.runID, err = idgen.New().NewRunID()
	if err != nil {
		return nil, err
	}
	app.logger = logger.With(zap.String("run_id", app.runID.String()))

	app.shards, err = shardlist.Load(cfg.Input.PathsFile, shardlist.Window{Offset: cfg.Input.Offset, Limit: cfg.Input.Limit})
	if err != nil {
		return nil, err
	}
	app.outputPath, err = dispatcher.OutputPath(cfg.Output.Dir, cfg.Output.FileTemplate)
	if err != nil {
		return nil, fmt.Errorf("output path: %w", err)
	}
	app.logger.Info("building application dependencies",
		zap.String("paths_file", cfg.Input.PathsFile),
		zap.Int("shards", len(app.shards)),
		zap.Int("offset", cfg.Input.Offset),
		zap.Int("batch_size", cfg.Pipeline.BatchSize),
		zap.Int("classify_workers", cfg.Pipeline.ClassifyWorkers),
		zap.String("target_label", cfg.Pipeline.TargetLabel),
		zap.String("output_dir", cfg.Output.Dir),
	)

	if err = app.setupDatabase(ctx); err != nil {
		return nil, err
	}
	emitter, err := app.setupProgress(ctx, o.registerer)
	if err != nil {
		return nil, err
	}
	processor, err := app.setupProcessor(o.httpClient, emitter)
	if err != nil {
		return nil, err
	}
	hooks, err := app.setupDelivery(ctx)
	if err != nil {
		return nil, err
	}

	out := o.out
	app.dispatch, err = dispatcher.New(
		dispatcher.Config{Offset: cfg.Input.Offset},
		dispatcher.Deps{
			Processor: processor,
			Progress:  emitter,
			Hooks:     hooks,
			OnOutcome: func(outcome corpus.Outcome) { _, _ = fmt.Fprintln(out, outcome.String()) },
			Logger:    app.logger.Named("dispatcher"),
		},
		progress.UUIDToBytes(app.runID),
	)
	if err != nil {
		return nil, fmt.Errorf("dispatcher init failed: %w", err)
	}

	if cfg.Server.Enabled {
		app.apiServer = app.setupAPI()
	}
	return app, nil
}

// RunID identifies this run in logs, progress events and the ledger.
func (a *App) RunID() uuid.UUID {
	return a.runID
}

// Shards returns the shard ids selected for this run.
func (a *App) Shards() []string {
	return a.shards
}

// Run processes every selected shard and blocks until the last batch
// finishes or ctx is canceled between batches. The ops server, when enabled,
// serves for the duration of the run.
func (a *App) Run(ctx context.Context) (dispatcher.Report, error) {
	var srv *http.Server
	if a.apiServer != nil {
		srv = &http.Server{
			Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
			Handler:           a.apiServer.Handler(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				a.logger.Error("http server error", zap.Error(err))
			}
		}()
	}

	report, runErr := a.dispatch.Run(ctx, a.shards, a.cfg.Pipeline.BatchSize, a.outputPath)

	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			a.logger.Error("server shutdown error", zap.Error(err))
		}
	}
	return report, runErr
}

// Close flushes progress and releases every client. It is safe to call once
// after Build, whether or not Run was called.
func (a *App) Close(ctx context.Context) error {
	if a.progressHub != nil {
		if err := a.progressHub.Close(ctx); err != nil {
			a.logger.Warn("progress hub close failed", zap.Error(err))
		}
	}
	if a.publisher != nil {
		if err := a.publisher.Close(); err != nil {
			a.logger.Warn("pubsub publisher close failed", zap.Error(err))
		}
	}
	if a.gcsClient != nil {
		if err := a.gcsClient.Close(); err != nil {
			a.logger.Warn("gcs client close failed", zap.Error(err))
		}
	}
	if a.runStore != nil {
		a.runStore.Close()
	}
	if a.tracerShutdown != nil {
		if err := a.tracerShutdown(ctx); err != nil {
			a.logger.Warn("tracer shutdown failed", zap.Error(err))
		}
	}
	_ = a.logger.Sync()
	return nil
}

func (a *App) setupDatabase(ctx context.Context) error {
	if a.cfg.DB.DSN == "" {
		a.logger.Debug("no database dsn configured, run ledger disabled")
		return nil
	}
	var err error
	a.runStore, err = pgstore.NewRunStore(ctx, pgstore.Config{
		DSN:      a.cfg.DB.DSN,
		MaxConns: int32(a.cfg.DB.MaxConns), // #nosec G115 -- validated small positive value.
	})
	if err != nil {
		return fmt.Errorf("run store init failed: %w", err)
	}
	if err := a.runStore.EnsureSchema(ctx); err != nil {
		return fmt.Errorf("run store schema failed: %w", err)
	}
	a.logger.Info("run ledger initialized")
	return nil
}

func (a *App) setupProgress(ctx context.Context, reg prometheus.Registerer) (progress.Emitter, error) {
	promSink, err := progresssinks.NewPrometheusSink(reg)
	if err != nil {
		return nil, fmt.Errorf("progress metrics init failed: %w", err)
	}
	sinkList := []progress.Sink{
		progresssinks.NewLogSink(a.logger.Named("progress_log")),
		promSink,
	}
	if a.runStore != nil {
		sinkList = append(sinkList, progresssinks.NewStoreSink(a.runStore, a.logger.Named("progress_store")))
	}
	a.progressHub = progress.NewHub(progress.Config{
		BaseContext: context.WithoutCancel(ctx),
		Logger:      a.logger.Named("progress_hub"),
	}, sinkList...)
	a.logger.Debug("progress hub initialized", zap.Int("sinks", len(sinkList)))
	return a.progressHub, nil
}

func (a *App) setupProcessor(client *http.Client, emitter progress.Emitter) (*worker.Processor, error) {
	shardFetcher, err := fetcher.New(fetcher.Config{
		BaseURL:               a.cfg.Source.BaseURL,
		WorkDir:               a.cfg.WorkDir,
		UserAgent:             a.cfg.Source.UserAgent,
		ChunkBytes:            a.cfg.Pipeline.ChunkBytes,
		ResponseHeaderTimeout: a.cfg.ResponseHeaderTimeout(),
		RequestsPerSecond:     a.cfg.Source.RequestsPerSecond,
		Burst:                 a.cfg.Source.Burst,
	}, client, a.logger.Named("fetcher"))
	if err != nil {
		return nil, fmt.Errorf("fetcher init failed: %w", err)
	}

	classifier, err := langid.New(langid.Config{
		Languages:           a.cfg.Classifier.Languages,
		MinRelativeDistance: a.cfg.Classifier.MinRelativeDistance,
		LowAccuracy:         a.cfg.Classifier.LowAccuracy,
		Preload:             a.cfg.Classifier.Preload,
		TopK:                1,
	})
	if err != nil {
		return nil, fmt.Errorf("classifier init failed: %w", err)
	}
	pipe, err := pipeline.New(pipeline.Config{
		TargetLabel: a.cfg.Pipeline.TargetLabel,
		Workers:     int64(a.cfg.Pipeline.ClassifyWorkers),
	}, extract.New(a.cfg.Extractor.MinChars), classifier, a.logger.Named("pipeline"))
	if err != nil {
		return nil, fmt.Errorf("pipeline init failed: %w", err)
	}

	opener := warc.NewOpener(textenc.New(a.cfg.Extractor.DetectCharset), a.logger.Named("warc"),
		warc.WithMaxRecordSize(a.cfg.Extractor.MaxRecordBytes))
	processor, err := worker.New(worker.Deps{
		Fetcher:    shardFetcher,
		Opener:     opener,
		Classifier: pipe,
		Appender:   output.NewWriter(),
		Progress:   emitter,
		Clock:      system.New(),
		Logger:     a.logger.Named("worker"),
	}, progress.UUIDToBytes(a.runID))
	if err != nil {
		return nil, fmt.Errorf("worker init failed: %w", err)
	}
	return processor, nil
}

func (a *App) setupDelivery(ctx context.Context) ([]dispatcher.BatchHook, error) {
	var deps delivery.Deps
	switch a.cfg.Storage.Backend {
	case config.StorageGCS:
		var err error
		a.gcsClient, err = storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client init failed: %w", err)
		}
		deps.Store, err = gcsstorage.New(a.gcsClient, gcsstorage.Config{Bucket: a.cfg.Storage.GCSBucket})
		if err != nil {
			return nil, fmt.Errorf("gcs blob store init failed: %w", err)
		}
		a.logger.Info("uploading batches to GCS", zap.String("bucket", a.cfg.Storage.GCSBucket))
	case config.StorageLocal:
		store, err := localstorage.New(localstorage.Config{BaseDir: a.cfg.Storage.LocalDir})
		if err != nil {
			return nil, fmt.Errorf("local blob store init failed: %w", err)
		}
		deps.Store = store
		a.logger.Info("copying batches to local storage", zap.String("path", a.cfg.Storage.LocalDir))
	}

	if a.cfg.PubSub.TopicName != "" {
		var err error
		a.publisher, err = gcppublisher.Open(ctx, gcppublisher.Config{
			ProjectID: a.cfg.PubSub.ProjectID,
			TopicName: a.cfg.PubSub.TopicName,
		})
		if err != nil {
			return nil, err
		}
		deps.Publisher = a.publisher
		a.logger.Info("Pub/Sub publisher initialized",
			zap.String("project", a.cfg.PubSub.ProjectID),
			zap.String("topic", a.cfg.PubSub.TopicName),
		)
	}

	if deps.Store == nil && deps.Publisher == nil {
		return nil, nil
	}
	deps.Hasher = sha256.New()
	deps.Clock = system.New()
	deps.Logger = a.logger.Named("delivery")
	hook, err := delivery.New(delivery.Config{
		Prefix:      a.cfg.Storage.Prefix,
		ContentType: a.cfg.Storage.ContentType,
		Topic:       a.cfg.PubSub.TopicName,
	}, deps, a.runID.String())
	if err != nil {
		return nil, fmt.Errorf("delivery init failed: %w", err)
	}
	return []dispatcher.BatchHook{hook}, nil
}

func (a *App) setupAPI() *api.Server {
	checks := map[string]api.ReadinessCheck{
		"work_dir": func(context.Context) error {
			_, err := os.Stat(a.cfg.WorkDir)
			return err
		},
	}
	var handler *api.ProgressHandler
	if a.runStore != nil {
		checks["ledger"] = a.runStore.Ping
		handler = api.NewProgressHandler(a.runStore, a.logger.Named("api"))
	}
	return api.NewServer(a.dispatch, handler, checks, a.logger.Named("api"))
}
