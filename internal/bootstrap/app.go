// Package bootstrap assembles the application graph from configuration.
package bootstrap

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/spherical-ai/finsight/internal/artifact"
	"github.com/spherical-ai/finsight/internal/cache"
	"github.com/spherical-ai/finsight/internal/classify"
	"github.com/spherical-ai/finsight/internal/config"
	"github.com/spherical-ai/finsight/internal/domain"
	"github.com/spherical-ai/finsight/internal/extract"
	"github.com/spherical-ai/finsight/internal/llm"
	"github.com/spherical-ai/finsight/internal/observability"
	"github.com/spherical-ai/finsight/internal/pipeline"
	"github.com/spherical-ai/finsight/internal/progress"
	"github.com/spherical-ai/finsight/internal/queue"
	"github.com/spherical-ai/finsight/internal/report"
	"github.com/spherical-ai/finsight/internal/resultcache"
	"github.com/spherical-ai/finsight/internal/storage"
	"github.com/spherical-ai/finsight/internal/structured"
	"github.com/spherical-ai/finsight/internal/worker"
)

// Options adds collaborators that are not configured from the file.
type Options struct {
	// Progress receives every event in addition to the status store.
	Progress progress.Channel
	// SkipLedger leaves the run ledger unopened.
	SkipLedger bool
}

// App holds the wired components. Close releases them.
type App struct {
	Config       *config.Config
	Logger       *observability.Logger
	Orchestrator *pipeline.Orchestrator
	Queue        queue.Queue
	Status       progress.StatusReader
	Events       progress.Subscriber
	Runs         *storage.RunRepository
	Pool         *worker.Pool

	redis   *cache.RedisClient
	db      *sql.DB
	objects *artifact.ObjectStore
	closers []func() error
}

// New wires an App from cfg.
func New(ctx context.Context, cfg *config.Config, logger *observability.Logger, opts Options) (*App, error) {
	if logger == nil {
		logger = observability.NopLogger()
	}
	app := &App{Config: cfg, Logger: logger}
	if err := app.wire(ctx, opts); err != nil {
		_ = app.Close()
		return nil, err
	}
	return app, nil
}

func (a *App) wire(ctx context.Context, opts Options) error {
	cfg := a.Config

	kv, err := a.keyValueStore()
	if err != nil {
		return err
	}
	a.Events = kv

	statusChannel := progress.NewRedisChannel(kv, kv, cfg.Cache.StatusTTL)
	a.Status = statusChannel

	var channel progress.Channel = statusChannel
	if opts.Progress != nil {
		channel = progress.Tee{statusChannel, opts.Progress}
	}

	if a.Queue, err = a.taskQueue(); err != nil {
		return err
	}

	store, err := a.artifactStore(ctx)
	if err != nil {
		return err
	}

	completer, err := a.completer()
	if err != nil {
		return err
	}

	orch, err := pipeline.New(pipeline.Dependencies{
		Artifacts:  store,
		Text:       a.textRouter(completer),
		Classifier: a.classifier(completer),
		Selector:   a.selector(completer),
		Reports:    report.NewDefaultRegistry(),
		Cache:      resultcache.New(kv, a.Logger, cfg.Cache.TTL),
		Progress:   channel,
		Logger:     a.Logger,
	}, pipeline.Config{CacheLookup: cfg.Pipeline.CacheLookup})
	if err != nil {
		return fmt.Errorf("build pipeline: %w", err)
	}
	a.Orchestrator = orch

	if !opts.SkipLedger {
		if err := a.openLedger(ctx); err != nil {
			return err
		}
	}

	var ledger worker.Ledger
	if a.Runs != nil {
		ledger = a.Runs
	}
	a.Pool = worker.NewPool(a.Queue, orch, ledger, statusChannel, worker.Config{
		Concurrency:      cfg.Worker.Concurrency,
		PollTimeout:      cfg.Worker.PollTimeout,
		HardTimeLimit:    cfg.Worker.HardTimeLimit,
		SoftTimeLimit:    cfg.Worker.SoftTimeLimit,
		ReclaimInterval:  cfg.Worker.ReclaimInterval,
		BatchConcurrency: cfg.Worker.BatchConcurrency,
	}, a.Logger)

	return nil
}

// store is a key/value client that also carries task events.
type store interface {
	cache.Client
	progress.Publisher
	progress.Subscriber
}

func (a *App) keyValueStore() (store, error) {
	cfg := a.Config
	if cfg.Cache.Driver != "redis" && cfg.Queue.Driver != "redis" {
		mem := cache.NewMemoryClient(cfg.Cache.MaxEntries)
		a.closers = append(a.closers, mem.Close)
		return mem, nil
	}

	rc, err := cache.NewRedisClient(cache.RedisConfig{
		URL:      cfg.Cache.Redis.URL,
		Addr:     cfg.Cache.Redis.Addr,
		Password: cfg.Cache.Redis.Password,
		DB:       cfg.Cache.Redis.DB,
		PoolSize: cfg.Cache.Redis.PoolSize,
		Prefix:   cfg.Cache.Redis.Prefix,
	})
	if err != nil {
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	a.redis = rc
	a.closers = append(a.closers, rc.Close)
	a.Logger.Info().Msg("Connected to Redis")
	return rc, nil
}

func (a *App) taskQueue() (queue.Queue, error) {
	cfg := a.Config
	opts := queue.Options{
		Name:        cfg.Queue.Name,
		Visibility:  cfg.Queue.Visibility,
		MaxAttempts: cfg.Queue.MaxAttempts,
	}
	if cfg.Queue.Driver == "redis" {
		if a.redis == nil {
			return nil, errors.New("redis queue needs a redis connection")
		}
		opts.Name = a.redis.Prefix() + opts.Name
		return queue.NewRedisQueue(a.redis.Redis(), opts, a.Logger), nil
	}
	return queue.NewMemoryQueue(opts), nil
}

func (a *App) artifactStore(ctx context.Context) (artifact.Store, error) {
	cfg := a.Config.Artifacts
	if cfg.Driver != "minio" {
		fs, err := artifact.NewFileStore(cfg.Dir)
		if err != nil {
			return nil, fmt.Errorf("artifact directory: %w", err)
		}
		return fs, nil
	}

	oc := artifact.ObjectConfig{
		Endpoint:  cfg.MinIO.Endpoint,
		AccessKey: cfg.MinIO.AccessKey,
		SecretKey: cfg.MinIO.SecretKey,
		Bucket:    cfg.MinIO.Bucket,
		Region:    cfg.MinIO.Region,
		Prefix:    cfg.MinIO.Prefix,
		UseSSL:    cfg.MinIO.UseSSL,
	}
	client, err := artifact.NewMinIOClient(oc)
	if err != nil {
		return nil, fmt.Errorf("minio client: %w", err)
	}
	store, err := artifact.NewObjectStore(ctx, client, oc)
	if err != nil {
		return nil, fmt.Errorf("object store: %w", err)
	}
	a.objects = store
	return store, nil
}

func (a *App) completer() (llm.Completer, error) {
	cfg := a.Config.LLM
	if cfg.APIKey == "" {
		a.Logger.Warn().Msg("OPENROUTER_API_KEY not set: classification, OCR and structured extraction are unavailable")
		return nil, nil
	}
	client, err := llm.NewClient(llm.Config{
		APIKey:  cfg.APIKey,
		Model:   cfg.Model,
		BaseURL: cfg.BaseURL,
		Timeout: cfg.Timeout,
		Retry: llm.RetryConfig{
			MaxRetries:     cfg.MaxRetries,
			InitialBackoff: cfg.InitialBackoff,
			MaxBackoff:     cfg.MaxBackoff,
		},
	}, a.Logger)
	if err != nil {
		return nil, fmt.Errorf("llm client: %w", err)
	}
	return client, nil
}

func (a *App) textRouter(completer llm.Completer) *extract.Router {
	cfg := a.Config.Pipeline
	var ocr extract.PageTranscriber
	router := extract.NewRouter(a.Logger).
		Handle(extract.FormatWord, extract.Word{}).
		Handle(extract.FormatSpreadsheet, extract.Spreadsheet{MaxRows: cfg.SpreadsheetMaxRows}).
		Handle(extract.FormatText, extract.PlainText{})
	if completer != nil {
		vision := extract.NewVision(completer)
		ocr = vision
		router.Handle(extract.FormatImage, vision)
	}
	return router.Handle(extract.FormatPDF, extract.NewPDF(ocr, cfg.MaxOCRPages, a.Logger))
}

func (a *App) classifier(completer llm.Completer) domain.Classifier {
	if completer == nil {
		return classify.Unavailable{}
	}
	return classify.NewLLMClassifier(completer, a.Config.Pipeline.ClassifierMaxChars)
}

func (a *App) selector(completer llm.Completer) *structured.Selector {
	registry := structured.NewRegistry()
	if completer != nil {
		registry = structured.NewLLMRegistry(completer, a.Config.Pipeline.ExtractorMaxChars)
	}
	fallback, known := domain.ParseDocumentType(a.Config.Pipeline.FallbackType)
	if !known {
		fallback = domain.TypeBankStatement
	}
	return structured.NewSelector(registry, nil, fallback)
}

func (a *App) openLedger(ctx context.Context) error {
	cfg := a.Config
	db, err := storage.Open(ctx, cfg.Database.Driver, cfg.DatabaseDSN())
	if err != nil {
		return fmt.Errorf("open ledger: %w", err)
	}
	if cfg.Database.Driver == "postgres" {
		db.SetMaxOpenConns(cfg.Database.Postgres.MaxOpenConns)
		db.SetMaxIdleConns(cfg.Database.Postgres.MaxIdleConns)
		db.SetConnMaxLifetime(cfg.Database.Postgres.ConnMaxLifetime)
	}
	a.db = db
	a.closers = append(a.closers, db.Close)

	if err := storage.Migrate(ctx, db, cfg.Database.Driver); err != nil {
		return fmt.Errorf("migrate ledger: %w", err)
	}
	a.Runs = storage.NewRunRepository(db)
	return nil
}

// Ready checks the external dependencies the app was wired with.
func (a *App) Ready(ctx context.Context) error {
	if a.redis != nil {
		if err := a.redis.Redis().Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis: %w", err)
		}
	}
	if a.db != nil {
		if err := a.db.PingContext(ctx); err != nil {
			return fmt.Errorf("database: %w", err)
		}
	}
	if a.objects != nil {
		if err := a.objects.Ping(ctx); err != nil {
			return fmt.Errorf("object store: %w", err)
		}
	}
	return nil
}

// Close releases connections in reverse order of opening.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
