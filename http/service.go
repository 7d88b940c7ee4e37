package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"irisserve/config"
	"irisserve/db"
	"irisserve/ml"
	"irisserve/monitoring"
	"irisserve/pipeline"
	"irisserve/serving"
)

// Options configures a Service. Store overrides the artifact location from
// Config; tests use it to inject stores.
type Options struct {
	Config *config.Config
	Logger *zap.Logger
	Store  ml.ArtifactStore
}

// Service wires the loader, engine and validator behind one HTTP handler,
// along with the monitoring side: metrics, events, alerts, the audit log and
// the artifact watcher.
type Service struct {
	Loader    *serving.Loader
	Engine    *serving.Engine
	Validator *pipeline.Validator
	Metrics   *monitoring.MetricsCollector
	Events    *monitoring.EventHub
	Alerts    *monitoring.AlertSystem
	Audit     *db.AuditLog

	watcher *serving.ArtifactWatcher
	handler http.Handler
	logger  *zap.Logger
}

func NewService(opts Options) (*Service, error) {
	cfg := opts.Config
	if cfg == nil {
		cfg = config.Default()
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Service{
		Validator: pipeline.NewValidator(),
		Metrics:   monitoring.NewMetricsCollector(),
		Events:    monitoring.NewEventHub(logger),
		logger:    logger,
	}
	s.Alerts = monitoring.NewAlertSystem(monitoring.AlertConfig{
		WebhookURL: cfg.Alerts.WebhookURL,
		Cooldown:   cfg.Alerts.Cooldown,
	}, logger, s.Events)

	if cfg.Audit.DBPath != "" {
		audit, err := db.OpenAuditLog(cfg.Audit.DBPath)
		if err != nil {
			return nil, fmt.Errorf("open audit log: %w", err)
		}
		s.Audit = audit
	}

	engine, err := serving.NewEngine(serving.EngineConfig{CacheSize: cfg.Cache.Size, Logger: logger})
	if err != nil {
		s.Audit.Close()
		return nil, err
	}
	s.Engine = engine

	store := opts.Store
	if store == nil {
		store = ml.NewArtifactStore(serving.ResolveModelPath(cfg.Model.Path), nil)
	}
	observers := serving.MultiObserver{s.Metrics, s.Events, s.Alerts}
	if s.Audit != nil {
		observers = append(observers, s.Audit)
	}
	retryCfg := serving.DefaultRetryConfig()
	retryCfg.MaxRetries = cfg.Model.MaxRetries
	if cfg.Model.RetryDelay > 0 {
		retryCfg.BaseDelay = cfg.Model.RetryDelay
	}
	s.Loader = serving.NewLoader(serving.LoaderConfig{
		Store:    store,
		Retry:    retryCfg,
		Logger:   logger,
		Observer: observers,
	})

	if fileStore, ok := store.(*ml.FileStore); ok && cfg.Model.Watch {
		watcher, err := serving.WatchArtifact(context.Background(), fileStore.Location(), logger, s.onArtifactChange)
		if err != nil {
			logger.Warn("artifact watcher disabled", zap.String("path", fileStore.Location()), zap.Error(err))
		} else {
			s.watcher = watcher
		}
	}

	go s.Events.Run()

	handlers := NewHandlers(HandlerDeps{
		Loader:    s.Loader,
		Engine:    s.Engine,
		Validator: s.Validator,
		Metrics:   s.Metrics,
		Events:    s.Events,
		Alerts:    s.Alerts,
		Audit:     s.Audit,
		Logger:    logger,
	})
	mux := http.NewServeMux()
	handlers.Register(mux)

	chain := Chain(
		RequestIDMiddleware,
		RecoveryMiddleware(logger),
		LoggerMiddleware(logger.Named("access")),
		SecurityHeadersMiddleware,
		RequestSizeMiddleware(cfg.HTTP.MaxBodyBytes),
	)
	s.handler = chain(mux)
	return s, nil
}

func (s *Service) onArtifactChange(path, op string) {
	s.Metrics.RecordArtifactChange(path, op)
	s.Events.Publish(monitoring.ArtifactChanged, monitoring.ArtifactChangedMessage{Path: path, Op: op})
	s.Alerts.OnArtifactChange(path, op)
}

// Warm loads the model up front for eager hosts. A failure is logged and
// returned; the instance keeps serving and reports unhealthy.
func (s *Service) Warm(ctx context.Context) error {
	start := time.Now()
	if _, err := s.Loader.EnsureLoaded(ctx); err != nil {
		s.logger.Error("eager model load failed; serving without a model",
			zap.String("path", s.Loader.Path()),
			zap.Error(err))
		return err
	}
	s.logger.Info("model ready", zap.String("path", s.Loader.Path()), zap.Duration("warmup", time.Since(start)))
	return nil
}

func (s *Service) Handler() http.Handler {
	return s.handler
}

// Close stops background goroutines and closes the audit log.
func (s *Service) Close() error {
	var errs []error
	if s.watcher != nil {
		errs = append(errs, s.watcher.Close())
	}
	s.Alerts.Flush()
	s.Events.Stop()
	if s.Audit != nil {
		errs = append(errs, s.Audit.Close())
	}
	return errors.Join(errs...)
}
