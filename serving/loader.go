package serving

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"irisserve/ml"
)

// DefaultModelPath is used when neither configuration nor MODEL_PATH name an
// artifact.
const DefaultModelPath = "model/model.json"

// ResolveModelPath applies the MODEL_PATH override to a configured path.
func ResolveModelPath(configured string) string {
	if env := os.Getenv("MODEL_PATH"); env != "" {
		return env
	}
	if configured != "" {
		return configured
	}
	return DefaultModelPath
}

type State int

const (
	StateUninitialized State = iota
	StateLoading
	StateReady
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "UNINITIALIZED"
	case StateLoading:
		return "LOADING"
	case StateReady:
		return "READY"
	case StateFailed:
		return "FAILED"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// LoadEvent describes one loader state transition.
type LoadEvent struct {
	State     State
	Path      string
	ModelType string
	Attempts  int
	Duration  time.Duration
	Err       error
}

type LoadObserver interface {
	OnModelState(event LoadEvent)
}

type ObserverFunc func(event LoadEvent)

func (f ObserverFunc) OnModelState(event LoadEvent) { f(event) }

// MultiObserver fans an event out to every non-nil observer in order.
type MultiObserver []LoadObserver

func (m MultiObserver) OnModelState(event LoadEvent) {
	for _, observer := range m {
		if observer != nil {
			observer.OnModelState(event)
		}
	}
}

type LoaderConfig struct {
	// Path is the artifact location. Ignored when Store is set.
	Path     string
	Store    ml.ArtifactStore
	Retry    RetryConfig
	Logger   *zap.Logger
	Observer LoadObserver
}

// Status is a side-effect free snapshot of the loader.
type Status struct {
	Path   string
	Loaded bool
	State  State
	Error  string
}

// Loader owns the model handle for one process. The artifact is read at most
// once per successful or failed load; FAILED is terminal.
type Loader struct {
	store    ml.ArtifactStore
	retry    RetryConfig
	logger   *zap.Logger
	observer LoadObserver
	sleep    sleepFunc

	group singleflight.Group

	mu    sync.RWMutex
	state State
	model ml.Classifier
	err   error
}

func NewLoader(cfg LoaderConfig) *Loader {
	store := cfg.Store
	if store == nil {
		path := cfg.Path
		if path == "" {
			path = DefaultModelPath
		}
		store = ml.NewArtifactStore(path, nil)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Loader{
		store:    store,
		retry:    cfg.Retry,
		logger:   logger.Named("loader"),
		observer: cfg.Observer,
		sleep:    sleepContext,
	}
}

func (l *Loader) Path() string {
	return l.store.Location()
}

func (l *Loader) State() State {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state
}

func (l *Loader) IsLoaded() bool {
	return l.State() == StateReady
}

func (l *Loader) Describe() Status {
	l.mu.RLock()
	defer l.mu.RUnlock()
	status := Status{
		Path:   l.store.Location(),
		Loaded: l.state == StateReady,
		State:  l.state,
	}
	if l.err != nil {
		status.Error = l.err.Error()
	}
	return status
}

// EnsureLoaded returns the model handle, reading the artifact on the first
// call. Concurrent first callers share a single read. The load is detached
// from ctx cancellation so one abandoned request cannot fail the instance.
func (l *Loader) EnsureLoaded(ctx context.Context) (ml.Classifier, error) {
	if model, err, done := l.settled(); done {
		return model, err
	}
	v, err, _ := l.group.Do("load", func() (interface{}, error) {
		return l.load(context.WithoutCancel(ctx))
	})
	if err != nil {
		return nil, err
	}
	return v.(ml.Classifier), nil
}

func (l *Loader) settled() (ml.Classifier, error, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	switch l.state {
	case StateReady:
		return l.model, nil, true
	case StateFailed:
		return nil, l.err, true
	default:
		return nil, nil, false
	}
}

func (l *Loader) load(ctx context.Context) (ml.Classifier, error) {
	l.mu.Lock()
	switch l.state {
	case StateReady:
		l.mu.Unlock()
		return l.model, nil
	case StateFailed:
		l.mu.Unlock()
		return nil, l.err
	}
	l.state = StateLoading
	l.mu.Unlock()

	path := l.store.Location()
	l.notify(LoadEvent{State: StateLoading, Path: path})
	l.logger.Info("loading model", zap.String("path", path))

	start := time.Now()
	var model ml.Classifier
	attempts, err := retry(ctx, l.retry, l.sleep,
		func(err error) bool { return errors.Is(err, ml.ErrStoreUnavailable) },
		func(attempt int, delay time.Duration, err error) {
			l.logger.Warn("artifact read failed, retrying",
				zap.String("path", path),
				zap.Int("attempt", attempt+1),
				zap.Int("max_attempts", l.retry.MaxRetries+1),
				zap.Duration("delay", delay),
				zap.Error(err))
		},
		func(int) error {
			var loadErr error
			model, loadErr = ml.LoadModel(ctx, l.store)
			return loadErr
		})
	duration := time.Since(start)

	if err != nil && !IsLoadError(err) {
		err = fmt.Errorf("%w after %d attempts: %w", ErrArtifactUnavailable, attempts, err)
	}

	l.mu.Lock()
	if err != nil {
		l.state = StateFailed
		l.err = err
	} else {
		l.state = StateReady
		l.model = model
	}
	l.mu.Unlock()

	event := LoadEvent{Path: path, Attempts: attempts, Duration: duration, Err: err}
	if err != nil {
		event.State = StateFailed
		l.logger.Error("model load failed",
			zap.String("path", path),
			zap.Int("attempts", attempts),
			zap.Duration("duration", duration),
			zap.Error(err))
	} else {
		event.State = StateReady
		event.ModelType = model.ModelType()
		l.logger.Info("model loaded",
			zap.String("path", path),
			zap.String("model_type", model.ModelType()),
			zap.Int("attempts", attempts),
			zap.Duration("duration", duration))
	}
	l.notify(event)
	return model, err
}

func (l *Loader) notify(event LoadEvent) {
	if l.observer != nil {
		l.observer.OnModelState(event)
	}
}
