// Package function hosts the prediction API on a function runtime. The model
// is loaded lazily on the first prediction of each instance.
package function

import (
	"encoding/json"
	"net/http"
	"strings"
	"sync"

	"github.com/GoogleCloudPlatform/functions-framework-go/functions"
	"go.uber.org/zap"

	"irisserve/config"
	qhttp "irisserve/http"
)

// EntryPoint is the name the runtime invokes.
const EntryPoint = "Predict"

func init() {
	functions.HTTP(EntryPoint, defaultFunction.ServeHTTP)
}

var defaultFunction = New(serviceFromEnv)

// Function builds its service on first use and reuses it for the lifetime of
// the instance.
type Function struct {
	build func() (*qhttp.Service, error)

	once    sync.Once
	service *qhttp.Service
	err     error
}

func New(build func() (*qhttp.Service, error)) *Function {
	return &Function{build: build}
}

// ServeHTTP accepts predictions on any path. GET requests keep their path so
// /health and / stay reachable.
func (f *Function) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.once.Do(func() {
		f.service, f.err = f.build()
	})
	if f.err != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		_ = json.NewEncoder(w).Encode(qhttp.ErrorResponse{Detail: "service unavailable: " + f.err.Error()})
		return
	}
	f.service.Handler().ServeHTTP(w, route(r))
}

func route(r *http.Request) *http.Request {
	if r.Method != http.MethodPost || strings.TrimSuffix(r.URL.Path, "/") == "/predict" {
		return r
	}
	routed := r.Clone(r.Context())
	routed.URL.Path = "/predict"
	routed.URL.RawPath = ""
	return routed
}

// serviceFromEnv is the lazy host: no warm-up and no file watcher, since
// instances are short lived.
func serviceFromEnv() (*qhttp.Service, error) {
	cfg, err := config.Load(config.Path())
	if err != nil {
		return nil, err
	}
	cfg.Model.Watch = false
	logger, err := config.NewLogger(cfg)
	if err != nil {
		return nil, err
	}
	logger.Info("function instance starting", zap.String("entry_point", EntryPoint))
	return qhttp.NewService(qhttp.Options{Config: cfg, Logger: logger})
}
