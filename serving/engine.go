package serving

import (
	"fmt"
	"math"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"irisserve/ml"
)

const probabilityTolerance = 1e-6

// Prediction is the canonical inference result.
type Prediction struct {
	Species       ml.Species
	Confidence    float64
	Probabilities [ml.NumClasses]float64
}

// ProbabilityMap keys probabilities by species name.
func (p Prediction) ProbabilityMap() map[string]float64 {
	out := make(map[string]float64, ml.NumClasses)
	for _, species := range ml.AllSpecies() {
		out[species.String()] = p.Probabilities[species]
	}
	return out
}

type EngineConfig struct {
	// CacheSize bounds the result cache. Zero disables caching.
	CacheSize int
	Logger    *zap.Logger
}

// Engine runs validated measurements through a model handle. It is safe for
// concurrent use and never mutates the handle.
type Engine struct {
	cache  *lru.Cache[ml.Measurements, Prediction]
	logger *zap.Logger
}

func NewEngine(cfg EngineConfig) (*Engine, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	engine := &Engine{logger: logger.Named("engine")}
	if cfg.CacheSize > 0 {
		cache, err := lru.New[ml.Measurements, Prediction](cfg.CacheSize)
		if err != nil {
			return nil, fmt.Errorf("create result cache: %w", err)
		}
		engine.cache = cache
	}
	return engine, nil
}

// Predict returns the arg-max species, its probability and the full
// distribution. Any classifier failure, including a panic, is ErrInference.
func (e *Engine) Predict(handle ml.Classifier, in ml.Measurements) (Prediction, error) {
	if handle == nil {
		return Prediction{}, fmt.Errorf("%w: no model handle", ErrInference)
	}
	if e.cache != nil {
		if cached, ok := e.cache.Get(in); ok {
			return cached, nil
		}
	}

	prediction, err := e.run(handle, in)
	if err != nil {
		e.logger.Error("inference failed", zap.String("model_type", handle.ModelType()), zap.Error(err))
		return Prediction{}, err
	}
	if e.cache != nil {
		e.cache.Add(in, prediction)
	}
	return prediction, nil
}

// CacheLen reports the number of memoized results.
func (e *Engine) CacheLen() int {
	if e.cache == nil {
		return 0
	}
	return e.cache.Len()
}

func (e *Engine) run(handle ml.Classifier, in ml.Measurements) (prediction Prediction, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: classifier panic: %v", ErrInference, r)
		}
	}()

	probs, err := handle.PredictProba(in.Vector())
	if err != nil {
		return Prediction{}, fmt.Errorf("%w: %v", ErrInference, err)
	}
	if len(probs) != ml.NumClasses {
		return Prediction{}, fmt.Errorf("%w: expected %d probabilities, got %d", ErrInference, ml.NumClasses, len(probs))
	}

	sum := 0.0
	best := 0
	for i, p := range probs {
		if math.IsNaN(p) || math.IsInf(p, 0) || p < 0 {
			return Prediction{}, fmt.Errorf("%w: invalid probability %v for class %d", ErrInference, p, i)
		}
		sum += p
		prediction.Probabilities[i] = p
		if p > probs[best] {
			best = i
		}
	}
	if math.Abs(sum-1) > probabilityTolerance {
		return Prediction{}, fmt.Errorf("%w: probabilities sum to %v", ErrInference, sum)
	}
	prediction.Species = ml.Species(best)
	prediction.Confidence = probs[best]
	return prediction, nil
}
