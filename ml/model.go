package ml

import (
	"errors"
	"fmt"
)

// ErrInvalidModelState is returned by a classifier whose in-memory structure
// cannot be evaluated.
var ErrInvalidModelState = errors.New("invalid model state")

// Classifier is the in-memory form of a trained model. Implementations are
// immutable once trained or decoded and safe for concurrent use.
type Classifier interface {
	// PredictProba returns one probability per Species, indexed by Species.
	PredictProba(features []float64) ([]float64, error)
	ModelType() string
}

// Trainer is implemented by classifiers that can be fit in-process.
type Trainer interface {
	Classifier
	Train(features [][]float64, labels []int) error
}

// Predict runs model on features and returns the arg-max label with its
// probability. Ties resolve to the lowest class index.
func Predict(model Classifier, features []float64) (Species, float64, error) {
	probs, err := model.PredictProba(features)
	if err != nil {
		return 0, 0, err
	}
	if len(probs) != NumClasses {
		return 0, 0, fmt.Errorf("%w: expected %d probabilities, got %d", ErrInvalidModelState, NumClasses, len(probs))
	}
	best := 0
	for i := 1; i < len(probs); i++ {
		if probs[i] > probs[best] {
			best = i
		}
	}
	return Species(best), probs[best], nil
}

func checkFeatureCount(features []float64) error {
	if len(features) != NumFeatures {
		return fmt.Errorf("expected %d features, got %d", NumFeatures, len(features))
	}
	return nil
}
