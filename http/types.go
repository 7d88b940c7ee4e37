package http

import (
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"irisserve/pipeline"
	"irisserve/serving"
)

const (
	serviceName    = "iris-classification"
	serviceVersion = "1.0.0"
)

// Response shapes selectable with ?shape=.
const (
	shapeCanonical = "canonical"
	shapeLegacy    = "legacy"
)

type PredictionResponse struct {
	Species       string             `json:"species"`
	Confidence    float64            `json:"confidence"`
	Probabilities map[string]float64 `json:"probabilities"`
}

// LegacyResponse is the positional shape older function clients expect.
type LegacyResponse struct {
	Prediction int    `json:"prediction"`
	Species    string `json:"species"`
}

type HealthResponse struct {
	Status      string `json:"status"`
	ModelLoaded bool   `json:"model_loaded"`
	ModelPath   string `json:"model_path"`
}

type RootResponse struct {
	Status      string `json:"status"`
	Service     string `json:"service"`
	Version     string `json:"version"`
	ModelLoaded bool   `json:"model_loaded"`
}

type ValidationErrorResponse struct {
	Detail []pipeline.FieldError `json:"detail"`
}

type ErrorResponse struct {
	Detail string `json:"detail"`
}

func newPredictionResponse(p serving.Prediction) PredictionResponse {
	return PredictionResponse{
		Species:       p.Species.String(),
		Confidence:    p.Confidence,
		Probabilities: p.ProbabilityMap(),
	}
}

func newLegacyResponse(p serving.Prediction) LegacyResponse {
	// cases.Caser is not safe for concurrent use.
	title := cases.Title(language.English)
	return LegacyResponse{
		Prediction: int(p.Species),
		Species:    title.String(p.Species.String()),
	}
}
