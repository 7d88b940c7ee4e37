package ml

import "fmt"

// NumFeatures is the number of measurements a prediction takes.
const NumFeatures = 4

// Measurements is the canonical prediction input. Field order is the model's
// feature order.
type Measurements struct {
	SepalLength float64
	SepalWidth  float64
	PetalLength float64
	PetalWidth  float64
}

func (m Measurements) Vector() []float64 {
	return []float64{
		m.SepalLength,
		m.SepalWidth,
		m.PetalLength,
		m.PetalWidth,
	}
}

func MeasurementsFromVector(vector []float64) (Measurements, error) {
	if len(vector) != NumFeatures {
		return Measurements{}, fmt.Errorf("expected %d features, got %d", NumFeatures, len(vector))
	}
	return Measurements{
		SepalLength: vector[0],
		SepalWidth:  vector[1],
		PetalLength: vector[2],
		PetalWidth:  vector[3],
	}, nil
}

func FeatureNames() []string {
	return []string{
		"sepal_length",
		"sepal_width",
		"petal_length",
		"petal_width",
	}
}
