package ml

import (
	"bytes"
	_ "embed"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"strconv"
)

//go:embed data/iris.csv
var irisCSV []byte

// IrisDataset returns the 150-sample iris dataset bundled with the binary.
func IrisDataset() (features [][]float64, labels []int, err error) {
	return ReadDataset(bytes.NewReader(irisCSV))
}

// ReadDataset parses a CSV with a header row, four feature columns and a
// species column.
func ReadDataset(r io.Reader) (features [][]float64, labels []int, err error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = NumFeatures + 1

	if _, err := reader.Read(); err != nil {
		return nil, nil, fmt.Errorf("read header: %w", err)
	}
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, nil, err
		}
		row := make([]float64, NumFeatures)
		for i := 0; i < NumFeatures; i++ {
			value, err := strconv.ParseFloat(record[i], 64)
			if err != nil {
				return nil, nil, fmt.Errorf("line %d: %w", len(labels)+2, err)
			}
			row[i] = value
		}
		species, err := ParseSpecies(record[NumFeatures])
		if err != nil {
			return nil, nil, fmt.Errorf("line %d: %w", len(labels)+2, err)
		}
		features = append(features, row)
		labels = append(labels, int(species))
	}
	if len(labels) == 0 {
		return nil, nil, errors.New("dataset is empty")
	}
	return features, labels, nil
}

// SplitDataset shuffles with seed and holds out testRatio of the samples.
func SplitDataset(features [][]float64, labels []int, testRatio float64, seed int64) (trainX [][]float64, trainY []int, testX [][]float64, testY []int) {
	order := rand.New(rand.NewSource(seed)).Perm(len(features))
	testSize := int(float64(len(features)) * testRatio)
	if testSize >= len(features) {
		testSize = len(features) - 1
	}
	if testSize < 0 {
		testSize = 0
	}
	for i, idx := range order {
		if i < testSize {
			testX = append(testX, features[idx])
			testY = append(testY, labels[idx])
			continue
		}
		trainX = append(trainX, features[idx])
		trainY = append(trainY, labels[idx])
	}
	return trainX, trainY, testX, testY
}

// Accuracy is the share of samples model labels correctly.
func Accuracy(model Classifier, features [][]float64, labels []int) (float64, error) {
	if len(features) == 0 {
		return 0, nil
	}
	correct := 0
	for i, feature := range features {
		predicted, _, err := Predict(model, feature)
		if err != nil {
			return 0, err
		}
		if int(predicted) == labels[i] {
			correct++
		}
	}
	return float64(correct) / float64(len(features)), nil
}
