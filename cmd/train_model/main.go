package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"irisserve/db"
	"irisserve/ml"
)

func main() {
	modelPath := flag.String("model_path", "model/model.json", "artifact output path")
	modelType := flag.String("model_type", ml.ModelTypeRandomForest, "random_forest or decision_tree")
	nEstimators := flag.Int("n_estimators", 100, "number of trees in the forest")
	maxDepth := flag.Int("max_depth", 0, "max tree depth, 0 for unlimited")
	testRatio := flag.Float64("test_ratio", 0.3, "held-out share of the dataset")
	seed := flag.Int64("seed", 42, "random seed")
	auditDB := flag.String("audit_db", "", "sqlite audit database to record the run in")
	flag.Parse()

	features, labels, err := ml.IrisDataset()
	if err != nil {
		log.Fatalf("failed to load dataset: %v", err)
	}
	trainX, trainY, testX, testY := ml.SplitDataset(features, labels, *testRatio, *seed)
	log.Printf("dataset: %d samples, train=%d test=%d", len(features), len(trainX), len(testX))

	var model ml.Trainer
	switch *modelType {
	case ml.ModelTypeRandomForest:
		model = ml.NewRandomForest(*nEstimators, *maxDepth, *seed)
	case ml.ModelTypeDecisionTree:
		model = ml.NewDecisionTree(*maxDepth)
	default:
		log.Fatalf("unknown model type %q", *modelType)
	}
	if err := model.Train(trainX, trainY); err != nil {
		log.Fatalf("failed to train model: %v", err)
	}

	accuracy, perClass, err := evaluateModel(model, testX, testY)
	if err != nil {
		log.Fatalf("failed to evaluate model: %v", err)
	}
	log.Printf("accuracy=%.4f", accuracy)
	for _, species := range ml.AllSpecies() {
		stats := perClass[species]
		log.Printf("  %-10s precision=%.2f recall=%.2f support=%d", species, stats.precision, stats.recall, stats.support)
	}

	artifact, err := ml.NewArtifact(model, ml.ArtifactMetadata{
		TrainedAt:    time.Now().UTC(),
		NEstimators:  *nEstimators,
		MaxDepth:     *maxDepth,
		Seed:         *seed,
		TrainSize:    len(trainX),
		TestAccuracy: accuracy,
	})
	if err != nil {
		log.Fatalf("failed to build artifact: %v", err)
	}
	if err := os.MkdirAll(filepath.Dir(*modelPath), 0o755); err != nil {
		log.Fatalf("failed to create model dir: %v", err)
	}
	if err := ml.SaveArtifact(*modelPath, artifact); err != nil {
		log.Fatalf("failed to save model: %v", err)
	}

	// Reload what was written and run one known sample through it.
	loaded, err := ml.LoadModelFile(*modelPath)
	if err != nil {
		log.Fatalf("failed to reload model: %v", err)
	}
	sample := []float64{5.1, 3.5, 1.4, 0.2}
	species, confidence, err := ml.Predict(loaded, sample)
	if err != nil {
		log.Fatalf("test prediction failed: %v", err)
	}
	log.Printf("test prediction %v -> %s (%.2f)", sample, species, confidence)

	if *auditDB != "" {
		audit, err := db.OpenAuditLog(*auditDB)
		if err != nil {
			log.Fatalf("failed to open audit db: %v", err)
		}
		defer audit.Close()
		if err := audit.SaveTrainingLog(context.Background(), db.TrainingLog{
			ModelName:    model.ModelType(),
			Accuracy:     accuracy,
			DataPoints:   len(trainX),
			ArtifactPath: *modelPath,
		}); err != nil {
			log.Printf("failed to record training run: %v", err)
		}
	}

	fmt.Printf("model saved to %s\n", *modelPath)
}

type classStats struct {
	precision float64
	recall    float64
	support   int
}

func evaluateModel(model ml.Classifier, testX [][]float64, testY []int) (float64, map[ml.Species]classStats, error) {
	perClass := make(map[ml.Species]classStats, ml.NumClasses)
	if len(testX) == 0 {
		return 0, perClass, nil
	}

	var correct int
	var truePositive, predictedPositive, actualPositive [ml.NumClasses]int
	for i, feature := range testX {
		label, _, err := ml.Predict(model, feature)
		if err != nil {
			return 0, nil, err
		}
		predictedPositive[label]++
		actualPositive[testY[i]]++
		if int(label) == testY[i] {
			correct++
			truePositive[label]++
		}
	}

	for _, species := range ml.AllSpecies() {
		stats := classStats{support: actualPositive[species]}
		if predictedPositive[species] > 0 {
			stats.precision = float64(truePositive[species]) / float64(predictedPositive[species])
		}
		if actualPositive[species] > 0 {
			stats.recall = float64(truePositive[species]) / float64(actualPositive[species])
		}
		perClass[species] = stats
	}
	return float64(correct) / float64(len(testX)), perClass, nil
}
