// Package mltest provides trained model artifacts for tests in other packages.
package mltest

import (
	"path/filepath"
	"sync"
	"testing"
	"time"

	"irisserve/ml"
)

var (
	forestOnce     sync.Once
	forestArtifact *ml.Artifact
	forestErr      error
)

// IrisArtifact returns the artifact of a 100-tree forest trained on the full
// iris dataset with seed 42. It is built once per test binary.
func IrisArtifact(t testing.TB) *ml.Artifact {
	t.Helper()
	forestOnce.Do(func() {
		features, labels, err := ml.IrisDataset()
		if err != nil {
			forestErr = err
			return
		}
		forest := ml.NewRandomForest(100, 0, 42)
		if err := forest.Train(features, labels); err != nil {
			forestErr = err
			return
		}
		forestArtifact, forestErr = ml.NewArtifact(forest, ml.ArtifactMetadata{
			TrainedAt: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
			Seed:      42,
			TrainSize: len(labels),
		})
	})
	if forestErr != nil {
		t.Fatalf("build iris artifact: %v", forestErr)
	}
	return forestArtifact
}

// WriteIrisArtifact saves IrisArtifact under dir and returns its path.
func WriteIrisArtifact(t testing.TB, dir string) string {
	t.Helper()
	path := filepath.Join(dir, "model.json")
	if err := ml.SaveArtifact(path, IrisArtifact(t)); err != nil {
		t.Fatalf("save iris artifact: %v", err)
	}
	return path
}

// IrisModel decodes IrisArtifact into a classifier.
func IrisModel(t testing.TB) ml.Classifier {
	t.Helper()
	model, err := IrisArtifact(t).Classifier()
	if err != nil {
		t.Fatalf("decode iris artifact: %v", err)
	}
	return model
}
