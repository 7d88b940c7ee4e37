package ml

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestArtifactRoundTripPreservesPredictions(t *testing.T) {
	forest := trainIrisForest(t)
	artifact, err := NewArtifact(forest, ArtifactMetadata{TrainedAt: time.Unix(0, 0).UTC(), Seed: 42})
	if err != nil {
		t.Fatalf("new artifact: %v", err)
	}

	path := filepath.Join(t.TempDir(), "model", "model.json")
	if err := SaveArtifact(path, artifact); err != nil {
		t.Fatalf("save: %v", err)
	}
	loaded, err := LoadModelFile(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded.ModelType() != ModelTypeRandomForest {
		t.Fatalf("expected random_forest, got %s", loaded.ModelType())
	}

	features, _, err := IrisDataset()
	if err != nil {
		t.Fatalf("dataset: %v", err)
	}
	for i, row := range features {
		want, err := forest.PredictProba(row)
		if err != nil {
			t.Fatalf("predict: %v", err)
		}
		got, err := loaded.PredictProba(row)
		if err != nil {
			t.Fatalf("predict loaded: %v", err)
		}
		for class := range want {
			if want[class] != got[class] {
				t.Fatalf("row %d class %d: want %v, got %v", i, class, want[class], got[class])
			}
		}
	}
}

func TestDecisionTreeArtifact(t *testing.T) {
	features, labels, err := IrisDataset()
	if err != nil {
		t.Fatalf("dataset: %v", err)
	}
	tree := NewDecisionTree(3)
	if err := tree.Train(features, labels); err != nil {
		t.Fatalf("train: %v", err)
	}
	artifact, err := NewArtifact(tree, ArtifactMetadata{MaxDepth: 3})
	if err != nil {
		t.Fatalf("new artifact: %v", err)
	}
	var buf bytes.Buffer
	if err := EncodeArtifact(&buf, artifact); err != nil {
		t.Fatalf("encode: %v", err)
	}
	model, decoded, err := DecodeArtifact(&buf)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if model.ModelType() != ModelTypeDecisionTree || decoded.Metadata.MaxDepth != 3 {
		t.Fatalf("unexpected decode: %s %+v", model.ModelType(), decoded.Metadata)
	}
}

func TestNewArtifactUntrained(t *testing.T) {
	if _, err := NewArtifact(NewRandomForest(10, 0, 1), ArtifactMetadata{}); err == nil {
		t.Fatalf("expected error for untrained forest")
	}
}

func TestDecodeArtifactCorrupt(t *testing.T) {
	leaf := `{"feature_idx":-1,"threshold":0,"left_child":-1,"right_child":-1,"class_label":0,"is_leaf":true,"distribution":[1,0,0]}`
	valid := func(modelType, classes, features, nodes string) string {
		return `{"format_version":1,"model_type":"` + modelType + `","classes":` + classes +
			`,"feature_names":` + features + `,"trees":[{"nodes":[` + nodes + `]}],"metadata":{}}`
	}
	classes := `["setosa","versicolor","virginica"]`
	names := `["sepal_length","sepal_width","petal_length","petal_width"]`

	tests := []struct {
		name string
		data string
	}{
		{name: "not json", data: "\x80\x03pickle"},
		{name: "truncated", data: `{"format_version":1,"model_type":`},
		{name: "unknown field", data: strings.Replace(valid("decision_tree", classes, names, leaf), `"metadata"`, `"weights":[],"metadata"`, 1)},
		{name: "wrong version", data: strings.Replace(valid("decision_tree", classes, names, leaf), `"format_version":1`, `"format_version":2`, 1)},
		{name: "wrong classes", data: valid("decision_tree", `["a","b","c"]`, names, leaf)},
		{name: "wrong feature count", data: valid("decision_tree", classes, `["a","b","c"]`, leaf)},
		{name: "unknown model type", data: valid("svm", classes, names, leaf)},
		{name: "bad distribution", data: valid("decision_tree", classes, names, strings.Replace(leaf, "[1,0,0]", "[1,0]", 1))},
		{name: "distribution not normalized", data: valid("decision_tree", classes, names, strings.Replace(leaf, "[1,0,0]", "[0.5,0,0]", 1))},
		{name: "child out of range", data: valid("decision_tree", classes, names,
			`{"feature_idx":0,"threshold":1,"left_child":1,"right_child":5,"class_label":0,"is_leaf":false},`+leaf)},
		{name: "child before parent", data: valid("decision_tree", classes, names,
			`{"feature_idx":0,"threshold":1,"left_child":0,"right_child":1,"class_label":0,"is_leaf":false},`+leaf)},
		{name: "feature index out of range", data: valid("decision_tree", classes, names,
			`{"feature_idx":4,"threshold":1,"left_child":1,"right_child":2,"class_label":0,"is_leaf":false},`+leaf+`,`+leaf)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := DecodeArtifact(strings.NewReader(tt.data))
			if !errors.Is(err, ErrArtifactCorrupt) {
				t.Fatalf("expected ErrArtifactCorrupt, got %v", err)
			}
		})
	}
}

func TestSaveArtifactLeavesNoTempFiles(t *testing.T) {
	forest := NewRandomForest(3, 2, 7)
	features, labels, err := IrisDataset()
	if err != nil {
		t.Fatalf("dataset: %v", err)
	}
	if err := forest.Train(features, labels); err != nil {
		t.Fatalf("train: %v", err)
	}
	artifact, err := NewArtifact(forest, ArtifactMetadata{})
	if err != nil {
		t.Fatalf("new artifact: %v", err)
	}
	dir := t.TempDir()
	if err := SaveArtifact(filepath.Join(dir, "model.json"), artifact); err != nil {
		t.Fatalf("save: %v", err)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	if len(entries) != 1 || entries[0].Name() != "model.json" {
		t.Fatalf("unexpected directory contents: %v", entries)
	}
}
