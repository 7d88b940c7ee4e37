package ml

import (
	"errors"
	"math"
	"testing"
)

func TestDecisionTreeTrainPredict(t *testing.T) {
	features := [][]float64{
		{0.1, 0.2, 0.1, 0.1},
		{0.2, 0.1, 0.2, 0.1},
		{0.9, 0.8, 0.9, 0.9},
		{0.8, 0.9, 0.8, 0.9},
	}
	labels := []int{0, 0, 2, 2}

	model := NewDecisionTree(2)
	if err := model.Train(features, labels); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	label, confidence, err := model.Predict([]float64{0.15, 0.15, 0.15, 0.15})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if label != 0 {
		t.Fatalf("expected label 0, got %d", label)
	}
	if confidence != 1 {
		t.Fatalf("expected confidence 1, got %v", confidence)
	}
}

func TestDecisionTreeTrainErrors(t *testing.T) {
	tests := []struct {
		name     string
		features [][]float64
		labels   []int
	}{
		{name: "empty", features: nil, labels: nil},
		{name: "size mismatch", features: [][]float64{{1, 2, 3, 4}}, labels: []int{0, 1}},
		{name: "short row", features: [][]float64{{1, 2, 3}}, labels: []int{0}},
		{name: "label out of range", features: [][]float64{{1, 2, 3, 4}}, labels: []int{3}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := NewDecisionTree(0).Train(tt.features, tt.labels); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}

func TestDecisionTreeChildrenFollowParent(t *testing.T) {
	features, labels, err := IrisDataset()
	if err != nil {
		t.Fatalf("dataset: %v", err)
	}
	model := NewDecisionTree(0)
	if err := model.Train(features, labels); err != nil {
		t.Fatalf("train: %v", err)
	}
	nodes := model.Nodes()
	if len(nodes) < 3 {
		t.Fatalf("expected a split, got %d nodes", len(nodes))
	}
	for i, node := range nodes {
		if node.IsLeaf {
			continue
		}
		if node.LeftChild <= i || node.RightChild <= i {
			t.Fatalf("node %d children %d/%d do not follow parent", i, node.LeftChild, node.RightChild)
		}
	}
}

func TestDecisionTreeFitsTrainingSet(t *testing.T) {
	features, labels, err := IrisDataset()
	if err != nil {
		t.Fatalf("dataset: %v", err)
	}
	model := NewDecisionTree(0)
	if err := model.Train(features, labels); err != nil {
		t.Fatalf("train: %v", err)
	}

	species, confidence, err := Predict(model, []float64{5.1, 3.5, 1.4, 0.2})
	if err != nil {
		t.Fatalf("predict: %v", err)
	}
	if species != Setosa || math.Abs(confidence-1) > 1e-9 {
		t.Fatalf("expected setosa with confidence 1, got %s %v", species, confidence)
	}

	accuracy, err := Accuracy(model, features, labels)
	if err != nil {
		t.Fatalf("accuracy: %v", err)
	}
	if accuracy < 0.99 {
		t.Fatalf("expected near-perfect training accuracy, got %v", accuracy)
	}
}

func TestDecisionTreeUntrained(t *testing.T) {
	_, err := NewDecisionTree(0).PredictProba([]float64{1, 2, 3, 4})
	if !errors.Is(err, ErrInvalidModelState) {
		t.Fatalf("expected ErrInvalidModelState, got %v", err)
	}
}

func TestDecisionTreeCycleDetected(t *testing.T) {
	leaf := TreeNode{IsLeaf: true, Distribution: []float64{1, 0, 0}}
	model := &DecisionTree{nodes: []TreeNode{
		{FeatureIdx: 0, Threshold: 1, LeftChild: 1, RightChild: 2},
		{FeatureIdx: 0, Threshold: 1, LeftChild: 0, RightChild: 0},
		leaf,
	}}
	_, err := model.PredictProba([]float64{0.5, 0, 0, 0})
	if !errors.Is(err, ErrInvalidModelState) {
		t.Fatalf("expected ErrInvalidModelState, got %v", err)
	}
}
