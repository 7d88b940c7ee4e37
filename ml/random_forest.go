package ml

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
)

const (
	ModelTypeDecisionTree = "decision_tree"
	ModelTypeRandomForest = "random_forest"
)

// RandomForest averages the class distributions of bootstrapped trees. Training
// is deterministic for a given seed.
type RandomForest struct {
	trees       []*DecisionTree
	nEstimators int
	maxDepth    int
	seed        int64
}

func NewRandomForest(nEstimators, maxDepth int, seed int64) *RandomForest {
	if nEstimators <= 0 {
		nEstimators = 100
	}
	return &RandomForest{
		nEstimators: nEstimators,
		maxDepth:    maxDepth,
		seed:        seed,
	}
}

func (rf *RandomForest) ModelType() string {
	return ModelTypeRandomForest
}

func (rf *RandomForest) Train(features [][]float64, labels []int) error {
	if len(features) == 0 || len(labels) == 0 {
		return errors.New("features or labels empty")
	}
	if len(features) != len(labels) {
		return errors.New("features and labels size mismatch")
	}

	rng := rand.New(rand.NewSource(rf.seed))
	maxFeatures := int(math.Max(1, math.Floor(math.Sqrt(float64(NumFeatures)))))
	trees := make([]*DecisionTree, 0, rf.nEstimators)
	for i := 0; i < rf.nEstimators; i++ {
		sampleX := make([][]float64, len(features))
		sampleY := make([]int, len(labels))
		for j := range sampleX {
			pick := rng.Intn(len(features))
			sampleX[j] = features[pick]
			sampleY[j] = labels[pick]
		}
		tree := newForestTree(rf.maxDepth, maxFeatures, rand.New(rand.NewSource(rng.Int63())))
		if err := tree.Train(sampleX, sampleY); err != nil {
			return fmt.Errorf("tree %d: %w", i, err)
		}
		trees = append(trees, tree)
	}
	rf.trees = trees
	return nil
}

func (rf *RandomForest) PredictProba(features []float64) ([]float64, error) {
	if len(rf.trees) == 0 {
		return nil, fmt.Errorf("%w: model not trained", ErrInvalidModelState)
	}
	probs := make([]float64, NumClasses)
	for i, tree := range rf.trees {
		leaf, err := tree.leafFor(features)
		if err != nil {
			return nil, fmt.Errorf("tree %d: %w", i, err)
		}
		for class, weight := range leaf.Distribution {
			probs[class] += weight
		}
	}
	for class := range probs {
		probs[class] /= float64(len(rf.trees))
	}
	return probs, nil
}

func (rf *RandomForest) Trees() []*DecisionTree {
	return append([]*DecisionTree(nil), rf.trees...)
}
