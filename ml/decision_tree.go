package ml

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sort"
)

type DecisionTree struct {
	nodes       []TreeNode
	maxDepth    int
	maxFeatures int
	rng         *rand.Rand
}

type TreeNode struct {
	FeatureIdx   int       `json:"feature_idx"`
	Threshold    float64   `json:"threshold"`
	LeftChild    int       `json:"left_child"`
	RightChild   int       `json:"right_child"`
	ClassLabel   int       `json:"class_label"`
	IsLeaf       bool      `json:"is_leaf"`
	Distribution []float64 `json:"distribution,omitempty"`
}

// NewDecisionTree returns an untrained tree. A maxDepth of zero grows the tree
// until every leaf is pure.
func NewDecisionTree(maxDepth int) *DecisionTree {
	return &DecisionTree{maxDepth: maxDepth}
}

func newForestTree(maxDepth, maxFeatures int, rng *rand.Rand) *DecisionTree {
	return &DecisionTree{
		maxDepth:    maxDepth,
		maxFeatures: maxFeatures,
		rng:         rng,
	}
}

func (dt *DecisionTree) ModelType() string {
	return ModelTypeDecisionTree
}

func (dt *DecisionTree) Train(features [][]float64, labels []int) error {
	if len(features) == 0 || len(labels) == 0 {
		return errors.New("features or labels empty")
	}
	if len(features) != len(labels) {
		return errors.New("features and labels size mismatch")
	}
	for i, feature := range features {
		if err := checkFeatureCount(feature); err != nil {
			return fmt.Errorf("sample %d: %w", i, err)
		}
		if labels[i] < 0 || labels[i] >= NumClasses {
			return fmt.Errorf("sample %d: label %d out of range", i, labels[i])
		}
	}

	dt.nodes = nil
	dt.buildNode(features, labels, 0)
	return nil
}

func (dt *DecisionTree) PredictProba(features []float64) ([]float64, error) {
	leaf, err := dt.leafFor(features)
	if err != nil {
		return nil, err
	}
	probs := make([]float64, len(leaf.Distribution))
	copy(probs, leaf.Distribution)
	return probs, nil
}

// Predict returns the leaf label and its probability.
func (dt *DecisionTree) Predict(features []float64) (int, float64, error) {
	label, confidence, err := Predict(dt, features)
	return int(label), confidence, err
}

// Nodes returns a copy of the flattened tree in pre-order.
func (dt *DecisionTree) Nodes() []TreeNode {
	nodes := make([]TreeNode, len(dt.nodes))
	for i, node := range dt.nodes {
		nodes[i] = node
		nodes[i].Distribution = append([]float64(nil), node.Distribution...)
	}
	return nodes
}

func (dt *DecisionTree) leafFor(features []float64) (TreeNode, error) {
	if len(dt.nodes) == 0 {
		return TreeNode{}, fmt.Errorf("%w: model not trained", ErrInvalidModelState)
	}
	if err := checkFeatureCount(features); err != nil {
		return TreeNode{}, err
	}
	idx := 0
	// Children always follow their parent, so a valid walk takes at most
	// len(nodes) steps.
	for steps := 0; steps <= len(dt.nodes); steps++ {
		node := dt.nodes[idx]
		if node.IsLeaf {
			if len(node.Distribution) != NumClasses {
				return TreeNode{}, fmt.Errorf("%w: leaf %d has %d class weights", ErrInvalidModelState, idx, len(node.Distribution))
			}
			return node, nil
		}
		if node.FeatureIdx < 0 || node.FeatureIdx >= len(features) {
			return TreeNode{}, fmt.Errorf("%w: feature index %d out of range", ErrInvalidModelState, node.FeatureIdx)
		}
		if features[node.FeatureIdx] <= node.Threshold {
			idx = node.LeftChild
		} else {
			idx = node.RightChild
		}
		if idx < 0 || idx >= len(dt.nodes) {
			return TreeNode{}, fmt.Errorf("%w: child index %d out of range", ErrInvalidModelState, idx)
		}
	}
	return TreeNode{}, fmt.Errorf("%w: cycle in tree", ErrInvalidModelState)
}

// buildNode appends the subtree for the given samples and returns the index of
// its root.
func (dt *DecisionTree) buildNode(features [][]float64, labels []int, depth int) int {
	idx := len(dt.nodes)
	distribution := classDistribution(labels)
	dt.nodes = append(dt.nodes, TreeNode{
		FeatureIdx:   -1,
		LeftChild:    -1,
		RightChild:   -1,
		ClassLabel:   argMax(distribution),
		IsLeaf:       true,
		Distribution: distribution,
	})

	if (dt.maxDepth > 0 && depth >= dt.maxDepth) || isPure(labels) {
		return idx
	}

	bestFeature, threshold, ok := dt.findBestSplit(features, labels)
	if !ok {
		return idx
	}

	leftFeatures, leftLabels, rightFeatures, rightLabels := splitData(features, labels, bestFeature, threshold)
	if len(leftLabels) == 0 || len(rightLabels) == 0 {
		return idx
	}

	left := dt.buildNode(leftFeatures, leftLabels, depth+1)
	right := dt.buildNode(rightFeatures, rightLabels, depth+1)

	node := &dt.nodes[idx]
	node.FeatureIdx = bestFeature
	node.Threshold = threshold
	node.LeftChild = left
	node.RightChild = right
	node.IsLeaf = false
	return idx
}

// findBestSplit searches candidate features for the threshold with the lowest
// weighted Gini impurity. With maxFeatures set, features are visited in random
// order and the search stops once maxFeatures non-constant features were seen
// and a split exists.
func (dt *DecisionTree) findBestSplit(features [][]float64, labels []int) (int, float64, bool) {
	featureCount := len(features[0])
	order := make([]int, featureCount)
	for i := range order {
		order[i] = i
	}
	if dt.maxFeatures > 0 && dt.maxFeatures < featureCount && dt.rng != nil {
		order = dt.rng.Perm(featureCount)
	}

	bestFeature := -1
	bestThreshold := 0.0
	bestImpurity := math.MaxFloat64
	visited := 0

	for _, featureIdx := range order {
		if dt.maxFeatures > 0 && visited >= dt.maxFeatures && bestFeature != -1 {
			break
		}
		threshold, impurity, ok := bestThresholdFor(features, labels, featureIdx)
		if !ok {
			continue
		}
		visited++
		if impurity < bestImpurity {
			bestImpurity = impurity
			bestFeature = featureIdx
			bestThreshold = threshold
		}
	}
	if bestFeature == -1 {
		return -1, 0, false
	}
	return bestFeature, bestThreshold, true
}

// bestThresholdFor sweeps the sorted values of one feature and returns the
// midpoint split with the lowest weighted Gini impurity. ok is false when the
// feature is constant over the samples.
func bestThresholdFor(features [][]float64, labels []int, featureIdx int) (float64, float64, bool) {
	order := make([]int, len(features))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return features[order[a]][featureIdx] < features[order[b]][featureIdx]
	})

	total := float64(len(labels))
	rightCounts := make([]float64, NumClasses)
	for _, label := range labels {
		rightCounts[label]++
	}
	leftCounts := make([]float64, NumClasses)

	found := false
	bestThreshold := 0.0
	bestImpurity := math.MaxFloat64
	for pos := 0; pos < len(order)-1; pos++ {
		label := labels[order[pos]]
		leftCounts[label]++
		rightCounts[label]--

		current := features[order[pos]][featureIdx]
		next := features[order[pos+1]][featureIdx]
		if current == next {
			continue
		}
		leftWeight := float64(pos + 1)
		rightWeight := total - leftWeight
		impurity := (leftWeight/total)*giniCounts(leftCounts, leftWeight) +
			(rightWeight/total)*giniCounts(rightCounts, rightWeight)
		if impurity < bestImpurity {
			bestImpurity = impurity
			bestThreshold = current + (next-current)/2
			found = true
		}
	}
	return bestThreshold, bestImpurity, found
}

func splitData(features [][]float64, labels []int, featureIdx int, threshold float64) ([][]float64, []int, [][]float64, []int) {
	leftFeatures := make([][]float64, 0)
	leftLabels := make([]int, 0)
	rightFeatures := make([][]float64, 0)
	rightLabels := make([]int, 0)
	for i, feature := range features {
		if feature[featureIdx] <= threshold {
			leftFeatures = append(leftFeatures, feature)
			leftLabels = append(leftLabels, labels[i])
		} else {
			rightFeatures = append(rightFeatures, feature)
			rightLabels = append(rightLabels, labels[i])
		}
	}
	return leftFeatures, leftLabels, rightFeatures, rightLabels
}

func giniCounts(counts []float64, total float64) float64 {
	if total == 0 {
		return 0
	}
	impurity := 1.0
	for _, count := range counts {
		prob := count / total
		impurity -= prob * prob
	}
	return impurity
}

func classDistribution(labels []int) []float64 {
	distribution := make([]float64, NumClasses)
	if len(labels) == 0 {
		return distribution
	}
	for _, label := range labels {
		distribution[label]++
	}
	for i := range distribution {
		distribution[i] /= float64(len(labels))
	}
	return distribution
}

func argMax(values []float64) int {
	best := 0
	for i := 1; i < len(values); i++ {
		if values[i] > values[best] {
			best = i
		}
	}
	return best
}

func isPure(labels []int) bool {
	if len(labels) == 0 {
		return true
	}
	first := labels[0]
	for _, label := range labels[1:] {
		if label != first {
			return false
		}
	}
	return true
}
