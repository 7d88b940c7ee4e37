package ml

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"time"
)

// ArtifactFormatVersion is the only artifact layout DecodeArtifact accepts.
const ArtifactFormatVersion = 1

// ErrArtifactCorrupt is returned when an artifact cannot be decoded into a
// usable classifier.
var ErrArtifactCorrupt = errors.New("model artifact corrupt")

type Artifact struct {
	FormatVersion int              `json:"format_version"`
	ModelType     string           `json:"model_type"`
	Classes       []string         `json:"classes"`
	FeatureNames  []string         `json:"feature_names"`
	Trees         []ArtifactTree   `json:"trees"`
	Metadata      ArtifactMetadata `json:"metadata"`
}

type ArtifactTree struct {
	Nodes []TreeNode `json:"nodes"`
}

type ArtifactMetadata struct {
	TrainedAt    time.Time `json:"trained_at"`
	NEstimators  int       `json:"n_estimators,omitempty"`
	MaxDepth     int       `json:"max_depth,omitempty"`
	Seed         int64     `json:"seed"`
	TrainSize    int       `json:"train_size"`
	TestAccuracy float64   `json:"test_accuracy"`
}

// NewArtifact snapshots a trained model. Only the tree-based classifiers in
// this package can be serialized.
func NewArtifact(model Classifier, meta ArtifactMetadata) (*Artifact, error) {
	artifact := &Artifact{
		FormatVersion: ArtifactFormatVersion,
		ModelType:     model.ModelType(),
		Classes:       SpeciesNames(),
		FeatureNames:  FeatureNames(),
		Metadata:      meta,
	}
	switch m := model.(type) {
	case *DecisionTree:
		if len(m.nodes) == 0 {
			return nil, errors.New("decision tree not trained")
		}
		artifact.Trees = []ArtifactTree{{Nodes: m.Nodes()}}
	case *RandomForest:
		if len(m.trees) == 0 {
			return nil, errors.New("random forest not trained")
		}
		for _, tree := range m.trees {
			artifact.Trees = append(artifact.Trees, ArtifactTree{Nodes: tree.Nodes()})
		}
		artifact.Metadata.NEstimators = len(m.trees)
	default:
		return nil, fmt.Errorf("unsupported model type %q", model.ModelType())
	}
	return artifact, nil
}

func EncodeArtifact(w io.Writer, artifact *Artifact) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(artifact)
}

// SaveArtifact writes the artifact to path via a temporary file so readers
// never observe a partial document.
func SaveArtifact(path string, artifact *Artifact) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".model-*.json")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if err := EncodeArtifact(tmp, artifact); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// DecodeArtifact reads an artifact and returns the classifier it describes.
// Every failure wraps ErrArtifactCorrupt.
func DecodeArtifact(r io.Reader) (Classifier, *Artifact, error) {
	var artifact Artifact
	decoder := json.NewDecoder(r)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&artifact); err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrArtifactCorrupt, err)
	}
	model, err := artifact.Classifier()
	if err != nil {
		return nil, nil, err
	}
	return model, &artifact, nil
}

// Classifier validates the artifact structure and builds the in-memory model.
func (a *Artifact) Classifier() (Classifier, error) {
	if a.FormatVersion != ArtifactFormatVersion {
		return nil, fmt.Errorf("%w: unsupported format version %d", ErrArtifactCorrupt, a.FormatVersion)
	}
	if !equalStrings(a.Classes, SpeciesNames()) {
		return nil, fmt.Errorf("%w: classes %v do not match %v", ErrArtifactCorrupt, a.Classes, SpeciesNames())
	}
	if len(a.FeatureNames) != NumFeatures {
		return nil, fmt.Errorf("%w: expected %d features, got %d", ErrArtifactCorrupt, NumFeatures, len(a.FeatureNames))
	}
	if len(a.Trees) == 0 {
		return nil, fmt.Errorf("%w: no trees", ErrArtifactCorrupt)
	}

	trees := make([]*DecisionTree, 0, len(a.Trees))
	for i, tree := range a.Trees {
		dt, err := newDecisionTreeFromNodes(tree.Nodes)
		if err != nil {
			return nil, fmt.Errorf("%w: tree %d: %v", ErrArtifactCorrupt, i, err)
		}
		trees = append(trees, dt)
	}

	switch a.ModelType {
	case ModelTypeDecisionTree:
		if len(trees) != 1 {
			return nil, fmt.Errorf("%w: decision tree artifact has %d trees", ErrArtifactCorrupt, len(trees))
		}
		return trees[0], nil
	case ModelTypeRandomForest:
		return &RandomForest{
			trees:       trees,
			nEstimators: len(trees),
			maxDepth:    a.Metadata.MaxDepth,
			seed:        a.Metadata.Seed,
		}, nil
	default:
		return nil, fmt.Errorf("%w: unsupported model type %q", ErrArtifactCorrupt, a.ModelType)
	}
}

func newDecisionTreeFromNodes(nodes []TreeNode) (*DecisionTree, error) {
	if len(nodes) == 0 {
		return nil, errors.New("empty tree")
	}
	copied := make([]TreeNode, len(nodes))
	for i, node := range nodes {
		if node.IsLeaf {
			if len(node.Distribution) != NumClasses {
				return nil, fmt.Errorf("leaf %d has %d class weights", i, len(node.Distribution))
			}
			sum := 0.0
			for _, p := range node.Distribution {
				if math.IsNaN(p) || p < 0 || p > 1 {
					return nil, fmt.Errorf("leaf %d has invalid weight %v", i, p)
				}
				sum += p
			}
			if math.Abs(sum-1) > 1e-6 {
				return nil, fmt.Errorf("leaf %d weights sum to %v", i, sum)
			}
		} else {
			if node.FeatureIdx < 0 || node.FeatureIdx >= NumFeatures {
				return nil, fmt.Errorf("node %d feature index %d out of range", i, node.FeatureIdx)
			}
			if math.IsNaN(node.Threshold) || math.IsInf(node.Threshold, 0) {
				return nil, fmt.Errorf("node %d threshold not finite", i)
			}
			for _, child := range []int{node.LeftChild, node.RightChild} {
				if child <= i || child >= len(nodes) {
					return nil, fmt.Errorf("node %d child index %d out of range", i, child)
				}
			}
		}
		copied[i] = node
		copied[i].Distribution = append([]float64(nil), node.Distribution...)
	}
	return &DecisionTree{nodes: copied}, nil
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
