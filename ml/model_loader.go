package ml

import (
	"bytes"
	"context"
	"fmt"
	"io"
)

// LoadModel reads one artifact from store and decodes it. A failure while
// reading the body wraps ErrStoreUnavailable; only the decode step can report
// ErrArtifactCorrupt.
func LoadModel(ctx context.Context, store ArtifactStore) (Classifier, error) {
	rc, err := store.Open(ctx)
	if err != nil {
		return nil, err
	}
	data, err := io.ReadAll(rc)
	rc.Close()
	if err != nil {
		return nil, fmt.Errorf("load %s: %w: %v", store.Location(), ErrStoreUnavailable, err)
	}

	model, _, err := DecodeArtifact(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", store.Location(), err)
	}
	return model, nil
}

// LoadModelFile is LoadModel for a local path.
func LoadModelFile(path string) (Classifier, error) {
	return LoadModel(context.Background(), &FileStore{Path: path})
}
