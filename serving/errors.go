package serving

import (
	"errors"

	"irisserve/ml"
)

var (
	ErrArtifactNotFound = ml.ErrArtifactNotFound
	ErrArtifactCorrupt  = ml.ErrArtifactCorrupt
	ErrArtifactDenied   = ml.ErrArtifactDenied
	// ErrArtifactUnavailable means the store kept failing transiently until
	// retries ran out.
	ErrArtifactUnavailable = errors.New("model artifact unavailable")
	// ErrInference means a loaded handle could not produce a usable result.
	ErrInference = errors.New("inference failed")
)

// IsLoadError reports whether err came from loading the model rather than from
// running it.
func IsLoadError(err error) bool {
	return errors.Is(err, ErrArtifactNotFound) ||
		errors.Is(err, ErrArtifactCorrupt) ||
		errors.Is(err, ErrArtifactDenied) ||
		errors.Is(err, ErrArtifactUnavailable)
}
