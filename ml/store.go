package ml

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"
	"strings"
	"time"
)

var (
	// ErrArtifactNotFound means the store has no artifact at the location.
	ErrArtifactNotFound = errors.New("model artifact not found")

	// ErrArtifactDenied means the artifact exists but the process may not read it.
	ErrArtifactDenied = errors.New("model artifact access denied")

	// ErrStoreUnavailable marks a read failure that may succeed on retry.
	ErrStoreUnavailable = errors.New("artifact store unavailable")
)

// ArtifactStore is a read-only source of serialized models.
type ArtifactStore interface {
	Open(ctx context.Context) (io.ReadCloser, error)
	Location() string
}

// NewArtifactStore picks a store from ref: http(s) URLs are fetched as blobs,
// anything else is a local path. A nil client uses a client with a 30s timeout.
func NewArtifactStore(ref string, client *http.Client) ArtifactStore {
	if strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://") {
		if client == nil {
			client = &http.Client{Timeout: 30 * time.Second}
		}
		return &HTTPStore{URL: ref, Client: client}
	}
	return &FileStore{Path: ref}
}

type FileStore struct {
	Path string
}

func (s *FileStore) Location() string {
	return s.Path
}

func (s *FileStore) Open(ctx context.Context) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f, err := os.Open(s.Path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrArtifactNotFound, s.Path)
		}
		if errors.Is(err, fs.ErrPermission) {
			return nil, fmt.Errorf("%w: %v", ErrArtifactDenied, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if info.IsDir() {
		f.Close()
		return nil, fmt.Errorf("%w: %s is a directory", ErrArtifactNotFound, s.Path)
	}
	return f, nil
}

type HTTPStore struct {
	URL    string
	Client *http.Client
}

func (s *HTTPStore) Location() string {
	return s.URL
}

func (s *HTTPStore) Open(ctx context.Context) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrArtifactNotFound, err)
	}
	client := s.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if resp.StatusCode == http.StatusOK {
		return resp.Body, nil
	}
	resp.Body.Close()

	switch {
	case resp.StatusCode >= 500, resp.StatusCode == http.StatusTooManyRequests:
		return nil, fmt.Errorf("%w: %s returned %d", ErrStoreUnavailable, s.URL, resp.StatusCode)
	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
		return nil, fmt.Errorf("%w: %s returned %d", ErrArtifactDenied, s.URL, resp.StatusCode)
	default:
		return nil, fmt.Errorf("%w: %s returned %d", ErrArtifactNotFound, s.URL, resp.StatusCode)
	}
}
