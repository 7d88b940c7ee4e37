package ml

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
)

func TestNewArtifactStore(t *testing.T) {
	if _, ok := NewArtifactStore("model/model.json", nil).(*FileStore); !ok {
		t.Fatalf("expected FileStore for a path")
	}
	store, ok := NewArtifactStore("https://example.com/model.json", nil).(*HTTPStore)
	if !ok {
		t.Fatalf("expected HTTPStore for a URL")
	}
	if store.Client == nil || store.Location() != "https://example.com/model.json" {
		t.Fatalf("unexpected store: %+v", store)
	}
}

func TestFileStore(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "model.json")
	if err := os.WriteFile(path, []byte("{}"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	rc, err := (&FileStore{Path: path}).Open(context.Background())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	data, _ := io.ReadAll(rc)
	rc.Close()
	if string(data) != "{}" {
		t.Fatalf("unexpected content %q", data)
	}

	tests := []struct {
		name string
		path string
	}{
		{name: "missing", path: filepath.Join(dir, "missing.json")},
		{name: "directory", path: dir},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := (&FileStore{Path: tt.path}).Open(context.Background())
			if !errors.Is(err, ErrArtifactNotFound) {
				t.Fatalf("expected ErrArtifactNotFound, got %v", err)
			}
		})
	}
}

func TestFileStorePermissionDenied(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("root can read any file")
	}
	path := filepath.Join(t.TempDir(), "model.json")
	if err := os.WriteFile(path, []byte("{}"), 0o000); err != nil {
		t.Fatalf("write: %v", err)
	}
	_, err := (&FileStore{Path: path}).Open(context.Background())
	if !errors.Is(err, ErrArtifactDenied) || errors.Is(err, ErrArtifactNotFound) {
		t.Fatalf("expected ErrArtifactDenied, got %v", err)
	}
}

func TestHTTPStoreStatusMapping(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		wantErr error
	}{
		{name: "ok", status: http.StatusOK},
		{name: "not found", status: http.StatusNotFound, wantErr: ErrArtifactNotFound},
		{name: "forbidden", status: http.StatusForbidden, wantErr: ErrArtifactDenied},
		{name: "unauthorized", status: http.StatusUnauthorized, wantErr: ErrArtifactDenied},
		{name: "server error", status: http.StatusBadGateway, wantErr: ErrStoreUnavailable},
		{name: "throttled", status: http.StatusTooManyRequests, wantErr: ErrStoreUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte("body"))
			}))
			defer srv.Close()

			rc, err := NewArtifactStore(srv.URL+"/model.json", srv.Client()).Open(context.Background())
			if tt.wantErr == nil {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				rc.Close()
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestHTTPStoreNetworkError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := (&HTTPStore{URL: url}).Open(context.Background())
	if !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("expected ErrStoreUnavailable, got %v", err)
	}
}
