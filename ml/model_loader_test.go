package ml

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"
)

func decisionTreeBytes(t *testing.T) []byte {
	t.Helper()
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
	return buf.Bytes()
}

func TestLoadModelBrokenTransferIsUnavailable(t *testing.T) {
	data := decisionTreeBytes(t)
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) > 1 {
			_, _ = w.Write(data)
			return
		}
		w.Header().Set("Content-Length", strconv.Itoa(len(data)+100000))
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(data[:200])
		w.(http.Flusher).Flush()
		conn, _, err := w.(http.Hijacker).Hijack()
		if err != nil {
			t.Errorf("hijack: %v", err)
			return
		}
		conn.Close()
	}))
	defer srv.Close()

	store := NewArtifactStore(srv.URL+"/model.json", srv.Client())

	_, err := LoadModel(context.Background(), store)
	if !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("expected ErrStoreUnavailable, got %v", err)
	}
	if errors.Is(err, ErrArtifactCorrupt) {
		t.Fatalf("broken transfer reported as corrupt: %v", err)
	}

	model, err := LoadModel(context.Background(), store)
	if err != nil {
		t.Fatalf("second load: %v", err)
	}
	if model.ModelType() != ModelTypeDecisionTree {
		t.Fatalf("unexpected model type %s", model.ModelType())
	}
}

func TestLoadModelBadDocumentIsCorrupt(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"format_version": 1, "trees": [`))
	}))
	defer srv.Close()

	_, err := LoadModel(context.Background(), NewArtifactStore(srv.URL, srv.Client()))
	if !errors.Is(err, ErrArtifactCorrupt) || errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("expected ErrArtifactCorrupt, got %v", err)
	}
}
