package ml

import (
	"strings"
	"testing"
)

func TestIrisDataset(t *testing.T) {
	features, labels, err := IrisDataset()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(features) != 150 || len(labels) != 150 {
		t.Fatalf("expected 150 samples, got %d/%d", len(features), len(labels))
	}
	counts := make([]int, NumClasses)
	for _, label := range labels {
		counts[label]++
	}
	for class, count := range counts {
		if count != 50 {
			t.Fatalf("expected 50 samples of %s, got %d", Species(class), count)
		}
	}
}

func TestReadDatasetErrors(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{name: "empty", data: ""},
		{name: "header only", data: "a,b,c,d,species\n"},
		{name: "bad number", data: "a,b,c,d,species\nx,1,1,1,setosa\n"},
		{name: "unknown species", data: "a,b,c,d,species\n1,1,1,1,rose\n"},
		{name: "short row", data: "a,b,c,d,species\n1,1,1,setosa\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, _, err := ReadDataset(strings.NewReader(tt.data)); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}

func TestSplitDataset(t *testing.T) {
	features, labels, err := IrisDataset()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	trainX, trainY, testX, testY := SplitDataset(features, labels, 0.3, 42)
	if len(testX) != 45 || len(testY) != 45 {
		t.Fatalf("expected 45 test samples, got %d", len(testX))
	}
	if len(trainX) != 105 || len(trainY) != 105 {
		t.Fatalf("expected 105 train samples, got %d", len(trainX))
	}

	againX, _, _, _ := SplitDataset(features, labels, 0.3, 42)
	for i := range trainX {
		if trainX[i][0] != againX[i][0] || trainX[i][3] != againX[i][3] {
			t.Fatalf("split not deterministic at %d", i)
		}
	}
}

func TestSpeciesRoundTrip(t *testing.T) {
	for _, species := range AllSpecies() {
		parsed, err := ParseSpecies(species.String())
		if err != nil || parsed != species {
			t.Fatalf("parse %s: got %v, %v", species, parsed, err)
		}
	}
	if _, err := ParseSpecies("Setosa"); err == nil {
		t.Fatalf("expected case-sensitive parse")
	}
	if Species(7).Valid() {
		t.Fatalf("expected Species(7) invalid")
	}
}
