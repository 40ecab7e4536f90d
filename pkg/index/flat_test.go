package index

import (
	"sort"
	"testing"
)

func TestRankExact(t *testing.T) {
	ids := []int64{10, 20, 30, 40}
	vectors := [][]float32{
		{0, 0},
		{1, 0},
		{3, 4},
		{0.5, 0},
	}
	query := []float32{0, 0}

	matches, err := RankExact(query, ids, vectors, 3)
	if err != nil {
		t.Fatalf("RankExact() error = %v", err)
	}

	wantIDs := []int64{10, 40, 20}
	if len(matches) != len(wantIDs) {
		t.Fatalf("RankExact() returned %d matches, want %d", len(matches), len(wantIDs))
	}
	for i, want := range wantIDs {
		if matches[i].ID != want {
			t.Errorf("matches[%d].ID = %d, want %d", i, matches[i].ID, want)
		}
	}
	if matches[0].Distance != 0 {
		t.Errorf("matches[0].Distance = %v, want 0", matches[0].Distance)
	}
}

func TestRankExactFewerThanK(t *testing.T) {
	matches, err := RankExact([]float32{0}, []int64{1, 2}, [][]float32{{1}, {2}}, 10)
	if err != nil {
		t.Fatalf("RankExact() error = %v", err)
	}
	if len(matches) != 2 {
		t.Errorf("RankExact() returned %d matches, want 2", len(matches))
	}
}

func TestRankExactTieBreak(t *testing.T) {
	// Equidistant candidates come back in ascending id order.
	ids := []int64{5, 3, 9}
	vectors := [][]float32{{1, 0}, {-1, 0}, {0, 1}}

	matches, err := RankExact([]float32{0, 0}, ids, vectors, 3)
	if err != nil {
		t.Fatalf("RankExact() error = %v", err)
	}

	got := []int64{matches[0].ID, matches[1].ID, matches[2].ID}
	if !sort.SliceIsSorted(got, func(i, j int) bool { return got[i] < got[j] }) {
		t.Errorf("equidistant ids not in ascending order: %v", got)
	}
}

func TestRankExactErrors(t *testing.T) {
	if _, err := RankExact([]float32{0}, []int64{1}, nil, 1); err == nil {
		t.Error("RankExact() with mismatched lengths expected error")
	}
	if _, err := RankExact([]float32{0}, []int64{1}, [][]float32{{1}}, 0); err == nil {
		t.Error("RankExact() with k=0 expected error")
	}
	if _, err := RankExact([]float32{0, 0}, []int64{1}, [][]float32{{1}}, 1); err == nil {
		t.Error("RankExact() with dimension mismatch expected error")
	}
}
