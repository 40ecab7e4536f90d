package index

import (
	"context"
	"math/rand"
	"testing"
)

func generateTestVectors(n, dim int) ([]int64, [][]float32) {
	rng := rand.New(rand.NewSource(42))
	ids := make([]int64, n)
	vectors := make([][]float32, n)
	for i := range vectors {
		ids[i] = int64(i + 1)
		v := make([]float32, dim)
		for j := range v {
			v[j] = rng.Float32()
		}
		vectors[i] = v
	}
	return ids, vectors
}

func TestBuild(t *testing.T) {
	ids, vectors := generateTestVectors(200, 32)

	ivf, err := Build(context.Background(), ids, vectors, 10)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	if ivf.Lists != 10 {
		t.Errorf("Lists = %d, want 10", ivf.Lists)
	}
	if ivf.Dimension != 32 {
		t.Errorf("Dimension = %d, want 32", ivf.Dimension)
	}
	if ivf.Size() != 200 {
		t.Errorf("Size() = %d, want 200", ivf.Size())
	}

	total := 0
	for _, list := range ivf.Invlists {
		total += len(list)
	}
	if total != 200 {
		t.Errorf("inverted lists hold %d entries, want 200", total)
	}
}

func TestBuildClampsLists(t *testing.T) {
	ids, vectors := generateTestVectors(5, 8)

	ivf, err := Build(context.Background(), ids, vectors, 100)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if ivf.Lists != 5 {
		t.Errorf("Lists = %d, want clamped to 5", ivf.Lists)
	}
}

func TestBuildErrors(t *testing.T) {
	ids, vectors := generateTestVectors(10, 8)

	if _, err := Build(context.Background(), ids, nil, 4); err == nil {
		t.Error("Build() with mismatched lengths expected error")
	}
	if _, err := Build(context.Background(), nil, nil, 4); err == nil {
		t.Error("Build() with zero vectors expected error")
	}
	if _, err := Build(context.Background(), ids, vectors, 0); err == nil {
		t.Error("Build() with zero lists expected error")
	}

	ragged := make([][]float32, len(vectors))
	copy(ragged, vectors)
	ragged[3] = []float32{1, 2}
	if _, err := Build(context.Background(), ids, ragged, 4); err == nil {
		t.Error("Build() with ragged dimensions expected error")
	}
}

func TestBuildCancellation(t *testing.T) {
	ids, vectors := generateTestVectors(500, 16)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := Build(ctx, ids, vectors, 50); err == nil {
		t.Error("Build() with cancelled context expected error")
	}
}

func TestSearchOrdering(t *testing.T) {
	ids, vectors := generateTestVectors(1000, 16)

	ivf, err := Build(context.Background(), ids, vectors, 20)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	query := vectors[7]
	matches, err := ivf.Search(query, 10)
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}

	if len(matches) != 10 {
		t.Fatalf("Search() returned %d matches, want 10", len(matches))
	}
	for i := 1; i < len(matches); i++ {
		if matches[i].Distance < matches[i-1].Distance {
			t.Errorf("matches not ordered: [%d]=%v after [%d]=%v",
				i, matches[i].Distance, i-1, matches[i-1].Distance)
		}
	}

	// The query is an indexed vector, so its own id must come back first
	// at distance zero.
	if matches[0].ID != ids[7] || matches[0].Distance != 0 {
		t.Errorf("nearest = (%d, %v), want (%d, 0)", matches[0].ID, matches[0].Distance, ids[7])
	}
}

func TestSearchDeterministic(t *testing.T) {
	ids, vectors := generateTestVectors(300, 16)

	ivf, err := Build(context.Background(), ids, vectors, 10)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	query := make([]float32, 16)
	for i := range query {
		query[i] = 0.5
	}

	first, err := ivf.Search(query, 5)
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	second, err := ivf.Search(query, 5)
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}

	if len(first) != len(second) {
		t.Fatalf("result sizes differ: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if first[i].ID != second[i].ID {
			t.Errorf("result %d differs between runs: %d vs %d", i, first[i].ID, second[i].ID)
		}
	}
}

func TestSearchDimensionMismatch(t *testing.T) {
	ids, vectors := generateTestVectors(50, 16)

	ivf, err := Build(context.Background(), ids, vectors, 5)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	if _, err := ivf.Search(make([]float32, 8), 5); err == nil {
		t.Error("Search() with wrong query dimension expected error")
	}
}

func TestSetNProbe(t *testing.T) {
	ids, vectors := generateTestVectors(100, 8)

	ivf, err := Build(context.Background(), ids, vectors, 20)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	ivf.SetNProbe(50)
	if ivf.NProbe != 20 {
		t.Errorf("NProbe = %d, want clamped to 20", ivf.NProbe)
	}
	ivf.SetNProbe(0)
	if ivf.NProbe != 1 {
		t.Errorf("NProbe = %d, want floored to 1", ivf.NProbe)
	}

	// Probing every cluster makes the search exact over the whole set.
	ivf.SetNProbe(20)
	matches, err := ivf.Search(vectors[3], 1)
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if matches[0].ID != ids[3] {
		t.Errorf("full-probe nearest = %d, want %d", matches[0].ID, ids[3])
	}
}

func TestSnapshotRestore(t *testing.T) {
	ids, vectors := generateTestVectors(100, 8)

	ivf, err := Build(context.Background(), ids, vectors, 8)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	data, err := ivf.Snapshot()
	if err != nil {
		t.Fatalf("Snapshot() error = %v", err)
	}

	restored, err := Restore(data)
	if err != nil {
		t.Fatalf("Restore() error = %v", err)
	}

	if restored.Lists != ivf.Lists || restored.Dimension != ivf.Dimension || restored.Size() != ivf.Size() {
		t.Errorf("restored index shape differs: %+v", restored)
	}

	query := vectors[11]
	want, err := ivf.Search(query, 5)
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	got, err := restored.Search(query, 5)
	if err != nil {
		t.Fatalf("Search() on restored index error = %v", err)
	}
	for i := range want {
		if got[i].ID != want[i].ID {
			t.Errorf("restored result %d = %d, want %d", i, got[i].ID, want[i].ID)
		}
	}
}

func TestRestoreCorrupt(t *testing.T) {
	if _, err := Restore([]byte("not a snapshot")); err == nil {
		t.Error("Restore() on garbage expected error")
	}
}
