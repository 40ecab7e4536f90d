// Package index provides the approximate and exact nearest-neighbor
// structures used to rank chunk embeddings by L2 distance.
package index

import (
	"bytes"
	"context"
	"encoding/gob"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sort"
	"sync"
)

// Match is a single nearest-neighbor result.
type Match struct {
	ID       int64
	Distance float32
}

// IVF is an inverted-file index: embeddings are partitioned into clusters
// around k-means centroids, and a query only scans the closest clusters.
// Results are approximate; recall is tuned via the list count and NProbe.
//
// An IVF is immutable once built. Rebuilds produce a fresh index that the
// caller swaps in, so a half-finished build never shadows a working one.
type IVF struct {
	Lists     int         // number of cluster partitions
	Dimension int         // vector dimension
	NProbe    int         // clusters scanned per query
	Centroids [][]float32 // cluster centroids, len == Lists
	Invlists  [][]int32   // member offsets per cluster
	Vectors   [][]float32 // indexed vectors
	IDs       []int64     // row ids parallel to Vectors

	mu sync.RWMutex
}

const defaultNProbe = 10

// kmeansIters bounds the Lloyd iterations per build.
const kmeansIters = 20

// Build constructs an IVF over the given ids and vectors. Lists is clamped
// to the vector count so small stores still index. Build honors ctx between
// k-means passes and returns ctx.Err() on cancellation.
func Build(ctx context.Context, ids []int64, vectors [][]float32, lists int) (*IVF, error) {
	if len(ids) != len(vectors) {
		return nil, fmt.Errorf("ids and vectors length mismatch: %d vs %d", len(ids), len(vectors))
	}
	if len(vectors) == 0 {
		return nil, errors.New("cannot build index over zero vectors")
	}
	if lists < 1 {
		return nil, fmt.Errorf("list count must be positive, got %d", lists)
	}
	if lists > len(vectors) {
		lists = len(vectors)
	}

	dim := len(vectors[0])
	for i, v := range vectors {
		if len(v) != dim {
			return nil, fmt.Errorf("vector %d has dimension %d, expected %d", i, len(v), dim)
		}
	}

	centroids, err := kMeans(ctx, vectors, lists)
	if err != nil {
		return nil, err
	}

	ivf := &IVF{
		Lists:     lists,
		Dimension: dim,
		NProbe:    minInt(lists, defaultNProbe),
		Centroids: centroids,
		Invlists:  make([][]int32, lists),
		Vectors:   vectors,
		IDs:       ids,
	}

	for i, v := range vectors {
		c := nearestCentroid(v, centroids)
		ivf.Invlists[c] = append(ivf.Invlists[c], int32(i))
	}

	return ivf, nil
}

// Search returns up to k matches ordered by non-decreasing L2 distance.
// Ties break on ascending id so repeated queries return a stable order.
func (ivf *IVF) Search(query []float32, k int) ([]Match, error) {
	ivf.mu.RLock()
	defer ivf.mu.RUnlock()

	if len(query) != ivf.Dimension {
		return nil, fmt.Errorf("query dimension %d doesn't match index dimension %d", len(query), ivf.Dimension)
	}
	if k < 1 {
		return nil, fmt.Errorf("k must be positive, got %d", k)
	}

	// Rank clusters by centroid distance.
	order := make([]int, ivf.Lists)
	dists := make([]float32, ivf.Lists)
	for i, c := range ivf.Centroids {
		order[i] = i
		dists[i] = l2Distance(query, c)
	}
	sort.Slice(order, func(a, b int) bool { return dists[order[a]] < dists[order[b]] })

	var candidates []Match
	nprobe := minInt(ivf.NProbe, ivf.Lists)
	for p := 0; p < nprobe; p++ {
		for _, off := range ivf.Invlists[order[p]] {
			candidates = append(candidates, Match{
				ID:       ivf.IDs[off],
				Distance: l2Distance(query, ivf.Vectors[off]),
			})
		}
	}

	sortMatches(candidates)

	if k < len(candidates) {
		candidates = candidates[:k]
	}
	return candidates, nil
}

// SetNProbe adjusts how many clusters each query scans.
func (ivf *IVF) SetNProbe(nprobe int) {
	ivf.mu.Lock()
	defer ivf.mu.Unlock()
	if nprobe < 1 {
		nprobe = 1
	}
	ivf.NProbe = minInt(nprobe, ivf.Lists)
}

// Size returns the number of indexed vectors.
func (ivf *IVF) Size() int {
	ivf.mu.RLock()
	defer ivf.mu.RUnlock()
	return len(ivf.Vectors)
}

// Snapshot serializes the index so it can be persisted and reloaded
// without re-running k-means.
func (ivf *IVF) Snapshot() ([]byte, error) {
	ivf.mu.RLock()
	defer ivf.mu.RUnlock()

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(snapshot{
		Lists:     ivf.Lists,
		Dimension: ivf.Dimension,
		NProbe:    ivf.NProbe,
		Centroids: ivf.Centroids,
		Invlists:  ivf.Invlists,
		Vectors:   ivf.Vectors,
		IDs:       ivf.IDs,
	}); err != nil {
		return nil, fmt.Errorf("failed to encode index snapshot: %w", err)
	}
	return buf.Bytes(), nil
}

// Restore rebuilds an IVF from a Snapshot payload.
func Restore(data []byte) (*IVF, error) {
	var s snapshot
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&s); err != nil {
		return nil, fmt.Errorf("failed to decode index snapshot: %w", err)
	}
	if s.Lists < 1 || len(s.IDs) != len(s.Vectors) || len(s.Invlists) != s.Lists {
		return nil, errors.New("corrupt index snapshot")
	}
	return &IVF{
		Lists:     s.Lists,
		Dimension: s.Dimension,
		NProbe:    s.NProbe,
		Centroids: s.Centroids,
		Invlists:  s.Invlists,
		Vectors:   s.Vectors,
		IDs:       s.IDs,
	}, nil
}

// snapshot is the gob wire form of an IVF, kept separate so the mutex
// never ends up in the payload.
type snapshot struct {
	Lists     int
	Dimension int
	NProbe    int
	Centroids [][]float32
	Invlists  [][]int32
	Vectors   [][]float32
	IDs       []int64
}

// kMeans runs k-means++ seeding followed by Lloyd iterations.
func kMeans(ctx context.Context, vectors [][]float32, k int) ([][]float32, error) {
	dim := len(vectors[0])
	centroids := make([][]float32, k)

	centroids[0] = append([]float32(nil), vectors[rand.Intn(len(vectors))]...)

	// Seed remaining centroids proportionally to squared distance from the
	// nearest already-chosen centroid.
	minDists := make([]float32, len(vectors))
	for i := 1; i < k; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		var total float32
		for j, v := range vectors {
			d := l2Distance(v, centroids[i-1])
			if i == 1 || d < minDists[j] {
				minDists[j] = d
			}
			total += minDists[j] * minDists[j]
		}

		r := rand.Float32() * total
		var cum float32
		pick := len(vectors) - 1
		for j, d := range minDists {
			cum += d * d
			if cum >= r {
				pick = j
				break
			}
		}
		centroids[i] = append([]float32(nil), vectors[pick]...)
	}

	assignments := make([]int, len(vectors))
	for iter := 0; iter < kmeansIters; iter++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		changed := false
		for i, v := range vectors {
			c := nearestCentroid(v, centroids)
			if assignments[i] != c {
				assignments[i] = c
				changed = true
			}
		}
		if !changed && iter > 0 {
			break
		}

		counts := make([]int, k)
		sums := make([][]float32, k)
		for i := range sums {
			sums[i] = make([]float32, dim)
		}
		for i, v := range vectors {
			c := assignments[i]
			counts[c]++
			for j, x := range v {
				sums[c][j] += x
			}
		}
		for i := range centroids {
			if counts[i] == 0 {
				continue // keep the previous centroid for an empty cluster
			}
			for j := range sums[i] {
				sums[i][j] /= float32(counts[i])
			}
			centroids[i] = sums[i]
		}
	}

	return centroids, nil
}

func nearestCentroid(v []float32, centroids [][]float32) int {
	best := 0
	bestDist := float32(math.MaxFloat32)
	for i, c := range centroids {
		if d := l2Distance(v, c); d < bestDist {
			bestDist = d
			best = i
		}
	}
	return best
}

func sortMatches(m []Match) {
	sort.Slice(m, func(a, b int) bool {
		if m[a].Distance != m[b].Distance {
			return m[a].Distance < m[b].Distance
		}
		return m[a].ID < m[b].ID
	})
}

// l2Distance computes Euclidean distance between two vectors.
func l2Distance(a, b []float32) float32 {
	var sum float32
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return float32(math.Sqrt(float64(sum)))
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
