// Package index implements the flat vector index behind search: exact
// L2 scans over every stored vector, with article ids kept in a
// sidecar map file next to the index itself.
package index

import (
	"bytes"
	"encoding/gob"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"
)

// ErrDimension reports a vector whose width does not match the index.
var ErrDimension = errors.New("vector dimension mismatch")

// Hit is one search result: an article id and its L2 distance from the
// query (smaller is closer).
type Hit struct {
	ID       string
	Distance float32
}

// Flat is an exact nearest-neighbor index. The first vector added
// fixes the dimension. Adding an existing id replaces its vector.
type Flat struct {
	mu   sync.RWMutex
	dim  int
	ids  []string
	vecs [][]float32
	byID map[string]int
}

// NewFlat returns an empty index.
func NewFlat() *Flat {
	return &Flat{byID: make(map[string]int)}
}

// Len reports how many vectors the index holds.
func (f *Flat) Len() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.ids)
}

// Dim reports the vector width, zero while the index is empty.
func (f *Flat) Dim() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.dim
}

// Add upserts one vector under id.
func (f *Flat) Add(id string, vec []float32) error {
	if id == "" {
		return errors.New("vector id is required")
	}
	if len(vec) == 0 {
		return errors.New("vector is empty")
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.dim == 0 {
		f.dim = len(vec)
	}
	if len(vec) != f.dim {
		return fmt.Errorf("%w: index holds %d, got %d", ErrDimension, f.dim, len(vec))
	}

	stored := make([]float32, len(vec))
	copy(stored, vec)
	if at, ok := f.byID[id]; ok {
		f.vecs[at] = stored
		return nil
	}
	f.byID[id] = len(f.ids)
	f.ids = append(f.ids, id)
	f.vecs = append(f.vecs, stored)
	return nil
}

// Search returns the k nearest ids by L2 distance, closest first. When
// the index holds fewer than k vectors, every vector is returned.
func (f *Flat) Search(vec []float32, k int) ([]Hit, error) {
	if k <= 0 {
		return nil, errors.New("k must be positive")
	}

	f.mu.RLock()
	defer f.mu.RUnlock()

	if len(f.ids) == 0 {
		return nil, nil
	}
	if len(vec) != f.dim {
		return nil, fmt.Errorf("%w: index holds %d, got %d", ErrDimension, f.dim, len(vec))
	}

	hits := make([]Hit, len(f.ids))
	for i, stored := range f.vecs {
		var sum float32
		for j, v := range stored {
			d := v - vec[j]
			sum += d * d
		}
		hits[i] = Hit{ID: f.ids[i], Distance: sum}
	}
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Distance != hits[j].Distance {
			return hits[i].Distance < hits[j].Distance
		}
		return hits[i].ID < hits[j].ID
	})
	if k < len(hits) {
		hits = hits[:k]
	}
	return hits, nil
}

// snapshot is the gob-encoded on-disk form.
type snapshot struct {
	Dim  int
	Vecs [][]float32
}

// Save writes the index to path and its id list to path+".map", each
// through a temp file so a crash never corrupts the previous copy.
func (f *Flat) Save(path string) error {
	f.mu.RLock()
	defer f.mu.RUnlock()

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(snapshot{Dim: f.dim, Vecs: f.vecs}); err != nil {
		return fmt.Errorf("encode index: %w", err)
	}
	if err := replaceFile(path, buf.Bytes()); err != nil {
		return err
	}

	ids, err := json.MarshalIndent(f.ids, "", "  ")
	if err != nil {
		return fmt.Errorf("encode id map: %w", err)
	}
	return replaceFile(path+".map", ids)
}

// Load reads an index written by Save.
func Load(path string) (*Flat, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read index: %w", err)
	}
	var snap snapshot
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&snap); err != nil {
		return nil, fmt.Errorf("decode index %s: %w", path, err)
	}

	idData, err := os.ReadFile(path + ".map")
	if err != nil {
		return nil, fmt.Errorf("read id map: %w", err)
	}
	var ids []string
	if err := json.Unmarshal(idData, &ids); err != nil {
		return nil, fmt.Errorf("decode id map %s: %w", path+".map", err)
	}
	if len(ids) != len(snap.Vecs) {
		return nil, fmt.Errorf("id map lists %d ids for %d vectors", len(ids), len(snap.Vecs))
	}

	f := &Flat{dim: snap.Dim, ids: ids, vecs: snap.Vecs, byID: make(map[string]int, len(ids))}
	for i, id := range ids {
		f.byID[id] = i
	}
	return f, nil
}

func replaceFile(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("replace %s: %w", path, err)
	}
	return nil
}
