// MulticlassCoarse implements the "coarse" per-worker-heap softmax variant,
// grounded on original_source/src/coarse_mission_softmax.cpp.
//
// Each worker owns its own Top-K heap of feature keys; during training a
// feature only contributes to the forward pass if it is already a member of
// the processing worker's own heap (a cheap, worker-local active-set
// filter). At inference time no single worker's heap is authoritative, so
// the active set is the union of every worker's heap membership.
//
// REDESIGN FLAG: the reference trainer computes this union with
// `AS[idx-2] = tk.find(key)` inside a loop over heaps — each heap's result
// overwrites the previous one instead of being OR-ed in, so only the last
// heap actually influences the active set. That is a bug, not an
// intentional design choice (nothing else in the file relies on last-writer
// semantics), so this implementation ORs membership across all worker
// heaps as the comment describing the loop ("Accumulate features across
// each independent top-k heap") actually intends.
//
// © 2025 sketchtrain authors. MIT License.
package pipeline

import (
	"fmt"
	"sync"

	"github.com/Voskan/sketchtrain/internal/heap"
	"github.com/Voskan/sketchtrain/internal/hhstore"
	"github.com/Voskan/sketchtrain/internal/sketch"
	"github.com/Voskan/sketchtrain/internal/simdmath"
	"github.com/Voskan/sketchtrain/internal/telemetry"
)

// coarseWorkerState is one worker's reusable hash-cache scratch plus its
// dedicated Top-K heap.
type coarseWorkerState struct {
	hcs  []*sketch.HC
	heap *heap.TopK[string]
}

// MulticlassCoarse is the coarse-heap softmax Variant.
type MulticlassCoarse struct {
	sketch *sketch.Table
	lr     float32
	k, cnt int
	topkN   int
	hhs     *hhstore.Store
	metrics telemetry.Sink

	mu    sync.Mutex // guards topks; only appended to during NewWorkerState
	topks []*heap.TopK[string]
}

// MulticlassCoarseConfig bundles the coarse variant's hyperparameters.
type MulticlassCoarseConfig struct {
	K, D, N, TopK int
	LR            float32

	// HHStore, if non-nil, mirrors every key evicted from any worker's
	// heap into a durable Badger history (internal/hhstore). Optional.
	HHStore *hhstore.Store

	// Metrics, if non-nil, is told about every worker heap eviction via
	// IncHeavyHitterEvictions. Optional.
	Metrics telemetry.Sink
}

// NewMulticlassCoarse constructs a MulticlassCoarse variant with a fresh
// sketch; per-worker heaps are created lazily, one per NewWorkerState call.
func NewMulticlassCoarse(cfg MulticlassCoarseConfig) *MulticlassCoarse {
	cnt := (cfg.K + sketch.AVX - 1) / sketch.AVX
	return &MulticlassCoarse{
		sketch:  sketch.New(cfg.K, cfg.D, cfg.N),
		lr:      cfg.LR,
		k:       cfg.K,
		cnt:     cnt,
		topkN:   cfg.TopK,
		hhs:     cfg.HHStore,
		metrics: cfg.Metrics,
	}
}

// SketchTable exposes the underlying sketch for persistence.
func (m *MulticlassCoarse) SketchTable() *sketch.Table { return m.sketch }

// WorkerHeaps exposes every worker's Top-K heap for persistence, in
// construction order.
func (m *MulticlassCoarse) WorkerHeaps() []*heap.TopK[string] {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*heap.TopK[string](nil), m.topks...)
}

// SaveState persists the sketch to sketchPath and every worker's heap to
// "<topkPath>.worker<n>", extending spec §6's single-heap flat format to
// this variant's N-worker partitioning (not itself spec'd, since the
// reference trainer has no multi-process Top-K persistence story).
func (m *MulticlassCoarse) SaveState(sketchPath, topkPath string) error {
	if err := m.sketch.Save(sketchPath); err != nil {
		return err
	}
	for i, h := range m.WorkerHeaps() {
		if err := heap.Save(h, fmt.Sprintf("%s.worker%d", topkPath, i)); err != nil {
			return err
		}
	}
	return nil
}

// LoadState reloads the sketch and every worker's heap, in the same
// "<topkPath>.worker<n>" layout SaveState writes. The number of workers
// must already match (NewWorkerState must have been called the same
// number of times), since heaps are not created on demand during load.
func (m *MulticlassCoarse) LoadState(sketchPath, topkPath string) error {
	if err := m.sketch.Load(sketchPath); err != nil {
		return err
	}
	for i, h := range m.WorkerHeaps() {
		if err := heap.Load(h, fmt.Sprintf("%s.worker%d", topkPath, i)); err != nil {
			return err
		}
	}
	return nil
}

// Parse delegates to the shared multiclass line format.
func (m *MulticlassCoarse) Parse(fields []string) (Record, error) {
	return parseMulticlass(fields, m.k)
}

// NewWorkerState allocates one worker's hash-cache scratch and a fresh,
// dedicated Top-K heap, registering it in construction order so
// WorkerHeaps/inference-time union can find it later.
func (m *MulticlassCoarse) NewWorkerState() WorkerState {
	opts := evictOptions(m.hhs, m.metrics)
	h := heap.New[string](m.topkN, opts...)
	m.mu.Lock()
	m.topks = append(m.topks, h)
	m.mu.Unlock()
	return &coarseWorkerState{heap: h}
}

// Process implements coarse_mission_softmax.cpp's process().
func (m *MulticlassCoarse) Process(wsAny WorkerState, recAny Record, train bool) (float32, string) {
	ws := wsAny.(*coarseWorkerState)
	rec := recAny.(multiclassRecord)
	n := len(rec.keys)

	if cap(ws.hcs) < n {
		ws.hcs = make([]*sketch.HC, n)
		for i := range ws.hcs {
			ws.hcs[i] = &sketch.HC{}
		}
	}
	ws.hcs = ws.hcs[:n]
	for i, key := range rec.keys {
		m.sketch.Precompute([]byte(key), ws.hcs[i])
	}

	logits := blockVector(m.cnt)

	active := make([]bool, n)
	if train {
		for i, key := range rec.keys {
			active[i] = ws.heap.Contains(key)
		}
	} else {
		for _, tk := range m.WorkerHeaps() {
			for i, key := range rec.keys {
				if tk.Contains(key) {
					active[i] = true
				}
			}
		}
	}
	for i := 0; i < n; i++ {
		if !active[i] {
			continue
		}
		for cdx := 0; cdx < m.cnt; cdx++ {
			weight := m.sketch.RetrieveBlock(ws.hcs[i], cdx)
			for lane := range logits[cdx] {
				logits[cdx][lane] += weight[lane]
			}
		}
	}

	maxValue, argmax := simdmath.Max(logits, m.k)
	simdmath.SoftmaxInPlace(logits, m.k, maxValue)
	labelCdx, labelLane := rec.label/sketch.AVX, rec.label%sketch.AVX
	loss := logf(logits[labelCdx][labelLane] + 1e-10)
	logits[labelCdx][labelLane] -= 1

	if !train {
		return loss, fmt.Sprintf("%d %d", rec.label, argmax)
	}

	applyGradient(m.sketch, ws.hcs, logits, m.lr, m.cnt)

	for i, key := range rec.keys {
		blocks := blockVector(m.cnt)
		for cdx := 0; cdx < m.cnt; cdx++ {
			blocks[cdx] = m.sketch.RetrieveBlock(ws.hcs[i], cdx)
		}
		l1 := simdmath.L1Norm(blocks, m.k)
		ws.heap.Push(key, l1)
	}

	return loss, ""
}
