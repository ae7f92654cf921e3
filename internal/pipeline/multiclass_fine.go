// MulticlassFine implements the "fine" per-class-heap softmax variant,
// grounded on original_source/src/mission_softmax.cpp.
//
// One Top-K heap exists per class (K heaps total, shared across all
// workers — the reference trainer has no per-thread heap partitioning
// here, only an OpenMP pragma over the class loop). During training the
// forward pass reads the sketch directly but soft-thresholds each class's
// contribution: a feature's weight for class c only counts if its
// magnitude clears that class's current heap minimum, which is the
// reference's heavy-hitter gate (`cms_retrieve` masked by `pos_mask`/
// `neg_mask`). At inference time the forward pass does not touch the
// sketch at all — by design, not by oversight — and instead sums each
// class's heap's last-pushed value per feature, matching
// `topk[class_idx][key]` in the reference.
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

// fineWorkerState is one worker's reusable hash-cache scratch; the K
// per-class heaps are owned by the Variant itself, not per-worker.
type fineWorkerState struct {
	hcs []*sketch.HC
}

// MulticlassFine is the per-class-heap softmax Variant.
//
// Unlike Binary's single heap, the K per-class heaps here are touched once
// per class per record rather than once per worker, so contention is
// spread with one mutex per class (heapMu[class]) instead of a single
// variant-wide lock — every Minimum/ValueFor/Push against topks[class] must
// go through heapMu[class], since Engine.processBatch fans records out
// across Threads goroutines and two records in the same batch can hit the
// same class concurrently.
type MulticlassFine struct {
	sketch *sketch.Table
	topks  []*heap.TopK[string] // length K, one heap per class
	heapMu []sync.Mutex         // length K, heapMu[c] guards topks[c]
	lr     float32
	k, cnt int
}

// MulticlassFineConfig bundles the fine variant's hyperparameters.
type MulticlassFineConfig struct {
	K, D, N, TopK int
	LR            float32

	// HHStore, if non-nil, mirrors every key evicted from any per-class
	// heap into a durable Badger history (internal/hhstore). Optional.
	HHStore *hhstore.Store

	// Metrics, if non-nil, is told about every per-class heap eviction via
	// IncHeavyHitterEvictions. Optional.
	Metrics telemetry.Sink
}

// NewMulticlassFine constructs a MulticlassFine variant with a fresh sketch
// and one Top-K heap per class.
func NewMulticlassFine(cfg MulticlassFineConfig) *MulticlassFine {
	cnt := (cfg.K + sketch.AVX - 1) / sketch.AVX
	opts := evictOptions(cfg.HHStore, cfg.Metrics)
	topks := make([]*heap.TopK[string], cfg.K)
	for i := range topks {
		topks[i] = heap.New[string](cfg.TopK, opts...)
	}
	return &MulticlassFine{
		sketch: sketch.New(cfg.K, cfg.D, cfg.N),
		topks:  topks,
		heapMu: make([]sync.Mutex, cfg.K),
		lr:     cfg.LR,
		k:      cfg.K,
		cnt:    cnt,
	}
}

// SketchTable exposes the underlying sketch for persistence.
func (m *MulticlassFine) SketchTable() *sketch.Table { return m.sketch }

// ClassHeaps exposes the K per-class heaps for persistence, in class order.
func (m *MulticlassFine) ClassHeaps() []*heap.TopK[string] { return m.topks }

// SaveState persists the sketch to sketchPath and every per-class heap to
// "<topkPath>.class<n>", the fine-variant counterpart of
// MulticlassCoarse.SaveState's per-worker layout.
func (m *MulticlassFine) SaveState(sketchPath, topkPath string) error {
	if err := m.sketch.Save(sketchPath); err != nil {
		return err
	}
	for class, h := range m.topks {
		if err := heap.Save(h, fmt.Sprintf("%s.class%d", topkPath, class)); err != nil {
			return err
		}
	}
	return nil
}

// LoadState reloads the sketch and every per-class heap.
func (m *MulticlassFine) LoadState(sketchPath, topkPath string) error {
	if err := m.sketch.Load(sketchPath); err != nil {
		return err
	}
	for class, h := range m.topks {
		if err := heap.Load(h, fmt.Sprintf("%s.class%d", topkPath, class)); err != nil {
			return err
		}
	}
	return nil
}

// Parse delegates to the shared multiclass line format.
func (m *MulticlassFine) Parse(fields []string) (Record, error) {
	return parseMulticlass(fields, m.k)
}

// NewWorkerState allocates one worker's hash-cache scratch.
func (m *MulticlassFine) NewWorkerState() WorkerState {
	return &fineWorkerState{}
}

// Process implements mission_softmax.cpp's process().
func (m *MulticlassFine) Process(wsAny WorkerState, recAny Record, train bool) (float32, string) {
	ws := wsAny.(*fineWorkerState)
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

	if train {
		// Heavy-hitter gate: a feature's weight for class c only enters the
		// sum once its magnitude clears class c's current heap minimum.
		posMask := blockVector(m.cnt)
		negMask := blockVector(m.cnt)
		for class := 0; class < m.k; class++ {
			cdx, lane := class/sketch.AVX, class%sketch.AVX
			m.heapMu[class].Lock()
			min := m.topks[class].Minimum()
			m.heapMu[class].Unlock()
			posMask[cdx][lane] = min
			negMask[cdx][lane] = -min
		}
		for i := 0; i < n; i++ {
			for cdx := 0; cdx < m.cnt; cdx++ {
				weight := m.sketch.RetrieveBlock(ws.hcs[i], cdx)
				for lane := range weight {
					if weight[lane] >= posMask[cdx][lane] || weight[lane] <= negMask[cdx][lane] {
						logits[cdx][lane] += weight[lane]
					}
				}
			}
		}
	} else {
		for class := 0; class < m.k; class++ {
			cdx, lane := class/sketch.AVX, class%sketch.AVX
			m.heapMu[class].Lock()
			var sum float32
			for _, key := range rec.keys {
				sum += m.topks[class].ValueFor(key)
			}
			m.heapMu[class].Unlock()
			logits[cdx][lane] += sum
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

	// Top-K maintenance: per class, push every feature's freshly updated
	// single-class weight. The reference pushes my_abs(value) as the
	// pushed value itself (not just for magnitude comparison), so a class
	// heap's ValueFor is always non-negative — the inference-path sum
	// above adds these as-is.
	for class := 0; class < m.k; class++ {
		m.heapMu[class].Lock()
		for i, key := range rec.keys {
			value := m.sketch.RetrieveScalar(ws.hcs[i], class)
			m.topks[class].Push(key, absf32(value))
		}
		m.heapMu[class].Unlock()
	}

	return loss, ""
}

func absf32(v float32) float32 {
	if v < 0 {
		return -v
	}
	return v
}
