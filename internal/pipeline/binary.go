// Binary implements the logistic-regression Variant: a single global Top-K
// heap over integer feature ids and a K=1 Count-Sketch column per row.
//
// Grounded line-for-line on original_source/src/mission_logistic.cpp's
// process(): both the forward and backward pass read from and write to the
// Top-K heap directly (topk[id]), never the sketch — the sketch only ever
// appears as the thing Update writes through before the heap is refreshed.
// This is unlike the multiclass variants, where the sketch is the
// authoritative forward-pass source during training.
//
// © 2025 sketchtrain authors. MIT License.
package pipeline

import (
	"encoding/binary"
	"fmt"
	"math"
	"strconv"
	"sync"

	"github.com/Voskan/sketchtrain/internal/heap"
	"github.com/Voskan/sketchtrain/internal/hhstore"
	"github.com/Voskan/sketchtrain/internal/sketch"
	"github.com/Voskan/sketchtrain/internal/telemetry"
)

// binaryFeature is one id:value pair parsed from a training line.
type binaryFeature struct {
	id    int
	value float32
}

// binaryRecord is a parsed logistic-regression example: label in {-1, +1}
// followed by its sparse id:value features.
type binaryRecord struct {
	label    int
	features []binaryFeature
}

// binaryWorkerState holds one worker's reusable hash-cache scratch, avoiding
// per-record allocation on the hot path (mirrors MAX_FEATURES-sized `caches`
// in the reference trainer).
type binaryWorkerState struct {
	hc *sketch.HC
}

// Binary is the logistic-regression Variant. The Top-K heap is shared by
// every worker (the reference trainer runs this variant without OpenMP
// parallelism over records), so it is guarded by its own mutex rather than
// being partitioned per worker the way the multiclass "coarse" variant is.
//
// The heap's key type in the reference implementation is the raw feature
// id (an int); here it is strconv.Itoa(id), since internal/heap's
// persistence format (Save/Load) only supports string keys. The sketch
// still hashes the feature id's raw 4-byte little-endian encoding, matching
// `&features[idx].first` in the reference (a memcpy of sizeof(int) bytes),
// so hash collisions in the sketch are identical to the reference trainer's
// regardless of how the heap happens to key its own side map.
type Binary struct {
	sketch *sketch.Table
	topk   *heap.TopK[string]
	topkMu sync.Mutex
	lr     float32
}

// BinaryConfig bundles the logistic variant's hyperparameters, named after
// the reference trainer's Hyper-Parameters block.
type BinaryConfig struct {
	D, N, TopK int
	LR         float32

	// HHStore, if non-nil, mirrors every key evicted from the Top-K heap
	// into a durable Badger history (internal/hhstore). Optional.
	HHStore *hhstore.Store

	// Metrics, if non-nil, is told about every Top-K eviction via
	// IncHeavyHitterEvictions. Optional.
	Metrics telemetry.Sink
}

// NewBinary constructs a Binary variant with a fresh sketch and Top-K heap.
func NewBinary(cfg BinaryConfig) *Binary {
	opts := evictOptions(cfg.HHStore, cfg.Metrics)
	return &Binary{
		sketch: sketch.New(1, cfg.D, cfg.N),
		topk:   heap.New[string](cfg.TopK, opts...),
		lr:     cfg.LR,
	}
}

// SketchTable exposes the underlying sketch for persistence.
func (b *Binary) SketchTable() *sketch.Table { return b.sketch }

// TopKHeap exposes the underlying heap for persistence.
func (b *Binary) TopKHeap() *heap.TopK[string] { return b.topk }

// SaveState persists the sketch and heap to sketchPath/topkPath in spec §6's
// flat text formats.
func (b *Binary) SaveState(sketchPath, topkPath string) error {
	if err := b.sketch.Save(sketchPath); err != nil {
		return err
	}
	return heap.Save(b.topk, topkPath)
}

// LoadState reloads the sketch and heap from sketchPath/topkPath, failing on
// any PersistenceMismatch (spec §7).
func (b *Binary) LoadState(sketchPath, topkPath string) error {
	if err := b.sketch.Load(sketchPath); err != nil {
		return err
	}
	return heap.Load(b.topk, topkPath)
}

// Parse turns "<label> <id>:<value> <id>:<value> ..." into a binaryRecord,
// matching mission_logistic.cpp's split().
func (b *Binary) Parse(fields []string) (Record, error) {
	if len(fields) < 2 {
		return nil, fmt.Errorf("pipeline/binary: need a label and at least one feature, got %d fields", len(fields))
	}
	label, err := strconv.Atoi(fields[0])
	if err != nil || (label != 1 && label != -1) {
		return nil, fmt.Errorf("pipeline/binary: malformed label %q", fields[0])
	}

	features := make([]binaryFeature, len(fields)-1)
	for i, tok := range fields[1:] {
		id, value, err := splitFeature(tok)
		if err != nil {
			return nil, err
		}
		features[i] = binaryFeature{id: id, value: value}
	}

	return binaryRecord{label: label, features: features}, nil
}

func splitFeature(tok string) (id int, value float32, err error) {
	colon := -1
	for i := 0; i < len(tok); i++ {
		if tok[i] == ':' {
			colon = i
			break
		}
	}
	if colon < 0 {
		return 0, 0, fmt.Errorf("pipeline/binary: feature %q missing ':'", tok)
	}
	id, err = strconv.Atoi(tok[:colon])
	if err != nil {
		return 0, 0, fmt.Errorf("pipeline/binary: malformed feature id in %q: %w", tok, err)
	}
	v, err := strconv.ParseFloat(tok[colon+1:], 32)
	if err != nil {
		return 0, 0, fmt.Errorf("pipeline/binary: malformed feature value in %q: %w", tok, err)
	}
	return id, float32(v), nil
}

// NewWorkerState allocates one worker's scratch hash cache.
func (b *Binary) NewWorkerState() WorkerState {
	return &binaryWorkerState{hc: &sketch.HC{}}
}

// featureKey renders a feature id both as the raw bytes the sketch hashes
// (4-byte little-endian, matching the reference's sizeof(int) memcpy) and
// as the string key the Top-K heap persists.
func featureKey(id int) (hashBytes [4]byte, strKey string) {
	binary.LittleEndian.PutUint32(hashBytes[:], uint32(int32(id)))
	return hashBytes, strconv.Itoa(id)
}

// Process implements mission_logistic.cpp's process(): forward reads
// weights straight from the Top-K heap, backward writes through the sketch
// and pushes the refreshed estimate back into the heap.
func (b *Binary) Process(wsAny WorkerState, recAny Record, train bool) (float32, string) {
	ws := wsAny.(*binaryWorkerState)
	rec := recAny.(binaryRecord)

	label := float32(rec.label+1) / 2.0

	var logit float32
	keys := make([]string, len(rec.features))
	for i, f := range rec.features {
		_, strKey := featureKey(f.id)
		keys[i] = strKey

		b.topkMu.Lock()
		w := b.topk.ValueFor(strKey)
		b.topkMu.Unlock()
		logit += w * f.value
	}

	sigmoid := float32(1.0 / (1.0 + math.Exp(float64(-logit))))
	loss := label*float32(math.Log(float64(sigmoid))) + (1-label)*float32(math.Log(float64(1-sigmoid)))

	if !train {
		return loss, fmt.Sprintf("%v %v", label, sigmoid)
	}

	gradient := label - sigmoid
	for i, f := range rec.features {
		hashBytes, _ := featureKey(f.id)
		b.sketch.Precompute(hashBytes[:], ws.hc)
		value := b.sketch.Update(ws.hc, b.lr*gradient*f.value)

		b.topkMu.Lock()
		b.topk.Push(keys[i], value)
		b.topkMu.Unlock()
	}

	return loss, ""
}
