// Shared plumbing for the two multiclass softmax variants: coarse
// (per-worker heap, original_source/src/coarse_mission_softmax.cpp) and
// fine (per-class heap, original_source/src/mission_softmax.cpp). Both
// parse the same line format and hash features the same way; they differ
// only in how Top-K heaps are partitioned and in the active-set rule used
// to decide which features' weights enter the forward pass.
//
// © 2025 sketchtrain authors. MIT License.
package pipeline

import (
	"fmt"
	"math"
	"strconv"

	"github.com/Voskan/sketchtrain/internal/heap"
	"github.com/Voskan/sketchtrain/internal/hhstore"
	"github.com/Voskan/sketchtrain/internal/sketch"
	"github.com/Voskan/sketchtrain/internal/simdmath"
	"github.com/Voskan/sketchtrain/internal/telemetry"
	"github.com/Voskan/sketchtrain/internal/tokenizer"
)

// logf is float32 math.Log, shared by both softmax variants' loss term.
func logf(x float32) float32 {
	return float32(math.Log(float64(x)))
}

// featureKeyLen is LEN in both reference trainers: string features are
// padded/truncated to 12 bytes before hashing or heap-keying.
const featureKeyLen = 12

// multiclassRecord is one parsed example: a 0-based class label and its
// fixed-width string feature keys (already padded to featureKeyLen).
type multiclassRecord struct {
	label int
	keys  []string
}

// parseMulticlass implements both reference trainers' shared line format:
// "<1-based label> <ignored> <feature> <feature> ...". Field 1 is skipped
// by both mission_softmax.cpp and coarse_mission_softmax.cpp (their loops
// start at index 2), kept here for format compatibility rather than used.
func parseMulticlass(fields []string, k int) (Record, error) {
	if len(fields) < 3 {
		return nil, fmt.Errorf("pipeline/multiclass: need a label, a placeholder field and at least one feature, got %d fields", len(fields))
	}
	label, err := strconv.Atoi(fields[0])
	if err != nil {
		return nil, fmt.Errorf("pipeline/multiclass: malformed label %q", fields[0])
	}
	label--
	if label < 0 || label >= k {
		return nil, fmt.Errorf("pipeline/multiclass: label %d out of range [0, %d)", label, k)
	}

	keys := make([]string, len(fields)-2)
	for i, tok := range fields[2:] {
		keys[i] = string(tokenizer.PadKey(tok, featureKeyLen))
	}
	return multiclassRecord{label: label, keys: keys}, nil
}

// evictOptions builds the heap.Option[string] list shared by all three
// Variants (NewBinary and NewMulticlassFine call it at construction,
// MulticlassCoarse on every NewWorkerState): an hhstore mirror callback, a heavy-hitter-eviction
// metrics callback, or both combined into one heap.EvictCallback, depending
// on which of hhs/metrics is non-nil. Neither is required, matching the
// optional-knob defaults elsewhere in this package.
func evictOptions(hhs *hhstore.Store, metrics telemetry.Sink) []heap.Option[string] {
	var cbs []heap.EvictCallback[string]
	if hhs != nil {
		cbs = append(cbs, hhs.EvictCallback())
	}
	if metrics != nil {
		cbs = append(cbs, func(string, float32) { metrics.IncHeavyHitterEvictions(1) })
	}
	if len(cbs) == 0 {
		return nil
	}
	return []heap.Option[string]{heap.WithEvictCallback(func(key string, value float32) {
		for _, cb := range cbs {
			cb(key, value)
		}
	})}
}

// blockVector allocates a CNT-length zeroed block vector for one example's
// logits, matching the reference trainer's `__m256 logits[CNT]` stack array.
func blockVector(cnt int) []simdmath.Block {
	return make([]simdmath.Block, cnt)
}

// applyGradient writes the backward pass shared by both variants: for every
// feature key, subtract LR*logits (already converted to probs-minus-onehot
// by the caller) from every class block of its sketch row.
func applyGradient(tbl *sketch.Table, hcs []*sketch.HC, logits []simdmath.Block, lr float32, cnt int) {
	for _, hc := range hcs {
		for cdx := 0; cdx < cnt; cdx++ {
			var delta simdmath.Block
			for lane := range delta {
				delta[lane] = -lr * logits[cdx][lane]
			}
			tbl.UpdateBlock(hc, cdx, delta)
		}
	}
}
