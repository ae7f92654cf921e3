// Package bench provides reproducible micro‑benchmarks for sketchtrain.
// Run via:  go test ./bench -bench=. -benchmem -cpu 1,4,16
//
// The benchmarks intentionally use a *single* feature-id shape so results
// are comparable across versions:
//   • Key   – 4‑byte little‑endian feature id (cheap hashing, matches the
//     logistic variant's on-wire feature encoding)
//   • Value – float32 weight (the sketch's native storage unit)
//
// We measure:
//   1. SketchUpdate   – write-only Count-Sketch workload
//   2. SketchRetrieve – read-only Count-Sketch workload (after warm-up)
//   3. TopKPush       – Top-K heap admission/eviction churn
//   4. BinaryProcess  – end-to-end logistic forward+backward per record
//
// Results are printed in ns/op + alloc/op so CI can diff via benchstat.
//
// NOTE: Unit tests live elsewhere; this file is *only* for performance.
//
// © 2025 sketchtrain authors. MIT License.

package bench

import (
	"fmt"
	"math/rand"
	"runtime"
	"testing"

	"github.com/Voskan/sketchtrain/internal/heap"
	"github.com/Voskan/sketchtrain/internal/pipeline"
	"github.com/Voskan/sketchtrain/internal/sketch"
)

/* -------------------------------------------------------------------------
   Test harness helpers
   ------------------------------------------------------------------------- */

const (
	sketchD = (1 << 20) - 1 // columns per row
	sketchN = 3             // rows (median-of-N)
	keys    = 1 << 16       // dataset size
)

func newTestSketch() *sketch.Table {
	return sketch.New(1, sketchD, sketchN)
}

// global dataset reused across benches to avoid reallocating large slices.
var ds = func() [][4]byte {
	arr := make([][4]byte, keys)
	for i := range arr {
		rand.Read(arr[i][:])
	}
	return arr
}()

/* -------------------------------------------------------------------------
   Benchmarks
   ------------------------------------------------------------------------- */

func BenchmarkSketchUpdate(b *testing.B) {
	tbl := newTestSketch()
	hc := &sketch.HC{}
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		key := ds[i&(keys-1)]
		tbl.Precompute(key[:], hc)
		tbl.Update(hc, 1.0)
	}
}

func BenchmarkSketchRetrieve(b *testing.B) {
	tbl := newTestSketch()
	hc := &sketch.HC{}
	// pre-populate (warm-up)
	for _, k := range ds {
		tbl.Precompute(k[:], hc)
		tbl.Update(hc, 1.0)
	}
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		k := ds[i&(keys-1)]
		tbl.Precompute(k[:], hc)
		tbl.RetrieveScalar(hc, 0)
	}
}

func BenchmarkSketchRetrieveParallel(b *testing.B) {
	tbl := newTestSketch()
	hc0 := &sketch.HC{}
	for _, k := range ds {
		tbl.Precompute(k[:], hc0)
		tbl.Update(hc0, 1.0)
	}
	b.ReportAllocs()
	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		hc := &sketch.HC{}
		idx := rand.Intn(keys)
		for pb.Next() {
			idx = (idx + 1) & (keys - 1)
			tbl.Precompute(ds[idx][:], hc)
			tbl.RetrieveScalar(hc, 0)
		}
	})
}

func BenchmarkTopKPush(b *testing.B) {
	h := heap.New[string](1 << 14)
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		key := fmt.Sprintf("k%d", i&(keys-1))
		h.Push(key, rand.Float32()*100)
	}
}

func BenchmarkBinaryProcess(b *testing.B) {
	v := pipeline.NewBinary(pipeline.BinaryConfig{D: sketchD, N: sketchN, TopK: 1 << 14, LR: 0.1})
	ws := v.NewWorkerState()
	fields := make([]string, keys/1024)
	fields[0] = "1"
	for i := range fields[1:] {
		fields[i+1] = fmt.Sprintf("%d:1.0", i)
	}
	rec, err := v.Parse(fields)
	if err != nil {
		b.Fatalf("Parse: %v", err)
	}
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		v.Process(ws, rec, true)
	}
}

/* -------------------------------------------------------------------------
   Utility – ensure deterministic Rand for repeatability
   ------------------------------------------------------------------------- */

func init() {
	rand.Seed(42)
	runtime.GOMAXPROCS(runtime.NumCPU())
}
