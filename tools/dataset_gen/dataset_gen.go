// Package main, dataset_gen, is a tiny helper utility to generate
// deterministic synthetic training files for sketchtrain, outside `go test`.
// Feature ids are drawn Zipfian by default so the generated data actually
// exercises the Top-K heap's heavy-hitter admission logic the way real
// click/impression feature distributions would.
//
// Usage:
//   go run ./tools/dataset_gen -n 1000000 -format=logistic -seed=42 -out train.txt
//
// Flags:
//   -n        number of records to generate (default 1e6)
//   -format   "logistic" (±1 label, id:value pairs) or "multiclass"
//             (1-based class label, padded feature tokens) (default logistic)
//   -k        number of classes, multiclass format only (default 193)
//   -features number of features per record (default 8)
//   -dist     feature-id distribution: "uniform" or "zipf" (default zipf)
//   -zipfs    Zipf s parameter (>1)  (default 1.2)
//   -zipfv    Zipf v parameter (>=1) (default 1.0)
//   -seed     RNG seed (default current time)
//   -out      output file (default stdout)
//
// Grounded on the teacher's tools/dataset_gen/dataset_gen.go: same flag set
// shape, same math/rand.NewZipf-driven generator, same buffered-writer
// output discipline, retargeted from raw uint64 keys to sketchtrain's two
// on-wire record formats.
//
// © 2025 sketchtrain authors. MIT License.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"time"
)

func main() {
	var (
		n        = flag.Int("n", 1_000_000, "number of records to generate")
		format   = flag.String("format", "logistic", "record format: logistic or multiclass")
		k        = flag.Int("k", 193, "number of classes (multiclass format only)")
		features = flag.Int("features", 8, "number of features per record")
		dist     = flag.String("dist", "zipf", "feature-id distribution: uniform or zipf")
		zipfS    = flag.Float64("zipfs", 1.2, "zipf s parameter (>1)")
		zipfV    = flag.Float64("zipfv", 1.0, "zipf v parameter (>=1)")
		seedVal  = flag.Int64("seed", time.Now().UnixNano(), "PRNG seed")
		outPath  = flag.String("out", "", "output file (default stdout)")
	)
	flag.Parse()

	if *format != "logistic" && *format != "multiclass" {
		fmt.Fprintln(os.Stderr, "unknown format:", *format)
		os.Exit(1)
	}

	rnd := rand.New(rand.NewSource(*seedVal))

	var featureID func() uint64
	switch *dist {
	case "uniform":
		featureID = func() uint64 { return rnd.Uint64() % (1 << 24) }
	case "zipf":
		if *zipfS <= 1.0 || *zipfV < 1 {
			fmt.Fprintln(os.Stderr, "zipfs must be >1 and zipfv >=1")
			os.Exit(1)
		}
		z := rand.NewZipf(rnd, *zipfS, *zipfV, (1<<24)-1)
		featureID = z.Uint64
	default:
		fmt.Fprintln(os.Stderr, "unknown dist:", *dist)
		os.Exit(1)
	}

	var out *os.File
	var err error
	if *outPath == "" {
		out = os.Stdout
	} else {
		out, err = os.Create(*outPath)
		if err != nil {
			fmt.Fprintln(os.Stderr, "cannot create file:", err)
			os.Exit(1)
		}
		defer out.Close()
	}

	w := bufio.NewWriterSize(out, 1<<20)
	defer w.Flush()

	for i := 0; i < *n; i++ {
		switch *format {
		case "logistic":
			writeLogisticRecord(w, rnd, featureID, *features)
		case "multiclass":
			writeMulticlassRecord(w, rnd, featureID, *features, *k)
		}
	}
}

func writeLogisticRecord(w *bufio.Writer, rnd *rand.Rand, featureID func() uint64, features int) {
	label := 1
	if rnd.Intn(2) == 0 {
		label = -1
	}
	fmt.Fprintf(w, "%d", label)
	for i := 0; i < features; i++ {
		fmt.Fprintf(w, " %d:%.4f", featureID(), rnd.NormFloat64())
	}
	fmt.Fprintln(w)
}

func writeMulticlassRecord(w *bufio.Writer, rnd *rand.Rand, featureID func() uint64, features, k int) {
	label := 1 + rnd.Intn(k) // 1-based, matching parseMulticlass's decrement
	fmt.Fprintf(w, "%d %d", label, features)
	for i := 0; i < features; i++ {
		fmt.Fprintf(w, " f%d", featureID())
	}
	fmt.Fprintln(w)
}
