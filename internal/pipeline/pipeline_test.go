package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"testing"
	"time"
)

// fakeSource is an in-memory lineSource double, avoiding a dependency on
// internal/tokenizer for engine-level tests.
type fakeSource struct {
	lines []string
	idx   int
}

func (f *fakeSource) Next() (fields []string, ok bool, err error) {
	if f.idx >= len(f.lines) {
		return nil, false, nil
	}
	line := f.lines[f.idx]
	f.idx++
	return strings.Fields(line), true, nil
}

func (f *fakeSource) Close() error { return nil }

func TestEngineRunFileTrainsAndEvaluates(t *testing.T) {
	b := NewBinary(BinaryConfig{D: 1 << 10, N: 3, TopK: 32, LR: 0.5})

	var out bytes.Buffer
	eng := New(b, &out,
		WithThreads(2),
		WithQueueDepth(4),
		WithPollInterval(2*time.Millisecond),
	)

	train := &fakeSource{lines: []string{
		"1 1:1.0 2:1.0",
		"1 1:1.0 2:1.0",
		"-1 3:1.0 4:1.0",
		"-1 3:1.0 4:1.0",
	}}
	if err := eng.RunFile(context.Background(), train, true); err != nil {
		t.Fatalf("RunFile(train): %v", err)
	}

	test := &fakeSource{lines: []string{
		"1 1:1.0 2:1.0",
		"-1 3:1.0 4:1.0",
	}}
	if err := eng.RunFile(context.Background(), test, false); err != nil {
		t.Fatalf("RunFile(eval): %v", err)
	}

	if out.Len() == 0 {
		t.Fatalf("expected prediction output to be written during eval")
	}
}

func TestEngineMulticlassFineConcurrentThreadsNoRace(t *testing.T) {
	// MulticlassFine's K per-class heaps are shared across every worker
	// goroutine processBatch fans a batch out to (heapMu guards each one);
	// this drives a wide batch through a multi-threaded engine so that
	// `go test -race` catches any regression that drops that locking.
	m := NewMulticlassFine(MulticlassFineConfig{K: 4, D: 1 << 10, N: 3, TopK: 8, LR: 0.1})

	eng := New(m, nil,
		WithThreads(8),
		WithQueueDepth(4),
		WithPollInterval(time.Millisecond),
	)

	var lines []string
	for i := 0; i < 64; i++ {
		class := 1 + (i % 4)
		lines = append(lines, fmt.Sprintf("%d 2 f%d f%d", class, i, i+1))
	}

	train := &fakeSource{lines: lines}
	if err := eng.RunFile(context.Background(), train, true); err != nil {
		t.Fatalf("RunFile(train): %v", err)
	}

	var out bytes.Buffer
	eng.SetPredOut(&out)
	test := &fakeSource{lines: lines[:8]}
	if err := eng.RunFile(context.Background(), test, false); err != nil {
		t.Fatalf("RunFile(eval): %v", err)
	}
	if out.Len() == 0 {
		t.Fatalf("expected prediction output to be written during eval")
	}
}

func TestEngineAbortsOnMalformedRecord(t *testing.T) {
	// Per spec §7, MalformedInput aborts the whole run rather than being
	// skipped: "training on wrong data is worse than stopping".
	b := NewBinary(BinaryConfig{D: 1 << 10, N: 3, TopK: 32, LR: 0.5})
	eng := New(b, nil, WithThreads(1), WithPollInterval(2*time.Millisecond))

	src := &fakeSource{lines: []string{
		"1 1:1.0",
		"not-a-valid-line",
		"1 1:1.0",
	}}
	if err := eng.RunFile(context.Background(), src, true); err == nil {
		t.Fatalf("RunFile should abort on a malformed record")
	}
}
