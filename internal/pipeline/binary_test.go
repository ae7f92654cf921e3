package pipeline

import (
	"math"
	"testing"
)

func newTestBinary() *Binary {
	return NewBinary(BinaryConfig{D: 1 << 12, N: 3, TopK: 64, LR: 0.5})
}

func TestBinaryParseRejectsBadLabel(t *testing.T) {
	b := newTestBinary()
	if _, err := b.Parse([]string{"0", "1:1.0"}); err == nil {
		t.Fatalf("Parse should reject a label that isn't +1/-1")
	}
}

func TestBinaryParseRejectsMissingColon(t *testing.T) {
	b := newTestBinary()
	if _, err := b.Parse([]string{"1", "1-1.0"}); err == nil {
		t.Fatalf("Parse should reject a feature token without ':'")
	}
}

func TestBinaryTrainDrivesLossDown(t *testing.T) {
	b := newTestBinary()
	ws := b.NewWorkerState()

	rec, err := b.Parse([]string{"1", "1:1.0", "2:1.0"})
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	var firstLoss, lastLoss float32
	for i := 0; i < 50; i++ {
		loss, _ := b.Process(ws, rec, true)
		if i == 0 {
			firstLoss = loss
		}
		lastLoss = loss
	}
	// loss is already sign-adjusted (label*log(sigmoid)+...), so it is <= 0
	// and should move closer to 0 (less negative) as the model fits the
	// always-positive label.
	if lastLoss < firstLoss {
		t.Fatalf("loss should improve: first=%v last=%v", firstLoss, lastLoss)
	}
}

func TestBinaryEvalDoesNotMutateWeights(t *testing.T) {
	b := newTestBinary()
	ws := b.NewWorkerState()
	rec, _ := b.Parse([]string{"1", "5:2.0"})

	b.Process(ws, rec, true)
	before := b.topk.ValueFor("5")
	b.Process(ws, rec, false)
	after := b.topk.ValueFor("5")
	if before != after {
		t.Fatalf("eval pass mutated the heap: before=%v after=%v", before, after)
	}
}

func TestBinaryEvalOutputFormat(t *testing.T) {
	b := newTestBinary()
	ws := b.NewWorkerState()
	rec, _ := b.Parse([]string{"-1", "9:1.0"})

	_, predLine := b.Process(ws, rec, false)
	if predLine == "" {
		t.Fatalf("eval mode should produce a prediction line")
	}
}

func TestLogitSigmoidSanity(t *testing.T) {
	sigmoid := 1.0 / (1.0 + math.Exp(0))
	if sigmoid != 0.5 {
		t.Fatalf("sigmoid(0) = %v, want 0.5", sigmoid)
	}
}
