// Package simdmath implements the vector math kernel used by the training
// pipeline to work with 8-wide class blocks: max/argmax, the softmax
// partition function, lane-wise median-of-3 and absolute value.
//
// The reference trainer (original_source/src/util.cpp) implements these
// operations directly against __m256 AVX registers. Go has no portable
// 256-bit vector type, so Block models one AVX lane group as a plain
// [8]float32 array; the loops below are written so the compiler's own
// autovectorizer has a fair shot at folding them back into SIMD instructions,
// but no correctness here depends on that actually happening.
//
// A pack candidate for genuine AVX codegen was evaluated and rejected — see
// DESIGN.md ("internal/simdmath — vector math kernel") for why janpfeifer-go-highway's toolchain
// could not be wired in safely.
//
// © 2025 sketchtrain authors. MIT License.
package simdmath

// Block is one 8-wide class group, matching the reference trainer's AVX
// register width.
type Block = [8]float32

// Max returns the largest of the first k logical lanes across blocks (a
// CNT-length slice of Block, the usual representation of a K-length logit
// vector) and its index. Ties are broken by the lowest index, matching the
// reference trainer's left-to-right scan.
func Max(blocks []Block, k int) (value float32, argmax int) {
	if k <= 0 {
		return 0, 0
	}
	value = blocks[0][0]
	argmax = 0
	for idx := 0; idx < k; idx++ {
		v := lane(blocks, idx)
		if v > value {
			value = v
			argmax = idx
		}
	}
	return value, argmax
}

// SoftmaxInPlace subtracts maxValue from the first k lanes, exponentiates
// them, and divides by their sum, leaving a normalised distribution in the
// first k lanes. Tail lanes (k..CNT*8) are left untouched; callers must
// treat them as zero, matching the reference trainer's partition().
func SoftmaxInPlace(blocks []Block, k int, maxValue float32) {
	var sum float32
	for idx := 0; idx < k; idx++ {
		v := expApprox(lane(blocks, idx) - maxValue)
		setLane(blocks, idx, v)
		sum += v
	}
	if sum == 0 {
		sum = 1e-10
	}
	for idx := 0; idx < k; idx++ {
		setLane(blocks, idx, lane(blocks, idx)/sum)
	}
}

// Median3 computes the lane-wise median of three blocks via
// max(min(a,b), min(max(a,b),c)), identical to the reference trainer's
// median(__m256,__m256,__m256).
func Median3(a, b, c Block) Block {
	var out Block
	for lane := 0; lane < 8; lane++ {
		out[lane] = Median3Scalar(a[lane], b[lane], c[lane])
	}
	return out
}

// Median3Scalar is the scalar form of Median3, used by the K=1 binary
// logistic path where the block layout degenerates to one float per column.
func Median3Scalar(a, b, c float32) float32 {
	abMin := minf(a, b)
	abMax := maxf(a, b)
	return maxf(abMin, minf(abMax, c))
}

// Abs returns the lane-wise absolute value of x.
func Abs(x Block) Block {
	var out Block
	for lane := 0; lane < 8; lane++ {
		out[lane] = absf(x[lane])
	}
	return out
}

// L1Norm sums the absolute values of the first k logical lanes across
// blocks, used by the Top-K heap maintenance step (spec §4.6 step 8).
func L1Norm(blocks []Block, k int) float32 {
	var sum float32
	for idx := 0; idx < k; idx++ {
		sum += absf(lane(blocks, idx))
	}
	return sum
}

func lane(blocks []Block, idx int) float32 {
	return blocks[idx/8][idx%8]
}

func setLane(blocks []Block, idx int, v float32) {
	blocks[idx/8][idx%8] = v
}

func minf(a, b float32) float32 {
	if a < b {
		return a
	}
	return b
}

func maxf(a, b float32) float32 {
	if a > b {
		return a
	}
	return b
}

func absf(x float32) float32 {
	if x < 0 {
		return -x
	}
	return x
}
