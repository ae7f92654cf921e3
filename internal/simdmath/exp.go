package simdmath

import "math"

// expApprox computes e^x for a single lane. The reference trainer relies on
// libm's std::exp after max-subtraction (see original_source/src/util.cpp's
// partition()); we do the same via the standard library rather than
// reimplementing a vectorised exponential, since none of the example
// repositories ship one and an SGD trainer's loss curve is insensitive to
// the last ULP of exp.
func expApprox(x float32) float32 {
	return float32(math.Exp(float64(x)))
}
