package utils

import "math"

// Sigmoid computes the logistic function.
func Sigmoid(x float64) float64 {
	return 1 / (1 + math.Exp(-x))
}

// LogSigmoid computes log(sigmoid(x)) in a numerically stable fused form.
// Computing sigmoid then log separately produces -Inf for strongly negative
// logits; this formulation never does.
func LogSigmoid(x float64) float64 {
	if x < 0 {
		return x - math.Log1p(math.Exp(x))
	}
	return -math.Log1p(math.Exp(-x))
}

// LogOneMinusSigmoid computes log(1 - sigmoid(x)), which equals
// log(sigmoid(-x)).
func LogOneMinusSigmoid(x float64) float64 {
	return LogSigmoid(-x)
}

// LogSumExp computes log(sum(exp(xs))) without overflow.
func LogSumExp(xs []float32) float64 {
	if len(xs) == 0 {
		return math.Inf(-1)
	}
	maxVal := float64(xs[0])
	for _, x := range xs[1:] {
		if float64(x) > maxVal {
			maxVal = float64(x)
		}
	}
	var sum float64
	for _, x := range xs {
		sum += math.Exp(float64(x) - maxVal)
	}
	return maxVal + math.Log(sum)
}

// Softmax returns the softmax distribution over xs, computed via LogSumExp.
func Softmax(xs []float32) []float64 {
	lse := LogSumExp(xs)
	out := make([]float64, len(xs))
	for i, x := range xs {
		out[i] = math.Exp(float64(x) - lse)
	}
	return out
}

// CrossEntropy computes the mean multi-class cross-entropy of each score row
// against its label index. Label indices must be in range; out-of-range
// labels panic, matching the no-retry shape-error policy of the callers.
func CrossEntropy(scores [][]float32, labels []int) float64 {
	if len(scores) != len(labels) {
		panic("scores and labels must have the same length")
	}
	var total float64
	for i, row := range scores {
		total += LogSumExp(row) - float64(row[labels[i]])
	}
	return total / float64(len(scores))
}

// ReLU clamps a value at zero.
func ReLU(x float32) float32 {
	if x < 0 {
		return 0
	}
	return x
}

// TopK returns the indices and values of the k largest elements in
// descending order.
func TopK(scores []float64, k int) ([]int, []float64) {
	if k > len(scores) {
		k = len(scores)
	}

	type pair struct {
		index int
		value float64
	}

	pairs := make([]pair, len(scores))
	for i, v := range scores {
		pairs[i] = pair{i, v}
	}

	// Partial selection sort: only the first k slots need ordering.
	for i := 0; i < k; i++ {
		maxIdx := i
		for j := i + 1; j < len(pairs); j++ {
			if pairs[j].value > pairs[maxIdx].value {
				maxIdx = j
			}
		}
		pairs[i], pairs[maxIdx] = pairs[maxIdx], pairs[i]
	}

	indices := make([]int, k)
	values := make([]float64, k)
	for i := 0; i < k; i++ {
		indices[i] = pairs[i].index
		values[i] = pairs[i].value
	}

	return indices, values
}
