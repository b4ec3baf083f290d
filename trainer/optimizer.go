package trainer

import "math"

// Adam is a first-order adaptive optimizer over float32 parameter slices.
// Parameters are updated in place.
type Adam struct {
	lr    float64
	beta1 float64
	beta2 float64
	eps   float64

	params [][]float32
	m      [][]float64
	v      [][]float64
	step   int
}

// NewAdam creates an Adam optimizer with the standard moment coefficients.
func NewAdam(params [][]float32, lr float64) *Adam {
	m := make([][]float64, len(params))
	v := make([][]float64, len(params))
	for i, p := range params {
		m[i] = make([]float64, len(p))
		v[i] = make([]float64, len(p))
	}
	return &Adam{
		lr:     lr,
		beta1:  0.9,
		beta2:  0.999,
		eps:    1e-8,
		params: params,
		m:      m,
		v:      v,
	}
}

// LR returns the base learning rate.
func (a *Adam) LR() float64 {
	return a.lr
}

// Step applies one update given gradients shaped like the parameters.
// lrScale multiplies the base learning rate for warm-up and decay schedules.
func (a *Adam) Step(grads [][]float32, lrScale float64) {
	if len(grads) != len(a.params) {
		panic("gradient count must match parameter count")
	}
	a.step++
	correction1 := 1 - math.Pow(a.beta1, float64(a.step))
	correction2 := 1 - math.Pow(a.beta2, float64(a.step))
	lr := a.lr * lrScale

	for i, p := range a.params {
		for j := range p {
			g := float64(grads[i][j])
			a.m[i][j] = a.beta1*a.m[i][j] + (1-a.beta1)*g
			a.v[i][j] = a.beta2*a.v[i][j] + (1-a.beta2)*g*g
			mHat := a.m[i][j] / correction1
			vHat := a.v[i][j] / correction2
			p[j] -= float32(lr * mHat / (math.Sqrt(vHat) + a.eps))
		}
	}
}
