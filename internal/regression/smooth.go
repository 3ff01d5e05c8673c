package regression

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// minSplineWeight keeps spline weights strictly positive.
const minSplineWeight = 1e-3

// CosineWindow returns the symmetric cosine (sine) window of size m.
func CosineWindow(m int) []float64 {
	w := make([]float64, m)
	for k := range w {
		w[k] = math.Sin(math.Pi * (float64(k) + 0.5) / float64(m))
	}
	return w
}

// Rolling returns the centered cosine-weighted rolling mean of values.
// Near the edges the window is truncated and its weights renormalised.
func Rolling(values []float64, window int) []float64 {
	if window < 1 {
		window = 1
	}
	w := CosineWindow(window)
	half := window / 2
	out := make([]float64, len(values))
	for i := range values {
		var sum, wsum float64
		for k := 0; k < window; k++ {
			j := i - half + k
			if j < 0 || j >= len(values) {
				continue
			}
			sum += w[k] * values[j]
			wsum += w[k]
		}
		out[i] = sum / wsum
	}
	return out
}

// SplineWeights returns one fit weight per point: above 1 where the observed
// mean lies above the linear reference, below 1 where it lies beneath.
// For a positive reference this is observed/linear.
func SplineWeights(observed, linear []float64) []float64 {
	w := make([]float64, len(observed))
	for i := range observed {
		if linear[i] == 0 {
			w[i] = 1
			continue
		}
		w[i] = math.Max(1+(observed[i]-linear[i])/math.Abs(linear[i]), minSplineWeight)
	}
	return w
}

// SmoothingSpline fits a weighted cubic smoothing spline over positions
// 0..n-1 and evaluates it at the same positions. The roughness penalty is
// chosen so that sum((w*(y-g))^2) is as close to s as possible without
// exceeding it. When a weighted straight line already satisfies s, the line
// is returned.
func SmoothingSpline(y, w []float64, s float64) ([]float64, error) {
	n := len(y)
	if len(w) != n {
		return nil, fmt.Errorf("spline weights: have %d, want %d", len(w), n)
	}
	if n < 3 {
		out := make([]float64, n)
		copy(out, y)
		return out, nil
	}

	x := make([]float64, n)
	w2 := make([]float64, n)
	for i := range x {
		x[i] = float64(i)
		w2[i] = w[i] * w[i]
	}

	alpha, beta := stat.LinearRegression(x, y, w2, false)
	line := make([]float64, n)
	for i := range line {
		line[i] = alpha + beta*x[i]
	}
	if weightedRSS(y, line, w2) <= s {
		return line, nil
	}

	lo, hi := -10.0, 12.0 // log10 of the penalty
	best := append([]float64(nil), y...)
	for iter := 0; iter < 64; iter++ {
		mid := (lo + hi) / 2
		g, err := penalisedFit(y, w2, math.Pow(10, mid))
		if err != nil {
			return nil, err
		}
		if weightedRSS(y, g, w2) > s {
			hi = mid
			continue
		}
		lo = mid
		best = g
	}
	return best, nil
}

func weightedRSS(y, g, w2 []float64) float64 {
	var rss float64
	for i := range y {
		d := y[i] - g[i]
		rss += w2[i] * d * d
	}
	return rss
}

// penalisedFit solves (R + lambda*Q'DQ) gamma = Q'y and returns
// g = y - lambda*D*Q*gamma for unit knot spacing, with D = diag(1/w2).
func penalisedFit(y, w2 []float64, lambda float64) ([]float64, error) {
	n := len(y)
	m := n - 2
	d := make([]float64, n)
	for i := range d {
		d[i] = 1 / w2[i]
	}

	a := mat.NewSymBandDense(m, min(2, m-1), nil)
	qty := mat.NewVecDense(m, nil)
	for c := 0; c < m; c++ {
		a.SetSymBand(c, c, 2.0/3+lambda*(d[c]+4*d[c+1]+d[c+2]))
		if c+1 < m {
			a.SetSymBand(c, c+1, 1.0/6-lambda*2*(d[c+1]+d[c+2]))
		}
		if c+2 < m {
			a.SetSymBand(c, c+2, lambda*d[c+2])
		}
		qty.SetVec(c, y[c]-2*y[c+1]+y[c+2])
	}

	var chol mat.BandCholesky
	if ok := chol.Factorize(a); !ok {
		return nil, errors.New("smoothing spline: system not positive definite")
	}
	gamma := mat.NewVecDense(m, nil)
	if err := chol.SolveVecTo(gamma, qty); err != nil {
		return nil, fmt.Errorf("smoothing spline solve: %w", err)
	}

	g := make([]float64, n)
	for i := range g {
		var qg float64
		if c := i - 2; c >= 0 && c < m {
			qg += gamma.AtVec(c)
		}
		if c := i - 1; c >= 0 && c < m {
			qg -= 2 * gamma.AtVec(c)
		}
		if c := i; c < m {
			qg += gamma.AtVec(c)
		}
		g[i] = y[i] - lambda*d[i]*qg
	}
	return g, nil
}

// Polynomial fits a least-squares polynomial of the given degree of y on x
// and evaluates it at x. x is scaled to [0,1] before expansion to keep the
// design matrix well conditioned. The degree is reduced when there are too
// few points to determine it.
func Polynomial(x, y []float64, degree int) ([]float64, error) {
	n := len(x)
	if n != len(y) {
		return nil, fmt.Errorf("polynomial: %d x values, %d y values", n, len(y))
	}
	if n == 0 {
		return nil, nil
	}
	if degree > n-1 {
		degree = n - 1
	}
	if degree < 0 {
		degree = 0
	}

	scale := 0.0
	for _, v := range x {
		scale = math.Max(scale, math.Abs(v))
	}
	if scale == 0 {
		scale = 1
	}

	design := mat.NewDense(n, degree+1, nil)
	for i, v := range x {
		p := 1.0
		for k := 0; k <= degree; k++ {
			design.Set(i, k, p)
			p *= v / scale
		}
	}

	var qr mat.QR
	qr.Factorize(design)
	var coef mat.Dense
	if err := qr.SolveTo(&coef, false, mat.NewDense(n, 1, append([]float64(nil), y...))); err != nil {
		return nil, fmt.Errorf("polynomial solve: %w", err)
	}

	var fitted mat.Dense
	fitted.Mul(design, &coef)
	out := make([]float64, n)
	for i := range out {
		out[i] = fitted.At(i, 0)
	}
	return out, nil
}
