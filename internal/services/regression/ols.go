// Package regression implements ordinary least squares with the fit
// statistics the forecast pipeline persists: coefficient standard errors,
// t/p values, R² family, F significance and the sum-of-squares
// decomposition.
package regression

import (
	"errors"
	"math"
)

// Result holds a fitted OLS model. Params[0] is the intercept; Params[i]
// corresponds to column i-1 of the design matrix passed to Fit.
type Result struct {
	Params    []float64
	StdErrors []float64
	TValues   []float64
	PValues   []float64

	N       int
	DFModel float64
	DFResid float64

	R2         float64
	AdjustedR2 float64
	MultiR     float64
	FValue     float64
	FPValue    float64

	RMSE     float64
	StdError float64 // sqrt of residual mean square

	RegSS   float64 // regression sum of squares
	RegMS   float64 // RegSS / DFModel
	ResSS   float64 // residual sum of squares
	ResMS   float64 // ResSS / DFResid
	TotalSS float64 // centered total sum of squares
}

var (
	// ErrSingular is returned when the normal equations cannot be solved.
	ErrSingular = errors.New("regression: singular design matrix")
	// ErrShape is returned for empty or misaligned inputs.
	ErrShape = errors.New("regression: invalid matrix shape")
)

// Fit runs OLS of y on x with an explicitly added intercept column.
// x is row-major: x[i] is observation i with one value per feature.
func Fit(x [][]float64, y []float64) (*Result, error) {
	n := len(y)
	if n == 0 || len(x) != n {
		return nil, ErrShape
	}
	k := len(x[0])
	for _, row := range x {
		if len(row) != k {
			return nil, ErrShape
		}
	}
	p := k + 1 // intercept added explicitly

	// Design matrix with leading constant column.
	design := make([][]float64, n)
	for i, row := range x {
		d := make([]float64, p)
		d[0] = 1
		copy(d[1:], row)
		design[i] = d
	}

	xtx := make([][]float64, p)
	for i := range xtx {
		xtx[i] = make([]float64, p)
	}
	xty := make([]float64, p)
	for i := 0; i < n; i++ {
		for a := 0; a < p; a++ {
			xty[a] += design[i][a] * y[i]
			for b := a; b < p; b++ {
				xtx[a][b] += design[i][a] * design[i][b]
			}
		}
	}
	for a := 0; a < p; a++ {
		for b := 0; b < a; b++ {
			xtx[a][b] = xtx[b][a]
		}
	}

	inv, err := invert(xtx)
	if err != nil {
		return nil, err
	}

	beta := make([]float64, p)
	for a := 0; a < p; a++ {
		for b := 0; b < p; b++ {
			beta[a] += inv[a][b] * xty[b]
		}
	}

	mean := 0.0
	for _, v := range y {
		mean += v
	}
	mean /= float64(n)

	var resSS, totalSS float64
	for i := 0; i < n; i++ {
		pred := 0.0
		for a := 0; a < p; a++ {
			pred += design[i][a] * beta[a]
		}
		r := y[i] - pred
		resSS += r * r
		d := y[i] - mean
		totalSS += d * d
	}
	regSS := totalSS - resSS
	if regSS < 0 {
		regSS = 0
	}

	dfModel := float64(p - 1)
	dfResid := float64(n - p)

	res := &Result{
		Params:  beta,
		N:       n,
		DFModel: dfModel,
		DFResid: dfResid,
		ResSS:   resSS,
		RegSS:   regSS,
		TotalSS: totalSS,
		RMSE:    math.Sqrt(resSS / float64(n)),
	}

	if totalSS > 0 {
		res.R2 = regSS / totalSS
	}
	res.MultiR = math.Sqrt(res.R2)
	if dfResid > 0 {
		res.ResMS = resSS / dfResid
		res.StdError = math.Sqrt(res.ResMS)
		if totalSS > 0 {
			res.AdjustedR2 = 1 - (1-res.R2)*float64(n-1)/dfResid
		}
	}
	if dfModel > 0 {
		res.RegMS = regSS / dfModel
	}
	if dfModel > 0 && dfResid > 0 && res.ResMS > 0 {
		res.FValue = res.RegMS / res.ResMS
		res.FPValue = fSurvival(res.FValue, dfModel, dfResid)
	} else {
		res.FPValue = math.NaN()
	}

	res.StdErrors = make([]float64, p)
	res.TValues = make([]float64, p)
	res.PValues = make([]float64, p)
	for a := 0; a < p; a++ {
		se := math.Sqrt(res.ResMS * inv[a][a])
		res.StdErrors[a] = se
		if se > 0 && dfResid > 0 {
			t := beta[a] / se
			res.TValues[a] = t
			res.PValues[a] = 2 * tSurvival(math.Abs(t), dfResid)
		} else {
			res.TValues[a] = math.NaN()
			res.PValues[a] = math.NaN()
		}
	}

	return res, nil
}

// Predict evaluates the fitted model on one feature row (without the
// intercept column; it is added internally).
func (r *Result) Predict(row []float64) float64 {
	pred := r.Params[0]
	for i, v := range row {
		pred += r.Params[i+1] * v
	}
	return pred
}

// invert computes the inverse of a square matrix by Gauss-Jordan
// elimination with partial pivoting.
func invert(m [][]float64) ([][]float64, error) {
	p := len(m)
	a := make([][]float64, p)
	inv := make([][]float64, p)
	for i := 0; i < p; i++ {
		a[i] = append([]float64(nil), m[i]...)
		inv[i] = make([]float64, p)
		inv[i][i] = 1
	}

	for col := 0; col < p; col++ {
		pivot := col
		for r := col + 1; r < p; r++ {
			if math.Abs(a[r][col]) > math.Abs(a[pivot][col]) {
				pivot = r
			}
		}
		if math.Abs(a[pivot][col]) < 1e-12 {
			return nil, ErrSingular
		}
		a[col], a[pivot] = a[pivot], a[col]
		inv[col], inv[pivot] = inv[pivot], inv[col]

		d := a[col][col]
		for j := 0; j < p; j++ {
			a[col][j] /= d
			inv[col][j] /= d
		}
		for r := 0; r < p; r++ {
			if r == col {
				continue
			}
			f := a[r][col]
			if f == 0 {
				continue
			}
			for j := 0; j < p; j++ {
				a[r][j] -= f * a[col][j]
				inv[r][j] -= f * inv[col][j]
			}
		}
	}
	return inv, nil
}

// Variance returns the population variance of xs.
func Variance(xs []float64) float64 {
	n := len(xs)
	if n == 0 {
		return 0
	}
	mean := 0.0
	for _, v := range xs {
		mean += v
	}
	mean /= float64(n)
	s := 0.0
	for _, v := range xs {
		d := v - mean
		s += d * d
	}
	return s / float64(n)
}
