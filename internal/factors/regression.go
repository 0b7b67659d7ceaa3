// Package factors owns the symbol factor universe: per-symbol ridge and
// spread regressions computed once per day, and their aggregation to
// portfolio-level exposures.
package factors

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"
)

// OLSResult is one univariate regression outcome.
type OLSResult struct {
	Beta         float64
	Alpha        float64
	RSquared     float64
	Observations int
	TStat        float64
	PValue       float64
	Significant  bool
}

// OLS regresses y on x with an intercept and tags significance of the slope
// at the given one-minus-confidence level (two-sided). confidence is the
// alpha level, e.g. 0.10 for 90% confidence.
func OLS(x, y []float64, confidence float64) (OLSResult, error) {
	n := len(x)
	if n != len(y) {
		return OLSResult{}, fmt.Errorf("mismatched series lengths %d vs %d", n, len(y))
	}
	if n < 3 {
		return OLSResult{}, fmt.Errorf("need at least 3 observations, got %d", n)
	}

	alpha, beta := stat.LinearRegression(x, y, nil, false)
	r2 := stat.RSquared(x, y, nil, alpha, beta)

	// Standard error of the slope from residual variance
	var ssr, sxx float64
	meanX := stat.Mean(x, nil)
	for i := range x {
		resid := y[i] - (alpha + beta*x[i])
		ssr += resid * resid
		dx := x[i] - meanX
		sxx += dx * dx
	}

	result := OLSResult{
		Beta:         beta,
		Alpha:        alpha,
		RSquared:     r2,
		Observations: n,
	}
	if sxx > 0 && n > 2 {
		se := math.Sqrt(ssr / float64(n-2) / sxx)
		if se > 0 {
			result.TStat = beta / se
			tDist := distuv.StudentsT{Mu: 0, Sigma: 1, Nu: float64(n - 2)}
			result.PValue = 2 * tDist.Survival(math.Abs(result.TStat))
			result.Significant = result.PValue < confidence
		}
	}
	return result, nil
}

// RidgeResult holds the multivariate ridge outcome. Betas follow the column
// order of the design matrix.
type RidgeResult struct {
	Betas        []float64
	RSquared     float64
	Observations int
}

// Ridge solves the L2-penalized least squares (X'X + lambda*I) b = X'y on
// demeaned data. Demeaning absorbs the intercept so the penalty never
// shrinks it. rows(X) must equal len(y).
func Ridge(X [][]float64, y []float64, lambda float64) (RidgeResult, error) {
	n := len(X)
	if n == 0 || n != len(y) {
		return RidgeResult{}, fmt.Errorf("mismatched design matrix rows %d vs %d observations", n, len(y))
	}
	k := len(X[0])
	if k == 0 {
		return RidgeResult{}, fmt.Errorf("design matrix has no columns")
	}
	if n <= k {
		return RidgeResult{}, fmt.Errorf("need more observations (%d) than regressors (%d)", n, k)
	}

	// Demean y and each column of X
	yMean := stat.Mean(y, nil)
	colMeans := make([]float64, k)
	for j := 0; j < k; j++ {
		var sum float64
		for i := 0; i < n; i++ {
			sum += X[i][j]
		}
		colMeans[j] = sum / float64(n)
	}

	xd := mat.NewDense(n, k, nil)
	yd := mat.NewVecDense(n, nil)
	for i := 0; i < n; i++ {
		yd.SetVec(i, y[i]-yMean)
		for j := 0; j < k; j++ {
			xd.Set(i, j, X[i][j]-colMeans[j])
		}
	}

	// X'X + lambda*I
	var xtx mat.Dense
	xtx.Mul(xd.T(), xd)
	for j := 0; j < k; j++ {
		xtx.Set(j, j, xtx.At(j, j)+lambda)
	}

	var xty mat.VecDense
	xty.MulVec(xd.T(), yd)

	var betas mat.VecDense
	if err := betas.SolveVec(&xtx, &xty); err != nil {
		return RidgeResult{}, fmt.Errorf("ridge system is singular: %w", err)
	}

	// R-squared on the demeaned fit
	var fitted mat.VecDense
	fitted.MulVec(xd, &betas)
	var ssr, sst float64
	for i := 0; i < n; i++ {
		resid := yd.AtVec(i) - fitted.AtVec(i)
		ssr += resid * resid
		sst += yd.AtVec(i) * yd.AtVec(i)
	}

	result := RidgeResult{
		Betas:        make([]float64, k),
		Observations: n,
	}
	for j := 0; j < k; j++ {
		result.Betas[j] = betas.AtVec(j)
	}
	if sst > 0 {
		result.RSquared = 1 - ssr/sst
	}
	return result, nil
}

// ClampBeta caps a beta at +/-cap.
func ClampBeta(beta, cap float64) float64 {
	if beta > cap {
		return cap
	}
	if beta < -cap {
		return -cap
	}
	return beta
}
