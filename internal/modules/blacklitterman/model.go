// Package blacklitterman blends market-implied equilibrium returns with
// investor views to produce posterior expected returns.
package blacklitterman

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// DefaultTau is the standard uncertainty scaling on the prior covariance.
const DefaultTau = 0.05

// DefaultRiskAversion is the market risk-aversion coefficient delta.
const DefaultRiskAversion = 1.0

// zeroConfidenceVariance makes a view with confidence 0 effectively ignored.
const zeroConfidenceVariance = 1e6

// View is an absolute view on a single asset's annual expected return.
type View struct {
	Asset          string  `json:"asset"`
	ExpectedReturn float64 `json:"expected_return"`
	Confidence     float64 `json:"confidence"`
}

// Model holds the Black-Litterman inputs for one solve.
type Model struct {
	Tickers          []string
	Covariance       [][]float64
	MarketCapWeights map[string]float64
	RiskFreeRate     float64
	RiskAversion     float64
	Tau              float64
}

// EquilibriumReturns computes the market-implied prior pi = delta * Sigma * w + rf.
// Without market-cap weights the market portfolio defaults to equal weights.
func (m *Model) EquilibriumReturns() ([]float64, error) {
	n := len(m.Tickers)
	if n == 0 {
		return nil, fmt.Errorf("no tickers provided")
	}
	if len(m.Covariance) != n {
		return nil, fmt.Errorf("covariance size %d does not match tickers %d", len(m.Covariance), n)
	}

	w := make([]float64, n)
	if len(m.MarketCapWeights) > 0 {
		total := 0.0
		for i, ticker := range m.Tickers {
			w[i] = m.MarketCapWeights[ticker]
			total += w[i]
		}
		if total <= 0 {
			return nil, fmt.Errorf("market cap weights sum to zero")
		}
		for i := range w {
			w[i] /= total
		}
	} else {
		for i := range w {
			w[i] = 1.0 / float64(n)
		}
	}

	delta := m.RiskAversion
	if delta <= 0 {
		delta = DefaultRiskAversion
	}

	pi := make([]float64, n)
	for i := 0; i < n; i++ {
		acc := 0.0
		for j := 0; j < n; j++ {
			acc += m.Covariance[i][j] * w[j]
		}
		pi[i] = delta*acc + m.RiskFreeRate
	}
	return pi, nil
}

// PosteriorReturns blends the equilibrium prior with the given views:
//
//	E[R] = pi + tau*Sigma*P' (P*tau*Sigma*P' + Omega)^-1 (Q - P*pi)
//
// Views on unknown assets are rejected. With no views the prior is returned.
func (m *Model) PosteriorReturns(views []View) ([]float64, error) {
	pi, err := m.EquilibriumReturns()
	if err != nil {
		return nil, err
	}
	if len(views) == 0 {
		return pi, nil
	}

	n := len(m.Tickers)
	k := len(views)

	index := make(map[string]int, n)
	for i, ticker := range m.Tickers {
		index[ticker] = i
	}

	// Picking matrix P, view vector Q, view uncertainty Omega.
	p := mat.NewDense(k, n, nil)
	q := mat.NewVecDense(k, nil)
	omega := mat.NewDense(k, k, nil)

	tau := m.Tau
	if tau <= 0 {
		tau = DefaultTau
	}

	for vi, view := range views {
		ai, ok := index[view.Asset]
		if !ok {
			return nil, fmt.Errorf("view references unknown asset: %s", view.Asset)
		}
		if view.Confidence < 0 || view.Confidence > 1 {
			return nil, fmt.Errorf("view confidence for %s must be in [0, 1]", view.Asset)
		}

		p.Set(vi, ai, 1.0)
		q.SetVec(vi, view.ExpectedReturn)

		// Idzorek-style scaling: the view variance shrinks as confidence
		// approaches one, relative to tau * sigma_ii.
		baseVar := tau * m.Covariance[ai][ai]
		conf := view.Confidence
		if conf == 0 {
			omega.Set(vi, vi, zeroConfidenceVariance)
		} else {
			alpha := (1.0 - conf) / conf
			v := baseVar * alpha
			if v < 1e-12 {
				v = 1e-12
			}
			omega.Set(vi, vi, v)
		}
	}

	sigma := mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			sigma.Set(i, j, m.Covariance[i][j])
		}
	}

	var tauSigma mat.Dense
	tauSigma.Scale(tau, sigma)

	// A = P * tauSigma * P' + Omega
	var pts mat.Dense
	pts.Mul(p, &tauSigma)
	var a mat.Dense
	a.Mul(&pts, p.T())
	a.Add(&a, omega)

	// b = Q - P*pi
	piVec := mat.NewVecDense(n, pi)
	var pPi mat.VecDense
	pPi.MulVec(p, piVec)
	b := mat.NewVecDense(k, nil)
	b.SubVec(q, &pPi)

	x, err := solveViewSystem(&a, b)
	if err != nil {
		return nil, fmt.Errorf("failed to solve view system: %w", err)
	}

	// adjustment = tauSigma * P' * x
	var ptx mat.VecDense
	ptx.MulVec(p.T(), x)
	var adj mat.VecDense
	adj.MulVec(&tauSigma, &ptx)

	posterior := make([]float64, n)
	for i := 0; i < n; i++ {
		posterior[i] = pi[i] + adj.AtVec(i)
	}
	return posterior, nil
}

// solveViewSystem solves A x = b. Any solve error, near-singular or exactly
// singular, routes through QR least squares, and a non-finite solution is
// rejected rather than propagated into the posterior.
func solveViewSystem(a *mat.Dense, b *mat.VecDense) (*mat.VecDense, error) {
	k := b.Len()
	x := mat.NewVecDense(k, nil)
	if err := x.SolveVec(a, b); err != nil {
		var qr mat.QR
		qr.Factorize(a)
		var xs mat.Dense
		if lerr := qr.SolveTo(&xs, false, b); lerr != nil {
			if _, cond := lerr.(mat.Condition); !cond {
				return nil, lerr
			}
		}
		rows, _ := xs.Dims()
		if rows != k {
			return nil, fmt.Errorf("least-squares solution has %d rows, want %d", rows, k)
		}
		for i := 0; i < k; i++ {
			x.SetVec(i, xs.At(i, 0))
		}
	}
	for i := 0; i < k; i++ {
		if math.IsNaN(x.AtVec(i)) || math.IsInf(x.AtVec(i), 0) {
			return nil, fmt.Errorf("view system solution is not finite")
		}
	}
	return x, nil
}
