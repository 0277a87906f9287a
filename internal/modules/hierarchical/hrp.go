// Package hierarchical implements Hierarchical Risk Parity allocation.
package hierarchical

import (
	"fmt"
	"math"

	"github.com/mcportfolio/mcportfolio/pkg/formulas"
)

// Linkage selects how inter-cluster distance is measured.
type Linkage string

const (
	LinkageSingle   Linkage = "single"
	LinkageComplete Linkage = "complete"
	LinkageAverage  Linkage = "average"
)

// Options configures an HRP run.
type Options struct {
	Linkage Linkage
}

// DefaultOptions returns the standard single-linkage configuration.
func DefaultOptions() Options {
	return Options{Linkage: LinkageSingle}
}

// Optimizer performs Hierarchical Risk Parity portfolio optimization.
type Optimizer struct{}

// NewOptimizer creates a new HRP optimizer.
func NewOptimizer() *Optimizer {
	return &Optimizer{}
}

type clusterNode struct {
	left    *clusterNode
	right   *clusterNode
	leaves  []int
	minLeaf int
}

// Optimize solves the HRP allocation:
// 1) Correlation from covariance
// 2) Distance: d_ij = sqrt(2 * (1 - ρ_ij))
// 3) Hierarchical clustering (configurable linkage, deterministic tie-break)
// 4) Quasi-diagonalization (leaf order from dendrogram)
// 5) Recursive bisection allocation (cluster variance via IVP)
func (hrp *Optimizer) Optimize(covMatrix [][]float64, tickers []string) (map[string]float64, error) {
	return hrp.OptimizeWithOptions(covMatrix, tickers, DefaultOptions())
}

// OptimizeWithOptions runs HRP with an explicit linkage choice.
func (hrp *Optimizer) OptimizeWithOptions(covMatrix [][]float64, tickers []string, opts Options) (map[string]float64, error) {
	if len(tickers) == 0 {
		return nil, fmt.Errorf("no tickers provided")
	}

	if len(tickers) == 1 {
		// Single asset: all weight to that asset
		return map[string]float64{tickers[0]: 1.0}, nil
	}

	if len(covMatrix) != len(tickers) {
		return nil, fmt.Errorf("covariance matrix size %d does not match tickers %d", len(covMatrix), len(tickers))
	}
	for i := 0; i < len(covMatrix); i++ {
		if len(covMatrix[i]) != len(tickers) {
			return nil, fmt.Errorf("covariance matrix is not square")
		}
	}

	corrMatrix, err := formulas.CorrelationMatrixFromCovariance(covMatrix)
	if err != nil {
		return nil, fmt.Errorf("failed to calculate correlation matrix from covariance: %w", err)
	}

	distMatrix := formulas.CorrelationToDistance(corrMatrix)

	linkage := opts.Linkage
	if linkage == "" {
		linkage = LinkageSingle
	}

	root := hrp.buildDendrogram(distMatrix, linkage)
	order := hrp.quasiDiagonalOrder(root)
	if len(order) != len(tickers) {
		return nil, fmt.Errorf("invalid HRP order length %d", len(order))
	}

	weights := make([]float64, len(tickers))
	for i := range weights {
		weights[i] = 1.0
	}
	hrp.recursiveBisectionAllocate(weights, covMatrix, order)

	sum := 0.0
	for _, w := range weights {
		sum += w
	}
	if sum <= 0 || math.IsNaN(sum) || math.IsInf(sum, 0) {
		return nil, fmt.Errorf("invalid HRP weight sum: %v", sum)
	}

	result := make(map[string]float64)
	for i, ticker := range tickers {
		result[ticker] = weights[i] / sum
	}

	return result, nil
}

// ApplyBounds clamps weights into [minWeight, maxWeight] and renormalizes.
// HRP itself is unconstrained; the bounds are a post-hoc adjustment.
func ApplyBounds(weights map[string]float64, minWeight, maxWeight float64) map[string]float64 {
	if maxWeight <= 0 {
		maxWeight = 1.0
	}

	clamped := make(map[string]float64, len(weights))
	sum := 0.0
	for ticker, w := range weights {
		w = math.Max(minWeight, math.Min(maxWeight, w))
		clamped[ticker] = w
		sum += w
	}

	if sum > 0 {
		for ticker := range clamped {
			clamped[ticker] /= sum
		}
	}

	return clamped
}

func (hrp *Optimizer) buildDendrogram(dist [][]float64, linkage Linkage) *clusterNode {
	n := len(dist)
	clusters := make([]*clusterNode, 0, n)
	for i := 0; i < n; i++ {
		clusters = append(clusters, &clusterNode{
			leaves:  []int{i},
			minLeaf: i,
		})
	}

	// Agglomerative clustering with deterministic tie-break.
	for len(clusters) > 1 {
		bestI := 0
		bestJ := 1
		bestD := hrp.clusterDistance(dist, clusters[0], clusters[1], linkage)

		for i := 0; i < len(clusters); i++ {
			for j := i + 1; j < len(clusters); j++ {
				d := hrp.clusterDistance(dist, clusters[i], clusters[j], linkage)
				if d < bestD || (d == bestD && hrp.clusterPairLess(clusters[i], clusters[j], clusters[bestI], clusters[bestJ])) {
					bestD = d
					bestI = i
					bestJ = j
				}
			}
		}

		a := clusters[bestI]
		b := clusters[bestJ]
		left := a
		right := b
		if right.minLeaf < left.minLeaf {
			left, right = right, left
		}

		mergedLeaves := make([]int, 0, len(a.leaves)+len(b.leaves))
		mergedLeaves = append(mergedLeaves, a.leaves...)
		mergedLeaves = append(mergedLeaves, b.leaves...)
		minLeaf := left.minLeaf
		if right.minLeaf < minLeaf {
			minLeaf = right.minLeaf
		}

		merged := &clusterNode{
			left:    left,
			right:   right,
			leaves:  mergedLeaves,
			minLeaf: minLeaf,
		}

		next := make([]*clusterNode, 0, len(clusters)-1)
		for k := 0; k < len(clusters); k++ {
			if k == bestI || k == bestJ {
				continue
			}
			next = append(next, clusters[k])
		}
		next = append(next, merged)
		clusters = next
	}

	return clusters[0]
}

func (hrp *Optimizer) clusterPairLess(a1, b1, a2, b2 *clusterNode) bool {
	// Tie-break by (minLeaf, then second minLeaf) of the pair.
	x1, y1 := a1.minLeaf, b1.minLeaf
	if y1 < x1 {
		x1, y1 = y1, x1
	}
	x2, y2 := a2.minLeaf, b2.minLeaf
	if y2 < x2 {
		x2, y2 = y2, x2
	}
	if x1 != x2 {
		return x1 < x2
	}
	return y1 < y2
}

func (hrp *Optimizer) clusterDistance(dist [][]float64, a, b *clusterNode, linkage Linkage) float64 {
	switch linkage {
	case LinkageComplete:
		best := 0.0
		first := true
		for _, i := range a.leaves {
			for _, j := range b.leaves {
				d := dist[i][j]
				if first || d > best {
					best = d
					first = false
				}
			}
		}
		return best
	case LinkageAverage:
		sum := 0.0
		count := 0
		for _, i := range a.leaves {
			for _, j := range b.leaves {
				sum += dist[i][j]
				count++
			}
		}
		if count == 0 {
			return math.Inf(1)
		}
		return sum / float64(count)
	case LinkageSingle:
		fallthrough
	default:
		best := math.Inf(1)
		for _, i := range a.leaves {
			for _, j := range b.leaves {
				d := dist[i][j]
				if d < best {
					best = d
				}
			}
		}
		return best
	}
}

func (hrp *Optimizer) quasiDiagonalOrder(node *clusterNode) []int {
	if node == nil {
		return nil
	}
	if node.left == nil && node.right == nil {
		return []int{node.leaves[0]}
	}
	left := hrp.quasiDiagonalOrder(node.left)
	right := hrp.quasiDiagonalOrder(node.right)
	out := make([]int, 0, len(left)+len(right))
	out = append(out, left...)
	out = append(out, right...)
	return out
}

func (hrp *Optimizer) recursiveBisectionAllocate(weights []float64, cov [][]float64, order []int) {
	if len(order) <= 1 {
		return
	}
	split := len(order) / 2
	left := order[:split]
	right := order[split:]

	vLeft := hrp.clusterVariance(cov, left)
	vRight := hrp.clusterVariance(cov, right)

	alpha := 0.5
	if vLeft+vRight > 0 {
		alpha = 1.0 - (vLeft / (vLeft + vRight))
	}
	alpha = math.Max(0.0, math.Min(1.0, alpha))

	for _, idx := range left {
		weights[idx] *= alpha
	}
	for _, idx := range right {
		weights[idx] *= (1.0 - alpha)
	}

	hrp.recursiveBisectionAllocate(weights, cov, left)
	hrp.recursiveBisectionAllocate(weights, cov, right)
}

func (hrp *Optimizer) clusterVariance(cov [][]float64, idxs []int) float64 {
	if len(idxs) == 0 {
		return 0.0
	}
	if len(idxs) == 1 {
		i := idxs[0]
		return math.Max(cov[i][i], 0.0)
	}

	// Inverse-variance portfolio (IVP) within the cluster.
	variances := make([]float64, len(idxs))
	for k, i := range idxs {
		variances[k] = cov[i][i]
	}
	inv := formulas.InverseVarianceWeights(variances)

	// variance = w^T Σ w
	variance := 0.0
	for a, i := range idxs {
		for b, j := range idxs {
			variance += inv[a] * cov[i][j] * inv[b]
		}
	}
	return math.Max(variance, 0.0)
}
