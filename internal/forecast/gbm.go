package forecast

import (
	"math"
	"math/rand"
	"sort"

	"github.com/andresuchdata/controltower/internal/stats"
)

// node is a regression tree node. Leaves carry value; splits send x[feature]
// <= threshold left.
type node struct {
	feature   int
	threshold float64
	left      *node
	right     *node
	leaf      bool
	value     float64
}

func (n *node) predict(x []float64) float64 {
	for !n.leaf {
		if x[n.feature] <= n.threshold {
			n = n.left
		} else {
			n = n.right
		}
	}
	return n.value
}

// gbm is a gradient boosted tree ensemble minimizing pinball loss at alpha.
// Trees are grown on the loss gradient by squared-error reduction and their
// leaves are refit to the alpha-quantile of the residuals they hold.
type gbm struct {
	alpha float64
	base  float64
	rate  float64
	trees []*node
	gain  []float64
	split []float64
}

func fitGBM(X [][]float64, y []float64, alpha float64, p Params) *gbm {
	nFeatures := 0
	if len(X) > 0 {
		nFeatures = len(X[0])
	}
	m := &gbm{
		alpha: alpha,
		base:  stats.Percentile(y, alpha),
		rate:  p.LearningRate,
		gain:  make([]float64, nFeatures),
		split: make([]float64, nFeatures),
	}
	if len(y) == 0 {
		return m
	}

	pred := make([]float64, len(y))
	for i := range pred {
		pred[i] = m.base
	}
	rng := rand.New(rand.NewSource(p.Seed))
	grad := make([]float64, len(y))

	for t := 0; t < p.NEstimators; t++ {
		for i := range y {
			switch {
			case y[i] > pred[i]:
				grad[i] = alpha
			case y[i] < pred[i]:
				grad[i] = alpha - 1
			default:
				grad[i] = 0
			}
		}

		rows := sampleRows(rng, len(y), p.Subsample)
		g := grower{X: X, y: y, pred: pred, grad: grad, alpha: alpha, p: p, gain: m.gain, split: m.split}
		tree := g.grow(rows, 0)
		m.trees = append(m.trees, tree)

		for i := range pred {
			pred[i] += m.rate * tree.predict(X[i])
		}
	}
	return m
}

func (m *gbm) predict(x []float64) float64 {
	v := m.base
	for _, t := range m.trees {
		v += m.rate * t.predict(x)
	}
	return v
}

func sampleRows(rng *rand.Rand, n int, frac float64) []int {
	rows := make([]int, 0, n)
	if frac <= 0 || frac >= 1 {
		for i := 0; i < n; i++ {
			rows = append(rows, i)
		}
		return rows
	}
	for i := 0; i < n; i++ {
		if rng.Float64() < frac {
			rows = append(rows, i)
		}
	}
	if len(rows) == 0 {
		rows = append(rows, rng.Intn(n))
	}
	return rows
}

type grower struct {
	X     [][]float64
	y     []float64
	pred  []float64
	grad  []float64
	alpha float64
	p     Params
	gain  []float64
	split []float64
}

func (g *grower) leaf(rows []int) *node {
	resid := make([]float64, len(rows))
	for i, r := range rows {
		resid[i] = g.y[r] - g.pred[r]
	}
	return &node{leaf: true, value: stats.Percentile(resid, g.alpha)}
}

func (g *grower) grow(rows []int, depth int) *node {
	minChild := g.p.MinChildSize
	if minChild < 1 {
		minChild = 1
	}
	if depth >= g.p.MaxDepth || len(rows) < 2*minChild {
		return g.leaf(rows)
	}

	feature, threshold, gain, ok := g.bestSplit(rows, minChild)
	if !ok {
		return g.leaf(rows)
	}
	g.gain[feature] += gain
	g.split[feature]++

	var left, right []int
	for _, r := range rows {
		if g.X[r][feature] <= threshold {
			left = append(left, r)
		} else {
			right = append(right, r)
		}
	}
	return &node{
		feature:   feature,
		threshold: threshold,
		left:      g.grow(left, depth+1),
		right:     g.grow(right, depth+1),
	}
}

// bestSplit scans every feature for the threshold with the largest
// squared-error reduction of the gradient.
func (g *grower) bestSplit(rows []int, minChild int) (feature int, threshold, gain float64, ok bool) {
	n := float64(len(rows))
	var total float64
	for _, r := range rows {
		total += g.grad[r]
	}
	parent := total * total / n

	order := make([]int, len(rows))
	for f := range g.X[rows[0]] {
		copy(order, rows)
		sort.Slice(order, func(i, j int) bool { return g.X[order[i]][f] < g.X[order[j]][f] })

		var leftSum float64
		for i := 0; i < len(order)-1; i++ {
			leftSum += g.grad[order[i]]
			lo, hi := g.X[order[i]][f], g.X[order[i+1]][f]
			nl := i + 1
			if lo == hi || nl < minChild || len(order)-nl < minChild {
				continue
			}
			nr := float64(len(order) - nl)
			rightSum := total - leftSum
			score := leftSum*leftSum/float64(nl) + rightSum*rightSum/nr - parent
			if score > gain+1e-12 {
				feature, threshold, gain, ok = f, (lo+hi)/2, score, true
			}
		}
	}
	if math.IsNaN(gain) {
		return 0, 0, 0, false
	}
	return feature, threshold, gain, ok
}
