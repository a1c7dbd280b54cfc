package memlib

import (
	"math"
	"sort"

	"github.com/YuminosukeSato/xgbridge/core/parallel"
	"gonum.org/v1/gonum/mat"
)

// tree is one regression tree of the ensemble.
type tree struct {
	root *treeNode
}

// treeNode is a split or a leaf. Samples with fvalue < threshold go left;
// missing values follow defaultLeft.
type treeNode struct {
	leaf        bool
	feature     int
	threshold   float64
	defaultLeft bool
	value       float64
	left, right *treeNode

	gain    float64
	cover   float64
	sumGrad float64
}

func (t *tree) predict(sample []float64) float64 {
	if t.root == nil {
		return 0
	}
	n := t.root
	for !n.leaf {
		v := math.NaN()
		if n.feature < len(sample) {
			v = sample[n.feature]
		}
		switch {
		case math.IsNaN(v):
			if n.defaultLeft {
				n = n.left
			} else {
				n = n.right
			}
		case v < n.threshold:
			n = n.left
		default:
			n = n.right
		}
	}
	return n.value
}

// depth reports the depth of the deepest leaf.
func (t *tree) depth() int {
	var walk func(n *treeNode) int
	walk = func(n *treeNode) int {
		if n == nil || n.leaf {
			return 0
		}
		return 1 + max(walk(n.left), walk(n.right))
	}
	return walk(t.root)
}

// treeParams are the tree-growing parameters of a booster.
type treeParams struct {
	eta            float64
	maxDepth       int
	minChildWeight float64
	lambda         float64
	alpha          float64
	gamma          float64
	nthread        int
}

// gradPair is the first and second order gradient of one sample.
type gradPair struct {
	grad, hess float64
}

// buildTree grows one tree on data (rows x features, NaN for missing).
func buildTree(data *mat.Dense, gpair []gradPair, p treeParams) *tree {
	nrow, _ := data.Dims()
	indices := make([]int, 0, nrow)
	for i := 0; i < nrow; i++ {
		if gpair[i].hess > 0 || gpair[i].grad != 0 {
			indices = append(indices, i)
		}
	}
	b := &treeBuilder{data: data, gpair: gpair, p: p}
	return &tree{root: b.node(indices, 0)}
}

type treeBuilder struct {
	data  *mat.Dense
	gpair []gradPair
	p     treeParams
}

// thresholdL1 applies L1 shrinkage to a gradient sum.
func thresholdL1(g, alpha float64) float64 {
	switch {
	case g > alpha:
		return g - alpha
	case g < -alpha:
		return g + alpha
	}
	return 0
}

func (b *treeBuilder) weight(g, h float64) float64 {
	if h <= 0 {
		return 0
	}
	return -thresholdL1(g, b.p.alpha) / (h + b.p.lambda)
}

func (b *treeBuilder) score(g, h float64) float64 {
	if h <= 0 {
		return 0
	}
	t := thresholdL1(g, b.p.alpha)
	return t * t / (h + b.p.lambda)
}

func (b *treeBuilder) leaf(g, h float64) *treeNode {
	return &treeNode{
		leaf:    true,
		value:   b.weight(g, h) * b.p.eta,
		cover:   h,
		sumGrad: g,
	}
}

func (b *treeBuilder) node(indices []int, depth int) *treeNode {
	var g, h float64
	for _, i := range indices {
		g += b.gpair[i].grad
		h += b.gpair[i].hess
	}
	if depth >= b.p.maxDepth || h < 2*b.p.minChildWeight {
		return b.leaf(g, h)
	}

	best := b.findSplit(indices, g, h)
	if best.feature < 0 || best.gain <= 0 {
		return b.leaf(g, h)
	}

	left, right := b.partition(indices, best)
	if len(left) == 0 || len(right) == 0 {
		return b.leaf(g, h)
	}
	return &treeNode{
		feature:     best.feature,
		threshold:   best.threshold,
		defaultLeft: best.defaultLeft,
		left:        b.node(left, depth+1),
		right:       b.node(right, depth+1),
		gain:        best.gain,
		cover:       h,
		sumGrad:     g,
	}
}

type split struct {
	feature     int
	threshold   float64
	defaultLeft bool
	gain        float64
}

func (s split) better(o split) bool {
	if s.gain != o.gain {
		return s.gain > o.gain
	}
	return s.feature >= 0 && (o.feature < 0 || s.feature < o.feature)
}

// findSplit enumerates every feature in parallel and keeps the best split.
// Ties go to the lowest feature index so the result does not depend on the
// worker count.
func (b *treeBuilder) findSplit(indices []int, g, h float64) split {
	_, ncol := b.data.Dims()
	perFeature := make([]split, ncol)
	parallel.ParallelizeWithThreshold(ncol, 4, b.p.nthread, func(start, end int) {
		for f := start; f < end; f++ {
			perFeature[f] = b.featureSplit(f, indices, g, h)
		}
	})

	best := split{feature: -1}
	for _, s := range perFeature {
		if s.better(best) {
			best = s
		}
	}
	return best
}

type sample struct {
	value      float64
	grad, hess float64
}

// featureSplit scans the present values of feature f in ascending order and
// evaluates both default directions for the missing ones.
func (b *treeBuilder) featureSplit(f int, indices []int, g, h float64) split {
	best := split{feature: -1}
	present := make([]sample, 0, len(indices))
	var pg, ph float64
	for _, i := range indices {
		v := b.data.At(i, f)
		if math.IsNaN(v) {
			continue
		}
		gp := b.gpair[i]
		present = append(present, sample{value: v, grad: gp.grad, hess: gp.hess})
		pg += gp.grad
		ph += gp.hess
	}
	if len(present) < 2 {
		return best
	}
	sort.Slice(present, func(a, c int) bool { return present[a].value < present[c].value })

	mg, mh := g-pg, h-ph
	parent := b.score(g, h)

	var lg, lh float64
	for k := 0; k+1 < len(present); k++ {
		lg += present[k].grad
		lh += present[k].hess
		if present[k].value == present[k+1].value {
			continue
		}
		threshold := (present[k].value + present[k+1].value) / 2

		// missing values sent right, then left
		for _, missingLeft := range []bool{false, true} {
			gl, hl := lg, lh
			if missingLeft {
				gl, hl = lg+mg, lh+mh
			}
			gr, hr := g-gl, h-hl
			if hl < b.p.minChildWeight || hr < b.p.minChildWeight {
				continue
			}
			gain := 0.5*(b.score(gl, hl)+b.score(gr, hr)-parent) - b.p.gamma
			cand := split{feature: f, threshold: threshold, defaultLeft: missingLeft, gain: gain}
			if cand.gain > best.gain || best.feature < 0 {
				best = cand
			}
		}
	}
	return best
}

func (b *treeBuilder) partition(indices []int, s split) ([]int, []int) {
	left := make([]int, 0, len(indices))
	right := make([]int, 0, len(indices))
	for _, i := range indices {
		v := b.data.At(i, s.feature)
		goLeft := v < s.threshold
		if math.IsNaN(v) {
			goLeft = s.defaultLeft
		}
		if goLeft {
			left = append(left, i)
		} else {
			right = append(right, i)
		}
	}
	return left, right
}
