package model

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"math/rand"
	"sort"
)

// RandomForest is a bagged ensemble of CART trees with gini splits and
// per-split feature subsampling. Leaf probability is the positive
// fraction of training samples reaching the leaf; Score averages leaf
// probabilities across trees.
type RandomForest struct {
	Trees []Tree `json:"trees"`
	Dim   int    `json:"dim"`

	// Hyperparameters (not persisted; fixed at construction).
	numTrees int
	maxDepth int
	minLeaf  int
	seed     int64
}

// Tree is a flattened binary decision tree.
type Tree struct {
	Nodes []TreeNode `json:"nodes"`
}

// TreeNode is one node in the flattened layout. Feature is -1 for
// leaves; Left/Right index into the node slice.
type TreeNode struct {
	Feature   int     `json:"feature"`
	Threshold float64 `json:"threshold"`
	Left      int     `json:"left"`
	Right     int     `json:"right"`
	Prob      float64 `json:"prob"`
}

// NewRandomForest creates a forest with default hyperparameters.
func NewRandomForest() *RandomForest {
	return &RandomForest{
		numTrees: 50,
		maxDepth: 8,
		minLeaf:  2,
		seed:     42,
	}
}

// Fit grows numTrees trees on bootstrap samples. Deterministic for a
// fixed seed. Cancellation is honored between trees.
func (m *RandomForest) Fit(ctx context.Context, X [][]float64, y []int) error {
	dim, err := validateTrainingSet(X, y)
	if err != nil {
		return fmt.Errorf("random_forest: %w", err)
	}
	m.Dim = dim

	rng := rand.New(rand.NewSource(m.seed))
	featuresPerSplit := int(math.Ceil(math.Sqrt(float64(dim))))

	m.Trees = make([]Tree, 0, m.numTrees)
	for i := 0; i < m.numTrees; i++ {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("random_forest: fit canceled: %w", err)
		}

		// Bootstrap sample with replacement.
		indices := make([]int, len(X))
		for j := range indices {
			indices[j] = rng.Intn(len(X))
		}

		builder := &treeBuilder{
			X:        X,
			y:        y,
			maxDepth: m.maxDepth,
			minLeaf:  m.minLeaf,
			nFeats:   featuresPerSplit,
			rng:      rng,
		}
		builder.build(indices, 0)
		m.Trees = append(m.Trees, Tree{Nodes: builder.nodes})
	}

	return nil
}

// Score averages the leaf probabilities of all trees.
func (m *RandomForest) Score(x []float64) (float64, error) {
	if len(m.Trees) == 0 {
		return 0, fmt.Errorf("random_forest: %w", ErrNotFitted)
	}
	if len(x) != m.Dim {
		return 0, fmt.Errorf("random_forest: %w: got %d, want %d", ErrDimension, len(x), m.Dim)
	}

	var sum float64
	for _, tree := range m.Trees {
		sum += tree.predict(x)
	}
	return sum / float64(len(m.Trees)), nil
}

func (t *Tree) predict(x []float64) float64 {
	idx := 0
	for {
		node := t.Nodes[idx]
		if node.Feature < 0 {
			return node.Prob
		}
		if x[node.Feature] <= node.Threshold {
			idx = node.Left
		} else {
			idx = node.Right
		}
	}
}

func (m *RandomForest) Type() string { return "RandomForest" }

func (m *RandomForest) MarshalParams() ([]byte, error) {
	if len(m.Trees) == 0 {
		return nil, fmt.Errorf("random_forest: %w", ErrNotFitted)
	}
	return json.Marshal(m)
}

func (m *RandomForest) UnmarshalParams(data []byte) error {
	if err := json.Unmarshal(data, m); err != nil {
		return fmt.Errorf("random_forest: parse params: %w", err)
	}
	if len(m.Trees) == 0 {
		return fmt.Errorf("random_forest: params contain no trees")
	}
	return nil
}

// treeBuilder grows one CART tree into a flat node slice.
type treeBuilder struct {
	X        [][]float64
	y        []int
	maxDepth int
	minLeaf  int
	nFeats   int
	rng      *rand.Rand
	nodes    []TreeNode
}

// build returns the index of the subtree root for the given sample set.
func (b *treeBuilder) build(indices []int, depth int) int {
	pos := 0
	for _, i := range indices {
		pos += b.y[i]
	}
	prob := float64(pos) / float64(len(indices))

	// Stop splitting once the node is pure or the depth/leaf limits are hit.
	if depth >= b.maxDepth || len(indices) < 2*b.minLeaf || pos == 0 || pos == len(indices) {
		return b.leaf(prob)
	}

	feature, threshold, ok := b.bestSplit(indices)
	if !ok {
		return b.leaf(prob)
	}

	var left, right []int
	for _, i := range indices {
		if b.X[i][feature] <= threshold {
			left = append(left, i)
		} else {
			right = append(right, i)
		}
	}
	if len(left) < b.minLeaf || len(right) < b.minLeaf {
		return b.leaf(prob)
	}

	idx := len(b.nodes)
	b.nodes = append(b.nodes, TreeNode{Feature: feature, Threshold: threshold})
	leftIdx := b.build(left, depth+1)
	rightIdx := b.build(right, depth+1)
	b.nodes[idx].Left = leftIdx
	b.nodes[idx].Right = rightIdx
	return idx
}

func (b *treeBuilder) leaf(prob float64) int {
	idx := len(b.nodes)
	b.nodes = append(b.nodes, TreeNode{Feature: -1, Prob: prob})
	return idx
}

// bestSplit searches a random feature subset for the gini-optimal
// threshold.
func (b *treeBuilder) bestSplit(indices []int) (feature int, threshold float64, ok bool) {
	dim := len(b.X[0])
	candidates := b.rng.Perm(dim)[:b.nFeats]

	bestGini := math.Inf(1)
	type pair struct {
		v     float64
		label int
	}

	for _, f := range candidates {
		pairs := make([]pair, len(indices))
		totalPos := 0
		for i, idx := range indices {
			pairs[i] = pair{v: b.X[idx][f], label: b.y[idx]}
			totalPos += b.y[idx]
		}
		sort.Slice(pairs, func(i, j int) bool { return pairs[i].v < pairs[j].v })

		leftPos, leftN := 0, 0
		total := len(pairs)
		for i := 0; i < total-1; i++ {
			leftPos += pairs[i].label
			leftN++
			if pairs[i].v == pairs[i+1].v {
				continue
			}

			rightPos := totalPos - leftPos
			rightN := total - leftN
			g := weightedGini(leftPos, leftN, rightPos, rightN)
			if g < bestGini {
				bestGini = g
				feature = f
				threshold = (pairs[i].v + pairs[i+1].v) / 2
				ok = true
			}
		}
	}
	return feature, threshold, ok
}

func weightedGini(leftPos, leftN, rightPos, rightN int) float64 {
	gini := func(pos, n int) float64 {
		if n == 0 {
			return 0
		}
		p := float64(pos) / float64(n)
		return 2 * p * (1 - p)
	}
	total := float64(leftN + rightN)
	return float64(leftN)/total*gini(leftPos, leftN) + float64(rightN)/total*gini(rightPos, rightN)
}
