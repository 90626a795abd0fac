package ml

import (
	"errors"
	"fmt"
	"math"
)

// Node is one node of a regression tree. Leaves have Left < 0.
// Internal nodes send x[Feature] < Threshold to Left and everything else,
// including NaN, to Right.
type Node struct {
	Feature   int
	Threshold float64
	Left      int
	Right     int
	Value     float64
}

// Tree is a regression tree stored as a flat node slice rooted at index 0.
type Tree struct {
	Nodes []Node
}

// TreeEnsemble is a multiclass gradient-boosted ensemble: each tree adds its
// leaf value to the margin of one class, margins start at BaseScore and are
// turned into probabilities with softmax.
type TreeEnsemble struct {
	NumClasses int
	BaseScore  float64
	Trees      []Tree
	// TreeClass[i] is the class tree i contributes to. When empty, trees are
	// assigned round-robin (tree i -> class i % NumClasses).
	TreeClass []int
}

func (e *TreeEnsemble) classOf(i int) int {
	if len(e.TreeClass) > 0 {
		return e.TreeClass[i]
	}
	return i % e.NumClasses
}

func (e *TreeEnsemble) validate(numInputs, numLabels int) error {
	if e.NumClasses != numLabels {
		return fmt.Errorf("ensemble has %d classes for %d labels", e.NumClasses, numLabels)
	}
	if len(e.TreeClass) > 0 && len(e.TreeClass) != len(e.Trees) {
		return fmt.Errorf("tree class map has %d entries for %d trees", len(e.TreeClass), len(e.Trees))
	}
	for i, tree := range e.Trees {
		if class := e.classOf(i); class < 0 || class >= e.NumClasses {
			return fmt.Errorf("tree %d: class %d out of range", i, class)
		}
		if len(tree.Nodes) == 0 {
			return fmt.Errorf("tree %d: no nodes", i)
		}
		for j, n := range tree.Nodes {
			if n.Left < 0 {
				continue
			}
			// Children always follow their parent, which rules out cycles.
			if n.Left <= j || n.Right <= j || n.Left >= len(tree.Nodes) || n.Right >= len(tree.Nodes) {
				return fmt.Errorf("tree %d node %d: bad children %d/%d", i, j, n.Left, n.Right)
			}
			if n.Feature < 0 || n.Feature >= numInputs {
				return fmt.Errorf("tree %d node %d: feature %d out of range", i, j, n.Feature)
			}
		}
	}
	return nil
}

// treeScorer evaluates a TreeEnsemble natively. It holds no mutable state.
type treeScorer struct {
	ensemble *TreeEnsemble
}

func (s *treeScorer) Score(x []float64) ([]float64, error) {
	e := s.ensemble
	margins := make([]float64, e.NumClasses)
	for i := range margins {
		margins[i] = e.BaseScore
	}
	for i := range e.Trees {
		margins[e.classOf(i)] += leafValue(&e.Trees[i], x)
	}
	return softmax(margins)
}

func (s *treeScorer) Close() error { return nil }

func leafValue(t *Tree, x []float64) float64 {
	i := 0
	for {
		n := &t.Nodes[i]
		if n.Left < 0 {
			return n.Value
		}
		if x[n.Feature] < n.Threshold {
			i = n.Left
		} else {
			i = n.Right
		}
	}
}

func softmax(margins []float64) ([]float64, error) {
	maxMargin := math.Inf(-1)
	for _, m := range margins {
		if math.IsNaN(m) {
			return nil, errors.New("margin is NaN")
		}
		maxMargin = math.Max(maxMargin, m)
	}
	if math.IsInf(maxMargin, 0) {
		return nil, errors.New("margin is not finite")
	}
	probs := make([]float64, len(margins))
	sum := 0.0
	for i, m := range margins {
		probs[i] = math.Exp(m - maxMargin)
		sum += probs[i]
	}
	for i := range probs {
		probs[i] /= sum
	}
	return probs, nil
}
