package classifier

import (
	"encoding/json"
	"errors"
	"fmt"
)

// TreeNode - узел бинарного дерева в плоском массиве.
// Лист: Left == -1 && Right == -1. Переход влево при x[Feature] <= Threshold.
type TreeNode struct {
	Feature   int       `json:"feature"`
	Threshold float64   `json:"threshold"`
	Left      int       `json:"left"`
	Right     int       `json:"right"`
	Value     []float64 `json:"value,omitempty"`
	Class     *float64  `json:"class,omitempty"`
}

func (n TreeNode) isLeaf() bool {
	return n.Left == -1 && n.Right == -1
}

type tree struct {
	nodes []TreeNode
}

// validate проверяет структуру: дети всегда правее родителя, поэтому обход конечен
func (t *tree) validate(numFeatures, leafValues int, allowLabel bool) error {
	if len(t.nodes) == 0 {
		return errors.New("tree has no nodes")
	}

	for i, node := range t.nodes {
		if node.isLeaf() {
			if len(node.Value) != leafValues && !(allowLabel && node.Class != nil) {
				return fmt.Errorf("leaf %d: expected %d values, got %d", i, leafValues, len(node.Value))
			}
			continue
		}
		if node.Feature < 0 || node.Feature >= numFeatures {
			return fmt.Errorf("node %d: feature index %d out of range", i, node.Feature)
		}
		if node.Left <= i || node.Left >= len(t.nodes) || node.Right <= i || node.Right >= len(t.nodes) {
			return fmt.Errorf("node %d: invalid children %d/%d", i, node.Left, node.Right)
		}
	}
	return nil
}

func (t *tree) leaf(x []float64) TreeNode {
	idx := 0
	for {
		node := t.nodes[idx]
		if node.isLeaf() {
			return node
		}
		if x[node.Feature] <= node.Threshold {
			idx = node.Left
		} else {
			idx = node.Right
		}
	}
}

// DecisionTree - классификационное дерево. Листья хранят распределение
// обучающих примеров по классам (value) либо только метку (class).
type DecisionTree struct {
	tree
	classes []float64
	proba   bool
}

type decisionTreeParams struct {
	Nodes []TreeNode `json:"nodes"`
}

func newDecisionTree(spec Spec) (Classifier, error) {
	var params decisionTreeParams
	if err := json.Unmarshal(spec.Params, &params); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidArtifact, err)
	}

	dt := &DecisionTree{
		tree:    tree{nodes: params.Nodes},
		classes: spec.Classes,
		proba:   true,
	}
	if err := dt.validate(spec.NumFeatures, len(spec.Classes), true); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidArtifact, err)
	}

	for _, node := range params.Nodes {
		if node.isLeaf() && len(node.Value) != len(spec.Classes) {
			dt.proba = false
		}
	}

	if dt.proba {
		return dt, nil
	}
	// Без распределений в листьях модель отдает только метку
	return &labelOnlyTree{dt}, nil
}

func (dt *DecisionTree) Predict(x []float64) (float64, error) {
	node := dt.leaf(x)
	if node.Class != nil {
		return *node.Class, nil
	}
	return dt.classes[argmax(node.Value)], nil
}

func (dt *DecisionTree) PredictProba(x []float64) ([]float64, error) {
	node := dt.leaf(x)

	total := 0.0
	for _, v := range node.Value {
		total += v
	}
	if total <= 0 {
		return nil, fmt.Errorf("%w: empty leaf distribution", ErrInvalidArtifact)
	}

	proba := make([]float64, len(node.Value))
	for i, v := range node.Value {
		proba[i] = v / total
	}
	return proba, nil
}

func (dt *DecisionTree) Classes() []float64 {
	return dt.classes
}

type labelOnlyTree struct {
	dt *DecisionTree
}

func (t *labelOnlyTree) Predict(x []float64) (float64, error) {
	return t.dt.Predict(x)
}
