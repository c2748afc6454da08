package classifier

import (
	"encoding/json"
	"fmt"
	"math"
)

// GradientBoosting - мультиклассовый градиентный бустинг: на каждой стадии по одному
// регрессионному дереву на класс, raw_k = init_k + learning_rate * sum(tree_k(x)),
// вероятности - softmax от raw.
type GradientBoosting struct {
	classes      []float64
	learningRate float64
	init         []float64
	stages       [][]tree
}

type gradientBoostingParams struct {
	LearningRate float64        `json:"learning_rate"`
	Init         []float64      `json:"init"`
	Estimators   [][][]TreeNode `json:"estimators"`
}

func newGradientBoosting(spec Spec) (Classifier, error) {
	var params gradientBoostingParams
	if err := json.Unmarshal(spec.Params, &params); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidArtifact, err)
	}

	k := len(spec.Classes)
	if len(params.Init) != k {
		return nil, fmt.Errorf("%w: init has %d scores for %d classes", ErrInvalidArtifact, len(params.Init), k)
	}
	if params.LearningRate <= 0 {
		return nil, fmt.Errorf("%w: learning_rate must be positive", ErrInvalidArtifact)
	}

	gb := &GradientBoosting{
		classes:      spec.Classes,
		learningRate: params.LearningRate,
		init:         params.Init,
		stages:       make([][]tree, 0, len(params.Estimators)),
	}

	for s, stage := range params.Estimators {
		if len(stage) != k {
			return nil, fmt.Errorf("%w: stage %d has %d trees for %d classes", ErrInvalidArtifact, s, len(stage), k)
		}
		trees := make([]tree, k)
		for c, nodes := range stage {
			trees[c] = tree{nodes: nodes}
			if err := trees[c].validate(spec.NumFeatures, 1, false); err != nil {
				return nil, fmt.Errorf("%w: stage %d class %d: %v", ErrInvalidArtifact, s, c, err)
			}
		}
		gb.stages = append(gb.stages, trees)
	}

	return gb, nil
}

func (gb *GradientBoosting) decision(x []float64) []float64 {
	raw := append([]float64(nil), gb.init...)
	for _, stage := range gb.stages {
		for c := range stage {
			raw[c] += gb.learningRate * stage[c].leaf(x).Value[0]
		}
	}
	return raw
}

func (gb *GradientBoosting) Predict(x []float64) (float64, error) {
	return gb.classes[argmax(gb.decision(x))], nil
}

func (gb *GradientBoosting) PredictProba(x []float64) ([]float64, error) {
	return softmax(gb.decision(x)), nil
}

func (gb *GradientBoosting) Classes() []float64 {
	return gb.classes
}

func softmax(raw []float64) []float64 {
	maxRaw := raw[argmax(raw)]

	out := make([]float64, len(raw))
	sum := 0.0
	for i, v := range raw {
		out[i] = math.Exp(v - maxRaw)
		sum += out[i]
	}
	for i := range out {
		out[i] /= sum
	}
	return out
}
