package classifier

import (
	"encoding/json"
	"fmt"
	"math"
)

// NearestCentroid относит запись к классу с ближайшим (евклидово) центроидом.
// Вероятностей модель не дает.
type NearestCentroid struct {
	classes   []float64
	centroids [][]float64
}

type nearestCentroidParams struct {
	Centroids [][]float64 `json:"centroids"`
}

func newNearestCentroid(spec Spec) (Classifier, error) {
	var params nearestCentroidParams
	if err := json.Unmarshal(spec.Params, &params); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidArtifact, err)
	}

	if len(params.Centroids) != len(spec.Classes) {
		return nil, fmt.Errorf("%w: %d centroids for %d classes",
			ErrInvalidArtifact, len(params.Centroids), len(spec.Classes))
	}
	for i, c := range params.Centroids {
		if len(c) != spec.NumFeatures {
			return nil, fmt.Errorf("%w: centroid %d has %d values, expected %d",
				ErrInvalidArtifact, i, len(c), spec.NumFeatures)
		}
	}

	return &NearestCentroid{
		classes:   spec.Classes,
		centroids: params.Centroids,
	}, nil
}

func (nc *NearestCentroid) Predict(x []float64) (float64, error) {
	best := 0
	bestDist := math.MaxFloat64
	for i, c := range nc.centroids {
		dist := 0.0
		for j, v := range c {
			d := x[j] - v
			dist += d * d
		}
		if dist < bestDist {
			bestDist = dist
			best = i
		}
	}
	return nc.classes[best], nil
}
