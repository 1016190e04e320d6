package registration

import (
	"math"

	"github.com/golang/geo/r3"
	"github.com/montanaflynn/stats"
	"github.com/pkg/errors"

	"go.viam.com/pcdgrasp/pointcloud"
	"go.viam.com/pcdgrasp/spatialmath"
)

// Result is the outcome of a registration step.
type Result struct {
	// Transform maps source coordinates onto the target.
	Transform spatialmath.Transform
	// Fitness is the fraction of source points with a target point within the correspondence distance.
	Fitness float64
	// InlierRMSE is the root mean square distance over those inlier pairs.
	InlierRMSE float64
	// Correspondences is the number of pairs the transform was estimated from.
	Correspondences int
	Iterations      int
	// Converged is false when an iterative method stopped on its iteration budget.
	Converged bool
}

// better reports whether a scores higher than b: more inliers first, then a lower error.
func better(fitnessA, rmseA, fitnessB, rmseB float64) bool {
	if fitnessA != fitnessB {
		return fitnessA > fitnessB
	}
	return rmseA < rmseB
}

// alignment counts the source points that land within maxDist of the target under t.
type alignment struct {
	fitness float64
	rmse    float64
	inliers int
	// pairs holds source and target indices of the inliers when requested.
	pairs [][2]int
}

func evaluateAlignment(source []r3.Vector, target NeighborIndex, t spatialmath.Transform, maxDist float64, keepPairs bool) alignment {
	var out alignment
	if len(source) == 0 {
		return out
	}
	var sumSq float64
	for i, p := range source {
		nb, ok := target.Nearest(t.Apply(p))
		if !ok || nb.Distance > maxDist {
			continue
		}
		out.inliers++
		sumSq += nb.Distance * nb.Distance
		if keepPairs {
			out.pairs = append(out.pairs, [2]int{i, nb.Index})
		}
	}
	out.fitness = float64(out.inliers) / float64(len(source))
	if out.inliers > 0 {
		out.rmse = math.Sqrt(sumSq / float64(out.inliers))
	}
	return out
}

// ResidualStats summarizes the distances from transformed source points to their nearest target points.
type ResidualStats struct {
	Mean   float64 `json:"mean"`
	Median float64 `json:"median"`
	P95    float64 `json:"p95"`
	Max    float64 `json:"max"`
}

// Evaluation is the quality of a transform between two clouds.
type Evaluation struct {
	Fitness    float64
	InlierRMSE float64
	Inliers    int
	// Residuals covers every source point, not only inliers.
	Residuals ResidualStats
}

// EvaluateRegistration scores how well t maps source onto target.
func EvaluateRegistration(source, target pointcloud.PointCloud, t spatialmath.Transform, maxDist float64) (*Evaluation, error) {
	if source.Size() == 0 || target.Size() == 0 {
		return nil, errors.Wrap(ErrInsufficientPoints, "cannot evaluate an empty cloud")
	}
	srcPts, _ := pointcloud.CloudToSlices(source)
	return evaluate(srcPts, pointcloud.NewKDTreeFromCloud(target), t, maxDist)
}

// EvaluatePreprocessed is EvaluateRegistration over preprocessed clouds, using the index the target
// already carries.
func EvaluatePreprocessed(source, target *Preprocessed, t spatialmath.Transform, maxDist float64) (*Evaluation, error) {
	if source.Size() == 0 || target.Size() == 0 {
		return nil, errors.Wrap(ErrInsufficientPoints, "cannot evaluate an empty cloud")
	}
	return evaluate(source.Points(), target.Tree(), t, maxDist)
}

func evaluate(srcPts []r3.Vector, target NeighborIndex, t spatialmath.Transform, maxDist float64) (*Evaluation, error) {
	if maxDist <= 0 {
		return nil, errors.Errorf("max correspondence distance must be positive, got %v", maxDist)
	}
	eval := &Evaluation{}
	distances := make([]float64, 0, len(srcPts))
	var sumSq float64
	for _, p := range srcPts {
		nb, ok := target.Nearest(t.Apply(p))
		if !ok {
			continue
		}
		distances = append(distances, nb.Distance)
		if nb.Distance <= maxDist {
			eval.Inliers++
			sumSq += nb.Distance * nb.Distance
		}
	}
	eval.Fitness = float64(eval.Inliers) / float64(len(srcPts))
	if eval.Inliers > 0 {
		eval.InlierRMSE = math.Sqrt(sumSq / float64(eval.Inliers))
	}
	residuals, err := summarizeResiduals(distances)
	if err != nil {
		return nil, err
	}
	eval.Residuals = residuals
	return eval, nil
}

func summarizeResiduals(distances []float64) (ResidualStats, error) {
	data := stats.Float64Data(distances)
	mean, err := data.Mean()
	if err != nil {
		return ResidualStats{}, err
	}
	median, err := data.Median()
	if err != nil {
		return ResidualStats{}, err
	}
	p95, err := data.Percentile(95)
	if err != nil {
		return ResidualStats{}, err
	}
	maxVal, err := data.Max()
	if err != nil {
		return ResidualStats{}, err
	}
	return ResidualStats{Mean: mean, Median: median, P95: p95, Max: maxVal}, nil
}
