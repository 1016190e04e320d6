package pointcloud

import (
	"context"
	"strings"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"go.viam.com/pcdgrasp/utils"
)

// NormalOrientation selects how the sign of estimated normals is fixed.
type NormalOrientation int

const (
	// OrientNone keeps whatever sign the eigen solver returns.
	OrientNone NormalOrientation = iota
	// OrientTowardViewpoint flips normals to face NormalOptions.Viewpoint, usually the sensor origin.
	OrientTowardViewpoint
	// OrientAwayFromCentroid flips normals to point away from the cloud centroid, which suits a
	// single convex-ish object.
	OrientAwayFromCentroid
)

func (o NormalOrientation) String() string {
	switch o {
	case OrientNone:
		return "none"
	case OrientTowardViewpoint:
		return "viewpoint"
	case OrientAwayFromCentroid:
		return "centroid"
	}
	return "unknown"
}

// ParseNormalOrientation returns the orientation named by String. An empty name selects
// OrientTowardViewpoint.
func ParseNormalOrientation(name string) (NormalOrientation, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "viewpoint":
		return OrientTowardViewpoint, nil
	case "centroid":
		return OrientAwayFromCentroid, nil
	case "none":
		return OrientNone, nil
	}
	return OrientNone, errors.Errorf("unknown normal orientation %q", name)
}

// NormalOptions configures EstimateNormals.
type NormalOptions struct {
	// Radius bounds the neighborhood used to fit the local plane.
	Radius float64
	// MaxNN caps the number of neighbors, the point itself included.
	MaxNN       int
	Orientation NormalOrientation
	Viewpoint   r3.Vector
	// Strict makes a single degenerate neighborhood fail the whole call instead of skipping the point.
	Strict bool
}

// NormalResult is the output of EstimateNormals.
type NormalResult struct {
	// Cloud holds the points whose normal could be estimated, in input order, with their normals set.
	Cloud PointCloud
	// Skipped counts points dropped for having a degenerate neighborhood.
	Skipped int
}

// degenerateRatio bounds the middle covariance eigenvalue relative to the largest. Below it the
// neighborhood is a line (or a point) and the plane normal is undefined.
const degenerateRatio = 1e-10

// EstimateNormals fits a plane to the hybrid radius/k neighborhood of every point and stores the
// eigenvector of the smallest covariance eigenvalue as the point normal.
func EstimateNormals(ctx context.Context, cloud PointCloud, opts NormalOptions) (*NormalResult, error) {
	if opts.Radius <= 0 || opts.MaxNN < MinPointsForNormals {
		return nil, errors.Errorf("invalid normal search parameters radius=%v max_nn=%d", opts.Radius, opts.MaxNN)
	}
	if cloud.Size() < MinPointsForNormals {
		return nil, newInsufficientPointsError(cloud.Size(), MinPointsForNormals, "cloud")
	}
	points, data := CloudToSlices(cloud)
	tree := NewKDTree(points)

	normals := make([]r3.Vector, len(points))
	valid := make([]bool, len(points))
	if err := utils.ParallelForEach(ctx, len(points), func(i int) {
		neighbors := tree.HybridSearch(points[i], opts.Radius, opts.MaxNN)
		normals[i], valid[i] = fitNormal(points, neighbors)
	}); err != nil {
		return nil, err
	}

	var viewpoint r3.Vector
	switch opts.Orientation {
	case OrientTowardViewpoint:
		viewpoint = opts.Viewpoint
	case OrientAwayFromCentroid:
		viewpoint = CloudCentroid(cloud)
	case OrientNone:
	}

	out := NewWithPrealloc(len(points))
	skipped := 0
	for i, p := range points {
		if !valid[i] {
			if opts.Strict {
				return nil, errors.Wrapf(ErrDegenerateNeighborhood, "point %d at %v", i, p)
			}
			skipped++
			continue
		}
		n := normals[i]
		switch opts.Orientation {
		case OrientTowardViewpoint:
			if n.Dot(viewpoint.Sub(p)) < 0 {
				n = n.Mul(-1)
			}
		case OrientAwayFromCentroid:
			if n.Dot(p.Sub(viewpoint)) < 0 {
				n = n.Mul(-1)
			}
		case OrientNone:
		}
		if err := out.Set(p, cloneData(data[i]).SetNormal(n)); err != nil {
			return nil, err
		}
	}
	if skipped == len(points) {
		return nil, errors.Wrapf(ErrDegenerateNeighborhood, "all %d points have degenerate neighborhoods", skipped)
	}
	return &NormalResult{Cloud: out, Skipped: skipped}, nil
}

// fitNormal returns the unit normal of the plane best fitting the neighbors, or false when the
// neighborhood is too small or not spread over two dimensions.
func fitNormal(points []r3.Vector, neighbors []Neighbor) (r3.Vector, bool) {
	if len(neighbors) < MinPointsForNormals {
		return r3.Vector{}, false
	}
	obs := mat.NewDense(len(neighbors), 3, nil)
	for row, nb := range neighbors {
		p := points[nb.Index]
		obs.SetRow(row, []float64{p.X, p.Y, p.Z})
	}
	var cov mat.SymDense
	stat.CovarianceMatrix(&cov, obs, nil)

	var eig mat.EigenSym
	if ok := eig.Factorize(&cov, true); !ok {
		return r3.Vector{}, false
	}
	values := eig.Values(nil)
	if values[2] <= 0 || values[1] < degenerateRatio*values[2] {
		return r3.Vector{}, false
	}
	var vecs mat.Dense
	eig.VectorsTo(&vecs)
	n := r3.Vector{X: vecs.At(0, 0), Y: vecs.At(1, 0), Z: vecs.At(2, 0)}
	norm := n.Norm()
	if norm == 0 {
		return r3.Vector{}, false
	}
	return n.Mul(1 / norm), true
}
