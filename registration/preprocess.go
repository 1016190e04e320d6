package registration

import (
	"context"
	"sync"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"

	"go.viam.com/pcdgrasp/logging"
	"go.viam.com/pcdgrasp/pointcloud"
)

// Preprocessed is a downsampled cloud with normals and the FPFH features computed from it. It is
// read only once built and may be shared between concurrent registrations.
type Preprocessed struct {
	Cloud    pointcloud.PointCloud
	Features *pointcloud.Features
	// Skipped counts points dropped during normal estimation.
	Skipped int

	points  []r3.Vector
	normals []r3.Vector
	tree    NeighborIndex

	featureTreeOnce sync.Once
	featureTree     *pointcloud.KDTree
}

// NewPreprocessed pairs a cloud that has normals with features computed from it. index must cover
// the points of cloud in iteration order; a kd-tree is built when it is nil.
func NewPreprocessed(cloud pointcloud.PointCloud, features *pointcloud.Features, index NeighborIndex) (*Preprocessed, error) {
	if err := features.Validate(cloud); err != nil {
		return nil, err
	}
	points, data := pointcloud.CloudToSlices(cloud)
	normals := make([]r3.Vector, len(points))
	for i, d := range data {
		if d == nil || !d.HasNormal() {
			return nil, errors.Wrapf(ErrMissingNormals, "point %d at %v", i, points[i])
		}
		normals[i] = d.Normal()
	}
	if index == nil {
		index = pointcloud.NewKDTree(points)
	} else if index.Size() != len(points) {
		return nil, errors.Errorf("index covers %d points, cloud has %d", index.Size(), len(points))
	}
	return &Preprocessed{Cloud: cloud, Features: features, points: points, normals: normals, tree: index}, nil
}

// Size returns the number of points.
func (p *Preprocessed) Size() int {
	return len(p.points)
}

// Points returns the positions in cloud order. The slice must not be modified.
func (p *Preprocessed) Points() []r3.Vector {
	return p.points
}

// Normals returns the unit normals in cloud order. The slice must not be modified.
func (p *Preprocessed) Normals() []r3.Vector {
	return p.normals
}

// Tree returns the spatial index over Points.
func (p *Preprocessed) Tree() NeighborIndex {
	return p.tree
}

// FeatureTree returns an index over the descriptors, built on first use.
func (p *Preprocessed) FeatureTree() *pointcloud.KDTree {
	p.featureTreeOnce.Do(func() {
		p.featureTree = pointcloud.NewFeatureTree(p.Features.Descriptors())
	})
	return p.featureTree
}

// Preprocess downsamples cloud, estimates normals and computes FPFH features with the native
// geometry implementation.
func Preprocess(ctx context.Context, cloud pointcloud.PointCloud, opts PreprocessOptions) (*Preprocessed, error) {
	return PreprocessWith(ctx, NewNativeProvider(logging.NewBlankLogger("registration")), cloud, opts)
}

// PreprocessWith is Preprocess using the given provider for every geometric step.
func PreprocessWith(ctx context.Context, provider GeometryProvider, cloud pointcloud.PointCloud, opts PreprocessOptions) (*Preprocessed, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if cloud.Size() < pointcloud.MinPointsForNormals {
		return nil, errors.Wrapf(ErrInsufficientPoints, "input has %d points, need at least %d", cloud.Size(), pointcloud.MinPointsForNormals)
	}
	down, err := provider.Downsample(cloud, opts.VoxelSize)
	if err != nil {
		return nil, err
	}
	if down.Size() < pointcloud.MinPointsForNormals {
		return nil, errors.Wrapf(ErrInsufficientPoints, "downsampled cloud has %d points, need at least %d", down.Size(), pointcloud.MinPointsForNormals)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	normals, err := provider.EstimateNormals(ctx, down, opts.normalOptions())
	if err != nil {
		return nil, err
	}
	if normals.Cloud.Size() < pointcloud.MinPointsForNormals {
		return nil, errors.Wrapf(ErrInsufficientPoints, "%d points kept normals, need at least %d", normals.Cloud.Size(), pointcloud.MinPointsForNormals)
	}
	features, err := provider.ComputeFeatures(ctx, normals.Cloud, opts.featureOptions())
	if err != nil {
		return nil, err
	}
	pre, err := NewPreprocessed(normals.Cloud, features, provider.NearestNeighbors(normals.Cloud))
	if err != nil {
		return nil, err
	}
	pre.Skipped = normals.Skipped
	return pre, nil
}
