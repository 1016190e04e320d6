package registration

import (
	"context"

	"github.com/golang/geo/r3"

	"go.viam.com/pcdgrasp/logging"
	"go.viam.com/pcdgrasp/pointcloud"
	"go.viam.com/pcdgrasp/spatialmath"
)

// NeighborIndex answers spatial nearest neighbor queries over a fixed set of points. Indices refer
// to the order the points were indexed in.
type NeighborIndex interface {
	Size() int
	Nearest(q r3.Vector) (pointcloud.Neighbor, bool)
	KNearest(q r3.Vector, k int) []pointcloud.Neighbor
	RadiusSearch(q r3.Vector, radius float64) []pointcloud.Neighbor
}

// A GeometryProvider implements the geometric steps of a registration. The pipeline only talks to
// this interface so an accelerated implementation can replace the native one.
type GeometryProvider interface {
	Downsample(cloud pointcloud.PointCloud, voxelSize float64) (pointcloud.PointCloud, error)
	EstimateNormals(ctx context.Context, cloud pointcloud.PointCloud, opts pointcloud.NormalOptions) (*pointcloud.NormalResult, error)
	ComputeFeatures(ctx context.Context, cloud pointcloud.PointCloud, opts pointcloud.FeatureOptions) (*pointcloud.Features, error)
	GlobalRegister(ctx context.Context, src, tgt *Preprocessed, opts GlobalOptions) (*Result, error)
	RefineICP(
		ctx context.Context,
		source pointcloud.PointCloud,
		target *Preprocessed,
		init spatialmath.Transform,
		opts ICPOptions,
	) (*Result, error)
	// NearestNeighbors builds the spatial index a Preprocessed cloud carries.
	NearestNeighbors(cloud pointcloud.PointCloud) NeighborIndex
}

// NativeProvider is the pure Go GeometryProvider.
type NativeProvider struct {
	logger logging.Logger
}

// NewNativeProvider returns a NativeProvider that logs to logger.
func NewNativeProvider(logger logging.Logger) *NativeProvider {
	return &NativeProvider{logger: logger}
}

// Downsample averages the points of each occupied voxel.
func (np *NativeProvider) Downsample(cloud pointcloud.PointCloud, voxelSize float64) (pointcloud.PointCloud, error) {
	down, err := pointcloud.VoxelDownsample(cloud, voxelSize)
	if err != nil {
		return nil, err
	}
	np.logger.Debugw("downsampled cloud", "voxel_size", voxelSize, "before", cloud.Size(), "after", down.Size())
	return down, nil
}

// EstimateNormals fits a local plane around every point.
func (np *NativeProvider) EstimateNormals(
	ctx context.Context,
	cloud pointcloud.PointCloud,
	opts pointcloud.NormalOptions,
) (*pointcloud.NormalResult, error) {
	res, err := pointcloud.EstimateNormals(ctx, cloud, opts)
	if err != nil {
		return nil, err
	}
	if res.Skipped > 0 {
		np.logger.Warnw("skipped points with degenerate neighborhoods",
			"skipped", res.Skipped, "kept", res.Cloud.Size(), "radius", opts.Radius)
	}
	return res, nil
}

// ComputeFeatures computes FPFH descriptors.
func (np *NativeProvider) ComputeFeatures(
	ctx context.Context,
	cloud pointcloud.PointCloud,
	opts pointcloud.FeatureOptions,
) (*pointcloud.Features, error) {
	return pointcloud.ComputeFPFH(ctx, cloud, opts)
}

// GlobalRegister runs feature based registration.
func (np *NativeProvider) GlobalRegister(ctx context.Context, src, tgt *Preprocessed, opts GlobalOptions) (*Result, error) {
	res, err := GlobalRegister(ctx, src, tgt, opts)
	if err != nil {
		return nil, err
	}
	np.logger.Debugw("global registration done", "method", opts.Method, "fitness", res.Fitness,
		"rmse", res.InlierRMSE, "correspondences", res.Correspondences, "iterations", res.Iterations)
	return res, nil
}

// RefineICP runs point-to-plane ICP against the target's own index.
func (np *NativeProvider) RefineICP(
	ctx context.Context,
	source pointcloud.PointCloud,
	target *Preprocessed,
	init spatialmath.Transform,
	opts ICPOptions,
) (*Result, error) {
	res, err := RefineICPToTarget(ctx, source, target, init, opts)
	if err != nil {
		return nil, err
	}
	if res.Fitness == 0 {
		np.logger.Warnw("icp found no correspondences", "max_correspondence_distance", opts.MaxCorrespondenceDistance)
	}
	np.logger.Debugw("icp done", "fitness", res.Fitness, "rmse", res.InlierRMSE,
		"iterations", res.Iterations, "converged", res.Converged)
	return res, nil
}

// NearestNeighbors indexes the points of cloud in iteration order.
func (np *NativeProvider) NearestNeighbors(cloud pointcloud.PointCloud) NeighborIndex {
	return pointcloud.NewKDTreeFromCloud(cloud)
}
