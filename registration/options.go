package registration

import (
	"strings"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"go.viam.com/pcdgrasp/pointcloud"
)

// default values for preprocessing and registration, in meters.
const (
	defaultVoxelSize = 0.005

	// twice the voxel size so that every downsampled point sees a few neighbors.
	defaultNormalRadius = 0.01
	defaultNormalMaxNN  = 100

	defaultFeatureRadius = 0.03
	defaultFeatureMaxNN  = 200

	// max distance between a transformed source point and its target to count as an inlier.
	defaultGlobalDistance = 0.0075

	// RANSAC stops when this confident that a better sample would not be drawn.
	defaultRANSACConfidence = 0.999
	defaultRANSACMaxIter    = 100000
	defaultEdgeLengthRatio  = 0.9
	defaultRANSACSeed       = 1

	defaultTupleScale     = 0.95
	defaultMaxTupleCount  = 1000
	defaultFGRIterations  = 64
	defaultDivisionFactor = 1.4

	defaultICPDistance      = 0.005
	defaultICPMaxIterations = 30
	defaultICPTolerance      = 1e-6

	// ICP is declared diverged after this many consecutive RMSE increases that leave it more than
	// defaultDivergenceFactor times the best RMSE seen.
	defaultDivergenceWindow = 5
	defaultDivergenceFactor = 10.
)

// PreprocessOptions configures Preprocess.
type PreprocessOptions struct {
	VoxelSize     float64 `json:"voxel_size" yaml:"voxel_size"`
	NormalRadius  float64 `json:"normal_radius" yaml:"normal_radius"`
	NormalMaxNN   int     `json:"normal_max_nn" yaml:"normal_max_nn"`
	FeatureRadius float64 `json:"feature_radius" yaml:"feature_radius"`
	FeatureMaxNN  int     `json:"feature_max_nn" yaml:"feature_max_nn"`

	// Orientation fixes the sign of normals. Viewpoint is used by OrientTowardViewpoint and must be
	// expressed in the frame of the cloud being preprocessed.
	Orientation pointcloud.NormalOrientation `json:"-" yaml:"-"`
	Viewpoint   r3.Vector                    `json:"-" yaml:"-"`

	// StrictNormals fails preprocessing on the first point with a degenerate neighborhood instead
	// of dropping it.
	StrictNormals bool `json:"strict_normals" yaml:"strict_normals"`
}

// DefaultPreprocessOptions returns the options used by the pipeline unless configured otherwise.
func DefaultPreprocessOptions() PreprocessOptions {
	return PreprocessOptions{
		VoxelSize:     defaultVoxelSize,
		NormalRadius:  defaultNormalRadius,
		NormalMaxNN:   defaultNormalMaxNN,
		FeatureRadius: defaultFeatureRadius,
		FeatureMaxNN:  defaultFeatureMaxNN,
		Orientation:   pointcloud.OrientTowardViewpoint,
	}
}

// Validate returns every invalid field.
func (o PreprocessOptions) Validate() error {
	var err error
	if o.VoxelSize <= 0 {
		err = multierr.Append(err, errors.Errorf("voxel_size must be positive, got %v", o.VoxelSize))
	}
	if o.NormalRadius <= 0 {
		err = multierr.Append(err, errors.Errorf("normal_radius must be positive, got %v", o.NormalRadius))
	}
	if o.NormalMaxNN < pointcloud.MinPointsForNormals {
		err = multierr.Append(err, errors.Errorf("normal_max_nn must be at least %d, got %d", pointcloud.MinPointsForNormals, o.NormalMaxNN))
	}
	if o.FeatureRadius <= 0 {
		err = multierr.Append(err, errors.Errorf("feature_radius must be positive, got %v", o.FeatureRadius))
	}
	if o.FeatureMaxNN < 2 {
		err = multierr.Append(err, errors.Errorf("feature_max_nn must be at least 2, got %d", o.FeatureMaxNN))
	}
	return err
}

func (o PreprocessOptions) normalOptions() pointcloud.NormalOptions {
	return pointcloud.NormalOptions{
		Radius:      o.NormalRadius,
		MaxNN:       o.NormalMaxNN,
		Orientation: o.Orientation,
		Viewpoint:   o.Viewpoint,
		Strict:      o.StrictNormals,
	}
}

func (o PreprocessOptions) featureOptions() pointcloud.FeatureOptions {
	return pointcloud.FeatureOptions{Radius: o.FeatureRadius, MaxNN: o.FeatureMaxNN}
}

// Method selects the coarse registration algorithm.
type Method string

const (
	// MethodRANSAC samples triples of feature correspondences and keeps the transform with the most
	// inliers.
	MethodRANSAC Method = "ransac"
	// MethodFastGlobal optimizes a robust objective over all tuple-tested correspondences.
	MethodFastGlobal Method = "fgr"
)

// ParseMethod returns the method with the given name, case insensitively.
func ParseMethod(name string) (Method, error) {
	switch m := Method(strings.ToLower(strings.TrimSpace(name))); m {
	case MethodRANSAC, MethodFastGlobal:
		return m, nil
	case "":
		return MethodRANSAC, nil
	default:
		return "", errors.Errorf("unknown coarse registration method %q", name)
	}
}

// GlobalOptions configures GlobalRegister.
type GlobalOptions struct {
	Method                    Method  `json:"method" yaml:"method"`
	MaxCorrespondenceDistance float64 `json:"max_correspondence_distance" yaml:"max_correspondence_distance"`
	MutualFilter              bool    `json:"mutual_filter" yaml:"mutual_filter"`

	// RANSAC
	MaxIterations   int     `json:"max_iterations" yaml:"max_iterations"`
	Confidence      float64 `json:"confidence" yaml:"confidence"`
	EdgeLengthRatio float64 `json:"edge_length_ratio" yaml:"edge_length_ratio"`
	Seed            int64   `json:"seed" yaml:"seed"`

	// Fast global registration
	TupleScale     float64 `json:"tuple_scale" yaml:"tuple_scale"`
	MaxTupleCount  int     `json:"max_tuple_count" yaml:"max_tuple_count"`
	FGRIterations  int     `json:"fgr_iterations" yaml:"fgr_iterations"`
	DivisionFactor float64 `json:"division_factor" yaml:"division_factor"`
}

// DefaultGlobalOptions returns RANSAC with the pipeline defaults.
func DefaultGlobalOptions() GlobalOptions {
	return GlobalOptions{
		Method:                    MethodRANSAC,
		MaxCorrespondenceDistance: defaultGlobalDistance,
		MutualFilter:              true,
		MaxIterations:             defaultRANSACMaxIter,
		Confidence:                defaultRANSACConfidence,
		EdgeLengthRatio:           defaultEdgeLengthRatio,
		Seed:                      defaultRANSACSeed,
		TupleScale:                defaultTupleScale,
		MaxTupleCount:             defaultMaxTupleCount,
		FGRIterations:             defaultFGRIterations,
		DivisionFactor:            defaultDivisionFactor,
	}
}

// Validate returns every invalid field.
func (o GlobalOptions) Validate() error {
	var err error
	if _, perr := ParseMethod(string(o.Method)); perr != nil {
		err = multierr.Append(err, perr)
	}
	if o.MaxCorrespondenceDistance <= 0 {
		err = multierr.Append(err, errors.Errorf("max_correspondence_distance must be positive, got %v", o.MaxCorrespondenceDistance))
	}
	if o.MaxIterations <= 0 {
		err = multierr.Append(err, errors.Errorf("max_iterations must be positive, got %d", o.MaxIterations))
	}
	if o.Confidence <= 0 || o.Confidence >= 1 {
		err = multierr.Append(err, errors.Errorf("confidence must be in (0, 1), got %v", o.Confidence))
	}
	if o.EdgeLengthRatio < 0 || o.EdgeLengthRatio >= 1 {
		err = multierr.Append(err, errors.Errorf("edge_length_ratio must be in [0, 1), got %v", o.EdgeLengthRatio))
	}
	if o.TupleScale <= 0 || o.TupleScale >= 1 {
		err = multierr.Append(err, errors.Errorf("tuple_scale must be in (0, 1), got %v", o.TupleScale))
	}
	if o.MaxTupleCount <= 0 {
		err = multierr.Append(err, errors.Errorf("max_tuple_count must be positive, got %d", o.MaxTupleCount))
	}
	if o.FGRIterations <= 0 {
		err = multierr.Append(err, errors.Errorf("fgr_iterations must be positive, got %d", o.FGRIterations))
	}
	if o.DivisionFactor <= 1 {
		err = multierr.Append(err, errors.Errorf("division_factor must be greater than 1, got %v", o.DivisionFactor))
	}
	return err
}

// ICPOptions configures RefineICP.
type ICPOptions struct {
	MaxCorrespondenceDistance float64 `json:"max_correspondence_distance" yaml:"max_correspondence_distance"`
	MaxIterations             int     `json:"max_iterations" yaml:"max_iterations"`
	// ICP stops once fitness and RMSE each change by less than their tolerance between iterations.
	FitnessTolerance float64 `json:"fitness_tolerance" yaml:"fitness_tolerance"`
	RMSETolerance    float64 `json:"rmse_tolerance" yaml:"rmse_tolerance"`
	// Divergence is a run of DivergenceWindow RMSE increases ending above DivergenceFactor times
	// the best RMSE.
	DivergenceWindow int     `json:"divergence_window" yaml:"divergence_window"`
	DivergenceFactor float64 `json:"divergence_factor" yaml:"divergence_factor"`
}

// DefaultICPOptions returns the pipeline defaults for fine alignment.
func DefaultICPOptions() ICPOptions {
	return ICPOptions{
		MaxCorrespondenceDistance: defaultICPDistance,
		MaxIterations:             defaultICPMaxIterations,
		FitnessTolerance:          defaultICPTolerance,
		RMSETolerance:             defaultICPTolerance,
		DivergenceWindow:          defaultDivergenceWindow,
		DivergenceFactor:          defaultDivergenceFactor,
	}
}

// Validate returns every invalid field.
func (o ICPOptions) Validate() error {
	var err error
	if o.MaxCorrespondenceDistance <= 0 {
		err = multierr.Append(err, errors.Errorf("max_correspondence_distance must be positive, got %v", o.MaxCorrespondenceDistance))
	}
	if o.MaxIterations <= 0 {
		err = multierr.Append(err, errors.Errorf("max_iterations must be positive, got %d", o.MaxIterations))
	}
	if o.FitnessTolerance < 0 || o.RMSETolerance < 0 {
		err = multierr.Append(err, errors.New("fitness_tolerance and rmse_tolerance must not be negative"))
	}
	if o.DivergenceWindow <= 0 {
		err = multierr.Append(err, errors.Errorf("divergence_window must be positive, got %d", o.DivergenceWindow))
	}
	if o.DivergenceFactor <= 1 {
		err = multierr.Append(err, errors.Errorf("divergence_factor must be greater than 1, got %v", o.DivergenceFactor))
	}
	return err
}
