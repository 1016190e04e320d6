package grasp

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"go.viam.com/pcdgrasp/logging"
	"go.viam.com/pcdgrasp/pointcloud"
	"go.viam.com/pcdgrasp/registration"
	"go.viam.com/pcdgrasp/spatialmath"
)

// Options configures a Pipeline.
type Options struct {
	Preprocess registration.PreprocessOptions
	Global     registration.GlobalOptions
	ICP        registration.ICPOptions

	// OffsetByBaseToCamera moves the cropped source by the base to camera transform before
	// registration, far from the reference. Offset is used instead when set. Either way the offset
	// is folded back into the returned source to target transform.
	OffsetByBaseToCamera bool
	Offset               *spatialmath.Transform

	// MinFitness logs a warning when the refined fitness is lower. Zero disables the check.
	MinFitness float64

	// Provider defaults to the native implementation.
	Provider registration.GeometryProvider
	Hooks    []Hook
}

// DefaultOptions returns the registration defaults with no offset, hooks or acceptance check.
func DefaultOptions() Options {
	return Options{
		Preprocess: registration.DefaultPreprocessOptions(),
		Global:     registration.DefaultGlobalOptions(),
		ICP:        registration.DefaultICPOptions(),
	}
}

// Validate returns every invalid option.
func (o Options) Validate() error {
	err := multierr.Combine(o.Preprocess.Validate(), o.Global.Validate(), o.ICP.Validate())
	if o.MinFitness < 0 || o.MinFitness > 1 {
		err = multierr.Append(err, errors.Errorf("min_fitness must be in [0, 1], got %v", o.MinFitness))
	}
	if o.Offset != nil {
		err = multierr.Append(err, errors.Wrap(o.Offset.Validate(spatialmath.OrthonormalTolerance), "offset"))
	}
	return err
}

// Result is the outcome of one registration.
type Result struct {
	Pose Pose
	// SourceToTarget maps the cropped source, in the base frame, onto the reference.
	SourceToTarget spatialmath.Transform
	Coarse         *registration.Result
	Fine           *registration.Result
	// Residuals are the distances from every aligned source point to the nearest reference point.
	Residuals registration.ResidualStats
	// Source is the preprocessed source after the offset was applied.
	Source *registration.Preprocessed
	// Cropped is the raw source in the base frame, cropped to the workspace.
	Cropped  pointcloud.PointCloud
	Duration time.Duration
}

// Accepted reports whether the fine fitness reaches min. Callers apply their own threshold.
func (r *Result) Accepted(min float64) bool {
	return r.Fine.Fitness >= min
}

// Pipeline registers live clouds against a reference whose grasp is known. The reference is
// preprocessed once; a Pipeline is read only afterwards and Register may be called concurrently.
type Pipeline struct {
	store    *FrameStore
	opts     Options
	provider registration.GeometryProvider
	target   *registration.Preprocessed
	logger   logging.Logger
}

// NewPipeline moves reference, given in the camera frame, into the base frame and preprocesses it.
// A nil logger discards output.
func NewPipeline(
	ctx context.Context,
	store *FrameStore,
	reference pointcloud.PointCloud,
	opts Options,
	logger logging.Logger,
) (*Pipeline, error) {
	if store == nil {
		return nil, errors.New("frame store is required")
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = logging.NewBlankLogger("grasp")
	}
	provider := opts.Provider
	if provider == nil {
		provider = registration.NewNativeProvider(logger.Sublogger("geometry"))
	}

	metrics := map[string]float64{"reference_points": float64(reference.Size())}
	inBase, err := pointcloud.ApplyTransform(reference, store.CameraToBase())
	if err != nil {
		return nil, registration.NewStageError(registration.StageLoad, err, metrics)
	}
	preOpts := opts.Preprocess
	preOpts.Viewpoint = store.CameraOrigin()
	target, err := registration.PreprocessWith(ctx, provider, inBase, preOpts)
	if err != nil {
		return nil, registration.NewStageError(registration.StagePreprocess, errors.Wrap(err, "reference"), metrics)
	}
	logger.Infow("reference preprocessed",
		"points", reference.Size(), "downsampled", target.Size(), "skipped_normals", target.Skipped)

	return &Pipeline{store: store, opts: opts, provider: provider, target: target, logger: logger}, nil
}

// Target returns the preprocessed reference.
func (p *Pipeline) Target() *registration.Preprocessed {
	return p.target
}

// Store returns the calibration the pipeline was built with.
func (p *Pipeline) Store() *FrameStore {
	return p.store
}

func (p *Pipeline) offset() spatialmath.Transform {
	switch {
	case p.opts.Offset != nil:
		return *p.opts.Offset
	case p.opts.OffsetByBaseToCamera:
		return p.store.BaseToCamera()
	default:
		return spatialmath.NewIdentityTransform()
	}
}

// Register estimates the grasp pose for source, a cloud in the camera frame. Failures are
// *registration.StageError values naming the failed stage. A low fitness is not a failure; it is
// reported on the result.
func (p *Pipeline) Register(ctx context.Context, source pointcloud.PointCloud) (*Result, error) {
	start := time.Now()
	metrics := map[string]float64{"source_points": float64(source.Size())}
	fail := func(stage registration.Stage, err error) (*Result, error) {
		return nil, registration.NewStageError(stage, err, metrics)
	}

	inBase, err := pointcloud.ApplyTransform(source, p.store.CameraToBase())
	if err != nil {
		return fail(registration.StageLoad, err)
	}
	cropped, err := pointcloud.CropToBox(inBase, p.store.Workspace())
	if err != nil {
		return fail(registration.StageCrop, err)
	}
	metrics["cropped_points"] = float64(cropped.Size())
	if cropped.Size() < pointcloud.MinPointsForNormals {
		return fail(registration.StageCrop, errors.Wrapf(registration.ErrInsufficientPoints,
			"%d points inside the workspace", cropped.Size()))
	}

	offset := p.offset()
	moved, err := pointcloud.ApplyTransform(cropped, offset)
	if err != nil {
		return fail(registration.StagePreprocess, err)
	}
	preOpts := p.opts.Preprocess
	preOpts.Viewpoint = offset.Apply(p.store.CameraOrigin())
	src, err := registration.PreprocessWith(ctx, p.provider, moved, preOpts)
	if err != nil {
		return fail(registration.StagePreprocess, err)
	}
	metrics["downsampled_points"] = float64(src.Size())
	metrics["target_points"] = float64(p.target.Size())

	coarse, err := p.provider.GlobalRegister(ctx, src, p.target, p.opts.Global)
	if err != nil {
		return fail(registration.StageCoarse, err)
	}
	metrics["coarse_fitness"] = coarse.Fitness
	metrics["coarse_rmse"] = coarse.InlierRMSE

	fine, err := p.provider.RefineICP(ctx, src.Cloud, p.target, coarse.Transform, p.opts.ICP)
	if err != nil {
		return fail(registration.StageFine, err)
	}
	metrics["fine_fitness"] = fine.Fitness
	metrics["fine_rmse"] = fine.InlierRMSE
	eval, err := registration.EvaluatePreprocessed(src, p.target, fine.Transform, p.opts.ICP.MaxCorrespondenceDistance)
	if err != nil {
		return fail(registration.StageFine, err)
	}

	sourceToTarget := fine.Transform.Compose(offset)
	pose, err := ComposeGraspPose(sourceToTarget, p.store.CameraToBase(), p.store.BaseToReferenceGrasp())
	if err != nil {
		return fail(registration.StageCompose, err)
	}
	pose.Frame = p.store.OutputFrame()

	res := &Result{
		Pose:           pose,
		SourceToTarget: sourceToTarget,
		Coarse:         coarse,
		Fine:           fine,
		Residuals:      eval.Residuals,
		Source:         src,
		Cropped:        cropped,
		Duration:       time.Since(start),
	}
	p.logger.CDebugw(ctx, "registered",
		"cropped", cropped.Size(), "downsampled", src.Size(),
		"coarse_fitness", coarse.Fitness, "fitness", fine.Fitness, "rmse", fine.InlierRMSE,
		"residual_median", eval.Residuals.Median, "residual_p95", eval.Residuals.P95,
		"icp_iterations", fine.Iterations, "converged", fine.Converged, "duration", res.Duration)
	if p.opts.MinFitness > 0 && !res.Accepted(p.opts.MinFitness) {
		p.logger.Warnw("registration fitness below threshold",
			"fitness", fine.Fitness, "min_fitness", p.opts.MinFitness, "rmse", fine.InlierRMSE)
	}

	for i, hook := range p.opts.Hooks {
		if err := runHook(ctx, hook, p.target, res); err != nil {
			p.logger.Warnw("registration hook failed", "hook", i, "error", err)
		}
	}
	return res, nil
}

func runHook(ctx context.Context, hook Hook, target *registration.Preprocessed, res *Result) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Errorf("hook panicked: %v", r)
		}
	}()
	return hook.AfterRegister(ctx, target, res)
}
