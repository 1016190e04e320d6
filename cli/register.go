package cli

import (
	"context"

	"github.com/pkg/errors"
	"github.com/samber/lo"
	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"

	"go.viam.com/pcdgrasp/config"
	"go.viam.com/pcdgrasp/grasp"
	"go.viam.com/pcdgrasp/grasp/plothook"
	"go.viam.com/pcdgrasp/logging"
	"go.viam.com/pcdgrasp/pointcloud"
	"go.viam.com/pcdgrasp/utils"
)

// newLogger logs to the app's error writer and, with --log-file, to a rotating file. The returned
// function closes the file.
func newLogger(c *cli.Context) (logging.Logger, func()) {
	logger := logging.NewBlankLogger("pcdgrasp")
	logger.AddAppender(logging.NewWriterAppender(c.App.ErrWriter))
	logger.SetLevel(logging.INFO)
	if c.Bool(flagDebug) {
		logger.SetLevel(logging.DEBUG)
	}
	if fn := c.String(flagLogFile); fn != "" {
		fileAppender := logging.NewFileAppender(fn, logFileMaxSizeMB, logFileMaxBackups)
		logger.AddAppender(fileAppender)
		return logger, func() {
			if err := fileAppender.Close(); err != nil {
				warningf(c.App.ErrWriter, "failed to close log file: %v", err)
			}
		}
	}
	return logger, func() {}
}

// loadPipeline reads the config and preprocesses its reference.
func loadPipeline(c *cli.Context, logger logging.Logger) (*grasp.Pipeline, *config.Config, error) {
	cfg, err := config.Read(c.String(flagConfig), logger)
	if err != nil {
		return nil, nil, err
	}
	if !c.Bool(flagDebug) {
		logger.SetLevel(cfg.Level())
	}
	store, err := cfg.FrameStore()
	if err != nil {
		return nil, nil, errors.Wrap(err, "invalid calibration")
	}
	opts, err := cfg.PipelineOptions()
	if err != nil {
		return nil, nil, err
	}
	if dir := c.String(flagPlotDir); dir != "" {
		hook, err := plothook.New(dir, logger.Sublogger("plot"))
		if err != nil {
			return nil, nil, err
		}
		opts.Hooks = append(opts.Hooks, hook)
	}
	reference, err := cfg.LoadReference(logger)
	if err != nil {
		return nil, nil, err
	}
	pipeline, err := grasp.NewPipeline(c.Context, store, reference, opts, logger)
	if err != nil {
		return nil, nil, err
	}
	return pipeline, cfg, nil
}

// registerFile reads one cloud and registers it. Failures are carried on the outcome.
func registerFile(ctx context.Context, pipeline *grasp.Pipeline, fn string, logger logging.Logger) outcome {
	done := utils.SlowLogger(ctx, "registration still running", "file", fn, logger)
	defer done()

	cloud, err := pointcloud.NewFromFile(fn, logger)
	if err != nil {
		return outcome{File: fn, Err: errors.Wrap(err, "failed to read cloud")}
	}
	res, err := pipeline.Register(ctx, cloud)
	return outcome{File: fn, Result: res, Err: err}
}

// RegisterAction registers every cloud given as an argument and prints one pose per cloud.
func RegisterAction(c *cli.Context) error {
	files := lo.Uniq(c.Args().Slice())
	if len(files) == 0 {
		return errors.New("at least one point cloud file is required")
	}
	logger, closeLog := newLogger(c)
	defer closeLog()

	pipeline, cfg, err := loadPipeline(c, logger)
	if err != nil {
		return err
	}

	outcomes := make([]outcome, len(files))
	g, ctx := errgroup.WithContext(c.Context)
	g.SetLimit(max(1, c.Int(flagParallel)))
	for i, fn := range files {
		i, fn := i, fn
		g.Go(func() error {
			outcomes[i] = registerFile(ctx, pipeline, fn, logger)
			if errors.Is(outcomes[i].Err, context.Canceled) {
				return outcomes[i].Err
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	minFitness := cfg.Registration.MinFitness
	if err := writeOutcomes(c.App.Writer, c.App.ErrWriter, outcomes, minFitness, c.Bool(flagJSON)); err != nil {
		return err
	}
	failed := lo.CountBy(outcomes, func(o outcome) bool { return o.Err != nil })
	if failed > 0 {
		return errors.Errorf("%d of %d registrations failed", failed, len(outcomes))
	}
	return nil
}
