// Package config defines the file based configuration of the grasp pipeline: calibration, the
// workspace, the reference cloud and registration parameters.
package config

import (
	"path/filepath"

	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"go.viam.com/pcdgrasp/grasp"
	"go.viam.com/pcdgrasp/logging"
	"go.viam.com/pcdgrasp/pointcloud"
	"go.viam.com/pcdgrasp/registration"
	"go.viam.com/pcdgrasp/utils"
)

// A Config describes one reference object and the camera it is seen with.
type Config struct {
	Calibration      Calibration        `json:"calibration"`
	WorkspaceCorners MatrixSource       `json:"workspace_corners"`
	ReferenceCloud   string             `json:"reference_cloud"`
	OutputFrame      string             `json:"output_frame,omitempty"`
	LogLevel         string             `json:"log_level,omitempty"`
	Registration     RegistrationConfig `json:"registration"`

	// ConfigFilePath is the file the config was read from. Relative paths are resolved against its
	// directory.
	ConfigFilePath string `json:"-"`
}

// Calibration holds the homogeneous 4x4 transforms relating the camera, the robot base and the
// grasp on the reference object.
type Calibration struct {
	CameraToBase         MatrixSource  `json:"camera_to_base"`
	BaseToCamera         *MatrixSource `json:"base_to_camera,omitempty"`
	BaseToReferenceGrasp MatrixSource  `json:"base_to_reference_grasp"`
	// RenormalizeTolerance bounds how far a calibration rotation may be from orthonormal before it
	// is rejected instead of renormalized.
	RenormalizeTolerance float64 `json:"renormalize_tolerance,omitempty"`
}

// RegistrationConfig overlays the registration defaults.
type RegistrationConfig struct {
	Preprocess        registration.PreprocessOptions `json:"preprocess"`
	NormalOrientation string                         `json:"normal_orientation,omitempty"`
	Global            registration.GlobalOptions     `json:"global"`
	ICP               registration.ICPOptions        `json:"icp"`

	OffsetByBaseToCamera bool    `json:"offset_by_base_to_camera"`
	MinFitness           float64 `json:"min_fitness"`
}

// Default returns a config holding every default and no calibration.
func Default() *Config {
	return &Config{
		OutputFrame: grasp.DefaultFrame,
		LogLevel:    "info",
		Registration: RegistrationConfig{
			Preprocess: registration.DefaultPreprocessOptions(),
			Global:     registration.DefaultGlobalOptions(),
			ICP:        registration.DefaultICPOptions(),
		},
	}
}

// Validate returns every problem with the config, each naming the offending field under path.
func (c *Config) Validate(path string) error {
	var err error

	calPath := path + ".calibration"
	for _, m := range []struct {
		name string
		src  *MatrixSource
	}{
		{"camera_to_base", &c.Calibration.CameraToBase},
		{"base_to_camera", c.Calibration.BaseToCamera},
		{"base_to_reference_grasp", &c.Calibration.BaseToReferenceGrasp},
	} {
		if m.src == nil {
			continue
		}
		if m.src.IsZero() {
			err = multierr.Append(err, utils.NewConfigValidationFieldRequiredError(calPath, m.name))
			continue
		}
		if shapeErr := m.src.checkShape(4, 4); shapeErr != nil {
			err = multierr.Append(err, utils.NewConfigValidationError(calPath+"."+m.name, shapeErr))
		}
	}
	if c.Calibration.RenormalizeTolerance < 0 {
		err = multierr.Append(err, utils.NewConfigValidationError(calPath+".renormalize_tolerance",
			errors.New("must not be negative")))
	}

	if c.WorkspaceCorners.IsZero() {
		err = multierr.Append(err, utils.NewConfigValidationFieldRequiredError(path, "workspace_corners"))
	} else if shapeErr := c.WorkspaceCorners.checkShape(-1, 3); shapeErr != nil {
		err = multierr.Append(err, utils.NewConfigValidationError(path+".workspace_corners", shapeErr))
	}
	if c.ReferenceCloud == "" {
		err = multierr.Append(err, utils.NewConfigValidationFieldRequiredError(path, "reference_cloud"))
	}
	if c.LogLevel != "" {
		if _, levelErr := logging.LevelFromString(c.LogLevel); levelErr != nil {
			err = multierr.Append(err, utils.NewConfigValidationError(path+".log_level", levelErr))
		}
	}

	regPath := path + ".registration"
	if preErr := c.Registration.Preprocess.Validate(); preErr != nil {
		err = multierr.Append(err, utils.NewConfigValidationError(regPath+".preprocess", preErr))
	}
	if _, orientErr := pointcloud.ParseNormalOrientation(c.Registration.NormalOrientation); orientErr != nil {
		err = multierr.Append(err, utils.NewConfigValidationError(regPath+".normal_orientation", orientErr))
	}
	if globalErr := c.Registration.Global.Validate(); globalErr != nil {
		err = multierr.Append(err, utils.NewConfigValidationError(regPath+".global", globalErr))
	}
	if icpErr := c.Registration.ICP.Validate(); icpErr != nil {
		err = multierr.Append(err, utils.NewConfigValidationError(regPath+".icp", icpErr))
	}
	if c.Registration.MinFitness < 0 || c.Registration.MinFitness > 1 {
		err = multierr.Append(err, utils.NewConfigValidationError(regPath+".min_fitness",
			errors.Errorf("must be in [0, 1], got %v", c.Registration.MinFitness)))
	}
	return err
}

// Level returns the configured log level, INFO when unset or invalid.
func (c *Config) Level() logging.Level {
	level, err := logging.LevelFromString(c.LogLevel)
	if err != nil {
		return logging.INFO
	}
	return level
}

// ResolvePath resolves path against the directory of the config file.
func (c *Config) ResolvePath(path string) string {
	return resolvePath(c.baseDir(), path)
}

func (c *Config) baseDir() string {
	if c.ConfigFilePath == "" {
		return ""
	}
	return filepath.Dir(c.ConfigFilePath)
}

// FrameStore loads the calibration and workspace into a grasp.FrameStore.
func (c *Config) FrameStore() (*grasp.FrameStore, error) {
	dir := c.baseDir()
	camToBase, err := c.Calibration.CameraToBase.Load(dir)
	if err != nil {
		return nil, errors.Wrap(err, "camera_to_base")
	}
	baseToRef, err := c.Calibration.BaseToReferenceGrasp.Load(dir)
	if err != nil {
		return nil, errors.Wrap(err, "base_to_reference_grasp")
	}
	cornerMat, err := c.WorkspaceCorners.Load(dir)
	if err != nil {
		return nil, errors.Wrap(err, "workspace_corners")
	}
	corners, err := pointsFromMatrix(cornerMat)
	if err != nil {
		return nil, errors.Wrap(err, "workspace_corners")
	}

	var opts []grasp.FrameStoreOption
	if c.OutputFrame != "" {
		opts = append(opts, grasp.WithOutputFrame(c.OutputFrame))
	}
	if c.Calibration.RenormalizeTolerance > 0 {
		opts = append(opts, grasp.WithRenormalizeTolerance(c.Calibration.RenormalizeTolerance))
	}
	if c.Calibration.BaseToCamera != nil {
		baseToCam, err := c.Calibration.BaseToCamera.Load(dir)
		if err != nil {
			return nil, errors.Wrap(err, "base_to_camera")
		}
		opts = append(opts, grasp.WithBaseToCamera(baseToCam))
	}
	return grasp.NewFrameStore(camToBase, baseToRef, corners, opts...)
}

// PipelineOptions returns the registration options. Providers and hooks are left to the caller.
func (c *Config) PipelineOptions() (grasp.Options, error) {
	orientation, err := pointcloud.ParseNormalOrientation(c.Registration.NormalOrientation)
	if err != nil {
		return grasp.Options{}, err
	}
	opts := grasp.DefaultOptions()
	opts.Preprocess = c.Registration.Preprocess
	opts.Preprocess.Orientation = orientation
	opts.Global = c.Registration.Global
	opts.ICP = c.Registration.ICP
	opts.OffsetByBaseToCamera = c.Registration.OffsetByBaseToCamera
	opts.MinFitness = c.Registration.MinFitness
	return opts, opts.Validate()
}

// LoadReference reads the reference cloud, captured in the camera frame like live clouds.
func (c *Config) LoadReference(logger logging.Logger) (pointcloud.PointCloud, error) {
	cloud, err := pointcloud.NewFromFile(c.ResolvePath(c.ReferenceCloud), logger)
	if err != nil {
		return nil, errors.Wrap(err, "reference_cloud")
	}
	return cloud, nil
}
