package cli

import (
	"encoding/json"

	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"

	"go.viam.com/pcdgrasp/pointcloud"
	"go.viam.com/pcdgrasp/registration"
)

// PreprocessAction downsamples a cloud, estimates its normals and writes the result. The input is
// taken to be in the sensor frame, so viewpoint orientation faces the origin.
func PreprocessAction(c *cli.Context) error {
	if c.Args().Len() != 2 {
		return errors.New("expected an input and an output file")
	}
	in, out := c.Args().Get(0), c.Args().Get(1)
	logger, closeLog := newLogger(c)
	defer closeLog()

	orientation, err := pointcloud.ParseNormalOrientation(c.String(flagOrientation))
	if err != nil {
		return err
	}
	opts := registration.DefaultPreprocessOptions()
	opts.VoxelSize = c.Float64(flagVoxel)
	// keep the neighborhoods a fixed number of voxels wide
	scale := opts.VoxelSize / registration.DefaultPreprocessOptions().VoxelSize
	opts.NormalRadius *= scale
	opts.FeatureRadius *= scale
	opts.Orientation = orientation
	if err := opts.Validate(); err != nil {
		return err
	}

	cloud, err := pointcloud.NewFromFile(in, logger)
	if err != nil {
		return err
	}
	provider := registration.NewNativeProvider(logger.Sublogger("geometry"))
	pre, err := registration.PreprocessWith(c.Context, provider, cloud, opts)
	if err != nil {
		return err
	}
	if err := pointcloud.WriteToFile(pre.Cloud, out); err != nil {
		return err
	}

	if c.Bool(flagJSON) {
		return json.NewEncoder(c.App.Writer).Encode(struct {
			Input          string `json:"input"`
			Output         string `json:"output"`
			Points         int    `json:"points"`
			Downsampled    int    `json:"downsampled"`
			SkippedNormals int    `json:"skipped_normals"`
		}{in, out, cloud.Size(), pre.Size(), pre.Skipped})
	}
	printf(c.App.Writer, "%s: %d points -> %d with normals written to %s", in, cloud.Size(), pre.Size(), out)
	if pre.Skipped > 0 {
		warningf(c.App.ErrWriter, "skipped %d points with degenerate neighborhoods", pre.Skipped)
	}
	return nil
}
