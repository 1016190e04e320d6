// Package cli contains the pcdgrasp command line application.
package cli

import (
	"io"
	"time"

	"github.com/urfave/cli/v2"
)

const (
	flagConfig      = "config"
	flagDebug       = "debug"
	flagLogFile     = "log-file"
	flagPlotDir     = "plot-dir"
	flagJSON        = "json"
	flagParallel    = "parallel"
	flagVoxel       = "voxel"
	flagOrientation = "normal-orientation"
	flagSettle      = "settle"
)

// logFileMaxSizeMB and logFileMaxBackups bound the rotating --log-file output.
const (
	logFileMaxSizeMB  = 10
	logFileMaxBackups = 3
)

func configFlag() cli.Flag {
	return &cli.StringFlag{
		Name:      flagConfig,
		Aliases:   []string{"c"},
		Usage:     "load calibration and registration settings from `FILE` (.yaml, .yml or .json)",
		Required:  true,
		TakesFile: true,
	}
}

// NewApp returns a new app with the CLI API, Writer set to out, and ErrWriter set to errOut.
// Logs go to errOut so that out only carries results.
func NewApp(out, errOut io.Writer) *cli.App {
	return &cli.App{
		Name:            "pcdgrasp",
		Usage:           "estimate grasp poses by registering point clouds against an annotated reference",
		HideHelpCommand: true,
		Writer:          out,
		ErrWriter:       errOut,
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:    flagDebug,
				Aliases: []string{"vvv"},
				Usage:   "enable debug logging",
			},
			&cli.StringFlag{
				Name:      flagLogFile,
				Usage:     "also write logs to a size-rotated `FILE`",
				TakesFile: true,
			},
			&cli.StringFlag{
				Name:  flagPlotDir,
				Usage: "write top and side projections of every registration to `DIR`",
			},
			&cli.BoolFlag{
				Name:  flagJSON,
				Usage: "print results as JSON lines",
			},
		},
		Commands: []*cli.Command{
			{
				Name:      "register",
				Usage:     "estimate the grasp pose for each point cloud",
				ArgsUsage: "<cloud.pcd|.ply|.las> [...]",
				Flags: []cli.Flag{
					configFlag(),
					&cli.IntFlag{
						Name:  flagParallel,
						Usage: "number of clouds to register concurrently",
						Value: 2,
					},
				},
				Action: RegisterAction,
			},
			{
				Name:      "preprocess",
				Usage:     "downsample a cloud and estimate its normals",
				ArgsUsage: "<in.pcd|.ply|.las> <out.pcd|.las>",
				Flags: []cli.Flag{
					&cli.Float64Flag{
						Name:  flagVoxel,
						Usage: "voxel edge length in meters",
						Value: 0.005,
					},
					&cli.StringFlag{
						Name:  flagOrientation,
						Usage: "normal orientation: viewpoint (the sensor origin), centroid or none",
						Value: "viewpoint",
					},
				},
				Action: PreprocessAction,
			},
			{
				Name:      "watch",
				Usage:     "register every cloud written into a directory until interrupted",
				ArgsUsage: "<directory>",
				Flags: []cli.Flag{
					configFlag(),
					&cli.DurationFlag{
						Name:  flagSettle,
						Usage: "wait this long after the last write to a file before reading it",
						Value: 250 * time.Millisecond,
					},
				},
				Action: WatchAction,
			},
		},
	}
}
