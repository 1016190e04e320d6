package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"strconv"

	"github.com/fatih/color"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/pkg/errors"

	"go.viam.com/pcdgrasp/grasp"
	"go.viam.com/pcdgrasp/registration"
)

// printf prints a message with a newline to w.
func printf(w io.Writer, format string, a ...interface{}) {
	//nolint:errcheck
	fmt.Fprintf(w, format+"\n", a...)
}

// infof prints a message prefixed with a bold cyan "Info: ".
func infof(w io.Writer, format string, a ...interface{}) {
	//nolint:errcheck
	color.New(color.Bold, color.FgCyan).Fprint(w, "Info: ")
	printf(w, format, a...)
}

// warningf prints a message prefixed with a bold yellow "Warning: ".
func warningf(w io.Writer, format string, a ...interface{}) {
	//nolint:errcheck
	color.New(color.Bold, color.FgYellow).Fprint(w, "Warning: ")
	printf(w, format, a...)
}

// outcome is the result of registering one file.
type outcome struct {
	File   string
	Result *grasp.Result
	Err    error
}

func (o outcome) status(minFitness float64) string {
	switch {
	case o.Err != nil:
		var stageErr *registration.StageError
		if errors.As(o.Err, &stageErr) {
			return "failed at " + string(stageErr.Stage)
		}
		return "failed"
	case minFitness > 0 && !o.Result.Accepted(minFitness):
		return "low fitness"
	default:
		return "ok"
	}
}

type jsonOutcome struct {
	File           string      `json:"file"`
	Status         string      `json:"status"`
	Pose           *grasp.Pose `json:"pose,omitempty"`
	Fitness        float64     `json:"fitness,omitempty"`
	InlierRMSE     float64     `json:"inlier_rmse,omitempty"`
	ResidualMedian float64     `json:"residual_median,omitempty"`
	ResidualP95    float64     `json:"residual_p95,omitempty"`
	DurationMS     int64       `json:"duration_ms,omitempty"`
	Error          string      `json:"error,omitempty"`
}

func (o outcome) toJSON(minFitness float64) jsonOutcome {
	out := jsonOutcome{File: o.File, Status: o.status(minFitness)}
	if o.Err != nil {
		out.Error = o.Err.Error()
		return out
	}
	pose := o.Result.Pose
	out.Pose = &pose
	out.Fitness = o.Result.Fine.Fitness
	out.InlierRMSE = o.Result.Fine.InlierRMSE
	out.ResidualMedian = o.Result.Residuals.Median
	out.ResidualP95 = o.Result.Residuals.P95
	out.DurationMS = o.Result.Duration.Milliseconds()
	return out
}

func writeJSONLines(w io.Writer, outcomes []outcome, minFitness float64) error {
	enc := json.NewEncoder(w)
	for _, o := range outcomes {
		if err := enc.Encode(o.toJSON(minFitness)); err != nil {
			return err
		}
	}
	return nil
}

func formatFloat(v float64, prec int) string {
	return strconv.FormatFloat(v, 'f', prec, 64)
}

// writeTable prints one row per outcome. Failed rows carry only the file and the status; their
// errors are printed below the table.
func writeTable(w io.Writer, outcomes []outcome, minFitness float64) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.AppendHeader(table.Row{"File", "Frame", "X", "Y", "Z", "QW", "QX", "QY", "QZ", "Fitness", "RMSE", "Median", "P95", "Status"})
	for _, o := range outcomes {
		name := filepath.Base(o.File)
		if o.Err != nil {
			t.AppendRow(table.Row{name, "", "", "", "", "", "", "", "", "", "", "", "", o.status(minFitness)})
			continue
		}
		pose := o.Result.Pose
		t.AppendRow(table.Row{
			name, pose.Frame,
			formatFloat(pose.Position.X, 4), formatFloat(pose.Position.Y, 4), formatFloat(pose.Position.Z, 4),
			formatFloat(pose.Orientation.Real, 4), formatFloat(pose.Orientation.Imag, 4),
			formatFloat(pose.Orientation.Jmag, 4), formatFloat(pose.Orientation.Kmag, 4),
			formatFloat(o.Result.Fine.Fitness, 3), formatFloat(o.Result.Fine.InlierRMSE, 5),
			formatFloat(o.Result.Residuals.Median, 5), formatFloat(o.Result.Residuals.P95, 5),
			o.status(minFitness),
		})
	}
	t.Render()
}

// writeOutcomes prints results in the format chosen by --json and warns about failures and low
// fitness on errOut.
func writeOutcomes(out, errOut io.Writer, outcomes []outcome, minFitness float64, asJSON bool) error {
	if asJSON {
		if err := writeJSONLines(out, outcomes, minFitness); err != nil {
			return err
		}
	} else {
		writeTable(out, outcomes, minFitness)
	}
	for _, o := range outcomes {
		switch {
		case o.Err != nil:
			warningf(errOut, "%s: %v", o.File, o.Err)
		case minFitness > 0 && !o.Result.Accepted(minFitness):
			warningf(errOut, "%s: fitness %.3f is below %.3f", o.File, o.Result.Fine.Fitness, minFitness)
		}
	}
	return nil
}
