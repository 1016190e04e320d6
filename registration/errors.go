package registration

import (
	"fmt"
	"sort"
	"strings"

	"github.com/pkg/errors"

	"go.viam.com/pcdgrasp/pointcloud"
	"go.viam.com/pcdgrasp/spatialmath"
)

var (
	// ErrInsufficientPoints is returned when a cloud is too small to preprocess or register.
	ErrInsufficientPoints = pointcloud.ErrInsufficientPoints
	// ErrDegenerateNeighborhood is returned when no usable normal could be estimated.
	ErrDegenerateNeighborhood = pointcloud.ErrDegenerateNeighborhood
	// ErrMissingNormals is returned when the target of point-to-plane ICP has no normals.
	ErrMissingNormals = pointcloud.ErrMissingNormals
	// ErrInvalidTransform is returned for matrices that are not rigid transforms.
	ErrInvalidTransform = spatialmath.ErrInvalidTransform
	// ErrInsufficientCorrespondences is returned when fewer than MinCorrespondences matches survive filtering.
	ErrInsufficientCorrespondences = errors.New("insufficient correspondences")
	// ErrRegistrationDiverged is returned when ICP moves steadily away from a solution.
	ErrRegistrationDiverged = errors.New("registration diverged")
)

// MinCorrespondences is the fewest point pairs that determine a rigid transform.
const MinCorrespondences = 3

// Stage names a step of the registration data flow.
type Stage string

// The stages of a registration, in execution order.
const (
	StageLoad       Stage = "load"
	StageCrop       Stage = "crop"
	StagePreprocess Stage = "preprocess"
	StageCoarse     Stage = "coarse"
	StageFine       Stage = "fine"
	StageCompose    Stage = "compose"
)

// A StageError reports which stage of a registration failed together with the metrics known at
// that point, such as point counts and fitness.
type StageError struct {
	Stage   Stage
	Err     error
	Metrics map[string]float64
}

// NewStageError wraps err with the stage it happened in. It returns nil for a nil err.
func NewStageError(stage Stage, err error, metrics map[string]float64) error {
	if err == nil {
		return nil
	}
	return &StageError{Stage: stage, Err: err, Metrics: metrics}
}

func (e *StageError) Error() string {
	if len(e.Metrics) == 0 {
		return fmt.Sprintf("%s stage: %s", e.Stage, e.Err)
	}
	keys := make([]string, 0, len(e.Metrics))
	for k := range e.Metrics {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%g", k, e.Metrics[k]))
	}
	return fmt.Sprintf("%s stage: %s (%s)", e.Stage, e.Err, strings.Join(parts, " "))
}

func (e *StageError) Unwrap() error {
	return e.Err
}

func newInsufficientCorrespondencesError(have int, what string) error {
	return errors.Wrapf(ErrInsufficientCorrespondences, "%d %s, need at least %d", have, what, MinCorrespondences)
}
