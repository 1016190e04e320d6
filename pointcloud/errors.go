package pointcloud

import "github.com/pkg/errors"

var (
	// ErrInsufficientPoints is returned when a cloud has too few points for an operation.
	ErrInsufficientPoints = errors.New("insufficient points")
	// ErrDegenerateNeighborhood is returned when a point neighborhood is too small or too flat
	// to estimate a normal or a feature from.
	ErrDegenerateNeighborhood = errors.New("degenerate neighborhood")
	// ErrMissingNormals is returned when an operation needs per point normals that are absent.
	ErrMissingNormals = errors.New("point cloud has no normals")
	// ErrStaleFeatures is returned when a descriptor set is used with a cloud other than the one
	// it was computed from, or with that cloud after it changed.
	ErrStaleFeatures = errors.New("features do not match point cloud")
)

// MinPointsForNormals is the fewest neighbors, including the point itself, used to fit a plane.
const MinPointsForNormals = 3

func newInsufficientPointsError(have, need int, what string) error {
	return errors.Wrapf(ErrInsufficientPoints, "%s has %d points, need at least %d", what, have, need)
}
