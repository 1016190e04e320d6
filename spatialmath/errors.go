package spatialmath

import "github.com/pkg/errors"

// ErrInvalidTransform is returned when a matrix is not a rigid transform: the bottom row is not
// (0, 0, 0, 1), the rotation block is not orthonormal, or its determinant is not positive.
var ErrInvalidTransform = errors.New("invalid transform")

func newInvalidTransformError(format string, args ...interface{}) error {
	return errors.Wrapf(ErrInvalidTransform, format, args...)
}
