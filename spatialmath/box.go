package spatialmath

import (
	"fmt"
	"math"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// Ordered list of box vertices in units of half size.
var boxVertices = [8]r3.Vector{
	{X: 1, Y: 1, Z: 1},
	{X: 1, Y: 1, Z: -1},
	{X: 1, Y: -1, Z: 1},
	{X: 1, Y: -1, Z: -1},
	{X: -1, Y: 1, Z: 1},
	{X: -1, Y: 1, Z: -1},
	{X: -1, Y: -1, Z: 1},
	{X: -1, Y: -1, Z: -1},
}

// containsEpsilon absorbs round-off of the projection onto the box axes so that points built
// exactly on a face count as on the boundary.
const containsEpsilon = 1e-9

// OrientedBox is a rectangular region with an arbitrary pose. Points on its faces are inside.
type OrientedBox struct {
	center   r3.Vector
	rotation RotationMatrix
	halfSize [3]float64
}

// NewOrientedBox instantiates a box from its center, orientation (columns are the box axes) and
// half extents along each axis.
func NewOrientedBox(center r3.Vector, rotation *RotationMatrix, halfSize r3.Vector) (*OrientedBox, error) {
	// Zero extents are allowed for flat regions.
	if halfSize.X < 0 || halfSize.Y < 0 || halfSize.Z < 0 {
		return nil, errors.Errorf("box half size %v must be non-negative", halfSize)
	}
	if !rotation.IsOrthonormal(OrthonormalTolerance) {
		return nil, newInvalidTransformError("box rotation is not a proper rotation")
	}
	return &OrientedBox{center: center, rotation: *rotation, halfSize: [3]float64{halfSize.X, halfSize.Y, halfSize.Z}}, nil
}

// NewAxisAlignedBox returns the box spanning min to max in every axis.
func NewAxisAlignedBox(minPt, maxPt r3.Vector) (*OrientedBox, error) {
	return NewOrientedBox(
		minPt.Add(maxPt).Mul(0.5),
		NewIdentityRotationMatrix(),
		maxPt.Sub(minPt).Mul(0.5),
	)
}

// NewOrientedBoxFromPoints fits a box to a set of points, usually the workspace corners. The axes
// are the principal components of the points, ordered by decreasing variance and made right handed;
// the extents are the range of the projections on each axis. When two principal variances are
// equal, as for the corners of a cube, the axes inside that eigenspace are not unique and the box
// is still guaranteed to contain every input point.
func NewOrientedBoxFromPoints(points []r3.Vector) (*OrientedBox, error) {
	if len(points) < 4 {
		return nil, errors.Errorf("need at least 4 points to fit an oriented box, got %d", len(points))
	}
	data := mat.NewDense(len(points), 3, nil)
	for i, p := range points {
		data.SetRow(i, []float64{p.X, p.Y, p.Z})
	}
	var cov mat.SymDense
	stat.CovarianceMatrix(&cov, data, nil)

	var eig mat.EigenSym
	if ok := eig.Factorize(&cov, true); !ok {
		return nil, errors.New("eigen decomposition of workspace points failed")
	}
	var vecs mat.Dense
	eig.VectorsTo(&vecs)
	// Values are ascending; use the largest variance as the first axis.
	axes := [3]r3.Vector{}
	for k := 0; k < 3; k++ {
		col := 2 - k
		axes[k] = r3.Vector{X: vecs.At(0, col), Y: vecs.At(1, col), Z: vecs.At(2, col)}.Normalize()
	}
	if axes[0].Cross(axes[1]).Dot(axes[2]) < 0 {
		axes[2] = axes[2].Mul(-1)
	}

	var lo, hi [3]float64
	for k := range lo {
		lo[k], hi[k] = math.Inf(1), math.Inf(-1)
	}
	for _, p := range points {
		for k, axis := range axes {
			proj := p.Dot(axis)
			lo[k] = math.Min(lo[k], proj)
			hi[k] = math.Max(hi[k], proj)
		}
	}
	var center r3.Vector
	var half r3.Vector
	halves := [3]*float64{&half.X, &half.Y, &half.Z}
	for k, axis := range axes {
		center = center.Add(axis.Mul((lo[k] + hi[k]) / 2))
		*halves[k] = (hi[k] - lo[k]) / 2
	}
	return NewOrientedBox(center, NewRotationMatrixFromColumns(axes[0], axes[1], axes[2]), half)
}

// Center returns the center of the box.
func (b *OrientedBox) Center() r3.Vector {
	return b.center
}

// Rotation returns the orientation of the box; its columns are the box axes.
func (b *OrientedBox) Rotation() *RotationMatrix {
	rot := b.rotation
	return &rot
}

// HalfSize returns the half extents along each box axis.
func (b *OrientedBox) HalfSize() r3.Vector {
	return r3.Vector{X: b.halfSize[0], Y: b.halfSize[1], Z: b.halfSize[2]}
}

// Contains reports whether p lies inside the box or on its boundary.
func (b *OrientedBox) Contains(p r3.Vector) bool {
	local := b.rotation.Transpose().MulVec(p.Sub(b.center))
	return math.Abs(local.X) <= b.halfSize[0]+containsEpsilon &&
		math.Abs(local.Y) <= b.halfSize[1]+containsEpsilon &&
		math.Abs(local.Z) <= b.halfSize[2]+containsEpsilon
}

// Vertices returns the eight corners of the box.
func (b *OrientedBox) Vertices() []r3.Vector {
	verts := make([]r3.Vector, 0, len(boxVertices))
	for _, v := range boxVertices {
		local := r3.Vector{X: v.X * b.halfSize[0], Y: v.Y * b.halfSize[1], Z: v.Z * b.halfSize[2]}
		verts = append(verts, b.rotation.MulVec(local).Add(b.center))
	}
	return verts
}

// Transform returns the box moved by t.
func (b *OrientedBox) Transform(t Transform) *OrientedBox {
	return &OrientedBox{
		center:   t.Apply(b.center),
		rotation: *t.rotation.Mul(&b.rotation),
		halfSize: b.halfSize,
	}
}

// Volume returns the volume of the box.
func (b *OrientedBox) Volume() float64 {
	return 8 * b.halfSize[0] * b.halfSize[1] * b.halfSize[2]
}

func (b *OrientedBox) String() string {
	return fmt.Sprintf("OrientedBox{center: %v, halfSize: %v}", b.center, b.HalfSize())
}
