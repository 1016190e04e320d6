package pointcloud

import (
	"image/color"
	"math"
	"sort"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
)

/* In this file are functions to create a Voxel Grid from a point cloud and reduce it to one
point per voxel. A voxel represents a value on a regular grid in three-dimensional space. As with
pixels in a 2D bitmap, voxels themselves do not typically have their position (i.e. coordinates)
explicitly encoded with their values.
More information and comparisons with pixels here:
- https://en.wikipedia.org/wiki/Voxel
- https://medium.com/retronator-magazine/pixels-and-voxels-the-long-answer-5889ecc18190
*/

// VoxelCoords stores Voxel coordinates in VoxelGrid axes.
type VoxelCoords struct {
	I, J, K int64
}

// IsEqual tests if two VoxelCoords are the same.
func (c VoxelCoords) IsEqual(c2 VoxelCoords) bool {
	return c.I == c2.I && c.J == c2.J && c.K == c2.K
}

// less orders coordinates lexicographically by I, then J, then K.
func (c VoxelCoords) less(c2 VoxelCoords) bool {
	if c.I != c2.I {
		return c.I < c2.I
	}
	if c.J != c2.J {
		return c.J < c2.J
	}
	return c.K < c2.K
}

// GetVoxelCoordinates computes voxel coordinates in VoxelGrid axes.
func GetVoxelCoordinates(pt, ptMin r3.Vector, voxelSize float64) VoxelCoords {
	ptVoxel := pt.Sub(ptMin).Mul(1 / voxelSize)
	return VoxelCoords{
		I: int64(math.Floor(ptVoxel.X)),
		J: int64(math.Floor(ptVoxel.Y)),
		K: int64(math.Floor(ptVoxel.Z)),
	}
}

// voxelAccumulator sums the attributes of the points falling in one voxel.
type voxelAccumulator struct {
	key              VoxelCoords
	count            int
	position         r3.Vector
	normal           r3.Vector
	normals          int
	red, green, blue float64
	colors           int
}

func (acc *voxelAccumulator) add(p r3.Vector, d Data) {
	acc.count++
	acc.position = acc.position.Add(p)
	if d == nil {
		return
	}
	if d.HasNormal() {
		acc.normal = acc.normal.Add(d.Normal())
		acc.normals++
	}
	if d.HasColor() {
		r, g, b := d.RGB255()
		acc.red += float64(r)
		acc.green += float64(g)
		acc.blue += float64(b)
		acc.colors++
	}
}

func (acc *voxelAccumulator) centroid() (r3.Vector, Data) {
	d := NewBasicData()
	if acc.normals == acc.count {
		if acc.normal.Norm() > 0 {
			d.SetNormal(acc.normal)
		}
	}
	if acc.colors == acc.count {
		c := float64(acc.colors)
		d.SetColor(color.NRGBA{
			R: uint8(math.Round(acc.red / c)),
			G: uint8(math.Round(acc.green / c)),
			B: uint8(math.Round(acc.blue / c)),
			A: 255,
		})
	}
	return acc.position.Mul(1 / float64(acc.count)), d
}

// VoxelDownsample replaces all points within each occupied voxel of a uniform grid by their
// centroid. The grid origin sits half a voxel below the minimum bound of the cloud, so the centroids
// of an already downsampled cloud land near voxel centers and a second pass is nearly a no-op.
// Colors and normals are averaged when every point of the voxel carries them; averaged normals are
// renormalized. The output is ordered by voxel coordinates, so it does not depend on input order.
func VoxelDownsample(cloud PointCloud, voxelSize float64) (PointCloud, error) {
	if voxelSize <= 0 || math.IsNaN(voxelSize) {
		return nil, errors.Errorf("voxel size must be positive, got %v", voxelSize)
	}
	if cloud.Size() == 0 {
		return New(), nil
	}
	origin := cloud.MetaData().MinBound().Sub(r3.Vector{X: voxelSize / 2, Y: voxelSize / 2, Z: voxelSize / 2})

	voxels := make(map[VoxelCoords]*voxelAccumulator)
	cloud.Iterate(0, 0, func(p r3.Vector, d Data) bool {
		key := GetVoxelCoordinates(p, origin, voxelSize)
		acc, ok := voxels[key]
		if !ok {
			acc = &voxelAccumulator{key: key}
			voxels[key] = acc
		}
		acc.add(p, d)
		return true
	})

	sorted := make([]*voxelAccumulator, 0, len(voxels))
	for _, acc := range voxels {
		sorted = append(sorted, acc)
	}
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].key.less(sorted[j].key)
	})

	out := NewWithPrealloc(len(sorted))
	for _, acc := range sorted {
		p, d := acc.centroid()
		if err := out.Set(p, d); err != nil {
			return nil, err
		}
	}
	return out, nil
}
