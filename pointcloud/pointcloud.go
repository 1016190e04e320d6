// Package pointcloud defines a point cloud and provides an implementation for one, along with the
// geometric operations used to prepare clouds for registration: voxel downsampling, cropping,
// rigid transforms, nearest neighbor search, normal estimation and FPFH features.
package pointcloud

import (
	"math"

	"github.com/golang/geo/r3"
)

// MetaData is data about what's stored in the point cloud.
type MetaData struct {
	HasColor  bool
	HasNormal bool
	HasValue  bool

	MinX, MaxX float64
	MinY, MaxY float64
	MinZ, MaxZ float64
}

// PointCloud is a general purpose container of points. Points are kept in insertion order and
// are unique by position; setting an existing position replaces its data.
type PointCloud interface {
	// Size returns the number of points in the cloud.
	Size() int

	// MetaData returns meta data
	MetaData() MetaData

	// Set places the given point in the cloud.
	Set(p r3.Vector, d Data) error

	// At returns the point in the cloud at the given position.
	// The 2nd return is if the point exists, the first is data if any.
	At(x, y, z float64) (Data, bool)

	// Iterate iterates over all points in the cloud, in insertion order, and calls the given
	// function for each point. If the supplied function returns false, iteration will stop after
	// the function returns.
	// numBatches lets you divide up he work. 0 means don't divide
	// myBatch is used iff numBatches > 0 and is which batch you want
	Iterate(numBatches, myBatch int, fn func(p r3.Vector, d Data) bool)
}

// NewMetaData creates a new MetaData with bounds that any point will extend.
func NewMetaData() MetaData {
	return MetaData{
		MinX: math.MaxFloat64,
		MinY: math.MaxFloat64,
		MinZ: math.MaxFloat64,
		MaxX: -math.MaxFloat64,
		MaxY: -math.MaxFloat64,
		MaxZ: -math.MaxFloat64,
	}
}

// Merge updates the meta data with the new data.
func (meta *MetaData) Merge(v r3.Vector, data Data) {
	if data != nil {
		if data.HasColor() {
			meta.HasColor = true
		}
		if data.HasNormal() {
			meta.HasNormal = true
		}
		if data.HasValue() {
			meta.HasValue = true
		}
	}

	meta.MaxX = math.Max(meta.MaxX, v.X)
	meta.MaxY = math.Max(meta.MaxY, v.Y)
	meta.MaxZ = math.Max(meta.MaxZ, v.Z)
	meta.MinX = math.Min(meta.MinX, v.X)
	meta.MinY = math.Min(meta.MinY, v.Y)
	meta.MinZ = math.Min(meta.MinZ, v.Z)
}

// MinBound returns the corner of the axis aligned bounding box with the smallest coordinates.
func (meta MetaData) MinBound() r3.Vector {
	return r3.Vector{X: meta.MinX, Y: meta.MinY, Z: meta.MinZ}
}

// MaxBound returns the corner of the axis aligned bounding box with the largest coordinates.
func (meta MetaData) MaxBound() r3.Vector {
	return r3.Vector{X: meta.MaxX, Y: meta.MaxY, Z: meta.MaxZ}
}

// CloudToSlices returns the positions and data of the cloud in iteration order.
func CloudToSlices(cloud PointCloud) ([]r3.Vector, []Data) {
	points := make([]r3.Vector, 0, cloud.Size())
	data := make([]Data, 0, cloud.Size())
	cloud.Iterate(0, 0, func(p r3.Vector, d Data) bool {
		points = append(points, p)
		data = append(data, d)
		return true
	})
	return points, data
}

// CloudCentroid returns the mean position of the cloud, or the origin for an empty cloud.
func CloudCentroid(cloud PointCloud) r3.Vector {
	if cloud.Size() == 0 {
		return r3.Vector{}
	}
	var sum r3.Vector
	cloud.Iterate(0, 0, func(p r3.Vector, _ Data) bool {
		sum = sum.Add(p)
		return true
	})
	return sum.Mul(1 / float64(cloud.Size()))
}

// NewFromPoints builds a cloud from parallel slices of positions and data. data may be nil.
func NewFromPoints(points []r3.Vector, data []Data) (PointCloud, error) {
	cloud := NewWithPrealloc(len(points))
	for i, p := range points {
		var d Data
		if data != nil {
			d = data[i]
		}
		if err := cloud.Set(p, d); err != nil {
			return nil, err
		}
	}
	return cloud, nil
}
