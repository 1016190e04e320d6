package pointcloud

import (
	"math"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
)

// basicPointCloud keeps positions and data in parallel slices, in insertion order, with a map
// from position to slot so repeated positions overwrite instead of growing the cloud.
type basicPointCloud struct {
	positions []r3.Vector
	data      []Data
	slots     map[r3.Vector]int
	meta      MetaData
}

// New returns an empty PointCloud.
func New() PointCloud {
	return NewWithPrealloc(0)
}

// NewWithPrealloc returns an empty PointCloud with room for size points.
func NewWithPrealloc(size int) PointCloud {
	return &basicPointCloud{
		positions: make([]r3.Vector, 0, size),
		data:      make([]Data, 0, size),
		slots:     make(map[r3.Vector]int, size),
		meta:      NewMetaData(),
	}
}

func (cloud *basicPointCloud) Size() int {
	return len(cloud.positions)
}

func (cloud *basicPointCloud) MetaData() MetaData {
	return cloud.meta
}

func (cloud *basicPointCloud) At(x, y, z float64) (Data, bool) {
	slot, ok := cloud.slots[r3.Vector{X: x, Y: y, Z: z}]
	if !ok {
		return nil, false
	}
	return cloud.data[slot], true
}

func finite(p r3.Vector) bool {
	for _, c := range []float64{p.X, p.Y, p.Z} {
		if math.IsNaN(c) || math.IsInf(c, 0) {
			return false
		}
	}
	return true
}

// Set rejects non-finite positions. A position already in the cloud keeps its slot and takes the
// new data.
func (cloud *basicPointCloud) Set(p r3.Vector, d Data) error {
	if !finite(p) {
		return errors.Errorf("cannot store non-finite point %v", p)
	}
	if slot, ok := cloud.slots[p]; ok {
		cloud.data[slot] = d
	} else {
		cloud.slots[p] = len(cloud.positions)
		cloud.positions = append(cloud.positions, p)
		cloud.data = append(cloud.data, d)
	}
	cloud.meta.Merge(p, d)
	return nil
}

// batchBounds returns the half open slot range of batch myBatch out of numBatches. Batches are
// ceil(n/numBatches) long, so trailing batches may be short or empty.
func batchBounds(n, numBatches, myBatch int) (int, int) {
	if numBatches <= 0 {
		return 0, n
	}
	size := (n + numBatches - 1) / numBatches
	return min(myBatch*size, n), min((myBatch+1)*size, n)
}

func (cloud *basicPointCloud) Iterate(numBatches, myBatch int, fn func(p r3.Vector, d Data) bool) {
	from, to := batchBounds(len(cloud.positions), numBatches, myBatch)
	for i := from; i < to; i++ {
		if !fn(cloud.positions[i], cloud.data[i]) {
			return
		}
	}
}
