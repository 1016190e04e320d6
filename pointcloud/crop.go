package pointcloud

import (
	"github.com/golang/geo/r3"

	"go.viam.com/pcdgrasp/spatialmath"
)

// CropToBox returns a new cloud holding the points of cloud inside box, in their original order.
// Points on the box boundary are kept.
func CropToBox(cloud PointCloud, box *spatialmath.OrientedBox) (PointCloud, error) {
	out := NewWithPrealloc(cloud.Size())
	var err error
	cloud.Iterate(0, 0, func(p r3.Vector, d Data) bool {
		if !box.Contains(p) {
			return true
		}
		err = out.Set(p, cloneData(d))
		return err == nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
