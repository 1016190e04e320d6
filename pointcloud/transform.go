package pointcloud

import (
	"github.com/golang/geo/r3"

	"go.viam.com/pcdgrasp/spatialmath"
)

// ApplyTransform returns a new cloud with every point moved by t. Normals are rotated with the
// points; colors and values are copied.
func ApplyTransform(cloud PointCloud, t spatialmath.Transform) (PointCloud, error) {
	out := NewWithPrealloc(cloud.Size())
	var err error
	cloud.Iterate(0, 0, func(p r3.Vector, d Data) bool {
		nd := cloneData(d)
		if nd.HasNormal() {
			nd.SetNormal(t.ApplyRotation(nd.Normal()))
		}
		err = out.Set(t.Apply(p), nd)
		return err == nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
