package pointcloud

import (
	"image/color"
	"math"
	"testing"

	"github.com/golang/geo/r3"
	"go.viam.com/test"
)

func TestPointCloudBasic(t *testing.T) {
	pc := New()

	p0 := NewVector(0, 0, 0)
	d0 := NewValueData(5)

	test.That(t, pc.Set(p0, d0), test.ShouldBeNil)
	d, got := pc.At(0, 0, 0)
	test.That(t, got, test.ShouldBeTrue)
	test.That(t, d, test.ShouldResemble, d0)

	_, got = pc.At(1, 0, 1)
	test.That(t, got, test.ShouldBeFalse)

	p1 := NewVector(1, 0, 1)
	d1 := NewValueData(17)
	test.That(t, pc.Set(p1, d1), test.ShouldBeNil)

	d, got = pc.At(1, 0, 1)
	test.That(t, got, test.ShouldBeTrue)
	test.That(t, d, test.ShouldResemble, d1)
	test.That(t, d, test.ShouldNotResemble, d0)

	p2 := NewVector(-1, -2, 1)
	d2 := NewValueData(81)
	test.That(t, pc.Set(p2, d2), test.ShouldBeNil)
	d, got = pc.At(-1, -2, 1)
	test.That(t, got, test.ShouldBeTrue)
	test.That(t, d, test.ShouldResemble, d2)

	var order []r3.Vector
	pc.Iterate(0, 0, func(p r3.Vector, d Data) bool {
		order = append(order, p)
		return true
	})
	test.That(t, order, test.ShouldResemble, []r3.Vector{p0, p1, p2})

	err := pc.Set(NewVector(math.NaN(), 0, 0), nil)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "non-finite")
	test.That(t, pc.Set(NewVector(0, math.Inf(1), 0), nil), test.ShouldNotBeNil)
	test.That(t, pc.Size(), test.ShouldEqual, 3)
}

func TestPointCloudMetaData(t *testing.T) {
	pc := New()
	meta := pc.MetaData()
	test.That(t, meta.HasColor, test.ShouldBeFalse)
	test.That(t, meta.HasNormal, test.ShouldBeFalse)

	test.That(t, pc.Set(NewVector(1, -2, 3), NewBasicData()), test.ShouldBeNil)
	test.That(t, pc.Set(NewVector(-1, 2, 0), NewColoredData(color.NRGBA{1, 2, 3, 255})), test.ShouldBeNil)
	test.That(t, pc.Set(NewVector(0, 0, 5), nil), test.ShouldBeNil)

	meta = pc.MetaData()
	test.That(t, meta.HasColor, test.ShouldBeTrue)
	test.That(t, meta.HasNormal, test.ShouldBeFalse)
	test.That(t, meta.HasValue, test.ShouldBeFalse)
	test.That(t, meta.MinBound(), test.ShouldResemble, r3.Vector{X: -1, Y: -2, Z: 0})
	test.That(t, meta.MaxBound(), test.ShouldResemble, r3.Vector{X: 1, Y: 2, Z: 5})

	test.That(t, pc.Set(NewVector(0, 0, 1), NewNormalData(r3.Vector{Z: 3})), test.ShouldBeNil)
	test.That(t, pc.MetaData().HasNormal, test.ShouldBeTrue)
	d, ok := pc.At(0, 0, 1)
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, d.Normal(), test.ShouldResemble, r3.Vector{Z: 1})
}

func TestPointCloudCentroid(t *testing.T) {
	var point r3.Vector
	var data Data
	pc := New()

	test.That(t, pc.Size(), test.ShouldResemble, 0)
	test.That(t, CloudCentroid(pc), test.ShouldResemble, r3.Vector{X: 0, Y: 0, Z: 0})

	point = NewVector(10, 100, 1000)
	data = NewValueData(1)
	test.That(t, pc.Set(point, data), test.ShouldBeNil)
	test.That(t, pc.Size(), test.ShouldResemble, 1)
	test.That(t, CloudCentroid(pc), test.ShouldResemble, point)

	point = NewVector(20, 200, 2000)
	data = NewValueData(2)
	test.That(t, pc.Set(point, data), test.ShouldBeNil)
	test.That(t, pc.Size(), test.ShouldResemble, 2)
	test.That(t, CloudCentroid(pc), test.ShouldResemble, r3.Vector{X: 15, Y: 150, Z: 1500})

	point = NewVector(30, 300, 3000)
	data = NewValueData(3)
	test.That(t, pc.Set(point, data), test.ShouldBeNil)
	test.That(t, pc.Size(), test.ShouldResemble, 3)
	test.That(t, CloudCentroid(pc), test.ShouldResemble, r3.Vector{X: 20, Y: 200, Z: 2000})

	point = NewVector(30, 300, 3000)
	data = NewValueData(3)
	test.That(t, pc.Set(point, data), test.ShouldBeNil)
	test.That(t, pc.Size(), test.ShouldResemble, 3)
	test.That(t, CloudCentroid(pc), test.ShouldResemble, r3.Vector{X: 20, Y: 200, Z: 2000})
}

func TestNewFromPoints(t *testing.T) {
	points := []r3.Vector{{X: 1}, {Y: 1}, {Z: 1}}
	pc, err := NewFromPoints(points, nil)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, pc.Size(), test.ShouldEqual, 3)

	got, data := CloudToSlices(pc)
	test.That(t, got, test.ShouldResemble, points)
	test.That(t, data, test.ShouldHaveLength, 3)
	test.That(t, data[0], test.ShouldBeNil)

	_, err = NewFromPoints([]r3.Vector{{X: math.NaN()}}, nil)
	test.That(t, err, test.ShouldNotBeNil)
}

func TestDataClone(t *testing.T) {
	d := NewColoredData(color.NRGBA{10, 20, 30, 255}).SetNormal(r3.Vector{X: 2})
	c := d.Clone()
	c.SetColor(color.NRGBA{1, 1, 1, 255})
	r, g, b := d.RGB255()
	test.That(t, []uint8{r, g, b}, test.ShouldResemble, []uint8{10, 20, 30})
	test.That(t, c.Normal(), test.ShouldResemble, r3.Vector{X: 1})

	test.That(t, cloneData(nil).HasColor(), test.ShouldBeFalse)
}

func TestMakeAsymmetricObject(t *testing.T) {
	pc := MakeAsymmetricObject(0.004)
	test.That(t, pc.Size(), test.ShouldBeGreaterThan, 3000)
	meta := pc.MetaData()
	test.That(t, meta.MinX, test.ShouldAlmostEqual, -0.08)
	test.That(t, meta.MaxY, test.ShouldAlmostEqual, 0.05)
	test.That(t, meta.MaxZ, test.ShouldAlmostEqual, 0.07)

	noisy := AddGaussianNoise(pc, 0.0005, 1)
	test.That(t, noisy.Size(), test.ShouldEqual, pc.Size())
	again := AddGaussianNoise(pc, 0.0005, 1)
	a, _ := CloudToSlices(noisy)
	b, _ := CloudToSlices(again)
	test.That(t, a, test.ShouldResemble, b)
}
