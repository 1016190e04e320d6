package pointcloud

import (
	"math"
	"math/rand"

	"github.com/golang/geo/r3"
)

// boxSurfacePoints samples the six faces of the axis aligned box [lo, hi] on a grid whose step is
// at most spacing. Shared edges produce identical coordinates so they collapse in a cloud.
func boxSurfacePoints(lo, hi r3.Vector, spacing float64) []r3.Vector {
	steps := func(extent float64) int {
		return int(math.Max(1, math.Ceil(extent/spacing-1e-9)))
	}
	nx, ny, nz := steps(hi.X-lo.X), steps(hi.Y-lo.Y), steps(hi.Z-lo.Z)
	at := func(lo, hi float64, i, n int) float64 {
		if i == n {
			return hi
		}
		return lo + (hi-lo)*float64(i)/float64(n)
	}

	var pts []r3.Vector
	for i := 0; i <= nx; i++ {
		for j := 0; j <= ny; j++ {
			x, y := at(lo.X, hi.X, i, nx), at(lo.Y, hi.Y, j, ny)
			pts = append(pts, r3.Vector{X: x, Y: y, Z: lo.Z}, r3.Vector{X: x, Y: y, Z: hi.Z})
		}
	}
	for i := 0; i <= nx; i++ {
		for k := 0; k <= nz; k++ {
			x, z := at(lo.X, hi.X, i, nx), at(lo.Z, hi.Z, k, nz)
			pts = append(pts, r3.Vector{X: x, Y: lo.Y, Z: z}, r3.Vector{X: x, Y: hi.Y, Z: z})
		}
	}
	for j := 0; j <= ny; j++ {
		for k := 0; k <= nz; k++ {
			y, z := at(lo.Y, hi.Y, j, ny), at(lo.Z, hi.Z, k, nz)
			pts = append(pts, r3.Vector{X: lo.X, Y: y, Z: z}, r3.Vector{X: hi.X, Y: y, Z: z})
		}
	}
	return pts
}

// MakeAsymmetricObject returns the surface of a 0.16 x 0.10 x 0.04 m block centered on the origin
// with a 0.05 m cube standing on one of its top corners, sampled every spacing meters. The cube
// removes the symmetries of the block so that registration has a unique answer.
func MakeAsymmetricObject(spacing float64) PointCloud {
	pc := New()
	base := boxSurfacePoints(r3.Vector{X: -0.08, Y: -0.05, Z: -0.02}, r3.Vector{X: 0.08, Y: 0.05, Z: 0.02}, spacing)
	cube := boxSurfacePoints(r3.Vector{X: 0.03, Y: 0.0, Z: 0.02}, r3.Vector{X: 0.08, Y: 0.05, Z: 0.07}, spacing)
	for _, p := range append(base, cube...) {
		// Sampled points are finite so Set cannot fail.
		//nolint:errcheck
		pc.Set(p, NewBasicData())
	}
	return pc
}

// MakePlane returns a square grid of side size in the z = height plane, centered on the origin.
func MakePlane(size, spacing, height float64) PointCloud {
	pc := New()
	n := int(math.Round(size / spacing))
	for i := 0; i <= n; i++ {
		for j := 0; j <= n; j++ {
			//nolint:errcheck
			pc.Set(r3.Vector{X: -size/2 + float64(i)*spacing, Y: -size/2 + float64(j)*spacing, Z: height}, NewBasicData())
		}
	}
	return pc
}

// AddGaussianNoise returns a copy of cloud with zero mean noise of the given standard deviation
// added to every coordinate. The seed makes the result reproducible.
func AddGaussianNoise(cloud PointCloud, sigma float64, seed int64) PointCloud {
	rnd := rand.New(rand.NewSource(seed))
	out := NewWithPrealloc(cloud.Size())
	cloud.Iterate(0, 0, func(p r3.Vector, d Data) bool {
		noisy := p.Add(r3.Vector{X: rnd.NormFloat64() * sigma, Y: rnd.NormFloat64() * sigma, Z: rnd.NormFloat64() * sigma})
		//nolint:errcheck
		out.Set(noisy, cloneData(d))
		return true
	})
	return out
}
