package pointcloud

import (
	"context"
	"encoding/binary"
	"hash/fnv"
	"math"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"

	"go.viam.com/pcdgrasp/utils"
)

const (
	// FPFHBinsPerFeature is the number of histogram bins for each of the three angular features.
	FPFHBinsPerFeature = 11
	// FPFHBins is the length of an FPFH descriptor.
	FPFHBins = 3 * FPFHBinsPerFeature
)

// FeatureOptions configures ComputeFPFH.
type FeatureOptions struct {
	Radius float64
	MaxNN  int
}

// Features is a set of Fast Point Feature Histograms, one per point of the cloud it was computed
// from, in that cloud's iteration order.
type Features struct {
	cloud       PointCloud
	fingerprint uint64
	descriptors [][]float64
}

// Cloud returns the cloud the features describe.
func (f *Features) Cloud() PointCloud {
	return f.cloud
}

// Len returns the number of descriptors.
func (f *Features) Len() int {
	return len(f.descriptors)
}

// Descriptor returns the histogram of point i. The slice must not be modified.
func (f *Features) Descriptor(i int) []float64 {
	return f.descriptors[i]
}

// Descriptors returns all histograms. The slices must not be modified.
func (f *Features) Descriptors() [][]float64 {
	return f.descriptors
}

// Validate checks that the features were computed from cloud and that it has not changed since.
func (f *Features) Validate(cloud PointCloud) error {
	if cloud != f.cloud {
		return errors.Wrap(ErrStaleFeatures, "features were computed from a different cloud")
	}
	if cloud.Size() != len(f.descriptors) || cloudFingerprint(cloud) != f.fingerprint {
		return errors.Wrap(ErrStaleFeatures, "cloud changed after features were computed")
	}
	return nil
}

// cloudFingerprint hashes positions and normals in iteration order.
func cloudFingerprint(cloud PointCloud) uint64 {
	h := fnv.New64a()
	buf := make([]byte, 8)
	write := func(v float64) {
		binary.LittleEndian.PutUint64(buf, math.Float64bits(v))
		_, _ = h.Write(buf)
	}
	cloud.Iterate(0, 0, func(p r3.Vector, d Data) bool {
		write(p.X)
		write(p.Y)
		write(p.Z)
		if d != nil && d.HasNormal() {
			n := d.Normal()
			write(n.X)
			write(n.Y)
			write(n.Z)
		}
		return true
	})
	return h.Sum64()
}

// ComputeFPFH computes an FPFH descriptor for every point of a cloud with normals. Points without
// any neighbor inside the radius get an all zero descriptor.
func ComputeFPFH(ctx context.Context, cloud PointCloud, opts FeatureOptions) (*Features, error) {
	if opts.Radius <= 0 || opts.MaxNN < 2 {
		return nil, errors.Errorf("invalid feature search parameters radius=%v max_nn=%d", opts.Radius, opts.MaxNN)
	}
	if cloud.Size() == 0 {
		return nil, newInsufficientPointsError(0, 1, "cloud")
	}
	points, data := CloudToSlices(cloud)
	normals := make([]r3.Vector, len(points))
	for i, d := range data {
		if d == nil || !d.HasNormal() {
			return nil, errors.Wrapf(ErrMissingNormals, "point %d at %v", i, points[i])
		}
		normals[i] = d.Normal()
	}
	tree := NewKDTree(points)

	neighborhoods := make([][]Neighbor, len(points))
	spfh := make([][]float64, len(points))
	if err := utils.ParallelForEach(ctx, len(points), func(i int) {
		neighborhoods[i] = tree.HybridSearch(points[i], opts.Radius, opts.MaxNN)
		spfh[i] = computeSPFH(i, points, normals, neighborhoods[i])
	}); err != nil {
		return nil, err
	}

	descriptors := make([][]float64, len(points))
	if err := utils.ParallelForEach(ctx, len(points), func(i int) {
		descriptors[i] = computeFPFH(i, spfh, neighborhoods[i])
	}); err != nil {
		return nil, err
	}

	return &Features{cloud: cloud, fingerprint: cloudFingerprint(cloud), descriptors: descriptors}, nil
}

// pairFeatures returns the Darboux frame angles (alpha, phi, theta) between two oriented points.
// The source of the frame is the point whose normal makes the smaller angle with the line joining them.
func pairFeatures(p1, n1, p2, n2 r3.Vector) (float64, float64, float64, bool) {
	dp := p2.Sub(p1)
	dist := dp.Norm()
	if dist == 0 {
		return 0, 0, 0, false
	}
	angle1 := n1.Dot(dp) / dist
	angle2 := n2.Dot(dp) / dist
	var theta float64
	if math.Acos(math.Abs(angle1)) > math.Acos(math.Abs(angle2)) {
		n1, n2 = n2, n1
		dp = dp.Mul(-1)
		theta = -angle2
	} else {
		theta = angle1
	}
	v := dp.Cross(n1)
	vNorm := v.Norm()
	if vNorm == 0 {
		return 0, 0, 0, false
	}
	v = v.Mul(1 / vNorm)
	w := n1.Cross(v)
	phi := v.Dot(n2)
	alpha := math.Atan2(w.Dot(n2), n1.Dot(n2))
	return alpha, phi, theta, true
}

func histogramBin(value, lo, hi float64) int {
	bin := int(math.Floor(FPFHBinsPerFeature * (value - lo) / (hi - lo)))
	return utils.ClampInt(bin, 0, FPFHBinsPerFeature-1)
}

// computeSPFH is the simplified histogram of point i against its own neighbors.
func computeSPFH(i int, points, normals []r3.Vector, neighbors []Neighbor) []float64 {
	hist := make([]float64, FPFHBins)
	others := 0
	for _, nb := range neighbors {
		if nb.Index != i {
			others++
		}
	}
	if others == 0 {
		return hist
	}
	incr := 100 / float64(others)
	for _, nb := range neighbors {
		if nb.Index == i {
			continue
		}
		alpha, phi, theta, ok := pairFeatures(points[i], normals[i], points[nb.Index], normals[nb.Index])
		if !ok {
			alpha, phi, theta = 0, 0, 0
		}
		hist[histogramBin(alpha, -math.Pi, math.Pi)] += incr
		hist[FPFHBinsPerFeature+histogramBin(phi, -1, 1)] += incr
		hist[2*FPFHBinsPerFeature+histogramBin(theta, -1, 1)] += incr
	}
	return hist
}

// computeFPFH adds the inverse squared distance weighted SPFH of the neighbors, with each
// feature block rescaled to sum to 100, to the SPFH of point i.
func computeFPFH(i int, spfh [][]float64, neighbors []Neighbor) []float64 {
	out := make([]float64, FPFHBins)
	var sums [3]float64
	for _, nb := range neighbors {
		if nb.Index == i || nb.Distance == 0 {
			continue
		}
		w := 1 / (nb.Distance * nb.Distance)
		for j, v := range spfh[nb.Index] {
			val := v * w
			sums[j/FPFHBinsPerFeature] += val
			out[j] += val
		}
	}
	for k := range sums {
		if sums[k] != 0 {
			sums[k] = 100 / sums[k]
		}
	}
	for j := range out {
		out[j] = out[j]*sums[j/FPFHBinsPerFeature] + spfh[i][j]
	}
	return out
}
