package pointcloud

import (
	"math"
	"sort"

	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/spatial/kdtree"
)

// indexedPoint is a k-d tree element that remembers its position in the input slice.
type indexedPoint struct {
	index  int
	coords []float64
}

func (p indexedPoint) Compare(c kdtree.Comparable, d kdtree.Dim) float64 {
	return p.coords[d] - c.(indexedPoint).coords[d]
}

func (p indexedPoint) Dims() int { return len(p.coords) }

func (p indexedPoint) Distance(c kdtree.Comparable) float64 {
	q := c.(indexedPoint).coords
	var sum float64
	for dim, v := range p.coords {
		d := v - q[dim]
		sum += d * d
	}
	return sum
}

type indexedPoints []indexedPoint

func (p indexedPoints) Index(i int) kdtree.Comparable         { return p[i] }
func (p indexedPoints) Len() int                              { return len(p) }
func (p indexedPoints) Pivot(d kdtree.Dim) int                { return indexedPlane{Dim: d, indexedPoints: p}.Pivot() }
func (p indexedPoints) Slice(start, end int) kdtree.Interface { return p[start:end] }

// indexedPlane pivots with the median of medians so the tree layout, and so tie breaking between
// equidistant neighbors, is a function of the input alone.
type indexedPlane struct {
	kdtree.Dim
	indexedPoints
}

func (p indexedPlane) Less(i, j int) bool {
	return p.indexedPoints[i].coords[p.Dim] < p.indexedPoints[j].coords[p.Dim]
}
func (p indexedPlane) Pivot() int { return kdtree.Partition(p, kdtree.MedianOfMedians(p)) }
func (p indexedPlane) Slice(start, end int) kdtree.SortSlicer {
	p.indexedPoints = p.indexedPoints[start:end]
	return p
}
func (p indexedPlane) Swap(i, j int) {
	p.indexedPoints[i], p.indexedPoints[j] = p.indexedPoints[j], p.indexedPoints[i]
}

// Neighbor is a search result: the index of the point in the slice the tree was built from and
// its Euclidean distance to the query.
type Neighbor struct {
	Index    int
	Distance float64
}

// KDTree answers nearest neighbor queries over a fixed set of points of any dimension. It is not
// modified by queries and is safe for concurrent use.
type KDTree struct {
	tree *kdtree.Tree
	dims int
	size int
}

// NewKDTree builds a tree over 3D positions.
func NewKDTree(points []r3.Vector) *KDTree {
	elems := make(indexedPoints, len(points))
	for i, p := range points {
		elems[i] = indexedPoint{index: i, coords: []float64{p.X, p.Y, p.Z}}
	}
	return &KDTree{tree: kdtree.New(elems, false), dims: 3, size: len(points)}
}

// NewKDTreeFromCloud builds a tree over the positions of cloud, indexed in iteration order.
func NewKDTreeFromCloud(cloud PointCloud) *KDTree {
	points, _ := CloudToSlices(cloud)
	return NewKDTree(points)
}

// NewFeatureTree builds a tree over feature vectors, which must all have the same length.
func NewFeatureTree(vectors [][]float64) *KDTree {
	elems := make(indexedPoints, len(vectors))
	dims := 0
	for i, v := range vectors {
		elems[i] = indexedPoint{index: i, coords: v}
		dims = len(v)
	}
	return &KDTree{tree: kdtree.New(elems, false), dims: dims, size: len(vectors)}
}

// Size returns the number of points in the tree.
func (kd *KDTree) Size() int {
	return kd.size
}

func vecCoords(q r3.Vector) indexedPoint {
	return indexedPoint{index: -1, coords: []float64{q.X, q.Y, q.Z}}
}

// Nearest returns the closest point to q; the boolean is false for an empty tree.
func (kd *KDTree) Nearest(q r3.Vector) (Neighbor, bool) {
	return kd.NearestVector(vecCoords(q).coords)
}

// NearestVector is Nearest for a query of the tree's dimension.
func (kd *KDTree) NearestVector(q []float64) (Neighbor, bool) {
	if kd.size == 0 {
		return Neighbor{}, false
	}
	c, dist := kd.tree.Nearest(indexedPoint{index: -1, coords: q})
	if c == nil {
		return Neighbor{}, false
	}
	return Neighbor{Index: c.(indexedPoint).index, Distance: math.Sqrt(dist)}, true
}

// KNearest returns up to k points closest to q, nearest first.
func (kd *KDTree) KNearest(q r3.Vector, k int) []Neighbor {
	if kd.size == 0 || k <= 0 {
		return nil
	}
	keep := kdtree.NewNKeeper(k)
	kd.tree.NearestSet(keep, vecCoords(q))
	return collectNeighbors(keep.Heap)
}

// RadiusSearch returns every point within radius of q, boundary included, nearest first.
func (kd *KDTree) RadiusSearch(q r3.Vector, radius float64) []Neighbor {
	if kd.size == 0 || radius < 0 {
		return nil
	}
	keep := kdtree.NewDistKeeper(radius * radius)
	kd.tree.NearestSet(keep, vecCoords(q))
	return collectNeighbors(keep.Heap)
}

// HybridSearch returns the at most maxNN points closest to q that are also within radius.
func (kd *KDTree) HybridSearch(q r3.Vector, radius float64, maxNN int) []Neighbor {
	if maxNN <= 0 {
		return nil
	}
	neighbors := kd.KNearest(q, maxNN)
	cut := sort.Search(len(neighbors), func(i int) bool {
		return neighbors[i].Distance > radius
	})
	return neighbors[:cut]
}

// collectNeighbors drops keeper sentinels and orders by distance, then by index.
func collectNeighbors(heap kdtree.Heap) []Neighbor {
	out := make([]Neighbor, 0, len(heap))
	for _, cd := range heap {
		if cd.Comparable == nil {
			continue
		}
		out = append(out, Neighbor{Index: cd.Comparable.(indexedPoint).index, Distance: math.Sqrt(cd.Dist)})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Distance != out[j].Distance {
			return out[i].Distance < out[j].Distance
		}
		return out[i].Index < out[j].Index
	})
	return out
}
