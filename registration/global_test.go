package registration

import (
	"context"
	"math"
	"math/rand"
	"testing"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.viam.com/test"
	"gonum.org/v1/gonum/floats"

	"go.viam.com/pcdgrasp/spatialmath"
)

func TestMatchFeatures(t *testing.T) {
	pre := preprocessedObject(t, spatialmath.NewIdentityTransform())

	all, err := MatchFeatures(context.Background(), pre, pre, false)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, all, test.ShouldHaveLength, pre.Size())
	for i, c := range all {
		test.That(t, c.Source, test.ShouldEqual, i)
		// matching a cloud against itself finds an identical descriptor
		test.That(t, floats.Distance(pre.Features.Descriptor(c.Source), pre.Features.Descriptor(c.Target), 2), test.ShouldAlmostEqual, 0)
	}

	mutual, err := MatchFeatures(context.Background(), pre, pre, true)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, len(mutual), test.ShouldBeGreaterThan, 0)
	test.That(t, len(mutual), test.ShouldBeLessThanOrEqualTo, len(all))
	for _, c := range mutual {
		test.That(t, all[c.Source], test.ShouldResemble, c)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = MatchFeatures(ctx, pre, pre, true)
	test.That(t, errors.Is(err, context.Canceled), test.ShouldBeTrue)
}

func TestGlobalRegisterRANSAC(t *testing.T) {
	motion := rotationAbout(r3.Vector{Z: 1}, 30, r3.Vector{X: 0.1})
	target := preprocessedObject(t, spatialmath.NewIdentityTransform())
	source := preprocessedObject(t, motion)

	res, err := GlobalRegister(context.Background(), source, target, DefaultGlobalOptions())
	test.That(t, err, test.ShouldBeNil)
	assertCloseTransform(t, res.Transform, motion.Inverse(), 5, 0.01)
	test.That(t, res.Fitness, test.ShouldBeGreaterThan, 0.3)
	test.That(t, res.Correspondences, test.ShouldBeGreaterThanOrEqualTo, MinCorrespondences)
	test.That(t, res.Converged, test.ShouldBeTrue)

	refined, err := RefineICP(context.Background(), source.Cloud, target.Cloud, res.Transform, DefaultICPOptions())
	test.That(t, err, test.ShouldBeNil)
	assertCloseTransform(t, refined.Transform, motion.Inverse(), 1, 0.002)
	test.That(t, refined.Fitness, test.ShouldBeGreaterThanOrEqualTo, res.Fitness)

	// seeded sampling and indexed parallel matching make the result reproducible
	again, err := GlobalRegister(context.Background(), source, target, DefaultGlobalOptions())
	test.That(t, err, test.ShouldBeNil)
	test.That(t, again.Transform.AlmostEqual(res.Transform, 1e-12), test.ShouldBeTrue)
	test.That(t, again.Fitness, test.ShouldEqual, res.Fitness)
}

func TestGlobalRegisterFGR(t *testing.T) {
	motion := rotationAbout(r3.Vector{Z: 1}, 10, r3.Vector{X: 0.02, Y: 0.01})
	target := preprocessedObject(t, spatialmath.NewIdentityTransform())
	source := preprocessedObject(t, motion)

	opts := DefaultGlobalOptions()
	opts.Method = MethodFastGlobal
	res, err := GlobalRegister(context.Background(), source, target, opts)
	test.That(t, err, test.ShouldBeNil)
	assertCloseTransform(t, res.Transform, motion.Inverse(), 10, 0.02)
	test.That(t, res.Iterations, test.ShouldEqual, opts.FGRIterations)

	refined, err := RefineICP(context.Background(), source.Cloud, target.Cloud, res.Transform, DefaultICPOptions())
	test.That(t, err, test.ShouldBeNil)
	assertCloseTransform(t, refined.Transform, motion.Inverse(), 1, 0.002)
}

func TestGlobalRegisterErrors(t *testing.T) {
	pre := preprocessedObject(t, spatialmath.NewIdentityTransform())

	opts := DefaultGlobalOptions()
	opts.Method = "icp"
	_, err := GlobalRegister(context.Background(), pre, pre, opts)
	test.That(t, err, test.ShouldNotBeNil)

	few := []Correspondence{{0, 0}, {1, 1}}
	_, err = registerRANSAC(context.Background(), pre, pre, few, DefaultGlobalOptions())
	test.That(t, errors.Is(err, ErrInsufficientCorrespondences), test.ShouldBeTrue)
	_, err = registerFGR(context.Background(), pre, pre, few, DefaultGlobalOptions())
	test.That(t, errors.Is(err, ErrInsufficientCorrespondences), test.ShouldBeTrue)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = GlobalRegister(ctx, pre, pre, DefaultGlobalOptions())
	test.That(t, errors.Is(err, context.Canceled), test.ShouldBeTrue)
}

func TestRANSACHelpers(t *testing.T) {
	test.That(t, ransacIterationBound(1, 0.999), test.ShouldEqual, 0)
	test.That(t, ransacIterationBound(0, 0.999), test.ShouldEqual, math.MaxInt)
	test.That(t, ransacIterationBound(0.5, 0.999), test.ShouldEqual, 52)

	rnd := rand.New(rand.NewSource(1))
	picks := make([]int, 3)
	for i := 0; i < 1000; i++ {
		sampleDistinct(rnd, 4, picks)
		test.That(t, picks[0] != picks[1] && picks[1] != picks[2] && picks[0] != picks[2], test.ShouldBeTrue)
		for _, p := range picks {
			test.That(t, p, test.ShouldBeGreaterThanOrEqualTo, 0)
			test.That(t, p, test.ShouldBeLessThan, 4)
		}
	}

	src := []r3.Vector{{}, {X: 1}, {Y: 1}}
	test.That(t, edgeLengthsSimilar(src, src, 0.9), test.ShouldBeTrue)
	stretched := []r3.Vector{{}, {X: 1.2}, {Y: 1}}
	test.That(t, edgeLengthsSimilar(src, stretched, 0.9), test.ShouldBeFalse)
	test.That(t, edgeLengthsSimilar(src, stretched, 0.8), test.ShouldBeTrue)
}

func TestTupleTest(t *testing.T) {
	pts := []r3.Vector{{}, {X: 1}, {Y: 1}, {Z: 1}, {X: 1, Y: 1}}
	motion := rotationAbout(r3.Vector{Z: 1}, 45, r3.Vector{X: 3})
	moved := make([]r3.Vector, len(pts))
	for i, p := range pts {
		moved[i] = motion.Apply(p)
	}
	corres := make([]Correspondence, len(pts))
	for i := range corres {
		corres[i] = Correspondence{Source: i, Target: i}
	}
	// a bad match far from everything else
	moved = append(moved, r3.Vector{X: 50})
	corres = append(corres, Correspondence{Source: 4, Target: 5})

	rnd := rand.New(rand.NewSource(1))
	kept := tupleTest(rnd, corres, pts, moved, 0.95, 10)
	test.That(t, kept, test.ShouldHaveLength, 30)
	for _, c := range kept {
		test.That(t, c.Target, test.ShouldNotEqual, 5)
	}
}
