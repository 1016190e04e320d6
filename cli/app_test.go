package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.viam.com/test"

	"go.viam.com/pcdgrasp/grasp"
	"go.viam.com/pcdgrasp/pointcloud"
	"go.viam.com/pcdgrasp/registration"
	"go.viam.com/pcdgrasp/spatialmath"
	"go.viam.com/pcdgrasp/utils"
)

// syncBuffer is written by the watch worker while the test polls it.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

type scenario struct {
	dir      string
	config   string
	live     string
	expected spatialmath.Transform
}

func matrixYAML(t spatialmath.Transform) string {
	m := t.Matrix()
	var sb strings.Builder
	for i := 0; i < 4; i++ {
		fmt.Fprintf(&sb, "    - [%v, %v, %v, %v]\n", m.At(i, 0), m.At(i, 1), m.At(i, 2), m.At(i, 3))
	}
	return sb.String()
}

// writeScenario writes a reference and a live capture of the same object, seen by an overhead
// camera, with the live object turned 30 degrees about z and pushed 0.1 m along x.
func writeScenario(t *testing.T) scenario {
	t.Helper()
	dir := t.TempDir()
	cam := spatialmath.NewTransformFromAxisAngle(&spatialmath.R4AA{Theta: math.Pi, RX: 1}, r3.Vector{Z: 0.8})
	graspPose := spatialmath.NewTransformFromAxisAngle(&spatialmath.R4AA{Theta: math.Pi, RX: 1}, r3.Vector{X: 0.05, Y: 0.02, Z: 0.08})
	motion := spatialmath.NewTransformFromAxisAngle(&spatialmath.R4AA{Theta: utils.DegToRad(30), RZ: 1}, r3.Vector{X: 0.1})

	object := pointcloud.MakeAsymmetricObject(0.004)
	reference, err := pointcloud.ApplyTransform(object, cam.Inverse())
	test.That(t, err, test.ShouldBeNil)
	live, err := pointcloud.ApplyTransform(object, cam.Inverse().Compose(motion))
	test.That(t, err, test.ShouldBeNil)

	test.That(t, pointcloud.WriteToFile(reference, filepath.Join(dir, "reference.pcd")), test.ShouldBeNil)
	livePath := filepath.Join(dir, "live.pcd")
	test.That(t, pointcloud.WriteToFile(live, livePath), test.ShouldBeNil)

	cfg := "calibration:\n  camera_to_base:\n" + matrixYAML(cam) +
		"  base_to_reference_grasp:\n" + matrixYAML(graspPose) +
		"workspace_corners:\n"
	for _, sx := range []float64{-0.4, 0.4} {
		for _, sy := range []float64{-0.3, 0.3} {
			for _, sz := range []float64{-0.15, 0.15} {
				cfg += fmt.Sprintf("  - [%v, %v, %v]\n", sx, sy, sz)
			}
		}
	}
	cfg += "reference_cloud: reference.pcd\nregistration:\n  normal_orientation: centroid\n  min_fitness: 0.5\n"
	cfgPath := filepath.Join(dir, "grasp.yaml")
	test.That(t, os.WriteFile(cfgPath, []byte(cfg), 0o600), test.ShouldBeNil)

	return scenario{dir: dir, config: cfgPath, live: livePath, expected: motion.Compose(graspPose)}
}

func checkPose(t *testing.T, sc scenario, pose *grasp.Pose) {
	t.Helper()
	test.That(t, pose, test.ShouldNotBeNil)
	test.That(t, pose.Frame, test.ShouldEqual, grasp.DefaultFrame)
	test.That(t, spatialmath.RotationAngleBetween(pose.Transform(), sc.expected), test.ShouldBeLessThan, utils.DegToRad(1))
	test.That(t, spatialmath.TranslationDistance(pose.Transform(), sc.expected), test.ShouldBeLessThan, 0.003)
}

func TestRegisterJSON(t *testing.T) {
	sc := writeScenario(t)
	out, errOut := &bytes.Buffer{}, &bytes.Buffer{}
	err := NewApp(out, errOut).Run([]string{"pcdgrasp", "--json", "register", "--config", sc.config, sc.live, sc.live})
	test.That(t, err, test.ShouldBeNil)

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	test.That(t, lines, test.ShouldHaveLength, 1)
	var got jsonOutcome
	test.That(t, json.Unmarshal([]byte(lines[0]), &got), test.ShouldBeNil)
	test.That(t, got.File, test.ShouldEqual, sc.live)
	test.That(t, got.Status, test.ShouldEqual, "ok")
	test.That(t, got.Error, test.ShouldBeEmpty)
	test.That(t, got.Fitness, test.ShouldBeGreaterThan, 0.9)
	test.That(t, got.ResidualMedian, test.ShouldBeGreaterThan, 0)
	test.That(t, got.ResidualMedian, test.ShouldBeLessThan, registration.DefaultICPOptions().MaxCorrespondenceDistance)
	test.That(t, got.ResidualP95, test.ShouldBeGreaterThanOrEqualTo, got.ResidualMedian)
	checkPose(t, sc, got.Pose)
}

func TestRegisterTable(t *testing.T) {
	sc := writeScenario(t)
	plotDir := filepath.Join(sc.dir, "plots")
	logFile := filepath.Join(sc.dir, "pcdgrasp.log")
	missing := filepath.Join(sc.dir, "missing.pcd")

	out, errOut := &bytes.Buffer{}, &bytes.Buffer{}
	err := NewApp(out, errOut).Run([]string{
		"pcdgrasp", "--plot-dir", plotDir, "--log-file", logFile, "--debug",
		"register", "-c", sc.config, "--parallel", "2", sc.live, missing,
	})
	test.That(t, err, test.ShouldBeError, "1 of 2 registrations failed")

	test.That(t, out.String(), test.ShouldContainSubstring, "live.pcd")
	test.That(t, out.String(), test.ShouldContainSubstring, "missing.pcd")
	test.That(t, out.String(), test.ShouldContainSubstring, "ok")
	test.That(t, out.String(), test.ShouldContainSubstring, "failed")
	test.That(t, errOut.String(), test.ShouldContainSubstring, "Warning: ")
	test.That(t, errOut.String(), test.ShouldContainSubstring, "missing.pcd")
	test.That(t, errOut.String(), test.ShouldContainSubstring, "reference preprocessed")

	pngs, err := filepath.Glob(filepath.Join(plotDir, "*.png"))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, pngs, test.ShouldHaveLength, 2)

	logged, err := os.ReadFile(logFile)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, string(logged), test.ShouldContainSubstring, "registered")
}

func TestRegisterErrors(t *testing.T) {
	sc := writeScenario(t)

	t.Run("no clouds", func(t *testing.T) {
		err := NewApp(&bytes.Buffer{}, &bytes.Buffer{}).Run([]string{"pcdgrasp", "register", "-c", sc.config})
		test.That(t, err, test.ShouldBeError, "at least one point cloud file is required")
	})

	t.Run("config is required", func(t *testing.T) {
		err := NewApp(&bytes.Buffer{}, &bytes.Buffer{}).Run([]string{"pcdgrasp", "register", sc.live})
		test.That(t, err, test.ShouldNotBeNil)
		test.That(t, err.Error(), test.ShouldContainSubstring, "config")
	})

	t.Run("invalid config", func(t *testing.T) {
		bad := filepath.Join(sc.dir, "bad.yaml")
		test.That(t, os.WriteFile(bad, []byte("reference_cloud: reference.pcd\n"), 0o600), test.ShouldBeNil)
		err := NewApp(&bytes.Buffer{}, &bytes.Buffer{}).Run([]string{"pcdgrasp", "register", "-c", bad, sc.live})
		test.That(t, err, test.ShouldNotBeNil)
		test.That(t, err.Error(), test.ShouldContainSubstring, `"camera_to_base" is required`)
	})
}

func TestPreprocessAction(t *testing.T) {
	sc := writeScenario(t)
	outPath := filepath.Join(sc.dir, "down.pcd")

	out, errOut := &bytes.Buffer{}, &bytes.Buffer{}
	err := NewApp(out, errOut).Run([]string{
		"pcdgrasp", "--json", "preprocess", "--voxel", "0.01", "--normal-orientation", "centroid", sc.live, outPath,
	})
	test.That(t, err, test.ShouldBeNil)

	var summary struct {
		Points      int `json:"points"`
		Downsampled int `json:"downsampled"`
	}
	test.That(t, json.Unmarshal(out.Bytes(), &summary), test.ShouldBeNil)
	test.That(t, summary.Downsampled, test.ShouldBeGreaterThan, 0)
	test.That(t, summary.Downsampled, test.ShouldBeLessThan, summary.Points)

	cloud, err := pointcloud.NewFromFile(outPath, nil)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, cloud.Size(), test.ShouldEqual, summary.Downsampled)
	test.That(t, cloud.MetaData().HasNormal, test.ShouldBeTrue)

	out.Reset()
	err = NewApp(out, errOut).Run([]string{"pcdgrasp", "preprocess", sc.live, filepath.Join(sc.dir, "default.pcd")})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, out.String(), test.ShouldContainSubstring, "with normals written to")

	err = NewApp(out, errOut).Run([]string{"pcdgrasp", "preprocess", sc.live})
	test.That(t, err, test.ShouldBeError, "expected an input and an output file")

	err = NewApp(out, errOut).Run([]string{"pcdgrasp", "preprocess", "--normal-orientation", "inward", sc.live, outPath})
	test.That(t, err, test.ShouldNotBeNil)

	err = NewApp(out, errOut).Run([]string{"pcdgrasp", "preprocess", "--voxel", "-1", sc.live, outPath})
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "voxel_size must be positive")
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("timed out")
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func TestWatchAction(t *testing.T) {
	sc := writeScenario(t)
	watched := t.TempDir()
	out, errOut := &syncBuffer{}, &syncBuffer{}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() {
		done <- NewApp(out, errOut).RunContext(ctx, []string{
			"pcdgrasp", "--json", "watch", "-c", sc.config, "--settle", "50ms", watched,
		})
	}()
	waitFor(t, time.Minute, func() bool { return strings.Contains(errOut.String(), "watching") })

	data, err := os.ReadFile(sc.live)
	test.That(t, err, test.ShouldBeNil)
	tmp := filepath.Join(watched, "capture.tmp")
	test.That(t, os.WriteFile(tmp, data, 0o600), test.ShouldBeNil)
	test.That(t, os.WriteFile(filepath.Join(watched, "notes.txt"), []byte("ignored"), 0o600), test.ShouldBeNil)
	test.That(t, os.Rename(tmp, filepath.Join(watched, "capture.pcd")), test.ShouldBeNil)

	waitFor(t, time.Minute, func() bool { return strings.Contains(out.String(), "capture.pcd") })
	cancel()
	test.That(t, <-done, test.ShouldBeNil)

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	test.That(t, lines, test.ShouldHaveLength, 1)
	var got jsonOutcome
	test.That(t, json.Unmarshal([]byte(lines[0]), &got), test.ShouldBeNil)
	test.That(t, got.Status, test.ShouldEqual, "ok")
	checkPose(t, sc, got.Pose)

	err = NewApp(&bytes.Buffer{}, &bytes.Buffer{}).Run([]string{
		"pcdgrasp", "watch", "-c", sc.config, filepath.Join(watched, "missing"),
	})
	test.That(t, err, test.ShouldNotBeNil)
}

func TestSettler(t *testing.T) {
	ready := make(chan string, 4)
	done := make(chan struct{})
	defer close(done)
	s := newSettler(50*time.Millisecond, ready, done)

	s.touch("a.pcd")
	s.touch("a.pcd")
	s.touch("b.pcd")
	test.That(t, s.pending(), test.ShouldEqual, 2)

	got := map[string]int{}
	for i := 0; i < 2; i++ {
		select {
		case fn := <-ready:
			got[fn]++
		case <-time.After(5 * time.Second):
			t.Fatal("timed out")
		}
	}
	test.That(t, got, test.ShouldResemble, map[string]int{"a.pcd": 1, "b.pcd": 1})
	test.That(t, s.pending(), test.ShouldEqual, 0)

	s.touch("c.pcd")
	s.stop()
	test.That(t, s.pending(), test.ShouldEqual, 0)
	select {
	case fn := <-ready:
		t.Fatalf("unexpected %s after stop", fn)
	case <-time.After(150 * time.Millisecond):
	}
}

func TestIsCloudFile(t *testing.T) {
	test.That(t, isCloudFile("/data/a.pcd"), test.ShouldBeTrue)
	test.That(t, isCloudFile("b.PLY"), test.ShouldBeTrue)
	test.That(t, isCloudFile("c.las"), test.ShouldBeTrue)
	test.That(t, isCloudFile("d.txt"), test.ShouldBeFalse)
	test.That(t, isCloudFile("pcd"), test.ShouldBeFalse)
}

func TestOutcomeStatus(t *testing.T) {
	res := &grasp.Result{Fine: &registration.Result{Fitness: 0.4}}
	test.That(t, outcome{Result: res}.status(0), test.ShouldEqual, "ok")
	test.That(t, outcome{Result: res}.status(0.3), test.ShouldEqual, "ok")
	test.That(t, outcome{Result: res}.status(0.5), test.ShouldEqual, "low fitness")

	stageErr := registration.NewStageError(registration.StageCrop, registration.ErrInsufficientPoints, nil)
	test.That(t, outcome{Err: stageErr}.status(0), test.ShouldEqual, "failed at crop")
	test.That(t, outcome{Err: errors.New("no such file")}.status(0), test.ShouldEqual, "failed")

	out, errOut := &bytes.Buffer{}, &bytes.Buffer{}
	err := writeOutcomes(out, errOut, []outcome{
		{File: "/x/low.pcd", Result: &grasp.Result{Pose: grasp.Pose{Frame: "base"}, Fine: res.Fine}},
		{File: "/x/bad.pcd", Err: stageErr},
	}, 0.5, false)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, out.String(), test.ShouldContainSubstring, "low.pcd")
	test.That(t, out.String(), test.ShouldContainSubstring, "P95")
	test.That(t, out.String(), test.ShouldContainSubstring, "low fitness")
	test.That(t, out.String(), test.ShouldContainSubstring, "failed at crop")
	test.That(t, errOut.String(), test.ShouldContainSubstring, "fitness 0.400 is below 0.500")
	test.That(t, errOut.String(), test.ShouldContainSubstring, "/x/bad.pcd")
}
