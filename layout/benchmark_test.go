package layout

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
)

// writeBenchmarkRoom creates a three-frame room with square ground truth and
// returns the opened dataset.
func writeBenchmarkRoom(t *testing.T) *Dataset {
	t.Helper()
	dir := t.TempDir()
	ids := []string{"scene_room0_0", "scene_room0_1", "scene_room0_2"}
	writeJSON(t, filepath.Join(dir, "scene_list.json"), map[string][]string{"scene_room0": ids})

	labels := filepath.Join(dir, "labels", "gt")
	if err := os.MkdirAll(labels, 0755); err != nil {
		t.Fatal(err)
	}
	for i, id := range ids {
		writeJSON(t, filepath.Join(dir, "geometry_info", id+".json"), GeometryInfo{
			Translation:  [3]float64{0.2 * float64(i), 0, 0},
			Quaternion:   [4]float64{0, 0, 0, 1},
			CameraHeight: 1.5,
		})
		writeJPEG(t, filepath.Join(dir, "img", id+".jpg"), 8, 4)
		if err := SavePhiCoords(filepath.Join(labels, id+".npy"), squareRoomPhi(64, 2, 1.5, 1.2)); err != nil {
			t.Fatal(err)
		}
	}

	cfg := DefaultConfig().Dataset
	cfg.DataDir = dir
	cfg.SceneList = filepath.Join(dir, "scene_list.json")
	ds, err := OpenDataset(cfg)
	if err != nil {
		t.Fatal(err)
	}
	return ds
}

func TestBenchmark_GroundTruthScoresOne(t *testing.T) {
	ds := writeBenchmarkRoom(t)
	cfg := DefaultConfig().Evaluation
	cfg.Workers = 2
	b := NewBenchmark(ds, GroundTruthEstimates{LabelsDir: ds.LabelsDir()}, cfg)

	results, err := b.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("got %d results, want 3", len(results))
	}
	for _, r := range results {
		if r.IoU.IoU2D != 1 || r.IoU.IoU3D != 1 {
			t.Errorf("%s = %+v, want (1, 1)", r.ID, r)
		}
		if r.RoomID != "scene_room0" || r.CameraHeight != 1.5 {
			t.Errorf("%s metadata = %+v", r.ID, r)
		}
	}
	if s := b.Store.Summary(); s.Mean2D != 1 || s.Mean3D != 1 {
		t.Errorf("summary = %+v", s)
	}
}

func TestBenchmark_OutlierLayoutKeepsPartialCredit(t *testing.T) {
	ds := writeBenchmarkRoom(t)
	estDir := t.TempDir()
	halves := []float64{1.8, 1.8, 4.5}
	for i, half := range halves {
		path := filepath.Join(estDir, fmt.Sprintf("scene_room0_%d.npy", i))
		if err := SavePhiCoords(path, squareRoomPhi(64, half, 1.5, 1.2)); err != nil {
			t.Fatal(err)
		}
	}

	b := NewBenchmark(ds, DirEstimates{Dir: estDir}, DefaultConfig().Evaluation)
	results, err := b.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 3 {
		t.Fatalf("got %d results, want 3", len(results))
	}

	gt := squareRoomPhi(64, 2, 1.5, 1.2)
	var sum2D float64
	for i, r := range results {
		want, err := Evaluate(squareRoomPhi(64, halves[i], 1.5, 1.2), gt, 1.5)
		if err != nil {
			t.Fatal(err)
		}
		if !approxEqual(r.IoU.IoU2D, want.IoU2D, 1e-12) || !approxEqual(r.IoU.IoU3D, want.IoU3D, 1e-12) {
			t.Errorf("%s = %+v, want %+v", r.ID, r.IoU, want)
		}
		sum2D += r.IoU.IoU2D
	}

	// 4x4 inside 9x9, more than twice the room median
	if outlier := results[2].IoU.IoU2D; !approxEqual(outlier, 16.0/81, 0.005) {
		t.Errorf("outlier 2D IoU = %v, want %v", outlier, 16.0/81)
	}
	if s := b.Store.Summary(); !approxEqual(s.Mean2D, sum2D/3, 1e-12) || !approxEqual(s.Mean2D, 0.606, 0.005) {
		t.Errorf("mean 2D IoU = %v, want %v", s.Mean2D, sum2D/3)
	}
}

func TestBenchmark_OutOfRangeEstimateIsScored(t *testing.T) {
	ds := writeBenchmarkRoom(t)
	estDir := t.TempDir()
	for i := 0; i < 3; i++ {
		path := filepath.Join(estDir, fmt.Sprintf("scene_room0_%d.npy", i))
		if err := SavePhiCoords(path, squareRoomPhi(64, 2, 1.5, 1.2)); err != nil {
			t.Fatal(err)
		}
	}
	// a ceiling angle past -π/2 fails range validation
	wild := squareRoomPhi(64, 2, 1.5, 1.2)
	wild.Ceiling[7] = -1.7
	writeRawPhi(t, filepath.Join(estDir, "scene_room0_1.npy"), wild)

	b := NewBenchmark(ds, DirEstimates{Dir: estDir}, DefaultConfig().Evaluation)
	results, err := b.Run(context.Background())
	if err != nil {
		t.Fatalf("Run aborted on an out-of-range estimate: %v", err)
	}
	want, err := Evaluate(wild, squareRoomPhi(64, 2, 1.5, 1.2), 1.5)
	if err != nil {
		t.Fatal(err)
	}
	if results[1].IoU != want {
		t.Errorf("%s = %+v, want %+v", results[1].ID, results[1].IoU, want)
	}
	if results[0].IoU.IoU2D != 1 {
		t.Errorf("%s = %+v, want 2D IoU 1", results[0].ID, results[0].IoU)
	}
}

func TestBenchmark_MissingEstimateAborts(t *testing.T) {
	ds := writeBenchmarkRoom(t)
	b := NewBenchmark(ds, DirEstimates{Dir: t.TempDir()}, DefaultConfig().Evaluation)
	if _, err := b.Run(context.Background()); !errors.Is(err, ErrMissingData) {
		t.Errorf("err = %v, want ErrMissingData", err)
	}
}

func TestBenchmark_ScoreFrame(t *testing.T) {
	ds := writeBenchmarkRoom(t)
	b := NewBenchmark(ds, nil, DefaultConfig().Evaluation)

	res, err := b.ScoreFrame("scene_room0_1", squareRoomPhi(64, 1.8, 1.5, 1.2))
	if err != nil {
		t.Fatal(err)
	}
	if res.RoomID != "scene_room0" || !approxEqual(res.IoU.IoU2D, 0.81, 0.01) {
		t.Errorf("ScoreFrame = %+v", res)
	}
	if got, ok := b.Store.Get("scene_room0_1"); !ok || got.IoU != res.IoU {
		t.Errorf("stored result = %+v, %v", got, ok)
	}

	if _, err := b.ScoreFrame("scene_room0_9", squareRoomPhi(64, 2, 1.5, 1.2)); !errors.Is(err, ErrMissingData) {
		t.Errorf("unknown frame err = %v, want ErrMissingData", err)
	}
	if _, err := b.ScoreFrame("scene_room0_1", PhiCoords{Floor: []float64{0.3}}); !errors.Is(err, ErrInvalidPhiCoords) {
		t.Errorf("bad shape err = %v, want ErrInvalidPhiCoords", err)
	}
}
