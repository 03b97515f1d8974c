package layout

import (
	"context"
	"fmt"
	"log"
	"time"

	"golang.org/x/sync/errgroup"
)

// EstimateSource provides the model's boundary estimate for a frame.
type EstimateSource interface {
	Estimate(id string) (PhiCoords, error)
}

// DirEstimates reads estimates from <Dir>/<id>.npy or .npz.
type DirEstimates struct {
	Dir string
}

func (d DirEstimates) Estimate(id string) (PhiCoords, error) {
	return FindEstimate(d.Dir, id)
}

// GroundTruthEstimates serves the ground truth itself as the estimate,
// which is how a dataset's labels are sanity-checked.
type GroundTruthEstimates struct {
	LabelsDir string
}

func (g GroundTruthEstimates) Estimate(id string) (PhiCoords, error) {
	return FindEstimate(g.LabelsDir, id)
}

// Benchmark scores every frame of a dataset against its ground truth.
type Benchmark struct {
	Dataset   *Dataset
	Estimates EstimateSource
	Config    EvaluationConfig
	Store     *ResultStore
}

// NewBenchmark wires a dataset, an estimate source and a result store.
func NewBenchmark(ds *Dataset, est EstimateSource, cfg EvaluationConfig) *Benchmark {
	return &Benchmark{
		Dataset:   ds,
		Estimates: est,
		Config:    cfg,
		Store:     NewResultStore(cfg.SentinelPolicy),
	}
}

// Run evaluates all rooms in scene-list order. Missing files or malformed
// arrays abort the run; degenerate geometry only lowers the frame's score.
func (b *Benchmark) Run(ctx context.Context) ([]FrameResult, error) {
	start := time.Now()
	for _, roomID := range b.Dataset.Scenes.Rooms {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := b.RunRoom(ctx, roomID); err != nil {
			return nil, err
		}
	}

	results := b.Store.Results()
	s := b.Store.Summary()
	log.Printf("[EVAL] %d frames in %s: 2D IoU %.4f, 3D IoU %.4f (%d invalid ground truths, policy %s)",
		s.Frames, time.Since(start).Round(time.Millisecond), s.Mean2D, s.Mean3D, s.Skipped, s.Policy)
	return results, nil
}

// RunRoom loads and scores one room. Every frame is scored against its own
// ground truth; out-of-range estimates are scored as they are.
func (b *Benchmark) RunRoom(ctx context.Context, roomID string) error {
	rb, err := b.Dataset.Room(roomID)
	if err != nil {
		return err
	}

	ests := make(map[string]PhiCoords, len(rb.Layouts))
	truths := make(map[string]PhiCoords, len(rb.Layouts))
	for _, ly := range rb.Layouts {
		est, err := b.Estimates.Estimate(ly.ID)
		if err != nil {
			return fmt.Errorf("frame %s: estimate: %w", ly.ID, err)
		}
		if err := checkShape(est); err != nil {
			return fmt.Errorf("frame %s: estimate: %w", ly.ID, err)
		}
		ests[ly.ID] = est

		gt, err := FindPhiCoords(b.Dataset.LabelsDir(), ly.ID)
		if err != nil {
			return fmt.Errorf("frame %s: ground truth: %w", ly.ID, err)
		}
		truths[ly.ID] = gt
	}

	g, ctx := errgroup.WithContext(ctx)
	if b.Config.Workers > 0 {
		g.SetLimit(b.Config.Workers)
	}
	for _, ly := range rb.Layouts {
		ly := ly
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			est, gt := ests[ly.ID], truths[ly.ID]
			score, err := Evaluate(est, gt, ly.CameraHeight)
			if err != nil {
				return fmt.Errorf("frame %s: %w", ly.ID, err)
			}
			res := FrameResult{ID: ly.ID, RoomID: roomID, CameraHeight: ly.CameraHeight, IoU: score}
			b.Store.Put(res, est, gt)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("room %s: %w", roomID, err)
	}

	s := Summarize(b.Store.RoomResults(roomID), b.Config.SentinelPolicy)
	log.Printf("[ROOM] %s: %d frames, 2D IoU %.4f, 3D IoU %.4f", roomID, s.Frames, s.Mean2D, s.Mean3D)
	return nil
}

// ScoreFrame scores a single estimate that arrived outside a batch run, such
// as one streamed over MQTT.
func (b *Benchmark) ScoreFrame(id string, est PhiCoords) (FrameResult, error) {
	if err := checkShape(est); err != nil {
		return FrameResult{}, fmt.Errorf("frame %s: estimate: %w", id, err)
	}
	geom, err := b.Dataset.LoadGeometryInfo(id)
	if err != nil {
		return FrameResult{}, fmt.Errorf("frame %s: %w", id, err)
	}
	gt, err := FindPhiCoords(b.Dataset.LabelsDir(), id)
	if err != nil {
		return FrameResult{}, fmt.Errorf("frame %s: ground truth: %w", id, err)
	}
	score, err := Evaluate(est, gt, geom.CameraHeight)
	if err != nil {
		return FrameResult{}, fmt.Errorf("frame %s: %w", id, err)
	}

	res := FrameResult{
		ID:           id,
		RoomID:       RoomFromFrameID(id),
		CameraHeight: geom.CameraHeight,
		IoU:          score,
		Timestamp:    time.Now(),
	}
	b.Store.Put(res, est, gt)
	return res, nil
}
