package layout

import (
	"context"
	"fmt"
	"log"
	"math"

	"github.com/golang/geo/r3"
	"golang.org/x/sync/errgroup"
)

// RoomBatch is every layout of one room in one scene.
type RoomBatch struct {
	RoomID  string
	Layouts []*Layout
}

// Reconstruct runs RecomputeData on every layout using at most workers
// goroutines. Each layout is handled by exactly one goroutine.
func (rb *RoomBatch) Reconstruct(ctx context.Context, workers int) error {
	g, ctx := errgroup.WithContext(ctx)
	if workers > 0 {
		g.SetLimit(workers)
	}
	for _, ly := range rb.Layouts {
		ly := ly
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			return ly.RecomputeData()
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("room %s: %w", rb.RoomID, err)
	}
	return nil
}

// FilterOutNoisyLayouts drops layouts whose largest camera-to-boundary
// distance is not below maxRoomFactor times the batch median of those
// maxima. It returns the removed layouts.
func (rb *RoomBatch) FilterOutNoisyLayouts(maxRoomFactor float64) []*Layout {
	if len(rb.Layouts) == 0 {
		return nil
	}

	maxima := make([]float64, len(rb.Layouts))
	for i, ly := range rb.Layouts {
		if ly.CamToBoundary == nil {
			ly.ComputeCamToBoundary()
		}
		maxima[i] = ly.MaxCamToBoundary()
	}
	limit := maxRoomFactor * median(maxima)

	kept := rb.Layouts[:0:0]
	var removed []*Layout
	for i, ly := range rb.Layouts {
		if maxima[i] < limit {
			kept = append(kept, ly)
		} else {
			removed = append(removed, ly)
		}
	}
	log.Printf("[ROOM] %s: noisy-layout filter kept %d of %d (limit %.2fm)",
		rb.RoomID, len(kept), len(rb.Layouts), limit)
	rb.Layouts = kept
	return removed
}

// Normalize brings every floor boundary of the room into a common frame
// centred on the per-axis median of all floor points and scaled so the
// farthest point lies at horizontal distance 1. It returns the scale and
// center used.
func (rb *RoomBatch) Normalize() (float64, r3.Vector, error) {
	var xs, ys, zs []float64
	for _, ly := range rb.Layouts {
		for _, p := range ly.BoundaryFloor {
			xs = append(xs, p.X)
			ys = append(ys, p.Y)
			zs = append(zs, p.Z)
		}
	}
	if len(xs) == 0 {
		return 0, r3.Vector{}, fmt.Errorf("room %s: %w: no boundaries to normalize", rb.RoomID, ErrMissingData)
	}

	center := r3.Vector{X: median(xs), Y: median(ys), Z: median(zs)}
	scale := 0.0
	for i := range xs {
		scale = math.Max(scale, math.Hypot(xs[i]-center.X, zs[i]-center.Z))
	}
	if err := rb.NormalizeWith(scale, center); err != nil {
		return 0, r3.Vector{}, err
	}
	return scale, center, nil
}

// NormalizeWith applies a known scale and center to every layout.
func (rb *RoomBatch) NormalizeWith(scale float64, center r3.Vector) error {
	for _, ly := range rb.Layouts {
		if err := ly.NormalizeBoundaries(scale, center); err != nil {
			return fmt.Errorf("room %s: %w", rb.RoomID, err)
		}
	}
	return nil
}
