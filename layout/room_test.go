package layout

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/golang/geo/r3"
	"github.com/paulmach/orb"
)

func squareRoomBatch(halves ...float64) *RoomBatch {
	rb := &RoomBatch{RoomID: "scene_room0"}
	for i, h := range halves {
		ly := NewLayout("scene_room0_"+string(rune('0'+i)), rb.RoomID, nil, 1.5)
		ly.PhiCoords = squareRoomPhi(64, h, 1.5, 1.2)
		rb.Layouts = append(rb.Layouts, ly)
	}
	return rb
}

func TestRoomBatch_Reconstruct(t *testing.T) {
	rb := squareRoomBatch(2, 2, 2, 2, 2)
	if err := rb.Reconstruct(context.Background(), 2); err != nil {
		t.Fatal(err)
	}
	for _, ly := range rb.Layouts {
		if ly.Frame != FrameWorld || len(ly.BoundaryFloor) != 64 {
			t.Errorf("layout %s not reconstructed", ly.ID)
		}
	}
}

func TestRoomBatch_ReconstructError(t *testing.T) {
	rb := squareRoomBatch(2, 2)
	rb.Layouts[1].PhiCoords.Floor = nil
	err := rb.Reconstruct(context.Background(), 0)
	if !errors.Is(err, ErrInvalidPhiCoords) {
		t.Errorf("err = %v, want ErrInvalidPhiCoords", err)
	}
}

func TestRoomBatch_ReconstructCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := squareRoomBatch(2, 2).Reconstruct(ctx, 1); !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

func TestFilterOutNoisyLayouts(t *testing.T) {
	rb := squareRoomBatch(2, 2, 20, 2)
	if err := rb.Reconstruct(context.Background(), 4); err != nil {
		t.Fatal(err)
	}

	removed := rb.FilterOutNoisyLayouts(2)
	if len(removed) != 1 || removed[0].ID != "scene_room0_2" {
		t.Fatalf("removed = %v, want the 10x layout", removed)
	}
	if len(rb.Layouts) != 3 {
		t.Errorf("kept %d layouts, want 3", len(rb.Layouts))
	}

	// a uniform room keeps everything
	if removed := rb.FilterOutNoisyLayouts(2); len(removed) != 0 {
		t.Errorf("second pass removed %d", len(removed))
	}
	if removed := (&RoomBatch{}).FilterOutNoisyLayouts(2); removed != nil {
		t.Errorf("empty batch removed %v", removed)
	}
}

func TestFilterOutNoisyLayouts_StrictLimit(t *testing.T) {
	rb := squareRoomBatch(2, 2, 2)
	if err := rb.Reconstruct(context.Background(), 1); err != nil {
		t.Fatal(err)
	}
	// every maximum equals the median: factor 1 removes them all
	if removed := rb.FilterOutNoisyLayouts(1); len(removed) != 3 {
		t.Errorf("factor 1 removed %d, want 3", len(removed))
	}
}

func TestRoomBatch_Normalize(t *testing.T) {
	rb := squareRoomBatch(2, 2)
	if err := rb.Reconstruct(context.Background(), 1); err != nil {
		t.Fatal(err)
	}
	scale, center, err := rb.Normalize()
	if err != nil {
		t.Fatal(err)
	}
	if !approxEqual(scale, 2*math.Sqrt2, 1e-6) {
		t.Errorf("scale = %v, want %v", scale, 2*math.Sqrt2)
	}
	if !vecApproxEqual(center, r3.Vector{Y: 1.5}, 1e-6) {
		t.Errorf("center = %v, want (0, 1.5, 0)", center)
	}
	for _, ly := range rb.Layouts {
		for _, p := range ly.BoundaryFloor {
			if normXZ(p) > 1+1e-9 {
				t.Fatalf("normalized point %v outside the unit disc", p)
			}
		}
	}

	if _, _, err := (&RoomBatch{RoomID: "empty"}).Normalize(); !errors.Is(err, ErrMissingData) {
		t.Errorf("empty room err = %v, want ErrMissingData", err)
	}
}

func TestValidateFootprint(t *testing.T) {
	tests := []struct {
		name    string
		ring    orb.Ring
		wantErr bool
	}{
		{"square", orb.Ring{{0, 0}, {1, 0}, {1, 1}, {0, 1}}, false},
		{"closed square", orb.Ring{{0, 0}, {1, 0}, {1, 1}, {0, 1}, {0, 0}}, false},
		{"duplicate vertices", orb.Ring{{0, 0}, {0, 0}, {1, 0}, {1, 1}, {0, 1}}, false},
		{"two vertices", orb.Ring{{0, 0}, {1, 0}}, true},
		{"bowtie", orb.Ring{{0, 0}, {1, 1}, {1, 0}, {0, 1}}, true},
		{"spike touches edge", orb.Ring{{0, 0}, {2, 0}, {2, 2}, {1, 0}, {0, 2}}, true},
		{"NaN", orb.Ring{{0, 0}, {1, math.NaN()}, {1, 1}}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateFootprint(tt.ring)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateFootprint() err = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
