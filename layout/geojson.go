package layout

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/orb/simplify"
)

// RoomGeoJSON exports the floor footprints of a reconstructed room as one
// polygon feature per layout, in the room's XZ plane. A positive tolerance
// simplifies each outline with Douglas-Peucker; the recorded area is always
// that of the full-resolution footprint.
func RoomGeoJSON(rb *RoomBatch, tolerance float64) *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	for _, ly := range rb.Layouts {
		if len(ly.BoundaryFloor) == 0 {
			continue
		}
		ring, err := cleanRing(ly.FloorFootprint())
		if err != nil || len(ring) < 3 {
			continue
		}
		area := ringArea(ring)

		outline := append(ring.Clone(), ring[0])
		if tolerance > 0 {
			if s, ok := simplify.DouglasPeucker(tolerance).Simplify(outline.Clone()).(orb.Ring); ok && len(s) >= 4 {
				outline = s
			}
		}

		f := geojson.NewFeature(orb.Polygon{outline})
		f.ID = ly.ID
		f.Properties["id"] = ly.ID
		f.Properties["room"] = rb.RoomID
		f.Properties["frame"] = ly.Frame.String()
		f.Properties["cameraHeight"] = ly.CameraHeight
		f.Properties["area"] = area
		f.Properties["vertices"] = len(outline) - 1
		if len(ly.InvalidColumns) > 0 {
			f.Properties["invalidColumns"] = len(ly.InvalidColumns)
		}
		fc.Append(f)
	}
	return fc
}

// WriteGeoJSON stores a feature collection at path.
func WriteGeoJSON(path string, fc *geojson.FeatureCollection) error {
	data, err := fc.MarshalJSON()
	if err != nil {
		return fmt.Errorf("marshal geojson: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write geojson: %w", err)
	}
	return nil
}
