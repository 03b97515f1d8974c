package layout

import (
	"encoding/json"
	"fmt"
	"log"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"time"
)

// minRoomFrames is the smallest room the camera-height pipeline will fit.
const minRoomFrames = 5

// NewRand returns a random source for stream number stream. A zero seed
// draws from the clock, so runs are not reproducible.
func NewRand(seed int64, stream int) *rand.Rand {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return rand.New(rand.NewSource(seed + int64(stream)))
}

// RoomCameraHeight is the floor level found for one room.
type RoomCameraHeight struct {
	RoomID string `json:"room"`
	// FloorLevel is the floor's world y (camera Y points down): a frame's
	// camera height is FloorLevel - t_y.
	FloorLevel float64 `json:"cam_h_wc"`
	Frames     int     `json:"frames"`
}

// EstimateRoomCameraHeights fits the floor of every room in rooms that has
// at least five frames in scene. Rooms are processed in order and room i
// draws randomness from stream i of seed.
func EstimateRoomCameraHeights(scene *RGBDScene, rooms *SceneList, cfg CameraHeightConfig, seed int64) ([]RoomCameraHeight, error) {
	var out []RoomCameraHeight
	for i, room := range rooms.Rooms {
		frames, err := roomFrames(scene, rooms.Frames[room])
		if err != nil {
			return nil, fmt.Errorf("room %s: %w", room, err)
		}
		if len(frames) < minRoomFrames {
			log.Printf("[CAM-H] room %s: %d frames, skipping", room, len(frames))
			continue
		}

		est := NewGroundPlaneEstimator(cfg, NewRand(seed, i))
		h, err := est.Estimate(frames)
		if err != nil {
			return nil, fmt.Errorf("room %s: %w", room, err)
		}
		log.Printf("[CAM-H] room %s: floor level %.3f m from %d frames", room, h, len(frames))
		out = append(out, RoomCameraHeight{RoomID: room, FloorLevel: h, Frames: len(frames)})
	}
	return out, nil
}

func roomFrames(scene *RGBDScene, ids []string) ([]PosedFrame, error) {
	want := make([]int, 0, len(ids))
	for _, id := range ids {
		idx, err := FrameIndexFromID(id)
		if err != nil {
			return nil, fmt.Errorf("frame %s: %w", id, err)
		}
		want = append(want, idx)
	}
	var frames []PosedFrame
	for _, fr := range scene.FramesByIndex(want) {
		frames = append(frames, fr)
	}
	return frames, nil
}

// GeometryInfoRecords derives the per-frame metadata of every room with a
// known floor level. Keys are <room>_<index>.
func GeometryInfoRecords(scene *RGBDScene, rooms *SceneList, heights []RoomCameraHeight) (map[string]GeometryInfo, error) {
	records := make(map[string]GeometryInfo)
	for _, rh := range heights {
		frames, err := roomFrames(scene, rooms.Frames[rh.RoomID])
		if err != nil {
			return nil, err
		}
		for _, pf := range frames {
			fr := pf.(*RGBDFrame)
			t := fr.Pose().Translation()
			records[fmt.Sprintf("%s_%d", rh.RoomID, fr.Index)] = GeometryInfo{
				Translation:  [3]float64{t.X, t.Y, t.Z},
				Quaternion:   fr.Pose().Quaternion(),
				CameraHeight: rh.FloorLevel - t.Y,
			}
		}
	}
	return records, nil
}

// WriteGeometryInfo stores one <id>.json per record under dir.
func WriteGeometryInfo(dir string, records map[string]GeometryInfo) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating %s: %w", dir, err)
	}
	ids := make([]string, 0, len(records))
	for id := range records {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		data, err := json.MarshalIndent(records[id], "", "\t")
		if err != nil {
			return err
		}
		if err := os.WriteFile(filepath.Join(dir, id+".json"), data, 0644); err != nil {
			return fmt.Errorf("writing geometry info %s: %w", id, err)
		}
	}
	log.Printf("[DATASET] wrote %d geometry-info files to %s", len(ids), dir)
	return nil
}
