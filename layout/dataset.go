package layout

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/golang/geo/r3"
)

// GeometryInfo is the per-frame metadata stored in geometry_info/<id>.json.
type GeometryInfo struct {
	Translation  [3]float64 `json:"translation"`
	Quaternion   [4]float64 `json:"quaternion"` // x, y, z, w
	CameraHeight float64    `json:"cam_h"`
}

// Pose builds the camera pose described by the metadata.
func (g GeometryInfo) Pose(frameID string) (*CameraPose, error) {
	t := r3.Vector{X: g.Translation[0], Y: g.Translation[1], Z: g.Translation[2]}
	return PoseFromQuaternion(frameID, t, g.Quaternion)
}

// SceneList maps each room (scene_room) to its frames (scene_room_idx),
// keeping the order of the JSON file.
type SceneList struct {
	Rooms  []string
	Frames map[string][]string
}

// NumFrames counts frames across all rooms.
func (sl *SceneList) NumFrames() int {
	n := 0
	for _, fr := range sl.Frames {
		n += len(fr)
	}
	return n
}

// LoadSceneList reads a scene-list JSON object. Room order follows the file.
func LoadSceneList(path string) (*SceneList, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, missingFile(path, err)
	}
	defer f.Close()

	sl, err := decodeSceneList(f)
	if err != nil {
		return nil, fmt.Errorf("parsing scene list %s: %w", path, err)
	}
	return sl, nil
}

func decodeSceneList(r io.Reader) (*SceneList, error) {
	dec := json.NewDecoder(r)
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return nil, fmt.Errorf("expected a JSON object")
	}

	sl := &SceneList{Frames: make(map[string][]string)}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		room, ok := tok.(string)
		if !ok {
			return nil, fmt.Errorf("unexpected token %v", tok)
		}
		var frames []string
		if err := dec.Decode(&frames); err != nil {
			return nil, fmt.Errorf("room %s: %w", room, err)
		}
		if _, dup := sl.Frames[room]; !dup {
			sl.Rooms = append(sl.Rooms, room)
		}
		sl.Frames[room] = frames
	}
	return sl, nil
}

// RoomFromFrameID strips the trailing frame index from scene_room_idx.
func RoomFromFrameID(id string) string {
	if i := strings.LastIndexByte(id, '_'); i >= 0 {
		return id[:i]
	}
	return id
}

// FrameIndexFromID parses the trailing index of scene_room_idx.
func FrameIndexFromID(id string) (int, error) {
	id = strings.TrimSuffix(id, filepath.Ext(id))
	i := strings.LastIndexByte(id, '_')
	return strconv.Atoi(id[i+1:])
}

// Dataset is a multi-view layout dataset on disk:
//
//	<dataDir>/geometry_info/<id>.json
//	<dataDir>/img/<id>.jpg
//	<dataDir>/<labelsDir>/<id>.npz
type Dataset struct {
	Config DatasetConfig
	Scenes *SceneList

	geometryDir string
	imageDir    string
}

// OpenDataset checks the directory layout and loads the scene list.
func OpenDataset(cfg DatasetConfig) (*Dataset, error) {
	ds := &Dataset{
		Config:      cfg,
		geometryDir: filepath.Join(cfg.DataDir, "geometry_info"),
		imageDir:    filepath.Join(cfg.DataDir, "img"),
	}
	for _, dir := range []string{ds.geometryDir, ds.imageDir} {
		if st, err := os.Stat(dir); err != nil || !st.IsDir() {
			return nil, fmt.Errorf("%w: directory %s", ErrMissingData, dir)
		}
	}

	scenes, err := LoadSceneList(cfg.SceneList)
	if err != nil {
		return nil, err
	}
	ds.Scenes = scenes
	log.Printf("[DATASET] %s: %d rooms, %d frames", cfg.DataDir, len(scenes.Rooms), scenes.NumFrames())
	return ds, nil
}

// LabelsDir is the ground-truth directory.
func (ds *Dataset) LabelsDir() string {
	if filepath.IsAbs(ds.Config.LabelsDir) {
		return ds.Config.LabelsDir
	}
	return filepath.Join(ds.Config.DataDir, ds.Config.LabelsDir)
}

// LoadGeometryInfo reads geometry_info/<id>.json.
func (ds *Dataset) LoadGeometryInfo(id string) (GeometryInfo, error) {
	return ReadGeometryInfo(filepath.Join(ds.geometryDir, id+".json"))
}

// ReadGeometryInfo parses one geometry-info file.
func ReadGeometryInfo(path string) (GeometryInfo, error) {
	var g GeometryInfo
	data, err := os.ReadFile(path)
	if err != nil {
		return g, missingFile(path, err)
	}
	if err := json.Unmarshal(data, &g); err != nil {
		return g, fmt.Errorf("parsing %s: %w", path, err)
	}
	return g, nil
}

// Room loads every layout of a room in scene-list order. A missing image or
// geometry file aborts with an error naming the frame.
func (ds *Dataset) Room(roomID string) (*RoomBatch, error) {
	frames, ok := ds.Scenes.Frames[roomID]
	if !ok {
		return nil, fmt.Errorf("%w: room %s not in scene list", ErrMissingData, roomID)
	}

	rb := &RoomBatch{RoomID: roomID, Layouts: make([]*Layout, 0, len(frames))}
	for _, fr := range frames {
		id := strings.TrimSuffix(fr, filepath.Ext(fr))

		img := filepath.Join(ds.imageDir, id+".jpg")
		if _, err := os.Stat(img); err != nil {
			return nil, fmt.Errorf("frame %s: %w", id, missingFile(img, err))
		}
		geom, err := ds.LoadGeometryInfo(id)
		if err != nil {
			return nil, fmt.Errorf("frame %s: %w", id, err)
		}
		pose, err := geom.Pose(id)
		if err != nil {
			return nil, err
		}

		ly := NewLayout(id, roomID, pose, geom.CameraHeight)
		ly.ImagePath = img
		rb.Layouts = append(rb.Layouts, ly)
	}
	return rb, nil
}

// Rooms loads every room in scene-list order.
func (ds *Dataset) Rooms() ([]*RoomBatch, error) {
	rooms := make([]*RoomBatch, 0, len(ds.Scenes.Rooms))
	for _, id := range ds.Scenes.Rooms {
		rb, err := ds.Room(id)
		if err != nil {
			return nil, err
		}
		rooms = append(rooms, rb)
	}
	return rooms, nil
}

// Check reports every frame whose geometry info or image is missing. It
// returns nil when the dataset is complete.
func (ds *Dataset) Check() error {
	var errs []error
	for _, room := range ds.Scenes.Rooms {
		for _, fr := range ds.Scenes.Frames[room] {
			id := strings.TrimSuffix(fr, filepath.Ext(fr))
			for _, path := range []string{
				filepath.Join(ds.geometryDir, id+".json"),
				filepath.Join(ds.imageDir, id+".jpg"),
			} {
				if _, err := os.Stat(path); err != nil {
					errs = append(errs, fmt.Errorf("%w: %s", ErrMissingData, path))
				}
			}
		}
	}
	return errors.Join(errs...)
}
