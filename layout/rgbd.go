package layout

import (
	"bufio"
	"fmt"
	"image"
	"image/color"
	_ "image/jpeg"
	"image/png"
	"log"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/golang/geo/r3"
	"golang.org/x/image/tiff"
)

// DatasetKind tags the on-disk variant of an RGB-D scene.
type DatasetKind int

const (
	// KindMP3DFPE scenes carry a vo_* directory with a key-frame list and
	// PNG color images.
	KindMP3DFPE DatasetKind = iota
	// KindHM3DMVL scenes use every JPEG in rgb/.
	KindHM3DMVL
)

func (k DatasetKind) String() string {
	switch k {
	case KindMP3DFPE:
		return "MP3D-FPE"
	case KindHM3DMVL:
		return "HM3D-MVL"
	default:
		return fmt.Sprintf("DatasetKind(%d)", int(k))
	}
}

func (k DatasetKind) rgbExt() string {
	if k == KindMP3DFPE {
		return ".png"
	}
	return ".jpg"
}

// DetectDatasetKind inspects sceneDir once: a vo_* directory means MP3D-FPE.
func DetectDatasetKind(sceneDir string) DatasetKind {
	matches, _ := filepath.Glob(filepath.Join(sceneDir, "vo_*"))
	for _, m := range matches {
		if st, err := os.Stat(m); err == nil && st.IsDir() {
			return KindMP3DFPE
		}
	}
	return KindHM3DMVL
}

// TrajectoryPose is one row of a TUM trajectory file.
type TrajectoryPose struct {
	Stamp float64
	Pose  *CameraPose
}

// ReadTrajectory parses a TUM-format trajectory
// ("stamp tx ty tz qx qy qz qw", separated by spaces, tabs or commas).
// Comment lines, rows with an all-zero quaternion and rows with NaNs are
// skipped.
func ReadTrajectory(path string) ([]TrajectoryPose, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, missingFile(path, err)
	}
	defer f.Close()

	var out []TrajectoryPose
	sc := bufio.NewScanner(f)
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		fields := strings.FieldsFunc(text, func(r rune) bool {
			return r == ' ' || r == '\t' || r == ','
		})
		if len(fields) < 8 {
			return nil, fmt.Errorf("%s:%d: expected 8 values, got %d", path, line, len(fields))
		}
		var v [8]float64
		hasNaN := false
		for i := range v {
			v[i], err = strconv.ParseFloat(fields[i], 64)
			if err != nil {
				return nil, fmt.Errorf("%s:%d: %w", path, line, err)
			}
			hasNaN = hasNaN || math.IsNaN(v[i])
		}
		if hasNaN {
			log.Printf("[DATASET] %s:%d has NaNs, skipping", path, line)
			continue
		}
		if v[4] == 0 && v[5] == 0 && v[6] == 0 && v[7] == 0 {
			continue
		}

		id := strconv.FormatFloat(v[0], 'f', -1, 64)
		pose, err := PoseFromQuaternion(id, r3.Vector{X: v[1], Y: v[2], Z: v[3]}, [4]float64{v[4], v[5], v[6], v[7]})
		if err != nil {
			return nil, fmt.Errorf("%s:%d: %w", path, line, err)
		}
		out = append(out, TrajectoryPose{Stamp: v[0], Pose: pose})
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	return out, nil
}

// RGBDScene is one scan directory of posed panoramic RGB-D frames.
type RGBDScene struct {
	Dir    string
	Name   string // last two path elements joined by "_"
	Kind   DatasetKind
	Frames []*RGBDFrame
}

// OpenRGBDScene indexes a scene directory:
//
//	rgb/<idx>.png|jpg
//	depth/tiff/<idx>.tiff
//	frm_ref.txt
//	vo_*/keyframe_list.txt (MP3D-FPE only)
//
// Images are loaded lazily.
func OpenRGBDScene(dir string, shape ImageShape, depthScale float64) (*RGBDScene, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}
	rgbDir := filepath.Join(abs, "rgb")
	depthDir := filepath.Join(abs, "depth", "tiff")
	for _, d := range []string{rgbDir, depthDir} {
		if st, err := os.Stat(d); err != nil || !st.IsDir() {
			return nil, fmt.Errorf("%w: directory %s", ErrMissingData, d)
		}
	}

	kind := DetectDatasetKind(abs)
	keyframes, indices, err := listKeyframes(abs, rgbDir, kind)
	if err != nil {
		return nil, err
	}

	traj, err := ReadTrajectory(filepath.Join(abs, "frm_ref.txt"))
	if err != nil {
		return nil, err
	}

	scene := &RGBDScene{
		Dir:  abs,
		Name: filepath.Base(filepath.Dir(abs)) + "_" + filepath.Base(abs),
		Kind: kind,
	}
	camera := NewSphericalCamera(shape)
	for i, kf := range keyframes {
		idx := indices[i]
		if idx < 0 || idx >= len(traj) {
			return nil, fmt.Errorf("%w: key frame %d has no pose (trajectory has %d rows)", ErrMissingData, kf, len(traj))
		}
		pose := traj[idx].Pose.Clone()
		pose.FrameID = strconv.Itoa(kf)
		scene.Frames = append(scene.Frames, &RGBDFrame{
			Index:      kf,
			RGBPath:    filepath.Join(rgbDir, strconv.Itoa(kf)+kind.rgbExt()),
			DepthPath:  filepath.Join(depthDir, strconv.Itoa(kf)+".tiff"),
			DepthScale: depthScale,
			Camera:     camera,
			pose:       pose,
		})
	}
	log.Printf("[DATASET] %s scene %s: %d frames", kind, scene.Name, len(scene.Frames))
	return scene, nil
}

// listKeyframes returns the sorted key-frame numbers and their rows in the
// trajectory file.
func listKeyframes(sceneDir, rgbDir string, kind DatasetKind) ([]int, []int, error) {
	var kfs []int
	offset := 0
	switch kind {
	case KindMP3DFPE:
		matches, _ := filepath.Glob(filepath.Join(sceneDir, "vo_*", "keyframe_list.txt"))
		if len(matches) == 0 {
			return nil, nil, fmt.Errorf("%w: keyframe_list.txt under %s", ErrMissingData, sceneDir)
		}
		data, err := os.ReadFile(matches[0])
		if err != nil {
			return nil, nil, err
		}
		for _, l := range strings.Fields(string(data)) {
			kf, err := strconv.Atoi(l)
			if err != nil {
				return nil, nil, fmt.Errorf("%s: %w", matches[0], err)
			}
			kfs = append(kfs, kf)
		}
		// key frames are 1-based
		offset = -1
	case KindHM3DMVL:
		entries, err := os.ReadDir(rgbDir)
		if err != nil {
			return nil, nil, err
		}
		for _, e := range entries {
			name := e.Name()
			kf, err := strconv.Atoi(strings.SplitN(name, ".", 2)[0])
			if err != nil {
				continue
			}
			kfs = append(kfs, kf)
		}
	}

	sort.Ints(kfs)
	idx := make([]int, len(kfs))
	for i, kf := range kfs {
		idx[i] = kf + offset
	}
	return kfs, idx, nil
}

// FramesByIndex returns the frames whose index is in want, sorted by index.
func (s *RGBDScene) FramesByIndex(want []int) []*RGBDFrame {
	set := make(map[int]bool, len(want))
	for _, w := range want {
		set[w] = true
	}
	var out []*RGBDFrame
	for _, fr := range s.Frames {
		if set[fr.Index] {
			out = append(out, fr)
		}
	}
	return out
}

// RGBDFrame is one posed panorama with a depth map. Depth and color are read
// on first use.
type RGBDFrame struct {
	Index      int
	RGBPath    string
	DepthPath  string
	DepthScale float64 // metres per stored depth unit
	Camera     *SphericalCamera

	pose  *CameraPose
	depth *DepthMap
	rgb   image.Image
	cloud *PointCloud
}

// NewRGBDFrame builds an in-memory frame from an already loaded depth map.
func NewRGBDFrame(index int, pose *CameraPose, depth *DepthMap, rgb image.Image) *RGBDFrame {
	return &RGBDFrame{
		Index:  index,
		Camera: NewSphericalCamera(ImageShape{Height: depth.Height, Width: depth.Width}),
		pose:   pose,
		depth:  depth,
		rgb:    rgb,
	}
}

func (fr *RGBDFrame) FrameID() string    { return strconv.Itoa(fr.Index) }
func (fr *RGBDFrame) Pose() *CameraPose { return fr.pose }

// Depth returns the range image, loading it if needed.
func (fr *RGBDFrame) Depth() (*DepthMap, error) {
	if fr.depth == nil {
		d, err := LoadDepthMap(fr.DepthPath, fr.DepthScale)
		if err != nil {
			return nil, err
		}
		fr.depth = d
	}
	return fr.depth, nil
}

// RGB returns the color panorama, loading it if needed. A frame without an
// RGB path returns nil.
func (fr *RGBDFrame) RGB() (image.Image, error) {
	if fr.rgb == nil && fr.RGBPath != "" {
		f, err := os.Open(fr.RGBPath)
		if err != nil {
			return nil, missingFile(fr.RGBPath, err)
		}
		defer f.Close()
		img, _, err := image.Decode(f)
		if err != nil {
			return nil, fmt.Errorf("decoding %s: %w", fr.RGBPath, err)
		}
		fr.rgb = img
	}
	return fr.rgb, nil
}

// WorldPointCloud back-projects the depth map and moves it to world
// coordinates with the frame pose. The result is cached.
func (fr *RGBDFrame) WorldPointCloud() (*PointCloud, error) {
	if fr.cloud != nil {
		return fr.cloud, nil
	}
	depth, err := fr.Depth()
	if err != nil {
		return nil, err
	}
	rgb, err := fr.RGB()
	if err != nil {
		return nil, err
	}
	pc := fr.Camera.BackProject(depth, rgb)
	TransformPoints(fr.pose.AsMatrixScaled(), pc.Points)
	fr.cloud = pc
	return pc, nil
}

// LoadDepthMap reads a single-channel PNG or TIFF range image and multiplies
// every sample by scale.
func LoadDepthMap(path string, scale float64) (*DepthMap, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, missingFile(path, err)
	}
	defer f.Close()

	var img image.Image
	switch strings.ToLower(filepath.Ext(path)) {
	case ".tif", ".tiff":
		img, err = tiff.Decode(f)
	case ".png":
		img, err = png.Decode(f)
	default:
		return nil, fmt.Errorf("%s: unsupported depth format", path)
	}
	if err != nil {
		return nil, fmt.Errorf("decoding %s: %w", path, err)
	}

	b := img.Bounds()
	d := NewDepthMap(b.Dx(), b.Dy())
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			g := color.Gray16Model.Convert(img.At(x, y)).(color.Gray16)
			d.Set(x-b.Min.X, y-b.Min.Y, float64(g.Y)*scale)
		}
	}
	return d, nil
}
