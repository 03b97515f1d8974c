package layout

import (
	"errors"
	"fmt"
	"math"
	"runtime"
)

// Sentinel errors returned by the package. Callers match them with errors.Is.
var (
	ErrInvalidRotation       = errors.New("invalid rotation matrix")
	ErrInvalidScale          = errors.New("scale must be positive")
	ErrInvalidPhiCoords      = errors.New("invalid phi_coords")
	ErrInsufficientGeometry  = errors.New("insufficient geometry")
	ErrLabelGap              = errors.New("label gap")
	ErrMissingData           = errors.New("missing data")
	ErrInvalidReferenceFrame = errors.New("invalid reference frame")
)

// ReferenceFrame names the coordinate frame a layout's boundaries are in.
type ReferenceFrame int

const (
	FrameCamera ReferenceFrame = iota
	FrameWorld
	FrameWorldRotationOnly
)

func (f ReferenceFrame) String() string {
	switch f {
	case FrameCamera:
		return "CC"
	case FrameWorld:
		return "WC"
	case FrameWorldRotationOnly:
		return "WC_SO3"
	default:
		return fmt.Sprintf("ReferenceFrame(%d)", int(f))
	}
}

// PhiCoords is the (2, W) boundary encoding of a panorama: for every image
// column, the elevation of the ceiling-wall and floor-wall boundary.
type PhiCoords struct {
	Ceiling []float64 `json:"ceiling"`
	Floor   []float64 `json:"floor"`
}

// Width is the number of columns in the encoding.
func (pc PhiCoords) Width() int {
	return len(pc.Floor)
}

// Validate checks shape and value range.
func (pc PhiCoords) Validate() error {
	if len(pc.Floor) == 0 || len(pc.Ceiling) == 0 {
		return fmt.Errorf("%w: empty row", ErrInvalidPhiCoords)
	}
	if len(pc.Floor) != len(pc.Ceiling) {
		return fmt.Errorf("%w: ceiling has %d columns, floor has %d",
			ErrInvalidPhiCoords, len(pc.Ceiling), len(pc.Floor))
	}
	for i := range pc.Floor {
		for _, v := range [2]float64{pc.Ceiling[i], pc.Floor[i]} {
			if math.IsNaN(v) || v <= -math.Pi/2 || v >= math.Pi/2 {
				return fmt.Errorf("%w: column %d value %v out of range", ErrInvalidPhiCoords, i, v)
			}
		}
	}
	return nil
}

// Rows returns the encoding as [ceiling, floor].
func (pc PhiCoords) Rows() [][]float64 {
	return [][]float64{pc.Ceiling, pc.Floor}
}

// PhiCoordsFromRows builds an encoding from a [ceiling, floor] pair of rows.
func PhiCoordsFromRows(rows [][]float64) (PhiCoords, error) {
	if len(rows) != 2 {
		return PhiCoords{}, fmt.Errorf("%w: expected 2 rows, got %d", ErrInvalidPhiCoords, len(rows))
	}
	pc := PhiCoords{Ceiling: rows[0], Floor: rows[1]}
	return pc, pc.Validate()
}

// SentinelPolicy decides how the (-1, -1) invalid-ground-truth score enters
// dataset means.
type SentinelPolicy string

const (
	// SentinelZero counts invalid frames as zero IoU.
	SentinelZero SentinelPolicy = "zero"
	// SentinelExclude drops invalid frames from the mean.
	SentinelExclude SentinelPolicy = "exclude"
)

// DatasetConfig locates the benchmark data on disk.
type DatasetConfig struct {
	DataDir      string `yaml:"dataDir" json:"dataDir"`
	SceneList    string `yaml:"sceneList" json:"sceneList"`
	LabelsDir    string `yaml:"labelsDir,omitempty" json:"labelsDir,omitempty"`
	EstimatesDir string `yaml:"estimatesDir,omitempty" json:"estimatesDir,omitempty"`
	EstimatesURL string `yaml:"estimatesURL,omitempty" json:"estimatesURL,omitempty"` // model server, GET <url>/<id>
	ImageWidth   int    `yaml:"imageWidth,omitempty" json:"imageWidth,omitempty"`
	ImageHeight  int    `yaml:"imageHeight,omitempty" json:"imageHeight,omitempty"`
}

// Shape returns the configured panorama size.
func (dc DatasetConfig) Shape() ImageShape {
	return ImageShape{Height: dc.ImageHeight, Width: dc.ImageWidth}
}

// CameraHeightConfig tunes the RANSAC ground-plane estimator.
type CameraHeightConfig struct {
	XZRadius        float64 `yaml:"xzRadius" json:"xzRadius"`
	MinHeight       float64 `yaml:"minHeight" json:"minHeight"`
	MinSamples      int     `yaml:"minSamples" json:"minSamples"`
	FitError        float64 `yaml:"fitError" json:"fitError"`
	Iterations      int     `yaml:"iterations" json:"iterations"`
	MaxAttempts     int     `yaml:"maxAttempts" json:"maxAttempts"`
	FramesPerSample int     `yaml:"framesPerSample" json:"framesPerSample"`
	PlaneIterations int     `yaml:"planeIterations" json:"planeIterations"`
	RefineInliers   bool    `yaml:"refineInliers,omitempty" json:"refineInliers,omitempty"`
	DepthScale      float64 `yaml:"depthScale,omitempty" json:"depthScale,omitempty"` // metres per depth unit
}

// EvaluationConfig controls batch evaluation.
type EvaluationConfig struct {
	MaxRoomFactor  float64        `yaml:"maxRoomFactor" json:"maxRoomFactor"`
	SentinelPolicy SentinelPolicy `yaml:"sentinelPolicy" json:"sentinelPolicy"`
	Workers        int            `yaml:"workers,omitempty" json:"workers,omitempty"`
	// FilterNoisy drops noisy layouts from room exports. Scoring never
	// filters.
	FilterNoisy bool `yaml:"filterNoisy" json:"filterNoisy"`
}

// MQTTConfig holds MQTT connection settings
type MQTTConfig struct {
	Broker        string `yaml:"broker" json:"broker"`
	PublishPrefix string `yaml:"publishPrefix" json:"publishPrefix"`
	ClientID      string `yaml:"clientId" json:"clientId"`
	Username      string `yaml:"username,omitempty" json:"username,omitempty"`
	Password      string `yaml:"password,omitempty" json:"password,omitempty"`
	EstimateTopic string `yaml:"estimateTopic,omitempty" json:"estimateTopic,omitempty"` // defaults to <prefix>/estimates/+
}

// RenderConfig controls footprint rendering.
type RenderConfig struct {
	Scale       float64 `yaml:"scale" json:"scale"`             // canvas mm per metre
	Padding     float64 `yaml:"padding" json:"padding"`         // metres around the footprints
	GridSpacing float64 `yaml:"gridSpacing" json:"gridSpacing"` // metres between grid lines
	Resolution  float64 `yaml:"resolution" json:"resolution"`   // PNG DPI
}

// Config represents the full configuration file
type Config struct {
	Dataset      DatasetConfig      `yaml:"dataset" json:"dataset"`
	CameraHeight CameraHeightConfig `yaml:"cameraHeight" json:"cameraHeight"`
	Evaluation   EvaluationConfig   `yaml:"evaluation" json:"evaluation"`
	Seed         int64              `yaml:"seed,omitempty" json:"seed,omitempty"` // 0 seeds from the clock
	MQTT         MQTTConfig         `yaml:"mqtt,omitempty" json:"mqtt,omitempty"`
	Render       RenderConfig       `yaml:"render,omitempty" json:"render,omitempty"`
}

// DefaultConfig returns the benchmark defaults.
func DefaultConfig() *Config {
	return &Config{
		Dataset: DatasetConfig{
			LabelsDir:   "labels/gt",
			ImageWidth:  DefaultImageShape.Width,
			ImageHeight: DefaultImageShape.Height,
		},
		CameraHeight: DefaultCameraHeightConfig(),
		Evaluation: EvaluationConfig{
			MaxRoomFactor:  2,
			SentinelPolicy: SentinelZero,
			Workers:        runtime.NumCPU(),
			FilterNoisy:    true,
		},
		MQTT: MQTTConfig{
			PublishPrefix: "panolayout",
			ClientID:      "panolayout",
		},
		Render: RenderConfig{
			Scale:       100,
			Padding:     0.5,
			GridSpacing: 1.0,
			Resolution:  150,
		},
	}
}

// DefaultCameraHeightConfig returns the estimator parameters used by the
// benchmark's camera-height pipeline.
func DefaultCameraHeightConfig() CameraHeightConfig {
	return CameraHeightConfig{
		XZRadius:        1.0,
		MinHeight:       0.8,
		MinSamples:      200,
		FitError:        0.01,
		Iterations:      5,
		MaxAttempts:     50,
		FramesPerSample: 10,
		PlaneIterations: 1000,
		DepthScale:      0.001,
	}
}
