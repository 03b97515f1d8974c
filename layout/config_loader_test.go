package layout

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// ---------------------------------------------------------------------------
// helpers
// ---------------------------------------------------------------------------

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatalf("write config fixture: %v", err)
	}
	return path
}

// ---------------------------------------------------------------------------
// LoadConfig
// ---------------------------------------------------------------------------

func TestLoadConfig_NotExists(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	if err == nil || !strings.Contains(err.Error(), "not found") {
		t.Fatalf("err = %v, want config file not found", err)
	}
}

func TestLoadConfig_PartialKeepsDefaults(t *testing.T) {
	path := writeConfig(t, `dataset:
  dataDir: /data/mp3d_fpe
  sceneList: scene_list.json
cameraHeight:
  xzRadius: 0.5
evaluation:
  sentinelPolicy: exclude
seed: 42
`)
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	def := DefaultConfig()

	if cfg.Dataset.DataDir != "/data/mp3d_fpe" || cfg.Dataset.SceneList != "scene_list.json" {
		t.Errorf("dataset = %+v", cfg.Dataset)
	}
	if cfg.Dataset.ImageWidth != def.Dataset.ImageWidth || cfg.Dataset.LabelsDir != def.Dataset.LabelsDir {
		t.Errorf("dataset defaults lost: %+v", cfg.Dataset)
	}
	if cfg.CameraHeight.XZRadius != 0.5 {
		t.Errorf("XZRadius = %v, want 0.5", cfg.CameraHeight.XZRadius)
	}
	if cfg.CameraHeight.MinSamples != def.CameraHeight.MinSamples || cfg.CameraHeight.MaxAttempts != def.CameraHeight.MaxAttempts {
		t.Errorf("camera height defaults lost: %+v", cfg.CameraHeight)
	}
	if cfg.Evaluation.SentinelPolicy != SentinelExclude {
		t.Errorf("SentinelPolicy = %q, want exclude", cfg.Evaluation.SentinelPolicy)
	}
	if cfg.Evaluation.MaxRoomFactor != 2 {
		t.Errorf("MaxRoomFactor = %v, want 2", cfg.Evaluation.MaxRoomFactor)
	}
	if cfg.Seed != 42 {
		t.Errorf("Seed = %d, want 42", cfg.Seed)
	}
	if cfg.MQTT.PublishPrefix != "panolayout" {
		t.Errorf("PublishPrefix = %q, want panolayout", cfg.MQTT.PublishPrefix)
	}
}

func TestLoadConfig_InvalidYAML(t *testing.T) {
	path := writeConfig(t, "dataset: [unclosed\n")
	if _, err := LoadConfig(path); err == nil {
		t.Fatal("expected parse error, got nil")
	}
}

func TestLoadConfig_RejectsInvalidValues(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"unknown sentinel policy", "evaluation:\n  sentinelPolicy: drop\n"},
		{"zero room factor", "evaluation:\n  maxRoomFactor: 0\n"},
		{"negative workers", "evaluation:\n  workers: -1\n"},
		{"attempts below iterations", "cameraHeight:\n  iterations: 10\n  maxAttempts: 5\n"},
		{"too few samples", "cameraHeight:\n  minSamples: 2\n"},
		{"zero image width", "dataset:\n  imageWidth: -4\n"},
		{"negative render scale", "render:\n  scale: -1\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := LoadConfig(writeConfig(t, tt.body)); err == nil {
				t.Error("expected validation error, got nil")
			}
		})
	}
}

func TestSaveConfig_RoundTrip(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Dataset.DataDir = "/tmp/data"
	cfg.CameraHeight.RefineInliers = true
	cfg.MQTT.Broker = "tcp://broker:1883"

	path := filepath.Join(t.TempDir(), "out.yaml")
	if err := SaveConfig(path, cfg); err != nil {
		t.Fatalf("SaveConfig: %v", err)
	}
	got, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if got.Dataset.DataDir != "/tmp/data" || !got.CameraHeight.RefineInliers || got.MQTT.Broker != "tcp://broker:1883" {
		t.Errorf("round trip lost values: %+v", got)
	}
	if got.CameraHeight != cfg.CameraHeight {
		t.Errorf("CameraHeight = %+v, want %+v", got.CameraHeight, cfg.CameraHeight)
	}
}

func TestDefaultConfig_IsValid(t *testing.T) {
	if err := DefaultConfig().Validate(); err != nil {
		t.Fatalf("DefaultConfig().Validate() = %v", err)
	}
	if err := DefaultCameraHeightConfig().Validate(); err != nil {
		t.Fatalf("DefaultCameraHeightConfig().Validate() = %v", err)
	}
}
