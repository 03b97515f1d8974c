package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/kwv/panolayout/layout"
)

// App encapsulates the application state and dependencies
type App struct {
	Config     *layout.Config
	Benchmark  *layout.Benchmark
	Renderer   *layout.Renderer
	MQTTClient *layout.MQTTClient
	Publisher  *layout.Publisher

	// CLI Flags (effectively dependencies)
	ConfigFile   string
	DataDir      string
	SceneList    string
	EstimatesDir string
	EstimatesURL string
	OutputFile   string
	Policy       string
	Seed         int64
	Workers      int
	GroundTruth  bool
	SceneDir     string
	GeometryDir  string
	Tolerance    float64
	HttpPort     int
	MqttMode     bool
	HttpMode     bool
}

// NewApp creates a new App instance
func NewApp() *App {
	return &App{Config: layout.DefaultConfig()}
}

// ApplyOptions applies CLI options to the App instance
func (a *App) ApplyOptions(opts AppOptions) {
	a.ConfigFile = opts.ConfigFile
	a.DataDir = opts.DataDir
	a.SceneList = opts.SceneList
	a.EstimatesDir = opts.EstimatesDir
	a.EstimatesURL = opts.EstimatesURL
	a.OutputFile = opts.OutputFile
	a.Policy = opts.Policy
	a.Seed = opts.Seed
	a.Workers = opts.Workers
	a.GroundTruth = opts.GroundTruth
	a.SceneDir = opts.SceneDir
	a.GeometryDir = opts.GeometryDir
	a.Tolerance = opts.Tolerance
	a.HttpPort = opts.HttpPort
	a.MqttMode = opts.MqttMode
	a.HttpMode = opts.HttpMode
}

// loadConfig reads the config file, then lets flags override it. A missing
// config.yaml at the default location falls back to the built-in defaults.
func (a *App) loadConfig() error {
	path := a.ConfigFile
	if path == "" {
		path = "config.yaml"
	}
	if a.DataDir != "" && a.DataDir != "." && path == "config.yaml" {
		path = filepath.Join(a.DataDir, "config.yaml")
	}

	cfg := layout.DefaultConfig()
	if _, err := os.Stat(path); err == nil {
		cfg, err = layout.LoadConfig(path)
		if err != nil {
			return fmt.Errorf("load config %s: %w", path, err)
		}
		log.Printf("Loaded config from %s", path)
	} else if a.ConfigFile != "" && a.ConfigFile != "config.yaml" {
		return fmt.Errorf("config file not found: %s", path)
	} else {
		log.Printf("No config at %s, using defaults", path)
	}

	if a.DataDir != "" && (a.DataDir != "." || cfg.Dataset.DataDir == "") {
		cfg.Dataset.DataDir = a.DataDir
	}
	if a.SceneList != "" {
		cfg.Dataset.SceneList = a.SceneList
	}
	if cfg.Dataset.SceneList != "" && !filepath.IsAbs(cfg.Dataset.SceneList) {
		if _, err := os.Stat(cfg.Dataset.SceneList); err != nil {
			cfg.Dataset.SceneList = filepath.Join(cfg.Dataset.DataDir, cfg.Dataset.SceneList)
		}
	}
	if a.EstimatesDir != "" {
		cfg.Dataset.EstimatesDir = a.EstimatesDir
	}
	if a.EstimatesURL != "" {
		cfg.Dataset.EstimatesURL = a.EstimatesURL
	}
	if a.Policy != "" {
		cfg.Evaluation.SentinelPolicy = layout.SentinelPolicy(a.Policy)
	}
	if a.Workers > 0 {
		cfg.Evaluation.Workers = a.Workers
	}
	if a.Seed != 0 {
		cfg.Seed = a.Seed
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	a.Config = cfg
	a.Renderer = layout.NewRenderer(cfg.Render)
	return nil
}

func (a *App) estimateSource(ctx context.Context, ds *layout.Dataset) (layout.EstimateSource, error) {
	if a.GroundTruth {
		return layout.GroundTruthEstimates{LabelsDir: ds.LabelsDir()}, nil
	}
	if u := a.Config.Dataset.EstimatesURL; u != "" {
		src, err := layout.NewHTTPEstimates(ctx, u)
		if err != nil {
			return nil, err
		}
		return src, nil
	}
	dir := a.Config.Dataset.EstimatesDir
	if dir == "" {
		return nil, fmt.Errorf("no estimates: set --estimates, --estimates-url or dataset.estimatesDir (or use --gt-as-estimate)")
	}
	return layout.DirEstimates{Dir: dir}, nil
}

// openBenchmark loads the config and dataset and wires the estimate source.
// Without an estimate source the benchmark can still score frames pushed to
// it, as the MQTT service does.
func (a *App) openBenchmark(ctx context.Context, needEstimates bool) error {
	if err := a.loadConfig(); err != nil {
		return err
	}
	if a.Config.Dataset.SceneList == "" {
		return fmt.Errorf("no scene list: set --scene-list or dataset.sceneList")
	}
	ds, err := layout.OpenDataset(a.Config.Dataset)
	if err != nil {
		return err
	}
	src, err := a.estimateSource(ctx, ds)
	if err != nil && needEstimates {
		return err
	}
	a.Benchmark = layout.NewBenchmark(ds, src, a.Config.Evaluation)
	return nil
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// RunEval scores every frame of the scene list and writes the report.
func (a *App) RunEval() error {
	ctx, cancel := signalContext()
	defer cancel()
	if err := a.openBenchmark(ctx, true); err != nil {
		return err
	}

	results, err := a.Benchmark.Run(ctx)
	if err != nil {
		return err
	}

	out := a.OutputFile
	if out == "" {
		out = filepath.Join(a.Config.Dataset.DataDir, "results", "iou_report.json")
	}
	if err := layout.WriteReport(out, results, a.Config.Evaluation.SentinelPolicy); err != nil {
		return err
	}

	s := a.Benchmark.Store.Summary()
	fmt.Printf("\nEvaluated %d frames (%d invalid ground truths, policy %s)\n", s.Frames, s.Skipped, s.Policy)
	fmt.Printf("  2D IoU: %.4f\n", s.Mean2D)
	fmt.Printf("  3D IoU: %.4f\n", s.Mean3D)
	fmt.Printf("Report written to %s\n", out)
	return nil
}

// RunCheck lists missing dataset files.
func (a *App) RunCheck() error {
	if err := a.loadConfig(); err != nil {
		return err
	}
	ds, err := layout.OpenDataset(a.Config.Dataset)
	if err != nil {
		return err
	}
	if err := ds.Check(); err != nil {
		return fmt.Errorf("dataset incomplete:\n%w", err)
	}
	fmt.Printf("Dataset OK: %d rooms, %d frames\n", len(ds.Scenes.Rooms), ds.Scenes.NumFrames())
	return nil
}

// RunCameraHeight fits the floor of every room of an RGB-D scene and writes
// one geometry-info file per frame.
func (a *App) RunCameraHeight() error {
	if err := a.loadConfig(); err != nil {
		return err
	}
	if a.SceneDir == "" {
		return fmt.Errorf("--camera-height needs --scene-dir")
	}
	cfg := a.Config

	scene, err := layout.OpenRGBDScene(a.SceneDir, cfg.Dataset.Shape(), cfg.CameraHeight.DepthScale)
	if err != nil {
		return err
	}
	rooms, err := layout.LoadSceneList(cfg.Dataset.SceneList)
	if err != nil {
		return err
	}

	heights, err := layout.EstimateRoomCameraHeights(scene, rooms, cfg.CameraHeight, cfg.Seed)
	if err != nil {
		return err
	}
	records, err := layout.GeometryInfoRecords(scene, rooms, heights)
	if err != nil {
		return err
	}

	dir := a.GeometryDir
	if dir == "" {
		dir = filepath.Join(cfg.Dataset.DataDir, "geometry_info")
	}
	if err := layout.WriteGeometryInfo(dir, records); err != nil {
		return err
	}

	fmt.Printf("\nScene %s (%s): %d rooms fitted\n", scene.Name, scene.Kind, len(heights))
	for _, h := range heights {
		fmt.Printf("  %-40s floor %.3f m (%d frames)\n", h.RoomID, h.FloorLevel, h.Frames)
	}
	return nil
}

// RunRender draws one frame's estimated footprint over its ground truth.
func (a *App) RunRender(frameID string) error {
	ctx, cancel := signalContext()
	defer cancel()
	if err := a.openBenchmark(ctx, true); err != nil {
		return err
	}
	est, err := a.Benchmark.Estimates.Estimate(frameID)
	if err != nil {
		return err
	}
	res, err := a.Benchmark.ScoreFrame(frameID, est)
	if err != nil {
		return err
	}
	_, gt, _ := a.Benchmark.Store.Boundaries(frameID)

	d := layout.FootprintOverlay(
		layout.ProjectBoundary(est, res.CameraHeight),
		layout.ProjectBoundary(gt, res.CameraHeight),
	)
	out := a.OutputFile
	if out == "" {
		out = frameID + ".svg"
	}
	if err := a.writeDrawing(out, d); err != nil {
		return err
	}
	fmt.Printf("%s: 2D IoU %.4f, 3D IoU %.4f -> %s\n", frameID, res.IoU.IoU2D, res.IoU.IoU3D, out)
	return nil
}

// RunExportRoom reconstructs a room from its estimates and writes the floor
// footprints. A .svg or .png output draws a normalized top view; anything
// else gets GeoJSON in world metres.
func (a *App) RunExportRoom(roomID string) error {
	ctx, cancel := signalContext()
	defer cancel()
	if err := a.openBenchmark(ctx, true); err != nil {
		return err
	}
	rb, err := a.Benchmark.Dataset.Room(roomID)
	if err != nil {
		return err
	}
	kept := rb.Layouts[:0]
	for _, ly := range rb.Layouts {
		est, err := a.Benchmark.Estimates.Estimate(ly.ID)
		if err != nil {
			return fmt.Errorf("frame %s: %w", ly.ID, err)
		}
		if err := est.Validate(); err != nil {
			log.Printf("[ROOM] %s: skipping %s: %v", roomID, ly.ID, err)
			continue
		}
		ly.PhiCoords = est
		kept = append(kept, ly)
	}
	rb.Layouts = kept
	if err := rb.Reconstruct(ctx, a.Config.Evaluation.Workers); err != nil {
		return err
	}
	if a.Config.Evaluation.FilterNoisy {
		for _, ly := range rb.FilterOutNoisyLayouts(a.Config.Evaluation.MaxRoomFactor) {
			log.Printf("[ROOM] %s: dropped noisy layout %s", roomID, ly.ID)
		}
	}

	out := a.OutputFile
	if out == "" {
		out = roomID + ".geojson"
	}
	switch strings.ToLower(filepath.Ext(out)) {
	case ".svg", ".png":
		if _, _, err := rb.Normalize(); err != nil {
			return err
		}
		if err := a.writeDrawing(out, layout.RoomTopView(rb)); err != nil {
			return err
		}
	default:
		if err := layout.WriteGeoJSON(out, layout.RoomGeoJSON(rb, a.Tolerance)); err != nil {
			return err
		}
	}
	fmt.Printf("Room %s: %d layouts -> %s\n", roomID, len(rb.Layouts), out)
	return nil
}

func (a *App) writeDrawing(path string, d *layout.Drawing) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if strings.EqualFold(filepath.Ext(path), ".png") {
		err = a.Renderer.WritePNG(f, d)
	} else {
		err = a.Renderer.WriteSVG(f, d)
	}
	if err != nil {
		f.Close()
		return fmt.Errorf("render %s: %w", path, err)
	}
	return f.Close()
}

// handleEstimate scores one estimate received over MQTT and publishes the
// frame result and the updated summary.
func (a *App) handleEstimate(id string, est layout.PhiCoords, err error) {
	if err != nil {
		log.Printf("[MQTT] %s: dropping estimate: %v", id, err)
		return
	}
	res, err := a.Benchmark.ScoreFrame(id, est)
	if err != nil {
		log.Printf("[EVAL] %s: %v", id, err)
		return
	}
	log.Printf("[EVAL] %s: 2D IoU %.4f, 3D IoU %.4f", id, res.IoU.IoU2D, res.IoU.IoU3D)

	if a.Publisher == nil {
		return
	}
	if err := a.Publisher.PublishResult(res); err != nil {
		log.Printf("Error publishing result for %s: %v", id, err)
	}
	if err := a.Publisher.PublishSummary(a.Benchmark.Store.Summary()); err != nil {
		log.Printf("Error publishing summary: %v", err)
	}
}

// RunService scores streamed estimates and serves results until interrupted.
func (a *App) RunService() error {
	fmt.Println("Starting panolayout service...")
	ctx, cancel := signalContext()
	defer cancel()
	if err := a.openBenchmark(ctx, false); err != nil {
		return err
	}

	if a.MqttMode {
		mqttClient, err := layout.InitMQTT(a.Config, a.handleEstimate)
		if err != nil {
			return fmt.Errorf("initialize MQTT: %w", err)
		}
		if mqttClient == nil {
			return fmt.Errorf("MQTT broker not configured in config.yaml")
		}
		a.MQTTClient = mqttClient
		a.Publisher = layout.NewPublisher(mqttClient.GetClient(), a.Config)
		fmt.Println("MQTT result publisher initialized")
	}

	if a.HttpMode {
		httpServer := newHTTPServer(a.Benchmark.Store, a.Renderer)
		go func() {
			addr := fmt.Sprintf("0.0.0.0:%d", a.HttpPort)
			log.Printf("[HTTP] Starting server on %s", addr)
			if err := http.ListenAndServe(addr, httpServer); err != nil {
				log.Fatalf("[HTTP] Server error: %v", err)
			}
		}()
	}

	fmt.Println("\nService Running")
	fmt.Println("===============")
	if a.MqttMode {
		fmt.Println("\nMQTT:")
		fmt.Printf("  Subscribed to: %s\n", a.MQTTClient.EstimateTopic())
		fmt.Printf("  Publishing to: %s/results/{frameID} and %s/results/summary\n",
			a.Config.MQTT.PublishPrefix, a.Config.MQTT.PublishPrefix)
	}
	if a.HttpMode {
		fmt.Printf("\nHTTP endpoints (port %d):\n", a.HttpPort)
		fmt.Println("  GET /health                - Health check")
		fmt.Println("  GET /results               - Summary and per-frame scores")
		fmt.Println("  GET /results/{id}          - One frame's score")
		fmt.Println("  GET /report.json           - Benchmark report")
		fmt.Println("  GET /footprint/{id}.svg    - Estimate over ground truth (also .png)")
	}
	fmt.Println("\nPress Ctrl+C to stop")

	<-ctx.Done()

	fmt.Println("\nShutting down service...")
	if a.MQTTClient != nil {
		a.MQTTClient.Disconnect()
	}
	fmt.Println("Service stopped")
	return nil
}
