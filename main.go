package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
)

// Version is set at build time via -ldflags
var Version = "dev"

// AppOptions holds the parsed command-line flags.
type AppOptions struct {
	ConfigFile   string
	DataDir      string
	SceneList    string
	EstimatesDir string
	EstimatesURL string
	OutputFile   string
	Policy       string
	Seed         int64
	Workers      int

	Eval         bool
	GroundTruth  bool
	Check        bool
	CameraHeight bool
	SceneDir     string
	GeometryDir  string
	RenderFrame  string
	ExportRoom   string
	Tolerance    float64

	MqttMode bool
	HttpMode bool
	HttpPort int
}

// Application is what run dispatches to; App is the real implementation.
type Application interface {
	ApplyOptions(opts AppOptions)
	RunEval() error
	RunCheck() error
	RunCameraHeight() error
	RunRender(frameID string) error
	RunExportRoom(roomID string) error
	RunService() error
}

func main() {
	if err := run(os.Args[1:], os.Stdout, NewApp()); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		log.Fatal(err)
	}
}

func run(args []string, out io.Writer, app Application) error {
	fs := flag.NewFlagSet("panolayout", flag.ContinueOnError)
	fs.SetOutput(out)

	var opts AppOptions
	fs.StringVar(&opts.ConfigFile, "config", "config.yaml", "Path to configuration file")
	fs.StringVar(&opts.DataDir, "data-dir", ".", "Dataset directory (geometry_info/, img/, labels)")
	fs.StringVar(&opts.SceneList, "scene-list", "", "Scene list JSON (overrides config)")
	fs.StringVar(&opts.EstimatesDir, "estimates", "", "Directory of estimated phi_coords (<id>.npy or .npz)")
	fs.StringVar(&opts.EstimatesURL, "estimates-url", "", "Model server to fetch estimates from (GET URL/<frame id>)")
	fs.StringVar(&opts.OutputFile, "output", "", "Output file for --eval, --render and --export-room")
	fs.StringVar(&opts.Policy, "sentinel-policy", "", "Invalid ground truth handling: zero or exclude")
	fs.Int64Var(&opts.Seed, "seed", 0, "Random seed for camera-height estimation (0 uses the clock)")
	fs.IntVar(&opts.Workers, "workers", 0, "Evaluation goroutines (0 keeps the config value)")

	fs.BoolVar(&opts.Eval, "eval", false, "Score estimates against ground truth and write the JSON report")
	fs.BoolVar(&opts.GroundTruth, "gt-as-estimate", false, "Use the ground truth as the estimate (dataset sanity check)")
	fs.BoolVar(&opts.Check, "check", false, "Report frames with missing geometry info or images")
	fs.BoolVar(&opts.CameraHeight, "camera-height", false, "Estimate per-room camera heights from an RGB-D scene")
	fs.StringVar(&opts.SceneDir, "scene-dir", "", "RGB-D scene directory for --camera-height")
	fs.StringVar(&opts.GeometryDir, "geometry-info", "", "Output directory for geometry-info files (default <data-dir>/geometry_info)")
	fs.StringVar(&opts.RenderFrame, "render", "", "Render the estimate over the ground truth for FRAME_ID (.svg or .png output)")
	fs.StringVar(&opts.ExportRoom, "export-room", "", "Export the reconstructed footprints of ROOM_ID as GeoJSON, SVG or PNG")
	fs.Float64Var(&opts.Tolerance, "simplify", 0, "Douglas-Peucker tolerance in metres for --export-room GeoJSON")

	fs.BoolVar(&opts.MqttMode, "mqtt", false, "Score estimates streamed over MQTT and publish the results")
	fs.BoolVar(&opts.HttpMode, "http", false, "Serve results and footprint renders over HTTP")
	fs.IntVar(&opts.HttpPort, "http-port", 8080, "HTTP server port (default 8080)")

	if err := fs.Parse(args); err != nil {
		return err
	}

	fmt.Fprintf(out, "panolayout version: %s\n", Version)
	app.ApplyOptions(opts)

	switch {
	case opts.Eval:
		return app.RunEval()
	case opts.Check:
		return app.RunCheck()
	case opts.CameraHeight:
		return app.RunCameraHeight()
	case opts.RenderFrame != "":
		return app.RunRender(opts.RenderFrame)
	case opts.ExportRoom != "":
		return app.RunExportRoom(opts.ExportRoom)
	case opts.MqttMode || opts.HttpMode:
		return app.RunService()
	}

	fmt.Fprintln(out, "Use --eval to score estimates against the ground truth")
	fmt.Fprintln(out, "Use --check to verify the dataset layout")
	fmt.Fprintln(out, "Use --camera-height --scene-dir DIR to fit room camera heights")
	fmt.Fprintln(out, "Use --render FRAME_ID to draw one frame's footprints")
	fmt.Fprintln(out, "Use --export-room ROOM_ID to export a room's footprints")
	fmt.Fprintln(out, "Use --mqtt and/or --http to run the scoring service")
	fmt.Fprintln(out, "\nConfiguration:")
	fmt.Fprintln(out, "  config.yaml - dataset, estimator, evaluation and MQTT settings")
	return nil
}
