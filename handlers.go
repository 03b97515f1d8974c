package main

import (
	"encoding/json"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/kwv/panolayout/layout"
)

// newHTTPServer creates an HTTP server with all endpoints
func newHTTPServer(store *layout.ResultStore, renderer *layout.Renderer) http.Handler {
	mux := http.NewServeMux()

	// Health check endpoint
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		log.Printf("[HTTP] /health request from %s", r.RemoteAddr)
		status := struct {
			Status    string    `json:"status"`
			Timestamp time.Time `json:"timestamp"`
			Frames    int       `json:"frames"`
		}{
			Status:    "ok",
			Timestamp: time.Now(),
			Frames:    store.Len(),
		}
		writeJSON(w, status)
	})

	// Summary plus every frame score
	mux.HandleFunc("/results", func(w http.ResponseWriter, r *http.Request) {
		resp := struct {
			Summary layout.Summary       `json:"summary"`
			Frames  []layout.FrameResult `json:"frames"`
		}{
			Summary: store.Summary(),
			Frames:  store.Results(),
		}
		writeJSON(w, resp)
	})

	// One frame
	mux.HandleFunc("/results/", func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimPrefix(r.URL.Path, "/results/")
		res, ok := store.Get(id)
		if !ok {
			http.Error(w, "Frame not scored", http.StatusNotFound)
			return
		}
		writeJSON(w, res)
	})

	// Flat report in the batch output format
	mux.HandleFunc("/report.json", func(w http.ResponseWriter, r *http.Request) {
		if store.Len() == 0 {
			http.Error(w, "No results available", http.StatusServiceUnavailable)
			return
		}
		writeJSON(w, layout.ReportMap(store.Results(), store.Policy()))
	})

	// Estimate drawn over ground truth: /footprint/<id>.svg or .png
	mux.HandleFunc("/footprint/", func(w http.ResponseWriter, r *http.Request) {
		name := strings.TrimPrefix(r.URL.Path, "/footprint/")
		var id, format string
		switch {
		case strings.HasSuffix(name, ".svg"):
			id, format = strings.TrimSuffix(name, ".svg"), "svg"
		case strings.HasSuffix(name, ".png"):
			id, format = strings.TrimSuffix(name, ".png"), "png"
		default:
			http.Error(w, "Use /footprint/{id}.svg or .png", http.StatusNotFound)
			return
		}

		res, ok := store.Get(id)
		est, gt, _ := store.Boundaries(id)
		if !ok {
			http.Error(w, "Frame not scored", http.StatusNotFound)
			return
		}
		if !(res.CameraHeight > 0) {
			http.Error(w, "Frame has no camera height", http.StatusUnprocessableEntity)
			return
		}

		d := layout.FootprintOverlay(
			layout.ProjectBoundary(est, res.CameraHeight),
			layout.ProjectBoundary(gt, res.CameraHeight),
		)
		w.Header().Set("Cache-Control", "no-cache")
		var err error
		if format == "svg" {
			w.Header().Set("Content-Type", "image/svg+xml")
			err = renderer.WriteSVG(w, d)
		} else {
			w.Header().Set("Content-Type", "image/png")
			err = renderer.WritePNG(w, d)
		}
		if err != nil {
			log.Printf("Error rendering footprint %s: %v", name, err)
		}
	})

	return mux
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("Error encoding response: %v", err)
	}
}
