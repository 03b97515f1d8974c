package layout

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func estimateJSON(pc PhiCoords) []byte {
	data, _ := json.Marshal(EstimateMessage{PhiCoords: [][]float64{pc.Ceiling, pc.Floor}})
	return data
}

func TestHTTPEstimates_Success(t *testing.T) {
	want := squareRoomPhi(64, 2, 1.5, 1.2)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Accept") != "application/json" {
			t.Errorf("expected Accept: application/json, got %q", r.Header.Get("Accept"))
		}
		if r.URL.Path != "/v1/estimates/scene_room0_3" {
			t.Errorf("path = %q", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(estimateJSON(want))
	}))
	defer srv.Close()

	src, err := NewHTTPEstimates(context.Background(), srv.URL+"/v1/estimates/", WithHTTPClient(srv.Client()))
	if err != nil {
		t.Fatal(err)
	}
	got, err := src.Estimate("scene_room0_3")
	if err != nil {
		t.Fatalf("Estimate() error: %v", err)
	}
	if len(got.Floor) != 64 || got.Floor[10] != want.Floor[10] || got.Ceiling[10] != want.Ceiling[10] {
		t.Errorf("estimate does not round-trip")
	}
}

func TestHTTPEstimates_EmptyURL(t *testing.T) {
	_, err := NewHTTPEstimates(context.Background(), "")
	if err == nil || !strings.Contains(err.Error(), "URL is empty") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestHTTPEstimates_NotFound(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		attempts.Add(1)
		http.NotFound(w, nil)
	}))
	defer srv.Close()

	src, _ := NewHTTPEstimates(context.Background(), srv.URL, WithHTTPClient(srv.Client()), WithBaseBackoff(time.Millisecond))
	_, err := src.Estimate("scene_room0_0")
	if !errors.Is(err, ErrMissingData) {
		t.Errorf("err = %v, want ErrMissingData", err)
	}
	if n := attempts.Load(); n != 1 {
		t.Errorf("a 404 was retried: %d attempts", n)
	}
}

func TestHTTPEstimates_InvalidDocument(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		attempts.Add(1)
		_, _ = w.Write([]byte(`{"phi_coords": [[0.1, 0.2]]}`))
	}))
	defer srv.Close()

	src, _ := NewHTTPEstimates(context.Background(), srv.URL, WithHTTPClient(srv.Client()), WithBaseBackoff(time.Millisecond))
	_, err := src.Estimate("scene_room0_0")
	if !errors.Is(err, ErrInvalidPhiCoords) {
		t.Errorf("err = %v, want ErrInvalidPhiCoords", err)
	}
	if n := attempts.Load(); n != 1 {
		t.Errorf("a bad document was retried: %d attempts", n)
	}
}

func TestHTTPEstimates_ServerError_Retries(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if attempts.Add(1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_, _ = w.Write(estimateJSON(squareRoomPhi(16, 2, 1.5, 1.2)))
	}))
	defer srv.Close()

	src, _ := NewHTTPEstimates(context.Background(), srv.URL,
		WithHTTPClient(srv.Client()), WithBaseBackoff(time.Millisecond))
	if _, err := src.Estimate("scene_room0_0"); err != nil {
		t.Fatalf("Estimate() after retries: %v", err)
	}
	if n := attempts.Load(); n != 3 {
		t.Errorf("attempts = %d, want 3", n)
	}
}

func TestHTTPEstimates_AllRetriesFail(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	src, _ := NewHTTPEstimates(context.Background(), srv.URL,
		WithHTTPClient(srv.Client()), WithMaxRetries(2), WithBaseBackoff(time.Millisecond))
	_, err := src.Estimate("scene_room0_0")
	if err == nil || !strings.Contains(err.Error(), "all 2 attempts failed") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestHTTPEstimates_ContextCancelled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	src, _ := NewHTTPEstimates(ctx, srv.URL, WithHTTPClient(srv.Client()), WithBaseBackoff(time.Hour))
	_, err := src.Estimate("scene_room0_0")
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}
