package layout

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"gonum.org/v1/gonum/stat"
)

// FrameResult is the score of one frame.
type FrameResult struct {
	ID           string    `json:"id"`
	RoomID       string    `json:"room"`
	CameraHeight float64   `json:"cameraHeight"`
	IoU          IoU       `json:"iou"`
	Timestamp    time.Time `json:"timestamp"`
}

// Summary aggregates frame scores under a sentinel policy.
type Summary struct {
	Frames   int            `json:"frames"`
	Scored   int            `json:"scored"`
	Skipped  int            `json:"skipped"` // invalid ground truth
	Mean2D   float64        `json:"m2dIoU"`
	Mean3D   float64        `json:"m3dIoU"`
	Policy   SentinelPolicy `json:"policy"`
	Computed time.Time      `json:"computed"`
}

// Summarize averages results. Frames with the invalid-ground-truth sentinel
// count as zero under SentinelZero and are left out under SentinelExclude.
func Summarize(results []FrameResult, policy SentinelPolicy) Summary {
	s := Summary{Frames: len(results), Policy: policy, Computed: time.Now()}
	var v2, v3 []float64
	for _, r := range results {
		if r.IoU.Skipped() {
			s.Skipped++
			if policy == SentinelExclude {
				continue
			}
			v2, v3 = append(v2, 0), append(v3, 0)
			continue
		}
		v2, v3 = append(v2, r.IoU.IoU2D), append(v3, r.IoU.IoU3D)
	}
	s.Scored = len(v2)
	if s.Scored > 0 {
		s.Mean2D = stat.Mean(v2, nil)
		s.Mean3D = stat.Mean(v3, nil)
	}
	return s
}

// ReportMap flattens results into the benchmark's JSON report:
// <id>__2dIoU, <id>__3dIoU, total__m2dIoU and total__m3dIoU.
func ReportMap(results []FrameResult, policy SentinelPolicy) map[string]float64 {
	out := make(map[string]float64, 2*len(results)+2)
	for _, r := range results {
		score := r.IoU
		if score.Skipped() {
			if policy == SentinelExclude {
				continue
			}
			score = IoU{}
		}
		out[r.ID+"__2dIoU"] = score.IoU2D
		out[r.ID+"__3dIoU"] = score.IoU3D
	}
	s := Summarize(results, policy)
	out["total__m2dIoU"] = s.Mean2D
	out["total__m3dIoU"] = s.Mean3D
	return out
}

// WriteReport stores the report map as indented JSON.
func WriteReport(path string, results []FrameResult, policy SentinelPolicy) error {
	data, err := json.MarshalIndent(ReportMap(results, policy), "", "\t")
	if err != nil {
		return fmt.Errorf("marshal report: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create report directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	return nil
}

// storedFrame keeps what is needed to re-render a scored frame.
type storedFrame struct {
	result   FrameResult
	estimate PhiCoords
	truth    PhiCoords
}

// ResultStore collects frame results from concurrent evaluators and serves
// them to the HTTP and MQTT layers.
type ResultStore struct {
	mu     sync.RWMutex
	frames map[string]*storedFrame
	policy SentinelPolicy
}

// NewResultStore creates an empty store.
func NewResultStore(policy SentinelPolicy) *ResultStore {
	return &ResultStore{
		frames: make(map[string]*storedFrame),
		policy: policy,
	}
}

// Put records a result together with the boundaries that produced it.
func (rs *ResultStore) Put(r FrameResult, estimate, truth PhiCoords) {
	if r.Timestamp.IsZero() {
		r.Timestamp = time.Now()
	}
	rs.mu.Lock()
	defer rs.mu.Unlock()
	rs.frames[r.ID] = &storedFrame{result: r, estimate: estimate, truth: truth}
}

// Get returns the result of one frame.
func (rs *ResultStore) Get(id string) (FrameResult, bool) {
	rs.mu.RLock()
	defer rs.mu.RUnlock()
	f, ok := rs.frames[id]
	if !ok {
		return FrameResult{}, false
	}
	return f.result, true
}

// Boundaries returns the estimate and ground truth a frame was scored with.
func (rs *ResultStore) Boundaries(id string) (estimate, truth PhiCoords, ok bool) {
	rs.mu.RLock()
	defer rs.mu.RUnlock()
	f, ok := rs.frames[id]
	if !ok {
		return PhiCoords{}, PhiCoords{}, false
	}
	return f.estimate, f.truth, true
}

// Results returns every result sorted by frame id.
func (rs *ResultStore) Results() []FrameResult {
	rs.mu.RLock()
	out := make([]FrameResult, 0, len(rs.frames))
	for _, f := range rs.frames {
		out = append(out, f.result)
	}
	rs.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// RoomResults returns the results of one room.
func (rs *ResultStore) RoomResults(roomID string) []FrameResult {
	var out []FrameResult
	for _, r := range rs.Results() {
		if r.RoomID == roomID {
			out = append(out, r)
		}
	}
	return out
}

// Summary aggregates everything stored so far.
func (rs *ResultStore) Summary() Summary {
	return Summarize(rs.Results(), rs.policy)
}

// Policy is the sentinel policy used for summaries.
func (rs *ResultStore) Policy() SentinelPolicy { return rs.policy }

// Len is the number of stored frames.
func (rs *ResultStore) Len() int {
	rs.mu.RLock()
	defer rs.mu.RUnlock()
	return len(rs.frames)
}
