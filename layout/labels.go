package layout

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/sbinet/npyio"
	"github.com/sbinet/npyio/npz"
	"gonum.org/v1/gonum/mat"
)

// phiCoordsKey is the array name inside ground-truth .npz archives.
const phiCoordsKey = "phi_coords"

// LoadPhiCoords reads a ground-truth (2, W) boundary encoding from a .npz
// archive (array "phi_coords") or a bare .npy file and checks that every
// angle lies in its half of (-π/2, π/2).
func LoadPhiCoords(path string) (PhiCoords, error) {
	pc, err := LoadEstimate(path)
	if err != nil {
		return PhiCoords{}, err
	}
	if err := pc.Validate(); err != nil {
		return PhiCoords{}, fmt.Errorf("%s: %w", path, err)
	}
	return pc, nil
}

// LoadEstimate reads a model estimate. Only the (2, W) shape is checked;
// out-of-range angles are left for the evaluator to score.
func LoadEstimate(path string) (PhiCoords, error) {
	var m mat.Dense
	var err error
	switch strings.ToLower(filepath.Ext(path)) {
	case ".npz":
		err = readNPZ(path, &m)
	case ".npy":
		err = readNPY(path, &m)
	default:
		return PhiCoords{}, fmt.Errorf("%s: unsupported label format", path)
	}
	if err != nil {
		return PhiCoords{}, err
	}

	rows, cols := m.Dims()
	if rows != 2 || cols == 0 {
		return PhiCoords{}, fmt.Errorf("%s: %w: shape (%d, %d), want (2, W)", path, ErrInvalidPhiCoords, rows, cols)
	}
	return PhiCoords{
		Ceiling: mat.Row(nil, 0, &m),
		Floor:   mat.Row(nil, 1, &m),
	}, nil
}

func readNPY(path string, m *mat.Dense) error {
	f, err := os.Open(path)
	if err != nil {
		return missingFile(path, err)
	}
	defer f.Close()

	if err := readArray(f, m); err != nil {
		return fmt.Errorf("%s: reading npy: %w", path, err)
	}
	return nil
}

func readNPZ(path string, m *mat.Dense) error {
	if _, err := os.Stat(path); err != nil {
		return missingFile(path, err)
	}
	r, err := npz.Open(path)
	if err != nil {
		return fmt.Errorf("%s: opening npz: %w", path, err)
	}
	defer r.Close()

	for _, key := range r.Keys() {
		if strings.TrimSuffix(key, ".npy") != phiCoordsKey {
			continue
		}
		rc, err := r.Open(key)
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		defer rc.Close()
		if err := readArray(rc, m); err != nil {
			return fmt.Errorf("%s: reading %s: %w", path, key, err)
		}
		return nil
	}
	return fmt.Errorf("%s: %w: no %q array", path, ErrMissingData, phiCoordsKey)
}

// readArray decodes a 2-D float32 or float64 array into m. float32 data,
// which most exporters write, is widened to float64.
func readArray(r io.Reader, m *mat.Dense) error {
	nr, err := npyio.NewReader(r)
	if err != nil {
		return err
	}
	descr := nr.Header.Descr
	if len(descr.Shape) != 2 || descr.Shape[0] == 0 || descr.Shape[1] == 0 {
		return fmt.Errorf("%w: shape %v, want (2, W)", ErrInvalidPhiCoords, descr.Shape)
	}
	rows, cols := descr.Shape[0], descr.Shape[1]

	var data []float64
	switch strings.TrimLeft(descr.Type, "<>=|") {
	case "f8":
		if err := nr.Read(&data); err != nil {
			return err
		}
	case "f4":
		var narrow []float32
		if err := nr.Read(&narrow); err != nil {
			return err
		}
		data = make([]float64, len(narrow))
		for i, v := range narrow {
			data[i] = float64(v)
		}
	default:
		return fmt.Errorf("%w: dtype %s, want float32 or float64", ErrInvalidPhiCoords, descr.Type)
	}
	if len(data) != rows*cols {
		return fmt.Errorf("%w: %d values for shape (%d, %d)", ErrInvalidPhiCoords, len(data), rows, cols)
	}

	if descr.Fortran {
		m.CloneFrom(mat.NewDense(cols, rows, data).T())
		return nil
	}
	*m = *mat.NewDense(rows, cols, data)
	return nil
}

func missingFile(path string, err error) error {
	if errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("%w: %s", ErrMissingData, path)
	}
	return fmt.Errorf("opening %s: %w", path, err)
}

// SavePhiCoords writes pc as a (2, W) float64 .npy file.
func SavePhiCoords(path string, pc PhiCoords) error {
	if err := pc.Validate(); err != nil {
		return err
	}
	w := pc.Width()
	data := make([]float64, 0, 2*w)
	data = append(data, pc.Ceiling...)
	data = append(data, pc.Floor...)

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}
	if err := npyio.Write(f, mat.NewDense(2, w, data)); err != nil {
		f.Close()
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return f.Close()
}

// FindPhiCoords loads the ground truth <dir>/<id>.npz, or <dir>/<id>.npy.
func FindPhiCoords(dir, id string) (PhiCoords, error) {
	path, err := findBoundaryFile(dir, id)
	if err != nil {
		return PhiCoords{}, err
	}
	return LoadPhiCoords(path)
}

// FindEstimate loads the estimate <dir>/<id>.npz, or <dir>/<id>.npy.
func FindEstimate(dir, id string) (PhiCoords, error) {
	path, err := findBoundaryFile(dir, id)
	if err != nil {
		return PhiCoords{}, err
	}
	return LoadEstimate(path)
}

func findBoundaryFile(dir, id string) (string, error) {
	for _, ext := range []string{".npz", ".npy"} {
		path := filepath.Join(dir, id+ext)
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}
	return "", fmt.Errorf("%w: no boundary file for %s in %s", ErrMissingData, id, dir)
}
