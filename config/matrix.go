package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"

	"github.com/go-viper/mapstructure/v2"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"github.com/sbinet/npyio"
	"go.uber.org/multierr"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/pcdgrasp/utils"
)

// MatrixSource is a matrix given either inline as rows or as the path of a .npy file. In a config
// file it is written as a nested list or as a string.
type MatrixSource struct {
	Path string
	Rows [][]float64
}

// IsZero reports whether neither a path nor rows were given.
func (m MatrixSource) IsZero() bool {
	return m.Path == "" && len(m.Rows) == 0
}

// MarshalJSON writes the path or the rows, mirroring how the source is read.
func (m MatrixSource) MarshalJSON() ([]byte, error) {
	if m.Path != "" {
		return json.Marshal(m.Path)
	}
	return json.Marshal(m.Rows)
}

// checkShape validates inline rows against an expected shape. A negative dimension accepts any
// size. Matrices read from files are checked after loading.
func (m MatrixSource) checkShape(rows, cols int) error {
	if m.Path != "" {
		if ext := strings.ToLower(filepath.Ext(m.Path)); ext != ".npy" {
			return errors.Errorf("matrix file %q must be a .npy file", m.Path)
		}
		return nil
	}
	return checkShape(len(m.Rows), rowWidth(m.Rows), rows, cols)
}

func rowWidth(rows [][]float64) int {
	if len(rows) == 0 {
		return 0
	}
	width := len(rows[0])
	for _, row := range rows[1:] {
		if len(row) != width {
			return -1
		}
	}
	return width
}

func checkShape(gotRows, gotCols, rows, cols int) error {
	if gotCols < 0 {
		return errors.New("matrix rows have different lengths")
	}
	if (rows >= 0 && gotRows != rows) || (cols >= 0 && gotCols != cols) || gotRows == 0 {
		return errors.Errorf("expected a %s matrix, got %dx%d", shapeString(rows, cols), gotRows, gotCols)
	}
	return nil
}

func shapeString(rows, cols int) string {
	dim := func(n int) string {
		if n < 0 {
			return "N"
		}
		return strconv.Itoa(n)
	}
	return dim(rows) + "x" + dim(cols)
}

// Load returns the matrix, reading it relative to baseDir when it comes from a file.
func (m MatrixSource) Load(baseDir string) (*mat.Dense, error) {
	if m.Path == "" {
		return denseFromRows(m.Rows)
	}
	return readNPY(resolvePath(baseDir, m.Path))
}

func denseFromRows(rows [][]float64) (*mat.Dense, error) {
	width := rowWidth(rows)
	if err := checkShape(len(rows), width, -1, -1); err != nil {
		return nil, err
	}
	data := make([]float64, 0, len(rows)*width)
	for _, row := range rows {
		data = append(data, row...)
	}
	return mat.NewDense(len(rows), width, data), nil
}

func readNPY(path string) (_ *mat.Dense, err error) {
	//nolint:gosec
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() {
		err = multierr.Combine(err, f.Close())
	}()

	var m mat.Dense
	if err := npyio.Read(f, &m); err != nil {
		return nil, errors.Wrapf(err, "failed to read %q", path)
	}
	return &m, nil
}

// WriteNPY writes m to path in the .npy format.
func WriteNPY(path string, m mat.Matrix) (err error) {
	//nolint:gosec
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Combine(err, f.Close())
	}()
	return npyio.Write(f, m)
}

func resolvePath(baseDir, path string) string {
	if path == "" || filepath.IsAbs(path) || baseDir == "" {
		return path
	}
	return filepath.Join(baseDir, path)
}

// pointsFromMatrix reads one point per row.
func pointsFromMatrix(m mat.Matrix) ([]r3.Vector, error) {
	rows, cols := m.Dims()
	if cols != 3 {
		return nil, errors.Errorf("expected an Nx3 matrix, got %dx%d", rows, cols)
	}
	points := make([]r3.Vector, rows)
	for i := range points {
		points[i] = r3.Vector{X: m.At(i, 0), Y: m.At(i, 1), Z: m.At(i, 2)}
	}
	return points, nil
}

var matrixSourceType = reflect.TypeOf(MatrixSource{})

// decodeMatrixSource turns a string or a nested list into a MatrixSource.
func decodeMatrixSource(_, to reflect.Type, data interface{}) (interface{}, error) {
	if to != matrixSourceType {
		return data, nil
	}
	switch v := data.(type) {
	case string:
		return MatrixSource{Path: v}, nil
	case []interface{}:
		var rows [][]float64
		if err := mapstructure.Decode(v, &rows); err != nil {
			return nil, errors.Wrap(err, "matrix must be a list of numeric rows")
		}
		return MatrixSource{Rows: rows}, nil
	case MatrixSource:
		return v, nil
	}
	return nil, errors.Wrap(utils.NewUnexpectedTypeError(MatrixSource{}, data), "matrix must be a file path or a list of rows")
}
