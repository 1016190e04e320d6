package pointcloud

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
	"image/color"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/chenzhekl/goply"
	"github.com/edaniels/lidario"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.viam.com/utils"

	"go.viam.com/pcdgrasp/logging"
)

// PCDType is the format of a pcd file.
type PCDType int

const (
	// PCDAscii ascii format for pcd.
	PCDAscii PCDType = 0
	// PCDBinary binary format for pcd.
	PCDBinary PCDType = 1
	// PCDCompressed binary format for pcd.
	PCDCompressed PCDType = 2
)

// NewFromFile returns a pointcloud read in from the given file. Coordinates are taken as meters.
func NewFromFile(fn string, logger logging.Logger) (PointCloud, error) {
	switch strings.ToLower(filepath.Ext(fn)) {
	case ".las":
		return NewFromLASFile(fn, logger)
	case ".pcd":
		//nolint:gosec
		f, err := os.Open(fn)
		if err != nil {
			return nil, err
		}
		defer utils.UncheckedErrorFunc(f.Close)
		return ReadPCD(f)
	case ".ply":
		//nolint:gosec
		f, err := os.Open(fn)
		if err != nil {
			return nil, err
		}
		defer utils.UncheckedErrorFunc(f.Close)
		return ReadPLY(f)
	default:
		return nil, errors.Errorf("do not know how to read file %q", fn)
	}
}

// WriteToFile writes the cloud in the format given by the extension of fn.
func WriteToFile(cloud PointCloud, fn string) (err error) {
	switch strings.ToLower(filepath.Ext(fn)) {
	case ".las":
		return WriteToLASFile(cloud, fn)
	case ".pcd":
		//nolint:gosec
		f, err := os.Create(fn)
		if err != nil {
			return err
		}
		defer func() {
			err = multierr.Combine(err, f.Close())
		}()
		w := bufio.NewWriter(f)
		if err := ToPCD(cloud, w, PCDBinary); err != nil {
			return err
		}
		return w.Flush()
	default:
		return errors.Errorf("do not know how to write file %q", fn)
	}
}

// pointValueDataTag encodes if the point has value data.
const pointValueDataTag = "rc|pv"

// NewFromLASFile returns a point cloud from reading a LAS file.
func NewFromLASFile(fn string, logger logging.Logger) (PointCloud, error) {
	lf, err := lidario.NewLasFile(fn, "r")
	if err != nil {
		return nil, err
	}
	defer utils.UncheckedErrorFunc(lf.Close)

	var hasValue bool
	var valueData []byte
	for _, d := range lf.VlrData {
		if d.Description == pointValueDataTag {
			hasValue = true
			valueData = d.BinaryData
			break
		}
	}

	pc := NewWithPrealloc(lf.Header.NumberPoints)
	duplicates := 0
	for i := 0; i < lf.Header.NumberPoints; i++ {
		p, err := lf.LasPoint(i)
		if err != nil {
			return nil, err
		}
		data := p.PointData()

		v := r3.Vector{X: data.X, Y: data.Y, Z: data.Z}
		dd := NewBasicData()
		if lf.Header.PointFormatID == 2 && p.RgbData() != nil {
			r := uint8(p.RgbData().Red / 256)
			g := uint8(p.RgbData().Green / 256)
			b := uint8(p.RgbData().Blue / 256)
			dd.SetColor(color.NRGBA{r, g, b, 255})
		}

		if hasValue && len(valueData) >= (i+1)*8 {
			dd.SetValue(int(binary.LittleEndian.Uint64(valueData[i*8 : (i*8)+8])))
		}

		if _, exists := pc.At(v.X, v.Y, v.Z); exists {
			duplicates++
		}
		if err := pc.Set(v, dd); err != nil {
			return nil, err
		}
	}
	if duplicates > 0 {
		logger.Debugw("merged duplicate LAS points", "file", fn, "duplicates", duplicates)
	}
	return pc, nil
}

// WriteToLASFile writes the point cloud out to a LAS file.
func WriteToLASFile(cloud PointCloud, fn string) (err error) {
	lf, err := lidario.NewLasFile(fn, "w")
	if err != nil {
		return
	}
	defer func() {
		cerr := lf.Close()
		err = multierr.Combine(err, cerr)
	}()

	meta := cloud.MetaData()

	pointFormatID := 0
	if meta.HasColor {
		pointFormatID = 2
	}
	if err = lf.AddHeader(lidario.LasHeader{
		PointFormatID: byte(pointFormatID),
	}); err != nil {
		return
	}

	var pVals []int
	if meta.HasValue {
		pVals = make([]int, 0, cloud.Size())
	}
	var lastErr error
	cloud.Iterate(0, 0, func(pos r3.Vector, d Data) bool {
		var lp lidario.LasPointer
		pr0 := &lidario.PointRecord0{
			X: pos.X,
			Y: pos.Y,
			Z: pos.Z,
			BitField: lidario.PointBitField{
				Value: (1) | (1 << 3) | (0 << 6) | (0 << 7),
			},
			ClassBitField: lidario.ClassificationBitField{
				Value: 0,
			},
			ScanAngle:     0,
			UserData:      0,
			PointSourceID: 1,
		}
		lp = pr0

		if meta.HasColor {
			red, green, blue := 255, 255, 255
			if d != nil && d.HasColor() {
				r, g, b := d.RGB255()
				red, green, blue = int(r), int(g), int(b)
			}
			lp = &lidario.PointRecord2{
				PointRecord0: pr0,
				RGB: &lidario.RgbData{
					Red:   uint16(red * 256),
					Green: uint16(green * 256),
					Blue:  uint16(blue * 256),
				},
			}
		}
		if meta.HasValue {
			if d != nil && d.HasValue() {
				pVals = append(pVals, d.Value())
			} else {
				pVals = append(pVals, 0)
			}
		}
		if lerr := lf.AddLasPoint(lp); lerr != nil {
			lastErr = lerr
			return false
		}
		return true
	})
	if meta.HasValue {
		var buf bytes.Buffer
		for _, v := range pVals {
			bytes := make([]byte, 8)
			binary.LittleEndian.PutUint64(bytes, uint64(v))
			buf.Write(bytes)
		}
		if err = lf.AddVLR(lidario.VLR{
			UserID:                  "",
			Description:             pointValueDataTag,
			BinaryData:              buf.Bytes(),
			RecordLengthAfterHeader: buf.Len(),
		}); err != nil {
			return
		}
	}
	if lastErr != nil {
		err = lastErr
		return
	}

	// nolint:nakedret
	return
}

// ReadPLY reads the vertex element of an ascii PLY file. x, y and z are required; nx, ny, nz and
// red, green, blue are used when present.
func ReadPLY(in io.Reader) (pc PointCloud, err error) {
	// goply reports malformed input by panicking.
	defer func() {
		if r := recover(); r != nil {
			pc = nil
			err = errors.Errorf("invalid ply file: %v", r)
		}
	}()
	ply := goply.New(in)
	vertices := ply.Elements("vertex")
	if len(vertices) == 0 {
		return nil, errors.New("ply file has no vertex element")
	}
	pc = NewWithPrealloc(len(vertices))
	for i, vertex := range vertices {
		get := func(name string) (float64, bool) {
			return plyNumber(vertex.Property(name))
		}
		x, okX := get("x")
		y, okY := get("y")
		z, okZ := get("z")
		if !okX || !okY || !okZ {
			return nil, errors.Errorf("ply vertex %d is missing a coordinate", i)
		}
		d := NewBasicData()
		if nx, ok := get("nx"); ok {
			ny, _ := get("ny")
			nz, _ := get("nz")
			if n := (r3.Vector{X: nx, Y: ny, Z: nz}); n.Norm() > 0 {
				d.SetNormal(n)
			}
		}
		if r, ok := get("red"); ok {
			g, _ := get("green")
			b, _ := get("blue")
			d.SetColor(color.NRGBA{R: uint8(r), G: uint8(g), B: uint8(b), A: 255})
		}
		if err := pc.Set(r3.Vector{X: x, Y: y, Z: z}, d); err != nil {
			return nil, err
		}
	}
	return pc, nil
}

func plyNumber(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float32:
		return float64(n), true
	case float64:
		return n, true
	case int8:
		return float64(n), true
	case uint8:
		return float64(n), true
	case int16:
		return float64(n), true
	case uint16:
		return float64(n), true
	case int32:
		return float64(n), true
	case uint32:
		return float64(n), true
	default:
		return 0, false
	}
}

func colorToPCDInt(pt Data) int {
	if pt == nil || !pt.HasColor() {
		return 255 << 16
	}

	r, g, b := pt.RGB255()
	x := 0

	x |= (int(r) << 16)
	x |= (int(g) << 8)
	x |= (int(b) << 0)
	return x
}

func pcdIntToColor(c int) color.NRGBA {
	r := uint8(0xFF & (c >> 16))
	g := uint8(0xFF & (c >> 8))
	b := uint8(0xFF & (c >> 0))
	return color.NRGBA{r, g, b, 255}
}

// ToPCD writes the cloud as PCD v0.7 in meters. Colors are written as a packed rgb field and
// normals as normal_x normal_y normal_z when the cloud carries them.
func ToPCD(cloud PointCloud, out io.Writer, outputType PCDType) error {
	meta := cloud.MetaData()
	fields := []string{"x", "y", "z"}
	if meta.HasColor {
		fields = append(fields, "rgb")
	}
	if meta.HasNormal {
		fields = append(fields, "normal_x", "normal_y", "normal_z")
	}
	sizes := make([]string, len(fields))
	types := make([]string, len(fields))
	counts := make([]string, len(fields))
	for i, f := range fields {
		sizes[i], types[i], counts[i] = "4", "F", "1"
		if f == "rgb" {
			types[i] = "I"
		}
	}

	var dataLine string
	switch outputType {
	case PCDBinary:
		dataLine = "binary"
	case PCDAscii:
		dataLine = "ascii"
	case PCDCompressed:
		return errors.New("compressed PCD not yet implemented")
	default:
		return errors.Errorf("unknown PCD type %d", outputType)
	}

	if _, err := fmt.Fprintf(out, "VERSION .7\n"+
		"FIELDS %s\n"+
		"SIZE %s\n"+
		"TYPE %s\n"+
		"COUNT %s\n"+
		"WIDTH %d\n"+
		"HEIGHT 1\n"+
		"VIEWPOINT 0 0 0 1 0 0 0\n"+
		"POINTS %d\n"+
		"DATA %s\n",
		strings.Join(fields, " "),
		strings.Join(sizes, " "),
		strings.Join(types, " "),
		strings.Join(counts, " "),
		cloud.Size(),
		cloud.Size(),
		dataLine,
	); err != nil {
		return err
	}
	return writePCDData(cloud, out, outputType)
}

func writePCDData(cloud PointCloud, out io.Writer, pcdtype PCDType) error {
	meta := cloud.MetaData()
	var err error
	cloud.Iterate(0, 0, func(pos r3.Vector, d Data) bool {
		vals := []float64{pos.X, pos.Y, pos.Z}
		var rgb int
		if meta.HasColor {
			rgb = colorToPCDInt(d)
		}
		var n r3.Vector
		if meta.HasNormal && d != nil && d.HasNormal() {
			n = d.Normal()
		}

		switch pcdtype {
		case PCDBinary:
			buf := make([]byte, 0, 28)
			for _, v := range vals {
				buf = binary.LittleEndian.AppendUint32(buf, math.Float32bits(float32(v)))
			}
			if meta.HasColor {
				buf = binary.LittleEndian.AppendUint32(buf, uint32(rgb))
			}
			if meta.HasNormal {
				for _, v := range []float64{n.X, n.Y, n.Z} {
					buf = binary.LittleEndian.AppendUint32(buf, math.Float32bits(float32(v)))
				}
			}
			_, err = out.Write(buf)
		default:
			tokens := make([]string, 0, 7)
			for _, v := range vals {
				tokens = append(tokens, strconv.FormatFloat(v, 'f', 6, 64))
			}
			if meta.HasColor {
				tokens = append(tokens, strconv.Itoa(rgb))
			}
			if meta.HasNormal {
				for _, v := range []float64{n.X, n.Y, n.Z} {
					tokens = append(tokens, strconv.FormatFloat(v, 'f', 6, 64))
				}
			}
			_, err = fmt.Fprintln(out, strings.Join(tokens, " "))
		}
		return err == nil
	})
	return err
}

type pcdValType string

const (
	pcdValFloat pcdValType = "F"
	pcdValInt   pcdValType = "I"
	pcdValUInt  pcdValType = "U"
)

type pcdHeader struct {
	fields []string
	size   []uint64
	types  []pcdValType
	count  []uint64
	width  uint64
	height uint64
	points uint64
	data   PCDType
}

// fieldIndex returns the position of the named field in a point record, or -1.
func (h *pcdHeader) fieldIndex(name string) int {
	for i, f := range h.fields {
		if f == name {
			return i
		}
	}
	return -1
}

const pcdCommentChar = "#"

var pcdHeaderFields = []string{"VERSION", "FIELDS", "SIZE", "TYPE", "COUNT", "WIDTH", "HEIGHT", "VIEWPOINT", "POINTS", "DATA"}

func parsePCDHeaderLine(line string, index int, pcdHeader *pcdHeader) error {
	var err error
	name := pcdHeaderFields[index]
	field, value, _ := strings.Cut(line, " ")
	value = strings.TrimSpace(value)
	tokens := strings.Fields(value)
	if field != name {
		return fmt.Errorf("line is supposed to start with %s but is %s", name, line)
	}

	switch name {
	case "VERSION":
		if value != ".7" && value != "0.7" {
			return fmt.Errorf("unsupported pcd version %s", value)
		}
	case "FIELDS":
		pcdHeader.fields = tokens
		for _, required := range []string{"x", "y", "z"} {
			if pcdHeader.fieldIndex(required) < 0 {
				return fmt.Errorf("pcd fields %q lack %q", value, required)
			}
		}
	case "SIZE":
		if len(tokens) != len(pcdHeader.fields) {
			return fmt.Errorf("unexpected number of fields in SIZE line")
		}
		pcdHeader.size = make([]uint64, len(tokens))
		for i, token := range tokens {
			pcdHeader.size[i], err = strconv.ParseUint(token, 10, 64)
			if err != nil {
				return fmt.Errorf("invalid SIZE field %s", token)
			}
		}
	case "TYPE":
		if len(tokens) != len(pcdHeader.fields) {
			return fmt.Errorf("unexpected number of fields in TYPE line")
		}
		pcdHeader.types = make([]pcdValType, len(tokens))
		for i, token := range tokens {
			pcdHeader.types[i] = pcdValType(token)
		}
	case "COUNT":
		if len(tokens) != len(pcdHeader.fields) {
			return fmt.Errorf("unexpected number of fields in COUNT line")
		}
		pcdHeader.count = make([]uint64, len(tokens))
		for i, token := range tokens {
			pcdHeader.count[i], err = strconv.ParseUint(token, 10, 64)
			if err != nil {
				return fmt.Errorf("invalid COUNT field %s: %w", token, err)
			}
			if pcdHeader.count[i] != 1 {
				return fmt.Errorf("unsupported COUNT %d for field %s", pcdHeader.count[i], pcdHeader.fields[i])
			}
		}
	case "WIDTH":
		pcdHeader.width, err = strconv.ParseUint(value, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid WIDTH field %s: %w", value, err)
		}
	case "HEIGHT":
		pcdHeader.height, err = strconv.ParseUint(value, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid HEIGHT field %s: %w", value, err)
		}
	case "VIEWPOINT":
		if len(tokens) != 7 {
			return fmt.Errorf("unexpected number of fields in VIEWPOINT line. Expected 7, got %d", len(tokens))
		}
		for _, token := range tokens {
			if _, err = strconv.ParseFloat(token, 64); err != nil {
				return fmt.Errorf("invalid VIEWPOINT field %s: %w", token, err)
			}
		}
	case "POINTS":
		var points uint64
		points, err = strconv.ParseUint(value, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid POINTS field %s: %w", value, err)
		}
		if points != pcdHeader.width*pcdHeader.height {
			return fmt.Errorf("POINTS field %d does not match WIDTH*HEIGHT %d", points, pcdHeader.width*pcdHeader.height)
		}
		pcdHeader.points = points
	case "DATA":
		switch value {
		case "ascii":
			pcdHeader.data = PCDAscii
		case "binary":
			pcdHeader.data = PCDBinary
		case "binary_compressed":
			pcdHeader.data = PCDCompressed
		default:
			return fmt.Errorf("unknown pcd DATA %q", value)
		}
	}

	return nil
}

// ReadPCD reads an ascii or binary PCD v0.7 stream. Coordinates are taken as meters.
func ReadPCD(inRaw io.Reader) (PointCloud, error) {
	header := pcdHeader{}
	in := bufio.NewReader(inRaw)
	headerLineCount := 0
	for headerLineCount < len(pcdHeaderFields) {
		line, err := in.ReadString('\n')
		if err != nil {
			return nil, fmt.Errorf("error reading header line %d: %w", headerLineCount, err)
		}
		line, _, _ = strings.Cut(line, pcdCommentChar)
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if err := parsePCDHeaderLine(line, headerLineCount, &header); err != nil {
			return nil, err
		}
		headerLineCount++
	}
	switch header.data {
	case PCDAscii:
		return readPCDAscii(in, header)
	case PCDBinary:
		return readPCDBinary(in, header)
	case PCDCompressed:
		return nil, errors.New("compressed pcd not yet supported")
	default:
		return nil, fmt.Errorf("unsupported pcd data type %v", header.data)
	}
}

func readPCDAscii(in *bufio.Reader, header pcdHeader) (PointCloud, error) {
	pc := NewWithPrealloc(int(header.points))
	for i := 0; i < int(header.points); i++ {
		line, err := in.ReadString('\n')
		if err != nil && !(errors.Is(err, io.EOF) && line != "") {
			return nil, err
		}
		tokens := strings.Fields(line)
		if len(tokens) != len(header.fields) {
			return nil, fmt.Errorf("unexpected number of fields in point %d", i)
		}
		point := make([]float64, len(tokens))
		for j, token := range tokens {
			point[j], err = strconv.ParseFloat(token, 64)
			if err != nil {
				return nil, fmt.Errorf("invalid point %d field %s: %w", i, token, err)
			}
		}
		if err := setPCDPoint(pc, point, header); err != nil {
			return nil, err
		}
	}
	return pc, nil
}

func readPCDBinary(in *bufio.Reader, header pcdHeader) (PointCloud, error) {
	pc := NewWithPrealloc(int(header.points))
	for i := 0; i < int(header.points); i++ {
		point := make([]float64, len(header.fields))
		for j := range header.fields {
			buf := make([]byte, header.size[j])
			if _, err := io.ReadFull(in, buf); err != nil {
				return nil, errors.Wrapf(err, "reading point %d", i)
			}
			v, err := decodePCDValue(buf, header.types[j])
			if err != nil {
				return nil, err
			}
			point[j] = v
		}
		if err := setPCDPoint(pc, point, header); err != nil {
			return nil, err
		}
	}
	return pc, nil
}

func decodePCDValue(buf []byte, typ pcdValType) (float64, error) {
	switch {
	case typ == pcdValFloat && len(buf) == 4:
		return float64(math.Float32frombits(binary.LittleEndian.Uint32(buf))), nil
	case typ == pcdValFloat && len(buf) == 8:
		return math.Float64frombits(binary.LittleEndian.Uint64(buf)), nil
	case typ == pcdValUInt && len(buf) == 1:
		return float64(buf[0]), nil
	case typ == pcdValUInt && len(buf) == 2:
		return float64(binary.LittleEndian.Uint16(buf)), nil
	case typ == pcdValUInt && len(buf) == 4:
		return float64(binary.LittleEndian.Uint32(buf)), nil
	case typ == pcdValInt && len(buf) == 1:
		return float64(int8(buf[0])), nil
	case typ == pcdValInt && len(buf) == 2:
		return float64(int16(binary.LittleEndian.Uint16(buf))), nil
	case typ == pcdValInt && len(buf) == 4:
		return float64(int32(binary.LittleEndian.Uint32(buf))), nil
	}
	return 0, fmt.Errorf("unsupported pcd value type %s of size %d", typ, len(buf))
}

func setPCDPoint(pc PointCloud, vals []float64, header pcdHeader) error {
	pos := r3.Vector{
		X: vals[header.fieldIndex("x")],
		Y: vals[header.fieldIndex("y")],
		Z: vals[header.fieldIndex("z")],
	}
	// Organized clouds mark missing returns with NaN.
	if math.IsNaN(pos.X) || math.IsNaN(pos.Y) || math.IsNaN(pos.Z) {
		return nil
	}
	d := NewBasicData()
	if i := header.fieldIndex("rgb"); i >= 0 {
		packed := uint32(vals[i])
		// PCL writes rgb as the bits of a packed float.
		if header.types[i] == pcdValFloat {
			packed = math.Float32bits(float32(vals[i]))
		}
		d.SetColor(pcdIntToColor(int(packed)))
	}
	nx, ny, nz := header.fieldIndex("normal_x"), header.fieldIndex("normal_y"), header.fieldIndex("normal_z")
	if nx >= 0 && ny >= 0 && nz >= 0 {
		n := r3.Vector{X: vals[nx], Y: vals[ny], Z: vals[nz]}
		if !math.IsNaN(n.Norm()) && n.Norm() > 0 {
			d.SetNormal(n)
		}
	}
	return pc.Set(pos, d)
}
