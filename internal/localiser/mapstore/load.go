package mapstore

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"image"
	"image/color"
	_ "image/gif"  // register GIF decoder
	_ "image/jpeg" // register JPEG decoder
	_ "image/png"  // register PNG decoder
	"io"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/amsl/laserloc/internal/fsutil"
)

// MaxMapFileSize bounds the map files Load will read.
const MaxMapFileSize = 64 << 20

// MaxMapCells bounds the grid a map file may declare. Image headers are
// checked against it before any pixel data is decoded.
const MaxMapCells = MaxMapFileSize

// Options control how a map file is interpreted.
type Options struct {
	// Scale is map units per cell; zero selects 1.
	Scale float64
	// Width and Height, when non-zero, must match the decoded grid.
	Width  int
	Height int
}

// MapLoadError reports a map that could not be loaded. It is fatal at startup.
type MapLoadError struct {
	Path string
	Err  error
}

func (e *MapLoadError) Error() string {
	return fmt.Sprintf("load map %s: %v", e.Path, e.Err)
}

func (e *MapLoadError) Unwrap() error { return e.Err }

// Load reads a likelihood map from path. The format is chosen by extension:
// .csv is a dense comma separated grid, .pgm a binary (P5) or ASCII (P2)
// portable graymap, anything else a PNG, GIF or JPEG image whose luminance
// becomes the cell value.
func Load(fsys fsutil.FileSystem, path string, opts Options) (*LikelihoodMap, error) {
	m, err := load(fsys, path, opts)
	if err != nil {
		return nil, &MapLoadError{Path: path, Err: err}
	}
	return m, nil
}

func load(fsys fsutil.FileSystem, path string, opts Options) (*LikelihoodMap, error) {
	info, err := fsys.Stat(path)
	if err != nil {
		return nil, err
	}
	if info.Size() > MaxMapFileSize {
		return nil, fmt.Errorf("file too large: %d bytes (max %d)", info.Size(), MaxMapFileSize)
	}
	data, err := fsys.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var (
		w, h  int
		cells []float64
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		w, h, cells, err = decodeCSV(bytes.NewReader(data))
	case ".pgm":
		w, h, cells, err = decodePGM(bytes.NewReader(data))
	default:
		w, h, cells, err = decodeImage(data)
	}
	if err != nil {
		return nil, err
	}

	if (opts.Width > 0 && w != opts.Width) || (opts.Height > 0 && h != opts.Height) {
		return nil, fmt.Errorf("map is %dx%d, configured bounds are %dx%d", w, h, opts.Width, opts.Height)
	}
	return New(w, h, cells, opts.Scale)
}

// checkDims rejects a declared grid that is empty or larger than MaxMapCells.
func checkDims(w, h int) (int, error) {
	if w <= 0 || h <= 0 {
		return 0, fmt.Errorf("non-positive map dimensions %dx%d", w, h)
	}
	n, ok := cellCount(w, h)
	if !ok || n > MaxMapCells {
		return 0, fmt.Errorf("map dimensions %dx%d exceed %d cells", w, h, MaxMapCells)
	}
	return n, nil
}

func decodeImage(data []byte) (int, int, []float64, error) {
	ic, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return 0, 0, nil, fmt.Errorf("decode image header: %w", err)
	}
	if _, err := checkDims(ic.Width, ic.Height); err != nil {
		return 0, 0, nil, fmt.Errorf("%s image: %w", format, err)
	}

	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return 0, 0, nil, fmt.Errorf("decode image: %w", err)
	}
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w <= 0 || h <= 0 {
		return 0, 0, nil, fmt.Errorf("empty %s image", format)
	}
	cells := make([]float64, 0, w*h)
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			g := color.GrayModel.Convert(img.At(x, y)).(color.Gray)
			cells = append(cells, float64(g.Y))
		}
	}
	return w, h, cells, nil
}

func decodeCSV(r io.Reader) (int, int, []float64, error) {
	cr := csv.NewReader(r)
	cr.Comment = '#'
	cr.TrimLeadingSpace = true
	cr.ReuseRecord = true

	var (
		cells []float64
		w, h  int
	)
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return 0, 0, nil, fmt.Errorf("parse csv: %w", err)
		}
		if h == 0 {
			w = len(rec)
		}
		for col, field := range rec {
			v, err := strconv.ParseFloat(strings.TrimSpace(field), 64)
			if err != nil {
				return 0, 0, nil, fmt.Errorf("row %d col %d: %w", h, col, err)
			}
			cells = append(cells, v)
		}
		h++
	}
	if h == 0 || w == 0 {
		return 0, 0, nil, errors.New("empty csv grid")
	}
	return w, h, cells, nil
}

// decodePGM reads a P5 (binary) or P2 (ASCII) graymap. Samples are rescaled
// to 0-255 when maxval differs from 255.
func decodePGM(r *bytes.Reader) (int, int, []float64, error) {
	br := bufio.NewReader(r)
	magic, err := pgmToken(br)
	if err != nil {
		return 0, 0, nil, fmt.Errorf("pgm header: %w", err)
	}
	if magic != "P5" && magic != "P2" {
		return 0, 0, nil, fmt.Errorf("unsupported pgm magic %q", magic)
	}
	var header [3]int
	for i := range header {
		tok, err := pgmToken(br)
		if err != nil {
			return 0, 0, nil, fmt.Errorf("pgm header: %w", err)
		}
		if header[i], err = strconv.Atoi(tok); err != nil {
			return 0, 0, nil, fmt.Errorf("pgm header: %w", err)
		}
	}
	w, h, maxval := header[0], header[1], header[2]
	n, err := checkDims(w, h)
	if err != nil {
		return 0, 0, nil, fmt.Errorf("pgm header: %w", err)
	}
	if maxval <= 0 || maxval > 65535 {
		return 0, 0, nil, fmt.Errorf("invalid pgm maxval %d", maxval)
	}

	// Every sample takes at least sampleBytes of the remaining input, so a
	// header promising more than that is truncated or corrupt.
	sampleBytes := 1
	if magic == "P5" && maxval > 255 {
		sampleBytes = 2
	}
	if left := br.Buffered() + r.Len(); n > left/sampleBytes {
		return 0, 0, nil, fmt.Errorf("pgm raster: %dx%d samples need more than the %d bytes left", w, h, left)
	}

	norm := 255 / float64(maxval)
	cells := make([]float64, n)
	if magic == "P2" {
		for i := range cells {
			tok, err := pgmToken(br)
			if err != nil {
				return 0, 0, nil, fmt.Errorf("pgm sample %d: %w", i, err)
			}
			v, err := strconv.Atoi(tok)
			if err != nil {
				return 0, 0, nil, fmt.Errorf("pgm sample %d: %w", i, err)
			}
			cells[i] = float64(v) * norm
		}
		return w, h, cells, nil
	}

	// The single whitespace byte after maxval was consumed by pgmToken.
	raw := make([]byte, n*sampleBytes)
	if _, err := io.ReadFull(br, raw); err != nil {
		return 0, 0, nil, fmt.Errorf("pgm raster: %w", err)
	}
	for i := range cells {
		v := int(raw[i*sampleBytes])
		if sampleBytes == 2 {
			v = v<<8 | int(raw[i*2+1])
		}
		cells[i] = float64(v) * norm
	}
	return w, h, cells, nil
}

// pgmToken returns the next whitespace separated header token, skipping
// '#' comments. It consumes exactly one trailing whitespace byte.
func pgmToken(br *bufio.Reader) (string, error) {
	var sb strings.Builder
	for {
		c, err := br.ReadByte()
		if err != nil {
			if errors.Is(err, io.EOF) && sb.Len() > 0 {
				return sb.String(), nil
			}
			return "", err
		}
		switch {
		case c == '#' && sb.Len() == 0:
			if _, err := br.ReadString('\n'); err != nil {
				return "", err
			}
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			if sb.Len() > 0 {
				return sb.String(), nil
			}
		default:
			sb.WriteByte(c)
		}
	}
}
