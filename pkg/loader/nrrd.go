package loader

import (
	"bufio"
	"compress/gzip"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"volumexr/internal/models"
)

// NRRD reads a three-dimensional scalar NRRD file with raw or gzip encoding.
// Detached headers (.nhdr with a "data file" field) are supported.
type NRRD struct {
	Path string
	Options
}

// String returns the file path.
func (n *NRRD) String() string { return n.Path }

type nrrdHeader struct {
	kind     string
	sizes    []int
	encoding string
	order    binary.ByteOrder
	dataFile string
}

// Load parses the header, then decodes the attached or detached payload.
func (n *NRRD) Load(ctx context.Context) (*models.VoxelField, error) {
	f, err := os.Open(n.Path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	br := bufio.NewReader(f)
	hdr, err := parseNRRDHeader(br)
	if err != nil {
		return nil, fmt.Errorf("parsing NRRD header: %w", err)
	}

	var data io.Reader = br
	if hdr.dataFile != "" {
		path := hdr.dataFile
		if !filepath.IsAbs(path) {
			path = filepath.Join(filepath.Dir(n.Path), path)
		}
		df, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("opening NRRD data file: %w", err)
		}
		defer df.Close()
		data = bufio.NewReader(df)
	}

	switch hdr.encoding {
	case "raw":
	case "gzip", "gz":
		zr, err := gzip.NewReader(data)
		if err != nil {
			return nil, fmt.Errorf("opening gzip payload: %w", err)
		}
		defer zr.Close()
		data = zr
	default:
		return nil, fmt.Errorf("unsupported NRRD encoding %q", hdr.encoding)
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	dims := models.Dims{X: hdr.sizes[0], Y: hdr.sizes[1], Z: hdr.sizes[2]}
	count, ok := dims.Checked()
	if !ok {
		return nil, &models.MalformedVolumeError{Dims: dims}
	}
	samples, err := decodeSamples(data, hdr.kind, hdr.order, count)
	if err != nil {
		return nil, err
	}
	field, err := models.NewVoxelField(dims, samples)
	if err != nil {
		return nil, err
	}
	return finish(field, n.Options), nil
}

func parseNRRDHeader(r *bufio.Reader) (*nrrdHeader, error) {
	magic, err := r.ReadString('\n')
	if err != nil {
		return nil, err
	}
	if !strings.HasPrefix(magic, "NRRD000") {
		return nil, errors.New("missing NRRD magic")
	}

	hdr := &nrrdHeader{order: binary.LittleEndian}
	dimension := 0
	for {
		line, err := r.ReadString('\n')
		if err != nil && err != io.EOF {
			return nil, fmt.Errorf("reading header: %w", err)
		}
		eof := err == io.EOF
		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			break
		}
		if strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		// key/value pairs use ":=", fields use ": "
		if strings.HasPrefix(value, "=") {
			continue
		}
		key = strings.ToLower(strings.TrimSpace(key))
		value = strings.TrimSpace(value)

		switch key {
		case "type":
			hdr.kind = strings.ToLower(value)
		case "dimension":
			if dimension, err = strconv.Atoi(value); err != nil {
				return nil, fmt.Errorf("bad dimension %q", value)
			}
		case "sizes":
			for _, s := range strings.Fields(value) {
				v, err := strconv.Atoi(s)
				if err != nil {
					return nil, fmt.Errorf("bad sizes %q", value)
				}
				hdr.sizes = append(hdr.sizes, v)
			}
		case "encoding":
			hdr.encoding = strings.ToLower(value)
		case "endian":
			if strings.EqualFold(value, "big") {
				hdr.order = binary.BigEndian
			}
		case "data file", "datafile":
			hdr.dataFile = value
		}
		if eof {
			break
		}
	}

	if dimension != 3 || len(hdr.sizes) != 3 {
		return nil, fmt.Errorf("need a 3D volume, got dimension %d with sizes %v", dimension, hdr.sizes)
	}
	if hdr.kind == "" || hdr.encoding == "" {
		return nil, errors.New("header lacks type or encoding")
	}
	return hdr, nil
}

// decodeSamples reads n values of the NRRD type kind and converts them to
// float32.
func decodeSamples(r io.Reader, kind string, order binary.ByteOrder, n int) ([]float32, error) {
	out := make([]float32, n)
	read := func(v any) error {
		if err := binary.Read(r, order, v); err != nil {
			return fmt.Errorf("reading %d %s samples: %w", n, kind, err)
		}
		return nil
	}

	switch kind {
	case "uchar", "unsigned char", "uint8", "uint8_t":
		buf := make([]uint8, n)
		if _, err := io.ReadFull(r, buf); err != nil {
			return nil, fmt.Errorf("reading %d %s samples: %w", n, kind, err)
		}
		for i, v := range buf {
			out[i] = float32(v)
		}
	case "signed char", "int8", "int8_t":
		buf := make([]int8, n)
		if err := read(buf); err != nil {
			return nil, err
		}
		for i, v := range buf {
			out[i] = float32(v)
		}
	case "short", "short int", "signed short", "signed short int", "int16", "int16_t":
		buf := make([]int16, n)
		if err := read(buf); err != nil {
			return nil, err
		}
		for i, v := range buf {
			out[i] = float32(v)
		}
	case "ushort", "unsigned short", "unsigned short int", "uint16", "uint16_t":
		buf := make([]uint16, n)
		if err := read(buf); err != nil {
			return nil, err
		}
		for i, v := range buf {
			out[i] = float32(v)
		}
	case "int", "signed int", "int32", "int32_t":
		buf := make([]int32, n)
		if err := read(buf); err != nil {
			return nil, err
		}
		for i, v := range buf {
			out[i] = float32(v)
		}
	case "uint", "unsigned int", "uint32", "uint32_t":
		buf := make([]uint32, n)
		if err := read(buf); err != nil {
			return nil, err
		}
		for i, v := range buf {
			out[i] = float32(v)
		}
	case "float":
		if err := read(out); err != nil {
			return nil, err
		}
		for i, v := range out {
			if math.IsNaN(float64(v)) {
				out[i] = 0
			}
		}
	case "double":
		buf := make([]float64, n)
		if err := read(buf); err != nil {
			return nil, err
		}
		for i, v := range buf {
			if math.IsNaN(v) {
				v = 0
			}
			out[i] = float32(v)
		}
	default:
		return nil, fmt.Errorf("unsupported NRRD type %q", kind)
	}
	return out, nil
}
