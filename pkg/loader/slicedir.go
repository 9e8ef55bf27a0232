package loader

import (
	"context"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strconv"

	"github.com/h2non/filetype"
	"github.com/sirupsen/logrus"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	"golang.org/x/sync/errgroup"

	"volumexr/internal/models"
)

// headerSize is the number of bytes filetype needs to recognize a format.
const headerSize = 262

// SliceDir stacks a directory of 2D grayscale images into a volume. Files are
// ordered by the number embedded in their names, so slice_2.png comes before
// slice_10.png. Every slice must have the same width and height; the stack
// runs along z.
type SliceDir struct {
	Dir string
	Options
}

// String returns the directory path.
func (s *SliceDir) String() string { return s.Dir }

// Load decodes every image in Dir and stacks them along z.
func (s *SliceDir) Load(ctx context.Context) (*models.VoxelField, error) {
	files, err := s.imageFiles()
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no image slices found in %s", s.Dir)
	}

	workers := s.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}

	slices := make([]*models.Slice, len(files))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, name := range files {
		i, name := i, name
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			sl, err := decodeSlice(filepath.Join(s.Dir, name))
			if err != nil {
				return fmt.Errorf("failed to load image %s: %w", name, err)
			}
			sl.Index = i
			slices[i] = sl
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	w, h := slices[0].Width, slices[0].Height
	for _, sl := range slices[1:] {
		if sl.Width != w || sl.Height != h {
			return nil, fmt.Errorf("slice %s is %dx%d, expected %dx%d",
				sl.Filename, sl.Width, sl.Height, w, h)
		}
	}

	dims := models.Dims{X: w, Y: h, Z: len(slices)}
	n, ok := dims.Checked()
	if !ok {
		return nil, &models.MalformedVolumeError{Dims: dims}
	}
	samples := make([]float32, 0, n)
	for _, sl := range slices {
		samples = append(samples, sl.Values...)
	}
	logrus.WithFields(logrus.Fields{
		"dir":    s.Dir,
		"slices": len(slices),
		"dims":   dims,
	}).Debug("stacked image slices")

	field, err := models.NewVoxelField(dims, samples)
	if err != nil {
		return nil, err
	}
	return finish(field, s.Options), nil
}

// imageFiles lists the image files of the directory sorted by slice number.
// Formats are recognized by content, not extension.
func (s *SliceDir) imageFiles() ([]string, error) {
	entries, err := os.ReadDir(s.Dir)
	if err != nil {
		return nil, err
	}

	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ok, err := isImage(filepath.Join(s.Dir, e.Name()))
		if err != nil {
			return nil, err
		}
		if ok {
			files = append(files, e.Name())
		}
	}

	sort.SliceStable(files, func(i, j int) bool {
		ni, nj := extractNumber(files[i]), extractNumber(files[j])
		if ni != nj {
			return ni < nj
		}
		return files[i] < files[j]
	})
	return files, nil
}

func isImage(path string) (bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return false, err
	}
	defer f.Close()

	head := make([]byte, headerSize)
	n, err := io.ReadFull(f, head)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return false, err
	}
	return filetype.IsImage(head[:n]), nil
}

// extractNumber concatenates the digits of a file name, so "img_012.png"
// yields 12. Names without digits yield 0.
func extractNumber(filename string) int {
	base := filepath.Base(filename)
	digits := make([]byte, 0, len(base))
	for i := 0; i < len(base); i++ {
		if c := base[i]; c >= '0' && c <= '9' {
			digits = append(digits, c)
		}
	}
	if len(digits) == 0 {
		return 0
	}
	n, err := strconv.Atoi(string(digits))
	if err != nil {
		return 0
	}
	return n
}

func decodeSlice(path string) (*models.Slice, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, err
	}
	b := img.Bounds()
	sl := &models.Slice{
		Filename: filepath.Base(path),
		Width:    b.Dx(),
		Height:   b.Dy(),
		Values:   imageToFloat(img),
	}
	return sl, nil
}

// imageToFloat reads the red channel as intensity in [0, 1]. Grayscale
// images report the same value on every channel.
func imageToFloat(img image.Image) []float32 {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	out := make([]float32, w*h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			r, _, _, _ := img.At(b.Min.X+x, b.Min.Y+y).RGBA()
			out[y*w+x] = float32(r) / 65535
		}
	}
	return out
}
