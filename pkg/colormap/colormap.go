// Package colormap provides the four fixed lookup palettes used to map scalar
// intensity to display color.
package colormap

import (
	"fmt"
	"image"
	"image/color"
	"sort"

	"github.com/lucasb-eyer/go-colorful"
)

// Width is the number of texels in a palette lookup texture.
const Width = 256

// Palette ids. The default is Turbo.
const (
	Turbo   = 1
	Inferno = 2
	Plasma  = 3
	Viridis = 4

	Default = Turbo
)

var stops = map[int]struct {
	name string
	hex  []string
}{
	Turbo: {"turbo", []string{
		"#30123b", "#4145ab", "#4675ed", "#39a2fc", "#1bcfd4", "#24eca6", "#61fc6c", "#a4fc3b",
		"#d1e834", "#f3c63a", "#fe9b2d", "#f36315", "#d93806", "#b11901", "#7a0403",
	}},
	Inferno: {"inferno", []string{
		"#000004", "#1b0c41", "#4a0c6b", "#781c6d", "#a52c60", "#cf4446", "#ed6925", "#fb9b06",
		"#f7d13d", "#fcffa4",
	}},
	Plasma: {"plasma", []string{
		"#0d0887", "#46039f", "#7201a8", "#9c179e", "#bd3786", "#d8576b", "#ed7953", "#fb9f3a",
		"#fdca26", "#f0f921",
	}},
	Viridis: {"viridis", []string{
		"#440154", "#482878", "#3e4989", "#31688e", "#26828e", "#1f9e89", "#35b779", "#6ece58",
		"#b5de2b", "#fde725",
	}},
}

// Palette is a pre-rasterized Width x 1 lookup texture.
type Palette struct {
	ID   int
	Name string
	Img  *image.RGBA
}

// Lookup returns the linearly filtered color at t in [0, 1], with clamp to
// edge outside that range.
func (p *Palette) Lookup(t float32) color.RGBA {
	f := t*Width - 0.5
	if f <= 0 {
		return p.Img.RGBAAt(0, 0)
	}
	if f >= Width-1 {
		return p.Img.RGBAAt(Width-1, 0)
	}
	i := int(f)
	w := f - float32(i)
	a, b := p.Img.RGBAAt(i, 0), p.Img.RGBAAt(i+1, 0)
	mix := func(x, y uint8) uint8 {
		return uint8(float32(x) + (float32(y)-float32(x))*w + 0.5)
	}
	return color.RGBA{mix(a.R, b.R), mix(a.G, b.G), mix(a.B, b.B), mix(a.A, b.A)}
}

func rasterize(id int) (*Palette, error) {
	def, ok := stops[id]
	if !ok {
		return nil, fmt.Errorf("unknown colormap id %d", id)
	}
	cols := make([]colorful.Color, len(def.hex))
	for i, h := range def.hex {
		c, err := colorful.Hex(h)
		if err != nil {
			return nil, fmt.Errorf("colormap %s stop %d: %w", def.name, i, err)
		}
		cols[i] = c
	}

	img := image.NewRGBA(image.Rect(0, 0, Width, 1))
	segs := float64(len(cols) - 1)
	for x := 0; x < Width; x++ {
		pos := float64(x) / float64(Width-1) * segs
		i := min(int(pos), len(cols)-2)
		c := cols[i].BlendLab(cols[i+1], pos-float64(i)).Clamped()
		r, g, b := c.RGB255()
		img.SetRGBA(x, 0, color.RGBA{r, g, b, 255})
	}
	return &Palette{ID: id, Name: def.name, Img: img}, nil
}

// Set holds one palette per id. Palettes are built once and handed out by
// pointer, so the same id always yields the same texture reference.
type Set struct {
	byID map[int]*Palette
}

// NewSet rasterizes all built-in palettes.
func NewSet() (*Set, error) {
	s := &Set{byID: make(map[int]*Palette, len(stops))}
	for id := range stops {
		p, err := rasterize(id)
		if err != nil {
			return nil, err
		}
		s.byID[id] = p
	}
	return s, nil
}

// Get returns the palette for id.
func (s *Set) Get(id int) (*Palette, bool) {
	p, ok := s.byID[id]
	return p, ok
}

// IDs returns the available palette ids in ascending order.
func (s *Set) IDs() []int {
	ids := make([]int, 0, len(s.byID))
	for id := range s.byID {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}
