package control

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"strconv"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"volumexr/pkg/style"
)

// Widget is a slider bound to one state field.
type Widget struct {
	Field style.Field
	Label string
	Range style.Range

	value float64

	hovered int // number of pointers over the row
	active  bool
	glow    float64 // hover highlight, eased toward the hover state each repaint
}

func newWidget(f style.Field) *Widget {
	return &Widget{Field: f, Label: f.Label(), Range: f.Range()}
}

// Value returns the displayed value.
func (w *Widget) Value() float64 { return w.value }

// Hovered reports whether any pointer is over the widget.
func (w *Widget) Hovered() bool { return w.hovered > 0 }

// Active reports whether a pointer is dragging the widget.
func (w *Widget) Active() bool { return w.active }

// Glow returns the hover highlight level in [0, 1].
func (w *Widget) Glow() float64 { return w.glow }

const glowRate = 0.25

func (w *Widget) animate() {
	target := 0.0
	if w.hovered > 0 || w.active {
		target = 1
	}
	switch {
	case w.glow < target:
		w.glow = min(w.glow+glowRate, target)
	case w.glow > target:
		w.glow = max(w.glow-glowRate, target)
	}
}

// fraction returns the slider fill in [0, 1].
func (w *Widget) fraction() float64 {
	span := w.Range.Max - w.Range.Min
	if span <= 0 {
		return 0
	}
	return min(max((w.value-w.Range.Min)/span, 0), 1)
}

func (w *Widget) text() string {
	prec := 0
	switch s := w.Range.Step; {
	case s > 0 && s < 0.1:
		prec = 2
	case s > 0 && s < 1:
		prec = 1
	}
	return strconv.FormatFloat(w.value, 'f', prec, 64)
}

var (
	colBackground = color.RGBA{0x1f, 0x1f, 0x1f, 0xff}
	colTitle      = color.RGBA{0x11, 0x11, 0x11, 0xff}
	colRow        = color.RGBA{0x2c, 0x2c, 0x2c, 0xff}
	colTrack      = color.RGBA{0x42, 0x42, 0x42, 0xff}
	colFill       = color.RGBA{0x2c, 0xc9, 0xff, 0xff}
	colText       = color.RGBA{0xeb, 0xeb, 0xeb, 0xff}
)

func mix(a, b color.RGBA, t float64) color.RGBA {
	f := func(x, y uint8) uint8 { return uint8(float64(x) + (float64(y)-float64(x))*t + 0.5) }
	return color.RGBA{f(a.R, b.R), f(a.G, b.G), f(a.B, b.B), f(a.A, b.A)}
}

func fill(dst draw.Image, r image.Rectangle, c color.Color) {
	draw.Draw(dst, r, image.NewUniform(c), image.Point{}, draw.Src)
}

func drawText(dst draw.Image, x, baseline int, s string, c color.Color) {
	d := &font.Drawer{
		Dst:  dst,
		Src:  image.NewUniform(c),
		Face: basicfont.Face7x13,
		Dot:  fixed.P(x, baseline),
	}
	d.DrawString(s)
}

func textWidth(s string) int {
	return font.MeasureString(basicfont.Face7x13, s).Ceil()
}

// draw rasterizes the whole panel.
func (p *Panel) draw() {
	img := p.surface
	b := img.Bounds()
	fill(img, b, colBackground)
	fill(img, image.Rect(0, 0, b.Dx(), titleHeight), colTitle)
	drawText(img, padding, titleHeight-7, p.Title, colText)

	x0, x1 := p.trackSpan()
	for i, w := range p.Widgets {
		top := titleHeight + i*rowHeight
		row := image.Rect(0, top, b.Dx(), top+rowHeight)
		fill(img, row.Inset(1), mix(colBackground, colRow, w.glow))

		label := w.Label
		for len(label) > 0 && padding+textWidth(label) > x0-4 {
			label = label[:len(label)-1]
		}
		drawText(img, padding, top+rowHeight/2+5, label, colText)

		track := image.Rect(x0, top+8, x1, top+rowHeight-8)
		fill(img, track, colTrack)
		filled := track
		filled.Max.X = x0 + int(float64(x1-x0)*w.fraction()+0.5)
		fill(img, filled, colFill)

		val := w.text()
		drawText(img, b.Dx()-padding-textWidth(val), top+rowHeight/2+5, val, colText)
	}
}

func (w *Widget) String() string {
	return fmt.Sprintf("%s=%s", w.Field, w.text())
}
