// Package engine is the boundary between volumexr and the graphics engine
// that owns the window, the immersive session and primitive drawing. The
// composer only ever sees opaque node handles.
package engine

import (
	"errors"
	"fmt"
	"image"
	"time"

	"gonum.org/v1/gonum/mat"

	"volumexr/pkg/raymarch"
	"volumexr/pkg/texture"
)

// Node is an opaque handle to an engine scene node. Root always exists.
type Node uint32

// Root is the scene root node.
const Root Node = 0

// ErrUnknownNode is returned for handles the engine never issued.
var ErrUnknownNode = errors.New("unknown node")

// FrameFunc is called once per display refresh with the time since the
// previous frame.
type FrameFunc func(dt time.Duration)

// Device uploads and frees GPU resources.
type Device interface {
	texture.Uploader
}

// Engine is the scene-graph surface used by the composer.
type Engine interface {
	Device

	// NewNode creates a visible node under Root.
	NewNode(name string) Node
	// Attach reparents child under parent.
	Attach(parent, child Node) error
	// SetTransform sets the node's world matrix (4x4, column vectors).
	SetTransform(n Node, world *mat.Dense) error
	SetVisible(n Node, visible bool) error
	// SetSurface attaches a raster image drawn on a unit quad.
	SetSurface(n Node, img *image.RGBA) error
	// SetProgram makes the node draw the volume bound to p.
	SetProgram(n Node, p *raymarch.Program) error
	// OnFrame registers a per-frame callback. Callbacks run in
	// registration order on the engine's frame goroutine.
	OnFrame(cb FrameFunc)
}

func unknown(n Node) error {
	return fmt.Errorf("%w %d", ErrUnknownNode, n)
}
