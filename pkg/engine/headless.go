package engine

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/mat"

	"volumexr/pkg/raymarch"
	"volumexr/pkg/texture"
)

// NodeInfo is a snapshot of one headless node.
type NodeInfo struct {
	Name     string
	Parent   Node
	Children []Node
	Visible  bool
	World    *mat.Dense
	Surface  *image.RGBA
	Program  *raymarch.Program
}

type node struct {
	info NodeInfo
}

var _ Engine = (*Headless)(nil)

// Headless is an in-process Engine without a display. It records the node
// tree, accounts texture memory, drives frames from a ticker and renders
// volume nodes with the CPU tracer.
type Headless struct {
	mu       sync.Mutex
	nodes    []*node
	textures map[texture.Handle]texture.Descriptor
	next     texture.Handle
	frameCBs []FrameFunc
	frames   uint64
}

// NewHeadless returns an engine holding only the root node.
func NewHeadless() *Headless {
	return &Headless{
		nodes:    []*node{{info: NodeInfo{Name: "root", Visible: true}}},
		textures: make(map[texture.Handle]texture.Descriptor),
	}
}

func (h *Headless) get(n Node) (*node, error) {
	if int(n) >= len(h.nodes) {
		return nil, unknown(n)
	}
	return h.nodes[n], nil
}

// NewNode creates a visible node attached under Root.
func (h *Headless) NewNode(name string) Node {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := Node(len(h.nodes))
	h.nodes = append(h.nodes, &node{info: NodeInfo{Name: name, Parent: Root, Visible: true}})
	h.nodes[Root].info.Children = append(h.nodes[Root].info.Children, n)
	return n
}

// Attach moves child under parent. Attaching a node below itself fails.
func (h *Headless) Attach(parent, child Node) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	p, err := h.get(parent)
	if err != nil {
		return err
	}
	c, err := h.get(child)
	if err != nil {
		return err
	}
	if child == Root {
		return unknown(child)
	}
	for a := parent; ; a = h.nodes[a].info.Parent {
		if a == child {
			return fmt.Errorf("attaching %q under %q would form a cycle", c.info.Name, p.info.Name)
		}
		if a == Root {
			break
		}
	}
	if old, _ := h.get(c.info.Parent); old != nil {
		kids := old.info.Children[:0]
		for _, k := range old.info.Children {
			if k != child {
				kids = append(kids, k)
			}
		}
		old.info.Children = kids
	}
	c.info.Parent = parent
	p.info.Children = append(p.info.Children, child)
	return nil
}

// SetTransform stores a copy of the world matrix of n.
func (h *Headless) SetTransform(n Node, world *mat.Dense) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	nd, err := h.get(n)
	if err != nil {
		return err
	}
	nd.info.World = mat.DenseCopyOf(world)
	return nil
}

// SetVisible shows or hides n and its subtree.
func (h *Headless) SetVisible(n Node, visible bool) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	nd, err := h.get(n)
	if err != nil {
		return err
	}
	nd.info.Visible = visible
	return nil
}

// SetSurface assigns the raster shown on n.
func (h *Headless) SetSurface(n Node, img *image.RGBA) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	nd, err := h.get(n)
	if err != nil {
		return err
	}
	nd.info.Surface = img
	return nil
}

// SetProgram assigns the volume program drawn at n.
func (h *Headless) SetProgram(n Node, p *raymarch.Program) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	nd, err := h.get(n)
	if err != nil {
		return err
	}
	nd.info.Program = p
	return nil
}

// OnFrame registers cb to run once per frame, in registration order.
func (h *Headless) OnFrame(cb FrameFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.frameCBs = append(h.frameCBs, cb)
}

// UploadVolume records the descriptor and issues a new handle.
func (h *Headless) UploadVolume(desc texture.Descriptor, samples []float32) (texture.Handle, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.next++
	h.textures[h.next] = desc
	logrus.WithFields(logrus.Fields{
		"texture": h.next,
		"dims":    desc.Dims,
		"bytes":   desc.ByteSize(),
	}).Debug("volume texture uploaded")
	return h.next, nil
}

// ReleaseTexture frees the texture memory accounted to t.
func (h *Headless) ReleaseTexture(t texture.Handle) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.textures, t)
}

// TextureBytes is the total size of live textures.
func (h *Headless) TextureBytes() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	total := 0
	for _, d := range h.textures {
		total += d.ByteSize()
	}
	return total
}

// Textures is the number of live textures.
func (h *Headless) Textures() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.textures)
}

// Node returns a copy of the node's state.
func (h *Headless) Node(n Node) (NodeInfo, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	nd, err := h.get(n)
	if err != nil {
		return NodeInfo{}, false
	}
	info := nd.info
	info.Children = append([]Node(nil), nd.info.Children...)
	return info, true
}

// Lookup finds the first node with the given name.
func (h *Headless) Lookup(name string) (Node, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for i, nd := range h.nodes {
		if nd.info.Name == name {
			return Node(i), true
		}
	}
	return 0, false
}

// Frames is the number of completed frames.
func (h *Headless) Frames() uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.frames
}

// Step runs one frame.
func (h *Headless) Step(dt time.Duration) {
	h.mu.Lock()
	cbs := append([]FrameFunc(nil), h.frameCBs...)
	h.mu.Unlock()

	for _, cb := range cbs {
		cb(dt)
	}

	h.mu.Lock()
	h.frames++
	h.mu.Unlock()
}

// Run steps a frame on every tick of interval until ctx is done or limit
// frames have run (limit <= 0 means no limit).
func (h *Headless) Run(ctx context.Context, interval time.Duration, limit int) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	last := time.Now()
	for i := 0; limit <= 0 || i < limit; i++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-ticker.C:
			h.Step(now.Sub(last))
			last = now
		}
	}
	logrus.WithField("frame", h.Frames()).Debug("headless run finished")
	return nil
}

// visibleFrom reports whether n and all its ancestors are visible.
func (h *Headless) visibleFrom(n Node) bool {
	for {
		nd := h.nodes[n]
		if !nd.info.Visible {
			return false
		}
		if n == Root {
			return true
		}
		n = nd.info.Parent
	}
}

// Render draws every visible volume node into a w x h image seen through
// cam, over a solid background.
func (h *Headless) Render(ctx context.Context, cam raymarch.Camera, w, hgt int, bg color.Color, opts raymarch.RenderOptions) (*image.RGBA, error) {
	type job struct {
		p   *raymarch.Program
		inv *mat.Dense
	}
	var jobs []job

	h.mu.Lock()
	for i, nd := range h.nodes {
		if nd.info.Program == nil || nd.info.World == nil || !h.visibleFrom(Node(i)) {
			continue
		}
		var inv mat.Dense
		if err := inv.Inverse(nd.info.World); err != nil {
			logrus.WithField("node", nd.info.Name).WithError(err).Warn("skipping singular volume transform")
			continue
		}
		jobs = append(jobs, job{p: nd.info.Program, inv: &inv})
	}
	h.mu.Unlock()

	img := image.NewRGBA(image.Rect(0, 0, w, hgt))
	draw.Draw(img, img.Bounds(), image.NewUniform(bg), image.Point{}, draw.Src)
	for _, j := range jobs {
		if err := raymarch.Render(ctx, j.p, cam, j.inv, img, opts); err != nil {
			return nil, err
		}
	}
	return img, nil
}

// Walk calls fn for every visible node, parents before children. Hidden
// nodes and their subtrees are skipped.
func (h *Headless) Walk(fn func(n Node, info NodeInfo)) {
	h.mu.Lock()
	var order []Node
	var visit func(n Node)
	visit = func(n Node) {
		if !h.nodes[n].info.Visible {
			return
		}
		order = append(order, n)
		for _, c := range h.nodes[n].info.Children {
			visit(c)
		}
	}
	visit(Root)
	infos := make([]NodeInfo, len(order))
	for i, n := range order {
		infos[i] = h.nodes[n].info
	}
	h.mu.Unlock()

	for i, n := range order {
		fn(n, infos[i])
	}
}
