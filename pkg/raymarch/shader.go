package raymarch

import _ "embed"

// Shader sources for GPU engines. The vertex stage expects a unit cube with
// its minimum corner at the origin and back-face rendering.
var (
	//go:embed shaders/volume.vert
	VertexShader string

	//go:embed shaders/volume.frag
	FragmentShader string
)

// Algorithm constants shared by the shader and the CPU tracer.
const (
	MaxSteps         = 887
	RefinementSteps  = 4
	RelativeStepSize = 1.0
	// DiscardAlpha is the alpha below which a fragment is dropped.
	DiscardAlpha = 0.05
	// isoBand widens the coarse isosurface test by this share of the clim
	// span so the refinement pass starts just before the crossing.
	isoBand   = 0.02
	ambient   = 0.2
	shininess = 40
	specular  = 0.25
)
