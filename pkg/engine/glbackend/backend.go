//go:build gl

// Package glbackend implements engine.Engine on OpenGL 4.1 core. The host
// owns the window and context; every method must run on the thread that has
// the context current.
package glbackend

import (
	"fmt"
	"strings"

	"github.com/go-gl/gl/v4.1-core/gl"
	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/r3"

	"volumexr/pkg/colormap"
	"volumexr/pkg/engine"
	"volumexr/pkg/raymarch"
	"volumexr/pkg/spatial"
	"volumexr/pkg/texture"
)

// Backend keeps the node tree of an engine.Headless and adds GPU textures,
// the compiled volume shader and a draw pass.
type Backend struct {
	*engine.Headless

	program  uint32
	locs     map[string]int32
	cube     uint32
	cubeVBO  uint32
	textures map[texture.Handle]uint32
	palettes map[*colormap.Palette]uint32
	surfaces map[engine.Node]uint32
}

var uniformNames = []string{
	raymarch.UniformData,
	raymarch.UniformSize,
	raymarch.UniformClim,
	raymarch.UniformRenderStyle,
	raymarch.UniformRenderThreshold,
	raymarch.UniformColormap,
	"u_model", "u_view", "u_projection", "u_eye",
}

// New initializes GL function pointers, compiles the volume shader and
// builds the unit cube.
func New() (*Backend, error) {
	if err := gl.Init(); err != nil {
		return nil, fmt.Errorf("initializing OpenGL: %w", err)
	}
	logrus.WithField("version", gl.GoStr(gl.GetString(gl.VERSION))).Info("OpenGL ready")

	prog, err := linkProgram(raymarch.VertexShader, raymarch.FragmentShader)
	if err != nil {
		return nil, err
	}
	b := &Backend{
		Headless: engine.NewHeadless(),
		program:  prog,
		locs:     make(map[string]int32, len(uniformNames)),
		textures: make(map[texture.Handle]uint32),
		palettes: make(map[*colormap.Palette]uint32),
		surfaces: make(map[engine.Node]uint32),
	}
	for _, name := range uniformNames {
		b.locs[name] = gl.GetUniformLocation(prog, gl.Str(name+"\x00"))
	}
	b.cube, b.cubeVBO = unitCube()
	return b, nil
}

// UploadVolume allocates an R32F 3D texture with linear filtering and no
// mipmaps.
func (b *Backend) UploadVolume(desc texture.Descriptor, samples []float32) (texture.Handle, error) {
	if desc.Format != texture.FormatR32F {
		return 0, fmt.Errorf("unsupported texture format %s", desc.Format)
	}
	if len(samples) != desc.Dims.Count() {
		return 0, fmt.Errorf("texture needs %d samples, got %d", desc.Dims.Count(), len(samples))
	}

	var id uint32
	gl.GenTextures(1, &id)
	gl.BindTexture(gl.TEXTURE_3D, id)
	gl.PixelStorei(gl.UNPACK_ALIGNMENT, int32(desc.UnpackAlignment))
	gl.TexParameteri(gl.TEXTURE_3D, gl.TEXTURE_WRAP_S, gl.CLAMP_TO_EDGE)
	gl.TexParameteri(gl.TEXTURE_3D, gl.TEXTURE_WRAP_T, gl.CLAMP_TO_EDGE)
	gl.TexParameteri(gl.TEXTURE_3D, gl.TEXTURE_WRAP_R, gl.CLAMP_TO_EDGE)
	gl.TexParameteri(gl.TEXTURE_3D, gl.TEXTURE_MIN_FILTER, glFilter(desc.MinFilter))
	gl.TexParameteri(gl.TEXTURE_3D, gl.TEXTURE_MAG_FILTER, glFilter(desc.MagFilter))
	gl.TexParameteri(gl.TEXTURE_3D, gl.TEXTURE_MAX_LEVEL, int32(desc.MipLevels-1))
	gl.TexImage3D(gl.TEXTURE_3D, 0, gl.R32F,
		int32(desc.Dims.X), int32(desc.Dims.Y), int32(desc.Dims.Z),
		0, gl.RED, gl.FLOAT, gl.Ptr(samples))
	gl.BindTexture(gl.TEXTURE_3D, 0)

	if code := gl.GetError(); code != gl.NO_ERROR {
		gl.DeleteTextures(1, &id)
		return 0, fmt.Errorf("TexImage3D failed with 0x%X", code)
	}
	h, err := b.Headless.UploadVolume(desc, nil)
	if err != nil {
		gl.DeleteTextures(1, &id)
		return 0, err
	}
	b.textures[h] = id
	return h, nil
}

// ReleaseTexture deletes the GL texture behind h and drops its accounting.
func (b *Backend) ReleaseTexture(h texture.Handle) {
	if id, ok := b.textures[h]; ok {
		gl.DeleteTextures(1, &id)
		delete(b.textures, h)
	}
	b.Headless.ReleaseTexture(h)
}

func glFilter(f texture.Filter) int32 {
	if f == texture.FilterNearest {
		return gl.NEAREST
	}
	return gl.LINEAR
}

// paletteTexture returns the 2D texture for p, uploading it on first use.
func (b *Backend) paletteTexture(p *colormap.Palette) uint32 {
	if id, ok := b.palettes[p]; ok {
		return id
	}
	var id uint32
	gl.GenTextures(1, &id)
	gl.BindTexture(gl.TEXTURE_2D, id)
	gl.PixelStorei(gl.UNPACK_ALIGNMENT, 1)
	gl.TexParameteri(gl.TEXTURE_2D, gl.TEXTURE_WRAP_S, gl.CLAMP_TO_EDGE)
	gl.TexParameteri(gl.TEXTURE_2D, gl.TEXTURE_WRAP_T, gl.CLAMP_TO_EDGE)
	gl.TexParameteri(gl.TEXTURE_2D, gl.TEXTURE_MIN_FILTER, gl.LINEAR)
	gl.TexParameteri(gl.TEXTURE_2D, gl.TEXTURE_MAG_FILTER, gl.LINEAR)
	r := p.Img.Bounds()
	gl.TexImage2D(gl.TEXTURE_2D, 0, gl.RGBA8, int32(r.Dx()), int32(r.Dy()),
		0, gl.RGBA, gl.UNSIGNED_BYTE, gl.Ptr(p.Img.Pix))
	gl.BindTexture(gl.TEXTURE_2D, 0)
	b.palettes[p] = id
	return id
}

// SurfaceTexture uploads the current raster of a panel node and returns its
// 2D texture, for the host to draw on a quad.
func (b *Backend) SurfaceTexture(n engine.Node) (uint32, bool) {
	info, ok := b.Node(n)
	if !ok || info.Surface == nil {
		return 0, false
	}
	id, ok := b.surfaces[n]
	if !ok {
		gl.GenTextures(1, &id)
		b.surfaces[n] = id
	}
	img := info.Surface
	r := img.Bounds()
	gl.BindTexture(gl.TEXTURE_2D, id)
	gl.PixelStorei(gl.UNPACK_ALIGNMENT, 1)
	gl.TexParameteri(gl.TEXTURE_2D, gl.TEXTURE_MIN_FILTER, gl.LINEAR)
	gl.TexParameteri(gl.TEXTURE_2D, gl.TEXTURE_MAG_FILTER, gl.LINEAR)
	gl.TexImage2D(gl.TEXTURE_2D, 0, gl.RGBA8, int32(r.Dx()), int32(r.Dy()),
		0, gl.RGBA, gl.UNSIGNED_BYTE, gl.Ptr(img.Pix))
	gl.BindTexture(gl.TEXTURE_2D, 0)
	return id, true
}

// Draw renders every visible volume node. view and projection are
// column-major 4x4 matrices; eye is the camera position in world space.
func (b *Backend) Draw(view, projection [16]float32, eye r3.Vec) {
	gl.UseProgram(b.program)
	gl.Enable(gl.CULL_FACE)
	gl.CullFace(gl.FRONT)
	gl.Enable(gl.BLEND)
	gl.BlendFunc(gl.SRC_ALPHA, gl.ONE_MINUS_SRC_ALPHA)
	gl.UniformMatrix4fv(b.locs["u_view"], 1, false, &view[0])
	gl.UniformMatrix4fv(b.locs["u_projection"], 1, false, &projection[0])

	b.Walk(func(n engine.Node, info engine.NodeInfo) {
		if info.Program == nil || info.World == nil || !info.Program.Bound() {
			return
		}
		if err := b.drawVolume(info.Program, info.World, eye); err != nil {
			logrus.WithField("node", info.Name).WithError(err).Warn("volume draw skipped")
		}
	})

	gl.BindVertexArray(0)
	gl.UseProgram(0)
}

func (b *Backend) drawVolume(p *raymarch.Program, world *mat.Dense, eye r3.Vec) error {
	u := p.Uniforms()
	h, ok := u.Data.Handle()
	if !ok {
		return fmt.Errorf("volume texture %s not uploaded", u.Data.Dims())
	}
	var inv mat.Dense
	if err := inv.Inverse(world); err != nil {
		return err
	}
	local := spatial.TransformPoint(&inv, eye)

	model := columnMajor(world)
	gl.UniformMatrix4fv(b.locs["u_model"], 1, false, &model[0])
	gl.Uniform3f(b.locs["u_eye"], float32(local.X), float32(local.Y), float32(local.Z))
	gl.Uniform3f(b.locs[raymarch.UniformSize], u.Size[0], u.Size[1], u.Size[2])
	gl.Uniform2f(b.locs[raymarch.UniformClim], u.Clim[0], u.Clim[1])
	gl.Uniform1i(b.locs[raymarch.UniformRenderStyle], u.RenderStyle)
	gl.Uniform1f(b.locs[raymarch.UniformRenderThreshold], u.RenderThreshold)

	gl.ActiveTexture(gl.TEXTURE0)
	gl.BindTexture(gl.TEXTURE_3D, b.textures[h])
	gl.Uniform1i(b.locs[raymarch.UniformData], 0)
	if u.CMData != nil {
		gl.ActiveTexture(gl.TEXTURE1)
		gl.BindTexture(gl.TEXTURE_2D, b.paletteTexture(u.CMData))
		gl.Uniform1i(b.locs[raymarch.UniformColormap], 1)
	}

	gl.BindVertexArray(b.cube)
	gl.DrawArrays(gl.TRIANGLES, 0, 36)
	return nil
}

// Close frees every GL object owned by the backend.
func (b *Backend) Close() {
	for h := range b.textures {
		b.ReleaseTexture(h)
	}
	for p, id := range b.palettes {
		gl.DeleteTextures(1, &id)
		delete(b.palettes, p)
	}
	for n, id := range b.surfaces {
		gl.DeleteTextures(1, &id)
		delete(b.surfaces, n)
	}
	gl.DeleteVertexArrays(1, &b.cube)
	gl.DeleteBuffers(1, &b.cubeVBO)
	gl.DeleteProgram(b.program)
}

func columnMajor(m *mat.Dense) [16]float32 {
	var out [16]float32
	for c := 0; c < 4; c++ {
		for r := 0; r < 4; r++ {
			out[c*4+r] = float32(m.At(r, c))
		}
	}
	return out
}

func compileShader(source string, kind uint32) (uint32, error) {
	shader := gl.CreateShader(kind)
	csources, free := gl.Strs(source + "\x00")
	gl.ShaderSource(shader, 1, csources, nil)
	free()
	gl.CompileShader(shader)

	var status int32
	gl.GetShaderiv(shader, gl.COMPILE_STATUS, &status)
	if status == gl.FALSE {
		var logLength int32
		gl.GetShaderiv(shader, gl.INFO_LOG_LENGTH, &logLength)
		log := strings.Repeat("\x00", int(logLength+1))
		gl.GetShaderInfoLog(shader, logLength, nil, gl.Str(log))
		gl.DeleteShader(shader)
		return 0, fmt.Errorf("compiling shader: %s", strings.TrimRight(log, "\x00"))
	}
	return shader, nil
}

func linkProgram(vertex, fragment string) (uint32, error) {
	vs, err := compileShader(vertex, gl.VERTEX_SHADER)
	if err != nil {
		return 0, err
	}
	defer gl.DeleteShader(vs)
	fs, err := compileShader(fragment, gl.FRAGMENT_SHADER)
	if err != nil {
		return 0, err
	}
	defer gl.DeleteShader(fs)

	prog := gl.CreateProgram()
	gl.AttachShader(prog, vs)
	gl.AttachShader(prog, fs)
	gl.LinkProgram(prog)

	var status int32
	gl.GetProgramiv(prog, gl.LINK_STATUS, &status)
	if status == gl.FALSE {
		var logLength int32
		gl.GetProgramiv(prog, gl.INFO_LOG_LENGTH, &logLength)
		log := strings.Repeat("\x00", int(logLength+1))
		gl.GetProgramInfoLog(prog, logLength, nil, gl.Str(log))
		gl.DeleteProgram(prog)
		return 0, fmt.Errorf("linking volume program: %s", strings.TrimRight(log, "\x00"))
	}
	return prog, nil
}

// cubeVertices lists the 12 triangles of [0,1]^3, wound outwards.
func cubeVertices() []float32 {
	corners := [8][3]float32{
		{0, 0, 0}, {1, 0, 0}, {1, 1, 0}, {0, 1, 0},
		{0, 0, 1}, {1, 0, 1}, {1, 1, 1}, {0, 1, 1},
	}
	faces := [6][4]int{
		{0, 3, 2, 1}, // -z
		{4, 5, 6, 7}, // +z
		{0, 4, 7, 3}, // -x
		{1, 2, 6, 5}, // +x
		{0, 1, 5, 4}, // -y
		{3, 7, 6, 2}, // +y
	}
	verts := make([]float32, 0, 36*3)
	for _, f := range faces {
		for _, i := range []int{f[0], f[1], f[2], f[0], f[2], f[3]} {
			verts = append(verts, corners[i][:]...)
		}
	}
	return verts
}

// unitCube uploads cubeVertices into a VAO. Both handles are released by
// Close.
func unitCube() (vao, vbo uint32) {
	verts := cubeVertices()
	gl.GenVertexArrays(1, &vao)
	gl.BindVertexArray(vao)
	gl.GenBuffers(1, &vbo)
	gl.BindBuffer(gl.ARRAY_BUFFER, vbo)
	gl.BufferData(gl.ARRAY_BUFFER, len(verts)*4, gl.Ptr(verts), gl.STATIC_DRAW)
	gl.EnableVertexAttribArray(0)
	gl.VertexAttribPointerWithOffset(0, 3, gl.FLOAT, false, 3*4, 0)
	gl.BindVertexArray(0)
	return vao, vbo
}
