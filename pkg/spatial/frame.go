// Package spatial implements the transform hierarchy that anchors a rendered
// volume in world space.
//
// Frames follow the usual scene-graph convention: the local matrix of a frame
// is T*R*S, and its world matrix is the parent's world matrix times the local
// one. Orientations are unit quaternions (gonum r3.Rotation).
package spatial

import (
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/num/quat"
	"gonum.org/v1/gonum/spatial/r3"
)

var (
	AxisX = r3.Vec{X: 1}
	AxisY = r3.Vec{Y: 1}
	AxisZ = r3.Vec{Z: 1}
)

// Identity is the rotation that leaves every vector unchanged.
var Identity = r3.Rotation{Real: 1}

// Frame is one node of a transform hierarchy.
type Frame struct {
	Name        string
	Position    r3.Vec
	Orientation r3.Rotation
	Scale       r3.Vec

	parent   *Frame
	children []*Frame
}

// NewFrame returns an identity frame.
func NewFrame(name string) *Frame {
	return &Frame{
		Name:        name,
		Orientation: Identity,
		Scale:       r3.Vec{X: 1, Y: 1, Z: 1},
	}
}

// Add nests child inside f, detaching it from any previous parent.
func (f *Frame) Add(child *Frame) {
	if child.parent != nil {
		child.parent.remove(child)
	}
	child.parent = f
	f.children = append(f.children, child)
}

func (f *Frame) remove(child *Frame) {
	for i, c := range f.children {
		if c == child {
			f.children = append(f.children[:i], f.children[i+1:]...)
			break
		}
	}
	child.parent = nil
}

// Parent returns the enclosing frame, or nil for a root.
func (f *Frame) Parent() *Frame { return f.parent }

// Children returns the nested frames in insertion order.
func (f *Frame) Children() []*Frame { return f.children }

// SetUniformScale sets the same scale on all three axes.
func (f *Frame) SetUniformScale(s float64) {
	f.Scale = r3.Vec{X: s, Y: s, Z: s}
}

// SetEulerXYZ sets the orientation from Euler angles in radians applied in
// XYZ order, so the rotation matrix is Rx*Ry*Rz.
func (f *Frame) SetEulerXYZ(x, y, z float64) {
	f.Orientation = EulerXYZ(x, y, z)
}

// LookAt orients f so that its +Z axis points from its world position toward
// target, keeping +Y as close to world up as possible.
func (f *Frame) LookAt(target r3.Vec) {
	f.Orientation = LookAt(f.WorldPosition(), target, AxisY)
	if f.parent != nil {
		// express the world orientation relative to the parent
		pq := f.parent.WorldOrientation()
		f.Orientation = Mul(Inverse(pq), f.Orientation)
	}
}

// Local returns the 4x4 local matrix T*R*S.
func (f *Frame) Local() *mat.Dense {
	return Compose(f.Position, f.Orientation, f.Scale)
}

// World returns the 4x4 matrix mapping frame coordinates to world space.
func (f *Frame) World() *mat.Dense {
	local := f.Local()
	if f.parent == nil {
		return local
	}
	var w mat.Dense
	w.Mul(f.parent.World(), local)
	return &w
}

// WorldPosition returns the origin of f in world coordinates.
func (f *Frame) WorldPosition() r3.Vec {
	return TransformPoint(f.World(), r3.Vec{})
}

// WorldOrientation returns the accumulated rotation of f, ignoring scale.
func (f *Frame) WorldOrientation() r3.Rotation {
	q := f.Orientation
	for p := f.parent; p != nil; p = p.parent {
		q = Mul(p.Orientation, q)
	}
	return q
}

// Mul returns the rotation a applied after b.
func Mul(a, b r3.Rotation) r3.Rotation {
	return r3.Rotation(quat.Mul(quat.Number(a), quat.Number(b)))
}

// Inverse returns the inverse of the unit rotation q.
func Inverse(q r3.Rotation) r3.Rotation {
	return r3.Rotation(quat.Conj(quat.Number(q)))
}

// EulerXYZ builds the rotation Rx(x)*Ry(y)*Rz(z).
func EulerXYZ(x, y, z float64) r3.Rotation {
	return Mul(Mul(r3.NewRotation(x, AxisX), r3.NewRotation(y, AxisY)), r3.NewRotation(z, AxisZ))
}

// LookAt returns the rotation whose +Z axis points from eye toward target.
// If eye and target coincide the identity is returned.
func LookAt(eye, target, up r3.Vec) r3.Rotation {
	z := r3.Sub(target, eye)
	if r3.Norm(z) == 0 {
		return Identity
	}
	z = r3.Unit(z)
	x := r3.Cross(up, z)
	if r3.Norm(x) < 1e-12 {
		// looking straight along up: nudge z off the up axis
		if math.Abs(up.Z) == 1 {
			z.X += 1e-4
		} else {
			z.Z += 1e-4
		}
		z = r3.Unit(z)
		x = r3.Cross(up, z)
	}
	x = r3.Unit(x)
	y := r3.Cross(z, x)
	return fromBasis(x, y, z)
}

// fromBasis converts the orthonormal basis (columns x, y, z) to a quaternion.
func fromBasis(x, y, z r3.Vec) r3.Rotation {
	m00, m01, m02 := x.X, y.X, z.X
	m10, m11, m12 := x.Y, y.Y, z.Y
	m20, m21, m22 := x.Z, y.Z, z.Z

	var q r3.Rotation
	switch tr := m00 + m11 + m22; {
	case tr > 0:
		s := 0.5 / math.Sqrt(tr+1)
		q = r3.Rotation{Real: 0.25 / s, Imag: (m21 - m12) * s, Jmag: (m02 - m20) * s, Kmag: (m10 - m01) * s}
	case m00 > m11 && m00 > m22:
		s := 2 * math.Sqrt(1+m00-m11-m22)
		q = r3.Rotation{Real: (m21 - m12) / s, Imag: 0.25 * s, Jmag: (m01 + m10) / s, Kmag: (m02 + m20) / s}
	case m11 > m22:
		s := 2 * math.Sqrt(1+m11-m00-m22)
		q = r3.Rotation{Real: (m02 - m20) / s, Imag: (m01 + m10) / s, Jmag: 0.25 * s, Kmag: (m12 + m21) / s}
	default:
		s := 2 * math.Sqrt(1+m22-m00-m11)
		q = r3.Rotation{Real: (m10 - m01) / s, Imag: (m02 + m20) / s, Jmag: (m12 + m21) / s, Kmag: 0.25 * s}
	}
	return q
}

// Compose builds the matrix T*R*S.
func Compose(t r3.Vec, r r3.Rotation, s r3.Vec) *mat.Dense {
	cx := r.Rotate(AxisX)
	cy := r.Rotate(AxisY)
	cz := r.Rotate(AxisZ)
	return mat.NewDense(4, 4, []float64{
		cx.X * s.X, cy.X * s.Y, cz.X * s.Z, t.X,
		cx.Y * s.X, cy.Y * s.Y, cz.Y * s.Z, t.Y,
		cx.Z * s.X, cy.Z * s.Y, cz.Z * s.Z, t.Z,
		0, 0, 0, 1,
	})
}

// TransformPoint applies the affine matrix m to the point p.
func TransformPoint(m mat.Matrix, p r3.Vec) r3.Vec {
	return r3.Vec{
		X: m.At(0, 0)*p.X + m.At(0, 1)*p.Y + m.At(0, 2)*p.Z + m.At(0, 3),
		Y: m.At(1, 0)*p.X + m.At(1, 1)*p.Y + m.At(1, 2)*p.Z + m.At(1, 3),
		Z: m.At(2, 0)*p.X + m.At(2, 1)*p.Y + m.At(2, 2)*p.Z + m.At(2, 3),
	}
}

// TransformDir applies the linear part of m to the direction d.
func TransformDir(m mat.Matrix, d r3.Vec) r3.Vec {
	return r3.Vec{
		X: m.At(0, 0)*d.X + m.At(0, 1)*d.Y + m.At(0, 2)*d.Z,
		Y: m.At(1, 0)*d.X + m.At(1, 1)*d.Y + m.At(1, 2)*d.Z,
		Z: m.At(2, 0)*d.X + m.At(2, 1)*d.Y + m.At(2, 2)*d.Z,
	}
}
