package geom

import (
	"math"

	"gonum.org/v1/gonum/num/quat"
	"gonum.org/v1/gonum/spatial/r3"
)

var (
	// Forward is the local forward axis.
	Forward = r3.Vec{Z: 1}
	// Up is the local up axis.
	Up = r3.Vec{Y: 1}
)

// Transform is a rigid transform: rotate by Q, then translate by T.
type Transform struct {
	T r3.Vec
	Q quat.Number
}

// Identity returns the identity transform.
func Identity() Transform {
	return Transform{Q: quat.Number{Real: 1}}
}

// New returns a transform with a normalized rotation.
func New(t r3.Vec, q quat.Number) Transform {
	return Transform{T: t, Q: normalize(q)}
}

// FromYaw returns a transform at t rotated by angle radians about the up axis.
func FromYaw(t r3.Vec, angle float64) Transform {
	return Transform{T: t, Q: quat.Number(r3.NewRotation(angle, Up))}
}

// Mul returns a*b, the transform applying b first and then a.
func (a Transform) Mul(b Transform) Transform {
	return Transform{
		T: r3.Add(a.T, a.Rotate(b.T)),
		Q: normalize(quat.Mul(a.Q, b.Q)),
	}
}

// Inverse returns the inverse transform.
func (a Transform) Inverse() Transform {
	inv := quat.Conj(a.Q)
	return Transform{
		T: r3.Scale(-1, r3.Rotation(inv).Rotate(a.T)),
		Q: inv,
	}
}

// Rotate rotates v by the transform's rotation.
func (a Transform) Rotate(v r3.Vec) r3.Vec {
	return r3.Rotation(a.Q).Rotate(v)
}

// TransformPoint maps p from local into parent space.
func (a Transform) TransformPoint(p r3.Vec) r3.Vec {
	return r3.Add(a.T, a.Rotate(p))
}

// Forward returns the world-space forward direction.
func (a Transform) Forward() r3.Vec {
	return a.Rotate(Forward)
}

// Blend interpolates between a and b: translation linearly, rotation along
// the shortest arc. theta is clamped to [0,1].
func Blend(a, b Transform, theta float64) Transform {
	theta = clamp(theta, 0, 1)
	return Transform{
		T: r3.Add(a.T, r3.Scale(theta, r3.Sub(b.T, a.T))),
		Q: slerp(a.Q, b.Q, theta),
	}
}

// LinearError returns the distance between the translations of a and b.
func LinearError(a, b Transform) float64 {
	return r3.Norm(r3.Sub(a.T, b.T))
}

// AngularError returns the angle in radians between the forward directions
// of a and b.
func AngularError(a, b Transform) float64 {
	return AngleBetween(a.Forward(), b.Forward())
}

// AngleBetween returns the angle in radians between two directions.
// Zero-length inputs yield zero.
func AngleBetween(u, v r3.Vec) float64 {
	nu, nv := r3.Norm(u), r3.Norm(v)
	if nu == 0 || nv == 0 {
		return 0
	}
	return math.Acos(clamp(r3.Dot(u, v)/(nu*nv), -1, 1))
}

// ApproxEqual reports whether a and b differ by at most tol in translation
// and represent rotations within tol radians.
func ApproxEqual(a, b Transform, tol float64) bool {
	if LinearError(a, b) > tol {
		return false
	}
	return RotationAngle(a, b) <= tol
}

// RotationAngle returns the angle in radians of the rotation taking a to b.
func RotationAngle(a, b Transform) float64 {
	d := quat.Mul(quat.Conj(a.Q), b.Q)
	im := math.Sqrt(d.Imag*d.Imag + d.Jmag*d.Jmag + d.Kmag*d.Kmag)
	return 2 * math.Atan2(im, math.Abs(d.Real))
}

func slerp(a, b quat.Number, t float64) quat.Number {
	cos := dot(a, b)
	if cos < 0 {
		b = quat.Scale(-1, b)
		cos = -cos
	}
	if cos > 0.9995 {
		return normalize(quat.Add(a, quat.Scale(t, quat.Sub(b, a))))
	}
	omega := math.Acos(cos)
	sin := math.Sin(omega)
	wa := math.Sin((1-t)*omega) / sin
	wb := math.Sin(t*omega) / sin
	return normalize(quat.Add(quat.Scale(wa, a), quat.Scale(wb, b)))
}

func dot(a, b quat.Number) float64 {
	return a.Real*b.Real + a.Imag*b.Imag + a.Jmag*b.Jmag + a.Kmag*b.Kmag
}

func normalize(q quat.Number) quat.Number {
	n := quat.Abs(q)
	if n == 0 {
		return quat.Number{Real: 1}
	}
	return quat.Scale(1/n, q)
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
