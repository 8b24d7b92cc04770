package gonumExtensions

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// RotationX returns the counter-clockwise rotation by angle (radians)
// around the x-axis.
func RotationX(angle float64) *mat.Dense {
	c, s := math.Cos(angle), math.Sin(angle)
	return mat.NewDense(3, 3, []float64{
		1, 0, 0,
		0, c, -s,
		0, s, c,
	})
}

// RotationY returns the counter-clockwise rotation around the y-axis.
func RotationY(angle float64) *mat.Dense {
	c, s := math.Cos(angle), math.Sin(angle)
	return mat.NewDense(3, 3, []float64{
		c, 0, s,
		0, 1, 0,
		-s, 0, c,
	})
}

// RotationZ returns the counter-clockwise rotation around the z-axis.
func RotationZ(angle float64) *mat.Dense {
	c, s := math.Cos(angle), math.Sin(angle)
	return mat.NewDense(3, 3, []float64{
		c, -s, 0,
		s, c, 0,
		0, 0, 1,
	})
}

// Rotation returns Rx(alpha) Ry(beta) Rz(gamma).
func Rotation(alpha, beta, gamma float64) *mat.Dense {
	var tmp, res mat.Dense
	// tmp = Ry Rz
	tmp.Mul(RotationY(beta), RotationZ(gamma))
	// res = Rx tmp
	res.Mul(RotationX(alpha), &tmp)
	return &res
}
