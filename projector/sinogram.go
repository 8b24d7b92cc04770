package projector

import (
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// Sinogram is a (views, rows, channels) array of line integrals.
type Sinogram struct {
	Views    int
	Rows     int
	Channels int
	// Data holds Views*Rows*Channels values in [view][row][channel] order
	Data []float64
}

// NewSinogram returns a zero sinogram of the given shape.
func NewSinogram(shape [3]int) *Sinogram {
	if shape[0] <= 0 || shape[1] <= 0 || shape[2] <= 0 {
		panic(errors.Errorf("projector: invalid sinogram shape %v", shape))
	}
	return &Sinogram{shape[0], shape[1], shape[2], make([]float64, shape[0]*shape[1]*shape[2])}
}

// SinogramFromData wraps data without copying.
func SinogramFromData(shape [3]int, data []float64) (*Sinogram, error) {
	if shape[0] <= 0 || shape[1] <= 0 || shape[2] <= 0 {
		return nil, errors.Wrapf(ErrShapeMismatch, "invalid sinogram shape %v", shape)
	}
	if len(data) != shape[0]*shape[1]*shape[2] {
		return nil, errors.Wrapf(ErrShapeMismatch, "got %v values for sinogram shape %v", len(data), shape)
	}
	return &Sinogram{shape[0], shape[1], shape[2], data}, nil
}

// Shape returns (views, rows, channels).
func (s *Sinogram) Shape() [3]int {
	return [3]int{s.Views, s.Rows, s.Channels}
}

// View returns view i as a (rows by channels) matrix sharing storage.
func (s *Sinogram) View(i int) *mat.Dense {
	size := s.Rows * s.Channels
	return mat.NewDense(s.Rows, s.Channels, s.Data[i*size:(i+1)*size])
}

// Clone returns a deep copy.
func (s *Sinogram) Clone() *Sinogram {
	data := make([]float64, len(s.Data))
	copy(data, s.Data)
	return &Sinogram{s.Views, s.Rows, s.Channels, data}
}

// Ones returns a sinogram of the same shape filled with ones.
func (s *Sinogram) Ones() *Sinogram {
	res := NewSinogram(s.Shape())
	for i := range res.Data {
		res.Data[i] = 1
	}
	return res
}
