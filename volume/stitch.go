package volume

import (
	"github.com/pkg/errors"
)

// Stitch concatenates volumes along the slice axis. Adjacent volumes are
// assumed to share overlap slices, which are blended linearly: overlap
// slice j takes weight (j+1)/(overlap+1) from the next volume and the rest
// from the stitched result so far.
func Stitch(volumes []*Volume, overlap int) (*Volume, error) {
	if len(volumes) < 2 {
		return nil, errors.New("stitch needs 2 or more volumes")
	}
	if overlap < 0 {
		return nil, errors.Errorf("negative overlap %v", overlap)
	}
	first := volumes[0]
	totalSlices := 0
	for index, v := range volumes {
		if v.Rows != first.Rows || v.Cols != first.Cols {
			return nil, errors.Wrapf(ErrShapeMismatch, "volume %v has shape %v, expected rows and cols of %v", index, v.Shape(), first.Shape())
		}
		if v.Slices < overlap {
			return nil, errors.Errorf("volume %v has %v slices, fewer than the overlap %v", index, v.Slices, overlap)
		}
		totalSlices += v.Slices
	}
	totalSlices -= overlap * (len(volumes) - 1)

	// Linear weights strictly inside (0, 1)
	weights := make([]float64, overlap)
	for j := range weights {
		weights[j] = float64(j+1) / float64(overlap+1)
	}

	res := New(first.Rows, first.Cols, totalSlices)
	for p := 0; p < res.NumPixels(); p++ {
		dst := res.Cylinder(p)
		// end marks the number of slices already written
		end := copy(dst, first.Cylinder(p))
		for _, next := range volumes[1:] {
			src := next.Cylinder(p)
			start := end - overlap
			for j, w := range weights {
				dst[start+j] = (1-w)*dst[start+j] + w*src[j]
			}
			end = start + copy(dst[end:], src[overlap:]) + overlap
		}
	}
	return res, nil
}
