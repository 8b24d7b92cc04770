package projector

import (
	"encoding/binary"
	"encoding/hex"

	"github.com/zeebo/xxh3"
)

// fingerprint hashes the geometry and an optional sinogram into a cache key.
func fingerprint(g *Geometry, sinogram *Sinogram) string {
	h := xxh3.New()
	writeInts(h, g.SinogramShape[:]...)
	writeInts(h, g.ReconShape[:]...)
	binary.Write(h, binary.LittleEndian, []float64{g.DeltaDetChannel, g.DeltaDetRow, g.DetChannelOffset, g.DeltaVoxel})
	binary.Write(h, binary.LittleEndian, g.Angles)
	if sinogram != nil {
		binary.Write(h, binary.LittleEndian, sinogram.Data)
	}
	sum := h.Sum128().Bytes()
	return hex.EncodeToString(sum[:])
}

func writeInts(h *xxh3.Hasher, values ...int) {
	buf := make([]byte, 8)
	for _, v := range values {
		binary.LittleEndian.PutUint64(buf, uint64(v))
		h.Write(buf)
	}
}
