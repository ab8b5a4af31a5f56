package vectorstore

import (
	"encoding/binary"
	"math"

	"github.com/corvid-labs/granary/errors"
)

// SerializeEmbedding converts a vector to the little-endian FLOAT32_BLOB
// format sqlite-vec expects.
func SerializeEmbedding(embedding []float32) ([]byte, error) {
	if len(embedding) == 0 {
		return nil, errors.New("embedding is empty")
	}

	buf := make([]byte, len(embedding)*4)
	for i, v := range embedding {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf, nil
}

// DeserializeEmbedding converts a FLOAT32_BLOB back to a vector.
func DeserializeEmbedding(data []byte) ([]float32, error) {
	if len(data) == 0 {
		return nil, errors.New("embedding blob is empty")
	}
	if len(data)%4 != 0 {
		return nil, errors.Newf("embedding blob length %d is not a multiple of 4", len(data))
	}

	embedding := make([]float32, len(data)/4)
	for i := range embedding {
		embedding[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
	}
	return embedding, nil
}
