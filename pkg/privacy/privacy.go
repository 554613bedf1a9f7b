// Package privacy provides irreversible hashing of face descriptors and
// calibrated noise for anonymized data exports. Descriptor hashes let
// records reference a face without storing biometric data in the
// database.
package privacy

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"math"
	"math/rand"
)

// HashDescriptor returns the SHA-256 hex digest of a face descriptor.
func HashDescriptor(vec []float32) string {
	buf := make([]byte, 4*len(vec))
	for i, v := range vec {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	sum := sha256.Sum256(buf)
	return fmt.Sprintf("%x", sum)
}

// ShortHash returns a 16-character descriptor hash for display and
// storage columns.
func ShortHash(vec []float32) string {
	return HashDescriptor(vec)[:16]
}

// AnonymizeID maps an identifier to a stable pseudonym for exports.
func AnonymizeID(id string) string {
	sum := sha256.Sum256([]byte(id))
	return fmt.Sprintf("anon-%x", sum[:8])
}

// LaplaceNoise returns a copy of the descriptor with Laplace noise of
// scale sensitivity/epsilon added per component, renormalized to unit
// length. Lower epsilon means more noise and stronger privacy.
func LaplaceNoise(vec []float32, epsilon float64) []float32 {
	const sensitivity = 1.0
	scale := sensitivity / epsilon

	out := make([]float32, len(vec))
	var norm float64
	for i, v := range vec {
		// Inverse-CDF sampling of the Laplace distribution.
		u := rand.Float64() - 0.5
		noise := -scale * math.Copysign(math.Log(1-2*math.Abs(u)), u)
		nv := float64(v) + noise
		out[i] = float32(nv)
		norm += nv * nv
	}

	norm = math.Sqrt(norm) + 1e-8
	for i := range out {
		out[i] = float32(float64(out[i]) / norm)
	}
	return out
}
