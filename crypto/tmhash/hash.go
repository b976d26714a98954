package tmhash

import (
	"hash"

	sha256 "github.com/minio/sha256-simd"
)

const (
	Size      = sha256.Size
	BlockSize = sha256.BlockSize
)

// New returns a new hash.Hash.
func New() hash.Hash {
	return sha256.New()
}

// Sum returns the SHA256 of the bz.
func Sum(bz []byte) []byte {
	h := sha256.Sum256(bz)
	return h[:]
}

// Sum256 returns the SHA256 of the bz as a fixed size array.
func Sum256(bz []byte) [Size]byte {
	return sha256.Sum256(bz)
}

// SumMany takes at least 1 byteslice along with a variadic
// number of other byteslices and produces the SHA256 sum from
// hashing them as if they were 1 joined slice.
func SumMany(data []byte, rest ...[]byte) [Size]byte {
	h := sha256.New()
	h.Write(data)
	for _, data := range rest {
		h.Write(data)
	}
	var out [Size]byte
	copy(out[:], h.Sum(nil))
	return out
}
