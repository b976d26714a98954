package types

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/hlsnet/hls-core/crypto/tmhash"
)

// HashLength is the expected length of a header hash.
const HashLength = tmhash.Size

// Hash is the 32 byte SHA256 digest identifying a header.
type Hash [HashLength]byte

// BytesToHash sets b to hash. If b is larger than HashLength, b will be
// cropped from the left.
func BytesToHash(b []byte) Hash {
	var h Hash
	if len(b) > HashLength {
		b = b[len(b)-HashLength:]
	}
	copy(h[HashLength-len(b):], b)
	return h
}

// HexToHash parses a hex string, with or without the 0x prefix.
func HexToHash(s string) (Hash, error) {
	s = strings.TrimPrefix(s, "0x")
	bz, err := hex.DecodeString(s)
	if err != nil {
		return Hash{}, fmt.Errorf("invalid hash %q: %w", s, err)
	}
	if len(bz) != HashLength {
		return Hash{}, fmt.Errorf("invalid hash length %d, want %d", len(bz), HashLength)
	}
	return BytesToHash(bz), nil
}

// Bytes returns the hash as a byte slice.
func (h Hash) Bytes() []byte { return h[:] }

// IsZero returns true if the hash is all zeros.
func (h Hash) IsZero() bool { return h == Hash{} }

// Hex returns the 0x prefixed hex encoding of the hash.
func (h Hash) Hex() string { return "0x" + hex.EncodeToString(h[:]) }

// String returns a short form of the hash, enough to tell headers apart in logs.
func (h Hash) String() string {
	return fmt.Sprintf("%X", h[:4])
}

// MarshalText implements encoding.TextMarshaler.
func (h Hash) MarshalText() ([]byte, error) {
	return []byte(h.Hex()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (h *Hash) UnmarshalText(text []byte) error {
	parsed, err := HexToHash(string(text))
	if err != nil {
		return err
	}
	*h = parsed
	return nil
}
