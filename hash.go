package baodb

import (
	"bytes"
	"encoding/hex"
	"errors"
)

// HashSize is the length of a Hash in bytes.
const HashSize = 32

// Hash is the hash of a blob: the root of the blob's hash tree.
type Hash [HashSize]byte

// Zero is the zero value of a Hash.
var Zero Hash

// String renders the hash as lowercase hex.
// This is also the form used for file names on disk.
func (h Hash) String() string {
	return hex.EncodeToString(h[:])
}

// IsZero tells whether h is the zero hash.
func (h Hash) IsZero() bool {
	return h == Zero
}

// Less tells whether h sorts before other.
func (h Hash) Less(other Hash) bool {
	return bytes.Compare(h[:], other[:]) < 0
}

// Compare returns -1, 0, or 1
// as h sorts before, equal to, or after other.
func (h Hash) Compare(other Hash) int {
	return bytes.Compare(h[:], other[:])
}

// FromHex parses s into h.
func (h *Hash) FromHex(s string) error {
	if len(s) != 2*HashSize {
		return errors.New("wrong length")
	}
	_, err := hex.Decode(h[:], []byte(s))
	return err
}

// HashFromBytes copies b into a Hash.
func HashFromBytes(b []byte) Hash {
	var out Hash
	copy(out[:], b)
	return out
}

// HashFromHex parses a hex string into a Hash.
func HashFromHex(s string) (Hash, error) {
	var out Hash
	err := out.FromHex(s)
	return out, err
}
