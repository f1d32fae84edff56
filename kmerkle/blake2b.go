package kmerkle

import (
	"golang.org/x/crypto/blake2b"
)

// Domain separation prefixes for leaf and pair hashing.
const (
	leafPrefix = byte(0)
	pairPrefix = byte(1)
)

// Blake2b256Scheme hashes byte-slice leaves with blake2b-256,
// using string IDs so they can serve as map keys.
// The zero value is ready to use.
type Blake2b256Scheme struct{}

var _ Scheme[[]byte, string] = Blake2b256Scheme{}

func (Blake2b256Scheme) LeafID(leafData []byte) (string, error) {
	h, err := blake2b.New256(nil)
	if err != nil {
		return "", err
	}
	h.Write([]byte{leafPrefix})
	h.Write(leafData)
	return string(h.Sum(nil)), nil
}

func (Blake2b256Scheme) PairID(left, right string) (string, error) {
	h, err := blake2b.New256(nil)
	if err != nil {
		return "", err
	}
	h.Write([]byte{pairPrefix})
	h.Write([]byte(left))
	h.Write([]byte(right))
	return string(h.Sum(nil)), nil
}
