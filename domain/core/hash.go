package core

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"math"
	"strconv"

	"github.com/cespare/xxhash/v2"
)

// Hash represents a cryptographic hash
type Hash string

// NewHash creates a new hash from data
func NewHash(data []byte) Hash {
	sum := sha256.Sum256(data)
	return Hash(hex.EncodeToString(sum[:]))
}

// String returns the string representation
func (h Hash) String() string {
	return string(h)
}

// IsEmpty checks if the hash is empty
func (h Hash) IsEmpty() bool {
	return h == ""
}

// Fingerprint is a fast non-cryptographic digest of tabular input, used to tell
// whether two runs saw the same data.
type Fingerprint uint64

func (f Fingerprint) String() string {
	return strconv.FormatUint(uint64(f), 16)
}

// FingerprintBuilder accumulates names and values into an xxhash digest.
type FingerprintBuilder struct {
	d   *xxhash.Digest
	buf [8]byte
}

// NewFingerprintBuilder creates an empty builder
func NewFingerprintBuilder() *FingerprintBuilder {
	return &FingerprintBuilder{d: xxhash.New()}
}

// AddString feeds a length-prefixed string so that ("ab","c") != ("a","bc").
func (b *FingerprintBuilder) AddString(s string) {
	binary.LittleEndian.PutUint64(b.buf[:], uint64(len(s)))
	_, _ = b.d.Write(b.buf[:])
	_, _ = b.d.WriteString(s)
}

// AddFloat feeds the IEEE bits of v. All NaNs hash identically.
func (b *FingerprintBuilder) AddFloat(v float64) {
	bits := math.Float64bits(v)
	if math.IsNaN(v) {
		bits = math.Float64bits(math.NaN())
	}
	binary.LittleEndian.PutUint64(b.buf[:], bits)
	_, _ = b.d.Write(b.buf[:])
}

// Sum returns the fingerprint of everything added so far
func (b *FingerprintBuilder) Sum() Fingerprint {
	return Fingerprint(b.d.Sum64())
}
