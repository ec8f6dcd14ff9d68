// Package hash implements the delimited BLAKE3 digest used to fingerprint
// compiler invocations. It is the sole primitive through which heterogeneous
// inputs (compiler args, file contents, environment strings, ...) are
// combined into one digest: callers must delimit before each semantic
// category so that, e.g., `{-I -O2}` and `{-I-O2}` cannot collide.
//
// © 2025 ccachego authors. MIT License.
package hash

import (
	"encoding/binary"
	"encoding/hex"
	"io"
	"os"

	"lukechampine.com/blake3"
)

// Size is the length in bytes of a Digest.
const Size = 20

// delimiterMagic is written before every delimit() tag, mirroring ccache's
// own HASH_DELIMITER framing so that a tag byte sequence occurring inside
// ordinary content can never be mistaken for a delimiter.
var delimiterMagic = [8]byte{0xcc, 0xac, 0xcc, 0xac, 0xcc, 0xac, 0xcc, 0xac}

// Digest is a 20-byte BLAKE3 output. Equality is byte-wise; the canonical
// textual form is lowercase base16 of length 40.
type Digest [Size]byte

// String returns the canonical lowercase base16 encoding.
func (d Digest) String() string {
	return hex.EncodeToString(d[:])
}

// Shard returns the first and second hex digits of d, one per directory
// level of the two-level "<a>/<b>" sharding.
func (d Digest) Shard() (string, string) {
	s := d.String()
	return s[0:1], s[1:2]
}

// IsZero reports whether d is the zero digest (never a valid BLAKE3 output
// in practice, used as a sentinel for "no digest computed").
func (d Digest) IsZero() bool {
	return d == Digest{}
}

// ParseDigest decodes a 40-character lowercase hex string into a Digest.
func ParseDigest(s string) (Digest, error) {
	var d Digest
	b, err := hex.DecodeString(s)
	if err != nil {
		return d, err
	}
	if len(b) != Size {
		return d, errInvalidLength
	}
	copy(d[:], b)
	return d, nil
}

// Hasher accumulates bytes into a running BLAKE3 state. The zero value is not
// usable; construct with New.
type Hasher struct {
	h *blake3.Hasher
}

// New returns a Hasher ready for use.
func New() *Hasher {
	return &Hasher{h: blake3.New(Size, nil)}
}

// Update feeds raw bytes into the hash state.
func (h *Hasher) Update(b []byte) {
	_, _ = h.h.Write(b)
}

// UpdateInt64 feeds the little-endian encoding of v into the hash state.
func (h *Hasher) UpdateInt64(v int64) {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(v))
	h.Update(buf[:])
}

// Delimit injects the fixed 8-byte magic, the tag bytes, and a NUL. It is the
// only sanctioned way to combine heterogeneous semantic categories into one
// digest.
func (h *Hasher) Delimit(tag string) {
	h.Update(delimiterMagic[:])
	h.Update([]byte(tag))
	h.Update([]byte{0})
}

// HashFile streams path's contents into the hash state. It does not delimit
// before or after; callers decide framing.
func (h *Hasher) HashFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = io.Copy(hashWriter{h}, f)
	return err
}

// Digest finalizes and returns the 20-byte output. The Hasher remains usable
// afterward (BLAKE3 supports extensible output / further Sum calls), but
// ccachego always treats a Hasher as single-use once Digest is called.
func (h *Hasher) Digest() Digest {
	var d Digest
	sum := h.h.Sum(nil)
	copy(d[:], sum[:Size])
	return d
}

type hashWriter struct{ h *Hasher }

func (w hashWriter) Write(p []byte) (int, error) {
	w.h.Update(p)
	return len(p), nil
}

var errInvalidLength = &lengthError{}

type lengthError struct{}

func (*lengthError) Error() string { return "hash: digest must decode to 20 bytes" }
