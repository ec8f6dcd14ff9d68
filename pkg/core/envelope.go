// Package core implements the cache entry envelope (header + compressed
// payload + checksum), the manifest format, and the result-bundle format —
// the three binary container shapes shared by the local store and every
// remote backend.
//
// The header layout is grounded on original_source's
// src/ccache/core/cacheentry.cpp/.hpp: entry_size is computed only after the
// payload has been finalized (compressed, if applicable), which is why
// Serialize below writes the header in two passes. The magic+version+
// fixed-size-header idiom in Go itself follows
// calvinalkan-agent-task/cache_binary.go's BinaryCache format constants
// (cacheMagic, cacheVersionNum, cacheHeaderSize).
//
// © 2025 ccachego authors. MIT License.
package core

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/klauspost/compress/zstd"
	"github.com/zeebo/xxh3"
)

// Magic identifies a ccachego cache entry file: ASCII "cCaC".
const Magic uint16 = 0x4363 // little-endian on disk as bytes {0x63,0x43} per field below... see encode.

// magicBytes is the 2-byte wire encoding of the u16 magic field: the first
// two characters of the "cCaC" tag, 'c','C' (Magic in little-endian byte
// order). Only these two bytes are written; the rest of the tag is not
// stored.
var magicBytes = [2]byte{'c', 'C'}

// FormatVersion is the current on-disk envelope version. Readers reject any
// other value.
const FormatVersion uint8 = 1

// EntryType distinguishes a manifest entry from a result entry.
type EntryType uint8

const (
	EntryResult   EntryType = 0
	EntryManifest EntryType = 1
)

// CompressionType selects the payload codec.
type CompressionType uint8

const (
	CompressionNone CompressionType = 0
	CompressionZstd CompressionType = 1
)

const checksumSize = 16 // XXH3-128

// ErrCorrupt is returned (or wrapped) whenever magic/version/checksum
// validation fails. Per spec §7, the caller's response to ErrCorrupt is
// always: delete the entry, count as a miss, proceed to compile.
var ErrCorrupt = errors.New("core: corrupt cache entry")

// Header is the fixed + variable metadata preceding a payload.
type Header struct {
	FormatVersion    uint8
	EntryType        EntryType
	CompressionType  CompressionType
	CompressionLevel int8
	SelfContained    bool
	CreationTime     int64 // seconds since epoch
	CcacheVersion    string
	Namespace        string
	EntrySize        uint64 // total on-disk size, including the 16-byte epilogue
}

// clampZstdLevel clamps an arbitrary requested level into zstd's supported
// encoder-level range (1..22). No log note is emitted when a level is
// clamped.
func clampZstdLevel(level int8) int8 {
	const min, max = 1, 22
	switch {
	case level < min:
		return min
	case level > max:
		return max
	default:
		return level
	}
}

// Serialize writes header + (possibly compressed) payload + XXH3-128
// checksum. entry_size and the checksum are only known once the payload's
// on-disk form is final, so the header's length-dependent fields are
// resolved before the first byte is written, but EntrySize itself can only
// be filled in after compression.
func Serialize(h Header, payload []byte) ([]byte, error) {
	storedPayload := payload
	if h.CompressionType == CompressionZstd {
		h.CompressionLevel = clampZstdLevel(h.CompressionLevel)
		enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstdLevel(h.CompressionLevel)))
		if err != nil {
			return nil, fmt.Errorf("core: zstd encoder: %w", err)
		}
		storedPayload = enc.EncodeAll(payload, nil)
		_ = enc.Close()
	}

	headerBytes, err := encodeHeader(h)
	if err != nil {
		return nil, err
	}

	h.EntrySize = uint64(len(headerBytes)) + uint64(len(storedPayload)) + checksumSize
	// EntrySize changed, and it's encoded in the header itself — re-encode.
	headerBytes, err = encodeHeader(h)
	if err != nil {
		return nil, err
	}

	buf := make([]byte, 0, len(headerBytes)+len(storedPayload)+checksumSize)
	buf = append(buf, headerBytes...)
	buf = append(buf, storedPayload...)

	sum := xxh3.Hash128(buf).Bytes()
	buf = append(buf, sum[:]...)
	return buf, nil
}

// Deserialize parses and validates a full envelope: magic, version, and
// checksum must all agree, or ErrCorrupt is returned.
func Deserialize(data []byte) (Header, []byte, error) {
	if len(data) < checksumSize {
		return Header{}, nil, fmt.Errorf("%w: truncated envelope", ErrCorrupt)
	}
	body := data[:len(data)-checksumSize]
	epilogue := data[len(data)-checksumSize:]

	want := xxh3.Hash128(body)
	var wantBytes [16]byte = want.Bytes()
	if !bytes.Equal(wantBytes[:], epilogue) {
		return Header{}, nil, fmt.Errorf("%w: checksum mismatch", ErrCorrupt)
	}

	h, headerLen, err := decodeHeader(body)
	if err != nil {
		return Header{}, nil, err
	}
	storedPayload := body[headerLen:]

	payload := storedPayload
	if h.CompressionType == CompressionZstd {
		dec, err := zstd.NewReader(nil)
		if err != nil {
			return Header{}, nil, fmt.Errorf("core: zstd decoder: %w", err)
		}
		payload, err = dec.DecodeAll(storedPayload, nil)
		dec.Close()
		if err != nil {
			return Header{}, nil, fmt.Errorf("%w: zstd decode: %v", ErrCorrupt, err)
		}
	}

	if h.EntrySize != uint64(len(data)) {
		return Header{}, nil, fmt.Errorf("%w: entry_size mismatch", ErrCorrupt)
	}

	return h, payload, nil
}

func zstdLevel(level int8) zstd.EncoderLevel {
	switch {
	case level <= 3:
		return zstd.SpeedDefault
	case level <= 9:
		return zstd.SpeedBetterCompression
	default:
		return zstd.SpeedBestCompression
	}
}

func encodeHeader(h Header) ([]byte, error) {
	if len(h.CcacheVersion) > 255 {
		return nil, errors.New("core: ccache_version too long")
	}
	if len(h.Namespace) > 255 {
		return nil, errors.New("core: namespace too long")
	}

	var buf bytes.Buffer
	buf.Write(magicBytes[:])
	buf.WriteByte(h.FormatVersion)
	buf.WriteByte(byte(h.EntryType))
	buf.WriteByte(byte(h.CompressionType))
	buf.WriteByte(byte(h.CompressionLevel))
	if h.SelfContained {
		buf.WriteByte(1)
	} else {
		buf.WriteByte(0)
	}

	var ts [8]byte
	binary.LittleEndian.PutUint64(ts[:], uint64(h.CreationTime))
	buf.Write(ts[:])

	buf.WriteByte(byte(len(h.CcacheVersion)))
	buf.WriteString(h.CcacheVersion)

	buf.WriteByte(byte(len(h.Namespace)))
	buf.WriteString(h.Namespace)

	var size [8]byte
	binary.LittleEndian.PutUint64(size[:], h.EntrySize)
	buf.Write(size[:])

	return buf.Bytes(), nil
}

func decodeHeader(data []byte) (Header, int, error) {
	const fixedPrefix = 2 + 1 + 1 + 1 + 1 + 1 + 8 + 1 // magic..creation_time + version_len byte
	if len(data) < fixedPrefix {
		return Header{}, 0, fmt.Errorf("%w: truncated header", ErrCorrupt)
	}

	if data[0] != magicBytes[0] || data[1] != magicBytes[1] {
		return Header{}, 0, fmt.Errorf("%w: bad magic", ErrCorrupt)
	}

	var h Header
	off := 2
	h.FormatVersion = data[off]
	off++
	if h.FormatVersion != FormatVersion {
		return Header{}, 0, fmt.Errorf("%w: unknown format_version %d", ErrCorrupt, h.FormatVersion)
	}
	h.EntryType = EntryType(data[off])
	off++
	h.CompressionType = CompressionType(data[off])
	off++
	h.CompressionLevel = int8(data[off])
	off++
	h.SelfContained = data[off] != 0
	off++

	h.CreationTime = int64(binary.LittleEndian.Uint64(data[off : off+8]))
	off += 8

	verLen := int(data[off])
	off++
	if len(data) < off+verLen {
		return Header{}, 0, fmt.Errorf("%w: truncated ccache_version", ErrCorrupt)
	}
	h.CcacheVersion = string(data[off : off+verLen])
	off += verLen

	if len(data) < off+1 {
		return Header{}, 0, fmt.Errorf("%w: truncated header", ErrCorrupt)
	}
	nsLen := int(data[off])
	off++
	if len(data) < off+nsLen+8 {
		return Header{}, 0, fmt.Errorf("%w: truncated namespace/size", ErrCorrupt)
	}
	h.Namespace = string(data[off : off+nsLen])
	off += nsLen

	h.EntrySize = binary.LittleEndian.Uint64(data[off : off+8])
	off += 8

	return h, off, nil
}
