// Result implements C6: the bundle of output artifacts (object file,
// dependency file, diagnostics, ...) produced by a single compile.
//
// Grounded on original_source/src/ccache/core/resultextractor.cpp and
// resultretriever.cpp for the Serializer/Deserializer + two-visitor split
// (Extractor writes every file under one directory; Retriever routes each
// file type to its real destination).
package core

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
)

// FileType is the closed enum of output kinds a Result can carry.
type FileType uint8

const (
	FileObject FileType = iota
	FileDependency
	FileStderrOutput
	FileStdoutOutput
	FileCoverageUnmangled
	FileCoverageMangled
	FileStackUsage
	FileDiagnostic
	FileDwarfObject
	FileAssemblerListing
	FileIncludedPCH
	FileCallgraphInfo
	FileIPAClones
)

func (t FileType) String() string {
	switch t {
	case FileObject:
		return "object"
	case FileDependency:
		return "dependency"
	case FileStderrOutput:
		return "stderr_output"
	case FileStdoutOutput:
		return "stdout_output"
	case FileCoverageUnmangled:
		return "coverage_unmangled"
	case FileCoverageMangled:
		return "coverage_mangled"
	case FileStackUsage:
		return "stackusage"
	case FileDiagnostic:
		return "diagnostic"
	case FileDwarfObject:
		return "dwarf_object"
	case FileAssemblerListing:
		return "assembler_listing"
	case FileIncludedPCH:
		return "included_pch_file"
	case FileCallgraphInfo:
		return "callgraph_info"
	case FileIPAClones:
		return "ipa_clones"
	default:
		return "unknown"
	}
}

// Suffix returns the file extension Extractor uses for this type.
func (t FileType) Suffix() string {
	switch t {
	case FileObject:
		return ".o"
	case FileDependency:
		return ".d"
	case FileStderrOutput:
		return ".stderr.txt"
	case FileStdoutOutput:
		return ".stdout.txt"
	case FileDwarfObject:
		return ".dwo"
	case FileAssemblerListing:
		return ".s"
	case FileIncludedPCH:
		return ".pch"
	default:
		return "." + t.String()
	}
}

const resultFormatVersion = 1

// Record is either embedded (Bytes populated) or raw (refers to a sibling
// "<key>.<FileNumber>R" file; Bytes is nil and Size carries the external
// file's length).
type Record struct {
	FileNumber int
	Type       FileType
	Size       int64
	Bytes      []byte // nil for raw records
}

func (r Record) isRaw() bool { return r.Bytes == nil }

// Serializer accumulates Records and writes them out as a Result payload
// (to be wrapped by core.Serialize for the envelope).
type Serializer struct {
	records []Record
	next    int
}

func NewSerializer() *Serializer { return &Serializer{} }

// AddEmbedded stores data inline in the result payload.
func (s *Serializer) AddEmbedded(t FileType, data []byte) int {
	n := s.next
	s.next++
	s.records = append(s.records, Record{FileNumber: n, Type: t, Size: int64(len(data)), Bytes: data})
	return n
}

// AddRaw records that a file of the given size lives as a sibling raw file;
// the caller is responsible for actually placing that file on disk (the
// local store does so via hard link / reflink / copy).
func (s *Serializer) AddRaw(t FileType, size int64) int {
	n := s.next
	s.next++
	s.records = append(s.records, Record{FileNumber: n, Type: t, Size: size, Bytes: nil})
	return n
}

// Serialize renders the accumulated records into the Result payload format:
// a header (n_entries, version) followed by n_entries records.
func (s *Serializer) Serialize() []byte {
	var buf []byte
	buf = append(buf, byte(len(s.records)))
	buf = append(buf, resultFormatVersion)

	for _, r := range s.records {
		buf = appendUint32(buf, uint32(r.FileNumber))
		buf = append(buf, byte(r.Type))
		buf = appendInt64(buf, r.Size)
		if r.isRaw() {
			buf = append(buf, 0)
		} else {
			buf = append(buf, 1)
			buf = append(buf, r.Bytes...)
		}
	}
	return buf
}

// Visitor receives each record as a Result payload is walked.
type Visitor interface {
	OnEmbedded(fileNumber int, t FileType, data []byte) error
	OnRaw(fileNumber int, t FileType, size int64) error
}

// DeserializeResult walks a Result payload, dispatching each record to v.
func DeserializeResult(data []byte, v Visitor) error {
	if len(data) < 2 {
		return fmt.Errorf("%w: truncated result header", ErrCorrupt)
	}
	n := int(data[0])
	version := data[1]
	if version != resultFormatVersion {
		return fmt.Errorf("%w: unknown result format version %d", ErrCorrupt, version)
	}
	off := 2
	for i := 0; i < n; i++ {
		if off+4+1+8+1 > len(data) {
			return fmt.Errorf("%w: truncated result record", ErrCorrupt)
		}
		fileNumber := int(binary.LittleEndian.Uint32(data[off:]))
		off += 4
		t := FileType(data[off])
		off++
		size := int64(binary.LittleEndian.Uint64(data[off:]))
		off += 8
		isEmbedded := data[off] == 1
		off++

		if isEmbedded {
			if off+int(size) > len(data) {
				return fmt.Errorf("%w: truncated embedded record", ErrCorrupt)
			}
			if err := v.OnEmbedded(fileNumber, t, data[off:off+int(size)]); err != nil {
				return err
			}
			off += int(size)
		} else {
			if err := v.OnRaw(fileNumber, t, size); err != nil {
				return err
			}
		}
	}
	return nil
}

// RawSiblingName returns the on-disk filename for a raw record, e.g.
// "<key>.3R".
func RawSiblingName(key string, fileNumber int) string {
	return fmt.Sprintf("%s.%dR", key, fileNumber)
}

// Extractor writes every Result record to its own file under OutDir, named
// "ccache-result<suffix>" per the type's Suffix(), mirroring
// resultextractor.cpp's flat dump used by `ccache --inspect`/`-x`. Unlike
// Retriever (cmd/ccachego's retrieveVisitor), which routes each file to the
// real build destination, Extractor always writes into one directory so a
// human (or a `ccachego-inspect --extract`-style tool) can look at the
// bundle without reconstructing the original build.
type Extractor struct {
	OutDir string
	// RawSource resolves the on-disk path backing a raw record the
	// Serializer recorded via AddRaw, so its bytes can be copied alongside
	// the embedded ones. Required only if the Result being extracted
	// contains raw records.
	RawSource func(fileNumber int) (string, error)
}

func (e *Extractor) destPath(t FileType) string {
	return filepath.Join(e.OutDir, "ccache-result"+t.Suffix())
}

func (e *Extractor) OnEmbedded(fileNumber int, t FileType, data []byte) error {
	return os.WriteFile(e.destPath(t), data, 0o644)
}

func (e *Extractor) OnRaw(fileNumber int, t FileType, size int64) error {
	if e.RawSource == nil {
		return fmt.Errorf("core: extractor has no raw source for file %d", fileNumber)
	}
	src, err := e.RawSource(fileNumber)
	if err != nil {
		return err
	}
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	return os.WriteFile(e.destPath(t), data, 0o644)
}
