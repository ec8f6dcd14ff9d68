// Manifest implements C5: the structure mapping a direct-mode key to
// candidate result keys, with file-identity/digest fallback matching.
//
// Grounded on original_source/src/ccache/core/manifest.cpp/.hpp: three
// parallel index-addressed vectors (files, file_infos, results), looked up
// in reverse insertion order so the most recently written result wins ties.
package core

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sort"

	"github.com/Voskan/ccachego/pkg/hash"
)

// Size caps, implementation-defined per spec §3.
const (
	MaxManifestFiles   = 1_000_000
	MaxManifestResults = 100_000
)

var ErrManifestFull = errors.New("core: manifest exceeds size caps")

// FileInfo records everything needed to judge whether an included file
// matches a prior observation without necessarily re-hashing it.
type FileInfo struct {
	FileIndex int // index into Manifest.Files
	Digest    hash.Digest
	Size      int64
	MtimeNS   int64
	CtimeNS   int64
}

// ResultEntry maps a set of included-file states (by index into FileInfos)
// to a result key.
type ResultEntry struct {
	FileInfoIndexes []int
	ResultKey       hash.Digest
}

// Manifest is a value type: three parallel index-addressed vectors plus a
// dedup index. It is not safe for concurrent mutation; callers serialize
// access externally (the local store does so via filelock).
type Manifest struct {
	Files     []string
	FileInfos []FileInfo
	Results   []ResultEntry

	fileIndex     map[string]int
	fileInfoIndex map[fileInfoKey]int
}

type fileInfoKey struct {
	fileIndex int
	digest    hash.Digest
}

// New returns an empty Manifest ready for lookups and inserts.
func New() *Manifest {
	return &Manifest{
		fileIndex:     make(map[string]int),
		fileInfoIndex: make(map[fileInfoKey]int),
	}
}

// StatFunc returns the current size/mtime/ctime of path, or an error if the
// file cannot be stat'd (treated as "no fresh stat available").
type StatFunc func(path string) (size, mtimeNS, ctimeNS int64, err error)

// HashFunc returns path's content digest, or an error on I/O failure.
type HashFunc func(path string) (hash.Digest, error)

// Sloppiness controls which equality-weakening relaxations Lookup applies.
type Sloppiness struct {
	FileStatMatches  bool
	IncludeFileMtime bool
	IncludeFileCtime bool
}

// Lookup iterates Results in reverse insertion order (most recent first). A
// result matches iff every referenced FileInfo is judged equal to the
// current on-disk state of its file, per spec §4.5:
//   - if includedFiles has a fresh digest for the file, compare digests;
//   - else if sloppiness permits, accept size/mtime/ctime equality without
//     hashing;
//   - else hash the file and compare.
//
// On the first match, its ResultKey is returned. A fatal I/O error while
// hashing aborts the whole lookup with ok=false (treated as a cache miss,
// never an error the orchestrator need surface).
func (m *Manifest) Lookup(includedFiles map[string]hash.Digest, stat StatFunc, hashFile HashFunc, sloppy Sloppiness) (key hash.Digest, ok bool) {
	hashFailed := false
	guardedHash := func(path string) (hash.Digest, error) {
		d, err := hashFile(path)
		if err != nil {
			hashFailed = true
		}
		return d, err
	}
	for i := len(m.Results) - 1; i >= 0; i-- {
		res := m.Results[i]
		if m.resultMatches(res, includedFiles, stat, guardedHash, sloppy) {
			return res.ResultKey, true
		}
		if hashFailed {
			return hash.Digest{}, false
		}
	}
	return hash.Digest{}, false
}

func (m *Manifest) resultMatches(res ResultEntry, includedFiles map[string]hash.Digest, stat StatFunc, hashFile HashFunc, sloppy Sloppiness) bool {
	for _, fiIdx := range res.FileInfoIndexes {
		if fiIdx < 0 || fiIdx >= len(m.FileInfos) {
			return false
		}
		fi := m.FileInfos[fiIdx]
		if fi.FileIndex < 0 || fi.FileIndex >= len(m.Files) {
			return false
		}
		path := m.Files[fi.FileIndex]

		if d, ok := includedFiles[path]; ok {
			if d != fi.Digest {
				return false
			}
			continue
		}

		if sloppy.FileStatMatches {
			size, mtimeNS, ctimeNS, err := stat(path)
			if err == nil {
				mtimeOK := sloppy.IncludeFileMtime || mtimeNS == fi.MtimeNS
				ctimeOK := sloppy.IncludeFileCtime || ctimeNS == fi.CtimeNS
				if size == fi.Size && mtimeOK && ctimeOK {
					continue
				}
			}
		}

		d, err := hashFile(path)
		if err != nil {
			// Fatal I/O during hashing: treat the whole lookup as a miss.
			return false
		}
		if d != fi.Digest {
			return false
		}
	}
	return true
}

// AddResult inserts a new result entry, deduplicating file names and
// file-infos against existing ones. Returns false without mutating m if the
// manifest would exceed MaxManifestFiles or MaxManifestResults.
func (m *Manifest) AddResult(resultKey hash.Digest, includedFiles map[string]hash.Digest, stat StatFunc) bool {
	if len(m.Results) >= MaxManifestResults {
		return false
	}

	paths := make([]string, 0, len(includedFiles))
	for p := range includedFiles {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	if len(m.Files)+len(paths) > MaxManifestFiles {
		// Conservative upper bound before we know the real dedup count;
		// cheap to check, and spec only requires caps be enforced, not that
		// this estimate be exact.
		dedupAdds := 0
		for _, p := range paths {
			if _, ok := m.fileIndex[p]; !ok {
				dedupAdds++
			}
		}
		if len(m.Files)+dedupAdds > MaxManifestFiles {
			return false
		}
	}

	fiIdxs := make([]int, 0, len(paths))
	for _, p := range paths {
		fileIdx, ok := m.fileIndex[p]
		if !ok {
			fileIdx = len(m.Files)
			m.Files = append(m.Files, p)
			m.fileIndex[p] = fileIdx
		}

		digest := includedFiles[p]
		size, mtimeNS, ctimeNS, _ := stat(p)

		key := fileInfoKey{fileIndex: fileIdx, digest: digest}
		fiIdx, ok := m.fileInfoIndex[key]
		if !ok {
			fiIdx = len(m.FileInfos)
			m.FileInfos = append(m.FileInfos, FileInfo{
				FileIndex: fileIdx,
				Digest:    digest,
				Size:      size,
				MtimeNS:   mtimeNS,
				CtimeNS:   ctimeNS,
			})
			m.fileInfoIndex[key] = fiIdx
		}
		fiIdxs = append(fiIdxs, fiIdx)
	}

	m.Results = append(m.Results, ResultEntry{FileInfoIndexes: fiIdxs, ResultKey: resultKey})
	return true
}

// Validate checks the index-in-range invariants spec §4.5 requires.
func (m *Manifest) Validate() error {
	for i, fi := range m.FileInfos {
		if fi.FileIndex < 0 || fi.FileIndex >= len(m.Files) {
			return fmt.Errorf("core: file_info[%d] references out-of-range file %d", i, fi.FileIndex)
		}
	}
	for i, res := range m.Results {
		for _, idx := range res.FileInfoIndexes {
			if idx < 0 || idx >= len(m.FileInfos) {
				return fmt.Errorf("core: result[%d] references out-of-range file_info %d", i, idx)
			}
		}
	}
	return nil
}

// Marshal serializes the manifest into the core.Header payload form (the
// caller wraps it with Serialize for the envelope). Files are written in
// their current (insertion) order; equal manifests therefore produce equal
// serializations as spec §4.5 requires, since dedup means insertion order is
// itself canonical for a given sequence of AddResult calls.
func (m *Manifest) Marshal() []byte {
	var buf []byte
	buf = appendUint32(buf, uint32(len(m.Files)))
	for _, f := range m.Files {
		buf = appendString(buf, f)
	}

	buf = appendUint32(buf, uint32(len(m.FileInfos)))
	for _, fi := range m.FileInfos {
		buf = appendUint32(buf, uint32(fi.FileIndex))
		buf = append(buf, fi.Digest[:]...)
		buf = appendInt64(buf, fi.Size)
		buf = appendInt64(buf, fi.MtimeNS)
		buf = appendInt64(buf, fi.CtimeNS)
	}

	buf = appendUint32(buf, uint32(len(m.Results)))
	for _, res := range m.Results {
		buf = appendUint32(buf, uint32(len(res.FileInfoIndexes)))
		for _, idx := range res.FileInfoIndexes {
			buf = appendUint32(buf, uint32(idx))
		}
		buf = append(buf, res.ResultKey[:]...)
	}
	return buf
}

// Unmarshal parses bytes produced by Marshal.
func Unmarshal(data []byte) (*Manifest, error) {
	m := New()
	r := byteReader{data: data}

	nFiles, err := r.uint32()
	if err != nil {
		return nil, err
	}
	for i := uint32(0); i < nFiles; i++ {
		s, err := r.string()
		if err != nil {
			return nil, err
		}
		m.Files = append(m.Files, s)
		m.fileIndex[s] = len(m.Files) - 1
	}

	nInfos, err := r.uint32()
	if err != nil {
		return nil, err
	}
	for i := uint32(0); i < nInfos; i++ {
		fileIdx, err := r.uint32()
		if err != nil {
			return nil, err
		}
		var d hash.Digest
		if err := r.fixed(d[:]); err != nil {
			return nil, err
		}
		size, err := r.int64()
		if err != nil {
			return nil, err
		}
		mt, err := r.int64()
		if err != nil {
			return nil, err
		}
		ct, err := r.int64()
		if err != nil {
			return nil, err
		}
		fi := FileInfo{FileIndex: int(fileIdx), Digest: d, Size: size, MtimeNS: mt, CtimeNS: ct}
		m.FileInfos = append(m.FileInfos, fi)
		m.fileInfoIndex[fileInfoKey{fileIndex: fi.FileIndex, digest: fi.Digest}] = len(m.FileInfos) - 1
	}

	nResults, err := r.uint32()
	if err != nil {
		return nil, err
	}
	for i := uint32(0); i < nResults; i++ {
		nIdx, err := r.uint32()
		if err != nil {
			return nil, err
		}
		idxs := make([]int, nIdx)
		for j := range idxs {
			v, err := r.uint32()
			if err != nil {
				return nil, err
			}
			idxs[j] = int(v)
		}
		var key hash.Digest
		if err := r.fixed(key[:]); err != nil {
			return nil, err
		}
		m.Results = append(m.Results, ResultEntry{FileInfoIndexes: idxs, ResultKey: key})
	}

	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}

func appendUint32(buf []byte, v uint32) []byte {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	return append(buf, b[:]...)
}

func appendInt64(buf []byte, v int64) []byte {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], uint64(v))
	return append(buf, b[:]...)
}

func appendString(buf []byte, s string) []byte {
	buf = appendUint32(buf, uint32(len(s)))
	return append(buf, s...)
}

type byteReader struct {
	data []byte
	off  int
}

func (r *byteReader) uint32() (uint32, error) {
	if r.off+4 > len(r.data) {
		return 0, fmt.Errorf("%w: truncated manifest", ErrCorrupt)
	}
	v := binary.LittleEndian.Uint32(r.data[r.off:])
	r.off += 4
	return v, nil
}

func (r *byteReader) int64() (int64, error) {
	if r.off+8 > len(r.data) {
		return 0, fmt.Errorf("%w: truncated manifest", ErrCorrupt)
	}
	v := int64(binary.LittleEndian.Uint64(r.data[r.off:]))
	r.off += 8
	return v, nil
}

func (r *byteReader) string() (string, error) {
	n, err := r.uint32()
	if err != nil {
		return "", err
	}
	if r.off+int(n) > len(r.data) {
		return "", fmt.Errorf("%w: truncated manifest string", ErrCorrupt)
	}
	s := string(r.data[r.off : r.off+int(n)])
	r.off += int(n)
	return s, nil
}

func (r *byteReader) fixed(dst []byte) error {
	if r.off+len(dst) > len(r.data) {
		return fmt.Errorf("%w: truncated manifest", ErrCorrupt)
	}
	copy(dst, r.data[r.off:])
	r.off += len(dst)
	return nil
}
