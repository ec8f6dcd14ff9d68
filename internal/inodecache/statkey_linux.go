//go:build linux

package inodecache

import "golang.org/x/sys/unix"

// KeyFor builds the identity Key for path as it exists right now. ok is
// false when the platform or filesystem can't provide a stable identity
// (stat failure, or inode 0 as some FUSE filesystems report), in which case
// callers skip the cache and hash the file directly.
func KeyFor(path string, contentKind uint8) (Key, bool) {
	var st unix.Stat_t
	if err := unix.Stat(path, &st); err != nil || st.Ino == 0 {
		return Key{}, false
	}
	return Key{
		Device:      uint64(st.Dev),
		Inode:       uint64(st.Ino),
		Size:        st.Size,
		MtimeNS:     unix.TimespecToNsec(st.Mtim),
		CtimeNS:     unix.TimespecToNsec(st.Ctim),
		ContentKind: contentKind,
	}, true
}
