//go:build darwin || freebsd

package inodecache

import "golang.org/x/sys/unix"

func KeyFor(path string, contentKind uint8) (Key, bool) {
	var st unix.Stat_t
	if err := unix.Stat(path, &st); err != nil || st.Ino == 0 {
		return Key{}, false
	}
	return Key{
		Device:      uint64(st.Dev),
		Inode:       uint64(st.Ino),
		Size:        st.Size,
		MtimeNS:     unix.TimespecToNsec(st.Mtimespec),
		CtimeNS:     unix.TimespecToNsec(st.Ctimespec),
		ContentKind: contentKind,
	}, true
}
