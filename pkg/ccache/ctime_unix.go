//go:build linux

package ccache

import (
	"os"
	"syscall"
)

func statCtimeNS(info os.FileInfo) int64 {
	if st, ok := info.Sys().(*syscall.Stat_t); ok {
		return st.Ctim.Sec*1e9 + st.Ctim.Nsec
	}
	return info.ModTime().UnixNano()
}
