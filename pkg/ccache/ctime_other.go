//go:build !linux && !darwin && !freebsd

package ccache

import "os"

func statCtimeNS(info os.FileInfo) int64 {
	return info.ModTime().UnixNano()
}
