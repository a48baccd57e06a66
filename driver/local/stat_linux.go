//go:build linux

package local

import (
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

// extractBirthTime asks statx for the birth time. Kernels before 4.11 and
// filesystems that do not record it yield the zero time.
func extractBirthTime(path string, _ *syscall.Stat_t) time.Time {
	var stx unix.Statx_t
	if err := unix.Statx(unix.AT_FDCWD, path, 0, unix.STATX_BTIME, &stx); err != nil {
		return time.Time{}
	}
	if stx.Mask&unix.STATX_BTIME == 0 {
		return time.Time{}
	}
	return time.Unix(stx.Btime.Sec, int64(stx.Btime.Nsec))
}

func extractAccessTime(stat *syscall.Stat_t) time.Time {
	return time.Unix(int64(stat.Atim.Sec), int64(stat.Atim.Nsec))
}
