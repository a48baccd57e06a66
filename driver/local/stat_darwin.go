//go:build darwin

package local

import (
	"syscall"
	"time"
)

// extractBirthTime reads Birthtimespec, which macOS always fills.
func extractBirthTime(_ string, stat *syscall.Stat_t) time.Time {
	return time.Unix(stat.Birthtimespec.Sec, stat.Birthtimespec.Nsec)
}

func extractAccessTime(stat *syscall.Stat_t) time.Time {
	return time.Unix(stat.Atimespec.Sec, stat.Atimespec.Nsec)
}
