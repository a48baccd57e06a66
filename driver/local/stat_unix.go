//go:build linux || darwin

package local

import (
	"errors"
	"os"
	"strconv"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"github.com/gobeaver/vfskit"
)

var platformViews = map[view]bool{
	viewPOSIX: true,
	viewOwner: true,
}

// statTimes returns the creation and access times. Creation time is zero
// when the filesystem does not record it.
func statTimes(path string, info os.FileInfo) (created, accessed time.Time) {
	stat, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return time.Time{}, time.Time{}
	}
	return extractBirthTime(path, stat), extractAccessTime(stat)
}

// statOwner returns the numeric uid and gid.
func statOwner(info os.FileInfo) (owner, group string, ok bool) {
	stat, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return "", "", false
	}
	return strconv.FormatUint(uint64(stat.Uid), 10), strconv.FormatUint(uint64(stat.Gid), 10), true
}

func statDOS(string) (vfskit.Attributes, bool) {
	return vfskit.Attributes{}, false
}

func setDOS(path string, _ vfskit.Attributes) error {
	return vfskit.Unsupported("set-attributes", path)
}

func setCreationTime(path string, _ time.Time) error {
	return vfskit.Unsupported("set-creation-time", path)
}

// access asks the kernel, so ACLs and read-only mounts are honoured.
func access(path string, mode vfskit.AccessMode) (bool, error) {
	var bit uint32
	switch mode {
	case vfskit.AccessRead:
		bit = unix.R_OK
	case vfskit.AccessWrite:
		bit = unix.W_OK
	default:
		bit = unix.X_OK
	}
	err := unix.Access(path, bit)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, unix.EACCES), errors.Is(err, unix.EROFS), errors.Is(err, unix.EPERM):
		return false, nil
	}
	return false, err
}
