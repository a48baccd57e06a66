//go:build !linux && !darwin && !windows

package local

import (
	"os"
	"time"

	"github.com/gobeaver/vfskit"
)

var platformViews = map[view]bool{
	viewPOSIX: true,
}

func statTimes(string, os.FileInfo) (time.Time, time.Time) {
	return time.Time{}, time.Time{}
}

func statOwner(os.FileInfo) (string, string, bool) {
	return "", "", false
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

// access falls back to the owner permission bits.
func access(path string, mode vfskit.AccessMode) (bool, error) {
	info, err := os.Stat(path)
	if err != nil {
		return false, err
	}
	perm := info.Mode().Perm()
	switch mode {
	case vfskit.AccessRead:
		return perm&0o400 != 0, nil
	case vfskit.AccessWrite:
		return perm&0o200 != 0, nil
	default:
		return perm&0o100 != 0, nil
	}
}
