//go:build windows

package local

import (
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sys/windows"

	"github.com/gobeaver/vfskit"
)

var platformViews = map[view]bool{
	viewDOS: true,
}

func statTimes(_ string, info os.FileInfo) (created, accessed time.Time) {
	data, ok := info.Sys().(*syscall.Win32FileAttributeData)
	if !ok {
		return time.Time{}, time.Time{}
	}
	return time.Unix(0, data.CreationTime.Nanoseconds()), time.Unix(0, data.LastAccessTime.Nanoseconds())
}

// Owner information requires GetSecurityInfo; the owner view is reported
// unsupported instead.
func statOwner(os.FileInfo) (string, string, bool) {
	return "", "", false
}

func statDOS(path string) (vfskit.Attributes, bool) {
	p, err := windows.UTF16PtrFromString(path)
	if err != nil {
		return vfskit.Attributes{}, false
	}
	attrs, err := windows.GetFileAttributes(p)
	if err != nil {
		return vfskit.Attributes{}, false
	}
	return vfskit.Attributes{
		Kind:     vfskit.AttributesDOS,
		ReadOnly: attrs&windows.FILE_ATTRIBUTE_READONLY != 0,
		Hidden:   attrs&windows.FILE_ATTRIBUTE_HIDDEN != 0,
		System:   attrs&windows.FILE_ATTRIBUTE_SYSTEM != 0,
		Archive:  attrs&windows.FILE_ATTRIBUTE_ARCHIVE != 0,
	}, true
}

func setDOS(path string, a vfskit.Attributes) error {
	p, err := windows.UTF16PtrFromString(path)
	if err != nil {
		return err
	}
	attrs, err := windows.GetFileAttributes(p)
	if err != nil {
		return err
	}
	flags := []struct {
		on  bool
		bit uint32
	}{
		{a.ReadOnly, windows.FILE_ATTRIBUTE_READONLY},
		{a.Hidden, windows.FILE_ATTRIBUTE_HIDDEN},
		{a.System, windows.FILE_ATTRIBUTE_SYSTEM},
		{a.Archive, windows.FILE_ATTRIBUTE_ARCHIVE},
	}
	for _, f := range flags {
		if f.on {
			attrs |= f.bit
		} else {
			attrs &^= f.bit
		}
	}
	return windows.SetFileAttributes(p, attrs)
}

func setCreationTime(path string, t time.Time) error {
	p, err := windows.UTF16PtrFromString(path)
	if err != nil {
		return err
	}
	h, err := windows.CreateFile(p, windows.FILE_WRITE_ATTRIBUTES, windows.FILE_SHARE_READ|windows.FILE_SHARE_WRITE,
		nil, windows.OPEN_EXISTING, windows.FILE_FLAG_BACKUP_SEMANTICS, 0)
	if err != nil {
		return err
	}
	defer windows.CloseHandle(h)
	ft := windows.NsecToFiletime(t.UnixNano())
	return windows.SetFileTime(h, &ft, nil, nil)
}

var executableExts = map[string]bool{".exe": true, ".com": true, ".bat": true, ".cmd": true}

func access(path string, mode vfskit.AccessMode) (bool, error) {
	switch mode {
	case vfskit.AccessRead:
		f, err := os.Open(path)
		if err != nil {
			if os.IsPermission(err) {
				return false, nil
			}
			return false, err
		}
		return true, f.Close()
	case vfskit.AccessWrite:
		attrs, ok := statDOS(path)
		return ok && !attrs.ReadOnly, nil
	default:
		return executableExts[strings.ToLower(filepath.Ext(path))], nil
	}
}
