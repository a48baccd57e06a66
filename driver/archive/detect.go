package archive

import (
	"context"
	"os"
	"strings"

	"github.com/gobeaver/vfskit"
	arc "github.com/gobeaver/vfskit/archive"
)

// detectKind classifies file:// addresses. A path below a regular file with
// an archive extension is an archived entry. A path whose last segment has
// an archive extension is an archive unless it is a directory.
func detectKind(_ context.Context, addr vfskit.Address) (vfskit.Kind, error) {
	if _, _, ok := splitEntry(addr); ok {
		return vfskit.KindArchivedEntry, nil
	}
	if addr.IsRoot() || !arc.IsArchiveName(addr.Name()) {
		return vfskit.KindFile, nil
	}
	info, err := os.Stat(addr.LocalPath())
	if err == nil && info.IsDir() {
		return vfskit.KindFile, nil
	}
	return vfskit.KindArchive, nil
}

// splitEntry splits addr into the outermost container file and the slash
// path of the entry inside it.
func splitEntry(addr vfskit.Address) (container vfskit.Address, inner string, ok bool) {
	segs := addr.Segments()
	for i := 0; i < len(segs)-1; i++ {
		if !arc.IsArchiveName(segs[i]) {
			continue
		}
		candidate := addr
		candidate.Path = "/" + strings.Join(segs[:i+1], "/")
		info, err := os.Stat(candidate.LocalPath())
		if err != nil || !info.Mode().IsRegular() {
			continue
		}
		return candidate, strings.Join(segs[i+1:], "/"), true
	}
	return vfskit.Address{}, "", false
}
