package archive

import "github.com/gobeaver/vfskit"

func init() {
	vfskit.RegisterKindDetector(vfskit.ProtocolFile, detectKind)
	vfskit.RegisterProvider(vfskit.ProtocolFile, vfskit.KindArchive, newArchiveProvider)
	vfskit.RegisterProvider(vfskit.ProtocolFile, vfskit.KindArchivedEntry, newEntryProvider)
}
