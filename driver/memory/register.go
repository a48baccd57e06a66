package memory

import "github.com/gobeaver/vfskit"

func init() {
	vfskit.RegisterProvider(vfskit.ProtocolMemory, vfskit.KindFile, newProvider)
}
