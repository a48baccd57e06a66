package local

import "github.com/gobeaver/vfskit"

func init() {
	vfskit.RegisterProvider(vfskit.ProtocolFile, vfskit.KindFile, newProvider)
}
