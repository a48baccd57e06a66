package ftp

import "github.com/gobeaver/vfskit"

func init() {
	vfskit.RegisterClient(vfskit.ProtocolFTP, newClient)
	vfskit.RegisterProvider(vfskit.ProtocolFTP, vfskit.KindFile, newProvider)
}
