package sftp

import "github.com/gobeaver/vfskit"

func init() {
	vfskit.RegisterClient(vfskit.ProtocolSFTP, newClient)
	vfskit.RegisterProvider(vfskit.ProtocolSFTP, vfskit.KindFile, newProvider)
}
