package s3

import "github.com/gobeaver/vfskit"

func init() {
	vfskit.RegisterClient(vfskit.ProtocolS3, newClient)
	vfskit.RegisterProvider(vfskit.ProtocolS3, vfskit.KindFile, newProvider)
}
