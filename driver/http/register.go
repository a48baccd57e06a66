package http

import "github.com/gobeaver/vfskit"

func init() {
	for _, protocol := range []vfskit.Protocol{vfskit.ProtocolHTTP, vfskit.ProtocolHTTPS} {
		vfskit.RegisterClient(protocol, newClient)
		vfskit.RegisterProvider(protocol, vfskit.KindFile, newProvider)
	}
}
