// Package vfskit provides a virtual filesystem: files and directories on
// local disk, SFTP, FTP, HTTP(S), S3 and inside archive containers are
// addressed uniformly by a normalized [Address] and manipulated through one
// handle type, [Handle].
//
// # Resolution
//
// A [Context] turns addresses into handles. It caches handles in a bounded
// LRU cache, so resolving the same address twice returns the same handle
// while it is cached, and lazily creates one protocol [Client] per site and
// one [Provider] per (site, kind). Drivers register themselves on import:
//
//	import _ "github.com/gobeaver/vfskit/driver/all"
//
//	vfs, err := vfskit.New()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer vfs.Close()
//
//	h, err := vfs.Resolve(ctx, "sftp://deploy@build.example.com/srv/app.jar")
//	r, err := h.Read(ctx)
//
// Bare paths resolve to the local filesystem:
//
//	dir, err := vfs.ResolveDirectory(ctx, "./out")
//
// # Archives
//
// Paths that cross an archive file resolve to entries of the archive:
//
//	entry, err := vfs.Resolve(ctx, "/tmp/build.zip/MyProject/target/classes/App.class")
//	zip, _ := vfs.Resolve(ctx, "/tmp/build.zip")
//	handles, err := zip.Extract(ctx, dir)
//
// # Capabilities
//
// Providers implement the core [Provider] interface and any of the optional
// capability interfaces ([CanSetACL], [CanSetTime], [CanChecksum], ...).
// A handle operation whose capability is missing fails with an error that
// matches [ErrNotSupported] without contacting the backend:
//
//	if err := h.SetACL(ctx, acl); vfskit.IsNotSupported(err) {
//	    // HTTP, FTP and archive entries have no ACLs
//	}
//
// # Copy and Compare
//
// [Copy] and [Compare] stream content in [ChunkSize] chunks between any two
// handles, possibly of different protocols, and report progress to a
// [Listener].
//
// # Configuration
//
// [GetConfig] loads a [Config] from VFSKIT_* environment variables; pass it
// with [WithConfig]. [Context.Reconfigure] applies a new configuration to a
// live Context.
package vfskit
