package vfskit

import (
	"context"
	"io"
	"time"

	"github.com/gobeaver/vfskit/archive"
)

// Kind classifies what an address points at within its protocol. Providers
// are instantiated per (site, kind).
type Kind int

const (
	// KindFile is a plain file or directory.
	KindFile Kind = iota
	// KindArchive is a container file whose entries can be listed and extracted.
	KindArchive
	// KindArchivedEntry is a path nested inside a container file.
	KindArchivedEntry
)

func (k Kind) String() string {
	switch k {
	case KindFile:
		return "file"
	case KindArchive:
		return "archive"
	case KindArchivedEntry:
		return "archived-entry"
	}
	return "unknown"
}

// DirEntry is one child returned by Provider.List. Size is -1 when the
// backend does not report it while listing.
type DirEntry struct {
	Name     string
	Dir      bool
	Size     int64
	Modified time.Time
}

// Address returns the address of the entry inside dir.
func (e DirEntry) Address(dir Address) Address {
	return dir.Join(e.Name).WithDir(e.Dir)
}

// ============================================================================
// Core Interface
// ============================================================================

// Provider executes backend operations for one (site, kind). It keeps no
// per-file state: the Record of the file is passed on every call.
type Provider interface {
	// Materialize fills rec, which is a fresh record for the address. It sets
	// rec.Exists and, for existing files, every piece of metadata reachable
	// on the protocol. Non-existence is not an error. A provider may rewrite
	// rec.Address to the canonical form of the file.
	Materialize(ctx context.Context, rec *Record) error

	// Create creates an empty file, or a directory when dir is true. The
	// parent directory exists when Create is called.
	Create(ctx context.Context, rec *Record, dir bool) error

	// Delete removes a file or an empty directory.
	Delete(ctx context.Context, rec *Record) error

	// Read returns a stream of the file content.
	Read(ctx context.Context, rec *Record) (io.ReadCloser, error)

	// Write returns a stream replacing the file content. The content is
	// committed when the writer is closed.
	Write(ctx context.Context, rec *Record) (io.WriteCloser, error)

	// List returns the children of a directory.
	List(ctx context.Context, rec *Record) ([]DirEntry, error)

	// Close releases provider resources. The shared Client is closed by
	// the Context, not by the provider.
	Close() error
}

// ============================================================================
// Optional Capability Interfaces
// ============================================================================
// Capabilities are discovered with a type assertion. A Handle fails with
// ErrNotSupported before any backend call when the provider lacks one:
//
//	if s, ok := p.(CanSetACL); ok {
//	    s.SetACL(ctx, rec, acl)
//	}

// CanSetAttributes indicates POSIX mode bits or DOS flags can be changed.
type CanSetAttributes interface {
	SetAttributes(ctx context.Context, rec *Record, attrs Attributes) error
}

// CanSetOwnership indicates owner and group can be changed.
type CanSetOwnership interface {
	SetOwner(ctx context.Context, rec *Record, owner string) error
	SetGroup(ctx context.Context, rec *Record, group string) error
}

// CanSetACL indicates the access control list can be replaced.
type CanSetACL interface {
	SetACL(ctx context.Context, rec *Record, acl []ACLEntry) error
}

// CanSetTime indicates timestamps can be changed. Providers return
// ErrNotSupported for a TimeKind their protocol cannot set.
type CanSetTime interface {
	SetTime(ctx context.Context, rec *Record, kind TimeKind, t time.Time) error
}

// CanChecksum indicates the provider can hash file content.
type CanChecksum interface {
	Checksum(ctx context.Context, rec *Record, algorithm ChecksumAlgorithm) (string, error)
}

// CanMove indicates native move within one site.
type CanMove interface {
	Move(ctx context.Context, src *Record, dst Address) error
}

// AccessMode is the kind of access asked for by CanAccess.
type AccessMode int

const (
	AccessRead AccessMode = iota
	AccessWrite
	AccessExecute
)

func (m AccessMode) String() string {
	switch m {
	case AccessRead:
		return "readable"
	case AccessWrite:
		return "writable"
	case AccessExecute:
		return "executable"
	}
	return "unknown"
}

// CanAccess indicates the provider can check access rights of the caller.
type CanAccess interface {
	Access(ctx context.Context, rec *Record, mode AccessMode) (bool, error)
}

// CanArchive indicates the file is a container that can be listed and
// extracted.
type CanArchive interface {
	ListArchive(ctx context.Context, rec *Record) ([]archive.Entry, error)
	// Extract writes every entry below target and returns one handle per
	// produced location.
	Extract(ctx context.Context, rec *Record, target *Handle) ([]*Handle, error)
}

// CanWatch indicates the provider supports change notifications.
type CanWatch interface {
	Watch(ctx context.Context, rec *Record) (ChangeToken, error)
}

// ============================================================================
// File Watching (ChangeToken Pattern)
// ============================================================================

// ChangeToken represents a change notification token.
//
// Consumers can either poll HasChanged() or register a callback via
// RegisterChangeCallback(). Tokens are single-use: once changed they stay
// changed.
type ChangeToken interface {
	HasChanged() bool
	ActiveChangeCallbacks() bool
	RegisterChangeCallback(callback func()) (unregister func())
}
