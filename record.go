package vfskit

import (
	"io/fs"
	"time"
)

// AttributeKind selects which attribute set of a Record is meaningful.
type AttributeKind int

const (
	AttributesNone AttributeKind = iota
	AttributesPOSIX
	AttributesDOS
)

// Attributes holds either POSIX permission bits or DOS flags.
type Attributes struct {
	Kind     AttributeKind
	Mode     fs.FileMode
	ReadOnly bool
	Hidden   bool
	System   bool
	Archive  bool
}

// ACLPermission is a bit set of ACL rights.
type ACLPermission uint32

const (
	ACLRead ACLPermission = 1 << iota
	ACLWrite
	ACLExecute
	ACLDelete
	ACLReadAttributes
	ACLWriteAttributes
	ACLReadACL
	ACLWriteACL
)

// ACLEntryType says whether an entry grants or denies.
type ACLEntryType int

const (
	ACLAllow ACLEntryType = iota
	ACLDeny
)

// ACLEntry is one access control entry.
type ACLEntry struct {
	Principal   string
	Type        ACLEntryType
	Permissions ACLPermission
}

// TimeKind selects one of the three timestamps of a Record.
type TimeKind int

const (
	TimeCreated TimeKind = iota
	TimeModified
	TimeAccessed
)

func (k TimeKind) String() string {
	switch k {
	case TimeCreated:
		return "creation-time"
	case TimeModified:
		return "modified-time"
	case TimeAccessed:
		return "access-time"
	}
	return "unknown-time"
}

// Record is the cached metadata snapshot of one file.
type Record struct {
	Address Address

	// Size is -1 until the record has been materialized.
	Size int64

	Created  time.Time
	Modified time.Time
	Accessed time.Time

	Dir     bool
	Symlink bool
	Exists  bool

	LinkTarget string
	Owner      string
	Group      string
	ACL        []ACLEntry
	Attributes Attributes

	Materialized bool
}

// NewRecord returns an empty, unmaterialized record for addr.
func NewRecord(addr Address) *Record {
	return &Record{Address: addr, Size: -1}
}

// Fresh returns an empty record for the same address. Providers populate
// it during Materialize so a failure never leaves partial state behind.
func (r *Record) Fresh() *Record {
	return NewRecord(r.Address)
}

// Time returns the timestamp selected by kind.
func (r *Record) Time(kind TimeKind) time.Time {
	switch kind {
	case TimeCreated:
		return r.Created
	case TimeAccessed:
		return r.Accessed
	default:
		return r.Modified
	}
}

// Path returns the cleaned path of the record's address.
func (r *Record) Path() string {
	return r.Address.CleanPath()
}

// Name returns the last segment of the record's address.
func (r *Record) Name() string {
	return r.Address.Name()
}

// Clone returns a deep copy of r.
func (r *Record) Clone() *Record {
	c := *r
	if r.ACL != nil {
		c.ACL = append([]ACLEntry(nil), r.ACL...)
	}
	return &c
}
