package vfskit

import (
	"context"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/gabriel-vasile/mimetype"

	"github.com/gobeaver/vfskit/archive"
)

// Handle is the uniform reference to one virtual file. Handles are created
// and cached by a Context; at most one live handle exists per normalized
// address. A disposed handle fails every operation with ErrDisposed.
type Handle struct {
	ctx  *Context
	kind Kind

	// key and pkey are owned by the Context and only touched with its
	// mutex held.
	key  string
	pkey providerRefKey

	mu       sync.Mutex
	provider Provider
	addr     Address
	rec      *Record
	state    handleState
}

// handleState tracks the cache membership of a handle. An evicted handle
// holds no provider reference and re-enters the cache on its next
// operation; a disposed handle is released for good.
type handleState int

const (
	stateLive handleState = iota
	stateEvicted
	stateDisposed
)

func newHandle(c *Context, addr Address, kind Kind, p Provider, pkey providerRefKey) *Handle {
	return &Handle{
		ctx:      c,
		kind:     kind,
		provider: p,
		pkey:     pkey,
		key:      addr.String(),
		addr:     addr,
		rec:      NewRecord(addr),
	}
}

// Context returns the Context that created the handle.
func (h *Handle) Context() *Context { return h.ctx }

// Kind returns the provider kind of the handle.
func (h *Handle) Kind() Kind { return h.kind }

// IsArchive reports whether the handle is a container whose entries can be
// listed and extracted.
func (h *Handle) IsArchive() bool { return h.kind == KindArchive }

// IsArchived reports whether the handle addresses an entry nested inside a
// container.
func (h *Handle) IsArchived() bool { return h.kind == KindArchivedEntry }

// Provider returns the provider executing operations for the handle.
func (h *Handle) Provider() Provider {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.provider
}

// Address returns the current address of the handle.
func (h *Handle) Address() Address {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.addr
}

// String returns the address with the password masked.
func (h *Handle) String() string {
	return h.Address().Redacted()
}

// Name returns the last path segment.
func (h *Handle) Name() string {
	return h.Address().Name()
}

// Equal reports whether both handles refer to the same normalized address.
func (h *Handle) Equal(o *Handle) bool {
	if h == nil || o == nil {
		return h == o
	}
	return h.Address().AsFile().String() == o.Address().AsFile().String()
}

// Dispose releases the handle. Disposing twice is a no-op.
func (h *Handle) Dispose() {
	h.ctx.Dispose(h)
}

// Disposed reports whether the handle has been released, either directly
// or by closing its Context. A handle pushed out of the cache is not
// disposed: it is resolved again on its next operation.
func (h *Handle) Disposed() bool {
	return h.isDisposed() || h.ctx.isClosed()
}

func (h *Handle) isDisposed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state == stateDisposed
}

// markDisposed clears the record and returns the previous state.
func (h *Handle) markDisposed() handleState {
	h.mu.Lock()
	defer h.mu.Unlock()
	prev := h.state
	h.state = stateDisposed
	h.rec = nil
	return prev
}

// markEvicted resets the record of a live handle and reports whether h was
// live.
func (h *Handle) markEvicted() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state != stateLive {
		return false
	}
	h.state = stateEvicted
	h.rec = NewRecord(h.addr)
	return true
}

// markLive attaches h to a freshly acquired provider.
func (h *Handle) markLive(p Provider) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.state = stateLive
	h.provider = p
}

func (h *Handle) disposedErr(op string) error {
	return NewPathError(op, h.String(), ErrCodeDisposed, "handle disposed")
}

// live returns the provider of h. An evicted handle is put back into the
// cache first.
func (h *Handle) live(ctx context.Context, op string) (Provider, error) {
	h.mu.Lock()
	state, p := h.state, h.provider
	h.mu.Unlock()
	switch state {
	case stateLive:
		return p, nil
	case stateDisposed:
		return nil, h.disposedErr(op)
	}
	return h.ctx.revive(ctx, h, op)
}

func (h *Handle) rekey(key string, addr Address) {
	h.key = key
	h.mu.Lock()
	h.addr = addr
	if h.rec != nil {
		h.rec.Address = addr
	}
	h.mu.Unlock()
}

func (h *Handle) check(op string) error {
	if h.Disposed() {
		return h.disposedErr(op)
	}
	return nil
}

// snapshot returns a copy of the record and the provider for a call.
func (h *Handle) snapshot(ctx context.Context, op string) (*Record, Provider, error) {
	p, err := h.live(ctx, op)
	if err != nil {
		return nil, nil, err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state == stateDisposed {
		return nil, nil, NewPathError(op, h.addr.Redacted(), ErrCodeDisposed, "handle disposed")
	}
	return h.rec.Clone(), p, nil
}

func (h *Handle) invalidate() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.rec != nil {
		h.rec = NewRecord(h.addr)
	}
}

// ============================================================================
// Metadata
// ============================================================================

// Refresh materializes the record again. The new record replaces the old
// one only when the provider succeeds. If the provider reports a canonical
// address that differs from the current one, the handle is re-keyed.
func (h *Handle) Refresh(ctx context.Context) error {
	rec, p, err := h.snapshot(ctx, "materialize")
	if err != nil {
		return err
	}
	fresh := rec.Fresh()
	if err := p.Materialize(ctx, fresh); err != nil {
		return WrapPathErr("materialize", rec.Address.Redacted(), err)
	}
	fresh.Materialized = true

	h.mu.Lock()
	if h.state == stateDisposed {
		h.mu.Unlock()
		return NewPathError("materialize", rec.Address.Redacted(), ErrCodeDisposed, "handle disposed")
	}
	renamed := !fresh.Address.Equal(h.addr)
	h.rec = fresh
	h.mu.Unlock()

	if renamed {
		h.ctx.replaceAddress(h, fresh.Address)
	}
	return nil
}

// Materialize populates the record if it has not been populated yet.
func (h *Handle) Materialize(ctx context.Context) error {
	rec, _, err := h.snapshot(ctx, "materialize")
	if err != nil {
		return err
	}
	if rec.Materialized {
		return nil
	}
	return h.Refresh(ctx)
}

// Record returns a copy of the materialized record.
func (h *Handle) Record(ctx context.Context) (*Record, error) {
	if err := h.Materialize(ctx); err != nil {
		return nil, err
	}
	rec, _, err := h.snapshot(ctx, "stat")
	return rec, err
}

// Exists reports whether the file exists.
func (h *Handle) Exists(ctx context.Context) (bool, error) {
	rec, err := h.Record(ctx)
	if err != nil {
		return false, err
	}
	return rec.Exists, nil
}

// IsDir reports whether the file is an existing directory.
func (h *Handle) IsDir(ctx context.Context) (bool, error) {
	rec, err := h.Record(ctx)
	if err != nil {
		return false, err
	}
	return rec.Exists && rec.Dir, nil
}

// Size returns the size in bytes, or -1 for directories and missing files.
func (h *Handle) Size(ctx context.Context) (int64, error) {
	rec, err := h.Record(ctx)
	if err != nil {
		return -1, err
	}
	if !rec.Exists || rec.Dir {
		return -1, nil
	}
	return rec.Size, nil
}

// ModTime returns the last modified time.
func (h *Handle) ModTime(ctx context.Context) (time.Time, error) {
	rec, err := h.Record(ctx)
	if err != nil {
		return time.Time{}, err
	}
	return rec.Modified, nil
}

// ContentType sniffs the media type from the first bytes of the file.
func (h *Handle) ContentType(ctx context.Context) (string, error) {
	rec, err := h.Record(ctx)
	if err != nil {
		return "", err
	}
	if !rec.Exists {
		return "", NewPathError("content-type", rec.Address.Redacted(), ErrCodeNotFound, "file does not exist")
	}
	if rec.Dir {
		return "", &PathError{Op: "content-type", Path: rec.Address.Redacted(), Code: ErrCodeInvalid, Err: ErrIsDir}
	}
	r, err := h.Read(ctx)
	if err != nil {
		return "", err
	}
	defer r.Close()
	mt, err := mimetype.DetectReader(r)
	if err != nil {
		return "", WrapPathErr("content-type", rec.Address.Redacted(), err)
	}
	return mt.String(), nil
}

// ============================================================================
// Create / Delete
// ============================================================================

// Create creates an empty file, creating missing parent directories first.
func (h *Handle) Create(ctx context.Context) error {
	return h.create(ctx, false)
}

// CreateDirectory creates the directory and any missing ancestors.
// Creating an existing directory is a no-op.
func (h *Handle) CreateDirectory(ctx context.Context) error {
	return h.create(ctx, true)
}

func (h *Handle) create(ctx context.Context, dir bool) error {
	op := "create"
	if dir {
		op = "mkdir"
	}
	rec, err := h.Record(ctx)
	if err != nil {
		return err
	}
	if rec.Exists {
		if dir && rec.Dir {
			return nil
		}
		if rec.Dir {
			return &PathError{Op: op, Path: rec.Address.Redacted(), Code: ErrCodeExists, Err: ErrIsDir}
		}
		if dir {
			return &PathError{Op: op, Path: rec.Address.Redacted(), Code: ErrCodeExists, Err: ErrNotDir}
		}
		return nil
	}
	if err := h.ensureParent(ctx); err != nil {
		return err
	}
	p, err := h.live(ctx, op)
	if err != nil {
		return err
	}
	if err := p.Create(ctx, rec, dir); err != nil {
		return WrapPathErr(op, rec.Address.Redacted(), err)
	}
	return h.Refresh(ctx)
}

// ensureParent creates the parent directory when it is missing. An
// existing parent is left to the provider, which reports a parent that is
// not a directory.
func (h *Handle) ensureParent(ctx context.Context) error {
	parent, err := h.Parent(ctx)
	if err != nil || parent == nil {
		return err
	}
	exists, err := parent.Exists(ctx)
	if err != nil || exists {
		return err
	}
	return parent.CreateDirectory(ctx)
}

// Delete removes the file. Directories are removed with their content,
// children first. Deleting a missing file is a no-op.
func (h *Handle) Delete(ctx context.Context) error {
	rec, err := h.Record(ctx)
	if err != nil {
		return err
	}
	if !rec.Exists {
		return nil
	}
	if rec.Dir {
		dir, entries, err := h.entries(ctx, "delete")
		if err != nil {
			return err
		}
		for _, e := range entries {
			child, err := h.ctx.ResolveAddress(ctx, e.Address(dir))
			if err != nil {
				return err
			}
			if err := child.Delete(ctx); err != nil {
				return err
			}
		}
	}
	p, err := h.live(ctx, "delete")
	if err != nil {
		return err
	}
	if err := p.Delete(ctx, rec); err != nil {
		return WrapPathErr("delete", rec.Address.Redacted(), err)
	}
	return h.Refresh(ctx)
}

// ============================================================================
// Streams
// ============================================================================

// Read returns a stream of the file content.
func (h *Handle) Read(ctx context.Context) (io.ReadCloser, error) {
	rec, err := h.Record(ctx)
	if err != nil {
		return nil, err
	}
	if !rec.Exists {
		return nil, NewPathError("read", rec.Address.Redacted(), ErrCodeNotFound, "file does not exist")
	}
	if rec.Dir {
		return nil, &PathError{Op: "read", Path: rec.Address.Redacted(), Code: ErrCodeInvalid, Err: ErrIsDir}
	}
	p, err := h.live(ctx, "read")
	if err != nil {
		return nil, err
	}
	r, err := p.Read(ctx, rec)
	if err != nil {
		return nil, WrapPathErr("read", rec.Address.Redacted(), err)
	}
	return r, nil
}

// Write returns a stream replacing the file content. Missing parent
// directories are created. The record is refreshed on the next access
// after the writer is closed.
func (h *Handle) Write(ctx context.Context) (io.WriteCloser, error) {
	rec, p, err := h.snapshot(ctx, "write")
	if err != nil {
		return nil, err
	}
	// Backends without directories (HTTP) cannot create the parent; the
	// server decides whether the write is accepted.
	if err := h.ensureParent(ctx); err != nil && !IsNotSupported(err) {
		return nil, err
	}
	w, err := p.Write(ctx, rec)
	if err != nil {
		return nil, WrapPathErr("write", rec.Address.Redacted(), err)
	}
	return &handleWriter{WriteCloser: w, h: h}, nil
}

type handleWriter struct {
	io.WriteCloser
	h *Handle
}

func (w *handleWriter) Close() error {
	err := w.WriteCloser.Close()
	w.h.invalidate()
	return err
}

// ============================================================================
// Listing
// ============================================================================

// Children returns the handles of the immediate children of a directory.
func (h *Handle) Children(ctx context.Context) ([]*Handle, error) {
	return h.List(ctx, nil)
}

// Child resolves a direct or nested child by relative slash path.
func (h *Handle) Child(ctx context.Context, rel string) (*Handle, error) {
	return h.ctx.ResolveAddress(ctx, h.Address().Join(rel))
}

// Parent returns the enclosing directory, or nil for a site root.
func (h *Handle) Parent(ctx context.Context) (*Handle, error) {
	return h.ctx.Parent(ctx, h)
}

// List returns the immediate children matching selector. A nil selector
// matches everything.
func (h *Handle) List(ctx context.Context, selector FileSelector) ([]*Handle, error) {
	if selector == nil {
		selector = All()
	}
	base := h.Address()
	var out []*Handle
	err := h.walk(ctx, base, 1, selector, false, &out)
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Find returns every descendant matching selector, traversing directories
// for which the selector allows it.
func (h *Handle) Find(ctx context.Context, selector FileSelector) ([]*Handle, error) {
	if selector == nil {
		selector = All()
	}
	base := h.Address()
	var out []*Handle
	err := h.walk(ctx, base, 1, selector, true, &out)
	if err != nil {
		return nil, err
	}
	return out, nil
}

// entries lists the directory h and returns its materialized address
// together with the raw listing. Children are resolved by the caller one at
// a time, so a listing larger than the cache never holds evicted handles.
func (h *Handle) entries(ctx context.Context, op string) (Address, []DirEntry, error) {
	rec, err := h.Record(ctx)
	if err != nil {
		return Address{}, nil, err
	}
	if !rec.Exists {
		return Address{}, nil, NewPathError(op, rec.Address.Redacted(), ErrCodeNotFound, "directory does not exist")
	}
	if !rec.Dir {
		return Address{}, nil, &PathError{Op: op, Path: rec.Address.Redacted(), Code: ErrCodeInvalid, Err: ErrNotDir}
	}
	p, err := h.live(ctx, op)
	if err != nil {
		return Address{}, nil, err
	}
	entries, err := p.List(ctx, rec)
	if err != nil {
		return Address{}, nil, WrapPathErr(op, rec.Address.Redacted(), err)
	}
	return rec.Address, entries, nil
}

func (h *Handle) walk(ctx context.Context, base Address, depth int, selector FileSelector, recursive bool, out *[]*Handle) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	dir, entries, err := h.entries(ctx, "list")
	if err != nil {
		return err
	}

	for _, e := range entries {
		childAddr := e.Address(dir)
		rel, _ := childAddr.AsFile().Relative(base)
		info := &FileInfo{
			Name:     e.Name,
			Path:     strings.TrimSuffix(rel, "/"),
			Depth:    depth,
			Dir:      e.Dir,
			Size:     e.Size,
			Modified: e.Modified,
		}

		var child *Handle
		if selector.Match(info) {
			child, err = h.ctx.ResolveAddress(ctx, childAddr)
			if err != nil {
				return err
			}
			*out = append(*out, child)
		}
		if recursive && e.Dir && selector.TraverseDescendants(info) {
			if child == nil {
				child, err = h.ctx.ResolveAddress(ctx, childAddr)
				if err != nil {
					return err
				}
			}
			if err := child.walk(ctx, base, depth+1, selector, recursive, out); err != nil {
				return err
			}
		}
	}
	return nil
}

// ============================================================================
// Setters
// ============================================================================

// SetAttributes changes POSIX mode bits or DOS flags.
func (h *Handle) SetAttributes(ctx context.Context, attrs Attributes) error {
	return h.mutate(ctx, "set-attributes", func(p Provider) setter {
		if s, ok := p.(CanSetAttributes); ok {
			return func(rec *Record) error { return s.SetAttributes(ctx, rec, attrs) }
		}
		return nil
	})
}

// SetOwner changes the owner.
func (h *Handle) SetOwner(ctx context.Context, owner string) error {
	return h.mutate(ctx, "set-owner", func(p Provider) setter {
		if s, ok := p.(CanSetOwnership); ok {
			return func(rec *Record) error { return s.SetOwner(ctx, rec, owner) }
		}
		return nil
	})
}

// SetGroup changes the group.
func (h *Handle) SetGroup(ctx context.Context, group string) error {
	return h.mutate(ctx, "set-group", func(p Provider) setter {
		if s, ok := p.(CanSetOwnership); ok {
			return func(rec *Record) error { return s.SetGroup(ctx, rec, group) }
		}
		return nil
	})
}

// SetACL replaces the access control list.
func (h *Handle) SetACL(ctx context.Context, acl []ACLEntry) error {
	return h.mutate(ctx, "set-acl", func(p Provider) setter {
		if s, ok := p.(CanSetACL); ok {
			return func(rec *Record) error { return s.SetACL(ctx, rec, acl) }
		}
		return nil
	})
}

// SetCreationTime changes the creation time.
func (h *Handle) SetCreationTime(ctx context.Context, t time.Time) error {
	return h.setTime(ctx, TimeCreated, t)
}

// SetModifiedTime changes the last modified time.
func (h *Handle) SetModifiedTime(ctx context.Context, t time.Time) error {
	return h.setTime(ctx, TimeModified, t)
}

// SetAccessTime changes the last access time.
func (h *Handle) SetAccessTime(ctx context.Context, t time.Time) error {
	return h.setTime(ctx, TimeAccessed, t)
}

func (h *Handle) setTime(ctx context.Context, kind TimeKind, t time.Time) error {
	return h.mutate(ctx, "set-"+kind.String(), func(p Provider) setter {
		if s, ok := p.(CanSetTime); ok {
			return func(rec *Record) error { return s.SetTime(ctx, rec, kind, t) }
		}
		return nil
	})
}

// setter applies one change to the file described by rec.
type setter func(rec *Record) error

// mutate binds a setter to the provider of h, or fails with ErrNotSupported
// before any backend call when bind returns nil. The setter runs against
// the materialized record, since providers rewriting several fields at once
// (times, owner and group) keep the current values of the others. The
// record is materialized again on success.
func (h *Handle) mutate(ctx context.Context, op string, bind func(p Provider) setter) error {
	_, p, err := h.snapshot(ctx, op)
	if err != nil {
		return err
	}
	fn := bind(p)
	if fn == nil {
		return Unsupported(op, h.String())
	}
	rec, err := h.Record(ctx)
	if err != nil {
		return err
	}
	if err := fn(rec); err != nil {
		return WrapPathErr(op, rec.Address.Redacted(), err)
	}
	return h.Refresh(ctx)
}

// ============================================================================
// Capabilities
// ============================================================================

// Checksum hashes the file content with algorithm.
func (h *Handle) Checksum(ctx context.Context, algorithm ChecksumAlgorithm) (string, error) {
	rec, p, err := h.snapshot(ctx, "checksum")
	if err != nil {
		return "", err
	}
	cs, ok := p.(CanChecksum)
	if !ok {
		return "", Unsupported("checksum", rec.Address.Redacted())
	}
	sum, err := cs.Checksum(ctx, rec, algorithm)
	if err != nil {
		return "", WrapPathErr("checksum", rec.Address.Redacted(), err)
	}
	return sum, nil
}

// IsReadable reports whether the caller may read the file.
func (h *Handle) IsReadable(ctx context.Context) (bool, error) {
	return h.access(ctx, AccessRead)
}

// IsWritable reports whether the caller may write the file.
func (h *Handle) IsWritable(ctx context.Context) (bool, error) {
	return h.access(ctx, AccessWrite)
}

// IsExecutable reports whether the caller may execute the file.
func (h *Handle) IsExecutable(ctx context.Context) (bool, error) {
	return h.access(ctx, AccessExecute)
}

func (h *Handle) access(ctx context.Context, mode AccessMode) (bool, error) {
	op := "is-" + mode.String()
	rec, p, err := h.snapshot(ctx, op)
	if err != nil {
		return false, err
	}
	a, ok := p.(CanAccess)
	if !ok {
		return false, Unsupported(op, rec.Address.Redacted())
	}
	if err := h.Materialize(ctx); err != nil {
		return false, err
	}
	if rec, _, err = h.snapshot(ctx, op); err != nil {
		return false, err
	}
	if !rec.Exists {
		return false, nil
	}
	v, err := a.Access(ctx, rec, mode)
	if err != nil {
		return false, WrapPathErr(op, rec.Address.Redacted(), err)
	}
	return v, nil
}

// IsHidden reports whether the file is hidden: the DOS hidden flag is set,
// or the name starts with a dot.
func (h *Handle) IsHidden(ctx context.Context) (bool, error) {
	rec, err := h.Record(ctx)
	if err != nil {
		return false, err
	}
	if rec.Attributes.Kind == AttributesDOS && rec.Attributes.Hidden {
		return true, nil
	}
	return strings.HasPrefix(rec.Name(), "."), nil
}

// ListArchive lists the entries of an archive file.
func (h *Handle) ListArchive(ctx context.Context) ([]archive.Entry, error) {
	rec, p, err := h.snapshot(ctx, "list-archive")
	if err != nil {
		return nil, err
	}
	a, ok := p.(CanArchive)
	if !ok {
		return nil, Unsupported("list-archive", rec.Address.Redacted())
	}
	entries, err := a.ListArchive(ctx, rec)
	if err != nil {
		return nil, WrapPathErr("list-archive", rec.Address.Redacted(), err)
	}
	return entries, nil
}

// Extract writes every archive entry below target and returns one handle
// per produced location. The first failing entry aborts the extraction.
func (h *Handle) Extract(ctx context.Context, target *Handle) ([]*Handle, error) {
	rec, p, err := h.snapshot(ctx, "extract")
	if err != nil {
		return nil, err
	}
	if err := target.check("extract"); err != nil {
		return nil, err
	}
	a, ok := p.(CanArchive)
	if !ok {
		return nil, Unsupported("extract", rec.Address.Redacted())
	}
	out, err := a.Extract(ctx, rec, target)
	if err != nil {
		return out, WrapPathErr("extract", rec.Address.Redacted(), err)
	}
	return out, nil
}

// Watch returns a token signalled on the next change of the file or the
// directory content.
func (h *Handle) Watch(ctx context.Context) (ChangeToken, error) {
	rec, p, err := h.snapshot(ctx, "watch")
	if err != nil {
		return nil, err
	}
	w, ok := p.(CanWatch)
	if !ok {
		return nil, Unsupported("watch", rec.Address.Redacted())
	}
	token, err := w.Watch(ctx, rec)
	if err != nil {
		return nil, WrapPathErr("watch", rec.Address.Redacted(), err)
	}
	return token, nil
}

// ============================================================================
// Composite operations
// ============================================================================

// CopyTo copies the file or directory tree to target.
func (h *Handle) CopyTo(ctx context.Context, target *Handle, l Listener) error {
	return Copy(ctx, h, target, l)
}

// CompareTo reports whether h and target have identical content.
func (h *Handle) CompareTo(ctx context.Context, target *Handle, l Listener) (bool, error) {
	return Compare(ctx, h, target, l)
}

// Add copies child into this directory under the child's name and returns
// the handle of the copy.
func (h *Handle) Add(ctx context.Context, child *Handle, l Listener) (*Handle, error) {
	if err := h.CreateDirectory(ctx); err != nil {
		return nil, err
	}
	rec, err := child.Record(ctx)
	if err != nil {
		return nil, err
	}
	target, err := h.ctx.ResolveAddress(ctx, h.Address().Join(child.Name()).WithDir(rec.Dir))
	if err != nil {
		return nil, err
	}
	if err := Copy(ctx, child, target, l); err != nil {
		return nil, err
	}
	return target, nil
}

// MoveTo moves the file to target. Within one site a native move is used
// when the provider supports it; otherwise the file is copied and the
// source deleted, without atomicity.
func (h *Handle) MoveTo(ctx context.Context, target *Handle) error {
	rec, err := h.Record(ctx)
	if err != nil {
		return err
	}
	if !rec.Exists {
		return NewPathError("move", rec.Address.Redacted(), ErrCodeNotFound, "file does not exist")
	}
	if err := target.check("move"); err != nil {
		return err
	}
	dst := target.Address()
	p, err := h.live(ctx, "move")
	if err != nil {
		return err
	}

	if m, ok := p.(CanMove); ok && rec.Address.Site().Key() == dst.Site().Key() && h.kind == target.kind {
		if err := target.ensureParent(ctx); err != nil {
			return err
		}
		if err := m.Move(ctx, rec, dst); err != nil {
			return WrapPathErr("move", rec.Address.Redacted(), err)
		}
		h.invalidate()
		target.invalidate()
		return nil
	}

	if err := Copy(ctx, h, target, nil); err != nil {
		return err
	}
	return h.Delete(ctx)
}

// Rename moves the file to a sibling named name and returns its handle.
func (h *Handle) Rename(ctx context.Context, name string) (*Handle, error) {
	if name == "" || strings.Contains(name, "/") {
		return nil, NewPathError("rename", h.String(), ErrCodeInvalid, "invalid name "+name)
	}
	parent, ok := h.Address().Parent()
	if !ok {
		return nil, NewPathError("rename", h.String(), ErrCodeInvalid, "cannot rename a root")
	}
	target, err := h.ctx.ResolveAddress(ctx, parent.Join(name).WithDir(h.Address().IsDir()))
	if err != nil {
		return nil, err
	}
	if err := h.MoveTo(ctx, target); err != nil {
		return nil, err
	}
	return target, nil
}
