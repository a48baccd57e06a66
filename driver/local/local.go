package local

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"os"
	"os/user"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/gobeaver/vfskit"
)

// view is one independently supported group of file metadata.
type view string

const (
	viewBasic view = "basic"
	viewPOSIX view = "posix"
	viewDOS   view = "dos"
	viewACL   view = "acl"
	viewOwner view = "owner"
)

// Provider implements vfskit.Provider for file:// addresses on the local
// filesystem.
type Provider struct {
	log     logrus.FieldLogger
	session *vfskit.Context

	// skipped remembers views already reported as unsupported when the
	// provider runs outside a Context.
	skipped sync.Map
}

var (
	_ vfskit.Provider         = (*Provider)(nil)
	_ vfskit.CanSetAttributes = (*Provider)(nil)
	_ vfskit.CanSetOwnership  = (*Provider)(nil)
	_ vfskit.CanSetACL        = (*Provider)(nil)
	_ vfskit.CanSetTime       = (*Provider)(nil)
	_ vfskit.CanChecksum      = (*Provider)(nil)
	_ vfskit.CanMove          = (*Provider)(nil)
	_ vfskit.CanAccess        = (*Provider)(nil)
	_ vfskit.CanWatch         = (*Provider)(nil)
)

// New creates a local provider. Unsupported attribute views are reported
// once per session when session is set, otherwise once per provider.
func New(log logrus.FieldLogger, session *vfskit.Context) *Provider {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Provider{log: log, session: session}
}

func newProvider(_ context.Context, p vfskit.ProviderParams) (vfskit.Provider, error) {
	return New(p.Logger, p.Context), nil
}

const viewWarning = "local: attribute view not supported on this platform, skipping"

// supports reports whether the platform exposes v and warns once when it
// does not.
func (p *Provider) supports(v view) bool {
	if v == viewBasic || platformViews[v] {
		return true
	}
	if p.session != nil {
		p.session.WarnOnce("local.view."+string(v), logrus.Fields{"view": string(v)}, viewWarning)
		return false
	}
	if _, seen := p.skipped.LoadOrStore(v, true); !seen {
		p.log.WithField("view", string(v)).Warn(viewWarning)
	}
	return false
}

// Materialize implements vfskit.Provider.
func (p *Provider) Materialize(ctx context.Context, rec *vfskit.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	path := rec.Address.LocalPath()
	info, err := os.Lstat(path)
	if errors.Is(err, fs.ErrNotExist) {
		rec.Exists = false
		return nil
	}
	if err != nil {
		return vfskit.WrapPathErr("materialize", rec.Address.Redacted(), err)
	}

	if info.Mode()&fs.ModeSymlink != 0 {
		rec.Symlink = true
		if target, err := os.Readlink(path); err == nil {
			rec.LinkTarget = target
		}
		// Dangling links exist but carry only their own metadata.
		if followed, err := os.Stat(path); err == nil {
			info = followed
		}
	}

	rec.Exists = true
	rec.Dir = info.IsDir()
	rec.Size = info.Size()
	if rec.Dir {
		rec.Size = 0
	}
	rec.Modified = info.ModTime()
	rec.Created, rec.Accessed = statTimes(path, info)

	if p.supports(viewPOSIX) {
		rec.Attributes = vfskit.Attributes{
			Kind: vfskit.AttributesPOSIX,
			Mode: info.Mode() & (fs.ModePerm | fs.ModeSetuid | fs.ModeSetgid | fs.ModeSticky),
		}
	}
	if p.supports(viewDOS) {
		if attrs, ok := statDOS(path); ok {
			rec.Attributes = attrs
		}
	}
	if p.supports(viewOwner) {
		if owner, group, ok := statOwner(info); ok {
			rec.Owner, rec.Group = owner, group
		}
	}
	p.supports(viewACL)
	return nil
}

// Create implements vfskit.Provider.
func (p *Provider) Create(ctx context.Context, rec *vfskit.Record, dir bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	path := rec.Address.LocalPath()
	if dir {
		return os.Mkdir(path, 0o755)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	return f.Close()
}

// Delete implements vfskit.Provider.
func (p *Provider) Delete(ctx context.Context, rec *vfskit.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return os.Remove(rec.Address.LocalPath())
}

// Read implements vfskit.Provider.
func (p *Provider) Read(ctx context.Context, rec *vfskit.Record) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return os.Open(rec.Address.LocalPath())
}

// Write implements vfskit.Provider.
func (p *Provider) Write(ctx context.Context, rec *vfskit.Record) (io.WriteCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return os.Create(rec.Address.LocalPath())
}

// List implements vfskit.Provider.
func (p *Provider) List(ctx context.Context, rec *vfskit.Record) ([]vfskit.DirEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	dir := rec.Address.LocalPath()
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	out := make([]vfskit.DirEntry, 0, len(entries))
	for _, e := range entries {
		info, err := e.Info()
		if err != nil {
			// Removed between ReadDir and Info.
			continue
		}
		if info.Mode()&fs.ModeSymlink != 0 {
			if followed, err := os.Stat(filepath.Join(dir, e.Name())); err == nil {
				info = followed
			}
		}
		de := vfskit.DirEntry{Name: e.Name(), Dir: info.IsDir(), Size: info.Size(), Modified: info.ModTime()}
		if de.Dir {
			de.Size = 0
		}
		out = append(out, de)
	}
	return out, nil
}

// Close implements vfskit.Provider.
func (p *Provider) Close() error {
	return nil
}

// SetAttributes applies POSIX mode bits or DOS flags, whichever the
// attributes carry.
func (p *Provider) SetAttributes(ctx context.Context, rec *vfskit.Record, attrs vfskit.Attributes) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	path := rec.Address.LocalPath()
	switch attrs.Kind {
	case vfskit.AttributesPOSIX:
		if !p.supports(viewPOSIX) {
			return vfskit.Unsupported("set-attributes", rec.Address.Redacted())
		}
		return os.Chmod(path, attrs.Mode)
	case vfskit.AttributesDOS:
		if !p.supports(viewDOS) {
			return vfskit.Unsupported("set-attributes", rec.Address.Redacted())
		}
		return setDOS(path, attrs)
	}
	return vfskit.NewPathError("set-attributes", rec.Address.Redacted(), vfskit.ErrCodeInvalid, "attributes carry no kind")
}

// SetOwner changes the owning user. owner is a user name or a numeric id.
func (p *Provider) SetOwner(ctx context.Context, rec *vfskit.Record, owner string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !p.supports(viewOwner) {
		return vfskit.Unsupported("set-owner", rec.Address.Redacted())
	}
	uid, err := lookupID(owner, func(name string) (string, error) {
		u, err := user.Lookup(name)
		if err != nil {
			return "", err
		}
		return u.Uid, nil
	})
	if err != nil {
		return &vfskit.PathError{Op: "set-owner", Path: rec.Address.Redacted(), Code: vfskit.ErrCodeInvalid, Err: err}
	}
	return os.Lchown(rec.Address.LocalPath(), uid, -1)
}

// SetGroup changes the owning group. group is a group name or a numeric id.
func (p *Provider) SetGroup(ctx context.Context, rec *vfskit.Record, group string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !p.supports(viewOwner) {
		return vfskit.Unsupported("set-group", rec.Address.Redacted())
	}
	gid, err := lookupID(group, func(name string) (string, error) {
		g, err := user.LookupGroup(name)
		if err != nil {
			return "", err
		}
		return g.Gid, nil
	})
	if err != nil {
		return &vfskit.PathError{Op: "set-group", Path: rec.Address.Redacted(), Code: vfskit.ErrCodeInvalid, Err: err}
	}
	return os.Lchown(rec.Address.LocalPath(), -1, gid)
}

func lookupID(name string, lookup func(string) (string, error)) (int, error) {
	if id, err := strconv.Atoi(name); err == nil {
		return id, nil
	}
	raw, err := lookup(name)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(raw)
}

// SetACL is gated by the acl view, which no platform exposes through
// this provider yet.
func (p *Provider) SetACL(_ context.Context, rec *vfskit.Record, _ []vfskit.ACLEntry) error {
	p.supports(viewACL)
	return vfskit.Unsupported("set-acl", rec.Address.Redacted())
}

// SetTime implements vfskit.CanSetTime.
func (p *Provider) SetTime(ctx context.Context, rec *vfskit.Record, kind vfskit.TimeKind, t time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	path := rec.Address.LocalPath()
	switch kind {
	case vfskit.TimeModified:
		return os.Chtimes(path, time.Time{}, t)
	case vfskit.TimeAccessed:
		return os.Chtimes(path, t, time.Time{})
	default:
		return setCreationTime(path, t)
	}
}

// Checksum implements vfskit.CanChecksum.
func (p *Provider) Checksum(ctx context.Context, rec *vfskit.Record, algorithm vfskit.ChecksumAlgorithm) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return ChecksumPath(rec.Address.LocalPath(), algorithm)
}

// ChecksumPath hashes the local file at path. Remote providers spool
// content to a temporary file and hash it here.
func ChecksumPath(path string, algorithm vfskit.ChecksumAlgorithm) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", err
	}
	if info.IsDir() {
		return "", &vfskit.PathError{Op: "checksum", Path: path, Code: vfskit.ErrCodeInvalid, Err: vfskit.ErrIsDir}
	}
	return vfskit.ChecksumFile(path, algorithm)
}

// Move renames src to dst. When rename fails across devices the tree is
// copied and the source removed.
func (p *Provider) Move(ctx context.Context, src *vfskit.Record, dst vfskit.Address) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	from, to := src.Address.LocalPath(), dst.LocalPath()
	err := os.Rename(from, to)
	if err == nil {
		return nil
	}
	var linkErr *os.LinkError
	if !errors.As(err, &linkErr) || errors.Is(err, fs.ErrNotExist) || errors.Is(err, fs.ErrPermission) {
		return err
	}

	p.log.WithError(err).WithFields(logrus.Fields{"from": from, "to": to}).Debug("local: rename failed, copying")
	if err := copyPath(from, to); err != nil {
		return err
	}
	return os.RemoveAll(from)
}

func copyPath(from, to string) error {
	info, err := os.Stat(from)
	if err != nil {
		return err
	}
	if info.IsDir() {
		return os.CopyFS(to, os.DirFS(from))
	}

	in, err := os.Open(from)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.OpenFile(to, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, info.Mode().Perm())
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// Access implements vfskit.CanAccess for the calling process.
func (p *Provider) Access(ctx context.Context, rec *vfskit.Record, mode vfskit.AccessMode) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	return access(rec.Address.LocalPath(), mode)
}
