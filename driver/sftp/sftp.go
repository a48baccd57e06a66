// Package sftp provides the sftp:// provider on top of github.com/pkg/sftp.
package sftp

import (
	"context"
	"errors"
	"io"
	"os"
	"path"
	"strconv"
	"time"

	"github.com/pkg/sftp"
	"github.com/sirupsen/logrus"

	"github.com/gobeaver/vfskit"
	"github.com/gobeaver/vfskit/driver/local"
)

// pollInterval is how often Watch re-stats the watched file.
var pollInterval = 30 * time.Second

// Provider serves files of one SFTP site through the site's Client.
// Creation time and ACLs are not part of the protocol; owner and group are
// numeric ids.
type Provider struct {
	client *Client
	cfg    *vfskit.Config
	log    logrus.FieldLogger
}

var (
	_ vfskit.Provider         = (*Provider)(nil)
	_ vfskit.CanSetAttributes = (*Provider)(nil)
	_ vfskit.CanSetOwnership  = (*Provider)(nil)
	_ vfskit.CanSetTime       = (*Provider)(nil)
	_ vfskit.CanChecksum      = (*Provider)(nil)
	_ vfskit.CanMove          = (*Provider)(nil)
	_ vfskit.CanWatch         = (*Provider)(nil)
)

func newProvider(_ context.Context, p vfskit.ProviderParams) (vfskit.Provider, error) {
	client, ok := p.Client.(*Client)
	if !ok {
		return nil, vfskit.NewPathError("connect", p.Site.String(), vfskit.ErrCodeConfiguration, "sftp provider needs an sftp client")
	}
	return &Provider{client: client, cfg: p.Config, log: p.Logger}, nil
}

func (p *Provider) Materialize(ctx context.Context, rec *vfskit.Record) error {
	name := rec.Path()
	return p.client.Do(ctx, "materialize", rec.Address.Redacted(), func(c *sftp.Client) error {
		info, err := c.Lstat(name)
		if errors.Is(err, os.ErrNotExist) {
			rec.Exists = false
			return nil
		}
		if err != nil {
			return translate("materialize", rec.Address.Redacted(), err)
		}
		if info.Mode()&os.ModeSymlink != 0 {
			rec.Symlink = true
			if target, err := c.ReadLink(name); err == nil {
				rec.LinkTarget = target
			}
			if followed, err := c.Stat(name); err == nil {
				info = followed
			}
		}
		fill(rec, info)
		return nil
	})
}

// fill copies stat data into rec.
func fill(rec *vfskit.Record, info os.FileInfo) {
	rec.Exists = true
	rec.Dir = info.IsDir()
	rec.Size = info.Size()
	if rec.Dir {
		rec.Size = 0
	}
	rec.Modified = info.ModTime()
	rec.Attributes = vfskit.Attributes{
		Kind: vfskit.AttributesPOSIX,
		Mode: info.Mode() & (os.ModePerm | os.ModeSetuid | os.ModeSetgid | os.ModeSticky),
	}
	if st, ok := info.Sys().(*sftp.FileStat); ok {
		rec.Accessed = time.Unix(int64(st.Atime), 0)
		rec.Owner = strconv.FormatUint(uint64(st.UID), 10)
		rec.Group = strconv.FormatUint(uint64(st.GID), 10)
	}
}

func (p *Provider) Create(ctx context.Context, rec *vfskit.Record, dir bool) error {
	name := rec.Path()
	return p.client.Do(ctx, "create", rec.Address.Redacted(), func(c *sftp.Client) error {
		if dir {
			return translate("create", rec.Address.Redacted(), c.Mkdir(name))
		}
		f, err := c.OpenFile(name, os.O_WRONLY|os.O_CREATE|os.O_EXCL)
		if err != nil {
			return translate("create", rec.Address.Redacted(), err)
		}
		return f.Close()
	})
}

func (p *Provider) Delete(ctx context.Context, rec *vfskit.Record) error {
	name := rec.Path()
	return p.client.Do(ctx, "delete", rec.Address.Redacted(), func(c *sftp.Client) error {
		if rec.Dir {
			return translate("delete", rec.Address.Redacted(), c.RemoveDirectory(name))
		}
		return translate("delete", rec.Address.Redacted(), c.Remove(name))
	})
}

func (p *Provider) Read(ctx context.Context, rec *vfskit.Record) (io.ReadCloser, error) {
	name := rec.Path()
	var f *sftp.File
	err := p.client.Do(ctx, "read", rec.Address.Redacted(), func(c *sftp.Client) error {
		var err error
		f, err = c.Open(name)
		return translate("read", rec.Address.Redacted(), err)
	})
	if err != nil {
		return nil, err
	}
	return f, nil
}

// Write truncates the remote file and streams into it directly.
func (p *Provider) Write(ctx context.Context, rec *vfskit.Record) (io.WriteCloser, error) {
	name := rec.Path()
	var f *sftp.File
	err := p.client.Do(ctx, "write", rec.Address.Redacted(), func(c *sftp.Client) error {
		var err error
		f, err = c.OpenFile(name, os.O_WRONLY|os.O_CREATE|os.O_TRUNC)
		return translate("write", rec.Address.Redacted(), err)
	})
	if err != nil {
		return nil, err
	}
	return f, nil
}

func (p *Provider) List(ctx context.Context, rec *vfskit.Record) ([]vfskit.DirEntry, error) {
	dir := rec.Path()
	var out []vfskit.DirEntry
	err := p.client.Do(ctx, "list", rec.Address.Redacted(), func(c *sftp.Client) error {
		infos, err := c.ReadDir(dir)
		if err != nil {
			return translate("list", rec.Address.Redacted(), err)
		}
		out = out[:0]
		for _, info := range infos {
			if info.Mode()&os.ModeSymlink != 0 {
				if followed, err := c.Stat(path.Join(dir, info.Name())); err == nil {
					info = followed
				}
			}
			e := vfskit.DirEntry{Name: info.Name(), Dir: info.IsDir(), Size: info.Size(), Modified: info.ModTime()}
			if e.Dir {
				e.Size = 0
			}
			out = append(out, e)
		}
		return nil
	})
	return out, err
}

// Close is a no-op; the Context closes the shared Client.
func (p *Provider) Close() error {
	return nil
}

// SetAttributes changes POSIX permission bits. DOS flags do not exist on
// SFTP servers.
func (p *Provider) SetAttributes(ctx context.Context, rec *vfskit.Record, attrs vfskit.Attributes) error {
	if attrs.Kind != vfskit.AttributesPOSIX {
		return vfskit.Unsupported("set-attributes", rec.Address.Redacted())
	}
	name := rec.Path()
	return p.client.Do(ctx, "set-attributes", rec.Address.Redacted(), func(c *sftp.Client) error {
		return translate("set-attributes", rec.Address.Redacted(), c.Chmod(name, attrs.Mode))
	})
}

// SetOwner changes the numeric owner id, keeping the group.
func (p *Provider) SetOwner(ctx context.Context, rec *vfskit.Record, owner string) error {
	uid, err := numericID("set-owner", rec, owner)
	if err != nil {
		return err
	}
	gid, _ := strconv.Atoi(rec.Group)
	return p.chown(ctx, "set-owner", rec, uid, gid)
}

// SetGroup changes the numeric group id, keeping the owner.
func (p *Provider) SetGroup(ctx context.Context, rec *vfskit.Record, group string) error {
	gid, err := numericID("set-group", rec, group)
	if err != nil {
		return err
	}
	uid, _ := strconv.Atoi(rec.Owner)
	return p.chown(ctx, "set-group", rec, uid, gid)
}

func (p *Provider) chown(ctx context.Context, op string, rec *vfskit.Record, uid, gid int) error {
	name := rec.Path()
	return p.client.Do(ctx, op, rec.Address.Redacted(), func(c *sftp.Client) error {
		return translate(op, rec.Address.Redacted(), c.Chown(name, uid, gid))
	})
}

func numericID(op string, rec *vfskit.Record, id string) (int, error) {
	n, err := strconv.Atoi(id)
	if err != nil || n < 0 {
		return 0, vfskit.NewPathError(op, rec.Address.Redacted(), vfskit.ErrCodeInvalid, "sftp needs a numeric id, got "+strconv.Quote(id))
	}
	return n, nil
}

// SetTime changes the modified or access time. The other one is kept.
func (p *Provider) SetTime(ctx context.Context, rec *vfskit.Record, kind vfskit.TimeKind, t time.Time) error {
	atime, mtime := rec.Accessed, rec.Modified
	switch kind {
	case vfskit.TimeModified:
		mtime = t
	case vfskit.TimeAccessed:
		atime = t
	default:
		return vfskit.Unsupported("set-"+kind.String(), rec.Address.Redacted())
	}
	if atime.IsZero() {
		atime = mtime
	}
	if mtime.IsZero() {
		mtime = atime
	}
	name := rec.Path()
	return p.client.Do(ctx, "set-"+kind.String(), rec.Address.Redacted(), func(c *sftp.Client) error {
		return translate("set-"+kind.String(), rec.Address.Redacted(), c.Chtimes(name, atime, mtime))
	})
}

// Checksum downloads the file to a temporary local copy and hashes it there.
func (p *Provider) Checksum(ctx context.Context, rec *vfskit.Record, algorithm vfskit.ChecksumAlgorithm) (string, error) {
	r, err := p.Read(ctx, rec)
	if err != nil {
		return "", err
	}
	defer r.Close()
	return vfskit.ChecksumViaTempFile(r, p.cfg.TempDir, algorithm, local.ChecksumPath)
}

// Move renames on the server. The POSIX rename extension is used when the
// server offers it so existing targets are replaced.
func (p *Provider) Move(ctx context.Context, src *vfskit.Record, dst vfskit.Address) error {
	from, to := src.Path(), dst.CleanPath()
	return p.client.Do(ctx, "move", src.Address.Redacted(), func(c *sftp.Client) error {
		if _, ok := c.HasExtension("posix-rename@openssh.com"); ok {
			return translate("move", src.Address.Redacted(), c.PosixRename(from, to))
		}
		return translate("move", src.Address.Redacted(), c.Rename(from, to))
	})
}

// Watch polls the file with stat; SFTP has no change notifications.
func (p *Provider) Watch(ctx context.Context, rec *vfskit.Record) (vfskit.ChangeToken, error) {
	first := rec.Fresh()
	if err := p.Materialize(ctx, first); err != nil {
		return nil, err
	}
	return vfskit.NewPollingChangeToken(ctx, pollInterval, func() bool {
		cur := rec.Fresh()
		if err := p.Materialize(ctx, cur); err != nil {
			return false
		}
		return cur.Exists != first.Exists || cur.Size != first.Size || !cur.Modified.Equal(first.Modified)
	}), nil
}

// translate maps SFTP status codes to vfskit error codes.
func translate(op, path string, err error) error {
	if err == nil {
		return nil
	}
	var se *sftp.StatusError
	if errors.As(err, &se) {
		switch se.FxCode() {
		case sftp.ErrSSHFxNoSuchFile:
			return &vfskit.PathError{Op: op, Path: path, Code: vfskit.ErrCodeNotFound, Err: err}
		case sftp.ErrSSHFxPermissionDenied:
			return &vfskit.PathError{Op: op, Path: path, Code: vfskit.ErrCodePermission, Err: err}
		case sftp.ErrSSHFxOpUnsupported:
			return &vfskit.PathError{Op: op, Path: path, Code: vfskit.ErrCodeNotSupported, Err: err}
		}
	}
	if connectionLost(err) {
		return err
	}
	return vfskit.WrapPathErr(op, path, err)
}
