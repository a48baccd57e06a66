// Package ftp provides the ftp:// provider on top of github.com/jlaffaye/ftp.
//
// FTP has no portable way to set timestamps, attributes, owners or ACLs;
// those capabilities are absent and report ErrNotSupported.
package ftp

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/textproto"
	"path"
	"sync"

	"github.com/jlaffaye/ftp"
	"github.com/sirupsen/logrus"

	"github.com/gobeaver/vfskit"
	"github.com/gobeaver/vfskit/driver/local"
)

// Provider serves files of one FTP site.
type Provider struct {
	client *Client
	cfg    *vfskit.Config
	log    logrus.FieldLogger
}

var (
	_ vfskit.Provider    = (*Provider)(nil)
	_ vfskit.CanChecksum = (*Provider)(nil)
	_ vfskit.CanMove     = (*Provider)(nil)
)

func newProvider(_ context.Context, p vfskit.ProviderParams) (vfskit.Provider, error) {
	client, ok := p.Client.(*Client)
	if !ok {
		return nil, vfskit.NewPathError("connect", p.Site.String(), vfskit.ErrCodeConfiguration, "ftp provider needs an ftp client")
	}
	return &Provider{client: client, cfg: p.Config, log: p.Logger}, nil
}

// Materialize finds the file in the listing of its parent directory, the
// one lookup every server answers the same way.
func (p *Provider) Materialize(ctx context.Context, rec *vfskit.Record) error {
	if rec.Address.IsRoot() {
		rec.Exists = true
		rec.Dir = true
		rec.Size = 0
		return nil
	}
	name := rec.Path()
	dir, base := path.Dir(name), path.Base(name)
	return p.client.Do(ctx, "materialize", rec.Address.Redacted(), func(c *ftp.ServerConn) error {
		entries, err := c.List(dir)
		if err != nil {
			if isNotFound(err) {
				rec.Exists = false
				return nil
			}
			return translate("materialize", rec.Address.Redacted(), err)
		}
		for _, e := range entries {
			if e.Name != base {
				continue
			}
			rec.Exists = true
			rec.Dir = e.Type == ftp.EntryTypeFolder
			rec.Symlink = e.Type == ftp.EntryTypeLink
			rec.LinkTarget = e.Target
			rec.Size = int64(e.Size)
			if rec.Dir {
				rec.Size = 0
			}
			rec.Modified = e.Time
			return nil
		}
		rec.Exists = false
		return nil
	})
}

func (p *Provider) Create(ctx context.Context, rec *vfskit.Record, dir bool) error {
	name := rec.Path()
	return p.client.Do(ctx, "create", rec.Address.Redacted(), func(c *ftp.ServerConn) error {
		if dir {
			return translate("create", rec.Address.Redacted(), c.MakeDir(name))
		}
		return translate("create", rec.Address.Redacted(), c.Stor(name, bytes.NewReader(nil)))
	})
}

func (p *Provider) Delete(ctx context.Context, rec *vfskit.Record) error {
	name := rec.Path()
	return p.client.Do(ctx, "delete", rec.Address.Redacted(), func(c *ftp.ServerConn) error {
		if rec.Dir {
			return translate("delete", rec.Address.Redacted(), c.RemoveDir(name))
		}
		return translate("delete", rec.Address.Redacted(), c.Delete(name))
	})
}

// Read opens a dedicated connection for the transfer. Closing the reader
// finishes the transfer and quits that connection.
func (p *Provider) Read(ctx context.Context, rec *vfskit.Record) (io.ReadCloser, error) {
	conn, err := p.client.Open(ctx)
	if err != nil {
		return nil, err
	}
	resp, err := conn.Retr(rec.Path())
	if err != nil {
		conn.Quit()
		return nil, translate("read", rec.Address.Redacted(), err)
	}
	return &retrReader{Response: resp, conn: conn}, nil
}

type retrReader struct {
	*ftp.Response
	conn *ftp.ServerConn
}

func (r *retrReader) Close() error {
	err := r.Response.Close()
	r.conn.Quit()
	return err
}

// Write opens a dedicated connection and streams into STOR through a pipe.
// The upload is complete when Close returns.
func (p *Provider) Write(ctx context.Context, rec *vfskit.Record) (io.WriteCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	conn, err := p.client.Open(ctx)
	if err != nil {
		return nil, err
	}
	pr, pw := io.Pipe()
	w := &storWriter{pw: pw, conn: conn, done: make(chan error, 1), op: "write", path: rec.Address.Redacted()}
	go func() {
		err := conn.Stor(rec.Path(), pr)
		pr.CloseWithError(err)
		w.done <- err
	}()
	return w, nil
}

type storWriter struct {
	pw   *io.PipeWriter
	conn *ftp.ServerConn
	done chan error
	op   string
	path string
	once sync.Once
	err  error
}

func (w *storWriter) Write(b []byte) (int, error) {
	return w.pw.Write(b)
}

func (w *storWriter) Close() error {
	w.once.Do(func() {
		w.pw.Close()
		w.err = translate(w.op, w.path, <-w.done)
		w.conn.Quit()
	})
	return w.err
}

func (p *Provider) List(ctx context.Context, rec *vfskit.Record) ([]vfskit.DirEntry, error) {
	var out []vfskit.DirEntry
	err := p.client.Do(ctx, "list", rec.Address.Redacted(), func(c *ftp.ServerConn) error {
		entries, err := c.List(rec.Path())
		if err != nil {
			return translate("list", rec.Address.Redacted(), err)
		}
		out = out[:0]
		for _, e := range entries {
			if e.Name == "." || e.Name == ".." {
				continue
			}
			de := vfskit.DirEntry{Name: e.Name, Dir: e.Type == ftp.EntryTypeFolder, Size: int64(e.Size), Modified: e.Time}
			if de.Dir {
				de.Size = 0
			}
			out = append(out, de)
		}
		return nil
	})
	return out, err
}

// Close is a no-op; the Context closes the shared Client.
func (p *Provider) Close() error {
	return nil
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

// Move renames on the server with RNFR/RNTO.
func (p *Provider) Move(ctx context.Context, src *vfskit.Record, dst vfskit.Address) error {
	from, to := src.Path(), dst.CleanPath()
	return p.client.Do(ctx, "move", src.Address.Redacted(), func(c *ftp.ServerConn) error {
		return translate("move", src.Address.Redacted(), c.Rename(from, to))
	})
}

func isNotFound(err error) bool {
	var tpErr *textproto.Error
	if errors.As(err, &tpErr) {
		return tpErr.Code == ftp.StatusFileUnavailable || tpErr.Code == ftp.StatusFileActionIgnored
	}
	return false
}

// translate maps FTP reply codes to vfskit error codes.
func translate(op, path string, err error) error {
	if err == nil {
		return nil
	}
	if connectionLost(err) {
		return err
	}
	var tpErr *textproto.Error
	if errors.As(err, &tpErr) {
		switch tpErr.Code {
		case ftp.StatusFileUnavailable:
			return &vfskit.PathError{Op: op, Path: path, Code: vfskit.ErrCodeNotFound, Err: err}
		case ftp.StatusNotLoggedIn, ftp.StatusStorNeedAccount:
			return &vfskit.PathError{Op: op, Path: path, Code: vfskit.ErrCodePermission, Err: err}
		case ftp.StatusNotImplemented, ftp.StatusCommandNotImplemented, ftp.StatusNotImplementedParameter:
			return &vfskit.PathError{Op: op, Path: path, Code: vfskit.ErrCodeNotSupported, Err: err}
		case ftp.StatusBadFileName:
			return &vfskit.PathError{Op: op, Path: path, Code: vfskit.ErrCodeInvalid, Err: err}
		}
	}
	return vfskit.WrapPathErr(op, path, err)
}
