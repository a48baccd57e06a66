// Package archive provides the file:// providers for archive containers and
// for the entries inside them. Import it to make paths such as
// /builds/app.jar/META-INF/MANIFEST.MF resolvable.
package archive

import (
	"context"
	"fmt"
	"io"

	"github.com/sirupsen/logrus"

	"github.com/gobeaver/vfskit"
	arc "github.com/gobeaver/vfskit/archive"
	"github.com/gobeaver/vfskit/driver/local"
)

// ArchiveProvider serves container files. The container itself is created,
// read, written and deleted as a plain local file; its entries are listed
// and extracted with the archive engine and never modified in place.
type ArchiveProvider struct {
	files *local.Provider
	log   logrus.FieldLogger
}

var (
	_ vfskit.Provider    = (*ArchiveProvider)(nil)
	_ vfskit.CanArchive  = (*ArchiveProvider)(nil)
	_ vfskit.CanChecksum = (*ArchiveProvider)(nil)
)

func newArchiveProvider(_ context.Context, p vfskit.ProviderParams) (vfskit.Provider, error) {
	return &ArchiveProvider{files: local.New(p.Logger, p.Context), log: p.Logger}, nil
}

func (p *ArchiveProvider) Materialize(ctx context.Context, rec *vfskit.Record) error {
	return p.files.Materialize(ctx, rec)
}

// Create creates the container as a plain local file. An empty file is
// not a valid archive until content is written to it.
func (p *ArchiveProvider) Create(ctx context.Context, rec *vfskit.Record, dir bool) error {
	return p.files.Create(ctx, rec, dir)
}

// Delete removes the container file as a whole.
func (p *ArchiveProvider) Delete(ctx context.Context, rec *vfskit.Record) error {
	return p.files.Delete(ctx, rec)
}

func (p *ArchiveProvider) Read(ctx context.Context, rec *vfskit.Record) (io.ReadCloser, error) {
	return p.files.Read(ctx, rec)
}

func (p *ArchiveProvider) Write(ctx context.Context, rec *vfskit.Record) (io.WriteCloser, error) {
	return p.files.Write(ctx, rec)
}

func (p *ArchiveProvider) List(_ context.Context, rec *vfskit.Record) ([]vfskit.DirEntry, error) {
	return nil, &vfskit.PathError{Op: "list", Path: rec.Address.Redacted(), Code: vfskit.ErrCodeInvalid, Err: vfskit.ErrNotDir}
}

func (p *ArchiveProvider) Close() error {
	return p.files.Close()
}

// Checksum hashes the container bytes.
func (p *ArchiveProvider) Checksum(ctx context.Context, rec *vfskit.Record, algorithm vfskit.ChecksumAlgorithm) (string, error) {
	return p.files.Checksum(ctx, rec, algorithm)
}

// ListArchive returns one projected entry per container entry, in
// container order.
func (p *ArchiveProvider) ListArchive(ctx context.Context, rec *vfskit.Record) ([]arc.Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r, err := arc.Open(rec.Address.LocalPath())
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return arc.List(r)
}

// Extract writes every entry below target in one forward pass. Directories
// are created eagerly together with missing ancestors, so entries may
// appear in any order. The first failing entry aborts the extraction; the
// handles produced so far are returned with the error.
func (p *ArchiveProvider) Extract(ctx context.Context, rec *vfskit.Record, target *vfskit.Handle) ([]*vfskit.Handle, error) {
	r, err := arc.Open(rec.Address.LocalPath())
	if err != nil {
		return nil, err
	}
	defer r.Close()

	c := target.Context()
	base := target.Address().AsDir()
	log := p.log.WithFields(logrus.Fields{"archive": rec.Address.Redacted(), "target": base.Redacted()})

	var out []*vfskit.Handle
	err = arc.Walk(r, func(e arc.Entry, content io.Reader) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		rel := e.FullPath()
		if e.Dir {
			rel += "/"
		}
		addr := base.Join(rel)
		if _, inside := addr.Relative(base); !inside || addr.Equal(base) {
			return &vfskit.PathError{Op: "extract", Path: e.FullPath(), Code: vfskit.ErrCodeFormat,
				Err: fmt.Errorf("%w: entry escapes the target directory", vfskit.ErrFormat)}
		}

		h, err := c.ResolveAddress(ctx, addr)
		if err != nil {
			return err
		}
		if e.Dir {
			if err := h.CreateDirectory(ctx); err != nil {
				return err
			}
		} else if err := writeEntry(ctx, h, content); err != nil {
			return err
		}
		out = append(out, h)
		log.WithField("entry", rel).Debug("archive: entry extracted")
		return nil
	})
	return out, err
}

func writeEntry(ctx context.Context, h *vfskit.Handle, content io.Reader) error {
	w, err := h.Write(ctx)
	if err != nil {
		return err
	}
	if _, err := io.Copy(w, content); err != nil {
		w.Close()
		return vfskit.WrapPathErr("extract", h.String(), err)
	}
	return w.Close()
}
