package archive

import (
	"context"
	"io"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/gobeaver/vfskit"
	arc "github.com/gobeaver/vfskit/archive"
)

// EntryProvider serves paths nested inside a container file. Every call
// scans the container from the start; entries are read-only.
type EntryProvider struct{}

var (
	_ vfskit.Provider    = (*EntryProvider)(nil)
	_ vfskit.CanChecksum = (*EntryProvider)(nil)
	_ vfskit.CanWatch    = (*EntryProvider)(nil)
)

func newEntryProvider(context.Context, vfskit.ProviderParams) (vfskit.Provider, error) {
	return &EntryProvider{}, nil
}

// indexEntry is what a scan knows about one path inside the container.
type indexEntry struct {
	dir      bool
	size     int64
	modified time.Time
}

// scan builds the index of the container. Directories that only appear as
// a prefix of other entries are added as implicit directories.
func scan(container vfskit.Address) (map[string]*indexEntry, error) {
	r, err := arc.Open(container.LocalPath())
	if err != nil {
		return nil, err
	}
	defer r.Close()

	index := make(map[string]*indexEntry)
	for {
		e, err := r.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		name := normalizePath(e.FullPath())
		if name == "" {
			continue
		}
		index[name] = &indexEntry{dir: e.Dir, size: e.Size, modified: e.Modified}
		ensureParentDirs(index, name)
	}
	return index, nil
}

func ensureParentDirs(index map[string]*indexEntry, name string) {
	dir := path.Dir(name)
	for dir != "" && dir != "." && dir != "/" {
		if _, exists := index[dir]; !exists {
			index[dir] = &indexEntry{dir: true}
		}
		dir = path.Dir(dir)
	}
}

func normalizePath(p string) string {
	p = strings.Trim(p, "/")
	if p == "" || p == "." {
		return ""
	}
	return path.Clean(p)
}

func (p *EntryProvider) locate(rec *vfskit.Record) (vfskit.Address, string, error) {
	container, inner, ok := splitEntry(rec.Address)
	if !ok {
		return vfskit.Address{}, "", vfskit.NewPathError("resolve", rec.Address.Redacted(), vfskit.ErrCodeNotFound, "container file does not exist")
	}
	return container, normalizePath(inner), nil
}

// Materialize looks the entry up by linear scan. The address is rewritten
// so that its trailing slash matches the directory flag of the entry.
func (p *EntryProvider) Materialize(ctx context.Context, rec *vfskit.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	container, inner, err := p.locate(rec)
	if err != nil {
		rec.Exists = false
		return nil
	}
	index, err := scan(container)
	if err != nil {
		return err
	}
	e, ok := index[inner]
	if !ok {
		rec.Exists = false
		return nil
	}
	rec.Exists = true
	rec.Dir = e.dir
	rec.Size = e.size
	if e.dir {
		rec.Size = 0
	}
	rec.Modified = e.modified
	rec.Address = rec.Address.WithDir(e.dir)
	return nil
}

func (p *EntryProvider) Create(_ context.Context, rec *vfskit.Record, _ bool) error {
	return vfskit.Unsupported("create", rec.Address.Redacted())
}

func (p *EntryProvider) Delete(_ context.Context, rec *vfskit.Record) error {
	return vfskit.Unsupported("delete", rec.Address.Redacted())
}

func (p *EntryProvider) Write(_ context.Context, rec *vfskit.Record) (io.WriteCloser, error) {
	return nil, vfskit.Unsupported("write", rec.Address.Redacted())
}

// Read streams the entry. The container stays open until the returned
// reader is closed.
func (p *EntryProvider) Read(ctx context.Context, rec *vfskit.Record) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	container, inner, err := p.locate(rec)
	if err != nil {
		return nil, err
	}
	r, err := arc.Open(container.LocalPath())
	if err != nil {
		return nil, err
	}
	for {
		e, err := r.Next()
		if err == io.EOF {
			r.Close()
			return nil, vfskit.NewPathError("read", rec.Address.Redacted(), vfskit.ErrCodeNotFound, "entry not found")
		}
		if err != nil {
			r.Close()
			return nil, err
		}
		if !e.Dir && normalizePath(e.FullPath()) == inner {
			return r, nil
		}
	}
}

// List returns the direct children of a directory entry, implicit
// directories included.
func (p *EntryProvider) List(ctx context.Context, rec *vfskit.Record) ([]vfskit.DirEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	container, inner, err := p.locate(rec)
	if err != nil {
		return nil, err
	}
	index, err := scan(container)
	if err != nil {
		return nil, err
	}

	var out []vfskit.DirEntry
	for name, e := range index {
		if path.Dir(name) != inner {
			continue
		}
		de := vfskit.DirEntry{Name: path.Base(name), Dir: e.dir, Size: e.size, Modified: e.modified}
		if e.dir {
			de.Size = 0
		}
		out = append(out, de)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (p *EntryProvider) Close() error {
	return nil
}

// Checksum hashes the entry content while streaming it.
func (p *EntryProvider) Checksum(ctx context.Context, rec *vfskit.Record, algorithm vfskit.ChecksumAlgorithm) (string, error) {
	r, err := p.Read(ctx, rec)
	if err != nil {
		return "", err
	}
	defer r.Close()
	return vfskit.CalculateChecksum(r, algorithm)
}

// Watch returns a token that never fires: entries change only when the
// whole container is replaced.
func (p *EntryProvider) Watch(context.Context, *vfskit.Record) (vfskit.ChangeToken, error) {
	return vfskit.NeverChangeToken{}, nil
}
