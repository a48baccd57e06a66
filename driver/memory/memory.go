// Package memory provides the mem:// provider: an in-memory tree per host.
// Trees live for the lifetime of the process so content survives the
// release of every handle; Drop discards one.
package memory

import (
	"bytes"
	"context"
	"io"
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gobwas/glob"

	"github.com/gobeaver/vfskit"
)

// memoryFile represents a file stored in memory
type memoryFile struct {
	content []byte
	modTime time.Time
	attrs   vfskit.Attributes
}

// memoryDir represents a directory in memory
type memoryDir struct {
	modTime time.Time
	attrs   vfskit.Attributes
}

// watchEntry represents a single watch subscription
type watchEntry struct {
	path  string
	below glob.Glob
	token *vfskit.CallbackChangeToken
}

func (w *watchEntry) matches(p string) bool {
	return p == w.path || w.below.Match(p)
}

// store is the tree of one host.
type store struct {
	mu    sync.RWMutex
	files map[string]*memoryFile
	dirs  map[string]*memoryDir

	watchMu sync.Mutex
	watches []*watchEntry
}

func newStore() *store {
	return &store{
		files: make(map[string]*memoryFile),
		dirs:  map[string]*memoryDir{"/": {modTime: time.Now()}},
	}
}

var stores = struct {
	sync.Mutex
	m map[string]*store
}{m: make(map[string]*store)}

func storeFor(host string) *store {
	stores.Lock()
	defer stores.Unlock()
	s, ok := stores.m[host]
	if !ok {
		s = newStore()
		stores.m[host] = s
	}
	return s
}

// Drop discards the tree of host. Handles still referring to it see an
// empty tree afterwards.
func Drop(host string) {
	stores.Lock()
	defer stores.Unlock()
	delete(stores.m, host)
}

// Provider implements vfskit.Provider over the tree of one host.
type Provider struct {
	host string
}

var (
	_ vfskit.Provider         = (*Provider)(nil)
	_ vfskit.CanSetAttributes = (*Provider)(nil)
	_ vfskit.CanSetTime       = (*Provider)(nil)
	_ vfskit.CanChecksum      = (*Provider)(nil)
	_ vfskit.CanMove          = (*Provider)(nil)
	_ vfskit.CanWatch         = (*Provider)(nil)
)

func newProvider(_ context.Context, p vfskit.ProviderParams) (vfskit.Provider, error) {
	return &Provider{host: p.Site.Host}, nil
}

func (p *Provider) store() *store {
	return storeFor(p.host)
}

func key(rec *vfskit.Record) string {
	return rec.Address.CleanPath()
}

// Materialize implements vfskit.Provider.
func (p *Provider) Materialize(ctx context.Context, rec *vfskit.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s := p.store()
	s.mu.RLock()
	defer s.mu.RUnlock()

	k := key(rec)
	if f, ok := s.files[k]; ok {
		rec.Exists = true
		rec.Size = int64(len(f.content))
		rec.Modified = f.modTime
		rec.Attributes = f.attrs
		return nil
	}
	if d, ok := s.dirs[k]; ok {
		rec.Exists = true
		rec.Dir = true
		rec.Size = 0
		rec.Modified = d.modTime
		rec.Attributes = d.attrs
		return nil
	}
	rec.Exists = false
	return nil
}

// Create implements vfskit.Provider.
func (p *Provider) Create(ctx context.Context, rec *vfskit.Record, dir bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s := p.store()
	k := key(rec)

	s.mu.Lock()
	if err := s.checkParent(k); err != nil {
		s.mu.Unlock()
		return err
	}
	if s.exists(k) {
		s.mu.Unlock()
		return vfskit.NewPathError("create", k, vfskit.ErrCodeExists, "file already exists")
	}
	now := time.Now()
	if dir {
		s.dirs[k] = &memoryDir{modTime: now}
	} else {
		s.files[k] = &memoryFile{modTime: now}
	}
	s.mu.Unlock()

	s.notifyWatchers(k)
	return nil
}

// Delete implements vfskit.Provider. Directories must be empty.
func (p *Provider) Delete(ctx context.Context, rec *vfskit.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s := p.store()
	k := key(rec)

	s.mu.Lock()
	switch {
	case s.files[k] != nil:
		delete(s.files, k)
	case s.dirs[k] != nil:
		if k == "/" {
			s.mu.Unlock()
			return vfskit.NewPathError("delete", k, vfskit.ErrCodeInvalid, "cannot delete the root")
		}
		if len(s.children(k)) > 0 {
			s.mu.Unlock()
			return vfskit.NewPathError("delete", k, vfskit.ErrCodeInvalid, "directory not empty")
		}
		delete(s.dirs, k)
	default:
		s.mu.Unlock()
		return vfskit.NewPathError("delete", k, vfskit.ErrCodeNotFound, "file does not exist")
	}
	s.mu.Unlock()

	s.notifyWatchers(k)
	return nil
}

// Read implements vfskit.Provider. The stream reads a snapshot of the
// content taken when Read is called.
func (p *Provider) Read(ctx context.Context, rec *vfskit.Record) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s := p.store()
	s.mu.RLock()
	defer s.mu.RUnlock()

	f, ok := s.files[key(rec)]
	if !ok {
		return nil, vfskit.NewPathError("read", key(rec), vfskit.ErrCodeNotFound, "file does not exist")
	}
	return io.NopCloser(bytes.NewReader(f.content)), nil
}

// Write implements vfskit.Provider. Content becomes visible on Close.
func (p *Provider) Write(ctx context.Context, rec *vfskit.Record) (io.WriteCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &memoryWriter{s: p.store(), path: key(rec)}, nil
}

type memoryWriter struct {
	s      *store
	path   string
	buf    bytes.Buffer
	closed bool
}

func (w *memoryWriter) Write(b []byte) (int, error) {
	if w.closed {
		return 0, vfskit.NewPathError("write", w.path, vfskit.ErrCodeInvalid, "writer closed")
	}
	return w.buf.Write(b)
}

func (w *memoryWriter) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true

	w.s.mu.Lock()
	if err := w.s.checkParent(w.path); err != nil {
		w.s.mu.Unlock()
		return err
	}
	if w.s.dirs[w.path] != nil {
		w.s.mu.Unlock()
		return &vfskit.PathError{Op: "write", Path: w.path, Code: vfskit.ErrCodeInvalid, Err: vfskit.ErrIsDir}
	}
	f := w.s.files[w.path]
	if f == nil {
		f = &memoryFile{}
		w.s.files[w.path] = f
	}
	f.content = bytes.Clone(w.buf.Bytes())
	f.modTime = time.Now()
	w.s.mu.Unlock()

	w.s.notifyWatchers(w.path)
	return nil
}

// List implements vfskit.Provider.
func (p *Provider) List(ctx context.Context, rec *vfskit.Record) ([]vfskit.DirEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s := p.store()
	s.mu.RLock()
	defer s.mu.RUnlock()

	k := key(rec)
	if s.dirs[k] == nil {
		return nil, &vfskit.PathError{Op: "list", Path: k, Code: vfskit.ErrCodeInvalid, Err: vfskit.ErrNotDir}
	}
	var out []vfskit.DirEntry
	for _, child := range s.children(k) {
		if f, ok := s.files[child]; ok {
			out = append(out, vfskit.DirEntry{Name: path.Base(child), Size: int64(len(f.content)), Modified: f.modTime})
			continue
		}
		d := s.dirs[child]
		out = append(out, vfskit.DirEntry{Name: path.Base(child), Dir: true, Modified: d.modTime})
	}
	return out, nil
}

// Close implements vfskit.Provider. The tree outlives the provider.
func (p *Provider) Close() error {
	return nil
}

// SetAttributes stores POSIX or DOS attributes as given.
func (p *Provider) SetAttributes(ctx context.Context, rec *vfskit.Record, attrs vfskit.Attributes) error {
	return p.update(ctx, rec, "set-attributes", func(f *memoryFile, d *memoryDir) {
		if f != nil {
			f.attrs = attrs
		} else {
			d.attrs = attrs
		}
	})
}

// SetTime supports the modified time only.
func (p *Provider) SetTime(ctx context.Context, rec *vfskit.Record, kind vfskit.TimeKind, t time.Time) error {
	if kind != vfskit.TimeModified {
		return vfskit.Unsupported("set-"+kind.String(), rec.Address.Redacted())
	}
	return p.update(ctx, rec, "set-"+kind.String(), func(f *memoryFile, d *memoryDir) {
		if f != nil {
			f.modTime = t
		} else {
			d.modTime = t
		}
	})
}

func (p *Provider) update(ctx context.Context, rec *vfskit.Record, op string, fn func(*memoryFile, *memoryDir)) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s := p.store()
	s.mu.Lock()
	defer s.mu.Unlock()

	k := key(rec)
	f, d := s.files[k], s.dirs[k]
	if f == nil && d == nil {
		return vfskit.NewPathError(op, k, vfskit.ErrCodeNotFound, "file does not exist")
	}
	fn(f, d)
	return nil
}

// Checksum implements vfskit.CanChecksum.
func (p *Provider) Checksum(ctx context.Context, rec *vfskit.Record, algorithm vfskit.ChecksumAlgorithm) (string, error) {
	r, err := p.Read(ctx, rec)
	if err != nil {
		return "", err
	}
	defer r.Close()
	return vfskit.CalculateChecksum(r, algorithm)
}

// Move renames a file or a whole directory subtree.
func (p *Provider) Move(ctx context.Context, src *vfskit.Record, dst vfskit.Address) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s := p.store()
	from, to := key(src), dst.CleanPath()

	s.mu.Lock()
	if err := s.checkParent(to); err != nil {
		s.mu.Unlock()
		return err
	}
	if s.exists(to) {
		s.mu.Unlock()
		return vfskit.NewPathError("move", to, vfskit.ErrCodeExists, "target already exists")
	}
	switch {
	case s.files[from] != nil:
		s.files[to] = s.files[from]
		delete(s.files, from)
	case s.dirs[from] != nil:
		if strings.HasPrefix(to, from+"/") {
			s.mu.Unlock()
			return vfskit.NewPathError("move", to, vfskit.ErrCodeInvalid, "cannot move a directory into itself")
		}
		prefix := from + "/"
		for k, f := range s.files {
			if strings.HasPrefix(k, prefix) {
				s.files[to+"/"+k[len(prefix):]] = f
				delete(s.files, k)
			}
		}
		for k, d := range s.dirs {
			if strings.HasPrefix(k, prefix) {
				s.dirs[to+"/"+k[len(prefix):]] = d
				delete(s.dirs, k)
			}
		}
		s.dirs[to] = s.dirs[from]
		delete(s.dirs, from)
	default:
		s.mu.Unlock()
		return vfskit.NewPathError("move", from, vfskit.ErrCodeNotFound, "file does not exist")
	}
	s.mu.Unlock()

	s.notifyWatchers(from)
	s.notifyWatchers(to)
	return nil
}

// Watch returns a token fired by the next change of the path or of
// anything below it.
func (p *Provider) Watch(ctx context.Context, rec *vfskit.Record) (vfskit.ChangeToken, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	k := key(rec)
	pattern := glob.QuoteMeta(strings.TrimSuffix(k, "/")) + "/**"
	below, err := glob.Compile(pattern, '/')
	if err != nil {
		return nil, err
	}

	s := p.store()
	entry := &watchEntry{path: k, below: below}
	entry.token = vfskit.NewCallbackChangeToken(func() { s.removeWatch(entry) })

	s.watchMu.Lock()
	s.watches = append(s.watches, entry)
	s.watchMu.Unlock()

	// Clean up when context is cancelled
	go func() {
		<-ctx.Done()
		entry.token.Stop()
	}()

	return entry.token, nil
}

// notifyWatchers signals all watchers whose path covers p. Must be called
// without s.mu held.
func (s *store) notifyWatchers(p string) {
	s.watchMu.Lock()
	var fire []*watchEntry
	for _, w := range s.watches {
		if w.matches(p) {
			fire = append(fire, w)
		}
	}
	s.watchMu.Unlock()

	for _, w := range fire {
		w.token.SignalChange()
	}
}

// removeWatch removes a watch entry
func (s *store) removeWatch(entry *watchEntry) {
	s.watchMu.Lock()
	defer s.watchMu.Unlock()

	for i, w := range s.watches {
		if w == entry {
			s.watches = append(s.watches[:i], s.watches[i+1:]...)
			return
		}
	}
}

func (s *store) exists(p string) bool {
	return s.files[p] != nil || s.dirs[p] != nil
}

func (s *store) checkParent(p string) error {
	if p == "/" {
		return nil
	}
	parent := path.Dir(p)
	if s.dirs[parent] != nil {
		return nil
	}
	if s.files[parent] != nil {
		return &vfskit.PathError{Op: "create", Path: p, Code: vfskit.ErrCodeInvalid, Err: vfskit.ErrNotDir}
	}
	return vfskit.NewPathError("create", p, vfskit.ErrCodeNotFound, "parent directory does not exist")
}

// children returns the sorted direct children of dir.
func (s *store) children(dir string) []string {
	var out []string
	for k := range s.files {
		if k != dir && path.Dir(k) == dir {
			out = append(out, k)
		}
	}
	for k := range s.dirs {
		if k != dir && path.Dir(k) == dir {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}
