package vfskit_test

import (
	"bytes"
	"context"
	"io"
	"path"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/gobeaver/vfskit"
	"github.com/gobeaver/vfskit/driver/memory"
)

const (
	fakeProtocol     vfskit.Protocol = "fake"
	fakeTimeProtocol vfskit.Protocol = "faketime"
)

// fakeBackend is a flat store behind a provider with no optional
// capabilities. It counts backend calls and releases.
type fakeBackend struct {
	mu      sync.Mutex
	files   map[string][]byte
	dirs    map[string]bool
	aliases map[string]string

	calls          atomic.Int32
	providerCloses atomic.Int32
	clientCloses   atomic.Int32
	clientOpens    atomic.Int32
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		files:   make(map[string][]byte),
		dirs:    map[string]bool{"/": true},
		aliases: make(map[string]string),
	}
}

func (b *fakeBackend) registry() *vfskit.Registry {
	reg := vfskit.NewRegistry()
	reg.RegisterClient(fakeProtocol, func(context.Context, vfskit.ClientParams) (vfskit.Client, error) {
		b.clientOpens.Add(1)
		return &fakeClient{b: b}, nil
	})
	reg.RegisterProvider(fakeProtocol, vfskit.KindFile, func(context.Context, vfskit.ProviderParams) (vfskit.Provider, error) {
		return &fakeProvider{b: b}, nil
	})
	reg.RegisterClient(fakeTimeProtocol, func(context.Context, vfskit.ClientParams) (vfskit.Client, error) {
		return &fakeClient{b: b}, nil
	})
	reg.RegisterProvider(fakeTimeProtocol, vfskit.KindFile, func(context.Context, vfskit.ProviderParams) (vfskit.Provider, error) {
		return &fakeTimeProvider{fakeProvider: &fakeProvider{b: b}}, nil
	})
	return reg
}

type fakeClient struct{ b *fakeBackend }

func (c *fakeClient) Close() error {
	c.b.clientCloses.Add(1)
	return nil
}

type fakeProvider struct{ b *fakeBackend }

func (p *fakeProvider) Materialize(_ context.Context, rec *vfskit.Record) error {
	p.b.calls.Add(1)
	p.b.mu.Lock()
	defer p.b.mu.Unlock()
	k := rec.Address.CleanPath()
	if target, ok := p.b.aliases[k]; ok {
		rec.Address.Path = target
		k = target
	}
	if data, ok := p.b.files[k]; ok {
		rec.Exists = true
		rec.Size = int64(len(data))
		return nil
	}
	if p.b.dirs[k] {
		rec.Exists = true
		rec.Dir = true
		rec.Size = 0
	}
	return nil
}

func (p *fakeProvider) Create(_ context.Context, rec *vfskit.Record, dir bool) error {
	p.b.calls.Add(1)
	p.b.mu.Lock()
	defer p.b.mu.Unlock()
	if dir {
		p.b.dirs[rec.Address.CleanPath()] = true
	} else {
		p.b.files[rec.Address.CleanPath()] = nil
	}
	return nil
}

func (p *fakeProvider) Delete(_ context.Context, rec *vfskit.Record) error {
	p.b.calls.Add(1)
	p.b.mu.Lock()
	defer p.b.mu.Unlock()
	delete(p.b.files, rec.Address.CleanPath())
	delete(p.b.dirs, rec.Address.CleanPath())
	return nil
}

func (p *fakeProvider) Read(_ context.Context, rec *vfskit.Record) (io.ReadCloser, error) {
	p.b.calls.Add(1)
	p.b.mu.Lock()
	defer p.b.mu.Unlock()
	return io.NopCloser(bytes.NewReader(p.b.files[rec.Address.CleanPath()])), nil
}

func (p *fakeProvider) Write(_ context.Context, rec *vfskit.Record) (io.WriteCloser, error) {
	p.b.calls.Add(1)
	return &fakeWriter{b: p.b, key: rec.Address.CleanPath()}, nil
}

func (p *fakeProvider) List(_ context.Context, rec *vfskit.Record) ([]vfskit.DirEntry, error) {
	p.b.calls.Add(1)
	p.b.mu.Lock()
	defer p.b.mu.Unlock()
	dir := rec.Address.AsDir().Path
	var out []vfskit.DirEntry
	for k, data := range p.b.files {
		if parentDir(k) == dir {
			out = append(out, vfskit.DirEntry{Name: path.Base(k), Size: int64(len(data))})
		}
	}
	for k := range p.b.dirs {
		if k != "/" && parentDir(k) == dir {
			out = append(out, vfskit.DirEntry{Name: path.Base(k), Dir: true})
		}
	}
	return out, nil
}

func parentDir(k string) string {
	return strings.TrimSuffix(path.Dir(k), "/") + "/"
}

func (p *fakeProvider) Close() error {
	p.b.providerCloses.Add(1)
	return nil
}

type fileTimes struct{ accessed, modified time.Time }

// fakeTimeProvider rewrites both timestamps on every SetTime from the
// record it is given, the way utimes-style backends do.
type fakeTimeProvider struct {
	*fakeProvider

	mu    sync.Mutex
	times map[string]fileTimes
	// seen holds the record of the last SetTime call.
	seen *vfskit.Record
}

func (p *fakeTimeProvider) setTimes(k string, ft fileTimes) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.times == nil {
		p.times = make(map[string]fileTimes)
	}
	p.times[k] = ft
}

func (p *fakeTimeProvider) timesOf(k string) fileTimes {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.times[k]
}

func (p *fakeTimeProvider) Materialize(ctx context.Context, rec *vfskit.Record) error {
	if err := p.fakeProvider.Materialize(ctx, rec); err != nil {
		return err
	}
	ft := p.timesOf(rec.Address.CleanPath())
	rec.Accessed, rec.Modified = ft.accessed, ft.modified
	return nil
}

func (p *fakeTimeProvider) SetTime(_ context.Context, rec *vfskit.Record, kind vfskit.TimeKind, t time.Time) error {
	p.b.calls.Add(1)
	ft := fileTimes{accessed: rec.Accessed, modified: rec.Modified}
	switch kind {
	case vfskit.TimeModified:
		ft.modified = t
	case vfskit.TimeAccessed:
		ft.accessed = t
	default:
		return vfskit.Unsupported("set-"+kind.String(), rec.Address.Redacted())
	}
	p.mu.Lock()
	p.seen = rec.Clone()
	p.mu.Unlock()
	p.setTimes(rec.Address.CleanPath(), ft)
	return nil
}

type fakeWriter struct {
	b   *fakeBackend
	key string
	buf bytes.Buffer
}

func (w *fakeWriter) Write(p []byte) (int, error) { return w.buf.Write(p) }

func (w *fakeWriter) Close() error {
	w.b.mu.Lock()
	defer w.b.mu.Unlock()
	w.b.files[w.key] = bytes.Clone(w.buf.Bytes())
	return nil
}

func newFakeSession(t *testing.T, opts ...vfskit.Option) (*vfskit.Context, *fakeBackend) {
	t.Helper()
	b := newFakeBackend()
	c, err := vfskit.New(append([]vfskit.Option{vfskit.WithRegistry(b.registry())}, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c, b
}

// newMemorySession returns a Context on the default registry and the
// mem:// base of a fresh tree.
func newMemorySession(t *testing.T, opts ...vfskit.Option) (*vfskit.Context, string) {
	t.Helper()
	host := uuid.NewString()
	c, err := vfskit.New(opts...)
	require.NoError(t, err)
	t.Cleanup(func() {
		c.Close()
		memory.Drop(host)
	})
	return c, "mem://" + host
}

func writeString(t *testing.T, c *vfskit.Context, raw, content string) *vfskit.Handle {
	t.Helper()
	ctx := context.Background()
	h, err := c.Resolve(ctx, raw)
	require.NoError(t, err)
	w, err := h.Write(ctx)
	require.NoError(t, err)
	_, err = io.WriteString(w, content)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return h
}

func readString(t *testing.T, h *vfskit.Handle) string {
	t.Helper()
	r, err := h.Read(context.Background())
	require.NoError(t, err)
	defer r.Close()
	b, err := io.ReadAll(r)
	require.NoError(t, err)
	return string(b)
}
