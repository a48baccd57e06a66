package http

import (
	"context"
	"io"
	stdhttp "net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gobeaver/vfskit"
)

var lastModified = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

// fakeSite serves PUT, GET and HEAD from a map.
type fakeSite struct {
	mu        sync.Mutex
	files     map[string][]byte
	requests  atomic.Int32
	userAgent string
	user      string
}

func (s *fakeSite) ServeHTTP(w stdhttp.ResponseWriter, r *stdhttp.Request) {
	s.requests.Add(1)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.userAgent = r.UserAgent()
	s.user, _, _ = r.BasicAuth()

	if strings.HasPrefix(r.URL.Path, "/private/") {
		w.WriteHeader(stdhttp.StatusForbidden)
		return
	}
	switch r.Method {
	case stdhttp.MethodPut:
		b, err := io.ReadAll(r.Body)
		if err != nil {
			w.WriteHeader(stdhttp.StatusBadRequest)
			return
		}
		s.files[r.URL.Path] = b
		w.WriteHeader(stdhttp.StatusCreated)
	case stdhttp.MethodGet, stdhttp.MethodHead:
		b, ok := s.files[r.URL.Path]
		if !ok {
			w.WriteHeader(stdhttp.StatusNotFound)
			return
		}
		w.Header().Set("Content-Length", strconv.Itoa(len(b)))
		w.Header().Set("Last-Modified", lastModified.Format(stdhttp.TimeFormat))
		w.WriteHeader(stdhttp.StatusOK)
		if r.Method == stdhttp.MethodGet {
			w.Write(b)
		}
	default:
		w.WriteHeader(stdhttp.StatusMethodNotAllowed)
	}
}

func newSession(t *testing.T) (*vfskit.Context, *fakeSite, string) {
	t.Helper()
	site := &fakeSite{files: map[string][]byte{"/index.html": []byte("<h1>hi</h1>")}}
	srv := httptest.NewServer(site)
	t.Cleanup(srv.Close)

	cfg := vfskit.DefaultConfig()
	cfg.RetryDelayMS = 1
	c, err := vfskit.New(vfskit.WithConfig(cfg))
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c, site, srv.URL
}

func TestReadWrite(t *testing.T) {
	ctx := context.Background()
	c, site, base := newSession(t)

	h, err := c.Resolve(ctx, base+"/upload/notes.txt")
	require.NoError(t, err)
	w, err := h.Write(ctx)
	require.NoError(t, err)
	_, err = io.WriteString(w, "release notes")
	require.NoError(t, err)
	require.NoError(t, w.Close())

	site.mu.Lock()
	assert.Equal(t, "release notes", string(site.files["/upload/notes.txt"]))
	site.mu.Unlock()

	r, err := h.Read(ctx)
	require.NoError(t, err)
	b, err := io.ReadAll(r)
	require.NoError(t, err)
	require.NoError(t, r.Close())
	assert.Equal(t, "release notes", string(b))

	size, err := h.Size(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(13), size)
	mod, err := h.ModTime(ctx)
	require.NoError(t, err)
	assert.True(t, lastModified.Equal(mod))
}

func TestMaterialize(t *testing.T) {
	ctx := context.Background()
	c, _, base := newSession(t)

	t.Run("missing", func(t *testing.T) {
		h, err := c.Resolve(ctx, base+"/nothing.txt")
		require.NoError(t, err)
		exists, err := h.Exists(ctx)
		require.NoError(t, err)
		assert.False(t, exists)
	})

	t.Run("forbidden", func(t *testing.T) {
		h, err := c.Resolve(ctx, base+"/private/key.pem")
		require.NoError(t, err)
		_, err = h.Exists(ctx)
		require.Error(t, err)
		assert.Equal(t, vfskit.ErrCodePermission, vfskit.CodeOf(err))
	})

	t.Run("directory intent", func(t *testing.T) {
		h, err := c.Resolve(ctx, base+"/docs/")
		require.NoError(t, err)
		dir, err := h.IsDir(ctx)
		require.NoError(t, err)
		assert.True(t, dir)
	})
}

func TestMutationsUnsupported(t *testing.T) {
	ctx := context.Background()
	c, site, base := newSession(t)

	h, err := c.Resolve(ctx, base+"/index.html")
	require.NoError(t, err)
	exists, err := h.Exists(ctx)
	require.NoError(t, err)
	require.True(t, exists)

	before := site.requests.Load()
	assert.True(t, vfskit.IsNotSupported(h.SetACL(ctx, nil)))
	assert.True(t, vfskit.IsNotSupported(h.SetModifiedTime(ctx, time.Now())))
	assert.True(t, vfskit.IsNotSupported(h.SetOwner(ctx, "root")))
	_, err = h.Checksum(ctx, vfskit.ChecksumSHA256)
	assert.True(t, vfskit.IsNotSupported(err))
	_, err = h.Watch(ctx)
	assert.True(t, vfskit.IsNotSupported(err))
	assert.Equal(t, before, site.requests.Load())

	assert.True(t, vfskit.IsNotSupported(h.Delete(ctx)))

	root, err := c.Resolve(ctx, base+"/")
	require.NoError(t, err)
	_, err = root.Children(ctx)
	assert.True(t, vfskit.IsNotSupported(err))
}

func TestRequestHeaders(t *testing.T) {
	ctx := context.Background()
	c, site, base := newSession(t)

	h, err := c.Resolve(ctx, strings.Replace(base, "http://", "http://bob:pw@", 1)+"/index.html")
	require.NoError(t, err)
	_, err = h.Exists(ctx)
	require.NoError(t, err)

	site.mu.Lock()
	defer site.mu.Unlock()
	assert.Equal(t, "vfskit", site.userAgent)
	assert.Equal(t, "bob", site.user)
}

func TestStatusError(t *testing.T) {
	addr := vfskit.MustParseAddress("https://example.com/a.txt")
	tests := []struct {
		status int
		want   vfskit.ErrorCode
	}{
		{stdhttp.StatusNotFound, vfskit.ErrCodeNotFound},
		{stdhttp.StatusGone, vfskit.ErrCodeNotFound},
		{stdhttp.StatusUnauthorized, vfskit.ErrCodePermission},
		{stdhttp.StatusForbidden, vfskit.ErrCodePermission},
		{stdhttp.StatusMethodNotAllowed, vfskit.ErrCodeNotSupported},
		{stdhttp.StatusBadGateway, vfskit.ErrCodeTransport},
	}
	for _, tt := range tests {
		t.Run(strconv.Itoa(tt.status), func(t *testing.T) {
			resp := &stdhttp.Response{StatusCode: tt.status, Status: stdhttp.StatusText(tt.status)}
			assert.Equal(t, tt.want, vfskit.CodeOf(statusError("read", addr, resp)))
		})
	}
}

func TestURLDropsCredentials(t *testing.T) {
	c := &Client{}
	addr := vfskit.MustParseAddress("https://bob:pw@example.com:8443/dir/a.txt")
	assert.Equal(t, "https://example.com:8443/dir/a.txt", c.URL(addr))
}
