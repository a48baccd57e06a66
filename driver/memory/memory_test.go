package memory

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gobeaver/vfskit"
)

// newSession returns a Context and the mem:// base of a fresh tree.
func newSession(t *testing.T) (*vfskit.Context, string) {
	t.Helper()
	host := uuid.NewString()
	c, err := vfskit.New()
	require.NoError(t, err)
	t.Cleanup(func() {
		c.Close()
		Drop(host)
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

func TestWrite(t *testing.T) {
	ctx := context.Background()

	t.Run("writes file and creates parents", func(t *testing.T) {
		c, base := newSession(t)
		h := writeString(t, c, base+"/a/b/c/test.txt", "nested")

		assert.Equal(t, "nested", readString(t, h))
		size, err := h.Size(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(6), size)

		for _, dir := range []string{"/a", "/a/b", "/a/b/c"} {
			d, err := c.Resolve(ctx, base+dir)
			require.NoError(t, err)
			isDir, err := d.IsDir(ctx)
			require.NoError(t, err)
			assert.True(t, isDir, dir)
		}
	})

	t.Run("overwrites existing content", func(t *testing.T) {
		c, base := newSession(t)
		writeString(t, c, base+"/test.txt", "first")
		h := writeString(t, c, base+"/test.txt", "second")
		assert.Equal(t, "second", readString(t, h))
	})

	t.Run("content survives the context", func(t *testing.T) {
		c, base := newSession(t)
		writeString(t, c, base+"/keep.txt", "kept")
		require.NoError(t, c.Close())

		c2, err := vfskit.New()
		require.NoError(t, err)
		defer c2.Close()
		h, err := c2.Resolve(ctx, base+"/keep.txt")
		require.NoError(t, err)
		assert.Equal(t, "kept", readString(t, h))
	})

	t.Run("respects context cancellation", func(t *testing.T) {
		c, base := newSession(t)
		h, err := c.Resolve(ctx, base+"/x.txt")
		require.NoError(t, err)
		cancelled, cancel := context.WithCancel(ctx)
		cancel()
		_, err = h.Write(cancelled)
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestCreateAndDelete(t *testing.T) {
	ctx := context.Background()
	c, base := newSession(t)

	dir, err := c.ResolveDirectory(ctx, base+"/tree/sub")
	require.NoError(t, err)
	require.NoError(t, dir.CreateDirectory(ctx))
	require.NoError(t, dir.CreateDirectory(ctx), "creating an existing directory is a no-op")

	f, err := dir.Child(ctx, "empty.txt")
	require.NoError(t, err)
	require.NoError(t, f.Create(ctx))
	size, err := f.Size(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), size)

	tree, err := c.Resolve(ctx, base+"/tree")
	require.NoError(t, err)
	require.NoError(t, tree.Delete(ctx))

	for _, h := range []*vfskit.Handle{tree, dir, f} {
		require.NoError(t, h.Refresh(ctx))
		exists, err := h.Exists(ctx)
		require.NoError(t, err)
		assert.False(t, exists, h.String())
	}
	require.NoError(t, tree.Delete(ctx), "deleting a missing file is a no-op")
}

func TestList(t *testing.T) {
	ctx := context.Background()
	c, base := newSession(t)
	writeString(t, c, base+"/docs/b.txt", "b")
	writeString(t, c, base+"/docs/a.md", "a")
	writeString(t, c, base+"/docs/sub/c.txt", "c")

	docs, err := c.Resolve(ctx, base+"/docs")
	require.NoError(t, err)

	t.Run("children", func(t *testing.T) {
		children, err := docs.Children(ctx)
		require.NoError(t, err)
		var names []string
		for _, h := range children {
			names = append(names, h.Name())
		}
		assert.Equal(t, []string{"a.md", "b.txt", "sub"}, names)
	})

	t.Run("find with glob", func(t *testing.T) {
		found, err := docs.Find(ctx, vfskit.Glob("*.txt"))
		require.NoError(t, err)
		var names []string
		for _, h := range found {
			names = append(names, h.Name())
		}
		assert.ElementsMatch(t, []string{"b.txt", "c.txt"}, names)
	})

	t.Run("files only at depth one", func(t *testing.T) {
		found, err := docs.Find(ctx, vfskit.And(vfskit.FilesOnly(), vfskit.Depth(1)))
		require.NoError(t, err)
		assert.Len(t, found, 2)
	})

	t.Run("listing a file fails", func(t *testing.T) {
		f, err := docs.Child(ctx, "a.md")
		require.NoError(t, err)
		_, err = f.Children(ctx)
		assert.Equal(t, vfskit.ErrCodeInvalid, vfskit.CodeOf(err))
	})
}

func TestAttributesAndTimes(t *testing.T) {
	ctx := context.Background()
	c, base := newSession(t)
	h := writeString(t, c, base+"/file.txt", "x")

	attrs := vfskit.Attributes{Kind: vfskit.AttributesDOS, Hidden: true, ReadOnly: true}
	require.NoError(t, h.SetAttributes(ctx, attrs))
	rec, err := h.Record(ctx)
	require.NoError(t, err)
	assert.Equal(t, attrs, rec.Attributes)

	hidden, err := h.IsHidden(ctx)
	require.NoError(t, err)
	assert.True(t, hidden)

	mod := time.Date(2020, 1, 2, 3, 4, 5, 0, time.UTC)
	require.NoError(t, h.SetModifiedTime(ctx, mod))
	got, err := h.ModTime(ctx)
	require.NoError(t, err)
	assert.True(t, mod.Equal(got))

	assert.True(t, vfskit.IsNotSupported(h.SetCreationTime(ctx, mod)))
	assert.True(t, vfskit.IsNotSupported(h.SetAccessTime(ctx, mod)))
	assert.True(t, vfskit.IsNotSupported(h.SetOwner(ctx, "root")))
	assert.True(t, vfskit.IsNotSupported(h.SetACL(ctx, []vfskit.ACLEntry{{Principal: "bob", Permissions: vfskit.ACLRead}})))
	_, err = h.IsReadable(ctx)
	assert.True(t, vfskit.IsNotSupported(err))
}

func TestMoveAndRename(t *testing.T) {
	ctx := context.Background()
	c, base := newSession(t)
	writeString(t, c, base+"/src/one.txt", "1")
	writeString(t, c, base+"/src/deep/two.txt", "2")

	src, err := c.Resolve(ctx, base+"/src")
	require.NoError(t, err)
	dst, err := c.Resolve(ctx, base+"/moved/dst")
	require.NoError(t, err)
	require.NoError(t, src.MoveTo(ctx, dst))

	two, err := c.Resolve(ctx, base+"/moved/dst/deep/two.txt")
	require.NoError(t, err)
	assert.Equal(t, "2", readString(t, two))

	exists, err := src.Exists(ctx)
	require.NoError(t, err)
	assert.False(t, exists)

	renamed, err := two.Rename(ctx, "three.txt")
	require.NoError(t, err)
	assert.Equal(t, "three.txt", renamed.Name())
	assert.Equal(t, "2", readString(t, renamed))
}

func TestChecksum(t *testing.T) {
	ctx := context.Background()
	c, base := newSession(t)
	h := writeString(t, c, base+"/sum.txt", "hello world")

	sum, err := h.Checksum(ctx, vfskit.ChecksumSHA256)
	require.NoError(t, err)
	assert.Equal(t, "b94d27b9934d3e08a52e52d7da7dabfac484efe37a5380ee9088f7ace2efcde9", sum)

	ok, err := vfskit.VerifyChecksum(ctx, h, sum, vfskit.ChecksumSHA256)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestWatch(t *testing.T) {
	ctx := context.Background()
	c, base := newSession(t)

	dir, err := c.ResolveDirectory(ctx, base+"/watched")
	require.NoError(t, err)
	require.NoError(t, dir.CreateDirectory(ctx))

	token, err := dir.Watch(ctx)
	require.NoError(t, err)
	fired := make(chan struct{})
	token.RegisterChangeCallback(func() { close(fired) })
	assert.False(t, token.HasChanged())

	writeString(t, c, base+"/elsewhere.txt", "no")
	assert.False(t, token.HasChanged())

	writeString(t, c, base+"/watched/inner/file.txt", "yes")
	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("watch token did not fire")
	}
	assert.True(t, token.HasChanged())
}
