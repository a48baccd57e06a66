package vfskit

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sort"
)

// ChunkSize is the unit of transfer of Copy and Compare.
const ChunkSize = 64 * 1024

// Listener observes Copy and Compare.
type Listener interface {
	// AfterChunk is called after each chunk with the total size of the file
	// (-1 when unknown), the chunk length and the bytes handled so far.
	AfterChunk(total, chunk, soFar int64)
	// Interrupt is polled before each file. Returning true stops the
	// operation without an error.
	Interrupt() bool
	// FileExists is called when a copy target already exists. The result is
	// advisory: the target is overwritten regardless.
	FileExists(target *Handle) bool
}

// NopListener ignores every notification.
type NopListener struct{}

// AfterChunk does nothing.
func (NopListener) AfterChunk(total, chunk, soFar int64) {}

// Interrupt never stops the operation.
func (NopListener) Interrupt() bool { return false }

// FileExists accepts the overwrite.
func (NopListener) FileExists(target *Handle) bool { return true }

// ListenerFuncs adapts functions to a Listener. Nil fields are ignored.
type ListenerFuncs struct {
	OnChunk     func(total, chunk, soFar int64)
	OnInterrupt func() bool
	OnExists    func(target *Handle) bool
}

// AfterChunk calls OnChunk.
func (l ListenerFuncs) AfterChunk(total, chunk, soFar int64) {
	if l.OnChunk != nil {
		l.OnChunk(total, chunk, soFar)
	}
}

// Interrupt calls OnInterrupt; without it the operation runs to the end.
func (l ListenerFuncs) Interrupt() bool {
	return l.OnInterrupt != nil && l.OnInterrupt()
}

// FileExists calls OnExists; without it the overwrite is accepted.
func (l ListenerFuncs) FileExists(target *Handle) bool {
	if l.OnExists != nil {
		return l.OnExists(target)
	}
	return true
}

var errInterrupted = errors.New("interrupted")

// Copy copies src to dst. Directories are copied recursively; every child
// is complete before Copy returns. The first failure aborts the copy and
// nothing already written is rolled back.
func Copy(ctx context.Context, src, dst *Handle, l Listener) error {
	if l == nil {
		l = NopListener{}
	}
	err := copyUnit(ctx, src, dst, l)
	if errors.Is(err, errInterrupted) {
		return nil
	}
	return err
}

func copyUnit(ctx context.Context, src, dst *Handle, l Listener) error {
	if l.Interrupt() {
		return errInterrupted
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	rec, err := src.Record(ctx)
	if err != nil {
		return err
	}
	if !rec.Exists {
		return NewPathError("copy", rec.Address.Redacted(), ErrCodeNotFound, "file does not exist")
	}

	if rec.Dir {
		if err := dst.CreateDirectory(ctx); err != nil {
			return err
		}
		dir, entries, err := src.entries(ctx, "copy")
		if err != nil {
			return err
		}
		base := dst.Address()
		for _, e := range entries {
			child, err := src.ctx.ResolveAddress(ctx, e.Address(dir))
			if err != nil {
				return err
			}
			target, err := dst.ctx.ResolveAddress(ctx, e.Address(base))
			if err != nil {
				return err
			}
			if err := copyUnit(ctx, child, target, l); err != nil {
				return err
			}
		}
		return nil
	}

	exists, err := dst.Exists(ctx)
	if err != nil {
		return err
	}
	if exists {
		l.FileExists(dst)
	}
	return copyFile(ctx, src, dst, rec.Size, l)
}

func copyFile(ctx context.Context, src, dst *Handle, total int64, l Listener) error {
	r, err := src.Read(ctx)
	if err != nil {
		return err
	}
	defer r.Close()

	w, err := dst.Write(ctx)
	if err != nil {
		return err
	}

	buf := make([]byte, ChunkSize)
	var soFar int64
	for {
		n, rerr := io.ReadFull(r, buf)
		if n > 0 {
			if _, err := w.Write(buf[:n]); err != nil {
				w.Close()
				return WrapPathErr("copy", dst.String(), err)
			}
			soFar += int64(n)
			l.AfterChunk(total, int64(n), soFar)
		}
		if rerr == io.EOF || rerr == io.ErrUnexpectedEOF {
			break
		}
		if rerr != nil {
			w.Close()
			return WrapPathErr("copy", src.String(), rerr)
		}
	}
	if err := w.Close(); err != nil {
		return WrapPathErr("copy", dst.String(), err)
	}
	return nil
}

// Compare reports whether src and dst hold the same content. Files are
// read in lockstep chunk by chunk; directories match when their child names
// match and every child pair compares equal. An interrupted comparison
// reports false.
func Compare(ctx context.Context, src, dst *Handle, l Listener) (bool, error) {
	if l == nil {
		l = NopListener{}
	}
	same, err := compareUnit(ctx, src, dst, l)
	if errors.Is(err, errInterrupted) {
		return false, nil
	}
	return same, err
}

func compareUnit(ctx context.Context, src, dst *Handle, l Listener) (bool, error) {
	if l.Interrupt() {
		return false, errInterrupted
	}
	select {
	case <-ctx.Done():
		return false, ctx.Err()
	default:
	}

	a, err := src.Record(ctx)
	if err != nil {
		return false, err
	}
	b, err := dst.Record(ctx)
	if err != nil {
		return false, err
	}
	if a.Exists != b.Exists || a.Dir != b.Dir {
		return false, nil
	}
	if !a.Exists {
		return true, nil
	}

	if a.Dir {
		return compareDirs(ctx, src, dst, l)
	}
	if a.Size >= 0 && b.Size >= 0 && a.Size != b.Size {
		return false, nil
	}
	return compareFiles(ctx, src, dst, a.Size, l)
}

func compareDirs(ctx context.Context, src, dst *Handle, l Listener) (bool, error) {
	adir, ae, err := src.entries(ctx, "compare")
	if err != nil {
		return false, err
	}
	bdir, be, err := dst.entries(ctx, "compare")
	if err != nil {
		return false, err
	}
	if len(ae) != len(be) {
		return false, nil
	}
	sort.Slice(ae, func(i, j int) bool { return ae[i].Name < ae[j].Name })
	sort.Slice(be, func(i, j int) bool { return be[i].Name < be[j].Name })
	for i := range ae {
		if ae[i].Name != be[i].Name || ae[i].Dir != be[i].Dir {
			return false, nil
		}
	}
	for i := range ae {
		a, err := src.ctx.ResolveAddress(ctx, ae[i].Address(adir))
		if err != nil {
			return false, err
		}
		b, err := dst.ctx.ResolveAddress(ctx, be[i].Address(bdir))
		if err != nil {
			return false, err
		}
		same, err := compareUnit(ctx, a, b, l)
		if err != nil || !same {
			return same, err
		}
	}
	return true, nil
}

func compareFiles(ctx context.Context, src, dst *Handle, total int64, l Listener) (bool, error) {
	ra, err := src.Read(ctx)
	if err != nil {
		return false, err
	}
	defer ra.Close()
	rb, err := dst.Read(ctx)
	if err != nil {
		return false, err
	}
	defer rb.Close()

	bufA := make([]byte, ChunkSize)
	bufB := make([]byte, ChunkSize)
	var soFar int64
	for {
		na, errA := io.ReadFull(ra, bufA)
		nb, errB := io.ReadFull(rb, bufB)
		if errA != nil && errA != io.EOF && errA != io.ErrUnexpectedEOF {
			return false, WrapPathErr("compare", src.String(), errA)
		}
		if errB != nil && errB != io.EOF && errB != io.ErrUnexpectedEOF {
			return false, WrapPathErr("compare", dst.String(), errB)
		}
		if na != nb || !bytes.Equal(bufA[:na], bufB[:nb]) {
			return false, nil
		}
		if na > 0 {
			soFar += int64(na)
			l.AfterChunk(total, int64(na), soFar)
		}
		if errA != nil || errB != nil {
			return errA != nil && errB != nil, nil
		}
	}
}
