package archive

import (
	"io"

	"github.com/klauspost/compress/zip"
)

type zipReader struct {
	zr  *zip.Reader
	idx int
	cur io.ReadCloser
}

func newZipReader(ra io.ReaderAt, size int64) (*zipReader, error) {
	zr, err := zip.NewReader(ra, size)
	if err != nil {
		return nil, formatError(err)
	}
	return &zipReader{zr: zr, idx: -1}, nil
}

func (r *zipReader) Format() Format { return FormatZip }

func (r *zipReader) Next() (Entry, error) {
	if err := r.closeCurrent(); err != nil {
		return Entry{}, err
	}
	r.idx++
	if r.idx >= len(r.zr.File) {
		return Entry{}, io.EOF
	}
	f := r.zr.File[r.idx]
	info := f.FileInfo()
	return Project(f.Name, int64(f.UncompressedSize64), f.Modified, info.IsDir()), nil
}

func (r *zipReader) Read(p []byte) (int, error) {
	if r.idx < 0 || r.idx >= len(r.zr.File) {
		return 0, io.EOF
	}
	if r.cur == nil {
		rc, err := r.zr.File[r.idx].Open()
		if err != nil {
			return 0, formatError(err)
		}
		r.cur = rc
	}
	return r.cur.Read(p)
}

func (r *zipReader) closeCurrent() error {
	if r.cur == nil {
		return nil
	}
	err := r.cur.Close()
	r.cur = nil
	return err
}

func (r *zipReader) Close() error {
	return r.closeCurrent()
}
