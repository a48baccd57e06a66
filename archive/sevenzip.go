package archive

import (
	"io"

	"github.com/bodgit/sevenzip"
)

type sevenZipReader struct {
	zr  *sevenzip.Reader
	idx int
	cur io.ReadCloser
}

func new7zReader(ra io.ReaderAt, size int64) (*sevenZipReader, error) {
	zr, err := sevenzip.NewReader(ra, size)
	if err != nil {
		return nil, formatError(err)
	}
	return &sevenZipReader{zr: zr, idx: -1}, nil
}

func (r *sevenZipReader) Format() Format { return Format7z }

func (r *sevenZipReader) Next() (Entry, error) {
	if err := r.closeCurrent(); err != nil {
		return Entry{}, err
	}
	r.idx++
	if r.idx >= len(r.zr.File) {
		return Entry{}, io.EOF
	}
	f := r.zr.File[r.idx]
	info := f.FileInfo()
	return Project(f.Name, info.Size(), f.Modified, info.IsDir()), nil
}

func (r *sevenZipReader) Read(p []byte) (int, error) {
	if r.idx < 0 || r.idx >= len(r.zr.File) {
		return 0, io.EOF
	}
	f := r.zr.File[r.idx]
	if f.FileInfo().IsDir() {
		return 0, io.EOF
	}
	if r.cur == nil {
		rc, err := f.Open()
		if err != nil {
			return 0, formatError(err)
		}
		r.cur = rc
	}
	return r.cur.Read(p)
}

func (r *sevenZipReader) closeCurrent() error {
	if r.cur == nil {
		return nil
	}
	err := r.cur.Close()
	r.cur = nil
	return err
}

func (r *sevenZipReader) Close() error {
	return r.closeCurrent()
}
