package archive

import (
	"archive/tar"
	"compress/bzip2"
	"io"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

type tarReader struct {
	tr     *tar.Reader
	format Format
	closer func() error
	dir    bool
}

func newTarReader(r io.Reader, format Format) (*tarReader, error) {
	var (
		src    io.Reader = r
		closer           = func() error { return nil }
	)
	switch format {
	case FormatTarGzip:
		gz, err := gzip.NewReader(r)
		if err != nil {
			return nil, formatError(err)
		}
		src, closer = gz, gz.Close
	case FormatTarZstd:
		zr, err := zstd.NewReader(r)
		if err != nil {
			return nil, formatError(err)
		}
		src = zr
		closer = func() error { zr.Close(); return nil }
	case FormatTarLZ4:
		src = lz4.NewReader(r)
	case FormatTarBzip2:
		src = bzip2.NewReader(r)
	}
	return &tarReader{tr: tar.NewReader(src), format: format, closer: closer}, nil
}

func (r *tarReader) Format() Format { return r.format }

func (r *tarReader) Next() (Entry, error) {
	for {
		hdr, err := r.tr.Next()
		if err == io.EOF {
			return Entry{}, io.EOF
		}
		if err != nil {
			return Entry{}, formatError(err)
		}
		switch hdr.Typeflag {
		case tar.TypeDir:
			r.dir = true
			return Project(hdr.Name, 0, hdr.ModTime, true), nil
		case tar.TypeReg, tar.TypeSymlink, tar.TypeLink:
			r.dir = false
			return Project(hdr.Name, hdr.Size, hdr.ModTime, false), nil
		}
		// Devices, fifos and vendor records carry no file content.
	}
}

func (r *tarReader) Read(p []byte) (int, error) {
	if r.dir {
		return 0, io.EOF
	}
	n, err := r.tr.Read(p)
	if err != nil && err != io.EOF {
		err = formatError(err)
	}
	return n, err
}

func (r *tarReader) Close() error {
	return r.closer()
}
