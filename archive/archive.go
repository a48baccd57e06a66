// Package archive iterates the entries of archive containers in a single
// forward pass, independent of the container format.
//
// The format is sniffed from magic bytes, never from the file extension:
//
//	r, err := archive.Open("build.zip")
//	if err != nil {
//	    return err
//	}
//	defer r.Close()
//
//	entries, err := archive.List(r)
package archive

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"strings"
	"time"
)

// ErrFormat is returned for malformed or unsupported containers.
var ErrFormat = errors.New("invalid archive format")

// Format identifies a container format.
type Format int

const (
	FormatUnknown Format = iota
	FormatZip
	Format7z
	FormatARJ
	FormatTar
	FormatTarGzip
	FormatTarZstd
	FormatTarLZ4
	FormatTarBzip2
)

func (f Format) String() string {
	switch f {
	case FormatZip:
		return "zip"
	case Format7z:
		return "7z"
	case FormatARJ:
		return "arj"
	case FormatTar:
		return "tar"
	case FormatTarGzip:
		return "tar.gz"
	case FormatTarZstd:
		return "tar.zst"
	case FormatTarLZ4:
		return "tar.lz4"
	case FormatTarBzip2:
		return "tar.bz2"
	}
	return "unknown"
}

// Entry is the projection of one container entry. Path is the directory
// part of the entry name and Name its last segment:
// "MyProject/target/classes/App.class" has Path "MyProject/target/classes"
// and Name "App.class".
type Entry struct {
	Path     string
	Name     string
	Size     int64
	Modified time.Time
	Dir      bool
}

// FullPath returns Path and Name joined by a slash.
func (e Entry) FullPath() string {
	if e.Path == "" {
		return e.Name
	}
	return e.Path + "/" + e.Name
}

// Reader iterates the entries of a container.
type Reader interface {
	// Next advances to the next entry. It returns io.EOF after the last one.
	Next() (Entry, error)
	// Read reads the content of the current entry. Directories read as empty.
	Read(p []byte) (int, error)
	// Format returns the detected container format.
	Format() Format
	Close() error
}

// headerSize is the number of leading bytes needed by Detect.
const headerSize = 512

var (
	magicZip      = []byte("PK\x03\x04")
	magicZipEmpty = []byte("PK\x05\x06")
	magic7z       = []byte{'7', 'z', 0xBC, 0xAF, 0x27, 0x1C}
	magicARJ      = []byte{0x60, 0xEA}
	magicGzip     = []byte{0x1F, 0x8B}
	magicZstd     = []byte{0x28, 0xB5, 0x2F, 0xFD}
	magicLZ4      = []byte{0x04, 0x22, 0x4D, 0x18}
	magicBzip2    = []byte("BZh")
	magicTar      = []byte("ustar")
)

// Detect sniffs the container format from the leading bytes of a file.
// Compressed streams are assumed to wrap a tar archive.
func Detect(header []byte) Format {
	switch {
	case bytes.HasPrefix(header, magicZip), bytes.HasPrefix(header, magicZipEmpty):
		return FormatZip
	case bytes.HasPrefix(header, magic7z):
		return Format7z
	case bytes.HasPrefix(header, magicARJ):
		return FormatARJ
	case len(header) >= 262 && bytes.Equal(header[257:262], magicTar):
		return FormatTar
	case bytes.HasPrefix(header, magicGzip):
		return FormatTarGzip
	case bytes.HasPrefix(header, magicZstd):
		return FormatTarZstd
	case bytes.HasPrefix(header, magicLZ4):
		return FormatTarLZ4
	case bytes.HasPrefix(header, magicBzip2):
		return FormatTarBzip2
	}
	return FormatUnknown
}

// NewReader sniffs the container in ra and returns a reader for it.
func NewReader(ra io.ReaderAt, size int64) (Reader, error) {
	header := make([]byte, headerSize)
	n, err := ra.ReadAt(header, 0)
	if err != nil && err != io.EOF {
		return nil, fmt.Errorf("unable to read magic bytes: %w", err)
	}
	header = header[:n]

	switch f := Detect(header); f {
	case FormatZip:
		return newZipReader(ra, size)
	case Format7z:
		return new7zReader(ra, size)
	case FormatARJ:
		return newARJReader(ra, size)
	case FormatTar, FormatTarGzip, FormatTarZstd, FormatTarLZ4, FormatTarBzip2:
		return newTarReader(io.NewSectionReader(ra, 0, size), f)
	}
	return nil, fmt.Errorf("%w: unrecognized container", ErrFormat)
}

// Open opens the archive file at name. Closing the reader closes the file.
func Open(name string) (Reader, error) {
	f, err := os.Open(name)
	if err != nil {
		return nil, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	r, err := NewReader(f, info.Size())
	if err != nil {
		f.Close()
		return nil, err
	}
	return &fileReader{Reader: r, f: f}, nil
}

type fileReader struct {
	Reader
	f *os.File
}

func (r *fileReader) Close() error {
	err := r.Reader.Close()
	if ferr := r.f.Close(); err == nil {
		err = ferr
	}
	return err
}

// List returns one entry per container entry, in decoder order.
func List(r Reader) ([]Entry, error) {
	var entries []Entry
	err := Walk(r, func(e Entry, _ io.Reader) error {
		entries = append(entries, e)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// Walk calls fn for every entry in decoder order. The reader passed to fn
// yields the entry content and is only valid during the call. The first
// error returned by fn stops the walk.
func Walk(r Reader, fn func(e Entry, content io.Reader) error) error {
	for {
		e, err := r.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		if err := fn(e, r); err != nil {
			return err
		}
	}
}

// Project splits a raw container entry name into an Entry. Backslashes are
// treated as separators and a trailing separator marks a directory.
func Project(raw string, size int64, modified time.Time, dir bool) Entry {
	name := strings.ReplaceAll(raw, "\\", "/")
	name = strings.TrimPrefix(name, "./")
	if strings.HasSuffix(name, "/") {
		dir = true
	}
	name = strings.Trim(name, "/")
	if name != "" {
		name = path.Clean(name)
	}
	e := Entry{Size: size, Modified: modified, Dir: dir}
	if i := strings.LastIndexByte(name, '/'); i >= 0 {
		e.Path, e.Name = name[:i], name[i+1:]
	} else {
		e.Name = name
	}
	if dir {
		e.Size = 0
	}
	return e
}

var archiveExts = []string{
	".zip", ".jar", ".war", ".ear",
	".7z",
	".arj",
	".tar", ".tgz", ".tar.gz", ".tzst", ".tar.zst", ".tlz4", ".tar.lz4", ".tbz", ".tbz2", ".tar.bz2",
}

// IsArchiveName reports whether name carries an archive extension. It is
// only used to decide which provider handles an address; the content
// decides the format.
func IsArchiveName(name string) bool {
	lower := strings.ToLower(name)
	for _, ext := range archiveExts {
		if strings.HasSuffix(lower, ext) && len(lower) > len(ext) {
			return true
		}
	}
	return false
}

// formatError wraps err as a format failure unless it already is one.
func formatError(err error) error {
	if err == nil || errors.Is(err, ErrFormat) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrFormat, err)
}
