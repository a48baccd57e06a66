package archive

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"hash"
	"hash/crc32"
	"io"
	"time"
)

// ARJ layout: every header starts with the id 0x60 0xEA and a 16 bit basic
// header size (0 marks the end of the archive), followed by the basic
// header, its CRC32, and a chain of extended headers terminated by a zero
// size. The first header describes the archive itself; each following one
// describes an entry whose compressed data comes right after it.
const (
	arjMaxBasicHeader = 2600
	arjFixedSize      = 30

	arjMethodStored = 0

	arjTypeDirectory = 3
	arjTypeVolume    = 4
	arjTypeChapter   = 5
)

type arjHeader struct {
	method     byte
	fileType   byte
	modified   uint32
	compressed int64
	original   int64
	crc        uint32
	name       string
}

type arjReader struct {
	ra   io.ReaderAt
	size int64
	off  int64

	cur     arjHeader
	data    *io.SectionReader
	sum     hash.Hash32
	started bool
}

func newARJReader(ra io.ReaderAt, size int64) (*arjReader, error) {
	r := &arjReader{ra: ra, size: size}
	main, next, err := r.readHeader(0)
	if err != nil {
		return nil, err
	}
	if main == nil {
		return nil, fmt.Errorf("%w: arj archive without main header", ErrFormat)
	}
	r.off = next
	return r, nil
}

func (r *arjReader) Format() Format { return FormatARJ }

// readHeader decodes the header at off. It returns a nil header at the end
// marker, and the offset just past the header chain.
func (r *arjReader) readHeader(off int64) (*arjHeader, int64, error) {
	var pre [4]byte
	if _, err := r.ra.ReadAt(pre[:], off); err != nil {
		return nil, 0, fmt.Errorf("%w: truncated arj header at %d", ErrFormat, off)
	}
	if pre[0] != magicARJ[0] || pre[1] != magicARJ[1] {
		return nil, 0, fmt.Errorf("%w: bad arj header id at %d", ErrFormat, off)
	}
	size := int64(binary.LittleEndian.Uint16(pre[2:]))
	if size == 0 {
		return nil, off + 4, nil
	}
	if size < arjFixedSize || size > arjMaxBasicHeader {
		return nil, 0, fmt.Errorf("%w: arj header size %d", ErrFormat, size)
	}

	basic := make([]byte, size+4)
	if _, err := r.ra.ReadAt(basic, off+4); err != nil {
		return nil, 0, fmt.Errorf("%w: truncated arj header at %d", ErrFormat, off)
	}
	body, want := basic[:size], binary.LittleEndian.Uint32(basic[size:])
	if crc32.ChecksumIEEE(body) != want {
		return nil, 0, fmt.Errorf("%w: arj header checksum mismatch at %d", ErrFormat, off)
	}

	first := int64(body[0])
	if first < arjFixedSize || first > size {
		return nil, 0, fmt.Errorf("%w: arj first header size %d", ErrFormat, first)
	}
	h := &arjHeader{
		method:     body[5],
		fileType:   body[6],
		modified:   binary.LittleEndian.Uint32(body[8:]),
		compressed: int64(binary.LittleEndian.Uint32(body[12:])),
		original:   int64(binary.LittleEndian.Uint32(body[16:])),
		crc:        binary.LittleEndian.Uint32(body[20:]),
	}
	rest := body[first:]
	if i := bytes.IndexByte(rest, 0); i >= 0 {
		h.name = string(rest[:i])
	} else {
		h.name = string(rest)
	}

	next := off + 4 + size + 4
	for {
		var ext [2]byte
		if _, err := r.ra.ReadAt(ext[:], next); err != nil {
			return nil, 0, fmt.Errorf("%w: truncated arj extended header", ErrFormat)
		}
		n := int64(binary.LittleEndian.Uint16(ext[:]))
		next += 2
		if n == 0 {
			break
		}
		next += n + 4
	}
	return h, next, nil
}

func (r *arjReader) Next() (Entry, error) {
	for {
		if r.started {
			r.off += r.cur.compressed
		}
		if r.off >= r.size {
			return Entry{}, io.EOF
		}
		h, next, err := r.readHeader(r.off)
		if err != nil {
			return Entry{}, err
		}
		if h == nil {
			r.started = false
			r.off = r.size
			return Entry{}, io.EOF
		}
		if next+h.compressed > r.size {
			return Entry{}, fmt.Errorf("%w: arj entry %q exceeds archive", ErrFormat, h.name)
		}
		r.cur = *h
		r.off = next
		r.started = true
		r.data = io.NewSectionReader(r.ra, next, h.compressed)
		r.sum = crc32.NewIEEE()

		if h.fileType == arjTypeVolume || h.fileType == arjTypeChapter {
			continue
		}
		dir := h.fileType == arjTypeDirectory
		return Project(h.name, h.original, dosTime(h.modified), dir), nil
	}
}

func (r *arjReader) Read(p []byte) (int, error) {
	if !r.started || r.cur.fileType == arjTypeDirectory {
		return 0, io.EOF
	}
	if r.cur.method != arjMethodStored {
		return 0, fmt.Errorf("%w: arj method %d is not supported for %q", ErrFormat, r.cur.method, r.cur.name)
	}
	n, err := r.data.Read(p)
	r.sum.Write(p[:n])
	if err == io.EOF && r.sum.Sum32() != r.cur.crc {
		return n, fmt.Errorf("%w: arj crc mismatch for %q", ErrFormat, r.cur.name)
	}
	return n, err
}

func (r *arjReader) Close() error {
	return nil
}

// dosTime decodes an MS-DOS date and time in local time.
func dosTime(v uint32) time.Time {
	if v == 0 {
		return time.Time{}
	}
	d, t := v>>16, v&0xFFFF
	return time.Date(
		int(d>>9)+1980, time.Month((d>>5)&0x0F), int(d&0x1F),
		int(t>>11), int((t>>5)&0x3F), int(t&0x1F)*2,
		0, time.Local,
	)
}

// DOSTime encodes t as an MS-DOS date and time.
func DOSTime(t time.Time) uint32 {
	if t.Year() < 1980 {
		return 0
	}
	d := uint32(t.Year()-1980)<<9 | uint32(t.Month())<<5 | uint32(t.Day())
	tm := uint32(t.Hour())<<11 | uint32(t.Minute())<<5 | uint32(t.Second()/2)
	return d<<16 | tm
}
