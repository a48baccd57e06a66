package archive

import (
	"archive/tar"
	"bytes"
	"encoding/binary"
	"errors"
	"hash/crc32"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zip"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testEntry struct {
	name string
	body string
	dir  bool
}

var projectEntries = []testEntry{
	{name: "MyProject/", dir: true},
	{name: "MyProject/pom.xml", body: "<project/>"},
	{name: "MyProject/target/classes/App.class", body: "\xca\xfe\xba\xbe class bytes"},
	{name: "README.md", body: "# readme"},
}

func buildZip(t *testing.T, entries []testEntry) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, e := range entries {
		w, err := zw.Create(e.name)
		require.NoError(t, err)
		if !e.dir {
			_, err = w.Write([]byte(e.body))
			require.NoError(t, err)
		}
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func buildTar(t *testing.T, entries []testEntry) []byte {
	t.Helper()
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	for _, e := range entries {
		hdr := &tar.Header{Name: e.name, Mode: 0o644, Size: int64(len(e.body)), ModTime: time.Unix(1700000000, 0), Typeflag: tar.TypeReg}
		if e.dir {
			hdr.Typeflag, hdr.Size, hdr.Mode = tar.TypeDir, 0, 0o755
		}
		require.NoError(t, tw.WriteHeader(hdr))
		if !e.dir {
			_, err := tw.Write([]byte(e.body))
			require.NoError(t, err)
		}
	}
	require.NoError(t, tw.Close())
	return buf.Bytes()
}

// buildARJ writes an ARJ archive with stored entries.
func buildARJ(t *testing.T, entries []testEntry) []byte {
	t.Helper()
	var buf bytes.Buffer
	header := func(name string, fileType byte, modified uint32, data []byte) {
		body := make([]byte, arjFixedSize)
		body[0] = arjFixedSize
		body[1] = 11 // archiver version
		body[2] = 1  // minimum version
		body[3] = 0  // MS-DOS
		body[5] = arjMethodStored
		body[6] = fileType
		binary.LittleEndian.PutUint32(body[8:], modified)
		binary.LittleEndian.PutUint32(body[12:], uint32(len(data)))
		binary.LittleEndian.PutUint32(body[16:], uint32(len(data)))
		binary.LittleEndian.PutUint32(body[20:], crc32.ChecksumIEEE(data))
		body = append(body, name...)
		body = append(body, 0, 0) // name terminator, empty comment

		buf.Write(magicARJ)
		_ = binary.Write(&buf, binary.LittleEndian, uint16(len(body)))
		buf.Write(body)
		_ = binary.Write(&buf, binary.LittleEndian, crc32.ChecksumIEEE(body))
		_ = binary.Write(&buf, binary.LittleEndian, uint16(0)) // no extended header
		buf.Write(data)
	}

	mod := DOSTime(time.Date(2024, 3, 1, 10, 30, 0, 0, time.Local))
	header("project.arj", 2, mod, nil)
	for _, e := range entries {
		if e.dir {
			header(e.name, arjTypeDirectory, mod, nil)
			continue
		}
		header(e.name, 0, mod, []byte(e.body))
	}
	buf.Write(magicARJ)
	buf.Write([]byte{0, 0})
	return buf.Bytes()
}

func compress(t *testing.T, raw []byte, format Format) []byte {
	t.Helper()
	var buf bytes.Buffer
	var w io.WriteCloser
	switch format {
	case FormatTarGzip:
		w = gzip.NewWriter(&buf)
	case FormatTarZstd:
		zw, err := zstd.NewWriter(&buf)
		require.NoError(t, err)
		w = zw
	case FormatTarLZ4:
		w = lz4.NewWriter(&buf)
	default:
		return raw
	}
	_, err := w.Write(raw)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func readAll(t *testing.T, r Reader) map[string]string {
	t.Helper()
	out := make(map[string]string)
	err := Walk(r, func(e Entry, content io.Reader) error {
		if e.Dir {
			out[e.FullPath()+"/"] = ""
			return nil
		}
		b, err := io.ReadAll(content)
		if err != nil {
			return err
		}
		out[e.FullPath()] = string(b)
		return nil
	})
	require.NoError(t, err)
	return out
}

func TestFormatsRoundTrip(t *testing.T) {
	tarball := buildTar(t, projectEntries)
	tests := []struct {
		name   string
		data   []byte
		format Format
	}{
		{"zip", buildZip(t, projectEntries), FormatZip},
		{"tar", tarball, FormatTar},
		{"tar.gz", compress(t, tarball, FormatTarGzip), FormatTarGzip},
		{"tar.zst", compress(t, tarball, FormatTarZstd), FormatTarZstd},
		{"tar.lz4", compress(t, tarball, FormatTarLZ4), FormatTarLZ4},
		{"arj", buildARJ(t, projectEntries), FormatARJ},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := NewReader(bytes.NewReader(tt.data), int64(len(tt.data)))
			require.NoError(t, err)
			defer r.Close()
			assert.Equal(t, tt.format, r.Format())

			got := readAll(t, r)
			assert.Equal(t, map[string]string{
				"MyProject/":                         "",
				"MyProject/pom.xml":                  "<project/>",
				"MyProject/target/classes/App.class": "\xca\xfe\xba\xbe class bytes",
				"README.md":                          "# readme",
			}, got)
		})
	}
}

func TestListProjectsPathAndName(t *testing.T) {
	data := buildZip(t, projectEntries)
	r, err := NewReader(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)
	defer r.Close()

	entries, err := List(r)
	require.NoError(t, err)
	require.Len(t, entries, len(projectEntries))

	assert.Equal(t, Entry{Path: "", Name: "MyProject", Dir: true, Modified: entries[0].Modified}, entries[0])
	assert.Equal(t, "MyProject/target/classes", entries[2].Path)
	assert.Equal(t, "App.class", entries[2].Name)
	assert.Equal(t, int64(len(projectEntries[2].body)), entries[2].Size)
	assert.False(t, entries[2].Dir)
}

func TestListSkipsUnreadContent(t *testing.T) {
	data := buildTar(t, projectEntries)
	r, err := NewReader(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)
	defer r.Close()

	entries, err := List(r)
	require.NoError(t, err)
	assert.Len(t, entries, len(projectEntries))
}

func TestProject(t *testing.T) {
	tests := []struct {
		raw  string
		want Entry
	}{
		{"a/b/c.txt", Entry{Path: "a/b", Name: "c.txt", Size: 3}},
		{"c.txt", Entry{Name: "c.txt", Size: 3}},
		{"a\\b\\c.txt", Entry{Path: "a/b", Name: "c.txt", Size: 3}},
		{"./a/c.txt", Entry{Path: "a", Name: "c.txt", Size: 3}},
		{"a/b/", Entry{Path: "a", Name: "b", Dir: true}},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			assert.Equal(t, tt.want, Project(tt.raw, 3, time.Time{}, false))
		})
	}
}

func TestDetect(t *testing.T) {
	tarHeader := make([]byte, 512)
	copy(tarHeader[257:], "ustar")

	tests := []struct {
		name   string
		header []byte
		want   Format
	}{
		{"zip", []byte("PK\x03\x04rest"), FormatZip},
		{"empty zip", []byte("PK\x05\x06"), FormatZip},
		{"7z", []byte{'7', 'z', 0xBC, 0xAF, 0x27, 0x1C, 0, 4}, Format7z},
		{"arj", []byte{0x60, 0xEA, 0x22, 0x00}, FormatARJ},
		{"tar", tarHeader, FormatTar},
		{"gzip", []byte{0x1F, 0x8B, 0x08}, FormatTarGzip},
		{"zstd", []byte{0x28, 0xB5, 0x2F, 0xFD}, FormatTarZstd},
		{"lz4", []byte{0x04, 0x22, 0x4D, 0x18}, FormatTarLZ4},
		{"bzip2", []byte("BZh91AY"), FormatTarBzip2},
		{"text", []byte("hello world"), FormatUnknown},
		{"empty", nil, FormatUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Detect(tt.header))
		})
	}
}

func TestMalformedContainers(t *testing.T) {
	zipData := buildZip(t, projectEntries)
	arjData := buildARJ(t, projectEntries)
	corruptARJ := append([]byte(nil), arjData...)
	corruptARJ[10] ^= 0xFF

	tests := []struct {
		name string
		data []byte
	}{
		{"plain text", []byte("definitely not an archive")},
		{"truncated zip", zipData[:len(zipData)/2]},
		{"arj header checksum", corruptARJ},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := NewReader(bytes.NewReader(tt.data), int64(len(tt.data)))
			if err == nil {
				_, err = List(r)
			}
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrFormat), "got %v", err)
		})
	}
}

func TestARJCompressedEntriesListButDoNotRead(t *testing.T) {
	data := buildARJ(t, []testEntry{{name: "packed.bin", body: "xxxx"}})
	// Switch the entry to method 1 and fix up its header checksum.
	mainSize := int(binary.LittleEndian.Uint16(data[2:]))
	entryStart := 4 + mainSize + 4 + 2
	size := int(binary.LittleEndian.Uint16(data[entryStart+2:]))
	body := data[entryStart+4 : entryStart+4+size]
	body[5] = 1
	binary.LittleEndian.PutUint32(data[entryStart+4+size:], crc32.ChecksumIEEE(body))

	r, err := NewReader(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)
	e, err := r.Next()
	require.NoError(t, err)
	assert.Equal(t, "packed.bin", e.Name)
	assert.Equal(t, int64(4), e.Size)

	_, err = io.ReadAll(r)
	assert.ErrorIs(t, err, ErrFormat)

	_, err = r.Next()
	assert.Equal(t, io.EOF, err)
}

func TestDOSTime(t *testing.T) {
	ts := time.Date(2021, 7, 14, 16, 42, 18, 0, time.Local)
	assert.True(t, ts.Equal(dosTime(DOSTime(ts))))
	assert.True(t, dosTime(0).IsZero())
}

func TestOpen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "build.jar")
	require.NoError(t, os.WriteFile(path, buildZip(t, projectEntries), 0o644))

	r, err := Open(path)
	require.NoError(t, err)
	entries, err := List(r)
	require.NoError(t, err)
	assert.Len(t, entries, 4)
	require.NoError(t, r.Close())

	_, err = Open(filepath.Join(dir, "missing.zip"))
	assert.True(t, os.IsNotExist(err))
}

func TestIsArchiveName(t *testing.T) {
	for _, name := range []string{"a.zip", "A.JAR", "x.tar.gz", "x.tgz", "x.7z", "x.arj", "x.tar.zst", "x.tar.lz4", "x.tar.bz2"} {
		assert.True(t, IsArchiveName(name), name)
	}
	for _, name := range []string{"zip", ".zip", "a.txt", "archive", "a.gz"} {
		assert.False(t, IsArchiveName(name), name)
	}
}
