package vfskit

import (
	"context"
	"crypto/md5"  //nolint:gosec // integrity only
	"crypto/sha1" //nolint:gosec // integrity only
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"fmt"
	"hash"
	"hash/crc32"
	"io"
	"os"
	"sort"

	"github.com/cespare/xxhash/v2"
)

// ChecksumAlgorithm names a digest understood by Handle.Checksum.
type ChecksumAlgorithm string

const (
	ChecksumMD5    ChecksumAlgorithm = "md5"
	ChecksumSHA1   ChecksumAlgorithm = "sha1"
	ChecksumSHA256 ChecksumAlgorithm = "sha256"
	ChecksumSHA512 ChecksumAlgorithm = "sha512"
	ChecksumCRC32  ChecksumAlgorithm = "crc32"
	// ChecksumXXHash is the 64-bit xxHash, rendered as 16 hex digits.
	ChecksumXXHash ChecksumAlgorithm = "xxhash"
)

var hashers = map[ChecksumAlgorithm]func() hash.Hash{
	ChecksumMD5:    md5.New,
	ChecksumSHA1:   sha1.New,
	ChecksumSHA256: sha256.New,
	ChecksumSHA512: sha512.New,
	ChecksumCRC32:  func() hash.Hash { return crc32.NewIEEE() },
	ChecksumXXHash: func() hash.Hash { return xxhash.New() },
}

// ChecksumAlgorithms lists every supported algorithm in name order.
func ChecksumAlgorithms() []ChecksumAlgorithm {
	out := make([]ChecksumAlgorithm, 0, len(hashers))
	for a := range hashers {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// NewHasher returns a fresh hash for algorithm, or ErrNotSupported.
func NewHasher(algorithm ChecksumAlgorithm) (hash.Hash, error) {
	mk, ok := hashers[algorithm]
	if !ok {
		return nil, fmt.Errorf("%w: checksum algorithm %q", ErrNotSupported, algorithm)
	}
	return mk(), nil
}

// CalculateChecksum drains r and returns its hex digest.
func CalculateChecksum(r io.Reader, algorithm ChecksumAlgorithm) (string, error) {
	h, err := NewHasher(algorithm)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(h, r); err != nil {
		return "", fmt.Errorf("checksum: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// ChecksumFile hashes a local file.
func ChecksumFile(path string, algorithm ChecksumAlgorithm) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	return CalculateChecksum(f, algorithm)
}

// SpoolFunc hashes a local file on behalf of a remote provider.
type SpoolFunc func(localPath string, algorithm ChecksumAlgorithm) (string, error)

// ChecksumViaTempFile spools r into a temporary file under dir and hands
// it to sum. The file is removed afterwards.
func ChecksumViaTempFile(r io.Reader, dir string, algorithm ChecksumAlgorithm, sum SpoolFunc) (string, error) {
	if _, ok := hashers[algorithm]; !ok {
		return "", fmt.Errorf("%w: checksum algorithm %q", ErrNotSupported, algorithm)
	}
	tmp, err := os.CreateTemp(dir, "vfskit-checksum-*")
	if err != nil {
		return "", err
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		return "", err
	}
	if err := tmp.Close(); err != nil {
		return "", err
	}
	return sum(tmp.Name(), algorithm)
}

// VerifyChecksum reports whether the digest of h equals expected.
func VerifyChecksum(ctx context.Context, h *Handle, expected string, algorithm ChecksumAlgorithm) (bool, error) {
	actual, err := h.Checksum(ctx, algorithm)
	if err != nil {
		return false, err
	}
	return actual == expected, nil
}
