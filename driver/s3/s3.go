// Package s3 provides the s3:// provider for S3-compatible object stores.
//
// Keys map to paths below the bucket root. Directories are either marker
// objects whose key ends with "/" or prefixes shared by other keys.
// Attributes, owners, ACLs and timestamps cannot be set.
package s3

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/sirupsen/logrus"

	"github.com/gobeaver/vfskit"
	"github.com/gobeaver/vfskit/driver/local"
)

// pollInterval is how often Watch re-reads the object metadata.
var pollInterval = 30 * time.Second

// Provider serves the objects of one bucket.
type Provider struct {
	client *Client
	cfg    *vfskit.Config
	log    logrus.FieldLogger
}

var (
	_ vfskit.Provider    = (*Provider)(nil)
	_ vfskit.CanChecksum = (*Provider)(nil)
	_ vfskit.CanMove     = (*Provider)(nil)
	_ vfskit.CanWatch    = (*Provider)(nil)
)

func newProvider(_ context.Context, p vfskit.ProviderParams) (vfskit.Provider, error) {
	client, ok := p.Client.(*Client)
	if !ok {
		return nil, vfskit.NewPathError("connect", p.Site.String(), vfskit.ErrCodeConfiguration, "s3 provider needs an s3 client")
	}
	return &Provider{client: client, cfg: p.Config, log: p.Logger}, nil
}

// objectKey returns the key of addr without the leading slash.
func objectKey(addr vfskit.Address) string {
	return strings.TrimPrefix(addr.CleanPath(), "/")
}

// dirPrefix returns the prefix listing the children of addr: "" for the
// bucket root, otherwise the key with a trailing slash.
func dirPrefix(addr vfskit.Address) string {
	key := objectKey(addr)
	if key == "" {
		return ""
	}
	return key + "/"
}

// Materialize tries the object first and falls back to the directory
// prefix, since a directory may exist only through the keys below it.
func (p *Provider) Materialize(ctx context.Context, rec *vfskit.Record) error {
	if rec.Address.IsRoot() {
		rec.Exists = true
		rec.Dir = true
		return nil
	}
	op, path := "materialize", rec.Address.Redacted()
	key := objectKey(rec.Address)

	if !rec.Address.IsDir() {
		head, err := p.client.api.HeadObject(ctx, &s3.HeadObjectInput{
			Bucket: aws.String(p.client.bucket),
			Key:    aws.String(key),
		})
		switch {
		case err == nil:
			rec.Exists = true
			rec.Dir = false
			rec.Size = aws.ToInt64(head.ContentLength)
			rec.Modified = aws.ToTime(head.LastModified)
			return nil
		case !isNotFound(err):
			return translate(op, path, err)
		}
	}

	out, err := p.client.api.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket:  aws.String(p.client.bucket),
		Prefix:  aws.String(key + "/"),
		MaxKeys: aws.Int32(1),
	})
	if err != nil {
		return translate(op, path, err)
	}
	if len(out.Contents) == 0 && len(out.CommonPrefixes) == 0 {
		rec.Exists = false
		return nil
	}
	rec.Exists = true
	rec.Dir = true
	rec.Size = 0
	if len(out.Contents) > 0 && aws.ToString(out.Contents[0].Key) == key+"/" {
		rec.Modified = aws.ToTime(out.Contents[0].LastModified)
	}
	return nil
}

func (p *Provider) Create(ctx context.Context, rec *vfskit.Record, dir bool) error {
	input := &s3.PutObjectInput{
		Bucket: aws.String(p.client.bucket),
		Key:    aws.String(objectKey(rec.Address)),
		Body:   bytes.NewReader(nil),
	}
	if dir {
		input.Key = aws.String(dirPrefix(rec.Address))
		input.ContentType = aws.String("application/x-directory")
	}
	_, err := p.client.api.PutObject(ctx, input)
	return translate("create", rec.Address.Redacted(), err)
}

// Delete removes the object, or the marker of a directory. Objects below
// a directory are deleted by the caller first.
func (p *Provider) Delete(ctx context.Context, rec *vfskit.Record) error {
	key := objectKey(rec.Address)
	if rec.Dir {
		key = dirPrefix(rec.Address)
	}
	_, err := p.client.api.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(p.client.bucket),
		Key:    aws.String(key),
	})
	return translate("delete", rec.Address.Redacted(), err)
}

func (p *Provider) Read(ctx context.Context, rec *vfskit.Record) (io.ReadCloser, error) {
	resp, err := p.client.api.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(p.client.bucket),
		Key:    aws.String(objectKey(rec.Address)),
	})
	if err != nil {
		return nil, translate("read", rec.Address.Redacted(), err)
	}
	return resp.Body, nil
}

// Write streams through the upload manager, which switches to a multipart
// upload for large content. The object is visible once Close returns.
func (p *Provider) Write(ctx context.Context, rec *vfskit.Record) (io.WriteCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	pr, pw := io.Pipe()
	w := &uploadWriter{pw: pw, done: make(chan error, 1)}
	go func() {
		_, err := p.client.uploader.Upload(ctx, &s3.PutObjectInput{
			Bucket: aws.String(p.client.bucket),
			Key:    aws.String(objectKey(rec.Address)),
			Body:   pr,
		})
		err = translate("write", rec.Address.Redacted(), err)
		pr.CloseWithError(err)
		w.done <- err
	}()
	return w, nil
}

type uploadWriter struct {
	pw       *io.PipeWriter
	done     chan error
	closed   atomic.Bool
	closeErr error
}

func (w *uploadWriter) Write(b []byte) (int, error) {
	if w.closed.Load() {
		return 0, io.ErrClosedPipe
	}
	return w.pw.Write(b)
}

func (w *uploadWriter) Close() error {
	if !w.closed.CompareAndSwap(false, true) {
		return w.closeErr
	}
	w.pw.Close()
	w.closeErr = <-w.done
	return w.closeErr
}

// List returns the objects and common prefixes directly below the
// directory.
func (p *Provider) List(ctx context.Context, rec *vfskit.Record) ([]vfskit.DirEntry, error) {
	prefix := dirPrefix(rec.Address)
	paginator := s3.NewListObjectsV2Paginator(p.client.api, &s3.ListObjectsV2Input{
		Bucket:    aws.String(p.client.bucket),
		Prefix:    aws.String(prefix),
		Delimiter: aws.String("/"),
	})

	var out []vfskit.DirEntry
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, translate("list", rec.Address.Redacted(), err)
		}
		for _, cp := range page.CommonPrefixes {
			name := strings.TrimSuffix(strings.TrimPrefix(aws.ToString(cp.Prefix), prefix), "/")
			if name == "" {
				continue
			}
			out = append(out, vfskit.DirEntry{Name: name, Dir: true})
		}
		for _, obj := range page.Contents {
			name := strings.TrimPrefix(aws.ToString(obj.Key), prefix)
			if name == "" || strings.Contains(name, "/") {
				continue
			}
			out = append(out, vfskit.DirEntry{
				Name:     name,
				Size:     aws.ToInt64(obj.Size),
				Modified: aws.ToTime(obj.LastModified),
			})
		}
	}
	return out, nil
}

// Close is a no-op; the Context closes the shared Client.
func (p *Provider) Close() error {
	return nil
}

// Checksum downloads the object to a temporary local copy and hashes it
// there.
func (p *Provider) Checksum(ctx context.Context, rec *vfskit.Record, algorithm vfskit.ChecksumAlgorithm) (string, error) {
	r, err := p.Read(ctx, rec)
	if err != nil {
		return "", err
	}
	defer r.Close()
	return vfskit.ChecksumViaTempFile(r, p.cfg.TempDir, algorithm, local.ChecksumPath)
}

// Move copies on the server and deletes the source. S3 has no rename; a
// directory is moved key by key.
func (p *Provider) Move(ctx context.Context, src *vfskit.Record, dst vfskit.Address) error {
	op, path := "move", src.Address.Redacted()
	if !src.Dir {
		return translate(op, path, p.moveKey(ctx, objectKey(src.Address), objectKey(dst)))
	}

	from, to := dirPrefix(src.Address), dirPrefix(dst)
	paginator := s3.NewListObjectsV2Paginator(p.client.api, &s3.ListObjectsV2Input{
		Bucket: aws.String(p.client.bucket),
		Prefix: aws.String(from),
	})
	var keys []string
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return translate(op, path, err)
		}
		for _, obj := range page.Contents {
			keys = append(keys, aws.ToString(obj.Key))
		}
	}
	for _, key := range keys {
		if err := p.moveKey(ctx, key, to+strings.TrimPrefix(key, from)); err != nil {
			return translate(op, path, err)
		}
	}
	p.log.WithFields(logrus.Fields{"from": from, "to": to, "objects": len(keys)}).Debug("s3: moved prefix")
	return nil
}

func (p *Provider) moveKey(ctx context.Context, from, to string) error {
	_, err := p.client.api.CopyObject(ctx, &s3.CopyObjectInput{
		Bucket:     aws.String(p.client.bucket),
		CopySource: aws.String(url.PathEscape(p.client.bucket) + "/" + escapeKey(from)),
		Key:        aws.String(to),
	})
	if err != nil {
		return err
	}
	_, err = p.client.api.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(p.client.bucket),
		Key:    aws.String(from),
	})
	return err
}

// escapeKey URL-encodes each segment of key for the copy source header.
func escapeKey(key string) string {
	segs := strings.Split(key, "/")
	for i, s := range segs {
		segs[i] = url.PathEscape(s)
	}
	return strings.Join(segs, "/")
}

// Watch polls the object metadata; S3 has no change notifications on
// the data plane.
func (p *Provider) Watch(ctx context.Context, rec *vfskit.Record) (vfskit.ChangeToken, error) {
	first := rec.Fresh()
	if err := p.Materialize(ctx, first); err != nil {
		return nil, err
	}
	return vfskit.NewPollingChangeToken(ctx, pollInterval, func() bool {
		cur := rec.Fresh()
		if err := p.Materialize(ctx, cur); err != nil {
			return false
		}
		return cur.Exists != first.Exists || cur.Size != first.Size || !cur.Modified.Equal(first.Modified)
	}), nil
}

func isNotFound(err error) bool {
	var nsk *types.NoSuchKey
	var nf *types.NotFound
	if errors.As(err, &nsk) || errors.As(err, &nf) {
		return true
	}
	var apiErr smithy.APIError
	return errors.As(err, &apiErr) && apiErr.ErrorCode() == "NotFound"
}

// translate maps S3 error codes to vfskit error codes.
func translate(op, path string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	if isNotFound(err) {
		return &vfskit.PathError{Op: op, Path: path, Code: vfskit.ErrCodeNotFound, Err: err}
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchBucket":
			return &vfskit.PathError{Op: op, Path: path, Code: vfskit.ErrCodeNotFound, Err: err}
		case "AccessDenied", "Forbidden", "InvalidAccessKeyId", "SignatureDoesNotMatch":
			return &vfskit.PathError{Op: op, Path: path, Code: vfskit.ErrCodePermission, Err: err}
		case "NotImplemented", "MethodNotAllowed":
			return &vfskit.PathError{Op: op, Path: path, Code: vfskit.ErrCodeNotSupported, Err: err}
		case "InvalidArgument", "KeyTooLongError", "InvalidObjectName":
			return &vfskit.PathError{Op: op, Path: path, Code: vfskit.ErrCodeInvalid, Err: err}
		}
	}
	return vfskit.WrapPathErr(op, path, err)
}
