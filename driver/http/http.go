// Package http provides the read-mostly http:// and https:// provider.
//
// A URL is a file: HEAD materializes it, GET reads it and PUT replaces it.
// HTTP has no directories, so create, delete, list and every metadata
// setter report ErrNotSupported. Addresses with a trailing slash are
// treated as existing directories so writes below them are not blocked.
package http

import (
	"context"
	"io"
	stdhttp "net/http"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/gobeaver/vfskit"
)

// Provider serves files of one HTTP site.
type Provider struct {
	client *Client
	log    logrus.FieldLogger
}

var _ vfskit.Provider = (*Provider)(nil)

func newProvider(_ context.Context, p vfskit.ProviderParams) (vfskit.Provider, error) {
	client, ok := p.Client.(*Client)
	if !ok {
		return nil, vfskit.NewPathError("connect", p.Site.String(), vfskit.ErrCodeConfiguration, "http provider needs an http client")
	}
	return &Provider{client: client, log: p.Logger}, nil
}

func (p *Provider) Materialize(ctx context.Context, rec *vfskit.Record) error {
	if rec.Address.IsDir() || rec.Address.IsRoot() {
		rec.Exists = true
		rec.Dir = true
		return nil
	}
	resp, err := p.client.Do(ctx, stdhttp.MethodHead, rec.Address)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == stdhttp.StatusNotFound || resp.StatusCode == stdhttp.StatusGone:
		rec.Exists = false
		return nil
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return statusError("materialize", rec.Address, resp)
	}

	rec.Exists = true
	rec.Dir = false
	if resp.ContentLength >= 0 {
		rec.Size = resp.ContentLength
	}
	if lm := resp.Header.Get("Last-Modified"); lm != "" {
		if t, err := stdhttp.ParseTime(lm); err == nil {
			rec.Modified = t
		}
	}
	return nil
}

func (p *Provider) Create(_ context.Context, rec *vfskit.Record, _ bool) error {
	return vfskit.Unsupported("create", rec.Address.Redacted())
}

func (p *Provider) Delete(_ context.Context, rec *vfskit.Record) error {
	return vfskit.Unsupported("delete", rec.Address.Redacted())
}

func (p *Provider) List(_ context.Context, rec *vfskit.Record) ([]vfskit.DirEntry, error) {
	return nil, vfskit.Unsupported("list", rec.Address.Redacted())
}

func (p *Provider) Read(ctx context.Context, rec *vfskit.Record) (io.ReadCloser, error) {
	resp, err := p.client.Do(ctx, stdhttp.MethodGet, rec.Address)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		resp.Body.Close()
		return nil, statusError("read", rec.Address, resp)
	}
	return resp.Body, nil
}

// Write streams the content as the body of a PUT request. The request
// completes, and its status is checked, when the writer is closed.
func (p *Provider) Write(ctx context.Context, rec *vfskit.Record) (io.WriteCloser, error) {
	pr, pw := io.Pipe()
	req, err := p.client.newRequest(ctx, stdhttp.MethodPut, rec.Address, pr)
	if err != nil {
		return nil, err
	}
	w := &putWriter{pw: pw, done: make(chan error, 1)}
	go func() {
		err := p.send(req, rec.Address)
		pr.CloseWithError(err)
		w.done <- err
	}()
	return w, nil
}

func (p *Provider) send(req *stdhttp.Request, addr vfskit.Address) error {
	resp, err := p.client.http.Do(req)
	if err != nil {
		return transportError("write", addr, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return statusError("write", addr, resp)
	}
	return nil
}

type putWriter struct {
	pw   *io.PipeWriter
	done chan error
	once sync.Once
	err  error
}

func (w *putWriter) Write(b []byte) (int, error) {
	return w.pw.Write(b)
}

func (w *putWriter) Close() error {
	w.once.Do(func() {
		w.pw.Close()
		w.err = <-w.done
	})
	return w.err
}

// Close is a no-op; the Context closes the shared Client.
func (p *Provider) Close() error {
	return nil
}
