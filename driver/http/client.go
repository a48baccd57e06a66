package http

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	stdhttp "net/http"
	"net/url"
	"strconv"

	"github.com/sirupsen/logrus"

	"github.com/gobeaver/vfskit"
)

// Client sends the requests of one HTTP site.
type Client struct {
	site vfskit.Site
	cfg  *vfskit.Config
	log  logrus.FieldLogger
	http *stdhttp.Client
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(hc *stdhttp.Client) ClientOption {
	return func(c *Client) {
		c.http = hc
	}
}

// NewClient creates the client of a site.
func NewClient(p vfskit.ClientParams, opts ...ClientOption) (*Client, error) {
	if p.Site.Host == "" {
		return nil, vfskit.NewPathError("connect", p.Site.String(), vfskit.ErrCodeConfiguration, "HTTP host is required")
	}
	c := &Client{
		site: p.Site,
		cfg:  p.Config,
		log:  p.Logger.WithField("site", p.Site.String()),
		http: &stdhttp.Client{
			Transport: &stdhttp.Transport{
				Proxy:                 stdhttp.ProxyFromEnvironment,
				DialContext:           (&net.Dialer{Timeout: p.Config.Timeout()}).DialContext,
				TLSHandshakeTimeout:   p.Config.Timeout(),
				ResponseHeaderTimeout: p.Config.Timeout(),
			},
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func newClient(_ context.Context, p vfskit.ClientParams) (vfskit.Client, error) {
	return NewClient(p)
}

// URL returns the request URL of addr without credentials.
func (c *Client) URL(addr vfskit.Address) string {
	u := url.URL{Scheme: addr.Scheme, Host: addr.Host, Path: addr.Path}
	if addr.Port != 0 {
		u.Host = net.JoinHostPort(addr.Host, strconv.Itoa(addr.Port))
	}
	return u.String()
}

func (c *Client) newRequest(ctx context.Context, method string, addr vfskit.Address, body io.Reader) (*stdhttp.Request, error) {
	req, err := stdhttp.NewRequestWithContext(ctx, method, c.URL(addr), body)
	if err != nil {
		return nil, &vfskit.PathError{Op: method, Path: addr.Redacted(), Code: vfskit.ErrCodeInvalid, Err: err}
	}
	req.Header.Set("User-Agent", c.cfg.HTTPUserAgent)
	if c.site.User != "" {
		req.SetBasicAuth(c.site.User, c.site.Password)
	}
	return req, nil
}

// Do sends a bodiless request. Requests failing before a response is
// received are retried within the configured attempts.
func (c *Client) Do(ctx context.Context, method string, addr vfskit.Address) (*stdhttp.Response, error) {
	log := c.log.WithFields(logrus.Fields{"method": method, "address": addr.Redacted()})
	return vfskit.RetryWithResult(ctx, c.cfg, log, func() (*stdhttp.Response, error) {
		req, err := c.newRequest(ctx, method, addr, nil)
		if err != nil {
			return nil, err
		}
		resp, err := c.http.Do(req)
		if err != nil {
			return nil, transportError(method, addr, err)
		}
		log.WithField("status", resp.StatusCode).Debug("http: response")
		return resp, nil
	})
}

// Close releases idle connections.
func (c *Client) Close() error {
	c.http.CloseIdleConnections()
	return nil
}

func transportError(op string, addr vfskit.Address, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return &vfskit.PathError{Op: op, Path: addr.Redacted(), Code: vfskit.ErrCodeTransport, Err: err}
}

// statusError maps an unexpected response status to a vfskit error.
func statusError(op string, addr vfskit.Address, resp *stdhttp.Response) error {
	code := vfskit.ErrCodeTransport
	switch resp.StatusCode {
	case stdhttp.StatusNotFound, stdhttp.StatusGone:
		code = vfskit.ErrCodeNotFound
	case stdhttp.StatusUnauthorized, stdhttp.StatusForbidden:
		code = vfskit.ErrCodePermission
	case stdhttp.StatusMethodNotAllowed, stdhttp.StatusNotImplemented:
		code = vfskit.ErrCodeNotSupported
	}
	return &vfskit.PathError{
		Op:   op,
		Path: addr.Redacted(),
		Code: code,
		Err:  fmt.Errorf("unexpected status %s", resp.Status),
	}
}
