package ftp

import (
	"context"
	"crypto/tls"
	"errors"
	"io"
	"net"
	"net/textproto"
	"sync"
	"syscall"

	"github.com/jlaffaye/ftp"
	"github.com/sirupsen/logrus"

	"github.com/gobeaver/vfskit"
)

// DialFunc opens and logs in a new control connection.
type DialFunc func(ctx context.Context) (*ftp.ServerConn, error)

// Client owns the control connection of one FTP site. Streams get their
// own connection from Open so the control connection stays usable while a
// transfer is in progress.
type Client struct {
	mu   sync.Mutex
	site vfskit.Site
	cfg  *vfskit.Config
	log  logrus.FieldLogger
	dial DialFunc
	conn *ftp.ServerConn
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithDialer replaces the default dialer.
func WithDialer(dial DialFunc) ClientOption {
	return func(c *Client) {
		c.dial = dial
	}
}

// NewClient creates the client of a site. No connection is opened until
// the first operation.
func NewClient(p vfskit.ClientParams, opts ...ClientOption) (*Client, error) {
	if p.Site.Host == "" {
		return nil, vfskit.NewPathError("connect", p.Site.String(), vfskit.ErrCodeConfiguration, "FTP host is required")
	}
	c := &Client{
		site: p.Site,
		cfg:  p.Config,
		log:  p.Logger.WithField("site", p.Site.String()),
	}
	c.dial = c.defaultDial
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func newClient(_ context.Context, p vfskit.ClientParams) (vfskit.Client, error) {
	return NewClient(p)
}

// defaultDial connects and logs in. Sites without a user log in
// anonymously.
func (c *Client) defaultDial(ctx context.Context) (*ftp.ServerConn, error) {
	options := []ftp.DialOption{
		ftp.DialWithContext(ctx),
		ftp.DialWithTimeout(c.cfg.Timeout()),
	}
	if c.cfg.FTPTLS {
		options = append(options, ftp.DialWithExplicitTLS(&tls.Config{ServerName: c.site.Host}))
	}
	conn, err := ftp.Dial(c.site.HostPort(21), options...)
	if err != nil {
		return nil, err
	}

	user, password := c.site.User, c.site.Password
	if user == "" {
		user, password = "anonymous", "anonymous"
	}
	if err := conn.Login(user, password); err != nil {
		conn.Quit()
		return nil, err
	}
	return conn, nil
}

// control returns the control connection, connecting when there is none.
func (c *Client) control(ctx context.Context) (*ftp.ServerConn, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		return c.conn, nil
	}
	conn, err := c.dial(ctx)
	if err != nil {
		return nil, connectError(c.site, err)
	}
	c.log.Debug("ftp: connected")
	c.conn = conn
	return conn, nil
}

func (c *Client) drop(conn *ftp.ServerConn) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != conn {
		return
	}
	c.conn.Quit()
	c.conn = nil
	c.log.Warn("ftp: connection lost")
}

// Do runs fn on the control connection while holding it exclusively. A
// lost connection is reopened and fn retried within the configured
// attempts; any other error of fn is returned as is.
func (c *Client) Do(ctx context.Context, op, path string, fn func(*ftp.ServerConn) error) error {
	var opErr error
	err := vfskit.Retry(ctx, c.cfg, c.log.WithField("op", op), func() error {
		conn, err := c.control(ctx)
		if err != nil {
			return err
		}
		opErr = c.exclusive(fn, conn)
		if connectionLost(opErr) {
			c.drop(conn)
			return &vfskit.PathError{Op: op, Path: path, Code: vfskit.ErrCodeTransport, Err: opErr}
		}
		return nil
	})
	if err != nil {
		return err
	}
	return opErr
}

func (c *Client) exclusive(fn func(*ftp.ServerConn) error, conn *ftp.ServerConn) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return fn(conn)
}

// Open returns a new logged-in connection for one stream. The caller
// quits it when the stream is closed.
func (c *Client) Open(ctx context.Context) (*ftp.ServerConn, error) {
	return vfskit.RetryWithResult(ctx, c.cfg, c.log.WithField("op", "open"), func() (*ftp.ServerConn, error) {
		conn, err := c.dial(ctx)
		if err != nil {
			return nil, connectError(c.site, err)
		}
		return conn, nil
	})
}

// Close quits the control connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	err := c.conn.Quit()
	c.conn = nil
	if connectionLost(err) {
		return nil
	}
	return err
}

func connectionLost(err error) bool {
	if err == nil {
		return false
	}
	var tpErr *textproto.Error
	if errors.As(err, &tpErr) {
		return tpErr.Code == ftp.StatusNotAvailable
	}
	var opErr *net.OpError
	return errors.As(err, &opErr) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, net.ErrClosed) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EPIPE)
}

// connectError classifies a dial or login failure. Rejected logins are
// permission errors and are not retried.
func connectError(site vfskit.Site, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	code := vfskit.ErrCodeTransport
	var tpErr *textproto.Error
	if errors.As(err, &tpErr) {
		switch tpErr.Code {
		case ftp.StatusNotLoggedIn, ftp.StatusLoginNeedAccount, ftp.StatusInvalidCredentials:
			code = vfskit.ErrCodePermission
		}
	}
	return &vfskit.PathError{Op: "connect", Path: site.String(), Code: code, Err: err}
}
