package sftp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/pkg/sftp"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/gobeaver/vfskit"
)

// DialFunc opens a new SFTP session. The returned closer releases the
// underlying transport after the session is closed.
type DialFunc func(ctx context.Context) (*sftp.Client, io.Closer, error)

// Client owns the SFTP session of one site. The session is opened on first
// use and reopened when the connection is lost.
type Client struct {
	mu     sync.Mutex
	site   vfskit.Site
	cfg    *vfskit.Config
	log    logrus.FieldLogger
	dial   DialFunc
	conn   *sftp.Client
	closer io.Closer
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithDialer replaces the SSH dialer, e.g. with an in-process server.
func WithDialer(dial DialFunc) ClientOption {
	return func(c *Client) {
		c.dial = dial
	}
}

// NewClient creates the client of a site. SSH settings are validated here;
// the connection itself is opened lazily.
func NewClient(p vfskit.ClientParams, opts ...ClientOption) (*Client, error) {
	c := &Client{
		site: p.Site,
		cfg:  p.Config,
		log:  p.Logger.WithField("site", p.Site.String()),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.dial == nil {
		dial, err := sshDialer(p.Site, p.Config)
		if err != nil {
			return nil, err
		}
		c.dial = dial
	}
	return c, nil
}

func newClient(_ context.Context, p vfskit.ClientParams) (vfskit.Client, error) {
	return NewClient(p)
}

// sshDialer builds the SSH client configuration of a site.
func sshDialer(site vfskit.Site, cfg *vfskit.Config) (DialFunc, error) {
	if site.User == "" {
		return nil, vfskit.NewPathError("connect", site.String(), vfskit.ErrCodeConfiguration, "SFTP user is required")
	}

	sshConfig := &ssh.ClientConfig{
		User:    site.User,
		Timeout: cfg.Timeout(),
	}

	if cfg.SFTPPrivateKey != "" {
		keyData, err := os.ReadFile(cfg.SFTPPrivateKey)
		if err != nil {
			return nil, &vfskit.PathError{Op: "connect", Path: site.String(), Code: vfskit.ErrCodeConfiguration,
				Err: fmt.Errorf("failed to read private key: %w", err)}
		}
		signer, err := ssh.ParsePrivateKey(keyData)
		if err != nil {
			return nil, &vfskit.PathError{Op: "connect", Path: site.String(), Code: vfskit.ErrCodeConfiguration,
				Err: fmt.Errorf("failed to parse private key: %w", err)}
		}
		sshConfig.Auth = append(sshConfig.Auth, ssh.PublicKeys(signer))
	}
	if site.Password != "" {
		sshConfig.Auth = append(sshConfig.Auth, ssh.Password(site.Password))
	}
	if len(sshConfig.Auth) == 0 {
		return nil, vfskit.NewPathError("connect", site.String(), vfskit.ErrCodeConfiguration, "no authentication method provided")
	}

	hostKey, err := hostKeyCallback(cfg)
	if err != nil {
		return nil, &vfskit.PathError{Op: "connect", Path: site.String(), Code: vfskit.ErrCodeConfiguration, Err: err}
	}
	sshConfig.HostKeyCallback = hostKey

	addr := site.HostPort(22)
	return func(ctx context.Context) (*sftp.Client, io.Closer, error) {
		d := net.Dialer{Timeout: cfg.Timeout()}
		netConn, err := d.DialContext(ctx, "tcp", addr)
		if err != nil {
			return nil, nil, err
		}
		conn, chans, reqs, err := ssh.NewClientConn(netConn, addr, sshConfig)
		if err != nil {
			netConn.Close()
			return nil, nil, err
		}
		sshConn := ssh.NewClient(conn, chans, reqs)
		sftpClient, err := sftp.NewClient(sshConn)
		if err != nil {
			sshConn.Close()
			return nil, nil, fmt.Errorf("failed to create SFTP client: %w", err)
		}
		return sftpClient, sshConn, nil
	}, nil
}

// hostKeyCallback verifies servers against a known_hosts file unless the
// insecure flag is set.
func hostKeyCallback(cfg *vfskit.Config) (ssh.HostKeyCallback, error) {
	if cfg.SFTPInsecure {
		return ssh.InsecureIgnoreHostKey(), nil
	}
	file := cfg.SFTPKnownHosts
	if file == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("no known_hosts file configured: %w", err)
		}
		file = filepath.Join(home, ".ssh", "known_hosts")
	}
	return knownhosts.New(file)
}

// session returns the open SFTP session, connecting when there is none.
func (c *Client) session(ctx context.Context) (*sftp.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		return c.conn, nil
	}
	conn, closer, err := c.dial(ctx)
	if err != nil {
		return nil, connectError(c.site, err)
	}
	c.log.Debug("sftp: connected")
	c.conn = conn
	c.closer = closer
	return conn, nil
}

// drop forgets conn if it is still the current session.
func (c *Client) drop(conn *sftp.Client) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != conn {
		return
	}
	c.closeLocked()
	c.log.Warn("sftp: connection lost")
}

// Do runs fn against the session. A lost connection is reopened and fn
// retried within the configured attempts; any other error of fn is
// returned as is.
func (c *Client) Do(ctx context.Context, op, path string, fn func(*sftp.Client) error) error {
	var opErr error
	err := vfskit.Retry(ctx, c.cfg, c.log.WithField("op", op), func() error {
		conn, err := c.session(ctx)
		if err != nil {
			return err
		}
		opErr = fn(conn)
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

// Close closes the SFTP session and the SSH connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeLocked()
}

func (c *Client) closeLocked() error {
	var errs []error
	if c.conn != nil {
		if err := c.conn.Close(); err != nil {
			errs = append(errs, err)
		}
		c.conn = nil
	}
	if c.closer != nil {
		if err := c.closer.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			errs = append(errs, err)
		}
		c.closer = nil
	}
	return errors.Join(errs...)
}

func connectionLost(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, sftp.ErrSSHFxConnectionLost) ||
		errors.Is(err, sftp.ErrSSHFxNoConnection) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, io.ErrClosedPipe) ||
		errors.Is(err, net.ErrClosed)
}

// connectError classifies a dial failure. Rejected credentials and host keys
// are permission errors and are not retried.
func connectError(site vfskit.Site, err error) error {
	code := vfskit.ErrCodeTransport
	var keyErr *knownhosts.KeyError
	switch {
	case errors.As(err, &keyErr), strings.Contains(err.Error(), "unable to authenticate"):
		code = vfskit.ErrCodePermission
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	}
	return &vfskit.PathError{Op: "connect", Path: site.String(), Code: code, Err: err}
}
