package vfskit

import (
	"net/url"
	"path"
	"path/filepath"
	"strconv"
	"strings"
)

// Protocol identifies the backend family of an address. It is the
// lower-cased URI scheme.
type Protocol string

const (
	ProtocolFile   Protocol = "file"
	ProtocolSFTP   Protocol = "sftp"
	ProtocolFTP    Protocol = "ftp"
	ProtocolHTTP   Protocol = "http"
	ProtocolHTTPS  Protocol = "https"
	ProtocolS3     Protocol = "s3"
	ProtocolMemory Protocol = "mem"
)

var defaultPorts = map[string]int{
	"ftp":   21,
	"sftp":  22,
	"http":  80,
	"https": 443,
}

// Address is a normalized locator: scheme://[user[:pass]@]host[:port]/path.
// The path is always absolute and slash separated; a trailing slash encodes
// directory intent.
type Address struct {
	Scheme   string
	User     string
	Password string
	Host     string
	Port     int
	Path     string
}

// Site identifies one endpoint: scheme, host, port and credentials.
type Site struct {
	Scheme   string
	User     string
	Password string
	Host     string
	Port     int
}

// Key returns the map key of the site. Credentials are part of the key so
// two users of one host never share a connection.
func (s Site) Key() string {
	return Address{Scheme: s.Scheme, User: s.User, Password: s.Password, Host: s.Host, Port: s.Port, Path: "/"}.String()
}

// Protocol returns the protocol of the site.
func (s Site) Protocol() Protocol {
	return Protocol(s.Scheme)
}

// HostPort returns host:port, using the protocol default when no port was given.
func (s Site) HostPort(defaultPort int) string {
	port := s.Port
	if port == 0 {
		if p, ok := defaultPorts[s.Scheme]; ok {
			port = p
		} else {
			port = defaultPort
		}
	}
	return s.Host + ":" + strconv.Itoa(port)
}

// String returns the site with the password masked.
func (s Site) String() string {
	return Address{Scheme: s.Scheme, User: s.User, Password: s.Password, Host: s.Host, Port: s.Port, Path: "/"}.Redacted()
}

// ParseAddress parses and normalizes a locator. Strings without a scheme are
// treated as local paths and mapped to file addresses.
func ParseAddress(raw string) (Address, error) {
	if raw == "" {
		return Address{}, NewPathError("parse", raw, ErrCodeInvalid, "empty address")
	}

	if !strings.Contains(raw, "://") {
		return localAddress(raw)
	}

	u, err := url.Parse(raw)
	if err != nil {
		return Address{}, &PathError{Op: "parse", Path: raw, Code: ErrCodeInvalid, Err: err}
	}

	a := Address{
		Scheme: strings.ToLower(u.Scheme),
		Host:   strings.ToLower(u.Hostname()),
		Path:   u.Path,
	}
	if a.Scheme == "" {
		return Address{}, NewPathError("parse", raw, ErrCodeInvalid, "missing scheme")
	}
	if u.User != nil {
		a.User = u.User.Username()
		a.Password, _ = u.User.Password()
	}
	if p := u.Port(); p != "" {
		port, err := strconv.Atoi(p)
		if err != nil || port <= 0 || port > 65535 {
			return Address{}, NewPathError("parse", raw, ErrCodeInvalid, "invalid port "+p)
		}
		a.Port = port
	}
	return a.normalize(), nil
}

// MustParseAddress is like ParseAddress but panics on error.
func MustParseAddress(raw string) Address {
	a, err := ParseAddress(raw)
	if err != nil {
		panic(err)
	}
	return a
}

func localAddress(raw string) (Address, error) {
	dir := strings.HasSuffix(raw, "/") || strings.HasSuffix(raw, string(filepath.Separator))
	abs, err := filepath.Abs(raw)
	if err != nil {
		return Address{}, &PathError{Op: "parse", Path: raw, Code: ErrCodeInvalid, Err: err}
	}
	p := filepath.ToSlash(abs)
	if vol := filepath.VolumeName(abs); vol != "" {
		p = "/" + p
	}
	if dir {
		p += "/"
	}
	return Address{Scheme: string(ProtocolFile), Path: p}.normalize(), nil
}

func (a Address) normalize() Address {
	if port, ok := defaultPorts[a.Scheme]; ok && a.Port == port {
		a.Port = 0
	}
	a.Path = cleanPath(a.Path)
	return a
}

// cleanPath cleans p, making it absolute and preserving a trailing slash.
func cleanPath(p string) string {
	if p == "" || p == "/" {
		return "/"
	}
	dir := strings.HasSuffix(p, "/")
	p = path.Clean("/" + p)
	if dir && p != "/" {
		p += "/"
	}
	return p
}

// String returns the normalized form used for cache equivalence.
func (a Address) String() string {
	return a.format(false)
}

// Redacted returns the normalized form with the password masked.
func (a Address) Redacted() string {
	return a.format(true)
}

func (a Address) format(redact bool) string {
	var b strings.Builder
	b.WriteString(a.Scheme)
	b.WriteString("://")
	if a.User != "" {
		b.WriteString(url.PathEscape(a.User))
		if a.Password != "" {
			b.WriteByte(':')
			if redact {
				b.WriteString("xxxxx")
			} else {
				b.WriteString(url.PathEscape(a.Password))
			}
		}
		b.WriteByte('@')
	}
	b.WriteString(a.Host)
	if a.Port != 0 {
		b.WriteByte(':')
		b.WriteString(strconv.Itoa(a.Port))
	}
	if a.Path == "" {
		b.WriteByte('/')
	} else {
		b.WriteString(a.Path)
	}
	return b.String()
}

// Protocol returns the protocol of the address.
func (a Address) Protocol() Protocol {
	return Protocol(a.Scheme)
}

// Site returns the endpoint part of the address.
func (a Address) Site() Site {
	return Site{Scheme: a.Scheme, User: a.User, Password: a.Password, Host: a.Host, Port: a.Port}
}

// IsDir reports whether the address carries directory intent.
func (a Address) IsDir() bool {
	return strings.HasSuffix(a.Path, "/")
}

// IsRoot reports whether the address is the root of its site.
func (a Address) IsRoot() bool {
	return a.Path == "/" || a.Path == ""
}

// AsDir returns the address with directory intent.
func (a Address) AsDir() Address {
	if !a.IsDir() {
		a.Path += "/"
	}
	return a
}

// AsFile returns the address without directory intent.
func (a Address) AsFile() Address {
	if !a.IsRoot() {
		a.Path = strings.TrimSuffix(a.Path, "/")
	}
	return a
}

// WithDir returns the address with the directory flag set to dir.
func (a Address) WithDir(dir bool) Address {
	if dir {
		return a.AsDir()
	}
	return a.AsFile()
}

// CleanPath returns the path without a trailing slash ("/" for the root).
func (a Address) CleanPath() string {
	return a.AsFile().Path
}

// Name returns the last path segment, or "" for the root.
func (a Address) Name() string {
	if a.IsRoot() {
		return ""
	}
	return path.Base(a.CleanPath())
}

// Parent returns the address of the enclosing directory. The root has no parent.
func (a Address) Parent() (Address, bool) {
	if a.IsRoot() {
		return a, false
	}
	a.Path = cleanPath(path.Dir(a.CleanPath()) + "/")
	return a, true
}

// Join appends path elements. The result has directory intent only if the
// last element ends with a slash.
func (a Address) Join(elem ...string) Address {
	if len(elem) == 0 {
		return a
	}
	last := elem[len(elem)-1]
	parts := append([]string{a.CleanPath()}, elem...)
	p := path.Join(parts...)
	if strings.HasSuffix(last, "/") {
		p += "/"
	}
	a.Path = cleanPath(p)
	return a
}

// Segments returns the path segments from the root.
func (a Address) Segments() []string {
	p := strings.Trim(a.Path, "/")
	if p == "" {
		return nil
	}
	return strings.Split(p, "/")
}

// Equal reports whether both addresses have the same normalized form.
func (a Address) Equal(b Address) bool {
	return a.String() == b.String()
}

// LocalPath converts a file address to an OS path.
func (a Address) LocalPath() string {
	p := a.CleanPath()
	if len(p) >= 3 && p[0] == '/' && p[2] == ':' {
		p = p[1:]
	}
	return filepath.FromSlash(p)
}

// Relative returns the slash path of a below base, or false if a is not
// inside base.
func (a Address) Relative(base Address) (string, bool) {
	if a.Site().Key() != base.Site().Key() {
		return "", false
	}
	bp := base.AsDir().Path
	ap := a.Path
	if ap == bp || ap+"/" == bp {
		return "", true
	}
	if !strings.HasPrefix(ap, bp) {
		return "", false
	}
	return ap[len(bp):], true
}
