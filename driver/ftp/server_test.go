package ftp

import (
	"bytes"
	"fmt"
	"io"
	"net"
	"net/textproto"
	"path"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
)

// fakeServer is a minimal FTP server over an in-memory tree. It speaks
// just enough of RFC 959 and RFC 2428 (EPSV) for jlaffaye/ftp.
type fakeServer struct {
	t        *testing.T
	ln       net.Listener
	password string

	mu    sync.Mutex
	files map[string][]byte
	dirs  map[string]bool

	logins atomic.Int32
}

func newFakeServer(t *testing.T) *fakeServer {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	s := &fakeServer{
		t:        t,
		ln:       ln,
		password: "secret",
		files:    make(map[string][]byte),
		dirs:     map[string]bool{"/": true},
	}
	go s.serve()
	t.Cleanup(func() { ln.Close() })
	return s
}

func (s *fakeServer) port() int {
	return s.ln.Addr().(*net.TCPAddr).Port
}

func (s *fakeServer) serve() {
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			return
		}
		go s.handle(conn)
	}
}

func (s *fakeServer) handle(conn net.Conn) {
	defer conn.Close()
	tp := textproto.NewConn(conn)
	reply := func(format string, args ...any) {
		tp.PrintfLine(format, args...)
	}
	reply("220 fake ftp ready")

	var data net.Listener
	var renameFrom string
	for {
		line, err := tp.ReadLine()
		if err != nil {
			return
		}
		cmd, arg, _ := strings.Cut(line, " ")
		switch strings.ToUpper(cmd) {
		case "USER":
			reply("331 password required")
		case "PASS":
			if arg != s.password {
				reply("530 login incorrect")
				continue
			}
			s.logins.Add(1)
			reply("230 logged in")
		case "FEAT":
			reply("502 not implemented")
		case "TYPE":
			reply("200 type set")
		case "NOOP":
			reply("200 ok")
		case "EPSV":
			data, err = net.Listen("tcp", "127.0.0.1:0")
			if err != nil {
				reply("425 cannot open data connection")
				continue
			}
			reply("229 Entering Extended Passive Mode (|||%d|)", data.Addr().(*net.TCPAddr).Port)
		case "LIST":
			s.list(tp, data, arg)
			data = nil
		case "RETR":
			s.retr(tp, data, arg)
			data = nil
		case "STOR":
			s.stor(tp, data, arg)
			data = nil
		case "MKD":
			s.mu.Lock()
			if s.exists(arg) || !s.dirs[path.Dir(arg)] {
				reply("550 cannot create %s", arg)
			} else {
				s.dirs[arg] = true
				reply("257 \"%s\" created", arg)
			}
			s.mu.Unlock()
		case "RMD":
			s.mu.Lock()
			if !s.dirs[arg] || len(s.children(arg)) > 0 {
				reply("550 cannot remove %s", arg)
			} else {
				delete(s.dirs, arg)
				reply("250 removed")
			}
			s.mu.Unlock()
		case "DELE":
			s.mu.Lock()
			if _, ok := s.files[arg]; !ok {
				reply("550 no such file")
			} else {
				delete(s.files, arg)
				reply("250 deleted")
			}
			s.mu.Unlock()
		case "RNFR":
			s.mu.Lock()
			if s.exists(arg) {
				renameFrom = arg
				reply("350 ready for destination")
			} else {
				reply("550 no such file")
			}
			s.mu.Unlock()
		case "RNTO":
			s.mu.Lock()
			s.rename(renameFrom, arg)
			s.mu.Unlock()
			renameFrom = ""
			reply("250 renamed")
		case "QUIT":
			reply("221 bye")
			return
		default:
			reply("502 not implemented")
		}
	}
}

// transfer runs fn on the data connection announced by the last EPSV.
func (s *fakeServer) transfer(tp *textproto.Conn, data net.Listener, fn func(net.Conn)) {
	if data == nil {
		tp.PrintfLine("425 use EPSV first")
		return
	}
	defer data.Close()
	tp.PrintfLine("150 opening data connection")
	conn, err := data.Accept()
	if err != nil {
		tp.PrintfLine("425 cannot open data connection")
		return
	}
	fn(conn)
	conn.Close()
	tp.PrintfLine("226 transfer complete")
}

func (s *fakeServer) list(tp *textproto.Conn, data net.Listener, dir string) {
	s.mu.Lock()
	if !s.dirs[dir] {
		s.mu.Unlock()
		if data != nil {
			data.Close()
		}
		tp.PrintfLine("550 no such directory")
		return
	}
	var lines []string
	for _, name := range s.children(dir) {
		full := path.Join(dir, name)
		if s.dirs[full] {
			lines = append(lines, fmt.Sprintf("drwxr-xr-x 1 ftp ftp 0 Jan 02 15:04 %s", name))
		} else {
			lines = append(lines, fmt.Sprintf("-rw-r--r-- 1 ftp ftp %d Jan 02 15:04 %s", len(s.files[full]), name))
		}
	}
	s.mu.Unlock()

	s.transfer(tp, data, func(conn net.Conn) {
		for _, l := range lines {
			fmt.Fprintf(conn, "%s\r\n", l)
		}
	})
}

func (s *fakeServer) retr(tp *textproto.Conn, data net.Listener, name string) {
	s.mu.Lock()
	content, ok := s.files[name]
	s.mu.Unlock()
	if !ok {
		if data != nil {
			data.Close()
		}
		tp.PrintfLine("550 no such file")
		return
	}
	s.transfer(tp, data, func(conn net.Conn) {
		conn.Write(content)
	})
}

func (s *fakeServer) stor(tp *textproto.Conn, data net.Listener, name string) {
	s.mu.Lock()
	parentOK := s.dirs[path.Dir(name)]
	s.mu.Unlock()
	if !parentOK {
		if data != nil {
			data.Close()
		}
		tp.PrintfLine("553 parent directory missing")
		return
	}
	s.transfer(tp, data, func(conn net.Conn) {
		var buf bytes.Buffer
		io.Copy(&buf, conn)
		s.mu.Lock()
		s.files[name] = buf.Bytes()
		s.mu.Unlock()
	})
}

// children returns the sorted names below dir. Callers hold mu.
func (s *fakeServer) children(dir string) []string {
	var out []string
	for name := range s.files {
		if name != dir && path.Dir(name) == dir {
			out = append(out, path.Base(name))
		}
	}
	for name := range s.dirs {
		if name != dir && path.Dir(name) == dir {
			out = append(out, path.Base(name))
		}
	}
	sort.Strings(out)
	return out
}

func (s *fakeServer) exists(name string) bool {
	_, ok := s.files[name]
	return ok || s.dirs[name]
}

func (s *fakeServer) rename(from, to string) {
	if content, ok := s.files[from]; ok {
		delete(s.files, from)
		s.files[to] = content
		return
	}
	prefix := from + "/"
	for name, content := range s.files {
		if strings.HasPrefix(name, prefix) {
			delete(s.files, name)
			s.files[to+"/"+strings.TrimPrefix(name, prefix)] = content
		}
	}
	for name := range s.dirs {
		if name == from || strings.HasPrefix(name, prefix) {
			delete(s.dirs, name)
			s.dirs[to+strings.TrimPrefix(name, from)] = true
		}
	}
}
