// Package ctrl is the control channel between a running daemon and the
// CLI. One text command per connection over a unix socket, answered
// with a status code line followed by the body.
package ctrl

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/yanun0323/logs"
)

// Status codes carried on the first reply line. They double as process
// exit codes on the client side.
const (
	CodeOK      = 0
	CodeUsage   = 1
	CodeUnknown = 2
	CodeRuntime = 3
)

// ErrUnknownEntity marks a command argument that names no known
// trader, broker or trade. Handlers wrap it to get CodeUnknown back to
// the client instead of CodeRuntime.
var ErrUnknownEntity = errors.New("unknown entity")

// Handler runs one control command and returns the reply body.
type Handler func(args []string) (string, error)

// Server accepts control connections on a unix socket.
type Server struct {
	path string

	mu       sync.Mutex
	handlers map[string]Handler
	ln       *net.UnixListener
	wg       sync.WaitGroup
}

func NewServer(path string) *Server {
	return &Server{path: path, handlers: make(map[string]Handler)}
}

// Register binds a command name to its handler. Must happen before
// Listen; later registrations still work but race with dispatch.
func (s *Server) Register(name string, h Handler) {
	s.mu.Lock()
	s.handlers[name] = h
	s.mu.Unlock()
}

func (s *Server) Path() string { return s.path }

// Listen binds the socket and starts the accept loop. A stale socket
// file from a crashed instance is removed first.
func (s *Server) Listen() error {
	if err := removeStaleSocket(s.path); err != nil {
		return err
	}
	ln, err := net.ListenUnix("unix", &net.UnixAddr{Name: s.path, Net: "unix"})
	if err != nil {
		return fmt.Errorf("ctrl: listen %s: %w", s.path, err)
	}
	ln.SetUnlinkOnClose(true)
	s.ln = ln
	s.wg.Add(1)
	go s.acceptLoop()
	return nil
}

// Close stops the listener and waits for in-flight commands.
func (s *Server) Close() error {
	if s.ln == nil {
		return nil
	}
	err := s.ln.Close()
	s.wg.Wait()
	s.ln = nil
	return err
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()
	for {
		conn, err := s.ln.AcceptUnix()
		if err != nil {
			if !errors.Is(err, net.ErrClosed) {
				logs.Errorf("ctrl: accept: %v", err)
			}
			return
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer conn.Close()
			s.serveConn(conn)
		}()
	}
}

func (s *Server) serveConn(conn net.Conn) {
	line, err := bufio.NewReader(conn).ReadString('\n')
	if err != nil && line == "" {
		return
	}
	fields := strings.Fields(line)
	if len(fields) == 0 {
		reply(conn, CodeUsage, "empty command")
		return
	}
	cmd, args := fields[0], fields[1:]

	s.mu.Lock()
	h, ok := s.handlers[cmd]
	s.mu.Unlock()
	if !ok {
		reply(conn, CodeUnknown, fmt.Sprintf("unknown command %q", cmd))
		return
	}

	body, err := h(args)
	switch {
	case err == nil:
		reply(conn, CodeOK, body)
	case errors.Is(err, ErrUnknownEntity):
		reply(conn, CodeUnknown, err.Error())
	default:
		reply(conn, CodeRuntime, err.Error())
	}
}

func reply(w io.Writer, code int, body string) {
	fmt.Fprintf(w, "%d\n%s", code, body)
}

func removeStaleSocket(path string) error {
	info, err := os.Lstat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if info.Mode()&os.ModeSocket == 0 {
		return fmt.Errorf("ctrl: %s exists and is not a socket", path)
	}
	return os.Remove(path)
}

// Client dials the daemon's control socket.
type Client struct {
	path string
}

func NewClient(path string) *Client { return &Client{path: path} }

// Call sends one command and returns the status code and reply body.
func (c *Client) Call(cmd string, args ...string) (int, string, error) {
	conn, err := net.DialUnix("unix", nil, &net.UnixAddr{Name: c.path, Net: "unix"})
	if err != nil {
		return CodeRuntime, "", fmt.Errorf("ctrl: dial %s: %w", c.path, err)
	}
	defer conn.Close()

	line := cmd
	if len(args) > 0 {
		line += " " + strings.Join(args, " ")
	}
	if _, err := fmt.Fprintln(conn, line); err != nil {
		return CodeRuntime, "", fmt.Errorf("ctrl: send: %w", err)
	}
	if err := conn.CloseWrite(); err != nil {
		return CodeRuntime, "", err
	}

	r := bufio.NewReader(conn)
	codeLine, err := r.ReadString('\n')
	if err != nil {
		return CodeRuntime, "", fmt.Errorf("ctrl: read status: %w", err)
	}
	code, err := strconv.Atoi(strings.TrimSpace(codeLine))
	if err != nil {
		return CodeRuntime, "", fmt.Errorf("ctrl: bad status line %q", codeLine)
	}
	body, err := io.ReadAll(r)
	if err != nil {
		return CodeRuntime, "", fmt.Errorf("ctrl: read body: %w", err)
	}
	return code, string(body), nil
}
