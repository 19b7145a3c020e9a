package rpc

import (
	"bufio"
	"fmt"
	"io"
	"net"
	"os/exec"
	"strconv"
	"time"

	"github.com/imsgkit/imsgtui/internal/logger"
)

const dialTimeout = 10 * time.Second

// SpawnError reports a failure to launch the local backend process or
// capture its standard streams.
type SpawnError struct {
	Path string
	Err  error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("spawn %s: %v", e.Path, e.Err)
}

func (e *SpawnError) Unwrap() error { return e.Err }

// ConnectError reports a network-level failure to reach the backend.
// Refusal, timeout and DNS failures all surface through this one type.
type ConnectError struct {
	Addr string
	Err  error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("connect %s: %v", e.Addr, e.Err)
}

func (e *ConnectError) Unwrap() error { return e.Err }

// Conn is an open duplex to the backend. For the spawned transport it
// also owns the child process, whose lifetime it bounds: closing the
// Conn terminates the child. Conn has no protocol knowledge and no
// retry policy; both belong to the layers above.
type Conn struct {
	r       io.Reader
	w       io.Writer
	closers []io.Closer
	cmd     *exec.Cmd
}

// DialLocal spawns binPath with the fixed "rpc" subcommand (plus
// "--db dbPath" when dbPath is non-empty) and piped standard streams.
func DialLocal(binPath, dbPath string) (*Conn, error) {
	args := []string{"rpc"}
	if dbPath != "" {
		args = append(args, "--db", dbPath)
	}
	cmd := exec.Command(binPath, args...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, &SpawnError{Path: binPath, Err: err}
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, &SpawnError{Path: binPath, Err: err}
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, &SpawnError{Path: binPath, Err: err}
	}
	if err := cmd.Start(); err != nil {
		return nil, &SpawnError{Path: binPath, Err: err}
	}
	go logStderr(stderr)
	return &Conn{
		r:       stdout,
		w:       stdin,
		closers: []io.Closer{stdin, stdout},
		cmd:     cmd,
	}, nil
}

// logStderr drains the backend's stderr into the log file. The
// terminal belongs to the TUI.
func logStderr(r io.Reader) {
	log := logger.Global().WithPrefix("imsg")
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		log.Debug("%s", sc.Text())
	}
}

// DialTCP opens a plain socket to host:port.
func DialTCP(host string, port int) (*Conn, error) {
	addr := net.JoinHostPort(host, strconv.Itoa(port))
	conn, err := net.DialTimeout("tcp", addr, dialTimeout)
	if err != nil {
		return nil, &ConnectError{Addr: addr, Err: err}
	}
	return &Conn{r: conn, w: conn, closers: []io.Closer{conn}}, nil
}

// NewConn wraps an existing duplex, typically a net.Pipe end in tests.
func NewConn(rw io.ReadWriteCloser) *Conn {
	return &Conn{r: rw, w: rw, closers: []io.Closer{rw}}
}

// Close tears down both stream ends and reaps the child process when
// one is owned.
func (c *Conn) Close() error {
	var first error
	for _, cl := range c.closers {
		if err := cl.Close(); err != nil && first == nil {
			first = err
		}
	}
	if c.cmd != nil && c.cmd.Process != nil {
		_ = c.cmd.Process.Kill()
		go func() { _ = c.cmd.Wait() }()
	}
	return first
}
