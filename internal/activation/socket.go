package activation

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/M0Rf30/cosmic-ext-quake-terminal/internal/client"
	"github.com/M0Rf30/cosmic-ext-quake-terminal/internal/models"
	"github.com/rs/zerolog"
	"golang.org/x/sys/unix"
)

const (
	maxRequestSize = 64 * 1024

	// A rival daemon holds the lock a moment before it listens; Forward
	// retries within that window with a doubling delay
	forwardRetryMin = 20 * time.Millisecond
	forwardRetryMax = 250 * time.Millisecond
)

// DefaultSocketPath returns $XDG_RUNTIME_DIR/<SocketName>, or a per-user path
// under /tmp when the runtime dir is unset
func DefaultSocketPath() string {
	if dir := os.Getenv("XDG_RUNTIME_DIR"); dir != "" {
		return filepath.Join(dir, SocketName)
	}
	return filepath.Join(os.TempDir(), fmt.Sprintf("cosmic-ext-quake-terminal-%d.sock", unix.Getuid()))
}

// SocketTransport claims the name with an exclusive lock next to a Unix
// socket and speaks newline-delimited JSON envelopes on it
type SocketTransport struct {
	path    string
	timeout time.Duration
	log     zerolog.Logger
}

// NewSocketTransport creates a socket transport; an empty path means
// DefaultSocketPath
func NewSocketTransport(path string, log zerolog.Logger) *SocketTransport {
	if path == "" {
		path = DefaultSocketPath()
	}
	return &SocketTransport{path: path, timeout: client.DefaultTimeout, log: log}
}

func (t *SocketTransport) Name() string { return "socket" }

// Path returns the socket path
func (t *SocketTransport) Path() string { return t.path }

// Claim locks <path>.lock, replaces any stale socket file and listens. The
// lock is released by the kernel if the daemon dies, so a crashed daemon
// never blocks the next one.
func (t *SocketTransport) Claim(ctx context.Context, h Handler) (Claim, error) {
	if err := os.MkdirAll(filepath.Dir(t.path), 0o700); err != nil {
		return nil, fmt.Errorf("create socket dir: %w", err)
	}

	lock, err := os.OpenFile(t.path+".lock", os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open lock file: %w", err)
	}
	if err := unix.Flock(int(lock.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		lock.Close()
		if errors.Is(err, unix.EWOULDBLOCK) {
			return nil, ErrAlreadyClaimed
		}
		return nil, fmt.Errorf("lock %s: %w", lock.Name(), err)
	}

	if st, err := os.Lstat(t.path); err == nil {
		if st.Mode()&os.ModeSocket == 0 {
			lock.Close()
			return nil, fmt.Errorf("socket path exists and is not a unix socket: %s", t.path)
		}
		if err := os.Remove(t.path); err != nil {
			lock.Close()
			return nil, fmt.Errorf("remove stale socket: %w", err)
		}
		t.log.Debug().Str("path", t.path).Msg("removed stale socket")
	}

	ln, err := net.Listen("unix", t.path)
	if err != nil {
		lock.Close()
		return nil, fmt.Errorf("listen %s: %w", t.path, err)
	}
	if err := os.Chmod(t.path, 0o600); err != nil {
		ln.Close()
		lock.Close()
		return nil, fmt.Errorf("chmod socket: %w", err)
	}

	ctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	c := &socketClaim{
		path:    t.path,
		ln:      ln,
		lock:    lock,
		handler: h,
		timeout: t.timeout,
		log:     t.log,
		ctx:     ctx,
		cancel:  cancel,
		conns:   make(map[net.Conn]struct{}),
	}
	c.wg.Add(1)
	go c.serve()

	t.log.Info().Str("path", t.path).Msg("claimed activation socket")
	return c, nil
}

// Forward sends a toggle to the running daemon. A missing or refusing
// socket is retried until the daemon listens or the timeout expires.
func (t *SocketTransport) Forward(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	c := client.NewClient(t.path, t.timeout)
	defer c.Close()

	delay := forwardRetryMin
	for {
		err := c.Toggle(ctx)
		if err == nil || !notListening(err) {
			return err
		}
		t.log.Debug().Err(err).Dur("retry", delay).Msg("daemon not listening yet")

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("daemon never listened on %s: %w", t.path, err)
		case <-timer.C:
		}
		delay = min(delay*2, forwardRetryMax)
	}
}

// notListening matches the dial errors seen between a rival's lock and listen
func notListening(err error) bool {
	return errors.Is(err, unix.ENOENT) || errors.Is(err, unix.ECONNREFUSED)
}

// QueryStatus asks the running daemon for its status
func (t *SocketTransport) QueryStatus(ctx context.Context) (*models.Status, error) {
	c := client.NewClient(t.path, t.timeout)
	defer c.Close()
	return c.Status(ctx)
}

type socketClaim struct {
	path    string
	ln      net.Listener
	lock    *os.File
	handler Handler
	timeout time.Duration
	log     zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu    sync.Mutex
	conns map[net.Conn]struct{}

	wg        sync.WaitGroup
	closeOnce sync.Once
	closeErr  error
}

func (c *socketClaim) serve() {
	defer c.wg.Done()
	for {
		conn, err := c.ln.Accept()
		if err != nil {
			if c.ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return
			}
			c.log.Warn().Err(err).Msg("accept failed")
			continue
		}

		c.mu.Lock()
		c.conns[conn] = struct{}{}
		c.mu.Unlock()

		c.wg.Add(1)
		go c.handleConn(conn)
	}
}

func (c *socketClaim) handleConn(conn net.Conn) {
	defer c.wg.Done()
	defer func() {
		c.mu.Lock()
		delete(c.conns, conn)
		c.mu.Unlock()
		conn.Close()
	}()

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 4096), maxRequestSize)
	enc := json.NewEncoder(conn)

	for scanner.Scan() {
		resp := c.dispatch(scanner.Bytes())
		// Encoder appends the newline delimiter
		if err := enc.Encode(resp); err != nil {
			c.log.Debug().Err(err).Msg("failed to write response")
			return
		}
	}
	if err := scanner.Err(); err != nil && c.ctx.Err() == nil {
		c.log.Debug().Err(err).Msg("client connection read failed")
	}
}

func (c *socketClaim) dispatch(line []byte) *models.MessageEnvelope {
	var env models.MessageEnvelope
	if err := json.Unmarshal(line, &env); err != nil {
		return models.NewErrorResponse("", models.CodeParseError, fmt.Sprintf("invalid request: %v", err))
	}
	if env.Type != models.TypeRequest || env.Request == nil {
		return models.NewErrorResponse("", models.CodeParseError, "expected request envelope")
	}

	req := env.Request
	c.log.Debug().Str("method", req.Method).Str("id", req.ID).Msg("activation request")

	var result interface{}
	switch req.Method {
	case models.MethodPing:
		result = models.Ack{OK: true}

	case models.MethodToggle:
		c.handler.Toggle()
		result = models.Ack{OK: true}

	case models.MethodStatus:
		ctx, cancel := context.WithTimeout(c.ctx, c.timeout)
		status, err := c.handler.Status(ctx)
		cancel()
		if err != nil {
			return models.NewErrorResponse(req.ID, models.CodeInternalError, err.Error())
		}
		result = status

	default:
		return models.NewErrorResponse(req.ID, models.CodeMethodNotFound, fmt.Sprintf("unknown method %q", req.Method))
	}

	resp, err := models.NewResponse(req.ID, result)
	if err != nil {
		return models.NewErrorResponse(req.ID, models.CodeInternalError, err.Error())
	}
	return resp
}

// Close stops serving, removes the socket and releases the lock
func (c *socketClaim) Close() error {
	c.closeOnce.Do(func() {
		c.cancel()
		var errs []error
		if err := c.ln.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			errs = append(errs, err)
		}

		c.mu.Lock()
		for conn := range c.conns {
			conn.Close()
		}
		c.mu.Unlock()
		c.wg.Wait()

		if err := os.Remove(c.path); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, err)
		}
		if err := c.lock.Close(); err != nil {
			errs = append(errs, err)
		}
		c.closeErr = errors.Join(errs...)
	})
	return c.closeErr
}
