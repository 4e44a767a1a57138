package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sync"
	"time"

	"github.com/pagebus/pagebus/internal/config"
	"github.com/pagebus/pagebus/internal/logger"
	"github.com/pagebus/pagebus/pkg/types"
)

// Listener accepts out-of-process contexts onto the bus over a unix domain
// socket. Every accepted connection is surfaced to the host as a Port, so
// the broker treats socket participants and in-memory participants alike.
type Listener struct {
	path      string
	cfg       config.TransportConfig
	logger    *logger.Logger
	mu        sync.RWMutex
	listener  net.Listener
	conns     map[string]*connPort
	connCount int
	onConnect func(Port)
	closed    bool
	wg        sync.WaitGroup
	closeCh   chan struct{}
}

// NewListener creates a unix socket listener for the hub context
func NewListener(cfg config.TransportConfig, log *logger.Logger) (*Listener, error) {
	if log == nil {
		var err error
		log, err = logger.NewDefault()
		if err != nil {
			return nil, types.WrapError(types.ErrCodeInternal, "failed to create default logger", err)
		}
	}

	// Remove a stale socket file from a previous run
	if _, err := os.Stat(cfg.SocketPath); err == nil {
		if err := os.Remove(cfg.SocketPath); err != nil {
			return nil, types.WrapError(types.ErrCodeInternal, "failed to remove existing socket file", err)
		}
	}

	return &Listener{
		path:    cfg.SocketPath,
		cfg:     cfg,
		logger:  log.With("component", "transport_listener", "socket_path", cfg.SocketPath),
		conns:   make(map[string]*connPort),
		closeCh: make(chan struct{}),
	}, nil
}

// OnConnect installs the callback invoked with a Port for every accepted
// connection. Must be set before Listen.
func (l *Listener) OnConnect(fn func(Port)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onConnect = fn
}

// Listen starts accepting connections on the unix socket
func (l *Listener) Listen(ctx context.Context) error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return types.NewError(types.ErrCodeUnavailable, "listener is closed")
	}
	if l.onConnect == nil {
		l.mu.Unlock()
		return types.NewError(types.ErrCodeInvalid, "no connect callback installed")
	}
	l.mu.Unlock()

	listener, err := net.Listen("unix", l.path)
	if err != nil {
		return types.WrapError(types.ErrCodeInternal, "failed to listen on socket", err)
	}

	l.mu.Lock()
	l.listener = listener
	l.mu.Unlock()

	l.logger.Info("Transport socket listening", "path", l.path)

	l.wg.Add(1)
	go l.acceptConnections()

	return nil
}

// acceptConnections accepts new connections from the listener
func (l *Listener) acceptConnections() {
	defer l.wg.Done()

	for {
		conn, err := l.listener.Accept()
		if err != nil {
			l.mu.RLock()
			closed := l.closed
			l.mu.RUnlock()

			if closed {
				return
			}
			l.logger.Error("Failed to accept connection", "error", err)
			continue
		}

		l.mu.Lock()
		if l.cfg.MaxConnections > 0 && l.connCount >= l.cfg.MaxConnections {
			l.mu.Unlock()
			l.logger.Warn("Connection limit reached, rejecting connection",
				"current_count", l.connCount,
				"max_connections", l.cfg.MaxConnections)
			conn.Close()
			continue
		}

		connID := fmt.Sprintf("conn-%d-%d", l.connCount, time.Now().UnixNano())
		port := newConnPort(conn, l.cfg, l.logger.With("conn_id", connID))
		port.onClose = func() { l.dropConn(connID) }
		l.conns[connID] = port
		l.connCount++
		onConnect := l.onConnect
		l.mu.Unlock()

		l.logger.Debug("Connection accepted", "conn_id", connID, "conn_count", l.connCount)

		onConnect(port)
		port.startReading()
	}
}

// dropConn removes a connection from the table after its port closes
func (l *Listener) dropConn(connID string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, exists := l.conns[connID]; exists {
		delete(l.conns, connID)
		l.connCount--
		l.logger.Debug("Connection closed", "conn_id", connID, "conn_count", l.connCount)
	}
}

// Close closes the listener and all accepted connections
func (l *Listener) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return types.NewError(types.ErrCodeInvalid, "listener already closed")
	}
	l.closed = true
	ln := l.listener
	conns := make([]*connPort, 0, len(l.conns))
	for _, c := range l.conns {
		conns = append(conns, c)
	}
	l.mu.Unlock()

	close(l.closeCh)
	if ln != nil {
		ln.Close()
	}
	for _, c := range conns {
		c.Close()
	}
	l.wg.Wait()

	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		l.logger.Warn("Failed to remove socket file", "path", l.path, "error", err)
	}

	l.logger.Info("Transport socket closed", "path", l.path)
	return nil
}

// Stats returns listener statistics
func (l *Listener) Stats() ListenerStats {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return ListenerStats{
		Path:        l.path,
		ActiveConns: l.connCount,
	}
}

// ListenerStats represents listener statistics
type ListenerStats struct {
	Path        string `json:"path"`
	ActiveConns int    `json:"active_connections"`
}

// String returns a string representation of the stats
func (s ListenerStats) String() string {
	return fmt.Sprintf("ListenerStats{Path: %s, ActiveConns: %d}", s.Path, s.ActiveConns)
}

// Dial connects a nested out-of-process context to the hub's unix socket
// and returns the client-side Port.
func Dial(cfg config.TransportConfig, log *logger.Logger) (Port, error) {
	if log == nil {
		var err error
		log, err = logger.NewDefault()
		if err != nil {
			return nil, types.WrapError(types.ErrCodeInternal, "failed to create default logger", err)
		}
	}

	conn, err := net.Dial("unix", cfg.SocketPath)
	if err != nil {
		return nil, types.WrapError(types.ErrCodeUnavailable, "failed to dial hub socket", err)
	}

	port := newConnPort(conn, cfg, log.With("component", "transport_dial", "socket_path", cfg.SocketPath))
	port.startReading()
	return port, nil
}

// connPort adapts a net.Conn into a Port with length-prefixed JSON frames
type connPort struct {
	conn    net.Conn
	cfg     config.TransportConfig
	logger  *logger.Logger
	writeMu sync.Mutex

	mu          sync.RWMutex
	receiver    func([]byte)
	ready       chan struct{}
	readyClosed bool
	closeCh     chan struct{}
	closed      bool
	onClose     func()
	wg          sync.WaitGroup
}

func newConnPort(conn net.Conn, cfg config.TransportConfig, log *logger.Logger) *connPort {
	return &connPort{
		conn:    conn,
		cfg:     cfg,
		logger:  log,
		ready:   make(chan struct{}),
		closeCh: make(chan struct{}),
	}
}

// startReading launches the read loop. Separate from construction so that
// the host can install a receiver for accepted connections first.
func (c *connPort) startReading() {
	c.wg.Add(1)
	go c.readLoop()
}

// Send writes a frame to the connection
func (c *connPort) Send(frame []byte) error {
	c.mu.RLock()
	closed := c.closed
	c.mu.RUnlock()

	if closed {
		return types.NewError(types.ErrCodeUnavailable, "connection is closed")
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.cfg.Timeout > 0 {
		if err := c.conn.SetWriteDeadline(time.Now().Add(c.cfg.Timeout)); err != nil {
			return types.WrapError(types.ErrCodeInternal, "failed to set write deadline", err)
		}
	}

	return writeFrame(c.conn, frame, c.cfg.MaxFrameSize)
}

// SetReceiver installs the inbound frame callback
func (c *connPort) SetReceiver(fn func(frame []byte)) {
	c.mu.Lock()
	c.receiver = fn
	signal := fn != nil && !c.readyClosed
	if signal {
		c.readyClosed = true
	}
	c.mu.Unlock()

	if signal {
		close(c.ready)
	}
}

// readLoop reads frames from the connection and hands them to the receiver
func (c *connPort) readLoop() {
	defer c.wg.Done()

	select {
	case <-c.ready:
	case <-c.closeCh:
		return
	}

	for {
		frame, err := readFrame(c.conn, c.cfg.MaxFrameSize)
		if err != nil {
			c.mu.RLock()
			closed := c.closed
			c.mu.RUnlock()

			if !closed && !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				c.logger.Debug("Read loop ended", "error", err)
			}
			c.teardown()
			return
		}

		c.mu.RLock()
		receiver := c.receiver
		c.mu.RUnlock()
		if receiver != nil {
			receiver(frame)
		}
	}
}

// teardown closes the connection once, from either Close or a read failure
func (c *connPort) teardown() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	onClose := c.onClose
	c.mu.Unlock()

	close(c.closeCh)
	c.conn.Close()
	if onClose != nil {
		onClose()
	}
}

// Close closes the connection
func (c *connPort) Close() error {
	c.mu.RLock()
	closed := c.closed
	c.mu.RUnlock()
	if closed {
		return types.NewError(types.ErrCodeInvalid, "connection already closed")
	}

	c.teardown()
	return nil
}
