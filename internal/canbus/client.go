package canbus

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rvlink/rvlink-core/internal/rvc"
)

// closeOnce wraps a channel with sync.Once to prevent double-close panics.
type closeOnce struct {
	ch   chan struct{}
	once sync.Once
}

func newCloseOnce() *closeOnce {
	return &closeOnce{ch: make(chan struct{})}
}

func (c *closeOnce) Close() {
	c.once.Do(func() { close(c.ch) })
}

func (c *closeOnce) Done() <-chan struct{} {
	return c.ch
}

// Default timeouts and intervals for gateway communication.
const (
	// defaultConnectTimeout is the maximum time to wait for initial connection.
	defaultConnectTimeout = 10 * time.Second

	// defaultReadTimeout is the timeout for individual read operations.
	defaultReadTimeout = 30 * time.Second

	// defaultWriteTimeout is the timeout for write operations.
	defaultWriteTimeout = 5 * time.Second

	// defaultReconnectInterval is the initial delay between reconnection attempts.
	defaultReconnectInterval = 5 * time.Second

	// maxReconnectInterval is the maximum delay between reconnection attempts.
	maxReconnectInterval = 2 * time.Minute

	// inboundQueueSize is the buffer between the socket reader and the
	// ingestion pipeline's Receive calls.
	inboundQueueSize = 256

	// maxLineLen bounds a single slcan line; anything longer means the
	// stream is desynchronised.
	maxLineLen = 64
)

// Config holds the connection configuration for one bus interface.
type Config struct {
	// Name is the interface tag stamped on every received frame
	// (e.g. "house", "chassis").
	Name string

	// Address is the gateway connection URL.
	// Supported formats:
	//   - "tcp://localhost:29536" (TCP)
	//   - "unix:///run/canbusd.sock" (Unix socket)
	Address string

	// ConnectTimeout is the maximum time to wait for connection.
	// Default: 10 seconds.
	ConnectTimeout time.Duration

	// ReadTimeout is the timeout for read operations.
	// Default: 30 seconds.
	ReadTimeout time.Duration

	// ReconnectInterval is the initial delay between reconnection attempts.
	// Default: 5 seconds.
	ReconnectInterval time.Duration
}

// Stats holds operational statistics.
type Stats struct {
	FramesTx        uint64
	FramesRx        uint64
	FramesDropped   uint64 // Frames dropped due to full inbound queue
	ErrorsTotal     uint64
	ReconnectsTotal uint64 // Successful reconnections
	LastActivity    time.Time
	Connected       bool
	Reconnecting    bool // True if currently attempting to reconnect
}

// Logger interface for optional logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// Interface is the bus collaborator consumed by the ingestion
// pipeline. It allows mocking the gateway client in tests.
type Interface interface {
	Name() string
	Receive(ctx context.Context) (rvc.Frame, error)
	Send(ctx context.Context, f rvc.Frame) error
	IsConnected() bool
	Stats() Stats
	Close() error
}

// Ensure Client implements Interface.
var _ Interface = (*Client)(nil)

// Client connects to one CAN gateway.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
//   - Receive is intended to be called from a single pipeline worker.
//
// Auto-Reconnection:
//   - When the connection is lost, the client automatically attempts to reconnect.
//   - Uses exponential backoff starting at ReconnectInterval (default 5s) up to maxReconnectInterval (2min).
//   - Reconnection stops only when Close() is called.
type Client struct {
	cfg  Config
	conn net.Conn

	// Connection state
	connMu    sync.RWMutex
	connected bool

	// Reconnection state
	reconnecting   atomic.Bool
	reconnectCount atomic.Int32

	// Inbound frame queue feeding Receive
	inbound chan rvc.Frame

	// Shutdown coordination (closeOnce prevents double-close panics)
	done *closeOnce
	wg   sync.WaitGroup

	// Logger (optional)
	logger   Logger
	loggerMu sync.RWMutex

	// Statistics (atomic for performance)
	framesTx        atomic.Uint64
	framesRx        atomic.Uint64
	framesDropped   atomic.Uint64
	errorsTotal     atomic.Uint64
	reconnectsTotal atomic.Uint64
	lastActivity    atomic.Int64 // Unix timestamp
}

// Connect establishes the connection to a CAN gateway and starts the
// socket reader.
//
// Parameters:
//   - ctx: Context for cancellation (used for initial connection)
//   - cfg: Connection configuration
//
// Returns:
//   - *Client: Connected client ready for use
//   - error: If the connection fails
func Connect(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.ConnectTimeout == 0 {
		cfg.ConnectTimeout = defaultConnectTimeout
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = defaultReadTimeout
	}
	if cfg.ReconnectInterval == 0 {
		cfg.ReconnectInterval = defaultReconnectInterval
	}

	network, address, err := parseAddress(cfg.Address)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	connectCtx := ctx
	if connectCtx == nil {
		connectCtx = context.Background()
	}
	connectCtx, cancel := context.WithTimeout(connectCtx, cfg.ConnectTimeout)
	defer cancel()

	var dialer net.Dialer
	conn, err := dialer.DialContext(connectCtx, network, address)
	if err != nil {
		return nil, fmt.Errorf("%w: dial failed: %w", ErrConnectionFailed, err)
	}

	client := &Client{
		cfg:     cfg,
		conn:    conn,
		done:    newCloseOnce(),
		inbound: make(chan rvc.Frame, inboundQueueSize),
	}
	client.lastActivity.Store(time.Now().Unix())

	client.connMu.Lock()
	client.connected = true
	client.connMu.Unlock()

	client.wg.Add(1)
	go client.receiveLoop()

	return client, nil
}

// parseAddress parses a gateway connection URL into network and address.
func parseAddress(connURL string) (network, address string, err error) {
	u, err := url.Parse(connURL)
	if err != nil {
		return "", "", fmt.Errorf("invalid URL: %w", err)
	}

	switch u.Scheme {
	case "unix":
		return "unix", u.Path, nil
	case "tcp":
		host := u.Host
		if host == "" {
			return "", "", fmt.Errorf("tcp URL missing host")
		}
		return "tcp", host, nil
	default:
		return "", "", fmt.Errorf("unsupported scheme %q (use unix or tcp)", u.Scheme)
	}
}

// Name returns the interface tag.
func (c *Client) Name() string {
	return c.cfg.Name
}

// Receive blocks until a frame arrives, the context is cancelled, or
// the client is closed. Frames carry the interface tag and a receive
// timestamp.
//
// Returns:
//   - rvc.Frame: The next frame in arrival order
//   - error: ctx.Err() on cancellation, ErrClosed after Close
func (c *Client) Receive(ctx context.Context) (rvc.Frame, error) {
	select {
	case f := <-c.inbound:
		return f, nil
	case <-ctx.Done():
		return rvc.Frame{}, ctx.Err()
	case <-c.done.Done():
		// Drain frames already queued before reporting closure so a
		// shutdown does not silently discard received traffic.
		select {
		case f := <-c.inbound:
			return f, nil
		default:
			return rvc.Frame{}, ErrClosed
		}
	}
}

// receiveLoop continuously reads frames from the gateway socket.
// On connection loss, it automatically attempts reconnection with
// exponential backoff.
func (c *Client) receiveLoop() {
	defer c.wg.Done()

	reader := bufio.NewReaderSize(c.currentConn(), maxLineLen*4)

	for {
		select {
		case <-c.done.Done():
			return
		default:
		}

		line, err := c.readLine(reader)
		if err != nil {
			if c.isClosed() {
				return
			}
			if isTimeout(err) {
				continue
			}

			c.logError("read failed", err)
			c.errorsTotal.Add(1)
			c.handleDisconnect()

			if !c.reconnect() {
				return
			}
			reader = bufio.NewReaderSize(c.currentConn(), maxLineLen*4)
			continue
		}

		c.handleLine(line)
	}
}

// readLine reads one carriage-return terminated line from the gateway.
// Overlong lines are discarded rather than treated as a disconnect:
// the terminator re-synchronises the stream, so the connection stays up.
func (c *Client) readLine(reader *bufio.Reader) (string, error) {
	conn := c.currentConn()
	if conn == nil {
		return "", ErrNotConnected
	}
	if err := conn.SetReadDeadline(time.Now().Add(c.cfg.ReadTimeout)); err != nil {
		return "", fmt.Errorf("set deadline: %w", err)
	}

	for {
		line, err := reader.ReadString('\r')
		if err != nil {
			return "", err
		}
		if len(line) > maxLineLen {
			c.errorsTotal.Add(1)
			c.logError("discarding overlong line",
				fmt.Errorf("%w: line length %d", ErrInvalidWireFormat, len(line)))
			continue
		}
		return strings.TrimRight(line, "\r\n"), nil
	}
}

// handleLine parses a wire line and queues the frame for Receive.
func (c *Client) handleLine(line string) {
	f, ok, err := parseFrame(line)
	if err != nil {
		c.logError("parse frame failed", err)
		c.errorsTotal.Add(1)
		return
	}
	if !ok {
		return
	}

	f.Interface = c.cfg.Name
	f.Timestamp = time.Now().UTC()

	c.framesRx.Add(1)
	c.lastActivity.Store(time.Now().Unix())

	// Non-blocking enqueue: a stalled pipeline must not back up into
	// the socket reader.
	select {
	case c.inbound <- f:
	default:
		c.framesDropped.Add(1)
		c.errorsTotal.Add(1)
		c.logError("inbound queue full, dropping frame", nil)
	}
}

// handleDisconnect handles connection loss and triggers reconnection.
func (c *Client) handleDisconnect() {
	c.connMu.Lock()
	wasConnected := c.connected
	c.connected = false
	c.connMu.Unlock()

	if wasConnected {
		c.logInfo("connection lost, will attempt reconnection", "interface", c.cfg.Name)
	}
}

// reconnect attempts to re-establish the gateway connection with
// exponential backoff. Returns true if reconnection succeeded, false
// if shutdown was signalled.
func (c *Client) reconnect() bool {
	if !c.reconnecting.CompareAndSwap(false, true) {
		return c.waitForReconnection()
	}
	defer c.reconnecting.Store(false)

	network, address, err := parseAddress(c.cfg.Address)
	if err != nil {
		c.logError("reconnect: invalid address", err)
		return false
	}

	backoff := c.cfg.ReconnectInterval
	if backoff == 0 {
		backoff = defaultReconnectInterval
	}

	for {
		if c.isClosed() {
			return false
		}

		attempt := c.reconnectCount.Add(1)
		c.logInfo("attempting reconnection",
			"interface", c.cfg.Name, "attempt", attempt, "backoff", backoff.String())

		c.closeOldConnection()

		conn, err := c.dialWithTimeout(network, address)
		if err != nil {
			backoff = c.handleReconnectFailure(err, backoff)
			if backoff == 0 {
				return false
			}
			continue
		}

		c.connMu.Lock()
		c.conn = conn
		c.connected = true
		c.connMu.Unlock()

		c.reconnectCount.Store(0)
		c.reconnectsTotal.Add(1)
		c.lastActivity.Store(time.Now().Unix())
		c.logInfo("reconnection successful",
			"interface", c.cfg.Name, "total_reconnects", c.reconnectsTotal.Load())
		return true
	}
}

// waitForReconnection waits for another goroutine to complete reconnection.
func (c *Client) waitForReconnection() bool {
	for c.reconnecting.Load() && !c.isClosed() {
		time.Sleep(100 * time.Millisecond)
	}
	return !c.isClosed() && c.IsConnected()
}

// closeOldConnection closes the existing connection if any.
func (c *Client) closeOldConnection() {
	c.connMu.Lock()
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.connMu.Unlock()
}

// dialWithTimeout attempts to dial the network address with timeout.
func (c *Client) dialWithTimeout(network, address string) (net.Conn, error) {
	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.ConnectTimeout)
	defer cancel()

	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, network, address)
	if err != nil {
		return nil, fmt.Errorf("dial %s://%s: %w", network, address, err)
	}
	return conn, nil
}

// handleReconnectFailure handles a failed reconnection attempt.
// Returns the new backoff duration, or 0 if shutdown was signalled.
func (c *Client) handleReconnectFailure(err error, backoff time.Duration) time.Duration {
	c.logError("reconnect failed", err)
	c.errorsTotal.Add(1)

	select {
	case <-c.done.Done():
		return 0
	case <-time.After(backoff):
	}

	// Exponential backoff with cap
	newBackoff := time.Duration(float64(backoff) * 1.5)
	if newBackoff > maxReconnectInterval {
		newBackoff = maxReconnectInterval
	}
	return newBackoff
}

// currentConn returns the live connection under the read lock.
func (c *Client) currentConn() net.Conn {
	c.connMu.RLock()
	defer c.connMu.RUnlock()
	return c.conn
}

// isClosed returns true if the client has been closed.
func (c *Client) isClosed() bool {
	select {
	case <-c.done.Done():
		return true
	default:
		return false
	}
}

// isTimeout reports whether an error is a read deadline expiry.
func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// Send writes an outbound frame to the gateway.
//
// Parameters:
//   - ctx: Context for cancellation
//   - f: Frame to transmit (ID and Data; the interface tag is implied)
//
// Returns:
//   - error: If sending fails or client is not connected
func (c *Client) Send(ctx context.Context, f rvc.Frame) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}
	if err := f.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrSendFailed, err)
	}

	select {
	case <-ctx.Done():
		return fmt.Errorf("%w: %w", ErrSendFailed, ctx.Err())
	default:
	}

	deadline := time.Now().Add(defaultWriteTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	conn := c.currentConn()
	if conn == nil {
		return ErrNotConnected
	}

	if err := conn.SetWriteDeadline(deadline); err != nil {
		return fmt.Errorf("%w: set deadline: %w", ErrSendFailed, err)
	}

	if _, err := conn.Write(marshalFrame(f)); err != nil {
		c.errorsTotal.Add(1)
		return fmt.Errorf("%w: write: %w", ErrSendFailed, err)
	}

	c.framesTx.Add(1)
	c.lastActivity.Store(time.Now().Unix())

	return nil
}

// SetLogger sets the logger for this client.
func (c *Client) SetLogger(logger Logger) {
	c.loggerMu.Lock()
	c.logger = logger
	c.loggerMu.Unlock()
}

// IsConnected returns true if connected to the gateway.
func (c *Client) IsConnected() bool {
	c.connMu.RLock()
	defer c.connMu.RUnlock()
	return c.connected
}

// Stats returns current operational statistics.
func (c *Client) Stats() Stats {
	return Stats{
		FramesTx:        c.framesTx.Load(),
		FramesRx:        c.framesRx.Load(),
		FramesDropped:   c.framesDropped.Load(),
		ErrorsTotal:     c.errorsTotal.Load(),
		ReconnectsTotal: c.reconnectsTotal.Load(),
		LastActivity:    time.Unix(c.lastActivity.Load(), 0),
		Connected:       c.IsConnected(),
		Reconnecting:    c.reconnecting.Load(),
	}
}

// Close gracefully closes the connection.
//
// It signals the socket reader to stop and closes the underlying
// network connection. Safe to call multiple times (uses sync.Once).
//
// Returns:
//   - error: nil (closing is best-effort)
func (c *Client) Close() error {
	c.done.Close()

	c.connMu.Lock()
	c.connected = false
	if c.conn != nil {
		c.conn.Close()
	}
	c.connMu.Unlock()

	c.wg.Wait()

	c.logInfo("connection closed", "interface", c.cfg.Name)
	return nil
}

// logInfo logs an info message if logger is set.
func (c *Client) logInfo(msg string, keysAndValues ...any) {
	c.loggerMu.RLock()
	logger := c.logger
	c.loggerMu.RUnlock()

	if logger != nil {
		logger.Info(msg, keysAndValues...)
	}
}

// logError logs an error message if logger is set.
func (c *Client) logError(msg string, err error) {
	c.loggerMu.RLock()
	logger := c.logger
	c.loggerMu.RUnlock()

	if logger != nil {
		logger.Error(msg, "error", err)
	}
}
