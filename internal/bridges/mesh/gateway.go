package mesh

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"sync"
	"time"
)

// Default timeouts and intervals for gateway communication.
const (
	// defaultConnectTimeout is the maximum time to wait for a dial.
	defaultConnectTimeout = 5 * time.Second

	// defaultPollTimeout bounds the single read performed by Update.
	defaultPollTimeout = 5 * time.Millisecond

	// defaultWriteTimeout is the timeout for address responses.
	defaultWriteTimeout = time.Second

	// defaultReconnectInterval is the initial delay between redials.
	defaultReconnectInterval = time.Second

	// maxReconnectInterval caps the redial backoff.
	maxReconnectInterval = 30 * time.Second

	// lengthPrefixSize is the size of the frame length field.
	lengthPrefixSize = 2

	// maxWireFrame is the largest length prefix accepted.
	maxWireFrame = HeaderSize + MaxPayloadSize

	// readChunkSize is how much one Update reads at most.
	readChunkSize = 512
)

// GatewayConfig holds radio gateway connection configuration.
type GatewayConfig struct {
	// Connection is the gateway URL.
	// Supported formats:
	//   - "unix:///run/rf24gw.sock" (Unix socket)
	//   - "tcp://127.0.0.1:2424" (TCP)
	Connection string

	// PollTimeout bounds each Update's read. Default: 5ms.
	PollTimeout time.Duration

	// ConnectTimeout bounds each dial. Default: 5 seconds.
	ConnectTimeout time.Duration

	// ReconnectInterval is the initial redial delay. Default: 1 second.
	ReconnectInterval time.Duration

	// Addresses assigns addresses to requesting nodes. Nil creates a
	// table without lease expiry.
	Addresses *AddressTable
}

// GatewayStats holds operational statistics.
type GatewayStats struct {
	Network      NetworkStats
	FramesRx     uint64
	FramesTx     uint64
	ErrorsTotal  uint64
	Reconnects   uint64
	LastActivity time.Time
	Connected    bool
}

// Ensure GatewayClient implements Network.
var _ Network = (*GatewayClient)(nil)

// GatewayClient reaches the radio through a gateway daemon that owns the
// transceiver. Every frame on the socket is a little-endian uint16 length
// of header plus payload, the 8-byte header, then the payload.
//
// The client starts no goroutines. All socket I/O happens inside Update
// and DHCP, so the bridge loop stays the only thread of control. A lost
// socket is redialled from Update with exponential backoff.
type GatewayClient struct {
	cfg     GatewayConfig
	network string
	address string
	dial    func(ctx context.Context, network, address string) (net.Conn, error)

	mu        sync.Mutex
	conn      net.Conn
	rx        []byte
	nextDial  time.Time
	backoff   time.Duration
	stats     GatewayStats
	closed    bool
	logger    Logger
	q         *frameQueue
	readChunk []byte
}

// DialGateway connects to the gateway daemon.
//
// Parameters:
//   - ctx: Context for the initial dial
//   - cfg: Connection configuration
//
// Returns:
//   - *GatewayClient: Connected client
//   - error: ErrConnectionFailed if the URL is invalid or the dial fails
func DialGateway(ctx context.Context, cfg GatewayConfig) (*GatewayClient, error) {
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = defaultPollTimeout
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = defaultConnectTimeout
	}
	if cfg.ReconnectInterval <= 0 {
		cfg.ReconnectInterval = defaultReconnectInterval
	}

	network, address, err := parseGatewayURL(cfg.Connection)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	c := &GatewayClient{
		cfg:       cfg,
		network:   network,
		address:   address,
		backoff:   cfg.ReconnectInterval,
		q:         newFrameQueue(cfg.Addresses),
		readChunk: make([]byte, readChunkSize),
	}
	var d net.Dialer
	c.dial = d.DialContext

	dialCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()
	conn, err := c.dial(dialCtx, network, address)
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %w", ErrConnectionFailed, cfg.Connection, err)
	}
	c.conn = conn
	c.stats.Connected = true
	c.stats.LastActivity = time.Now()
	return c, nil
}

// parseGatewayURL splits a gateway URL into network and address.
func parseGatewayURL(connURL string) (network, address string, err error) {
	u, err := url.Parse(connURL)
	if err != nil {
		return "", "", fmt.Errorf("invalid URL: %w", err)
	}

	switch u.Scheme {
	case "unix":
		if u.Path == "" {
			return "", "", fmt.Errorf("unix URL %q has no socket path", connURL)
		}
		return "unix", u.Path, nil
	case "tcp":
		host := u.Host
		if host == "" {
			host = "127.0.0.1:2424"
		}
		return "tcp", host, nil
	default:
		return "", "", fmt.Errorf("unsupported scheme %q (use unix or tcp)", u.Scheme)
	}
}

// EncodeGatewayFrame returns the socket encoding of f.
func EncodeGatewayFrame(f Frame) []byte {
	b := make([]byte, 0, lengthPrefixSize+HeaderSize+len(f.Payload))
	b = binary.LittleEndian.AppendUint16(b, uint16(HeaderSize+len(f.Payload)))
	b = f.Header.appendTo(b)
	return append(b, f.Payload...)
}

// Update performs one bounded read and routes every complete frame.
//
// A read timeout is the normal idle case and returns nil. When the socket
// is down Update redials once the backoff has elapsed and otherwise
// returns ErrNotConnected. While the data queue is full Update leaves the
// socket unread so the kernel buffer holds frames until Read makes room.
func (c *GatewayClient) Update() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrNotConnected
	}
	if c.conn == nil {
		if err := c.redialLocked(); err != nil {
			return err
		}
	}

	if c.q.full() {
		return nil
	}

	if err := c.conn.SetReadDeadline(time.Now().Add(c.cfg.PollTimeout)); err != nil {
		c.dropLocked(err)
		return fmt.Errorf("%w: set read deadline: %w", ErrNotConnected, err)
	}
	n, err := c.conn.Read(c.readChunk)
	if n > 0 {
		c.rx = append(c.rx, c.readChunk[:n]...)
		c.stats.LastActivity = time.Now()
	}
	if perr := c.parseLocked(); perr != nil {
		c.dropLocked(perr)
		return perr
	}

	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return nil
		}
		c.dropLocked(err)
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("%w: gateway closed the connection", ErrNotConnected)
		}
		return fmt.Errorf("%w: read: %w", ErrNotConnected, err)
	}
	return nil
}

// parseLocked extracts complete frames from the receive buffer. An
// impossible length means the stream is out of step and the connection
// must be reset.
func (c *GatewayClient) parseLocked() error {
	for len(c.rx) >= lengthPrefixSize {
		size := int(binary.LittleEndian.Uint16(c.rx))
		if size < HeaderSize || size > maxWireFrame {
			c.stats.ErrorsTotal++
			return fmt.Errorf("%w: length %d outside [%d, %d]", ErrInvalidFrame, size, HeaderSize, maxWireFrame)
		}
		if len(c.rx) < lengthPrefixSize+size {
			return nil
		}

		raw := c.rx[lengthPrefixSize : lengthPrefixSize+size]
		h, _ := ParseHeader(raw)
		payload := append([]byte(nil), raw[HeaderSize:]...)
		c.rx = c.rx[lengthPrefixSize+size:]

		c.stats.FramesRx++
		c.q.route(Frame{Header: h, Payload: payload})
	}
	return nil
}

// dropLocked closes the socket and schedules a redial.
func (c *GatewayClient) dropLocked(cause error) {
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.rx = c.rx[:0]
	c.stats.Connected = false
	c.stats.ErrorsTotal++
	c.nextDial = time.Now().Add(c.backoff)
	c.logError("gateway connection lost", cause)
}

// redialLocked makes one dial attempt when the backoff has elapsed.
func (c *GatewayClient) redialLocked() error {
	if time.Now().Before(c.nextDial) {
		return ErrNotConnected
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.ConnectTimeout)
	defer cancel()

	conn, err := c.dial(ctx, c.network, c.address)
	if err != nil {
		c.stats.ErrorsTotal++
		c.logInfo("gateway redial failed", "error", err, "backoff", c.backoff.String())
		c.nextDial = time.Now().Add(c.backoff)
		c.backoff = min(time.Duration(float64(c.backoff)*1.5), maxReconnectInterval)
		return fmt.Errorf("%w: redial: %w", ErrNotConnected, err)
	}

	c.conn = conn
	c.backoff = c.cfg.ReconnectInterval
	c.stats.Connected = true
	c.stats.Reconnects++
	c.logInfo("gateway reconnected", "total_reconnects", c.stats.Reconnects)
	return nil
}

// DHCP answers pending address requests over the socket.
func (c *GatewayClient) DHCP() {
	if err := c.q.dhcp(c.send); err != nil {
		c.logError("address assignment failed", err)
	}
}

func (c *GatewayClient) send(f Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return ErrNotConnected
	}
	if err := c.conn.SetWriteDeadline(time.Now().Add(defaultWriteTimeout)); err != nil {
		return fmt.Errorf("set write deadline: %w", err)
	}
	if _, err := c.conn.Write(EncodeGatewayFrame(f)); err != nil {
		c.dropLocked(err)
		return fmt.Errorf("write: %w", err)
	}
	c.stats.FramesTx++
	return nil
}

// Available implements Network.
func (c *GatewayClient) Available() bool { return c.q.available() }

// Peek implements Network.
func (c *GatewayClient) Peek() (Header, error) { return c.q.peek() }

// Read implements Network.
func (c *GatewayClient) Read(h Header, buf []byte) (int, error) { return c.q.read(h, buf) }

// SetLogger sets the logger for the client.
func (c *GatewayClient) SetLogger(logger Logger) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.logger = logger
}

// Stats returns current statistics.
func (c *GatewayClient) Stats() GatewayStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.stats
	s.Network = c.q.snapshot()
	return s
}

// Close closes the socket. Safe to call multiple times.
func (c *GatewayClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.closed = true
	c.stats.Connected = false
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}

// HealthCheck reports whether the gateway socket is up.
func (c *GatewayClient) HealthCheck(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || c.conn == nil {
		return ErrNotConnected
	}
	return nil
}

func (c *GatewayClient) logInfo(msg string, keysAndValues ...any) {
	if c.logger != nil {
		c.logger.Info(msg, keysAndValues...)
	}
}

func (c *GatewayClient) logError(msg string, err error) {
	if c.logger != nil {
		c.logger.Error(msg, "error", err)
	}
}
