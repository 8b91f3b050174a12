package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/url"
	"strings"
	"time"

	"github.com/rocketscienceinc/renju-client/internal/transport/redis"
	"github.com/rocketscienceinc/renju-client/internal/transport/websocket"
)

const (
	SchemeTCP       = "tcp"
	SchemeWebSocket = "ws"
	SchemeSecureWS  = "wss"
	SchemeRedis     = "redis"

	defaultDialTimeout = 5 * time.Second
)

var (
	ErrUnsupportedScheme = errors.New("unsupported address scheme")
	ErrInvalidAddress    = errors.New("invalid address")
)

// Conn is a full-duplex byte stream to the authority. Read returns io.EOF
// once either side has closed it.
type Conn interface {
	io.Reader
	io.Writer
	io.Closer
}

// Dialer opens a Conn for an address. The scheme picks the transport:
// "host:port" and "tcp://host:port" use plain TCP, "ws://" and "wss://" a
// WebSocket and "redis://host:port/room" a Redis pub/sub pair.
type Dialer struct {
	logger  *slog.Logger
	timeout time.Duration
}

func NewDialer(logger *slog.Logger, timeout time.Duration) *Dialer {
	if timeout <= 0 {
		timeout = defaultDialTimeout
	}

	return &Dialer{
		logger:  logger.With("component", "transport"),
		timeout: timeout,
	}
}

// Dial - opens a connection to the address.
func (that *Dialer) Dial(ctx context.Context, address string) (Conn, error) {
	scheme, target, err := parseAddress(address)
	if err != nil {
		return nil, err
	}

	log := that.logger.With("method", "Dial", "scheme", scheme)

	var conn Conn
	switch scheme {
	case SchemeTCP:
		dialer := &net.Dialer{Timeout: that.timeout}
		conn, err = dialer.DialContext(ctx, "tcp", target)
	case SchemeWebSocket, SchemeSecureWS:
		conn, err = websocket.Dial(ctx, address, that.timeout)
	case SchemeRedis:
		conn, err = that.dialRedis(ctx, target)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedScheme, scheme)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", address, err)
	}

	log.Debug("transport connected", "target", target)

	return conn, nil
}

func (that *Dialer) dialRedis(ctx context.Context, target string) (Conn, error) {
	addr, room, found := strings.Cut(target, "/")
	if !found || room == "" || addr == "" {
		return nil, fmt.Errorf("%w: redis address needs host:port/room", ErrInvalidAddress)
	}

	client, err := redis.Dial(ctx, addr, room, that.timeout)
	if err != nil {
		return nil, fmt.Errorf("failed to join room %s: %w", room, err)
	}

	return client, nil
}

// parseAddress splits address into scheme and target; target is host:port
// for tcp and host:port/room for redis.
func parseAddress(address string) (string, string, error) {
	if address == "" {
		return "", "", fmt.Errorf("%w: empty", ErrInvalidAddress)
	}

	if !strings.Contains(address, "://") {
		return SchemeTCP, address, nil
	}

	parsed, err := url.Parse(address)
	if err != nil {
		return "", "", fmt.Errorf("%w: %w", ErrInvalidAddress, err)
	}

	if parsed.Host == "" {
		return "", "", fmt.Errorf("%w: missing host in %q", ErrInvalidAddress, address)
	}

	scheme := strings.ToLower(parsed.Scheme)
	if scheme == SchemeRedis {
		return scheme, parsed.Host + parsed.Path, nil
	}

	return scheme, parsed.Host, nil
}
