package redis

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	channelPrefix       = "renju:"
	defaultTimeout      = 5 * time.Second
	healthCheckInterval = 3 * time.Second
)

var ErrClosed = errors.New("redis transport is closed")

// IntentsChannel is where clients of room publish their frames.
func IntentsChannel(room string) string {
	return channelPrefix + room + ":intents"
}

// EventsChannel is where the authority of room publishes its frames.
func EventsChannel(room string) string {
	return channelPrefix + room + ":events"
}

// Client carries the byte stream over Redis pub/sub: writes are published to
// the room's intents channel, reads come from a subscription to its events
// channel. Each published payload holds whole frames.
type Client struct {
	client   *redis.Client
	pubsub   *redis.PubSub
	messages <-chan *redis.Message
	intents  string
	timeout  time.Duration

	pending []byte

	// lost is closed once the server stops answering pings. The subscription
	// reconnects silently, so this is the only sign of an outage.
	lost chan struct{}

	closeOnce sync.Once
	closed    chan struct{}
	wg        sync.WaitGroup
}

func newClient(messages <-chan *redis.Message, intents string, timeout time.Duration) *Client {
	return &Client{
		messages: messages,
		intents:  intents,
		timeout:  timeout,
		lost:     make(chan struct{}),
		closed:   make(chan struct{}),
	}
}

// Dial - connects to Redis at addr and subscribes to the events of room.
func Dial(ctx context.Context, addr, room string, timeout time.Duration) (*Client, error) {
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	client := redis.NewClient(&redis.Options{
		Addr:        addr,
		DialTimeout: timeout,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	pubsub := client.Subscribe(ctx, EventsChannel(room))

	// wait for the subscription confirmation, otherwise early events are lost
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		client.Close()
		return nil, fmt.Errorf("failed to subscribe to room: %w", err)
	}

	messages := pubsub.Channel(redis.WithChannelHealthCheckInterval(healthCheckInterval))

	c := newClient(messages, IntentsChannel(room), timeout)
	c.client = client
	c.pubsub = pubsub
	c.startWatch(healthCheckInterval, func(ctx context.Context) error {
		return client.Ping(ctx).Err()
	})

	return c, nil
}

// startWatch pings the server every interval and marks the stream lost on the
// first failure.
func (that *Client) startWatch(interval time.Duration, ping func(ctx context.Context) error) {
	that.wg.Add(1)
	go func() {
		defer that.wg.Done()

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-that.closed:
				return
			case <-ticker.C:
				ctx, cancel := context.WithTimeout(context.Background(), that.timeout)
				err := ping(ctx)
				cancel()

				if err != nil {
					close(that.lost)
					return
				}
			}
		}
	}()
}

// Read never returns (0, nil): empty payloads are skipped.
func (that *Client) Read(p []byte) (int, error) {
	for len(that.pending) == 0 {
		select {
		case msg, ok := <-that.messages:
			if !ok {
				return 0, io.EOF
			}
			that.pending = []byte(msg.Payload)
		case <-that.lost:
			return 0, io.EOF
		case <-that.closed:
			return 0, io.EOF
		}
	}

	n := copy(p, that.pending)
	that.pending = that.pending[n:]

	return n, nil
}

func (that *Client) Write(p []byte) (int, error) {
	select {
	case <-that.closed:
		return 0, ErrClosed
	case <-that.lost:
		return 0, ErrClosed
	default:
	}

	ctx, cancel := context.WithTimeout(context.Background(), that.timeout)
	defer cancel()

	if err := that.client.Publish(ctx, that.intents, p).Err(); err != nil {
		return 0, fmt.Errorf("failed to publish frame: %w", err)
	}

	return len(p), nil
}

func (that *Client) Close() error {
	var err error

	that.closeOnce.Do(func() {
		close(that.closed)
		that.wg.Wait()

		if that.pubsub != nil {
			err = errors.Join(that.pubsub.Close(), that.client.Close())
		}
	})

	if err != nil {
		return fmt.Errorf("failed to close redis transport: %w", err)
	}

	return nil
}
