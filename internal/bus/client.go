package bus

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/loqalabs/loqa-interview/internal/config"
	"github.com/nats-io/nats.go"
)

// Client is the process-wide NATS connection. Subjects covered by a stream
// registered through EnsureStream are published through JetStream so they
// survive subscriber restarts.
type Client struct {
	conn *nats.Conn
	js   nats.JetStreamContext
	log  *slog.Logger

	mu       sync.RWMutex
	prefixes []string
}

func Connect(ctx context.Context, cfg config.BusConfig, log *slog.Logger) (*Client, error) {
	if len(cfg.Servers) == 0 {
		return nil, errors.New("no NATS servers configured")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	log = log.With(slog.String("component", "bus"))

	options := []nats.Option{
		nats.Name("interviewd"),
		nats.Timeout(time.Duration(cfg.ConnectTimeout) * time.Millisecond),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn("bus disconnected", slog.String("error", err.Error()))
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info("bus reconnected", slog.String("server", nc.ConnectedUrl()))
		}),
	}
	switch {
	case cfg.Token != "":
		options = append(options, nats.Token(cfg.Token))
	case cfg.Username != "" || cfg.Password != "":
		options = append(options, nats.UserInfo(cfg.Username, cfg.Password))
	}
	if cfg.TLSInsecure {
		options = append(options, nats.Secure(&tls.Config{InsecureSkipVerify: true}))
	}

	servers := strings.Join(cfg.Servers, ",")
	conn, err := nats.Connect(servers, options...)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}
	js, err := conn.JetStream()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("create jetstream context: %w", err)
	}
	log.Info("connected to NATS", slog.String("servers", servers))
	return &Client{conn: conn, js: js, log: log}, nil
}

// EnsureStream creates the named stream or updates it in place, then routes
// later Publish calls on its subjects through JetStream.
func (c *Client) EnsureStream(name string, subjects []string, maxAge time.Duration) error {
	cfg := &nats.StreamConfig{
		Name:      name,
		Subjects:  subjects,
		Storage:   nats.FileStorage,
		Retention: nats.LimitsPolicy,
		MaxAge:    maxAge,
	}
	_, err := c.js.StreamInfo(name)
	switch {
	case err == nil:
		_, err = c.js.UpdateStream(cfg)
	case errors.Is(err, nats.ErrStreamNotFound):
		_, err = c.js.AddStream(cfg)
	}
	if err != nil {
		return fmt.Errorf("ensure stream %s: %w", name, err)
	}

	c.mu.Lock()
	for _, s := range subjects {
		c.prefixes = append(c.prefixes, strings.TrimSuffix(s, ">"))
	}
	c.mu.Unlock()
	c.log.Info("jetstream stream ready", slog.String("stream", name), slog.Any("subjects", subjects))
	return nil
}

func (c *Client) streamed(subject string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, p := range c.prefixes {
		if subject == p || strings.HasPrefix(subject, p) {
			return true
		}
	}
	return false
}

// Publish sends payload on subject. Streamed subjects go through JetStream
// and fall back to a core publish when the stream rejects the message.
func (c *Client) Publish(subject string, payload []byte) error {
	if c.streamed(subject) {
		_, err := c.js.Publish(subject, payload)
		if err == nil {
			return nil
		}
		c.log.Debug("jetstream publish failed, using core publish",
			slog.String("subject", subject), slog.String("error", err.Error()))
	}
	return c.conn.Publish(subject, payload)
}

// Subscribe registers handler on subject and returns a function that
// removes it.
func (c *Client) Subscribe(subject string, handler nats.MsgHandler) (func(), error) {
	sub, err := c.conn.Subscribe(subject, handler)
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", subject, err)
	}
	return func() {
		if err := sub.Unsubscribe(); err != nil && !errors.Is(err, nats.ErrConnectionClosed) {
			c.log.Debug("unsubscribe failed", slog.String("subject", subject), slog.String("error", err.Error()))
		}
	}, nil
}

// Flush round-trips to the server so earlier subscriptions are active.
func (c *Client) Flush() error {
	return c.conn.Flush()
}

// Close drains pending messages. It is safe on a nil client.
func (c *Client) Close() {
	if c == nil {
		return
	}
	c.log.Info("closing NATS connection")
	if err := c.conn.Drain(); err != nil {
		c.conn.Close()
	}
}

func (c *Client) Healthy() bool {
	return c != nil && c.conn != nil && c.conn.Status() == nats.CONNECTED
}

func (c *Client) JetStream() nats.JetStreamContext {
	return c.js
}
