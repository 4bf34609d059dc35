package connection

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Client represents a single WebSocket connection to the price feed.
type Client interface {
	// Connect establishes the WebSocket connection.
	Connect(ctx context.Context) error

	// Close gracefully closes the connection.
	Close() error

	// Send writes raw bytes to the connection.
	Send(data []byte) error

	// SendJSON encodes v and writes it as a text message.
	SendJSON(v any) error

	// Messages returns a channel of all inbound messages with receive timestamps.
	Messages() <-chan TimestampedMessage

	// Errors returns a channel of connection errors. At most one is delivered.
	Errors() <-chan error

	// IsConnected returns current connection state.
	IsConnected() bool
}

// maxMessageSize bounds a single inbound frame. Price events are tiny; the
// largest legitimate payload is a subscribe-status listing every symbol.
const maxMessageSize = 1 << 20

// feedConn is the gorilla/websocket implementation of Client.
type feedConn struct {
	cfg    ClientConfig
	logger *slog.Logger

	inbox   chan TimestampedMessage
	failure chan error
	done    chan struct{}

	writeMu sync.Mutex

	mu     sync.RWMutex
	ws     *websocket.Conn
	up     bool
	closed bool
}

// NewClient returns a Client for cfg. It does not dial until Connect.
func NewClient(cfg ClientConfig, logger *slog.Logger) Client {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultClientConfig()
	if cfg.BufferSize < 1 {
		cfg.BufferSize = def.BufferSize
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = def.WriteTimeout
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = def.HandshakeTimeout
	}

	return &feedConn{
		cfg:     cfg,
		logger:  logger,
		inbox:   make(chan TimestampedMessage, cfg.BufferSize),
		failure: make(chan error, 1),
		done:    make(chan struct{}),
	}
}

// dialURL carries the provider credential in the apikey query parameter.
func dialURL(raw, apiKey string) (string, error) {
	if apiKey == "" {
		return raw, nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("apikey", apiKey)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (f *feedConn) Connect(ctx context.Context) error {
	f.mu.RLock()
	closed := f.closed
	f.mu.RUnlock()
	if closed {
		return ErrAlreadyClosed
	}

	target, err := dialURL(f.cfg.URL, f.cfg.APIKey)
	if err != nil {
		return err
	}

	dialer := websocket.Dialer{HandshakeTimeout: f.cfg.HandshakeTimeout}
	ws, _, err := dialer.DialContext(ctx, target, http.Header{"Accept": []string{"application/json"}})
	if err != nil {
		return err
	}
	ws.SetReadLimit(maxMessageSize)
	// Application heartbeats belong to the Stream; protocol pings are
	// answered here so the provider never drops an idle socket.
	ws.SetPingHandler(func(data string) error {
		f.writeMu.Lock()
		defer f.writeMu.Unlock()
		return ws.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(time.Second))
	})

	f.mu.Lock()
	f.ws, f.up = ws, true
	f.mu.Unlock()

	go f.readLoop(ws)

	f.logger.Debug("price feed connected", "url", f.cfg.URL)
	return nil
}

func (f *feedConn) Close() error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return nil
	}
	f.closed, f.up = true, false
	ws := f.ws
	f.mu.Unlock()

	close(f.done)
	if ws == nil {
		return nil
	}

	f.writeMu.Lock()
	_ = ws.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second),
	)
	f.writeMu.Unlock()
	return ws.Close()
}

func (f *feedConn) Send(data []byte) error {
	return f.write(func(ws *websocket.Conn) error {
		return ws.WriteMessage(websocket.TextMessage, data)
	})
}

func (f *feedConn) SendJSON(v any) error {
	return f.write(func(ws *websocket.Conn) error {
		return ws.WriteJSON(v)
	})
}

// write serializes fn with every other writer under the write deadline.
func (f *feedConn) write(fn func(*websocket.Conn) error) error {
	f.mu.RLock()
	ws, up := f.ws, f.up
	f.mu.RUnlock()
	if !up {
		return ErrNotConnected
	}

	f.writeMu.Lock()
	defer f.writeMu.Unlock()
	_ = ws.SetWriteDeadline(time.Now().Add(f.cfg.WriteTimeout))
	return fn(ws)
}

func (f *feedConn) Messages() <-chan TimestampedMessage { return f.inbox }

func (f *feedConn) Errors() <-chan error { return f.failure }

func (f *feedConn) IsConnected() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.up
}

// readLoop forwards frames until the socket fails or Close is called. A
// read error after Close is expected and not reported.
func (f *feedConn) readLoop(ws *websocket.Conn) {
	defer func() {
		f.mu.Lock()
		f.up = false
		f.mu.Unlock()
	}()

	for {
		_, data, err := ws.ReadMessage()
		receivedAt := time.Now()
		if err != nil {
			select {
			case <-f.done:
				return
			default:
			}
			select {
			case f.failure <- err:
			default:
			}
			return
		}

		select {
		case f.inbox <- TimestampedMessage{Data: data, ReceivedAt: receivedAt}:
		case <-f.done:
			return
		default:
			f.logger.Warn("inbound buffer full, dropping frame", "bytes", len(data))
		}
	}
}
