package connection

import (
	"errors"
	"strings"
	"time"

	"github.com/rickgao/quotecore/internal/api"
)

// Errors
var (
	ErrNotConnected    = errors.New("not connected")
	ErrStaleConnection = errors.New("connection stale (heartbeat deadline missed)")
	ErrAlreadyClosed   = errors.New("already closed")
	ErrStreamFailed    = errors.New("stream failed (max reconnect attempts reached)")
	ErrNoAPIKey        = errors.New("streaming requires an api key")
)

// TimestampedMessage wraps raw message data with receive timestamp.
type TimestampedMessage struct {
	Data       []byte    // Raw message bytes from WebSocket
	ReceivedAt time.Time // Local timestamp when ReadMessage() returned
}

// Action names understood by the upstream feed.
const (
	ActionSubscribe   = "subscribe"
	ActionUnsubscribe = "unsubscribe"
	ActionHeartbeat   = "heartbeat"
)

// Command is a message sent to the upstream feed.
type Command struct {
	Action string         `json:"action"`
	Params *CommandParams `json:"params,omitempty"`
}

// CommandParams carries a comma-separated symbol list.
type CommandParams struct {
	Symbols string `json:"symbols"`
}

// NewSymbolCommand builds a subscribe or unsubscribe command.
func NewSymbolCommand(action string, symbols []string) Command {
	return Command{Action: action, Params: &CommandParams{Symbols: strings.Join(symbols, ",")}}
}

// Event types sent by the upstream feed.
const (
	EventPrice           = "price"
	EventHeartbeat       = "heartbeat"
	EventSubscribeStatus = "subscribe-status"
)

// Envelope is the minimal shape shared by every inbound event.
type Envelope struct {
	Event  string `json:"event"`
	Status string `json:"status,omitempty"`
}

// PriceEvent is an inbound price tick. Numeric fields may arrive as
// numbers or strings.
type PriceEvent struct {
	Event         string        `json:"event"`
	Symbol        string        `json:"symbol"`
	Currency      string        `json:"currency"`
	Exchange      string        `json:"exchange"`
	Timestamp     api.NumString `json:"timestamp"`
	Price         api.NumString `json:"price"`
	Change        api.NumString `json:"change"`
	PercentChange api.NumString `json:"percent_change"`
	DayVolume     api.NumString `json:"day_volume"`
	Volume        api.NumString `json:"volume"`
}

// SubscribeStatus reports the result of a subscribe command.
type SubscribeStatus struct {
	Event   string `json:"event"`
	Status  string `json:"status"`
	Success []struct {
		Symbol string `json:"symbol"`
	} `json:"success"`
	Fails []struct {
		Symbol string `json:"symbol"`
	} `json:"fails"`
}

// ClientConfig configures a WebSocket client.
type ClientConfig struct {
	URL              string        // WebSocket URL (e.g., wss://ws.twelvedata.com/v1/quotes/price)
	APIKey           string        // Sent as the apikey query parameter
	WriteTimeout     time.Duration // Write deadline for sends
	HandshakeTimeout time.Duration // Dial handshake timeout
	BufferSize       int           // Message channel buffer size
}

// DefaultClientConfig returns sensible defaults.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		WriteTimeout:     5 * time.Second,
		HandshakeTimeout: 10 * time.Second,
		BufferSize:       1024,
	}
}

// StreamConfig configures the Stream.
type StreamConfig struct {
	Client               ClientConfig
	HeartbeatInterval    time.Duration // Outbound heartbeat period
	HeartbeatTimeout     time.Duration // Max silence before reconnecting
	ReconnectBaseDelay   time.Duration
	ReconnectMaxDelay    time.Duration
	MaxReconnectAttempts int
	SubscribeChunk       int // Max symbols per subscribe command
}

// DefaultStreamConfig returns sensible defaults.
func DefaultStreamConfig() StreamConfig {
	return StreamConfig{
		Client:               DefaultClientConfig(),
		HeartbeatInterval:    30 * time.Second,
		HeartbeatTimeout:     75 * time.Second,
		ReconnectBaseDelay:   time.Second,
		ReconnectMaxDelay:    30 * time.Second,
		MaxReconnectAttempts: 10,
		SubscribeChunk:       100,
	}
}
