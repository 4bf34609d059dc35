package connection

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rickgao/quotecore/internal/metrics"
	"github.com/rickgao/quotecore/internal/model"
)

// State is the stream connection state.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateReconnecting
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// errRestart ends a live session when Restart is called.
var errRestart = errors.New("restart requested")

// SymbolSource provides the symbols the stream should be subscribed to.
// Changed is signalled when the set may have changed.
type SymbolSource interface {
	Symbols() []string
	Changed() <-chan struct{}
}

// TickHandler receives parsed ticks on the stream goroutine.
type TickHandler func(model.QuoteSnapshot)

// StateHook observes state transitions.
type StateHook func(from, to State)

// StreamStats is a point-in-time view of the stream.
type StreamStats struct {
	State       string    `json:"state"`
	Attempts    int       `json:"attempts"`
	Connects    uint64    `json:"connects"`
	Reconnects  uint64    `json:"reconnects"`
	Ticks       uint64    `json:"ticks"`
	Dropped     uint64    `json:"dropped"`
	Subscribed  int       `json:"subscribed"`
	LastMessage time.Time `json:"last_message,omitempty"`
	LastError   string    `json:"last_error,omitempty"`
}

// Stream maintains the upstream price feed subscription.
type Stream struct {
	cfg       StreamConfig
	symbols   SymbolSource
	onTick    TickHandler
	logger    *slog.Logger
	newClient func(ClientConfig, *slog.Logger) Client
	now       func() time.Time

	state  atomic.Int32
	hookMu sync.Mutex
	hooks  []StateHook

	mu          sync.Mutex
	attempts    int
	subscribed  map[string]struct{}
	lastMessage time.Time
	lastErr     error

	connects   atomic.Uint64
	reconnects atomic.Uint64
	ticks      atomic.Uint64
	dropped    atomic.Uint64

	restart chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewStream creates a stream. Zero config fields take the defaults.
func NewStream(cfg StreamConfig, symbols SymbolSource, onTick TickHandler, logger *slog.Logger) *Stream {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultStreamConfig()
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = def.HeartbeatInterval
	}
	if cfg.HeartbeatTimeout <= 0 {
		cfg.HeartbeatTimeout = def.HeartbeatTimeout
	}
	if cfg.ReconnectBaseDelay <= 0 {
		cfg.ReconnectBaseDelay = def.ReconnectBaseDelay
	}
	if cfg.ReconnectMaxDelay < cfg.ReconnectBaseDelay {
		cfg.ReconnectMaxDelay = max(def.ReconnectMaxDelay, cfg.ReconnectBaseDelay)
	}
	if cfg.MaxReconnectAttempts < 1 {
		cfg.MaxReconnectAttempts = def.MaxReconnectAttempts
	}
	if cfg.SubscribeChunk < 1 {
		cfg.SubscribeChunk = def.SubscribeChunk
	}
	if onTick == nil {
		onTick = func(model.QuoteSnapshot) {}
	}

	s := &Stream{
		cfg:        cfg,
		symbols:    symbols,
		onTick:     onTick,
		logger:     logger.With("component", "stream"),
		newClient:  NewClient,
		now:        time.Now,
		subscribed: make(map[string]struct{}),
		restart:    make(chan struct{}, 1),
	}
	return s
}

// OnStateChange registers a hook called on every transition.
func (s *Stream) OnStateChange(h StateHook) {
	s.hookMu.Lock()
	s.hooks = append(s.hooks, h)
	s.hookMu.Unlock()
}

// Start begins the connect/read/reconnect loop.
func (s *Stream) Start(ctx context.Context) error {
	if s.cfg.Client.APIKey == "" {
		return ErrNoAPIKey
	}
	s.ctx, s.cancel = context.WithCancel(ctx)

	s.wg.Add(1)
	go s.run()

	s.logger.Info("stream started",
		"url", s.cfg.Client.URL,
		"heartbeat_interval", s.cfg.HeartbeatInterval,
		"heartbeat_timeout", s.cfg.HeartbeatTimeout,
	)
	return nil
}

// Stop closes the connection and waits for the loop to exit.
func (s *Stream) Stop(ctx context.Context) error {
	if s.cancel != nil {
		s.cancel()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("stream stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Restart resets the attempt counter and reconnects. It is the only way out
// of StateFailed.
func (s *Stream) Restart() {
	select {
	case s.restart <- struct{}{}:
	default:
	}
}

// State returns the current state.
func (s *Stream) State() State {
	return State(s.state.Load())
}

// Attempts returns the consecutive failed connection attempts.
func (s *Stream) Attempts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attempts
}

// Stats returns a snapshot of stream counters.
func (s *Stream) Stats() StreamStats {
	s.mu.Lock()
	st := StreamStats{
		State:       s.State().String(),
		Attempts:    s.attempts,
		Subscribed:  len(s.subscribed),
		LastMessage: s.lastMessage,
	}
	if s.lastErr != nil {
		st.LastError = s.lastErr.Error()
	}
	s.mu.Unlock()

	st.Connects = s.connects.Load()
	st.Reconnects = s.reconnects.Load()
	st.Ticks = s.ticks.Load()
	st.Dropped = s.dropped.Load()
	return st
}

func (s *Stream) setState(to State) {
	from := State(s.state.Swap(int32(to)))
	if from == to {
		return
	}
	metrics.StreamState.Set(float64(to))
	s.logger.Debug("stream state", "from", from, "to", to)

	s.hookMu.Lock()
	hooks := append([]StateHook(nil), s.hooks...)
	s.hookMu.Unlock()
	for _, h := range hooks {
		h(from, to)
	}
}

func (s *Stream) run() {
	defer s.wg.Done()
	defer s.setState(StateDisconnected)

	for {
		if s.ctx.Err() != nil {
			return
		}

		s.setState(StateConnecting)
		c := s.newClient(s.cfg.Client, s.logger)
		if err := c.Connect(s.ctx); err != nil {
			if s.ctx.Err() != nil {
				return
			}
			s.recordErr(err)
			s.logger.Warn("stream connect failed", "attempt", s.Attempts()+1, "error", err)
			if !s.waitReconnect() {
				return
			}
			continue
		}

		s.mu.Lock()
		s.attempts = 0
		s.lastMessage = s.now()
		s.mu.Unlock()
		s.connects.Add(1)
		s.setState(StateConnected)
		s.logger.Info("stream connected")

		err := s.session(c)
		_ = c.Close()

		s.mu.Lock()
		s.subscribed = make(map[string]struct{})
		s.mu.Unlock()

		if s.ctx.Err() != nil {
			return
		}
		if errors.Is(err, errRestart) {
			s.logger.Info("stream restart requested")
			continue
		}
		s.recordErr(err)
		s.logger.Warn("stream disconnected", "error", err)
		if !s.waitReconnect() {
			return
		}
	}
}

// waitReconnect counts an attempt and sleeps the backoff delay. Past the
// attempt limit it parks in StateFailed until Restart. It returns false when
// the stream is stopping.
func (s *Stream) waitReconnect() bool {
	s.mu.Lock()
	s.attempts++
	n := s.attempts
	s.mu.Unlock()

	if n > s.cfg.MaxReconnectAttempts {
		s.setState(StateFailed)
		s.logger.Error("stream failed, restart required",
			"attempts", n-1,
			"error", ErrStreamFailed,
		)
		select {
		case <-s.ctx.Done():
			return false
		case <-s.restart:
			s.resetAttempts()
			return true
		}
	}

	s.setState(StateReconnecting)
	s.reconnects.Add(1)
	metrics.StreamReconnects.Inc()

	delay := backoffDelay(s.cfg.ReconnectBaseDelay, s.cfg.ReconnectMaxDelay, n)
	s.logger.Info("stream reconnecting", "attempt", n, "delay", delay)

	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-s.ctx.Done():
		return false
	case <-s.restart:
		s.resetAttempts()
		return true
	case <-timer.C:
		return true
	}
}

// backoffDelay doubles base per attempt, capped at maxDelay.
func backoffDelay(base, maxDelay time.Duration, attempt int) time.Duration {
	d := base
	for i := 1; i < attempt && d < maxDelay; i++ {
		d *= 2
	}
	return min(d, maxDelay)
}

func (s *Stream) resetAttempts() {
	s.mu.Lock()
	s.attempts = 0
	s.mu.Unlock()
}

func (s *Stream) recordErr(err error) {
	s.mu.Lock()
	s.lastErr = err
	s.mu.Unlock()
}

// session serves one live connection until it fails.
func (s *Stream) session(c Client) error {
	if err := s.resubscribe(c); err != nil {
		return err
	}

	heartbeat := time.NewTicker(s.cfg.HeartbeatInterval)
	defer heartbeat.Stop()

	watchdog := time.NewTicker(max(s.cfg.HeartbeatTimeout/4, 5*time.Millisecond))
	defer watchdog.Stop()

	var changed <-chan struct{}
	if s.symbols != nil {
		changed = s.symbols.Changed()
	}

	for {
		select {
		case <-s.ctx.Done():
			return s.ctx.Err()

		case <-s.restart:
			s.resetAttempts()
			return errRestart

		case err := <-c.Errors():
			return err

		case msg := <-c.Messages():
			s.mu.Lock()
			s.lastMessage = msg.ReceivedAt
			s.mu.Unlock()
			s.handleMessage(msg)

		case <-heartbeat.C:
			if err := c.SendJSON(Command{Action: ActionHeartbeat}); err != nil {
				return err
			}

		case <-watchdog.C:
			s.mu.Lock()
			silent := s.now().Sub(s.lastMessage)
			s.mu.Unlock()
			if silent > s.cfg.HeartbeatTimeout {
				return ErrStaleConnection
			}

		case <-changed:
			if err := s.syncSymbols(c); err != nil {
				return err
			}
		}
	}
}

func (s *Stream) wanted() []string {
	if s.symbols == nil {
		return nil
	}
	return s.symbols.Symbols()
}

// resubscribe subscribes every wanted symbol on a fresh connection.
func (s *Stream) resubscribe(c Client) error {
	want := s.wanted()
	if err := s.send(c, ActionSubscribe, want); err != nil {
		return err
	}

	s.mu.Lock()
	s.subscribed = make(map[string]struct{}, len(want))
	for _, sym := range want {
		s.subscribed[sym] = struct{}{}
	}
	s.mu.Unlock()

	if len(want) > 0 {
		s.logger.Info("stream subscribed", "symbols", len(want))
	}
	return nil
}

// syncSymbols diffs the wanted set against the subscribed set.
func (s *Stream) syncSymbols(c Client) error {
	want := make(map[string]struct{})
	for _, sym := range s.wanted() {
		want[sym] = struct{}{}
	}

	s.mu.Lock()
	var add, remove []string
	for sym := range want {
		if _, ok := s.subscribed[sym]; !ok {
			add = append(add, sym)
		}
	}
	for sym := range s.subscribed {
		if _, ok := want[sym]; !ok {
			remove = append(remove, sym)
		}
	}
	s.mu.Unlock()

	sort.Strings(add)
	sort.Strings(remove)

	if err := s.send(c, ActionSubscribe, add); err != nil {
		return err
	}
	if err := s.send(c, ActionUnsubscribe, remove); err != nil {
		return err
	}

	s.mu.Lock()
	for _, sym := range add {
		s.subscribed[sym] = struct{}{}
	}
	for _, sym := range remove {
		delete(s.subscribed, sym)
	}
	s.mu.Unlock()

	if len(add)+len(remove) > 0 {
		s.logger.Debug("stream symbols updated", "added", add, "removed", remove)
	}
	return nil
}

// send writes action commands in chunks of SubscribeChunk symbols.
func (s *Stream) send(c Client, action string, symbols []string) error {
	for len(symbols) > 0 {
		n := min(len(symbols), s.cfg.SubscribeChunk)
		if err := c.SendJSON(NewSymbolCommand(action, symbols[:n])); err != nil {
			return err
		}
		symbols = symbols[n:]
	}
	return nil
}

func (s *Stream) handleMessage(msg TimestampedMessage) {
	var env Envelope
	if err := json.Unmarshal(msg.Data, &env); err != nil {
		s.drop("malformed message", err)
		return
	}

	switch env.Event {
	case EventPrice:
		snap, err := ParseTick(msg.Data, msg.ReceivedAt)
		if err != nil {
			s.drop("invalid price event", err)
			return
		}
		s.ticks.Add(1)
		metrics.StreamTicks.WithLabelValues("accepted").Inc()
		s.onTick(snap)

	case EventSubscribeStatus:
		var st SubscribeStatus
		if err := json.Unmarshal(msg.Data, &st); err != nil {
			s.logger.Warn("malformed subscribe status", "error", err)
			return
		}
		if len(st.Fails) > 0 || st.Status == "error" {
			fails := make([]string, 0, len(st.Fails))
			for _, f := range st.Fails {
				fails = append(fails, f.Symbol)
			}
			s.logger.Warn("stream subscribe rejected", "status", st.Status, "symbols", fails)
		}

	case EventHeartbeat:
		if env.Status != "" && env.Status != "ok" {
			s.logger.Warn("heartbeat not acknowledged", "status", env.Status)
		}

	default:
		s.logger.Debug("ignoring stream event", "event", env.Event)
	}
}

func (s *Stream) drop(reason string, err error) {
	s.dropped.Add(1)
	metrics.StreamTicks.WithLabelValues("dropped").Inc()
	s.logger.Warn(reason, "error", err)
}
