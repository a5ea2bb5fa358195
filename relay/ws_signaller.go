package relay

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/kuuji/meshrelay/pkg/nostrwire"
)

// WSSignaller is the production Signaller: a Nostr relay reached over
// a WebSocket, speaking the NIP-01 text-frame protocol.
type WSSignaller struct {
	cfg Config
	log *slog.Logger

	msgCh chan nostrwire.RelayMessage
	done  chan struct{}

	mu    sync.Mutex
	conn  *websocket.Conn
	subID string
	since int64
	ctx   context.Context
}

// NewWSSignaller constructs a WSSignaller. Open must be called before
// Send or NextMessage.
func NewWSSignaller(cfg Config, log *slog.Logger) *WSSignaller {
	if log == nil {
		log = slog.Default()
	}
	bufSize := cfg.MessageBufferSize
	if bufSize <= 0 {
		bufSize = 64
	}
	return &WSSignaller{
		cfg:   cfg,
		log:   log.With("component", "relay"),
		msgCh: make(chan nostrwire.RelayMessage, bufSize),
		done:  make(chan struct{}),
	}
}

// Open implements Signaller.
func (s *WSSignaller) Open(ctx context.Context) error {
	s.ctx = ctx

	if err := s.dialWithRetry(ctx); err != nil {
		return fmt.Errorf("dialing relay: %w", err)
	}
	if err := s.subscribe(ctx, time.Now().Unix()); err != nil {
		s.closeConn()
		return fmt.Errorf("subscribing to relay: %w", err)
	}

	go s.readLoop(ctx)
	return nil
}

// dialWithRetry dials the relay, retrying with exponential backoff on
// failure. cfg.Attempts bounds the number of tries; nil retries until
// ctx is cancelled.
func (s *WSSignaller) dialWithRetry(ctx context.Context) error {
	const (
		initialBackoff = 500 * time.Millisecond
		maxBackoff     = 30 * time.Second
	)

	backoff := initialBackoff
	var lastErr error
	for attempt := 1; ; attempt++ {
		if err := s.dial(ctx); err != nil {
			lastErr = err
			if s.cfg.Attempts != nil && attempt >= *s.cfg.Attempts {
				return fmt.Errorf("giving up after %d attempt(s): %w", attempt, lastErr)
			}
			s.log.Warn("dial attempt failed, retrying", "attempt", attempt, "error", err, "backoff", backoff)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return ctx.Err()
			}
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			continue
		}
		return nil
	}
}

func (s *WSSignaller) dial(ctx context.Context) error {
	dialTimeout := s.cfg.DialTimeout
	if dialTimeout <= 0 {
		dialTimeout = 10 * time.Second
	}
	dialCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()

	conn, _, err := websocket.Dial(dialCtx, s.cfg.RelayURL, nil)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()
	return nil
}

// subscribe issues a fresh REQ for since. Called from Open with
// time.Now() and from Resubscribe with the preserved since, never a
// freshly-taken "now" — see Resubscribe.
func (s *WSSignaller) subscribe(ctx context.Context, since int64) error {
	subID := uuid.NewString()

	data, err := nostrwire.MarshalClientMessage(nostrwire.ClientMessage{
		Kind:  "REQ",
		SubID: subID,
		Filter: &nostrwire.Filter{
			Kinds: []int{nostrwire.KindEncryptedDirectMessage},
			Since: since,
		},
	})
	if err != nil {
		return fmt.Errorf("marshaling subscription: %w", err)
	}

	s.mu.Lock()
	conn := s.conn
	s.subID = subID
	s.since = since
	s.mu.Unlock()

	if conn == nil {
		return ErrNotConnected
	}
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		return fmt.Errorf("writing subscription: %w", err)
	}
	return nil
}

// Resubscribe implements Signaller. It reuses the previous
// subscription's since rather than resetting it to now: a keep-alive-
// triggered resubscribe is meant to recover a subscription the relay
// silently dropped, not to narrow the window of events we'll accept.
// Resetting since on every resubscribe would reopen the
// downtime-message-loss gap spec.md §9 OQ2 documents for reconnects on
// every keep-alive tick instead of only on an actual reconnect.
func (s *WSSignaller) Resubscribe(ctx context.Context) error {
	s.mu.Lock()
	conn := s.conn
	oldSub := s.subID
	since := s.since
	s.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}

	if oldSub != "" {
		closeData, err := nostrwire.MarshalClientMessage(nostrwire.ClientMessage{Kind: "CLOSE", SubID: oldSub})
		if err == nil {
			_ = conn.Write(ctx, websocket.MessageText, closeData)
		}
	}
	return s.subscribe(ctx, since)
}

// Send implements Signaller.
func (s *WSSignaller) Send(ctx context.Context, ev nostrwire.Event) error {
	data, err := nostrwire.MarshalClientMessage(nostrwire.ClientMessage{Kind: "EVENT", Event: &ev})
	if err != nil {
		return fmt.Errorf("marshaling event: %w", err)
	}

	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}

	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		return fmt.Errorf("writing event: %w", err)
	}
	return nil
}

// NextMessage implements Signaller.
func (s *WSSignaller) NextMessage(ctx context.Context) (nostrwire.RelayMessage, error) {
	select {
	case msg, ok := <-s.msgCh:
		if !ok {
			return nostrwire.RelayMessage{}, ErrClosed
		}
		return msg, nil
	case <-ctx.Done():
		return nostrwire.RelayMessage{}, ctx.Err()
	}
}

// Close implements Signaller.
func (s *WSSignaller) Close() error {
	s.closeConn()
	return nil
}

func (s *WSSignaller) closeConn() {
	s.mu.Lock()
	conn := s.conn
	s.conn = nil
	s.mu.Unlock()
	if conn != nil {
		conn.Close(websocket.StatusNormalClosure, "closing")
	}
}

// readLoop reads frames off the WebSocket, decodes them, and forwards
// parsed relay messages to msgCh. Malformed frames are logged and
// skipped, per spec: parse errors never terminate the loop.
func (s *WSSignaller) readLoop(ctx context.Context) {
	defer close(s.msgCh)
	defer close(s.done)

	for {
		s.mu.Lock()
		conn := s.conn
		s.mu.Unlock()
		if conn == nil {
			return
		}

		_, data, err := conn.Read(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			s.log.Warn("relay connection lost", "error", err)
			return
		}

		msg, err := nostrwire.ParseRelayMessage(data)
		if err != nil {
			s.log.Debug("ignoring malformed relay frame", "error", err)
			continue
		}

		if msg.Kind == "EVENT" && msg.Event != nil {
			s.mu.Lock()
			if msg.Event.CreatedAt > s.since {
				s.since = msg.Event.CreatedAt
			}
			s.mu.Unlock()
		}

		select {
		case s.msgCh <- msg:
		case <-ctx.Done():
			return
		}
	}
}
