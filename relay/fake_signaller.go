package relay

import (
	"context"
	"sync"

	"github.com/kuuji/meshrelay/pkg/nostrwire"
)

// FakeRoom is an in-memory stand-in for a Nostr relay, shared by every
// FakeSignaller constructed with NewFakeSignaller(room, ...). It
// broadcasts every published EVENT to every other subscriber, mimicking
// a relay's fan-out without any network or cryptography involved.
type FakeRoom struct {
	mu      sync.Mutex
	members []*FakeSignaller
}

// NewFakeRoom creates an empty room.
func NewFakeRoom() *FakeRoom {
	return &FakeRoom{}
}

func (r *FakeRoom) join(s *FakeSignaller) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.members = append(r.members, s)
}

func (r *FakeRoom) leave(s *FakeSignaller) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, m := range r.members {
		if m == s {
			r.members = append(r.members[:i], r.members[i+1:]...)
			return
		}
	}
}

func (r *FakeRoom) publish(from *FakeSignaller, ev nostrwire.Event) {
	r.mu.Lock()
	members := append([]*FakeSignaller(nil), r.members...)
	r.mu.Unlock()

	msg := nostrwire.RelayMessage{Kind: "EVENT", Event: &ev}
	for _, m := range members {
		if m == from {
			continue // a relay does not echo a publisher's own event back to them; neither does this fake
		}
		m.deliver(msg)
	}
}

// FakeSignaller is a Signaller backed by a FakeRoom instead of a real
// relay connection. Useful for exercising the signaling loop's
// encrypt/decrypt/dispatch logic without a network.
type FakeSignaller struct {
	room *FakeRoom

	mu     sync.Mutex
	closed bool
	subID  string

	msgCh chan nostrwire.RelayMessage
}

// NewFakeSignaller creates a FakeSignaller that will join room once
// Open is called.
func NewFakeSignaller(room *FakeRoom) *FakeSignaller {
	return &FakeSignaller{
		room:  room,
		msgCh: make(chan nostrwire.RelayMessage, 64),
	}
}

// Open implements Signaller.
func (f *FakeSignaller) Open(ctx context.Context) error {
	f.room.join(f)
	return nil
}

// Send implements Signaller.
func (f *FakeSignaller) Send(ctx context.Context, ev nostrwire.Event) error {
	f.mu.Lock()
	closed := f.closed
	f.mu.Unlock()
	if closed {
		return ErrClosed
	}
	f.room.publish(f, ev)
	return nil
}

// NextMessage implements Signaller.
func (f *FakeSignaller) NextMessage(ctx context.Context) (nostrwire.RelayMessage, error) {
	select {
	case msg, ok := <-f.msgCh:
		if !ok {
			return nostrwire.RelayMessage{}, ErrClosed
		}
		return msg, nil
	case <-ctx.Done():
		return nostrwire.RelayMessage{}, ctx.Err()
	}
}

// Resubscribe implements Signaller. The fake room has no historical
// buffer and no subscriptions, so this is a no-op.
func (f *FakeSignaller) Resubscribe(ctx context.Context) error {
	return nil
}

// Close implements Signaller.
func (f *FakeSignaller) Close() error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return nil
	}
	f.closed = true
	f.mu.Unlock()

	f.room.leave(f)
	close(f.msgCh)
	return nil
}

func (f *FakeSignaller) deliver(msg nostrwire.RelayMessage) {
	f.mu.Lock()
	closed := f.closed
	f.mu.Unlock()
	if closed {
		return
	}
	f.msgCh <- msg
}
