package relay

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
)

// reqHub is a minimal in-process relay that only understands enough of
// NIP-01 to record the since of each REQ frame a WSSignaller sends it;
// other frames, CLOSE included, are ignored. It never
// pushes any EVENT back, so these tests exercise only the subscribe/
// resubscribe side of the wire protocol.
type reqHub struct {
	mu     sync.Mutex
	sinces []int64
}

func (h *reqHub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	ctx := r.Context()
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return
		}

		var raw []json.RawMessage
		if err := json.Unmarshal(data, &raw); err != nil || len(raw) == 0 {
			continue
		}
		var kind string
		if err := json.Unmarshal(raw[0], &kind); err != nil {
			continue
		}
		if kind != "REQ" || len(raw) < 3 {
			continue
		}
		var filter struct {
			Since int64 `json:"since"`
		}
		if err := json.Unmarshal(raw[2], &filter); err != nil {
			continue
		}
		h.mu.Lock()
		h.sinces = append(h.sinces, filter.Since)
		h.mu.Unlock()
	}
}

func (h *reqHub) waitForSinces(t *testing.T, n int) []int64 {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		h.mu.Lock()
		got := len(h.sinces)
		h.mu.Unlock()
		if got >= n {
			h.mu.Lock()
			out := append([]int64(nil), h.sinces...)
			h.mu.Unlock()
			return out
		}
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for %d REQ frames, got %d", n, got)
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func startReqHub(t *testing.T) (*reqHub, string) {
	t.Helper()
	hub := &reqHub{}
	srv := httptest.NewServer(hub)
	t.Cleanup(srv.Close)
	return hub, "ws" + strings.TrimPrefix(srv.URL, "http")
}

// TestWSSignaller_ResubscribePreservesSince checks that Resubscribe
// reuses the original subscription's since rather than resetting it to
// a fresh "now": spec.md §9 OQ2 accepts losing messages sent during a
// genuine reconnect gap, but a keep-alive-triggered resubscribe must not
// reopen that gap on every tick.
func TestWSSignaller_ResubscribePreservesSince(t *testing.T) {
	t.Parallel()

	hub, wsURL := startReqHub(t)

	attempts := 1
	s := NewWSSignaller(Config{RelayURL: wsURL, PubKeyHex: "deadbeef", Attempts: &attempts}, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.Open(ctx); err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	sinces := hub.waitForSinces(t, 1)
	original := sinces[0]

	// Let enough wall-clock pass that a fresh time.Now() would differ
	// from the original subscribe time, then resubscribe.
	time.Sleep(1100 * time.Millisecond)

	if err := s.Resubscribe(ctx); err != nil {
		t.Fatalf("Resubscribe: %v", err)
	}

	sinces = hub.waitForSinces(t, 2)
	if sinces[1] != original {
		t.Fatalf("Resubscribe reset since: got %d, want preserved %d", sinces[1], original)
	}
}
