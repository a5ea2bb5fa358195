package messenger

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/kuuji/meshrelay/pkg/peerid"
	"github.com/kuuji/meshrelay/pkg/peerproto"
)

// PionMessenger is the production Messenger, backed by pion/webrtc.
type PionMessenger struct {
	local peerid.PeerId
	log   *slog.Logger

	// api is an optional custom webrtc.API instance (e.g. with a
	// SettingEngine tuned for TURN-over-WebSocket). Nil uses the pion
	// default.
	api *webrtc.API
}

// NewPionMessenger constructs a PionMessenger for the given local
// identity, used only for logging context (peer connections never
// carry cryptographic identity at this layer).
func NewPionMessenger(local peerid.PeerId, log *slog.Logger) *PionMessenger {
	if log == nil {
		log = slog.Default()
	}
	return &PionMessenger{local: local, log: log.With("component", "messenger", "local", local.String())}
}

func iceServers(cfgs []peerid.RtcIceServerConfig) []webrtc.ICEServer {
	servers := make([]webrtc.ICEServer, 0, len(cfgs))
	for _, c := range cfgs {
		servers = append(servers, webrtc.ICEServer{
			URLs:       c.URLs,
			Username:   c.Username,
			Credential: c.Credential,
		})
	}
	return servers
}

func dataChannelInit(cfg peerid.ChannelConfig) *webrtc.DataChannelInit {
	ordered := cfg.Ordered
	return &webrtc.DataChannelInit{
		Ordered:           &ordered,
		MaxRetransmits:    cfg.MaxRetransmits,
		MaxPacketLifeTime: cfg.MaxPacketLifetime,
	}
}

// pionSession implements Session over one webrtc.PeerConnection and N
// ordered data channels.
type pionSession struct {
	log  *slog.Logger
	pc   *webrtc.PeerConnection
	done chan struct{}

	mu       sync.Mutex
	channels []*webrtc.DataChannel

	inbound chan InboundPacket
}

func newPionSession(log *slog.Logger, pc *webrtc.PeerConnection, n int) *pionSession {
	s := &pionSession{
		log:      log,
		pc:       pc,
		done:     make(chan struct{}),
		channels: make([]*webrtc.DataChannel, n),
		inbound:  make(chan InboundPacket, 64),
	}
	// End the session (and so Run) once the connection fails or closes.
	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		if state == webrtc.PeerConnectionStateFailed || state == webrtc.PeerConnectionStateClosed {
			go s.Close()
		}
	})
	return s
}

func (s *pionSession) attach(i int, dc *webrtc.DataChannel) {
	s.mu.Lock()
	s.channels[i] = dc
	s.mu.Unlock()

	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		select {
		case s.inbound <- InboundPacket{Channel: i, Packet: peerid.Packet(msg.Data)}:
		case <-s.done:
		}
	})
	dc.OnClose(func() {
		s.log.Debug("data channel closed", "index", i, "label", dc.Label())
	})
	dc.OnError(func(err error) {
		s.log.Warn("data channel error", "index", i, "error", err)
	})
}

func (s *pionSession) Send(i int, p peerid.Packet) error {
	s.mu.Lock()
	var dc *webrtc.DataChannel
	if i >= 0 && i < len(s.channels) {
		dc = s.channels[i]
	}
	s.mu.Unlock()

	if dc == nil {
		return ErrChannelClosed
	}
	if err := dc.Send(p); err != nil {
		return fmt.Errorf("%w: %w", ErrSendFailed, err)
	}
	return nil
}

func (s *pionSession) Inbound() <-chan InboundPacket { return s.inbound }

func (s *pionSession) Run(ctx context.Context) error {
	select {
	case <-ctx.Done():
	case <-s.done:
	}
	return nil
}

func (s *pionSession) Close() error {
	s.mu.Lock()
	select {
	case <-s.done:
		s.mu.Unlock()
		return nil
	default:
		close(s.done)
	}
	channels := append([]*webrtc.DataChannel(nil), s.channels...)
	s.mu.Unlock()

	for _, dc := range channels {
		if dc != nil {
			_ = dc.Close()
		}
	}
	return s.pc.Close()
}

func (m *PionMessenger) newPeerConnection(iceCfg []peerid.RtcIceServerConfig) (*webrtc.PeerConnection, error) {
	rtcConfig := webrtc.Configuration{ICEServers: iceServers(iceCfg)}
	if m.api != nil {
		return m.api.NewPeerConnection(rtcConfig)
	}
	return webrtc.NewPeerConnection(rtcConfig)
}

// OfferHandshake implements Messenger.
func (m *PionMessenger) OfferHandshake(ctx context.Context, signal SignalPeer, inbound <-chan peerproto.PeerSignal, iceCfg []peerid.RtcIceServerConfig, channels []peerid.ChannelConfig) (Session, peerproto.HandshakeResult) {
	res := peerproto.HandshakeResult{Peer: signal.To, Role: peerproto.RoleOfferer}

	pc, err := m.newPeerConnection(iceCfg)
	if err != nil {
		res.Err = fmt.Errorf("creating peer connection: %w", err)
		return nil, res
	}

	sess := newPionSession(m.log, pc, len(channels))
	m.wireICECandidates(pc, signal)

	createdChannels := make([]*webrtc.DataChannel, len(channels))
	for i, cfg := range channels {
		dc, err := pc.CreateDataChannel(cfg.Label, dataChannelInit(cfg))
		if err != nil {
			_ = pc.Close()
			res.Err = fmt.Errorf("creating data channel %d (%s): %w", i, cfg.Label, err)
			return nil, res
		}
		createdChannels[i] = dc
		sess.attach(i, dc)
	}

	offer, err := pc.CreateOffer(nil)
	if err != nil {
		_ = pc.Close()
		res.Err = fmt.Errorf("creating SDP offer: %w", err)
		return nil, res
	}
	if err := pc.SetLocalDescription(offer); err != nil {
		_ = pc.Close()
		res.Err = fmt.Errorf("setting local description: %w", err)
		return nil, res
	}

	signal.Send(peerproto.PeerSignal{Kind: peerproto.SignalOffer, SDP: offer.SDP})

	if err := m.awaitAnswer(ctx, pc, signal, inbound); err != nil {
		_ = pc.Close()
		res.Err = err
		return nil, res
	}

	if err := awaitOpen(ctx, createdChannels); err != nil {
		_ = pc.Close()
		res.Err = err
		return nil, res
	}
	return sess, res
}

// AcceptHandshake implements Messenger.
func (m *PionMessenger) AcceptHandshake(ctx context.Context, signal SignalPeer, inbound <-chan peerproto.PeerSignal, iceCfg []peerid.RtcIceServerConfig, channels []peerid.ChannelConfig) (Session, peerproto.HandshakeResult) {
	res := peerproto.HandshakeResult{Peer: signal.To, Role: peerproto.RoleAnswerer}

	pc, err := m.newPeerConnection(iceCfg)
	if err != nil {
		res.Err = fmt.Errorf("creating peer connection: %w", err)
		return nil, res
	}

	sess := newPionSession(m.log, pc, len(channels))
	m.wireICECandidates(pc, signal)

	opened := make(chan *webrtc.DataChannel, len(channels))
	pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		opened <- dc
	})

	offerSDP, err := m.awaitOffer(ctx, inbound)
	if err != nil {
		_ = pc.Close()
		res.Err = err
		return nil, res
	}

	if err := pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: offerSDP}); err != nil {
		_ = pc.Close()
		res.Err = fmt.Errorf("setting remote offer: %w", err)
		return nil, res
	}

	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		_ = pc.Close()
		res.Err = fmt.Errorf("creating SDP answer: %w", err)
		return nil, res
	}
	if err := pc.SetLocalDescription(answer); err != nil {
		_ = pc.Close()
		res.Err = fmt.Errorf("setting local description: %w", err)
		return nil, res
	}

	signal.Send(peerproto.PeerSignal{Kind: peerproto.SignalAnswer, SDP: answer.SDP})

	createdChannels := make([]*webrtc.DataChannel, len(channels))
	if err := m.collectDataChannels(ctx, opened, createdChannels, sess); err != nil {
		_ = pc.Close()
		res.Err = err
		return nil, res
	}

	go m.drainCandidates(ctx, pc, inbound)

	if err := awaitOpen(ctx, createdChannels); err != nil {
		_ = pc.Close()
		res.Err = err
		return nil, res
	}
	return sess, res
}

// wireICECandidates relays locally gathered candidates to the remote
// through signal, as PeerSignal{Kind: SignalCandidate}.
func (m *PionMessenger) wireICECandidates(pc *webrtc.PeerConnection, signal SignalPeer) {
	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return // gathering complete
		}
		signal.Send(peerproto.PeerSignal{Kind: peerproto.SignalCandidate, Candidate: c.ToJSON().Candidate})
	})
}

// awaitOffer waits on inbound for the first SignalOffer.
func (m *PionMessenger) awaitOffer(ctx context.Context, inbound <-chan peerproto.PeerSignal) (string, error) {
	for {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case sig, ok := <-inbound:
			if !ok {
				return "", fmt.Errorf("messenger: signal channel closed before offer arrived")
			}
			if sig.Kind == peerproto.SignalOffer {
				return sig.SDP, nil
			}
			// Candidates that arrive ahead of the offer are dropped;
			// the offerer sends each candidate once and does not
			// resend it.
		}
	}
}

// awaitAnswer waits on inbound for the SignalAnswer and applies it,
// meanwhile forwarding any SignalCandidate entries to the connection.
func (m *PionMessenger) awaitAnswer(ctx context.Context, pc *webrtc.PeerConnection, signal SignalPeer, inbound <-chan peerproto.PeerSignal) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case sig, ok := <-inbound:
			if !ok {
				return fmt.Errorf("messenger: signal channel closed before answer arrived")
			}
			switch sig.Kind {
			case peerproto.SignalAnswer:
				if err := pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: sig.SDP}); err != nil {
					return fmt.Errorf("setting remote answer: %w", err)
				}
				go m.drainCandidates(ctx, pc, inbound)
				return nil
			case peerproto.SignalCandidate:
				if err := pc.AddICECandidate(webrtc.ICECandidateInit{Candidate: sig.Candidate}); err != nil {
					m.log.Debug("adding early ICE candidate", "error", err)
				}
			}
		}
	}
}

// drainCandidates forwards trickled ICE candidates for the remainder
// of the session, once the SDP exchange has completed.
func (m *PionMessenger) drainCandidates(ctx context.Context, pc *webrtc.PeerConnection, inbound <-chan peerproto.PeerSignal) {
	for {
		select {
		case <-ctx.Done():
			return
		case sig, ok := <-inbound:
			if !ok {
				return
			}
			if sig.Kind == peerproto.SignalCandidate {
				if err := pc.AddICECandidate(webrtc.ICECandidateInit{Candidate: sig.Candidate}); err != nil {
					m.log.Debug("adding trickled ICE candidate", "error", err)
				}
			}
		}
	}
}

// collectDataChannels waits for exactly len(out) data channels to
// arrive via opened and attaches them to sess in arrival order. The
// offerer creates its channels in ChannelConfig order and pion
// delivers OnDataChannel callbacks in creation order, so arrival order
// matches the configured index.
func (m *PionMessenger) collectDataChannels(ctx context.Context, opened <-chan *webrtc.DataChannel, out []*webrtc.DataChannel, sess *pionSession) error {
	for i := range out {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case dc := <-opened:
			out[i] = dc
			sess.attach(i, dc)
		}
	}
	return nil
}

// awaitOpen blocks until every channel in dcs has fired OnOpen.
func awaitOpen(ctx context.Context, dcs []*webrtc.DataChannel) error {
	var wg sync.WaitGroup
	wg.Add(len(dcs))
	for _, dc := range dcs {
		dc.OnOpen(func() {
			wg.Done()
		})
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
