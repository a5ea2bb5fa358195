package messageloop

import (
	"sync"

	"github.com/kuuji/meshrelay/pkg/peerid"
)

// OutboundPacket is one item read off a per-channel outbound queue:
// the channel index is implicit in which queue it came from, so only
// the destination peer and payload travel with it.
type OutboundPacket struct {
	Peer   peerid.PeerId
	Packet peerid.Packet
}

// outboundItem tags a fanned-in OutboundPacket with the channel index
// of the queue it arrived on.
type outboundItem struct {
	channel int
	pkt     OutboundPacket
}

// fanInOutbound merges N per-channel outbound queues into one channel
// of tagged items. The returned channel closes once every source
// channel has closed — "all outbound channels closed" per spec §4.4
// item 6, the signal that the application dropped the socket.
func fanInOutbound(sources []<-chan OutboundPacket) <-chan outboundItem {
	out := make(chan outboundItem)
	if len(sources) == 0 {
		close(out)
		return out
	}

	var wg sync.WaitGroup
	wg.Add(len(sources))
	for i, src := range sources {
		i, src := i, src
		go func() {
			defer wg.Done()
			for pkt := range src {
				out <- outboundItem{channel: i, pkt: pkt}
			}
		}()
	}

	go func() {
		wg.Wait()
		close(out)
	}()

	return out
}
