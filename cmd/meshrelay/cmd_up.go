package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/kuuji/meshrelay/meshcfg"
	"github.com/kuuji/meshrelay/messageloop"
	"github.com/kuuji/meshrelay/pkg/peerid"
	"github.com/kuuji/meshrelay/pkg/peerproto"
	"github.com/kuuji/meshrelay/socket"
)

var joinCmd = &cobra.Command{
	Use:   "join",
	Short: "Join the configured relay and echo lines typed on stdin to every connected peer",
	Long: `Start a socket using the resolved config, log peer connect/
disconnect events to stderr, print inbound packets on channel 0 to
stdout, and broadcast each line read from stdin to every currently connected peer.

This is a demonstration client, not a production application — it
keeps no record of which peers are connected beyond the most recent
state change.`,
	RunE: runJoin,
}

func runJoin(cmd *cobra.Command, args []string) error {
	cfg, err := meshcfg.Load(resolvedConfigPath())
	if err != nil {
		return fmt.Errorf("loading config from %s: %w", resolvedConfigPath(), err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sock, err := socket.New(ctx, cfg, globalLogger)
	if err != nil {
		return fmt.Errorf("starting socket: %w", err)
	}
	defer sock.Close()

	globalLogger.Info("joined relay", "peer_id", sock.PeerID().String())

	var mu sync.Mutex
	known := make(map[peerid.PeerId]struct{})

	ch0 := sock.Channel(0)

	go func() {
		for change := range sock.PeerStates() {
			mu.Lock()
			switch change.State {
			case peerproto.PeerConnected:
				known[change.Peer] = struct{}{}
			case peerproto.PeerDisconnected:
				delete(known, change.Peer)
			}
			mu.Unlock()
			globalLogger.Info("peer state changed", "peer", change.Peer.String(), "state", change.State.String())
		}
	}()

	go func() {
		for delivery := range ch0.Inbound {
			fmt.Printf("[%s] %s\n", delivery.Peer.String(), string(delivery.Packet))
		}
	}()

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := scanner.Text()
		mu.Lock()
		peers := make([]peerid.PeerId, 0, len(known))
		for peer := range known {
			peers = append(peers, peer)
		}
		mu.Unlock()

		for _, peer := range peers {
			select {
			case ch0.Outbound <- messageloop.OutboundPacket{Peer: peer, Packet: peerid.Packet(line)}:
			case <-ctx.Done():
				return nil
			}
		}
	}

	<-ctx.Done()
	return nil
}
