// Package gossip broadcasts connector-tree root announcements to the
// verifier federation over libp2p-pubsub, adapted from the teacher's
// SwapHandler topic-join/publish/subscribe pattern in
// internal/node/swap_handler.go.
package gossip

import (
	"context"
	"encoding/json"

	"github.com/libp2p/go-libp2p"
	dht "github.com/libp2p/go-libp2p-kad-dht"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/multiformats/go-multiaddr"

	"github.com/btc-rollup-bridge/bridged/internal/bridgerr"
	"github.com/btc-rollup-bridge/bridged/internal/bridgetypes"
	"github.com/btc-rollup-bridge/bridged/pkg/logging"
)

const op = "gossip"

// Host bundles the libp2p host, its Kademlia DHT (used for verifier
// peer discovery), and a gossipsub instance running over it. Grounded
// on the teacher's internal/node/node.go composition, trimmed to the
// pieces a single standing announcement topic needs: no mDNS, no
// relay/hole-punch transports, no connection manager tuning.
type Host struct {
	host host.Host
	dht  *dht.IpfsDHT
	ps   *pubsub.PubSub
	log  *logging.Logger
}

// NewHost constructs a libp2p host listening on listenAddrs, bootstraps
// its DHT against bootstrapPeers, and starts gossipsub over it.
func NewHost(ctx context.Context, listenAddrs []string, bootstrapPeers []string) (*Host, error) {
	addrs := make([]multiaddr.Multiaddr, 0, len(listenAddrs))
	for _, a := range listenAddrs {
		ma, err := multiaddr.NewMultiaddr(a)
		if err != nil {
			return nil, bridgerr.Wrap(bridgerr.RpcError, op, "parse listen addr %q: %w", a, err)
		}
		addrs = append(addrs, ma)
	}

	h, err := libp2p.New(
		libp2p.ListenAddrs(addrs...),
		libp2p.DefaultTransports,
		libp2p.DefaultMuxers,
		libp2p.DefaultSecurity,
	)
	if err != nil {
		return nil, bridgerr.Wrap(bridgerr.RpcError, op, "construct libp2p host: %w", err)
	}

	kadDHT, err := dht.New(ctx, h)
	if err != nil {
		h.Close()
		return nil, bridgerr.Wrap(bridgerr.RpcError, op, "construct dht: %w", err)
	}
	if err := kadDHT.Bootstrap(ctx); err != nil {
		h.Close()
		return nil, bridgerr.Wrap(bridgerr.RpcError, op, "bootstrap dht: %w", err)
	}

	log := logging.GetDefault().Component("gossip")
	for _, addrStr := range bootstrapPeers {
		pi, err := peer.AddrInfoFromString(addrStr)
		if err != nil {
			log.Warn("skipping malformed bootstrap peer", "addr", addrStr, "err", err)
			continue
		}
		if err := h.Connect(ctx, *pi); err != nil {
			log.Warn("failed to connect to bootstrap peer", "peer", pi.ID, "err", err)
		}
	}

	ps, err := pubsub.NewGossipSub(ctx, h)
	if err != nil {
		h.Close()
		return nil, bridgerr.Wrap(bridgerr.RpcError, op, "construct gossipsub: %w", err)
	}

	return &Host{host: h, dht: kadDHT, ps: ps, log: log}, nil
}

// PubSub returns the gossipsub instance backing this host, the handle
// Join needs to subscribe to the connector-root topic.
func (h *Host) PubSub() *pubsub.PubSub { return h.ps }

// ID returns the host's peer ID.
func (h *Host) ID() peer.ID { return h.host.ID() }

// Close tears down the DHT and host.
func (h *Host) Close() error {
	if err := h.dht.Close(); err != nil {
		h.log.Warn("dht close error", "err", err)
	}
	return h.host.Close()
}

// ConnectorRootTopic is the pubsub topic the operator announces new
// connector-tree roots on.
const ConnectorRootTopic = "/bridge/connector-root/1.0.0"

// RootAnnouncement is the wire message published when the operator
// funds a new connector-tree root UTXO.
type RootAnnouncement struct {
	Root   bridgetypes.OutPoint `json:"root"`
	Hashes [][][32]byte         `json:"hashes"`
	Depth  uint32               `json:"depth"`
}

// Channel wraps one topic's publish/subscribe handle.
type Channel struct {
	topic *pubsub.Topic
	sub   *pubsub.Subscription
	log   *logging.Logger
}

// Join subscribes to the connector-root announcement topic.
func Join(ps *pubsub.PubSub) (*Channel, error) {
	topic, err := ps.Join(ConnectorRootTopic)
	if err != nil {
		return nil, bridgerr.Wrap(bridgerr.RpcError, op, "join connector-root topic: %w", err)
	}
	sub, err := topic.Subscribe()
	if err != nil {
		return nil, bridgerr.Wrap(bridgerr.RpcError, op, "subscribe connector-root topic: %w", err)
	}
	return &Channel{topic: topic, sub: sub, log: logging.GetDefault().Component("gossip")}, nil
}

// Announce publishes a new connector-tree root to the federation.
func (c *Channel) Announce(ctx context.Context, a RootAnnouncement) error {
	data, err := json.Marshal(a)
	if err != nil {
		return bridgerr.Wrap(bridgerr.ScriptBuildError, op, "marshal root announcement: %w", err)
	}
	if err := c.topic.Publish(ctx, data); err != nil {
		return bridgerr.Wrap(bridgerr.RpcError, op, "publish root announcement: %w", err)
	}
	return nil
}

// Listen blocks, delivering each announcement to handle until ctx is
// canceled. Malformed messages are logged and skipped rather than
// terminating the loop, since a single bad peer message should not
// take the watcher offline.
func (c *Channel) Listen(ctx context.Context, handle func(RootAnnouncement)) error {
	for {
		msg, err := c.sub.Next(ctx)
		if err != nil {
			return bridgerr.Wrap(bridgerr.RpcError, op, "read next announcement: %w", err)
		}
		var a RootAnnouncement
		if err := json.Unmarshal(msg.Data, &a); err != nil {
			c.log.Warn("discarding malformed root announcement", "err", err)
			continue
		}
		handle(a)
	}
}

// Close releases the subscription and topic handle.
func (c *Channel) Close() {
	c.sub.Cancel()
	c.topic.Close()
}
