// Package p2p gossips committed settlement events to peer nodes over a libp2p GossipSub topic.
package p2p

import (
	"context"
	"sync"

	libp2p "github.com/libp2p/go-libp2p"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/peer"
	ma "github.com/multiformats/go-multiaddr"
	"go.uber.org/zap"

	"github.com/uhyunpark/stoplimit/pkg/app/core/settlement"
	"github.com/uhyunpark/stoplimit/pkg/util"
)

const DefaultTopic = "stoplimit-events"

// seenLimit bounds the event-ID dedup set; it is reset when full.
const seenLimit = 4096

type Gossip struct {
	h     host.Host
	ps    *pubsub.PubSub
	topic *pubsub.Topic
	sub   *pubsub.Subscription
	log   *zap.SugaredLogger

	muSeen sync.Mutex
	seen   map[string]struct{}

	muH     sync.RWMutex
	handler func(ctx context.Context, w EventWire)
}

type GossipConfig struct {
	ListenAddr string
	Bootstrap  []string
	Topic      string
	Logger     *zap.Logger
}

func NewGossip(ctx context.Context, cfg GossipConfig) (*Gossip, error) {
	log := util.Sugar(cfg.Logger).Named("p2p")
	var opts []libp2p.Option
	if cfg.ListenAddr != "" {
		maddr, err := ma.NewMultiaddr(cfg.ListenAddr)
		if err != nil {
			return nil, err
		}
		opts = append(opts, libp2p.ListenAddrs(maddr))
	}
	h, err := libp2p.New(opts...)
	if err != nil {
		return nil, err
	}
	ps, err := pubsub.NewGossipSub(ctx, h)
	if err != nil {
		h.Close()
		return nil, err
	}

	name := cfg.Topic
	if name == "" {
		name = DefaultTopic
	}
	g := &Gossip{h: h, ps: ps, log: log, seen: make(map[string]struct{})}
	if g.topic, err = ps.Join(name); err != nil {
		h.Close()
		return nil, err
	}
	if g.sub, err = g.topic.Subscribe(); err != nil {
		h.Close()
		return nil, err
	}

	for _, bs := range cfg.Bootstrap {
		if err := connectMultiaddr(ctx, h, bs); err != nil {
			log.Warnw("bootstrap_connect_failed", "addr", bs, "err", err)
		}
	}

	go g.handleEvents(ctx)

	log.Infow("libp2p_ready", "peer", h.ID().String(), "listen", cfg.ListenAddr, "topic", name)
	return g, nil
}

func connectMultiaddr(ctx context.Context, h host.Host, addr string) error {
	m, err := ma.NewMultiaddr(addr)
	if err != nil {
		return err
	}
	info, err := peer.AddrInfoFromP2pAddr(m)
	if err != nil {
		return err
	}
	return h.Connect(ctx, *info)
}

func (g *Gossip) Host() host.Host { return g.h }

// Addrs returns the full /p2p multiaddrs other nodes can bootstrap from.
func (g *Gossip) Addrs() []string {
	out := make([]string, 0, len(g.h.Addrs()))
	for _, a := range g.h.Addrs() {
		out = append(out, a.String()+"/p2p/"+g.h.ID().String())
	}
	return out
}

// Peers lists the peers currently subscribed to the event topic.
func (g *Gossip) Peers() []peer.ID { return g.topic.ListPeers() }

// SetHandler installs the callback for events received from other peers.
func (g *Gossip) SetHandler(fn func(ctx context.Context, w EventWire)) {
	g.muH.Lock()
	g.handler = fn
	g.muH.Unlock()
}

func (g *Gossip) Name() string { return "gossip" }

func (g *Gossip) Publish(ctx context.Context, ev settlement.Event) error {
	g.markSeen(ev.ID)
	data, err := gobEncode(EventWire{Origin: g.h.ID().String(), Event: ev})
	if err != nil {
		return err
	}
	return g.topic.Publish(ctx, data)
}

func (g *Gossip) Close() error {
	g.sub.Cancel()
	if err := g.topic.Close(); err != nil {
		g.log.Warnw("topic_close_failed", "err", err)
	}
	return g.h.Close()
}

// markSeen records id and reports whether it was new.
func (g *Gossip) markSeen(id string) bool {
	g.muSeen.Lock()
	defer g.muSeen.Unlock()
	if _, ok := g.seen[id]; ok {
		return false
	}
	if len(g.seen) >= seenLimit {
		g.seen = make(map[string]struct{})
	}
	g.seen[id] = struct{}{}
	return true
}

// inbound

func (g *Gossip) handleEvents(ctx context.Context) {
	self := g.h.ID()
	for {
		msg, err := g.sub.Next(ctx)
		if err != nil {
			return
		}
		if msg.ReceivedFrom == self {
			continue
		}
		var w EventWire
		if err := gobDecode(msg.Data, &w); err != nil {
			g.log.Debugw("bad_event", "from", msg.ReceivedFrom.String(), "err", err)
			continue
		}
		if !g.markSeen(w.Event.ID) {
			continue
		}

		g.muH.RLock()
		h := g.handler
		g.muH.RUnlock()
		if h != nil {
			h(ctx, w)
		}
	}
}
