package consensus

import (
	"context"
	"fmt"
	"sync"

	"github.com/libp2p/go-libp2p"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/sirupsen/logrus"

	"github.com/meridianchain/meridian-node/primitives"
)

// Gossip topic names, one per message class, per spec §4.6's domain
// stack binding — the wire-level IHave/IWant/Graft/Prune mesh-control
// traffic spec §6 names is handled internally by go-libp2p-pubsub's own
// gossipsub implementation of those same message types; this package
// only needs to pick topics and publish/subscribe.
const (
	TopicProposal   = "consensus/proposal"
	TopicVote       = "consensus/vote"
	TopicViewChange = "consensus/viewchange"
	TopicMempoolTx  = "mempool/tx"
	TopicBlock      = "chain/block"
)

// GossipNetwork implements Network (and, via its exported Publish/
// SubscribeRaw, the mempool-tx/chain-block topics the node package
// needs) over go-libp2p + go-libp2p-pubsub's GossipSub, grounded on the
// teacher's core/network.go Node (libp2p host + pubsub + per-topic
// join/publish/subscribe maps).
type GossipNetwork struct {
	host   host.Host
	pubsub *pubsub.PubSub
	logger *logrus.Logger

	mu     sync.Mutex
	topics map[string]*pubsub.Topic
	subs   map[string]*pubsub.Subscription

	ctx    context.Context
	cancel context.CancelFunc

	proposals   chan *Proposal
	votes       chan *Vote
	viewChanges chan *ViewChange
}

// NewGossipNetwork starts a libp2p host listening on listenAddr, joins
// the gossipsub mesh, and subscribes to the three consensus topics.
func NewGossipNetwork(listenAddr string, bootstrapPeers []string, logger *logrus.Logger) (*GossipNetwork, error) {
	ctx, cancel := context.WithCancel(context.Background())

	h, err := libp2p.New(libp2p.ListenAddrStrings(listenAddr))
	if err != nil {
		cancel()
		return nil, fmt.Errorf("consensus: create libp2p host: %w", err)
	}
	ps, err := pubsub.NewGossipSub(ctx, h)
	if err != nil {
		h.Close()
		cancel()
		return nil, fmt.Errorf("consensus: create gossipsub: %w", err)
	}

	n := &GossipNetwork{
		host:        h,
		pubsub:      ps,
		logger:      logger,
		topics:      make(map[string]*pubsub.Topic),
		subs:        make(map[string]*pubsub.Subscription),
		ctx:         ctx,
		cancel:      cancel,
		proposals:   make(chan *Proposal, 64),
		votes:       make(chan *Vote, 256),
		viewChanges: make(chan *ViewChange, 64),
	}

	for _, addr := range bootstrapPeers {
		pi, err := peer.AddrInfoFromString(addr)
		if err != nil {
			logger.WithError(err).Warnf("consensus: invalid bootstrap peer %s", addr)
			continue
		}
		if err := h.Connect(ctx, *pi); err != nil {
			logger.WithError(err).Warnf("consensus: dial bootstrap peer %s", addr)
		}
	}

	if err := n.subscribeProposals(); err != nil {
		n.Close()
		return nil, err
	}
	if err := n.subscribeVotes(); err != nil {
		n.Close()
		return nil, err
	}
	if err := n.subscribeViewChanges(); err != nil {
		n.Close()
		return nil, err
	}
	return n, nil
}

func (n *GossipNetwork) joinLocked(topic string) (*pubsub.Topic, error) {
	if t, ok := n.topics[topic]; ok {
		return t, nil
	}
	t, err := n.pubsub.Join(topic)
	if err != nil {
		return nil, fmt.Errorf("consensus: join topic %s: %w", topic, err)
	}
	n.topics[topic] = t
	return t, nil
}

// Publish broadcasts raw bytes on an arbitrary topic — used by the node
// orchestrator for TopicMempoolTx and TopicBlock, which carry payloads
// outside this package's Proposal/Vote/ViewChange message set.
func (n *GossipNetwork) Publish(topic string, data []byte) error {
	n.mu.Lock()
	t, err := n.joinLocked(topic)
	n.mu.Unlock()
	if err != nil {
		return err
	}
	return t.Publish(n.ctx, data)
}

// SubscribeRaw returns the decoded-by-caller byte stream for an
// arbitrary topic.
func (n *GossipNetwork) SubscribeRaw(topic string) (<-chan []byte, error) {
	n.mu.Lock()
	t, err := n.joinLocked(topic)
	if err != nil {
		n.mu.Unlock()
		return nil, err
	}
	sub, ok := n.subs[topic]
	if !ok {
		sub, err = t.Subscribe()
		if err != nil {
			n.mu.Unlock()
			return nil, fmt.Errorf("consensus: subscribe topic %s: %w", topic, err)
		}
		n.subs[topic] = sub
	}
	n.mu.Unlock()

	out := make(chan []byte, 64)
	go func() {
		defer close(out)
		for {
			msg, err := sub.Next(n.ctx)
			if err != nil {
				return
			}
			if msg.ReceivedFrom == n.host.ID() {
				continue
			}
			select {
			case out <- msg.Data:
			case <-n.ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func (n *GossipNetwork) subscribeProposals() error {
	raw, err := n.SubscribeRaw(TopicProposal)
	if err != nil {
		return err
	}
	go func() {
		for data := range raw {
			p := &Proposal{}
			if err := p.Decode(primitives.NewReader(data)); err != nil {
				n.logger.WithError(err).Debug("consensus: decode proposal failed")
				continue
			}
			select {
			case n.proposals <- p:
			case <-n.ctx.Done():
				return
			}
		}
	}()
	return nil
}

func (n *GossipNetwork) subscribeVotes() error {
	raw, err := n.SubscribeRaw(TopicVote)
	if err != nil {
		return err
	}
	go func() {
		for data := range raw {
			v := &Vote{}
			if err := v.Decode(primitives.NewReader(data)); err != nil {
				n.logger.WithError(err).Debug("consensus: decode vote failed")
				continue
			}
			select {
			case n.votes <- v:
			case <-n.ctx.Done():
				return
			}
		}
	}()
	return nil
}

func (n *GossipNetwork) subscribeViewChanges() error {
	raw, err := n.SubscribeRaw(TopicViewChange)
	if err != nil {
		return err
	}
	go func() {
		for data := range raw {
			vc := &ViewChange{}
			if err := vc.Decode(primitives.NewReader(data)); err != nil {
				n.logger.WithError(err).Debug("consensus: decode view-change failed")
				continue
			}
			select {
			case n.viewChanges <- vc:
			case <-n.ctx.Done():
				return
			}
		}
	}()
	return nil
}

func (n *GossipNetwork) BroadcastProposal(p *Proposal) error {
	w := primitives.NewWriter(4096)
	p.Encode(w)
	return n.Publish(TopicProposal, w.Bytes())
}

func (n *GossipNetwork) BroadcastVote(v *Vote) error {
	w := primitives.NewWriter(256)
	v.Encode(w)
	return n.Publish(TopicVote, w.Bytes())
}

func (n *GossipNetwork) BroadcastViewChange(vc *ViewChange) error {
	w := primitives.NewWriter(256)
	vc.Encode(w)
	return n.Publish(TopicViewChange, w.Bytes())
}

func (n *GossipNetwork) Proposals() <-chan *Proposal     { return n.proposals }
func (n *GossipNetwork) Votes() <-chan *Vote             { return n.votes }
func (n *GossipNetwork) ViewChanges() <-chan *ViewChange { return n.viewChanges }

// Close tears down the host and all subscriptions.
func (n *GossipNetwork) Close() error {
	n.cancel()
	return n.host.Close()
}

var _ Network = (*GossipNetwork)(nil)
