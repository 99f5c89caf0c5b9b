package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/immxrtalbeast/peerplay/internal/domain"
	"github.com/immxrtalbeast/peerplay/lib/logger/sl"
)

const linkQueueSize = 1024

// Network is an in-process switchboard connecting MemoryTransports. It is
// used by tests and by simulations running several peers in one process.
type Network struct {
	mu          sync.Mutex
	nodes       map[string]*MemoryTransport
	partitioned map[[2]string]bool
	log         *slog.Logger
}

func NewNetwork(log *slog.Logger) *Network {
	if log == nil {
		log = slog.Default()
	}
	return &Network{
		nodes:       make(map[string]*MemoryTransport),
		partitioned: make(map[[2]string]bool),
		log:         log,
	}
}

// NewTransport creates an unregistered endpoint. An empty id gets a uuid.
func (n *Network) NewTransport(id string) *MemoryTransport {
	if id == "" {
		id = uuid.New().String()
	}
	return &MemoryTransport{
		network: n,
		id:      id,
		links:   make(map[string]*link),
	}
}

// Partition silently drops traffic between a and b in both directions
// without raising any connection event. New links between them cannot be
// opened until Heal.
func (n *Network) Partition(a, b string) {
	n.setDropped(a, b, true)
}

func (n *Network) Heal(a, b string) {
	n.setDropped(a, b, false)
}

func (n *Network) setDropped(a, b string, dropped bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if dropped {
		n.partitioned[pairKey(a, b)] = true
	} else {
		delete(n.partitioned, pairKey(a, b))
	}
	for _, pair := range [][2]string{{a, b}, {b, a}} {
		node, ok := n.nodes[pair[0]]
		if !ok {
			continue
		}
		node.mu.RLock()
		if l, ok := node.links[pair[1]]; ok {
			l.dropped.Store(dropped)
		}
		node.mu.RUnlock()
	}
}

func pairKey(a, b string) [2]string {
	if a > b {
		a, b = b, a
	}
	return [2]string{a, b}
}

type MemoryTransport struct {
	network *Network
	id      string

	mu    sync.RWMutex
	cb    Callbacks
	ready bool
	links map[string]*link
}

func (t *MemoryTransport) Initialize(ctx context.Context, cb Callbacks) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	t.network.mu.Lock()
	if existing, ok := t.network.nodes[t.id]; ok && existing != t {
		t.network.mu.Unlock()
		err := fmt.Errorf("peer id %s already taken", t.id)
		cb.fail(err)
		return "", err
	}
	t.network.nodes[t.id] = t
	t.network.mu.Unlock()

	t.mu.Lock()
	t.cb = cb
	t.ready = true
	t.mu.Unlock()

	cb.open(t.id)
	return t.id, nil
}

func (t *MemoryTransport) ID() string {
	return t.id
}

func (t *MemoryTransport) ConnectToPeer(ctx context.Context, peerID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	n := t.network
	n.mu.Lock()
	defer n.mu.Unlock()

	t.mu.RLock()
	ready, cb := t.ready, t.cb
	_, linked := t.links[peerID]
	t.mu.RUnlock()

	if !ready {
		return ErrNotInitialized
	}
	if linked {
		return nil
	}

	remote, ok := n.nodes[peerID]
	if !ok || peerID == t.id || n.partitioned[pairKey(t.id, peerID)] {
		err := fmt.Errorf("%w: %s", ErrPeerUnavailable, peerID)
		go cb.fail(err)
		return err
	}

	out := newLink(remote)
	in := newLink(t)

	t.mu.Lock()
	t.links[peerID] = out
	t.mu.Unlock()

	remote.mu.Lock()
	remote.links[t.id] = in
	remote.mu.Unlock()

	// Each side learns about the other on its own inbound queue so the
	// connection event precedes every message from that peer.
	out.push(func() { remote.callbacks().connected(t.id) })
	in.push(func() { t.callbacks().connected(peerID) })

	n.log.Debug("memory link opened", slog.String("from", t.id), slog.String("to", peerID))
	return nil
}

func (t *MemoryTransport) Send(peerID string, typ domain.MessageType, payload any) error {
	t.mu.RLock()
	l, ok := t.links[peerID]
	t.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrPeerNotConnected, peerID)
	}

	env, err := domain.NewEnvelope(typ, t.id, time.Now(), payload)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(env)
	if err != nil {
		return err
	}

	if l.dropped.Load() {
		return nil
	}
	to := l.to
	if !l.push(func() { to.deliver(raw, t.id) }) {
		return fmt.Errorf("%w: %s", ErrPeerNotConnected, peerID)
	}
	return nil
}

func (t *MemoryTransport) Broadcast(typ domain.MessageType, payload any, exclude ...string) error {
	var errs []error
	for _, id := range t.ConnectedPeers() {
		if excluded(id, exclude) {
			continue
		}
		if err := t.Send(id, typ, payload); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (t *MemoryTransport) DisconnectPeer(peerID string) {
	n := t.network
	n.mu.Lock()
	defer n.mu.Unlock()
	t.unlinkLocked(peerID)
}

// unlinkLocked must be called with the network lock held.
func (t *MemoryTransport) unlinkLocked(peerID string) {
	t.mu.Lock()
	out, ok := t.links[peerID]
	delete(t.links, peerID)
	t.mu.Unlock()
	if !ok {
		return
	}

	remote := out.to
	remote.mu.Lock()
	in, ok := remote.links[t.id]
	delete(remote.links, t.id)
	remote.mu.Unlock()

	// A disconnect superseded by a newer link to the same peer is not
	// reported.
	out.close(func() {
		if !remote.linkedTo(t.id) {
			remote.callbacks().disconnected(t.id)
		}
	})
	if ok {
		in.close(func() {
			if !t.linkedTo(peerID) {
				t.callbacks().disconnected(peerID)
			}
		})
	}
}

func (t *MemoryTransport) linkedTo(peerID string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.links[peerID]
	return ok
}

func (t *MemoryTransport) Cleanup() {
	n := t.network
	n.mu.Lock()
	for _, id := range t.ConnectedPeers() {
		t.unlinkLocked(id)
	}
	if n.nodes[t.id] == t {
		delete(n.nodes, t.id)
	}
	n.mu.Unlock()

	t.mu.Lock()
	cb, wasReady := t.cb, t.ready
	t.ready = false
	t.cb = Callbacks{}
	t.mu.Unlock()

	if wasReady {
		cb.closed()
	}
}

func (t *MemoryTransport) ConnectedPeers() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	ids := make([]string, 0, len(t.links))
	for id := range t.links {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (t *MemoryTransport) callbacks() Callbacks {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.cb
}

func (t *MemoryTransport) deliver(raw []byte, from string) {
	var env domain.Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		t.network.log.Error("memory transport: bad envelope", sl.Err(err))
		return
	}
	t.callbacks().message(env, from)
}

// link is one direction of a pair. Its goroutine runs queued deliveries on
// the receiving side in FIFO order.
type link struct {
	to      *MemoryTransport
	queue   chan func()
	dropped atomic.Bool

	mu     sync.Mutex
	closed bool
}

func newLink(to *MemoryTransport) *link {
	l := &link{
		to:    to,
		queue: make(chan func(), linkQueueSize),
	}
	go l.run()
	return l
}

func (l *link) run() {
	for fn := range l.queue {
		fn()
	}
}

func (l *link) push(fn func()) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return false
	}
	l.queue <- fn
	return true
}

// close delivers everything already queued, then final, then stops.
func (l *link) close(final func()) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return
	}
	if final != nil {
		l.queue <- final
	}
	l.closed = true
	close(l.queue)
}
