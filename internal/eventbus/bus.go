// Package eventbus implements the three-channel (progress/control/
// monitor) event bus described in spec §4.1: bookmarked, replayable,
// backpressure-tolerant fan-out with a bounded retry buffer for events
// whose persistence is critical.
//
// Grounded on the teacher's internal/agent event sink hierarchy
// (event_sink.go's ChanSink/MultiSink/NopSink) and event emitter
// (event_emitter.go's atomic monotonic sequence counter), generalized
// from a single progress stream into the spec's three-channel,
// persisted, replayable bus.
package eventbus

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/relaykit/conductor/internal/store"
	"github.com/relaykit/conductor/pkg/models"
)

// minRetain/maxRetain bound the in-memory ring buffer per spec §4.1
// ("retain >= 5000, trim above 10000").
const (
	minRetain       = 5000
	maxRetain       = 10000
	retryBufferCap  = 1000
)

// Persister is the subset of store.Store the bus needs. Matching it as
// a narrow interface keeps the bus testable without a full Store fake.
type Persister interface {
	AppendEvent(ctx context.Context, agentID string, env models.Envelope) error
	ReadEvents(ctx context.Context, agentID string, since models.Bookmark, channel models.Channel) ([]models.Envelope, error)
}

var _ Persister = (store.Store)(nil)

// Subscription is a live, closable handle to a filtered stream of
// envelopes. Envelopes queue here without bound while the subscriber is
// not draining (spec §4.1/§9: "no dropping ... consumers are
// responsible for draining").
type Subscription struct {
	C <-chan models.Envelope

	bus      *Bus
	id       uint64
	out      chan models.Envelope
	queueMu  sync.Mutex
	queue    []models.Envelope
	notify   chan struct{}
	notifyMu sync.Mutex
	done     chan struct{}
	closed   atomic.Bool
}

// Close removes the subscription from the bus and releases its queue,
// matching spec §4.1's "calls return() ... removed from subscriber set
// and its queue is released".
func (s *Subscription) Close() {
	s.notifyMu.Lock()
	if s.closed.Swap(true) {
		s.notifyMu.Unlock()
		return
	}
	s.notifyMu.Unlock()
	s.bus.removeSubscriber(s.id)
	close(s.done)
	close(s.notify)
}

type subscriber struct {
	id      uint64
	channels map[models.Channel]struct{}
	kinds    map[models.EventKind]struct{}
	out      chan models.Envelope
	sub      *Subscription
}

func (s *subscriber) matches(e models.Event) bool {
	if len(s.channels) > 0 {
		if _, ok := s.channels[e.Channel]; !ok {
			return false
		}
	}
	if len(s.kinds) > 0 {
		if _, ok := s.kinds[e.Kind]; !ok {
			return false
		}
	}
	return true
}

// Bus is the event bus for one agent.
type Bus struct {
	agentID string
	store   Persister
	logger  *slog.Logger

	mu          sync.Mutex
	seq         uint64
	cursor      uint64
	ring        []models.Envelope
	subscribers map[uint64]*subscriber
	nextSubID   uint64
	retryBuffer []models.Envelope
}

// Option configures a Bus.
type Option func(*Bus)

// WithLogger overrides the bus's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(b *Bus) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// New creates a bus for agentID backed by the given persister.
func New(agentID string, persister Persister, opts ...Option) *Bus {
	b := &Bus{
		agentID:     agentID,
		store:       persister,
		logger:      slog.Default(),
		subscribers: map[uint64]*subscriber{},
	}
	for _, o := range opts {
		o(b)
	}
	return b
}

// LastBookmark returns the bookmark of the most recently emitted event,
// or the zero bookmark if nothing has been emitted yet.
func (b *Bus) LastBookmark() models.Bookmark {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.ring) == 0 {
		return models.Bookmark{}
	}
	return b.ring[len(b.ring)-1].Bookmark
}

// Cursor returns the bus's current cursor, the monotonic per-process
// position a caller can pass back as SubscribeOptions isn't required
// for but agent.Status surfaces so a client can correlate a status
// snapshot with a point in the live stream.
func (b *Bus) Cursor() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.cursor
}

// EmitProgress emits an event on the progress channel.
func (b *Bus) EmitProgress(ctx context.Context, e models.Event) models.Envelope {
	e.Channel = models.ChannelProgress
	return b.emit(ctx, e)
}

// EmitControl emits an event on the control channel.
func (b *Bus) EmitControl(ctx context.Context, e models.Event) models.Envelope {
	e.Channel = models.ChannelControl
	return b.emit(ctx, e)
}

// EmitMonitor emits an event on the monitor channel.
func (b *Bus) EmitMonitor(ctx context.Context, e models.Event) models.Envelope {
	e.Channel = models.ChannelMonitor
	return b.emit(ctx, e)
}

func (b *Bus) emit(ctx context.Context, e models.Event) models.Envelope {
	e.AgentID = b.agentID

	b.mu.Lock()
	b.seq++
	b.cursor++
	env := models.Envelope{
		Cursor:   b.cursor,
		Bookmark: models.Bookmark{Seq: b.seq, Timestamp: time.Now()},
		Event:    e,
	}
	b.ring = append(b.ring, env)
	if len(b.ring) > maxRetain {
		trim := len(b.ring) - minRetain
		b.ring = append([]models.Envelope(nil), b.ring[trim:]...)
	}
	subs := make([]*subscriber, 0, len(b.subscribers))
	for _, s := range b.subscribers {
		subs = append(subs, s)
	}
	b.mu.Unlock()

	for _, s := range subs {
		if s.matches(e) {
			s.sub.enqueue(env)
		}
	}

	// Persistence happens out-of-band from the caller's perspective but
	// synchronously from this goroutine's so tests can observe it
	// deterministically; a real deployment runs this in a worker pool.
	if b.store != nil {
		if err := b.store.AppendEvent(ctx, b.agentID, env); err != nil {
			b.handlePersistFailure(ctx, env, err)
		}
	}
	return env
}

func (b *Bus) handlePersistFailure(ctx context.Context, env models.Envelope, err error) {
	if !env.Event.Kind.IsCritical() {
		b.logger.Warn("eventbus: non-critical event persist failed", "agent", b.agentID, "kind", env.Event.Kind, "err", err)
		return
	}
	b.mu.Lock()
	b.retryBuffer = append(b.retryBuffer, env)
	if len(b.retryBuffer) > retryBufferCap {
		b.retryBuffer = b.retryBuffer[1:] // FIFO drop
	}
	b.mu.Unlock()
	b.logger.Error("eventbus: critical event persist failed, buffered for retry", "agent", b.agentID, "kind", env.Event.Kind, "err", err)

	// Synthesize an in-memory storage_failure monitor event (spec
	// §4.1): emitted directly to subscribers, bypassing persistence to
	// avoid an infinite failure loop.
	failure := models.Event{
		Channel: models.ChannelMonitor,
		Kind:    models.EventStorageFailure,
		AgentID: b.agentID,
		Data:    map[string]any{"original_kind": string(env.Event.Kind), "error": err.Error()},
	}
	b.mu.Lock()
	b.seq++
	b.cursor++
	failEnv := models.Envelope{Cursor: b.cursor, Bookmark: models.Bookmark{Seq: b.seq, Timestamp: time.Now()}, Event: failure}
	subs := make([]*subscriber, 0, len(b.subscribers))
	for _, s := range b.subscribers {
		subs = append(subs, s)
	}
	b.mu.Unlock()
	for _, s := range subs {
		if s.matches(failure) {
			s.sub.enqueue(failEnv)
		}
	}
}

// RetryPending flushes the retry buffer against the store, returning the
// number of entries that still failed to persist.
func (b *Bus) RetryPending(ctx context.Context) int {
	b.mu.Lock()
	pending := b.retryBuffer
	b.retryBuffer = nil
	b.mu.Unlock()

	var failed []models.Envelope
	for _, env := range pending {
		if b.store == nil {
			continue
		}
		if err := b.store.AppendEvent(ctx, b.agentID, env); err != nil {
			failed = append(failed, env)
		}
	}
	if len(failed) > 0 {
		b.mu.Lock()
		b.retryBuffer = append(failed, b.retryBuffer...)
		b.mu.Unlock()
	}
	return len(failed)
}

// SubscribeOptions configures a Subscribe call.
type SubscribeOptions struct {
	// Since, if non-nil, triggers a replay of every persisted envelope
	// on the requested channels with Bookmark.Seq > Since.Seq before
	// live events are delivered.
	Since *models.Bookmark
	// Kinds restricts delivery to the given event kinds; empty means no
	// filter.
	Kinds []models.EventKind
}

// Subscribe opens a subscription to the given channels (empty means all
// channels), replaying from Since first if provided.
func (b *Bus) Subscribe(ctx context.Context, channels []models.Channel, opts SubscribeOptions) *Subscription {
	out := make(chan models.Envelope, 1)
	b.mu.Lock()
	b.nextSubID++
	id := b.nextSubID
	sub := &Subscription{C: out, out: out, bus: b, id: id, notify: make(chan struct{}, 1), done: make(chan struct{})}
	s := &subscriber{id: id, out: out, sub: sub}
	if len(channels) > 0 {
		s.channels = map[models.Channel]struct{}{}
		for _, c := range channels {
			s.channels[c] = struct{}{}
		}
	}
	if len(opts.Kinds) > 0 {
		s.kinds = map[models.EventKind]struct{}{}
		for _, k := range opts.Kinds {
			s.kinds[k] = struct{}{}
		}
	}
	// watermark is captured in the same critical section that registers
	// the subscriber for live delivery, so replay's upper bound and live
	// delivery's lower bound meet exactly at one sequence number with no
	// gap and no overlap: anything <= watermark came from the store read
	// below, anything > watermark is delivered by emit alone.
	watermark := b.seq
	b.subscribers[id] = s
	b.mu.Unlock()

	if opts.Since != nil {
		b.replay(ctx, sub, s, channels, *opts.Since, watermark)
	}

	go sub.pump()
	return sub
}

// SubscribeProgress is a convenience for progress-only subscriptions.
func (b *Bus) SubscribeProgress(ctx context.Context, opts SubscribeOptions) *Subscription {
	return b.Subscribe(ctx, []models.Channel{models.ChannelProgress}, opts)
}

// replay delivers persisted envelopes with since.Seq < Seq <= watermark.
// watermark is the bus's seq at the moment this subscriber was
// registered for live delivery (spec §4.1/§8 "replay must never deliver
// duplicates"): anything emitted after registration is already reaching
// this subscriber through emit's live fan-out, so replay must stop
// exactly at watermark rather than read "everything newer than since".
func (b *Bus) replay(ctx context.Context, sub *Subscription, s *subscriber, channels []models.Channel, since models.Bookmark, watermark uint64) {
	if b.store == nil {
		b.replayFromRing(sub, s, since, watermark)
		return
	}
	channel := models.Channel("")
	if len(channels) == 1 {
		channel = channels[0]
	}
	envs, err := b.store.ReadEvents(ctx, b.agentID, since, channel)
	if err != nil {
		b.replayFromRing(sub, s, since, watermark)
		return
	}
	for _, env := range envs {
		if env.Bookmark.Seq > watermark {
			continue
		}
		if len(channels) > 1 {
			found := false
			for _, c := range channels {
				if env.Event.Channel == c {
					found = true
					break
				}
			}
			if !found {
				continue
			}
		}
		if s.matches(env.Event) {
			sub.enqueue(env)
		}
	}
}

func (b *Bus) replayFromRing(sub *Subscription, s *subscriber, since models.Bookmark, watermark uint64) {
	b.mu.Lock()
	ring := append([]models.Envelope(nil), b.ring...)
	b.mu.Unlock()
	for _, env := range ring {
		if env.Bookmark.Seq > since.Seq && env.Bookmark.Seq <= watermark && s.matches(env.Event) {
			sub.enqueue(env)
		}
	}
}

func (b *Bus) removeSubscriber(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subscribers, id)
}

// enqueue appends env to the subscription's unbounded queue and wakes
// the pump goroutine. notifyMu serializes the closed-check with the
// send so Close can never observe "not yet closed" and then have a
// send land on an already-closed notify channel.
func (s *Subscription) enqueue(env models.Envelope) {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()
	if s.closed.Load() {
		return
	}
	s.queueMu.Lock()
	s.queue = append(s.queue, env)
	s.queueMu.Unlock()
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// pump drains the subscription's queue into its output channel in
// order, blocking on send so delivery preserves bookmark order without
// ever dropping an envelope.
func (s *Subscription) pump() {
	for range s.notify {
		for {
			s.queueMu.Lock()
			if len(s.queue) == 0 {
				s.queueMu.Unlock()
				break
			}
			env := s.queue[0]
			s.queue = s.queue[1:]
			s.queueMu.Unlock()

			select {
			case s.out <- env:
			case <-s.done:
				return
			}
		}
		if s.closed.Load() {
			return
		}
	}
}
