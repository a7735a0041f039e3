package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/nats-io/nats.go"

	"github.com/kirillkom/docvault/internal/core/domain"
	"github.com/kirillkom/docvault/internal/core/ports"
)

// Feed opens scoped subscriptions to one change stream. Subscriptions are
// narrowed by owner on the server; category filtering is left to the cache.
type Feed[T any] struct {
	q      *Queue
	stream string
}

func NewDocumentFeed(q *Queue) *Feed[domain.DocumentRecord] {
	return &Feed[domain.DocumentRecord]{q: q, stream: StreamDocuments}
}

func NewReminderFeed(q *Queue) *Feed[domain.ReminderRecord] {
	return &Feed[domain.ReminderRecord]{q: q, stream: StreamReminders}
}

func (f *Feed[T]) Subscribe(_ context.Context, scope domain.Scope) (ports.FeedHandle[T], error) {
	subject := f.q.Subject(f.stream, scope.Normalize().OwnerID)
	h := newHandle[T](f.stream, f.q.buffer, f.q.logger, f.q.onDrop)

	sub, err := f.q.conn.Subscribe(subject, func(msg *nats.Msg) {
		h.deliver(msg.Data)
	})
	if err != nil {
		return nil, wrapTemporaryIfNeeded(fmt.Errorf("nats subscribe %s: %w", subject, err))
	}
	if err := f.q.conn.Flush(); err != nil {
		_ = sub.Unsubscribe()
		return nil, wrapTemporaryIfNeeded(fmt.Errorf("nats flush: %w", err))
	}

	h.release = func() error {
		f.q.unregister(sub)
		if err := sub.Unsubscribe(); err != nil && !errors.Is(err, nats.ErrConnectionClosed) && !errors.Is(err, nats.ErrBadSubscription) {
			return fmt.Errorf("nats unsubscribe %s: %w", subject, err)
		}
		return nil
	}
	f.q.register(sub, h)
	return h, nil
}

// handle is one subscription queue. The NATS callback for a subscription runs
// on a single goroutine, so changes are enqueued in arrival order.
type handle[T any] struct {
	stream  string
	logger  *slog.Logger
	onDrop  func(stream, reason string)
	events  chan domain.FeedEvent[T]
	closed  chan struct{}
	release func() error

	closeOnce sync.Once
	closeErr  error
}

func newHandle[T any](stream string, buffer int, logger *slog.Logger, onDrop func(string, string)) *handle[T] {
	return &handle[T]{
		stream: stream,
		logger: logger,
		onDrop: onDrop,
		events: make(chan domain.FeedEvent[T], buffer),
		closed: make(chan struct{}),
	}
}

func (h *handle[T]) Events() <-chan domain.FeedEvent[T] { return h.events }

// Close releases the subscription. The events channel is left open and simply
// stops receiving; readers select on their own cancellation.
func (h *handle[T]) Close() error {
	h.closeOnce.Do(func() {
		close(h.closed)
		if h.release != nil {
			h.closeErr = h.release()
		}
	})
	return h.closeErr
}

func (h *handle[T]) deliver(data []byte) {
	change, err := decodeChange[T](data)
	if err != nil {
		h.logger.Debug("feed_payload_dropped", "stream", h.stream, "error", err)
		h.onDrop(h.stream, "malformed")
		return
	}
	h.push(domain.FeedEvent[T]{Change: change})
}

// push blocks while the queue is full. The NATS client keeps buffering behind
// it and reports a slow consumer once its own limit is hit, which turns into
// a resync marker.
func (h *handle[T]) push(ev domain.FeedEvent[T]) bool {
	select {
	case <-h.closed:
		return false
	default:
	}
	select {
	case h.events <- ev:
		return true
	case <-h.closed:
		return false
	}
}

func (h *handle[T]) resync(reason string) {
	marker := domain.ResyncMarker[T](reason)
	select {
	case <-h.closed:
		return
	default:
	}
	select {
	case h.events <- marker:
	case <-h.closed:
	default:
		go h.push(marker)
	}
}

func decodeChange[T any](data []byte) (domain.ChangeEvent[T], error) {
	var change domain.ChangeEvent[T]
	if err := json.Unmarshal(data, &change); err != nil {
		return domain.ChangeEvent[T]{}, fmt.Errorf("decode change: %w", err)
	}
	if !change.Type.Valid() {
		return domain.ChangeEvent[T]{}, fmt.Errorf("decode change: unknown event type %q", change.Type)
	}
	if change.New == nil && change.Old == nil {
		return domain.ChangeEvent[T]{}, errors.New("decode change: no record")
	}
	return change, nil
}
