package nats

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/kirillkom/docvault/internal/core/domain"
	"github.com/kirillkom/docvault/internal/infrastructure/resilience"
)

const (
	StreamDocuments     = "documents"
	StreamReminders     = "reminders"
	StreamNotifications = "notifications"
)

// Queue owns the NATS connection shared by change-feed publishers, scoped
// subscriptions and the in-app notification channel.
type Queue struct {
	conn     *nats.Conn
	prefix   string
	executor *resilience.Executor
	logger   *slog.Logger
	buffer   int
	onDrop   func(stream, reason string)

	mu      sync.Mutex
	handles map[*nats.Subscription]resyncer
}

type resyncer interface {
	resync(reason string)
}

type Options struct {
	Name                 string
	SubjectPrefix        string
	ConnectTimeout       time.Duration
	ReconnectWait        time.Duration
	MaxReconnects        int
	RetryOnFailedConnect *bool
	SubscriptionBuffer   int
	ResilienceExecutor   *resilience.Executor
	Logger               *slog.Logger
	// OnDrop is called for every inbound payload that could not be decoded.
	OnDrop func(stream, reason string)
}

func NewWithOptions(url string, options Options) (*Queue, error) {
	name := options.Name
	if name == "" {
		name = "docvault"
	}
	connectTimeout := options.ConnectTimeout
	if connectTimeout <= 0 {
		connectTimeout = 2 * time.Second
	}
	reconnectWait := options.ReconnectWait
	if reconnectWait <= 0 {
		reconnectWait = 2 * time.Second
	}
	maxReconnects := options.MaxReconnects
	if maxReconnects == 0 {
		// Scoped caches rely on the connection coming back; resync repairs the gap.
		maxReconnects = -1
	}
	retryOnFailedConnect := true
	if options.RetryOnFailedConnect != nil {
		retryOnFailedConnect = *options.RetryOnFailedConnect
	}

	q := newQueue(options)
	conn, err := nats.Connect(
		url,
		nats.Name(name),
		nats.Timeout(connectTimeout),
		nats.ReconnectWait(reconnectWait),
		nats.MaxReconnects(maxReconnects),
		nats.RetryOnFailedConnect(retryOnFailedConnect),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			q.logger.Warn("nats_disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			q.logger.Info("nats_reconnected", "url", nc.ConnectedUrl())
			q.resyncAll("reconnected")
		}),
		nats.ErrorHandler(func(_ *nats.Conn, sub *nats.Subscription, err error) {
			q.handleAsyncError(sub, err)
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	q.conn = conn
	return q, nil
}

func newQueue(options Options) *Queue {
	logger := options.Logger
	if logger == nil {
		logger = slog.Default()
	}
	prefix := strings.Trim(strings.TrimSpace(options.SubjectPrefix), ".")
	if prefix == "" {
		prefix = "docvault"
	}
	buffer := options.SubscriptionBuffer
	if buffer <= 0 {
		buffer = 256
	}
	onDrop := options.OnDrop
	if onDrop == nil {
		onDrop = func(string, string) {}
	}
	return &Queue{
		prefix:   prefix,
		executor: options.ResilienceExecutor,
		logger:   logger,
		buffer:   buffer,
		onDrop:   onDrop,
		handles:  make(map[*nats.Subscription]resyncer),
	}
}

func (q *Queue) Close() {
	if q.conn == nil {
		return
	}
	if err := q.conn.Drain(); err != nil {
		q.logger.Warn("nats_drain_failed", "error", err)
		q.conn.Close()
	}
}

// Subject is <prefix>.<stream>.<owner-token>. An empty owner yields the
// single-token wildcard used by admin-wide subscriptions.
func (q *Queue) Subject(stream, ownerID string) string {
	return q.prefix + "." + stream + "." + ownerToken(ownerID)
}

// ownerToken makes an owner id safe as one subject token.
func ownerToken(ownerID string) string {
	if ownerID == "" {
		return "*"
	}
	return base64.RawURLEncoding.EncodeToString([]byte(ownerID))
}

func (q *Queue) PublishDocumentChange(ctx context.Context, event domain.ChangeEvent[domain.DocumentRecord]) error {
	return publishChange(ctx, q, StreamDocuments, event)
}

func (q *Queue) PublishReminderChange(ctx context.Context, event domain.ChangeEvent[domain.ReminderRecord]) error {
	return publishChange(ctx, q, StreamReminders, event)
}

type ownedRecord interface {
	RecordOwner() string
}

// publishChange sends the event to the subject of every owner it touches, so
// an owner change reaches the scope the record leaves as well as the one it
// enters.
func publishChange[T ownedRecord](ctx context.Context, q *Queue, stream string, event domain.ChangeEvent[T]) error {
	if !event.Type.Valid() {
		return domain.WrapError(domain.ErrInvalidInput, "publish change", fmt.Errorf("event type %q", event.Type))
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal %s change: %w", stream, err)
	}

	owners := changeOwners(event)
	if len(owners) == 0 {
		return domain.WrapError(domain.ErrInvalidInput, "publish change", errors.New("event carries no owner"))
	}

	for _, owner := range owners {
		if err := q.publish(ctx, q.Subject(stream, owner), payload); err != nil {
			return err
		}
	}
	return nil
}

func changeOwners[T ownedRecord](event domain.ChangeEvent[T]) []string {
	var owners []string
	for _, rec := range []*T{event.New, event.Old} {
		if rec == nil {
			continue
		}
		owner := (*rec).RecordOwner()
		if owner != "" && !slices.Contains(owners, owner) {
			owners = append(owners, owner)
		}
	}
	return owners
}

func (q *Queue) publish(ctx context.Context, subject string, payload []byte) error {
	call := func(_ context.Context) error {
		if err := q.conn.Publish(subject, payload); err != nil {
			return fmt.Errorf("nats publish: %w", err)
		}
		return nil
	}

	var err error
	if q.executor != nil {
		err = q.executor.Execute(ctx, "nats.publish", call, classifyNATSError)
	} else {
		err = call(ctx)
	}
	if err != nil {
		return wrapTemporaryIfNeeded(err)
	}
	return nil
}

func (q *Queue) register(sub *nats.Subscription, h resyncer) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.handles[sub] = h
}

func (q *Queue) unregister(sub *nats.Subscription) {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.handles, sub)
}

func (q *Queue) resyncAll(reason string) {
	q.mu.Lock()
	all := make([]resyncer, 0, len(q.handles))
	for _, h := range q.handles {
		all = append(all, h)
	}
	q.mu.Unlock()

	for _, h := range all {
		h.resync(reason)
	}
}

func (q *Queue) handleAsyncError(sub *nats.Subscription, err error) {
	if !errors.Is(err, nats.ErrSlowConsumer) || sub == nil {
		q.logger.Warn("nats_async_error", "error", err)
		return
	}
	q.mu.Lock()
	h, ok := q.handles[sub]
	q.mu.Unlock()

	q.logger.Warn("nats_slow_consumer", "subject", sub.Subject, "error", err)
	if ok {
		h.resync("slow_consumer")
	}
}
