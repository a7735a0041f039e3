package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/kirillkom/docvault/internal/core/cache"
	"github.com/kirillkom/docvault/internal/core/domain"
	"github.com/kirillkom/docvault/internal/core/ports"
)

type SubscriberOptions struct {
	ResyncInitialBackoff time.Duration
	ResyncMaxBackoff     time.Duration
	WatchBuffer          int

	Observer FeedObserver
	Logger   *slog.Logger

	// OnActivate runs in the background once a scope has been activated and
	// filled. Its context ends when the scope is closed.
	OnActivate func(ctx context.Context, scope domain.Scope)
}

func (o SubscriberOptions) normalize() SubscriberOptions {
	out := o
	if out.ResyncInitialBackoff <= 0 {
		out.ResyncInitialBackoff = 500 * time.Millisecond
	}
	if out.ResyncMaxBackoff < out.ResyncInitialBackoff {
		out.ResyncMaxBackoff = 30 * time.Second
	}
	if out.WatchBuffer <= 0 {
		out.WatchBuffer = 64
	}
	if out.Observer == nil {
		out.Observer = noopFeedObserver{}
	}
	if out.Logger == nil {
		out.Logger = slog.Default()
	}
	return out
}

// Subscriber turns a scope-keyed change feed into live ScopedCollectionCaches.
type Subscriber[T cache.Entry] struct {
	stream string
	feed   ports.ChangeFeed[T]
	source ports.ScopeLister[T]
	opts   SubscriberOptions
}

func NewSubscriber[T cache.Entry](
	stream string,
	feed ports.ChangeFeed[T],
	source ports.ScopeLister[T],
	opts SubscriberOptions,
) *Subscriber[T] {
	return &Subscriber[T]{
		stream: stream,
		feed:   feed,
		source: source,
		opts:   opts.normalize(),
	}
}

func (s *Subscriber[T]) Stream() string { return s.stream }

// Activate subscribes to the scope, runs the initial full fetch and starts the
// single event loop that owns the cache. The caller must Close the returned
// scope when it no longer needs it.
//
// The subscription is opened before the fetch so no change is lost in between;
// events queued meanwhile are replayed on top of the fetched state.
func (s *Subscriber[T]) Activate(ctx context.Context, scope domain.Scope) (*ActiveScope[T], error) {
	scope = scope.Normalize()

	handle, err := s.feed.Subscribe(ctx, scope)
	if err != nil {
		return nil, fmt.Errorf("subscribe %s feed for scope %s: %w", s.stream, scope, err)
	}

	items, err := s.source.ListByScope(ctx, scope)
	if err != nil {
		_ = handle.Close()
		return nil, fmt.Errorf("initial fetch of %s for scope %s: %w", s.stream, scope, err)
	}

	coll := cache.New[T](scope)
	coll.Replace(items)

	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	active := &ActiveScope[T]{
		stream:   s.stream,
		scope:    scope,
		coll:     coll,
		handle:   handle,
		source:   s.source,
		opts:     s.opts,
		loopCtx:  loopCtx,
		cancel:   cancel,
		commands: make(chan func()),
		done:     make(chan struct{}),
		watchers: make(map[uint64]chan Change[T]),
		backoff:  s.opts.ResyncInitialBackoff,
	}
	s.opts.Observer.ObserveActiveScopes(s.stream, 1)
	s.opts.Logger.Debug("scope_activated", "stream", s.stream, "scope", scope.Key(), "items", coll.Len())

	go active.run()
	if s.opts.OnActivate != nil {
		go s.opts.OnActivate(loopCtx, scope)
	}
	return active, nil
}

type ChangeKind string

const (
	ChangeUpsert ChangeKind = "upsert"
	ChangeRemove ChangeKind = "remove"
	ChangeReset  ChangeKind = "reset"
)

// Change describes a mutation applied to a scope's cache. Reset means the
// cache content was replaced by a full fetch.
type Change[T any] struct {
	Kind ChangeKind `json:"kind"`
	ID   string     `json:"id,omitempty"`
	Item *T         `json:"item,omitempty"`
}

// ActiveScope is one live, single-writer cache partition. Every mutation,
// feed-driven or local, runs on its loop goroutine in arrival order.
type ActiveScope[T cache.Entry] struct {
	stream string
	scope  domain.Scope
	coll   *cache.Collection[T]
	handle ports.FeedHandle[T]
	source ports.ScopeLister[T]
	opts   SubscriberOptions

	loopCtx  context.Context
	cancel   context.CancelFunc
	commands chan func()
	done     chan struct{}

	closeOnce sync.Once
	closeErr  error

	watchMu   sync.Mutex
	watchers  map[uint64]chan Change[T]
	nextWatch uint64

	// owned by the loop goroutine
	backoff time.Duration
	retry   *time.Timer
}

func (a *ActiveScope[T]) Scope() domain.Scope { return a.scope }

// Collection exposes the cache for reads. Callers must not mutate it.
func (a *ActiveScope[T]) Collection() *cache.Collection[T] { return a.coll }

func (a *ActiveScope[T]) View(opts cache.ViewOptions[T]) []T { return a.coll.View(opts) }

// Done is closed once the loop has stopped; the cache no longer changes after that.
func (a *ActiveScope[T]) Done() <-chan struct{} { return a.done }

// Close releases the subscription. Events arriving afterwards never reach the cache.
func (a *ActiveScope[T]) Close() error {
	a.closeOnce.Do(func() {
		a.cancel()
		<-a.done
		a.closeErr = a.handle.Close()
		a.opts.Observer.ObserveActiveScopes(a.stream, -1)
		a.opts.Logger.Debug("scope_released", "stream", a.stream, "scope", a.scope.Key())
	})
	return a.closeErr
}

// RemoveLocal applies an optimistic removal. It reports whether the id was cached.
func (a *ActiveScope[T]) RemoveLocal(ctx context.Context, id string) (bool, error) {
	removed := false
	err := a.submit(ctx, func() {
		outcome := a.coll.Remove(id)
		removed = outcome == cache.Removed
		if removed {
			a.notify(Change[T]{Kind: ChangeRemove, ID: id})
		}
	})
	return removed, err
}

// UpsertLocal applies an optimistic insert or edit. A later feed event for the
// same id overwrites it.
func (a *ActiveScope[T]) UpsertLocal(ctx context.Context, item T) error {
	return a.submit(ctx, func() {
		a.applyUpsert(item)
	})
}

// RequestResync refetches the scope on the loop and replaces the cache, making
// the store's version authoritative over any local state.
func (a *ActiveScope[T]) RequestResync(ctx context.Context) error {
	return a.submit(ctx, func() {
		a.resync("requested")
	})
}

// Watch streams applied changes. The channel is closed when the scope stops,
// when cancel is called, or when the watcher falls too far behind.
func (a *ActiveScope[T]) Watch() (<-chan Change[T], func()) {
	ch := make(chan Change[T], a.opts.WatchBuffer)

	a.watchMu.Lock()
	defer a.watchMu.Unlock()
	if a.watchers == nil {
		close(ch)
		return ch, func() {}
	}
	id := a.nextWatch
	a.nextWatch++
	a.watchers[id] = ch

	cancel := func() {
		a.watchMu.Lock()
		defer a.watchMu.Unlock()
		if existing, ok := a.watchers[id]; ok {
			delete(a.watchers, id)
			close(existing)
		}
	}
	return ch, cancel
}

func (a *ActiveScope[T]) submit(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	cmd := func() {
		defer close(finished)
		fn()
	}
	select {
	case a.commands <- cmd:
	case <-a.done:
		return domain.WrapError(domain.ErrScopeClosed, "submit local mutation", fmt.Errorf("scope %s", a.scope))
	case <-ctx.Done():
		return ctx.Err()
	}
	<-finished
	return nil
}

func (a *ActiveScope[T]) run() {
	defer close(a.done)
	defer a.closeWatchers()
	defer a.stopRetry()

	events := a.handle.Events()
	for {
		var retryC <-chan time.Time
		if a.retry != nil {
			retryC = a.retry.C
		}

		select {
		case <-a.loopCtx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				a.opts.Logger.Warn("feed_closed", "stream", a.stream, "scope", a.scope.Key())
				return
			}
			if a.loopCtx.Err() != nil {
				return
			}
			if ev.Resync {
				a.resync(ev.Reason)
				continue
			}
			a.apply(ev.Change)
		case cmd := <-a.commands:
			cmd()
		case <-retryC:
			a.retry = nil
			a.resync("retry")
		}
	}
}

func (a *ActiveScope[T]) apply(change domain.ChangeEvent[T]) {
	outcome := cache.Ignored
	switch change.Type {
	case domain.EventInsert, domain.EventUpdate:
		if change.New != nil {
			outcome = a.applyUpsert(*change.New)
		}
	case domain.EventDelete:
		if id := deletedID(change); id != "" {
			outcome = a.coll.Remove(id)
			if outcome == cache.Removed {
				a.notify(Change[T]{Kind: ChangeRemove, ID: id})
			}
		}
	}
	a.opts.Observer.ObserveFeedEvent(a.stream, change.Type, outcome)
}

// applyUpsert covers inserts and every update case: a record that matches the
// scope is inserted or replaced in place, one that no longer matches is
// dropped, and an unknown id outside the scope is a no-op.
func (a *ActiveScope[T]) applyUpsert(item T) cache.Outcome {
	id := item.RecordID()
	if !a.coll.Matches(item) {
		outcome := a.coll.Remove(id)
		if outcome == cache.Removed {
			a.notify(Change[T]{Kind: ChangeRemove, ID: id})
		}
		return outcome
	}
	outcome := a.coll.Upsert(item)
	if outcome != cache.Ignored {
		a.notify(Change[T]{Kind: ChangeUpsert, ID: id, Item: &item})
	}
	return outcome
}

func (a *ActiveScope[T]) resync(reason string) {
	a.stopRetry()

	items, err := a.source.ListByScope(a.loopCtx, a.scope)
	a.opts.Observer.ObserveResync(a.stream, reason, err)
	if err != nil {
		if errors.Is(a.loopCtx.Err(), context.Canceled) {
			return
		}
		wait := a.backoff
		a.opts.Logger.Warn("feed_resync_failed",
			"stream", a.stream,
			"scope", a.scope.Key(),
			"reason", reason,
			"retry_in_ms", wait.Milliseconds(),
			"error", err,
		)
		a.retry = time.NewTimer(wait)
		a.backoff *= 2
		if a.backoff > a.opts.ResyncMaxBackoff {
			a.backoff = a.opts.ResyncMaxBackoff
		}
		return
	}

	a.backoff = a.opts.ResyncInitialBackoff
	a.coll.Replace(items)
	a.notify(Change[T]{Kind: ChangeReset})
	a.opts.Logger.Info("feed_resynced", "stream", a.stream, "scope", a.scope.Key(), "reason", reason, "items", a.coll.Len())
}

func (a *ActiveScope[T]) stopRetry() {
	if a.retry != nil {
		a.retry.Stop()
		a.retry = nil
	}
}

func (a *ActiveScope[T]) notify(change Change[T]) {
	a.watchMu.Lock()
	defer a.watchMu.Unlock()
	for id, ch := range a.watchers {
		select {
		case ch <- change:
		default:
			delete(a.watchers, id)
			close(ch)
		}
	}
}

func (a *ActiveScope[T]) closeWatchers() {
	a.watchMu.Lock()
	defer a.watchMu.Unlock()
	for _, ch := range a.watchers {
		close(ch)
	}
	a.watchers = nil
}

func deletedID[T cache.Entry](change domain.ChangeEvent[T]) string {
	if change.Old != nil {
		if id := (*change.Old).RecordID(); id != "" {
			return id
		}
	}
	if change.New != nil {
		return (*change.New).RecordID()
	}
	return ""
}
