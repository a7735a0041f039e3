package usecase

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/kirillkom/docvault/internal/core/cache"
	"github.com/kirillkom/docvault/internal/core/domain"
)

// ScopeRegistry keeps at most one ActiveScope per scope key and shares it
// between concurrent readers through ref-counted leases.
type ScopeRegistry[T cache.Entry] struct {
	sub     *Subscriber[T]
	idleTTL time.Duration
	logger  *slog.Logger
	now     func() time.Time

	group singleflight.Group

	mu      sync.Mutex
	entries map[string]*registryEntry[T]
	closed  bool
}

type registryEntry[T cache.Entry] struct {
	active    *ActiveScope[T]
	refs      int
	idleSince time.Time
}

func NewScopeRegistry[T cache.Entry](sub *Subscriber[T], idleTTL time.Duration, logger *slog.Logger) *ScopeRegistry[T] {
	if logger == nil {
		logger = slog.Default()
	}
	return &ScopeRegistry[T]{
		sub:     sub,
		idleTTL: idleTTL,
		logger:  logger,
		now:     time.Now,
		entries: make(map[string]*registryEntry[T]),
	}
}

// Lease pins an ActiveScope until Release is called.
type Lease[T cache.Entry] struct {
	reg    *ScopeRegistry[T]
	key    string
	active *ActiveScope[T]
	once   sync.Once
}

func (l *Lease[T]) Scope() *ActiveScope[T] { return l.active }

func (l *Lease[T]) Release() {
	l.once.Do(func() {
		l.reg.release(l.key, l.active)
	})
}

// Acquire returns a lease on the scope, activating it on first use.
// Concurrent first uses of the same scope share one activation.
func (r *ScopeRegistry[T]) Acquire(ctx context.Context, scope domain.Scope) (*Lease[T], error) {
	scope = scope.Normalize()
	key := scope.Key()

	for {
		r.mu.Lock()
		if r.closed {
			r.mu.Unlock()
			return nil, domain.WrapError(domain.ErrScopeClosed, "acquire scope", errors.New("registry closed"))
		}
		if entry, ok := r.entries[key]; ok {
			if !isDone(entry.active.Done()) {
				entry.refs++
				r.mu.Unlock()
				return &Lease[T]{reg: r, key: key, active: entry.active}, nil
			}
			delete(r.entries, key)
			go entry.active.Close()
		}
		r.mu.Unlock()

		_, err, _ := r.group.Do(key, func() (any, error) {
			r.mu.Lock()
			_, exists := r.entries[key]
			r.mu.Unlock()
			if exists {
				return nil, nil
			}

			active, err := r.sub.Activate(ctx, scope)
			if err != nil {
				return nil, err
			}

			r.mu.Lock()
			defer r.mu.Unlock()
			if r.closed {
				go active.Close()
				return nil, domain.WrapError(domain.ErrScopeClosed, "activate scope", errors.New("registry closed"))
			}
			r.entries[key] = &registryEntry[T]{active: active, idleSince: r.now()}
			return nil, nil
		})
		if err != nil {
			return nil, err
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
	}
}

func (r *ScopeRegistry[T]) release(key string, active *ActiveScope[T]) {
	r.mu.Lock()
	entry, ok := r.entries[key]
	if !ok || entry.active != active {
		r.mu.Unlock()
		return
	}
	entry.refs--
	if entry.refs > 0 {
		r.mu.Unlock()
		return
	}
	entry.refs = 0
	entry.idleSince = r.now()
	if r.idleTTL > 0 {
		r.mu.Unlock()
		return
	}
	delete(r.entries, key)
	r.mu.Unlock()

	r.closeScope(active, "released")
}

// Sweep closes scopes nobody has leased for at least the idle TTL, and scopes
// whose loop has already stopped. It returns the number closed.
func (r *ScopeRegistry[T]) Sweep(now time.Time) int {
	var stale []*ActiveScope[T]

	r.mu.Lock()
	for key, entry := range r.entries {
		dead := isDone(entry.active.Done())
		idle := entry.refs == 0 && now.Sub(entry.idleSince) >= r.idleTTL
		if dead || idle {
			stale = append(stale, entry.active)
			delete(r.entries, key)
		}
	}
	r.mu.Unlock()

	for _, active := range stale {
		r.closeScope(active, "idle")
	}
	return len(stale)
}

// Run sweeps idle scopes every interval until ctx is done.
func (r *ScopeRegistry[T]) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := r.Sweep(r.now()); n > 0 {
				r.logger.Info("scope_sweep", "stream", r.sub.Stream(), "closed", n)
			}
		}
	}
}

// Close releases every scope. Later Acquire calls fail with ErrScopeClosed.
func (r *ScopeRegistry[T]) Close() {
	r.mu.Lock()
	r.closed = true
	all := make([]*ActiveScope[T], 0, len(r.entries))
	for key, entry := range r.entries {
		all = append(all, entry.active)
		delete(r.entries, key)
	}
	r.mu.Unlock()

	for _, active := range all {
		r.closeScope(active, "shutdown")
	}
}

func (r *ScopeRegistry[T]) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// RemoveOptimistic drops id from every active scope, then runs commit. When
// commit fails, each scope that had the entry is refetched so the store's
// version wins again.
func (r *ScopeRegistry[T]) RemoveOptimistic(ctx context.Context, id string, commit func(context.Context) error) error {
	var touched []*ActiveScope[T]
	for _, active := range r.snapshot() {
		removed, err := active.RemoveLocal(ctx, id)
		if err != nil {
			if !domain.IsKind(err, domain.ErrScopeClosed) {
				r.logger.Warn("optimistic_remove_failed", "stream", r.sub.Stream(), "scope", active.Scope().Key(), "id", id, "error", err)
			}
			continue
		}
		if removed {
			touched = append(touched, active)
		}
	}

	err := commit(ctx)
	if err == nil {
		return nil
	}

	for _, active := range touched {
		if rerr := active.RequestResync(context.WithoutCancel(ctx)); rerr != nil && !domain.IsKind(rerr, domain.ErrScopeClosed) {
			r.logger.Warn("optimistic_rollback_failed", "stream", r.sub.Stream(), "scope", active.Scope().Key(), "id", id, "error", rerr)
		}
	}
	return err
}

func (r *ScopeRegistry[T]) snapshot() []*ActiveScope[T] {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*ActiveScope[T], 0, len(r.entries))
	for _, entry := range r.entries {
		out = append(out, entry.active)
	}
	return out
}

func (r *ScopeRegistry[T]) closeScope(active *ActiveScope[T], reason string) {
	if err := active.Close(); err != nil {
		r.logger.Warn("scope_close_failed", "stream", r.sub.Stream(), "scope", active.Scope().Key(), "reason", reason, "error", err)
	}
}

func isDone(ch <-chan struct{}) bool {
	select {
	case <-ch:
		return true
	default:
		return false
	}
}
