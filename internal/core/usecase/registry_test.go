package usecase

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/kirillkom/docvault/internal/core/domain"
)

func newDocRegistry(t *testing.T, idleTTL time.Duration, docs ...domain.DocumentRecord) (*ScopeRegistry[domain.DocumentRecord], *feedFake[domain.DocumentRecord], *listerFake[domain.DocumentRecord]) {
	t.Helper()
	feed := &feedFake[domain.DocumentRecord]{}
	lister := &listerFake[domain.DocumentRecord]{}
	lister.set(docs...)
	sub := NewSubscriber[domain.DocumentRecord]("documents", feed, lister, SubscriberOptions{})
	reg := NewScopeRegistry(sub, idleTTL, nil)
	t.Cleanup(reg.Close)
	return reg, feed, lister
}

func TestRegistrySharesOneScopePerKey(t *testing.T) {
	reg, feed, _ := newDocRegistry(t, time.Minute, testDoc("d1", "u1", "", 1))

	var wg sync.WaitGroup
	leases := make([]*Lease[domain.DocumentRecord], 8)
	for i := range leases {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			lease, err := reg.Acquire(context.Background(), domain.OwnerScope("u1"))
			if err != nil {
				t.Errorf("Acquire() error = %v", err)
				return
			}
			leases[i] = lease
		}(i)
	}
	wg.Wait()

	if feed.count() != 1 {
		t.Fatalf("expected one subscription, got %d", feed.count())
	}
	for _, lease := range leases {
		if lease == nil || lease.Scope() != leases[0].Scope() {
			t.Fatalf("expected every lease to share the same scope")
		}
		lease.Release()
	}
	if reg.Len() != 1 {
		t.Fatalf("expected idle scope kept until the TTL, got %d", reg.Len())
	}
}

func TestRegistrySweepClosesIdleScopes(t *testing.T) {
	reg, feed, _ := newDocRegistry(t, time.Minute)
	now := time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC)
	reg.now = func() time.Time { return now }

	held, err := reg.Acquire(context.Background(), domain.OwnerScope("u1"))
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	idle, err := reg.Acquire(context.Background(), domain.OwnerScope("u2"))
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	idle.Release()

	if n := reg.Sweep(now.Add(30 * time.Second)); n != 0 {
		t.Fatalf("expected nothing swept before the TTL, got %d", n)
	}
	if n := reg.Sweep(now.Add(2 * time.Minute)); n != 1 {
		t.Fatalf("expected one idle scope swept, got %d", n)
	}
	if !feed.handles[1].isClosed() || feed.handles[0].isClosed() {
		t.Fatalf("expected only the idle scope released")
	}
	held.Release()
}

func TestRegistryZeroTTLClosesOnRelease(t *testing.T) {
	reg, feed, _ := newDocRegistry(t, 0)

	lease, err := reg.Acquire(context.Background(), domain.OwnerScope("u1"))
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	lease.Release()
	lease.Release()

	if reg.Len() != 0 || !feed.last().isClosed() {
		t.Fatalf("expected scope closed on last release")
	}
}

func TestRegistryCloseRejectsAcquire(t *testing.T) {
	reg, feed, _ := newDocRegistry(t, time.Minute)
	if _, err := reg.Acquire(context.Background(), domain.OwnerScope("u1")); err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}

	reg.Close()

	if !feed.last().isClosed() {
		t.Fatalf("expected scopes released on close")
	}
	if _, err := reg.Acquire(context.Background(), domain.OwnerScope("u1")); !domain.IsKind(err, domain.ErrScopeClosed) {
		t.Fatalf("expected ErrScopeClosed, got %v", err)
	}
}

func TestRemoveOptimisticRollsBackOnCommitFailure(t *testing.T) {
	reg, _, _ := newDocRegistry(t, time.Minute, testDoc("d1", "u1", "", 1), testDoc("d2", "u1", "", 2))
	lease, err := reg.Acquire(context.Background(), domain.OwnerScope("u1"))
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	defer lease.Release()

	commitErr := errors.New("delete rejected")
	var seenDuringCommit bool
	err = reg.RemoveOptimistic(context.Background(), "d1", func(context.Context) error {
		seenDuringCommit = lease.Scope().Collection().Contains("d1")
		return commitErr
	})
	if !errors.Is(err, commitErr) {
		t.Fatalf("expected commit error, got %v", err)
	}
	if seenDuringCommit {
		t.Fatalf("expected d1 hidden while the delete was in flight")
	}
	if !lease.Scope().Collection().Contains("d1") {
		t.Fatalf("expected d1 restored after the failed delete")
	}
}

func TestRemoveOptimisticKeepsRemovalOnSuccess(t *testing.T) {
	reg, _, lister := newDocRegistry(t, time.Minute, testDoc("d1", "u1", "", 1))
	lease, err := reg.Acquire(context.Background(), domain.OwnerScope("u1"))
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	defer lease.Release()

	calls := lister.callCount()
	if err := reg.RemoveOptimistic(context.Background(), "d1", func(context.Context) error { return nil }); err != nil {
		t.Fatalf("RemoveOptimistic() error = %v", err)
	}
	if lease.Scope().Collection().Contains("d1") {
		t.Fatalf("expected d1 removed")
	}
	if lister.callCount() != calls {
		t.Fatalf("expected no refetch after a successful delete")
	}
}
