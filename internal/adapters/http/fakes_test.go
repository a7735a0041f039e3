package httpadapter

import (
	"context"
	"fmt"
	"io"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/kirillkom/docvault/internal/config"
	"github.com/kirillkom/docvault/internal/core/domain"
	"github.com/kirillkom/docvault/internal/core/ports"
	"github.com/kirillkom/docvault/internal/core/usecase"
)

var testNow = time.Date(2026, 10, 14, 12, 0, 0, 0, time.UTC)

type memHandle struct {
	events chan domain.FeedEvent[domain.DocumentRecord]
	scope  domain.Scope

	once   sync.Once
	closed chan struct{}
}

func (h *memHandle) Events() <-chan domain.FeedEvent[domain.DocumentRecord] { return h.events }

func (h *memHandle) Close() error {
	h.once.Do(func() { close(h.closed) })
	return nil
}

// memFeed fans published changes out to every open subscription.
type memFeed struct {
	mu      sync.Mutex
	handles []*memHandle
}

func (f *memFeed) Subscribe(_ context.Context, scope domain.Scope) (ports.FeedHandle[domain.DocumentRecord], error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	h := &memHandle{
		events: make(chan domain.FeedEvent[domain.DocumentRecord], 16),
		scope:  scope,
		closed: make(chan struct{}),
	}
	f.handles = append(f.handles, h)
	return h, nil
}

func (f *memFeed) publish(change domain.ChangeEvent[domain.DocumentRecord]) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, h := range f.handles {
		select {
		case <-h.closed:
		case h.events <- domain.FeedEvent[domain.DocumentRecord]{Change: change}:
		}
	}
}

// memDocuments is both the store behind the scope fetches and the catalog
// the router writes through.
type memDocuments struct {
	feed *memFeed

	mu        sync.Mutex
	docs      map[string]domain.DocumentRecord
	seq       int
	deleteErr error
	created   []domain.DocumentInput
}

func newMemDocuments(feed *memFeed, docs ...domain.DocumentRecord) *memDocuments {
	m := &memDocuments{feed: feed, docs: make(map[string]domain.DocumentRecord)}
	for _, doc := range docs {
		m.docs[doc.ID] = doc
	}
	return m
}

func (m *memDocuments) ListByScope(_ context.Context, scope domain.Scope) ([]domain.DocumentRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.DocumentRecord, 0, len(m.docs))
	for _, doc := range m.docs {
		if scope.Matches(doc.OwnerID, doc.Category) {
			out = append(out, doc)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Time().After(out[j].CreatedAt.Time())
	})
	return out, nil
}

func (m *memDocuments) Create(_ context.Context, input domain.DocumentInput) (*domain.DocumentRecord, error) {
	m.mu.Lock()
	m.seq++
	doc := domain.DocumentRecord{
		ID:             fmt.Sprintf("new-%d", m.seq),
		OwnerID:        input.OwnerID,
		Category:       input.Category,
		Name:           input.Name,
		CreatedAt:      domain.TimestampOf(testNow),
		ExpirationDate: input.ExpirationDate,
		ReminderAt:     input.ReminderAt,
	}
	m.docs[doc.ID] = doc
	m.created = append(m.created, input)
	m.mu.Unlock()

	m.feed.publish(domain.InsertEvent(doc))
	return &doc, nil
}

func (m *memDocuments) Update(_ context.Context, id string, patch domain.DocumentPatch) (*domain.DocumentRecord, error) {
	m.mu.Lock()
	old, ok := m.docs[id]
	if !ok {
		m.mu.Unlock()
		return nil, domain.WrapError(domain.ErrDocumentNotFound, "update", fmt.Errorf("id=%s", id))
	}
	next := old
	patch.Apply(&next)
	m.docs[id] = next
	m.mu.Unlock()

	m.feed.publish(domain.UpdateEvent(old, next))
	return &next, nil
}

func (m *memDocuments) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	if m.deleteErr != nil {
		err := m.deleteErr
		m.mu.Unlock()
		return err
	}
	old, ok := m.docs[id]
	delete(m.docs, id)
	m.mu.Unlock()

	if ok {
		m.feed.publish(domain.DeleteEvent(old))
	}
	return nil
}

func (m *memDocuments) GetByID(_ context.Context, id string) (*domain.DocumentRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.docs[id]
	if !ok {
		return nil, domain.WrapError(domain.ErrDocumentNotFound, "get", fmt.Errorf("id=%s", id))
	}
	return &doc, nil
}

type reminderSchedulerFake struct {
	mu        sync.Mutex
	listed    []domain.Scope
	records   []domain.ReminderRecord
	created   []domain.ReminderInput
	createErr error
}

func (f *reminderSchedulerFake) Create(_ context.Context, input domain.ReminderInput) (*domain.ReminderRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return nil, f.createErr
	}
	f.created = append(f.created, input)
	return &domain.ReminderRecord{
		ID:             "rem-1",
		OwnerID:        input.OwnerID,
		DocumentName:   input.DocumentName,
		ExpirationDate: input.ExpirationDate,
		ReminderDate:   input.ReminderDate,
		Type:           input.Type,
		Status:         domain.ReminderPending,
	}, nil
}

func (f *reminderSchedulerFake) List(_ context.Context, scope domain.Scope) ([]domain.ReminderRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listed = append(f.listed, scope)
	return f.records, nil
}

type reconcilerFake struct {
	scopes []domain.Scope
}

func (f *reconcilerFake) Reconcile(_ context.Context, scope domain.Scope) (domain.ReconcileReport, error) {
	f.scopes = append(f.scopes, scope)
	return domain.ReconcileReport{
		Scope:        scope,
		Examined:     2,
		Transitioned: map[domain.ReminderStatus]int{domain.ReminderSent: 1},
		Dispatched:   1,
	}, nil
}

type testEnv struct {
	feed       *memFeed
	docs       *memDocuments
	reminders  *reminderSchedulerFake
	reconciler *reconcilerFake
	registry   *usecase.ScopeRegistry[domain.DocumentRecord]
	audited    []domain.DocumentRecord
}

func newTestEnv(t *testing.T, cfg config.Config, docs ...domain.DocumentRecord) (*testEnv, *Router) {
	t.Helper()
	feed := &memFeed{}
	env := &testEnv{
		feed:       feed,
		docs:       newMemDocuments(feed, docs...),
		reminders:  &reminderSchedulerFake{},
		reconciler: &reconcilerFake{},
	}
	sub := usecase.NewSubscriber[domain.DocumentRecord]("documents", feed, env.docs, usecase.SubscriberOptions{})
	env.registry = usecase.NewScopeRegistry(sub, time.Minute, nil)
	t.Cleanup(env.registry.Close)

	router := NewRouter(cfg, Dependencies{
		Documents:      env.docs,
		Reminders:      env.reminders,
		Reconciler:     env.reconciler,
		DocumentScopes: env.registry,
		Audit: func(w io.Writer, docs []domain.DocumentRecord, _ time.Time) error {
			env.audited = docs
			_, err := io.WriteString(w, "PK-workbook")
			return err
		},
		Now: func() time.Time { return testNow },
	})
	return env, router
}

func makeDoc(id, owner, category string, expires domain.Date, created time.Time) domain.DocumentRecord {
	return domain.DocumentRecord{
		ID:             id,
		OwnerID:        owner,
		Category:       category,
		Name:           "doc " + id,
		CreatedAt:      domain.TimestampOf(created),
		ExpirationDate: expires,
	}
}
