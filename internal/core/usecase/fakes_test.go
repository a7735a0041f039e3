package usecase

import (
	"context"
	"errors"
	"sync"

	"github.com/kirillkom/docvault/internal/core/domain"
	"github.com/kirillkom/docvault/internal/core/ports"
)

type feedHandleFake[T any] struct {
	events    chan domain.FeedEvent[T]
	closed    chan struct{}
	closeOnce sync.Once
}

func newFeedHandleFake[T any]() *feedHandleFake[T] {
	return &feedHandleFake[T]{
		// unbuffered: a push returns only once the loop took the event
		events: make(chan domain.FeedEvent[T]),
		closed: make(chan struct{}),
	}
}

func (h *feedHandleFake[T]) Events() <-chan domain.FeedEvent[T] { return h.events }

func (h *feedHandleFake[T]) Close() error {
	h.closeOnce.Do(func() { close(h.closed) })
	return nil
}

// push reports whether the event was taken before the handle was closed.
func (h *feedHandleFake[T]) push(ev domain.FeedEvent[T]) bool {
	select {
	case h.events <- ev:
		return true
	case <-h.closed:
		return false
	}
}

func (h *feedHandleFake[T]) isClosed() bool {
	select {
	case <-h.closed:
		return true
	default:
		return false
	}
}

type feedFake[T any] struct {
	mu      sync.Mutex
	handles []*feedHandleFake[T]
	scopes  []domain.Scope
	err     error
}

func (f *feedFake[T]) Subscribe(_ context.Context, scope domain.Scope) (ports.FeedHandle[T], error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	h := newFeedHandleFake[T]()
	f.handles = append(f.handles, h)
	f.scopes = append(f.scopes, scope)
	return h, nil
}

func (f *feedFake[T]) last() *feedHandleFake[T] {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.handles) == 0 {
		return nil
	}
	return f.handles[len(f.handles)-1]
}

func (f *feedFake[T]) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.handles)
}

type listerFake[T any] struct {
	mu    sync.Mutex
	items []T
	errs  []error
	calls int
}

func (f *listerFake[T]) ListByScope(context.Context, domain.Scope) ([]T, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		if err != nil {
			return nil, err
		}
	}
	out := make([]T, len(f.items))
	copy(out, f.items)
	return out, nil
}

func (f *listerFake[T]) set(items ...T) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.items = items
}

func (f *listerFake[T]) failNext(errs ...error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errs = append(f.errs, errs...)
}

func (f *listerFake[T]) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type reminderRepoFake struct {
	mu         sync.Mutex
	items      map[string]domain.ReminderRecord
	order      []string
	failIDs    map[string]error
	listErr    error
	writes     int
	transition []string
}

func newReminderRepoFake(records ...domain.ReminderRecord) *reminderRepoFake {
	f := &reminderRepoFake{
		items:   make(map[string]domain.ReminderRecord),
		failIDs: make(map[string]error),
	}
	for _, r := range records {
		f.items[r.ID] = r
		f.order = append(f.order, r.ID)
	}
	return f
}

func (f *reminderRepoFake) ListByScope(_ context.Context, scope domain.Scope) ([]domain.ReminderRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	var out []domain.ReminderRecord
	for _, id := range f.order {
		r := f.items[id]
		if scope.Matches(r.OwnerID, "") {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *reminderRepoFake) Create(_ context.Context, r *domain.ReminderRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.items[r.ID]; ok {
		return errors.New("duplicate id")
	}
	f.items[r.ID] = *r
	f.order = append(f.order, r.ID)
	return nil
}

func (f *reminderRepoFake) GetByID(_ context.Context, id string) (*domain.ReminderRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.items[id]
	if !ok {
		return nil, domain.WrapError(domain.ErrReminderNotFound, "get reminder", errors.New(id))
	}
	return &r, nil
}

func (f *reminderRepoFake) TransitionStatus(_ context.Context, id string, from, to domain.ReminderStatus) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failIDs[id]; err != nil {
		return false, err
	}
	r, ok := f.items[id]
	if !ok || r.Status != from || r.Status == domain.ReminderExpired {
		return false, nil
	}
	r.Status = to
	f.items[id] = r
	f.writes++
	f.transition = append(f.transition, id+":"+string(to))
	return true, nil
}

func (f *reminderRepoFake) status(id string) domain.ReminderStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.items[id].Status
}

type dispatchCall struct {
	channel      domain.Channel
	notification domain.Notification
}

type dispatcherFake struct {
	mu    sync.Mutex
	calls []dispatchCall
	fail  map[domain.Channel]error
}

func (f *dispatcherFake) Dispatch(_ context.Context, channel domain.Channel, n domain.Notification) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, dispatchCall{channel: channel, notification: n})
	if err := f.fail[channel]; err != nil {
		return err
	}
	return nil
}

func (f *dispatcherFake) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type publisherFake struct {
	mu        sync.Mutex
	documents []domain.ChangeEvent[domain.DocumentRecord]
	reminders []domain.ChangeEvent[domain.ReminderRecord]
	err       error
}

func (f *publisherFake) PublishDocumentChange(_ context.Context, ev domain.ChangeEvent[domain.DocumentRecord]) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.documents = append(f.documents, ev)
	return f.err
}

func (f *publisherFake) PublishReminderChange(_ context.Context, ev domain.ChangeEvent[domain.ReminderRecord]) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reminders = append(f.reminders, ev)
	return f.err
}

type documentRepoFake struct {
	mu        sync.Mutex
	items     map[string]domain.DocumentRecord
	createErr error
	deleteErr error
}

func newDocumentRepoFake(docs ...domain.DocumentRecord) *documentRepoFake {
	f := &documentRepoFake{items: make(map[string]domain.DocumentRecord)}
	for _, d := range docs {
		f.items[d.ID] = d
	}
	return f
}

func (f *documentRepoFake) ListByScope(_ context.Context, scope domain.Scope) ([]domain.DocumentRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.DocumentRecord
	for _, d := range f.items {
		if scope.Matches(d.OwnerID, d.Category) {
			out = append(out, d)
		}
	}
	return out, nil
}

func (f *documentRepoFake) Create(_ context.Context, doc *domain.DocumentRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return f.createErr
	}
	f.items[doc.ID] = *doc
	return nil
}

func (f *documentRepoFake) GetByID(_ context.Context, id string) (*domain.DocumentRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.items[id]
	if !ok {
		return nil, domain.WrapError(domain.ErrDocumentNotFound, "get document", errors.New(id))
	}
	return &d, nil
}

func (f *documentRepoFake) Update(_ context.Context, doc *domain.DocumentRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.items[doc.ID]; !ok {
		return domain.WrapError(domain.ErrDocumentNotFound, "update document", errors.New(doc.ID))
	}
	f.items[doc.ID] = *doc
	return nil
}

func (f *documentRepoFake) Delete(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deleteErr != nil {
		return f.deleteErr
	}
	delete(f.items, id)
	return nil
}
