package httpadapter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/kirillkom/docvault/internal/config"
	"github.com/kirillkom/docvault/internal/core/cache"
	"github.com/kirillkom/docvault/internal/core/domain"
	"github.com/kirillkom/docvault/internal/core/lifecycle"
	"github.com/kirillkom/docvault/internal/core/ports"
	"github.com/kirillkom/docvault/internal/core/usecase"
)

const maxBodyBytes = 1 << 20

// DocumentScopes hands out live document caches and coordinates optimistic removals.
type DocumentScopes interface {
	Acquire(ctx context.Context, scope domain.Scope) (*usecase.Lease[domain.DocumentRecord], error)
	RemoveOptimistic(ctx context.Context, id string, commit func(context.Context) error) error
}

// ReminderScopes hands out live reminder caches.
type ReminderScopes interface {
	Acquire(ctx context.Context, scope domain.Scope) (*usecase.Lease[domain.ReminderRecord], error)
}

// AuditWriter renders the admin expiration audit for a set of documents.
type AuditWriter func(w io.Writer, docs []domain.DocumentRecord, now time.Time) error

// Metrics is the slice of the HTTP metrics the router reports to.
type Metrics interface {
	Handler() http.Handler
	Middleware(service string, next http.Handler) http.Handler
	RecordRateLimited(service, path string)
	StreamOpened()
	StreamClosed()
}

type Dependencies struct {
	Documents      ports.DocumentCatalog
	Reminders      ports.ReminderScheduler
	Reconciler     ports.ReminderReconciliation
	DocumentScopes DocumentScopes
	ReminderScopes ReminderScopes
	Audit          AuditWriter
	Metrics        Metrics
	Now            func() time.Time
}

type Router struct {
	documents      ports.DocumentCatalog
	reminders      ports.ReminderScheduler
	reconciler     ports.ReminderReconciliation
	scopes         DocumentScopes
	reminderScopes ReminderScopes
	audit          AuditWriter
	metrics        Metrics
	now            func() time.Time

	heartbeat time.Duration
	limiter   *clientRateLimiter
}

func NewRouter(cfg config.Config, deps Dependencies) *Router {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	heartbeat := cfg.StreamHeartbeat
	if heartbeat <= 0 {
		heartbeat = 15 * time.Second
	}
	return &Router{
		documents:      deps.Documents,
		reminders:      deps.Reminders,
		reconciler:     deps.Reconciler,
		scopes:         deps.DocumentScopes,
		reminderScopes: deps.ReminderScopes,
		audit:          deps.Audit,
		metrics:        deps.Metrics,
		now:            deps.Now,
		heartbeat:      heartbeat,
		limiter:        newClientRateLimiter(cfg.APIRateLimitRPS, cfg.APIRateLimitBurst),
	}
}

func (rt *Router) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", rt.healthz)
	if rt.metrics != nil {
		mux.Handle("GET /metrics", rt.metrics.Handler())
	}

	mux.HandleFunc("GET /v1/documents", rt.listDocuments)
	mux.HandleFunc("POST /v1/documents", rt.createDocument)
	mux.HandleFunc("GET /v1/documents/stream", rt.streamDocuments)
	mux.HandleFunc("GET /v1/documents/{id}", rt.getDocument)
	mux.HandleFunc("PATCH /v1/documents/{id}", rt.updateDocument)
	mux.HandleFunc("DELETE /v1/documents/{id}", rt.deleteDocument)

	mux.HandleFunc("GET /v1/reminders", rt.listReminders)
	mux.HandleFunc("POST /v1/reminders", rt.createReminder)
	mux.HandleFunc("GET /v1/reminders/stream", rt.streamReminders)
	mux.HandleFunc("POST /v1/reminders/reconcile", rt.reconcileReminders)

	mux.HandleFunc("GET /v1/admin/summary", rt.adminSummary)
	mux.HandleFunc("GET /v1/admin/expirations.xlsx", rt.adminExpirations)

	var handler http.Handler = mux
	var onLimited func(string)
	if rt.metrics != nil {
		onLimited = func(path string) { rt.metrics.RecordRateLimited("api", path) }
	}
	handler = rateLimitMiddleware(handler, rt.limiter, onLimited)
	if rt.metrics != nil {
		handler = rt.metrics.Middleware("api", handler)
	}
	handler = accessLogMiddleware(handler)
	return requestIDMiddleware(handler)
}

func (rt *Router) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type documentView struct {
	domain.DocumentRecord
	Status   lifecycle.ExpirationStatus `json:"status"`
	Reminder lifecycle.ReminderUrgency  `json:"reminder"`
}

func newDocumentView(doc domain.DocumentRecord, now time.Time) documentView {
	return documentView{
		DocumentRecord: doc,
		Status:         lifecycle.ClassifyExpiration(now, doc.ExpirationDate),
		Reminder:       lifecycle.ClassifyReminder(now, doc.ReminderAt),
	}
}

func newDocumentViews(docs []domain.DocumentRecord, now time.Time) []documentView {
	out := make([]documentView, 0, len(docs))
	for _, doc := range docs {
		out = append(out, newDocumentView(doc, now))
	}
	return out
}

type documentListResponse struct {
	Scope domain.Scope   `json:"scope"`
	Items []documentView `json:"items"`
	Count int            `json:"count"`
	Now   time.Time      `json:"now"`
}

func (rt *Router) listDocuments(w http.ResponseWriter, r *http.Request) {
	lease, ok := rt.acquireRequestedScope(w, r)
	if !ok {
		return
	}
	defer lease.Release()

	opts, err := documentViewOptions(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	now := rt.now()
	items := lease.Scope().View(opts)
	writeJSON(w, http.StatusOK, documentListResponse{
		Scope: lease.Scope().Scope(),
		Items: newDocumentViews(items, now),
		Count: len(items),
		Now:   now,
	})
}

func (rt *Router) createDocument(w http.ResponseWriter, r *http.Request) {
	p, err := principalFromRequest(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	var input domain.DocumentInput
	if err := decodeJSON(r, &input); err != nil {
		writeError(w, r, err)
		return
	}
	if input.OwnerID, err = p.ownerFor(input.OwnerID); err != nil {
		writeError(w, r, err)
		return
	}

	doc, err := rt.documents.Create(r.Context(), input)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, newDocumentView(*doc, rt.now()))
}

func (rt *Router) getDocument(w http.ResponseWriter, r *http.Request) {
	doc, ok := rt.loadAccessibleDocument(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, newDocumentView(*doc, rt.now()))
}

func (rt *Router) updateDocument(w http.ResponseWriter, r *http.Request) {
	existing, ok := rt.loadAccessibleDocument(w, r)
	if !ok {
		return
	}

	var patch domain.DocumentPatch
	if err := decodeJSON(r, &patch); err != nil {
		writeError(w, r, err)
		return
	}

	doc, err := rt.documents.Update(r.Context(), existing.ID, patch)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newDocumentView(*doc, rt.now()))
}

// deleteDocument removes the document from every live scope before the store
// confirms. A failed delete refetches those scopes.
func (rt *Router) deleteDocument(w http.ResponseWriter, r *http.Request) {
	existing, ok := rt.loadAccessibleDocument(w, r)
	if !ok {
		return
	}

	id := existing.ID
	err := rt.scopes.RemoveOptimistic(r.Context(), id, func(ctx context.Context) error {
		return rt.documents.Delete(ctx, id)
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type reminderView struct {
	domain.ReminderRecord
	Urgency    lifecycle.ReminderUrgency  `json:"urgency"`
	Expiration lifecycle.ExpirationStatus `json:"expiration"`
}

func newReminderView(rec domain.ReminderRecord, now time.Time) reminderView {
	return reminderView{
		ReminderRecord: rec,
		Urgency:        lifecycle.ClassifyReminder(now, rec.ReminderDate),
		Expiration:     lifecycle.ClassifyExpiration(now, rec.ExpirationDate),
	}
}

func (rt *Router) listReminders(w http.ResponseWriter, r *http.Request) {
	p, err := principalFromRequest(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	scope, err := p.scope(r.URL.Query().Get("owner_id"), "")
	if err != nil {
		writeError(w, r, err)
		return
	}
	opts, err := reminderViewOptions(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	records, err := rt.reminders.List(r.Context(), scope)
	if err != nil {
		writeError(w, r, err)
		return
	}

	now := rt.now()
	records = cache.Filter(records, opts)
	items := make([]reminderView, 0, len(records))
	for _, rec := range records {
		items = append(items, newReminderView(rec, now))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"scope": scope,
		"items": items,
		"count": len(items),
	})
}

func (rt *Router) createReminder(w http.ResponseWriter, r *http.Request) {
	p, err := principalFromRequest(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	var input domain.ReminderInput
	if err := decodeJSON(r, &input); err != nil {
		writeError(w, r, err)
		return
	}
	if input.OwnerID, err = p.ownerFor(input.OwnerID); err != nil {
		writeError(w, r, err)
		return
	}

	reminder, err := rt.reminders.Create(r.Context(), input)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, reminder)
}

func (rt *Router) reconcileReminders(w http.ResponseWriter, r *http.Request) {
	p, err := principalFromRequest(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	scope, err := p.scope(r.URL.Query().Get("owner_id"), "")
	if err != nil {
		writeError(w, r, err)
		return
	}

	report, err := rt.reconciler.Reconcile(r.Context(), scope)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (rt *Router) adminSummary(w http.ResponseWriter, r *http.Request) {
	lease, ok := rt.acquireAdminScope(w, r)
	if !ok {
		return
	}
	defer lease.Release()

	summary := lease.Scope().Collection().Summary(rt.now(), cache.DocumentExpiration)
	writeJSON(w, http.StatusOK, summary)
}

func (rt *Router) adminExpirations(w http.ResponseWriter, r *http.Request) {
	lease, ok := rt.acquireAdminScope(w, r)
	if !ok {
		return
	}
	defer lease.Release()

	if rt.audit == nil {
		writeJSON(w, http.StatusNotImplemented, map[string]string{"error": "audit export is not configured"})
		return
	}

	now := rt.now()
	var buf bytes.Buffer
	if err := rt.audit(&buf, lease.Scope().Collection().Snapshot(), now); err != nil {
		writeError(w, r, fmt.Errorf("render expiration audit: %w", err))
		return
	}

	filename := fmt.Sprintf("expirations-%s.xlsx", now.Format("2006-01-02"))
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	w.WriteHeader(http.StatusOK)
	_, _ = buf.WriteTo(w)
}

func (rt *Router) acquireRequestedScope(w http.ResponseWriter, r *http.Request) (*usecase.Lease[domain.DocumentRecord], bool) {
	p, err := principalFromRequest(r)
	if err != nil {
		writeError(w, r, err)
		return nil, false
	}
	query := r.URL.Query()
	scope, err := p.scope(query.Get("owner_id"), query.Get("category"))
	if err != nil {
		writeError(w, r, err)
		return nil, false
	}
	lease, err := rt.scopes.Acquire(r.Context(), scope)
	if err != nil {
		writeError(w, r, err)
		return nil, false
	}
	return lease, true
}

func (rt *Router) acquireAdminScope(w http.ResponseWriter, r *http.Request) (*usecase.Lease[domain.DocumentRecord], bool) {
	p, err := principalFromRequest(r)
	if err == nil {
		err = p.requireAdmin()
	}
	if err != nil {
		writeError(w, r, err)
		return nil, false
	}
	return rt.acquireRequestedScope(w, r)
}

func (rt *Router) loadAccessibleDocument(w http.ResponseWriter, r *http.Request) (*domain.DocumentRecord, bool) {
	p, err := principalFromRequest(r)
	if err != nil {
		writeError(w, r, err)
		return nil, false
	}

	id := strings.TrimSpace(r.PathValue("id"))
	if id == "" {
		writeError(w, r, domain.WrapError(domain.ErrInvalidInput, "load document", errors.New("document id is required")))
		return nil, false
	}

	doc, err := rt.documents.GetByID(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return nil, false
	}
	if !p.canAccess(doc.OwnerID) {
		// Same answer as a missing id so ids of other owners are not disclosed.
		writeError(w, r, domain.WrapError(domain.ErrDocumentNotFound, "load document", fmt.Errorf("id=%s", id)))
		return nil, false
	}
	return doc, true
}

func documentViewOptions(r *http.Request) (cache.ViewOptions[domain.DocumentRecord], error) {
	query := r.URL.Query()
	opts := cache.ViewOptions[domain.DocumentRecord]{Query: query.Get("q")}

	if name := strings.TrimSpace(query.Get("sort")); name != "" {
		key, ok := cache.DocumentSortKey(name)
		if !ok {
			return opts, domain.WrapError(domain.ErrInvalidInput, "parse view options", fmt.Errorf("unknown sort key %q", name))
		}
		opts.SortBy = key
	}
	return finishViewOptions(opts, query.Get("order"), query.Get("limit"))
}

func reminderViewOptions(r *http.Request) (cache.ViewOptions[domain.ReminderRecord], error) {
	query := r.URL.Query()
	opts := cache.ViewOptions[domain.ReminderRecord]{Query: query.Get("q")}

	if name := strings.TrimSpace(query.Get("sort")); name != "" {
		key, ok := cache.ReminderSortKey(name)
		if !ok {
			return opts, domain.WrapError(domain.ErrInvalidInput, "parse view options", fmt.Errorf("unknown sort key %q", name))
		}
		opts.SortBy = key
	}
	return finishViewOptions(opts, query.Get("order"), query.Get("limit"))
}

func finishViewOptions[T cache.Entry](opts cache.ViewOptions[T], order, limit string) (cache.ViewOptions[T], error) {
	switch strings.ToLower(strings.TrimSpace(order)) {
	case "", "desc":
		opts.Descending = true
	case "asc":
		opts.Descending = false
	default:
		return opts, domain.WrapError(domain.ErrInvalidInput, "parse view options", fmt.Errorf("order must be asc or desc, got %q", order))
	}

	if limit = strings.TrimSpace(limit); limit != "" {
		n, err := strconv.Atoi(limit)
		if err != nil || n < 0 {
			return opts, domain.WrapError(domain.ErrInvalidInput, "parse view options", fmt.Errorf("invalid limit %q", limit))
		}
		opts.Limit = n
	}
	return opts, nil
}

func decodeJSON(r *http.Request, dst any) error {
	decoder := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		return domain.WrapError(domain.ErrInvalidInput, "decode request body", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
