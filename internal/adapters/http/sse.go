package httpadapter

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/kirillkom/docvault/internal/core/cache"
	"github.com/kirillkom/docvault/internal/core/domain"
	"github.com/kirillkom/docvault/internal/core/usecase"
)

type snapshotFrame[V any] struct {
	Scope domain.Scope `json:"scope"`
	Items []V          `json:"items"`
	Now   time.Time    `json:"now"`
}

type changeFrame[V any] struct {
	Kind usecase.ChangeKind `json:"kind"`
	ID   string             `json:"id"`
	Item *V                 `json:"item,omitempty"`
}

func (rt *Router) streamDocuments(w http.ResponseWriter, r *http.Request) {
	lease, ok := rt.acquireRequestedScope(w, r)
	if !ok {
		return
	}
	defer lease.Release()
	streamScope(rt, w, r, lease.Scope(), newDocumentView)
}

func (rt *Router) streamReminders(w http.ResponseWriter, r *http.Request) {
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
	if rt.reminderScopes == nil {
		writeJSON(w, http.StatusNotImplemented, map[string]string{"error": "reminder stream is not configured"})
		return
	}
	lease, err := rt.reminderScopes.Acquire(r.Context(), scope)
	if err != nil {
		writeError(w, r, err)
		return
	}
	defer lease.Release()
	streamScope(rt, w, r, lease.Scope(), newReminderView)
}

// streamScope sends the scope's current content as a snapshot event, then
// one change event per mutation applied to the cache. A reset on the cache is
// sent as a fresh snapshot. The stream ends with a closed event when the
// scope stops or the client falls behind; clients reconnect.
func streamScope[T cache.Entry, V any](
	rt *Router,
	w http.ResponseWriter,
	r *http.Request,
	active *usecase.ActiveScope[T],
	toView func(T, time.Time) V,
) {
	changes, stopWatch := active.Watch()
	defer stopWatch()

	rc := http.NewResponseController(w)
	if err := rc.SetWriteDeadline(time.Time{}); err != nil && !errors.Is(err, http.ErrNotSupported) {
		writeError(w, r, fmt.Errorf("disable write deadline: %w", err))
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	if rt.metrics != nil {
		rt.metrics.StreamOpened()
		defer rt.metrics.StreamClosed()
	}

	send := func(event string, payload any) error {
		if err := writeSSE(w, event, payload); err != nil {
			return err
		}
		return rc.Flush()
	}
	snapshot := func() error {
		now := rt.now()
		items := active.View(cache.ViewOptions[T]{})
		views := make([]V, 0, len(items))
		for _, item := range items {
			views = append(views, toView(item, now))
		}
		return send("snapshot", snapshotFrame[V]{Scope: active.Scope(), Items: views, Now: now})
	}

	if err := snapshot(); err != nil {
		return
	}

	heartbeat := time.NewTicker(rt.heartbeat)
	defer heartbeat.Stop()

	for {
		var err error
		select {
		case <-r.Context().Done():
			return
		case change, open := <-changes:
			if !open {
				_ = send("closed", map[string]string{"reason": "resubscribe"})
				return
			}
			if change.Kind == usecase.ChangeReset {
				err = snapshot()
				break
			}
			frame := changeFrame[V]{Kind: change.Kind, ID: change.ID}
			if change.Item != nil {
				view := toView(*change.Item, rt.now())
				frame.Item = &view
			}
			err = send("change", frame)
		case <-heartbeat.C:
			if _, err = io.WriteString(w, ": ping\n\n"); err == nil {
				err = rc.Flush()
			}
		}
		if err != nil {
			return
		}
	}
}

func writeSSE(w io.Writer, event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
	return err
}
