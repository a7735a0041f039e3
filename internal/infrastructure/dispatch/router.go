// Package dispatch fans reminder notifications out to the channel senders.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/time/rate"

	"github.com/kirillkom/docvault/internal/core/domain"
)

type Sender interface {
	Send(ctx context.Context, notification domain.Notification) error
}

type SenderFunc func(ctx context.Context, notification domain.Notification) error

func (f SenderFunc) Send(ctx context.Context, notification domain.Notification) error {
	return f(ctx, notification)
}

// Router implements the reconciler's Dispatcher. Each channel has its own
// token bucket so a burst of due reminders cannot flood one relay.
type Router struct {
	mu      sync.RWMutex
	senders map[domain.Channel]Sender
	limits  map[domain.Channel]*rate.Limiter

	perSecond float64
	burst     int
}

// NewRouter limits every channel to perSecond sends with the given burst. A
// non-positive rate disables limiting.
func NewRouter(perSecond float64, burst int) *Router {
	if burst <= 0 {
		burst = 1
	}
	return &Router{
		senders:   make(map[domain.Channel]Sender),
		limits:    make(map[domain.Channel]*rate.Limiter),
		perSecond: perSecond,
		burst:     burst,
	}
}

func (r *Router) Register(channel domain.Channel, sender Sender) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.senders[channel] = sender
	if r.perSecond > 0 {
		r.limits[channel] = rate.NewLimiter(rate.Limit(r.perSecond), r.burst)
	}
}

var ErrUnknownChannel = errors.New("unknown dispatch channel")

func (r *Router) Dispatch(ctx context.Context, channel domain.Channel, notification domain.Notification) error {
	r.mu.RLock()
	sender, ok := r.senders[channel]
	limiter := r.limits[channel]
	r.mu.RUnlock()

	if !ok {
		return domain.WrapError(domain.ErrInvalidInput, "dispatch", fmt.Errorf("%w: %s", ErrUnknownChannel, channel))
	}
	if limiter != nil {
		if err := limiter.Wait(ctx); err != nil {
			return fmt.Errorf("dispatch %s rate limit: %w", channel, err)
		}
	}
	if err := sender.Send(ctx, notification); err != nil {
		return fmt.Errorf("dispatch %s: %w", channel, err)
	}
	return nil
}
