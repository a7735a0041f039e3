package nats

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/kirillkom/docvault/internal/core/domain"
)

// InAppNotifier delivers the in_app channel by publishing the notification on
// the owner's notifications subject, where connected clients listen.
type InAppNotifier struct {
	q *Queue
}

func NewInAppNotifier(q *Queue) *InAppNotifier {
	return &InAppNotifier{q: q}
}

func (n *InAppNotifier) Send(ctx context.Context, notification domain.Notification) error {
	payload, err := json.Marshal(notification)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}
	return n.q.publish(ctx, n.q.Subject(StreamNotifications, notification.OwnerID), payload)
}
