package domain

type EventType string

const (
	EventInsert EventType = "INSERT"
	EventUpdate EventType = "UPDATE"
	EventDelete EventType = "DELETE"
)

func (t EventType) Valid() bool {
	switch t {
	case EventInsert, EventUpdate, EventDelete:
		return true
	default:
		return false
	}
}

// ChangeEvent is one row-level change delivered by a change feed.
type ChangeEvent[T any] struct {
	Type EventType `json:"event_type"`
	New  *T        `json:"new,omitempty"`
	Old  *T        `json:"old,omitempty"`
}

func InsertEvent[T any](rec T) ChangeEvent[T] {
	return ChangeEvent[T]{Type: EventInsert, New: &rec}
}

func UpdateEvent[T any](old, rec T) ChangeEvent[T] {
	return ChangeEvent[T]{Type: EventUpdate, New: &rec, Old: &old}
}

func DeleteEvent[T any](old T) ChangeEvent[T] {
	return ChangeEvent[T]{Type: EventDelete, Old: &old}
}

// FeedEvent is an item of a subscription queue: either a change, or a marker
// telling the consumer that events may have been lost and the scope must be
// refetched.
type FeedEvent[T any] struct {
	Change ChangeEvent[T]
	Resync bool
	Reason string
}

func ResyncMarker[T any](reason string) FeedEvent[T] {
	return FeedEvent[T]{Resync: true, Reason: reason}
}
