package tail

import (
	"time"

	"cw/internal/services"
)

// Event is one log record read from a target. Timestamps carry millisecond
// precision.
type Event struct {
	Source     string
	Stream     string
	ID         string
	Timestamp  time.Time
	IngestedAt time.Time
	Message    string
}

// Identity is the deduplication key of an event.
type Identity struct {
	Stream string
	ID     string
}

// Identity returns the (stream, event id) pair identifying e.
func (e Event) Identity() Identity {
	return Identity{Stream: e.Stream, ID: e.ID}
}

// Less orders events by timestamp, breaking ties by source, stream and id.
func (e Event) Less(other Event) bool {
	if !e.Timestamp.Equal(other.Timestamp) {
		return e.Timestamp.Before(other.Timestamp)
	}
	if e.Source != other.Source {
		return e.Source < other.Source
	}
	if e.Stream != other.Stream {
		return e.Stream < other.Stream
	}
	return e.ID < other.ID
}

func fromRemote(source string, remote services.RemoteEvent) Event {
	return Event{
		Source:     source,
		Stream:     remote.Stream,
		ID:         remote.EventID,
		Timestamp:  remote.Timestamp.Truncate(time.Millisecond),
		IngestedAt: remote.IngestedAt.Truncate(time.Millisecond),
		Message:    remote.Message,
	}
}
