package activity

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"github.com/tides-platform/console/internal/shared/events"
	"github.com/tides-platform/console/internal/shared/logger"
)

// StreamName is the KurrentDB stream holding the activity log.
const StreamName = "tides-activity"

// scanWindow bounds how far back List reads before filtering.
const scanWindow = 2000

// EventStore is the part of the KurrentDB store the log needs.
type EventStore interface {
	Append(ctx context.Context, stream string, events ...events.Event) error
	ReadBackwards(ctx context.Context, stream string, limit uint64) ([]events.Event, error)
}

// KurrentLog persists the activity log in a KurrentDB stream.
type KurrentLog struct {
	store  EventStore
	stream string
	log    *zap.Logger
}

func NewKurrentLog(store EventStore) *KurrentLog {
	return &KurrentLog{store: store, stream: StreamName, log: logger.Named("activity")}
}

func (l *KurrentLog) Record(ctx context.Context, e Entry) error {
	event, err := events.NewEvent(e.Action, "tides-console", e)
	if err != nil {
		return err
	}
	event.ID = e.ID.String()
	event.Timestamp = e.Timestamp
	event = event.WithActor(e.ActorID, e.ActorRole)

	return l.store.Append(ctx, l.stream, event)
}

func (l *KurrentLog) List(ctx context.Context, f Filter) ([]Entry, error) {
	recorded, err := l.store.ReadBackwards(ctx, l.stream, scanWindow)
	if err != nil {
		return nil, err
	}

	limit := f.limit()
	result := make([]Entry, 0, min(limit, len(recorded)))
	for _, event := range recorded {
		var e Entry
		if err := json.Unmarshal(event.Data, &e); err != nil {
			l.log.Warn("skipping undecodable activity entry", zap.String("event_id", event.ID), logger.Err(err))
			continue
		}
		if !f.matches(e) {
			continue
		}
		result = append(result, e)
		if len(result) == limit {
			break
		}
	}
	return result, nil
}

var (
	_ Log        = (*KurrentLog)(nil)
	_ Log        = (*MemoryLog)(nil)
	_ EventStore = (*events.Store)(nil)
)
