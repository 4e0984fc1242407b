package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/EventStore/EventStore-Client-Go/v4/esdb"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tides-platform/console/internal/shared/config"
	"github.com/tides-platform/console/internal/shared/logger"
)

// Event is the envelope written to KurrentDB streams.
type Event struct {
	ID            string          `json:"id"`
	Type          string          `json:"type"`
	Source        string          `json:"source"`
	Timestamp     time.Time       `json:"timestamp"`
	CorrelationID string          `json:"correlation_id,omitempty"`
	ActorID       string          `json:"actor_id,omitempty"`
	ActorRole     string          `json:"actor_role,omitempty"`
	Data          json.RawMessage `json:"data"`
}

// NewEvent creates a new event with auto-generated ID and timestamp
func NewEvent(eventType, source string, data any) (Event, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return Event{}, fmt.Errorf("failed to marshal event data: %w", err)
	}
	return Event{
		ID:        uuid.New().String(),
		Type:      eventType,
		Source:    source,
		Timestamp: time.Now().UTC(),
		Data:      raw,
	}, nil
}

// WithActor sets the actor information on the event
func (e Event) WithActor(actorID, actorRole string) Event {
	e.ActorID = actorID
	e.ActorRole = actorRole
	return e
}

// WithCorrelation sets the correlation ID for request tracing
func (e Event) WithCorrelation(correlationID string) Event {
	e.CorrelationID = correlationID
	return e
}

// Store appends events to and reads events from KurrentDB streams.
type Store struct {
	client *esdb.Client
	log    *zap.Logger
}

// NewStore connects to KurrentDB and verifies the connection.
func NewStore(ctx context.Context, cfg config.KurrentDBConfig) (*Store, error) {
	settings, err := esdb.ParseConnectionString(buildConnectionString(cfg))
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}

	client, err := esdb.NewClient(settings)
	if err != nil {
		return nil, fmt.Errorf("failed to create KurrentDB client: %w", err)
	}

	s := &Store{client: client, log: logger.Named("kurrentdb")}

	healthCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := s.Health(healthCtx); err != nil {
		client.Close()
		return nil, err
	}

	return s, nil
}

// buildConnectionString creates the esdb:// connection string
func buildConnectionString(cfg config.KurrentDBConfig) string {
	var auth string
	if cfg.Username != "" && cfg.Password != "" {
		auth = fmt.Sprintf("%s:%s@", cfg.Username, cfg.Password)
	}

	params := ""
	if cfg.Insecure {
		params = "?tls=false&tlsVerifyCert=false&keepAliveInterval=10000&keepAliveTimeout=10000"
	}

	return fmt.Sprintf("esdb://%s%s:%d%s", auth, cfg.Host, cfg.Port, params)
}

// Append writes events to the end of stream.
func (s *Store) Append(ctx context.Context, stream string, events ...Event) error {
	if len(events) == 0 {
		return nil
	}

	data := make([]esdb.EventData, 0, len(events))
	for _, event := range events {
		payload, err := json.Marshal(event)
		if err != nil {
			return fmt.Errorf("failed to marshal event: %w", err)
		}

		eventID, err := uuid.Parse(event.ID)
		if err != nil {
			eventID = uuid.New()
		}

		data = append(data, esdb.EventData{
			EventID:     eventID,
			EventType:   event.Type,
			ContentType: esdb.ContentTypeJson,
			Data:        payload,
		})
	}

	_, err := s.client.AppendToStream(ctx, stream, esdb.AppendToStreamOptions{
		ExpectedRevision: esdb.Any{},
	}, data...)
	if err != nil {
		return fmt.Errorf("failed to append to %s: %w", stream, err)
	}

	return nil
}

// ReadBackwards returns up to limit events from the end of stream, newest first.
// A stream that does not exist yet reads as empty.
func (s *Store) ReadBackwards(ctx context.Context, stream string, limit uint64) ([]Event, error) {
	rs, err := s.client.ReadStream(ctx, stream, esdb.ReadStreamOptions{
		Direction: esdb.Backwards,
		From:      esdb.End{},
	}, limit)
	if err != nil {
		if isStreamNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read %s: %w", stream, err)
	}
	defer rs.Close()

	var result []Event
	for {
		resolved, err := rs.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			if isStreamNotFound(err) {
				return nil, nil
			}
			return nil, fmt.Errorf("failed to read %s: %w", stream, err)
		}

		recorded := resolved.Event
		if recorded == nil {
			continue
		}

		event, err := recordedEventToEvent(recorded)
		if err != nil {
			s.log.Warn("skipping undecodable event",
				zap.String("stream", stream),
				zap.String("event_id", recorded.EventID.String()),
				logger.Err(err))
			continue
		}
		result = append(result, event)
	}

	return result, nil
}

// FromError reports ok only for a nil error, so match the typed error directly.
func isStreamNotFound(err error) bool {
	var esdbErr *esdb.Error
	return errors.As(err, &esdbErr) && esdbErr.Code() == esdb.ErrorCodeResourceNotFound
}

// recordedEventToEvent converts a KurrentDB event to our Event type
func recordedEventToEvent(recorded *esdb.RecordedEvent) (Event, error) {
	var event Event
	if err := json.Unmarshal(recorded.Data, &event); err != nil {
		return Event{}, fmt.Errorf("failed to unmarshal event: %w", err)
	}

	if event.ID == "" {
		event.ID = recorded.EventID.String()
	}
	if event.Type == "" {
		event.Type = recorded.EventType
	}

	return event, nil
}

// Close closes the KurrentDB connection
func (s *Store) Close() {
	if s.client != nil {
		s.client.Close()
	}
}

// Health checks the KurrentDB connection
func (s *Store) Health(ctx context.Context) error {
	stream, err := s.client.ReadStream(ctx, "$streams", esdb.ReadStreamOptions{
		From:      esdb.Start{},
		Direction: esdb.Forwards,
	}, 1)
	if err != nil {
		return fmt.Errorf("KurrentDB health check failed: %w", err)
	}
	defer stream.Close()

	return nil
}
