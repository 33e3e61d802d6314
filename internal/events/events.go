// Package events defines the envelopes exchanged over the event log and the
// notification channel.
package events

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Kind is the discriminator written to event_type.
type Kind string

const (
	KindFileUploaded  Kind = "file.uploaded"
	KindStatusUpdated Kind = "status.updated"
)

// Version is the envelope schema version written to metadata.version.
const Version = 1

// Sources stamped into metadata.source.
const (
	SourceFileService = "file_service"
	SourceFileWorker  = "file_worker"
)

// Event is implemented only by the payload types in this package.
type Event interface {
	Kind() Kind
	isEvent()
}

// FileUploaded announces that a file's bytes are stored and it is ready for
// processing.
type FileUploaded struct {
	FileID int64 `json:"file_id"`
}

func (FileUploaded) Kind() Kind { return KindFileUploaded }
func (FileUploaded) isEvent()   {}

// StatusUpdated reports a file status change to its owner. Email is set only
// when the owner should also be mailed.
type StatusUpdated struct {
	UserID  int64   `json:"user_id"`
	FileID  int64   `json:"file_id"`
	Status  string  `json:"status"`
	Message string  `json:"message"`
	Email   *string `json:"email"`
}

func (StatusUpdated) Kind() Kind { return KindStatusUpdated }
func (StatusUpdated) isEvent()   {}

// Message is a decoded envelope.
type Message struct {
	Event     Event
	Timestamp time.Time
	Version   int
	Source    string
}

type metadata struct {
	Version int    `json:"version"`
	Source  string `json:"source"`
}

type envelope struct {
	EventType Kind            `json:"event_type"`
	Timestamp time.Time       `json:"timestamp"`
	Metadata  metadata        `json:"metadata"`
	Payload   json.RawMessage `json:"payload"`
}

// UnknownEventKindError is returned by Decode for an event_type this
// package does not define.
type UnknownEventKindError struct {
	Kind string
}

func (e *UnknownEventKindError) Error() string {
	return fmt.Sprintf("unknown event kind %q", e.Kind)
}

func (e *UnknownEventKindError) Is(target error) bool { return target == ErrUnknownEventKind }

// ErrUnknownEventKind matches every *UnknownEventKindError.
var ErrUnknownEventKind = errors.New("unknown event kind")

// ErrMalformed wraps envelopes that are not valid JSON or whose payload does
// not match the declared kind.
var ErrMalformed = errors.New("malformed event")

// Encode serialises event into a wire envelope.
func Encode(event Event, source string, at time.Time) ([]byte, error) {
	payload, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", event.Kind(), err)
	}
	data, err := json.Marshal(envelope{
		EventType: event.Kind(),
		Timestamp: at.UTC(),
		Metadata:  metadata{Version: Version, Source: source},
		Payload:   payload,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal %s envelope: %w", event.Kind(), err)
	}
	return data, nil
}

// Decode parses a wire envelope into one of the known event kinds.
func Decode(data []byte) (Message, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	var event Event
	switch env.EventType {
	case KindFileUploaded:
		var e FileUploaded
		if err := json.Unmarshal(env.Payload, &e); err != nil {
			return Message{}, fmt.Errorf("%w: %s payload: %v", ErrMalformed, env.EventType, err)
		}
		event = e
	case KindStatusUpdated:
		var e StatusUpdated
		if err := json.Unmarshal(env.Payload, &e); err != nil {
			return Message{}, fmt.Errorf("%w: %s payload: %v", ErrMalformed, env.EventType, err)
		}
		event = e
	default:
		return Message{}, &UnknownEventKindError{Kind: string(env.EventType)}
	}

	return Message{
		Event:     event,
		Timestamp: env.Timestamp,
		Version:   env.Metadata.Version,
		Source:    env.Metadata.Source,
	}, nil
}
