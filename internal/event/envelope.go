package event

import (
	"encoding/json"
	"time"
)

// EventType discriminator for event payloads
type EventType int32

const (
	EventTypeUnknown EventType = iota
	EventTypeCollateralDeposited
	EventTypeBorrowed
	EventTypeLiquidated
)

func (et EventType) String() string {
	switch et {
	case EventTypeCollateralDeposited:
		return "CollateralDeposited"
	case EventTypeBorrowed:
		return "Borrowed"
	case EventTypeLiquidated:
		return "Liquidated"
	default:
		return "Unknown"
	}
}

// Envelope wraps every event in the log
type Envelope struct {
	// Global monotonic sequence assigned by the engine
	Sequence int64

	// Event type discriminator
	EventType EventType

	// Engine clock at commit time
	Timestamp time.Time

	// JSON-encoded event-specific data
	Payload []byte
}

// Event is the interface all event payloads must implement
type Event interface {
	EventType() EventType
}

// Wrap seals payload into an envelope at sequence seq.
func Wrap(seq int64, ts time.Time, payload Event) (Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{
		Sequence:  seq,
		EventType: payload.EventType(),
		Timestamp: ts,
		Payload:   raw,
	}, nil
}
