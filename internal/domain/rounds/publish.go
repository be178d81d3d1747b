package rounds

import "context"

// EventWardEntryCommitted is the event type of a committed ward entry.
const EventWardEntryCommitted = "ward_entry.committed"

// EventPublisher is the transport used to announce commits.
type EventPublisher interface {
	Publish(ctx context.Context, key, eventType string, payload interface{}) error
}

// WardEntryEvent is the payload of EventWardEntryCommitted.
type WardEntryEvent struct {
	PatientID string    `json:"patient_id"`
	Entry     WardEntry `json:"ward_entry"`
}

type eventEntryPublisher struct {
	events EventPublisher
}

// NewEntryPublisher publishes ward entries keyed by patient id.
func NewEntryPublisher(events EventPublisher) EntryPublisher {
	return &eventEntryPublisher{events: events}
}

func (p *eventEntryPublisher) PublishWardEntry(ctx context.Context, patientID string, entry WardEntry) error {
	return p.events.Publish(ctx, patientID, EventWardEntryCommitted, WardEntryEvent{PatientID: patientID, Entry: entry})
}
