package channel

import (
	"encoding/json"

	"go.uber.org/zap"
)

// Dispatcher fans note-change events out to all of a user's channels except a
// designated origin.
type Dispatcher struct {
	registry *Registry
	logger   *zap.Logger
}

// NewDispatcher constructs a dispatcher over the provided registry.
func NewDispatcher(registry *Registry, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		registry: registry,
		logger:   logger,
	}
}

// Publish serializes the event once and delivers it to every live channel of
// the user except originChannelID. An empty origin id means the change came
// from outside any channel (REST mutation) and must reach all channels.
// Delivery is best effort: a failed send is logged and skipped, the remaining
// channels still receive the event.
func (d *Dispatcher) Publish(userID string, event NoteEvent, originChannelID string) {
	if userID == "" || event.NoteID == "" {
		return
	}

	recipients := d.registry.Others(userID, originChannelID)
	if len(recipients) == 0 {
		return
	}

	payload, err := json.Marshal(event)
	if err != nil {
		d.logger.Error("note event serialization failed",
			zap.String("note_id", event.NoteID),
			zap.Error(err))
		return
	}

	for _, ch := range recipients {
		if err := ch.Send(payload); err != nil {
			d.logger.Warn("note event delivery failed",
				zap.String("user_id", userID),
				zap.String("note_id", event.NoteID),
				zap.String("channel_id", ch.ID),
				zap.Error(err))
		}
	}
}
